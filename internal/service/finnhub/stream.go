package finnhub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"TradePulse/internal/domain/models"
	"TradePulse/pkg/logger"
	"TradePulse/pkg/util"
)

const StreamSource = "finnhub_stream"

type lastTrade struct {
	price  float64
	volume float64
	at     time.Time
}

// Stream keeps the last websocket trade per symbol and serves it as a price feed.
type Stream struct {
	apiKey         string
	websocketURL   string
	symbols        []string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	maxAge         time.Duration
	log            *logger.Logger

	mu     sync.RWMutex
	conn   *websocket.Conn
	trades map[string]lastTrade

	now func() time.Time
}

type StreamConfig struct {
	APIKey         string
	URL            string
	Symbols        []string
	ReconnectDelay time.Duration
	PingInterval   time.Duration
	MaxAge         time.Duration
}

func NewStream(cfg StreamConfig, log *logger.Logger) *Stream {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 20 * time.Second
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 2 * time.Minute
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Stream{
		apiKey:         cfg.APIKey,
		websocketURL:   cfg.URL,
		symbols:        cfg.Symbols,
		reconnectDelay: cfg.ReconnectDelay,
		pingInterval:   cfg.PingInterval,
		maxAge:         cfg.MaxAge,
		log:            log,
		trades:         make(map[string]lastTrade),
		now:            time.Now,
	}
}

func (s *Stream) Name() string { return StreamSource }

// Fetch returns the last streamed trade of symbol when it is recent enough.
func (s *Stream) Fetch(_ context.Context, symbol string) (*models.Reading, error) {
	s.mu.RLock()
	t, ok := s.trades[util.NormalizeSymbol(symbol)]
	s.mu.RUnlock()
	if !ok || s.now().Sub(t.at) > s.maxAge {
		return nil, nil
	}
	return &models.Reading{Source: StreamSource, Price: t.price, Volume: t.volume}, nil
}

// Run connects, subscribes and reads until ctx is done, reconnecting after failures.
func (s *Stream) Run(ctx context.Context) {
	for {
		err := s.session(ctx)
		if ctx.Err() != nil {
			return
		}
		s.log.Warn("finnhub stream: disconnected", logger.Error(err), logger.Duration("retry_in", s.reconnectDelay))
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.reconnectDelay):
		}
	}
}

func (s *Stream) session(ctx context.Context) error {
	if err := s.connect(ctx); err != nil {
		return err
	}
	defer s.Close()

	if err := s.subscribe(); err != nil {
		return err
	}

	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.ping(pingCtx)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-done:
		}
	}()
	return s.read()
}

func (s *Stream) connect(ctx context.Context) error {
	u, err := url.Parse(s.websocketURL)
	if err != nil {
		return fmt.Errorf("finnhub stream url: %w", err)
	}
	q := u.Query()
	q.Set("token", s.apiKey)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("finnhub connect: %w", err)
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.log.Info("finnhub stream: connected", logger.Int("symbols", len(s.symbols)))
	return nil
}

func (s *Stream) subscribe() error {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("finnhub not connected")
	}
	for _, sym := range s.symbols {
		msg := map[string]string{"type": "subscribe", "symbol": util.NormalizeSymbol(sym)}
		if err := conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("subscribe %s: %w", sym, err)
		}
	}
	return nil
}

func (s *Stream) ping(ctx context.Context) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.RLock()
			conn := s.conn
			s.mu.RUnlock()
			if conn != nil {
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
		}
	}
}

type fhTrade struct {
	S string  `json:"s"`
	P float64 `json:"p"`
	V float64 `json:"v"`
	T int64   `json:"t"` // ms
}

type fhMessage struct {
	Type string    `json:"type"`
	Data []fhTrade `json:"data"`
}

func (s *Stream) read() error {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("finnhub conn nil")
	}
	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("finnhub read: %w", err)
		}
		var m fhMessage
		if err := json.Unmarshal(b, &m); err != nil || m.Type != "trade" {
			continue
		}
		s.apply(m.Data)
	}
}

func (s *Stream) apply(trades []fhTrade) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range trades {
		if d.P <= 0 || d.S == "" {
			continue
		}
		at := time.UnixMilli(d.T)
		if d.T == 0 {
			at = s.now()
		}
		sym := util.NormalizeSymbol(d.S)
		if prev, ok := s.trades[sym]; ok && at.Before(prev.at) {
			continue
		}
		s.trades[sym] = lastTrade{price: d.P, volume: d.V, at: at}
	}
}

// Close closes the websocket connection.
func (s *Stream) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}
