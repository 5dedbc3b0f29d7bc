package middleware

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"TradePulse/internal/domain/models"
	domrepo "TradePulse/internal/domain/repository"
	"TradePulse/pkg/logger"
)

const tickSource = "market_poller"

// TickPipeline sits between the poller and the event bus.
// It validates and throttles ticks, and buffers them while the bus cannot append.
type TickPipeline struct {
	emitter     domrepo.Emitter
	metrics     domrepo.Metrics
	log         *logger.Logger
	minInterval time.Duration
	ttl         time.Duration
	bufSize     int
	bufCh       chan models.Event

	mu       sync.Mutex
	started  bool
	stopCh   chan struct{}
	done     chan struct{}
	lastSeen map[string]time.Time
}

type PipelineOption func(*TickPipeline)

// WithMinInterval drops ticks of a symbol arriving sooner than d after the previous one.
func WithMinInterval(d time.Duration) PipelineOption {
	return func(p *TickPipeline) {
		if d >= 0 {
			p.minInterval = d
		}
	}
}

// WithBufferSize sets the retry buffer used while the bus is unavailable.
func WithBufferSize(n int) PipelineOption {
	return func(p *TickPipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithTickTTL sets the ttl of emitted tick events.
func WithTickTTL(d time.Duration) PipelineOption {
	return func(p *TickPipeline) { p.ttl = d }
}

func WithPipelineLogger(l *logger.Logger) PipelineOption {
	return func(p *TickPipeline) {
		if l != nil {
			p.log = l
		}
	}
}

func NewTickPipeline(emitter domrepo.Emitter, metrics domrepo.Metrics, opts ...PipelineOption) *TickPipeline {
	if metrics == nil {
		metrics = domrepo.NopMetrics{}
	}
	p := &TickPipeline{
		emitter:     emitter,
		metrics:     metrics,
		log:         logger.Nop(),
		minInterval: time.Second,
		ttl:         5 * time.Minute,
		bufSize:     1000,
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
		lastSeen:    make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan models.Event, p.bufSize)
	return p
}

// Start launches the background retry of buffered ticks.
func (p *TickPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go p.flush(ctx)
}

func (p *TickPipeline) flush(ctx context.Context) {
	defer close(p.done)

	backoff := 50 * time.Millisecond
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case e := <-p.bufCh:
			if e.Expired(time.Now()) {
				p.metrics.RecordError("pipeline_expired")
				continue
			}
			err := p.emitter.Emit(ctx, e)
			if err == nil {
				backoff = 50 * time.Millisecond
				continue
			}
			if errors.Is(err, models.ErrBusClosed) {
				return
			}
			p.metrics.RecordError("pipeline_flush")
			if backoff < 2*time.Second {
				backoff *= 2
			}
			select {
			case <-time.After(backoff):
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			}
			select {
			case p.bufCh <- e:
			default:
				p.metrics.RecordError("pipeline_buffer_drop")
			}
		}
	}
}

// Stop ends the background retry and waits for it.
func (p *TickPipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()
	close(p.stopCh)
	<-p.done
}

// Publish validates, throttles and emits t as a market.tick event.
// A throttled tick is dropped without error. A failed emit is buffered.
func (p *TickPipeline) Publish(ctx context.Context, t models.Tick) error {
	if err := validateTick(t); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}
	if !p.allow(t.Symbol, time.Now()) {
		p.metrics.RecordError("pipeline_throttle")
		return nil
	}

	opts := []models.EventOption{models.WithPriority(models.DefaultPriority)}
	if p.ttl > 0 {
		opts = append(opts, models.WithTTL(p.ttl))
	}
	e, err := models.NewEvent(models.EventMarketTick, tickSource, t, opts...)
	if err != nil {
		return err
	}

	if err := p.emitter.Emit(ctx, e); err != nil {
		if errors.Is(err, models.ErrBusClosed) {
			return err
		}
		p.metrics.RecordError("pipeline_emit")
		select {
		case p.bufCh <- e:
		default:
			p.metrics.RecordError("pipeline_buffer_full")
		}
		p.log.Warn("tick pipeline: buffered after emit failure",
			logger.String("symbol", t.Symbol),
			logger.Int("buffered", len(p.bufCh)),
			logger.Error(err),
		)
		return fmt.Errorf("pipeline downstream: %w", err)
	}
	return nil
}

// Buffered returns the number of ticks waiting for retry.
func (p *TickPipeline) Buffered() int { return len(p.bufCh) }

func validateTick(t models.Tick) error {
	if t.Symbol == "" {
		return fmt.Errorf("%w: tick without symbol", models.ErrMalformedEvent)
	}
	if t.Timestamp.IsZero() {
		return fmt.Errorf("%w: tick %s without timestamp", models.ErrMalformedEvent, t.Symbol)
	}
	if t.Price <= 0 || math.IsNaN(t.Price) || math.IsInf(t.Price, 0) {
		return fmt.Errorf("%w: tick %s price %v", models.ErrMalformedEvent, t.Symbol, t.Price)
	}
	if t.Volume < 0 {
		return fmt.Errorf("%w: tick %s negative volume", models.ErrMalformedEvent, t.Symbol)
	}
	return nil
}

func (p *TickPipeline) allow(symbol string, now time.Time) bool {
	if p.minInterval <= 0 {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	last, ok := p.lastSeen[symbol]
	if ok && now.Sub(last) < p.minInterval {
		return false
	}
	p.lastSeen[symbol] = now
	return true
}
