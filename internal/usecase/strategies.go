package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"TradePulse/internal/domain/models"
	drepo "TradePulse/internal/domain/repository"
	"TradePulse/internal/eventbus"
	"TradePulse/pkg/logger"
	"TradePulse/pkg/store"
)

const (
	StrategyMomentum      = "momentum"
	StrategyMeanReversion = "mean_reversion"
	StrategyVolumeSpike   = "volume_spike"
	StrategyModel         = "ml_prediction"

	signalPriority = 6
)

// History is the bounded price and volume window of a symbol, newest first.
// Index 0 is the tick being evaluated.
type History struct {
	Prices  []float64
	Volumes []float64
}

// Momentum fires when the price is more than 2% away from the 10-sample mean.
func Momentum(t models.Tick, h History) *models.Signal {
	if len(h.Prices) < 10 {
		return nil
	}
	sma := mean(h.Prices[:10])
	if sma == 0 {
		return nil
	}
	m := (t.Price - sma) / sma
	if math.Abs(m) <= 0.02 {
		return nil
	}

	action, target, stop := models.ActionBuy, t.Price*1.03, t.Price*0.98
	if m < 0 {
		action, target, stop = models.ActionSell, t.Price*0.97, t.Price*1.02
	}
	return newSignal(t, action, StrategyMomentum, math.Min(math.Abs(m)*10, 1), 0.75,
		fmt.Sprintf("momentum %.2f%% vs 10-sample mean", m*100), &target, &stop)
}

// MeanReversion fires outside the 20-sample Bollinger band (2 population sigma).
func MeanReversion(t models.Tick, h History) *models.Signal {
	if len(h.Prices) < 20 {
		return nil
	}
	window := h.Prices[:20]
	sma := mean(window)
	if sma == 0 {
		return nil
	}
	sd := stddev(window, sma)
	lower, upper := sma-2*sd, sma+2*sd

	target := sma
	switch {
	case t.Price < lower:
		stop := t.Price * 0.98
		return newSignal(t, models.ActionBuy, StrategyMeanReversion, math.Min((sma-t.Price)/sma*10, 1), 0.70,
			fmt.Sprintf("below lower band, reverting to %.2f", sma), &target, &stop)
	case t.Price > upper:
		stop := t.Price * 1.02
		return newSignal(t, models.ActionSell, StrategyMeanReversion, math.Min((t.Price-sma)/sma*10, 1), 0.70,
			fmt.Sprintf("above upper band, reverting to %.2f", sma), &target, &stop)
	}
	return nil
}

// VolumeSpike fires on volume above 3x the 20-sample mean together with a move above 0.5%.
func VolumeSpike(t models.Tick, h History) *models.Signal {
	if len(h.Volumes) < 20 || len(h.Prices) < 2 {
		return nil
	}
	avg := mean(h.Volumes[:20])
	if avg <= 0 || t.Volume <= avg*3 {
		return nil
	}
	prev := h.Prices[1]
	if prev == 0 {
		return nil
	}
	move := t.Price/prev - 1
	if math.Abs(move) <= 0.005 {
		return nil
	}

	action, target, stop := models.ActionBuy, t.Price*1.02, t.Price*0.99
	if move < 0 {
		action, target, stop = models.ActionSell, t.Price*0.98, t.Price*1.01
	}
	ratio := t.Volume / avg
	return newSignal(t, action, StrategyVolumeSpike, math.Min(ratio/5, 1), 0.65,
		fmt.Sprintf("volume %.1fx average with %.2f%% move", ratio, move*100), &target, &stop)
}

// ModelSignal fires when the 15 minute forecast implies a move above 1% at confidence above 0.7.
func ModelSignal(t models.Tick, p *models.ModelPrediction) *models.Signal {
	if p == nil || p.Price15Min <= 0 || t.Price <= 0 {
		return nil
	}
	ret := (p.Price15Min - t.Price) / t.Price
	if math.Abs(ret) <= 0.01 || p.Confidence <= 0.70 {
		return nil
	}

	action, stop := models.ActionBuy, t.Price*0.99
	if ret < 0 {
		action, stop = models.ActionSell, t.Price*1.01
	}
	target := p.Price15Min
	return newSignal(t, action, StrategyModel, math.Min(math.Abs(ret)*20, 1), p.Confidence,
		fmt.Sprintf("model expects %.2f%% in 15min", ret*100), &target, &stop)
}

func newSignal(t models.Tick, a models.Action, strategy string, strength, confidence float64, reason string, target, stop *float64) *models.Signal {
	return &models.Signal{
		Symbol:      t.Symbol,
		Action:      a,
		Strength:    strength,
		Confidence:  confidence,
		Strategy:    strategy,
		Reason:      reason,
		Price:       t.Price,
		TargetPrice: target,
		StopLoss:    stop,
		Timestamp:   t.Timestamp,
	}
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64, mu float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var ss float64
	for _, x := range xs {
		d := x - mu
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)))
}

// window is a fixed-capacity ring of the latest prices and volumes.
type window struct {
	mu      sync.Mutex
	prices  []float64
	volumes []float64
	next    int
	full    bool
	last    time.Time
}

func newWindow(n int) *window {
	return &window{prices: make([]float64, n), volumes: make([]float64, n)}
}

// push records t and returns the newest-first history. Stale or replayed ticks report false.
func (w *window) push(t models.Tick) (History, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.last.IsZero() && !t.Timestamp.After(w.last) {
		return History{}, false
	}
	w.last = t.Timestamp
	w.prices[w.next] = t.Price
	w.volumes[w.next] = t.Volume
	w.next = (w.next + 1) % len(w.prices)
	if w.next == 0 {
		w.full = true
	}

	n := w.next
	if w.full {
		n = len(w.prices)
	}
	h := History{Prices: make([]float64, n), Volumes: make([]float64, n)}
	for i := 0; i < n; i++ {
		idx := (w.next - 1 - i + len(w.prices)) % len(w.prices)
		h.Prices[i] = w.prices[idx]
		h.Volumes[i] = w.volumes[idx]
	}
	return h, true
}

type StrategyConfig struct {
	HistorySize       int
	SignalHistorySize int64
}

// StrategyEngine runs every strategy on each market.tick and emits trading.signal events.
type StrategyEngine struct {
	cfg     StrategyConfig
	store   store.Store
	metrics drepo.Metrics
	log     *logger.Logger

	mu      sync.Mutex
	windows map[string]*window
}

func NewStrategyEngine(cfg StrategyConfig, st store.Store, metrics drepo.Metrics, log *logger.Logger) *StrategyEngine {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}
	if cfg.SignalHistorySize <= 0 {
		cfg.SignalHistorySize = 100
	}
	if metrics == nil {
		metrics = drepo.NopMetrics{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &StrategyEngine{
		cfg:     cfg,
		store:   st,
		metrics: metrics,
		log:     log,
		windows: make(map[string]*window),
	}
}

func (s *StrategyEngine) windowFor(symbol string) *window {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[symbol]
	if !ok {
		w = newWindow(s.cfg.HistorySize)
		s.windows[symbol] = w
	}
	return w
}

// Evaluate updates the symbol window with t and returns the signals it triggers.
func (s *StrategyEngine) Evaluate(ctx context.Context, t models.Tick) []models.Signal {
	h, fresh := s.windowFor(t.Symbol).push(t)
	if !fresh {
		return nil
	}

	var pred *models.ModelPrediction
	var p models.ModelPrediction
	if ok, err := store.GetOrDefault(ctx, s.store, store.Key(KeyModelPrediction, t.Symbol), &p); err != nil {
		s.log.Debug("strategies: prediction lookup failed", logger.String("symbol", t.Symbol), logger.Error(err))
	} else if ok {
		pred = &p
	}

	candidates := []*models.Signal{
		Momentum(t, h),
		MeanReversion(t, h),
		ModelSignal(t, pred),
		VolumeSpike(t, h),
	}
	out := make([]models.Signal, 0, len(candidates))
	for _, c := range candidates {
		if c != nil {
			out = append(out, *c)
		}
	}
	return out
}

// HandleTick is the market.tick handler.
func (s *StrategyEngine) HandleTick(ctx context.Context, e models.Event) eventbus.Result {
	var t models.Tick
	if err := e.Decode(&t); err != nil {
		return eventbus.Fail(err)
	}
	if t.Symbol == "" || t.Price <= 0 {
		return eventbus.Fail(fmt.Errorf("%w: tick without symbol or price", models.ErrMalformedEvent))
	}

	signals := s.Evaluate(ctx, t)
	events := make([]models.Event, 0, len(signals))
	for _, sig := range signals {
		s.metrics.RecordSignal(sig.Strategy, string(sig.Action))
		s.recordHistory(ctx, sig)

		ev, err := models.NewEvent(models.EventTradingSignal, sig.Strategy, sig,
			models.WithPriority(signalPriority),
			models.WithCorrelation(e.ID),
		)
		if err != nil {
			return eventbus.Fail(err)
		}
		events = append(events, ev)
	}
	return eventbus.Ok(events...)
}

func (s *StrategyEngine) recordHistory(ctx context.Context, sig models.Signal) {
	member, err := json.Marshal(sig)
	if err != nil {
		return
	}
	score := float64(sig.Timestamp.UnixNano()) / 1e9
	if err := s.store.ZAddCapped(ctx, store.Key(KeySignalHistory, sig.Symbol), score, string(member), s.cfg.SignalHistorySize); err != nil {
		s.log.Warn("strategies: signal history append failed", logger.String("symbol", sig.Symbol), logger.Error(err))
	}
}
