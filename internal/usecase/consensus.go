package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"TradePulse/internal/domain/models"
	drepo "TradePulse/internal/domain/repository"
	"TradePulse/internal/eventbus"
	"TradePulse/pkg/logger"
)

const intentPriority = 8

type ConsensusConfig struct {
	Window        int
	MinSignals    int
	Threshold     float64
	IntentTimeout time.Duration
}

// Consensus returns the side holding at least threshold of signals, with its fraction.
// HOLD signals count towards the total but never win.
func Consensus(signals []models.Signal, minSignals int, threshold float64) (models.Action, float64, bool) {
	if len(signals) == 0 || len(signals) < minSignals {
		return models.ActionHold, 0, false
	}
	var buys, sells int
	for _, s := range signals {
		switch s.Action {
		case models.ActionBuy:
			buys++
		case models.ActionSell:
			sells++
		}
	}
	n := float64(len(signals))
	buyFrac, sellFrac := float64(buys)/n, float64(sells)/n
	switch {
	case buyFrac >= threshold:
		return models.ActionBuy, buyFrac, true
	case sellFrac >= threshold:
		return models.ActionSell, sellFrac, true
	}
	return models.ActionHold, 0, false
}

type book struct {
	mu        sync.Mutex
	signals   []models.Signal
	pendingID string
	pendingAt time.Time
}

// Aggregator rolls the latest signals of a symbol up into at most one pending order intent.
type Aggregator struct {
	cfg     ConsensusConfig
	metrics drepo.Metrics
	log     *logger.Logger
	seen    *eventbus.RecentIDs

	mu    sync.Mutex
	books map[string]*book

	now func() time.Time
}

func NewAggregator(cfg ConsensusConfig, metrics drepo.Metrics, log *logger.Logger) *Aggregator {
	if cfg.Window <= 0 {
		cfg.Window = 10
	}
	if cfg.MinSignals <= 0 {
		cfg.MinSignals = 3
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 0.7
	}
	if cfg.IntentTimeout <= 0 {
		cfg.IntentTimeout = 2 * time.Minute
	}
	if metrics == nil {
		metrics = drepo.NopMetrics{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Aggregator{
		cfg:     cfg,
		metrics: metrics,
		log:     log,
		seen:    eventbus.NewRecentIDs(10000),
		books:   make(map[string]*book),
		now:     time.Now,
	}
}

func (a *Aggregator) bookFor(symbol string) *book {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.books[symbol]
	if !ok {
		b = &book{}
		a.books[symbol] = b
	}
	return b
}

// Add windows sig and returns the intent it completes, if any.
func (a *Aggregator) Add(sig models.Signal) *models.OrderIntent {
	b := a.bookFor(sig.Symbol)
	b.mu.Lock()
	defer b.mu.Unlock()

	b.signals = append(b.signals, sig)
	if over := len(b.signals) - a.cfg.Window; over > 0 {
		b.signals = append(b.signals[:0], b.signals[over:]...)
	}

	action, frac, ok := Consensus(b.signals, a.cfg.MinSignals, a.cfg.Threshold)
	if !ok {
		return nil
	}

	now := a.now()
	if b.pendingID != "" {
		if now.Sub(b.pendingAt) < a.cfg.IntentTimeout {
			return nil
		}
		a.log.Warn("consensus: pending intent timed out",
			logger.String("symbol", sig.Symbol),
			logger.String("intent_id", b.pendingID),
		)
	}

	intent := &models.OrderIntent{
		ID:          uuid.NewString(),
		Symbol:      sig.Symbol,
		Action:      action,
		Confidence:  frac,
		SignalCount: len(b.signals),
		Price:       sig.Price,
		CreatedAt:   now.UTC(),
	}
	b.signals = b.signals[:0]
	b.pendingID = intent.ID
	b.pendingAt = now
	return intent
}

// Resolve clears the pending intent of symbol when it matches intentID.
func (a *Aggregator) Resolve(symbol, intentID string) bool {
	b := a.bookFor(symbol)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pendingID == "" || b.pendingID != intentID {
		return false
	}
	b.pendingID = ""
	b.pendingAt = time.Time{}
	return true
}

// Pending returns the pending intent id of symbol.
func (a *Aggregator) Pending(symbol string) string {
	b := a.bookFor(symbol)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pendingID
}

// HandleSignal is the trading.signal handler.
func (a *Aggregator) HandleSignal(_ context.Context, e models.Event) eventbus.Result {
	if !a.seen.Add(e.ID) {
		return eventbus.Ok()
	}
	var sig models.Signal
	if err := e.Decode(&sig); err != nil {
		return eventbus.Fail(err)
	}
	if sig.Symbol == "" {
		return eventbus.Ok()
	}

	intent := a.Add(sig)
	if intent == nil {
		return eventbus.Ok()
	}

	a.metrics.RecordIntent(string(intent.Action))
	a.log.Info("consensus: order intent",
		logger.String("symbol", intent.Symbol),
		logger.String("action", string(intent.Action)),
		logger.Float64("confidence", intent.Confidence),
		logger.Int("signals", intent.SignalCount),
	)
	ev, err := models.NewEvent(models.EventTradingOrderPlaced, "consensus", intent,
		models.WithPriority(intentPriority),
		models.WithCorrelation(e.ID),
	)
	if err != nil {
		a.Resolve(intent.Symbol, intent.ID)
		return eventbus.Fail(err)
	}
	return eventbus.Ok(ev)
}

// HandleOutcome clears single-flight on order_filled and order_cancelled.
func (a *Aggregator) HandleOutcome(_ context.Context, e models.Event) eventbus.Result {
	var out models.OrderOutcome
	if err := e.Decode(&out); err != nil {
		return eventbus.Fail(err)
	}
	if out.Symbol == "" || out.IntentID == "" {
		return eventbus.Ok()
	}
	a.Resolve(out.Symbol, out.IntentID)
	return eventbus.Ok()
}
