package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"TradePulse/internal/domain/models"
	drepo "TradePulse/internal/domain/repository"
	"TradePulse/internal/eventbus"
	"TradePulse/pkg/logger"
	"TradePulse/pkg/store"
)

const (
	filledPriority    = 7
	cancelledPriority = 6
	processedTTL      = 24 * time.Hour
)

// MarketHours reports whether orders may be sent at t.
type MarketHours interface {
	Open(t time.Time) bool
}

type RiskConfig struct {
	OrderQty     int
	TradeLogSize int64
	Defaults     models.RiskSettings
}

// RiskStatus is the read model of the gate for operators.
type RiskStatus struct {
	Settings      models.RiskSettings `json:"settings"`
	Ledger        *models.RiskLedger  `json:"ledger"`
	Reserved      decimal.Decimal     `json:"reserved_notional"`
	ReservedRuns  int                 `json:"reserved_runs"`
	Session       models.SessionInfo  `json:"session"`
	MarketOpen    bool                `json:"market_open"`
	SymbolsInGate map[string]string   `json:"symbols_in_gate,omitempty"`
}

// RiskGate validates order intents against the ledger and submits accepted ones to the venue.
// Evaluations are serialized per symbol. The ledger mutex covers check, reserve and commit.
type RiskGate struct {
	cfg     RiskConfig
	store   store.Store
	venue   drepo.Venue
	session *Session
	hours   MarketHours
	journal drepo.Journal
	metrics drepo.Metrics
	log     *logger.Logger

	ledgerMu     sync.Mutex
	ledger       *models.RiskLedger
	reserved     decimal.Decimal
	reservedRuns int
	runTrades    int

	statesMu sync.Mutex
	states   map[string]models.GateState

	now func() time.Time
}

func NewRiskGate(
	cfg RiskConfig,
	st store.Store,
	venue drepo.Venue,
	session *Session,
	hours MarketHours,
	journal drepo.Journal,
	metrics drepo.Metrics,
	log *logger.Logger,
) *RiskGate {
	if cfg.OrderQty <= 0 {
		cfg.OrderQty = 1
	}
	if cfg.TradeLogSize <= 0 {
		cfg.TradeLogSize = 200
	}
	if journal == nil {
		journal = drepo.NopJournal{}
	}
	if metrics == nil {
		metrics = drepo.NopMetrics{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &RiskGate{
		cfg:      cfg,
		store:    st,
		venue:    venue,
		session:  session,
		hours:    hours,
		journal:  journal,
		metrics:  metrics,
		log:      log,
		reserved: decimal.Zero,
		states:   make(map[string]models.GateState),
		now:      time.Now,
	}
}

// Load restores the ledger and seeds the settings when absent. A failure here is fatal for the caller.
func (g *RiskGate) Load(ctx context.Context) error {
	ledger := models.NewRiskLedger(g.now())
	if _, err := store.GetOrDefault(ctx, g.store, KeyRiskStatus, ledger); err != nil {
		return fmt.Errorf("load risk ledger: %w", err)
	}
	ledger.Rollover(g.now())

	if _, err := g.store.SetNX(ctx, KeyRiskSettings, g.cfg.Defaults, 0); err != nil {
		return fmt.Errorf("seed risk settings: %w", err)
	}

	g.ledgerMu.Lock()
	g.ledger = ledger
	err := g.persistLocked(ctx)
	g.ledgerMu.Unlock()
	if err != nil {
		return fmt.Errorf("persist risk ledger: %w", err)
	}
	return nil
}

// Settings returns the stored settings, or the configured defaults when none are stored.
// A read error is returned as is; callers must not treat the defaults as live.
func (g *RiskGate) Settings(ctx context.Context) (models.RiskSettings, error) {
	s := g.cfg.Defaults
	if _, err := store.GetOrDefault(ctx, g.store, KeyRiskSettings, &s); err != nil {
		return g.cfg.Defaults, fmt.Errorf("load risk settings: %w", err)
	}
	return s, nil
}

func (g *RiskGate) UpdateSettings(ctx context.Context, s models.RiskSettings) error {
	if err := g.store.Set(ctx, KeyRiskSettings, s, 0); err != nil {
		return fmt.Errorf("save risk settings: %w", err)
	}
	g.log.Info("risk gate: settings updated",
		logger.Float64("daily_notional_cap", s.DailyNotionalCap),
		logger.Int("max_position_per_ticker", s.MaxPositionPerTicker),
		logger.Int("cooldown_minutes", s.CooldownMinutes),
		logger.Int("max_trades_per_run", s.MaxTradesPerRun),
		logger.Bool("emergency_stop_active", s.EmergencyStopActive),
	)
	return nil
}

// SetEmergencyStop flips the emergency flag in the stored settings.
func (g *RiskGate) SetEmergencyStop(ctx context.Context, active bool) (models.RiskSettings, error) {
	s, err := g.Settings(ctx)
	if err != nil {
		return s, err
	}
	s.EmergencyStopActive = active
	if err := g.UpdateSettings(ctx, s); err != nil {
		return s, err
	}
	return s, nil
}

// Status returns a copy of the ledger and the current settings.
func (g *RiskGate) Status(ctx context.Context) (RiskStatus, error) {
	settings, err := g.Settings(ctx)
	if err != nil {
		return RiskStatus{}, err
	}

	g.ledgerMu.Lock()
	var ledger *models.RiskLedger
	if g.ledger != nil {
		g.ledger.Rollover(g.now())
		ledger = g.ledger.Clone()
	}
	st := RiskStatus{
		Settings:     settings,
		Ledger:       ledger,
		Reserved:     g.reserved,
		ReservedRuns: g.reservedRuns,
		MarketOpen:   g.hours == nil || g.hours.Open(g.now()),
	}
	g.ledgerMu.Unlock()

	if g.session != nil {
		st.Session = g.session.Info()
	}
	g.statesMu.Lock()
	for sym, s := range g.states {
		if s != models.GateIdle {
			if st.SymbolsInGate == nil {
				st.SymbolsInGate = make(map[string]string)
			}
			st.SymbolsInGate[sym] = s.String()
		}
	}
	g.statesMu.Unlock()
	return st, nil
}

// Evaluate runs the gates for intent and, when they pass, submits the order.
// eventID makes the evaluation idempotent: a replay yields DecisionDuplicate and changes nothing.
func (g *RiskGate) Evaluate(ctx context.Context, eventID string, intent models.OrderIntent) (models.OrderOutcome, error) {
	out := models.OrderOutcome{IntentID: intent.ID, Symbol: intent.Symbol, Action: intent.Action}

	first, err := g.store.SetNX(ctx, store.Key(KeyRiskProcessed, eventID), "processing", processedTTL)
	if err != nil {
		return out, fmt.Errorf("mark intent %s: %w", eventID, err)
	}
	if !first {
		out.Decision = models.DecisionDuplicate
		return out, nil
	}

	if intent.Symbol == "" || intent.Action.Side() == "" || intent.Price <= 0 {
		return g.finish(ctx, eventID, g.reject(out, models.ReasonInvalidIntent, "symbol, side and price are required")), nil
	}

	if !g.enter(intent.Symbol) {
		return g.finish(ctx, eventID, g.reject(out, models.ReasonPending, "another intent is in flight")), nil
	}
	defer g.leave(intent.Symbol)

	settings, err := g.Settings(ctx)
	if err != nil {
		g.transition(intent.Symbol, models.GateRejected)
		g.metrics.RecordError("risk_settings")
		g.log.Error("risk gate: settings unreadable, rejecting", logger.String("intent_id", intent.ID), logger.Error(err))
		return g.finish(ctx, eventID, g.reject(out, models.ReasonSettingsUnavailable, err.Error())), nil
	}
	notional := decimal.NewFromFloat(intent.Price).Mul(decimal.NewFromInt(int64(g.cfg.OrderQty)))

	sessionID, violation := g.reserve(intent.Symbol, notional, settings)
	if violation != nil {
		g.transition(intent.Symbol, models.GateRejected)
		return g.finish(ctx, eventID, g.reject(out, violation.Reason, violation.Detail)), nil
	}
	g.transition(intent.Symbol, models.GateSubmitting)

	req := models.NewMarketOrder(intent.Symbol, intent.Action.Side(), g.cfg.OrderQty)
	fill, err := g.venue.SubmitOrder(ctx, req)
	if err != nil {
		g.release(notional)
		g.transition(intent.Symbol, models.GateFailed)
		g.metrics.RecordError("venue")
		g.log.Error("risk gate: order submission failed",
			logger.String("symbol", intent.Symbol),
			logger.String("intent_id", intent.ID),
			logger.Error(err),
		)
		out.Decision = models.DecisionFailed
		out.Reason = models.ReasonExecutionError
		out.Detail = fmt.Errorf("%w: %v", models.ErrExecution, err).Error()
		g.metrics.RecordOrder(string(out.Decision), string(out.Reason))
		return g.finish(ctx, eventID, out), nil
	}

	trade := g.commit(ctx, intent, req, fill, notional, settings, sessionID)
	g.transition(intent.Symbol, models.GateAccepted)

	out.Decision = models.DecisionAccepted
	out.Trade = &trade
	g.metrics.RecordOrder(string(out.Decision), "")
	g.log.Info("risk gate: order accepted",
		logger.String("symbol", trade.Ticker),
		logger.String("side", trade.Side),
		logger.Int("qty", trade.Qty),
		logger.String("notional", trade.Notional.String()),
		logger.String("order_id", trade.OrderID),
	)
	return g.finish(ctx, eventID, out), nil
}

// reserve checks the gates in order and books the notional and a run slot on success.
func (g *RiskGate) reserve(symbol string, notional decimal.Decimal, s models.RiskSettings) (string, *models.RiskViolation) {
	g.ledgerMu.Lock()
	defer g.ledgerMu.Unlock()

	now := g.now()
	if g.ledger == nil {
		g.ledger = models.NewRiskLedger(now)
	}
	if g.ledger.Rollover(now) {
		g.log.Info("risk gate: ledger reset for new day", logger.String("day", g.ledger.LastReset))
		if err := g.persistLocked(context.Background()); err != nil {
			g.log.Warn("risk gate: persist ledger failed", logger.Error(err))
		}
	}

	var sessionID string
	if g.session != nil {
		sessionID = g.session.ID()
	}

	switch {
	case s.EmergencyStopActive:
		return "", &models.RiskViolation{Reason: models.ReasonEmergencyStop}
	case g.session != nil && !g.session.Active():
		return "", &models.RiskViolation{Reason: models.ReasonSessionInactive}
	case g.hours != nil && !g.hours.Open(now):
		return "", &models.RiskViolation{Reason: models.ReasonMarketClosed}
	}

	if s.MaxTradesPerRun > 0 && g.sessionTrades()+g.reservedRuns >= s.MaxTradesPerRun {
		return "", &models.RiskViolation{Reason: models.ReasonRunLimitReached,
			Detail: fmt.Sprintf("max %d trades per run", s.MaxTradesPerRun)}
	}
	if until, cooling := g.ledger.InCooldown(symbol, now); cooling {
		return "", &models.RiskViolation{Reason: models.ReasonCooldown,
			Detail: "until " + until.UTC().Format(time.RFC3339)}
	}
	if s.MaxPositionPerTicker > 0 && g.ledger.SymbolTrades[symbol] >= s.MaxPositionPerTicker {
		return "", &models.RiskViolation{Reason: models.ReasonSymbolLimitReached,
			Detail: fmt.Sprintf("max %d trades per symbol per day", s.MaxPositionPerTicker)}
	}
	if s.DailyNotionalCap > 0 {
		projected := g.ledger.NotionalToday.Add(g.reserved).Add(notional)
		if projected.GreaterThan(decimal.NewFromFloat(s.DailyNotionalCap)) {
			return "", &models.RiskViolation{Reason: models.ReasonNotionalCapExceeded,
				Detail: fmt.Sprintf("projected %s over cap %.2f", projected.StringFixed(2), s.DailyNotionalCap)}
		}
	}

	g.reserved = g.reserved.Add(notional)
	g.reservedRuns++
	return sessionID, nil
}

// sessionTrades counts committed trades in the current run. Without a
// session the gate's own count since construction is the run.
func (g *RiskGate) sessionTrades() int {
	if g.session == nil {
		return g.runTrades
	}
	return g.session.Trades()
}

func (g *RiskGate) release(notional decimal.Decimal) {
	g.ledgerMu.Lock()
	defer g.ledgerMu.Unlock()
	g.reserved = g.reserved.Sub(notional)
	g.reservedRuns--
}

// commit turns the reservation into booked usage and records the trade.
func (g *RiskGate) commit(
	ctx context.Context,
	intent models.OrderIntent,
	req models.OrderRequest,
	fill *models.Fill,
	notional decimal.Decimal,
	s models.RiskSettings,
	sessionID string,
) models.TradeEntry {
	now := g.now()
	trade := models.TradeEntry{
		Time:      now.UTC(),
		Ticker:    req.Symbol,
		Side:      req.Side,
		Qty:       req.Qty,
		Price:     intent.Price,
		Notional:  notional,
		IntentID:  intent.ID,
		SessionID: sessionID,
	}
	if fill != nil {
		trade.OrderID = fill.OrderID
		trade.Status = fill.Status
	}

	g.ledgerMu.Lock()
	g.reserved = g.reserved.Sub(notional)
	g.reservedRuns--
	g.ledger.Rollover(now)
	g.ledger.Record(req.Symbol, notional, time.Duration(s.CooldownMinutes)*time.Minute, now)
	if g.session != nil {
		g.session.RecordTrade(sessionID)
	} else {
		g.runTrades++
	}
	if err := g.persistLocked(ctx); err != nil {
		g.log.Error("risk gate: persist ledger failed", logger.Error(err))
		g.metrics.RecordError("ledger_persist")
	}
	g.ledgerMu.Unlock()

	if err := g.store.PushCapped(ctx, KeyTradeLog, trade, g.cfg.TradeLogSize); err != nil {
		g.log.Warn("risk gate: trade log append failed", logger.Error(err))
	}
	if err := g.journal.RecordTrade(ctx, trade); err != nil {
		g.log.Warn("risk gate: journal trade failed", logger.Error(err))
		g.metrics.RecordError("journal_trade")
	}
	return trade
}

func (g *RiskGate) persistLocked(ctx context.Context) error {
	return g.store.Set(ctx, KeyRiskStatus, g.ledger, 0)
}

func (g *RiskGate) reject(out models.OrderOutcome, reason models.RejectReason, detail string) models.OrderOutcome {
	out.Decision = models.DecisionRejected
	out.Reason = reason
	out.Detail = detail
	g.metrics.RecordOrder(string(out.Decision), string(reason))
	g.log.Info("risk gate: intent rejected",
		logger.String("symbol", out.Symbol),
		logger.String("intent_id", out.IntentID),
		logger.String("reason", string(reason)),
	)
	return out
}

// finish records the decision kind under the idempotency key.
func (g *RiskGate) finish(ctx context.Context, eventID string, out models.OrderOutcome) models.OrderOutcome {
	if err := g.store.Set(ctx, store.Key(KeyRiskProcessed, eventID), string(out.Decision), processedTTL); err != nil {
		g.log.Debug("risk gate: mark decision failed", logger.Error(err))
	}
	return out
}

// enter moves symbol from Idle to Evaluating; false when it is already in the gate.
func (g *RiskGate) enter(symbol string) bool {
	g.statesMu.Lock()
	defer g.statesMu.Unlock()
	next, err := g.states[symbol].Transition(models.GateEvaluating)
	if err != nil {
		return false
	}
	g.states[symbol] = next
	return true
}

func (g *RiskGate) transition(symbol string, to models.GateState) {
	g.statesMu.Lock()
	defer g.statesMu.Unlock()
	next, err := g.states[symbol].Transition(to)
	if err != nil {
		g.log.Error("risk gate: illegal transition", logger.String("symbol", symbol), logger.Error(err))
		return
	}
	g.states[symbol] = next
}

// leave returns symbol to Idle from a terminal state.
func (g *RiskGate) leave(symbol string) {
	g.statesMu.Lock()
	defer g.statesMu.Unlock()
	if next, err := g.states[symbol].Transition(models.GateIdle); err == nil {
		g.states[symbol] = next
		return
	}
	g.states[symbol] = models.GateIdle
}

// HandleIntent is the trading.order_placed handler.
func (g *RiskGate) HandleIntent(ctx context.Context, e models.Event) eventbus.Result {
	var intent models.OrderIntent
	if err := e.Decode(&intent); err != nil {
		return eventbus.Fail(err)
	}
	out, err := g.Evaluate(ctx, e.ID, intent)
	if err != nil {
		return eventbus.Fail(err)
	}
	if out.Decision == models.DecisionDuplicate {
		return eventbus.Ok()
	}

	typ, prio := models.EventTradingOrderCancelled, cancelledPriority
	if out.Decision == models.DecisionAccepted {
		typ, prio = models.EventTradingOrderFilled, filledPriority
	}
	ev, err := models.NewEvent(typ, "risk_gate", out, models.WithPriority(prio), models.WithCorrelation(e.ID))
	if err != nil {
		return eventbus.Fail(err)
	}
	return eventbus.Ok(ev)
}

type emergencyStopPayload struct {
	Active *bool `json:"active"`
}

// HandleEmergencyStop is the user.emergency_stop handler. A payload without a valid "active" engages the stop.
func (g *RiskGate) HandleEmergencyStop(ctx context.Context, e models.Event) eventbus.Result {
	var p emergencyStopPayload
	_ = e.Decode(&p)
	active := true
	if p.Active != nil {
		active = *p.Active
	}
	if _, err := g.SetEmergencyStop(ctx, active); err != nil {
		return eventbus.Fail(err)
	}
	g.log.Warn("risk gate: emergency stop changed", logger.Bool("active", active), logger.String("event_id", e.ID))
	return eventbus.Ok()
}
