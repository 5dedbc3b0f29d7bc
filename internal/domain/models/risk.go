package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RiskSettings is the externally owned risk configuration.
type RiskSettings struct {
	DailyNotionalCap     float64 `json:"daily_notional_cap" yaml:"daily_notional_cap" default:"50000" validate:"gte=0"`
	MaxPositionPerTicker int     `json:"max_position_per_ticker" yaml:"max_position_per_ticker" default:"5" validate:"gte=0"`
	CooldownMinutes      int     `json:"cooldown_minutes" yaml:"cooldown_minutes" default:"30" validate:"gte=0"`
	MaxTradesPerRun      int     `json:"max_trades_per_run" yaml:"max_trades_per_run" default:"3" validate:"gte=0"`
	EmergencyStopActive  bool    `json:"emergency_stop_active" yaml:"emergency_stop_active"`
}

// DefaultRiskSettings mirrors the defaults seeded on first start.
func DefaultRiskSettings() RiskSettings {
	return RiskSettings{
		DailyNotionalCap:     50000,
		MaxPositionPerTicker: 5,
		CooldownMinutes:      30,
		MaxTradesPerRun:      3,
	}
}

type RejectReason string

const (
	ReasonSessionInactive     RejectReason = "SessionInactive"
	ReasonEmergencyStop       RejectReason = "EmergencyStop"
	ReasonMarketClosed        RejectReason = "MarketClosed"
	ReasonRunLimitReached     RejectReason = "RunLimitReached"
	ReasonCooldown            RejectReason = "Cooldown"
	ReasonSymbolLimitReached  RejectReason = "SymbolLimitReached"
	ReasonNotionalCapExceeded RejectReason = "NotionalCapExceeded"
	ReasonPending             RejectReason = "Pending"
	ReasonExecutionError      RejectReason = "ExecutionError"
	ReasonInvalidIntent       RejectReason = "InvalidIntent"
	ReasonSettingsUnavailable RejectReason = "SettingsUnavailable"
)

type Decision string

const (
	DecisionAccepted  Decision = "accepted"
	DecisionRejected  Decision = "rejected"
	DecisionFailed    Decision = "failed"
	DecisionDuplicate Decision = "duplicate"
)

// RiskLedger is the day-scoped accounting owned by the risk gate.
type RiskLedger struct {
	NotionalToday decimal.Decimal      `json:"notional_today"`
	LastReset     string               `json:"last_reset"`
	Cooldowns     map[string]time.Time `json:"cooldowns"`
	SymbolTrades  map[string]int       `json:"symbol_trades"`
}

const ledgerDateLayout = "2006-01-02"

// NewRiskLedger returns an empty ledger for the UTC day of now.
func NewRiskLedger(now time.Time) *RiskLedger {
	return &RiskLedger{
		NotionalToday: decimal.Zero,
		LastReset:     now.UTC().Format(ledgerDateLayout),
		Cooldowns:     make(map[string]time.Time),
		SymbolTrades:  make(map[string]int),
	}
}

// Rollover resets the ledger when now falls on a new UTC day. It reports whether a reset happened.
func (l *RiskLedger) Rollover(now time.Time) bool {
	today := now.UTC().Format(ledgerDateLayout)
	if l.Cooldowns == nil {
		l.Cooldowns = make(map[string]time.Time)
	}
	if l.SymbolTrades == nil {
		l.SymbolTrades = make(map[string]int)
	}
	if l.LastReset == today {
		return false
	}
	l.NotionalToday = decimal.Zero
	l.LastReset = today
	l.Cooldowns = make(map[string]time.Time)
	l.SymbolTrades = make(map[string]int)
	return true
}

// InCooldown reports whether symbol is still cooling down at now.
func (l *RiskLedger) InCooldown(symbol string, now time.Time) (time.Time, bool) {
	until, ok := l.Cooldowns[symbol]
	if !ok {
		return time.Time{}, false
	}
	return until, now.Before(until)
}

// Record books an accepted trade.
func (l *RiskLedger) Record(symbol string, notional decimal.Decimal, cooldown time.Duration, now time.Time) {
	l.NotionalToday = l.NotionalToday.Add(notional)
	l.SymbolTrades[symbol]++
	if cooldown > 0 {
		l.Cooldowns[symbol] = now.Add(cooldown)
	}
}

// Clone returns a deep copy safe to hand out.
func (l *RiskLedger) Clone() *RiskLedger {
	c := &RiskLedger{
		NotionalToday: l.NotionalToday,
		LastReset:     l.LastReset,
		Cooldowns:     make(map[string]time.Time, len(l.Cooldowns)),
		SymbolTrades:  make(map[string]int, len(l.SymbolTrades)),
	}
	for k, v := range l.Cooldowns {
		c.Cooldowns[k] = v
	}
	for k, v := range l.SymbolTrades {
		c.SymbolTrades[k] = v
	}
	return c
}

// GateState is the per-symbol state of the execution state machine.
type GateState int

const (
	GateIdle GateState = iota
	GateEvaluating
	GateSubmitting
	GateAccepted
	GateRejected
	GateFailed
)

func (s GateState) String() string {
	switch s {
	case GateIdle:
		return "idle"
	case GateEvaluating:
		return "evaluating"
	case GateSubmitting:
		return "submitting"
	case GateAccepted:
		return "accepted"
	case GateRejected:
		return "rejected"
	case GateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

var gateTransitions = map[GateState][]GateState{
	GateIdle:       {GateEvaluating},
	GateEvaluating: {GateRejected, GateSubmitting},
	GateSubmitting: {GateAccepted, GateFailed},
	GateAccepted:   {GateIdle},
	GateRejected:   {GateIdle},
	GateFailed:     {GateIdle},
}

// Transition validates from -> to against the state table.
func (s GateState) Transition(to GateState) (GateState, error) {
	for _, allowed := range gateTransitions[s] {
		if allowed == to {
			return to, nil
		}
	}
	return s, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, to)
}
