package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Category is the routing group of an event type (the prefix before the first dot).
type Category string

const (
	CategoryMarket    Category = "market"
	CategoryTrading   Category = "trading"
	CategoryPortfolio Category = "portfolio"
	CategoryAI        Category = "ai"
	CategorySystem    Category = "system"
	CategoryUser      Category = "user"
)

// Categories lists every category in stream order.
func Categories() []Category {
	return []Category{CategoryMarket, CategoryTrading, CategoryPortfolio, CategoryAI, CategorySystem, CategoryUser}
}

// EventType is a closed set of routable event kinds.
type EventType string

const (
	EventMarketTick             EventType = "market.tick"
	EventMarketOpen             EventType = "market.open"
	EventMarketClose            EventType = "market.close"
	EventMarketPriceAlert       EventType = "market.price_alert"
	EventMarketVolumeSpike      EventType = "market.volume_spike"
	EventMarketVolatilityChange EventType = "market.volatility_change"

	EventTradingSignal         EventType = "trading.signal"
	EventTradingOrderPlaced    EventType = "trading.order_placed"
	EventTradingOrderFilled    EventType = "trading.order_filled"
	EventTradingOrderCancelled EventType = "trading.order_cancelled"
	EventTradingPositionOpened EventType = "trading.position_opened"
	EventTradingPositionClosed EventType = "trading.position_closed"
	EventTradingStopLossHit    EventType = "trading.stop_loss_hit"
	EventTradingTakeProfitHit  EventType = "trading.take_profit_hit"

	EventPortfolioUpdate     EventType = "portfolio.update"
	EventPortfolioMarginCall EventType = "portfolio.margin_call"
	EventPortfolioRiskBreach EventType = "portfolio.risk_breach"
	EventPortfolioRebalance  EventType = "portfolio.rebalance"

	EventAIPredictionReady EventType = "ai.prediction_ready"
	EventAIModelRetrained  EventType = "ai.model_retrained"
	EventAIAnomalyDetected EventType = "ai.anomaly_detected"
	EventAIPatternFound    EventType = "ai.pattern_found"

	EventSystemStart               EventType = "system.start"
	EventSystemStop                EventType = "system.stop"
	EventSystemErrorCritical       EventType = "system.error_critical"
	EventSystemPerformanceDegraded EventType = "system.performance_degraded"
	EventSystemAPILimitWarning     EventType = "system.api_limit_warning"

	EventUserAction         EventType = "user.action"
	EventUserConfigChanged  EventType = "user.config_changed"
	EventUserEmergencyStop  EventType = "user.emergency_stop"
	EventUserManualOverride EventType = "user.manual_override"
)

var knownEventTypes = map[EventType]Category{
	EventMarketTick:             CategoryMarket,
	EventMarketOpen:             CategoryMarket,
	EventMarketClose:            CategoryMarket,
	EventMarketPriceAlert:       CategoryMarket,
	EventMarketVolumeSpike:      CategoryMarket,
	EventMarketVolatilityChange: CategoryMarket,

	EventTradingSignal:         CategoryTrading,
	EventTradingOrderPlaced:    CategoryTrading,
	EventTradingOrderFilled:    CategoryTrading,
	EventTradingOrderCancelled: CategoryTrading,
	EventTradingPositionOpened: CategoryTrading,
	EventTradingPositionClosed: CategoryTrading,
	EventTradingStopLossHit:    CategoryTrading,
	EventTradingTakeProfitHit:  CategoryTrading,

	EventPortfolioUpdate:     CategoryPortfolio,
	EventPortfolioMarginCall: CategoryPortfolio,
	EventPortfolioRiskBreach: CategoryPortfolio,
	EventPortfolioRebalance:  CategoryPortfolio,

	EventAIPredictionReady: CategoryAI,
	EventAIModelRetrained:  CategoryAI,
	EventAIAnomalyDetected: CategoryAI,
	EventAIPatternFound:    CategoryAI,

	EventSystemStart:               CategorySystem,
	EventSystemStop:                CategorySystem,
	EventSystemErrorCritical:       CategorySystem,
	EventSystemPerformanceDegraded: CategorySystem,
	EventSystemAPILimitWarning:     CategorySystem,

	EventUserAction:         CategoryUser,
	EventUserConfigChanged:  CategoryUser,
	EventUserEmergencyStop:  CategoryUser,
	EventUserManualOverride: CategoryUser,
}

// ParseEventType validates s against the known event types.
func ParseEventType(s string) (EventType, error) {
	t := EventType(s)
	if _, ok := knownEventTypes[t]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownEventType, s)
	}
	return t, nil
}

// Category returns the routing category, derived from the prefix before the first dot.
func (t EventType) Category() Category {
	if c, ok := knownEventTypes[t]; ok {
		return c
	}
	s := string(t)
	if i := strings.IndexByte(s, '.'); i > 0 {
		return Category(s[:i])
	}
	return Category(s)
}

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	_, ok := knownEventTypes[t]
	return ok
}

const (
	MinPriority      = 1
	MaxPriority      = 10
	DefaultPriority  = 5
	PriorityEscalate = 8
)

// Event is the envelope carried on the bus.
type Event struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	Source        string          `json:"source"`
	Data          json.RawMessage `json:"data"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Priority      int             `json:"priority"`
	TTL           int             `json:"ttl,omitempty"` // seconds
}

// EventOption configures an Event under construction.
type EventOption func(*Event)

// WithPriority sets priority, clamped to [1,10].
func WithPriority(p int) EventOption {
	return func(e *Event) {
		e.Priority = ClampPriority(p)
	}
}

// WithCorrelation links the event to its cause.
func WithCorrelation(id string) EventOption {
	return func(e *Event) {
		e.CorrelationID = id
	}
}

// WithTTL sets the time-to-live.
func WithTTL(ttl time.Duration) EventOption {
	return func(e *Event) {
		e.TTL = int(ttl / time.Second)
	}
}

// NewEvent builds an envelope with a fresh uuid and JSON-encoded payload.
func NewEvent(t EventType, source string, payload interface{}, opts ...EventOption) (Event, error) {
	if !t.Valid() {
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownEventType, t)
	}

	var data json.RawMessage
	switch v := payload.(type) {
	case nil:
		data = json.RawMessage("{}")
	case json.RawMessage:
		data = v
	case []byte:
		data = json.RawMessage(v)
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("marshal payload: %w", err)
		}
		data = b
	}

	e := Event{
		ID:        uuid.NewString(),
		Type:      t,
		Source:    source,
		Data:      data,
		Timestamp: time.Now().UTC(),
		Priority:  DefaultPriority,
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e, nil
}

// Decode unmarshals the payload into dest.
func (e Event) Decode(dest interface{}) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%w: empty data", ErrMalformedEvent)
	}
	if err := json.Unmarshal(e.Data, dest); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return nil
}

// Category of the event's type.
func (e Event) Category() Category { return e.Type.Category() }

// IsPriority reports whether the event also goes to the priority log.
func (e Event) IsPriority() bool { return e.Priority >= PriorityEscalate }

// Expired reports whether the TTL elapsed at now.
func (e Event) Expired(now time.Time) bool {
	if e.TTL <= 0 {
		return false
	}
	return now.After(e.Timestamp.Add(time.Duration(e.TTL) * time.Second))
}

// Validate checks the invariants required for dispatch.
func (e Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: missing id", ErrMalformedEvent)
	}
	if !e.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrMalformedEvent, e.Type)
	}
	if e.Priority < MinPriority || e.Priority > MaxPriority {
		return fmt.Errorf("%w: priority %d out of range", ErrMalformedEvent, e.Priority)
	}
	return nil
}

// ClampPriority bounds p to [MinPriority, MaxPriority].
func ClampPriority(p int) int {
	if p < MinPriority {
		return MinPriority
	}
	if p > MaxPriority {
		return MaxPriority
	}
	return p
}
