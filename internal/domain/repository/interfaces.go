package repository

import (
	"context"

	"TradePulse/internal/domain/models"
)

// PriceFeed is one independent quote source.
// A nil reading with a nil error means the source has no data for symbol.
type PriceFeed interface {
	Name() string
	Fetch(ctx context.Context, symbol string) (*models.Reading, error)
}

// Venue accepts execution requests. Implementations must not retry implicitly.
type Venue interface {
	SubmitOrder(ctx context.Context, req models.OrderRequest) (*models.Fill, error)
}

// Emitter appends events to the bus.
type Emitter interface {
	Emit(ctx context.Context, e models.Event) error
}

// EventSink receives every event the bus appended, e.g. a Kafka topic.
type EventSink interface {
	Forward(ctx context.Context, e models.Event) error
	Close() error
}

// Journal is the analytical record of ticks, trades and deviations.
type Journal interface {
	Init(ctx context.Context) error
	RecordTicks(ctx context.Context, ticks []models.Tick) error
	RecordTrade(ctx context.Context, t models.TradeEntry) error
	RecordDeviations(ctx context.Context, recs []models.DeviationRecord) error
	Health(ctx context.Context) error
	Close() error
}

type Metrics interface {
	RecordFetch(source, status string)
	RecordFeedLatency(source string, seconds float64)
	RecordLastPrice(symbol string, price float64)
	RecordSignal(strategy, action string)
	RecordIntent(action string)
	RecordOrder(decision, reason string)
	RecordBusEvent(category, outcome string)
	RecordHandlerLatency(handler string, seconds float64)
	RecordDeviation(symbol, horizon string, ratio float64)
	RecordError(kind string)
}
