package repository

import (
	"context"

	"TradePulse/internal/domain/models"
)

// NopMetrics discards every observation.
type NopMetrics struct{}

func (NopMetrics) RecordFetch(string, string) {}
func (NopMetrics) RecordFeedLatency(string, float64) {}
func (NopMetrics) RecordLastPrice(string, float64) {}
func (NopMetrics) RecordSignal(string, string) {}
func (NopMetrics) RecordIntent(string) {}
func (NopMetrics) RecordOrder(string, string) {}
func (NopMetrics) RecordBusEvent(string, string) {}
func (NopMetrics) RecordHandlerLatency(string, float64) {}
func (NopMetrics) RecordDeviation(string, string, float64) {}
func (NopMetrics) RecordError(string) {}

// NopJournal is used when ClickHouse is disabled.
type NopJournal struct{}

func (NopJournal) Init(context.Context) error { return nil }
func (NopJournal) RecordTicks(context.Context, []models.Tick) error { return nil }
func (NopJournal) RecordTrade(context.Context, models.TradeEntry) error { return nil }
func (NopJournal) RecordDeviations(context.Context, []models.DeviationRecord) error { return nil }
func (NopJournal) Health(context.Context) error { return nil }
func (NopJournal) Close() error { return nil }
