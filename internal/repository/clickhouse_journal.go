package repository

import (
	"context"
	"fmt"

	"TradePulse/internal/domain/models"
	domrepo "TradePulse/internal/domain/repository"
	pkgch "TradePulse/pkg/clickhouse"
	applogger "TradePulse/pkg/logger"
)

const (
	insertTicks      = "INSERT INTO market_ticks (ts, symbol, price, open, high, low, volume, primary_source, sources)"
	insertTrades     = "INSERT INTO trades (ts, symbol, side, qty, price, notional, order_id, status, intent_id, session_id)"
	insertDeviations = "INSERT INTO prediction_deviations (ts, symbol, horizon_minutes, predicted, actual, deviation, prediction_ts)"
)

// Schema is the journal DDL. Every statement is idempotent.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS market_ticks (
		ts DateTime64(3, 'UTC'),
		symbol LowCardinality(String),
		price Float64,
		open Float64,
		high Float64,
		low Float64,
		volume Float64,
		primary_source LowCardinality(String),
		sources Array(String)
	) ENGINE = MergeTree ORDER BY (symbol, ts) TTL toDateTime(ts) + INTERVAL 90 DAY`,
	`CREATE TABLE IF NOT EXISTS trades (
		ts DateTime64(3, 'UTC'),
		symbol LowCardinality(String),
		side LowCardinality(String),
		qty Int32,
		price Float64,
		notional Decimal(18, 4),
		order_id String,
		status LowCardinality(String),
		intent_id String,
		session_id String
	) ENGINE = ReplacingMergeTree ORDER BY (symbol, intent_id)`,
	`CREATE TABLE IF NOT EXISTS prediction_deviations (
		ts DateTime64(3, 'UTC'),
		symbol LowCardinality(String),
		horizon_minutes UInt16,
		predicted Float64,
		actual Nullable(Float64),
		deviation Nullable(Float64),
		prediction_ts DateTime64(3, 'UTC')
	) ENGINE = MergeTree ORDER BY (symbol, ts)`,
}

// ClickHouseJournal writes the analytical record of ticks, trades and deviations.
type ClickHouseJournal struct {
	ch *pkgch.Client
	l  *applogger.Logger
}

var _ domrepo.Journal = (*ClickHouseJournal)(nil)

func NewClickHouseJournal(ch *pkgch.Client, l *applogger.Logger) *ClickHouseJournal {
	if l == nil {
		l = applogger.Nop()
	}
	return &ClickHouseJournal{ch: ch, l: l}
}

func (j *ClickHouseJournal) Init(ctx context.Context) error {
	return j.ch.InitSchema(ctx, Schema)
}

func (j *ClickHouseJournal) RecordTicks(ctx context.Context, ticks []models.Tick) error {
	rows := make([][]any, 0, len(ticks))
	for _, t := range ticks {
		if t.Symbol == "" || t.Timestamp.IsZero() {
			continue
		}
		rows = append(rows, []any{t.Timestamp, t.Symbol, t.Price, t.Open, t.High, t.Low, t.Volume, t.PrimarySource, t.SourcesUsed()})
	}
	if err := j.ch.InsertBatch(ctx, insertTicks, rows); err != nil {
		j.l.Error("clickhouse record_ticks error", applogger.Int("rows", len(rows)), applogger.Error(err))
		return fmt.Errorf("record ticks: %w", err)
	}
	return nil
}

func (j *ClickHouseJournal) RecordTrade(ctx context.Context, t models.TradeEntry) error {
	row := []any{t.Time, t.Ticker, t.Side, int32(t.Qty), t.Price, t.Notional.StringFixed(4), t.OrderID, t.Status, t.IntentID, t.SessionID}
	if err := j.ch.InsertBatch(ctx, insertTrades, [][]any{row}); err != nil {
		j.l.Error("clickhouse record_trade error",
			applogger.String("symbol", t.Ticker),
			applogger.String("intent_id", t.IntentID),
			applogger.Error(err),
		)
		return fmt.Errorf("record trade: %w", err)
	}
	return nil
}

func (j *ClickHouseJournal) RecordDeviations(ctx context.Context, recs []models.DeviationRecord) error {
	rows := make([][]any, 0, len(recs))
	for _, r := range recs {
		rows = append(rows, []any{r.ActualTime, r.Symbol, uint16(r.Horizon), r.Predicted, nullable(r.Actual), nullable(r.Deviation), r.PredictionTime})
	}
	if err := j.ch.InsertBatch(ctx, insertDeviations, rows); err != nil {
		j.l.Error("clickhouse record_deviations error", applogger.Int("rows", len(rows)), applogger.Error(err))
		return fmt.Errorf("record deviations: %w", err)
	}
	return nil
}

func (j *ClickHouseJournal) Health(ctx context.Context) error { return j.ch.Health(ctx) }

func (j *ClickHouseJournal) Close() error { return j.ch.Close() }

func nullable(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
