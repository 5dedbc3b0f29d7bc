package usecase

import (
	"context"

	"TradePulse/internal/domain/models"
	"TradePulse/pkg/store"
)

// Shared store keys.
const (
	KeyMarketData      = "market_data"
	KeySourceStats     = "market_source_stats"
	KeyFetchLog        = "market_fetch_log"
	KeySignalHistory   = "signals:history"
	KeyRiskSettings    = "risk_settings"
	KeyRiskStatus      = "risk_status"
	KeyRiskProcessed   = "risk:processed"
	KeyTradeLog        = "trade_log"
	KeyModelPrediction = "ml_prediction"
	KeyPending         = "predictions:pending"
	KeyPendingRecord   = "predictions:record"
	KeyDeviationLog    = "prediction_deviation_history"
	KeyRetrainStatus   = "retrain_status"

	KeyPredictionQuality        = "prediction_quality_metrics"
	KeyPredictionQualityHistory = "prediction_quality_metrics_history"
)

// LatestTick returns the last reconciled tick of symbol, or nil when none is stored.
func LatestTick(ctx context.Context, st store.Store, symbol string) (*models.Tick, error) {
	var t models.Tick
	ok, err := store.GetOrDefault(ctx, st, store.Key(KeyMarketData, symbol), &t)
	if err != nil || !ok {
		return nil, err
	}
	return &t, nil
}

// LastPrice adapts LatestTick to a price lookup.
func LastPrice(st store.Store) func(ctx context.Context, symbol string) (float64, bool) {
	return func(ctx context.Context, symbol string) (float64, bool) {
		t, err := LatestTick(ctx, st, symbol)
		if err != nil || t == nil || t.Price <= 0 {
			return 0, false
		}
		return t.Price, true
	}
}

// FetchLog returns the newest n fetch log entries, oldest first.
func FetchLog(ctx context.Context, st store.Store, n int64) ([]models.FetchLogEntry, error) {
	return store.RangeTyped[models.FetchLogEntry](ctx, st, KeyFetchLog, -n, -1)
}

// TradeLog returns the newest n accepted trades, oldest first.
func TradeLog(ctx context.Context, st store.Store, n int64) ([]models.TradeEntry, error) {
	return store.RangeTyped[models.TradeEntry](ctx, st, KeyTradeLog, -n, -1)
}
