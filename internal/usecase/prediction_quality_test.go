package usecase

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TradePulse/internal/domain/models"
	"TradePulse/pkg/store"
)

func f64(v float64) *float64 { return &v }

func TestQuality(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	rec := func(horizon int, predicted float64, actual, deviation *float64, at time.Time) models.DeviationRecord {
		return models.DeviationRecord{
			Symbol:     "AAPL",
			Predicted:  predicted,
			Actual:     actual,
			Deviation:  deviation,
			Horizon:    horizon,
			ActualTime: at,
		}
	}

	tests := []struct {
		name    string
		records []models.DeviationRecord
		want    map[string]models.HorizonQuality
	}{
		{
			name:    "empty",
			records: nil,
			want:    map[string]models.HorizonQuality{},
		},
		{
			name: "per horizon errors",
			records: []models.DeviationRecord{
				rec(60, 110, f64(100), f64(0.1), t0),
				rec(60, 95, f64(100), f64(0.05), t0),
				rec(15, 50, f64(40), nil, t0),
			},
			want: map[string]models.HorizonQuality{
				"60": {Count: 2, MAE: 7.5, MAPE: f64(0.075), RMSE: math.Sqrt(62.5), AvgDeviation: f64(0.075)},
				"15": {Count: 1, MAE: 10, MAPE: f64(0.25), RMSE: 10},
			},
		},
		{
			name: "zero actual only drops out of mape",
			records: []models.DeviationRecord{
				rec(60, 1, f64(0), nil, t0),
				rec(60, 3, f64(2), nil, t0),
			},
			want: map[string]models.HorizonQuality{
				"60": {Count: 2, MAE: 1, MAPE: f64(0.5), RMSE: 1},
			},
		},
		{
			name: "unrealized and stale records skipped",
			records: []models.DeviationRecord{
				rec(60, 110, nil, nil, t0),
				rec(60, 110, f64(100), f64(0.1), t0.Add(-25*time.Hour)),
				rec(0, 12, f64(10), f64(0.2), t0),
			},
			want: map[string]models.HorizonQuality{
				"unknown": {Count: 1, MAE: 2, MAPE: f64(0.2), RMSE: 2, AvgDeviation: f64(0.2)},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Quality(tt.records, t0.Add(-24*time.Hour))
			require.Len(t, got, len(tt.want))
			for key, want := range tt.want {
				q, ok := got[key]
				require.True(t, ok, "missing horizon %s", key)
				assert.Equal(t, want.Count, q.Count)
				assert.InDelta(t, want.MAE, q.MAE, 1e-9)
				assert.InDelta(t, want.RMSE, q.RMSE, 1e-9)
				assertOptional(t, want.MAPE, q.MAPE)
				assertOptional(t, want.AvgDeviation, q.AvgDeviation)
			}
		})
	}
}

func assertOptional(t *testing.T, want, got *float64) {
	t.Helper()
	if want == nil {
		assert.Nil(t, got)
		return
	}
	require.NotNil(t, got)
	assert.InDelta(t, *want, *got, 1e-9)
}

func TestDeviationTracker_QualityMetrics(t *testing.T) {
	f := newTrackerFixture()
	ctx := context.Background()

	for _, r := range []models.DeviationRecord{
		{Symbol: "AAPL", Predicted: 110, Actual: f64(100), Deviation: f64(0.1), Horizon: 60, ActualTime: f.t0.Add(-time.Hour)},
		{Symbol: "AAPL", Predicted: 120, Actual: f64(100), Deviation: f64(0.2), Horizon: 60, ActualTime: f.t0.Add(-3 * time.Hour)},
	} {
		require.NoError(t, f.store.PushCapped(ctx, KeyDeviationLog, r, 500))
	}

	q, err := f.tracker.QualityMetrics(ctx, 2*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2.0, q.WindowHours)
	assert.Equal(t, 1, q.PerHorizon["60"].Count)
	assert.InDelta(t, 10, q.PerHorizon["60"].MAE, 1e-9)

	var saved models.PredictionQuality
	require.NoError(t, f.store.Get(ctx, KeyPredictionQuality, &saved))
	assert.Equal(t, 1, saved.PerHorizon["60"].Count)

	q, err = f.tracker.QualityMetrics(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 24.0, q.WindowHours)
	assert.Equal(t, 2, q.PerHorizon["60"].Count)

	history, err := store.RangeTyped[models.PredictionQuality](ctx, f.store, KeyPredictionQualityHistory, 0, -1)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}
