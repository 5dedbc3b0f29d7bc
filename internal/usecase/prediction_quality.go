package usecase

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"TradePulse/internal/domain/models"
	"TradePulse/pkg/logger"
)

const qualityHistorySize = 100

type qualityBucket struct {
	count     int
	absSum    float64
	sqSum     float64
	mapeSum   float64
	mapeCount int
	devSum    float64
	devCount  int
}

// Quality aggregates MAE, MAPE, RMSE and the mean recorded deviation per horizon
// over records realized at or after since. Records without a realized price are
// skipped, and a zero realized price only drops out of MAPE.
func Quality(records []models.DeviationRecord, since time.Time) map[string]models.HorizonQuality {
	buckets := make(map[string]*qualityBucket)
	for _, r := range records {
		if r.Actual == nil || r.ActualTime.Before(since) {
			continue
		}
		key := "unknown"
		if r.Horizon > 0 {
			key = strconv.Itoa(r.Horizon)
		}
		b, ok := buckets[key]
		if !ok {
			b = &qualityBucket{}
			buckets[key] = b
		}

		actual := *r.Actual
		diff := r.Predicted - actual
		b.count++
		b.absSum += math.Abs(diff)
		b.sqSum += diff * diff
		if actual != 0 {
			if mape := math.Abs(diff) / actual; !math.IsInf(mape, 0) && !math.IsNaN(mape) {
				b.mapeSum += mape
				b.mapeCount++
			}
		}
		if r.Deviation != nil {
			b.devSum += *r.Deviation
			b.devCount++
		}
	}

	out := make(map[string]models.HorizonQuality, len(buckets))
	for key, b := range buckets {
		n := float64(b.count)
		q := models.HorizonQuality{
			Count: b.count,
			MAE:   b.absSum / n,
			RMSE:  math.Sqrt(b.sqSum / n),
		}
		if b.mapeCount > 0 {
			v := b.mapeSum / float64(b.mapeCount)
			q.MAPE = &v
		}
		if b.devCount > 0 {
			v := b.devSum / float64(b.devCount)
			q.AvgDeviation = &v
		}
		out[key] = q
	}
	return out
}

// QualityMetrics computes Quality over the stored deviation history for the
// trailing window, saves it as the latest snapshot and appends it to the
// capped snapshot history.
func (d *DeviationTracker) QualityMetrics(ctx context.Context, window time.Duration) (models.PredictionQuality, error) {
	if window <= 0 {
		window = d.cfg.QualityWindow
	}
	records, err := d.History(ctx, 0)
	if err != nil {
		return models.PredictionQuality{}, fmt.Errorf("load deviation history: %w", err)
	}

	now := d.now().UTC()
	q := models.PredictionQuality{
		Time:        now,
		WindowHours: window.Hours(),
		PerHorizon:  Quality(records, now.Add(-window)),
	}
	if err := d.store.Set(ctx, KeyPredictionQuality, q, 0); err != nil {
		return q, fmt.Errorf("save prediction quality: %w", err)
	}
	if err := d.store.PushCapped(ctx, KeyPredictionQualityHistory, q, qualityHistorySize); err != nil {
		d.log.Warn("deviation: quality history append failed", logger.Error(err))
	}
	d.log.Debug("deviation: prediction quality computed", logger.Int("horizons", len(q.PerHorizon)))
	return q, nil
}
