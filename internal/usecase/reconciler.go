package usecase

import (
	"fmt"
	"sort"
	"time"

	"TradePulse/internal/domain/models"
)

// Feed names in descending trust order. OHLC and volume come from the first one present.
const (
	SourceFinnhub       = "finnhub"
	SourceFinnhubStream = "finnhub_stream"
	SourceTwelveData    = "twelvedata"
	SourceFMP           = "fmp"
	SourceStub          = "stub"
)

var defaultSourcePriority = []string{SourceFinnhub, SourceFinnhubStream, SourceTwelveData, SourceFMP, SourceStub}

// Reconciler merges the readings of several feeds into one tick.
type Reconciler struct {
	rank map[string]int
	now  func() time.Time
}

func NewReconciler() *Reconciler {
	rank := make(map[string]int, len(defaultSourcePriority))
	for i, s := range defaultSourcePriority {
		rank[s] = i
	}
	return &Reconciler{rank: rank, now: time.Now}
}

// Reconcile returns the consensus tick for symbol. The price is the median of
// the numeric readings; it fails with ErrNoData when there are none.
func (r *Reconciler) Reconcile(symbol string, readings []models.Reading) (models.Tick, error) {
	usable := make([]models.Reading, 0, len(readings))
	for _, rd := range readings {
		if rd.Numeric() {
			usable = append(usable, rd)
		}
	}
	if len(usable) == 0 {
		return models.Tick{}, fmt.Errorf("reconcile %s: %w", symbol, models.ErrNoData)
	}

	prices := make([]float64, len(usable))
	for i, rd := range usable {
		prices[i] = rd.Price
	}
	consensus := Median(prices)

	primary := r.primary(usable)
	tick := models.Tick{
		Symbol:        symbol,
		Price:         consensus,
		Open:          primary.Open,
		High:          primary.High,
		Low:           primary.Low,
		Volume:        primary.Volume,
		Change:        primary.Change,
		ChangePct:     primary.ChangePct,
		PrimarySource: primary.Source,
		Readings:      usable,
		Deviations:    make([]models.SourceDeviation, 0, len(usable)),
		Timestamp:     r.now().UTC(),
	}
	for _, rd := range usable {
		tick.Deviations = append(tick.Deviations, models.SourceDeviation{
			Source:   rd.Source,
			DeltaPct: (rd.Price - consensus) / consensus,
		})
	}
	return tick, nil
}

// primary picks the highest-ranked source; unranked sources keep arrival order after ranked ones.
func (r *Reconciler) primary(readings []models.Reading) models.Reading {
	best := readings[0]
	bestRank := r.rankOf(best.Source)
	for _, rd := range readings[1:] {
		if rk := r.rankOf(rd.Source); rk < bestRank {
			best, bestRank = rd, rk
		}
	}
	return best
}

func (r *Reconciler) rankOf(source string) int {
	if rk, ok := r.rank[source]; ok {
		return rk
	}
	return len(r.rank)
}

// Median of xs; the mean of the two middle values for an even count. xs is not modified.
func Median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2
}
