package models

import (
	"math"
	"time"
)

// Reading is one raw observation from a single feed.
type Reading struct {
	Source    string  `json:"source"`
	Price     float64 `json:"price"`
	Open      float64 `json:"open,omitempty"`
	High      float64 `json:"high,omitempty"`
	Low       float64 `json:"low,omitempty"`
	Volume    float64 `json:"volume,omitempty"`
	Change    float64 `json:"change,omitempty"`
	ChangePct float64 `json:"change_pct,omitempty"`
}

// Numeric reports whether the reading carries a usable price.
func (r Reading) Numeric() bool {
	return r.Price > 0 && !math.IsNaN(r.Price) && !math.IsInf(r.Price, 0)
}

type SourceDeviation struct {
	Source   string  `json:"source"`
	DeltaPct float64 `json:"delta_pct"`
}

// Tick is one reconciled, timestamped observation for a symbol.
type Tick struct {
	Symbol        string            `json:"symbol"`
	Price         float64           `json:"price"`
	Open          float64           `json:"open"`
	High          float64           `json:"high"`
	Low           float64           `json:"low"`
	Volume        float64           `json:"volume"`
	Change        float64           `json:"change,omitempty"`
	ChangePct     float64           `json:"change_percent,omitempty"`
	PrimarySource string            `json:"primary_source"`
	Readings      []Reading         `json:"readings"`
	Deviations    []SourceDeviation `json:"source_deviation"`
	Timestamp     time.Time         `json:"time"`
}

// SourcesUsed lists the sources that contributed a reading.
func (t Tick) SourcesUsed() []string {
	out := make([]string, 0, len(t.Readings))
	for _, r := range t.Readings {
		out = append(out, r.Source)
	}
	return out
}
