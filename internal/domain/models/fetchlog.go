package models

import "time"

const (
	FetchOK          = "ok"
	FetchEmpty       = "empty"
	FetchError       = "error"
	FetchBreakerOpen = "breaker_open"
	FetchFailedAll   = "failed_all"
)

// FetchLogEntry records one (symbol, source) fetch outcome.
type FetchLogEntry struct {
	Time   time.Time `json:"time"`
	Ticker string    `json:"ticker"`
	Source string    `json:"source"`
	Status string    `json:"status"`
	Note   string    `json:"note"`
}

// SourceStats counts per-source successes for a polling cycle.
type SourceStats struct {
	Time    time.Time      `json:"time"`
	Sources map[string]int `json:"sources"`
	Failed  int            `json:"failed"`
}
