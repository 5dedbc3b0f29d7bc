package eventbus

import (
	"sync"
	"time"

	"TradePulse/internal/domain/models"
)

// TypeStats is the dispatch record of one event type.
type TypeStats struct {
	Processed         int64     `json:"processed"`
	Errors            int64     `json:"errors"`
	HandlersTriggered int64     `json:"handlers_triggered"`
	AvgLatencyMs      float64   `json:"avg_latency_ms"`
	LastProcessed     time.Time `json:"last_processed"`
}

// Snapshot is the persisted view of bus activity.
type Snapshot struct {
	Timestamp time.Time            `json:"timestamp"`
	SessionID string               `json:"session_id,omitempty"`
	Emitted   int64                `json:"emitted"`
	Skipped   map[string]int64     `json:"skipped"`
	Types     map[string]TypeStats `json:"types"`
}

type stats struct {
	mu      sync.Mutex
	emitted int64
	skipped map[string]int64
	types   map[models.EventType]*TypeStats
}

func newStats() *stats {
	return &stats{
		skipped: make(map[string]int64),
		types:   make(map[models.EventType]*TypeStats),
	}
}

func (s *stats) emit() {
	s.mu.Lock()
	s.emitted++
	s.mu.Unlock()
}

func (s *stats) skip(reason string) {
	s.mu.Lock()
	s.skipped[reason]++
	s.mu.Unlock()
}

// record folds one dispatch into the running mean latency.
func (s *stats) record(t models.EventType, handlers, errs int, took time.Duration, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts, ok := s.types[t]
	if !ok {
		ts = &TypeStats{}
		s.types[t] = ts
	}
	ts.Processed++
	ts.Errors += int64(errs)
	ts.HandlersTriggered += int64(handlers)
	ms := float64(took) / float64(time.Millisecond)
	ts.AvgLatencyMs += (ms - ts.AvgLatencyMs) / float64(ts.Processed)
	ts.LastProcessed = at
}

func (s *stats) snapshot(now time.Time, sessionID string) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Timestamp: now,
		SessionID: sessionID,
		Emitted:   s.emitted,
		Skipped:   make(map[string]int64, len(s.skipped)),
		Types:     make(map[string]TypeStats, len(s.types)),
	}
	for k, v := range s.skipped {
		snap.Skipped[k] = v
	}
	for t, v := range s.types {
		snap.Types[string(t)] = *v
	}
	return snap
}
