package logger

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Publisher ships aggregated log batches, e.g. to a Kafka topic.
type Publisher interface {
	PublishMessage(ctx context.Context, topic string, payload interface{}) error
}

// CollectionConfig controls how error records are grouped and shipped.
type CollectionConfig struct {
	TimeInterval   time.Duration // flush period, 30s when unset
	CountThreshold int           // distinct records held before an early flush, 100 when unset
	Topic          string
	Publisher      Publisher
	PublishTimeout time.Duration // 10s when unset
}

// AggregatedLogEntry is one distinct error record and how often it repeated.
type AggregatedLogEntry struct {
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields"`
	Caller    string                 `json:"caller"`
	Count     int                    `json:"count"`
	FirstSeen time.Time              `json:"first_seen"`
	LastSeen  time.Time              `json:"last_seen"`
}

// LogCollector folds repeated records into counted entries and hands
// batches to a single shipping goroutine.
type LogCollector struct {
	cfg     CollectionConfig
	mu      sync.Mutex
	pending map[uint64]*AggregatedLogEntry
	closed  bool
	out     chan []AggregatedLogEntry
	dropped atomic.Int64

	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func NewLogCollector(config *CollectionConfig) *LogCollector {
	cfg := *config
	if cfg.TimeInterval <= 0 {
		cfg.TimeInterval = 30 * time.Second
	}
	if cfg.CountThreshold <= 0 {
		cfg.CountThreshold = 100
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 10 * time.Second
	}

	c := &LogCollector{
		cfg:     cfg,
		pending: make(map[uint64]*AggregatedLogEntry),
		out:     make(chan []AggregatedLogEntry, 8),
		stop:    make(chan struct{}),
	}
	c.wg.Add(2)
	go c.tick()
	go c.ship()
	return c
}

// AddLog counts one record. Records with the same level, caller, message
// and fields share an entry.
func (c *LogCollector) AddLog(level, message string, fields map[string]interface{}, caller string) {
	now := time.Now()
	key := fingerprint(level, message, fields, caller)

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.pending[key]; ok {
		e.Count++
		e.LastSeen = now
		return
	}
	c.pending[key] = &AggregatedLogEntry{
		Level:     level,
		Message:   message,
		Fields:    fields,
		Caller:    caller,
		Count:     1,
		FirstSeen: now,
		LastSeen:  now,
	}
	if len(c.pending) >= c.cfg.CountThreshold {
		c.flushLocked()
	}
}

// Dropped reports batches discarded because the shipper fell behind.
func (c *LogCollector) Dropped() int64 { return c.dropped.Load() }

func fingerprint(level, message string, fields map[string]interface{}, caller string) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s\x00%s\x00%s", level, caller, message)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "\x00%s=%v", k, fields[k])
	}
	return h.Sum64()
}

func (c *LogCollector) tick() {
	defer c.wg.Done()
	t := time.NewTicker(c.cfg.TimeInterval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			c.mu.Lock()
			c.flushLocked()
			c.mu.Unlock()
		case <-c.stop:
			c.mu.Lock()
			c.flushLocked()
			c.closed = true
			close(c.out)
			c.mu.Unlock()
			return
		}
	}
}

// flushLocked moves pending entries to the shipper, most frequent first.
// Caller holds c.mu.
func (c *LogCollector) flushLocked() {
	if c.closed || len(c.pending) == 0 {
		return
	}
	batch := make([]AggregatedLogEntry, 0, len(c.pending))
	for _, e := range c.pending {
		batch = append(batch, *e)
	}
	c.pending = make(map[uint64]*AggregatedLogEntry)
	sort.Slice(batch, func(i, j int) bool { return batch[i].Count > batch[j].Count })

	select {
	case c.out <- batch:
	default:
		c.dropped.Add(1)
	}
}

func (c *LogCollector) ship() {
	defer c.wg.Done()
	for batch := range c.out {
		if c.cfg.Publisher == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.PublishTimeout)
		if err := c.cfg.Publisher.PublishMessage(ctx, c.cfg.Topic, batch); err != nil {
			fmt.Fprintf(os.Stderr, "log collector: publish %d entries to %s: %v\n", len(batch), c.cfg.Topic, err)
		}
		cancel()
	}
}

// Close flushes what is pending and waits for the shipper to finish.
func (c *LogCollector) Close() {
	c.once.Do(func() { close(c.stop) })
	c.wg.Wait()
}
