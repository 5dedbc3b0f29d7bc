package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"TradePulse/internal/domain/models"
	domrepo "TradePulse/internal/domain/repository"
	"TradePulse/pkg/logger"
	"TradePulse/pkg/store"
)

const (
	streamPrefix   = "events"
	priorityStream = "events:priority"
	channelPrefix  = "event"
	offsetPrefix   = "event_system:offset"
	metricsKey     = "event_system:metrics"
)

// StreamFor returns the durable log of a category.
func StreamFor(c models.Category) string {
	return store.Key(streamPrefix, c)
}

// ChannelFor returns the real-time channel of an event type.
func ChannelFor(t models.EventType) string {
	return store.Key(channelPrefix, t)
}

// Result is what a handler returns: follow-up events and an optional failure.
type Result struct {
	Events []models.Event
	Err    error
}

// Ok is a successful result carrying follow-up events.
func Ok(events ...models.Event) Result { return Result{Events: events} }

// Fail is a failed result.
func Fail(err error) Result { return Result{Err: err} }

// HandlerFunc processes one event.
type HandlerFunc func(ctx context.Context, e models.Event) Result

// SessionView is the part of the trading session the bus reports on.
type SessionView interface {
	ID() string
	Active() bool
}

type Config struct {
	Source          string
	StreamMaxLen    int64
	PriorityMaxLen  int64
	ReadCount       int64
	ReadBlock       time.Duration
	RetryBackoff    time.Duration
	MetricsInterval time.Duration
	MetricsTTL      time.Duration
	ShutdownGrace   time.Duration
	DedupSize       int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Source:          "event_bus",
		StreamMaxLen:    10000,
		PriorityMaxLen:  1000,
		ReadCount:       10,
		ReadBlock:       time.Second,
		RetryBackoff:    time.Second,
		MetricsInterval: time.Minute,
		MetricsTTL:      5 * time.Minute,
		ShutdownGrace:   10 * time.Second,
		DedupSize:       10000,
	}
}

// Option configures Bus.
type Option func(*Bus)

func WithLogger(l *logger.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.log = l
		}
	}
}

func WithMetrics(m domrepo.Metrics) Option {
	return func(b *Bus) {
		if m != nil {
			b.metrics = m
		}
	}
}

// WithSink forwards every appended event to an external sink.
func WithSink(s domrepo.EventSink) Option {
	return func(b *Bus) {
		b.sink = s
	}
}

func WithSession(s SessionView) Option {
	return func(b *Bus) {
		b.session = s
	}
}

type namedHandler struct {
	name string
	fn   HandlerFunc
}

// Bus routes events to per-category logs and dispatches them to handlers.
// One dispatch loop runs per category log plus one for the priority log.
type Bus struct {
	cfg     Config
	store   store.Store
	log     *logger.Logger
	metrics domrepo.Metrics
	sink    domrepo.EventSink
	session SessionView

	mu         sync.RWMutex
	byType     map[models.EventType][]namedHandler
	byCategory map[models.Category][]namedHandler

	seen  *RecentIDs
	stats *stats

	closed        atomic.Bool
	startOnce     sync.Once
	loopCancel    context.CancelFunc
	handlerCtx    context.Context
	handlerCancel context.CancelFunc
	loops         sync.WaitGroup

	now func() time.Time
}

// New creates a bus on top of st. Register handlers before Start.
func New(st store.Store, cfg Config, opts ...Option) *Bus {
	def := DefaultConfig()
	if cfg.Source == "" {
		cfg.Source = def.Source
	}
	if cfg.StreamMaxLen <= 0 {
		cfg.StreamMaxLen = def.StreamMaxLen
	}
	if cfg.PriorityMaxLen <= 0 {
		cfg.PriorityMaxLen = def.PriorityMaxLen
	}
	if cfg.ReadCount <= 0 {
		cfg.ReadCount = def.ReadCount
	}
	if cfg.ReadBlock <= 0 {
		cfg.ReadBlock = def.ReadBlock
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}
	if cfg.MetricsInterval <= 0 {
		cfg.MetricsInterval = def.MetricsInterval
	}
	if cfg.MetricsTTL <= 0 {
		cfg.MetricsTTL = def.MetricsTTL
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = def.ShutdownGrace
	}

	hctx, hcancel := context.WithCancel(context.Background())
	b := &Bus{
		cfg:           cfg,
		store:         st,
		log:           logger.Nop(),
		metrics:       domrepo.NopMetrics{},
		byType:        make(map[models.EventType][]namedHandler),
		byCategory:    make(map[models.Category][]namedHandler),
		seen:          NewRecentIDs(cfg.DedupSize),
		stats:         newStats(),
		handlerCtx:    hctx,
		handlerCancel: hcancel,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Register appends fn to the handlers of an exact event type.
func (b *Bus) Register(t models.EventType, name string, fn HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byType[t] = append(b.byType[t], namedHandler{name: name, fn: fn})
}

// RegisterCategory appends fn to the wildcard handlers of a category.
func (b *Bus) RegisterCategory(c models.Category, name string, fn HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byCategory[c] = append(b.byCategory[c], namedHandler{name: name, fn: fn})
}

// Emit appends e to its category log, and to the priority log when the
// priority is escalated, then publishes it to real-time listeners.
func (b *Bus) Emit(ctx context.Context, e models.Event) error {
	if b.closed.Load() {
		return models.ErrBusClosed
	}
	if err := e.Validate(); err != nil {
		return err
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrMalformedEvent, err)
	}

	cat := e.Category()
	if _, err := b.store.Append(ctx, StreamFor(cat), b.cfg.StreamMaxLen, payload); err != nil {
		b.metrics.RecordBusEvent(string(cat), "append_failed")
		return fmt.Errorf("append %s: %w", StreamFor(cat), err)
	}
	if e.IsPriority() {
		if _, err := b.store.Append(ctx, priorityStream, b.cfg.PriorityMaxLen, payload); err != nil {
			b.log.Warn("event bus: priority append failed",
				logger.String("event_id", e.ID),
				logger.String("type", string(e.Type)),
				logger.Error(err),
			)
		}
	}
	if err := b.store.Publish(ctx, ChannelFor(e.Type), payload); err != nil {
		b.log.Debug("event bus: publish failed", logger.String("type", string(e.Type)), logger.Error(err))
	}
	if b.sink != nil {
		if err := b.sink.Forward(ctx, e); err != nil {
			b.log.Warn("event bus: sink forward failed", logger.String("event_id", e.ID), logger.Error(err))
		}
	}

	b.stats.emit()
	b.metrics.RecordBusEvent(string(cat), "emitted")
	return nil
}

// Start launches the dispatch loops and the metrics snapshotter.
func (b *Bus) Start(ctx context.Context) error {
	if b.closed.Load() {
		return models.ErrBusClosed
	}

	var startErr error
	b.startOnce.Do(func() {
		streams := make([]string, 0, len(models.Categories())+1)
		for _, c := range models.Categories() {
			streams = append(streams, StreamFor(c))
		}
		streams = append(streams, priorityStream)

		offsets := make(map[string]string, len(streams))
		for _, s := range streams {
			off, err := b.loadOffset(ctx, s)
			if err != nil {
				startErr = fmt.Errorf("load offset %s: %w", s, err)
				return
			}
			offsets[s] = off
		}

		loopCtx, cancel := context.WithCancel(ctx)
		b.loopCancel = cancel
		for _, s := range streams {
			b.loops.Add(1)
			go b.runLoop(loopCtx, s, offsets[s])
		}
		b.loops.Add(1)
		go b.runSnapshots(loopCtx)

		b.log.Info("event bus: started", logger.Int("streams", len(streams)))
		b.emitLifecycle(ctx, models.EventSystemStart)
	})
	return startErr
}

// Shutdown stops accepting events, cancels the loops and waits for in-flight
// handlers up to the grace period.
func (b *Bus) Shutdown(ctx context.Context) error {
	b.emitLifecycle(ctx, models.EventSystemStop)
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	if b.loopCancel != nil {
		b.loopCancel()
	}

	done := make(chan struct{})
	go func() {
		b.loops.Wait()
		close(done)
	}()

	grace := time.NewTimer(b.cfg.ShutdownGrace)
	defer grace.Stop()

	var err error
	select {
	case <-done:
	case <-grace.C:
		err = models.ErrShutdownTimeout
	case <-ctx.Done():
		err = fmt.Errorf("%w: %v", models.ErrShutdownTimeout, ctx.Err())
	}
	b.handlerCancel()

	snapCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b.writeSnapshot(snapCtx)

	if err != nil {
		b.log.Warn("event bus: shutdown grace exceeded", logger.Duration("grace_ms", b.cfg.ShutdownGrace))
		return err
	}
	b.log.Info("event bus: stopped")
	return nil
}

// Metrics returns the current dispatch statistics.
func (b *Bus) Metrics() Snapshot {
	return b.stats.snapshot(b.now().UTC(), b.sessionID())
}

// Listen subscribes to the real-time channels of the given types.
func (b *Bus) Listen(ctx context.Context, types ...models.EventType) (<-chan models.Event, func() error, error) {
	channels := make([]string, 0, len(types))
	for _, t := range types {
		channels = append(channels, ChannelFor(t))
	}
	msgs, closeFn, err := b.store.Subscribe(ctx, channels...)
	if err != nil {
		return nil, nil, err
	}

	out := make(chan models.Event, 64)
	go func() {
		defer close(out)
		for m := range msgs {
			var e models.Event
			if err := json.Unmarshal(m.Payload, &e); err != nil {
				continue
			}
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, closeFn, nil
}

func (b *Bus) sessionID() string {
	if b.session == nil {
		return ""
	}
	return b.session.ID()
}

func (b *Bus) emitLifecycle(ctx context.Context, t models.EventType) {
	payload := map[string]interface{}{"session_id": b.sessionID()}
	if b.session != nil {
		payload["session_active"] = b.session.Active()
	}
	e, err := models.NewEvent(t, b.cfg.Source, payload, models.WithPriority(models.DefaultPriority))
	if err != nil {
		return
	}
	if err := b.Emit(ctx, e); err != nil && !errors.Is(err, models.ErrBusClosed) {
		b.log.Warn("event bus: lifecycle event failed", logger.String("type", string(t)), logger.Error(err))
	}
}

func (b *Bus) loadOffset(ctx context.Context, stream string) (string, error) {
	var off string
	ok, err := store.GetOrDefault(ctx, b.store, store.Key(offsetPrefix, stream), &off)
	if err != nil {
		return "", err
	}
	if ok && off != "" {
		return off, nil
	}
	// No stored offset: start after the newest entry.
	return b.store.LastID(ctx, stream)
}

func (b *Bus) saveOffset(stream, id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.store.Set(ctx, store.Key(offsetPrefix, stream), id, 0); err != nil {
		b.log.Warn("event bus: save offset failed", logger.String("stream", stream), logger.Error(err))
	}
}

func (b *Bus) runSnapshots(ctx context.Context) {
	defer b.loops.Done()

	ticker := time.NewTicker(b.cfg.MetricsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.writeSnapshot(ctx)
		}
	}
}

func (b *Bus) writeSnapshot(ctx context.Context) {
	if err := b.store.Set(ctx, metricsKey, b.Metrics(), b.cfg.MetricsTTL); err != nil {
		b.log.Warn("event bus: metrics snapshot failed", logger.Error(err))
	}
}
