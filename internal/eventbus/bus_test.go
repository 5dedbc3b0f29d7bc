package eventbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TradePulse/internal/domain/models"
	"TradePulse/pkg/store"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ReadBlock = 20 * time.Millisecond
	cfg.RetryBackoff = 10 * time.Millisecond
	cfg.ShutdownGrace = time.Second
	return cfg
}

func startBus(t *testing.T, st *store.MemoryStore, setup func(b *Bus)) *Bus {
	t.Helper()
	b := New(st, testConfig())
	if setup != nil {
		setup(b)
	}
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() { _ = b.Shutdown(context.Background()) })
	return b
}

func mustEvent(t *testing.T, typ models.EventType, payload interface{}, opts ...models.EventOption) models.Event {
	t.Helper()
	e, err := models.NewEvent(typ, "test", payload, opts...)
	require.NoError(t, err)
	return e
}

type recorder struct {
	mu     sync.Mutex
	events []models.Event
	order  []string
}

func (r *recorder) handler(name string) HandlerFunc {
	return func(_ context.Context, e models.Event) Result {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, e)
		r.order = append(r.order, name)
		return Ok()
	}
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

func TestBus_HandlerIsolation(t *testing.T) {
	st := store.NewMemoryStore()
	rec := &recorder{}
	b := startBus(t, st, func(b *Bus) {
		b.Register(models.EventMarketTick, "panics", func(context.Context, models.Event) Result {
			panic("strategy blew up")
		})
		b.Register(models.EventMarketTick, "fails", func(context.Context, models.Event) Result {
			return Fail(errors.New("bad input"))
		})
		b.Register(models.EventMarketTick, "records", rec.handler("records"))
	})

	require.NoError(t, b.Emit(context.Background(), mustEvent(t, models.EventMarketTick, map[string]float64{"price": 100})))

	require.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return b.Metrics().Types[string(models.EventMarketTick)].Processed == 1
	}, time.Second, 5*time.Millisecond)

	st1 := b.Metrics().Types[string(models.EventMarketTick)]
	assert.Equal(t, int64(2), st1.Errors)
	assert.Equal(t, int64(3), st1.HandlersTriggered)
}

func TestBus_ExactHandlersRunBeforeCategoryHandlers(t *testing.T) {
	st := store.NewMemoryStore()
	rec := &recorder{}
	b := startBus(t, st, func(b *Bus) {
		b.RegisterCategory(models.CategoryTrading, "wildcard", rec.handler("wildcard"))
		b.Register(models.EventTradingSignal, "exact-1", rec.handler("exact-1"))
		b.Register(models.EventTradingSignal, "exact-2", rec.handler("exact-2"))
	})

	require.NoError(t, b.Emit(context.Background(), mustEvent(t, models.EventTradingSignal, nil)))
	require.Eventually(t, func() bool { return rec.count() == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"exact-1", "exact-2", "wildcard"}, rec.names())
}

func TestBus_PriorityEventsAreDoubleLoggedButDispatchedOnce(t *testing.T) {
	st := store.NewMemoryStore()
	rec := &recorder{}
	b := startBus(t, st, func(b *Bus) {
		b.Register(models.EventTradingOrderPlaced, "gate", rec.handler("gate"))
	})

	e := mustEvent(t, models.EventTradingOrderPlaced, nil, models.WithPriority(9))
	require.NoError(t, b.Emit(context.Background(), e))

	assert.Equal(t, 1, st.StreamLen(StreamFor(models.CategoryTrading)))
	assert.Equal(t, 1, st.StreamLen(priorityStream))

	require.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return b.Metrics().Skipped["duplicate"] == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, rec.count())
}

func TestBus_LowPriorityStaysOutOfPriorityLog(t *testing.T) {
	st := store.NewMemoryStore()
	b := startBus(t, st, nil)

	require.NoError(t, b.Emit(context.Background(), mustEvent(t, models.EventMarketTick, nil, models.WithPriority(7))))
	assert.Equal(t, 1, st.StreamLen(StreamFor(models.CategoryMarket)))
	assert.Equal(t, 0, st.StreamLen(priorityStream))
}

func TestBus_FollowUpsInheritCorrelation(t *testing.T) {
	st := store.NewMemoryStore()
	rec := &recorder{}
	b := startBus(t, st, func(b *Bus) {
		b.Register(models.EventMarketTick, "strategy", func(_ context.Context, e models.Event) Result {
			sig, err := models.NewEvent(models.EventTradingSignal, "strategy", nil)
			if err != nil {
				return Fail(err)
			}
			return Ok(sig)
		})
		b.Register(models.EventTradingSignal, "collector", rec.handler("collector"))
	})

	tick := mustEvent(t, models.EventMarketTick, nil)
	require.NoError(t, b.Emit(context.Background(), tick))

	require.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, tick.ID, rec.events[0].CorrelationID)
}

func TestBus_SkipsExpiredEvents(t *testing.T) {
	st := store.NewMemoryStore()
	rec := &recorder{}
	b := startBus(t, st, func(b *Bus) {
		b.Register(models.EventMarketTick, "h", rec.handler("h"))
	})

	stale := mustEvent(t, models.EventMarketTick, nil, models.WithTTL(time.Second))
	stale.Timestamp = time.Now().Add(-time.Minute)
	require.NoError(t, b.Emit(context.Background(), stale))
	fresh := mustEvent(t, models.EventMarketTick, nil, models.WithTTL(time.Minute))
	require.NoError(t, b.Emit(context.Background(), fresh))

	require.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	rec.mu.Lock()
	assert.Equal(t, fresh.ID, rec.events[0].ID)
	rec.mu.Unlock()
	assert.Equal(t, int64(1), b.Metrics().Skipped["expired"])
}

func TestBus_EmitRejectsInvalidEvents(t *testing.T) {
	b := New(store.NewMemoryStore(), testConfig())

	err := b.Emit(context.Background(), models.Event{ID: "x", Type: "market.unknown", Priority: 5})
	assert.ErrorIs(t, err, models.ErrMalformedEvent)
}

func TestBus_EmitAfterShutdown(t *testing.T) {
	st := store.NewMemoryStore()
	b := New(st, testConfig())
	require.NoError(t, b.Start(context.Background()))
	require.NoError(t, b.Shutdown(context.Background()))

	err := b.Emit(context.Background(), mustEvent(t, models.EventMarketTick, nil))
	assert.ErrorIs(t, err, models.ErrBusClosed)

	var snap Snapshot
	require.NoError(t, st.Get(context.Background(), metricsKey, &snap))
}

func TestBus_ShutdownTimeoutWithStuckHandler(t *testing.T) {
	st := store.NewMemoryStore()
	cfg := testConfig()
	cfg.ShutdownGrace = 50 * time.Millisecond
	b := New(st, cfg)

	started := make(chan struct{})
	b.Register(models.EventMarketTick, "stuck", func(ctx context.Context, _ models.Event) Result {
		close(started)
		<-ctx.Done()
		return Fail(ctx.Err())
	})
	require.NoError(t, b.Start(context.Background()))
	require.NoError(t, b.Emit(context.Background(), mustEvent(t, models.EventMarketTick, nil)))

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never started")
	}
	assert.ErrorIs(t, b.Shutdown(context.Background()), models.ErrShutdownTimeout)
}

func TestBus_PersistsOffsetsAndResumes(t *testing.T) {
	st := store.NewMemoryStore()
	rec := &recorder{}
	b := New(st, testConfig())
	b.Register(models.EventMarketTick, "h", rec.handler("h"))
	require.NoError(t, b.Start(context.Background()))

	require.NoError(t, b.Emit(context.Background(), mustEvent(t, models.EventMarketTick, nil)))
	require.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, b.Shutdown(context.Background()))

	var off string
	require.NoError(t, st.Get(context.Background(), store.Key(offsetPrefix, StreamFor(models.CategoryMarket)), &off))
	assert.NotEmpty(t, off)

	// An event appended while no bus is running is picked up from the stored offset.
	missed := mustEvent(t, models.EventMarketTick, nil)
	b2 := New(st, testConfig())
	require.NoError(t, b2.Emit(context.Background(), missed))

	rec2 := &recorder{}
	b2.Register(models.EventMarketTick, "h", rec2.handler("h"))
	require.NoError(t, b2.Start(context.Background()))
	defer b2.Shutdown(context.Background())

	require.Eventually(t, func() bool { return rec2.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	rec2.mu.Lock()
	assert.Equal(t, missed.ID, rec2.events[0].ID)
	rec2.mu.Unlock()
}

func TestBus_Listen(t *testing.T) {
	st := store.NewMemoryStore()
	b := New(st, testConfig())

	ch, closeFn, err := b.Listen(context.Background(), models.EventTradingOrderFilled)
	require.NoError(t, err)
	defer closeFn()

	e := mustEvent(t, models.EventTradingOrderFilled, map[string]string{"symbol": "AAPL"})
	require.NoError(t, b.Emit(context.Background(), e))

	select {
	case got := <-ch:
		assert.Equal(t, e.ID, got.ID)
	case <-time.After(time.Second):
		t.Fatal("no realtime delivery")
	}
}

func TestRecentIDs_Evicts(t *testing.T) {
	r := NewRecentIDs(2)
	assert.True(t, r.Add("a"))
	assert.True(t, r.Add("b"))
	assert.False(t, r.Add("a"))
	assert.True(t, r.Add("c"))
	assert.True(t, r.Add("a"), "a was evicted by c")
	assert.Equal(t, 2, r.Len())
}
