package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"TradePulse/internal/domain/models"
	"TradePulse/pkg/store"
)

type captureEmitter struct {
	mu     sync.Mutex
	events []models.Event
	err    error
}

func (c *captureEmitter) Emit(_ context.Context, e models.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, e)
	return nil
}

func (c *captureEmitter) ofType(t models.EventType) []models.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []models.Event
	for _, e := range c.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type fakeVenue struct {
	mu    sync.Mutex
	calls []models.OrderRequest
	err   error
	delay time.Duration
	block chan struct{}
}

func (v *fakeVenue) SubmitOrder(ctx context.Context, req models.OrderRequest) (*models.Fill, error) {
	if v.block != nil {
		select {
		case <-v.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if v.delay > 0 {
		time.Sleep(v.delay)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls = append(v.calls, req)
	if v.err != nil {
		return nil, v.err
	}
	return &models.Fill{OrderID: "ord-" + req.Symbol, Status: "accepted", FilledQty: float64(req.Qty)}, nil
}

func (v *fakeVenue) count() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.calls)
}

type fixedHours bool

func (h fixedHours) Open(time.Time) bool { return bool(h) }

// clock is a manually advanced time source.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock(t time.Time) *clock { return &clock{t: t} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type staticFeed struct {
	name    string
	reading *models.Reading
	err     error
	calls   int
	mu      sync.Mutex
}

func (f *staticFeed) Name() string { return f.name }

func (f *staticFeed) Fetch(context.Context, string) (*models.Reading, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.reading == nil {
		return nil, nil
	}
	r := *f.reading
	r.Source = f.name
	return &r, nil
}

// brokenStore fails every read.
type brokenStore struct {
	*store.MemoryStore
}

var errStoreDown = errors.New("store down")

func (brokenStore) Get(context.Context, string, interface{}) error { return errStoreDown }

// settingsOutageStore fails reads of the risk settings while down is set.
type settingsOutageStore struct {
	*store.MemoryStore
	down atomic.Bool
}

func (s *settingsOutageStore) Get(ctx context.Context, key string, dest interface{}) error {
	if key == KeyRiskSettings && s.down.Load() {
		return errStoreDown
	}
	return s.MemoryStore.Get(ctx, key, dest)
}

func mustNewEvent(t models.EventType, payload interface{}, opts ...models.EventOption) models.Event {
	e, err := models.NewEvent(t, "test", payload, opts...)
	if err != nil {
		panic(err)
	}
	return e
}
