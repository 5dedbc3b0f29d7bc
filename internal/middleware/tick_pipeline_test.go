package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TradePulse/internal/domain/models"
)

type flakyEmitter struct {
	mu       sync.Mutex
	failures int
	err      error
	events   []models.Event
}

func (f *flakyEmitter) Emit(_ context.Context, e models.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.failures > 0 {
		f.failures--
		return errors.New("xadd: connection refused")
	}
	f.events = append(f.events, e)
	return nil
}

func (f *flakyEmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func tick(symbol string, price float64) models.Tick {
	return models.Tick{Symbol: symbol, Price: price, Volume: 10, Timestamp: time.Now().UTC()}
}

func TestTickPipeline_PublishEmitsMarketTick(t *testing.T) {
	em := &flakyEmitter{}
	p := NewTickPipeline(em, nil, WithMinInterval(0), WithTickTTL(time.Minute))

	require.NoError(t, p.Publish(context.Background(), tick("AAPL", 190)))
	require.Equal(t, 1, em.count())

	e := em.events[0]
	assert.Equal(t, models.EventMarketTick, e.Type)
	assert.Equal(t, models.DefaultPriority, e.Priority)
	assert.Equal(t, 60, e.TTL)

	var got models.Tick
	require.NoError(t, e.Decode(&got))
	assert.Equal(t, "AAPL", got.Symbol)
}

func TestTickPipeline_RejectsInvalidTicks(t *testing.T) {
	p := NewTickPipeline(&flakyEmitter{}, nil)
	ctx := context.Background()

	bad := []models.Tick{
		{Price: 1, Timestamp: time.Now()},
		{Symbol: "AAPL", Price: 1},
		{Symbol: "AAPL", Price: 0, Timestamp: time.Now()},
		{Symbol: "AAPL", Price: 1, Volume: -1, Timestamp: time.Now()},
	}
	for _, tk := range bad {
		assert.ErrorIs(t, p.Publish(ctx, tk), models.ErrMalformedEvent)
	}
}

func TestTickPipeline_Throttles(t *testing.T) {
	em := &flakyEmitter{}
	p := NewTickPipeline(em, nil, WithMinInterval(time.Hour))
	ctx := context.Background()

	require.NoError(t, p.Publish(ctx, tick("AAPL", 1)))
	require.NoError(t, p.Publish(ctx, tick("AAPL", 2)))
	require.NoError(t, p.Publish(ctx, tick("MSFT", 3)))
	assert.Equal(t, 2, em.count())
}

func TestTickPipeline_BuffersAndRetries(t *testing.T) {
	em := &flakyEmitter{failures: 2}
	p := NewTickPipeline(em, nil, WithMinInterval(0), WithBufferSize(4))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := p.Publish(ctx, tick("AAPL", 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline downstream")
	assert.Equal(t, 1, p.Buffered())

	p.Start(ctx)
	defer p.Stop()
	require.Eventually(t, func() bool { return em.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, p.Buffered())
}

func TestTickPipeline_BusClosedIsNotBuffered(t *testing.T) {
	p := NewTickPipeline(&flakyEmitter{err: models.ErrBusClosed}, nil, WithMinInterval(0))

	err := p.Publish(context.Background(), tick("AAPL", 1))
	assert.ErrorIs(t, err, models.ErrBusClosed)
	assert.Zero(t, p.Buffered())
}

func TestTickPipeline_StopIsIdempotent(t *testing.T) {
	p := NewTickPipeline(&flakyEmitter{}, nil)
	p.Stop()
	p.Start(context.Background())
	p.Stop()
	p.Stop()
}
