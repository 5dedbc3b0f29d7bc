package usecase

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TradePulse/internal/domain/models"
	"TradePulse/pkg/store"
)

type trackerFixture struct {
	tracker *DeviationTracker
	store   *store.MemoryStore
	emitter *captureEmitter
	clock   *clock
	t0      time.Time
}

func newTrackerFixture() *trackerFixture {
	f := &trackerFixture{
		store:   store.NewMemoryStore(),
		emitter: &captureEmitter{},
		t0:      time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC),
	}
	f.clock = newClock(f.t0)
	f.tracker = NewDeviationTracker(DeviationConfig{}, f.store, f.emitter, nil, nil, nil)
	f.tracker.now = f.clock.Now
	return f
}

func (f *trackerFixture) setPrice(t *testing.T, symbol string, price float64) {
	t.Helper()
	require.NoError(t, f.store.Set(context.Background(), store.Key(KeyMarketData, symbol),
		models.Tick{Symbol: symbol, Price: price, Timestamp: f.clock.Now()}, 0))
}

func prediction(symbol string, horizons map[string]float64) models.PredictionPayload {
	return models.PredictionPayload{Symbol: symbol, Confidence: 0.8, Horizons: horizons}
}

func TestDeviation(t *testing.T) {
	d, ok := Deviation(100, 92)
	require.True(t, ok)
	assert.InDelta(t, 0.0870, d, 1e-4)

	d, ok = Deviation(100, 95)
	require.True(t, ok)
	assert.InDelta(t, 0.0526, d, 1e-4)

	_, ok = Deviation(100, 0)
	assert.False(t, ok)
	_, ok = Deviation(100, math.NaN())
	assert.False(t, ok)
}

func TestDeviationTracker_TriggersRetrain(t *testing.T) {
	f := newTrackerFixture()
	ctx := context.Background()

	n, err := f.tracker.Track(ctx, "pred-1", prediction("AAPL", map[string]float64{"15": 100, "60": 105}), f.t0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var mp models.ModelPrediction
	require.NoError(t, f.store.Get(ctx, store.Key(KeyModelPrediction, "AAPL"), &mp))
	assert.Equal(t, 100.0, mp.Price15Min)

	f.setPrice(t, "AAPL", 92)
	f.clock.Advance(16 * time.Minute)

	recs, err := f.tracker.Cycle(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1, "only the 15 minute horizon is due")
	require.NotNil(t, recs[0].Deviation)
	assert.InDelta(t, 0.0870, *recs[0].Deviation, 1e-4)
	assert.Equal(t, 15, recs[0].Horizon)

	retrains := f.emitter.ofType(models.EventAIModelRetrained)
	require.Len(t, retrains, 1)
	assert.Equal(t, 8, retrains[0].Priority)
	var req models.RetrainRequest
	require.NoError(t, retrains[0].Decode(&req))
	assert.Equal(t, []string{"AAPL"}, req.Symbols)
	assert.Equal(t, "deviation", req.Trigger)

	status, err := f.tracker.Status(ctx)
	require.NoError(t, err)
	assert.True(t, status.Pending)
	require.NotNil(t, status.RequestedAt)

	issued, err := f.tracker.RequestRetrain(ctx, []string{"AAPL"}, 0.2)
	require.NoError(t, err)
	assert.False(t, issued, "debounced inside the window")

	f.clock.Advance(31 * time.Minute)
	issued, err = f.tracker.RequestRetrain(ctx, []string{"AAPL"}, 0.2)
	require.NoError(t, err)
	assert.True(t, issued)
	assert.Len(t, f.emitter.ofType(models.EventAIModelRetrained), 2)

	status, err = f.tracker.MarkRetrained(ctx)
	require.NoError(t, err)
	assert.False(t, status.Pending)
	require.NotNil(t, status.LastRetrain)
}

func TestDeviationTracker_BelowThreshold(t *testing.T) {
	f := newTrackerFixture()
	ctx := context.Background()

	_, err := f.tracker.Track(ctx, "pred-2", prediction("MSFT", map[string]float64{"15": 100}), f.t0)
	require.NoError(t, err)
	f.setPrice(t, "MSFT", 95)

	recs, err := f.tracker.Cycle(ctx)
	require.NoError(t, err)
	assert.Empty(t, recs, "nothing is due yet")

	f.clock.Advance(15 * time.Minute)
	recs, err = f.tracker.Cycle(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Empty(t, f.emitter.ofType(models.EventAIModelRetrained))

	hist, err := f.tracker.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, 95.0, *hist[0].Actual)

	pending, err := f.store.ZRangeByScore(ctx, KeyPending, math.Inf(-1), math.Inf(1), 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDeviationTracker_MissingActual(t *testing.T) {
	f := newTrackerFixture()
	ctx := context.Background()

	_, err := f.tracker.Track(ctx, "pred-3", prediction("TSLA", map[string]float64{"5": 250}), f.t0)
	require.NoError(t, err)
	f.clock.Advance(10 * time.Minute)

	recs, err := f.tracker.Cycle(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Nil(t, recs[0].Actual)
	assert.Nil(t, recs[0].Deviation)
	assert.Empty(t, f.emitter.ofType(models.EventAIModelRetrained))
}

func TestDeviationTracker_RedeliveryIsIdempotent(t *testing.T) {
	f := newTrackerFixture()
	ctx := context.Background()

	p := prediction("NVDA", map[string]float64{"15": 900, "30": 910, "bad": 1})
	p.IssuedAt = f.t0
	ev := mustNewEvent(models.EventAIPredictionReady, p)
	for i := 0; i < 3; i++ {
		require.NoError(t, f.tracker.HandlePrediction(ctx, ev).Err)
	}

	pending, err := f.store.ZRangeByScore(ctx, KeyPending, math.Inf(-1), math.Inf(1), 0)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	f.setPrice(t, "NVDA", 905)
	f.clock.Advance(24 * time.Hour)
	recs, err := f.tracker.Cycle(ctx)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestDeviationTracker_RejectsEmptyPrediction(t *testing.T) {
	f := newTrackerFixture()
	res := f.tracker.HandlePrediction(context.Background(), mustNewEvent(models.EventAIPredictionReady, models.PredictionPayload{Symbol: "AAPL"}))
	assert.ErrorIs(t, res.Err, models.ErrMalformedEvent)
}
