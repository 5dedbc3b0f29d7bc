package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TradePulse/internal/domain/models"
)

type countingFeed struct {
	calls int
	err   error
}

func (f *countingFeed) Name() string { return "finnhub" }

func (f *countingFeed) Fetch(context.Context, string) (*models.Reading, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &models.Reading{Source: "finnhub", Price: 10}, nil
}

func TestFeed_TripsAndRecovers(t *testing.T) {
	inner := &countingFeed{err: errors.New("http 503")}
	f := WrapFeed(inner, Settings{MaxFailures: 3, OpenTimeout: 50 * time.Millisecond})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.Fetch(ctx, "AAPL")
		require.Error(t, err)
		assert.False(t, errors.Is(err, models.ErrCircuitOpen))
	}

	_, err := f.Fetch(ctx, "AAPL")
	assert.ErrorIs(t, err, models.ErrCircuitOpen)
	assert.Equal(t, 3, inner.calls, "open breaker fails fast")
	assert.Equal(t, "open", f.br.State())

	inner.err = nil
	time.Sleep(60 * time.Millisecond)
	rd, err := f.Fetch(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 10.0, rd.Price)
	assert.Equal(t, "closed", f.br.State())
}

func TestFeed_CancellationDoesNotTrip(t *testing.T) {
	inner := &countingFeed{err: context.Canceled}
	f := WrapFeed(inner, Settings{MaxFailures: 1})

	for i := 0; i < 3; i++ {
		_, err := f.Fetch(context.Background(), "AAPL")
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, "closed", f.br.State())
}

type failingVenue struct{ calls int }

func (v *failingVenue) SubmitOrder(context.Context, models.OrderRequest) (*models.Fill, error) {
	v.calls++
	return nil, errors.New("http 500")
}

func TestVenue_NoRetry(t *testing.T) {
	inner := &failingVenue{}
	v := WrapVenue(inner, Settings{MaxFailures: 2})

	_, err := v.SubmitOrder(context.Background(), models.NewMarketOrder("AAPL", "buy", 1))
	require.Error(t, err)
	assert.Equal(t, 1, inner.calls)

	_, _ = v.SubmitOrder(context.Background(), models.NewMarketOrder("AAPL", "buy", 1))
	_, err = v.SubmitOrder(context.Background(), models.NewMarketOrder("AAPL", "buy", 1))
	assert.ErrorIs(t, err, models.ErrCircuitOpen)
	assert.Equal(t, 2, inner.calls)
}
