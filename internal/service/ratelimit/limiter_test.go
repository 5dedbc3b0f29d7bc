package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TradePulse/internal/domain/models"
)

func TestLimiter_PerKeyBuckets(t *testing.T) {
	l := New(1, 2)
	assert.True(t, l.Allow("finnhub"))
	assert.True(t, l.Allow("finnhub"))
	assert.False(t, l.Allow("finnhub"))
	assert.True(t, l.Allow("fmp"), "keys do not share a bucket")

	l.Set("stub", 0, 1)
	for i := 0; i < 100; i++ {
		require.True(t, l.Allow("stub"))
	}
}

type nopFeed struct{ calls int }

func (f *nopFeed) Name() string { return "twelvedata" }

func (f *nopFeed) Fetch(context.Context, string) (*models.Reading, error) {
	f.calls++
	return &models.Reading{Price: 1}, nil
}

func TestFeed_WaitHonoursContext(t *testing.T) {
	inner := &nopFeed{}
	l := New(0.01, 1)
	f := Wrap(inner, l)

	_, err := f.Fetch(context.Background(), "AAPL")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = f.Fetch(ctx, "AAPL")
	assert.ErrorIs(t, err, models.ErrSourceUnavailable)
	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, "twelvedata", f.Name())
}
