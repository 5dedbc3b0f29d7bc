package stub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeed_FreshRange(t *testing.T) {
	f := NewSeeded(nil, 1)
	for i := 0; i < 200; i++ {
		rd, err := f.Fetch(context.Background(), "AAPL")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, rd.Price, 150.0)
		assert.Less(t, rd.Price, 300.0)
		assert.Equal(t, Source, rd.Source)
	}
}

func TestFeed_WalksFromLastPrice(t *testing.T) {
	f := NewSeeded(func(context.Context, string) (float64, bool) { return 200, true }, 2)
	for i := 0; i < 200; i++ {
		rd, err := f.Fetch(context.Background(), "AAPL")
		require.NoError(t, err)
		assert.InDelta(t, 200, rd.Price, 200*0.003)
	}
}
