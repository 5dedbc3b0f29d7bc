package fmp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TradePulse/internal/domain/models"
)

func TestClient_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "fmp-key", r.URL.Query().Get("apikey"))
		switch r.URL.Path {
		case "/api/v3/quote-short/NVDA":
			_, _ = w.Write([]byte(`[{"symbol":"NVDA","price":880.4,"volume":3100000}]`))
		case "/api/v3/quote-short/NONE":
			_, _ = w.Write([]byte(`[]`))
		default:
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"Error Message":"Invalid API KEY."}`))
		}
	}))
	defer srv.Close()

	c := New("fmp-key", srv.URL, time.Second)

	rd, err := c.Fetch(context.Background(), "NVDA")
	require.NoError(t, err)
	require.NotNil(t, rd)
	assert.Equal(t, 880.4, rd.Price)
	assert.Equal(t, Source, rd.Source)

	rd, err = c.Fetch(context.Background(), "NONE")
	require.NoError(t, err)
	assert.Nil(t, rd)

	_, err = c.Fetch(context.Background(), "BAD")
	assert.ErrorIs(t, err, models.ErrSourceUnavailable)
}
