package twelvedata

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
		assert.Equal(t, "/quote", r.URL.Path)
		assert.Equal(t, "td-key", r.URL.Query().Get("apikey"))
		switch r.URL.Query().Get("symbol") {
		case "MSFT":
			_, _ = w.Write([]byte(`{"symbol":"MSFT","open":"410.1","high":"415","low":"409.5","close":"412.25","volume":"1200345","change":"2.1","percent_change":"0.51"}`))
		case "EMPTY":
			_, _ = w.Write([]byte(`{"symbol":"EMPTY","close":""}`))
		default:
			_, _ = w.Write([]byte(`{"code":429,"message":"run out of API credits","status":"error"}`))
		}
	}))
	defer srv.Close()

	c := New("td-key", srv.URL, time.Second)

	rd, err := c.Fetch(context.Background(), "MSFT")
	require.NoError(t, err)
	require.NotNil(t, rd)
	assert.Equal(t, Source, rd.Source)
	assert.Equal(t, 412.25, rd.Price)
	assert.Equal(t, 1200345.0, rd.Volume)

	rd, err = c.Fetch(context.Background(), "EMPTY")
	require.NoError(t, err)
	assert.Nil(t, rd)

	_, err = c.Fetch(context.Background(), "AAPL")
	require.ErrorIs(t, err, models.ErrSourceUnavailable)
	assert.Contains(t, err.Error(), "API credits")
}
