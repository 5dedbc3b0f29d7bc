package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_SendAndParse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "AAPL", r.URL.Query().Get("symbol"))
		assert.Equal(t, "secret", r.Header.Get("X-Key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"c":101.5}`))
	}))
	defer srv.Close()

	c := NewClient(WithHeader("X-Key", "secret"))
	var out struct {
		C float64 `json:"c"`
	}
	err := c.SendAndParse(context.Background(), &RequestOptions{
		URL:         srv.URL,
		QueryParams: map[string][]string{"symbol": {"AAPL"}},
	}, &out)
	require.NoError(t, err)
	assert.InDelta(t, 101.5, out.C, 1e-9)
}

func TestClient_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	}))
	defer srv.Close()

	err := NewClient().SendAndParse(context.Background(), &RequestOptions{URL: srv.URL}, nil)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusTooManyRequests, se.StatusCode)
	assert.Equal(t, "slow down", se.Body)
	assert.True(t, se.Retryable())
}

func TestClient_PostsJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		b, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"symbol":"MSFT","qty":"1"}`, string(b))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	err := NewClient().SendAndParse(context.Background(), &RequestOptions{
		Method: MethodPost,
		URL:    srv.URL,
		Body:   map[string]string{"symbol": "MSFT", "qty": "1"},
	}, nil)
	require.NoError(t, err)
}

type limitsRequest struct {
	Cap      float64 `json:"cap" validate:"gte=0"`
	Cooldown int     `json:"cooldown" validate:"gte=0"`
}

func TestBindOntoAndValidate_KeepsAbsentFieldsLimits(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"cooldown":0}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())

	cur := limitsRequest{Cap: 5000, Cooldown: 30}
	assert.Nil(t, BindOntoAndValidate(c, &cur))
	assert.InDelta(t, 5000, cur.Cap, 1e-9)
	assert.Equal(t, 0, cur.Cooldown)
}

func TestBindOntoAndValidate_ReportsJSONFieldNames(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"cap":-1}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())

	var cur limitsRequest
	res := BindOntoAndValidate(c, &cur)
	errs, ok := res.([]ValidationError)
	require.True(t, ok)
	require.Len(t, errs, 1)
	assert.Equal(t, "cap", errs[0].Field)
	assert.Equal(t, "ERR_GTE", errs[0].Code)
}
