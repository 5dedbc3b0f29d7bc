package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type orderRequest struct {
	Symbol string  `json:"symbol" validate:"required,ticker"`
	Qty    int     `json:"qty" default:"1" validate:"gte=1,lte=100"`
	Limit  float64 `json:"limit_price" validate:"gte=0"`
}

func newContext(body string) echo.Context {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return echo.New().NewContext(req, httptest.NewRecorder())
}

func TestReadAndValidateRequest_AppliesDefaults(t *testing.T) {
	req := &orderRequest{}
	require.Nil(t, ReadAndValidateRequest(newContext(`{"symbol":"brk.b"}`), req))
	assert.Equal(t, 1, req.Qty)
}

func TestReadAndValidateRequest_ReportsJSONFieldNames(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
		code  string
	}{
		{"missing symbol", `{}`, "symbol", "ERR_REQUIRED"},
		{"bad ticker", `{"symbol":"1ABC"}`, "symbol", "ERR_TICKER"},
		{"qty too large", `{"symbol":"AAPL","qty":500}`, "qty", "ERR_LTE"},
		{"negative limit", `{"symbol":"AAPL","limit_price":-1}`, "limit_price", "ERR_GTE"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			verr := ReadAndValidateRequest(newContext(tc.body), &orderRequest{})
			errs, ok := verr.([]ValidationError)
			require.True(t, ok)
			require.Len(t, errs, 1)
			assert.Equal(t, tc.field, errs[0].Field)
			assert.Equal(t, tc.code, errs[0].Code)
		})
	}
}

func TestReadAndValidateRequest_MalformedBody(t *testing.T) {
	verr := ReadAndValidateRequest(newContext(`{"symbol":`), &orderRequest{})
	errs, ok := verr.([]ValidationError)
	require.True(t, ok)
	assert.Equal(t, "ERR_UNKNOWN", errs[0].Code)
}

func TestBindOntoAndValidate_KeepsAbsentFields(t *testing.T) {
	req := &orderRequest{Symbol: "MSFT", Qty: 7, Limit: 410}
	require.Nil(t, BindOntoAndValidate(newContext(`{"limit_price":0}`), req))
	assert.Equal(t, "MSFT", req.Symbol)
	assert.Equal(t, 7, req.Qty)
	assert.Zero(t, req.Limit)
}
