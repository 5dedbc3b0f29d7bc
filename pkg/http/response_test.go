package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppErrorResponse(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantData   string
	}{
		{
			name:       "app error keeps status and params",
			err:        fmt.Errorf("lookup: %w", NotFoundErrorf("no tick for %s", "AAPL").WithParam("symbol", "AAPL")),
			wantStatus: http.StatusNotFound,
			wantData:   `[{"code":"ERR_NOT_FOUND","message":"no tick for AAPL","params":{"symbol":"AAPL"}}]`,
		},
		{
			name:       "plain error hides detail",
			err:        errors.New("redis: connection refused"),
			wantStatus: http.StatusInternalServerError,
			wantData:   `"Something went wrong"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

			require.NoError(t, AppErrorResponse(c, tt.err))
			assert.Equal(t, tt.wantStatus, rec.Code)

			var body struct {
				Status int             `json:"status"`
				Data   json.RawMessage `json:"data"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantStatus, body.Status)
			assert.JSONEq(t, tt.wantData, string(body.Data))
		})
	}
}
