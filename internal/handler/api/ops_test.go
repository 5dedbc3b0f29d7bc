package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TradePulse/internal/domain/models"
	"TradePulse/internal/eventbus"
	"TradePulse/internal/service/ratelimit"
	"TradePulse/internal/usecase"
	xhttp "TradePulse/pkg/http"
	"TradePulse/pkg/store"
)

type okVenue struct{}

func (okVenue) SubmitOrder(_ context.Context, req models.OrderRequest) (*models.Fill, error) {
	return &models.Fill{OrderID: "ord-1", Status: "accepted", FilledQty: float64(req.Qty)}, nil
}

type alwaysOpen struct{}

func (alwaysOpen) Open(time.Time) bool { return true }

type opsFixture struct {
	e     *echo.Echo
	store *store.MemoryStore
	bus   *eventbus.Bus
}

func newOpsFixture(t *testing.T, mutate ...func(*Deps)) *opsFixture {
	t.Helper()
	st := store.NewMemoryStore()
	bus := eventbus.New(st, eventbus.Config{})
	session := usecase.NewSession()
	gate := usecase.NewRiskGate(usecase.RiskConfig{Defaults: models.DefaultRiskSettings()},
		st, okVenue{}, session, alwaysOpen{}, nil, nil, nil)
	require.NoError(t, gate.Load(context.Background()))

	deps := Deps{
		Store:   st,
		Bus:     bus,
		Gate:    gate,
		Session: session,
		Tracker: usecase.NewDeviationTracker(usecase.DeviationConfig{}, st, bus, nil, nil, nil),
		Intake:  usecase.NewPredictionIntake("tradepulse.predictions", bus, nil),
		Checks:  map[string]HealthCheck{"store": st.Ping},
	}
	for _, m := range mutate {
		m(&deps)
	}

	e := echo.New()
	NewOpsHandler(nil, deps).RegisterRoutes(e)
	return &opsFixture{e: e, store: st, bus: bus}
}

type envelope struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func (f *opsFixture) do(t *testing.T, method, path, body string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	assert.Equal(t, rec.Code, env.Status)
	return rec.Code, env
}

func TestOps_Health(t *testing.T) {
	f := newOpsFixture(t)
	code, _ := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, code)

	down := newOpsFixture(t, func(d *Deps) {
		d.Checks["journal"] = func(context.Context) error { return errors.New("connection refused") }
	})
	code, env := down.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	var res healthResponse
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, "degraded", res.Status)
	assert.Equal(t, "ok", res.Checks["store"])
	assert.Equal(t, "connection refused", res.Checks["journal"])
}

func TestOps_SessionLifecycle(t *testing.T) {
	f := newOpsFixture(t)

	code, env := f.do(t, http.MethodPost, "/api/session/activate", "")
	require.Equal(t, http.StatusOK, code)
	var info models.SessionInfo
	require.NoError(t, json.Unmarshal(env.Data, &info))
	assert.True(t, info.Active)

	code, _ = f.do(t, http.MethodPost, "/api/session/activate", "")
	assert.Equal(t, http.StatusConflict, code)

	code, env = f.do(t, http.MethodPost, "/api/session/deactivate", "")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &info))
	assert.False(t, info.Active)
	assert.NotNil(t, info.StoppedAt)
}

func TestOps_UpdateRiskSettingsIsPartial(t *testing.T) {
	f := newOpsFixture(t)

	code, env := f.do(t, http.MethodPut, "/api/risk/settings", `{"daily_notional_cap": 1000}`)
	require.Equal(t, http.StatusOK, code)
	var s models.RiskSettings
	require.NoError(t, json.Unmarshal(env.Data, &s))
	assert.Equal(t, 1000.0, s.DailyNotionalCap)
	assert.Equal(t, 5, s.MaxPositionPerTicker)

	code, env = f.do(t, http.MethodGet, "/api/risk/settings", "")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &s))
	assert.Equal(t, 1000.0, s.DailyNotionalCap)

	assert.Equal(t, 1, f.store.StreamLen(eventbus.StreamFor(models.CategoryUser)), "change is announced on the bus")

	code, _ = f.do(t, http.MethodPut, "/api/risk/settings", `{"cooldown_minutes": -1}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestOps_EmergencyStop(t *testing.T) {
	f := newOpsFixture(t)

	code, env := f.do(t, http.MethodPost, "/api/risk/emergency-stop", "")
	require.Equal(t, http.StatusOK, code)
	var s models.RiskSettings
	require.NoError(t, json.Unmarshal(env.Data, &s))
	assert.True(t, s.EmergencyStopActive, "an empty body engages the stop")

	code, env = f.do(t, http.MethodPost, "/api/risk/emergency-stop", `{"active": false}`)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &s))
	assert.False(t, s.EmergencyStopActive)
}

func TestOps_SubmitPrediction(t *testing.T) {
	f := newOpsFixture(t)

	code, env := f.do(t, http.MethodPost, "/api/predictions",
		`{"id":"p-1","symbol":"aapl","confidence":0.8,"horizons":{"15":101.5,"60":102}}`)
	require.Equal(t, http.StatusAccepted, code)
	var out submitted
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.NotEmpty(t, out.EventID)
	assert.Equal(t, 1, f.store.StreamLen(eventbus.StreamFor(models.CategoryAI)))

	code, _ = f.do(t, http.MethodPost, "/api/predictions", `{"symbol":"AAPL","horizons":{}}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodPost, "/api/predictions", `{"symbol":"AAPL","confidence":2,"horizons":{"15":1}}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestOps_Logs(t *testing.T) {
	f := newOpsFixture(t)
	ctx := context.Background()
	for _, sym := range []string{"AAPL", "MSFT", "NVDA"} {
		require.NoError(t, f.store.PushCapped(ctx, usecase.KeyFetchLog,
			models.FetchLogEntry{Ticker: sym, Source: "finnhub", Status: models.FetchOK}, 10))
	}

	code, env := f.do(t, http.MethodGet, "/api/market/fetch-log?n=2", "")
	require.Equal(t, http.StatusOK, code)
	var list struct {
		Rows  []models.FetchLogEntry `json:"rows"`
		Total int64                  `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list.Rows, 2)
	assert.Equal(t, "NVDA", list.Rows[1].Ticker)

	code, env = f.do(t, http.MethodGet, "/api/market/fetch-log", "")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.EqualValues(t, 3, list.Total)

	code, _ = f.do(t, http.MethodGet, "/api/trades?n=5000", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = f.do(t, http.MethodGet, "/api/deviations", "")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Zero(t, list.Total)
}

func TestOps_LatestTick(t *testing.T) {
	f := newOpsFixture(t)
	code, env := f.do(t, http.MethodGet, "/api/market/ticks/aapl", "")
	require.Equal(t, http.StatusNotFound, code)
	var errs []xhttp.AppError
	require.NoError(t, json.Unmarshal(env.Data, &errs))
	require.Len(t, errs, 1)
	assert.Equal(t, "AAPL", errs[0].Params["symbol"])

	require.NoError(t, f.store.Set(context.Background(), store.Key(usecase.KeyMarketData, "AAPL"),
		models.Tick{Symbol: "AAPL", Price: 190.5, Timestamp: time.Now()}, 0))
	code, env = f.do(t, http.MethodGet, "/api/market/ticks/aapl", "")
	require.Equal(t, http.StatusOK, code)
	var tick models.Tick
	require.NoError(t, json.Unmarshal(env.Data, &tick))
	assert.Equal(t, 190.5, tick.Price)
}

func TestOps_PredictionQuality(t *testing.T) {
	f := newOpsFixture(t)
	code, env := f.do(t, http.MethodGet, "/api/predictions/quality", "")
	require.Equal(t, http.StatusOK, code)
	var q models.PredictionQuality
	require.NoError(t, json.Unmarshal(env.Data, &q))
	assert.Equal(t, 24.0, q.WindowHours)
	assert.Empty(t, q.PerHorizon)

	code, env = f.do(t, http.MethodGet, "/api/predictions/quality?window_hours=6", "")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &q))
	assert.Equal(t, 6.0, q.WindowHours)

	for _, bad := range []string{"-3", "1000"} {
		code, _ = f.do(t, http.MethodGet, "/api/predictions/quality?window_hours="+bad, "")
		assert.Equal(t, http.StatusBadRequest, code, "window_hours=%s", bad)
	}
}

func TestOps_RetrainComplete(t *testing.T) {
	f := newOpsFixture(t)
	code, env := f.do(t, http.MethodPost, "/api/retrain/complete", "")
	require.Equal(t, http.StatusOK, code)
	var status models.RetrainStatus
	require.NoError(t, json.Unmarshal(env.Data, &status))
	assert.False(t, status.Pending)
	assert.NotNil(t, status.LastRetrain)
}

func TestOps_WriteRoutesAreThrottled(t *testing.T) {
	f := newOpsFixture(t, func(d *Deps) { d.Limiter = ratelimit.New(0.001, 1) })

	code, _ := f.do(t, http.MethodPost, "/api/session/deactivate", "")
	assert.Equal(t, http.StatusOK, code)
	code, _ = f.do(t, http.MethodPost, "/api/session/deactivate", "")
	assert.Equal(t, http.StatusTooManyRequests, code)

	code, _ = f.do(t, http.MethodGet, "/api/session", "")
	assert.Equal(t, http.StatusOK, code, "reads are not throttled")
}

func TestOps_EventsWebsocket(t *testing.T) {
	f := newOpsFixture(t)
	srv := httptest.NewServer(f.e)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events"

	_, resp, err := websocket.DefaultDialer.Dial(url+"?types=nope.nope", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url+"?types=trading.signal", nil)
	require.NoError(t, err)
	defer conn.Close()

	ev, err := models.NewEvent(models.EventTradingSignal, "test",
		models.Signal{Symbol: "AAPL", Action: models.ActionBuy, Strategy: usecase.StrategyMomentum, Price: 100})
	require.NoError(t, err)
	require.NoError(t, f.bus.Emit(context.Background(), ev))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got models.Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, ev.ID, got.ID)
	assert.Equal(t, models.EventTradingSignal, got.Type)
}
