package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"TradePulse/internal/domain/models"
	domrepo "TradePulse/internal/domain/repository"
	"TradePulse/internal/eventbus"
	"TradePulse/internal/service/ratelimit"
	"TradePulse/internal/usecase"
	xhttp "TradePulse/pkg/http"
	xlogger "TradePulse/pkg/logger"
	"TradePulse/pkg/store"
	"TradePulse/pkg/util"
)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Deps are the collaborators served by the ops API.
type Deps struct {
	Store   store.Store
	Bus     *eventbus.Bus
	Emitter domrepo.Emitter
	Gate    *usecase.RiskGate
	Session *usecase.Session
	Tracker *usecase.DeviationTracker
	Intake  *usecase.PredictionIntake
	Checks  map[string]HealthCheck
	// Limiter throttles write routes per client; nil disables throttling.
	Limiter *ratelimit.Limiter
}

// OpsHandler is the operator surface: health, risk controls, session control and the logs.
type OpsHandler struct {
	logger *xlogger.Logger
	deps   Deps
}

func NewOpsHandler(logger *xlogger.Logger, deps Deps) *OpsHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	if deps.Emitter == nil && deps.Bus != nil {
		deps.Emitter = deps.Bus
	}
	return &OpsHandler{logger: logger, deps: deps}
}

func (h *OpsHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)
	e.GET("/ws/events", h.Events)

	g := e.Group("/api")
	g.GET("/bus/metrics", h.BusMetrics)
	g.GET("/market/fetch-log", h.FetchLog)
	g.GET("/market/ticks/:symbol", h.LatestTick)
	g.GET("/trades", h.Trades)
	g.GET("/risk/status", h.RiskStatus)
	g.GET("/risk/settings", h.RiskSettings)
	g.GET("/session", h.SessionInfo)
	g.GET("/deviations", h.Deviations)
	g.GET("/predictions/quality", h.PredictionQuality)
	g.GET("/retrain", h.RetrainStatus)

	g.PUT("/risk/settings", h.UpdateRiskSettings, h.throttle)
	g.POST("/risk/emergency-stop", h.EmergencyStop, h.throttle)
	g.POST("/session/activate", h.ActivateSession, h.throttle)
	g.POST("/session/deactivate", h.DeactivateSession, h.throttle)
	g.POST("/retrain/complete", h.RetrainComplete, h.throttle)
	g.POST("/predictions", h.SubmitPrediction, h.throttle)
}

func (h *OpsHandler) throttle(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if h.deps.Limiter != nil && !h.deps.Limiter.Allow(c.RealIP()) {
			h.logger.Warn("ops api: rate limited",
				xlogger.String("remote", c.RealIP()),
				xlogger.String("path", c.Path()),
			)
			return xhttp.DataResponse(c, http.StatusTooManyRequests, "rate limited")
		}
		return next(c)
	}
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func (h *OpsHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	res := healthResponse{Status: "ok", Checks: make(map[string]string, len(h.deps.Checks))}
	for name, check := range h.deps.Checks {
		if err := check(ctx); err != nil {
			res.Status = "degraded"
			res.Checks[name] = err.Error()
			continue
		}
		res.Checks[name] = "ok"
	}
	if res.Status != "ok" {
		return xhttp.DataResponse(c, http.StatusServiceUnavailable, res)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *OpsHandler) BusMetrics(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.deps.Bus.Metrics())
}

func (h *OpsHandler) FetchLog(c echo.Context) error {
	req := &limitRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rows, err := usecase.FetchLog(c.Request().Context(), h.deps.Store, req.N)
	if err != nil {
		return h.fail(c, "fetch log", err)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *OpsHandler) LatestTick(c echo.Context) error {
	req := &symbolRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	symbol := util.NormalizeSymbol(req.Symbol)
	tick, err := usecase.LatestTick(c.Request().Context(), h.deps.Store, symbol)
	if err != nil {
		return h.fail(c, "latest tick", err)
	}
	if tick == nil {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no tick for %s", symbol).WithParam("symbol", symbol))
	}
	return xhttp.SuccessResponse(c, tick)
}

func (h *OpsHandler) Trades(c echo.Context) error {
	req := &limitRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rows, err := usecase.TradeLog(c.Request().Context(), h.deps.Store, req.N)
	if err != nil {
		return h.fail(c, "trade log", err)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *OpsHandler) RiskStatus(c echo.Context) error {
	status, err := h.deps.Gate.Status(c.Request().Context())
	if err != nil {
		return h.fail(c, "risk status", err)
	}
	return xhttp.SuccessResponse(c, status)
}

func (h *OpsHandler) RiskSettings(c echo.Context) error {
	s, err := h.deps.Gate.Settings(c.Request().Context())
	if err != nil {
		return h.fail(c, "risk settings", err)
	}
	return xhttp.SuccessResponse(c, s)
}

// UpdateRiskSettings applies a partial update over the stored settings.
func (h *OpsHandler) UpdateRiskSettings(c echo.Context) error {
	ctx := c.Request().Context()
	s, err := h.deps.Gate.Settings(ctx)
	if err != nil {
		return h.fail(c, "risk settings", err)
	}
	if verr := xhttp.BindOntoAndValidate(c, &s); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.deps.Gate.UpdateSettings(ctx, s); err != nil {
		return h.fail(c, "update risk settings", err)
	}
	h.announce(ctx, s)
	return xhttp.SuccessResponse(c, s)
}

// EmergencyStop engages the stop; {"active": false} releases it.
func (h *OpsHandler) EmergencyStop(c echo.Context) error {
	req := &emergencyStopRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	ctx := c.Request().Context()
	s, err := h.deps.Gate.SetEmergencyStop(ctx, active)
	if err != nil {
		return h.fail(c, "emergency stop", err)
	}
	h.logger.Warn("ops api: emergency stop changed", xlogger.Bool("active", active), xlogger.String("remote", c.RealIP()))
	h.announce(ctx, s)
	return xhttp.SuccessResponse(c, s)
}

// announce publishes the new settings as user.config_changed for listeners.
func (h *OpsHandler) announce(ctx context.Context, s models.RiskSettings) {
	if h.deps.Emitter == nil {
		return
	}
	ev, err := models.NewEvent(models.EventUserConfigChanged, "ops_api", s, models.WithPriority(models.PriorityEscalate))
	if err == nil {
		err = h.deps.Emitter.Emit(ctx, ev)
	}
	if err != nil {
		h.logger.Warn("ops api: config change not announced", xlogger.Error(err))
	}
}

func (h *OpsHandler) SessionInfo(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.deps.Session.Info())
}

func (h *OpsHandler) ActivateSession(c echo.Context) error {
	info, err := h.deps.Session.Activate()
	if err != nil {
		return h.fail(c, "activate session", err)
	}
	h.logger.Info("ops api: session activated", xlogger.String("session_id", info.ID))
	return xhttp.SuccessResponse(c, info)
}

func (h *OpsHandler) DeactivateSession(c echo.Context) error {
	info := h.deps.Session.Deactivate()
	h.logger.Info("ops api: session deactivated",
		xlogger.String("session_id", info.ID),
		xlogger.Int("trades_in_run", info.TradesInRun),
	)
	return xhttp.SuccessResponse(c, info)
}

func (h *OpsHandler) Deviations(c echo.Context) error {
	req := &limitRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rows, err := h.deps.Tracker.History(c.Request().Context(), req.N)
	if err != nil {
		return h.fail(c, "deviation history", err)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

// PredictionQuality recomputes forecast error per horizon over the trailing window.
func (h *OpsHandler) PredictionQuality(c echo.Context) error {
	req := &qualityRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	q, err := h.deps.Tracker.QualityMetrics(c.Request().Context(), time.Duration(req.WindowHours)*time.Hour)
	if err != nil {
		return h.fail(c, "prediction quality", err)
	}
	return xhttp.SuccessResponse(c, q)
}

func (h *OpsHandler) RetrainStatus(c echo.Context) error {
	status, err := h.deps.Tracker.Status(c.Request().Context())
	if err != nil {
		return h.fail(c, "retrain status", err)
	}
	return xhttp.SuccessResponse(c, status)
}

func (h *OpsHandler) RetrainComplete(c echo.Context) error {
	status, err := h.deps.Tracker.MarkRetrained(c.Request().Context())
	if err != nil {
		return h.fail(c, "mark retrained", err)
	}
	return xhttp.SuccessResponse(c, status)
}

type submitted struct {
	EventID string `json:"event_id"`
}

func (h *OpsHandler) SubmitPrediction(c echo.Context) error {
	req := &predictionRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ev, err := h.deps.Intake.Submit(c.Request().Context(), req.message())
	if err != nil {
		return h.fail(c, "submit prediction", err)
	}
	return xhttp.AcceptedResponse(c, submitted{EventID: ev.ID})
}

// fail maps domain errors onto API errors.
func (h *OpsHandler) fail(c echo.Context, op string, err error) error {
	switch {
	case errors.Is(err, models.ErrInvalidTransition):
		return xhttp.AppErrorResponse(c, xhttp.ConflictError(err.Error()).WithError(err))
	case errors.Is(err, models.ErrMalformedEvent), errors.Is(err, models.ErrUnknownEventType):
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("", err.Error()).WithError(err))
	case errors.Is(err, models.ErrBusClosed):
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("event bus is shutting down").WithError(err))
	}
	h.logger.Error("ops api: "+op+" failed", xlogger.Error(err))
	return xhttp.AppErrorResponse(c, xhttp.InternalError(op+" failed").WithError(err))
}
