package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	xhttp "TradePulse/pkg/http"
	xlogger "TradePulse/pkg/logger"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 50 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Events streams bus events to a websocket client. ?types= narrows the event types.
func (h *OpsHandler) Events(c echo.Context) error {
	req := &eventsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	types, err := req.eventTypes()
	if err != nil {
		return h.fail(c, "events", err)
	}

	ctx := c.Request().Context()
	events, closeSub, err := h.deps.Bus.Listen(ctx, types...)
	if err != nil {
		return h.fail(c, "subscribe", err)
	}
	defer func() { _ = closeSub() }()

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn("ops api: websocket upgrade failed", xlogger.Error(err))
		return nil
	}
	defer conn.Close()

	// The read side only services control frames; it ends when the client goes away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			return nil
		case <-ctx.Done():
			return nil
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return nil
			}
		case e, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "bus closed"), time.Now().Add(wsWriteWait))
				return nil
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(e); err != nil {
				h.logger.Debug("ops api: websocket write failed", xlogger.Error(err))
				return nil
			}
		}
	}
}
