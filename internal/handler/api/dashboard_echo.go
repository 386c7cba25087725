package api

import (
	"errors"
	"net/http"
	"time"

	"PulseBoard/internal/domain/models"
	"PulseBoard/internal/middleware"
	"PulseBoard/internal/usecase"
	xhttp "PulseBoard/pkg/http"
	applogger "PulseBoard/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
)

// StreamConfig tunes the live stream transports.
type StreamConfig struct {
	Heartbeat   time.Duration // SSE keepalive comment interval
	MaxLifetime time.Duration // zero keeps streams open until the client leaves
	SendBuffer  int           // frames queued per connection before it is dropped
}

func (c StreamConfig) withDefaults() StreamConfig {
	if c.Heartbeat <= 0 {
		c.Heartbeat = 15 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 16
	}
	return c
}

type DashboardHandler struct {
	log         *applogger.Logger
	dashboard   *usecase.DashboardService
	broadcaster *usecase.Broadcaster
	coordinator *usecase.Coordinator
	stream      StreamConfig
	clock       clockwork.Clock
	upgrader    websocket.Upgrader
	mw          []echo.MiddlewareFunc
}

func NewDashboardHandler(
	l *applogger.Logger,
	dashboard *usecase.DashboardService,
	broadcaster *usecase.Broadcaster,
	coordinator *usecase.Coordinator,
	stream StreamConfig,
	mw ...echo.MiddlewareFunc,
) *DashboardHandler {
	if l == nil {
		l = applogger.Nop()
	}
	return &DashboardHandler{
		log:         l.Named("dashboard_api"),
		dashboard:   dashboard,
		broadcaster: broadcaster,
		coordinator: coordinator,
		stream:      stream.withDefaults(),
		clock:       clockwork.NewRealClock(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		mw: mw,
	}
}

func (h *DashboardHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/dashboard", h.mw...)
	g.GET("/stream", h.Stream)
	g.GET("/ws", h.WebSocket)
	g.GET("/data", h.Data)
	g.GET("/config", h.Config)
	g.POST("/config", h.UpdateConfig)
	g.GET("/connections", h.Connections)
	g.GET("/traffic", h.Traffic)
	g.GET("/emergency", h.Emergency)
	g.GET("/cache", h.CacheStatus)
}

// Stream serves the live dashboard as server-sent events.
func (h *DashboardHandler) Stream(c echo.Context) error {
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	// The server write timeout would cut the stream. Writes set their own
	// deadlines instead; transports without deadlines are left alone.
	rc := http.NewResponseController(res.Writer)
	_ = rc.SetWriteDeadline(time.Time{})
	res.WriteHeader(http.StatusOK)
	res.Flush()

	conn := newSSEConn(uuid.NewString(), middleware.UserID(c), res, res, h.stream.SendBuffer)
	conn.deadline = rc.SetWriteDeadline
	handle := h.broadcaster.Register(conn)

	beat := h.clock.NewTicker(h.stream.Heartbeat)
	defer beat.Stop()
	var expire <-chan time.Time
	if h.stream.MaxLifetime > 0 {
		expire = h.clock.After(h.stream.MaxLifetime)
	}

	for {
		select {
		case <-handle.Done():
			return nil
		case <-c.Request().Context().Done():
			h.broadcaster.Unregister(handle, usecase.CloseNormal)
			return nil
		case <-expire:
			h.broadcaster.Unregister(handle, usecase.CloseTimeout)
			return nil
		case frame := <-conn.frames():
			if err := conn.write(frame); err != nil {
				h.log.Debug("sse write failed", applogger.String("conn_id", conn.ID()), applogger.Error(err))
				h.broadcaster.Unregister(handle, usecase.CloseError)
				return nil
			}
		case <-beat.Chan():
			if err := conn.heartbeat(); err != nil {
				h.broadcaster.Unregister(handle, usecase.CloseError)
				return nil
			}
		}
	}
}

// WebSocket serves the same event stream as JSON frames {event, data}.
func (h *DashboardHandler) WebSocket(c echo.Context) error {
	user := middleware.UserID(c)
	// The upgrade response is written by hand, so headers set earlier are lost.
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), http.Header{xhttp.HeaderUserID: {user}})
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.log.Debug("websocket upgrade failed", applogger.Error(err))
		return nil
	}

	conn := newWSConn(uuid.NewString(), user, ws, h.stream.SendBuffer, h.log)
	pumped := make(chan struct{})
	go func() {
		conn.writePump()
		close(pumped)
	}()
	handle := h.broadcaster.Register(conn)

	var expire <-chan time.Time
	if h.stream.MaxLifetime > 0 {
		expire = h.clock.After(h.stream.MaxLifetime)
	}
	readErr := make(chan error, 1)
	go func() { readErr <- conn.readPump() }()

	select {
	case err := <-readErr:
		reason := usecase.CloseNormal
		if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			reason = usecase.CloseError
		}
		h.broadcaster.Unregister(handle, reason)
	case <-expire:
		h.broadcaster.Unregister(handle, usecase.CloseTimeout)
	case <-handle.Done():
	}
	<-pumped
	return nil
}

func (h *DashboardHandler) Data(c echo.Context) error {
	snap, err := h.dashboard.Snapshot(c.Request().Context(), middleware.UserID(c))
	if err != nil {
		h.log.Error("snapshot", applogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, snap)
}

func (h *DashboardHandler) Config(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.dashboard.Config(c.Request().Context(), middleware.UserID(c)))
}

// UpdateConfig saves the caller's dashboard and pushes a fresh snapshot to
// their open streams.
func (h *DashboardHandler) UpdateConfig(c echo.Context) error {
	req := &models.UpdateConfigRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	user := middleware.UserID(c)
	saved, err := h.dashboard.UpdateConfig(c.Request().Context(), user, *req)
	if err != nil {
		if !errors.Is(err, models.ErrConfigurationInvalid) {
			h.log.Error("update config", applogger.String("user_id", user), applogger.Error(err))
		}
		return xhttp.AppErrorResponse(c, err)
	}
	h.coordinator.ScheduleRebroadcast(user)
	return xhttp.SuccessResponse(c, saved)
}

func (h *DashboardHandler) Connections(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.broadcaster.Info())
}

func (h *DashboardHandler) Traffic(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.dashboard.Traffic(c.Request().Context()))
}

func (h *DashboardHandler) Emergency(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.dashboard.Emergency(c.Request().Context()))
}

func (h *DashboardHandler) CacheStatus(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.dashboard.Caches().Statuses())
}
