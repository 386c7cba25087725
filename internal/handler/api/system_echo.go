package api

import (
	"PulseBoard/internal/domain/models"
	"PulseBoard/internal/usecase"
	xhttp "PulseBoard/pkg/http"
	applogger "PulseBoard/pkg/logger"

	"github.com/labstack/echo/v4"
)

type SystemHandler struct {
	log    *applogger.Logger
	system *usecase.SystemService
	mw     []echo.MiddlewareFunc
}

func NewSystemHandler(l *applogger.Logger, system *usecase.SystemService, mw ...echo.MiddlewareFunc) *SystemHandler {
	if l == nil {
		l = applogger.Nop()
	}
	return &SystemHandler{log: l.Named("system_api"), system: system, mw: mw}
}

func (h *SystemHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/system", h.mw...)
	g.GET("/history", h.History)
}

// History returns telemetry samples from the last `minutes` minutes, oldest first.
func (h *SystemHandler) History(c echo.Context) error {
	req := &models.SystemHistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	recs, err := h.system.History(c.Request().Context(), req.Minutes)
	if err != nil {
		h.log.Error("system history", applogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, recs)
}
