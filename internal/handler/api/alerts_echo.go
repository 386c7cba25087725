package api

import (
	"strconv"

	"PulseBoard/internal/domain/models"
	"PulseBoard/internal/middleware"
	"PulseBoard/internal/usecase"
	xhttp "PulseBoard/pkg/http"
	applogger "PulseBoard/pkg/logger"

	"github.com/labstack/echo/v4"
)

// AlertsHandler exposes rule management and the alert log. Every call is
// scoped to the resolved caller.
type AlertsHandler struct {
	log    *applogger.Logger
	alerts *usecase.AlertService
	mw     []echo.MiddlewareFunc
}

func NewAlertsHandler(l *applogger.Logger, alerts *usecase.AlertService, mw ...echo.MiddlewareFunc) *AlertsHandler {
	if l == nil {
		l = applogger.Nop()
	}
	return &AlertsHandler{log: l.Named("alerts_api"), alerts: alerts, mw: mw}
}

func (h *AlertsHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/alerts", h.mw...)
	g.GET("/rules", h.ListRules)
	g.POST("/rules", h.CreateRule)
	g.PUT("/rules/:id", h.UpdateRule)
	g.DELETE("/rules/:id", h.DeleteRule)
	g.PATCH("/rules/:id/toggle", h.ToggleRule)

	g.GET("/logs", h.Logs)
	g.GET("/logs/unread", h.UnreadLogs)
	g.GET("/logs/unread/count", h.UnreadCount)
	g.POST("/logs/:id/read", h.MarkRead)
	g.POST("/logs/read-all", h.MarkAllRead)
}

func (h *AlertsHandler) ListRules(c echo.Context) error {
	rules, err := h.alerts.ListRules(c.Request().Context(), middleware.UserID(c))
	if err != nil {
		return h.fail(c, "list rules", err)
	}
	return xhttp.SuccessResponse(c, rules)
}

func (h *AlertsHandler) CreateRule(c echo.Context) error {
	req := &models.AlertRuleInput{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rule, err := h.alerts.CreateRule(c.Request().Context(), middleware.UserID(c), *req)
	if err != nil {
		return h.fail(c, "create rule", err)
	}
	return xhttp.CreatedResponse(c, rule)
}

func (h *AlertsHandler) UpdateRule(c echo.Context) error {
	req := &models.UpdateRuleRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rule, err := h.alerts.UpdateRule(c.Request().Context(), middleware.UserID(c), req.ID, req.AlertRuleInput)
	if err != nil {
		return h.fail(c, "update rule", err)
	}
	return xhttp.SuccessResponse(c, rule)
}

func (h *AlertsHandler) DeleteRule(c echo.Context) error {
	req := &models.RuleIDRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.alerts.DeleteRule(c.Request().Context(), middleware.UserID(c), req.ID); err != nil {
		return h.fail(c, "delete rule", err)
	}
	return xhttp.NoContentResponse(c)
}

func (h *AlertsHandler) ToggleRule(c echo.Context) error {
	req := &models.ToggleRuleRequest{}
	if verr := xhttp.BindQueryAndValidate(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	enabled, _ := strconv.ParseBool(req.Enabled)
	rule, err := h.alerts.ToggleRule(c.Request().Context(), middleware.UserID(c), req.ID, enabled)
	if err != nil {
		return h.fail(c, "toggle rule", err)
	}
	return xhttp.SuccessResponse(c, rule)
}

func (h *AlertsHandler) Logs(c echo.Context) error {
	req := &models.AlertLogsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	logs, total, err := h.alerts.Logs(c.Request().Context(), middleware.UserID(c), req.Page, req.Size)
	if err != nil {
		return h.fail(c, "list logs", err)
	}
	return xhttp.ListResponse(c, logs, total)
}

func (h *AlertsHandler) UnreadLogs(c echo.Context) error {
	logs, err := h.alerts.UnreadLogs(c.Request().Context(), middleware.UserID(c))
	if err != nil {
		return h.fail(c, "unread logs", err)
	}
	return xhttp.SuccessResponse(c, logs)
}

func (h *AlertsHandler) UnreadCount(c echo.Context) error {
	n, err := h.alerts.UnreadCount(c.Request().Context(), middleware.UserID(c))
	if err != nil {
		return h.fail(c, "unread count", err)
	}
	return xhttp.SuccessResponse(c, map[string]int64{"count": n})
}

func (h *AlertsHandler) MarkRead(c echo.Context) error {
	req := &models.LogIDRequest{}
	if verr := xhttp.BindQueryAndValidate(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.alerts.MarkRead(c.Request().Context(), middleware.UserID(c), req.ID); err != nil {
		return h.fail(c, "mark read", err)
	}
	return xhttp.NoContentResponse(c)
}

func (h *AlertsHandler) MarkAllRead(c echo.Context) error {
	n, err := h.alerts.MarkAllRead(c.Request().Context(), middleware.UserID(c))
	if err != nil {
		return h.fail(c, "mark all read", err)
	}
	return xhttp.SuccessResponse(c, map[string]int64{"updated": n})
}

func (h *AlertsHandler) fail(c echo.Context, op string, err error) error {
	appErr := xhttp.FromError(err)
	if appErr.Status >= 500 {
		h.log.Error(op, applogger.String("user_id", middleware.UserID(c)), applogger.Error(err))
	}
	return xhttp.AppErrorResponse(c, appErr)
}
