package handler

import (
	"net/http"
	"strings"
	"time"

	"dealership_crm_backend/internal/kpi/aggregator"
	"dealership_crm_backend/internal/kpi/service"
	"dealership_crm_backend/internal/kpi/transport"
	"dealership_crm_backend/platform/httpkit"
	"dealership_crm_backend/platform/validator"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc *service.Service
	val *validator.Validator
	now func() time.Time
}

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
)

func New(svc *service.Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val, now: time.Now}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("", h.Current)
	rg.GET("/history", h.History)
	rg.POST("/recompute", httpkit.RequireRole(httpkit.RoleAdmin), h.Recompute)
	rg.GET("/archive", httpkit.RequireRole(httpkit.RoleAdmin), h.Archive)
}

// Current serves the published set. The period defaults to the current month.
func (h *Handler) Current(c *gin.Context) {
	period, ok := h.period(c, c.Query("period"))
	if !ok {
		return
	}
	set, err := h.svc.Current(c.Request.Context(), period)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, set)
}

func (h *Handler) History(c *gin.Context) {
	period, ok := h.period(c, c.Query("period"))
	if !ok {
		return
	}
	history, err := h.svc.History(c.Request.Context(), period)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, history)
}

func (h *Handler) Recompute(c *gin.Context) {
	var req transport.RecomputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, validator.FieldErrors(err))
		return
	}
	period, ok := h.period(c, req.Period)
	if !ok {
		return
	}
	resp, err := h.svc.RequestRecompute(c.Request.Context(), period)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.JSON(c, http.StatusAccepted, resp)
}

// Archive verifies one archived version and returns a download link for it.
func (h *Handler) Archive(c *gin.Context) {
	var q transport.ArchiveQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(q); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, validator.FieldErrors(err))
		return
	}
	period, ok := h.period(c, q.Period)
	if !ok {
		return
	}
	resp, err := h.svc.Archived(c.Request.Context(), period, q.Version)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, resp)
}

func (h *Handler) period(c *gin.Context, raw string) (aggregator.Period, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return aggregator.PeriodOf(h.now()), true
	}
	period, err := aggregator.ParsePeriod(raw)
	if httpkit.HandleError(c, err) {
		return aggregator.Period{}, false
	}
	return period, true
}
