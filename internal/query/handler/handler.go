package handler

import (
	"net/http"
	"strings"
	"time"

	"dealership_crm_backend/internal/kpi/aggregator"
	"dealership_crm_backend/internal/query/service"
	"dealership_crm_backend/platform/httpkit"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Handler serves read-only views. It registers GET routes only.
type Handler struct {
	svc *service.Service
	now func() time.Time
}

const msgInvalidID = "invalid id"

func New(svc *service.Service) *Handler {
	return &Handler{svc: svc, now: time.Now}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/leads/:id", h.Lead)
	rg.GET("/pipeline/:id", h.Pipeline)
	rg.GET("/performance", h.Performance)
	rg.GET("/reservations/:id", h.Reservation)
}

func (h *Handler) Lead(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	view, err := h.svc.LeadView(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, view)
}

func (h *Handler) Pipeline(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	view, err := h.svc.PipelineView(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, view)
}

func (h *Handler) Performance(c *gin.Context) {
	period := aggregator.PeriodOf(h.now())
	if raw := strings.TrimSpace(c.Query("period")); raw != "" {
		parsed, err := aggregator.ParsePeriod(raw)
		if httpkit.HandleError(c, err) {
			return
		}
		period = parsed
	}
	view, err := h.svc.PerformanceView(c.Request.Context(), period)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, view)
}

func (h *Handler) Reservation(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	view, err := h.svc.ReservationView(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, view)
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidID, nil)
		return uuid.Nil, false
	}
	return id, true
}
