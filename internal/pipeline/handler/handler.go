package handler

import (
	"context"
	"net/http"

	"dealership_crm_backend/internal/pipeline/service"
	"dealership_crm_backend/internal/pipeline/transport"
	"dealership_crm_backend/platform/httpkit"
	"dealership_crm_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type Handler struct {
	svc *service.Service
	val *validator.Validator
}

const (
	msgInvalidRequest    = "invalid request"
	msgInvalidPipelineID = "invalid pipeline id"
	msgValidationFailed  = "validation failed"
)

func New(svc *service.Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("", h.Open)
	rg.GET("/:id", h.GetByID)
	rg.PATCH("/:id", h.Update)
	rg.PATCH("/:id/stage", h.Transition)
	rg.POST("/:id/activities", h.RecordActivity)
	rg.PATCH("/:id/automation", h.ToggleAutomation)
	rg.POST("/:id/next-action", h.SetNextAction)
}

func (h *Handler) Open(c *gin.Context) {
	var req transport.OpenOpportunityRequest
	if !h.bind(c, &req) {
		return
	}
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	opp, err := h.svc.Open(c.Request.Context(), identity.ActorID(), req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.JSON(c, http.StatusCreated, opp)
}

func (h *Handler) GetByID(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	opp, err := h.svc.Get(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, opp)
}

func (h *Handler) Update(c *gin.Context) {
	var req transport.UpdateOpportunityRequest
	handleCommand(h, c, &req, func(ctx context.Context, id, actorID uuid.UUID) (transport.OpportunityResponse, error) {
		return h.svc.Update(ctx, id, actorID, req)
	})
}

// Transition answers 422 for illegal moves and 409 for a stale expectedVersion.
func (h *Handler) Transition(c *gin.Context) {
	var req transport.TransitionRequest
	handleCommand(h, c, &req, func(ctx context.Context, id, actorID uuid.UUID) (transport.OpportunityResponse, error) {
		return h.svc.Transition(ctx, id, actorID, req)
	})
}

func (h *Handler) RecordActivity(c *gin.Context) {
	var req transport.RecordActivityRequest
	handleCommand(h, c, &req, func(ctx context.Context, id, actorID uuid.UUID) (transport.OpportunityResponse, error) {
		return h.svc.RecordActivity(ctx, id, actorID, req)
	})
}

func (h *Handler) ToggleAutomation(c *gin.Context) {
	var req transport.ToggleAutomationRequest
	handleCommand(h, c, &req, func(ctx context.Context, id, actorID uuid.UUID) (transport.OpportunityResponse, error) {
		return h.svc.ToggleAutomation(ctx, id, actorID, req)
	})
}

func (h *Handler) SetNextAction(c *gin.Context) {
	var req transport.SetNextActionRequest
	handleCommand(h, c, &req, func(ctx context.Context, id, actorID uuid.UUID) (transport.OpportunityResponse, error) {
		return h.svc.SetNextAction(ctx, id, actorID, req)
	})
}

func handleCommand[T any](h *Handler, c *gin.Context, req *T, fn func(ctx context.Context, id, actorID uuid.UUID) (transport.OpportunityResponse, error)) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if !h.bind(c, req) {
		return
	}
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	opp, err := fn(c.Request.Context(), id, identity.ActorID())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, opp)
}

func (h *Handler) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return false
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, validator.FieldErrors(err))
		return false
	}
	return true
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidPipelineID, nil)
		return uuid.Nil, false
	}
	return id, true
}
