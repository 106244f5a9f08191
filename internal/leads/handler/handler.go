package handler

import (
	"context"
	"net/http"

	"dealership_crm_backend/internal/leads/service"
	"dealership_crm_backend/internal/leads/transport"
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
	msgInvalidRequest   = "invalid request"
	msgInvalidLeadID    = "invalid lead id"
	msgValidationFailed = "validation failed"
)

func New(svc *service.Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("", h.Create)
	rg.GET("/:id", h.GetByID)
	rg.PATCH("/:id", h.Update)
	rg.PATCH("/:id/status", h.ChangeStatus)
	rg.POST("/:id/contacts", h.LogContact)
	rg.POST("/:id/notes", h.AddNote)
	rg.POST("/:id/follow-ups", h.ScheduleFollowUp)
	rg.POST("/:id/archive", h.Archive)
}

func (h *Handler) Create(c *gin.Context) {
	var req transport.CreateLeadRequest
	if !h.bind(c, &req) {
		return
	}
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	req.IPAddress = c.ClientIP()

	lead, err := h.svc.Intake(c.Request.Context(), identity.ActorID(), req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.JSON(c, http.StatusCreated, lead)
}

func (h *Handler) GetByID(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	lead, err := h.svc.Get(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, lead)
}

func (h *Handler) Update(c *gin.Context) {
	var req transport.UpdateLeadRequest
	handleCommand(h, c, &req, func(ctx context.Context, id, actorID uuid.UUID) (transport.LeadResponse, error) {
		return h.svc.Update(ctx, id, actorID, req)
	})
}

func (h *Handler) ChangeStatus(c *gin.Context) {
	var req transport.ChangeStatusRequest
	handleCommand(h, c, &req, func(ctx context.Context, id, actorID uuid.UUID) (transport.LeadResponse, error) {
		return h.svc.ChangeStatus(ctx, id, actorID, req)
	})
}

func (h *Handler) LogContact(c *gin.Context) {
	var req transport.LogContactRequest
	handleCommand(h, c, &req, func(ctx context.Context, id, actorID uuid.UUID) (transport.LeadResponse, error) {
		return h.svc.LogContact(ctx, id, actorID, req)
	})
}

func (h *Handler) AddNote(c *gin.Context) {
	var req transport.AddNoteRequest
	handleCommand(h, c, &req, func(ctx context.Context, id, actorID uuid.UUID) (transport.LeadResponse, error) {
		return h.svc.AddNote(ctx, id, actorID, req)
	})
}

func (h *Handler) ScheduleFollowUp(c *gin.Context) {
	var req transport.ScheduleFollowUpRequest
	handleCommand(h, c, &req, func(ctx context.Context, id, actorID uuid.UUID) (transport.LeadResponse, error) {
		return h.svc.ScheduleFollowUp(ctx, id, actorID, req)
	})
}

// Archive accepts an empty body.
func (h *Handler) Archive(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req transport.ArchiveLeadRequest
	if c.Request.ContentLength > 0 && !h.bind(c, &req) {
		return
	}
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	lead, err := h.svc.Archive(c.Request.Context(), id, identity.ActorID(), req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, lead)
}

// handleCommand parses the lead id, binds and validates req, then runs fn as the caller.
func handleCommand[T any](h *Handler, c *gin.Context, req *T, fn func(ctx context.Context, id, actorID uuid.UUID) (transport.LeadResponse, error)) {
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
	lead, err := fn(c.Request.Context(), id, identity.ActorID())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, lead)
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
		httpkit.Error(c, http.StatusBadRequest, msgInvalidLeadID, nil)
		return uuid.Nil, false
	}
	return id, true
}
