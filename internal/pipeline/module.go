// Package pipeline provides the opportunity pipeline bounded context module.
// This file defines the module that wires the stage machine, its automation and routes.
package pipeline

import (
	"fmt"

	"dealership_crm_backend/internal/events"
	apphttp "dealership_crm_backend/internal/http"
	"dealership_crm_backend/internal/pipeline/handler"
	"dealership_crm_backend/internal/pipeline/ports"
	"dealership_crm_backend/internal/pipeline/repository"
	"dealership_crm_backend/internal/pipeline/service"
	"dealership_crm_backend/platform/config"
	"dealership_crm_backend/platform/logger"
	"dealership_crm_backend/platform/validator"
)

// Config is what the pipeline module reads from the application config.
type Config interface {
	config.PipelineConfig
	GetPhoneDefaultRegion() string
}

// Module is the pipeline bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
	repo    repository.OpportunitiesRepository
}

// NewModule wires the service and, when eventBus is set, the projector and
// auto-progression subscribers.
func NewModule(eventLog ports.EventLog, repo repository.OpportunitiesRepository, eventBus events.Bus, val *validator.Validator, cfg Config, log *logger.Logger) (*Module, error) {
	if err := handler.RegisterValidations(val); err != nil {
		return nil, fmt.Errorf("register pipeline validations: %w", err)
	}

	svc := service.New(eventLog, repo, service.Settings{
		AutoLossInactivity: cfg.GetAutoLossInactivity(),
		SweepParallelism:   cfg.GetSweepParallelism(),
		PhoneRegion:        cfg.GetPhoneDefaultRegion(),
	}, log.WithComponent("pipeline"))

	if eventBus != nil {
		svc.RegisterSubscribers(eventBus)
	}

	return &Module{
		handler: handler.New(svc, val),
		service: svc,
		repo:    repo,
	}, nil
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "pipeline"
}

// Service returns the pipeline service for external use.
func (m *Module) Service() *service.Service {
	return m.service
}

// Repository returns the opportunity read model.
func (m *Module) Repository() repository.OpportunitiesRepository {
	return m.repo
}

// RegisterRoutes mounts pipeline routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	pipelineGroup := ctx.Protected.Group("/pipeline")
	m.handler.RegisterRoutes(pipelineGroup)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
