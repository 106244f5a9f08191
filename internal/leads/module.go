// Package leads provides the lead management bounded context module.
// This file defines the module that encapsulates all leads setup and route registration.
package leads

import (
	"fmt"

	"dealership_crm_backend/internal/events"
	apphttp "dealership_crm_backend/internal/http"
	"dealership_crm_backend/internal/leads/handler"
	"dealership_crm_backend/internal/leads/ports"
	"dealership_crm_backend/internal/leads/repository"
	"dealership_crm_backend/internal/leads/scoring"
	"dealership_crm_backend/internal/leads/service"
	"dealership_crm_backend/platform/config"
	"dealership_crm_backend/platform/logger"
	"dealership_crm_backend/platform/validator"
)

// Module is the leads bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
	repo    repository.LeadsRepository
}

// NewModule wires the scorer, the read model and the engagement subscription.
// repo is the Postgres read model in the API and may be a memory one in tools and tests.
func NewModule(eventLog ports.EventLog, repo repository.LeadsRepository, eventBus events.Bus, val *validator.Validator, cfg config.ScoringConfig, log *logger.Logger) (*Module, error) {
	model, err := scoring.LoadConfig(cfg.GetScoringConfigPath())
	if err != nil {
		return nil, err
	}
	scorer, err := scoring.NewScorer(model)
	if err != nil {
		return nil, err
	}
	if err := handler.RegisterValidations(val); err != nil {
		return nil, fmt.Errorf("register lead validations: %w", err)
	}

	svc := service.New(eventLog, repo, scorer, cfg.GetPhoneDefaultRegion(), log.WithComponent("leads"))

	// Opportunity engagement changes the score of the linked lead
	if eventBus != nil {
		events.SubscribeKinds(eventBus, events.HandlerFunc(svc.HandleEngagement), service.EngagementKinds...)
	}

	log.Info("lead scorer loaded", "modelVersion", model.ModelVersion)
	return &Module{
		handler: handler.New(svc, val),
		service: svc,
		repo:    repo,
	}, nil
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "leads"
}

// Service returns the lead service for external use.
func (m *Module) Service() *service.Service {
	return m.service
}

// Repository returns the lead read model.
func (m *Module) Repository() repository.LeadsRepository {
	return m.repo
}

// SetOpportunityLookup links leads to their opportunities (breaks circular dependency).
func (m *Module) SetOpportunityLookup(lookup ports.OpportunityLookup) {
	m.service.SetOpportunityLookup(lookup)
}

// RegisterRoutes mounts leads routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	// All leads routes require authentication
	leadsGroup := ctx.Protected.Group("/leads")
	m.handler.RegisterRoutes(leadsGroup)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
