// Package kpi provides the KPI aggregation bounded context module.
package kpi

import (
	"dealership_crm_backend/internal/events"
	apphttp "dealership_crm_backend/internal/http"
	"dealership_crm_backend/internal/kpi/aggregator"
	"dealership_crm_backend/internal/kpi/handler"
	"dealership_crm_backend/internal/kpi/ports"
	"dealership_crm_backend/internal/kpi/repository"
	"dealership_crm_backend/internal/kpi/service"
	"dealership_crm_backend/platform/config"
	"dealership_crm_backend/platform/logger"
	"dealership_crm_backend/platform/validator"
)

// Module is the KPI bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
}

// Options carries the optional collaborators. A nil Archive skips archiving;
// a nil Scheduler makes recompute requests unavailable.
type Options struct {
	Archive   ports.Archive
	Scheduler ports.RecomputeScheduler
}

// NewModule loads the metric catalogue and wires publication subscribers.
func NewModule(eventLog ports.EventLog, repo repository.SnapshotRepository, eventBus events.Bus, val *validator.Validator, cfg config.KPIConfig, opts Options, log *logger.Logger) (*Module, error) {
	catalogue, err := aggregator.LoadConfig(cfg.GetKPIConfigPath())
	if err != nil {
		return nil, err
	}
	agg, err := aggregator.New(catalogue)
	if err != nil {
		return nil, err
	}

	svc := service.New(eventLog, repo, agg, eventBus, cfg.GetKPIBatchSize(), log.WithComponent("kpi"))
	if opts.Archive != nil {
		svc.SetArchive(opts.Archive)
	}
	if opts.Scheduler != nil {
		svc.SetScheduler(opts.Scheduler)
	}
	if eventBus != nil {
		svc.RegisterSubscribers(eventBus)
	}

	log.Info("kpi catalogue loaded", "configVersion", catalogue.Version, "metrics", len(catalogue.Metrics))
	return &Module{handler: handler.New(svc, val), service: svc}, nil
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "kpi"
}

// Service returns the KPI service for the scheduler and the query facade.
func (m *Module) Service() *service.Service {
	return m.service
}

// RegisterRoutes mounts KPI routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected.Group("/kpis"))
}

var _ apphttp.Module = (*Module)(nil)
