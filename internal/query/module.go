// Package query provides the read-only view facade over every bounded context.
package query

import (
	apphttp "dealership_crm_backend/internal/http"
	"dealership_crm_backend/internal/query/handler"
	"dealership_crm_backend/internal/query/service"
	"dealership_crm_backend/platform/logger"
)

// Module is the query facade module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
}

func NewModule(deps service.Deps, log *logger.Logger) *Module {
	svc := service.New(deps, log.WithComponent("query"))
	return &Module{handler: handler.New(svc), service: svc}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "query"
}

// Service returns the view service.
func (m *Module) Service() *service.Service {
	return m.service
}

// RegisterRoutes mounts the views under /views.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected.Group("/views"))
}

var _ apphttp.Module = (*Module)(nil)
