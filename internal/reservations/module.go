// Package reservations provides the vehicle reservation bounded context module.
package reservations

import (
	"fmt"

	apphttp "dealership_crm_backend/internal/http"
	"dealership_crm_backend/internal/reservations/handler"
	"dealership_crm_backend/internal/reservations/ports"
	"dealership_crm_backend/internal/reservations/service"
	"dealership_crm_backend/platform/logger"
	"dealership_crm_backend/platform/validator"
)

// Module is the reservations bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
}

// NewModule wires reservations to the event log and the pipeline.
func NewModule(eventLog ports.EventLog, pipeline ports.Pipeline, val *validator.Validator, log *logger.Logger) (*Module, error) {
	if err := handler.RegisterValidations(val); err != nil {
		return nil, fmt.Errorf("register reservation validations: %w", err)
	}
	svc := service.New(eventLog, pipeline, log.WithComponent("reservations"))
	return &Module{handler: handler.New(svc, val), service: svc}, nil
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "reservations"
}

// Service returns the reservation service for external use.
func (m *Module) Service() *service.Service {
	return m.service
}

// RegisterRoutes mounts reservation routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected.Group("/reservations"))
}

var _ apphttp.Module = (*Module)(nil)
