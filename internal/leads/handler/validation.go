package handler

import (
	"dealership_crm_backend/internal/leads/domain"
	"dealership_crm_backend/platform/validator"
)

// RegisterValidations adds the lead enum tags used by the request DTOs.
func RegisterValidations(val *validator.Validator) error {
	if err := val.RegisterEnum("lead_status", domain.Statuses()...); err != nil {
		return err
	}
	return val.RegisterEnum("lead_priority", domain.Priorities()...)
}
