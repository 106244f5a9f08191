package handler

import (
	"dealership_crm_backend/internal/pipeline/domain"
	"dealership_crm_backend/platform/validator"
)

// RegisterValidations adds the pipeline_stage tag used by TransitionRequest.
func RegisterValidations(val *validator.Validator) error {
	return val.RegisterEnum("pipeline_stage", domain.StageNames()...)
}
