package service

import "dealership_crm_backend/platform/apperr"

func rule(name string) map[string]string { return map[string]string{"rule": name} }

var (
	ErrOpportunityNotFound = apperr.NotFound("opportunity not found").WithCode("opportunity_not_found")
	ErrOpportunityClosed   = apperr.RuleViolation("opportunity is closed").WithCode("opportunity_closed").WithDetails(rule("current_not_terminal"))
	ErrNothingToUpdate     = apperr.Validation("no fields to update").WithCode("nothing_to_update").WithDetails(rule("non_empty_update"))
	ErrInvalidActivity     = apperr.Validation("unsupported activity kind").WithCode("invalid_activity").WithDetails(rule("known_activity"))
	ErrInvalidOpeningStage = apperr.Validation("opportunities open at lead or qualified").WithCode("invalid_opening_stage").WithDetails(rule("opening_stage"))
	ErrActivityBeforeOpen  = apperr.RuleViolation("activity cannot precede the opportunity").WithCode("activity_before_open").WithDetails(rule("activity_after_open"))
)
