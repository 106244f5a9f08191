package service

import "dealership_crm_backend/platform/apperr"

func rule(name string) map[string]string { return map[string]string{"rule": name} }

var (
	ErrLeadNotFound    = apperr.NotFound("lead not found").WithCode("lead_not_found")
	ErrLeadArchived    = apperr.RuleViolation("lead is archived").WithCode("lead_archived").WithDetails(rule("lead_not_archived"))
	ErrNothingToUpdate = apperr.Validation("no fields to update").WithCode("nothing_to_update").WithDetails(rule("non_empty_update"))
	ErrStatusUnchanged = apperr.RuleViolation("lead already has this status").WithCode("status_unchanged").WithDetails(rule("status_differs"))
	ErrEmptyNote       = apperr.Validation("note is empty after sanitizing").WithCode("invalid_note").WithDetails(rule("note_not_empty"))
)
