package transport

import (
	"time"

	"github.com/google/uuid"
)

type CustomerDTO struct {
	Name  string `json:"name" validate:"required,min=1,max=200"`
	Phone string `json:"phone,omitempty" validate:"omitempty,min=5,max=32"`
	Email string `json:"email,omitempty" validate:"omitempty,email,max=254"`
}

type VehicleDTO struct {
	Make  string `json:"make,omitempty" validate:"max=60"`
	Model string `json:"model,omitempty" validate:"max=60"`
	Year  int    `json:"year,omitempty" validate:"omitempty,min=1900,max=2100"`
	VIN   string `json:"vin,omitempty" validate:"omitempty,len=17,alphanum"`
}

// Request DTOs
type OpenOpportunityRequest struct {
	LeadID                 *uuid.UUID  `json:"leadId,omitempty"`
	Customer               CustomerDTO `json:"customer"`
	Vehicle                VehicleDTO  `json:"vehicle"`
	QuoteAmountCents       int64       `json:"quoteAmountCents" validate:"min=0"`
	Stage                  string      `json:"stage,omitempty" validate:"omitempty,oneof=lead qualified"`
	Priority               string      `json:"priority,omitempty" validate:"omitempty,oneof=low medium high"`
	AutoProgressionEnabled *bool       `json:"autoProgressionEnabled,omitempty"`
	AutoLossRuleEnabled    *bool       `json:"autoLossRuleEnabled,omitempty"`
	FollowUpFrequency      string      `json:"followUpFrequency,omitempty" validate:"omitempty,oneof=daily every_2_days weekly biweekly monthly"`
	RepID                  *uuid.UUID  `json:"repId,omitempty"`
}

type UpdateOpportunityRequest struct {
	Customer          *CustomerDTO `json:"customer,omitempty"`
	Vehicle           *VehicleDTO  `json:"vehicle,omitempty"`
	QuoteAmountCents  *int64       `json:"quoteAmountCents,omitempty" validate:"omitempty,min=0"`
	Probability       *int         `json:"probability,omitempty" validate:"omitempty,min=0,max=100"`
	Priority          *string      `json:"priority,omitempty" validate:"omitempty,oneof=low medium high"`
	FollowUpFrequency *string      `json:"followUpFrequency,omitempty" validate:"omitempty,oneof=daily every_2_days weekly biweekly monthly"`
	RepID             *uuid.UUID   `json:"repId,omitempty"`
	ExpectedVersion   *int         `json:"expectedVersion,omitempty" validate:"omitempty,min=0"`
}

type TransitionRequest struct {
	TargetStage     string `json:"targetStage" validate:"required,pipeline_stage"`
	ExpectedVersion *int   `json:"expectedVersion" validate:"required,min=0"`
	Reason          string `json:"reason,omitempty" validate:"max=500"`
	Override        bool   `json:"override,omitempty"`
}

type RecordActivityRequest struct {
	Kind            string     `json:"kind" validate:"required,oneof=quote_sent quote_viewed test_drive_scheduled test_drive_completed"`
	AmountCents     *int64     `json:"amountCents,omitempty" validate:"omitempty,min=0"`
	ScheduledFor    *time.Time `json:"scheduledFor,omitempty"`
	Notes           string     `json:"notes,omitempty" validate:"max=2000"`
	OccurredAt      *time.Time `json:"occurredAt,omitempty"`
	ExpectedVersion *int       `json:"expectedVersion,omitempty" validate:"omitempty,min=0"`
}

type ToggleAutomationRequest struct {
	AutoProgressionEnabled *bool `json:"autoProgressionEnabled,omitempty"`
	AutoLossRuleEnabled    *bool `json:"autoLossRuleEnabled,omitempty"`
	ExpectedVersion        *int  `json:"expectedVersion,omitempty" validate:"omitempty,min=0"`
}

type SetNextActionRequest struct {
	Action          string     `json:"action" validate:"required,min=1,max=200"`
	DueAt           *time.Time `json:"dueAt,omitempty"`
	ExpectedVersion *int       `json:"expectedVersion,omitempty" validate:"omitempty,min=0"`
}

// Response DTOs
type OpportunityResponse struct {
	ID                     uuid.UUID   `json:"id"`
	LeadID                 *uuid.UUID  `json:"leadId,omitempty"`
	Customer               CustomerDTO `json:"customer"`
	Vehicle                VehicleDTO  `json:"vehicle"`
	QuoteAmountCents       int64       `json:"quoteAmountCents"`
	Probability            int         `json:"probability"`
	CurrentStage           string      `json:"currentStage"`
	Priority               string      `json:"priority"`
	AutoProgressionEnabled bool        `json:"autoProgressionEnabled"`
	AutoLossRuleEnabled    bool        `json:"autoLossRuleEnabled"`
	NextAction             string      `json:"nextAction,omitempty"`
	NextActionDue          *time.Time  `json:"nextActionDue,omitempty"`
	FollowUpFrequency      string      `json:"followUpFrequency,omitempty"`
	RepID                  uuid.UUID   `json:"repId"`
	ReservationID          *uuid.UUID  `json:"reservationId,omitempty"`
	LossReason             string      `json:"lossReason,omitempty"`
	OpenedAt               time.Time   `json:"openedAt"`
	LastActivityAt         time.Time   `json:"lastActivityAt"`
	ClosedAt               *time.Time  `json:"closedAt,omitempty"`
	Version                int         `json:"version"`
}

type SweepResponse struct {
	Checked int `json:"checked"`
	Lost    int `json:"lost"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}
