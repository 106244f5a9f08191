package transport

import (
	"time"

	"github.com/google/uuid"
)

// Request DTOs
type CreateLeadRequest struct {
	FirstName   string     `json:"firstName" validate:"max=100"`
	LastName    string     `json:"lastName" validate:"max=100"`
	Phone       string     `json:"phone,omitempty" validate:"omitempty,min=5,max=32"`
	Email       string     `json:"email,omitempty" validate:"omitempty,max=254"`
	City        string     `json:"city,omitempty" validate:"max=100"`
	Zip         string     `json:"zip,omitempty" validate:"max=20"`
	Source      string     `json:"source,omitempty" validate:"max=50"`
	Priority    string     `json:"priority,omitempty" validate:"lead_priority"`
	Tags        []string   `json:"tags,omitempty" validate:"max=20,dive,max=40"`
	BudgetCents *int64     `json:"budgetCents,omitempty" validate:"omitempty,min=0"`
	Notes       string     `json:"notes,omitempty" validate:"max=4000"`
	RepID       *uuid.UUID `json:"repId,omitempty"`
	IPAddress   string     `json:"-"`
}

type UpdateLeadRequest struct {
	FirstName       *string      `json:"firstName,omitempty" validate:"omitempty,max=100"`
	LastName        *string      `json:"lastName,omitempty" validate:"omitempty,max=100"`
	Phone           *string      `json:"phone,omitempty" validate:"omitempty,min=5,max=32"`
	Email           *string      `json:"email,omitempty" validate:"omitempty,max=254"`
	City            *string      `json:"city,omitempty" validate:"omitempty,max=100"`
	Zip             *string      `json:"zip,omitempty" validate:"omitempty,max=20"`
	Source          *string      `json:"source,omitempty" validate:"omitempty,max=50"`
	Priority        *string      `json:"priority,omitempty" validate:"omitempty,lead_priority"`
	Tags            *[]string    `json:"tags,omitempty" validate:"omitempty,max=20,dive,max=40"`
	BudgetCents     *int64       `json:"budgetCents,omitempty" validate:"omitempty,min=0"`
	RepID           OptionalUUID `json:"repId,omitempty" validate:"-"`
	ExpectedVersion *int         `json:"expectedVersion,omitempty" validate:"omitempty,min=0"`
}

type LogContactRequest struct {
	Channel         string     `json:"channel" validate:"required,oneof=phone email sms whatsapp in_person"`
	Outcome         string     `json:"outcome,omitempty" validate:"max=50"`
	Summary         string     `json:"summary,omitempty" validate:"max=2000"`
	OccurredAt      *time.Time `json:"occurredAt,omitempty"`
	ExpectedVersion *int       `json:"expectedVersion,omitempty" validate:"omitempty,min=0"`
}

type AddNoteRequest struct {
	Body            string `json:"body" validate:"required,min=1,max=4000"`
	ExpectedVersion *int   `json:"expectedVersion,omitempty" validate:"omitempty,min=0"`
}

type ScheduleFollowUpRequest struct {
	DueAt           time.Time `json:"dueAt" validate:"required"`
	ExpectedVersion *int      `json:"expectedVersion,omitempty" validate:"omitempty,min=0"`
}

type ChangeStatusRequest struct {
	Status          string `json:"status" validate:"required,lead_status"`
	Reason          string `json:"reason,omitempty" validate:"max=500"`
	ExpectedVersion *int   `json:"expectedVersion,omitempty" validate:"omitempty,min=0"`
}

type ArchiveLeadRequest struct {
	Reason          string `json:"reason,omitempty" validate:"max=500"`
	ExpectedVersion *int   `json:"expectedVersion,omitempty" validate:"omitempty,min=0"`
}

// Response DTOs
type ContactResponse struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Phone     string `json:"phone,omitempty"`
	Email     string `json:"email,omitempty"`
	City      string `json:"city,omitempty"`
	Zip       string `json:"zip,omitempty"`
}

type ScoreResponse struct {
	LeadScore             int                `json:"leadScore"`
	FakeLeadScore         int                `json:"fakeLeadScore"`
	ConversionProbability int                `json:"conversionProbability"`
	Confidence            int                `json:"confidence"`
	HighRisk              bool               `json:"highRisk"`
	DuplicateFlags        []string           `json:"duplicateFlags"`
	DuplicateOf           []uuid.UUID        `json:"duplicateOf"`
	Factors               map[string]float64 `json:"factors"`
	FraudFactors          map[string]float64 `json:"fraudFactors"`
	ModelVersion          string             `json:"modelVersion"`
	ScoredAt              time.Time          `json:"scoredAt"`
}

type LeadResponse struct {
	ID             uuid.UUID       `json:"id"`
	Contact        ContactResponse `json:"contact"`
	Source         string          `json:"source,omitempty"`
	Status         string          `json:"status"`
	Priority       string          `json:"priority"`
	Tags           []string        `json:"tags"`
	BudgetCents    *int64          `json:"budgetCents,omitempty"`
	RepID          *uuid.UUID      `json:"repId,omitempty"`
	ContactCount   int             `json:"contactCount"`
	Score          ScoreResponse   `json:"score"`
	Archived       bool            `json:"archived"`
	LastContactAt  *time.Time      `json:"lastContactAt,omitempty"`
	NextFollowUpAt *time.Time      `json:"nextFollowUpAt,omitempty"`
	ArchivedAt     *time.Time      `json:"archivedAt,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	LastEventAt    time.Time       `json:"lastEventAt"`
	Version        int             `json:"version"`
}
