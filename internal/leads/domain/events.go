package domain

import (
	"time"

	"github.com/google/uuid"
)

// LeadCreated is the intake payload.
type LeadCreated struct {
	FirstName   string    `json:"firstName"`
	LastName    string    `json:"lastName"`
	Phone       string    `json:"phone,omitempty"`
	Email       string    `json:"email,omitempty"`
	City        string    `json:"city,omitempty"`
	Zip         string    `json:"zip,omitempty"`
	Source      string    `json:"source,omitempty"`
	Priority    string    `json:"priority,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	BudgetCents *int64    `json:"budgetCents,omitempty"`
	IPAddress   string    `json:"ipAddress,omitempty"`
	Notes       string    `json:"notes,omitempty"`
	RepID       uuid.UUID `json:"repId"`
}

// LeadUpdated carries only the fields that changed.
type LeadUpdated struct {
	FirstName   *string    `json:"firstName,omitempty"`
	LastName    *string    `json:"lastName,omitempty"`
	Phone       *string    `json:"phone,omitempty"`
	Email       *string    `json:"email,omitempty"`
	City        *string    `json:"city,omitempty"`
	Zip         *string    `json:"zip,omitempty"`
	Source      *string    `json:"source,omitempty"`
	Priority    *string    `json:"priority,omitempty"`
	Tags        *[]string  `json:"tags,omitempty"`
	BudgetCents *int64     `json:"budgetCents,omitempty"`
	RepID       *uuid.UUID `json:"repId,omitempty"`
}

// IsEmpty reports whether no field is set.
func (u LeadUpdated) IsEmpty() bool {
	return u.FirstName == nil && u.LastName == nil && u.Phone == nil && u.Email == nil &&
		u.City == nil && u.Zip == nil && u.Source == nil && u.Priority == nil &&
		u.Tags == nil && u.BudgetCents == nil && u.RepID == nil
}

func (u LeadUpdated) applyTo(l *Lead) {
	setString(&l.FirstName, u.FirstName)
	setString(&l.LastName, u.LastName)
	setString(&l.Phone, u.Phone)
	setString(&l.Email, u.Email)
	setString(&l.City, u.City)
	setString(&l.Zip, u.Zip)
	setString(&l.Source, u.Source)
	setString(&l.Priority, u.Priority)
	if u.Tags != nil {
		l.Tags = append([]string(nil), (*u.Tags)...)
	}
	if u.BudgetCents != nil {
		v := *u.BudgetCents
		l.BudgetCents = &v
	}
	if u.RepID != nil {
		l.RepID = *u.RepID
	}
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

// LeadStatusChanged records a manual status change.
type LeadStatusChanged struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason,omitempty"`
}

// ContactLogged records an outreach attempt.
type ContactLogged struct {
	Channel string `json:"channel"`
	Outcome string `json:"outcome,omitempty"`
	Summary string `json:"summary,omitempty"`
}

// NoteAdded records free text attached to the lead.
type NoteAdded struct {
	Body string `json:"body"`
}

// FollowUpScheduled sets the next follow-up time.
type FollowUpScheduled struct {
	DueAt time.Time `json:"dueAt"`
}

// LeadArchived soft-archives the lead.
type LeadArchived struct {
	Reason string `json:"reason,omitempty"`
}
