// Package domain holds the lead aggregate and the events that shape it.
package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"dealership_crm_backend/internal/eventlog"

	"github.com/google/uuid"
)

const (
	StatusNew         = "new"
	StatusContacted   = "contacted"
	StatusQualified   = "qualified"
	StatusHot         = "hot"
	StatusUnqualified = "unqualified"
	StatusLost        = "lost"
)

var knownStatuses = []string{StatusNew, StatusContacted, StatusQualified, StatusHot, StatusUnqualified, StatusLost}

// Statuses returns every lead status in display order.
func Statuses() []string { return slices.Clone(knownStatuses) }

func IsKnownStatus(status string) bool {
	return slices.Contains(knownStatuses, status)
}

const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Priorities returns every lead priority.
func Priorities() []string { return []string{PriorityLow, PriorityMedium, PriorityHigh} }

// FlagCode is a typed duplicate or data-quality flag.
type FlagCode string

const (
	FlagDuplicatePhone        FlagCode = "duplicate_phone"
	FlagDuplicateEmail        FlagCode = "duplicate_email"
	FlagDuplicateNameLocation FlagCode = "duplicate_name_location"
	FlagInsufficientData      FlagCode = "insufficient_data"
)

// Lead is the projection of one lead stream.
type Lead struct {
	ID             uuid.UUID
	FirstName      string
	LastName       string
	Phone          string
	Email          string
	City           string
	Zip            string
	Source         string
	Status         string
	Priority       string
	Tags           []string
	BudgetCents    *int64
	IPAddress      string
	RepID          uuid.UUID
	Notes          []string
	ContactCount   int
	CreatedAt      time.Time
	FirstContactAt *time.Time
	LastContactAt  *time.Time
	NextFollowUpAt *time.Time
	ArchivedAt     *time.Time
	LastEventAt    time.Time
	Version        int
}

// FullName joins first and last name.
func (l Lead) FullName() string {
	return strings.TrimSpace(l.FirstName + " " + l.LastName)
}

// IsArchived reports whether the lead was soft-archived.
func (l Lead) IsArchived() bool { return l.ArchivedAt != nil }

// Fold replays a lead stream from empty.
func Fold(stream []eventlog.Event) (Lead, error) {
	var lead Lead
	for _, e := range stream {
		if err := lead.Apply(e); err != nil {
			return Lead{}, err
		}
	}
	return lead, nil
}

// Apply advances the projection by one event. Events for other subjects are rejected.
func (l *Lead) Apply(e eventlog.Event) error {
	if e.SubjectType != eventlog.SubjectLead {
		return fmt.Errorf("lead projection: unexpected subject type %s", e.SubjectType)
	}
	if l.Version > 0 && e.SubjectID != l.ID {
		return fmt.Errorf("lead projection: event for %s applied to %s", e.SubjectID, l.ID)
	}

	switch e.Kind {
	case eventlog.KindLeadCreated:
		var p LeadCreated
		if err := e.Decode(&p); err != nil {
			return err
		}
		*l = Lead{
			ID:          e.SubjectID,
			FirstName:   p.FirstName,
			LastName:    p.LastName,
			Phone:       p.Phone,
			Email:       p.Email,
			City:        p.City,
			Zip:         p.Zip,
			Source:      p.Source,
			Status:      StatusNew,
			Priority:    defaultString(p.Priority, PriorityMedium),
			Tags:        slices.Clone(p.Tags),
			BudgetCents: p.BudgetCents,
			IPAddress:   p.IPAddress,
			RepID:       p.RepID,
			CreatedAt:   e.OccurredAt,
		}
		if strings.TrimSpace(p.Notes) != "" {
			l.Notes = append(l.Notes, p.Notes)
		}
	case eventlog.KindLeadUpdated:
		var p LeadUpdated
		if err := e.Decode(&p); err != nil {
			return err
		}
		p.applyTo(l)
	case eventlog.KindLeadStatusChanged:
		var p LeadStatusChanged
		if err := e.Decode(&p); err != nil {
			return err
		}
		l.Status = p.To
	case eventlog.KindContactLogged:
		at := e.OccurredAt
		if l.FirstContactAt == nil {
			l.FirstContactAt = &at
		}
		l.LastContactAt = &at
		l.ContactCount++
		if l.Status == StatusNew {
			l.Status = StatusContacted
		}
	case eventlog.KindNoteAdded:
		var p NoteAdded
		if err := e.Decode(&p); err != nil {
			return err
		}
		l.Notes = append(l.Notes, p.Body)
	case eventlog.KindFollowUpScheduled:
		var p FollowUpScheduled
		if err := e.Decode(&p); err != nil {
			return err
		}
		due := p.DueAt
		l.NextFollowUpAt = &due
	case eventlog.KindLeadArchived:
		at := e.OccurredAt
		l.ArchivedAt = &at
	default:
		return fmt.Errorf("lead projection: unhandled kind %s", e.Kind)
	}

	l.Version = e.StreamVersion
	if e.OccurredAt.After(l.LastEventAt) {
		l.LastEventAt = e.OccurredAt
	}
	return nil
}

func defaultString(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
