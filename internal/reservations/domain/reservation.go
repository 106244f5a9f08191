// Package domain holds the vehicle reservation aggregate and its status rules.
package domain

import (
	"fmt"
	"slices"
	"time"

	"dealership_crm_backend/internal/eventlog"
	"dealership_crm_backend/platform/apperr"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusReleased  Status = "released"
	StatusCancelled Status = "cancelled"
)

// allowed lists the statuses reachable from each non-terminal status.
var allowed = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusReleased, StatusCancelled},
	StatusConfirmed: {StatusReleased, StatusCancelled},
}

func StatusNames() []string {
	return []string{string(StatusPending), string(StatusConfirmed), string(StatusReleased), string(StatusCancelled)}
}

func IsKnownStatus(s Status) bool {
	return slices.Contains(StatusNames(), string(s))
}

func (s Status) IsTerminal() bool {
	return s == StatusReleased || s == StatusCancelled
}

const CodeIllegalStatusChange = "illegal_status_change"

// ErrIllegalStatusChange matches any rejected status change with errors.Is.
var ErrIllegalStatusChange = apperr.RuleViolation("illegal reservation status change").WithCode(CodeIllegalStatusChange)

func illegal(rule string, from, to Status, message string) error {
	return apperr.RuleViolation(message).
		WithCode(CodeIllegalStatusChange).
		WithDetails(map[string]string{"rule": rule, "from": string(from), "to": string(to)})
}

// CheckStatusChange validates a move from current to target.
func CheckStatusChange(current, target Status) error {
	switch {
	case !IsKnownStatus(target):
		return illegal("known_status", current, target, "unknown reservation status")
	case current == target:
		return illegal("status_differs", current, target, "reservation already has this status")
	case current.IsTerminal():
		return illegal("current_not_terminal", current, target, "reservation is closed")
	case !slices.Contains(allowed[current], target):
		return illegal("allowed_status_change", current, target, "status change not allowed")
	}
	return nil
}

type Vehicle struct {
	Make  string `json:"make,omitempty"`
	Model string `json:"model,omitempty"`
	Year  int    `json:"year,omitempty"`
	VIN   string `json:"vin,omitempty"`
}

// ReservationCreated starts a reservation stream in pending status.
type ReservationCreated struct {
	PipelineID   uuid.UUID  `json:"pipelineId"`
	Vehicle      Vehicle    `json:"vehicle"`
	DepositCents int64      `json:"depositCents"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	Notes        string     `json:"notes,omitempty"`
}

type ReservationStatusChanged struct {
	From   Status `json:"from"`
	To     Status `json:"to"`
	Reason string `json:"reason,omitempty"`
}

// Reservation is the projection of one reservation stream.
type Reservation struct {
	ID              uuid.UUID
	PipelineID      uuid.UUID
	Vehicle         Vehicle
	DepositCents    int64
	Status          Status
	StatusReason    string
	ExpiresAt       *time.Time
	Notes           string
	CreatedAt       time.Time
	StatusChangedAt time.Time
	Version         int
}

// Fold replays a reservation stream from empty.
func Fold(stream []eventlog.Event) (Reservation, error) {
	var r Reservation
	for _, e := range stream {
		if err := r.Apply(e); err != nil {
			return Reservation{}, err
		}
	}
	return r, nil
}

func (r *Reservation) Apply(e eventlog.Event) error {
	switch e.Kind {
	case eventlog.KindReservationCreated:
		var p ReservationCreated
		if err := e.Decode(&p); err != nil {
			return err
		}
		*r = Reservation{
			ID:              e.SubjectID,
			PipelineID:      p.PipelineID,
			Vehicle:         p.Vehicle,
			DepositCents:    p.DepositCents,
			Status:          StatusPending,
			ExpiresAt:       p.ExpiresAt,
			Notes:           p.Notes,
			CreatedAt:       e.OccurredAt,
			StatusChangedAt: e.OccurredAt,
		}
	case eventlog.KindReservationStatusChanged:
		var p ReservationStatusChanged
		if err := e.Decode(&p); err != nil {
			return err
		}
		r.Status = p.To
		r.StatusReason = p.Reason
		r.StatusChangedAt = e.OccurredAt
	default:
		return fmt.Errorf("reservation projection: unhandled kind %s", e.Kind)
	}
	r.Version = e.StreamVersion
	return nil
}

// IsExpired reports whether a pending hold has passed its expiry at now.
func (r Reservation) IsExpired(now time.Time) bool {
	return r.Status == StatusPending && r.ExpiresAt != nil && !now.Before(*r.ExpiresAt)
}
