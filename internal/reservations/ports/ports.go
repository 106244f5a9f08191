// Package ports defines what the reservations context needs from other contexts.
package ports

import (
	"context"

	"dealership_crm_backend/internal/eventlog"

	"github.com/google/uuid"
)

type EventLog interface {
	Append(ctx context.Context, ev eventlog.NewEvent, expectedVersion int) (eventlog.Event, error)
	ReadStream(ctx context.Context, subjectType eventlog.SubjectType, subjectID uuid.UUID) ([]eventlog.Event, error)
}

// Pipeline links reservations to the opportunity they hold a vehicle for.
type Pipeline interface {
	EnsureOpen(ctx context.Context, pipelineID uuid.UUID) error
	RecordReservation(ctx context.Context, pipelineID, actorID, reservationID uuid.UUID, depositCents int64) error
}
