// Package ports defines what the leads context needs from other contexts.
// Implementations live in internal/adapters so leads never imports them directly.
package ports

import (
	"context"
	"iter"

	"dealership_crm_backend/internal/eventlog"

	"github.com/google/uuid"
)

// EventLog is the slice of the event log the leads context writes and replays.
type EventLog interface {
	Append(ctx context.Context, ev eventlog.NewEvent, expectedVersion int) (eventlog.Event, error)
	ReadStream(ctx context.Context, subjectType eventlog.SubjectType, subjectID uuid.UUID) ([]eventlog.Event, error)
	ReadAll(ctx context.Context, params eventlog.ReadAllParams) iter.Seq2[eventlog.Event, error]
}
