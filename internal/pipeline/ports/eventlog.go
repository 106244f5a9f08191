// Package ports defines what the pipeline context needs from the event log.
package ports

import (
	"context"
	"iter"

	"dealership_crm_backend/internal/eventlog"

	"github.com/google/uuid"
)

type EventLog interface {
	Append(ctx context.Context, ev eventlog.NewEvent, expectedVersion int) (eventlog.Event, error)
	ReadStream(ctx context.Context, subjectType eventlog.SubjectType, subjectID uuid.UUID) ([]eventlog.Event, error)
	ReadAll(ctx context.Context, params eventlog.ReadAllParams) iter.Seq2[eventlog.Event, error]
}
