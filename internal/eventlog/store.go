package eventlog

import (
	"context"

	"github.com/google/uuid"
)

// Store persists events. Implementations assign Sequence and StreamVersion
// and must reject an append whose expectedVersion is stale.
type Store interface {
	Append(ctx context.Context, event Event, expectedVersion int) (Event, error)
	ReadStream(ctx context.Context, subjectType SubjectType, subjectID uuid.UUID) ([]Event, error)
	// ReadBatch returns up to limit events with afterSequence < Sequence <= upToSequence in order.
	ReadBatch(ctx context.Context, afterSequence, upToSequence int64, limit int) ([]Event, error)
	LastSequence(ctx context.Context) (int64, error)
}
