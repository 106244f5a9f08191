package ports

import (
	"context"
	"iter"
	"time"

	"dealership_crm_backend/internal/eventlog"
)

// EventLog is the read side the aggregator folds.
type EventLog interface {
	ReadAll(ctx context.Context, params eventlog.ReadAllParams) iter.Seq2[eventlog.Event, error]
	LastSequence(ctx context.Context) (int64, error)
}

// Archive keeps a copy of every published snapshot set for auditors.
type Archive interface {
	Store(ctx context.Context, period string, version int, digest string, body []byte) error
	Load(ctx context.Context, period string, version int, digest string) ([]byte, error)
	DownloadURL(ctx context.Context, period string, version int, digest string) (string, time.Time, error)
}

// RecomputeScheduler queues a background recompute of one period.
type RecomputeScheduler interface {
	EnqueueRecompute(ctx context.Context, period string) error
}
