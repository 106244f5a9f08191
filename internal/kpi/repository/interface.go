package repository

import (
	"context"
	"errors"
	"time"

	"dealership_crm_backend/internal/kpi/aggregator"
)

var ErrNotFound = errors.New("kpi snapshot set not found")

// Record is one published, sealed snapshot set.
type Record struct {
	Period      string
	Version     int
	Digest      string
	Body        []byte
	ComputedAt  *time.Time
	Watermark   int64
	PublishedAt time.Time
}

// Sealed returns the body and digest for verification.
func (r Record) Sealed() aggregator.Sealed {
	return aggregator.Sealed{Body: r.Body, Digest: r.Digest}
}

// Publication describes a set a recompute wants to make current.
type Publication struct {
	Period     aggregator.Period
	Sealed     aggregator.Sealed
	ComputedAt time.Time
	Watermark  int64
}

// SnapshotRepository stores versioned snapshot sets. Publishing swaps the
// current pointer atomically; readers see either the old or the new set.
type SnapshotRepository interface {
	// Publish stores p as a new version unless its digest equals the current
	// one or the current set was folded from a later watermark. It reports
	// whether a version was written.
	Publish(ctx context.Context, p Publication) (Record, bool, error)
	Current(ctx context.Context, period aggregator.Period) (Record, error)
	// History lists every version of period, newest first.
	History(ctx context.Context, period aggregator.Period) ([]Record, error)
}

// supersedes reports whether p should replace current.
func supersedes(p Publication, current *Record) bool {
	if current == nil {
		return true
	}
	if current.Digest == p.Sealed.Digest {
		return false
	}
	return p.Watermark >= current.Watermark
}

func computedAtPtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
