package repository

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"dealership_crm_backend/internal/kpi/aggregator"
)

// MemoryRepository keeps snapshot sets in process. Readers load the current
// pointer without taking the publish lock.
type MemoryRepository struct {
	mu      sync.Mutex
	current sync.Map // period string -> *atomic.Pointer[Record]
	history map[string][]Record
	now     func() time.Time
}

func NewMemory() *MemoryRepository {
	return &MemoryRepository{
		history: map[string][]Record{},
		now:     time.Now,
	}
}

func (r *MemoryRepository) pointer(period string) *atomic.Pointer[Record] {
	p, _ := r.current.LoadOrStore(period, &atomic.Pointer[Record]{})
	return p.(*atomic.Pointer[Record])
}

func (r *MemoryRepository) Publish(ctx context.Context, p Publication) (Record, bool, error) {
	if !aggregator.VerifyDigest(p.Sealed.Body, p.Sealed.Digest) {
		return Record{}, false, aggregator.ErrDigestMismatch
	}
	if err := ctx.Err(); err != nil {
		return Record{}, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := p.Period.String()
	ptr := r.pointer(key)
	current := ptr.Load()
	if !supersedes(p, current) {
		return *current, false, nil
	}

	version := 1
	if current != nil {
		version = current.Version + 1
	}
	rec := Record{
		Period:      key,
		Version:     version,
		Digest:      p.Sealed.Digest,
		Body:        slices.Clone(p.Sealed.Body),
		ComputedAt:  computedAtPtr(p.ComputedAt),
		Watermark:   p.Watermark,
		PublishedAt: r.now().UTC(),
	}
	r.history[key] = append(r.history[key], rec)
	ptr.Store(&rec)
	return rec, true, nil
}

func (r *MemoryRepository) Current(ctx context.Context, period aggregator.Period) (Record, error) {
	rec := r.pointer(period.String()).Load()
	if rec == nil {
		return Record{}, ErrNotFound
	}
	out := *rec
	out.Body = slices.Clone(rec.Body)
	return out, nil
}

func (r *MemoryRepository) History(ctx context.Context, period aggregator.Period) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := slices.Clone(r.history[period.String()])
	slices.Reverse(out)
	return out, nil
}
