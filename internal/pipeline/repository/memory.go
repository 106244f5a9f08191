package repository

import (
	"bytes"
	"context"
	"slices"
	"sync"
	"time"

	"dealership_crm_backend/internal/pipeline/domain"

	"github.com/google/uuid"
)

// MemoryRepository is an in-process read model used by tests and the rebuild tool.
type MemoryRepository struct {
	mu   sync.RWMutex
	rows map[uuid.UUID]domain.Opportunity
}

func NewMemory() *MemoryRepository {
	return &MemoryRepository{rows: map[uuid.UUID]domain.Opportunity{}}
}

func (r *MemoryRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Opportunity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.rows[id]
	if !ok {
		return domain.Opportunity{}, ErrNotFound
	}
	return o, nil
}

func (r *MemoryRepository) ListIDsByLead(ctx context.Context, leadID uuid.UUID) ([]uuid.UUID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var matched []domain.Opportunity
	for _, o := range r.rows {
		if o.LeadID != nil && *o.LeadID == leadID {
			matched = append(matched, o)
		}
	}
	slices.SortFunc(matched, func(a, b domain.Opportunity) int {
		if c := a.OpenedAt.Compare(b.OpenedAt); c != 0 {
			return c
		}
		return bytes.Compare(a.ID[:], b.ID[:])
	})
	ids := make([]uuid.UUID, 0, len(matched))
	for _, o := range matched {
		ids = append(ids, o.ID)
	}
	return ids, nil
}

func (r *MemoryRepository) ListAutoLossCandidates(ctx context.Context, inactiveSince time.Time, limit int) ([]uuid.UUID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var matched []domain.Opportunity
	for _, o := range r.rows {
		if isAutoLossCandidate(o, inactiveSince) {
			matched = append(matched, o)
		}
	}
	slices.SortFunc(matched, func(a, b domain.Opportunity) int {
		if c := a.LastActivityAt.Compare(b.LastActivityAt); c != 0 {
			return c
		}
		return bytes.Compare(a.ID[:], b.ID[:])
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	ids := make([]uuid.UUID, 0, len(matched))
	for _, o := range matched {
		ids = append(ids, o.ID)
	}
	return ids, nil
}

func (r *MemoryRepository) Upsert(ctx context.Context, o domain.Opportunity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.rows[o.ID]; ok && current.Version > o.Version {
		return nil
	}
	r.rows[o.ID] = o
	return nil
}

func (r *MemoryRepository) Reset(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = map[uuid.UUID]domain.Opportunity{}
	return nil
}

var _ OpportunitiesRepository = (*MemoryRepository)(nil)
