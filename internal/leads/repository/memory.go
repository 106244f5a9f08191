package repository

import (
	"bytes"
	"context"
	"slices"
	"sync"

	"dealership_crm_backend/internal/leads/scoring"

	"github.com/google/uuid"
)

// MemoryRepository is an in-process read model used by tests and the rebuild tool.
type MemoryRepository struct {
	mu   sync.RWMutex
	rows map[uuid.UUID]LeadRecord
}

func NewMemory() *MemoryRepository {
	return &MemoryRepository{rows: map[uuid.UUID]LeadRecord{}}
}

func (r *MemoryRepository) GetByID(ctx context.Context, id uuid.UUID) (LeadRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.rows[id]
	if !ok {
		return LeadRecord{}, ErrNotFound
	}
	return rec, nil
}

func (r *MemoryRepository) FindPeers(ctx context.Context, q PeerQuery) ([]scoring.Peer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	peers := make([]scoring.Peer, 0)
	for _, rec := range r.rows {
		if matchesPeer(rec, q) {
			peers = append(peers, toPeer(rec))
		}
	}
	slices.SortFunc(peers, func(a, b scoring.Peer) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return bytes.Compare(a.ID[:], b.ID[:])
	})
	return peers, nil
}

func (r *MemoryRepository) Upsert(ctx context.Context, rec LeadRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[rec.Lead.ID] = rec
	return nil
}

func (r *MemoryRepository) Reset(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = map[uuid.UUID]LeadRecord{}
	return nil
}

var _ LeadsRepository = (*MemoryRepository)(nil)
