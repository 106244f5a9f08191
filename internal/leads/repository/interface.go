package repository

import (
	"context"
	"errors"
	"time"

	"dealership_crm_backend/internal/leads/domain"
	"dealership_crm_backend/internal/leads/scoring"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("lead not found")

// LeadRecord is one row of the lead read model: the folded lead plus its latest score.
type LeadRecord struct {
	Lead  domain.Lead
	Keys  scoring.Keys
	Score scoring.Result
}

// PeerQuery selects leads created inside [From, To] that share any non-empty key.
type PeerQuery struct {
	ExcludeID uuid.UUID
	From      time.Time
	To        time.Time
	Keys      scoring.Keys
	IPAddress string
}

// =====================================
// Segregated Interfaces (Interface Segregation Principle)
// =====================================

// LeadReader provides read-only access to the read model.
type LeadReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (LeadRecord, error)
}

// PeerFinder finds candidate duplicates and reuse peers.
type PeerFinder interface {
	FindPeers(ctx context.Context, q PeerQuery) ([]scoring.Peer, error)
}

// LeadWriter replaces read model rows. Only projections call it.
type LeadWriter interface {
	Upsert(ctx context.Context, rec LeadRecord) error
	Reset(ctx context.Context) error
}

// LeadsRepository is the full read model contract.
type LeadsRepository interface {
	LeadReader
	PeerFinder
	LeadWriter
}

func matchesPeer(rec LeadRecord, q PeerQuery) bool {
	if rec.Lead.ID == q.ExcludeID {
		return false
	}
	if rec.Lead.CreatedAt.Before(q.From) || rec.Lead.CreatedAt.After(q.To) {
		return false
	}
	k := q.Keys
	named := k.Name != "" && rec.Keys.Name != ""
	return (k.Phone != "" && rec.Keys.Phone == k.Phone) ||
		(k.Email != "" && rec.Keys.Email == k.Email) ||
		(named && k.City != "" && rec.Keys.City == k.City) ||
		(named && k.Zip != "" && rec.Keys.Zip == k.Zip) ||
		(q.IPAddress != "" && rec.Lead.IPAddress == q.IPAddress)
}

func toPeer(rec LeadRecord) scoring.Peer {
	return scoring.Peer{
		ID:        rec.Lead.ID,
		CreatedAt: rec.Lead.CreatedAt,
		Keys:      rec.Keys,
		IPAddress: rec.Lead.IPAddress,
	}
}
