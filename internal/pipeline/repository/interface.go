package repository

import (
	"context"
	"errors"
	"time"

	"dealership_crm_backend/internal/pipeline/domain"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("opportunity not found")

// Reader provides read-only access to the opportunity read model.
type Reader interface {
	GetByID(ctx context.Context, id uuid.UUID) (domain.Opportunity, error)
	ListIDsByLead(ctx context.Context, leadID uuid.UUID) ([]uuid.UUID, error)
}

// CandidateFinder selects opportunities the auto-loss sweep should re-check.
type CandidateFinder interface {
	// ListAutoLossCandidates returns open opportunities with the auto-loss rule on
	// and no activity after inactiveSince, oldest activity first.
	ListAutoLossCandidates(ctx context.Context, inactiveSince time.Time, limit int) ([]uuid.UUID, error)
}

// Writer replaces read model rows. Only projections call it.
type Writer interface {
	Upsert(ctx context.Context, o domain.Opportunity) error
	Reset(ctx context.Context) error
}

type OpportunitiesRepository interface {
	Reader
	CandidateFinder
	Writer
}

func isAutoLossCandidate(o domain.Opportunity, inactiveSince time.Time) bool {
	return o.AutoLossRuleEnabled && !o.CurrentStage.IsTerminal() && !o.LastActivityAt.After(inactiveSince)
}
