package adapters

import (
	"context"

	"dealership_crm_backend/internal/leads/ports"
	"dealership_crm_backend/internal/pipeline/repository"

	"github.com/google/uuid"
)

// OpportunityLookup adapts the opportunity read model for the leads domain.
// It implements the leads/ports.OpportunityLookup interface.
type OpportunityLookup struct {
	opportunities repository.Reader
}

// NewOpportunityLookup creates a lookup over the opportunity read model.
func NewOpportunityLookup(opportunities repository.Reader) *OpportunityLookup {
	return &OpportunityLookup{opportunities: opportunities}
}

// ListOpportunityIDsByLead returns the opportunities opened for leadID.
func (a *OpportunityLookup) ListOpportunityIDsByLead(ctx context.Context, leadID uuid.UUID) ([]uuid.UUID, error) {
	return a.opportunities.ListIDsByLead(ctx, leadID)
}

var _ ports.OpportunityLookup = (*OpportunityLookup)(nil)
