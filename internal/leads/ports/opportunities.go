package ports

import (
	"context"

	"github.com/google/uuid"
)

// OpportunityLookup lists the opportunities opened for a lead.
// Engagement is then counted from those opportunities' event streams.
type OpportunityLookup interface {
	ListOpportunityIDsByLead(ctx context.Context, leadID uuid.UUID) ([]uuid.UUID, error)
}
