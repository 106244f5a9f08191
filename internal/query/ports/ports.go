// Package ports lists the read sides the query facade composes.
package ports

import (
	"context"

	"dealership_crm_backend/internal/eventlog"
	"dealership_crm_backend/internal/kpi/aggregator"
	kpitransport "dealership_crm_backend/internal/kpi/transport"
	leadtransport "dealership_crm_backend/internal/leads/transport"
	pipelinetransport "dealership_crm_backend/internal/pipeline/transport"
	reservationtransport "dealership_crm_backend/internal/reservations/transport"

	"github.com/google/uuid"
)

type Leads interface {
	Get(ctx context.Context, id uuid.UUID) (leadtransport.LeadResponse, error)
}

type Pipeline interface {
	Get(ctx context.Context, id uuid.UUID) (pipelinetransport.OpportunityResponse, error)
	ListOpportunityIDsByLead(ctx context.Context, leadID uuid.UUID) ([]uuid.UUID, error)
}

type Reservations interface {
	Get(ctx context.Context, id uuid.UUID) (reservationtransport.ReservationResponse, error)
}

type Performance interface {
	Current(ctx context.Context, period aggregator.Period) (kpitransport.SnapshotSetResponse, error)
}

// Streams reads raw event history for timelines.
type Streams interface {
	ReadStream(ctx context.Context, subjectType eventlog.SubjectType, subjectID uuid.UUID) ([]eventlog.Event, error)
}
