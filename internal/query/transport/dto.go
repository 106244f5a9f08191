package transport

import (
	"time"

	kpitransport "dealership_crm_backend/internal/kpi/transport"
	leadtransport "dealership_crm_backend/internal/leads/transport"
	pipelinetransport "dealership_crm_backend/internal/pipeline/transport"
	reservationtransport "dealership_crm_backend/internal/reservations/transport"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OpportunitySummary struct {
	ID               uuid.UUID  `json:"id"`
	CurrentStage     string     `json:"currentStage"`
	QuoteAmountCents int64      `json:"quoteAmountCents"`
	Probability      int        `json:"probability"`
	RepID            uuid.UUID  `json:"repId"`
	ReservationID    *uuid.UUID `json:"reservationId,omitempty"`
	LastActivityAt   time.Time  `json:"lastActivityAt"`
}

type LeadSummary struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	Status        string    `json:"status"`
	LeadScore     int       `json:"leadScore"`
	FakeLeadScore int       `json:"fakeLeadScore"`
	HighRisk      bool      `json:"highRisk"`
	ContactCount  int       `json:"contactCount"`
}

// LeadView is a lead with its opportunities.
type LeadView struct {
	Lead          leadtransport.LeadResponse `json:"lead"`
	Opportunities []OpportunitySummary       `json:"opportunities"`
	OpenPipeline  int64                      `json:"openPipelineCents"`
}

type TimelineEntry struct {
	Kind          string    `json:"kind"`
	OccurredAt    time.Time `json:"occurredAt"`
	ActorID       uuid.UUID `json:"actorId"`
	StreamVersion int       `json:"streamVersion"`
}

// PipelineView is the edit screen of one opportunity.
type PipelineView struct {
	Opportunity   pipelinetransport.OpportunityResponse     `json:"opportunity"`
	Lead          *LeadSummary                              `json:"lead,omitempty"`
	Reservation   *reservationtransport.ReservationResponse `json:"reservation,omitempty"`
	AllowedStages []string                                  `json:"allowedStages"`
	InactiveFor   string                                    `json:"inactiveFor"`
	AutoLossAt    *time.Time                                `json:"autoLossAt,omitempty"`
	Timeline      []TimelineEntry                           `json:"timeline"`
}

type MetricView struct {
	Name       string           `json:"name"`
	Current    decimal.Decimal  `json:"current"`
	Previous   decimal.Decimal  `json:"previous"`
	Target     *decimal.Decimal `json:"target,omitempty"`
	Attainment *decimal.Decimal `json:"attainmentPercent,omitempty"`
	Trend      string           `json:"trend"`
	DataSource string           `json:"dataSource"`
}

// PerformanceView is the read-only KPI dashboard of one period.
type PerformanceView struct {
	Period         string                                `json:"period"`
	Version        int                                   `json:"version"`
	Digest         string                                `json:"digest"`
	ComputedAt     *time.Time                            `json:"computedAt,omitempty"`
	AutoCalculated bool                                  `json:"autoCalculated"`
	Metrics        []MetricView                          `json:"metrics"`
	Reps           []kpitransport.RepPerformanceResponse `json:"reps"`
}

type ReservationView struct {
	Reservation reservationtransport.ReservationResponse `json:"reservation"`
	Opportunity OpportunitySummary                       `json:"opportunity"`
}
