// Package service composes read models into screen-shaped views.
// Nothing here appends events or writes read models.
package service

import (
	"context"
	"slices"
	"strings"
	"time"

	"dealership_crm_backend/internal/eventlog"
	"dealership_crm_backend/internal/kpi/aggregator"
	kpitransport "dealership_crm_backend/internal/kpi/transport"
	pipelinedomain "dealership_crm_backend/internal/pipeline/domain"
	pipelinetransport "dealership_crm_backend/internal/pipeline/transport"
	"dealership_crm_backend/internal/query/ports"
	"dealership_crm_backend/internal/query/transport"
	"dealership_crm_backend/platform/apperr"
	"dealership_crm_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// timelineLimit caps the events shown on the pipeline view, newest first.
const timelineLimit = 50

type Service struct {
	leads        ports.Leads
	pipeline     ports.Pipeline
	reservations ports.Reservations
	performance  ports.Performance
	streams      ports.Streams
	inactivity   time.Duration
	now          func() time.Time
	log          *logger.Logger
}

type Deps struct {
	Leads        ports.Leads
	Pipeline     ports.Pipeline
	Reservations ports.Reservations
	Performance  ports.Performance
	Streams      ports.Streams

	// AutoLossInactivity is used to show when an idle opportunity will be lost.
	AutoLossInactivity time.Duration
}

func New(deps Deps, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		leads:        deps.Leads,
		pipeline:     deps.Pipeline,
		reservations: deps.Reservations,
		performance:  deps.Performance,
		streams:      deps.Streams,
		inactivity:   deps.AutoLossInactivity,
		now:          time.Now,
		log:          log,
	}
}

func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) LeadView(ctx context.Context, id uuid.UUID) (transport.LeadView, error) {
	lead, err := s.leads.Get(ctx, id)
	if err != nil {
		return transport.LeadView{}, err
	}
	ids, err := s.pipeline.ListOpportunityIDsByLead(ctx, id)
	if err != nil {
		return transport.LeadView{}, err
	}

	view := transport.LeadView{Lead: lead, Opportunities: make([]transport.OpportunitySummary, 0, len(ids))}
	for _, oid := range ids {
		opp, err := s.pipeline.Get(ctx, oid)
		if err != nil {
			return transport.LeadView{}, err
		}
		view.Opportunities = append(view.Opportunities, summarize(opp))
		if !pipelinedomain.Stage(opp.CurrentStage).IsTerminal() {
			view.OpenPipeline += opp.QuoteAmountCents
		}
	}
	return view, nil
}

func (s *Service) PipelineView(ctx context.Context, id uuid.UUID) (transport.PipelineView, error) {
	opp, err := s.pipeline.Get(ctx, id)
	if err != nil {
		return transport.PipelineView{}, err
	}
	stage := pipelinedomain.Stage(opp.CurrentStage)
	view := transport.PipelineView{
		Opportunity:   opp,
		AllowedStages: stageNames(pipelinedomain.ManualTargets(stage)),
		InactiveFor:   s.now().Sub(opp.LastActivityAt).Truncate(time.Minute).String(),
	}
	if opp.AutoLossRuleEnabled && !stage.IsTerminal() && s.inactivity > 0 {
		at := opp.LastActivityAt.Add(s.inactivity)
		view.AutoLossAt = &at
	}

	if opp.LeadID != nil {
		lead, err := s.leads.Get(ctx, *opp.LeadID)
		switch {
		case err == nil:
			view.Lead = &transport.LeadSummary{
				ID:            lead.ID,
				Name:          strings.TrimSpace(lead.Contact.FirstName + " " + lead.Contact.LastName),
				Status:        lead.Status,
				LeadScore:     lead.Score.LeadScore,
				FakeLeadScore: lead.Score.FakeLeadScore,
				HighRisk:      lead.Score.HighRisk,
				ContactCount:  lead.ContactCount,
			}
		case apperr.Is(err, apperr.KindNotFound):
			s.log.Warn("opportunity references missing lead", "pipelineId", id, "leadId", *opp.LeadID)
		default:
			return transport.PipelineView{}, err
		}
	}
	if opp.ReservationID != nil {
		res, err := s.reservations.Get(ctx, *opp.ReservationID)
		if err != nil {
			return transport.PipelineView{}, err
		}
		view.Reservation = &res
	}

	stream, err := s.streams.ReadStream(ctx, eventlog.SubjectOpportunity, id)
	if err != nil {
		return transport.PipelineView{}, err
	}
	view.Timeline = timeline(stream)
	return view, nil
}

// PerformanceView serves the published KPI set with target attainment.
func (s *Service) PerformanceView(ctx context.Context, period aggregator.Period) (transport.PerformanceView, error) {
	set, err := s.performance.Current(ctx, period)
	if err != nil {
		return transport.PerformanceView{}, err
	}
	view := transport.PerformanceView{
		Period:         set.Period,
		Version:        set.Version,
		Digest:         set.Digest,
		ComputedAt:     set.ComputedAt,
		AutoCalculated: true,
		Metrics:        make([]transport.MetricView, 0, len(set.Metrics)),
		Reps:           append([]kpitransport.RepPerformanceResponse(nil), set.Reps...),
	}
	for _, m := range set.Metrics {
		mv := transport.MetricView{
			Name:       m.MetricName,
			Current:    m.CurrentValue,
			Previous:   m.PreviousValue,
			Target:     m.TargetValue,
			Trend:      m.Trend,
			DataSource: m.DataSource,
		}
		if m.TargetValue != nil && !m.TargetValue.IsZero() {
			pct := m.CurrentValue.Mul(decimal.NewFromInt(100)).DivRound(*m.TargetValue, 2)
			mv.Attainment = &pct
		}
		view.Metrics = append(view.Metrics, mv)
	}
	return view, nil
}

func (s *Service) ReservationView(ctx context.Context, id uuid.UUID) (transport.ReservationView, error) {
	res, err := s.reservations.Get(ctx, id)
	if err != nil {
		return transport.ReservationView{}, err
	}
	opp, err := s.pipeline.Get(ctx, res.PipelineID)
	if err != nil {
		return transport.ReservationView{}, err
	}
	return transport.ReservationView{Reservation: res, Opportunity: summarize(opp)}, nil
}

func summarize(o pipelinetransport.OpportunityResponse) transport.OpportunitySummary {
	return transport.OpportunitySummary{
		ID:               o.ID,
		CurrentStage:     o.CurrentStage,
		QuoteAmountCents: o.QuoteAmountCents,
		Probability:      o.Probability,
		RepID:            o.RepID,
		ReservationID:    o.ReservationID,
		LastActivityAt:   o.LastActivityAt,
	}
}

func timeline(stream []eventlog.Event) []transport.TimelineEntry {
	out := make([]transport.TimelineEntry, 0, min(len(stream), timelineLimit))
	for _, e := range slices.Backward(stream) {
		if len(out) == timelineLimit {
			break
		}
		out = append(out, transport.TimelineEntry{
			Kind:          string(e.Kind),
			OccurredAt:    e.OccurredAt,
			ActorID:       e.ActorID,
			StreamVersion: e.StreamVersion,
		})
	}
	return out
}

func stageNames(stages []pipelinedomain.Stage) []string {
	out := make([]string, 0, len(stages))
	for _, st := range stages {
		out = append(out, string(st))
	}
	return out
}
