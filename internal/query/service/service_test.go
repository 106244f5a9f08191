package service

import (
	"context"
	"testing"
	"time"

	"dealership_crm_backend/internal/eventlog"
	"dealership_crm_backend/internal/events"
	"dealership_crm_backend/internal/kpi/aggregator"
	kpitransport "dealership_crm_backend/internal/kpi/transport"
	leadservice "dealership_crm_backend/internal/leads/service"
	leadtransport "dealership_crm_backend/internal/leads/transport"
	pipelinedomain "dealership_crm_backend/internal/pipeline/domain"
	pipelinerepo "dealership_crm_backend/internal/pipeline/repository"
	pipelineservice "dealership_crm_backend/internal/pipeline/service"
	pipelinetransport "dealership_crm_backend/internal/pipeline/transport"
	reservationservice "dealership_crm_backend/internal/reservations/service"
	reservationtransport "dealership_crm_backend/internal/reservations/transport"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const msgUnexpectedErr = "unexpected error: %v"

var (
	testNow = time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)
	actor   = uuid.MustParse("7d3e9a1b-2c4f-4e8a-9b6d-1f0e2a3c4b5d")
)

type leadsStub map[uuid.UUID]leadtransport.LeadResponse

func (l leadsStub) Get(ctx context.Context, id uuid.UUID) (leadtransport.LeadResponse, error) {
	lead, ok := l[id]
	if !ok {
		return leadtransport.LeadResponse{}, leadservice.ErrLeadNotFound
	}
	return lead, nil
}

type performanceStub struct {
	set kpitransport.SnapshotSetResponse
}

func (p performanceStub) Current(ctx context.Context, period aggregator.Period) (kpitransport.SnapshotSetResponse, error) {
	return p.set, nil
}

type fixture struct {
	leads        leadsStub
	pipeline     *pipelineservice.Service
	reservations *reservationservice.Service
	svc          *Service
}

func newFixture(t *testing.T, perf performanceStub) fixture {
	t.Helper()
	bus := events.NewInMemoryBus(nil)
	log := eventlog.New(eventlog.NewMemoryStore(), bus, nil, eventlog.WithClock(func() time.Time { return testNow }))
	pipeline := pipelineservice.New(log, pipelinerepo.NewMemory(), pipelineservice.Settings{}, nil)
	pipeline.RegisterSubscribers(bus)
	reservations := reservationservice.New(log, pipeline, nil)
	reservations.SetClock(func() time.Time { return testNow })

	leads := leadsStub{}
	svc := New(Deps{
		Leads:              leads,
		Pipeline:           pipeline,
		Reservations:       reservations,
		Performance:        perf,
		Streams:            log,
		AutoLossInactivity: 7 * 24 * time.Hour,
	}, nil)
	svc.SetClock(func() time.Time { return testNow.Add(3 * time.Hour) })
	return fixture{leads: leads, pipeline: pipeline, reservations: reservations, svc: svc}
}

func (f fixture) open(t *testing.T, leadID *uuid.UUID, cents int64) uuid.UUID {
	t.Helper()
	autoLoss := true
	opp, err := f.pipeline.Open(context.Background(), actor, pipelinetransport.OpenOpportunityRequest{
		LeadID:              leadID,
		Customer:            pipelinetransport.CustomerDTO{Name: "Mira Holm"},
		QuoteAmountCents:    cents,
		AutoLossRuleEnabled: &autoLoss,
	})
	if err != nil {
		t.Fatalf(msgUnexpectedErr, err)
	}
	return opp.ID
}

func TestPipelineViewComposesReservationAndLead(t *testing.T) {
	f := newFixture(t, performanceStub{})
	ctx := context.Background()
	leadID := uuid.New()
	f.leads[leadID] = leadtransport.LeadResponse{
		ID:      leadID,
		Contact: leadtransport.ContactResponse{FirstName: "Mira", LastName: "Holm"},
		Status:  "contacted",
		Score:   leadtransport.ScoreResponse{LeadScore: 64, FakeLeadScore: 12},
	}
	id := f.open(t, &leadID, 3_200_000)

	res, err := f.reservations.Create(ctx, actor, reservationtransport.CreateReservationRequest{
		PipelineID:   id,
		Vehicle:      reservationtransport.VehicleDTO{Make: "Skoda", Model: "Enyaq", Year: 2026, VIN: "TMBJC7NY5SF012345"},
		DepositCents: 100_000,
	})
	if err != nil {
		t.Fatalf(msgUnexpectedErr, err)
	}

	view, err := f.svc.PipelineView(ctx, id)
	if err != nil {
		t.Fatalf(msgUnexpectedErr, err)
	}
	if view.Lead == nil || view.Lead.Name != "Mira Holm" || view.Lead.LeadScore != 64 {
		t.Fatalf("expected lead summary, got %+v", view.Lead)
	}
	if view.Reservation == nil || view.Reservation.ID != res.ID {
		t.Fatalf("expected reservation %s, got %+v", res.ID, view.Reservation)
	}
	want := []string{"test_drive_completed", "won", "lost"}
	if len(view.AllowedStages) != len(want) {
		t.Fatalf("expected allowed stages %v, got %v", want, view.AllowedStages)
	}
	for i := range want {
		if view.AllowedStages[i] != want[i] {
			t.Fatalf("expected allowed stages %v, got %v", want, view.AllowedStages)
		}
	}
	if len(view.Timeline) == 0 || view.Timeline[0].Kind != string(eventlog.KindDealReserved) {
		t.Fatalf("expected newest event first, got %+v", view.Timeline)
	}
	if view.AutoLossAt == nil || !view.AutoLossAt.Equal(testNow.Add(7*24*time.Hour)) {
		t.Fatalf("expected auto-loss one week after last activity, got %v", view.AutoLossAt)
	}
	if view.InactiveFor != "3h0m0s" {
		t.Fatalf("expected 3h of inactivity, got %s", view.InactiveFor)
	}
}

func TestPipelineViewToleratesMissingLead(t *testing.T) {
	f := newFixture(t, performanceStub{})
	missing := uuid.New()
	id := f.open(t, &missing, 1_000_000)

	view, err := f.svc.PipelineView(context.Background(), id)
	if err != nil {
		t.Fatalf(msgUnexpectedErr, err)
	}
	if view.Lead != nil || view.Reservation != nil {
		t.Fatalf("expected no lead or reservation, got %+v %+v", view.Lead, view.Reservation)
	}
}

func TestLeadViewSumsOpenPipeline(t *testing.T) {
	f := newFixture(t, performanceStub{})
	ctx := context.Background()
	leadID := uuid.New()
	f.leads[leadID] = leadtransport.LeadResponse{ID: leadID, Status: "new"}

	f.open(t, &leadID, 2_000_000)
	lost := f.open(t, &leadID, 5_000_000)
	if _, err := f.pipeline.Transition(ctx, lost, actor, pipelinetransport.TransitionRequest{TargetStage: string(pipelinedomain.StageLost)}); err != nil {
		t.Fatalf(msgUnexpectedErr, err)
	}

	view, err := f.svc.LeadView(ctx, leadID)
	if err != nil {
		t.Fatalf(msgUnexpectedErr, err)
	}
	if len(view.Opportunities) != 2 || view.OpenPipeline != 2_000_000 {
		t.Fatalf("expected two opportunities with 2000000 open, got %d and %d", len(view.Opportunities), view.OpenPipeline)
	}
}

func TestPerformanceViewAttainment(t *testing.T) {
	target := decimal.RequireFromString("12.5")
	perf := performanceStub{set: kpitransport.SnapshotSetResponse{
		Period:  "2026-10",
		Version: 4,
		Metrics: []kpitransport.SnapshotResponse{
			{MetricName: "conversion_rate", CurrentValue: decimal.NewFromInt(25), TargetValue: &target, Trend: "up"},
			{MetricName: "pipeline_value", CurrentValue: decimal.NewFromInt(90000), Trend: "flat"},
		},
	}}
	f := newFixture(t, perf)
	period, _ := aggregator.ParsePeriod("2026-10")

	view, err := f.svc.PerformanceView(context.Background(), period)
	if err != nil {
		t.Fatalf(msgUnexpectedErr, err)
	}
	if view.Version != 4 || !view.AutoCalculated {
		t.Fatalf("unexpected view header %+v", view)
	}
	if a := view.Metrics[0].Attainment; a == nil || !a.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("expected 200%% attainment, got %v", a)
	}
	if view.Metrics[1].Attainment != nil {
		t.Fatalf("expected no attainment without a target")
	}
}
