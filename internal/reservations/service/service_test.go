package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"dealership_crm_backend/internal/eventlog"
	pipelinedomain "dealership_crm_backend/internal/pipeline/domain"
	pipelinerepo "dealership_crm_backend/internal/pipeline/repository"
	pipelineservice "dealership_crm_backend/internal/pipeline/service"
	pipelinetransport "dealership_crm_backend/internal/pipeline/transport"
	"dealership_crm_backend/internal/reservations/domain"
	"dealership_crm_backend/internal/reservations/transport"
	"dealership_crm_backend/platform/events"

	"github.com/google/uuid"
)

const msgUnexpectedErr = "unexpected error: %v"

var (
	testNow = time.Date(2026, 10, 12, 15, 0, 0, 0, time.UTC)
	actor   = uuid.MustParse("c0a8012e-6f3b-4d2a-8e5c-7b9d1f2a3c4e")
)

type fixture struct {
	log      *eventlog.Log
	pipeline *pipelineservice.Service
	svc      *Service
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	bus := events.NewInMemoryBus(nil)
	log := eventlog.New(eventlog.NewMemoryStore(), bus, nil, eventlog.WithClock(func() time.Time { return testNow }))
	pipeline := pipelineservice.New(log, pipelinerepo.NewMemory(), pipelineservice.Settings{}, nil)
	pipeline.RegisterSubscribers(bus)
	svc := New(log, pipeline, nil)
	svc.SetClock(func() time.Time { return testNow })
	return fixture{log: log, pipeline: pipeline, svc: svc}
}

func (f fixture) openAt(t *testing.T, stage pipelinedomain.Stage) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	opp, err := f.pipeline.Open(ctx, actor, pipelinetransport.OpenOpportunityRequest{
		Customer:         pipelinetransport.CustomerDTO{Name: "Aiko Tanaka"},
		QuoteAmountCents: 3_600_000,
	})
	if err != nil {
		t.Fatalf(msgUnexpectedErr, err)
	}
	if stage == pipelinedomain.StageLead {
		return opp.ID
	}
	if _, err := f.pipeline.RecordActivity(ctx, opp.ID, actor, pipelinetransport.RecordActivityRequest{Kind: string(eventlog.KindTestDriveCompleted)}); err != nil {
		t.Fatalf(msgUnexpectedErr, err)
	}
	return opp.ID
}

func createRequest(pipelineID uuid.UUID) transport.CreateReservationRequest {
	expires := testNow.Add(72 * time.Hour)
	return transport.CreateReservationRequest{
		PipelineID:   pipelineID,
		Vehicle:      transport.VehicleDTO{Make: "Toyota", Model: "RAV4", Year: 2026, VIN: "jtmrwrfv5nd123456"},
		DepositCents: 50_000,
		ExpiresAt:    &expires,
	}
}

func TestCreateRecordsReservationOnOpportunity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pipelineID := f.openAt(t, pipelinedomain.StageTestDriveCompleted)

	res, err := f.svc.Create(ctx, actor, createRequest(pipelineID))
	if err != nil {
		t.Fatalf(msgUnexpectedErr, err)
	}
	if res.Status != string(domain.StatusPending) || res.Vehicle.VIN != "JTMRWRFV5ND123456" || res.Expired {
		t.Fatalf("expected pending live hold with upper-cased VIN, got %+v", res)
	}

	opp, err := f.pipeline.Get(ctx, pipelineID)
	if err != nil {
		t.Fatalf(msgUnexpectedErr, err)
	}
	if opp.ReservationID == nil || *opp.ReservationID != res.ID {
		t.Fatalf("expected opportunity to reference reservation %s, got %v", res.ID, opp.ReservationID)
	}
	if opp.CurrentStage != string(pipelinedomain.StageReservationMade) {
		t.Fatalf("expected auto-progression to reservation_made, got %s", opp.CurrentStage)
	}
}

func TestCreateRejectsClosedOpportunity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pipelineID := f.openAt(t, pipelinedomain.StageLead)
	if _, err := f.pipeline.Transition(ctx, pipelineID, actor, pipelinetransport.TransitionRequest{TargetStage: string(pipelinedomain.StageLost)}); err != nil {
		t.Fatalf(msgUnexpectedErr, err)
	}

	_, err := f.svc.Create(ctx, actor, createRequest(pipelineID))
	if !errors.Is(err, pipelineservice.ErrOpportunityClosed) {
		t.Fatalf("expected closed opportunity error, got %v", err)
	}
}

func TestCreateRejectsPastExpiry(t *testing.T) {
	f := newFixture(t)
	req := createRequest(f.openAt(t, pipelinedomain.StageLead))
	past := testNow.Add(-time.Minute)
	req.ExpiresAt = &past

	if _, err := f.svc.Create(context.Background(), actor, req); !errors.Is(err, ErrExpiryInPast) {
		t.Fatalf("expected expiry error, got %v", err)
	}
}

func TestChangeStatusLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.Create(ctx, actor, createRequest(f.openAt(t, pipelinedomain.StageLead)))
	if err != nil {
		t.Fatalf(msgUnexpectedErr, err)
	}

	steps := []struct {
		status string
		ok     bool
	}{
		{"confirmed", true},
		{"pending", false},
		{"released", true},
		{"cancelled", false},
	}
	for _, step := range steps {
		got, err := f.svc.ChangeStatus(ctx, res.ID, actor, transport.ChangeStatusRequest{Status: step.status})
		if step.ok {
			if err != nil || got.Status != step.status {
				t.Fatalf("expected move to %s, got %+v %v", step.status, got, err)
			}
			continue
		}
		if !errors.Is(err, domain.ErrIllegalStatusChange) {
			t.Fatalf("expected move to %s to be rejected, got %v", step.status, err)
		}
	}
}

func TestUnknownReservation(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Get(context.Background(), uuid.New()); !errors.Is(err, ErrReservationNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
