package service

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"dealership_crm_backend/internal/eventlog"
	"dealership_crm_backend/internal/pipeline/domain"
	"dealership_crm_backend/internal/pipeline/repository"
	"dealership_crm_backend/internal/pipeline/transport"
	"dealership_crm_backend/platform/events"

	"github.com/google/uuid"
)

const (
	msgUnexpectedErr = "unexpected error: %v"
	msgWantStage     = "expected stage %s, got %s"
)

var (
	testStart = time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	actor     = uuid.MustParse("3f6a2c10-8d4e-4b7a-9c61-5e2f8a7b9d03")
	week      = 7 * 24 * time.Hour
)

// manualClock returns the same instant until moved.
type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *manualClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type fixture struct {
	clock *manualClock
	log   *eventlog.Log
	repo  *repository.MemoryRepository
	svc   *Service
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	clock := &manualClock{t: testStart}
	bus := events.NewInMemoryBus(nil)
	log := eventlog.New(eventlog.NewMemoryStore(), bus, nil, eventlog.WithClock(clock.now))
	repo := repository.NewMemory()
	svc := New(log, repo, Settings{AutoLossInactivity: week, SweepParallelism: 2}, nil)
	svc.RegisterSubscribers(bus)
	return fixture{clock: clock, log: log, repo: repo, svc: svc}
}

func boolPtr(v bool) *bool { return &v }
func intPtr(v int) *int    { return &v }

func openRequest(stage string, autoLoss bool) transport.OpenOpportunityRequest {
	return transport.OpenOpportunityRequest{
		Customer:            transport.CustomerDTO{Name: "Jonas Weber", Phone: "202-555-0111"},
		Vehicle:             transport.VehicleDTO{Make: "Skoda", Model: "Octavia", Year: 2025},
		QuoteAmountCents:    2_950_000,
		Stage:               stage,
		AutoLossRuleEnabled: boolPtr(autoLoss),
	}
}

func (f fixture) open(t *testing.T, stage string, autoLoss bool) transport.OpportunityResponse {
	t.Helper()
	opp, err := f.svc.Open(context.Background(), actor, openRequest(stage, autoLoss))
	if err != nil {
		t.Fatalf(msgUnexpectedErr, err)
	}
	return opp
}

func (f fixture) kinds(t *testing.T, id uuid.UUID) []eventlog.Kind {
	t.Helper()
	stream, err := f.log.ReadStream(context.Background(), eventlog.SubjectOpportunity, id)
	if err != nil {
		t.Fatalf(msgUnexpectedErr, err)
	}
	out := make([]eventlog.Kind, 0, len(stream))
	for _, ev := range stream {
		out = append(out, ev.Kind)
	}
	return out
}

func TestOpenProjectsDefaults(t *testing.T) {
	f := newFixture(t)
	opp := f.open(t, "", false)

	if opp.CurrentStage != string(domain.StageLead) || opp.Probability != 10 || opp.Version != 1 {
		t.Fatalf("expected lead at 10%% version 1, got %s %d%% v%d", opp.CurrentStage, opp.Probability, opp.Version)
	}
	if !opp.AutoProgressionEnabled || opp.AutoLossRuleEnabled {
		t.Fatalf("expected auto-progression on and auto-loss off, got %v %v", opp.AutoProgressionEnabled, opp.AutoLossRuleEnabled)
	}
	if opp.Customer.Phone != "+12025550111" {
		t.Fatalf("expected E.164 customer phone, got %q", opp.Customer.Phone)
	}
	if opp.RepID != actor {
		t.Fatalf("expected rep to default to the opener, got %s", opp.RepID)
	}
}

func TestOpenOnlyAtEarlyStages(t *testing.T) {
	for _, stage := range domain.Stages() {
		t.Run(string(stage), func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.Open(context.Background(), actor, openRequest(string(stage), false))
			if domain.CanOpenAt(stage) {
				if err != nil {
					t.Fatalf(msgUnexpectedErr, err)
				}
				return
			}
			if !errors.Is(err, ErrInvalidOpeningStage) {
				t.Fatalf("expected ErrInvalidOpeningStage, got %v", err)
			}
			if last, _ := f.log.LastSequence(context.Background()); last != 0 {
				t.Fatalf("expected nothing appended, last sequence %d", last)
			}
		})
	}
}

func TestManualTransitionOneStepForward(t *testing.T) {
	f := newFixture(t)
	opp := f.open(t, "", false)

	got, err := f.svc.Transition(context.Background(), opp.ID, actor, transport.TransitionRequest{
		TargetStage:     string(domain.StageQualified),
		ExpectedVersion: intPtr(opp.Version),
	})
	if err != nil {
		t.Fatalf(msgUnexpectedErr, err)
	}
	if got.CurrentStage != string(domain.StageQualified) || got.Probability != 20 || got.Version != 2 {
		t.Fatalf("expected qualified at 20%% version 2, got %s %d%% v%d", got.CurrentStage, got.Probability, got.Version)
	}
}

func TestIllegalTransitionLeavesStageUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	opp := f.open(t, "", false)

	_, err := f.svc.Transition(ctx, opp.ID, actor, transport.TransitionRequest{
		TargetStage:     string(domain.StageWon),
		ExpectedVersion: intPtr(opp.Version),
	})
	if !errors.Is(err, domain.ErrIllegalTransition) {
		t.Fatalf("expected illegal transition, got %v", err)
	}
	got, err := f.svc.Get(ctx, opp.ID)
	if err != nil {
		t.Fatalf(msgUnexpectedErr, err)
	}
	if got.CurrentStage != string(domain.StageLead) || got.Version != 1 {
		t.Fatalf("expected untouched lead at version 1, got %s v%d", got.CurrentStage, got.Version)
	}
}

func TestConcurrentStaleTransitionsOneWins(t *testing.T) {
	f := newFixture(t)
	opp := f.open(t, string(domain.StageQualified), false)

	targets := []domain.Stage{domain.StageQuoteSent, domain.StageLost}
	errs := make([]error, len(targets))
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, errs[i] = f.svc.Transition(context.Background(), opp.ID, actor, transport.TransitionRequest{
				TargetStage:     string(target),
				ExpectedVersion: intPtr(opp.Version),
			})
		}()
	}
	close(start)
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, eventlog.ErrConcurrentModification):
			conflicts++
		default:
			t.Fatalf(msgUnexpectedErr, err)
		}
	}
	if ok != 1 || conflicts != 1 {
		t.Fatalf("expected one success and one conflict, got %d and %d", ok, conflicts)
	}
}

func TestAutoProgressionOnActivity(t *testing.T) {
	tests := []struct {
		name      string
		opening   string
		enabled   bool
		sequence  []eventlog.Kind
		wantStage domain.Stage
	}{
		{"quote moves qualified forward", "qualified", true, []eventlog.Kind{eventlog.KindQuoteSent}, domain.StageQuoteSent},
		{"disabled flag keeps stage", "qualified", false, []eventlog.Kind{eventlog.KindQuoteSent}, domain.StageQualified},
		{"skips ahead from lead", "lead", true, []eventlog.Kind{eventlog.KindTestDriveCompleted}, domain.StageTestDriveCompleted},
		{"never moves back", "lead", true, []eventlog.Kind{eventlog.KindTestDriveCompleted, eventlog.KindQuoteSent}, domain.StageTestDriveCompleted},
		{"quote viewed implies nothing", "qualified", true, []eventlog.Kind{eventlog.KindQuoteViewed}, domain.StageQualified},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			req := openRequest(tc.opening, false)
			req.AutoProgressionEnabled = boolPtr(tc.enabled)
			opp, err := f.svc.Open(ctx, actor, req)
			if err != nil {
				t.Fatalf(msgUnexpectedErr, err)
			}

			var got transport.OpportunityResponse
			for _, kind := range tc.sequence {
				got, err = f.svc.RecordActivity(ctx, opp.ID, actor, transport.RecordActivityRequest{Kind: string(kind)})
				if err != nil {
					t.Fatalf(msgUnexpectedErr, err)
				}
			}
			if got.CurrentStage != string(tc.wantStage) {
				t.Fatalf(msgWantStage, tc.wantStage, got.CurrentStage)
			}
		})
	}
}

func TestDealEventsFollowReservedAndWonTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	opp := f.open(t, "", false)

	got, err := f.svc.RecordActivity(ctx, opp.ID, actor, transport.RecordActivityRequest{Kind: string(eventlog.KindTestDriveCompleted)})
	if err != nil {
		t.Fatalf(msgUnexpectedErr, err)
	}
	for _, target := range []domain.Stage{domain.StageReservationMade, domain.StageWon} {
		got, err = f.svc.Transition(ctx, opp.ID, actor, transport.TransitionRequest{
			TargetStage:     string(target),
			ExpectedVersion: intPtr(got.Version),
		})
		if err != nil {
			t.Fatalf(msgUnexpectedErr, err)
		}
	}

	want := []eventlog.Kind{
		eventlog.KindOpportunityOpened,
		eventlog.KindTestDriveCompleted,
		eventlog.KindStageChanged,
		eventlog.KindStageChanged,
		eventlog.KindDealReserved,
		eventlog.KindStageChanged,
		eventlog.KindDealWon,
	}
	if kinds := f.kinds(t, opp.ID); !reflect.DeepEqual(kinds, want) {
		t.Fatalf("expected stream %v, got %v", want, kinds)
	}
	if got.ClosedAt == nil || got.Probability != 100 {
		t.Fatalf("expected closed won deal at 100%%, got %+v", got)
	}
}

func TestSweepLosesAtExactlyInactivity(t *testing.T) {
	tests := []struct {
		name     string
		autoLoss bool
		idle     time.Duration
		wantLost bool
	}{
		{"one second short", true, week - time.Second, false},
		{"exactly seven days", true, week, true},
		{"long idle", true, 30 * 24 * time.Hour, true},
		{"rule disabled", false, 365 * 24 * time.Hour, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			opp := f.open(t, string(domain.StageQualified), tc.autoLoss)

			now := testStart.Add(tc.idle)
			f.clock.set(now)
			result, err := f.svc.Sweep(ctx, now)
			if err != nil {
				t.Fatalf(msgUnexpectedErr, err)
			}

			got, err := f.svc.Get(ctx, opp.ID)
			if err != nil {
				t.Fatalf(msgUnexpectedErr, err)
			}
			lost := got.CurrentStage == string(domain.StageLost)
			if lost != tc.wantLost {
				t.Fatalf("expected lost=%v, got stage %s (result %+v)", tc.wantLost, got.CurrentStage, result)
			}
			if !lost {
				return
			}
			if got.LossReason != domain.ReasonInactivityTimeout || result.Lost != 1 {
				t.Fatalf("expected one inactivity loss, got reason %q result %+v", got.LossReason, result)
			}
			stream, _ := f.log.ReadStream(ctx, eventlog.SubjectOpportunity, opp.ID)
			var change domain.StageChanged
			if err := stream[len(stream)-1].Decode(&change); err != nil {
				t.Fatalf(msgUnexpectedErr, err)
			}
			if change.Trigger != domain.TriggerAutoLoss || change.From != domain.StageQualified {
				t.Fatalf("expected auto_loss from qualified, got %+v", change)
			}
		})
	}
}

func TestSweepRechecksStreamBeforeLosing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	opp := f.open(t, string(domain.StageQualified), true)

	stream, err := f.log.ReadStream(ctx, eventlog.SubjectOpportunity, opp.ID)
	if err != nil {
		t.Fatalf(msgUnexpectedErr, err)
	}
	stale, err := domain.Fold(stream)
	if err != nil {
		t.Fatalf(msgUnexpectedErr, err)
	}

	f.clock.set(testStart.Add(6 * 24 * time.Hour))
	if _, err := f.svc.RecordActivity(ctx, opp.ID, actor, transport.RecordActivityRequest{Kind: string(eventlog.KindQuoteViewed)}); err != nil {
		t.Fatalf(msgUnexpectedErr, err)
	}

	// A lagging read model still reports the opening as the last activity.
	lagging := repository.NewMemory()
	if err := lagging.Upsert(ctx, stale); err != nil {
		t.Fatalf(msgUnexpectedErr, err)
	}
	sweeper := New(f.log, lagging, Settings{AutoLossInactivity: week}, nil)

	result, err := sweeper.Sweep(ctx, testStart.Add(8*24*time.Hour))
	if err != nil {
		t.Fatalf(msgUnexpectedErr, err)
	}
	if result.Checked != 1 || result.Skipped != 1 || result.Lost != 0 {
		t.Fatalf("expected the candidate to be re-checked and skipped, got %+v", result)
	}
}

func TestActivityTimeBounds(t *testing.T) {
	tests := []struct {
		name    string
		offset  time.Duration
		wantErr error
	}{
		{"a year ahead", 365 * 24 * time.Hour, eventlog.ErrInvalidEvent},
		{"past clock skew", eventlog.DefaultMaxClockSkew + time.Second, eventlog.ErrInvalidEvent},
		{"before opening", -time.Hour, ErrActivityBeforeOpen},
		{"within clock skew", time.Minute, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			opp := f.open(t, string(domain.StageQualified), true)

			at := testStart.Add(tc.offset)
			_, err := f.svc.RecordActivity(ctx, opp.ID, actor, transport.RecordActivityRequest{
				Kind:       string(eventlog.KindQuoteViewed),
				OccurredAt: &at,
			})
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf(msgUnexpectedErr, err)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			if kinds := f.kinds(t, opp.ID); len(kinds) != 1 {
				t.Fatalf("expected only the opening event, got %v", kinds)
			}
		})
	}
}

func TestFutureDatedActivityCannotDeferAutoLoss(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	opp := f.open(t, string(domain.StageQualified), true)

	future := testStart.Add(365 * 24 * time.Hour)
	if _, err := f.svc.RecordActivity(ctx, opp.ID, actor, transport.RecordActivityRequest{
		Kind:       string(eventlog.KindQuoteViewed),
		OccurredAt: &future,
	}); !errors.Is(err, eventlog.ErrInvalidEvent) {
		t.Fatalf("expected future-dated activity to be rejected, got %v", err)
	}

	now := testStart.Add(60 * 24 * time.Hour)
	f.clock.set(now)
	result, err := f.svc.Sweep(ctx, now)
	if err != nil {
		t.Fatalf(msgUnexpectedErr, err)
	}
	got, err := f.svc.Get(ctx, opp.ID)
	if err != nil {
		t.Fatalf(msgUnexpectedErr, err)
	}
	if result.Lost != 1 || got.CurrentStage != string(domain.StageLost) {
		t.Fatalf("expected the idle opportunity to be lost, got stage %s (result %+v)", got.CurrentStage, result)
	}
}

func TestReenteringReservationReservesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	opp := f.open(t, "", false)

	got, err := f.svc.RecordActivity(ctx, opp.ID, actor, transport.RecordActivityRequest{Kind: string(eventlog.KindTestDriveCompleted)})
	if err != nil {
		t.Fatalf(msgUnexpectedErr, err)
	}
	for _, target := range []domain.Stage{domain.StageReservationMade, domain.StageTestDriveCompleted, domain.StageReservationMade} {
		got, err = f.svc.Transition(ctx, opp.ID, actor, transport.TransitionRequest{
			TargetStage:     string(target),
			ExpectedVersion: intPtr(got.Version),
		})
		if err != nil {
			t.Fatalf(msgUnexpectedErr, err)
		}
	}
	if got.CurrentStage != string(domain.StageReservationMade) {
		t.Fatalf(msgWantStage, domain.StageReservationMade, got.CurrentStage)
	}

	reserved := 0
	for _, k := range f.kinds(t, opp.ID) {
		if k == eventlog.KindDealReserved {
			reserved++
		}
	}
	if reserved != 1 {
		t.Fatalf("expected one deal_reserved, got %d", reserved)
	}
}

func TestClosedOpportunityRejectsCommands(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	opp := f.open(t, "", false)

	if _, err := f.svc.Transition(ctx, opp.ID, actor, transport.TransitionRequest{
		TargetStage:     string(domain.StageLost),
		ExpectedVersion: intPtr(opp.Version),
		Reason:          "bought elsewhere",
	}); err != nil {
		t.Fatalf(msgUnexpectedErr, err)
	}
	_, err := f.svc.RecordActivity(ctx, opp.ID, actor, transport.RecordActivityRequest{Kind: string(eventlog.KindQuoteSent)})
	if !errors.Is(err, ErrOpportunityClosed) {
		t.Fatalf("expected closed opportunity error, got %v", err)
	}
	_, err = f.svc.ToggleAutomation(ctx, opp.ID, actor, transport.ToggleAutomationRequest{AutoLossRuleEnabled: boolPtr(true)})
	if !errors.Is(err, ErrOpportunityClosed) {
		t.Fatalf("expected closed opportunity error, got %v", err)
	}
}

func TestRebuildMatchesLiveReadModel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	leadID := uuid.New()

	req := openRequest(string(domain.StageQualified), true)
	req.LeadID = &leadID
	first, err := f.svc.Open(ctx, actor, req)
	if err != nil {
		t.Fatalf(msgUnexpectedErr, err)
	}
	if _, err := f.svc.RecordActivity(ctx, first.ID, actor, transport.RecordActivityRequest{Kind: string(eventlog.KindQuoteSent)}); err != nil {
		t.Fatalf(msgUnexpectedErr, err)
	}
	if _, err := f.svc.SetNextAction(ctx, first.ID, actor, transport.SetNextActionRequest{Action: "call back"}); err != nil {
		t.Fatalf(msgUnexpectedErr, err)
	}
	second := f.open(t, "", false)

	live := map[uuid.UUID]domain.Opportunity{}
	for _, id := range []uuid.UUID{first.ID, second.ID} {
		o, err := f.repo.GetByID(ctx, id)
		if err != nil {
			t.Fatalf(msgUnexpectedErr, err)
		}
		live[id] = o
	}

	n, err := f.svc.Rebuild(ctx)
	if err != nil {
		t.Fatalf(msgUnexpectedErr, err)
	}
	if n != 2 {
		t.Fatalf("expected 2 rebuilt opportunities, got %d", n)
	}
	for id, want := range live {
		got, err := f.repo.GetByID(ctx, id)
		if err != nil {
			t.Fatalf(msgUnexpectedErr, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("rebuilt row differs:\nwant %+v\ngot  %+v", want, got)
		}
	}

	ids, err := f.svc.ListOpportunityIDsByLead(ctx, leadID)
	if err != nil || len(ids) != 1 || ids[0] != first.ID {
		t.Fatalf("expected lead lookup to return the first opportunity, got %v %v", ids, err)
	}
}
