package service

import (
	"context"
	"errors"
	"reflect"
	"slices"
	"sync"
	"testing"
	"time"

	"dealership_crm_backend/internal/eventlog"
	"dealership_crm_backend/internal/leads/domain"
	"dealership_crm_backend/internal/leads/repository"
	"dealership_crm_backend/internal/leads/scoring"
	"dealership_crm_backend/internal/leads/transport"
	"dealership_crm_backend/platform/events"

	"github.com/google/uuid"
)

const (
	msgUnexpectedErr = "unexpected error: %v"
	msgWantFlag      = "expected duplicate flags %v to contain %s"
)

var (
	testStart = time.Date(2026, 10, 5, 9, 0, 0, 0, time.UTC)
	actor     = uuid.MustParse("9b3c1f0e-1d7a-4c55-8a3f-1a2b3c4d5e6f")
)

// steppingClock advances one minute per call so events get distinct times.
func steppingClock() func() time.Time {
	var mu sync.Mutex
	n := 0
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		n++
		return testStart.Add(time.Duration(n) * time.Minute)
	}
}

type fixture struct {
	log  *eventlog.Log
	bus  *events.InMemoryBus
	repo *repository.MemoryRepository
	svc  *Service
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	scorer, err := scoring.NewScorer(scoring.DefaultConfig())
	if err != nil {
		t.Fatalf(msgUnexpectedErr, err)
	}
	bus := events.NewInMemoryBus(nil)
	log := eventlog.New(eventlog.NewMemoryStore(), bus, nil, eventlog.WithClock(steppingClock()))
	repo := repository.NewMemory()
	return fixture{log: log, bus: bus, repo: repo, svc: New(log, repo, scorer, "US", nil)}
}

func intakeRequest() transport.CreateLeadRequest {
	budget := int64(4_200_000)
	return transport.CreateLeadRequest{
		FirstName:   "Marta",
		LastName:    "Nowak",
		Phone:       "(202) 555-0143",
		Email:       "marta.nowak@example.com",
		City:        "Springfield",
		Zip:         "62701",
		Source:      "Walk-In",
		Tags:        []string{"SUV", "suv"},
		BudgetCents: &budget,
	}
}

func TestIntakeScoresNewLead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	lead, err := f.svc.Intake(ctx, actor, intakeRequest())
	if err != nil {
		t.Fatalf(msgUnexpectedErr, err)
	}
	if lead.Status != domain.StatusNew || lead.Version != 1 {
		t.Fatalf("expected new lead at version 1, got %s v%d", lead.Status, lead.Version)
	}
	if lead.Contact.Phone != "+12025550143" {
		t.Fatalf("expected E.164 phone, got %q", lead.Contact.Phone)
	}
	if lead.Source != "walk_in" || !slices.Equal(lead.Tags, []string{"suv"}) {
		t.Fatalf("expected normalized source and tags, got %q %v", lead.Source, lead.Tags)
	}
	if lead.Score.LeadScore == 0 || lead.Score.ModelVersion == "" {
		t.Fatalf("expected a scored lead, got %+v", lead.Score)
	}

	stored, err := f.svc.Get(ctx, lead.ID)
	if err != nil {
		t.Fatalf(msgUnexpectedErr, err)
	}
	if !reflect.DeepEqual(stored, lead) {
		t.Fatalf("expected read model to match intake response")
	}
}

func TestDuplicatePhoneFlagsBothLeads(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Intake(ctx, actor, intakeRequest())
	if err != nil {
		t.Fatalf(msgUnexpectedErr, err)
	}
	second := intakeRequest()
	second.FirstName, second.LastName, second.Email = "Olek", "Zieliński", "olek@example.org"
	second.Phone = "+1 202 555 0143"
	dup, err := f.svc.Intake(ctx, actor, second)
	if err != nil {
		t.Fatalf(msgUnexpectedErr, err)
	}

	rescored, err := f.svc.Get(ctx, first.ID)
	if err != nil {
		t.Fatalf(msgUnexpectedErr, err)
	}
	for _, got := range []transport.LeadResponse{rescored, dup} {
		if !slices.Contains(got.Score.DuplicateFlags, string(domain.FlagDuplicatePhone)) {
			t.Fatalf(msgWantFlag, got.Score.DuplicateFlags, domain.FlagDuplicatePhone)
		}
	}
	if !slices.Contains(rescored.Score.DuplicateOf, dup.ID) {
		t.Fatalf("expected first lead to point at %s, got %v", dup.ID, rescored.Score.DuplicateOf)
	}
}

// upsertCounter counts read model writes per lead.
type upsertCounter struct {
	*repository.MemoryRepository
	mu     sync.Mutex
	writes map[uuid.UUID]int
}

func (c *upsertCounter) Upsert(ctx context.Context, rec repository.LeadRecord) error {
	c.mu.Lock()
	c.writes[rec.Lead.ID]++
	c.mu.Unlock()
	return c.MemoryRepository.Upsert(ctx, rec)
}

func (c *upsertCounter) count(id uuid.UUID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes[id]
}

func TestIntakeRescoresOnlyRelatedPeers(t *testing.T) {
	scorer, err := scoring.NewScorer(scoring.DefaultConfig())
	if err != nil {
		t.Fatalf(msgUnexpectedErr, err)
	}
	repo := &upsertCounter{MemoryRepository: repository.NewMemory(), writes: map[uuid.UUID]int{}}
	log := eventlog.New(eventlog.NewMemoryStore(), nil, nil, eventlog.WithClock(steppingClock()))
	svc := New(log, repo, scorer, "US", nil)
	ctx := context.Background()

	first, err := svc.Intake(ctx, actor, intakeRequest())
	if err != nil {
		t.Fatalf(msgUnexpectedErr, err)
	}

	neighbour := intakeRequest()
	neighbour.FirstName, neighbour.LastName = "Piotr", "Kowalski"
	neighbour.Phone, neighbour.Email = "+1 202 555 0177", "piotr@example.org"
	other, err := svc.Intake(ctx, actor, neighbour)
	if err != nil {
		t.Fatalf(msgUnexpectedErr, err)
	}
	if n := repo.count(first.ID); n != 1 {
		t.Fatalf("expected an unrelated neighbour to leave the first lead alone, got %d writes", n)
	}
	if len(other.Score.DuplicateFlags) != 0 {
		t.Fatalf("expected no duplicate flags, got %v", other.Score.DuplicateFlags)
	}

	namesake := intakeRequest()
	namesake.LastName = "Nowack"
	namesake.Phone, namesake.Email = "+1 202 555 0190", "m.nowack@example.org"
	if _, err := svc.Intake(ctx, actor, namesake); err != nil {
		t.Fatalf(msgUnexpectedErr, err)
	}
	if n := repo.count(first.ID); n != 2 {
		t.Fatalf("expected the namesake to rescore the first lead once, got %d writes", n)
	}
	if n := repo.count(other.ID); n != 1 {
		t.Fatalf("expected the neighbour to stay untouched, got %d writes", n)
	}
	rescored, err := svc.Get(ctx, first.ID)
	if err != nil {
		t.Fatalf(msgUnexpectedErr, err)
	}
	if !slices.Contains(rescored.Score.DuplicateFlags, string(domain.FlagDuplicateNameLocation)) {
		t.Fatalf(msgWantFlag, rescored.Score.DuplicateFlags, domain.FlagDuplicateNameLocation)
	}
}

func TestUpdateClearsFormerDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, _ := f.svc.Intake(ctx, actor, intakeRequest())
	second := intakeRequest()
	second.FirstName, second.LastName, second.Email = "Olek", "Zieliński", "olek@example.org"
	dup, err := f.svc.Intake(ctx, actor, second)
	if err != nil {
		t.Fatalf(msgUnexpectedErr, err)
	}

	newPhone := "(312) 555-0199"
	newCity := "Chicago"
	newZip := "60601"
	if _, err := f.svc.Update(ctx, dup.ID, actor, transport.UpdateLeadRequest{Phone: &newPhone, City: &newCity, Zip: &newZip}); err != nil {
		t.Fatalf(msgUnexpectedErr, err)
	}

	got, _ := f.svc.Get(ctx, first.ID)
	if slices.Contains(got.Score.DuplicateFlags, string(domain.FlagDuplicatePhone)) {
		t.Fatalf("expected former duplicate to be cleared, got %v", got.Score.DuplicateFlags)
	}
}

func TestInsufficientDataFailsSoft(t *testing.T) {
	f := newFixture(t)

	lead, err := f.svc.Intake(context.Background(), actor, transport.CreateLeadRequest{FirstName: "Anon", Source: "web_form"})
	if err != nil {
		t.Fatalf("expected intake to succeed, got %v", err)
	}
	if !slices.Contains(lead.Score.DuplicateFlags, string(domain.FlagInsufficientData)) {
		t.Fatalf(msgWantFlag, lead.Score.DuplicateFlags, domain.FlagInsufficientData)
	}
	if lead.Score.LeadScore != 0 || lead.Score.ConversionProbability != 0 || lead.Score.Confidence != 0 {
		t.Fatalf("expected zeroed scores, got %+v", lead.Score)
	}
}

func TestCommandsRecordEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	lead, _ := f.svc.Intake(ctx, actor, intakeRequest())

	contacted, err := f.svc.LogContact(ctx, lead.ID, actor, transport.LogContactRequest{Channel: "phone", Summary: "<b>asked</b> for a test drive"})
	if err != nil {
		t.Fatalf(msgUnexpectedErr, err)
	}
	if contacted.Status != domain.StatusContacted || contacted.ContactCount != 1 || contacted.LastContactAt == nil {
		t.Fatalf("expected contacted lead, got %+v", contacted)
	}
	if contacted.Score.LeadScore <= lead.Score.LeadScore {
		t.Fatalf("expected fast contact to raise the score: %d -> %d", lead.Score.LeadScore, contacted.Score.LeadScore)
	}

	due := testStart.Add(48 * time.Hour)
	scheduled, err := f.svc.ScheduleFollowUp(ctx, lead.ID, actor, transport.ScheduleFollowUpRequest{DueAt: due})
	if err != nil {
		t.Fatalf(msgUnexpectedErr, err)
	}
	if scheduled.NextFollowUpAt == nil || !scheduled.NextFollowUpAt.Equal(due) {
		t.Fatalf("expected follow-up at %s, got %v", due, scheduled.NextFollowUpAt)
	}

	hot, err := f.svc.ChangeStatus(ctx, lead.ID, actor, transport.ChangeStatusRequest{Status: domain.StatusHot, Reason: "ready to buy"})
	if err != nil {
		t.Fatalf(msgUnexpectedErr, err)
	}
	if hot.Status != domain.StatusHot || hot.Version != 4 {
		t.Fatalf("expected hot lead at version 4, got %s v%d", hot.Status, hot.Version)
	}
	if _, err := f.svc.ChangeStatus(ctx, lead.ID, actor, transport.ChangeStatusRequest{Status: domain.StatusHot}); !errors.Is(err, ErrStatusUnchanged) {
		t.Fatalf("expected ErrStatusUnchanged, got %v", err)
	}

	stream, _ := f.log.ReadStream(ctx, eventlog.SubjectLead, lead.ID)
	var p domain.ContactLogged
	if err := stream[1].Decode(&p); err != nil || p.Summary != "asked for a test drive" {
		t.Fatalf("expected sanitized summary, got %q (%v)", p.Summary, err)
	}
}

func TestContactBeforeIntakeRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lead, _ := f.svc.Intake(ctx, actor, intakeRequest())

	early := lead.CreatedAt.Add(-time.Hour)
	_, err := f.svc.LogContact(ctx, lead.ID, actor, transport.LogContactRequest{Channel: "phone", OccurredAt: &early})
	if err == nil {
		t.Fatalf("expected rule violation for backdated contact")
	}
	stream, _ := f.log.ReadStream(ctx, eventlog.SubjectLead, lead.ID)
	if len(stream) != 1 {
		t.Fatalf("expected no event appended, got %d events", len(stream))
	}
}

func TestFutureDatedContactRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lead, _ := f.svc.Intake(ctx, actor, intakeRequest())

	later := lead.CreatedAt.Add(365 * 24 * time.Hour)
	_, err := f.svc.LogContact(ctx, lead.ID, actor, transport.LogContactRequest{Channel: "phone", OccurredAt: &later})
	if !errors.Is(err, eventlog.ErrInvalidEvent) {
		t.Fatalf("expected future-dated contact to be rejected, got %v", err)
	}
	stream, _ := f.log.ReadStream(ctx, eventlog.SubjectLead, lead.ID)
	if len(stream) != 1 {
		t.Fatalf("expected no event appended, got %d events", len(stream))
	}
}

func TestArchivedLeadRejectsCommands(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lead, _ := f.svc.Intake(ctx, actor, intakeRequest())

	archived, err := f.svc.Archive(ctx, lead.ID, actor, transport.ArchiveLeadRequest{Reason: "spam"})
	if err != nil {
		t.Fatalf(msgUnexpectedErr, err)
	}
	if !archived.Archived {
		t.Fatalf("expected archived lead")
	}
	if _, err := f.svc.AddNote(ctx, lead.ID, actor, transport.AddNoteRequest{Body: "still here?"}); !errors.Is(err, ErrLeadArchived) {
		t.Fatalf("expected ErrLeadArchived, got %v", err)
	}
}

func TestStaleExpectedVersionConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lead, _ := f.svc.Intake(ctx, actor, intakeRequest())

	stale := 0
	_, err := f.svc.AddNote(ctx, lead.ID, actor, transport.AddNoteRequest{Body: "prefers red", ExpectedVersion: &stale})
	if !errors.Is(err, eventlog.ErrConcurrentModification) {
		t.Fatalf("expected ErrConcurrentModification, got %v", err)
	}
}

func TestUnknownLead(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Get(context.Background(), uuid.New()); !errors.Is(err, ErrLeadNotFound) {
		t.Fatalf("expected ErrLeadNotFound, got %v", err)
	}
	if _, err := f.svc.AddNote(context.Background(), uuid.New(), actor, transport.AddNoteRequest{Body: "x"}); !errors.Is(err, ErrLeadNotFound) {
		t.Fatalf("expected ErrLeadNotFound, got %v", err)
	}
}

type stubLookup map[uuid.UUID][]uuid.UUID

func (s stubLookup) ListOpportunityIDsByLead(ctx context.Context, leadID uuid.UUID) ([]uuid.UUID, error) {
	return s[leadID], nil
}

func TestEngagementEventsRescoreLinkedLead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, kind := range EngagementKinds {
		f.bus.Subscribe(string(kind), events.HandlerFunc(f.svc.HandleEngagement))
	}

	lead, _ := f.svc.Intake(ctx, actor, intakeRequest())
	oppID := uuid.New()
	f.svc.SetOpportunityLookup(stubLookup{lead.ID: {oppID}})

	opened, err := eventlog.NewEventFor(eventlog.SubjectOpportunity, oppID, eventlog.KindOpportunityOpened, actor, time.Time{}, map[string]any{"leadId": lead.ID})
	if err != nil {
		t.Fatalf(msgUnexpectedErr, err)
	}
	if _, err := f.log.Append(ctx, opened, 0); err != nil {
		t.Fatalf(msgUnexpectedErr, err)
	}
	drive, _ := eventlog.NewEventFor(eventlog.SubjectOpportunity, oppID, eventlog.KindTestDriveCompleted, actor, time.Time{}, map[string]any{})
	if _, err := f.log.Append(ctx, drive, 1); err != nil {
		t.Fatalf(msgUnexpectedErr, err)
	}

	got, _ := f.svc.Get(ctx, lead.ID)
	if got.Score.LeadScore <= lead.Score.LeadScore {
		t.Fatalf("expected completed test drive to raise score: %d -> %d", lead.Score.LeadScore, got.Score.LeadScore)
	}
	if got.Version != lead.Version {
		t.Fatalf("expected lead stream untouched, got version %d", got.Version)
	}
}

func TestRebuildReproducesLiveReadModel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, _ := f.svc.Intake(ctx, actor, intakeRequest())
	second := intakeRequest()
	second.FirstName, second.Email = "Marta", "m.nowak+cars@example.com"
	b, _ := f.svc.Intake(ctx, actor, second)
	if _, err := f.svc.LogContact(ctx, a.ID, actor, transport.LogContactRequest{Channel: "email"}); err != nil {
		t.Fatalf(msgUnexpectedErr, err)
	}
	if _, err := f.svc.AddNote(ctx, b.ID, actor, transport.AddNoteRequest{Body: "asked about financing"}); err != nil {
		t.Fatalf(msgUnexpectedErr, err)
	}

	live := map[uuid.UUID]transport.LeadResponse{}
	for _, id := range []uuid.UUID{a.ID, b.ID} {
		live[id], _ = f.svc.Get(ctx, id)
	}

	n, err := f.svc.Rebuild(ctx)
	if err != nil {
		t.Fatalf(msgUnexpectedErr, err)
	}
	if n != 2 {
		t.Fatalf("expected 2 leads rebuilt, got %d", n)
	}
	for id, want := range live {
		got, err := f.svc.Get(ctx, id)
		if err != nil {
			t.Fatalf(msgUnexpectedErr, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("rebuilt lead %s differs:\n got  %+v\n want %+v", id, got, want)
		}
	}
}
