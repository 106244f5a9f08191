package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"dealership_crm_backend/platform/apperr"
	"dealership_crm_backend/platform/events"

	"github.com/google/uuid"
)

const (
	msgUnexpectedErr = "unexpected error: %v"
	msgWantInvalid   = "expected ErrInvalidEvent, got %v"
)

var fixedNow = time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

func newTestLog(bus events.Bus) *Log {
	return New(NewMemoryStore(), bus, nil, WithClock(func() time.Time { return fixedNow }))
}

func leadEvent(id uuid.UUID, kind Kind) NewEvent {
	return NewEvent{
		SubjectType: SubjectLead,
		SubjectID:   id,
		Kind:        kind,
		Payload:     json.RawMessage(`{"source":"referral"}`),
	}
}

func TestAppendRejectsInvalidEvents(t *testing.T) {
	id := uuid.New()
	tests := []struct {
		name string
		ev   NewEvent
		rule string
	}{
		{"missing subject", NewEvent{SubjectType: SubjectLead, Kind: KindLeadCreated, Payload: json.RawMessage(`{}`)}, "subject_id_required"},
		{"unknown kind", NewEvent{SubjectType: SubjectLead, SubjectID: id, Kind: "teleported", Payload: json.RawMessage(`{}`)}, "known_kind"},
		{"wrong stream", NewEvent{SubjectType: SubjectLead, SubjectID: id, Kind: KindDealWon, Payload: json.RawMessage(`{}`)}, "kind_matches_subject"},
		{"array payload", NewEvent{SubjectType: SubjectLead, SubjectID: id, Kind: KindLeadCreated, Payload: json.RawMessage(`[1]`)}, "payload_object"},
		{"null payload", NewEvent{SubjectType: SubjectLead, SubjectID: id, Kind: KindLeadCreated, Payload: json.RawMessage(`null`)}, "payload_object"},
		{"empty payload", NewEvent{SubjectType: SubjectLead, SubjectID: id, Kind: KindLeadCreated}, "payload_object"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			l := newTestLog(nil)
			_, err := l.Append(context.Background(), tc.ev, AnyVersion)
			if !errors.Is(err, ErrInvalidEvent) {
				t.Fatalf(msgWantInvalid, err)
			}
			if got := ruleOf(err); got != tc.rule {
				t.Fatalf("expected rule %q, got %q", tc.rule, got)
			}
			last, _ := l.LastSequence(context.Background())
			if last != 0 {
				t.Fatalf("expected nothing appended, last sequence %d", last)
			}
		})
	}
}

func TestAppendAssignsSequenceAndVersion(t *testing.T) {
	ctx := context.Background()
	l := newTestLog(nil)
	a, b := uuid.New(), uuid.New()

	first, err := l.Append(ctx, leadEvent(a, KindLeadCreated), 0)
	if err != nil {
		t.Fatalf(msgUnexpectedErr, err)
	}
	if _, err := l.Append(ctx, leadEvent(b, KindLeadCreated), 0); err != nil {
		t.Fatalf(msgUnexpectedErr, err)
	}
	second, err := l.Append(ctx, leadEvent(a, KindContactLogged), 1)
	if err != nil {
		t.Fatalf(msgUnexpectedErr, err)
	}

	if first.Sequence != 1 || second.Sequence != 3 {
		t.Fatalf("expected sequences 1 and 3, got %d and %d", first.Sequence, second.Sequence)
	}
	if second.StreamVersion != 2 {
		t.Fatalf("expected stream version 2, got %d", second.StreamVersion)
	}
	if !first.OccurredAt.Equal(fixedNow) {
		t.Fatalf("expected occurredAt to default to clock, got %s", first.OccurredAt)
	}

	stream, err := l.ReadStream(ctx, SubjectLead, a)
	if err != nil {
		t.Fatalf(msgUnexpectedErr, err)
	}
	if len(stream) != 2 || stream[0].Kind != KindLeadCreated || stream[1].Kind != KindContactLogged {
		t.Fatalf("unexpected stream %+v", stream)
	}
}

func TestAppendBoundsOccurredAt(t *testing.T) {
	tests := []struct {
		name   string
		skew   time.Duration
		offset time.Duration
		reject bool
	}{
		{"backdated", DefaultMaxClockSkew, -72 * time.Hour, false},
		{"within skew", DefaultMaxClockSkew, DefaultMaxClockSkew, false},
		{"past skew", DefaultMaxClockSkew, DefaultMaxClockSkew + time.Second, true},
		{"a year ahead", DefaultMaxClockSkew, 365 * 24 * time.Hour, true},
		{"no skew allowed", 0, time.Second, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			l := New(NewMemoryStore(), nil, nil, WithClock(func() time.Time { return fixedNow }), WithMaxClockSkew(tc.skew))
			ev := leadEvent(uuid.New(), KindLeadCreated)
			ev.OccurredAt = fixedNow.Add(tc.offset)

			stored, err := l.Append(context.Background(), ev, AnyVersion)
			if !tc.reject {
				if err != nil {
					t.Fatalf(msgUnexpectedErr, err)
				}
				if !stored.OccurredAt.Equal(ev.OccurredAt) || !stored.RecordedAt.Equal(fixedNow) {
					t.Fatalf("expected occurredAt %s recorded at %s, got %s %s", ev.OccurredAt, fixedNow, stored.OccurredAt, stored.RecordedAt)
				}
				return
			}
			if !errors.Is(err, ErrInvalidEvent) {
				t.Fatalf(msgWantInvalid, err)
			}
			if got := ruleOf(err); got != "occurred_not_in_future" {
				t.Fatalf("expected rule occurred_not_in_future, got %q", got)
			}
			if last, _ := l.LastSequence(context.Background()); last != 0 {
				t.Fatalf("expected nothing appended, last sequence %d", last)
			}
		})
	}
}

func TestAppendStaleVersionConflicts(t *testing.T) {
	ctx := context.Background()
	l := newTestLog(nil)
	id := uuid.New()

	if _, err := l.Append(ctx, leadEvent(id, KindLeadCreated), 0); err != nil {
		t.Fatalf(msgUnexpectedErr, err)
	}
	_, err := l.Append(ctx, leadEvent(id, KindNoteAdded), 0)
	if !errors.Is(err, ErrConcurrentModification) {
		t.Fatalf("expected ErrConcurrentModification, got %v", err)
	}
}

func TestConcurrentAppendsWithSameVersionOneWins(t *testing.T) {
	ctx := context.Background()
	l := newTestLog(nil)
	id := uuid.New()
	if _, err := l.Append(ctx, leadEvent(id, KindLeadCreated), 0); err != nil {
		t.Fatalf(msgUnexpectedErr, err)
	}

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Append(ctx, leadEvent(id, KindNoteAdded), 1)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrConcurrentModification):
				conflicts++
			}
		}()
	}
	wg.Wait()

	if successes != 1 || conflicts != writers-1 {
		t.Fatalf("expected 1 success and %d conflicts, got %d and %d", writers-1, successes, conflicts)
	}
}

func TestReadAllBatchesUpToWatermark(t *testing.T) {
	ctx := context.Background()
	l := newTestLog(nil)
	for i := 0; i < 7; i++ {
		if _, err := l.Append(ctx, leadEvent(uuid.New(), KindLeadCreated), 0); err != nil {
			t.Fatalf(msgUnexpectedErr, err)
		}
	}

	var seqs []int64
	for e, err := range l.ReadAll(ctx, ReadAllParams{UpToSequence: 5, BatchSize: 2}) {
		if err != nil {
			t.Fatalf(msgUnexpectedErr, err)
		}
		seqs = append(seqs, e.Sequence)
	}
	if len(seqs) != 5 || seqs[0] != 1 || seqs[4] != 5 {
		t.Fatalf("expected sequences 1..5, got %v", seqs)
	}
}

func TestReadAllIgnoresAppendsAfterStart(t *testing.T) {
	ctx := context.Background()
	l := newTestLog(nil)
	for i := 0; i < 3; i++ {
		if _, err := l.Append(ctx, leadEvent(uuid.New(), KindLeadCreated), 0); err != nil {
			t.Fatalf(msgUnexpectedErr, err)
		}
	}

	count := 0
	for _, err := range l.ReadAll(ctx, ReadAllParams{BatchSize: 1}) {
		if err != nil {
			t.Fatalf(msgUnexpectedErr, err)
		}
		count++
		if _, err := l.Append(ctx, leadEvent(uuid.New(), KindLeadCreated), 0); err != nil {
			t.Fatalf(msgUnexpectedErr, err)
		}
	}
	if count != 3 {
		t.Fatalf("expected 3 events before watermark, got %d", count)
	}
}

func TestReadAllFiltersSince(t *testing.T) {
	ctx := context.Background()
	l := newTestLog(nil)
	early := leadEvent(uuid.New(), KindLeadCreated)
	early.OccurredAt = fixedNow.Add(-48 * time.Hour)
	late := leadEvent(uuid.New(), KindLeadCreated)
	late.OccurredAt = fixedNow
	for _, ev := range []NewEvent{early, late} {
		if _, err := l.Append(ctx, ev, AnyVersion); err != nil {
			t.Fatalf(msgUnexpectedErr, err)
		}
	}

	count := 0
	for _, err := range l.ReadAll(ctx, ReadAllParams{Since: fixedNow.Add(-time.Hour)}) {
		if err != nil {
			t.Fatalf(msgUnexpectedErr, err)
		}
		count++
	}
	if count != 1 {
		t.Fatalf("expected 1 event since cutoff, got %d", count)
	}
}

func TestReadAllStopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := newTestLog(nil)
	for i := 0; i < 4; i++ {
		if _, err := l.Append(ctx, leadEvent(uuid.New(), KindLeadCreated), 0); err != nil {
			t.Fatalf(msgUnexpectedErr, err)
		}
	}

	seen := 0
	var lastErr error
	for _, err := range l.ReadAll(ctx, ReadAllParams{BatchSize: 2}) {
		if err != nil {
			lastErr = err
			break
		}
		seen++
		cancel()
	}
	if !errors.Is(lastErr, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", lastErr)
	}
	if seen != 2 {
		t.Fatalf("expected first batch of 2 before cancellation, got %d", seen)
	}
}

func TestAppendNotifiesSubscribersAfterCommit(t *testing.T) {
	ctx := context.Background()
	bus := events.NewInMemoryBus(nil)
	l := newTestLog(bus)

	var seen []int64
	bus.Subscribe(string(KindLeadCreated), events.HandlerFunc(func(ctx context.Context, event events.Event) error {
		appended := event.(Appended)
		stream, err := l.ReadStream(ctx, SubjectLead, appended.Event.SubjectID)
		if err != nil || len(stream) != 1 {
			t.Errorf("expected committed event visible to subscriber, got %v %v", stream, err)
		}
		seen = append(seen, appended.Event.Sequence)
		return errors.New("subscriber failure")
	}))

	if _, err := l.Append(ctx, leadEvent(uuid.New(), KindLeadCreated), 0); err != nil {
		t.Fatalf("subscriber failure must not fail append: %v", err)
	}
	if len(seen) != 1 || seen[0] != 1 {
		t.Fatalf("expected subscriber to see sequence 1, got %v", seen)
	}
}

func ruleOf(err error) string {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		return ""
	}
	details, _ := appErr.Details.(map[string]string)
	return details["rule"]
}
