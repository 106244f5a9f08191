package eventlog

import (
	"context"
	"iter"
	"time"

	"dealership_crm_backend/platform/events"
	"dealership_crm_backend/platform/logger"

	"github.com/google/uuid"
)

const (
	defaultBatchSize = 500
	// DefaultMaxClockSkew is how far past the recording clock an occurredAt may lie.
	DefaultMaxClockSkew = 2 * time.Minute
)

// Appended is published on the bus after an event commits.
// Its EventName is the event kind, so subscribers register per kind.
type Appended struct {
	Event Event
}

// EventName implements events.Event.
func (a Appended) EventName() string { return string(a.Event.Kind) }

// OccurredAt implements events.Event.
func (a Appended) OccurredAt() time.Time { return a.Event.OccurredAt }

// Log validates, records and announces events.
type Log struct {
	store Store
	bus   events.Bus
	log   *logger.Logger
	now   func() time.Time
	skew  time.Duration
}

// Option configures a Log.
type Option func(*Log)

// WithClock overrides the recording clock.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// WithMaxClockSkew bounds how far into the future an occurredAt may be.
// Negative values are treated as zero.
func WithMaxClockSkew(skew time.Duration) Option {
	return func(l *Log) { l.skew = max(skew, 0) }
}

// New creates a Log over store. bus may be nil when nothing subscribes.
func New(store Store, bus events.Bus, log *logger.Logger, opts ...Option) *Log {
	if log == nil {
		log = logger.Nop()
	}
	l := &Log{store: store, bus: bus, log: log, now: time.Now, skew: DefaultMaxClockSkew}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append records ev after checking it and the stream's expected version.
// Pass AnyVersion to skip the concurrency check. An occurredAt later than the
// recording clock plus the allowed skew is rejected. Subscribers run synchronously
// once the event is committed; their failures are logged, never returned.
func (l *Log) Append(ctx context.Context, ev NewEvent, expectedVersion int) (Event, error) {
	if err := ev.Validate(); err != nil {
		l.log.WithContext(ctx).EventRejected(string(ev.SubjectType), ev.SubjectID.String(), string(ev.Kind), err)
		return Event{}, err
	}

	recordedAt := normalizeTime(l.now())
	occurredAt := recordedAt
	if !ev.OccurredAt.IsZero() {
		occurredAt = normalizeTime(ev.OccurredAt)
	}
	if occurredAt.After(recordedAt.Add(l.skew)) {
		err := InvalidEvent("event cannot occur in the future").WithDetails(map[string]string{
			"rule":       "occurred_not_in_future",
			"occurredAt": occurredAt.Format(time.RFC3339),
			"recordedAt": recordedAt.Format(time.RFC3339),
		})
		l.log.WithContext(ctx).EventRejected(string(ev.SubjectType), ev.SubjectID.String(), string(ev.Kind), err)
		return Event{}, err
	}

	stored, err := l.store.Append(ctx, Event{
		ID:          uuid.New(),
		OccurredAt:  occurredAt,
		RecordedAt:  recordedAt,
		SubjectType: ev.SubjectType,
		SubjectID:   ev.SubjectID,
		Kind:        ev.Kind,
		Payload:     append([]byte(nil), ev.Payload...),
		ActorID:     ev.ActorID,
	}, expectedVersion)
	if err != nil {
		return Event{}, err
	}

	if l.bus != nil {
		if err := l.bus.PublishSync(ctx, Appended{Event: stored}); err != nil {
			l.log.WithContext(ctx).Error("event subscriber failed",
				"kind", stored.Kind,
				"subjectId", stored.SubjectID,
				"sequence", stored.Sequence,
				"error", err,
			)
		}
	}
	return stored, nil
}

// ReadStream returns a subject's events, oldest first.
func (l *Log) ReadStream(ctx context.Context, subjectType SubjectType, subjectID uuid.UUID) ([]Event, error) {
	return l.store.ReadStream(ctx, subjectType, subjectID)
}

// LastSequence returns the newest global sequence.
func (l *Log) LastSequence(ctx context.Context) (int64, error) {
	return l.store.LastSequence(ctx)
}

// ReadAllParams bounds a ReadAll call.
type ReadAllParams struct {
	// Since skips events that occurred before it. Zero reads from the start.
	Since time.Time
	// AfterSequence skips events up to and including this sequence.
	AfterSequence int64
	// UpToSequence is the watermark. Zero means the newest sequence at call time.
	UpToSequence int64
	// BatchSize is the number of events fetched per store round trip.
	BatchSize int
}

// ReadAll lazily yields events in append order, fetching one batch at a time.
// The sequence is finite: it stops at the watermark fixed when iteration starts.
// Cancellation is checked between batches and surfaces as the yielded error.
func (l *Log) ReadAll(ctx context.Context, params ReadAllParams) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		upTo := params.UpToSequence
		if upTo <= 0 {
			last, err := l.store.LastSequence(ctx)
			if err != nil {
				yield(Event{}, err)
				return
			}
			upTo = last
		}
		batchSize := params.BatchSize
		if batchSize <= 0 {
			batchSize = defaultBatchSize
		}

		after := params.AfterSequence
		for after < upTo {
			if err := ctx.Err(); err != nil {
				yield(Event{}, err)
				return
			}
			batch, err := l.store.ReadBatch(ctx, after, upTo, batchSize)
			if err != nil {
				yield(Event{}, err)
				return
			}
			if len(batch) == 0 {
				return
			}
			for _, e := range batch {
				if !params.Since.IsZero() && e.OccurredAt.Before(params.Since) {
					continue
				}
				if !yield(e, nil) {
					return
				}
			}
			after = batch[len(batch)-1].Sequence
		}
	}
}

// normalizeTime drops sub-microsecond precision and location so that
// in-memory and Postgres-backed logs replay identical timestamps.
func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
