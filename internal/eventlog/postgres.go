package eventlog

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// appendLockKey serializes appends so sequence order equals commit order.
// Readers using a sequence watermark therefore never skip a late commit.
const appendLockKey = 7_301_554_211

const uniqueViolation = "23505"

// PostgresStore persists events in the domain_events table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store backed by pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Append inserts event at the next stream version inside one transaction.
func (s *PostgresStore) Append(ctx context.Context, event Event, expectedVersion int) (Event, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Event{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(appendLockKey)); err != nil {
		return Event{}, err
	}

	var version int
	if err := tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(stream_version), 0)
		FROM domain_events
		WHERE subject_type = $1 AND subject_id = $2
	`, string(event.SubjectType), event.SubjectID).Scan(&version); err != nil {
		return Event{}, err
	}
	if expectedVersion != AnyVersion && expectedVersion != version {
		return Event{}, ConcurrentModification(event.SubjectType, expectedVersion, version)
	}

	event.StreamVersion = version + 1
	err = tx.QueryRow(ctx, `
		INSERT INTO domain_events (
			event_id,
			subject_type,
			subject_id,
			stream_version,
			kind,
			payload,
			actor_id,
			occurred_at,
			recorded_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING sequence
	`,
		event.ID,
		string(event.SubjectType),
		event.SubjectID,
		event.StreamVersion,
		string(event.Kind),
		[]byte(event.Payload),
		nullableUUID(event.ActorID),
		event.OccurredAt,
		event.RecordedAt,
	).Scan(&event.Sequence)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return Event{}, ConcurrentModification(event.SubjectType, expectedVersion, version+1)
		}
		return Event{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Event{}, err
	}
	return event, nil
}

// ReadStream returns the events of one subject, oldest first.
func (s *PostgresStore) ReadStream(ctx context.Context, subjectType SubjectType, subjectID uuid.UUID) ([]Event, error) {
	rows, err := s.pool.Query(ctx, selectEvents+`
		WHERE subject_type = $1 AND subject_id = $2
		ORDER BY stream_version ASC
	`, string(subjectType), subjectID)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// ReadBatch returns events in global order within (afterSequence, upToSequence].
func (s *PostgresStore) ReadBatch(ctx context.Context, afterSequence, upToSequence int64, limit int) ([]Event, error) {
	if upToSequence <= 0 {
		last, err := s.LastSequence(ctx)
		if err != nil {
			return nil, err
		}
		upToSequence = last
	}
	if limit <= 0 {
		limit = defaultBatchSize
	}
	rows, err := s.pool.Query(ctx, selectEvents+`
		WHERE sequence > $1 AND sequence <= $2
		ORDER BY sequence ASC
		LIMIT $3
	`, afterSequence, upToSequence, limit)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// LastSequence returns the sequence of the newest event, or 0 when empty.
func (s *PostgresStore) LastSequence(ctx context.Context) (int64, error) {
	var last int64
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(sequence), 0) FROM domain_events`).Scan(&last)
	return last, err
}

const selectEvents = `
	SELECT sequence, event_id, subject_type, subject_id, stream_version, kind, payload, actor_id, occurred_at, recorded_at
	FROM domain_events
`

func scanEvents(rows pgx.Rows) ([]Event, error) {
	defer rows.Close()

	out := make([]Event, 0)
	for rows.Next() {
		var (
			e           Event
			subjectType string
			kind        string
			payload     []byte
			actorID     *uuid.UUID
		)
		if err := rows.Scan(&e.Sequence, &e.ID, &subjectType, &e.SubjectID, &e.StreamVersion, &kind, &payload, &actorID, &e.OccurredAt, &e.RecordedAt); err != nil {
			return nil, err
		}
		e.SubjectType = SubjectType(subjectType)
		e.Kind = Kind(kind)
		e.Payload = payload
		if actorID != nil {
			e.ActorID = *actorID
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func nullableUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

var _ Store = (*PostgresStore)(nil)
