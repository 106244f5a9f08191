package repository

import (
	"context"
	"errors"

	"dealership_crm_backend/internal/kpi/aggregator"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const selectRecord = `
	SELECT s.period, s.version, s.digest, s.body, s.computed_at, s.watermark, s.published_at
	FROM kpi_snapshot_sets s
`

// Publish writes the version row and moves the current pointer in one
// transaction, serialized per period by an advisory lock.
func (r *Repository) Publish(ctx context.Context, p Publication) (Record, bool, error) {
	if !aggregator.VerifyDigest(p.Sealed.Body, p.Sealed.Digest) {
		return Record{}, false, aggregator.ErrDigestMismatch
	}
	key := p.Period.String()

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Record{}, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('kpi:' || $1))`, key); err != nil {
		return Record{}, false, err
	}

	var current *Record
	rec, err := scanRecord(tx.QueryRow(ctx, selectRecord+`
		JOIN kpi_current c ON c.period = s.period AND c.version = s.version
		WHERE c.period = $1
	`, key))
	switch {
	case err == nil:
		current = &rec
	case !errors.Is(err, pgx.ErrNoRows):
		return Record{}, false, err
	}
	if !supersedes(p, current) {
		return *current, false, nil
	}

	version := 1
	if current != nil {
		version = current.Version + 1
	}
	next, err := scanRecord(tx.QueryRow(ctx, `
		INSERT INTO kpi_snapshot_sets (period, version, digest, body, computed_at, watermark, published_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		RETURNING period, version, digest, body, computed_at, watermark, published_at
	`, key, version, p.Sealed.Digest, p.Sealed.Body, computedAtPtr(p.ComputedAt), p.Watermark))
	if err != nil {
		return Record{}, false, err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO kpi_current (period, version, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (period) DO UPDATE SET version = EXCLUDED.version, updated_at = EXCLUDED.updated_at
	`, key, version); err != nil {
		return Record{}, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, false, err
	}
	return next, true, nil
}

func (r *Repository) Current(ctx context.Context, period aggregator.Period) (Record, error) {
	rec, err := scanRecord(r.pool.QueryRow(ctx, selectRecord+`
		JOIN kpi_current c ON c.period = s.period AND c.version = s.version
		WHERE c.period = $1
	`, period.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

func (r *Repository) History(ctx context.Context, period aggregator.Period) ([]Record, error) {
	rows, err := r.pool.Query(ctx, selectRecord+`
		WHERE s.period = $1
		ORDER BY s.version DESC
	`, period.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	if err := row.Scan(
		&rec.Period,
		&rec.Version,
		&rec.Digest,
		&rec.Body,
		&rec.ComputedAt,
		&rec.Watermark,
		&rec.PublishedAt,
	); err != nil {
		return Record{}, err
	}
	if rec.ComputedAt != nil {
		t := rec.ComputedAt.UTC()
		rec.ComputedAt = &t
	}
	rec.PublishedAt = rec.PublishedAt.UTC()
	return rec, nil
}
