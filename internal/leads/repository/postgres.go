package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"dealership_crm_backend/internal/leads/domain"
	"dealership_crm_backend/internal/leads/scoring"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const selectLead = `
	SELECT id, first_name, last_name, phone, email, city, zip, source, status, priority, tags,
		budget_cents, ip_address, rep_id, contact_count, created_at, first_contact_at, last_contact_at,
		next_follow_up_at, archived_at, last_event_at, version,
		phone_key, email_key, name_key, city_key, zip_key,
		lead_score, fake_lead_score, conversion_probability, confidence, duplicate_flags, duplicate_of,
		high_risk, factors, fraud_factors, model_version, scored_at
	FROM lead_read_models
`

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (LeadRecord, error) {
	rec, err := scanLead(r.pool.QueryRow(ctx, selectLead+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return LeadRecord{}, ErrNotFound
	}
	return rec, err
}

func (r *Repository) FindPeers(ctx context.Context, q PeerQuery) ([]scoring.Peer, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, created_at, phone_key, email_key, name_key, city_key, zip_key, ip_address
		FROM lead_read_models
		WHERE id <> $1
			AND created_at BETWEEN $2 AND $3
			AND (
				($4 <> '' AND phone_key = $4)
				OR ($5 <> '' AND email_key = $5)
				OR ($8 <> '' AND ip_address = $8)
				OR ($9 <> '' AND name_key <> '' AND (
					($6 <> '' AND city_key = $6) OR ($7 <> '' AND zip_key = $7)
				))
			)
		ORDER BY created_at ASC, id ASC
	`, q.ExcludeID, q.From, q.To, q.Keys.Phone, q.Keys.Email, q.Keys.City, q.Keys.Zip, q.IPAddress, q.Keys.Name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	peers := make([]scoring.Peer, 0)
	for rows.Next() {
		var p scoring.Peer
		if err := rows.Scan(&p.ID, &p.CreatedAt, &p.Keys.Phone, &p.Keys.Email, &p.Keys.Name, &p.Keys.City, &p.Keys.Zip, &p.IPAddress); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		peers = append(peers, p)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return peers, nil
}

func (r *Repository) Upsert(ctx context.Context, rec LeadRecord) error {
	l, s := rec.Lead, rec.Score
	factors, err := json.Marshal(s.Factors)
	if err != nil {
		return err
	}
	fraudFactors, err := json.Marshal(s.FraudFactors)
	if err != nil {
		return err
	}
	duplicateOf, err := json.Marshal(s.DuplicateOf)
	if err != nil {
		return err
	}
	flags := make([]string, 0, len(s.DuplicateFlags))
	for _, f := range s.DuplicateFlags {
		flags = append(flags, string(f))
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO lead_read_models (
			id, first_name, last_name, phone, email, city, zip, source, status, priority, tags,
			budget_cents, ip_address, rep_id, contact_count, created_at, first_contact_at, last_contact_at,
			next_follow_up_at, archived_at, last_event_at, version,
			phone_key, email_key, name_key, city_key, zip_key,
			lead_score, fake_lead_score, conversion_probability, confidence, duplicate_flags, duplicate_of,
			high_risk, factors, fraud_factors, model_version, scored_at, updated_at
		)
		VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17, $18,
			$19, $20, $21, $22,
			$23, $24, $25, $26, $27,
			$28, $29, $30, $31, $32, $33,
			$34, $35, $36, $37, $38, now()
		)
		ON CONFLICT (id) DO UPDATE SET
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			phone = EXCLUDED.phone,
			email = EXCLUDED.email,
			city = EXCLUDED.city,
			zip = EXCLUDED.zip,
			source = EXCLUDED.source,
			status = EXCLUDED.status,
			priority = EXCLUDED.priority,
			tags = EXCLUDED.tags,
			budget_cents = EXCLUDED.budget_cents,
			ip_address = EXCLUDED.ip_address,
			rep_id = EXCLUDED.rep_id,
			contact_count = EXCLUDED.contact_count,
			first_contact_at = EXCLUDED.first_contact_at,
			last_contact_at = EXCLUDED.last_contact_at,
			next_follow_up_at = EXCLUDED.next_follow_up_at,
			archived_at = EXCLUDED.archived_at,
			last_event_at = EXCLUDED.last_event_at,
			version = EXCLUDED.version,
			phone_key = EXCLUDED.phone_key,
			email_key = EXCLUDED.email_key,
			name_key = EXCLUDED.name_key,
			city_key = EXCLUDED.city_key,
			zip_key = EXCLUDED.zip_key,
			lead_score = EXCLUDED.lead_score,
			fake_lead_score = EXCLUDED.fake_lead_score,
			conversion_probability = EXCLUDED.conversion_probability,
			confidence = EXCLUDED.confidence,
			duplicate_flags = EXCLUDED.duplicate_flags,
			duplicate_of = EXCLUDED.duplicate_of,
			high_risk = EXCLUDED.high_risk,
			factors = EXCLUDED.factors,
			fraud_factors = EXCLUDED.fraud_factors,
			model_version = EXCLUDED.model_version,
			scored_at = EXCLUDED.scored_at,
			updated_at = now()
		WHERE lead_read_models.version <= EXCLUDED.version
	`,
		l.ID, l.FirstName, l.LastName, l.Phone, l.Email, l.City, l.Zip, l.Source, l.Status, l.Priority, nonNilStrings(l.Tags),
		l.BudgetCents, l.IPAddress, l.RepID, l.ContactCount, l.CreatedAt, l.FirstContactAt, l.LastContactAt,
		l.NextFollowUpAt, l.ArchivedAt, l.LastEventAt, l.Version,
		rec.Keys.Phone, rec.Keys.Email, rec.Keys.Name, rec.Keys.City, rec.Keys.Zip,
		s.LeadScore, s.FakeLeadScore, s.ConversionProbability, s.Confidence, flags, duplicateOf,
		s.HighRisk, factors, fraudFactors, s.ModelVersion, s.ScoredAt,
	)
	return err
}

func (r *Repository) Reset(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `TRUNCATE lead_read_models`)
	return err
}

func scanLead(row pgx.Row) (LeadRecord, error) {
	var (
		rec          LeadRecord
		l            domain.Lead
		s            scoring.Result
		flags        []string
		duplicateOf  []byte
		factors      []byte
		fraudFactors []byte
	)
	err := row.Scan(
		&l.ID, &l.FirstName, &l.LastName, &l.Phone, &l.Email, &l.City, &l.Zip, &l.Source, &l.Status, &l.Priority, &l.Tags,
		&l.BudgetCents, &l.IPAddress, &l.RepID, &l.ContactCount, &l.CreatedAt, &l.FirstContactAt, &l.LastContactAt,
		&l.NextFollowUpAt, &l.ArchivedAt, &l.LastEventAt, &l.Version,
		&rec.Keys.Phone, &rec.Keys.Email, &rec.Keys.Name, &rec.Keys.City, &rec.Keys.Zip,
		&s.LeadScore, &s.FakeLeadScore, &s.ConversionProbability, &s.Confidence, &flags, &duplicateOf,
		&s.HighRisk, &factors, &fraudFactors, &s.ModelVersion, &s.ScoredAt,
	)
	if err != nil {
		return LeadRecord{}, err
	}
	for _, f := range flags {
		s.DuplicateFlags = append(s.DuplicateFlags, domain.FlagCode(f))
	}
	if err := json.Unmarshal(duplicateOf, &s.DuplicateOf); err != nil {
		return LeadRecord{}, err
	}
	if err := json.Unmarshal(factors, &s.Factors); err != nil {
		return LeadRecord{}, err
	}
	if err := json.Unmarshal(fraudFactors, &s.FraudFactors); err != nil {
		return LeadRecord{}, err
	}
	l.CreatedAt = l.CreatedAt.UTC()
	l.LastEventAt = l.LastEventAt.UTC()
	s.ScoredAt = s.ScoredAt.UTC()
	l.FirstContactAt = utcPtr(l.FirstContactAt)
	l.LastContactAt = utcPtr(l.LastContactAt)
	l.NextFollowUpAt = utcPtr(l.NextFollowUpAt)
	l.ArchivedAt = utcPtr(l.ArchivedAt)

	rec.Lead, rec.Score = l, s
	return rec, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

var _ LeadsRepository = (*Repository)(nil)
