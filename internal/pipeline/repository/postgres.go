package repository

import (
	"context"
	"errors"
	"time"

	"dealership_crm_backend/internal/pipeline/domain"

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

const selectOpportunity = `
	SELECT id, lead_id, customer_name, customer_phone, customer_email,
		vehicle_make, vehicle_model, vehicle_year, vehicle_vin,
		quote_amount_cents, probability, current_stage, priority,
		auto_progression_enabled, auto_loss_rule_enabled, next_action, next_action_due,
		follow_up_frequency, rep_id, reservation_id, deal_reserved, loss_reason,
		opened_at, last_activity_at, closed_at, last_event_at, version
	FROM opportunity_read_models
`

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (domain.Opportunity, error) {
	o, err := scanOpportunity(r.pool.QueryRow(ctx, selectOpportunity+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Opportunity{}, ErrNotFound
	}
	return o, err
}

func (r *Repository) ListIDsByLead(ctx context.Context, leadID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM opportunity_read_models
		WHERE lead_id = $1
		ORDER BY opened_at ASC, id ASC
	`, leadID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

func (r *Repository) ListAutoLossCandidates(ctx context.Context, inactiveSince time.Time, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 10_000
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM opportunity_read_models
		WHERE auto_loss_rule_enabled
			AND current_stage NOT IN ('won', 'lost')
			AND last_activity_at <= $1
		ORDER BY last_activity_at ASC, id ASC
		LIMIT $2
	`, inactiveSince, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

func (r *Repository) Upsert(ctx context.Context, o domain.Opportunity) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO opportunity_read_models (
			id, lead_id, customer_name, customer_phone, customer_email,
			vehicle_make, vehicle_model, vehicle_year, vehicle_vin,
			quote_amount_cents, probability, current_stage, priority,
			auto_progression_enabled, auto_loss_rule_enabled, next_action, next_action_due,
			follow_up_frequency, rep_id, reservation_id, deal_reserved, loss_reason,
			opened_at, last_activity_at, closed_at, last_event_at, version, updated_at
		)
		VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13,
			$14, $15, $16, $17,
			$18, $19, $20, $21, $22,
			$23, $24, $25, $26, $27, now()
		)
		ON CONFLICT (id) DO UPDATE SET
			lead_id = EXCLUDED.lead_id,
			customer_name = EXCLUDED.customer_name,
			customer_phone = EXCLUDED.customer_phone,
			customer_email = EXCLUDED.customer_email,
			vehicle_make = EXCLUDED.vehicle_make,
			vehicle_model = EXCLUDED.vehicle_model,
			vehicle_year = EXCLUDED.vehicle_year,
			vehicle_vin = EXCLUDED.vehicle_vin,
			quote_amount_cents = EXCLUDED.quote_amount_cents,
			probability = EXCLUDED.probability,
			current_stage = EXCLUDED.current_stage,
			priority = EXCLUDED.priority,
			auto_progression_enabled = EXCLUDED.auto_progression_enabled,
			auto_loss_rule_enabled = EXCLUDED.auto_loss_rule_enabled,
			next_action = EXCLUDED.next_action,
			next_action_due = EXCLUDED.next_action_due,
			follow_up_frequency = EXCLUDED.follow_up_frequency,
			rep_id = EXCLUDED.rep_id,
			reservation_id = EXCLUDED.reservation_id,
			deal_reserved = EXCLUDED.deal_reserved,
			loss_reason = EXCLUDED.loss_reason,
			last_activity_at = EXCLUDED.last_activity_at,
			closed_at = EXCLUDED.closed_at,
			last_event_at = EXCLUDED.last_event_at,
			version = EXCLUDED.version,
			updated_at = now()
		WHERE opportunity_read_models.version <= EXCLUDED.version
	`,
		o.ID, o.LeadID, o.Customer.Name, o.Customer.Phone, o.Customer.Email,
		o.Vehicle.Make, o.Vehicle.Model, o.Vehicle.Year, o.Vehicle.VIN,
		o.QuoteAmountCents, o.Probability, string(o.CurrentStage), o.Priority,
		o.AutoProgressionEnabled, o.AutoLossRuleEnabled, o.NextAction, o.NextActionDue,
		o.FollowUpFrequency, o.RepID, o.ReservationID, o.DealReserved, o.LossReason,
		o.OpenedAt, o.LastActivityAt, o.ClosedAt, o.LastEventAt, o.Version,
	)
	return err
}

func (r *Repository) Reset(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `TRUNCATE opportunity_read_models`)
	return err
}

func scanOpportunity(row pgx.Row) (domain.Opportunity, error) {
	var (
		o     domain.Opportunity
		stage string
	)
	err := row.Scan(
		&o.ID, &o.LeadID, &o.Customer.Name, &o.Customer.Phone, &o.Customer.Email,
		&o.Vehicle.Make, &o.Vehicle.Model, &o.Vehicle.Year, &o.Vehicle.VIN,
		&o.QuoteAmountCents, &o.Probability, &stage, &o.Priority,
		&o.AutoProgressionEnabled, &o.AutoLossRuleEnabled, &o.NextAction, &o.NextActionDue,
		&o.FollowUpFrequency, &o.RepID, &o.ReservationID, &o.DealReserved, &o.LossReason,
		&o.OpenedAt, &o.LastActivityAt, &o.ClosedAt, &o.LastEventAt, &o.Version,
	)
	if err != nil {
		return domain.Opportunity{}, err
	}
	o.CurrentStage = domain.Stage(stage)
	o.OpenedAt = o.OpenedAt.UTC()
	o.LastActivityAt = o.LastActivityAt.UTC()
	o.LastEventAt = o.LastEventAt.UTC()
	o.NextActionDue = utcPtr(o.NextActionDue)
	o.ClosedAt = utcPtr(o.ClosedAt)
	return o, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

var _ OpportunitiesRepository = (*Repository)(nil)
