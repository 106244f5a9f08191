// Package service runs reservation commands. Reservations are folded from their
// stream on every read; nothing else queries them.
package service

import (
	"context"
	"strings"
	"time"

	"dealership_crm_backend/internal/eventlog"
	"dealership_crm_backend/internal/reservations/domain"
	"dealership_crm_backend/internal/reservations/ports"
	"dealership_crm_backend/internal/reservations/transport"
	"dealership_crm_backend/platform/apperr"
	"dealership_crm_backend/platform/logger"
	"dealership_crm_backend/platform/sanitize"

	"github.com/google/uuid"
)

var (
	ErrReservationNotFound = apperr.NotFound("reservation not found").WithCode("reservation_not_found")
	ErrExpiryInPast        = apperr.Validation("expiry must be in the future").WithCode("invalid_expiry").WithDetails(map[string]string{"rule": "expiry_in_future"})
)

// reasonOpportunityUnavailable cancels a hold whose opportunity could not record it.
const reasonOpportunityUnavailable = "opportunity_unavailable"

type Service struct {
	events   ports.EventLog
	pipeline ports.Pipeline
	now      func() time.Time
	log      *logger.Logger
}

func New(eventLog ports.EventLog, pipeline ports.Pipeline, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{events: eventLog, pipeline: pipeline, now: time.Now, log: log}
}

// SetClock overrides the clock used for expiry checks.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Create holds a vehicle for an open opportunity and records the hold on the
// opportunity stream. If the opportunity rejects it the hold is cancelled again.
func (s *Service) Create(ctx context.Context, actorID uuid.UUID, req transport.CreateReservationRequest) (transport.ReservationResponse, error) {
	expiresAt := utcPtr(req.ExpiresAt)
	if expiresAt != nil && !expiresAt.After(s.now()) {
		return transport.ReservationResponse{}, ErrExpiryInPast
	}
	if err := s.pipeline.EnsureOpen(ctx, req.PipelineID); err != nil {
		return transport.ReservationResponse{}, err
	}

	id := uuid.New()
	payload := domain.ReservationCreated{
		PipelineID: req.PipelineID,
		Vehicle: domain.Vehicle{
			Make:  sanitize.Text(req.Vehicle.Make),
			Model: sanitize.Text(req.Vehicle.Model),
			Year:  req.Vehicle.Year,
			VIN:   strings.ToUpper(strings.TrimSpace(req.Vehicle.VIN)),
		},
		DepositCents: req.DepositCents,
		ExpiresAt:    expiresAt,
		Notes:        sanitize.Text(req.Notes),
	}
	if err := s.append(ctx, id, actorID, eventlog.KindReservationCreated, payload, 0); err != nil {
		return transport.ReservationResponse{}, err
	}

	if err := s.pipeline.RecordReservation(ctx, req.PipelineID, actorID, id, req.DepositCents); err != nil {
		change := domain.ReservationStatusChanged{From: domain.StatusPending, To: domain.StatusCancelled, Reason: reasonOpportunityUnavailable}
		if cerr := s.append(ctx, id, actorID, eventlog.KindReservationStatusChanged, change, 1); cerr != nil {
			s.log.WithContext(ctx).Error("reservation compensation failed", "reservationId", id, "error", cerr)
		}
		return transport.ReservationResponse{}, err
	}
	return s.Get(ctx, id)
}

// ChangeStatus moves the reservation along its lifecycle.
func (s *Service) ChangeStatus(ctx context.Context, id, actorID uuid.UUID, req transport.ChangeStatusRequest) (transport.ReservationResponse, error) {
	r, err := s.load(ctx, id)
	if err != nil {
		return transport.ReservationResponse{}, err
	}
	target := domain.Status(req.Status)
	if err := domain.CheckStatusChange(r.Status, target); err != nil {
		return transport.ReservationResponse{}, err
	}
	expected := r.Version
	if req.ExpectedVersion != nil {
		expected = *req.ExpectedVersion
	}
	change := domain.ReservationStatusChanged{From: r.Status, To: target, Reason: sanitize.Text(req.Reason)}
	if err := s.append(ctx, id, actorID, eventlog.KindReservationStatusChanged, change, expected); err != nil {
		return transport.ReservationResponse{}, err
	}
	return s.Get(ctx, id)
}

// Get folds the reservation stream.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (transport.ReservationResponse, error) {
	r, err := s.load(ctx, id)
	if err != nil {
		return transport.ReservationResponse{}, err
	}
	return s.toResponse(r), nil
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (domain.Reservation, error) {
	stream, err := s.events.ReadStream(ctx, eventlog.SubjectReservation, id)
	if err != nil {
		return domain.Reservation{}, err
	}
	if len(stream) == 0 {
		return domain.Reservation{}, ErrReservationNotFound
	}
	return domain.Fold(stream)
}

func (s *Service) append(ctx context.Context, id, actorID uuid.UUID, kind eventlog.Kind, payload any, expected int) error {
	ev, err := eventlog.NewEventFor(eventlog.SubjectReservation, id, kind, actorID, time.Time{}, payload)
	if err != nil {
		return err
	}
	_, err = s.events.Append(ctx, ev, expected)
	return err
}

func (s *Service) toResponse(r domain.Reservation) transport.ReservationResponse {
	return transport.ReservationResponse{
		ID:         r.ID,
		PipelineID: r.PipelineID,
		Vehicle: transport.VehicleDTO{
			Make:  r.Vehicle.Make,
			Model: r.Vehicle.Model,
			Year:  r.Vehicle.Year,
			VIN:   r.Vehicle.VIN,
		},
		DepositCents:    r.DepositCents,
		Status:          string(r.Status),
		StatusReason:    r.StatusReason,
		Expired:         r.IsExpired(s.now()),
		ExpiresAt:       r.ExpiresAt,
		Notes:           r.Notes,
		CreatedAt:       r.CreatedAt,
		StatusChangedAt: r.StatusChangedAt,
		Version:         r.Version,
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC().Truncate(time.Microsecond)
	return &u
}
