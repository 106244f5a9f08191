// Package service runs opportunity commands and the stage machine automation
// against the event log, and keeps the opportunity read model current.
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"dealership_crm_backend/internal/eventlog"
	"dealership_crm_backend/internal/pipeline/domain"
	"dealership_crm_backend/internal/pipeline/ports"
	"dealership_crm_backend/internal/pipeline/repository"
	"dealership_crm_backend/internal/pipeline/transport"
	"dealership_crm_backend/platform/logger"
	"dealership_crm_backend/platform/phone"
	"dealership_crm_backend/platform/sanitize"

	"github.com/google/uuid"
)

// Settings tune the automated writers.
type Settings struct {
	// AutoLossInactivity is how long an opportunity may go without activity before the sweep loses it.
	AutoLossInactivity time.Duration
	// SweepParallelism bounds how many candidates the sweep re-checks at once.
	SweepParallelism int
	// PhoneRegion is the default region for customer phone numbers.
	PhoneRegion string
}

const (
	defaultInactivity  = 7 * 24 * time.Hour
	defaultParallelism = 4
	// automatedRetries bounds how often an automated writer re-reads a stream after a conflict.
	automatedRetries = 3
)

type Service struct {
	events   ports.EventLog
	repo     repository.OpportunitiesRepository
	settings Settings
	log      *logger.Logger
}

func New(eventLog ports.EventLog, repo repository.OpportunitiesRepository, settings Settings, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	if settings.AutoLossInactivity <= 0 {
		settings.AutoLossInactivity = defaultInactivity
	}
	if settings.SweepParallelism <= 0 {
		settings.SweepParallelism = defaultParallelism
	}
	if settings.PhoneRegion == "" {
		settings.PhoneRegion = phone.DefaultRegion
	}
	return &Service{events: eventLog, repo: repo, settings: settings, log: log}
}

// Open starts a new opportunity. Auto-progression defaults on, auto-loss off.
func (s *Service) Open(ctx context.Context, actorID uuid.UUID, req transport.OpenOpportunityRequest) (transport.OpportunityResponse, error) {
	id := uuid.New()
	stage := domain.Stage(req.Stage)
	if stage == "" {
		stage = domain.StageLead
	}
	if !domain.CanOpenAt(stage) {
		return transport.OpportunityResponse{}, ErrInvalidOpeningStage
	}
	priority := req.Priority
	if priority == "" {
		priority = "medium"
	}
	payload := domain.OpportunityOpened{
		LeadID:                 req.LeadID,
		Customer:               s.customer(req.Customer),
		Vehicle:                vehicle(req.Vehicle),
		QuoteAmountCents:       req.QuoteAmountCents,
		Stage:                  stage,
		Priority:               priority,
		AutoProgressionEnabled: req.AutoProgressionEnabled == nil || *req.AutoProgressionEnabled,
		AutoLossRuleEnabled:    req.AutoLossRuleEnabled != nil && *req.AutoLossRuleEnabled,
		FollowUpFrequency:      req.FollowUpFrequency,
	}
	if req.RepID != nil {
		payload.RepID = *req.RepID
	} else {
		payload.RepID = actorID
	}

	ev, err := eventlog.NewEventFor(eventlog.SubjectOpportunity, id, eventlog.KindOpportunityOpened, actorID, time.Time{}, payload)
	if err != nil {
		return transport.OpportunityResponse{}, err
	}
	if _, err := s.events.Append(ctx, ev, 0); err != nil {
		return transport.OpportunityResponse{}, err
	}
	return s.respond(ctx, id)
}

// Get returns the projected opportunity.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (transport.OpportunityResponse, error) {
	o, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return transport.OpportunityResponse{}, ErrOpportunityNotFound
	}
	if err != nil {
		return transport.OpportunityResponse{}, err
	}
	return toOpportunityResponse(o), nil
}

// ListOpportunityIDsByLead returns the opportunities opened for a lead, oldest first.
func (s *Service) ListOpportunityIDsByLead(ctx context.Context, leadID uuid.UUID) ([]uuid.UUID, error) {
	return s.repo.ListIDsByLead(ctx, leadID)
}

// Update records changed deal details. The stage only moves through Transition.
func (s *Service) Update(ctx context.Context, id, actorID uuid.UUID, req transport.UpdateOpportunityRequest) (transport.OpportunityResponse, error) {
	change := domain.OpportunityUpdated{
		QuoteAmountCents:  req.QuoteAmountCents,
		Probability:       req.Probability,
		Priority:          req.Priority,
		FollowUpFrequency: req.FollowUpFrequency,
		RepID:             req.RepID,
	}
	if req.Customer != nil {
		c := s.customer(*req.Customer)
		change.Customer = &c
	}
	if req.Vehicle != nil {
		v := vehicle(*req.Vehicle)
		change.Vehicle = &v
	}
	if change.IsEmpty() {
		return transport.OpportunityResponse{}, ErrNothingToUpdate
	}
	return s.command(ctx, id, actorID, req.ExpectedVersion, eventlog.KindOpportunityUpdated, time.Time{}, change)
}

// Transition applies a manual stage move. The caller must name the version it last saw.
func (s *Service) Transition(ctx context.Context, id, actorID uuid.UUID, req transport.TransitionRequest) (transport.OpportunityResponse, error) {
	o, err := s.load(ctx, id)
	if err != nil {
		return transport.OpportunityResponse{}, err
	}
	expected := o.Version
	if req.ExpectedVersion != nil {
		expected = *req.ExpectedVersion
	}
	if expected != o.Version {
		return transport.OpportunityResponse{}, eventlog.ConcurrentModification(eventlog.SubjectOpportunity, expected, o.Version)
	}

	target := domain.Stage(req.TargetStage)
	reason := sanitize.Text(req.Reason)
	override, err := domain.CheckManual(o.CurrentStage, target, req.Override, reason)
	if err != nil {
		return transport.OpportunityResponse{}, err
	}
	if err := s.changeStage(ctx, o, actorID, target, domain.TriggerManual, reason, override, expected); err != nil {
		return transport.OpportunityResponse{}, err
	}
	return s.respond(ctx, id)
}

// RecordActivity appends a quote or test drive event. Auto-progression reacts to it.
func (s *Service) RecordActivity(ctx context.Context, id, actorID uuid.UUID, req transport.RecordActivityRequest) (transport.OpportunityResponse, error) {
	kind := eventlog.Kind(req.Kind)
	switch kind {
	case eventlog.KindQuoteSent, eventlog.KindQuoteViewed, eventlog.KindTestDriveScheduled, eventlog.KindTestDriveCompleted:
	default:
		return transport.OpportunityResponse{}, ErrInvalidActivity
	}
	var occurredAt time.Time
	if req.OccurredAt != nil {
		occurredAt = req.OccurredAt.UTC()
	}
	payload := domain.Activity{
		AmountCents:  req.AmountCents,
		ScheduledFor: utcPtr(req.ScheduledFor),
		Notes:        sanitize.Text(req.Notes),
	}
	return s.command(ctx, id, actorID, req.ExpectedVersion, kind, occurredAt, payload)
}

// ToggleAutomation records changed automation flags.
func (s *Service) ToggleAutomation(ctx context.Context, id, actorID uuid.UUID, req transport.ToggleAutomationRequest) (transport.OpportunityResponse, error) {
	if req.AutoProgressionEnabled == nil && req.AutoLossRuleEnabled == nil {
		return transport.OpportunityResponse{}, ErrNothingToUpdate
	}
	payload := domain.AutomationChanged{
		AutoProgressionEnabled: req.AutoProgressionEnabled,
		AutoLossRuleEnabled:    req.AutoLossRuleEnabled,
	}
	return s.command(ctx, id, actorID, req.ExpectedVersion, eventlog.KindAutomationChanged, time.Time{}, payload)
}

// SetNextAction records the next planned step for the rep.
func (s *Service) SetNextAction(ctx context.Context, id, actorID uuid.UUID, req transport.SetNextActionRequest) (transport.OpportunityResponse, error) {
	action := sanitize.Text(req.Action)
	if action == "" {
		return transport.OpportunityResponse{}, ErrNothingToUpdate
	}
	payload := domain.NextActionSet{Action: action, DueAt: utcPtr(req.DueAt)}
	return s.command(ctx, id, actorID, req.ExpectedVersion, eventlog.KindNextActionSet, time.Time{}, payload)
}

// command appends one event to an open opportunity and returns the new projection.
func (s *Service) command(ctx context.Context, id, actorID uuid.UUID, expected *int, kind eventlog.Kind, occurredAt time.Time, payload any) (transport.OpportunityResponse, error) {
	o, err := s.load(ctx, id)
	if err != nil {
		return transport.OpportunityResponse{}, err
	}
	if o.CurrentStage.IsTerminal() {
		return transport.OpportunityResponse{}, ErrOpportunityClosed
	}
	if !occurredAt.IsZero() && occurredAt.Before(o.OpenedAt) {
		return transport.OpportunityResponse{}, ErrActivityBeforeOpen
	}
	version := o.Version
	if expected != nil {
		version = *expected
	}
	ev, err := eventlog.NewEventFor(eventlog.SubjectOpportunity, id, kind, actorID, occurredAt, payload)
	if err != nil {
		return transport.OpportunityResponse{}, err
	}
	if _, err := s.events.Append(ctx, ev, version); err != nil {
		return transport.OpportunityResponse{}, err
	}
	return s.respond(ctx, id)
}

// changeStage appends stage_changed at expected, then the derived deal event
// when the move reserves or wins the deal. A deal is reserved once per
// opportunity, so re-entering reservation_made adds no second deal_reserved.
func (s *Service) changeStage(ctx context.Context, o domain.Opportunity, actorID uuid.UUID, to domain.Stage, trigger domain.Trigger, reason string, override bool, expected int) error {
	ev, err := eventlog.NewEventFor(eventlog.SubjectOpportunity, o.ID, eventlog.KindStageChanged, actorID, time.Time{}, domain.StageChanged{
		From:     o.CurrentStage,
		To:       to,
		Trigger:  trigger,
		Reason:   reason,
		Override: override,
	})
	if err != nil {
		return err
	}
	if _, err := s.events.Append(ctx, ev, expected); err != nil {
		return err
	}
	s.log.WithContext(ctx).StageTransition(o.ID.String(), string(o.CurrentStage), string(to), string(trigger), reason)

	var dealKind eventlog.Kind
	switch to {
	case domain.StageReservationMade:
		if o.DealReserved {
			return nil
		}
		dealKind = eventlog.KindDealReserved
	case domain.StageWon:
		dealKind = eventlog.KindDealWon
	default:
		return nil
	}
	deal, err := eventlog.NewEventFor(eventlog.SubjectOpportunity, o.ID, dealKind, actorID, time.Time{}, domain.DealClosed{
		ValueCents: o.DealValueCents(),
		RepID:      o.RepID,
		LeadID:     o.LeadID,
	})
	if err != nil {
		return err
	}
	_, err = s.events.Append(ctx, deal, eventlog.AnyVersion)
	return err
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (domain.Opportunity, error) {
	stream, err := s.events.ReadStream(ctx, eventlog.SubjectOpportunity, id)
	if err != nil {
		return domain.Opportunity{}, err
	}
	if len(stream) == 0 {
		return domain.Opportunity{}, ErrOpportunityNotFound
	}
	return domain.Fold(stream)
}

// project folds the stream and upserts the read model row.
func (s *Service) project(ctx context.Context, id uuid.UUID) (domain.Opportunity, error) {
	o, err := s.load(ctx, id)
	if err != nil {
		return domain.Opportunity{}, err
	}
	if err := s.repo.Upsert(ctx, o); err != nil {
		return domain.Opportunity{}, err
	}
	return o, nil
}

func (s *Service) respond(ctx context.Context, id uuid.UUID) (transport.OpportunityResponse, error) {
	o, err := s.project(ctx, id)
	if err != nil {
		return transport.OpportunityResponse{}, err
	}
	return toOpportunityResponse(o), nil
}

// Rebuild replays every opportunity stream into an empty read model.
func (s *Service) Rebuild(ctx context.Context) (int, error) {
	if err := s.repo.Reset(ctx); err != nil {
		return 0, err
	}

	folded := map[uuid.UUID]*domain.Opportunity{}
	var order []uuid.UUID
	for ev, err := range s.events.ReadAll(ctx, eventlog.ReadAllParams{}) {
		if err != nil {
			return 0, err
		}
		if ev.SubjectType != eventlog.SubjectOpportunity {
			continue
		}
		o, ok := folded[ev.SubjectID]
		if !ok {
			o = &domain.Opportunity{}
			folded[ev.SubjectID] = o
			order = append(order, ev.SubjectID)
		}
		if err := o.Apply(ev); err != nil {
			return 0, err
		}
	}
	for _, id := range order {
		if err := s.repo.Upsert(ctx, *folded[id]); err != nil {
			return 0, err
		}
	}

	s.log.Info("opportunity read model rebuilt", "opportunities", len(order))
	return len(order), nil
}

func (s *Service) customer(c transport.CustomerDTO) domain.Customer {
	out := toCustomer(c)
	out.Name = sanitize.Text(out.Name)
	out.Phone = phone.NormalizeE164(out.Phone, s.settings.PhoneRegion)
	out.Email = strings.ToLower(strings.TrimSpace(out.Email))
	return out
}

func vehicle(v transport.VehicleDTO) domain.Vehicle {
	out := toVehicle(v)
	out.Make = sanitize.Text(out.Make)
	out.Model = sanitize.Text(out.Model)
	out.VIN = strings.ToUpper(strings.TrimSpace(out.VIN))
	return out
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC().Truncate(time.Microsecond)
	return &u
}

// EnsureOpen fails unless the opportunity exists and is not closed.
func (s *Service) EnsureOpen(ctx context.Context, id uuid.UUID) error {
	o, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if o.CurrentStage.IsTerminal() {
		return ErrOpportunityClosed
	}
	return nil
}

// RecordReservation appends reservation_made for a vehicle reservation. Auto-progression
// moves the stage to reservation_made when the flag is on.
func (s *Service) RecordReservation(ctx context.Context, id, actorID, reservationID uuid.UUID, depositCents int64) error {
	payload := domain.ReservationMade{ReservationID: reservationID, DepositCents: depositCents}
	return s.retry(ctx, func() error {
		_, err := s.command(ctx, id, actorID, nil, eventlog.KindReservationMade, time.Time{}, payload)
		return err
	})
}
