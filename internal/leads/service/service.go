// Package service runs lead commands against the event log and keeps the
// scored read model in step with every lead stream.
package service

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"dealership_crm_backend/internal/eventlog"
	"dealership_crm_backend/internal/leads/domain"
	"dealership_crm_backend/internal/leads/ports"
	"dealership_crm_backend/internal/leads/repository"
	"dealership_crm_backend/internal/leads/scoring"
	"dealership_crm_backend/internal/leads/transport"
	"dealership_crm_backend/platform/apperr"
	"dealership_crm_backend/platform/logger"
	"dealership_crm_backend/platform/phone"
	"dealership_crm_backend/platform/sanitize"

	"github.com/google/uuid"
)

type Service struct {
	events ports.EventLog
	repo   repository.LeadsRepository
	opps   ports.OpportunityLookup
	scorer *scoring.Scorer
	region string
	log    *logger.Logger
}

func New(eventLog ports.EventLog, repo repository.LeadsRepository, scorer *scoring.Scorer, region string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	if region == "" {
		region = phone.DefaultRegion
	}
	return &Service{events: eventLog, repo: repo, scorer: scorer, region: region, log: log}
}

// SetOpportunityLookup enables engagement signals from linked opportunities.
func (s *Service) SetOpportunityLookup(lookup ports.OpportunityLookup) {
	s.opps = lookup
}

// Intake records a new lead. Leads with missing data are accepted and scored with zero confidence.
func (s *Service) Intake(ctx context.Context, actorID uuid.UUID, req transport.CreateLeadRequest) (transport.LeadResponse, error) {
	id := uuid.New()
	payload := domain.LeadCreated{
		FirstName:   sanitize.Text(req.FirstName),
		LastName:    sanitize.Text(req.LastName),
		Phone:       phone.NormalizeE164(req.Phone, s.region),
		Email:       strings.ToLower(strings.TrimSpace(req.Email)),
		City:        sanitize.Text(req.City),
		Zip:         strings.ToUpper(strings.TrimSpace(req.Zip)),
		Source:      scoring.NormalizeSource(req.Source),
		Priority:    req.Priority,
		Tags:        sanitize.Tags(req.Tags),
		BudgetCents: req.BudgetCents,
		IPAddress:   strings.TrimSpace(req.IPAddress),
		Notes:       sanitize.Text(req.Notes),
	}
	if req.RepID != nil {
		payload.RepID = *req.RepID
	}

	ev, err := eventlog.NewEventFor(eventlog.SubjectLead, id, eventlog.KindLeadCreated, actorID, time.Time{}, payload)
	if err != nil {
		return transport.LeadResponse{}, err
	}
	if _, err := s.events.Append(ctx, ev, 0); err != nil {
		return transport.LeadResponse{}, err
	}

	rec, peers, err := s.refresh(ctx, id)
	if err != nil {
		return transport.LeadResponse{}, err
	}
	s.rescorePeers(ctx, id, peers)
	return toLeadResponse(rec), nil
}

// Update records changed intake fields. Former and new duplicate peers are rescored.
func (s *Service) Update(ctx context.Context, id, actorID uuid.UUID, req transport.UpdateLeadRequest) (transport.LeadResponse, error) {
	change := domain.LeadUpdated{
		FirstName:   sanitize.TextPtr(req.FirstName),
		LastName:    sanitize.TextPtr(req.LastName),
		City:        sanitize.TextPtr(req.City),
		Priority:    req.Priority,
		BudgetCents: req.BudgetCents,
	}
	if req.Phone != nil {
		normalized := phone.NormalizeE164(*req.Phone, s.region)
		change.Phone = &normalized
	}
	if req.Email != nil {
		normalized := strings.ToLower(strings.TrimSpace(*req.Email))
		change.Email = &normalized
	}
	if req.Zip != nil {
		normalized := strings.ToUpper(strings.TrimSpace(*req.Zip))
		change.Zip = &normalized
	}
	if req.Source != nil {
		normalized := scoring.NormalizeSource(*req.Source)
		change.Source = &normalized
	}
	if req.Tags != nil {
		tags := sanitize.Tags(*req.Tags)
		change.Tags = &tags
	}
	if req.RepID.Set {
		rep := uuid.Nil
		if req.RepID.Value != nil {
			rep = *req.RepID.Value
		}
		change.RepID = &rep
	}
	if change.IsEmpty() {
		return transport.LeadResponse{}, ErrNothingToUpdate
	}

	var formerPeers []scoring.Peer
	if before, err := s.repo.GetByID(ctx, id); err == nil {
		formerPeers, err = s.repo.FindPeers(ctx, s.peerQuery(before.Lead, before.Keys))
		if err != nil {
			return transport.LeadResponse{}, err
		}
		formerPeers = s.related(before.Keys, before.Lead.IPAddress, formerPeers)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return transport.LeadResponse{}, err
	}

	if err := s.appendTo(ctx, id, actorID, req.ExpectedVersion, eventlog.KindLeadUpdated, time.Time{}, fixed(change)); err != nil {
		return transport.LeadResponse{}, err
	}

	rec, peers, err := s.refresh(ctx, id)
	if err != nil {
		return transport.LeadResponse{}, err
	}
	s.rescorePeers(ctx, id, append(peers, formerPeers...))
	return toLeadResponse(rec), nil
}

// LogContact records an outreach attempt. The first one also sets the response latency.
func (s *Service) LogContact(ctx context.Context, id, actorID uuid.UUID, req transport.LogContactRequest) (transport.LeadResponse, error) {
	var occurredAt time.Time
	if req.OccurredAt != nil {
		occurredAt = req.OccurredAt.UTC()
	}
	payload := domain.ContactLogged{
		Channel: req.Channel,
		Outcome: sanitize.Text(req.Outcome),
		Summary: sanitize.Text(req.Summary),
	}
	build := func(lead domain.Lead) (any, error) {
		if !occurredAt.IsZero() && occurredAt.Before(lead.CreatedAt) {
			return nil, apperr.RuleViolation("contact cannot precede lead intake").
				WithCode("contact_before_intake").
				WithDetails(rule("contact_after_intake"))
		}
		return payload, nil
	}
	return s.command(ctx, id, actorID, req.ExpectedVersion, eventlog.KindContactLogged, occurredAt, build)
}

// AddNote attaches sanitized free text. Notes feed the templated-text fraud signals.
func (s *Service) AddNote(ctx context.Context, id, actorID uuid.UUID, req transport.AddNoteRequest) (transport.LeadResponse, error) {
	body := sanitize.Text(req.Body)
	if body == "" {
		return transport.LeadResponse{}, ErrEmptyNote
	}
	return s.command(ctx, id, actorID, req.ExpectedVersion, eventlog.KindNoteAdded, time.Time{}, fixed(domain.NoteAdded{Body: body}))
}

// ScheduleFollowUp sets the next follow-up time.
func (s *Service) ScheduleFollowUp(ctx context.Context, id, actorID uuid.UUID, req transport.ScheduleFollowUpRequest) (transport.LeadResponse, error) {
	due := req.DueAt.UTC().Truncate(time.Microsecond)
	build := func(lead domain.Lead) (any, error) {
		if due.Before(lead.CreatedAt) {
			return nil, apperr.RuleViolation("follow-up cannot precede lead intake").
				WithCode("follow_up_before_intake").
				WithDetails(rule("follow_up_after_intake"))
		}
		return domain.FollowUpScheduled{DueAt: due}, nil
	}
	return s.command(ctx, id, actorID, req.ExpectedVersion, eventlog.KindFollowUpScheduled, time.Time{}, build)
}

// ChangeStatus records a manual status change.
func (s *Service) ChangeStatus(ctx context.Context, id, actorID uuid.UUID, req transport.ChangeStatusRequest) (transport.LeadResponse, error) {
	if !domain.IsKnownStatus(req.Status) {
		return transport.LeadResponse{}, apperr.Validation("unknown lead status").
			WithCode("invalid_status").
			WithDetails(map[string]string{"rule": "known_status", "status": req.Status})
	}
	build := func(lead domain.Lead) (any, error) {
		if lead.Status == req.Status {
			return nil, ErrStatusUnchanged
		}
		return domain.LeadStatusChanged{From: lead.Status, To: req.Status, Reason: sanitize.Text(req.Reason)}, nil
	}
	return s.command(ctx, id, actorID, req.ExpectedVersion, eventlog.KindLeadStatusChanged, time.Time{}, build)
}

// Archive soft-archives the lead. Archived leads accept no further events.
func (s *Service) Archive(ctx context.Context, id, actorID uuid.UUID, req transport.ArchiveLeadRequest) (transport.LeadResponse, error) {
	return s.command(ctx, id, actorID, req.ExpectedVersion, eventlog.KindLeadArchived, time.Time{}, fixed(domain.LeadArchived{Reason: sanitize.Text(req.Reason)}))
}

// Get returns the scored read model row.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (transport.LeadResponse, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return transport.LeadResponse{}, ErrLeadNotFound
	}
	if err != nil {
		return transport.LeadResponse{}, err
	}
	return toLeadResponse(rec), nil
}

// Refresh replays the lead stream and rescores it from scratch.
func (s *Service) Refresh(ctx context.Context, id uuid.UUID) (transport.LeadResponse, error) {
	rec, _, err := s.refresh(ctx, id)
	if err != nil {
		return transport.LeadResponse{}, err
	}
	return toLeadResponse(rec), nil
}

// payloadBuilder checks the current lead and returns the payload to append.
type payloadBuilder func(lead domain.Lead) (any, error)

func fixed(payload any) payloadBuilder {
	return func(domain.Lead) (any, error) { return payload, nil }
}

// command appends one event and rescores the lead.
func (s *Service) command(ctx context.Context, id, actorID uuid.UUID, expected *int, kind eventlog.Kind, occurredAt time.Time, build payloadBuilder) (transport.LeadResponse, error) {
	if err := s.appendTo(ctx, id, actorID, expected, kind, occurredAt, build); err != nil {
		return transport.LeadResponse{}, err
	}
	rec, _, err := s.refresh(ctx, id)
	if err != nil {
		return transport.LeadResponse{}, err
	}
	return toLeadResponse(rec), nil
}

// appendTo folds the stream, builds the payload and appends against the version it saw,
// or against expected when the caller supplied one.
func (s *Service) appendTo(ctx context.Context, id, actorID uuid.UUID, expected *int, kind eventlog.Kind, occurredAt time.Time, build payloadBuilder) error {
	lead, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if lead.IsArchived() {
		return ErrLeadArchived
	}
	payload, err := build(lead)
	if err != nil {
		return err
	}

	ev, err := eventlog.NewEventFor(eventlog.SubjectLead, id, kind, actorID, occurredAt, payload)
	if err != nil {
		return err
	}
	version := lead.Version
	if expected != nil {
		version = *expected
	}
	_, err = s.events.Append(ctx, ev, version)
	return err
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (domain.Lead, error) {
	stream, err := s.events.ReadStream(ctx, eventlog.SubjectLead, id)
	if err != nil {
		return domain.Lead{}, err
	}
	if len(stream) == 0 {
		return domain.Lead{}, ErrLeadNotFound
	}
	return domain.Fold(stream)
}

func (s *Service) refresh(ctx context.Context, id uuid.UUID) (repository.LeadRecord, []scoring.Peer, error) {
	lead, err := s.load(ctx, id)
	if err != nil {
		return repository.LeadRecord{}, nil, err
	}
	return s.scoreAndStore(ctx, lead)
}

// scoreAndStore scores lead against its peers in the read model and upserts the row.
// It returns the peers that need a rescore in turn.
func (s *Service) scoreAndStore(ctx context.Context, lead domain.Lead) (repository.LeadRecord, []scoring.Peer, error) {
	keys := scoring.MatchKeys(lead.FirstName, lead.LastName, lead.Phone, lead.Email, lead.City, lead.Zip, s.region)
	peers, err := s.repo.FindPeers(ctx, s.peerQuery(lead, keys))
	if err != nil {
		return repository.LeadRecord{}, nil, err
	}
	engagement, err := s.engagement(ctx, lead.ID)
	if err != nil {
		return repository.LeadRecord{}, nil, err
	}

	result := s.scorer.Score(scoring.Input{
		Lead:       lead,
		Engagement: engagement,
		Peers:      peers,
		Region:     s.region,
	})
	rec := repository.LeadRecord{Lead: lead, Keys: keys, Score: result}
	if err := s.repo.Upsert(ctx, rec); err != nil {
		return repository.LeadRecord{}, nil, err
	}
	s.log.WithContext(ctx).Debug("lead scored",
		"leadId", lead.ID,
		"version", lead.Version,
		"leadScore", result.LeadScore,
		"fakeLeadScore", result.FakeLeadScore,
		"duplicateFlags", result.DuplicateFlags,
	)
	return rec, s.related(keys, lead.IPAddress, peers), nil
}

// related keeps the peers whose own score depends on this lead.
// Location-only candidates with distant names are dropped.
func (s *Service) related(keys scoring.Keys, ipAddress string, peers []scoring.Peer) []scoring.Peer {
	return slices.DeleteFunc(slices.Clone(peers), func(p scoring.Peer) bool {
		return !s.scorer.Related(keys, ipAddress, p)
	})
}

func (s *Service) peerQuery(lead domain.Lead, keys scoring.Keys) repository.PeerQuery {
	window := s.scorer.Config().LookbackWindow()
	return repository.PeerQuery{
		ExcludeID: lead.ID,
		From:      lead.CreatedAt.Add(-window),
		To:        lead.CreatedAt.Add(window),
		Keys:      keys,
		IPAddress: lead.IPAddress,
	}
}

// rescorePeers refreshes each peer once. Peers of peers are not followed.
// The triggering command already committed, so failures are only logged.
func (s *Service) rescorePeers(ctx context.Context, selfID uuid.UUID, peers []scoring.Peer) {
	seen := map[uuid.UUID]bool{selfID: true}
	for _, p := range peers {
		if seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		if _, _, err := s.refresh(ctx, p.ID); err != nil {
			s.log.WithContext(ctx).Warn("peer rescore failed", "leadId", selfID, "peerId", p.ID, "error", err)
		}
	}
}

// Rebuild replays every lead stream from an empty read model.
// The first pass stores every lead's match keys so the second pass scores against the full peer set.
func (s *Service) Rebuild(ctx context.Context) (int, error) {
	if err := s.repo.Reset(ctx); err != nil {
		return 0, err
	}

	folded := map[uuid.UUID]*domain.Lead{}
	var order []uuid.UUID
	for ev, err := range s.events.ReadAll(ctx, eventlog.ReadAllParams{}) {
		if err != nil {
			return 0, err
		}
		if ev.SubjectType != eventlog.SubjectLead {
			continue
		}
		lead, ok := folded[ev.SubjectID]
		if !ok {
			lead = &domain.Lead{}
			folded[ev.SubjectID] = lead
			order = append(order, ev.SubjectID)
		}
		if err := lead.Apply(ev); err != nil {
			return 0, err
		}
	}

	for _, id := range order {
		lead := *folded[id]
		keys := scoring.MatchKeys(lead.FirstName, lead.LastName, lead.Phone, lead.Email, lead.City, lead.Zip, s.region)
		if err := s.repo.Upsert(ctx, repository.LeadRecord{Lead: lead, Keys: keys}); err != nil {
			return 0, err
		}
	}
	for _, id := range order {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if _, _, err := s.scoreAndStore(ctx, *folded[id]); err != nil {
			return 0, err
		}
	}

	s.log.Info("lead read model rebuilt", "leads", len(order))
	return len(order), nil
}
