package service

import (
	"context"
	"errors"

	"dealership_crm_backend/internal/eventlog"
	"dealership_crm_backend/internal/leads/scoring"
	"dealership_crm_backend/platform/events"

	"github.com/google/uuid"
)

// EngagementKinds are the opportunity events that change a linked lead's score.
var EngagementKinds = []eventlog.Kind{
	eventlog.KindQuoteSent,
	eventlog.KindQuoteViewed,
	eventlog.KindTestDriveScheduled,
	eventlog.KindTestDriveCompleted,
}

// opportunityLink is the part of an opportunity_opened payload naming the lead.
type opportunityLink struct {
	LeadID *uuid.UUID `json:"leadId"`
}

func (s *Service) engagement(ctx context.Context, leadID uuid.UUID) (scoring.Engagement, error) {
	var e scoring.Engagement
	if s.opps == nil {
		return e, nil
	}
	ids, err := s.opps.ListOpportunityIDsByLead(ctx, leadID)
	if err != nil {
		return e, err
	}
	for _, id := range ids {
		stream, err := s.events.ReadStream(ctx, eventlog.SubjectOpportunity, id)
		if err != nil {
			return e, err
		}
		for _, ev := range stream {
			switch ev.Kind {
			case eventlog.KindQuoteSent:
				e.QuotesSent++
			case eventlog.KindQuoteViewed:
				e.QuotesViewed++
			case eventlog.KindTestDriveScheduled:
				e.TestDrivesScheduled++
			case eventlog.KindTestDriveCompleted:
				e.TestDrivesCompleted++
			default:
				continue
			}
			if ev.OccurredAt.After(e.LastEventAt) {
				e.LastEventAt = ev.OccurredAt
			}
		}
	}
	return e, nil
}

// HandleEngagement rescores the lead linked to the opportunity an engagement event was appended to.
func (s *Service) HandleEngagement(ctx context.Context, event events.Event) error {
	appended, ok := event.(eventlog.Appended)
	if !ok || appended.Event.SubjectType != eventlog.SubjectOpportunity {
		return nil
	}
	leadID, err := s.linkedLead(ctx, appended.Event.SubjectID)
	if err != nil || leadID == uuid.Nil {
		return err
	}
	_, _, err = s.refresh(ctx, leadID)
	if errors.Is(err, ErrLeadNotFound) {
		return nil
	}
	return err
}

// linkedLead reads the lead id from the opportunity's opening event.
func (s *Service) linkedLead(ctx context.Context, opportunityID uuid.UUID) (uuid.UUID, error) {
	stream, err := s.events.ReadStream(ctx, eventlog.SubjectOpportunity, opportunityID)
	if err != nil {
		return uuid.Nil, err
	}
	for _, ev := range stream {
		if ev.Kind != eventlog.KindOpportunityOpened {
			continue
		}
		var link opportunityLink
		if err := ev.Decode(&link); err != nil {
			return uuid.Nil, err
		}
		if link.LeadID == nil {
			return uuid.Nil, nil
		}
		return *link.LeadID, nil
	}
	return uuid.Nil, nil
}
