package domain

import (
	"fmt"
	"time"

	"dealership_crm_backend/internal/eventlog"

	"github.com/google/uuid"
)

// Opportunity is the projection of one opportunity stream.
type Opportunity struct {
	ID                     uuid.UUID
	LeadID                 *uuid.UUID
	Customer               Customer
	Vehicle                Vehicle
	QuoteAmountCents       int64
	Probability            int
	CurrentStage           Stage
	Priority               string
	AutoProgressionEnabled bool
	AutoLossRuleEnabled    bool
	NextAction             string
	NextActionDue          *time.Time
	FollowUpFrequency      string
	RepID                  uuid.UUID
	ReservationID          *uuid.UUID
	DealReserved           bool
	LossReason             string
	OpenedAt               time.Time
	LastActivityAt         time.Time
	ClosedAt               *time.Time
	LastEventAt            time.Time
	Version                int
}

// Fold replays an opportunity stream from empty.
func Fold(stream []eventlog.Event) (Opportunity, error) {
	var o Opportunity
	for _, e := range stream {
		if err := o.Apply(e); err != nil {
			return Opportunity{}, err
		}
	}
	return o, nil
}

// Apply advances the projection by one event.
// Every event except automation changes and derived deal events counts as activity.
func (o *Opportunity) Apply(e eventlog.Event) error {
	if e.SubjectType != eventlog.SubjectOpportunity {
		return fmt.Errorf("opportunity projection: unexpected subject type %s", e.SubjectType)
	}
	activity := true

	switch e.Kind {
	case eventlog.KindOpportunityOpened:
		var p OpportunityOpened
		if err := e.Decode(&p); err != nil {
			return err
		}
		stage := p.Stage
		if stage == "" {
			stage = StageLead
		}
		*o = Opportunity{
			ID:                     e.SubjectID,
			LeadID:                 p.LeadID,
			Customer:               p.Customer,
			Vehicle:                p.Vehicle,
			QuoteAmountCents:       p.QuoteAmountCents,
			Probability:            stage.DefaultProbability(),
			CurrentStage:           stage,
			Priority:               p.Priority,
			AutoProgressionEnabled: p.AutoProgressionEnabled,
			AutoLossRuleEnabled:    p.AutoLossRuleEnabled,
			FollowUpFrequency:      p.FollowUpFrequency,
			RepID:                  p.RepID,
			OpenedAt:               e.OccurredAt,
		}
	case eventlog.KindOpportunityUpdated:
		var p OpportunityUpdated
		if err := e.Decode(&p); err != nil {
			return err
		}
		if p.Customer != nil {
			o.Customer = *p.Customer
		}
		if p.Vehicle != nil {
			o.Vehicle = *p.Vehicle
		}
		if p.QuoteAmountCents != nil {
			o.QuoteAmountCents = *p.QuoteAmountCents
		}
		if p.Probability != nil {
			o.Probability = *p.Probability
		}
		if p.Priority != nil {
			o.Priority = *p.Priority
		}
		if p.FollowUpFrequency != nil {
			o.FollowUpFrequency = *p.FollowUpFrequency
		}
		if p.RepID != nil {
			o.RepID = *p.RepID
		}
	case eventlog.KindAutomationChanged:
		var p AutomationChanged
		if err := e.Decode(&p); err != nil {
			return err
		}
		if p.AutoProgressionEnabled != nil {
			o.AutoProgressionEnabled = *p.AutoProgressionEnabled
		}
		if p.AutoLossRuleEnabled != nil {
			o.AutoLossRuleEnabled = *p.AutoLossRuleEnabled
		}
		activity = false
	case eventlog.KindNextActionSet:
		var p NextActionSet
		if err := e.Decode(&p); err != nil {
			return err
		}
		o.NextAction = p.Action
		o.NextActionDue = p.DueAt
	case eventlog.KindQuoteSent:
		var p Activity
		if err := e.Decode(&p); err != nil {
			return err
		}
		if p.AmountCents != nil {
			o.QuoteAmountCents = *p.AmountCents
		}
	case eventlog.KindQuoteViewed, eventlog.KindTestDriveScheduled, eventlog.KindTestDriveCompleted:
	case eventlog.KindReservationMade:
		var p ReservationMade
		if err := e.Decode(&p); err != nil {
			return err
		}
		id := p.ReservationID
		o.ReservationID = &id
	case eventlog.KindStageChanged:
		var p StageChanged
		if err := e.Decode(&p); err != nil {
			return err
		}
		o.CurrentStage = p.To
		o.Probability = p.To.DefaultProbability()
		if p.To.IsTerminal() {
			at := e.OccurredAt
			o.ClosedAt = &at
		}
		if p.To == StageLost {
			o.LossReason = p.Reason
		}
	case eventlog.KindDealReserved:
		o.DealReserved = true
		activity = false
	case eventlog.KindDealWon:
		activity = false
	default:
		return fmt.Errorf("opportunity projection: unhandled kind %s", e.Kind)
	}

	o.Version = e.StreamVersion
	if e.OccurredAt.After(o.LastEventAt) {
		o.LastEventAt = e.OccurredAt
	}
	if activity && e.OccurredAt.After(o.LastActivityAt) {
		o.LastActivityAt = e.OccurredAt
	}
	return nil
}

// InactiveFor reports how long the opportunity has gone without qualifying activity.
func (o Opportunity) InactiveFor(now time.Time) time.Duration {
	return now.Sub(o.LastActivityAt)
}

// DealValueCents is the value carried by deal_reserved and deal_won.
func (o Opportunity) DealValueCents() int64 {
	return o.QuoteAmountCents
}
