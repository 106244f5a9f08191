package domain

import (
	"time"

	"github.com/google/uuid"
)

type Customer struct {
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

type Vehicle struct {
	Make  string `json:"make,omitempty"`
	Model string `json:"model,omitempty"`
	Year  int    `json:"year,omitempty"`
	VIN   string `json:"vin,omitempty"`
}

// OpportunityOpened starts an opportunity stream.
type OpportunityOpened struct {
	LeadID                 *uuid.UUID `json:"leadId,omitempty"`
	Customer               Customer   `json:"customer"`
	Vehicle                Vehicle    `json:"vehicle"`
	QuoteAmountCents       int64      `json:"quoteAmountCents"`
	Stage                  Stage      `json:"stage"`
	Priority               string     `json:"priority"`
	AutoProgressionEnabled bool       `json:"autoProgressionEnabled"`
	AutoLossRuleEnabled    bool       `json:"autoLossRuleEnabled"`
	FollowUpFrequency      string     `json:"followUpFrequency,omitempty"`
	RepID                  uuid.UUID  `json:"repId"`
}

// OpportunityUpdated carries only the fields that changed. Stage and automation
// flags have their own events.
type OpportunityUpdated struct {
	Customer          *Customer  `json:"customer,omitempty"`
	Vehicle           *Vehicle   `json:"vehicle,omitempty"`
	QuoteAmountCents  *int64     `json:"quoteAmountCents,omitempty"`
	Probability       *int       `json:"probability,omitempty"`
	Priority          *string    `json:"priority,omitempty"`
	FollowUpFrequency *string    `json:"followUpFrequency,omitempty"`
	RepID             *uuid.UUID `json:"repId,omitempty"`
}

func (u OpportunityUpdated) IsEmpty() bool {
	return u.Customer == nil && u.Vehicle == nil && u.QuoteAmountCents == nil && u.Probability == nil &&
		u.Priority == nil && u.FollowUpFrequency == nil && u.RepID == nil
}

type AutomationChanged struct {
	AutoProgressionEnabled *bool `json:"autoProgressionEnabled,omitempty"`
	AutoLossRuleEnabled    *bool `json:"autoLossRuleEnabled,omitempty"`
}

type NextActionSet struct {
	Action string     `json:"action"`
	DueAt  *time.Time `json:"dueAt,omitempty"`
}

// Activity is the payload of quote and test drive events.
type Activity struct {
	AmountCents  *int64     `json:"amountCents,omitempty"`
	ScheduledFor *time.Time `json:"scheduledFor,omitempty"`
	Notes        string     `json:"notes,omitempty"`
}

// ReservationMade links a vehicle reservation to the opportunity.
type ReservationMade struct {
	ReservationID uuid.UUID `json:"reservationId"`
	DepositCents  int64     `json:"depositCents"`
}

// StageChanged is appended for every transition, whatever its trigger.
type StageChanged struct {
	From     Stage   `json:"from"`
	To       Stage   `json:"to"`
	Trigger  Trigger `json:"trigger"`
	Reason   string  `json:"reason,omitempty"`
	Override bool    `json:"override"`
}

// DealClosed is the payload of deal_reserved and deal_won. It repeats the deal
// value and rep so aggregations never need the rest of the stream.
type DealClosed struct {
	ValueCents int64      `json:"valueCents"`
	RepID      uuid.UUID  `json:"repId"`
	LeadID     *uuid.UUID `json:"leadId,omitempty"`
}
