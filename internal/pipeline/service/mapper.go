package service

import (
	"dealership_crm_backend/internal/pipeline/domain"
	"dealership_crm_backend/internal/pipeline/transport"
)

func toOpportunityResponse(o domain.Opportunity) transport.OpportunityResponse {
	return transport.OpportunityResponse{
		ID:     o.ID,
		LeadID: o.LeadID,
		Customer: transport.CustomerDTO{
			Name:  o.Customer.Name,
			Phone: o.Customer.Phone,
			Email: o.Customer.Email,
		},
		Vehicle: transport.VehicleDTO{
			Make:  o.Vehicle.Make,
			Model: o.Vehicle.Model,
			Year:  o.Vehicle.Year,
			VIN:   o.Vehicle.VIN,
		},
		QuoteAmountCents:       o.QuoteAmountCents,
		Probability:            o.Probability,
		CurrentStage:           string(o.CurrentStage),
		Priority:               o.Priority,
		AutoProgressionEnabled: o.AutoProgressionEnabled,
		AutoLossRuleEnabled:    o.AutoLossRuleEnabled,
		NextAction:             o.NextAction,
		NextActionDue:          o.NextActionDue,
		FollowUpFrequency:      o.FollowUpFrequency,
		RepID:                  o.RepID,
		ReservationID:          o.ReservationID,
		LossReason:             o.LossReason,
		OpenedAt:               o.OpenedAt,
		LastActivityAt:         o.LastActivityAt,
		ClosedAt:               o.ClosedAt,
		Version:                o.Version,
	}
}

func toCustomer(c transport.CustomerDTO) domain.Customer {
	return domain.Customer{Name: c.Name, Phone: c.Phone, Email: c.Email}
}

func toVehicle(v transport.VehicleDTO) domain.Vehicle {
	return domain.Vehicle{Make: v.Make, Model: v.Model, Year: v.Year, VIN: v.VIN}
}
