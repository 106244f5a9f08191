package service

import (
	"slices"

	"dealership_crm_backend/internal/leads/repository"
	"dealership_crm_backend/internal/leads/transport"

	"github.com/google/uuid"
)

func toLeadResponse(rec repository.LeadRecord) transport.LeadResponse {
	l, sc := rec.Lead, rec.Score

	var repID *uuid.UUID
	if l.RepID != uuid.Nil {
		id := l.RepID
		repID = &id
	}
	flags := make([]string, 0, len(sc.DuplicateFlags))
	for _, f := range sc.DuplicateFlags {
		flags = append(flags, string(f))
	}
	duplicateOf := slices.Clone(sc.DuplicateOf)
	if duplicateOf == nil {
		duplicateOf = []uuid.UUID{}
	}
	tags := slices.Clone(l.Tags)
	if tags == nil {
		tags = []string{}
	}

	return transport.LeadResponse{
		ID: l.ID,
		Contact: transport.ContactResponse{
			FirstName: l.FirstName,
			LastName:  l.LastName,
			Phone:     l.Phone,
			Email:     l.Email,
			City:      l.City,
			Zip:       l.Zip,
		},
		Source:       l.Source,
		Status:       l.Status,
		Priority:     l.Priority,
		Tags:         tags,
		BudgetCents:  l.BudgetCents,
		RepID:        repID,
		ContactCount: l.ContactCount,
		Score: transport.ScoreResponse{
			LeadScore:             sc.LeadScore,
			FakeLeadScore:         sc.FakeLeadScore,
			ConversionProbability: sc.ConversionProbability,
			Confidence:            sc.Confidence,
			HighRisk:              sc.HighRisk,
			DuplicateFlags:        flags,
			DuplicateOf:           duplicateOf,
			Factors:               nonNilFactors(sc.Factors),
			FraudFactors:          nonNilFactors(sc.FraudFactors),
			ModelVersion:          sc.ModelVersion,
			ScoredAt:              sc.ScoredAt,
		},
		Archived:       l.IsArchived(),
		LastContactAt:  l.LastContactAt,
		NextFollowUpAt: l.NextFollowUpAt,
		ArchivedAt:     l.ArchivedAt,
		CreatedAt:      l.CreatedAt,
		LastEventAt:    l.LastEventAt,
		Version:        l.Version,
	}
}

func nonNilFactors(m map[string]float64) map[string]float64 {
	if m == nil {
		return map[string]float64{}
	}
	return m
}
