package scoring

import (
	"regexp"
	"strings"

	"dealership_crm_backend/internal/leads/domain"
	"dealership_crm_backend/platform/phone"
)

// fraud sums the risk signals and records each in factors.
func (s *Scorer) fraud(lead domain.Lead, keys Keys, peers []Peer, region string, factors map[string]float64) float64 {
	cfg := s.cfg.Fraud
	score := 0.0

	if email := strings.TrimSpace(lead.Email); email != "" {
		if !IsWellFormedEmail(email) {
			score += s.addFactor(factors, "malformed_email", cfg.MalformedEmail)
		} else if _, ok := s.disposable[EmailDomain(email)]; ok {
			score += s.addFactor(factors, "disposable_email", cfg.DisposableEmail)
		}
	}
	if strings.TrimSpace(lead.Phone) != "" && !phone.IsValid(lead.Phone, region) {
		score += s.addFactor(factors, "invalid_phone", cfg.InvalidPhone)
	}

	phoneReuse, ipReuse, velocity := 0, 0, 1
	for _, p := range peers {
		if p.ID == lead.ID {
			continue
		}
		gap := absDuration(p.CreatedAt.Sub(lead.CreatedAt))
		samePhone := keys.Phone != "" && p.Keys.Phone == keys.Phone
		sameIP := lead.IPAddress != "" && p.IPAddress == lead.IPAddress

		if gap <= cfg.ReuseWindow && !s.samePerson(keys, p.Keys) {
			if samePhone {
				phoneReuse++
			}
			if sameIP {
				ipReuse++
			}
		}
		if gap <= cfg.VelocityWindow && (samePhone || sameIP) {
			velocity++
		}
	}
	if phoneReuse > 0 {
		score += s.addFactor(factors, "phone_reuse", min(float64(phoneReuse)*cfg.PhoneReuse, cfg.PhoneReuseCap))
	}
	if ipReuse > 0 {
		score += s.addFactor(factors, "ip_reuse", min(float64(ipReuse)*cfg.IPReuse, cfg.IPReuseCap))
	}
	if cfg.VelocityThreshold > 0 && velocity >= cfg.VelocityThreshold {
		score += s.addFactor(factors, "velocity", cfg.Velocity)
	}

	texts := append([]string{lead.FirstName, lead.LastName}, lead.Notes...)
	if s.matchesAny(s.templated, lead.Notes) {
		score += s.addFactor(factors, "templated_text", cfg.TemplatedText)
	}
	if s.matchesAny(s.impossible, texts) || containsDigit(lead.FirstName+lead.LastName) {
		score += s.addFactor(factors, "impossible_text", cfg.ImpossibleText)
	}

	return score
}

// samePerson treats two leads as one customer when their folded names are close.
func (s *Scorer) samePerson(a, b Keys) bool {
	if a.Name == "" || b.Name == "" {
		return false
	}
	return editDistance(a.Name, b.Name) <= s.cfg.Dedup.NameMaxDistance
}

func (s *Scorer) matchesAny(patterns []*regexp.Regexp, texts []string) bool {
	for _, t := range texts {
		if strings.TrimSpace(t) == "" {
			continue
		}
		for _, p := range patterns {
			if p.MatchString(t) {
				return true
			}
		}
	}
	return false
}
