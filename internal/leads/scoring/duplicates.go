package scoring

import (
	"bytes"
	"slices"
	"time"

	"dealership_crm_backend/internal/leads/domain"

	"github.com/google/uuid"
)

// duplicates matches lead against peers created within the dedup window on either side,
// so both leads of a pair carry the flag.
func (s *Scorer) duplicates(lead domain.Lead, keys Keys, peers []Peer) ([]domain.FlagCode, []uuid.UUID) {
	window := s.cfg.Dedup.Window
	found := map[domain.FlagCode]bool{}
	var matched []uuid.UUID

	for _, p := range peers {
		if p.ID == lead.ID || absDuration(p.CreatedAt.Sub(lead.CreatedAt)) > window {
			continue
		}
		hit := false
		if keys.Phone != "" && p.Keys.Phone == keys.Phone {
			found[domain.FlagDuplicatePhone] = true
			hit = true
		}
		if keys.Email != "" && p.Keys.Email == keys.Email {
			found[domain.FlagDuplicateEmail] = true
			hit = true
		}
		if sameLocation(keys, p.Keys) && s.samePerson(keys, p.Keys) {
			found[domain.FlagDuplicateNameLocation] = true
			hit = true
		}
		if hit {
			matched = append(matched, p.ID)
		}
	}

	flags := make([]domain.FlagCode, 0, len(found))
	for f := range found {
		flags = append(flags, f)
	}
	sortFlags(flags)
	slices.SortFunc(matched, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })
	return flags, slices.Compact(matched)
}

// Related reports whether p's score can change with a lead holding keys and
// ipAddress: a shared phone, email or IP, or a close name at the same location.
func (s *Scorer) Related(keys Keys, ipAddress string, p Peer) bool {
	return (keys.Phone != "" && p.Keys.Phone == keys.Phone) ||
		(keys.Email != "" && p.Keys.Email == keys.Email) ||
		(ipAddress != "" && p.IPAddress == ipAddress) ||
		(sameLocation(keys, p.Keys) && s.samePerson(keys, p.Keys))
}

func sameLocation(a, b Keys) bool {
	return (a.City != "" && b.City == a.City) || (a.Zip != "" && b.Zip == a.Zip)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
