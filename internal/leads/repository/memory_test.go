package repository

import (
	"context"
	"testing"
	"time"

	"dealership_crm_backend/internal/leads/domain"
	"dealership_crm_backend/internal/leads/scoring"

	"github.com/google/uuid"
)

var created = time.Date(2026, 10, 5, 9, 0, 0, 0, time.UTC)

func record(keys scoring.Keys, ip string) LeadRecord {
	return LeadRecord{Lead: domain.Lead{ID: uuid.New(), CreatedAt: created, IPAddress: ip}, Keys: keys}
}

func TestFindPeersNeedsANameForLocationMatches(t *testing.T) {
	tests := []struct {
		name  string
		query scoring.Keys
		ip    string
		row   LeadRecord
		want  bool
	}{
		{"shared phone", scoring.Keys{Phone: "+12025550143"}, "", record(scoring.Keys{Phone: "+12025550143"}, ""), true},
		{"shared email", scoring.Keys{Email: "marta@example.com"}, "", record(scoring.Keys{Email: "marta@example.com"}, ""), true},
		{"shared ip", scoring.Keys{}, "203.0.113.7", record(scoring.Keys{}, "203.0.113.7"), true},
		{"named city match", scoring.Keys{Name: "marta nowak", City: "springfield"}, "", record(scoring.Keys{Name: "piotr kowalski", City: "springfield"}, ""), true},
		{"named zip match", scoring.Keys{Name: "marta nowak", Zip: "62701"}, "", record(scoring.Keys{Name: "marta nowak", Zip: "62701"}, ""), true},
		{"city without query name", scoring.Keys{City: "springfield"}, "", record(scoring.Keys{Name: "marta nowak", City: "springfield"}, ""), false},
		{"city without row name", scoring.Keys{Name: "marta nowak", City: "springfield"}, "", record(scoring.Keys{City: "springfield"}, ""), false},
		{"nothing shared", scoring.Keys{Name: "marta nowak", City: "springfield"}, "", record(scoring.Keys{Name: "marta nowak", City: "shelbyville"}, ""), false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			repo := NewMemory()
			if err := repo.Upsert(ctx, tc.row); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			peers, err := repo.FindPeers(ctx, PeerQuery{
				ExcludeID: uuid.New(),
				From:      created.Add(-time.Hour),
				To:        created.Add(time.Hour),
				Keys:      tc.query,
				IPAddress: tc.ip,
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := len(peers) == 1; got != tc.want {
				t.Fatalf("expected match=%v, got %d peers", tc.want, len(peers))
			}
		})
	}
}
