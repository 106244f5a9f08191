// Package scoring computes lead quality and fraud signals.
// Scores are a pure function of the lead, its engagement and its peers:
// there is no wall clock, "now" is the newest event time supplied in Input.
package scoring

import (
	"math"
	"regexp"
	"slices"
	"strings"
	"time"

	"dealership_crm_backend/internal/leads/domain"
	"dealership_crm_backend/platform/phone"

	"github.com/google/uuid"
)

// Engagement counts opportunity events linked to the lead.
type Engagement struct {
	QuotesSent          int
	QuotesViewed        int
	TestDrivesScheduled int
	TestDrivesCompleted int
	LastEventAt         time.Time
}

// Peer is another lead considered for duplicate and reuse detection.
type Peer struct {
	ID        uuid.UUID
	CreatedAt time.Time
	Keys      Keys
	IPAddress string
}

// Input is everything a score depends on.
type Input struct {
	Lead       domain.Lead
	Engagement Engagement
	Peers      []Peer
	// Now is the newest event time among the inputs. Zero derives it from Lead and Engagement.
	Now    time.Time
	Region string
}

// Result is a scored lead.
type Result struct {
	LeadScore             int                `json:"leadScore"`
	FakeLeadScore         int                `json:"fakeLeadScore"`
	ConversionProbability int                `json:"conversionProbability"`
	Confidence            int                `json:"confidence"`
	DuplicateFlags        []domain.FlagCode  `json:"duplicateFlags"`
	DuplicateOf           []uuid.UUID        `json:"duplicateOf,omitempty"`
	HighRisk              bool               `json:"highRisk"`
	Factors               map[string]float64 `json:"factors"`
	FraudFactors          map[string]float64 `json:"fraudFactors"`
	ModelVersion          string             `json:"modelVersion"`
	ScoredAt              time.Time          `json:"scoredAt"`
}

// Scorer applies one compiled Config.
type Scorer struct {
	cfg        Config
	disposable map[string]struct{}
	templated  []*regexp.Regexp
	impossible []*regexp.Regexp
}

// NewScorer compiles cfg.
func NewScorer(cfg Config) (*Scorer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Scorer{cfg: cfg, disposable: make(map[string]struct{}, len(cfg.Fraud.DisposableDomains))}
	for _, d := range cfg.Fraud.DisposableDomains {
		s.disposable[strings.ToLower(strings.TrimSpace(d))] = struct{}{}
	}
	for _, p := range cfg.Fraud.TemplatedPatterns {
		s.templated = append(s.templated, regexp.MustCompile(p))
	}
	for _, p := range cfg.Fraud.ImpossiblePatterns {
		s.impossible = append(s.impossible, regexp.MustCompile(p))
	}
	return s, nil
}

// Config returns the model in use.
func (s *Scorer) Config() Config { return s.cfg }

// IsHighRisk reports whether a fake lead score falls in the high-risk band.
func (s *Scorer) IsHighRisk(fakeLeadScore int) bool {
	return fakeLeadScore > s.cfg.Fraud.HighRiskThreshold
}

// Score computes every signal for in. It never fails: missing data lowers confidence instead.
func (s *Scorer) Score(in Input) Result {
	lead := in.Lead
	now := in.Now
	if now.IsZero() {
		now = lead.LastEventAt
		if in.Engagement.LastEventAt.After(now) {
			now = in.Engagement.LastEventAt
		}
	}
	keys := MatchKeys(lead.FirstName, lead.LastName, lead.Phone, lead.Email, lead.City, lead.Zip, in.Region)

	res := Result{
		Factors:      map[string]float64{},
		FraudFactors: map[string]float64{},
		ModelVersion: s.cfg.ModelVersion,
		ScoredAt:     now,
	}

	flags, dupOf := s.duplicates(lead, keys, in.Peers)
	fake := s.fraud(lead, keys, in.Peers, in.Region, res.FraudFactors)
	res.FakeLeadScore = clampScore(fake)
	res.HighRisk = s.IsHighRisk(res.FakeLeadScore)
	res.DuplicateOf = dupOf

	if insufficientData(lead) {
		res.DuplicateFlags = append(flags, domain.FlagInsufficientData)
		sortFlags(res.DuplicateFlags)
		return res
	}
	res.DuplicateFlags = flags

	score := s.cfg.BaseScore
	score += s.addFactor(res.Factors, "source", s.scoreSource(lead.Source))
	score += s.addFactor(res.Factors, "completeness", s.scoreCompleteness(lead, keys, in.Region))
	score += s.addFactor(res.Factors, "response_latency", s.scoreLatency(lead, now))
	score += s.addFactor(res.Factors, "budget", s.scoreBudget(lead))
	score += s.addFactor(res.Factors, "engagement", s.scoreEngagement(lead, in.Engagement))
	res.LeadScore = clampScore(score)

	conv := float64(res.LeadScore) * s.cfg.Conversion.Scale * float64(100-res.FakeLeadScore) / 100
	conv -= s.cfg.Conversion.DuplicatePenalty * float64(len(flags))
	res.ConversionProbability = clampScore(conv)
	res.Confidence = confidence(lead, keys, s.knownSource(lead.Source))
	return res
}

func (s *Scorer) addFactor(factors map[string]float64, key string, value float64) float64 {
	if math.Abs(value) < 0.01 {
		return 0
	}
	factors[key] = math.Round(value*10) / 10
	return value
}

func insufficientData(lead domain.Lead) bool {
	noName := strings.TrimSpace(lead.FirstName) == "" && strings.TrimSpace(lead.LastName) == ""
	noChannel := strings.TrimSpace(lead.Phone) == "" && strings.TrimSpace(lead.Email) == ""
	return noName || noChannel
}

func (s *Scorer) knownSource(source string) bool {
	_, ok := s.cfg.SourceScores[NormalizeSource(source)]
	return ok
}

func (s *Scorer) scoreSource(source string) float64 {
	if v, ok := s.cfg.SourceScores[NormalizeSource(source)]; ok {
		return v
	}
	return s.cfg.UnknownSourceScore
}

func (s *Scorer) scoreCompleteness(lead domain.Lead, keys Keys, region string) float64 {
	w := s.cfg.Completeness
	score := 0.0
	if strings.TrimSpace(lead.FirstName) != "" && strings.TrimSpace(lead.LastName) != "" {
		score += w.Name
	}
	if phone.IsValid(lead.Phone, region) {
		score += w.Phone
	}
	if keys.Email != "" {
		score += w.Email
	}
	if keys.City != "" || keys.Zip != "" {
		score += w.Location
	}
	return score
}

// scoreLatency rewards a fast first contact and penalizes leads left untouched.
func (s *Scorer) scoreLatency(lead domain.Lead, now time.Time) float64 {
	cfg := s.cfg.Latency
	if lead.FirstContactAt == nil {
		if cfg.NoContactAfter > 0 && now.Sub(lead.CreatedAt) >= cfg.NoContactAfter {
			return cfg.NoContactPenalty
		}
		return 0
	}
	elapsed := lead.FirstContactAt.Sub(lead.CreatedAt)
	for _, band := range cfg.Bands {
		if elapsed <= band.Within {
			return band.Points
		}
	}
	return 0
}

func (s *Scorer) scoreBudget(lead domain.Lead) float64 {
	if lead.BudgetCents != nil && *lead.BudgetCents > 0 {
		return s.cfg.BudgetSpecified
	}
	return 0
}

func (s *Scorer) scoreEngagement(lead domain.Lead, e Engagement) float64 {
	cfg := s.cfg.Engagement
	capped := func(n int) float64 {
		if cfg.MaxPerKind > 0 && n > cfg.MaxPerKind {
			n = cfg.MaxPerKind
		}
		return float64(n)
	}
	contacts := lead.ContactCount
	if cfg.MaxContacts > 0 && contacts > cfg.MaxContacts {
		contacts = cfg.MaxContacts
	}

	score := float64(contacts) * cfg.Contact
	score += capped(e.QuotesSent) * cfg.QuoteSent
	score += capped(e.QuotesViewed) * cfg.QuoteViewed
	score += capped(e.TestDrivesScheduled) * cfg.TestDriveScheduled
	score += capped(e.TestDrivesCompleted) * cfg.TestDriveCompleted
	if cfg.Cap > 0 && score > cfg.Cap {
		score = cfg.Cap
	}
	return score
}

func confidence(lead domain.Lead, keys Keys, knownSource bool) int {
	signals := []bool{
		keys.Name != "",
		keys.Phone != "" || keys.Email != "",
		knownSource,
		lead.BudgetCents != nil && *lead.BudgetCents > 0,
		lead.ContactCount > 0,
	}
	present := 0
	for _, ok := range signals {
		if ok {
			present++
		}
	}
	return present * 100 / len(signals)
}

func clampScore(value float64) int {
	rounded := int(math.Round(value))
	if rounded < 0 {
		return 0
	}
	if rounded > 100 {
		return 100
	}
	return rounded
}

func sortFlags(flags []domain.FlagCode) {
	slices.Sort(flags)
}
