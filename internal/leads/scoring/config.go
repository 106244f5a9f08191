package scoring

import (
	"cmp"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable weight and threshold of the scorer.
// Maps in a YAML file are merged over the defaults; lists replace them.
type Config struct {
	ModelVersion       string             `yaml:"model_version"`
	BaseScore          float64            `yaml:"base_score"`
	SourceScores       map[string]float64 `yaml:"source_scores"`
	UnknownSourceScore float64            `yaml:"unknown_source_score"`
	Completeness       CompletenessConfig `yaml:"completeness"`
	Latency            LatencyConfig      `yaml:"response_latency"`
	BudgetSpecified    float64            `yaml:"budget_specified"`
	Engagement         EngagementConfig   `yaml:"engagement"`
	Conversion         ConversionConfig   `yaml:"conversion"`
	Fraud              FraudConfig        `yaml:"fraud"`
	Dedup              DedupConfig        `yaml:"dedup"`
}

type CompletenessConfig struct {
	Name     float64 `yaml:"name"`
	Phone    float64 `yaml:"phone"`
	Email    float64 `yaml:"email"`
	Location float64 `yaml:"location"`
}

// LatencyBand awards Points when the first contact happened within Within of intake.
type LatencyBand struct {
	Within time.Duration `yaml:"within"`
	Points float64       `yaml:"points"`
}

type LatencyConfig struct {
	Bands            []LatencyBand `yaml:"bands"`
	NoContactAfter   time.Duration `yaml:"no_contact_after"`
	NoContactPenalty float64       `yaml:"no_contact_penalty"`
}

type EngagementConfig struct {
	Contact            float64 `yaml:"contact"`
	MaxContacts        int     `yaml:"max_contacts"`
	QuoteSent          float64 `yaml:"quote_sent"`
	QuoteViewed        float64 `yaml:"quote_viewed"`
	TestDriveScheduled float64 `yaml:"test_drive_scheduled"`
	TestDriveCompleted float64 `yaml:"test_drive_completed"`
	MaxPerKind         int     `yaml:"max_per_kind"`
	Cap                float64 `yaml:"cap"`
}

type ConversionConfig struct {
	Scale            float64 `yaml:"scale"`
	DuplicatePenalty float64 `yaml:"duplicate_penalty"`
}

type FraudConfig struct {
	MalformedEmail     float64       `yaml:"malformed_email"`
	DisposableEmail    float64       `yaml:"disposable_email"`
	InvalidPhone       float64       `yaml:"invalid_phone"`
	PhoneReuse         float64       `yaml:"phone_reuse"`
	PhoneReuseCap      float64       `yaml:"phone_reuse_cap"`
	IPReuse            float64       `yaml:"ip_reuse"`
	IPReuseCap         float64       `yaml:"ip_reuse_cap"`
	TemplatedText      float64       `yaml:"templated_text"`
	ImpossibleText     float64       `yaml:"impossible_text"`
	Velocity           float64       `yaml:"velocity"`
	ReuseWindow        time.Duration `yaml:"reuse_window"`
	VelocityWindow     time.Duration `yaml:"velocity_window"`
	VelocityThreshold  int           `yaml:"velocity_threshold"`
	HighRiskThreshold  int           `yaml:"high_risk_threshold"`
	DisposableDomains  []string      `yaml:"disposable_domains"`
	TemplatedPatterns  []string      `yaml:"templated_patterns"`
	ImpossiblePatterns []string      `yaml:"impossible_patterns"`
}

type DedupConfig struct {
	Window          time.Duration `yaml:"window"`
	NameMaxDistance int           `yaml:"name_max_distance"`
}

// DefaultConfig returns the built-in scoring model.
func DefaultConfig() Config {
	return Config{
		ModelVersion: "2026.10-1",
		BaseScore:    30,
		SourceScores: map[string]float64{
			"referral":        20,
			"repeat_customer": 18,
			"walk_in":         16,
			"phone_in":        12,
			"web_form":        8,
			"marketplace":     6,
			"social":          4,
			"event":           4,
			"purchased_list":  -6,
		},
		UnknownSourceScore: 0,
		Completeness:       CompletenessConfig{Name: 4, Phone: 6, Email: 6, Location: 4},
		Latency: LatencyConfig{
			Bands: []LatencyBand{
				{Within: time.Hour, Points: 12},
				{Within: 4 * time.Hour, Points: 8},
				{Within: 24 * time.Hour, Points: 4},
				{Within: 72 * time.Hour, Points: 0},
			},
			NoContactAfter:   72 * time.Hour,
			NoContactPenalty: -8,
		},
		BudgetSpecified: 8,
		Engagement: EngagementConfig{
			Contact:            2,
			MaxContacts:        5,
			QuoteSent:          4,
			QuoteViewed:        6,
			TestDriveScheduled: 8,
			TestDriveCompleted: 12,
			MaxPerKind:         2,
			Cap:                30,
		},
		Conversion: ConversionConfig{Scale: 0.9, DuplicatePenalty: 5},
		Fraud: FraudConfig{
			MalformedEmail:    35,
			DisposableEmail:   40,
			InvalidPhone:      15,
			PhoneReuse:        20,
			PhoneReuseCap:     40,
			IPReuse:           10,
			IPReuseCap:        30,
			TemplatedText:     20,
			ImpossibleText:    25,
			Velocity:          30,
			ReuseWindow:       30 * 24 * time.Hour,
			VelocityWindow:    time.Hour,
			VelocityThreshold: 3,
			HighRiskThreshold: 70,
			DisposableDomains: []string{
				"mailinator.com", "guerrillamail.com", "10minutemail.com", "tempmail.com",
				"trashmail.com", "yopmail.com", "sharklasers.com", "getnada.com", "dispostable.com",
			},
			TemplatedPatterns: []string{
				`(?i)lorem ipsum`,
				`(?i)^\s*(test|asdf|qwerty|xxx+|n/?a)\s*$`,
				`(?i)\{\{\s*\w+\s*\}\}`,
				`(?i)(buy now|click here|free money)`,
			},
			ImpossiblePatterns: []string{
				`(?i)\b(18\d\d|19[0-4]\d|2[1-9]\d\d)\s+model\b`,
				`(?i)\bbudget\b[^0-9]*\b\d{10,}\b`,
				`[!?.]{6,}`,
			},
		},
		Dedup: DedupConfig{Window: 30 * 24 * time.Hour, NameMaxDistance: 2},
	}
}

// LoadConfig reads a YAML model from path over the defaults. An empty path returns the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read scoring config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse scoring config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects models that would make scores meaningless.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ModelVersion) == "" {
		return fmt.Errorf("scoring config: model_version is required")
	}
	if c.Fraud.HighRiskThreshold < 0 || c.Fraud.HighRiskThreshold > 100 {
		return fmt.Errorf("scoring config: high_risk_threshold must be within 0..100")
	}
	if c.Dedup.Window <= 0 || c.Fraud.ReuseWindow <= 0 || c.Fraud.VelocityWindow <= 0 {
		return fmt.Errorf("scoring config: windows must be positive")
	}
	if !slices.IsSortedFunc(c.Latency.Bands, func(a, b LatencyBand) int { return cmp.Compare(a.Within, b.Within) }) {
		return fmt.Errorf("scoring config: response_latency bands must be ordered by within")
	}
	for _, p := range append(slices.Clone(c.Fraud.TemplatedPatterns), c.Fraud.ImpossiblePatterns...) {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("scoring config: pattern %q: %w", p, err)
		}
	}
	return nil
}

// LookbackWindow is the widest window any peer comparison needs.
func (c Config) LookbackWindow() time.Duration {
	return max(c.Dedup.Window, c.Fraud.ReuseWindow, c.Fraud.VelocityWindow)
}
