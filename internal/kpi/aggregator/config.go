package aggregator

import (
	"fmt"
	"os"
	"strings"

	"dealership_crm_backend/internal/eventlog"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Aggregation names how a metric folds its source events.
type Aggregation string

const (
	// AggCount counts source events in the period.
	AggCount Aggregation = "count"
	// AggSum adds an integer cents field of the source payloads, reported in currency units.
	AggSum Aggregation = "sum"
	// AggRatio divides numerator by denominator event counts and multiplies by scale.
	AggRatio Aggregation = "ratio"
	// AggRankedTopN adds the won value of the top N ranked reps.
	AggRankedTopN Aggregation = "ranked_top_n"
	// AggOpenValue adds the quote amount of opportunities still open at period end.
	AggOpenValue Aggregation = "open_value"
)

// MetricDefinition describes one KPI.
type MetricDefinition struct {
	Name        string          `yaml:"name"`
	Aggregation Aggregation     `yaml:"aggregation"`
	Kinds       []eventlog.Kind `yaml:"kinds"`
	Field       string          `yaml:"field"`
	Numerator   []eventlog.Kind `yaml:"numerator"`
	Denominator []eventlog.Kind `yaml:"denominator"`
	Scale       int64           `yaml:"scale"`
	TopN        int             `yaml:"top_n"`
	Target      string          `yaml:"target"`
	DataSource  string          `yaml:"data_source"`
}

// Config is the metric catalogue. A YAML file replaces the default list as a whole.
type Config struct {
	Version        string             `yaml:"version"`
	RankingTopN    int                `yaml:"ranking_top_n"`
	ValuePrecision int32              `yaml:"value_precision"`
	Metrics        []MetricDefinition `yaml:"metrics"`
}

func DefaultConfig() Config {
	return Config{
		Version:        "kpi-2026.10",
		RankingTopN:    10,
		ValuePrecision: 4,
		Metrics: []MetricDefinition{
			{Name: "leads_created", Aggregation: AggCount, Kinds: []eventlog.Kind{eventlog.KindLeadCreated}, Target: "120"},
			{Name: "quotes_sent", Aggregation: AggCount, Kinds: []eventlog.Kind{eventlog.KindQuoteSent}, Target: "60"},
			{Name: "test_drives_scheduled", Aggregation: AggCount, Kinds: []eventlog.Kind{eventlog.KindTestDriveScheduled}, Target: "40"},
			{Name: "test_drives_completed", Aggregation: AggCount, Kinds: []eventlog.Kind{eventlog.KindTestDriveCompleted}, Target: "30"},
			{Name: "deals_reserved", Aggregation: AggCount, Kinds: []eventlog.Kind{eventlog.KindDealReserved}, Target: "18"},
			{Name: "deals_won", Aggregation: AggCount, Kinds: []eventlog.Kind{eventlog.KindDealWon}, Target: "15"},
			{Name: "won_value", Aggregation: AggSum, Kinds: []eventlog.Kind{eventlog.KindDealWon}, Field: "valueCents", Target: "450000"},
			{Name: "reserved_value", Aggregation: AggSum, Kinds: []eventlog.Kind{eventlog.KindDealReserved}, Field: "valueCents"},
			{Name: "pipeline_value", Aggregation: AggOpenValue},
			{
				Name:        "conversion_rate",
				Aggregation: AggRatio,
				Numerator:   []eventlog.Kind{eventlog.KindDealWon},
				Denominator: []eventlog.Kind{eventlog.KindLeadCreated},
				Scale:       100,
				Target:      "12.5",
			},
			{
				Name:        "test_drive_completion_rate",
				Aggregation: AggRatio,
				Numerator:   []eventlog.Kind{eventlog.KindTestDriveCompleted},
				Denominator: []eventlog.Kind{eventlog.KindTestDriveScheduled},
				Scale:       100,
				Target:      "75",
			},
			{Name: "top_reps_won_value", Aggregation: AggRankedTopN, TopN: 3},
		},
	}
}

func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read kpi config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse kpi config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects catalogues that could not be folded deterministically.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Version) == "" {
		return fmt.Errorf("kpi config: version is required")
	}
	if c.RankingTopN <= 0 {
		return fmt.Errorf("kpi config: ranking_top_n must be positive")
	}
	if c.ValuePrecision < 0 || c.ValuePrecision > 8 {
		return fmt.Errorf("kpi config: value_precision must be within 0..8")
	}
	seen := map[string]bool{}
	for _, m := range c.Metrics {
		if m.Name == "" || seen[m.Name] {
			return fmt.Errorf("kpi config: metric names must be unique and non-empty (%q)", m.Name)
		}
		seen[m.Name] = true
		if err := m.validate(); err != nil {
			return fmt.Errorf("kpi config: metric %s: %w", m.Name, err)
		}
	}
	return nil
}

func (m MetricDefinition) validate() error {
	for _, k := range append(append(append([]eventlog.Kind(nil), m.Kinds...), m.Numerator...), m.Denominator...) {
		if !eventlog.IsKnownKind(k) {
			return fmt.Errorf("unknown event kind %q", k)
		}
	}
	if m.Target != "" {
		if _, err := decimal.NewFromString(m.Target); err != nil {
			return fmt.Errorf("target %q is not a number", m.Target)
		}
	}
	switch m.Aggregation {
	case AggCount:
		if len(m.Kinds) == 0 {
			return fmt.Errorf("count needs kinds")
		}
	case AggSum:
		if len(m.Kinds) == 0 || m.Field == "" {
			return fmt.Errorf("sum needs kinds and field")
		}
	case AggRatio:
		if len(m.Numerator) == 0 || len(m.Denominator) == 0 || m.Scale <= 0 {
			return fmt.Errorf("ratio needs numerator, denominator and a positive scale")
		}
	case AggRankedTopN:
		if m.TopN <= 0 {
			return fmt.Errorf("ranked_top_n needs a positive top_n")
		}
	case AggOpenValue:
	default:
		return fmt.Errorf("unknown aggregation %q", m.Aggregation)
	}
	return nil
}

// dataSource names where a metric comes from when the catalogue does not say.
func (m MetricDefinition) dataSource() string {
	if m.DataSource != "" {
		return m.DataSource
	}
	var kinds []eventlog.Kind
	switch m.Aggregation {
	case AggRatio:
		kinds = append(append(kinds, m.Numerator...), m.Denominator...)
	case AggRankedTopN:
		kinds = []eventlog.Kind{eventlog.KindDealWon, eventlog.KindOpportunityOpened}
	case AggOpenValue:
		kinds = []eventlog.Kind{eventlog.KindOpportunityOpened, eventlog.KindStageChanged}
	default:
		kinds = m.Kinds
	}
	names := make([]string, 0, len(kinds))
	for _, k := range kinds {
		names = append(names, string(k))
	}
	return "event_log:" + strings.Join(names, ",")
}
