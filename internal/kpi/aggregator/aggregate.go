// Package aggregator folds the event log into monthly KPI snapshot sets.
// A fold has no side effects: the same events and period always produce a
// byte-identical sealed set.
package aggregator

import (
	"cmp"
	"encoding/json"
	"fmt"
	"iter"
	"slices"
	"time"

	"dealership_crm_backend/internal/eventlog"
	pipelinedomain "dealership_crm_backend/internal/pipeline/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Aggregator computes snapshot sets from one metric catalogue.
type Aggregator struct {
	cfg     Config
	targets map[string]decimal.Decimal
	feeds   map[eventlog.Kind]bool
}

// stateKinds move opportunity value, stage or rep tallies regardless of the
// metric catalogue.
var stateKinds = []eventlog.Kind{
	eventlog.KindOpportunityOpened,
	eventlog.KindOpportunityUpdated,
	eventlog.KindQuoteSent,
	eventlog.KindStageChanged,
	eventlog.KindTestDriveCompleted,
	eventlog.KindDealReserved,
	eventlog.KindDealWon,
}

func New(cfg Config) (*Aggregator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	targets := make(map[string]decimal.Decimal)
	for _, m := range cfg.Metrics {
		if m.Target == "" {
			continue
		}
		targets[m.Name] = decimal.RequireFromString(m.Target)
	}
	feeds := make(map[eventlog.Kind]bool)
	for _, k := range stateKinds {
		feeds[k] = true
	}
	for _, m := range cfg.Metrics {
		for _, k := range slices.Concat(m.Kinds, m.Numerator, m.Denominator) {
			feeds[k] = true
		}
	}
	return &Aggregator{cfg: cfg, targets: targets, feeds: feeds}, nil
}

func (a *Aggregator) Config() Config { return a.cfg }

type repTally struct {
	wonCents   int64
	won        int
	reserved   int
	opened     int
	testDrives int
}

// window accumulates one period. opps holds every opportunity as of the
// window's end so open value can be read after the fold.
type window struct {
	period Period
	counts map[eventlog.Kind]int64
	sums   map[string]int64
	reps   map[uuid.UUID]*repTally
	opps   map[uuid.UUID]*pipelinedomain.Opportunity
}

func newWindow(p Period) *window {
	return &window{
		period: p,
		counts: make(map[eventlog.Kind]int64),
		sums:   make(map[string]int64),
		reps:   make(map[uuid.UUID]*repTally),
		opps:   make(map[uuid.UUID]*pipelinedomain.Opportunity),
	}
}

func (w *window) rep(id uuid.UUID) *repTally {
	if id == uuid.Nil {
		return nil
	}
	r, ok := w.reps[id]
	if !ok {
		r = &repTally{}
		w.reps[id] = r
	}
	return r
}

// Fold consumes events in append order and computes the set for period.
// watermark is recorded on the set but excluded from its sealed body.
// computed_at is the newest event of a kind that can move a value.
// An error from the sequence aborts the fold.
func (a *Aggregator) Fold(events iter.Seq2[eventlog.Event, error], period Period, watermark int64) (SnapshotSet, error) {
	if period.IsZero() {
		return SnapshotSet{}, ErrInvalidPeriod
	}
	cur := newWindow(period)
	prev := newWindow(period.Previous())
	var newest time.Time

	for e, err := range events {
		if err != nil {
			return SnapshotSet{}, err
		}
		if !e.OccurredAt.Before(period.End()) {
			continue
		}
		if a.feeds[e.Kind] && e.OccurredAt.After(newest) {
			newest = e.OccurredAt
		}
		for _, w := range []*window{cur, prev} {
			if err := a.observe(w, e); err != nil {
				return SnapshotSet{}, fmt.Errorf("fold event %d: %w", e.Sequence, err)
			}
		}
	}

	current := a.values(cur)
	previous := a.values(prev)
	set := SnapshotSet{
		period:        period,
		configVersion: a.cfg.Version,
		precision:     a.cfg.ValuePrecision,
		computedAt:    newest.UTC(),
		watermark:     watermark,
		snapshots:     make([]Snapshot, 0, len(a.cfg.Metrics)),
	}
	for _, m := range a.cfg.Metrics {
		snap := Snapshot{
			metricName:    m.Name,
			period:        period,
			currentValue:  current[m.Name],
			previousValue: previous[m.Name],
			trend:         trendOf(current[m.Name], previous[m.Name]),
			dataSource:    m.dataSource(),
			computedAt:    set.computedAt,
		}
		if target, ok := a.targets[m.Name]; ok {
			t := target.Round(a.cfg.ValuePrecision)
			snap.targetValue = &t
		}
		set.snapshots = append(set.snapshots, snap)
	}
	ranking := a.rank(cur)
	if len(ranking) > a.cfg.RankingTopN {
		ranking = ranking[:a.cfg.RankingTopN]
	}
	set.reps = ranking
	return set, nil
}

// observe applies e to w. Events after the window's end are ignored; earlier
// opportunity events still advance the opportunity state.
func (a *Aggregator) observe(w *window, e eventlog.Event) error {
	if !e.OccurredAt.Before(w.period.End()) {
		return nil
	}
	var opp *pipelinedomain.Opportunity
	if e.SubjectType == eventlog.SubjectOpportunity {
		opp = w.opps[e.SubjectID]
		if opp == nil {
			opp = &pipelinedomain.Opportunity{}
			w.opps[e.SubjectID] = opp
		}
		if err := opp.Apply(e); err != nil {
			return err
		}
	}
	if !w.period.Contains(e.OccurredAt) {
		return nil
	}

	w.counts[e.Kind]++
	for _, m := range a.cfg.Metrics {
		if m.Aggregation != AggSum || !slices.Contains(m.Kinds, e.Kind) {
			continue
		}
		v, err := centsField(e.Payload, m.Field)
		if err != nil {
			return err
		}
		w.sums[m.Name] += v
	}

	switch e.Kind {
	case eventlog.KindOpportunityOpened:
		if r := w.rep(opp.RepID); r != nil {
			r.opened++
		}
	case eventlog.KindTestDriveCompleted:
		if r := w.rep(opp.RepID); r != nil {
			r.testDrives++
		}
	case eventlog.KindDealWon, eventlog.KindDealReserved:
		var deal pipelinedomain.DealClosed
		if err := e.Decode(&deal); err != nil {
			return err
		}
		r := w.rep(deal.RepID)
		if r == nil {
			return nil
		}
		if e.Kind == eventlog.KindDealWon {
			r.won++
			r.wonCents += deal.ValueCents
		} else {
			r.reserved++
		}
	}
	return nil
}

// centsField reads an integer field of a payload. A missing field counts as zero.
func centsField(payload json.RawMessage, field string) (int64, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return 0, err
	}
	raw, ok := fields[field]
	if !ok || string(raw) == "null" {
		return 0, nil
	}
	var v int64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("field %s: %w", field, err)
	}
	return v, nil
}

func (a *Aggregator) values(w *window) map[string]decimal.Decimal {
	prec := a.cfg.ValuePrecision
	out := make(map[string]decimal.Decimal, len(a.cfg.Metrics))
	var ranking []RepPerformance
	for _, m := range a.cfg.Metrics {
		var v decimal.Decimal
		switch m.Aggregation {
		case AggCount:
			v = decimal.NewFromInt(w.count(m.Kinds))
		case AggSum:
			v = fromCents(w.sums[m.Name])
		case AggRatio:
			v = ratio(w.count(m.Numerator), w.count(m.Denominator), m.Scale)
		case AggRankedTopN:
			if ranking == nil {
				ranking = a.rank(w)
			}
			for i := 0; i < len(ranking) && i < m.TopN; i++ {
				v = v.Add(ranking[i].wonValue)
			}
		case AggOpenValue:
			v = fromCents(w.openValueCents())
		}
		out[m.Name] = v.Round(prec)
	}
	return out
}

func (w *window) count(kinds []eventlog.Kind) int64 {
	var n int64
	for _, k := range kinds {
		n += w.counts[k]
	}
	return n
}

func (w *window) openValueCents() int64 {
	var total int64
	for _, o := range w.opps {
		if o.ID == uuid.Nil || o.CurrentStage.IsTerminal() {
			continue
		}
		total += o.QuoteAmountCents
	}
	return total
}

// rank orders reps by won value desc, conversion rate desc, then rep id.
func (a *Aggregator) rank(w *window) []RepPerformance {
	prec := a.cfg.ValuePrecision
	out := make([]RepPerformance, 0, len(w.reps))
	for id, r := range w.reps {
		out = append(out, RepPerformance{
			repID:               id,
			wonValue:            fromCents(r.wonCents).Round(prec),
			wonDeals:            r.won,
			reservedDeals:       r.reserved,
			opportunitiesOpened: r.opened,
			testDrivesCompleted: r.testDrives,
			conversionRate:      ratio(int64(r.won), int64(r.opened), 100).Round(prec),
		})
	}
	slices.SortStableFunc(out, func(x, y RepPerformance) int {
		if c := y.wonValue.Cmp(x.wonValue); c != 0 {
			return c
		}
		if c := y.conversionRate.Cmp(x.conversionRate); c != 0 {
			return c
		}
		return cmp.Compare(x.repID.String(), y.repID.String())
	})
	for i := range out {
		out[i].rank = i + 1
	}
	return out
}

func fromCents(c int64) decimal.Decimal {
	return decimal.New(c, -2)
}

// ratio is num/den*scale, or zero when den is zero.
func ratio(num, den, scale int64) decimal.Decimal {
	if den == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(num).Mul(decimal.NewFromInt(scale)).DivRound(decimal.NewFromInt(den), 8)
}
