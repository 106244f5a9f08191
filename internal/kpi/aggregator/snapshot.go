package aggregator

import (
	"bytes"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/blake2b"
)

type Trend string

const (
	TrendUp   Trend = "up"
	TrendDown Trend = "down"
	TrendFlat Trend = "flat"
)

func trendOf(current, previous decimal.Decimal) Trend {
	switch current.Cmp(previous) {
	case 1:
		return TrendUp
	case -1:
		return TrendDown
	default:
		return TrendFlat
	}
}

// Snapshot is one computed metric for a period. Its fields are unexported so
// values can only come out of a fold or a verified sealed set.
type Snapshot struct {
	metricName    string
	period        Period
	currentValue  decimal.Decimal
	previousValue decimal.Decimal
	targetValue   *decimal.Decimal
	trend         Trend
	dataSource    string
	computedAt    time.Time
}

func (s Snapshot) MetricName() string             { return s.metricName }
func (s Snapshot) Period() Period                 { return s.period }
func (s Snapshot) CurrentValue() decimal.Decimal  { return s.currentValue }
func (s Snapshot) PreviousValue() decimal.Decimal { return s.previousValue }
func (s Snapshot) Trend() Trend                   { return s.trend }
func (s Snapshot) DataSource() string             { return s.dataSource }
func (s Snapshot) ComputedAt() time.Time          { return s.computedAt }
func (s Snapshot) AutoCalculated() bool           { return true }

func (s Snapshot) TargetValue() (decimal.Decimal, bool) {
	if s.targetValue == nil {
		return decimal.Decimal{}, false
	}
	return *s.targetValue, true
}

// RepPerformance is one sales rep's derived record for a period.
type RepPerformance struct {
	repID               uuid.UUID
	rank                int
	wonValue            decimal.Decimal
	wonDeals            int
	reservedDeals       int
	opportunitiesOpened int
	testDrivesCompleted int
	conversionRate      decimal.Decimal
}

func (r RepPerformance) RepID() uuid.UUID                { return r.repID }
func (r RepPerformance) Rank() int                       { return r.rank }
func (r RepPerformance) WonValue() decimal.Decimal       { return r.wonValue }
func (r RepPerformance) WonDeals() int                   { return r.wonDeals }
func (r RepPerformance) ReservedDeals() int              { return r.reservedDeals }
func (r RepPerformance) OpportunitiesOpened() int        { return r.opportunitiesOpened }
func (r RepPerformance) TestDrivesCompleted() int        { return r.testDrivesCompleted }
func (r RepPerformance) ConversionRate() decimal.Decimal { return r.conversionRate }

// SnapshotSet is every metric and the rep ranking for one period.
type SnapshotSet struct {
	period        Period
	configVersion string
	precision     int32
	computedAt    time.Time
	watermark     int64
	snapshots     []Snapshot
	reps          []RepPerformance
}

func (s SnapshotSet) Period() Period         { return s.period }
func (s SnapshotSet) ConfigVersion() string  { return s.configVersion }
func (s SnapshotSet) ComputedAt() time.Time  { return s.computedAt }
func (s SnapshotSet) Snapshots() []Snapshot  { return append([]Snapshot(nil), s.snapshots...) }
func (s SnapshotSet) Reps() []RepPerformance { return append([]RepPerformance(nil), s.reps...) }

// Metric returns the named snapshot.
func (s SnapshotSet) Metric(name string) (Snapshot, bool) {
	for _, m := range s.snapshots {
		if m.metricName == name {
			return m, true
		}
	}
	return Snapshot{}, false
}

// Watermark is the last event sequence the fold read. It is not sealed, so
// folding more unrelated events does not change the digest.
func (s SnapshotSet) Watermark() int64 { return s.watermark }

// Sealed is a canonical JSON body and its blake2b-256 digest.
type Sealed struct {
	Body   []byte
	Digest string
}

var (
	ErrDigestMismatch = errors.New("kpi snapshot set digest mismatch")
	ErrNotCanonical   = errors.New("kpi snapshot set body is not canonical")
)

type wireSnapshot struct {
	MetricName     string     `json:"metricName"`
	Period         string     `json:"period"`
	CurrentValue   string     `json:"currentValue"`
	PreviousValue  string     `json:"previousValue"`
	TargetValue    *string    `json:"targetValue"`
	Trend          Trend      `json:"trend"`
	DataSource     string     `json:"dataSource"`
	ComputedAt     *time.Time `json:"computedAt"`
	AutoCalculated bool       `json:"autoCalculated"`
}

type wireRep struct {
	RepID               uuid.UUID `json:"repId"`
	Rank                int       `json:"rank"`
	WonValue            string    `json:"wonValue"`
	WonDeals            int       `json:"wonDeals"`
	ReservedDeals       int       `json:"reservedDeals"`
	OpportunitiesOpened int       `json:"opportunitiesOpened"`
	TestDrivesCompleted int       `json:"testDrivesCompleted"`
	ConversionRate      string    `json:"conversionRate"`
}

type wireSet struct {
	Period         string         `json:"period"`
	ConfigVersion  string         `json:"configVersion"`
	ValuePrecision int32          `json:"valuePrecision"`
	ComputedAt     *time.Time     `json:"computedAt"`
	Metrics        []wireSnapshot `json:"metrics"`
	Reps           []wireRep      `json:"reps"`
}

// Canonical encodes the set with fixed field order and fixed decimal places.
func (s SnapshotSet) Canonical() ([]byte, error) {
	fixed := func(d decimal.Decimal) string { return d.StringFixed(s.precision) }
	w := wireSet{
		Period:         s.period.String(),
		ConfigVersion:  s.configVersion,
		ValuePrecision: s.precision,
		ComputedAt:     timePtr(s.computedAt),
		Metrics:        make([]wireSnapshot, 0, len(s.snapshots)),
		Reps:           make([]wireRep, 0, len(s.reps)),
	}
	for _, m := range s.snapshots {
		var target *string
		if m.targetValue != nil {
			v := fixed(*m.targetValue)
			target = &v
		}
		w.Metrics = append(w.Metrics, wireSnapshot{
			MetricName:     m.metricName,
			Period:         m.period.String(),
			CurrentValue:   fixed(m.currentValue),
			PreviousValue:  fixed(m.previousValue),
			TargetValue:    target,
			Trend:          m.trend,
			DataSource:     m.dataSource,
			ComputedAt:     timePtr(m.computedAt),
			AutoCalculated: true,
		})
	}
	for _, r := range s.reps {
		w.Reps = append(w.Reps, wireRep{
			RepID:               r.repID,
			Rank:                r.rank,
			WonValue:            fixed(r.wonValue),
			WonDeals:            r.wonDeals,
			ReservedDeals:       r.reservedDeals,
			OpportunitiesOpened: r.opportunitiesOpened,
			TestDrivesCompleted: r.testDrivesCompleted,
			ConversionRate:      fixed(r.conversionRate),
		})
	}
	return json.Marshal(w)
}

// Seal returns the canonical body and its digest.
func (s SnapshotSet) Seal() (Sealed, error) {
	body, err := s.Canonical()
	if err != nil {
		return Sealed{}, err
	}
	return Sealed{Body: body, Digest: Digest(body)}, nil
}

// Digest is the hex blake2b-256 of body.
func Digest(body []byte) string {
	sum := blake2b.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// VerifyDigest reports whether digest seals body.
func VerifyDigest(body []byte, digest string) bool {
	return subtle.ConstantTimeCompare([]byte(Digest(body)), []byte(digest)) == 1
}

// Open verifies a sealed body and decodes it. Bodies that do not re-encode
// byte for byte are rejected along with digest mismatches.
func Open(sealed Sealed, watermark int64) (SnapshotSet, error) {
	if !VerifyDigest(sealed.Body, sealed.Digest) {
		return SnapshotSet{}, ErrDigestMismatch
	}
	var w wireSet
	if err := json.Unmarshal(sealed.Body, &w); err != nil {
		return SnapshotSet{}, fmt.Errorf("decode kpi snapshot set: %w", err)
	}
	period, err := ParsePeriod(w.Period)
	if err != nil {
		return SnapshotSet{}, err
	}

	set := SnapshotSet{
		period:        period,
		configVersion: w.ConfigVersion,
		precision:     w.ValuePrecision,
		watermark:     watermark,
		snapshots:     make([]Snapshot, 0, len(w.Metrics)),
		reps:          make([]RepPerformance, 0, len(w.Reps)),
	}
	if w.ComputedAt != nil {
		set.computedAt = *w.ComputedAt
	}
	for _, m := range w.Metrics {
		snap := Snapshot{
			metricName: m.MetricName,
			period:     period,
			trend:      m.Trend,
			dataSource: m.DataSource,
			computedAt: set.computedAt,
		}
		if snap.currentValue, err = decimal.NewFromString(m.CurrentValue); err != nil {
			return SnapshotSet{}, err
		}
		if snap.previousValue, err = decimal.NewFromString(m.PreviousValue); err != nil {
			return SnapshotSet{}, err
		}
		if m.TargetValue != nil {
			target, err := decimal.NewFromString(*m.TargetValue)
			if err != nil {
				return SnapshotSet{}, err
			}
			snap.targetValue = &target
		}
		set.snapshots = append(set.snapshots, snap)
	}
	for _, r := range w.Reps {
		rep := RepPerformance{
			repID:               r.RepID,
			rank:                r.Rank,
			wonDeals:            r.WonDeals,
			reservedDeals:       r.ReservedDeals,
			opportunitiesOpened: r.OpportunitiesOpened,
			testDrivesCompleted: r.TestDrivesCompleted,
		}
		if rep.wonValue, err = decimal.NewFromString(r.WonValue); err != nil {
			return SnapshotSet{}, err
		}
		if rep.conversionRate, err = decimal.NewFromString(r.ConversionRate); err != nil {
			return SnapshotSet{}, err
		}
		set.reps = append(set.reps, rep)
	}

	again, err := set.Canonical()
	if err != nil {
		return SnapshotSet{}, err
	}
	if !bytes.Equal(again, sealed.Body) {
		return SnapshotSet{}, ErrNotCanonical
	}
	return set, nil
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
