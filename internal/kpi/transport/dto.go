package transport

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PeriodQuery struct {
	Period string `form:"period" validate:"required"`
}

type RecomputeRequest struct {
	Period string `json:"period" validate:"required"`
}

type SnapshotResponse struct {
	MetricName     string           `json:"metricName"`
	Period         string           `json:"period"`
	CurrentValue   decimal.Decimal  `json:"currentValue"`
	PreviousValue  decimal.Decimal  `json:"previousValue"`
	TargetValue    *decimal.Decimal `json:"targetValue,omitempty"`
	Trend          string           `json:"trend"`
	DataSource     string           `json:"dataSource"`
	ComputedAt     *time.Time       `json:"computedAt,omitempty"`
	AutoCalculated bool             `json:"autoCalculated"`
}

type RepPerformanceResponse struct {
	Rank                int             `json:"rank"`
	RepID               uuid.UUID       `json:"repId"`
	WonValue            decimal.Decimal `json:"wonValue"`
	WonDeals            int             `json:"wonDeals"`
	ReservedDeals       int             `json:"reservedDeals"`
	OpportunitiesOpened int             `json:"opportunitiesOpened"`
	TestDrivesCompleted int             `json:"testDrivesCompleted"`
	ConversionRate      decimal.Decimal `json:"conversionRate"`
}

type SnapshotSetResponse struct {
	Period        string                   `json:"period"`
	Version       int                      `json:"version"`
	Digest        string                   `json:"digest"`
	ConfigVersion string                   `json:"configVersion"`
	ComputedAt    *time.Time               `json:"computedAt,omitempty"`
	Watermark     int64                    `json:"watermark"`
	PublishedAt   time.Time                `json:"publishedAt"`
	Metrics       []SnapshotResponse       `json:"metrics"`
	Reps          []RepPerformanceResponse `json:"reps"`
}

type VersionResponse struct {
	Version     int        `json:"version"`
	Digest      string     `json:"digest"`
	ComputedAt  *time.Time `json:"computedAt,omitempty"`
	Watermark   int64      `json:"watermark"`
	PublishedAt time.Time  `json:"publishedAt"`
}

type HistoryResponse struct {
	Period   string            `json:"period"`
	Versions []VersionResponse `json:"versions"`
}

type RecomputeResponse struct {
	Period string `json:"period"`
	Queued bool   `json:"queued"`
}

// ArchiveQuery selects one archived version.
type ArchiveQuery struct {
	Period  string `form:"period"`
	Version int    `form:"version" validate:"required,min=1"`
}

type ArchiveResponse struct {
	Period    string    `json:"period"`
	Version   int       `json:"version"`
	Digest    string    `json:"digest"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
	Verified  bool      `json:"verified"`
}
