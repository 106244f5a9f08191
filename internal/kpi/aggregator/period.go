package aggregator

import (
	"fmt"
	"time"

	"dealership_crm_backend/platform/apperr"
)

// Period is one calendar month in UTC.
type Period struct {
	year  int
	month time.Month
}

const periodLayout = "2006-01"

// ErrInvalidPeriod is returned for anything but a YYYY-MM month.
var ErrInvalidPeriod = apperr.Validation("period must be a month formatted YYYY-MM").
	WithCode("invalid_period").
	WithDetails(map[string]string{"rule": "period_format"})

func ParsePeriod(s string) (Period, error) {
	t, err := time.Parse(periodLayout, s)
	if err != nil {
		return Period{}, ErrInvalidPeriod
	}
	return Period{year: t.Year(), month: t.Month()}, nil
}

// PeriodOf returns the month containing t.
func PeriodOf(t time.Time) Period {
	t = t.UTC()
	return Period{year: t.Year(), month: t.Month()}
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.year, int(p.month))
}

func (p Period) IsZero() bool {
	return p.year == 0
}

// Start is the first instant of the month.
func (p Period) Start() time.Time {
	return time.Date(p.year, p.month, 1, 0, 0, 0, 0, time.UTC)
}

// End is the first instant after the month.
func (p Period) End() time.Time {
	return p.Start().AddDate(0, 1, 0)
}

func (p Period) Previous() Period {
	return PeriodOf(p.Start().AddDate(0, -1, 0))
}

func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start()) && t.Before(p.End())
}

func (p Period) Next() Period {
	return PeriodOf(p.End())
}
