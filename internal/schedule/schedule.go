// Package schedule
package schedule

import (
	"fmt"
	"time"
)

// Period is a rebalance cadence.
type Period string

const (
	PeriodDaily     Period = "D"
	PeriodWeekly    Period = "W"
	PeriodMonthly   Period = "M"
	PeriodQuarterly Period = "Q"
)

// IsValid reports whether p is a known cadence.
func (p Period) IsValid() bool {
	switch p {
	case PeriodDaily, PeriodWeekly, PeriodMonthly, PeriodQuarterly:
		return true
	}
	return false
}

// RebalanceDates picks the last trading date of each calendar bucket from an
// ascending list of trading dates. Weekly buckets follow the ISO week,
// quarterly buckets are Jan-Mar, Apr-Jun, Jul-Sep, Oct-Dec.
func RebalanceDates(dates []time.Time, period Period) ([]time.Time, error) {
	if !period.IsValid() {
		return nil, fmt.Errorf("unknown rebalance period %q", period)
	}
	if period == PeriodDaily {
		out := make([]time.Time, len(dates))
		copy(out, dates)
		return out, nil
	}

	var out []time.Time
	for i, d := range dates {
		if i+1 == len(dates) || bucket(dates[i+1], period) != bucket(d, period) {
			out = append(out, d)
		}
	}
	return out, nil
}

// bucket maps a date to its calendar bucket key for the period.
func bucket(d time.Time, period Period) string {
	switch period {
	case PeriodWeekly:
		year, week := d.ISOWeek()
		return fmt.Sprintf("%d-W%02d", year, week)
	case PeriodMonthly:
		return d.Format("2006-01")
	case PeriodQuarterly:
		q := (int(d.Month())-1)/3 + 1
		return fmt.Sprintf("%d-Q%d", d.Year(), q)
	}
	return d.Format("2006-01-02")
}
