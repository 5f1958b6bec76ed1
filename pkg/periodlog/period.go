package periodlog

import (
	"fmt"
	"time"
)

// Period maps a wall-clock time to the key of the partition holding it. Keys
// must sort lexicographically in chronological order.
type Period interface {
	Key(t time.Time) string
}

// PeriodFunc adapts a function to Period.
type PeriodFunc func(t time.Time) string

// Key implements Period.
func (f PeriodFunc) Key(t time.Time) string { return f(t) }

var (
	// Monthly buckets messages by UTC calendar month ("2026-10").
	Monthly Period = PeriodFunc(func(t time.Time) string { return t.UTC().Format("2006-01") })

	// Daily buckets messages by UTC calendar day ("2026-10-16").
	Daily Period = PeriodFunc(func(t time.Time) string { return t.UTC().Format("2006-01-02") })
)

// ParsePeriod resolves a configured granularity name.
func ParsePeriod(name string) (Period, error) {
	switch name {
	case "", "monthly", "month":
		return Monthly, nil
	case "daily", "day":
		return Daily, nil
	default:
		return nil, fmt.Errorf("unknown period %q (available: monthly, daily)", name)
	}
}

// Partition is a handle on one period file.
type Partition struct {
	Key  string
	Path string
}
