package types

import (
	"fmt"
	"time"
)

// DateLayout is the wire format for dates sent to sources and the collector.
const DateLayout = "2006-01-02"

// DateRange is an inclusive range of calendar days in UTC.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// NewDateRange truncates both bounds to midnight UTC and rejects a start
// after the end.
func NewDateRange(start, end time.Time) (DateRange, error) {
	r := DateRange{Start: truncateDay(start), End: truncateDay(end)}
	if r.Start.After(r.End) {
		return DateRange{}, NewAppErrorWithDetails(ErrCodeConfigInvalidDateRange,
			"start date is after end date", nil,
			map[string]any{"start": r.Start.Format(DateLayout), "end": r.End.Format(DateLayout)})
	}
	return r, nil
}

// ParseDateRange parses two YYYY-MM-DD strings.
func ParseDateRange(start, end string) (DateRange, error) {
	s, err := time.Parse(DateLayout, start)
	if err != nil {
		return DateRange{}, NewAppError(ErrCodeConfigInvalidDateRange, fmt.Sprintf("invalid start date %q", start), err)
	}
	e, err := time.Parse(DateLayout, end)
	if err != nil {
		return DateRange{}, NewAppError(ErrCodeConfigInvalidDateRange, fmt.Sprintf("invalid end date %q", end), err)
	}
	return NewDateRange(s, e)
}

// Days returns the number of days in the range, inclusive.
func (r DateRange) Days() int {
	return int(r.End.Sub(r.Start).Hours()/24) + 1
}

// EachDay returns every day in the range in order.
func (r DateRange) EachDay() []time.Time {
	days := make([]time.Time, 0, r.Days())
	for d := r.Start; !d.After(r.End); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// Chunks splits the range into consecutive sub-ranges of at most size days.
// A non-positive size returns the range unchanged.
func (r DateRange) Chunks(size int) []DateRange {
	if size <= 0 {
		return []DateRange{r}
	}
	var out []DateRange
	for start := r.Start; !start.After(r.End); start = start.AddDate(0, 0, size) {
		end := start.AddDate(0, 0, size-1)
		if end.After(r.End) {
			end = r.End
		}
		out = append(out, DateRange{Start: start, End: end})
	}
	return out
}

// StartString formats the start bound as YYYY-MM-DD.
func (r DateRange) StartString() string { return r.Start.Format(DateLayout) }

// EndString formats the end bound as YYYY-MM-DD.
func (r DateRange) EndString() string { return r.End.Format(DateLayout) }

func (r DateRange) String() string {
	return r.StartString() + ".." + r.EndString()
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
