package stats

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/onyria/onyria/internal/store"
)

// Period is a named relative window.
type Period string

const (
	Period30Days  Period = "30d"
	Period3Months Period = "3m"
	Period6Months Period = "6m"
	Period1Year   Period = "1y"
	PeriodAll     Period = "all"

	DefaultPeriod = Period30Days
)

const dateLayout = "2006-01-02"

// ErrInvalidRange is returned for unknown periods, unparsable dates and
// ranges whose end precedes their start.
var ErrInvalidRange = errors.New("stats: invalid range")

// Query selects the dashboard window. Start and End are YYYY-MM-DD dates,
// both inclusive; when either is set they take priority over Period.
type Query struct {
	Period Period
	Start  string
	End    string
}

// Window resolves q relative to now.
func (q Query) Window(now time.Time) (store.Window, error) {
	start, end := strings.TrimSpace(q.Start), strings.TrimSpace(q.End)
	if start != "" || end != "" {
		var w store.Window
		if start != "" {
			t, err := time.Parse(dateLayout, start)
			if err != nil {
				return store.Window{}, fmt.Errorf("%w: start %q", ErrInvalidRange, start)
			}
			w.From = t
		}
		if end != "" {
			t, err := time.Parse(dateLayout, end)
			if err != nil {
				return store.Window{}, fmt.Errorf("%w: end %q", ErrInvalidRange, end)
			}
			w.To = t.AddDate(0, 0, 1)
		}
		if !w.From.IsZero() && !w.To.IsZero() && !w.From.Before(w.To) {
			return store.Window{}, fmt.Errorf("%w: end before start", ErrInvalidRange)
		}
		return w, nil
	}

	p := q.Period
	if p == "" {
		p = DefaultPeriod
	}
	now = now.UTC()
	switch Period(strings.ToLower(string(p))) {
	case Period30Days:
		return store.Window{From: now.AddDate(0, 0, -30)}, nil
	case Period3Months:
		return store.Window{From: now.AddDate(0, -3, 0)}, nil
	case Period6Months:
		return store.Window{From: now.AddDate(0, -6, 0)}, nil
	case Period1Year:
		return store.Window{From: now.AddDate(-1, 0, 0)}, nil
	case PeriodAll:
		return store.Window{}, nil
	}
	return store.Window{}, fmt.Errorf("%w: period %q", ErrInvalidRange, q.Period)
}

// cacheKey names the window of q for the stats cache. Explicit dates and
// relative periods never share a key. Relative keys carry the current day,
// so an entry is reused within it.
func (q Query) cacheKey(now time.Time) string {
	start, end := strings.TrimSpace(q.Start), strings.TrimSpace(q.End)
	if start != "" || end != "" {
		if start == "" {
			start = "-"
		}
		if end == "" {
			end = "-"
		}
		return "d:" + start + ".." + end
	}
	p := strings.ToLower(string(q.Period))
	if p == "" {
		p = string(DefaultPeriod)
	}
	return "p:" + p + ":" + now.UTC().Format(dateLayout)
}
