// Package schedule implements time-based irrigation: fixed weekday entries,
// day-interval routines, and the scheduler loop that evaluates both against
// the clock, the operating mode and the interlock.
package schedule

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

const dateLayout = "2006-01-02"

// Kind discriminates the two entry flavors.
type Kind string

const (
	// KindSchedule fires on fixed weekdays at a fixed time of day.
	KindSchedule Kind = "schedule"
	// KindRoutine fires every IntervalDays counted from StartDate, with an
	// optional moisture precondition.
	KindRoutine Kind = "routine"
)

// Entry is one persisted schedule entry. Both kinds share id, zone,
// duration, start time and the enabled flag. Days belongs to KindSchedule;
// StartDate, IntervalDays and CheckMoisture belong to KindRoutine.
type Entry struct {
	ID          int    `json:"id"`
	Kind        Kind   `json:"type"`
	ZoneID      int    `json:"zone_id"`
	DurationSec int    `json:"duration_sec"`
	StartTime   string `json:"start_time"` // "HH:MM", 24-hour
	Enabled     bool   `json:"enabled"`

	// Days uses Go weekday numbering, time.Sunday == 0.
	Days []time.Weekday `json:"days,omitempty"`

	StartDate     string `json:"start_date,omitempty"` // "2006-01-02"
	IntervalDays  int    `json:"interval_days,omitempty"`
	CheckMoisture bool   `json:"check_moisture,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`
}

// ConfigError reports a structurally invalid entry.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return "invalid schedule entry: " + e.Reason }

func invalidEntry(format string, args ...any) *ConfigError {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

// Validate checks the entry against the configured zone count and run
// duration cap.
func (e Entry) Validate(zoneCount int, maxDuration time.Duration) error {
	if e.Kind != KindSchedule && e.Kind != KindRoutine {
		return invalidEntry("unknown type %q", e.Kind)
	}
	if e.ZoneID < 1 || e.ZoneID > zoneCount {
		return invalidEntry("zone_id %d outside [1, %d]", e.ZoneID, zoneCount)
	}
	if e.DurationSec <= 0 {
		return invalidEntry("duration_sec must be positive")
	}
	if maxDuration > 0 && time.Duration(e.DurationSec)*time.Second > maxDuration {
		return invalidEntry("duration_sec %d exceeds the cap of %s", e.DurationSec, maxDuration)
	}
	if _, _, err := parseClock(e.StartTime); err != nil {
		return invalidEntry("start_time %q is not HH:MM", e.StartTime)
	}

	switch e.Kind {
	case KindSchedule:
		if len(e.Days) == 0 {
			return invalidEntry("schedule needs at least one weekday")
		}
		seen := make(map[time.Weekday]bool, len(e.Days))
		for _, d := range e.Days {
			if d < time.Sunday || d > time.Saturday {
				return invalidEntry("weekday %d outside [0, 6]", d)
			}
			if seen[d] {
				return invalidEntry("weekday %d listed twice", d)
			}
			seen[d] = true
		}
	case KindRoutine:
		if _, err := time.ParseInLocation(dateLayout, e.StartDate, time.Local); err != nil {
			return invalidEntry("start_date %q is not YYYY-MM-DD", e.StartDate)
		}
		if e.IntervalDays < 1 {
			return invalidEntry("interval_days must be at least 1")
		}
	}

	return nil
}

// Duration returns the entry's run duration.
func (e Entry) Duration() time.Duration {
	return time.Duration(e.DurationSec) * time.Second
}

func parseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, err
	}
	return t.Hour(), t.Minute(), nil
}

// occurrenceOn returns the entry's start datetime on the given calendar day
// and whether the entry is due on that day at all.
func (e Entry) occurrenceOn(day time.Time) (time.Time, bool) {
	h, m, err := parseClock(e.StartTime)
	if err != nil {
		return time.Time{}, false
	}
	at := time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, day.Location())

	switch e.Kind {
	case KindSchedule:
		for _, d := range e.Days {
			if day.Weekday() == d {
				return at, true
			}
		}
	case KindRoutine:
		start, err := time.ParseInLocation(dateLayout, e.StartDate, day.Location())
		if err != nil {
			return time.Time{}, false
		}
		days := daysBetween(start, day)
		if days >= 0 && days%e.IntervalDays == 0 {
			return at, true
		}
	}
	return time.Time{}, false
}

// daysBetween counts calendar days from a to b. Rounding absorbs the hour
// gained or lost across DST switches.
func daysBetween(a, b time.Time) int {
	a = time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, a.Location())
	b = time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, b.Location())
	return int(math.Round(b.Sub(a).Hours() / 24))
}

// dueAt reports whether now falls inside the grace window around one of the
// entry's occurrences, and returns that occurrence. Windows may straddle
// midnight, so the neighboring days are checked too.
func (e Entry) dueAt(now time.Time, grace time.Duration) (time.Time, bool) {
	for _, day := range []time.Time{now.AddDate(0, 0, -1), now, now.AddDate(0, 0, 1)} {
		occ, ok := e.occurrenceOn(day)
		if !ok {
			continue
		}
		if !now.Before(occ.Add(-grace)) && !now.After(occ.Add(grace)) {
			return occ, true
		}
	}
	return time.Time{}, false
}

// NextOccurrence returns the next time the entry is due strictly after now,
// ignoring the grace window.
func (e Entry) NextOccurrence(now time.Time) (time.Time, bool) {
	h, m, err := parseClock(e.StartTime)
	if err != nil {
		return time.Time{}, false
	}

	switch e.Kind {
	case KindSchedule:
		spec := fmt.Sprintf("%d %d * * %s", m, h, weekdayList(e.Days))
		sched, err := cron.ParseStandard(spec)
		if err != nil {
			return time.Time{}, false
		}
		return sched.Next(now), true

	case KindRoutine:
		start, err := time.ParseInLocation(dateLayout, e.StartDate, now.Location())
		if err != nil {
			return time.Time{}, false
		}
		if first := time.Date(start.Year(), start.Month(), start.Day(), h, m, 0, 0, now.Location()); first.After(now) {
			return first, true
		}
		for i := 0; i <= e.IntervalDays; i++ {
			occ, ok := e.occurrenceOn(now.AddDate(0, 0, i))
			if ok && occ.After(now) {
				return occ, true
			}
		}
	}
	return time.Time{}, false
}

// weekdayList renders Days as a cron day-of-week list. Go and cron agree on
// Sunday being 0.
func weekdayList(days []time.Weekday) string {
	ss := make([]string, 0, len(days))
	for _, d := range days {
		ss = append(ss, strconv.Itoa(int(d)))
	}
	return strings.Join(ss, ",")
}

// NextRun describes the soonest upcoming entry, for /schedules/next.
type NextRun struct {
	EntryID      int       `json:"entry_id"`
	ZoneID       int       `json:"zone_id"`
	At           time.Time `json:"at"`
	MinutesUntil int       `json:"minutes_until"`
}

// Next scans entries and returns the soonest enabled occurrence after now.
func Next(entries []Entry, now time.Time) (NextRun, bool) {
	var best NextRun
	found := false
	for _, e := range entries {
		if !e.Enabled {
			continue
		}
		at, ok := e.NextOccurrence(now)
		if !ok {
			continue
		}
		if !found || at.Before(best.At) {
			best = NextRun{
				EntryID:      e.ID,
				ZoneID:       e.ZoneID,
				At:           at,
				MinutesUntil: int(at.Sub(now).Minutes()),
			}
			found = true
		}
	}
	return best, found
}
