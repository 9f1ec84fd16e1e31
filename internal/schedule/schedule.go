package schedule

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"
)

// KeyLayout formats the identity of one restart cycle in the schedule timezone.
const KeyLayout = "2006-01-02 15:04"

// TimeOfDay is a wall clock restart time in the schedule timezone.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

// ParseTimeOfDay accepts "HH:MM" (24h clock), e.g. "05:00" or "17:30".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	h, m, ok := strings.Cut(s, ":")
	if !ok {
		return TimeOfDay{}, fmt.Errorf("invalid restart time %q: want HH:MM", s)
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return TimeOfDay{}, fmt.Errorf("invalid restart hour in %q", s)
	}
	minute, err := strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return TimeOfDay{}, fmt.Errorf("invalid restart minute in %q", s)
	}
	return TimeOfDay{Hour: hour, Minute: minute}, nil
}

// Schedule is the fixed daily restart plan. Each restart time is compiled into a
// cron expression bound to the schedule timezone.
type Schedule struct {
	loc   *time.Location
	times []TimeOfDay
	specs []cron.Schedule
}

// New builds a schedule from an IANA zone name and a list of "HH:MM" times.
// Duplicate times are collapsed; at least one time is required.
func New(zone string, times []string) (*Schedule, error) {
	if strings.TrimSpace(zone) == "" {
		zone = "UTC"
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", zone, err)
	}
	if len(times) == 0 {
		return nil, errors.New("schedule requires at least one restart time")
	}
	seen := make(map[TimeOfDay]struct{}, len(times))
	parsed := make([]TimeOfDay, 0, len(times))
	for _, raw := range times {
		t, err := ParseTimeOfDay(raw)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		parsed = append(parsed, t)
	}
	sort.Slice(parsed, func(i, j int) bool {
		if parsed[i].Hour != parsed[j].Hour {
			return parsed[i].Hour < parsed[j].Hour
		}
		return parsed[i].Minute < parsed[j].Minute
	})

	specs := make([]cron.Schedule, 0, len(parsed))
	for _, t := range parsed {
		expr := fmt.Sprintf("CRON_TZ=%s %d %d * * *", loc.String(), t.Minute, t.Hour)
		sch, err := cron.ParseStandard(expr)
		if err != nil {
			return nil, fmt.Errorf("compile restart time %s: %w", t, err)
		}
		specs = append(specs, sch)
	}
	return &Schedule{loc: loc, times: parsed, specs: specs}, nil
}

// Location returns the schedule timezone.
func (s *Schedule) Location() *time.Location { return s.loc }

// Times returns the restart times in ascending order.
func (s *Schedule) Times() []TimeOfDay {
	out := make([]TimeOfDay, len(s.times))
	copy(out, s.times)
	return out
}

// Next returns the first restart instant strictly after now.
func (s *Schedule) Next(now time.Time) time.Time {
	var next time.Time
	for _, sch := range s.specs {
		t := sch.Next(now)
		if next.IsZero() || t.Before(next) {
			next = t
		}
	}
	return next.In(s.loc)
}

// Current returns the restart instant owning the cycle that is active at now.
// A cycle stays current until cooldown has elapsed past its restart instant.
func (s *Schedule) Current(now time.Time, cooldown time.Duration) time.Time {
	if cooldown < 0 {
		cooldown = 0
	}
	return s.Next(now.Add(-cooldown))
}

// Cooldown is how long a restart keeps owning its cycle. It covers the
// maintenance window and the reborn delay, and never drops below two polling
// intervals so that a tick always lands at or after the restart instant.
func Cooldown(window, rebornOffset, interval time.Duration) time.Duration {
	return max(window, rebornOffset, 2*interval, 0)
}

// InMaintenance reports whether now lies in [restart, restart+window) for some
// restart instant.
func (s *Schedule) InMaintenance(now time.Time, window time.Duration) bool {
	if window <= 0 {
		return false
	}
	r := s.Next(now.Add(-window))
	return !r.After(now)
}

// Key formats the cycle key of a restart instant.
func (s *Schedule) Key(restart time.Time) string {
	return restart.In(s.loc).Format(KeyLayout)
}

// ParseKey converts a cycle key back into its restart instant.
func (s *Schedule) ParseKey(key string) (time.Time, error) {
	return time.ParseInLocation(KeyLayout, key, s.loc)
}

// Describe renders the restart times for humans as seen on the day of now,
// e.g. "5:00 AM & 5:00 PM IST".
func (s *Schedule) Describe(now time.Time) string {
	ref := now.In(s.loc)
	parts := make([]string, 0, len(s.times))
	for _, t := range s.times {
		at := time.Date(ref.Year(), ref.Month(), ref.Day(), t.Hour, t.Minute, 0, 0, s.loc)
		parts = append(parts, at.Format("3:04 PM"))
	}
	return strings.Join(parts, " & ") + " " + ref.Format("MST")
}
