package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// field is one parsed cron field: the set of values it allows.
type field struct {
	any    bool
	values map[int]bool
}

func (f field) matches(v int) bool { return f.any || f.values[v] }

// Schedule is a parsed 5-field cron expression:
// "minute hour day-of-month month day-of-week". Each field accepts "*",
// numbers, lists ("1,15"), ranges ("1-5") and steps ("*/10", "0-30/5").
type Schedule struct {
	expr       string
	minute     field
	hour       field
	dayOfMonth field
	month      field
	dayOfWeek  field
}

var bounds = [5]struct {
	name     string
	min, max int
}{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 7},
}

// ParseSchedule parses expr.
func ParseSchedule(expr string) (Schedule, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return Schedule{}, fmt.Errorf("cron %q: want 5 fields, got %d", expr, len(parts))
	}

	var fs [5]field
	for i, p := range parts {
		f, err := parseField(p, bounds[i].min, bounds[i].max)
		if err != nil {
			return Schedule{}, fmt.Errorf("cron %q: %s: %w", expr, bounds[i].name, err)
		}
		fs[i] = f
	}
	// 7 is Sunday too.
	if fs[4].values[7] {
		fs[4].values[0] = true
	}

	return Schedule{
		expr:       expr,
		minute:     fs[0],
		hour:       fs[1],
		dayOfMonth: fs[2],
		month:      fs[3],
		dayOfWeek:  fs[4],
	}, nil
}

func parseField(s string, lo, hi int) (field, error) {
	if s == "*" {
		return field{any: true}, nil
	}
	f := field{values: map[int]bool{}}
	for _, part := range strings.Split(s, ",") {
		rng, stepStr, hasStep := strings.Cut(part, "/")
		step := 1
		if hasStep {
			n, err := strconv.Atoi(stepStr)
			if err != nil || n <= 0 {
				return field{}, fmt.Errorf("invalid step %q", stepStr)
			}
			step = n
		}

		start, end := lo, hi
		switch {
		case rng == "*":
		case strings.Contains(rng, "-"):
			a, b, _ := strings.Cut(rng, "-")
			var err error
			if start, err = strconv.Atoi(a); err != nil {
				return field{}, fmt.Errorf("invalid value %q", a)
			}
			if end, err = strconv.Atoi(b); err != nil {
				return field{}, fmt.Errorf("invalid value %q", b)
			}
		default:
			n, err := strconv.Atoi(rng)
			if err != nil {
				return field{}, fmt.Errorf("invalid value %q", rng)
			}
			start = n
			end = n
			if hasStep {
				end = hi
			}
		}
		if start < lo || end > hi || start > end {
			return field{}, fmt.Errorf("%q out of range %d-%d", part, lo, hi)
		}
		for v := start; v <= end; v += step {
			f.values[v] = true
		}
	}
	return f, nil
}

// String returns the source expression.
func (s Schedule) String() string { return s.expr }

// Matches reports whether t's minute fires. When both day fields are
// restricted a match on either is enough, as in classic cron.
func (s Schedule) Matches(t time.Time) bool {
	return s.minute.matches(t.Minute()) &&
		s.hour.matches(t.Hour()) &&
		s.month.matches(int(t.Month())) &&
		s.dayMatches(t)
}

// Next returns the first matching minute strictly after after. It gives up
// after four years, which only happens for dates like February 30th, and
// returns the zero time. Times are evaluated in after's location.
func (s Schedule) Next(after time.Time) time.Time {
	t := after.Truncate(time.Minute).Add(time.Minute)
	limit := t.AddDate(4, 0, 1)
	for t.Before(limit) {
		if !s.month.matches(int(t.Month())) {
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, t.Location())
			continue
		}
		if !s.dayMatches(t) {
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, t.Location())
			continue
		}
		if !s.hour.matches(t.Hour()) {
			t = t.Truncate(time.Hour).Add(time.Hour)
			continue
		}
		if s.minute.matches(t.Minute()) {
			return t
		}
		t = t.Add(time.Minute)
	}
	return time.Time{}
}

func (s Schedule) dayMatches(t time.Time) bool {
	dom := s.dayOfMonth.matches(t.Day())
	dow := s.dayOfWeek.matches(int(t.Weekday()))
	if !s.dayOfMonth.any && !s.dayOfWeek.any {
		return dom || dow
	}
	return dom && dow
}
