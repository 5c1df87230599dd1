// Package crontab computes fire times for five-field cron expressions in a
// given IANA timezone. Evaluation is pure: callers pass the reference
// instant, so results depend only on the arguments.
package crontab

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	ErrInvalidExpression = errors.New("invalid cron expression")
	ErrInvalidTimezone   = errors.New("invalid timezone")
	ErrNoFireTime        = errors.New("cron expression never fires")
)

// starBit mirrors the marker robfig/cron sets on fields written as "*".
const starBit = 1 << 63

// searchYears bounds the forward search for impossible dates like Feb 30.
const searchYears = 5

type fieldRange struct {
	name     string
	min, max int
}

var fieldRanges = [5]fieldRange{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 6},
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Validate checks that expr has five fields, each "*", a literal within the
// field's range, or "*/step".
func Validate(expr string) error {
	parts := strings.Fields(expr)
	if len(parts) != len(fieldRanges) {
		return fmt.Errorf("%w: expected %d fields, got %d", ErrInvalidExpression, len(fieldRanges), len(parts))
	}
	for i, part := range parts {
		if err := checkField(part, fieldRanges[i]); err != nil {
			return err
		}
	}
	return nil
}

func checkField(value string, r fieldRange) error {
	if value == "*" {
		return nil
	}
	if step, ok := strings.CutPrefix(value, "*/"); ok {
		n, err := parseDigits(step)
		if err != nil || n < 1 || n > r.max {
			return fmt.Errorf("%w: %s step %q must be between 1 and %d", ErrInvalidExpression, r.name, step, r.max)
		}
		return nil
	}
	n, err := parseDigits(value)
	if err != nil || n < r.min || n > r.max {
		return fmt.Errorf("%w: %s %q must be *, */step or a number between %d and %d", ErrInvalidExpression, r.name, value, r.min, r.max)
	}
	return nil
}

func parseDigits(s string) (int, error) {
	if s == "" || strings.IndexFunc(s, func(r rune) bool { return r < '0' || r > '9' }) >= 0 {
		return 0, strconv.ErrSyntax
	}
	return strconv.Atoi(s)
}

// LoadLocation resolves an IANA zone name. Empty means UTC.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, name)
	}
	return loc, nil
}

// Schedule is a parsed expression bound to a location.
type Schedule struct {
	expr string
	spec *cron.SpecSchedule
	loc  *time.Location
}

func Parse(expr, timezone string) (*Schedule, error) {
	if err := Validate(expr); err != nil {
		return nil, err
	}
	loc, err := LoadLocation(timezone)
	if err != nil {
		return nil, err
	}
	parsed, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExpression, err)
	}
	spec, ok := parsed.(*cron.SpecSchedule)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported form %q", ErrInvalidExpression, expr)
	}
	return &Schedule{expr: expr, spec: spec, loc: loc}, nil
}

func (s *Schedule) Location() *time.Location {
	return s.loc
}

// NextFireTime parses expr and returns the first fire instant strictly after
// the given instant.
func NextFireTime(expr, timezone string, after time.Time) (time.Time, error) {
	s, err := Parse(expr, timezone)
	if err != nil {
		return time.Time{}, err
	}
	return s.Next(after)
}

// Next walks civil dates in the schedule's location. A wall time inside a
// spring-forward gap resolves to the first valid instant after the gap; a
// wall time repeated by a fall-back transition resolves to its first
// occurrence only.
func (s *Schedule) Next(after time.Time) (time.Time, error) {
	local := after.In(s.loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 12, 0, 0, 0, time.UTC)
	limit := day.AddDate(searchYears, 0, 0)

	for ; !day.After(limit); day = day.AddDate(0, 0, 1) {
		if !s.matchDay(day) {
			continue
		}
		for hour := 0; hour < 24; hour++ {
			if s.spec.Hour&(1<<uint(hour)) == 0 {
				continue
			}
			for minute := 0; minute < 60; minute++ {
				if s.spec.Minute&(1<<uint(minute)) == 0 {
					continue
				}
				t := resolve(day.Year(), day.Month(), day.Day(), hour, minute, s.loc)
				if t.After(after) {
					return t, nil
				}
			}
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q within %d years of %s", ErrNoFireTime, s.expr, searchYears, after.Format(time.RFC3339))
}

// matchDay applies cron's day rule: when both day fields are restricted a
// day matches either of them, otherwise it must match both.
func (s *Schedule) matchDay(day time.Time) bool {
	if s.spec.Month&(1<<uint(day.Month())) == 0 {
		return false
	}
	domMatch := s.spec.Dom&(1<<uint(day.Day())) != 0
	dowMatch := s.spec.Dow&(1<<uint(day.Weekday())) != 0
	if s.spec.Dom&starBit != 0 || s.spec.Dow&starBit != 0 {
		return domMatch && dowMatch
	}
	return domMatch || dowMatch
}

// resolve maps a civil time to an instant in loc.
func resolve(year int, month time.Month, day, hour, minute int, loc *time.Location) time.Time {
	t := time.Date(year, month, day, hour, minute, 0, 0, loc)
	want := time.Date(year, month, day, hour, minute, 0, 0, time.UTC)
	got := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, time.UTC)

	switch {
	case got.Before(want):
		// Landed before the gap: skip to the end of the current zone period.
		if _, end := t.ZoneBounds(); !end.IsZero() {
			return end.In(loc)
		}
	case got.After(want):
		// Landed after the gap: the gap ends where this zone period starts.
		if start, _ := t.ZoneBounds(); !start.IsZero() {
			return start.In(loc)
		}
	default:
		return firstOccurrence(t)
	}
	return t
}

// firstOccurrence returns the earlier instant when t's wall clock is
// repeated by a transition that moved clocks back.
func firstOccurrence(t time.Time) time.Time {
	start, _ := t.ZoneBounds()
	if start.IsZero() {
		return t
	}
	_, cur := t.Zone()
	_, prev := start.Add(-time.Second).Zone()
	if prev <= cur {
		return t
	}
	alt := t.Add(time.Duration(cur-prev) * time.Second)
	if alt.Before(start) && sameWallClock(alt, t) {
		return alt
	}
	return t
}

func sameWallClock(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd && a.Hour() == b.Hour() && a.Minute() == b.Minute()
}
