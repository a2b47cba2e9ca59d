// Package schedule evaluates whether an instant falls inside a weekly
// business-hours window. Evaluation is pure; all validation happens when the
// schedule is parsed at config load.
package schedule

import (
	"fmt"
	"strings"
	"time"
)

// Window is one open/close pair in local wall-clock minutes since midnight.
type Window struct {
	openMin  int
	closeMin int
}

// Schedule is a parsed weekly schedule bound to a time zone. Days without a
// window are closed.
type Schedule struct {
	loc  *time.Location
	days map[time.Weekday]Window
}

// Result is the outcome of evaluating one instant.
type Result struct {
	Open  bool
	Local time.Time // the instant in the schedule's zone, for diagnostics
}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// Parse builds a Schedule from an IANA zone name and a map of weekday name to
// "HH:MM-HH:MM" window. An empty windows map is valid: always closed.
func Parse(zone string, windows map[string]string) (*Schedule, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", zone, err)
	}

	s := &Schedule{loc: loc, days: make(map[time.Weekday]Window, len(windows))}
	for day, spec := range windows {
		wd, ok := weekdayNames[strings.ToLower(strings.TrimSpace(day))]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", day)
		}
		open, close, err := parseWindow(spec)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", day, err)
		}
		s.days[wd] = Window{openMin: open, closeMin: close}
	}
	return s, nil
}

func parseWindow(spec string) (openMin, closeMin int, err error) {
	parts := strings.Split(spec, "-")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("window %q must be HH:MM-HH:MM", spec)
	}
	openMin, err = parseClock(parts[0])
	if err != nil {
		return 0, 0, err
	}
	closeMin, err = parseClock(parts[1])
	if err != nil {
		return 0, 0, err
	}
	if closeMin <= openMin {
		return 0, 0, fmt.Errorf("window %q closes before it opens", spec)
	}
	return openMin, closeMin, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("bad clock time %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Evaluate reports whether the instant falls inside the day's window.
// The open boundary is inclusive and the close boundary exclusive: a window
// of 08:00-18:00 is open at exactly 08:00 and closed at exactly 18:00.
func (s *Schedule) Evaluate(t time.Time) Result {
	local := t.In(s.loc)
	w, ok := s.days[local.Weekday()]
	if !ok {
		return Result{Open: false, Local: local}
	}
	minute := local.Hour()*60 + local.Minute()
	return Result{Open: minute >= w.openMin && minute < w.closeMin, Local: local}
}

// Zone returns the schedule's location name, for logging.
func (s *Schedule) Zone() string {
	return s.loc.String()
}
