package schedule

import (
	"testing"
	"time"
)

func mustParse(t *testing.T, zone string, windows map[string]string) *Schedule {
	t.Helper()
	s, err := Parse(zone, windows)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return s
}

func TestEvaluateBoundaries(t *testing.T) {
	s := mustParse(t, "UTC", map[string]string{"monday": "08:00-18:00"})

	// 2026-08-24 is a Monday, 2026-08-23 a Sunday.
	tests := []struct {
		name string
		at   time.Time
		open bool
	}{
		{"sunday morning", time.Date(2026, 8, 23, 9, 0, 0, 0, time.UTC), false},
		{"monday at open exactly", time.Date(2026, 8, 24, 8, 0, 0, 0, time.UTC), true},
		{"monday mid-window", time.Date(2026, 8, 24, 12, 30, 0, 0, time.UTC), true},
		{"monday one minute before close", time.Date(2026, 8, 24, 17, 59, 0, 0, time.UTC), true},
		{"monday at close exactly", time.Date(2026, 8, 24, 18, 0, 0, 0, time.UTC), false},
		{"monday before open", time.Date(2026, 8, 24, 7, 59, 0, 0, time.UTC), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Evaluate(tt.at)
			if got.Open != tt.open {
				t.Errorf("Evaluate(%v).Open = %v, want %v", tt.at, got.Open, tt.open)
			}
		})
	}
}

func TestEvaluateCrossesZones(t *testing.T) {
	s := mustParse(t, "America/Sao_Paulo", map[string]string{"monday": "09:00-17:00"})

	// 12:00 UTC on Monday 2026-08-24 is 09:00 in São Paulo (UTC-3).
	at := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	res := s.Evaluate(at)
	if !res.Open {
		t.Errorf("expected open at %v (local %v)", at, res.Local)
	}
	if res.Local.Hour() != 9 {
		t.Errorf("local hour = %d, want 9", res.Local.Hour())
	}

	// 11:59 UTC is 08:59 local: still closed.
	if res := s.Evaluate(at.Add(-time.Minute)); res.Open {
		t.Errorf("expected closed at 08:59 local, got open")
	}
}

func TestEmptyScheduleAlwaysClosed(t *testing.T) {
	s := mustParse(t, "UTC", nil)
	if res := s.Evaluate(time.Now()); res.Open {
		t.Error("empty schedule reported open")
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	tests := []struct {
		name    string
		zone    string
		windows map[string]string
	}{
		{"bad zone", "Mars/Olympus", map[string]string{"monday": "08:00-18:00"}},
		{"bad weekday", "UTC", map[string]string{"moonday": "08:00-18:00"}},
		{"missing dash", "UTC", map[string]string{"monday": "08:00 18:00"}},
		{"bad clock", "UTC", map[string]string{"monday": "8am-6pm"}},
		{"inverted window", "UTC", map[string]string{"monday": "18:00-08:00"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.zone, tt.windows); err == nil {
				t.Error("Parse accepted malformed schedule")
			}
		})
	}
}
