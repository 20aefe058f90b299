package schedule

import (
	"testing"
	"time"
)

func TestParseInterval(t *testing.T) {
	s, err := Parse("every 10 seconds", nil)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	iv, ok := s.(Interval)
	if !ok {
		t.Fatalf("expected Interval, got %T", s)
	}
	if iv.Seconds != 10 {
		t.Errorf("expected 10 seconds, got %v", iv.Seconds)
	}

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	next := s.NextAfter(now)
	if !next.Equal(now.Add(10 * time.Second)) {
		t.Errorf("expected %v, got %v", now.Add(10*time.Second), next)
	}
}

func TestIntervalRoundTrip(t *testing.T) {
	s, err := Parse("every 200.5 seconds", nil)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	again, err := Parse(s.String(), nil)
	if err != nil {
		t.Fatalf("re-parse failed: %v", err)
	}
	if s.String() != again.String() {
		t.Errorf("round-trip mismatch: %q != %q", s.String(), again.String())
	}
}

func TestParseCron(t *testing.T) {
	s, err := Parse("*/10 1,2-10 * * *", time.UTC)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if s.String() != "*/10 1,2-10 * * *" {
		t.Errorf("expected canonical string preserved, got %q", s.String())
	}

	base := time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC)
	next := s.NextAfter(base)
	if !next.After(base) {
		t.Errorf("expected next fire time after base, got %v", next)
	}
	if next.Minute()%10 != 0 {
		t.Errorf("expected a multiple-of-10 minute, got %v", next)
	}
}

func TestCronRoundTrip(t *testing.T) {
	orig := "5 4 * * 1-5"
	s, err := Parse(orig, time.UTC)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	again, err := Parse(s.String(), time.UTC)
	if err != nil {
		t.Fatalf("re-parse failed: %v", err)
	}
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if !s.NextAfter(base).Equal(again.NextAfter(base)) {
		t.Errorf("round-trip schedules disagree on next fire time")
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := Parse("not a schedule", time.UTC); err == nil {
		t.Error("expected error for unrecognized schedule string")
	}
}

func TestCronRespectsLocation(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	// Fires at 09:00 local every day.
	s, err := Parse("0 9 * * *", loc)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	base := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	next := s.NextAfter(base)
	if next.In(loc).Hour() != 9 {
		t.Errorf("expected 9am local, got %v", next.In(loc))
	}
}
