// Package schedule implements the two recurrence grammars a recurring
// task can declare: a fixed interval in seconds, or a 5-field cron
// expression (minute hour day-of-month month day-of-week).
package schedule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule computes successive fire times for a recurring task.
type Schedule interface {
	// NextAfter returns the first instant strictly greater than t that
	// this schedule fires at.
	NextAfter(t time.Time) time.Time

	// String returns the canonical grammar form, such that
	// Parse(s.String(), loc) reproduces an equivalent schedule.
	String() string
}

// Interval fires every N seconds, N a positive float.
type Interval struct {
	Seconds float64
}

// NextAfter implements Schedule.
func (i Interval) NextAfter(t time.Time) time.Time {
	return t.Add(time.Duration(i.Seconds * float64(time.Second)))
}

// String implements Schedule.
func (i Interval) String() string {
	return fmt.Sprintf("every %s seconds", strconv.FormatFloat(i.Seconds, 'f', -1, 64))
}

var intervalPattern = regexp.MustCompile(`(?i)^every\s+([0-9]*\.?[0-9]+)\s+seconds?$`)

// ParseInterval reports whether s matches the interval grammar and, if
// so, returns the parsed Interval.
func ParseInterval(s string) (Interval, bool) {
	m := intervalPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return Interval{}, false
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil || n <= 0 {
		return Interval{}, false
	}
	return Interval{Seconds: n}, true
}

// cronParser accepts the standard 5-field form: minute hour dom month dow.
// No seconds field, matching the grammar in spec §4.2.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Cron fires according to a 5-field cron expression, evaluated in a
// configured time zone.
type Cron struct {
	spec     string
	schedule cron.Schedule
}

// ParseCron parses a 5-field cron expression. loc, when non-nil, pins the
// evaluation time zone for NextAfter; nil leaves robfig/cron's default
// (time.Local).
func ParseCron(s string, loc *time.Location) (Cron, error) {
	s = strings.TrimSpace(s)
	parsed, err := cronParser.Parse(s)
	if err != nil {
		return Cron{}, fmt.Errorf("schedule: invalid cron expression %q: %w", s, err)
	}
	if loc != nil {
		if spec, ok := parsed.(*cron.SpecSchedule); ok {
			spec.Location = loc
		}
	}
	return Cron{spec: s, schedule: parsed}, nil
}

// NextAfter implements Schedule.
func (c Cron) NextAfter(t time.Time) time.Time {
	return c.schedule.Next(t)
}

// String implements Schedule.
func (c Cron) String() string {
	return c.spec
}

// Parse accepts either grammar transparently: the interval form is tried
// first, and anything else is attempted as a cron expression. loc is the
// time zone cron fields are evaluated in; it has no effect on interval
// schedules.
func Parse(s string, loc *time.Location) (Schedule, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("schedule: empty schedule string")
	}
	if iv, ok := ParseInterval(s); ok {
		return iv, nil
	}
	return ParseCron(s, loc)
}
