// Package tasks defines the central Task entity asynx's engine manages:
// an outbound HTTP call descriptor plus its scheduling and callback
// policy (see spec §3).
package tasks

import (
	"strings"
	"time"

	"github.com/asynxgo/asynx/pkg/schedule"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusNew      Status = "new"
	StatusEnqueued Status = "enqueued"
	StatusDelayed  Status = "delayed"
	StatusRunning  Status = "running"
)

// Request describes the outbound HTTP call a task performs.
type Request struct {
	Method         string            `json:"method"`
	URL            string            `json:"url"`
	Headers        map[string]string `json:"headers,omitempty"`
	Payload        string            `json:"payload,omitempty"`
	Timeout        *float64          `json:"timeout,omitempty"`
	AllowRedirects *bool             `json:"allow_redirects,omitempty"`
}

// NormalizeMethod upper-cases an HTTP method the way the facade and
// client SDK both need to before a Request reaches the engine.
func NormalizeMethod(method string) string {
	if method == "" {
		return "GET"
	}
	return strings.ToUpper(method)
}

// EffectiveAllowRedirects resolves the default allow_redirects policy
// described in spec §3: explicit value wins; otherwise GET/OPTIONS
// follow redirects, HEAD does not, and everything else is unset (left
// to the HTTP client's own default, which for Go's net/http is "follow").
func (r Request) EffectiveAllowRedirects() (follow bool, explicit bool) {
	if r.AllowRedirects != nil {
		return *r.AllowRedirects, true
	}
	switch r.Method {
	case "GET", "OPTIONS":
		return true, true
	case "HEAD":
		return false, true
	default:
		return false, false
	}
}

// Task is the engine's in-memory representation of a live task.
type Task struct {
	App   string
	Queue string

	ID    int64
	UUID  string
	CName string // empty means "no cname"

	Request Request

	// ETA is the absolute instant the task fires. Nil means "fire now".
	ETA *time.Time

	// Schedule is non-nil for recurring tasks; Schedule != nil requires
	// CName != "" (enforced at AddTask).
	Schedule schedule.Schedule

	LastRunAt *time.Time

	Status Status

	OnSuccess  Callback
	OnFailure  Callback
	OnComplete Callback
}

// Countdown computes the relative view of ETA as of now. It is never
// persisted — only ever derived on read (spec §3).
func (t *Task) Countdown(now time.Time) *float64 {
	if t.ETA == nil {
		return nil
	}
	secs := t.ETA.Sub(now).Seconds()
	return &secs
}

// IsRecurring reports whether the task re-arms itself after each run.
func (t *Task) IsRecurring() bool {
	return t.Schedule != nil
}
