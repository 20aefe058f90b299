package tasks

import "time"

// View is the JSON shape returned to callers by the engine and facade
// (spec §6's "Task JSON"): ETA is ISO-8601 on output (time.Time's
// default JSON marshaling), countdown is derived fresh on every read.
type View struct {
	Kind       string     `json:"kind"`
	ID         int64      `json:"id"`
	UUID       string     `json:"uuid"`
	CName      *string    `json:"cname"`
	Request    Request    `json:"request"`
	Countdown  *float64   `json:"countdown"`
	ETA        *time.Time `json:"eta"`
	Schedule   *string    `json:"schedule,omitempty"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	Status     Status     `json:"status"`
	OnSuccess  Callback   `json:"on_success"`
	OnFailure  Callback   `json:"on_failure"`
	OnComplete Callback   `json:"on_complete"`
}

// ToView renders the wire representation of t as of now.
func (t *Task) ToView(now time.Time) *View {
	var cname *string
	if t.CName != "" {
		cname = &t.CName
	}
	var sched *string
	if t.Schedule != nil {
		s := t.Schedule.String()
		sched = &s
	}
	return &View{
		Kind:       "Task",
		ID:         t.ID,
		UUID:       t.UUID,
		CName:      cname,
		Request:    t.Request,
		Countdown:  t.Countdown(now),
		ETA:        t.ETA,
		Schedule:   sched,
		LastRunAt:  t.LastRunAt,
		Status:     t.Status,
		OnSuccess:  t.OnSuccess,
		OnFailure:  t.OnFailure,
		OnComplete: t.OnComplete,
	}
}
