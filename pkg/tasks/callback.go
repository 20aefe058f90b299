package tasks

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

// CallbackKind tags which of the five callback variants a Callback holds
// (spec §3: null | __report__ | __delete__ | URL | embedded sub-task).
type CallbackKind int

const (
	CallbackNone CallbackKind = iota
	CallbackReport
	CallbackDelete
	CallbackURL
	CallbackSubTask
)

func (k CallbackKind) String() string {
	switch k {
	case CallbackNone:
		return "none"
	case CallbackReport:
		return "__report__"
	case CallbackDelete:
		return "__delete__"
	case CallbackURL:
		return "url"
	case CallbackSubTask:
		return "subtask"
	default:
		return "unknown"
	}
}

// Callback is the tagged variant a runner dispatches after a task's
// outbound request resolves.
type Callback struct {
	Kind    CallbackKind
	URL     string
	SubTask *Descriptor
}

// NoCallback is the explicit no-op callback.
var NoCallback = Callback{Kind: CallbackNone}

// ReportCallback logs the response and does nothing else.
var ReportCallback = Callback{Kind: CallbackReport}

// DeleteCallback is only valid as the default for on_success: it marks
// "terminal delete", which is what happens to a one-shot task anyway.
var DeleteCallback = Callback{Kind: CallbackDelete}

// URLCallback builds a Callback that POSTs the response to url.
func URLCallback(url string) Callback {
	return Callback{Kind: CallbackURL, URL: url}
}

// SubTaskCallback builds a Callback that enqueues an embedded sub-task.
func SubTaskCallback(d *Descriptor) Callback {
	return Callback{Kind: CallbackSubTask, SubTask: d}
}

var httpPrefix = regexp.MustCompile(`(?i)^https?://`)

// MarshalJSON renders the callback in whichever of the five wire shapes
// matches its kind.
func (c Callback) MarshalJSON() ([]byte, error) {
	switch c.Kind {
	case CallbackNone:
		return []byte("null"), nil
	case CallbackReport:
		return json.Marshal("__report__")
	case CallbackDelete:
		return json.Marshal("__delete__")
	case CallbackURL:
		return json.Marshal(c.URL)
	case CallbackSubTask:
		return json.Marshal(c.SubTask)
	default:
		return nil, fmt.Errorf("tasks: unknown callback kind %d", c.Kind)
	}
}

// UnmarshalJSON parses whichever of the five wire shapes is present.
func (c *Callback) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if string(trimmed) == "null" {
		*c = NoCallback
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return fmt.Errorf("tasks: invalid callback string: %w", err)
		}
		switch s {
		case "__report__":
			*c = ReportCallback
		case "__delete__":
			*c = DeleteCallback
		default:
			if !httpPrefix.MatchString(s) {
				return fmt.Errorf("tasks: invalid callback %q: must be __report__, __delete__, an http(s):// URL, or a sub-task object", s)
			}
			*c = URLCallback(s)
		}
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var d Descriptor
		if err := json.Unmarshal(trimmed, &d); err != nil {
			return fmt.Errorf("tasks: invalid callback sub-task: %w", err)
		}
		*c = SubTaskCallback(&d)
		return nil
	}
	return fmt.Errorf("tasks: callback must be null, a recognized string, or an object")
}

// Descriptor is the caller-supplied shape of a task insert, also used
// verbatim for embedded callback sub-tasks (spec §3's "same shape as an
// insert payload").
type Descriptor struct {
	Request   Request    `json:"request"`
	CName     string     `json:"cname,omitempty"`
	Countdown *float64   `json:"countdown,omitempty"`
	ETA       *time.Time `json:"eta,omitempty"`
	Schedule  string     `json:"schedule,omitempty"`

	OnSuccess  *Callback `json:"on_success,omitempty"`
	OnFailure  *Callback `json:"on_failure,omitempty"`
	OnComplete *Callback `json:"on_complete,omitempty"`
}

// descriptorWire mirrors Descriptor but keeps the callback fields as raw
// JSON so UnmarshalJSON can tell "key absent" (→ apply the AddTask
// default) apart from "key present" (→ parse verbatim, including an
// explicit null meaning NoCallback).
type descriptorWire struct {
	Request   Request    `json:"request"`
	CName     string     `json:"cname,omitempty"`
	Countdown *float64   `json:"countdown,omitempty"`
	ETA       *time.Time `json:"eta,omitempty"`
	Schedule  string     `json:"schedule,omitempty"`

	OnSuccess  json.RawMessage `json:"on_success,omitempty"`
	OnFailure  json.RawMessage `json:"on_failure,omitempty"`
	OnComplete json.RawMessage `json:"on_complete,omitempty"`
}

// UnmarshalJSON implements the "key absent means unset" distinction
// described on descriptorWire.
func (d *Descriptor) UnmarshalJSON(data []byte) error {
	var w descriptorWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	d.Request = w.Request
	d.CName = w.CName
	d.Countdown = w.Countdown
	d.ETA = w.ETA
	d.Schedule = w.Schedule

	parse := func(raw json.RawMessage) (*Callback, error) {
		if raw == nil {
			return nil, nil
		}
		var c Callback
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, err
		}
		return &c, nil
	}

	var err error
	if d.OnSuccess, err = parse(w.OnSuccess); err != nil {
		return err
	}
	if d.OnFailure, err = parse(w.OnFailure); err != nil {
		return err
	}
	if d.OnComplete, err = parse(w.OnComplete); err != nil {
		return err
	}
	return nil
}

// MarshalJSON renders a Descriptor back to its wire shape, omitting
// callback fields that were never set (as opposed to explicitly null).
func (d Descriptor) MarshalJSON() ([]byte, error) {
	w := descriptorWire{
		Request:   d.Request,
		CName:     d.CName,
		Countdown: d.Countdown,
		ETA:       d.ETA,
		Schedule:  d.Schedule,
	}
	marshalOpt := func(c *Callback) (json.RawMessage, error) {
		if c == nil {
			return nil, nil
		}
		return json.Marshal(*c)
	}
	var err error
	if w.OnSuccess, err = marshalOpt(d.OnSuccess); err != nil {
		return nil, err
	}
	if w.OnFailure, err = marshalOpt(d.OnFailure); err != nil {
		return nil, err
	}
	if w.OnComplete, err = marshalOpt(d.OnComplete); err != nil {
		return nil, err
	}
	return json.Marshal(w)
}
