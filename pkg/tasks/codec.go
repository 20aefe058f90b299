package tasks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/asynxgo/asynx/pkg/schedule"
)

// Metadata hash field names (spec §4.1's "AX:META" fields).
const (
	FieldUUID       = "uuid"
	FieldCName      = "cname"
	FieldRequest    = "request"
	FieldETA        = "eta"
	FieldSchedule   = "schedule"
	FieldLastRunAt  = "last_run_at"
	FieldStatus     = "status"
	FieldOnSuccess  = "on_success"
	FieldOnFailure  = "on_failure"
	FieldOnComplete = "on_complete"
)

// EncodeFields renders every persisted attribute of t as a JSON-encoded
// string, ready for a Redis hash write. Each field goes through the JSON
// encoder individually — including plain strings — so that decoding is
// always unambiguous about type, matching spec §4.1.
func EncodeFields(t *Task) (map[string]string, error) {
	fields := make(map[string]string, 10)
	set := func(name string, v interface{}) error {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("tasks: encode field %q: %w", name, err)
		}
		fields[name] = string(b)
		return nil
	}

	var cname *string
	if t.CName != "" {
		cname = &t.CName
	}
	var uuid *string
	if t.UUID != "" {
		uuid = &t.UUID
	}
	var sched *string
	if t.Schedule != nil {
		s := t.Schedule.String()
		sched = &s
	}

	for _, f := range []struct {
		name string
		val  interface{}
	}{
		{FieldUUID, uuid},
		{FieldCName, cname},
		{FieldRequest, t.Request},
		{FieldETA, t.ETA},
		{FieldSchedule, sched},
		{FieldLastRunAt, t.LastRunAt},
		{FieldStatus, string(t.Status)},
		{FieldOnSuccess, t.OnSuccess},
		{FieldOnFailure, t.OnFailure},
		{FieldOnComplete, t.OnComplete},
	} {
		if err := set(f.name, f.val); err != nil {
			return nil, err
		}
	}
	return fields, nil
}

// DecodeFields reconstructs a Task from a Redis metadata hash. loc is
// the time zone used to re-evaluate a stored cron schedule string.
func DecodeFields(app, queue string, id int64, fields map[string]string, loc *time.Location) (*Task, error) {
	t := &Task{App: app, Queue: queue, ID: id}

	decode := func(name string, v interface{}) error {
		raw, ok := fields[name]
		if !ok {
			return nil
		}
		if err := json.Unmarshal([]byte(raw), v); err != nil {
			return fmt.Errorf("tasks: decode field %q: %w", name, err)
		}
		return nil
	}

	var uuid, cname, scheduleStr *string
	var status string

	if err := decode(FieldUUID, &uuid); err != nil {
		return nil, err
	}
	if err := decode(FieldCName, &cname); err != nil {
		return nil, err
	}
	if err := decode(FieldRequest, &t.Request); err != nil {
		return nil, err
	}
	if err := decode(FieldETA, &t.ETA); err != nil {
		return nil, err
	}
	if err := decode(FieldSchedule, &scheduleStr); err != nil {
		return nil, err
	}
	if err := decode(FieldLastRunAt, &t.LastRunAt); err != nil {
		return nil, err
	}
	if err := decode(FieldStatus, &status); err != nil {
		return nil, err
	}
	if err := decode(FieldOnSuccess, &t.OnSuccess); err != nil {
		return nil, err
	}
	if err := decode(FieldOnFailure, &t.OnFailure); err != nil {
		return nil, err
	}
	if err := decode(FieldOnComplete, &t.OnComplete); err != nil {
		return nil, err
	}

	if uuid != nil {
		t.UUID = *uuid
	}
	if cname != nil {
		t.CName = *cname
	}
	t.Status = Status(status)
	if scheduleStr != nil {
		sch, err := schedule.Parse(*scheduleStr, loc)
		if err != nil {
			return nil, fmt.Errorf("tasks: decode schedule: %w", err)
		}
		t.Schedule = sch
	}
	return t, nil
}
