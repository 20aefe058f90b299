// Package taskqueue implements the task lifecycle engine: insert, list,
// lookup, delete, and status-transition protocols over the store and
// broker adapters. It is a direct port of asynx-core's TaskQueue class
// (spec §4.4), generalized only where Go idiom requires it (typed
// sentinel errors instead of an exception hierarchy, explicit context
// propagation on every blocking call).
package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/asynxgo/asynx/pkg/broker"
	"github.com/asynxgo/asynx/pkg/keymap"
	"github.com/asynxgo/asynx/pkg/schedule"
	"github.com/asynxgo/asynx/pkg/store"
	"github.com/asynxgo/asynx/pkg/tasks"
	"github.com/redis/go-redis/v9"
)

// Default callback policy applied when a Descriptor omits the field
// entirely (spec §9, carried over from taskqueue.py's Task.__init__).
var (
	defaultOnSuccess  = tasks.DeleteCallback
	defaultOnFailure  = tasks.ReportCallback
	defaultOnComplete = tasks.NoCallback
)

// TaskQueue is the task lifecycle engine for one (app, queue) namespace.
type TaskQueue struct {
	app, queue string

	store  *store.Store
	broker *broker.Broker
	keys   keymap.KeyMap
	loc    *time.Location

	now func() time.Time
}

// Option configures a TaskQueue at construction.
type Option func(*TaskQueue)

// WithClock overrides the time source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(tq *TaskQueue) { tq.now = now }
}

// New builds the engine for one (app, queue) namespace. loc is the time
// zone recurring cron schedules are evaluated in; nil means UTC.
func New(app, queue string, st *store.Store, br *broker.Broker, loc *time.Location, opts ...Option) *TaskQueue {
	if loc == nil {
		loc = time.UTC
	}
	tq := &TaskQueue{
		app:    app,
		queue:  queue,
		store:  st,
		broker: br,
		keys:   keymap.New(app, queue),
		loc:    loc,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(tq)
	}
	return tq
}

// AddTask constructs a task from d, allocates its id, reserves its cname
// (if any), persists its metadata, and dispatches it (spec §4.4's
// add_task). The returned task reflects its post-dispatch state (uuid and
// status populated).
func (tq *TaskQueue) AddTask(ctx context.Context, d *tasks.Descriptor) (*tasks.Task, error) {
	task, err := tq.newTaskFromDescriptor(d)
	if err != nil {
		return nil, err
	}

	id, err := tq.store.Incr(ctx, tq.keys.Counter())
	if err != nil {
		return nil, fmt.Errorf("taskqueue: allocate id: %w", err)
	}
	task.ID = id

	fields, err := tasks.EncodeFields(task)
	if err != nil {
		return nil, fmt.Errorf("taskqueue: add task %d: %w", id, err)
	}
	metaKey := tq.keys.Meta(id)

	var watch []string
	var cnameKey string
	if task.CName != "" {
		cnameKey = tq.keys.CName(task.CName)
		watch = append(watch, cnameKey)
	}

	err = tq.store.Transaction(ctx, watch, false, func(tx *store.Tx) error {
		if cnameKey != "" {
			exists, err := tx.Exists(cnameKey)
			if err != nil {
				return err
			}
			if exists {
				return ErrTaskAlreadyExists
			}
		}
		return tx.Pipeline(func(pipe redis.Pipeliner) error {
			if cnameKey != "" {
				pipe.Set(ctx, cnameKey, strconv.FormatInt(id, 10), 0)
			}
			args := make([]interface{}, 0, len(fields)*2)
			for name, value := range fields {
				args = append(args, name, value)
			}
			pipe.HSet(ctx, metaKey, args...)
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, store.ErrContention) || errors.Is(err, ErrTaskAlreadyExists) {
			return nil, fmt.Errorf("taskqueue: add task cname %q: %w", task.CName, ErrTaskAlreadyExists)
		}
		return nil, fmt.Errorf("taskqueue: add task %d: %w", id, err)
	}

	if err := tq.dispatch(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// newTaskFromDescriptor validates and builds the in-memory Task that
// AddTask will persist, applying the on_success/on_failure/on_complete
// defaults omitted fields fall back to.
func (tq *TaskQueue) newTaskFromDescriptor(d *tasks.Descriptor) (*tasks.Task, error) {
	if d.Schedule != "" && d.CName == "" {
		return nil, ErrCNameRequired
	}

	task := &tasks.Task{
		App:   tq.app,
		Queue: tq.queue,
		CName: d.CName,
		Request: tasks.Request{
			Method:         tasks.NormalizeMethod(d.Request.Method),
			URL:            d.Request.URL,
			Headers:        d.Request.Headers,
			Payload:        d.Request.Payload,
			Timeout:        d.Request.Timeout,
			AllowRedirects: d.Request.AllowRedirects,
		},
		Status:     tasks.StatusNew,
		OnSuccess:  defaultOnSuccess,
		OnFailure:  defaultOnFailure,
		OnComplete: defaultOnComplete,
	}
	if d.OnSuccess != nil {
		task.OnSuccess = *d.OnSuccess
	}
	if d.OnFailure != nil {
		task.OnFailure = *d.OnFailure
	}
	if d.OnComplete != nil {
		task.OnComplete = *d.OnComplete
	}

	switch {
	case d.ETA != nil:
		eta := *d.ETA
		task.ETA = &eta
	case d.Countdown != nil:
		eta := tq.now().Add(time.Duration(*d.Countdown * float64(time.Second)))
		task.ETA = &eta
	}

	if d.Schedule != "" {
		sched, err := schedule.Parse(d.Schedule, tq.loc)
		if err != nil {
			return nil, fmt.Errorf("taskqueue: add task: %w", err)
		}
		task.Schedule = sched
	}

	return task, nil
}

// dispatch submits task to the broker and persists its resulting uuid and
// status (spec §4.4's internal dispatch, called from AddTask and from
// Reschedule when a recurring task re-arms).
func (tq *TaskQueue) dispatch(ctx context.Context, task *tasks.Task) error {
	job := broker.Job{App: tq.app, Queue: tq.queue, ID: task.ID}

	var jobUUID string
	var err error
	if task.ETA == nil {
		jobUUID, err = tq.broker.EnqueueNow(ctx, job)
		task.Status = tasks.StatusEnqueued
	} else {
		delay := task.ETA.Sub(tq.now())
		if delay < 0 {
			delay = 0
		}
		jobUUID, err = tq.broker.EnqueueAfter(ctx, delay, job)
		task.Status = tasks.StatusDelayed
	}
	if err != nil {
		return fmt.Errorf("taskqueue: dispatch task %d: %w", task.ID, err)
	}
	task.UUID = jobUUID

	uuidField, err := json.Marshal(jobUUID)
	if err != nil {
		return fmt.Errorf("taskqueue: dispatch task %d: %w", task.ID, err)
	}
	statusField, err := json.Marshal(string(task.Status))
	if err != nil {
		return fmt.Errorf("taskqueue: dispatch task %d: %w", task.ID, err)
	}

	metaKey := tq.keys.Meta(task.ID)
	uuidKey := tq.keys.UUID()
	err = tq.store.Pipeline(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, metaKey, tasks.FieldUUID, string(uuidField), tasks.FieldStatus, string(statusField))
		pipe.ZAdd(ctx, uuidKey, redis.Z{Score: float64(task.ID), Member: jobUUID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("taskqueue: dispatch task %d: %w", task.ID, err)
	}
	return nil
}

// defaultPage is iter_tasks' default page size when the caller passes 0.
const defaultPage = 50

// IterTasks walks every live task starting at offset, in id order, calling
// yield for each. yield returns false to stop early. Internally it pages
// the uuid sorted set using the same per_pipeline = min(page+10, 100)
// heuristic as the original's iter_tasks (spec §9's supplemented detail).
func (tq *TaskQueue) IterTasks(ctx context.Context, offset, page int64, yield func(*tasks.Task) (bool, error)) error {
	if page <= 0 {
		page = defaultPage
	}
	perPipeline := page + 10
	if perPipeline > 100 {
		perPipeline = 100
	}

	uuidKey := tq.keys.UUID()
	cursor := offset
	for {
		entries, err := tq.store.ZRangeWithScores(ctx, uuidKey, cursor, cursor+perPipeline-1)
		if err != nil {
			return fmt.Errorf("taskqueue: iter tasks: %w", err)
		}
		if len(entries) == 0 {
			return nil
		}
		for _, e := range entries {
			id := int64(e.Score)
			fields, err := tq.store.HGetAll(ctx, tq.keys.Meta(id))
			if err != nil {
				return fmt.Errorf("taskqueue: iter tasks: %w", err)
			}
			if len(fields) == 0 {
				// Raced with a concurrent delete; skip silently (spec §4.4).
				continue
			}
			t, err := tasks.DecodeFields(tq.app, tq.queue, id, fields, tq.loc)
			if err != nil {
				return fmt.Errorf("taskqueue: iter tasks: %w", err)
			}
			cont, err := yield(t)
			if err != nil {
				return err
			}
			if !cont {
				return nil
			}
		}
		cursor += int64(len(entries))
	}
}

// ListTasks materializes up to limit tasks starting at offset (spec
// §4.4's list_tasks).
func (tq *TaskQueue) ListTasks(ctx context.Context, offset, limit int64) ([]*tasks.Task, error) {
	if limit <= 0 {
		return []*tasks.Task{}, nil
	}
	result := make([]*tasks.Task, 0, limit)
	err := tq.IterTasks(ctx, offset, limit, func(t *tasks.Task) (bool, error) {
		result = append(result, t)
		return int64(len(result)) < limit, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CountTasks returns the number of live tasks in this queue.
func (tq *TaskQueue) CountTasks(ctx context.Context) (int64, error) {
	n, err := tq.store.ZCard(ctx, tq.keys.UUID())
	if err != nil {
		return 0, fmt.Errorf("taskqueue: count tasks: %w", err)
	}
	return n, nil
}

// GetTask loads a task by id.
func (tq *TaskQueue) GetTask(ctx context.Context, id int64) (*tasks.Task, error) {
	fields, err := tq.store.HGetAll(ctx, tq.keys.Meta(id))
	if err != nil {
		return nil, fmt.Errorf("taskqueue: get task %d: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("taskqueue: get task %d: %w", id, ErrTaskNotFound)
	}
	t, err := tasks.DecodeFields(tq.app, tq.queue, id, fields, tq.loc)
	if err != nil {
		return nil, fmt.Errorf("taskqueue: get task %d: %w", id, err)
	}
	return t, nil
}

// GetTaskByUUID loads a task by its broker-assigned uuid.
func (tq *TaskQueue) GetTaskByUUID(ctx context.Context, uuid string) (*tasks.Task, error) {
	score, found, err := tq.store.ZScore(ctx, tq.keys.UUID(), uuid)
	if err != nil {
		return nil, fmt.Errorf("taskqueue: get task by uuid %q: %w", uuid, err)
	}
	if !found {
		return nil, fmt.Errorf("taskqueue: get task by uuid %q: %w", uuid, ErrTaskNotFound)
	}
	return tq.GetTask(ctx, int64(score))
}

// GetTaskByCName loads a task by its custom name.
func (tq *TaskQueue) GetTaskByCName(ctx context.Context, cname string) (*tasks.Task, error) {
	idStr, found, err := tq.store.Get(ctx, tq.keys.CName(cname))
	if err != nil {
		return nil, fmt.Errorf("taskqueue: get task by cname %q: %w", cname, err)
	}
	if !found {
		return nil, fmt.Errorf("taskqueue: get task by cname %q: %w", cname, ErrTaskNotFound)
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("taskqueue: corrupt cname index %q: %w", cname, err)
	}
	return tq.GetTask(ctx, id)
}

// DeleteTask deletes a task by id. It fails ErrTaskStatusNotMatched if the
// task is currently running (spec invariant 7; the uuid/cname paths do not
// enforce this, by design — spec §9's open question).
func (tq *TaskQueue) DeleteTask(ctx context.Context, id int64) error {
	return tq.deleteByID(ctx, id, true)
}

// DeleteTaskByUUID deletes a task by its broker-assigned uuid, bypassing
// the running check.
func (tq *TaskQueue) DeleteTaskByUUID(ctx context.Context, uuid string) error {
	t, err := tq.GetTaskByUUID(ctx, uuid)
	if err != nil {
		return err
	}
	return tq.deleteByID(ctx, t.ID, false)
}

// DeleteTaskByCName deletes a task by its cname, bypassing the running
// check.
func (tq *TaskQueue) DeleteTaskByCName(ctx context.Context, cname string) error {
	t, err := tq.GetTaskByCName(ctx, cname)
	if err != nil {
		return err
	}
	return tq.deleteByID(ctx, t.ID, false)
}

// deleteByID resolves the task's current cname (if any) so it can be
// watched alongside the metadata and uuid-set keys, then removes all
// three atomically.
func (tq *TaskQueue) deleteByID(ctx context.Context, id int64, enforceRunningCheck bool) error {
	metaKey := tq.keys.Meta(id)
	uuidKey := tq.keys.UUID()

	probeFields, err := tq.store.HGetAll(ctx, metaKey)
	if err != nil {
		return fmt.Errorf("taskqueue: delete task %d: %w", id, err)
	}
	if len(probeFields) == 0 {
		return fmt.Errorf("taskqueue: delete task %d: %w", id, ErrTaskNotFound)
	}
	probe, err := tasks.DecodeFields(tq.app, tq.queue, id, probeFields, tq.loc)
	if err != nil {
		return fmt.Errorf("taskqueue: delete task %d: %w", id, err)
	}

	watch := []string{metaKey, uuidKey}
	if probe.CName != "" {
		watch = append(watch, tq.keys.CName(probe.CName))
	}

	err = tq.store.Transaction(ctx, watch, true, func(tx *store.Tx) error {
		fields, err := tx.HGetAll(metaKey)
		if err != nil {
			return err
		}
		if len(fields) == 0 {
			return ErrTaskNotFound
		}
		t, err := tasks.DecodeFields(tq.app, tq.queue, id, fields, tq.loc)
		if err != nil {
			return err
		}
		if enforceRunningCheck && t.Status == tasks.StatusRunning {
			return ErrTaskStatusNotMatched
		}
		return tx.Pipeline(func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, metaKey)
			pipe.ZRem(ctx, uuidKey, t.UUID)
			if t.CName != "" {
				pipe.Del(ctx, tq.keys.CName(t.CName))
			}
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("taskqueue: delete task %d: %w", id, err)
	}
	return nil
}

// BeginRun atomically transitions a task from enqueued/delayed to running
// and returns its full attributes, for the runner to execute (spec §4.4's
// _update_status, specialized to the one transition the runner needs).
// It fails ErrTaskNotFound if the task no longer exists and
// ErrTaskStatusNotMatched if it is not in enqueued or delayed status
// (duplicate delivery or an already in-flight run).
func (tq *TaskQueue) BeginRun(ctx context.Context, id int64) (*tasks.Task, error) {
	metaKey := tq.keys.Meta(id)
	var result *tasks.Task

	err := tq.store.Transaction(ctx, []string{metaKey}, true, func(tx *store.Tx) error {
		fields, err := tx.HGetAll(metaKey)
		if err != nil {
			return err
		}
		if len(fields) == 0 {
			return ErrTaskNotFound
		}
		t, err := tasks.DecodeFields(tq.app, tq.queue, id, fields, tq.loc)
		if err != nil {
			return err
		}
		switch t.Status {
		case tasks.StatusEnqueued, tasks.StatusDelayed:
		default:
			return ErrTaskStatusNotMatched
		}
		t.Status = tasks.StatusRunning

		statusField, err := json.Marshal(string(t.Status))
		if err != nil {
			return err
		}
		if err := tx.Pipeline(func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, metaKey, tasks.FieldStatus, string(statusField))
			return nil
		}); err != nil {
			return err
		}
		result = t
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("taskqueue: begin run %d: %w", id, err)
	}
	return result, nil
}

// Reschedule re-arms a recurring task after a run, whether the outbound
// call succeeded or failed: it stamps
// last_run_at, computes the next fire time from the task's schedule, and
// re-dispatches (spec §4.5 step 5's recurring-task terminal cleanup).
func (tq *TaskQueue) Reschedule(ctx context.Context, task *tasks.Task) error {
	if task.Schedule == nil {
		return fmt.Errorf("taskqueue: reschedule task %d: task has no schedule", task.ID)
	}
	now := tq.now()
	task.LastRunAt = &now
	next := task.Schedule.NextAfter(now)
	task.ETA = &next

	etaField, err := json.Marshal(task.ETA)
	if err != nil {
		return fmt.Errorf("taskqueue: reschedule task %d: %w", task.ID, err)
	}
	lastRunField, err := json.Marshal(task.LastRunAt)
	if err != nil {
		return fmt.Errorf("taskqueue: reschedule task %d: %w", task.ID, err)
	}

	metaKey := tq.keys.Meta(task.ID)
	err = tq.store.Pipeline(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, metaKey, tasks.FieldETA, string(etaField), tasks.FieldLastRunAt, string(lastRunField))
		return nil
	})
	if err != nil {
		return fmt.Errorf("taskqueue: reschedule task %d: %w", task.ID, err)
	}
	return tq.dispatch(ctx, task)
}

// FinishOneShot deletes a one-shot task at terminal cleanup. It bypasses
// the running check (the runner is deleting its own in-flight task) and
// treats a task that is already gone as success rather than an error —
// the race between the runner's own cleanup and an explicit concurrent
// delete must never surface as a failure to the runner (spec §9).
func (tq *TaskQueue) FinishOneShot(ctx context.Context, id int64) error {
	err := tq.deleteByID(ctx, id, false)
	if err != nil && errors.Is(err, ErrTaskNotFound) {
		return nil
	}
	return err
}
