package taskqueue

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/asynxgo/asynx/pkg/broker"
	"github.com/asynxgo/asynx/pkg/store"
	"github.com/asynxgo/asynx/pkg/tasks"
	"github.com/redis/go-redis/v9"
)

func setupTestQueue(t *testing.T) (*miniredis.Miniredis, *TaskQueue) {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	st := store.New(rdb)
	br := broker.New(rdb)
	tq := New("test", "default", st, br, time.UTC)
	return s, tq
}

func basicDescriptor(url string) *tasks.Descriptor {
	return &tasks.Descriptor{
		Request: tasks.Request{Method: "GET", URL: url},
	}
}

func TestAddTaskImmediate(t *testing.T) {
	s, tq := setupTestQueue(t)
	defer s.Close()
	ctx := context.Background()

	task, err := tq.AddTask(ctx, basicDescriptor("http://httpbin.org/get"))
	if err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if task.ID != 1 {
		t.Errorf("expected id 1, got %d", task.ID)
	}
	if task.Status != tasks.StatusEnqueued {
		t.Errorf("expected status enqueued, got %v", task.Status)
	}
	if task.UUID == "" {
		t.Error("expected a broker-assigned uuid")
	}

	n, err := tq.CountTasks(ctx)
	if err != nil {
		t.Fatalf("CountTasks: %v", err)
	}
	if n != 1 {
		t.Errorf("expected count 1, got %d", n)
	}
}

func TestAddTaskDelayed(t *testing.T) {
	s, tq := setupTestQueue(t)
	defer s.Close()
	ctx := context.Background()

	countdown := 200.0
	d := basicDescriptor("http://httpbin.org/get")
	d.CName = "a"
	d.Countdown = &countdown

	task, err := tq.AddTask(ctx, d)
	if err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if task.Status != tasks.StatusDelayed {
		t.Errorf("expected status delayed, got %v", task.Status)
	}
	cd := task.Countdown(time.Now())
	if cd == nil || *cd <= 195 || *cd > 200 {
		t.Errorf("expected countdown in (195,200], got %v", cd)
	}

	_, err = tq.AddTask(ctx, d)
	if !errors.Is(err, ErrTaskAlreadyExists) {
		t.Errorf("expected ErrTaskAlreadyExists on cname collision, got %v", err)
	}
}

func TestAddTaskRecurringRequiresCName(t *testing.T) {
	s, tq := setupTestQueue(t)
	defer s.Close()
	ctx := context.Background()

	d := basicDescriptor("http://httpbin.org/get")
	d.Schedule = "*/10 1,2-10 * * *"

	_, err := tq.AddTask(ctx, d)
	if !errors.Is(err, ErrCNameRequired) {
		t.Fatalf("expected ErrCNameRequired, got %v", err)
	}

	d.CName = "c"
	task, err := tq.AddTask(ctx, d)
	if err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if task.Schedule == nil || task.Schedule.String() != "*/10 1,2-10 * * *" {
		t.Errorf("expected schedule to round-trip, got %v", task.Schedule)
	}
}

func TestGetTaskRoundTrip(t *testing.T) {
	s, tq := setupTestQueue(t)
	defer s.Close()
	ctx := context.Background()

	d := basicDescriptor("http://example.com/cb")
	d.CName = "my-task"
	d.OnSuccess = &tasks.ReportCallback

	created, err := tq.AddTask(ctx, d)
	if err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	byID, err := tq.GetTask(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	byUUID, err := tq.GetTaskByUUID(ctx, created.UUID)
	if err != nil {
		t.Fatalf("GetTaskByUUID: %v", err)
	}
	byCName, err := tq.GetTaskByCName(ctx, "my-task")
	if err != nil {
		t.Fatalf("GetTaskByCName: %v", err)
	}

	for name, got := range map[string]*tasks.Task{"byID": byID, "byUUID": byUUID, "byCName": byCName} {
		if got.Request.URL != created.Request.URL || got.CName != created.CName || got.Status != created.Status {
			t.Errorf("%s: round-trip mismatch, got %+v want %+v", name, got, created)
		}
		if got.OnSuccess != created.OnSuccess {
			t.Errorf("%s: on_success mismatch, got %+v want %+v", name, got.OnSuccess, created.OnSuccess)
		}
	}
}

func TestDeleteTaskNotFoundIsIdempotentlyAnError(t *testing.T) {
	s, tq := setupTestQueue(t)
	defer s.Close()
	ctx := context.Background()

	if err := tq.DeleteTask(ctx, 999); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}

	task, err := tq.AddTask(ctx, basicDescriptor("http://example.com"))
	if err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if err := tq.DeleteTask(ctx, task.ID); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	if err := tq.DeleteTask(ctx, task.ID); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound on second delete, got %v", err)
	}
}

func TestDeleteRunningTaskByIDRejected(t *testing.T) {
	s, tq := setupTestQueue(t)
	defer s.Close()
	ctx := context.Background()

	task, err := tq.AddTask(ctx, basicDescriptor("http://example.com"))
	if err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if _, err := tq.BeginRun(ctx, task.ID); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	if err := tq.DeleteTask(ctx, task.ID); !errors.Is(err, ErrTaskStatusNotMatched) {
		t.Fatalf("expected ErrTaskStatusNotMatched, got %v", err)
	}

	// The uuid path bypasses the running check by design (spec §9).
	if err := tq.DeleteTaskByUUID(ctx, task.UUID); err != nil {
		t.Fatalf("DeleteTaskByUUID: %v", err)
	}
}

func TestBeginRunRejectsDoubleDelivery(t *testing.T) {
	s, tq := setupTestQueue(t)
	defer s.Close()
	ctx := context.Background()

	task, err := tq.AddTask(ctx, basicDescriptor("http://example.com"))
	if err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if _, err := tq.BeginRun(ctx, task.ID); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	if _, err := tq.BeginRun(ctx, task.ID); !errors.Is(err, ErrTaskStatusNotMatched) {
		t.Fatalf("expected ErrTaskStatusNotMatched on duplicate delivery, got %v", err)
	}
}

func TestRescheduleComputesNextFireTime(t *testing.T) {
	s, tq := setupTestQueue(t)
	defer s.Close()
	ctx := context.Background()

	d := basicDescriptor("http://example.com")
	d.CName = "recurring"
	d.Schedule = "every 30 seconds"
	task, err := tq.AddTask(ctx, d)
	if err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	running, err := tq.BeginRun(ctx, task.ID)
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}

	before := time.Now()
	if err := tq.Reschedule(ctx, running); err != nil {
		t.Fatalf("Reschedule: %v", err)
	}
	if running.LastRunAt == nil || running.LastRunAt.Before(before.Add(-time.Second)) {
		t.Errorf("expected last_run_at near now, got %v", running.LastRunAt)
	}

	persisted, err := tq.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if persisted.ETA == nil || !persisted.ETA.After(before) {
		t.Errorf("expected a future eta, got %v", persisted.ETA)
	}
	if persisted.Status != tasks.StatusDelayed {
		t.Errorf("expected status delayed after re-dispatch, got %v", persisted.Status)
	}
}

func TestFinishOneShotIsIdempotent(t *testing.T) {
	s, tq := setupTestQueue(t)
	defer s.Close()
	ctx := context.Background()

	task, err := tq.AddTask(ctx, basicDescriptor("http://example.com"))
	if err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if err := tq.FinishOneShot(ctx, task.ID); err != nil {
		t.Fatalf("FinishOneShot: %v", err)
	}
	if err := tq.FinishOneShot(ctx, task.ID); err != nil {
		t.Fatalf("expected FinishOneShot to be a no-op the second time, got %v", err)
	}
}

func TestListAndIterTasksOrderedByID(t *testing.T) {
	s, tq := setupTestQueue(t)
	defer s.Close()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := tq.AddTask(ctx, basicDescriptor("http://example.com")); err != nil {
			t.Fatalf("AddTask: %v", err)
		}
	}

	list, err := tq.ListTasks(ctx, 0, 3)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(list))
	}
	for i, task := range list {
		if task.ID != int64(i+1) {
			t.Errorf("expected id order, got %d at index %d", task.ID, i)
		}
	}

	count, err := tq.CountTasks(ctx)
	if err != nil {
		t.Fatalf("CountTasks: %v", err)
	}
	if count != 5 {
		t.Errorf("expected count 5, got %d", count)
	}
}

func TestIterTasksSkipsRaceDeletedMetadata(t *testing.T) {
	s, tq := setupTestQueue(t)
	defer s.Close()
	ctx := context.Background()

	first, err := tq.AddTask(ctx, basicDescriptor("http://example.com"))
	if err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if _, err := tq.AddTask(ctx, basicDescriptor("http://example.com")); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	// Simulate a race: the uuid-set entry survives but the metadata hash
	// is gone, as if a concurrent delete finished between the zrange and
	// the metadata read.
	s.Del("AX:META:test:default:" + strconv.FormatInt(first.ID, 10))

	list, err := tq.ListTasks(ctx, 0, 10)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected the race-deleted task to be skipped, got %d tasks", len(list))
	}
}
