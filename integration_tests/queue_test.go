// Package integration_tests exercises the full asynx stack end to end —
// client SDK against the facade's HTTP server, backed by the real
// runner and an in-memory Redis — covering the end-to-end scenarios a
// deployed asynx instance is expected to satisfy.
package integration_tests

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/asynxgo/asynx/client"
	"github.com/asynxgo/asynx/internal/facade"
	"github.com/asynxgo/asynx/pkg/broker"
	"github.com/asynxgo/asynx/pkg/runner"
	"github.com/asynxgo/asynx/pkg/store"
	"github.com/asynxgo/asynx/pkg/tasks"
	"github.com/redis/go-redis/v9"
)

type stack struct {
	redis    *miniredis.Miniredis
	server   *httptest.Server
	client   *client.Client
	broker   *broker.Broker
	registry *facade.Registry
}

func setupStack(t *testing.T) *stack {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	st := store.New(rdb)
	br := broker.New(rdb)
	registry := facade.NewRegistry(st, br, time.UTC)
	srv := httptest.NewServer(facade.New(registry, "").Router())
	return &stack{
		redis:    s,
		server:   srv,
		client:   client.New(srv.URL, "test"),
		broker:   br,
		registry: registry,
	}
}

func (st *stack) close() {
	st.server.Close()
	st.redis.Close()
}

// runOneDelivery dequeues exactly one broker job and runs it against its
// queue's engine, as cmd/worker's loop would, then acks it.
func (st *stack) runOneDelivery(ctx context.Context, t *testing.T) {
	t.Helper()
	delivery, err := st.broker.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if delivery == nil {
		t.Fatal("expected a ready delivery, got none")
	}
	tq := st.registry.Get(delivery.Job.App, delivery.Job.Queue)
	r := runner.New(tq)
	if err := r.Run(ctx, delivery.Job.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := st.broker.Ack(ctx, delivery); err != nil {
		t.Fatalf("Ack: %v", err)
	}
}

func TestEndToEndImmediateTaskDispatchAndCallback(t *testing.T) {
	st := setupStack(t)
	defer st.close()
	ctx := context.Background()

	receivedCallback := make(chan []byte, 1)
	callbackSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		receivedCallback <- body
		w.WriteHeader(http.StatusOK)
	}))
	defer callbackSrv.Close()

	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer target.Close()

	onSuccess := tasks.URLCallback(callbackSrv.URL)
	created, err := st.client.AddTask(ctx, "default", &tasks.Descriptor{
		Request:   tasks.Request{Method: "GET", URL: target.URL},
		OnSuccess: &onSuccess,
	})
	if err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if created.Status != tasks.StatusEnqueued {
		t.Fatalf("expected enqueued status, got %q", created.Status)
	}

	st.runOneDelivery(ctx, t)
	// The URL callback is inserted as a POST sub-task; running its own
	// delivery is what sends the request to the callback server.
	st.runOneDelivery(ctx, t)

	select {
	case body := <-receivedCallback:
		var payload map[string]any
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatalf("unmarshal callback payload: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for on_success callback")
	}

	if _, err := st.client.GetTaskByID(ctx, "default", created.ID); err == nil {
		t.Fatal("expected the one-shot task to be deleted after its URL callback ran")
	}
}

func TestEndToEndDelayedTaskCNameUniqueness(t *testing.T) {
	st := setupStack(t)
	defer st.close()
	ctx := context.Background()

	countdown := 200.0
	created, err := st.client.AddTask(ctx, "default", &tasks.Descriptor{
		Request:   tasks.Request{Method: "GET", URL: "http://httpbin.org/get"},
		CName:     "aaa",
		Countdown: &countdown,
	})
	if err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if created.Status != tasks.StatusDelayed {
		t.Fatalf("expected delayed status, got %q", created.Status)
	}
	if created.Countdown == nil || *created.Countdown <= 195 || *created.Countdown > 200 {
		t.Fatalf("expected countdown in (195,200], got %v", created.Countdown)
	}

	_, err = st.client.AddTask(ctx, "default", &tasks.Descriptor{
		Request:   tasks.Request{Method: "GET", URL: "http://httpbin.org/get"},
		CName:     "aaa",
		Countdown: &countdown,
	})
	if err == nil {
		t.Fatal("expected a cname collision error on the second insert")
	}
}

func TestEndToEndRecurringTaskReschedules(t *testing.T) {
	st := setupStack(t)
	defer st.close()
	ctx := context.Background()

	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer target.Close()

	created, err := st.client.AddTask(ctx, "default", &tasks.Descriptor{
		Request:  tasks.Request{Method: "GET", URL: target.URL},
		CName:    "nightly",
		Schedule: "* * * * *",
	})
	if err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	st.runOneDelivery(ctx, t)

	after, err := st.client.GetTaskByID(ctx, "default", created.ID)
	if err != nil {
		t.Fatalf("GetTaskByID after dispatch: %v", err)
	}
	if after.LastRunAt == nil {
		t.Fatal("expected last_run_at to be set after a recurring dispatch")
	}
	if after.ETA == nil {
		t.Fatal("expected a future eta to be armed after a recurring dispatch")
	}
}

func TestEndToEndCNameLengthBoundary(t *testing.T) {
	st := setupStack(t)
	defer st.close()
	ctx := context.Background()

	shortCName := "aa"
	if _, err := st.client.GetTaskByCName(ctx, "default", shortCName); err == nil {
		t.Fatal("expected a not-found error for a cname shorter than the minimum")
	}

	longCName := ""
	for i := 0; i < 97; i++ {
		longCName += "a"
	}
	if _, err := st.client.GetTaskByCName(ctx, "default", longCName); err == nil {
		t.Fatal("expected a not-found error for a cname longer than the maximum")
	}
}
