// Package main implements asynx's worker process: it dequeues broker
// deliveries, dispatches each task's outbound HTTP call, and re-arms or
// deletes the task afterward (spec §4.5).
//
// Usage:
//
//	go run cmd/worker/main.go
//
// The worker connects to Redis, runs the broker's delayed-queue mover in
// the background, and exposes Prometheus metrics (see pkg/config for the
// environment variables that control addresses).
package main

import (
	"context"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/asynxgo/asynx/internal/facade"
	"github.com/asynxgo/asynx/pkg/broker"
	"github.com/asynxgo/asynx/pkg/config"
	"github.com/asynxgo/asynx/pkg/logger"
	"github.com/asynxgo/asynx/pkg/metrics"
	"github.com/asynxgo/asynx/pkg/runner"
	"github.com/asynxgo/asynx/pkg/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

const queueDepthPollInterval = 5 * time.Second

// runnerRegistry lazily builds one Runner per (app, queue), mirroring
// facade.Registry's pattern for TaskQueue instances — a worker dispatches
// against whichever queues its broker deliveries name.
type runnerRegistry struct {
	queues         *facade.Registry
	metrics        *metrics.Recorder
	defaultTimeout time.Duration

	mu      sync.Mutex
	runners map[string]*runner.Runner
}

func newRunnerRegistry(queues *facade.Registry, rec *metrics.Recorder, defaultTimeout time.Duration) *runnerRegistry {
	return &runnerRegistry{queues: queues, metrics: rec, defaultTimeout: defaultTimeout, runners: make(map[string]*runner.Runner)}
}

func (rr *runnerRegistry) get(app, queue string) *runner.Runner {
	key := app + "\x00" + queue
	rr.mu.Lock()
	defer rr.mu.Unlock()
	if r, ok := rr.runners[key]; ok {
		return r
	}
	tq := rr.queues.Get(app, queue)
	r := runner.New(tq, runner.WithMetrics(rr.metrics), runner.WithDefaultTimeout(rr.defaultTimeout))
	rr.runners[key] = r
	return r
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("worker: failed to load configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	st := store.New(rdb)
	rec := metrics.New()
	br := broker.New(rdb, broker.WithMetrics(rec))

	registry := facade.NewRegistry(st, br, cfg.Location())
	runners := newRunnerRegistry(registry, rec, cfg.DefaultRequestTimeout)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		logger.Log.Info().Str("addr", cfg.MetricsAddr).Msg("worker: metrics listening")
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.Log.Error().Err(err).Msg("worker: metrics server exited")
		}
	}()

	go br.StartMover(ctx, cfg.BrokerPollInterval)
	go collectQueueDepths(ctx, br, rec)

	logger.Log.Info().Msg("worker: started, waiting for deliveries")
	runLoop(ctx, br, runners)
	logger.Log.Info().Msg("worker: shut down")
}

func runLoop(ctx context.Context, br *broker.Broker, runners *runnerRegistry) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		delivery, err := br.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Log.Error().Err(err).Msg("worker: dequeue failed")
			continue
		}
		if delivery == nil {
			continue
		}

		job := delivery.Job
		r := runners.get(job.App, job.Queue)
		if err := r.Run(ctx, job.ID); err != nil {
			logger.Log.Error().Err(err).Str("app", job.App).Str("queue", job.Queue).Int64("task_id", job.ID).Msg("worker: run failed")
		}
		if err := br.Ack(ctx, delivery); err != nil {
			logger.Log.Error().Err(err).Msg("worker: ack failed")
		}
	}
}

func collectQueueDepths(ctx context.Context, br *broker.Broker, rec *metrics.Recorder) {
	ticker := time.NewTicker(queueDepthPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			depths, err := br.Depths(ctx)
			if err != nil {
				continue
			}
			for index, depth := range depths {
				rec.SetQueueDepth("*", "*", index, depth)
			}
		}
	}
}
