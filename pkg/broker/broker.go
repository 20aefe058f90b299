// Package broker implements asynx's delayed job queue: the engine asks
// it to deliver an (app, queue, id) triple now or after a delay, and it
// hands back an opaque job uuid (spec §4.4/§6's broker contract).
//
// Adapted from the teacher repository's pkg/queue/client.go: a Redis
// list for jobs ready now, a Redis sorted set (scored by fire time) for
// delayed jobs, and the teacher's Lua-script "mover" pattern generalized
// to migrate due delayed jobs into the ready list.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/asynxgo/asynx/pkg/logger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	jobsKey       = "AX:JOBS"
	processingKey = "AX:JOBS:PROCESSING"
	delayedKey    = "AX:DELAYED"

	blockTimeout = time.Second
)

// Job identifies which task a dispatch should run.
type Job struct {
	App   string `json:"app"`
	Queue string `json:"queue"`
	ID    int64  `json:"id"`
}

// entry is the wire shape pushed onto the jobs list / delayed set: the
// job plus the uuid the broker minted for it at enqueue time.
type entry struct {
	UUID string `json:"uuid"`
	Job  Job    `json:"job"`
}

// Metrics is the narrow recording surface the broker needs. pkg/metrics
// implements it against Prometheus collectors; nil is a valid Broker
// field (instrumentation is optional).
type Metrics interface {
	ObserveBrokerJob(outcome string)
}

// Broker is a Redis-backed delayed job queue.
type Broker struct {
	rdb     *redis.Client
	metrics Metrics

	moveDueScript *redis.Script
}

// Option configures a Broker at construction.
type Option func(*Broker)

// WithMetrics attaches a Metrics recorder.
func WithMetrics(m Metrics) Option {
	return func(b *Broker) { b.metrics = m }
}

// New wraps an existing go-redis client.
func New(rdb *redis.Client, opts ...Option) *Broker {
	b := &Broker{
		rdb: rdb,
		moveDueScript: redis.NewScript(`
			local delayed_key = KEYS[1]
			local jobs_key = KEYS[2]
			local now = tonumber(ARGV[1])

			local due = redis.call('ZRANGEBYSCORE', delayed_key, '-inf', now)
			if #due > 0 then
				redis.call('ZREMRANGEBYSCORE', delayed_key, '-inf', now)
				for _, job in ipairs(due) do
					redis.call('RPUSH', jobs_key, job)
				end
			end
			return #due
		`),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Broker) observe(outcome string) {
	if b.metrics != nil {
		b.metrics.ObserveBrokerJob(outcome)
	}
}

// EnqueueNow submits job for immediate delivery and returns its uuid.
func (b *Broker) EnqueueNow(ctx context.Context, job Job) (string, error) {
	id := uuid.NewString()
	data, err := json.Marshal(entry{UUID: id, Job: job})
	if err != nil {
		b.observe("error")
		return "", fmt.Errorf("broker: encode job: %w", err)
	}
	if err := b.rdb.RPush(ctx, jobsKey, data).Err(); err != nil {
		b.observe("error")
		return "", fmt.Errorf("broker: enqueue: %w", err)
	}
	b.observe("ok")
	return id, nil
}

// EnqueueAfter submits job for delivery no earlier than delay from now
// and returns its uuid. A non-positive delay is delivered immediately.
func (b *Broker) EnqueueAfter(ctx context.Context, delay time.Duration, job Job) (string, error) {
	if delay <= 0 {
		return b.EnqueueNow(ctx, job)
	}
	id := uuid.NewString()
	data, err := json.Marshal(entry{UUID: id, Job: job})
	if err != nil {
		b.observe("error")
		return "", fmt.Errorf("broker: encode job: %w", err)
	}
	score := float64(time.Now().Add(delay).UnixNano())
	if err := b.rdb.ZAdd(ctx, delayedKey, redis.Z{Score: score, Member: data}).Err(); err != nil {
		b.observe("error")
		return "", fmt.Errorf("broker: enqueue delayed: %w", err)
	}
	b.observe("ok")
	return id, nil
}

// Delivery is a job handed to a worker, along with the raw list entry
// it must Ack when done (mirrors the teacher's BLMove/Ack pairing).
type Delivery struct {
	Job Job
	raw string
}

// Dequeue blocks briefly waiting for a ready job, atomically moving it
// from the ready list to the processing list. It returns (nil, nil) on
// a timeout so callers can loop and check ctx cancellation.
func (b *Broker) Dequeue(ctx context.Context) (*Delivery, error) {
	raw, err := b.rdb.BLMove(ctx, jobsKey, processingKey, "LEFT", "RIGHT", blockTimeout).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("broker: dequeue: %w", err)
	}
	var e entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, fmt.Errorf("broker: decode job: %w", err)
	}
	return &Delivery{Job: e.Job, raw: raw}, nil
}

// Ack removes a delivered job from the processing list once the worker
// has finished with it (successfully or not — the runner itself decides
// whether the task is deleted or re-armed; the broker's job is done
// either way).
func (b *Broker) Ack(ctx context.Context, d *Delivery) error {
	return b.rdb.LRem(ctx, processingKey, 1, d.raw).Err()
}

// StartMover runs until ctx is cancelled, periodically migrating delayed
// jobs whose fire time has arrived into the ready list. Run exactly one
// of these per deployment (or accept the at-least-once duplication that
// running several concurrently implies, same as the teacher's scheduler
// note about multiple scheduler instances).
func (b *Broker) StartMover(ctx context.Context, pollInterval time.Duration) {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := float64(time.Now().UnixNano())
			moved, err := b.moveDueScript.Run(ctx, b.rdb, []string{delayedKey, jobsKey}, now).Result()
			if err != nil && err != redis.Nil {
				b.observe("error")
				logger.Log.Error().Err(err).Msg("broker: failed to move due delayed jobs")
				continue
			}
			if n, ok := moved.(int64); ok && n > 0 {
				b.observe("ok")
			}
		}
	}
}

// Depths reports the current size of each internal queue, for metrics.
func (b *Broker) Depths(ctx context.Context) (map[string]int64, error) {
	depths := make(map[string]int64, 3)
	ready, err := b.rdb.LLen(ctx, jobsKey).Result()
	if err != nil {
		return nil, err
	}
	depths["ready"] = ready

	processing, err := b.rdb.LLen(ctx, processingKey).Result()
	if err != nil {
		return nil, err
	}
	depths["processing"] = processing

	delayed, err := b.rdb.ZCard(ctx, delayedKey).Result()
	if err != nil {
		return nil, err
	}
	depths["delayed"] = delayed
	return depths, nil
}
