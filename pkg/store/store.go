// Package store wraps the Redis primitives the task lifecycle engine
// needs: atomic counters, hashes, sorted sets, plain keys, and an
// optimistic-transaction helper built on Redis WATCH/MULTI/EXEC.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ErrContention is returned by Transaction when a watched key changed
// between WATCH and commit and the caller asked not to retry.
var ErrContention = errors.New("store: transaction aborted by a concurrent writer")

// maxTransactionRetries bounds the retry loop used when the caller wants
// Transaction to retry silently on contention (see Transaction's retry
// parameter) rather than surface ErrContention.
const maxTransactionRetries = 50

// Store is a thin wrapper over a Redis connection exposing exactly the
// primitives the task queue engine is built from.
type Store struct {
	rdb *redis.Client
}

// New wraps an existing go-redis client.
func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Incr atomically increments a hash field and returns its new value.
// Used for the per-(app,queue) id counter.
func (s *Store) Incr(ctx context.Context, key, field string) (int64, error) {
	return s.rdb.HIncrBy(ctx, key, field, 1).Result()
}

// HSetMany writes multiple fields of a hash in one round trip.
func (s *Store) HSetMany(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		values = append(values, k, v)
	}
	return s.rdb.HSet(ctx, key, values...).Err()
}

// HGet returns a single hash field. found is false if the hash or field
// does not exist.
func (s *Store) HGet(ctx context.Context, key, field string) (value string, found bool, err error) {
	value, err = s.rdb.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// HGetAll returns every field of a hash. An empty, non-nil map means the
// hash does not exist (or was concurrently deleted).
func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return s.rdb.HGetAll(ctx, key).Result()
}

// Del deletes one or more keys, ignoring keys that don't exist.
func (s *Store) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.rdb.Del(ctx, keys...).Err()
}

// ZAdd adds or updates a sorted-set member's score.
func (s *Store) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return s.rdb.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

// ZScore returns a sorted-set member's score. found is false if the
// member is absent.
func (s *Store) ZScore(ctx context.Context, key, member string) (score float64, found bool, err error) {
	score, err = s.rdb.ZScore(ctx, key, member).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return score, true, nil
}

// ZRangeWithScores returns members in [start, stop] (inclusive, 0-based,
// ordered by score ascending).
func (s *Store) ZRangeWithScores(ctx context.Context, key string, start, stop int64) ([]redis.Z, error) {
	return s.rdb.ZRangeWithScores(ctx, key, start, stop).Result()
}

// ZRem removes a member from a sorted set.
func (s *Store) ZRem(ctx context.Context, key, member string) error {
	return s.rdb.ZRem(ctx, key, member).Err()
}

// ZCard returns the number of members in a sorted set.
func (s *Store) ZCard(ctx context.Context, key string) (int64, error) {
	return s.rdb.ZCard(ctx, key).Result()
}

// Get returns a plain string key's value. found is false if absent.
func (s *Store) Get(ctx context.Context, key string) (value string, found bool, err error) {
	value, err = s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Set writes a plain string key with no expiry.
func (s *Store) Set(ctx context.Context, key, value string) error {
	return s.rdb.Set(ctx, key, value, 0).Err()
}

// Exists reports whether a key exists.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key).Result()
	return n > 0, err
}

// Pipeline runs fn inside a single Redis pipeline, committed atomically
// on the server, without watching any keys. Used for writes that don't
// need compare-and-set semantics (e.g. dispatch's uuid/status update).
func (s *Store) Pipeline(ctx context.Context, fn func(pipe redis.Pipeliner) error) error {
	_, err := s.rdb.TxPipelined(ctx, fn)
	return err
}

// Tx is the handle passed to a Transaction callback. It exposes reads
// that run immediately (before the eventual MULTI/EXEC) and a Pipeline
// method to stage the commands committed atomically.
type Tx struct {
	rtx *redis.Tx
	ctx context.Context
}

// Exists reports whether a key exists, read at the current point of the
// transaction (i.e. before MULTI).
func (t *Tx) Exists(key string) (bool, error) {
	n, err := t.rtx.Exists(t.ctx, key).Result()
	return n > 0, err
}

// Get reads a plain key's value before MULTI.
func (t *Tx) Get(key string) (value string, found bool, err error) {
	value, err = t.rtx.Get(t.ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// HGet reads a hash field's value before MULTI.
func (t *Tx) HGet(key, field string) (value string, found bool, err error) {
	value, err = t.rtx.HGet(t.ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// HGetAll reads a whole hash before MULTI.
func (t *Tx) HGetAll(key string) (map[string]string, error) {
	return t.rtx.HGetAll(t.ctx, key).Result()
}

// Pipeline stages commands in a MULTI/EXEC block, committed atomically.
// If any watched key changed since WATCH, the commit fails with
// redis.TxFailedErr, which Transaction translates per its retry policy.
func (t *Tx) Pipeline(fn func(pipe redis.Pipeliner) error) error {
	_, err := t.rtx.TxPipelined(t.ctx, fn)
	return err
}

// Transaction watches the given keys (skipping empty ones) and invokes
// fn once WATCH is established. fn is expected to perform any
// compare-and-set reads and then call tx.Pipeline to commit its writes.
//
// If retry is true, a commit that fails due to a watched key changing
// (redis.TxFailedErr) is retried by re-invoking fn from scratch, up to
// maxTransactionRetries times, after which ErrContention is returned.
// If retry is false, the first such conflict returns ErrContention
// immediately — this is the mode add_task uses so a cname collision
// surfaces as a single, deterministic error rather than silently
// retrying until it observes the collision (see spec §4.3/§5).
//
// Any other error returned by fn (including a caller's own sentinel,
// such as a pre-check "already exists" error) propagates immediately
// without retrying.
func (s *Store) Transaction(ctx context.Context, watch []string, retry bool, fn func(tx *Tx) error) error {
	keys := make([]string, 0, len(watch))
	for _, k := range watch {
		if k != "" {
			keys = append(keys, k)
		}
	}

	attempts := 1
	if retry {
		attempts = maxTransactionRetries
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		err := s.rdb.Watch(ctx, func(rtx *redis.Tx) error {
			return fn(&Tx{rtx: rtx, ctx: ctx})
		}, keys...)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			lastErr = ErrContention
			continue
		}
		return err
	}
	if lastErr != nil {
		return lastErr
	}
	return fmt.Errorf("store: transaction did not run")
}
