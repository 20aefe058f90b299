// Package main implements asynx's REST API server: the facade apps use
// to insert, list, fetch, and delete tasks in a taskqueue (spec §6).
//
// Usage:
//
//	go run cmd/server/main.go
//
// Configuration is read from the environment (see pkg/config); by
// default the server listens on :8081 and connects to Redis at
// 127.0.0.1:6379.
package main

import (
	"net/http"

	"github.com/asynxgo/asynx/internal/facade"
	"github.com/asynxgo/asynx/pkg/broker"
	"github.com/asynxgo/asynx/pkg/config"
	"github.com/asynxgo/asynx/pkg/logger"
	"github.com/asynxgo/asynx/pkg/metrics"
	"github.com/asynxgo/asynx/pkg/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("server: failed to load configuration")
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	st := store.New(rdb)
	rec := metrics.New()
	br := broker.New(rdb, broker.WithMetrics(rec))

	registry := facade.NewRegistry(st, br, cfg.Location())
	f := facade.New(registry, cfg.APIKey)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		logger.Log.Info().Str("addr", cfg.MetricsAddr).Msg("server: metrics listening")
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.Log.Error().Err(err).Msg("server: metrics server exited")
		}
	}()

	logger.Log.Info().Str("addr", cfg.HTTPAddr).Msg("server: listening")
	if err := http.ListenAndServe(cfg.HTTPAddr, f.Router()); err != nil {
		logger.Log.Fatal().Err(err).Msg("server: exited")
	}
}
