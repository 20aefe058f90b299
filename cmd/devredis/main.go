// Package main runs an in-memory Redis stand-in for local development
// against asynx's server and worker processes, so contributors don't
// need a real Redis install to exercise the store and broker.
//
// Usage:
//
//	go run cmd/devredis/main.go
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/alicebob/miniredis/v2"
	"github.com/asynxgo/asynx/pkg/config"
	"github.com/asynxgo/asynx/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("devredis: failed to load configuration")
	}

	s := miniredis.NewMiniRedis()
	if err := s.StartAddr(cfg.RedisAddr); err != nil {
		logger.Log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("devredis: failed to start")
	}
	defer s.Close()

	logger.Log.Info().Str("addr", s.Addr()).Msg("devredis: started")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Log.Info().Msg("devredis: shutting down")
}
