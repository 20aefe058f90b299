// Package config loads asynx's process configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the configuration shared by cmd/server and cmd/worker.
//
// It is loaded with Load(), which uses struct tags to pull values from
// the environment (see github.com/caarlos0/env).
type Config struct {
	// RedisAddr is the address of the Redis instance backing the store
	// and broker, e.g. "localhost:6379".
	RedisAddr string `env:"AX_REDIS_ADDR" envDefault:"127.0.0.1:6379"`

	// HTTPAddr is the listen address for the REST facade.
	HTTPAddr string `env:"AX_HTTP_ADDR" envDefault:":8081"`

	// MetricsAddr is the listen address for the Prometheus /metrics endpoint.
	MetricsAddr string `env:"AX_METRICS_ADDR" envDefault:":8080"`

	// APIKey, when set, is required as the X-API-Key header on every
	// facade request. Empty disables authentication (dev mode).
	APIKey string `env:"AX_API_KEY"`

	// TimeZone is the IANA zone name cron schedules are evaluated in.
	// ETAs are always stored and exchanged in UTC; only the cron field
	// matching is done in this zone.
	TimeZone string `env:"AX_TIMEZONE" envDefault:"UTC"`

	// DefaultRequestTimeout bounds outbound HTTP calls that don't set
	// request.timeout explicitly. Zero means no client-side timeout.
	DefaultRequestTimeout time.Duration `env:"AX_DEFAULT_REQUEST_TIMEOUT" envDefault:"0s"`

	// BrokerPollInterval is how often the broker's delayed-queue mover
	// checks for due jobs.
	BrokerPollInterval time.Duration `env:"AX_BROKER_POLL_INTERVAL" envDefault:"500ms"`
}

// Load reads configuration from the environment, applying the defaults
// declared in the struct tags above.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse environment: %w", err)
	}
	cfg.Sanitize()
	return cfg, nil
}

// Sanitize normalizes values that can't be expressed as a plain env default,
// mirroring the Sanitize() convention used elsewhere in this codebase's
// teacher lineage for multi-field config structs.
func (c *Config) Sanitize() {
	if c.TimeZone == "" {
		c.TimeZone = "UTC"
	}
	if c.BrokerPollInterval <= 0 {
		c.BrokerPollInterval = 500 * time.Millisecond
	}
}

// Location resolves TimeZone to a *time.Location, falling back to UTC
// if the zone name is not recognized by the local tzdata.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}
