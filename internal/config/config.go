// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New(ctx) to build a Config with defaults.
// - Functions accept context.Context as the first parameter.
// - External errors are wrapped with this package's sentinel kinds.
package config

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/robfig/cron/v3"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// AllowedOrigins is echoed in Access-Control-Allow-Origin. "*" allows any.
	AllowedOrigins string `koanf:"allowed_origins"`

	// DatabaseDSN selects the Postgres store. Empty means in-memory.
	DatabaseDSN string `koanf:"database_dsn"`

	// DBMaxConns caps the pgx pool size.
	DBMaxConns int `koanf:"db_max_conns"`

	// DBConnectTimeoutMS bounds pool creation and the initial ping.
	DBConnectTimeoutMS int `koanf:"db_connect_timeout_ms"`

	// RedisAddr selects the Redis run lock. Empty means a process-local lock.
	RedisAddr string `koanf:"redis_addr"`

	// RedisPassword authenticates against RedisAddr.
	RedisPassword string `koanf:"redis_password"`

	// RunLockTTLMS bounds how long a crashed run can hold the Redis lock.
	RunLockTTLMS int `koanf:"run_lock_ttl_ms"`

	// QueueSize bounds the in-memory group refresh queue.
	QueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of group refresh workers.
	WorkerCount int `koanf:"worker_count"`

	// AllocationSchedule is an optional cron expression (with seconds) that
	// triggers allocation runs.
	AllocationSchedule string `koanf:"allocation_schedule"`

	// MinGroupMembers is the smallest group that can be rated.
	MinGroupMembers int `koanf:"min_group_members"`

	// SeedFile optionally seeds the in-memory store from a YAML snapshot.
	SeedFile string `koanf:"seed_file"`
}

// New creates a Config with defaults.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:           "info",
		LogFormat:          "text",
		Addr:               ":9080",
		AllowedOrigins:     "*",
		DBMaxConns:         10,
		DBConnectTimeoutMS: 5_000,
		RunLockTTLMS:       60_000,
		QueueSize:          10_000,
		WorkerCount:        runtime.NumCPU(),
		MinGroupMembers:    5,
	}
}

// RunLockTTL returns RunLockTTLMS as a duration.
func (c *Config) RunLockTTL() time.Duration {
	return time.Duration(c.RunLockTTLMS) * time.Millisecond
}

// DBConnectTimeout returns DBConnectTimeoutMS as a duration.
func (c *Config) DBConnectTimeout() time.Duration {
	return time.Duration(c.DBConnectTimeoutMS) * time.Millisecond
}

// Validate checks invariants that koanf cannot express.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.QueueSize <= 0:
		return fmt.Errorf("%w: queue_size must be positive", ErrInvalidConfig)
	case c.WorkerCount <= 0:
		return fmt.Errorf("%w: worker_count must be positive", ErrInvalidConfig)
	case c.MinGroupMembers <= 0:
		return fmt.Errorf("%w: min_group_members must be positive", ErrInvalidConfig)
	case c.RunLockTTLMS <= 0:
		return fmt.Errorf("%w: run_lock_ttl_ms must be positive", ErrInvalidConfig)
	case c.DBMaxConns <= 0:
		return fmt.Errorf("%w: db_max_conns must be positive", ErrInvalidConfig)
	}
	if c.SeedFile != "" {
		if st, err := os.Stat(c.SeedFile); err != nil || st.IsDir() {
			return fmt.Errorf("%w: %w: %s", ErrInvalidConfig, ErrSeedFile, c.SeedFile)
		}
	}
	if c.AllocationSchedule != "" {
		if _, err := cron.NewParser(cronFields).Parse(c.AllocationSchedule); err != nil {
			return fmt.Errorf("%w: allocation_schedule: %v", ErrInvalidConfig, err)
		}
	}
	return nil
}

// cronFields matches cron.WithSeconds(), which the scheduler uses.
const cronFields = cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor
