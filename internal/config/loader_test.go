package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/aidenrawles/synergy/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New(context.Background())

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.QueueSize, convey.ShouldEqual, 10_000)
			convey.So(cfg.WorkerCount, convey.ShouldEqual, runtime.NumCPU())
			convey.So(cfg.MinGroupMembers, convey.ShouldEqual, 5)
			convey.So(cfg.DatabaseDSN, convey.ShouldBeEmpty)
			convey.So(cfg.RedisAddr, convey.ShouldBeEmpty)
			convey.So(cfg.RunLockTTL(), convey.ShouldEqual, time.Minute)
			convey.So(cfg.DBConnectTimeout(), convey.ShouldEqual, 5*time.Second)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given a default config", t, func() {
		cfg := config.New(context.Background())

		convey.Convey("A non-positive queue size is rejected", func() {
			cfg.QueueSize = 0
			convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
		})

		convey.Convey("A zero minimum group size is rejected", func() {
			cfg.MinGroupMembers = 0
			convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
		})

		convey.Convey("A six-field schedule is accepted", func() {
			cfg.AllocationSchedule = "0 0 9 * * MON"
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})

		convey.Convey("A descriptor schedule is accepted", func() {
			cfg.AllocationSchedule = "@hourly"
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})

		convey.Convey("A missing seed file is rejected", func() {
			cfg.SeedFile = filepath.Join(t.TempDir(), "absent.yaml")
			err := cfg.Validate()
			convey.So(errors.Is(err, config.ErrSeedFile), convey.ShouldBeTrue)
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
		})

		convey.Convey("A malformed schedule is rejected", func() {
			cfg.AllocationSchedule = "every tuesday"
			err := cfg.Validate()
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			convey.So(err.Error(), convey.ShouldContainSubstring, "allocation_schedule")
		})
	})
}

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()
		convey.Reset(clearConfigEnvVars)

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.QueueSize, convey.ShouldEqual, 10_000)
				convey.So(cfg.MinGroupMembers, convey.ShouldEqual, 5)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("SYNERGY_ADDR", ":8080")
			_ = os.Setenv("SYNERGY_QUEUE_SIZE", "500")
			_ = os.Setenv("SYNERGY_WORKER_COUNT", "3")
			_ = os.Setenv("SYNERGY_DATABASE_DSN", "postgres://localhost/synergy")
			_ = os.Setenv("SYNERGY_REDIS_ADDR", "localhost:6379")
			_ = os.Setenv("SYNERGY_ALLOCATION_SCHEDULE", "0 */5 * * * *")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.QueueSize, convey.ShouldEqual, 500)
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 3)
				convey.So(cfg.DatabaseDSN, convey.ShouldEqual, "postgres://localhost/synergy")
				convey.So(cfg.RedisAddr, convey.ShouldEqual, "localhost:6379")
				convey.So(cfg.AllocationSchedule, convey.ShouldEqual, "0 */5 * * * *")
			})
		})

		convey.Convey("When loading config with YAML file", func() {
			tmpFile := writeTempFile(t, "config.yaml", `
addr: ":9090"
queue_size: 300
worker_count: 6
min_group_members: 4
allowed_origins: "https://portal.example.edu"
`)
			_ = os.Setenv("SYNERGY_CONFIG", tmpFile)

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load from YAML file", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.QueueSize, convey.ShouldEqual, 300)
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 6)
				convey.So(cfg.MinGroupMembers, convey.ShouldEqual, 4)
				convey.So(cfg.AllowedOrigins, convey.ShouldEqual, "https://portal.example.edu")
				convey.So(cfg.RunLockTTLMS, convey.ShouldEqual, 60_000)
			})
		})

		convey.Convey("When loading config with both file and environment variables", func() {
			tmpFile := writeTempFile(t, "config.yaml", `
addr: ":9090"
queue_size: 300
worker_count: 6
`)
			_ = os.Setenv("SYNERGY_CONFIG", tmpFile)
			_ = os.Setenv("SYNERGY_ADDR", ":8080")
			_ = os.Setenv("SYNERGY_WORKER_COUNT", "12")

			cfg, err := config.Load(ctx)

			convey.Convey("Then environment variables should override file values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.QueueSize, convey.ShouldEqual, 300)
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 12)
			})
		})

		convey.Convey("When a .env file is named explicitly", func() {
			dotenv := writeTempFile(t, ".env", "SYNERGY_ADDR=:7070\nSYNERGY_LOG_LEVEL=debug\n")
			_ = os.Setenv("SYNERGY_DOTENV", dotenv)

			cfg, err := config.Load(ctx)

			convey.Convey("Then its values are loaded", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":7070")
				convey.So(cfg.LogLevel, convey.ShouldEqual, "debug")
			})
		})

		convey.Convey("When the explicit .env file is missing", func() {
			_ = os.Setenv("SYNERGY_DOTENV", "/non/existent/.env")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			tmpFile := writeTempFile(t, "bad.yaml", `invalid: yaml: content: [`)
			_ = os.Setenv("SYNERGY_CONFIG", tmpFile)

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			_ = os.Setenv("SYNERGY_CONFIG", "/non/existent/file.yaml")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with empty addr", func() {
			_ = os.Setenv("SYNERGY_ADDR", "")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "addr must not be empty")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with a bad schedule", func() {
			_ = os.Setenv("SYNERGY_ALLOCATION_SCHEDULE", "not a cron")

			_, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})
	})
}

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func clearConfigEnvVars() {
	for _, key := range []string{
		"SYNERGY_CONFIG",
		"SYNERGY_DOTENV",
		"SYNERGY_ADDR",
		"SYNERGY_LOG_LEVEL",
		"SYNERGY_QUEUE_SIZE",
		"SYNERGY_WORKER_COUNT",
		"SYNERGY_DATABASE_DSN",
		"SYNERGY_REDIS_ADDR",
		"SYNERGY_ALLOCATION_SCHEDULE",
	} {
		_ = os.Unsetenv(key)
	}
}
