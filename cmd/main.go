package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aidenrawles/synergy/internal/adapters/http/api"
	"github.com/aidenrawles/synergy/internal/adapters/http/swagger"
	"github.com/aidenrawles/synergy/internal/adapters/lock"
	"github.com/aidenrawles/synergy/internal/adapters/repository"
	app "github.com/aidenrawles/synergy/internal/app"
	"github.com/aidenrawles/synergy/internal/config"
	"github.com/aidenrawles/synergy/internal/scheduler"
	"github.com/aidenrawles/synergy/pkg/logger"
	"github.com/aidenrawles/synergy/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	writeTimeout              = 60 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	systemMetricsInterval     = 10 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	log := logger.Get()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatal(ctx, "failed to load config", logger.Error(err))
	}
	if err := logger.Init(logger.WithFormat(cfg.LogFormat)); err != nil {
		log.Fatal(ctx, "failed to apply log_format", logger.Error(err))
	}
	log = logger.Get()
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	store, closeStore, err := buildStore(ctx, cfg, log)
	if err != nil {
		log.Fatal(ctx, "failed to open store", logger.Error(err))
	}
	defer closeStore()

	locker, closeLocker := buildLocker(cfg, log)
	defer closeLocker()

	svc := app.New(
		app.WithLogger(log.Named("service")),
		app.WithStore(store),
		app.WithLocker(locker),
		app.WithWorkerCount(cfg.WorkerCount),
		app.WithQueueSize(cfg.QueueSize),
		app.WithMinGroupMembers(cfg.MinGroupMembers),
	)
	if err := svc.Start(ctx); err != nil {
		log.Fatal(ctx, "failed to start service", logger.Error(err))
	}

	var sched *scheduler.Scheduler
	if cfg.AllocationSchedule != "" {
		sched, err = scheduler.New(cfg.AllocationSchedule, svc, scheduler.WithLogger(log.Named("scheduler")))
		if err != nil {
			log.Fatal(ctx, "failed to schedule allocation", logger.Error(err))
		}
		sched.Start(ctx)
	}

	go startSystemMetricsUpdater(ctx)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newMux(ctx, cfg, svc),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(ctx, "HTTP server failed", logger.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "server shutdown failed", logger.Error(err))
	}
	if sched != nil {
		if err := sched.Stop(shutdownCtx); err != nil {
			log.Warn(shutdownCtx, "scheduler stop", logger.Error(err))
		}
	}
	if err := svc.Stop(shutdownCtx); err != nil {
		log.Warn(shutdownCtx, "service stop", logger.Error(err))
	}
	log.Info(shutdownCtx, "server stopped")
}

// newMux registers docs and business routes.
func newMux(ctx context.Context, cfg *config.Config, svc *app.Service) *http.ServeMux {
	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	api.NewServer(svc, svc, api.WithAllowedOrigins(splitOrigins(cfg.AllowedOrigins))).Register(ctx, mux)
	return mux
}

// buildStore opens Postgres when a DSN is configured and falls back to the
// in-memory store, optionally seeded from a YAML file.
func buildStore(ctx context.Context, cfg *config.Config, log logger.Logger) (repository.Store, func(), error) {
	if cfg.DatabaseDSN != "" {
		pg, err := repository.NewPostgresStore(ctx, cfg.DatabaseDSN,
			repository.WithMaxConns(int32(cfg.DBMaxConns)),
			repository.WithConnectTimeout(cfg.DBConnectTimeout()),
		)
		if err != nil {
			return nil, nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, nil, err
		}
		if cfg.SeedFile != "" {
			if err := seed(ctx, cfg.SeedFile, pg); err != nil {
				pg.Close()
				return nil, nil, err
			}
		}
		log.Info(ctx, "using postgres store")
		return pg, pg.Close, nil
	}

	mem := repository.NewMemoryStore()
	if cfg.SeedFile != "" {
		if err := seed(ctx, cfg.SeedFile, mem); err != nil {
			return nil, nil, err
		}
		log.Info(ctx, "seeded memory store", logger.String("file", cfg.SeedFile))
	}
	log.Info(ctx, "using memory store")
	return mem, func() {}, nil
}

type seeder interface {
	Seed(ctx context.Context, f repository.Fixture) error
}

func seed(ctx context.Context, path string, s seeder) error {
	f, err := repository.LoadFixture(path)
	if err != nil {
		return err
	}
	return s.Seed(ctx, f)
}

// buildLocker returns a Redis lock when an address is configured so that
// several replicas share one run at a time.
func buildLocker(cfg *config.Config, log logger.Logger) (lock.Locker, func()) {
	if cfg.RedisAddr == "" {
		return lock.NewLocalLock(), func() {}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	log.Info(context.Background(), "using redis run lock", logger.String("addr", cfg.RedisAddr))
	return lock.NewRedisLock(client, lock.WithTTL(cfg.RunLockTTL())), func() { _ = client.Close() }
}

func splitOrigins(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// startSystemMetricsUpdater periodically publishes runtime metrics.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}
