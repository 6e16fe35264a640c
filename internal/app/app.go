// Package app wires the coordinator's dependencies together and runs either
// the API process or the batch-scheduler worker process.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/FSM1/cipherbox-coordinator/internal/config"
	"github.com/FSM1/cipherbox-coordinator/internal/httpserver"
	"github.com/FSM1/cipherbox-coordinator/internal/opsalert"
	"github.com/FSM1/cipherbox-coordinator/internal/platform"
	"github.com/FSM1/cipherbox-coordinator/internal/telemetry"
	"github.com/FSM1/cipherbox-coordinator/pkg/admin"
	"github.com/FSM1/cipherbox-coordinator/pkg/epoch"
	"github.com/FSM1/cipherbox-coordinator/pkg/health"
	"github.com/FSM1/cipherbox-coordinator/pkg/publisher"
	"github.com/FSM1/cipherbox-coordinator/pkg/schedule"
	"github.com/FSM1/cipherbox-coordinator/pkg/scheduler"
	"github.com/FSM1/cipherbox-coordinator/pkg/signer"
)

// Run is the main application entry point. It reads config, connects to
// infrastructure, and starts the appropriate mode (api or worker).
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting cipherbox coordinator",
		"mode", cfg.Mode,
		"listen", cfg.ListenAddr(),
	)

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)

	durs, err := parseDurations(cfg)
	if err != nil {
		return err
	}

	deps := newDeps(cfg, db, durs)

	// Bootstrap the epoch singleton from the signer's currently active
	// epoch if it doesn't exist yet (spec: "initialized on first
	// successful contact with the signer"). A failure here is logged, not
	// fatal: the signer may simply not be up yet. Bootstrap is not retried
	// automatically; until an operator runs POST /admin/rotate-epoch (or the
	// process restarts), every scheduler tick finds Current() nil and records
	// its due entries as failures.
	if err := deps.epochSyncer.Bootstrap(ctx); err != nil {
		logger.Warn("epoch bootstrap deferred", "error", err)
	}

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, logger, deps, db, rdb, metricsReg)
	case "worker":
		return runWorker(ctx, cfg, logger, deps, rdb)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

// deps holds the coordinator's domain dependencies, built once in Run and
// shared by both the api and worker processes.
type deps struct {
	scheduleStore *schedule.Store
	epochStore    *epoch.Store
	signerClient  *signer.Client
	publisher     *publisher.Publisher
	epochSyncer   *epoch.Syncer
	durations     durations
}

func newDeps(cfg *config.Config, db *pgxpool.Pool, durs durations) deps {
	scheduleStore := schedule.NewStore(db,
		schedule.WithBackoff(durs.baseBackoff, durs.maxBackoff),
		schedule.WithMaxFailures(cfg.MaxFailures),
	)
	epochStore := epoch.NewStore(db)
	signerClient := signer.NewClient(cfg.SignerURL, cfg.SignerSecret, durs.signerTimeout)
	pub := publisher.NewPublisher(cfg.RoutingURL, publisher.WithMaxAttempts(cfg.PublishMaxAttempts))

	return deps{
		scheduleStore: scheduleStore,
		epochStore:    epochStore,
		signerClient:  signerClient,
		publisher:     pub,
		epochSyncer:   epoch.NewSyncer(epochStore, signerClient),
		durations:     durs,
	}
}

// durations parses the handful of config fields that are durations on the
// wire (env vars are strings so they stay human-editable) but need to be
// time.Duration everywhere they're used.
type durations struct {
	publishInterval time.Duration
	baseBackoff     time.Duration
	maxBackoff      time.Duration
	signerTimeout   time.Duration
	tickInterval    time.Duration
}

func parseDurations(cfg *config.Config) (durations, error) {
	var d durations
	var err error
	if d.publishInterval, err = time.ParseDuration(cfg.PublishInterval); err != nil {
		return d, fmt.Errorf("parsing PUBLISH_INTERVAL: %w", err)
	}
	if d.baseBackoff, err = time.ParseDuration(cfg.BaseBackoff); err != nil {
		return d, fmt.Errorf("parsing BASE_BACKOFF: %w", err)
	}
	if d.maxBackoff, err = time.ParseDuration(cfg.MaxBackoff); err != nil {
		return d, fmt.Errorf("parsing MAX_BACKOFF: %w", err)
	}
	if d.signerTimeout, err = time.ParseDuration(cfg.SignerTimeout); err != nil {
		return d, fmt.Errorf("parsing SIGNER_TIMEOUT: %w", err)
	}
	if d.tickInterval, err = time.ParseDuration(cfg.SchedulerTickInterval); err != nil {
		return d, fmt.Errorf("parsing SCHEDULER_TICK_INTERVAL: %w", err)
	}
	return d, nil
}

func runAPI(ctx context.Context, cfg *config.Config, logger *slog.Logger, deps deps, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry) error {
	healthSvc := health.NewService(deps.scheduleStore, deps.epochStore, deps.signerClient)

	srv := httpserver.NewServer(httpserver.ServerConfig{
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		MetricsPath:        cfg.MetricsPath,
		AdminToken:         cfg.AdminToken,
	}, logger, db, rdb, metricsReg)

	// The scheduler Engine is only started by the worker process; the API
	// process exposes force-run by invoking RunOnce directly against the
	// same stores so force-run takes effect even when the worker process is
	// briefly mid-tick.
	engine := scheduler.NewEngine(deps.scheduleStore, deps.epochStore, deps.signerClient, deps.publisher, rdb,
		opsNotifier(cfg, logger), nil, logger,
		scheduler.Config{
			TickInterval:    deps.durations.tickInterval,
			BatchSize:       cfg.BatchSize,
			DueLimit:        cfg.DueLimit,
			PublishInterval: deps.durations.publishInterval,
		})

	adminHandler := admin.NewHandler(healthSvc, deps.scheduleStore, deps.epochStore, deps.epochSyncer, engine, logger)
	srv.AdminRouter.Mount("/", adminHandler.Routes())

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger, deps deps, rdb *redis.Client) error {
	engine := scheduler.NewEngine(deps.scheduleStore, deps.epochStore, deps.signerClient, deps.publisher, rdb,
		opsNotifier(cfg, logger), nil, logger,
		scheduler.Config{
			TickInterval:    deps.durations.tickInterval,
			BatchSize:       cfg.BatchSize,
			DueLimit:        cfg.DueLimit,
			PublishInterval: deps.durations.publishInterval,
		})

	logger.Info("worker started", "tick_interval", deps.durations.tickInterval)
	return engine.Run(ctx)
}

// opsNotifier builds the optional Slack notifier. It is always non-nil; when
// Slack isn't configured the notifier logs the warning instead of posting it.
func opsNotifier(cfg *config.Config, logger *slog.Logger) *opsalert.Notifier {
	return opsalert.NewNotifier(cfg.SlackBotToken, cfg.SlackOpsChannel, logger)
}
