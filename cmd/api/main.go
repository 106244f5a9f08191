package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dealership_crm_backend/internal/adapters"
	"dealership_crm_backend/internal/adapters/storage"
	"dealership_crm_backend/internal/eventlog"
	"dealership_crm_backend/internal/events"
	apphttp "dealership_crm_backend/internal/http"
	"dealership_crm_backend/internal/http/router"
	"dealership_crm_backend/internal/kpi"
	kpirepo "dealership_crm_backend/internal/kpi/repository"
	"dealership_crm_backend/internal/leads"
	leadrepo "dealership_crm_backend/internal/leads/repository"
	"dealership_crm_backend/internal/pipeline"
	pipelinerepo "dealership_crm_backend/internal/pipeline/repository"
	"dealership_crm_backend/internal/query"
	queryservice "dealership_crm_backend/internal/query/service"
	"dealership_crm_backend/internal/reservations"
	"dealership_crm_backend/internal/scheduler"
	"dealership_crm_backend/platform/config"
	"dealership_crm_backend/platform/db"
	"dealership_crm_backend/platform/logger"
	"dealership_crm_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

const shutdownTimeout = 10 * time.Second

const storageBucketEnsureErrMsg = "failed to ensure storage bucket exists"

// initArchive returns nil when MinIO is not configured; archive reads then answer 503.
func initArchive(ctx context.Context, cfg *config.Config, log *logger.Logger) *adapters.KPIArchive {
	if !cfg.IsMinIOEnabled() {
		log.Warn("MINIO_ENDPOINT not configured; KPI archive disabled")
		return nil
	}

	storageSvc, err := storage.NewMinIOService(cfg)
	if err != nil {
		log.Error("failed to initialize storage service", "error", err)
		panic("failed to initialize storage service: " + err.Error())
	}
	bucket := cfg.GetMinioBucketKPIArchive()
	if err := withRetry(ctx, log, "ensure kpi archive bucket", 5, 2*time.Second, func() error {
		return storageSvc.EnsureBucketExists(ctx, bucket)
	}); err != nil {
		log.Error(storageBucketEnsureErrMsg, "error", err, "bucket", bucket)
		panic(storageBucketEnsureErrMsg + ": " + err.Error())
	}
	log.Info("storage service initialized", "kpiArchiveBucket", bucket)
	return adapters.NewKPIArchive(storageSvc, bucket)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize structured logger
	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, cfg, "migrations")
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()
	log.Info("database connection established")

	// Event bus for decoupled communication between modules
	eventBus := events.NewInMemoryBus(log)
	eventLog := eventlog.New(eventlog.NewPostgresStore(pool), eventBus, log.WithComponent("eventlog"), eventlog.WithMaxClockSkew(cfg.GetEventClockSkew()))

	recomputeScheduler, closeScheduler := initRecomputeScheduler(cfg, log)
	if closeScheduler != nil {
		defer closeScheduler()
	}

	// Shared validator instance for dependency injection
	val := validator.New()

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	pipelineModule, err := pipeline.NewModule(eventLog, pipelinerepo.New(pool), eventBus, val, cfg, log)
	if err != nil {
		log.Error("failed to initialize pipeline module", "error", err)
		panic("failed to initialize pipeline module: " + err.Error())
	}

	leadsModule, err := leads.NewModule(eventLog, leadrepo.New(pool), eventBus, val, cfg, log)
	if err != nil {
		log.Error("failed to initialize leads module", "error", err)
		panic("failed to initialize leads module: " + err.Error())
	}
	// Anti-Corruption Layer: leads see opportunities only through their own port
	leadsModule.SetOpportunityLookup(adapters.NewOpportunityLookup(pipelineModule.Repository()))

	reservationsModule, err := reservations.NewModule(eventLog, pipelineModule.Service(), val, log)
	if err != nil {
		log.Error("failed to initialize reservations module", "error", err)
		panic("failed to initialize reservations module: " + err.Error())
	}

	kpiOpts := kpi.Options{}
	if archive := initArchive(ctx, cfg, log); archive != nil {
		kpiOpts.Archive = archive
	}
	if recomputeScheduler != nil {
		kpiOpts.Scheduler = recomputeScheduler
	}
	kpiModule, err := kpi.NewModule(eventLog, kpirepo.New(pool), eventBus, val, cfg, kpiOpts, log)
	if err != nil {
		log.Error("failed to initialize kpi module", "error", err)
		panic("failed to initialize kpi module: " + err.Error())
	}

	queryModule := query.NewModule(queryservice.Deps{
		Leads:              leadsModule.Service(),
		Pipeline:           pipelineModule.Service(),
		Reservations:       reservationsModule.Service(),
		Performance:        kpiModule.Service(),
		Streams:            eventLog,
		AutoLossInactivity: cfg.GetAutoLossInactivity(),
	}, log)

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:   cfg,
		Logger:   log,
		Health:   db.NewPoolAdapter(pool),
		EventBus: eventBus,
		Modules: []apphttp.Module{
			leadsModule,
			pipelineModule,
			reservationsModule,
			kpiModule,
			queryModule,
		},
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.New(app),
		ReadHeaderTimeout: 5 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}
		eventBus.Wait()
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

// initRecomputeScheduler returns nil without Redis; recompute requests then answer 503.
func initRecomputeScheduler(cfg config.SchedulerConfig, log *logger.Logger) (*scheduler.Client, func()) {
	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; queued KPI recomputes disabled")
		return nil, nil
	}

	client, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize recompute scheduler client", "error", err)
		return nil, nil
	}

	return client, func() {
		_ = client.Close()
	}
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
