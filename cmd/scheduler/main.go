package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dealership_crm_backend/internal/adapters"
	"dealership_crm_backend/internal/adapters/storage"
	"dealership_crm_backend/internal/eventlog"
	"dealership_crm_backend/internal/events"
	"dealership_crm_backend/internal/kpi"
	kpirepo "dealership_crm_backend/internal/kpi/repository"
	"dealership_crm_backend/internal/leads"
	leadrepo "dealership_crm_backend/internal/leads/repository"
	"dealership_crm_backend/internal/pipeline"
	pipelinerepo "dealership_crm_backend/internal/pipeline/repository"
	"dealership_crm_backend/internal/scheduler"
	"dealership_crm_backend/platform/config"
	"dealership_crm_backend/platform/db"
	"dealership_crm_backend/platform/logger"
	"dealership_crm_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting scheduler", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	eventBus := events.NewInMemoryBus(log)
	eventLog := eventlog.New(eventlog.NewPostgresStore(pool), eventBus, log.WithComponent("eventlog"), eventlog.WithMaxClockSkew(cfg.GetEventClockSkew()))
	val := validator.New()

	// Worker-side wiring: the sweep appends stage changes, so the projectors
	// and the lead engagement subscriber run here as well.
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
	leadsModule.SetOpportunityLookup(adapters.NewOpportunityLookup(pipelineModule.Repository()))

	kpiOpts := kpi.Options{}
	if archive := initArchive(ctx, cfg, log); archive != nil {
		kpiOpts.Archive = archive
	}
	kpiModule, err := kpi.NewModule(eventLog, kpirepo.New(pool), eventBus, val, cfg, kpiOpts, log)
	if err != nil {
		log.Error("failed to initialize kpi module", "error", err)
		panic("failed to initialize kpi module: " + err.Error())
	}

	worker, err := scheduler.NewWorker(cfg, pipelineModule.Service(), kpiModule.Service(), log.WithComponent("scheduler"))
	if err != nil {
		log.Error("failed to initialize scheduler worker", "error", err)
		panic("failed to initialize scheduler worker: " + err.Error())
	}
	periodic, err := scheduler.NewPeriodic(cfg, log.WithComponent("scheduler"))
	if err != nil {
		log.Error("failed to initialize periodic scheduler", "error", err)
		panic("failed to initialize periodic scheduler: " + err.Error())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		worker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return periodic.Run(gctx)
	})
	if err := g.Wait(); err != nil {
		log.Error("scheduler stopped", "error", err)
	}
	// Let archive uploads of the last publish finish.
	eventBus.Wait()
}

const storageBucketEnsureErrMsg = "failed to ensure storage bucket exists"

// initArchive returns nil when MinIO is not configured; published sets are then not archived.
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
	return adapters.NewKPIArchive(storageSvc, bucket)
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return errors.New(name + ": invalid retry attempts")
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
