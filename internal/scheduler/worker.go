package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dealership_crm_backend/internal/kpi/aggregator"
	kpitransport "dealership_crm_backend/internal/kpi/transport"
	pipelineservice "dealership_crm_backend/internal/pipeline/service"
	"dealership_crm_backend/platform/config"
	"dealership_crm_backend/platform/logger"

	"github.com/hibiken/asynq"
)

const sweepLeaseKey = "lease:pipeline.autoloss.sweep"

// sweepLeaseTTL bounds how long a crashed replica can block the next sweep.
const sweepLeaseTTL = 10 * time.Minute

// Sweeper runs one auto-loss pass.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (pipelineservice.SweepResult, error)
}

// Recomputer folds and publishes one KPI period.
type Recomputer interface {
	Recompute(ctx context.Context, period aggregator.Period) (kpitransport.SnapshotSetResponse, bool, error)
}

// Locker guards work that must run on one replica at a time.
type Locker interface {
	Acquire(ctx context.Context) (func(context.Context) error, bool, error)
}

type Worker struct {
	server     *asynq.Server
	mux        *asynq.ServeMux
	sweeper    Sweeper
	recomputer Recomputer
	lock       Locker
	now        func() time.Time
	log        *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, sweeper Sweeper, recomputer Recomputer, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}
	rdb, err := NewRedisClient(cfg)
	if err != nil {
		return nil, err
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queueName(cfg): 1,
		},
	})

	w := newWorker(sweeper, recomputer, NewLease(rdb, sweepLeaseKey, sweepLeaseTTL), log)
	w.server = server
	return w, nil
}

func newWorker(sweeper Sweeper, recomputer Recomputer, lock Locker, log *logger.Logger) *Worker {
	if log == nil {
		log = logger.Nop()
	}
	mux := asynq.NewServeMux()
	w := &Worker{
		mux:        mux,
		sweeper:    sweeper,
		recomputer: recomputer,
		lock:       lock,
		now:        time.Now,
		log:        log,
	}

	mux.HandleFunc(TaskAutoLossSweep, w.handleAutoLossSweep)
	mux.HandleFunc(TaskKPIRecompute, w.handleKPIRecompute)
	return w
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

func (w *Worker) handleAutoLossSweep(ctx context.Context, task *asynq.Task) error {
	release, ok, err := w.lock.Acquire(ctx)
	if err != nil {
		return err
	}
	if !ok {
		w.log.Debug("auto-loss sweep already running elsewhere")
		return nil
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			w.log.Warn("auto-loss sweep lease release failed", "error", err)
		}
	}()

	_, err = w.sweeper.Sweep(ctx, w.now().UTC())
	return err
}

func (w *Worker) handleKPIRecompute(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseKPIRecomputePayload(task)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	var periods []aggregator.Period
	if payload.Period == "" {
		current := aggregator.PeriodOf(w.now())
		periods = []aggregator.Period{current.Previous(), current}
	} else {
		period, err := aggregator.ParsePeriod(payload.Period)
		if err != nil {
			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
		periods = []aggregator.Period{period}
	}

	var errs []error
	for _, period := range periods {
		if _, _, err := w.recomputer.Recompute(ctx, period); err != nil {
			errs = append(errs, fmt.Errorf("recompute %s: %w", period, err))
		}
	}
	return errors.Join(errs...)
}
