package scheduler

import (
	"context"
	"fmt"
	"time"

	"dealership_crm_backend/platform/config"
	"dealership_crm_backend/platform/logger"

	"github.com/hibiken/asynq"
)

// PeriodicConfig combines the settings that declare the recurring tasks.
type PeriodicConfig interface {
	config.SchedulerConfig
	config.PipelineConfig
	config.KPIConfig
}

// Periodic enqueues the recurring sweep and recompute tasks on their cron specs.
type Periodic struct {
	scheduler *asynq.Scheduler
	log       *logger.Logger
}

func NewPeriodic(cfg PeriodicConfig, log *logger.Logger) (*Periodic, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	sched := asynq.NewScheduler(opt, &asynq.SchedulerOpts{Location: time.UTC})
	queue := asynq.Queue(queueName(cfg))

	if _, err := sched.Register(cfg.GetAutoLossSweepSpec(), NewAutoLossSweepTask(), queue, asynq.MaxRetry(0)); err != nil {
		return nil, fmt.Errorf("register %s: %w", TaskAutoLossSweep, err)
	}
	recompute, err := NewKPIRecomputeTask(KPIRecomputePayload{})
	if err != nil {
		return nil, err
	}
	if _, err := sched.Register(cfg.GetKPIRecomputeSpec(), recompute, queue, asynq.MaxRetry(0)); err != nil {
		return nil, fmt.Errorf("register %s: %w", TaskKPIRecompute, err)
	}

	log.Info("periodic tasks registered",
		"sweepSpec", cfg.GetAutoLossSweepSpec(),
		"recomputeSpec", cfg.GetKPIRecomputeSpec(),
	)
	return &Periodic{scheduler: sched, log: log}, nil
}

// Run starts the scheduler and blocks until ctx is done.
func (p *Periodic) Run(ctx context.Context) error {
	if err := p.scheduler.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	p.scheduler.Shutdown()
	return nil
}
