// Command projection-rebuild replays the event log into empty lead and
// opportunity read models. Pass "leads" or "opportunities" to rebuild one.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dealership_crm_backend/internal/adapters"
	"dealership_crm_backend/internal/eventlog"
	"dealership_crm_backend/internal/leads"
	leadrepo "dealership_crm_backend/internal/leads/repository"
	"dealership_crm_backend/internal/pipeline"
	pipelinerepo "dealership_crm_backend/internal/pipeline/repository"
	"dealership_crm_backend/platform/config"
	"dealership_crm_backend/platform/db"
	"dealership_crm_backend/platform/logger"
	"dealership_crm_backend/platform/validator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	target := "all"
	if len(os.Args) > 1 {
		target = os.Args[1]
	}
	if target != "all" && target != "leads" && target != "opportunities" {
		log.Error("unknown rebuild target", "target", target)
		os.Exit(2)
	}
	log.Info("starting projection rebuild", "target", target)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()

	// No bus: a rebuild reads the log and never appends.
	eventLog := eventlog.New(eventlog.NewPostgresStore(pool), nil, log.WithComponent("eventlog"))
	val := validator.New()

	pipelineModule, err := pipeline.NewModule(eventLog, pipelinerepo.New(pool), nil, val, cfg, log)
	if err != nil {
		log.Error("failed to initialize pipeline module", "error", err)
		panic("failed to initialize pipeline module: " + err.Error())
	}
	leadsModule, err := leads.NewModule(eventLog, leadrepo.New(pool), nil, val, cfg, log)
	if err != nil {
		log.Error("failed to initialize leads module", "error", err)
		panic("failed to initialize leads module: " + err.Error())
	}
	leadsModule.SetOpportunityLookup(adapters.NewOpportunityLookup(pipelineModule.Repository()))

	start := time.Now()
	// Opportunities first: lead scores read engagement from the opportunity read model.
	if target == "all" || target == "opportunities" {
		n, err := pipelineModule.Service().Rebuild(ctx)
		if err != nil {
			log.Error("opportunity rebuild failed", "error", err)
			os.Exit(1)
		}
		log.Info("opportunities rebuilt", "count", n)
	}
	if target == "all" || target == "leads" {
		n, err := leadsModule.Service().Rebuild(ctx)
		if err != nil {
			log.Error("lead rebuild failed", "error", err)
			os.Exit(1)
		}
		log.Info("leads rebuilt", "count", n)
	}
	log.Info("projection rebuild complete", "elapsed", time.Since(start).String())
}
