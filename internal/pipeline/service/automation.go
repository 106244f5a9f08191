package service

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"dealership_crm_backend/internal/eventlog"
	"dealership_crm_backend/internal/events"
	"dealership_crm_backend/internal/pipeline/domain"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// sweepBatch caps the candidates one sweep run re-checks.
const sweepBatch = 5000

// RegisterSubscribers keeps the read model in step with every opportunity append
// and wires auto-progression. The projector is registered first so later
// subscribers see the row for the event that triggered them.
func (s *Service) RegisterSubscribers(bus events.Bus) {
	events.SubscribeKinds(bus, events.HandlerFunc(s.HandleProjection), eventlog.KindsFor(eventlog.SubjectOpportunity)...)
	events.SubscribeKinds(bus, events.HandlerFunc(s.HandleAutoProgression), domain.AutoProgressionKinds()...)
}

// HandleProjection re-projects the opportunity an event was appended to.
func (s *Service) HandleProjection(ctx context.Context, event events.Event) error {
	appended, ok := event.(eventlog.Appended)
	if !ok || appended.Event.SubjectType != eventlog.SubjectOpportunity {
		return nil
	}
	_, err := s.project(ctx, appended.Event.SubjectID)
	return err
}

// HandleAutoProgression moves the stage forward when an activity implies a later stage
// and the opportunity has auto-progression on.
func (s *Service) HandleAutoProgression(ctx context.Context, event events.Event) error {
	appended, ok := event.(eventlog.Appended)
	if !ok || appended.Event.SubjectType != eventlog.SubjectOpportunity {
		return nil
	}
	trigger := appended.Event
	return s.retry(ctx, func() error {
		o, err := s.load(ctx, trigger.SubjectID)
		if err != nil {
			return err
		}
		if !o.AutoProgressionEnabled {
			return nil
		}
		target, ok := domain.AutoProgressionTarget(o.CurrentStage, trigger.Kind)
		if !ok {
			return nil
		}
		return s.changeStage(ctx, o, trigger.ActorID, target, domain.TriggerAutoProgression, string(trigger.Kind), false, o.Version)
	})
}

// SweepResult counts what one auto-loss sweep did.
type SweepResult struct {
	Checked int
	Lost    int
	Skipped int
	Failed  int
}

// Sweep loses every open opportunity with the auto-loss rule on and no activity
// for at least the configured inactivity. Each candidate's stream is re-read
// right before appending, so activity recorded since the candidate query wins.
// Per-candidate failures are counted and logged; only cancellation aborts the run.
func (s *Service) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	inactivity := s.settings.AutoLossInactivity
	ids, err := s.repo.ListAutoLossCandidates(ctx, now.Add(-inactivity), sweepBatch)
	if err != nil {
		return SweepResult{}, err
	}

	var lost, skipped, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.settings.SweepParallelism)
	for _, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			changed, err := s.loseIfInactive(gctx, id, now)
			switch {
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				return err
			case err != nil:
				failed.Add(1)
				s.log.WithContext(ctx).Error("auto-loss failed", "pipelineId", id, "error", err)
			case changed:
				lost.Add(1)
			default:
				skipped.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return SweepResult{}, err
	}
	result := SweepResult{
		Checked: len(ids),
		Lost:    int(lost.Load()),
		Skipped: int(skipped.Load()),
		Failed:  int(failed.Load()),
	}
	s.log.Info("auto-loss sweep finished",
		"checked", result.Checked,
		"lost", result.Lost,
		"skipped", result.Skipped,
		"failed", result.Failed,
	)
	return result, nil
}

func (s *Service) loseIfInactive(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	var changed bool
	err := s.retry(ctx, func() error {
		o, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		if !o.AutoLossRuleEnabled || o.CurrentStage.IsTerminal() || o.InactiveFor(now) < s.settings.AutoLossInactivity {
			return nil
		}
		err = s.changeStage(ctx, o, uuid.Nil, domain.StageLost, domain.TriggerAutoLoss, domain.ReasonInactivityTimeout, false, o.Version)
		changed = err == nil
		return err
	})
	return changed, err
}

// retry re-runs attempt after version conflicts, at most automatedRetries times.
func (s *Service) retry(ctx context.Context, attempt func() error) error {
	var err error
	for range automatedRetries {
		if err = ctx.Err(); err != nil {
			return err
		}
		if err = attempt(); !errors.Is(err, eventlog.ErrConcurrentModification) {
			return err
		}
	}
	return err
}
