// Package service recomputes, publishes and serves KPI snapshot sets.
// Values are never written from outside: the only way in is a fold of the event log.
package service

import (
	"bytes"
	"context"
	"errors"
	"iter"
	"time"

	"dealership_crm_backend/internal/eventlog"
	"dealership_crm_backend/internal/events"
	"dealership_crm_backend/internal/kpi/aggregator"
	"dealership_crm_backend/internal/kpi/ports"
	"dealership_crm_backend/internal/kpi/repository"
	"dealership_crm_backend/internal/kpi/transport"
	"dealership_crm_backend/platform/apperr"
	"dealership_crm_backend/platform/logger"
)

var (
	ErrNotPublished = apperr.NotFound("no KPI snapshot set published for period").WithCode("kpi_not_published")
	ErrTampered     = apperr.Internal("KPI snapshot set failed verification").WithCode("kpi_digest_mismatch")
	ErrNoScheduler  = apperr.Unavailable("background recompute is not configured").WithCode("scheduler_unavailable")
	ErrNoArchive    = apperr.Unavailable("snapshot archive is not configured").WithCode("archive_unavailable")
	ErrNoVersion    = apperr.NotFound("snapshot set version not found").WithCode("kpi_version_not_found")
)

// RecomputeKinds are the appended kinds that queue a recompute of their period.
var RecomputeKinds = []eventlog.Kind{eventlog.KindDealReserved, eventlog.KindDealWon}

type Service struct {
	events    ports.EventLog
	repo      repository.SnapshotRepository
	agg       *aggregator.Aggregator
	bus       events.Bus
	archive   ports.Archive
	scheduler ports.RecomputeScheduler
	batchSize int
	log       *logger.Logger
}

func New(eventLog ports.EventLog, repo repository.SnapshotRepository, agg *aggregator.Aggregator, bus events.Bus, batchSize int, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{events: eventLog, repo: repo, agg: agg, bus: bus, batchSize: batchSize, log: log}
}

// SetArchive enables archiving of published sets.
func (s *Service) SetArchive(archive ports.Archive) {
	s.archive = archive
}

// SetScheduler enables queued recomputes.
func (s *Service) SetScheduler(scheduler ports.RecomputeScheduler) {
	s.scheduler = scheduler
}

// RegisterSubscribers archives published sets and queues recomputes for closed deals.
func (s *Service) RegisterSubscribers(bus events.Bus) {
	if s.archive != nil {
		bus.Subscribe(events.SnapshotSetPublished{}.EventName(), events.HandlerFunc(s.HandleArchive))
	}
	if s.scheduler != nil {
		events.SubscribeKinds(bus, events.HandlerFunc(s.HandleDealClosed), RecomputeKinds...)
	}
}

// Recompute folds the log up to the newest sequence and publishes the result
// when its digest differs from the current set. A failed or cancelled fold
// leaves the current set in place.
func (s *Service) Recompute(ctx context.Context, period aggregator.Period) (transport.SnapshotSetResponse, bool, error) {
	watermark, err := s.events.LastSequence(ctx)
	if err != nil {
		s.log.RecomputeFailed(period.String(), err)
		return transport.SnapshotSetResponse{}, false, err
	}

	var source iter.Seq2[eventlog.Event, error] = func(func(eventlog.Event, error) bool) {}
	if watermark > 0 {
		source = s.events.ReadAll(ctx, eventlog.ReadAllParams{UpToSequence: watermark, BatchSize: s.batchSize})
	}
	set, err := s.agg.Fold(source, period, watermark)
	if err != nil {
		s.log.RecomputeFailed(period.String(), err)
		return transport.SnapshotSetResponse{}, false, err
	}
	sealed, err := set.Seal()
	if err != nil {
		return transport.SnapshotSetResponse{}, false, err
	}

	rec, written, err := s.repo.Publish(ctx, repository.Publication{
		Period:     period,
		Sealed:     sealed,
		ComputedAt: set.ComputedAt(),
		Watermark:  watermark,
	})
	if err != nil {
		s.log.RecomputeFailed(period.String(), err)
		return transport.SnapshotSetResponse{}, false, err
	}
	if written {
		s.log.Info("kpi snapshot set published", "period", rec.Period, "version", rec.Version, "digest", rec.Digest, "watermark", rec.Watermark)
		if s.bus != nil {
			s.bus.Publish(ctx, events.SnapshotSetPublished{
				BaseEvent:  events.NewBaseEvent(),
				Period:     rec.Period,
				Version:    rec.Version,
				Digest:     rec.Digest,
				ComputedAt: set.ComputedAt(),
			})
		}
	}

	resp, err := s.respond(rec)
	return resp, written, err
}

// Current returns the published set for period after verifying its seal.
func (s *Service) Current(ctx context.Context, period aggregator.Period) (transport.SnapshotSetResponse, error) {
	rec, err := s.repo.Current(ctx, period)
	if errors.Is(err, repository.ErrNotFound) {
		return transport.SnapshotSetResponse{}, ErrNotPublished
	}
	if err != nil {
		return transport.SnapshotSetResponse{}, err
	}
	return s.respond(rec)
}

func (s *Service) History(ctx context.Context, period aggregator.Period) (transport.HistoryResponse, error) {
	recs, err := s.repo.History(ctx, period)
	if err != nil {
		return transport.HistoryResponse{}, err
	}
	out := transport.HistoryResponse{Period: period.String(), Versions: make([]transport.VersionResponse, 0, len(recs))}
	for _, rec := range recs {
		out.Versions = append(out.Versions, transport.VersionResponse{
			Version:     rec.Version,
			Digest:      rec.Digest,
			ComputedAt:  rec.ComputedAt,
			Watermark:   rec.Watermark,
			PublishedAt: rec.PublishedAt,
		})
	}
	return out, nil
}

// RequestRecompute queues a background recompute. It never writes values itself.
func (s *Service) RequestRecompute(ctx context.Context, period aggregator.Period) (transport.RecomputeResponse, error) {
	if s.scheduler == nil {
		return transport.RecomputeResponse{}, ErrNoScheduler
	}
	if err := s.scheduler.EnqueueRecompute(ctx, period.String()); err != nil {
		return transport.RecomputeResponse{}, err
	}
	return transport.RecomputeResponse{Period: period.String(), Queued: true}, nil
}

func (s *Service) HandleArchive(ctx context.Context, event events.Event) error {
	published, ok := event.(events.SnapshotSetPublished)
	if !ok {
		return nil
	}
	period, err := aggregator.ParsePeriod(published.Period)
	if err != nil {
		return err
	}
	rec, err := s.version(ctx, period, published.Version)
	if err != nil {
		return err
	}
	if err := s.archive.Store(ctx, rec.Period, rec.Version, rec.Digest, rec.Body); err != nil {
		s.log.Error("kpi archive failed", "period", rec.Period, "version", rec.Version, "error", err)
		return err
	}
	return nil
}

// Archived fetches an archived version back and checks it against the
// published record before handing out a download link.
func (s *Service) Archived(ctx context.Context, period aggregator.Period, version int) (transport.ArchiveResponse, error) {
	if s.archive == nil {
		return transport.ArchiveResponse{}, ErrNoArchive
	}
	rec, err := s.version(ctx, period, version)
	if err != nil {
		return transport.ArchiveResponse{}, err
	}

	body, err := s.archive.Load(ctx, rec.Period, rec.Version, rec.Digest)
	if err != nil {
		return transport.ArchiveResponse{}, apperr.Wrap(apperr.KindUnavailable, "archived snapshot set unavailable", err).WithCode("archive_unavailable")
	}
	verified := aggregator.VerifyDigest(body, rec.Digest) && bytes.Equal(body, rec.Body)
	if !verified {
		s.log.Error("archived kpi snapshot set differs from published record", "period", rec.Period, "version", rec.Version)
	}

	url, expiresAt, err := s.archive.DownloadURL(ctx, rec.Period, rec.Version, rec.Digest)
	if err != nil {
		return transport.ArchiveResponse{}, err
	}
	return transport.ArchiveResponse{
		Period:    rec.Period,
		Version:   rec.Version,
		Digest:    rec.Digest,
		URL:       url,
		ExpiresAt: expiresAt,
		Verified:  verified,
	}, nil
}

func (s *Service) version(ctx context.Context, period aggregator.Period, version int) (repository.Record, error) {
	recs, err := s.repo.History(ctx, period)
	if err != nil {
		return repository.Record{}, err
	}
	for _, rec := range recs {
		if rec.Version == version {
			return rec, nil
		}
	}
	return repository.Record{}, ErrNoVersion
}

// HandleDealClosed queues a recompute for the month the deal closed in.
func (s *Service) HandleDealClosed(ctx context.Context, event events.Event) error {
	appended, ok := event.(eventlog.Appended)
	if !ok {
		return nil
	}
	period := aggregator.PeriodOf(appended.Event.OccurredAt)
	if err := s.scheduler.EnqueueRecompute(ctx, period.String()); err != nil {
		s.log.Warn("kpi recompute not queued", "period", period.String(), "error", err)
	}
	return nil
}

func (s *Service) respond(rec repository.Record) (transport.SnapshotSetResponse, error) {
	set, err := aggregator.Open(rec.Sealed(), rec.Watermark)
	if err != nil {
		s.log.Error("kpi snapshot set rejected", "period", rec.Period, "version", rec.Version, "error", err)
		return transport.SnapshotSetResponse{}, ErrTampered
	}

	out := transport.SnapshotSetResponse{
		Period:        rec.Period,
		Version:       rec.Version,
		Digest:        rec.Digest,
		ConfigVersion: set.ConfigVersion(),
		ComputedAt:    rec.ComputedAt,
		Watermark:     rec.Watermark,
		PublishedAt:   rec.PublishedAt,
	}
	for _, m := range set.Snapshots() {
		snap := transport.SnapshotResponse{
			MetricName:     m.MetricName(),
			Period:         m.Period().String(),
			CurrentValue:   m.CurrentValue(),
			PreviousValue:  m.PreviousValue(),
			Trend:          string(m.Trend()),
			DataSource:     m.DataSource(),
			ComputedAt:     timePtr(m.ComputedAt()),
			AutoCalculated: m.AutoCalculated(),
		}
		if target, ok := m.TargetValue(); ok {
			snap.TargetValue = &target
		}
		out.Metrics = append(out.Metrics, snap)
	}
	for _, r := range set.Reps() {
		out.Reps = append(out.Reps, transport.RepPerformanceResponse{
			Rank:                r.Rank(),
			RepID:               r.RepID(),
			WonValue:            r.WonValue(),
			WonDeals:            r.WonDeals(),
			ReservedDeals:       r.ReservedDeals(),
			OpportunitiesOpened: r.OpportunitiesOpened(),
			TestDrivesCompleted: r.TestDrivesCompleted(),
			ConversionRate:      r.ConversionRate(),
		})
	}
	return out, nil
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
