// Package scheduler runs the background jobs: the periodic history
// compression sweep and database maintenance.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
	"golang.org/x/sync/errgroup"

	"github.com/baltabekpro/aisimulator-sub001/internal/apperrors"
	"github.com/baltabekpro/aisimulator-sub001/internal/chat"
	"github.com/baltabekpro/aisimulator-sub001/internal/config"
	"github.com/baltabekpro/aisimulator-sub001/internal/database"
)

// sweepConcurrency bounds how many pairs one sweep compresses in parallel.
const sweepConcurrency = 2

// Scheduler owns the gocron instance and the job dependencies.
type Scheduler struct {
	scheduler gocron.Scheduler
	store     database.Store
	chat      *chat.Services
	cfg       config.SchedulerConfig
	threshold int
	logger    *slog.Logger
}

// New creates the scheduler with both jobs registered but not yet running.
func New(store database.Store, chatSvc *chat.Services, cfg config.SchedulerConfig, compressThreshold int, logger *slog.Logger) (*Scheduler, error) {
	gs, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	s := &Scheduler{
		scheduler: gs,
		store:     store,
		chat:      chatSvc,
		cfg:       cfg,
		threshold: compressThreshold,
		logger:    logger.With("component", "scheduler"),
	}

	if _, err := gs.NewJob(
		gocron.DurationJob(cfg.CompressSweepInterval),
		gocron.NewTask(s.compressSweep),
		gocron.WithName("compress_sweep"),
	); err != nil {
		return nil, fmt.Errorf("failed to schedule compression sweep: %w", err)
	}
	if _, err := gs.NewJob(
		gocron.DurationJob(cfg.MaintenanceInterval),
		gocron.NewTask(s.maintenance),
		gocron.WithName("db_maintenance"),
	); err != nil {
		return nil, fmt.Errorf("failed to schedule maintenance: %w", err)
	}

	return s, nil
}

// Start begins executing the registered jobs.
func (s *Scheduler) Start() {
	s.scheduler.Start()
	s.logger.Info("Scheduler started",
		"compress_sweep_interval", s.cfg.CompressSweepInterval,
		"maintenance_interval", s.cfg.MaintenanceInterval)
}

// Stop shuts the scheduler down, waiting for running jobs.
func (s *Scheduler) Stop() error {
	if err := s.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("failed to shutdown scheduler: %w", err)
	}
	return nil
}

// compressSweep compresses history for every pair whose active row count
// reached the threshold. Pairs are processed with bounded parallelism;
// failures are logged per pair and never abort the sweep.
func (s *Scheduler) compressSweep(ctx context.Context) {
	pairs, err := s.store.PairsOverThreshold(ctx, s.threshold)
	if err != nil {
		s.logger.ErrorContext(ctx, "Compression sweep failed to list pairs", "error", err)
		return
	}
	if len(pairs) == 0 {
		return
	}
	s.logger.InfoContext(ctx, "Compression sweep starting", "pairs", len(pairs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepConcurrency)
	for _, pair := range pairs {
		g.Go(func() error {
			report, err := s.chat.CompressHistory(ctx, pair.CharacterID, pair.UserID.String())
			switch {
			case errors.Is(err, apperrors.ErrInsufficientMessages),
				errors.Is(err, apperrors.ErrHistoryChanged):
				// Another writer shrank or compressed the pair between
				// listing and now.
			case err != nil:
				s.logger.WarnContext(ctx, "Pair compression failed",
					"character_id", pair.CharacterID, "user_id", pair.UserID, "error", err)
			default:
				s.logger.InfoContext(ctx, "Pair compressed",
					"character_id", pair.CharacterID, "user_id", pair.UserID,
					"original_messages", report.OriginalMessages)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// maintenance runs the periodic VACUUM.
func (s *Scheduler) maintenance(ctx context.Context) {
	if err := s.store.RunSQLMaintenance(ctx); err != nil {
		s.logger.ErrorContext(ctx, "Database maintenance failed", "error", err)
	}
}
