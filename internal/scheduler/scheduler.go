// Package scheduler fires backup tasks on their cron cadence.
package scheduler

import (
	"context"
	"errors"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/workerspages/mail-backup/internal/models"
	"github.com/workerspages/mail-backup/internal/services/runner"
)

// Scheduler wraps a cron instance and routes firings into the runner.
// Each task fires on its own cadence; different tasks run concurrently,
// while the runner's single-flight lock serializes firings of one task.
type Scheduler struct {
	cron      *cron.Cron
	runnerSvc runner.Service
	logger    zerolog.Logger
	ctx       context.Context
}

// New creates a scheduler using the standard 5-field cron parser.
func New(logger zerolog.Logger, runnerSvc runner.Service) *Scheduler {
	return &Scheduler{
		cron:      cron.New(),
		runnerSvc: runnerSvc,
		logger:    logger,
		ctx:       context.Background(),
	}
}

// Register adds a task to the schedule. Malformed expressions are rejected
// here, before any firing can happen.
func (s *Scheduler) Register(task models.BackupTask) error {
	_, err := s.cron.AddFunc(task.Schedule, func() {
		s.fire(task)
	})
	if err != nil {
		return err
	}

	s.logger.Info().
		Str("task", task.Name).
		Str("schedule", task.Schedule).
		Msg("task scheduled")
	return nil
}

func (s *Scheduler) fire(task models.BackupTask) {
	_, err := s.runnerSvc.Trigger(s.ctx, task)
	if errors.Is(err, runner.ErrTaskAlreadyRunning) {
		// Overlapping firing: reject, never queue or kill the active run.
		s.logger.Warn().Str("task", task.Name).Msg("skipping firing, previous run still active")
		return
	}
	// Pipeline failures are already recorded on the JobRun and logged by
	// the runner; nothing to do here, and the next firing retries naturally.
}

// Start begins firing tasks. ctx is handed to every triggered run so a
// daemon shutdown cancels in-flight pipelines.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
	s.logger.Info().Int("tasks", len(s.cron.Entries())).Msg("scheduler started")
}

// Stop halts future firings and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info().Msg("scheduler stopped")
}
