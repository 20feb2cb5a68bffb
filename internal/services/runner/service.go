// Package runner orchestrates the backup pipeline for one triggered task:
// archive, split, restore kit, ordered delivery, durable run record.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/workerspages/mail-backup/internal/models"
	"github.com/workerspages/mail-backup/internal/services/archiver"
	"github.com/workerspages/mail-backup/internal/services/mailer"
	"github.com/workerspages/mail-backup/internal/services/restorekit"
	"github.com/workerspages/mail-backup/internal/services/splitter"
)

// ErrTaskAlreadyRunning is returned when a trigger arrives while a run for
// the same task is still in flight. The trigger is rejected, never queued.
var ErrTaskAlreadyRunning = errors.New("task is already running")

// History persists job run records. Implemented by the store package.
type History interface {
	CreateRun(run *models.JobRun) error
	FinishRun(run *models.JobRun) error
}

// Service defines the interface for the backup runner.
type Service interface {
	Trigger(ctx context.Context, task models.BackupTask) (*models.JobRun, error)
}

// Impl implements the runner Service interface.
type Impl struct {
	archiverSvc archiver.Service
	splitterSvc splitter.Service
	kitSvc      restorekit.Service
	mailerSvc   mailer.Service
	history     History
	smtp        models.SMTPConfig
	logger      zerolog.Logger
	scratchDir  string
	inflight    sync.Map // task ID -> struct{}, the single-flight lock
}

// New creates a new runner service. history may be nil when no run record
// persistence is wanted (one-shot CLI use against a broken store).
func New(logger zerolog.Logger, smtp models.SMTPConfig, history History) *Impl {
	return &Impl{
		archiverSvc: archiver.New(logger),
		splitterSvc: splitter.New(logger),
		kitSvc:      restorekit.New(logger),
		mailerSvc:   mailer.New(logger),
		history:     history,
		smtp:        smtp,
		logger:      logger,
		scratchDir:  os.TempDir(),
	}
}

// NewWithServices creates a new runner service with custom services (for testing).
func NewWithServices(
	logger zerolog.Logger,
	smtp models.SMTPConfig,
	history History,
	archiverSvc archiver.Service,
	splitterSvc splitter.Service,
	kitSvc restorekit.Service,
	mailerSvc mailer.Service,
	scratchDir string,
) *Impl {
	return &Impl{
		archiverSvc: archiverSvc,
		splitterSvc: splitterSvc,
		kitSvc:      kitSvc,
		mailerSvc:   mailerSvc,
		history:     history,
		smtp:        smtp,
		logger:      logger,
		scratchDir:  scratchDir,
	}
}

// Trigger runs the full pipeline for one task firing. At most one run per
// task ID may be active; concurrent triggers get ErrTaskAlreadyRunning.
// The returned JobRun is always finalized (terminal status, FinishedAt
// set); the error mirrors the run's failure for CLI callers. A pipeline
// failure never panics or propagates further, so one task cannot take
// down the scheduler.
func (s *Impl) Trigger(ctx context.Context, task models.BackupTask) (*models.JobRun, error) {
	if _, loaded := s.inflight.LoadOrStore(task.ID, struct{}{}); loaded {
		s.logger.Warn().Str("task", task.Name).Msg("trigger rejected, previous run still in flight")
		return nil, ErrTaskAlreadyRunning
	}
	defer s.inflight.Delete(task.ID)

	run := &models.JobRun{
		ID:        uuid.NewString(),
		TaskID:    task.ID,
		TaskName:  task.Name,
		StartedAt: time.Now(),
		Status:    models.StatusRunning,
	}

	s.logger.Info().
		Str("task", task.Name).
		Str("run_id", run.ID).
		Str("source", task.SourcePath).
		Msg("starting backup run")

	if s.history != nil {
		if err := s.history.CreateRun(run); err != nil {
			// A broken history store must not block the backup itself.
			s.logger.Error().Err(err).Str("run_id", run.ID).Msg("failed to persist run record")
		}
	}

	runErr := s.execute(ctx, task, run)

	run.FinishedAt = time.Now()
	if runErr != nil && !run.Status.Terminal() {
		run.Status = models.StatusFailed
		run.ErrorDetail = runErr.Error()
	}
	if runErr == nil {
		run.Status = models.StatusSucceeded
	}

	if s.history != nil {
		if err := s.history.FinishRun(run); err != nil {
			s.logger.Error().Err(err).Str("run_id", run.ID).Msg("failed to finalize run record")
		}
	}

	event := s.logger.Info()
	if runErr != nil {
		event = s.logger.Error().Err(runErr)
	}
	event.
		Str("task", task.Name).
		Str("run_id", run.ID).
		Str("status", string(run.Status)).
		Int("chunks", run.ChunkCount).
		Int("delivered", run.DeliveredCount).
		Dur("duration", run.FinishedAt.Sub(run.StartedAt)).
		Msg("backup run finished")

	return run, runErr
}

func (s *Impl) execute(ctx context.Context, task models.BackupTask, run *models.JobRun) error {
	// Step 1: archive into scratch space.
	archivePath := filepath.Join(s.scratchDir, fmt.Sprintf("%s-%s.zip", task.ID, run.ID))

	archiveResult, err := s.archiverSvc.Archive(ctx, task, archivePath)
	if err != nil {
		run.Status = models.StatusFailed
		run.ErrorDetail = err.Error()
		return fmt.Errorf("archive failed: %w", err)
	}
	// The archive is a transient delivery artifact; released on every exit path.
	defer func() { _ = os.Remove(archiveResult.ArchivePath) }()

	run.ArchiveSizeBytes = archiveResult.SizeBytes
	for _, skipped := range archiveResult.SkippedPaths {
		run.Warnings = append(run.Warnings, "skipped: "+skipped)
	}

	// Step 2: plan the split.
	stream, err := s.splitterSvc.Split(archiveResult.ArchivePath, task.ChunkSizeBytes)
	if err != nil {
		run.Status = models.StatusFailed
		run.ErrorDetail = err.Error()
		return fmt.Errorf("split failed: %w", err)
	}
	defer func() { _ = stream.Close() }()

	run.ChunkCount = stream.TotalCount()

	// Step 3: build the restore kit, once per run.
	kit, err := s.kitSvc.Build(stream.TotalCount(), task.ArchiveFileName())
	if err != nil {
		run.Status = models.StatusFailed
		run.ErrorDetail = err.Error()
		return fmt.Errorf("restore kit failed: %w", err)
	}

	// Step 4: ordered delivery.
	report, err := s.mailerSvc.Send(ctx, s.smtp, task, stream, kit)
	if err != nil {
		run.Status = models.StatusFailed
		run.ErrorDetail = err.Error()
		return fmt.Errorf("delivery failed: %w", err)
	}

	run.DeliveredCount = report.DeliveredCount
	if report.Error != nil {
		// A strict prefix was delivered (possibly empty). Record exactly
		// how far the sequence got so an operator can see what the
		// recipient holds.
		run.Status = models.StatusPartiallyFailed
		run.ErrorDetail = report.Error.Error()
		return fmt.Errorf("delivery incomplete after %d/%d chunks: %w",
			report.DeliveredCount, report.TotalCount, report.Error)
	}

	return nil
}
