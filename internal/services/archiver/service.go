// Package archiver produces password-protectable zip archives from source
// directories.
package archiver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/workerspages/mail-backup/internal/models"
	"github.com/yeka/zip"
)

// Reason classifies an archive failure.
type Reason string

const (
	// PathUnreadable means the source path is missing or not a readable
	// directory at execution time.
	PathUnreadable Reason = "path_unreadable"
	// CompressionFailed means writing the archive itself failed.
	CompressionFailed Reason = "compression_failed"
)

// Error is a terminal archiving failure. Unreadable entries inside the
// tree are not errors; they are skipped and reported on the result.
type Error struct {
	Reason Reason
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("archive failed (%s): %v", e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Service defines the interface for archive creation.
type Service interface {
	Archive(ctx context.Context, task models.BackupTask, outputPath string) (*models.ArchiveResult, error)
}

// Impl implements the archiver Service interface.
type Impl struct {
	logger zerolog.Logger
}

// New creates a new archiver service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{logger: logger}
}

// Archive walks task.SourcePath and writes a single zip archive to
// outputPath. Entries are encrypted when the task has a password. Special
// files, broken symlinks and unreadable entries are skipped, not fatal.
// The caller owns cleanup of the produced file.
func (s *Impl) Archive(ctx context.Context, task models.BackupTask, outputPath string) (*models.ArchiveResult, error) {
	startTime := time.Now()

	info, err := os.Stat(task.SourcePath)
	if err != nil {
		return nil, &Error{Reason: PathUnreadable, Err: err}
	}
	if !info.IsDir() {
		return nil, &Error{Reason: PathUnreadable, Err: fmt.Errorf("%s is not a directory", task.SourcePath)}
	}

	s.logger.Info().
		Str("task", task.Name).
		Str("source", task.SourcePath).
		Str("output", outputPath).
		Bool("encrypted", task.Password != "").
		Msg("starting archive")

	f, err := os.Create(outputPath)
	if err != nil {
		return nil, &Error{Reason: CompressionFailed, Err: err}
	}

	result := &models.ArchiveResult{ArchivePath: outputPath}

	if err := s.writeArchive(ctx, f, task, result); err != nil {
		_ = f.Close()
		_ = os.Remove(outputPath)
		return nil, err
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(outputPath)
		return nil, &Error{Reason: CompressionFailed, Err: err}
	}

	stat, err := os.Stat(outputPath)
	if err != nil {
		return nil, &Error{Reason: CompressionFailed, Err: err}
	}
	result.SizeBytes = stat.Size()
	result.Duration = time.Since(startTime)

	s.logger.Info().
		Str("task", task.Name).
		Int64("size", result.SizeBytes).
		Int("files", result.FileCount).
		Int("skipped", len(result.SkippedPaths)).
		Dur("duration", result.Duration).
		Msg("archive completed")

	return result, nil
}

func (s *Impl) writeArchive(ctx context.Context, f *os.File, task models.BackupTask, result *models.ArchiveResult) error {
	zw := zip.NewWriter(f)

	walkErr := filepath.Walk(task.SourcePath, func(path string, info fs.FileInfo, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if err != nil {
			// Entry vanished or is unreadable: skip and continue.
			s.skip(result, path, err)
			if info != nil && info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if path == task.SourcePath {
			return nil
		}

		rel, err := filepath.Rel(task.SourcePath, path)
		if err != nil {
			return &Error{Reason: CompressionFailed, Err: err}
		}
		name := filepath.ToSlash(rel)

		if info.IsDir() {
			return s.writeDir(zw, name, info)
		}

		if !info.Mode().IsRegular() {
			// Sockets, devices, fifos, symlinks (broken or not).
			s.skip(result, path, fmt.Errorf("special file (%s)", info.Mode().Type()))
			return nil
		}

		src, err := os.Open(path)
		if err != nil {
			s.skip(result, path, err)
			return nil
		}
		defer func() { _ = src.Close() }()

		if err := s.writeFile(zw, name, info, task.Password, src); err != nil {
			return err
		}
		result.FileCount++
		return nil
	})

	if walkErr != nil {
		_ = zw.Close()
		var archErr *Error
		if errors.As(walkErr, &archErr) {
			return archErr
		}
		return &Error{Reason: CompressionFailed, Err: walkErr}
	}

	if err := zw.Close(); err != nil {
		return &Error{Reason: CompressionFailed, Err: err}
	}
	return nil
}

func (s *Impl) writeDir(zw *zip.Writer, name string, info fs.FileInfo) error {
	fh, err := zip.FileInfoHeader(info)
	if err != nil {
		return &Error{Reason: CompressionFailed, Err: err}
	}
	fh.Name = name + "/"
	if _, err := zw.CreateHeader(fh); err != nil {
		return &Error{Reason: CompressionFailed, Err: err}
	}
	return nil
}

func (s *Impl) writeFile(zw *zip.Writer, name string, info fs.FileInfo, password string, src io.Reader) error {
	fh, err := zip.FileInfoHeader(info)
	if err != nil {
		return &Error{Reason: CompressionFailed, Err: err}
	}
	fh.Name = name
	fh.Method = zip.Deflate
	if password != "" {
		// ZipCrypto rather than AES: every common extractor (Info-ZIP,
		// 7-Zip, WinRAR, macOS ditto) can open it without extra tooling.
		fh.SetPassword(password)
		fh.SetEncryptionMethod(zip.StandardEncryption)
	}

	w, err := zw.CreateHeader(fh)
	if err != nil {
		return &Error{Reason: CompressionFailed, Err: err}
	}
	if _, err := io.Copy(w, src); err != nil {
		return &Error{Reason: CompressionFailed, Err: err}
	}
	return nil
}

func (s *Impl) skip(result *models.ArchiveResult, path string, err error) {
	s.logger.Warn().Str("path", path).Err(err).Msg("skipping unreadable entry")
	result.SkippedPaths = append(result.SkippedPaths, fmt.Sprintf("%s: %v", path, err))
}
