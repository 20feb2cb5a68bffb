// Package mailer delivers archive chunks as an ordered sequence of emails.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog"
	"github.com/workerspages/mail-backup/internal/models"
	"gopkg.in/gomail.v2"
)

// Attachment content types. Chunks are opaque byte ranges, so they always
// go out as a downloadable binary; a wrong type here historically made
// clients rename parts to .bin or render them inline.
const (
	chunkContentType = "application/octet-stream"
	kitContentType   = "application/zip"
)

var chunkNamePattern = regexp.MustCompile(`\.\d{3}$`)

// Service defines the interface for chunk delivery.
type Service interface {
	Send(ctx context.Context, cfg models.SMTPConfig, task models.BackupTask, chunks models.ChunkSource, kit *models.RestoreKit) (*models.DeliveryReport, error)
}

// MessageSender allows mocking SMTP delivery. *gomail.Dialer satisfies it.
type MessageSender interface {
	DialAndSend(m ...*gomail.Message) error
}

// Impl implements the mailer Service interface.
type Impl struct {
	newSender func(cfg models.SMTPConfig) MessageSender
	logger    zerolog.Logger
}

// New creates a new mailer service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		newSender: func(cfg models.SMTPConfig) MessageSender {
			d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
			// Port 465 is implicit TLS; other ports negotiate STARTTLS.
			d.SSL = cfg.Port == 465
			return d
		},
		logger: logger,
	}
}

// NewWithSender creates a new mailer service with a custom sender (for testing).
func NewWithSender(logger zerolog.Logger, sender MessageSender) *Impl {
	return &Impl{
		newSender: func(models.SMTPConfig) MessageSender { return sender },
		logger:    logger,
	}
}

// Send emails one message per chunk in strictly ascending index order. The
// first message additionally carries the restore kit. Each send gets a
// bounded number of attempts with backoff; once a chunk permanently fails,
// no later chunk is attempted, so the delivered set is always a strict
// prefix. The report records how far the sequence got; a send failure is
// reported on the result, not as a call error.
func (s *Impl) Send(ctx context.Context, cfg models.SMTPConfig, task models.BackupTask, chunks models.ChunkSource, kit *models.RestoreKit) (*models.DeliveryReport, error) {
	startTime := time.Now()

	recipient := task.Recipient
	if recipient == "" {
		recipient = cfg.Sender()
	}

	report := &models.DeliveryReport{TotalCount: chunks.TotalCount()}
	sender := s.newSender(cfg)

	s.logger.Info().
		Str("task", task.Name).
		Str("recipient", recipient).
		Int("total_count", report.TotalCount).
		Msg("starting chunk delivery")

	for {
		chunk, err := chunks.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			report.FailedIndex = report.DeliveredCount + 1
			report.Error = fmt.Errorf("reading chunk %d: %w", report.FailedIndex, err)
			report.Duration = time.Since(startTime)
			return report, nil
		}

		msg, err := s.buildMessage(cfg, task, recipient, chunk, kit)
		if err != nil {
			report.FailedIndex = chunk.Index
			report.Error = err
			report.Duration = time.Since(startTime)
			return report, nil
		}

		if err := s.sendWithRetry(ctx, cfg, sender, msg); err != nil {
			s.logger.Error().
				Err(err).
				Str("task", task.Name).
				Int("chunk", chunk.Index).
				Int("total", chunk.TotalCount).
				Msg("chunk delivery failed, aborting remaining chunks")
			report.FailedIndex = chunk.Index
			report.Error = fmt.Errorf("sending chunk %d/%d: %w", chunk.Index, chunk.TotalCount, err)
			report.Duration = time.Since(startTime)
			return report, nil
		}

		report.DeliveredCount++
		s.logger.Info().
			Str("task", task.Name).
			Int("chunk", chunk.Index).
			Int("total", chunk.TotalCount).
			Int64("size", chunk.SizeBytes).
			Msg("chunk delivered")
	}

	report.Duration = time.Since(startTime)
	s.logger.Info().
		Str("task", task.Name).
		Int("delivered", report.DeliveredCount).
		Dur("duration", report.Duration).
		Msg("all chunks delivered")

	return report, nil
}

func (s *Impl) buildMessage(cfg models.SMTPConfig, task models.BackupTask, recipient string, chunk *models.Chunk, kit *models.RestoreKit) (*gomail.Message, error) {
	attachmentName := chunk.SuffixedName(task.ArchiveFileName())

	if err := validateAttachment(attachmentName, chunkContentType); err != nil {
		return nil, fmt.Errorf("chunk %d: %w", chunk.Index, err)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", cfg.Sender())
	m.SetHeader("To", recipient)
	m.SetHeader("Subject", fmt.Sprintf("%s [%d/%d]", task.Name, chunk.Index, chunk.TotalCount))
	m.SetBody("text/plain", messageBody(task, chunk, attachmentName))

	payload := chunk.Payload
	m.Attach(attachmentName,
		gomail.SetCopyFunc(func(w io.Writer) error {
			_, err := w.Write(payload)
			return err
		}),
		gomail.SetHeader(map[string][]string{
			"Content-Type": {fmt.Sprintf("%s; name=%q", chunkContentType, attachmentName)},
		}),
	)

	// Restore kit rides only on the first chunk.
	if chunk.Index == 1 && kit != nil {
		if err := validateAttachment(kit.FileName, kitContentType); err != nil {
			return nil, err
		}
		kitPayload := kit.Payload
		m.Attach(kit.FileName,
			gomail.SetCopyFunc(func(w io.Writer) error {
				_, err := w.Write(kitPayload)
				return err
			}),
			gomail.SetHeader(map[string][]string{
				"Content-Type": {fmt.Sprintf("%s; name=%q", kitContentType, kit.FileName)},
			}),
		)
	}

	return m, nil
}

func (s *Impl) sendWithRetry(ctx context.Context, cfg models.SMTPConfig, sender MessageSender, m *gomail.Message) error {
	attempts := cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	return retry.Do(
		func() error { return sender.DialAndSend(m) },
		retry.Context(ctx),
		retry.Attempts(uint(attempts)),
		retry.Delay(cfg.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Warn().
				Err(err).
				Uint("attempt", n+1).
				Msg("send attempt failed, retrying")
		}),
	)
}

// validateAttachment rejects any attachment whose declared name or content
// type a generic mail client would not treat as a downloadable binary.
func validateAttachment(name, contentType string) error {
	if contentType != chunkContentType && contentType != kitContentType {
		return fmt.Errorf("attachment %q declares non-binary content type %q", name, contentType)
	}
	if name == "" {
		return fmt.Errorf("attachment name is empty")
	}
	if contentType == chunkContentType && !chunkNamePattern.MatchString(name) {
		return fmt.Errorf("chunk attachment %q lacks a 3-digit ordinal suffix", name)
	}
	return nil
}

func messageBody(task models.BackupTask, chunk *models.Chunk, attachmentName string) string {
	body := fmt.Sprintf("Backup %q, part %d of %d.\nAttachment: %s\n",
		task.Name, chunk.Index, chunk.TotalCount, attachmentName)

	if chunk.Index == 1 {
		body += fmt.Sprintf("\nTo restore: save the attachments of all %d emails into one directory, "+
			"then run merge.bat (Windows) or merge.sh (Linux/macOS) from restore_tool.zip "+
			"to rebuild %s.\n", chunk.TotalCount, task.ArchiveFileName())
		if task.Password != "" {
			body += "The rebuilt archive is password protected.\n"
		}
	}

	return body
}
