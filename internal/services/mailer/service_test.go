package mailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/workerspages/mail-backup/internal/models"
	"gopkg.in/gomail.v2"
)

type mockSender struct {
	sendFunc func(m *gomail.Message) error
	sent     []*gomail.Message
	attempts int
}

func (m *mockSender) DialAndSend(msgs ...*gomail.Message) error {
	for _, msg := range msgs {
		m.attempts++
		if m.sendFunc != nil {
			if err := m.sendFunc(msg); err != nil {
				return err
			}
		}
		m.sent = append(m.sent, msg)
	}
	return nil
}

type fakeChunks struct {
	chunks []*models.Chunk
	pos    int
}

func (f *fakeChunks) TotalCount() int {
	return len(f.chunks)
}

func (f *fakeChunks) Next() (*models.Chunk, error) {
	if f.pos >= len(f.chunks) {
		return nil, io.EOF
	}
	chunk := f.chunks[f.pos]
	f.pos++
	return chunk, nil
}

func makeChunks(n int) *fakeChunks {
	chunks := make([]*models.Chunk, n)
	for i := range chunks {
		payload := []byte{byte(i + 1)}
		chunks[i] = &models.Chunk{
			Index:      i + 1,
			TotalCount: n,
			SizeBytes:  int64(len(payload)),
			Payload:    payload,
		}
	}
	return &fakeChunks{chunks: chunks}
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func testSMTP() models.SMTPConfig {
	return models.SMTPConfig{
		Host:       "smtp.example.com",
		Port:       465,
		Username:   "backup@example.com",
		Password:   "secret",
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
	}
}

func testTask() models.BackupTask {
	return models.BackupTask{
		ID:        "photos",
		Name:      "photos",
		Recipient: "me@example.com",
	}
}

func testKit() *models.RestoreKit {
	return &models.RestoreKit{FileName: "restore_tool.zip", Payload: []byte("kit")}
}

func render(t *testing.T, m *gomail.Message) string {
	t.Helper()
	var buf bytes.Buffer
	_, err := m.WriteTo(&buf)
	require.NoError(t, err)
	return buf.String()
}

func subject(t *testing.T, m *gomail.Message) string {
	t.Helper()
	return m.GetHeader("Subject")[0]
}

func TestSend_AllChunksInAscendingOrder(t *testing.T) {
	sender := &mockSender{}
	svc := NewWithSender(testLogger(), sender)

	report, err := svc.Send(context.Background(), testSMTP(), testTask(), makeChunks(3), testKit())

	require.NoError(t, err)
	require.Nil(t, report.Error)
	assert.Equal(t, 3, report.TotalCount)
	assert.Equal(t, 3, report.DeliveredCount)
	assert.Equal(t, 0, report.FailedIndex)

	require.Len(t, sender.sent, 3)
	for i, msg := range sender.sent {
		assert.Equal(t, fmt.Sprintf("photos [%d/3]", i+1), subject(t, msg))
		assert.Equal(t, []string{"me@example.com"}, msg.GetHeader("To"))

		raw := render(t, msg)
		assert.Contains(t, raw, fmt.Sprintf(`name="photos.zip.%03d"`, i+1))
		assert.Contains(t, raw, "application/octet-stream")
	}
}

func TestSend_RestoreKitOnlyOnFirstEmail(t *testing.T) {
	sender := &mockSender{}
	svc := NewWithSender(testLogger(), sender)

	_, err := svc.Send(context.Background(), testSMTP(), testTask(), makeChunks(3), testKit())
	require.NoError(t, err)
	require.Len(t, sender.sent, 3)

	assert.Contains(t, render(t, sender.sent[0]), `name="restore_tool.zip"`)
	for _, msg := range sender.sent[1:] {
		assert.NotContains(t, render(t, msg), "restore_tool.zip")
	}
}

func TestSend_SingleChunkUsesSameFormat(t *testing.T) {
	sender := &mockSender{}
	svc := NewWithSender(testLogger(), sender)

	report, err := svc.Send(context.Background(), testSMTP(), testTask(), makeChunks(1), testKit())

	require.NoError(t, err)
	assert.Equal(t, 1, report.DeliveredCount)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "photos [1/1]", subject(t, sender.sent[0]))

	raw := render(t, sender.sent[0])
	assert.Contains(t, raw, `name="photos.zip.001"`)
	assert.Contains(t, raw, `name="restore_tool.zip"`)
}

func TestSend_StopsAfterPermanentFailure(t *testing.T) {
	sender := &mockSender{}
	sender.sendFunc = func(m *gomail.Message) error {
		if strings.Contains(subject(t, m), "[2/3]") {
			return errors.New("smtp: connection refused")
		}
		return nil
	}
	svc := NewWithSender(testLogger(), sender)

	report, err := svc.Send(context.Background(), testSMTP(), testTask(), makeChunks(3), testKit())

	require.NoError(t, err)
	require.NotNil(t, report.Error)
	assert.Equal(t, 1, report.DeliveredCount)
	assert.Equal(t, 2, report.FailedIndex)
	assert.Contains(t, report.Error.Error(), "chunk 2/3")

	// Only chunk 1 went out; chunk 3 was never attempted.
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "photos [1/3]", subject(t, sender.sent[0]))
	// Chunk 2 was attempted MaxRetries times before giving up.
	assert.Equal(t, 1+2, sender.attempts)
}

func TestSend_CancellationMidDeliveryLeavesStrictPrefix(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sender := &mockSender{}
	sender.sendFunc = func(m *gomail.Message) error {
		// Shutdown arrives right after the first chunk goes out.
		if strings.Contains(subject(t, m), "[1/3]") {
			cancel()
		}
		return nil
	}
	svc := NewWithSender(testLogger(), sender)

	report, err := svc.Send(ctx, testSMTP(), testTask(), makeChunks(3), testKit())

	require.NoError(t, err)
	require.NotNil(t, report.Error)
	assert.ErrorIs(t, report.Error, context.Canceled)
	assert.Equal(t, 1, report.DeliveredCount)
	assert.Equal(t, 2, report.FailedIndex)

	// Exactly the delivered prefix went out; chunks 2 and 3 were never sent.
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "photos [1/3]", subject(t, sender.sent[0]))
}

func TestSend_RetriesTransientFailures(t *testing.T) {
	failures := 1
	sender := &mockSender{}
	sender.sendFunc = func(m *gomail.Message) error {
		if failures > 0 {
			failures--
			return errors.New("smtp: temporary failure")
		}
		return nil
	}
	svc := NewWithSender(testLogger(), sender)

	report, err := svc.Send(context.Background(), testSMTP(), testTask(), makeChunks(2), testKit())

	require.NoError(t, err)
	require.Nil(t, report.Error)
	assert.Equal(t, 2, report.DeliveredCount)
	// First chunk needed a second attempt.
	assert.Equal(t, 3, sender.attempts)
}

func TestSend_DefaultsRecipientToAccount(t *testing.T) {
	sender := &mockSender{}
	svc := NewWithSender(testLogger(), sender)

	task := testTask()
	task.Recipient = ""

	_, err := svc.Send(context.Background(), testSMTP(), task, makeChunks(1), testKit())
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, []string{"backup@example.com"}, sender.sent[0].GetHeader("To"))
}

func TestSend_ChunkReadErrorAborts(t *testing.T) {
	sender := &mockSender{}
	svc := NewWithSender(testLogger(), sender)

	chunks := &failingChunks{total: 3, failAt: 2}
	report, err := svc.Send(context.Background(), testSMTP(), testTask(), chunks, testKit())

	require.NoError(t, err)
	require.NotNil(t, report.Error)
	assert.Equal(t, 1, report.DeliveredCount)
	assert.Equal(t, 2, report.FailedIndex)
}

type failingChunks struct {
	total  int
	failAt int
	pos    int
}

func (f *failingChunks) TotalCount() int {
	return f.total
}

func (f *failingChunks) Next() (*models.Chunk, error) {
	f.pos++
	if f.pos == f.failAt {
		return nil, errors.New("read error")
	}
	if f.pos > f.total {
		return nil, io.EOF
	}
	return &models.Chunk{Index: f.pos, TotalCount: f.total, SizeBytes: 1, Payload: []byte{1}}, nil
}

func TestValidateAttachment(t *testing.T) {
	assert.NoError(t, validateAttachment("photos.zip.001", "application/octet-stream"))
	assert.NoError(t, validateAttachment("restore_tool.zip", "application/zip"))

	// The historical defect: a content type clients render inline or
	// rename to .bin must never pass.
	assert.Error(t, validateAttachment("photos.zip.001", "text/plain"))
	assert.Error(t, validateAttachment("photos.zip.001", "application/x-msdownload"))
	assert.Error(t, validateAttachment("", "application/octet-stream"))
	assert.Error(t, validateAttachment("photos.zip", "application/octet-stream"))
}
