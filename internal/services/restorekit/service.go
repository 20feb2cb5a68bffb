// Package restorekit generates the merge-script bundle attached to the
// first chunk email. The scripts reassemble the archive by byte
// concatenation only; they neither extract nor decrypt it.
package restorekit

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/workerspages/mail-backup/internal/models"
	"github.com/yeka/zip"
)

// KitFileName is the attachment name of the restore bundle.
const KitFileName = "restore_tool.zip"

// Service defines the interface for restore kit generation.
type Service interface {
	Build(totalCount int, archiveBaseName string) (*models.RestoreKit, error)
}

// Impl implements the restorekit Service interface.
type Impl struct {
	logger zerolog.Logger
}

// New creates a new restorekit service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{logger: logger}
}

// Build produces restore_tool.zip containing merge.bat (Windows) and
// merge.sh (POSIX) for reassembling archiveBaseName.001..NNN into
// archiveBaseName. Built once per job and reused for every retry of the
// first email.
func (s *Impl) Build(totalCount int, archiveBaseName string) (*models.RestoreKit, error) {
	if totalCount < 1 {
		return nil, fmt.Errorf("total count must be at least 1, got %d", totalCount)
	}
	if archiveBaseName == "" {
		return nil, fmt.Errorf("archive base name is required")
	}

	parts := make([]string, totalCount)
	for i := range parts {
		parts[i] = fmt.Sprintf("%s.%03d", archiveBaseName, i+1)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	scripts := []struct {
		name    string
		content string
	}{
		{"merge.bat", batchScript(archiveBaseName, parts)},
		{"merge.sh", shellScript(archiveBaseName, parts)},
	}

	for _, script := range scripts {
		w, err := zw.Create(script.name)
		if err != nil {
			return nil, fmt.Errorf("creating %s: %w", script.name, err)
		}
		if _, err := w.Write([]byte(script.content)); err != nil {
			return nil, fmt.Errorf("writing %s: %w", script.name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("closing restore kit: %w", err)
	}

	s.logger.Debug().
		Str("base", archiveBaseName).
		Int("parts", totalCount).
		Int("size", buf.Len()).
		Msg("restore kit built")

	return &models.RestoreKit{
		FileName: KitFileName,
		Payload:  buf.Bytes(),
	}, nil
}

// batchScript builds the Windows merge script. copy /b concatenates the
// parts in the exact order listed.
func batchScript(base string, parts []string) string {
	var b strings.Builder
	b.WriteString("@echo off\r\n")
	fmt.Fprintf(&b, "rem Reassembles %s from %d part file(s).\r\n", base, len(parts))
	fmt.Fprintf(&b, "rem Run this script in the folder containing %s.001 etc.\r\n", base)

	quoted := make([]string, len(parts))
	for i, part := range parts {
		quoted[i] = `"` + part + `"`
	}
	fmt.Fprintf(&b, "copy /b %s \"%s\"\r\n", strings.Join(quoted, "+"), base)
	fmt.Fprintf(&b, "echo Done. Extract %s with your archive tool.\r\n", base)
	return b.String()
}

// shellScript builds the POSIX merge script.
func shellScript(base string, parts []string) string {
	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	fmt.Fprintf(&b, "# Reassembles %s from %d part file(s).\n", base, len(parts))
	fmt.Fprintf(&b, "# Run this script in the directory containing %s.001 etc.\n", base)
	b.WriteString("set -e\n")

	quoted := make([]string, len(parts))
	for i, part := range parts {
		quoted[i] = "'" + part + "'"
	}
	fmt.Fprintf(&b, "cat %s > '%s'\n", strings.Join(quoted, " "), base)
	fmt.Fprintf(&b, "echo 'Done. Extract %s with your archive tool.'\n", base)
	return b.String()
}
