// Package models contains the data structures used throughout mail-backup.
package models

// Chunk size limits. The ceiling tracks common mail provider attachment
// limits; a chunk above it would bounce at the relay.
const (
	DefaultChunkSizeBytes int64 = 35 << 20 // 35 MiB
	MaxChunkSizeBytes     int64 = 50 << 20 // 50 MiB
)

// BackupTask is the fully resolved configuration for one recurring backup job.
type BackupTask struct {
	ID             string // unique slug, derived from Name unless set explicitly
	Name           string
	SourcePath     string // absolute path to back up
	Schedule       string // standard 5-field cron expression
	Password       string // optional; archive entries are encrypted when set
	Recipient      string // optional; defaults to the SMTP account address
	ChunkSizeBytes int64
}

// ArchiveFileName returns the attachment base name for the task's archive.
func (t BackupTask) ArchiveFileName() string {
	return t.Name + ".zip"
}
