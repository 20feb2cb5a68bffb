package models

import "time"

// ArchiveResult holds the outcome of archiving one source directory.
type ArchiveResult struct {
	ArchivePath  string
	SizeBytes    int64
	FileCount    int
	SkippedPaths []string // unreadable or special entries, skipped not fatal
	Duration     time.Duration
}
