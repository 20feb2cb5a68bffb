package models

import "time"

// JobStatus is the lifecycle state of a single job run.
type JobStatus string

const (
	StatusRunning         JobStatus = "running"
	StatusSucceeded       JobStatus = "succeeded"
	StatusPartiallyFailed JobStatus = "partially_failed"
	StatusFailed          JobStatus = "failed"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	return s != StatusRunning
}

// JobRun is one execution instance of a task. A run is immutable once
// FinishedAt is set.
type JobRun struct {
	ID               string
	TaskID           string
	TaskName         string
	StartedAt        time.Time
	FinishedAt       time.Time
	Status           JobStatus
	ArchiveSizeBytes int64
	ChunkCount       int
	DeliveredCount   int
	ErrorDetail      string   // set on failed / partially_failed only
	Warnings         []string // skipped entries and other non-fatal notes
}
