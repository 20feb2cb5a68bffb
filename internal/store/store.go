// Package store persists the append-only job run history in SQLite.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/workerspages/mail-backup/internal/models"
)

// Store is the SQLite-backed job run history. Runs are inserted when a job
// starts, finalized exactly once, and never touched again.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the history database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening history db: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging history db: %w", err)
	}

	s := &Store{db: db}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	schema := `create table if not exists job_runs(
		id text primary key,
		task_id text not null,
		task_name text not null,
		started_at datetime not null,
		finished_at datetime,
		status text not null,
		archive_size_bytes integer not null default 0,
		chunk_count integer not null default 0,
		delivered_count integer not null default 0,
		error_detail text not null default '',
		warnings text not null default '[]'
	);
	create index if not exists idx_job_runs_task on job_runs(task_id, started_at);`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("initializing history schema: %w", err)
	}
	return nil
}

// CreateRun inserts a freshly started run.
func (s *Store) CreateRun(run *models.JobRun) error {
	statement := `insert into job_runs
		(id, task_id, task_name, started_at, status)
		values (?, ?, ?, ?, ?)`

	_, err := s.db.Exec(statement, run.ID, run.TaskID, run.TaskName, run.StartedAt, string(run.Status))
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", run.ID, err)
	}
	return nil
}

// FinishRun records the terminal state of a run.
func (s *Store) FinishRun(run *models.JobRun) error {
	warnings, err := json.Marshal(run.Warnings)
	if err != nil {
		return fmt.Errorf("encoding warnings: %w", err)
	}

	statement := `update job_runs set
		finished_at = ?, status = ?, archive_size_bytes = ?,
		chunk_count = ?, delivered_count = ?, error_detail = ?, warnings = ?
		where id = ? and finished_at is null`

	res, err := s.db.Exec(statement,
		run.FinishedAt, string(run.Status), run.ArchiveSizeBytes,
		run.ChunkCount, run.DeliveredCount, run.ErrorDetail, string(warnings),
		run.ID)
	if err != nil {
		return fmt.Errorf("finalizing run %s: %w", run.ID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// Either the insert was lost or the run was already finalized;
		// insert the terminal record so history stays complete.
		return s.insertFinished(run, string(warnings))
	}
	return nil
}

func (s *Store) insertFinished(run *models.JobRun, warnings string) error {
	statement := `insert or ignore into job_runs
		(id, task_id, task_name, started_at, finished_at, status,
		 archive_size_bytes, chunk_count, delivered_count, error_detail, warnings)
		values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.Exec(statement,
		run.ID, run.TaskID, run.TaskName, run.StartedAt, run.FinishedAt,
		string(run.Status), run.ArchiveSizeBytes, run.ChunkCount,
		run.DeliveredCount, run.ErrorDetail, warnings)
	if err != nil {
		return fmt.Errorf("inserting finished run %s: %w", run.ID, err)
	}
	return nil
}

// ListRuns returns recent runs, newest first. taskID filters when non-empty.
func (s *Store) ListRuns(taskID string, limit int) ([]models.JobRun, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `select id, task_id, task_name, started_at, finished_at, status,
		archive_size_bytes, chunk_count, delivered_count, error_detail, warnings
		from job_runs`
	args := []any{}
	if taskID != "" {
		query += ` where task_id = ?`
		args = append(args, taskID)
	}
	query += ` order by started_at desc limit ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []models.JobRun
	for rows.Next() {
		var run models.JobRun
		var finishedAt sql.NullTime
		var status, warnings string

		err := rows.Scan(&run.ID, &run.TaskID, &run.TaskName, &run.StartedAt,
			&finishedAt, &status, &run.ArchiveSizeBytes, &run.ChunkCount,
			&run.DeliveredCount, &run.ErrorDetail, &warnings)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}

		if finishedAt.Valid {
			run.FinishedAt = finishedAt.Time
		}
		run.Status = models.JobStatus(status)
		if err := json.Unmarshal([]byte(warnings), &run.Warnings); err != nil {
			run.Warnings = nil
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
