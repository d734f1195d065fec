// Package jobstore persists render job records in sqlite. The timeline
// snapshot travels as a JSON blob; status, error and result columns are
// what the supervisor mutates.
package jobstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/clipforge/clipforge/internal/common/entities"
)

const schema = `
CREATE TABLE IF NOT EXISTS render_jobs (
	id         TEXT PRIMARY KEY,
	snapshot   TEXT NOT NULL,
	status     TEXT NOT NULL,
	error      TEXT NOT NULL DEFAULT '',
	result     TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_render_jobs_status ON render_jobs(status);
`

// snapshot is the immutable part of a job record.
type snapshot struct {
	Timeline   entities.Timeline       `json:"timeline"`
	Clips      []entities.ResolvedClip `json:"clips"`
	Preset     entities.Preset         `json:"preset,omitempty"`
	Renditions []string                `json:"renditions,omitempty"`
}

type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open creates the database file if needed, applies the schema and marks
// jobs left processing by a previous crash as failed.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			return nil, fmt.Errorf("execute %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	s := &Store{db: db, logger: logger.With().Str("component", "jobstore").Logger()}
	if err := s.markInterrupted(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to mark interrupted jobs")
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) markInterrupted() error {
	_, err := s.db.Exec(
		`UPDATE render_jobs SET status = ?, error = 'interrupted by restart', updated_at = ? WHERE status = ?`,
		entities.JobStatusFailed, now(), entities.JobStatusProcessing)
	return err
}

func (s *Store) Create(ctx context.Context, job *entities.RenderJob) error {
	snap, err := json.Marshal(snapshot{
		Timeline:   job.Timeline,
		Clips:      job.Clips,
		Preset:     job.Preset,
		Renditions: job.Renditions,
	})
	if err != nil {
		return err
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	job.UpdatedAt = job.CreatedAt
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO render_jobs (id, snapshot, status, error, result, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		job.ID, string(snap), job.Status, job.Error, job.Result,
		job.CreatedAt.Format(time.RFC3339), job.UpdatedAt.Format(time.RFC3339))
	return err
}

// SetStatus records a status transition. errText is kept only for failed
// transitions.
func (s *Store) SetStatus(ctx context.Context, id string, status entities.JobStatus, errText string) error {
	if status != entities.JobStatusFailed {
		errText = ""
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE render_jobs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		status, errText, now(), id)
	if err != nil {
		return err
	}
	return requireRow(res, id)
}

// SetResult marks a job completed with the durable location of its output.
func (s *Store) SetResult(ctx context.Context, id, location string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE render_jobs SET status = ?, result = ?, error = '', updated_at = ? WHERE id = ?`,
		entities.JobStatusCompleted, location, now(), id)
	if err != nil {
		return err
	}
	return requireRow(res, id)
}

func (s *Store) Get(ctx context.Context, id string) (*entities.RenderJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, snapshot, status, error, result, created_at, updated_at FROM render_jobs WHERE id = ?`, id)
	return scanJob(row.Scan)
}

func (s *Store) List(ctx context.Context, limit int) ([]*entities.RenderJob, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, snapshot, status, error, result, created_at, updated_at
		 FROM render_jobs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var jobs []*entities.RenderJob
	for rows.Next() {
		job, err := scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func scanJob(scan func(dest ...any) error) (*entities.RenderJob, error) {
	var job entities.RenderJob
	var snapText, createdAt, updatedAt string
	err := scan(&job.ID, &snapText, &job.Status, &job.Error, &job.Result, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap snapshot
	if err := json.Unmarshal([]byte(snapText), &snap); err != nil {
		return nil, fmt.Errorf("decode job snapshot: %w", err)
	}
	job.Timeline = snap.Timeline
	job.Clips = snap.Clips
	job.Preset = snap.Preset
	job.Renditions = snap.Renditions
	job.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	job.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &job, nil
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("job %s not found", id)
	}
	return nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
