package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/mirkored-07/tenderpilot/internal/model"
)

// SQLiteStore implements Store on an embedded sqlite database. It exists for
// local development and the CLI; production deployments use PostgresStore.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (and creates if needed) a sqlite database at path. Pass
// ":memory:" for an ephemeral store.
func NewSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Single writer; WAL keeps readers unblocked during pipeline updates.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA foreign_keys=ON; PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "sqlite: pragmas")
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id              TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL,
	filename        TEXT NOT NULL,
	storage_pointer TEXT NOT NULL,
	source_type     TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'queued',
	pipeline        TEXT NOT NULL DEFAULT '{}',
	created_at      TIMESTAMP NOT NULL,
	updated_at      TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS job_results (
	job_id     TEXT PRIMARY KEY REFERENCES jobs(id),
	data       TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS job_events (
	id         TEXT PRIMARY KEY,
	job_id     TEXT NOT NULL REFERENCES jobs(id),
	stage      TEXT NOT NULL,
	level      TEXT NOT NULL,
	message    TEXT NOT NULL,
	fields     TEXT,
	created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_job_events_job_id ON job_events(job_id, created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return eris.Wrap(s.db.Close(), "sqlite: close")
}

func (s *SQLiteStore) CreateJob(ctx context.Context, in NewJob) (*model.Job, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, user_id, filename, storage_pointer, source_type, status, pipeline, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, in.UserID, in.Filename, in.StoragePointer, string(in.SourceType),
		string(model.JobStatusQueued), `{}`, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert job")
	}

	return &model.Job{
		ID:             id,
		UserID:         in.UserID,
		Filename:       in.Filename,
		StoragePointer: in.StoragePointer,
		SourceType:     in.SourceType,
		Status:         model.JobStatusQueued,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	var j model.Job
	var pipelineJSON string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, filename, storage_pointer, source_type, status, pipeline, created_at, updated_at
		 FROM jobs WHERE id = ?`,
		jobID,
	).Scan(&j.ID, &j.UserID, &j.Filename, &j.StoragePointer, &j.SourceType,
		&j.Status, &pipelineJSON, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get job %s", jobID)
	}

	if pipelineJSON != "" {
		if err := json.Unmarshal([]byte(pipelineJSON), &j.Pipeline); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal pipeline meta")
		}
	}
	return &j, nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT id, user_id, filename, storage_pointer, source_type, status, pipeline, created_at, updated_at
	          FROM jobs WHERE 1=1`
	args := []any{}

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, filter.UserID)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		var j model.Job
		var pipelineJSON string
		if err := rows.Scan(&j.ID, &j.UserID, &j.Filename, &j.StoragePointer, &j.SourceType,
			&j.Status, &pipelineJSON, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job")
		}
		if pipelineJSON != "" {
			if err := json.Unmarshal([]byte(pipelineJSON), &j.Pipeline); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal pipeline meta")
			}
		}
		jobs = append(jobs, j)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

func (s *SQLiteStore) ClaimJob(ctx context.Context, jobID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(model.JobStatusProcessing), time.Now().UTC(), jobID, string(model.JobStatusQueued),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: claim job %s", jobID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: claim rows affected")
	}
	return n == 1, nil
}

func (s *SQLiteStore) UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job status %s", jobID)
	}
	return requireRow(res, jobID)
}

func (s *SQLiteStore) UpdateJobPipeline(ctx context.Context, jobID string, meta model.PipelineMeta) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal pipeline meta")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET pipeline = ?, updated_at = ? WHERE id = ?`,
		string(metaJSON), time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job pipeline %s", jobID)
	}
	return requireRow(res, jobID)
}

func (s *SQLiteStore) UpsertResult(ctx context.Context, result *model.JobResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal result")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO job_results (job_id, data, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (job_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		result.JobID, string(data), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: upsert result %s", result.JobID)
}

func (s *SQLiteStore) GetResult(ctx context.Context, jobID string) (*model.JobResult, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM job_results WHERE job_id = ?`, jobID,
	).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get result %s", jobID)
	}

	var result model.JobResult
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal result")
	}
	result.JobID = jobID
	return &result, nil
}

func (s *SQLiteStore) AppendEvent(ctx context.Context, event model.JobEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	var fieldsJSON any
	if len(event.Fields) > 0 {
		b, err := json.Marshal(event.Fields)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal event fields")
		}
		fieldsJSON = string(b)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_events (id, job_id, stage, level, message, fields, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.JobID, event.Stage, event.Level, event.Message, fieldsJSON, event.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: append event for %s", event.JobID)
}

func (s *SQLiteStore) ListEvents(ctx context.Context, jobID string, limit int) ([]model.JobEvent, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, stage, level, message, fields, created_at
		 FROM job_events WHERE job_id = ? ORDER BY created_at ASC LIMIT ?`,
		jobID, limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list events %s", jobID)
	}
	defer rows.Close()

	var events []model.JobEvent
	for rows.Next() {
		var e model.JobEvent
		var fieldsJSON sql.NullString
		if err := rows.Scan(&e.ID, &e.JobID, &e.Stage, &e.Level, &e.Message, &fieldsJSON, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan event")
		}
		if fieldsJSON.Valid && fieldsJSON.String != "" {
			if err := json.Unmarshal([]byte(fieldsJSON.String), &e.Fields); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal event fields")
			}
		}
		events = append(events, e)
	}
	return events, eris.Wrap(rows.Err(), "sqlite: list events iterate")
}

func requireRow(res sql.Result, jobID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("job not found: %s", jobID)
	}
	return nil
}
