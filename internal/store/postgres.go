package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/mirkored-07/tenderpilot/internal/db"
	"github.com/mirkored-07/tenderpilot/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	user_id         TEXT NOT NULL,
	filename        TEXT NOT NULL,
	storage_pointer TEXT NOT NULL,
	source_type     TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'queued',
	pipeline        JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS job_results (
	job_id     TEXT PRIMARY KEY REFERENCES jobs(id),
	data       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS job_events (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	job_id     TEXT NOT NULL REFERENCES jobs(id),
	stage      TEXT NOT NULL,
	level      TEXT NOT NULL,
	message    TEXT NOT NULL,
	fields     JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_user_id ON jobs(user_id);
CREATE INDEX IF NOT EXISTS idx_job_events_job_id ON job_events(job_id, created_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, in NewJob) (*model.Job, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, user_id, filename, storage_pointer, source_type, status, pipeline, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		id, in.UserID, in.Filename, in.StoragePointer, string(in.SourceType),
		string(model.JobStatusQueued), []byte(`{}`), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert job")
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

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	var j model.Job
	var pipelineJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, filename, storage_pointer, source_type, status, pipeline, created_at, updated_at
		 FROM jobs WHERE id = $1`,
		jobID,
	).Scan(&j.ID, &j.UserID, &j.Filename, &j.StoragePointer, &j.SourceType,
		&j.Status, &pipelineJSON, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get job %s", jobID)
	}

	if len(pipelineJSON) > 0 {
		if err := json.Unmarshal(pipelineJSON, &j.Pipeline); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal pipeline meta")
		}
	}
	return &j, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT id, user_id, filename, storage_pointer, source_type, status, pipeline, created_at, updated_at
	          FROM jobs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.UserID != "" {
		query += fmt.Sprintf(` AND user_id = $%d`, argIdx)
		args = append(args, filter.UserID)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		var j model.Job
		var pipelineJSON []byte
		if err := rows.Scan(&j.ID, &j.UserID, &j.Filename, &j.StoragePointer, &j.SourceType,
			&j.Status, &pipelineJSON, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		if len(pipelineJSON) > 0 {
			if err := json.Unmarshal(pipelineJSON, &j.Pipeline); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal pipeline meta")
			}
		}
		jobs = append(jobs, j)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

// ClaimJob performs the compare-and-swap claim: the conditional WHERE means
// at most one invocation observes RowsAffected == 1 for a queued job.
func (s *PostgresStore) ClaimJob(ctx context.Context, jobID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		string(model.JobStatusProcessing), time.Now().UTC(), jobID, string(model.JobStatusQueued),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: claim job %s", jobID)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job status %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("job not found: %s", jobID)
	}
	return nil
}

func (s *PostgresStore) UpdateJobPipeline(ctx context.Context, jobID string, meta model.PipelineMeta) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal pipeline meta")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET pipeline = $1, updated_at = $2 WHERE id = $3`,
		metaJSON, time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job pipeline %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("job not found: %s", jobID)
	}
	return nil
}

func (s *PostgresStore) UpsertResult(ctx context.Context, result *model.JobResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal result")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO job_results (job_id, data, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (job_id) DO UPDATE SET data = $2, updated_at = $3`,
		result.JobID, data, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: upsert result %s", result.JobID)
}

func (s *PostgresStore) GetResult(ctx context.Context, jobID string) (*model.JobResult, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM job_results WHERE job_id = $1`,
		jobID,
	).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get result %s", jobID)
	}

	var result model.JobResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal result")
	}
	result.JobID = jobID
	return &result, nil
}

func (s *PostgresStore) AppendEvent(ctx context.Context, event model.JobEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	var fieldsJSON []byte
	if len(event.Fields) > 0 {
		var err error
		fieldsJSON, err = json.Marshal(event.Fields)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal event fields")
		}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO job_events (id, job_id, stage, level, message, fields, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.ID, event.JobID, event.Stage, event.Level, event.Message, fieldsJSON, event.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: append event for %s", event.JobID)
}

func (s *PostgresStore) ListEvents(ctx context.Context, jobID string, limit int) ([]model.JobEvent, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, job_id, stage, level, message, fields, created_at
		 FROM job_events WHERE job_id = $1 ORDER BY created_at ASC LIMIT $2`,
		jobID, limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list events %s", jobID)
	}
	defer rows.Close()

	var events []model.JobEvent
	for rows.Next() {
		var e model.JobEvent
		var fieldsJSON []byte
		if err := rows.Scan(&e.ID, &e.JobID, &e.Stage, &e.Level, &e.Message, &fieldsJSON, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan event")
		}
		if len(fieldsJSON) > 0 {
			if err := json.Unmarshal(fieldsJSON, &e.Fields); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal event fields")
			}
		}
		events = append(events, e)
	}
	return events, eris.Wrap(rows.Err(), "postgres: list events iterate")
}
