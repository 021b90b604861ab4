// Package store persists jobs, results and events. The durable job record
// and its result record are the only shared mutable state in the pipeline;
// every stage write is a single idempotent update or upsert.
package store

import (
	"context"

	"github.com/mirkored-07/tenderpilot/internal/model"
)

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	Status model.JobStatus `json:"status,omitempty"`
	UserID string          `json:"user_id,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// NewJob carries the fields the upload collaborator provides when creating
// a queued job.
type NewJob struct {
	UserID         string
	Filename       string
	StoragePointer string
	SourceType     model.SourceType
}

// Store defines the persistence interface for the review pipeline.
type Store interface {
	// Jobs
	CreateJob(ctx context.Context, in NewJob) (*model.Job, error)
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error)

	// ClaimJob transitions queued -> processing conditioned on the status
	// still being queued. Returns false when another invocation won the
	// claim; callers must then exit without mutating the job.
	ClaimJob(ctx context.Context, jobID string) (bool, error)

	UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus) error
	UpdateJobPipeline(ctx context.Context, jobID string, meta model.PipelineMeta) error

	// Results
	UpsertResult(ctx context.Context, result *model.JobResult) error
	GetResult(ctx context.Context, jobID string) (*model.JobResult, error)

	// Events
	AppendEvent(ctx context.Context, event model.JobEvent) error
	ListEvents(ctx context.Context, jobID string, limit int) ([]model.JobEvent, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
