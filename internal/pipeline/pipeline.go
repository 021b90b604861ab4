// Package pipeline drives one review job through extraction and reasoning.
// Each Advance call performs at most one unit of external work and returns a
// step status; callers re-invoke until the status is terminal. All
// coordination state lives in the store, never in memory.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/mirkored-07/tenderpilot/internal/config"
	"github.com/mirkored-07/tenderpilot/internal/cost"
	"github.com/mirkored-07/tenderpilot/internal/events"
	"github.com/mirkored-07/tenderpilot/internal/evidence"
	"github.com/mirkored-07/tenderpilot/internal/model"
	"github.com/mirkored-07/tenderpilot/internal/store"
	"github.com/mirkored-07/tenderpilot/pkg/anthropic"
	"github.com/mirkored-07/tenderpilot/pkg/docstruct"
	"github.com/mirkored-07/tenderpilot/pkg/objstore"
)

// ErrJobNotFound reports an Advance call for a job id that does not exist.
// Callers treat it as an input error, not a pipeline fault.
var ErrJobNotFound = eris.New("pipeline: job not found")

// Runner advances review jobs. Safe for concurrent use; concurrent Advance
// calls on the same job are serialized by the store's claim and soft lock.
type Runner struct {
	store     store.Store
	events    *events.Recorder
	objstore  objstore.Downloader
	docstruct docstruct.Client
	llm       anthropic.Client
	guard     *cost.Guard
	builder   *evidence.Builder
	cfg       config.PipelineConfig
	model     string
	now       func() time.Time
}

// NewRunner wires a Runner from its collaborators.
func NewRunner(
	s store.Store,
	obj objstore.Downloader,
	doc docstruct.Client,
	llm anthropic.Client,
	guard *cost.Guard,
	builder *evidence.Builder,
	cfg config.PipelineConfig,
	llmModel string,
) *Runner {
	return &Runner{
		store:     s,
		events:    events.NewRecorder(s),
		objstore:  obj,
		docstruct: doc,
		llm:       llm,
		guard:     guard,
		builder:   builder,
		cfg:       cfg,
		model:     llmModel,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Advance performs one pipeline step for the job and returns the step status.
// Terminal jobs return immediately without touching any external service.
func (r *Runner) Advance(ctx context.Context, jobID string) (model.StepStatus, error) {
	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		return "", eris.Wrapf(err, "pipeline: load job %s", jobID)
	}
	if job == nil {
		return "", eris.Wrapf(ErrJobNotFound, "job %s", jobID)
	}

	switch job.Status {
	case model.JobStatusDone:
		return model.StepDone, nil
	case model.JobStatusFailed:
		return model.StepFailed, nil
	case model.JobStatusQueued:
		claimed, err := r.store.ClaimJob(ctx, jobID)
		if err != nil {
			return "", eris.Wrapf(err, "pipeline: claim job %s", jobID)
		}
		if !claimed {
			return model.StepAlreadyClaimed, nil
		}
		job.Status = model.JobStatusProcessing
	}

	result, err := r.store.GetResult(ctx, jobID)
	if err != nil {
		return "", eris.Wrapf(err, "pipeline: load result %s", jobID)
	}
	if result == nil {
		result = &model.JobResult{JobID: jobID}
	}

	pending, text, err := DecodeExtraction(result.ExtractedText)
	if err != nil {
		// An undecodable marker cannot be resumed; the job is stuck.
		return r.fail(ctx, job, "extraction", eris.Wrap(err, "undecodable extraction marker"))
	}

	if text == "" {
		return r.advanceExtraction(ctx, job, result, pending)
	}
	return r.advanceReasoning(ctx, job, result, text)
}

// fail marks the job permanently failed and records why. Failure writes are
// best-effort ordered: status first, then bookkeeping.
func (r *Runner) fail(ctx context.Context, job *model.Job, stage string, cause error) (model.StepStatus, error) {
	zap.L().Error("job failed",
		zap.String("job_id", job.ID),
		zap.String("stage", stage),
		zap.Error(cause),
	)

	if err := r.store.UpdateJobStatus(ctx, job.ID, model.JobStatusFailed); err != nil {
		return "", eris.Wrapf(err, "pipeline: mark job %s failed", job.ID)
	}

	now := r.now()
	meta := job.Pipeline
	meta.InProgress = false
	meta.FinishedAt = &now
	meta.LastError = cause.Error()
	if err := r.store.UpdateJobPipeline(ctx, job.ID, meta); err != nil {
		zap.L().Warn("failed to persist pipeline meta on failure",
			zap.String("job_id", job.ID), zap.Error(err))
	}

	r.events.Error(ctx, job.ID, stage, "job failed", map[string]any{"error": cause.Error()})
	return model.StepFailed, nil
}
