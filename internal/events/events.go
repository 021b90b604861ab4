// Package events records per-job progress entries. Entries are appended to
// the store for user-visible history and mirrored to the process log; a
// failed append never fails the pipeline step that produced it.
package events

import (
	"context"

	"go.uber.org/zap"

	"github.com/mirkored-07/tenderpilot/internal/model"
	"github.com/mirkored-07/tenderpilot/internal/store"
)

// Recorder writes job events.
type Recorder struct {
	store store.Store
}

// NewRecorder creates a Recorder backed by the given store.
func NewRecorder(s store.Store) *Recorder {
	return &Recorder{store: s}
}

// Info records an informational event for a job stage.
func (r *Recorder) Info(ctx context.Context, jobID, stage, message string, fields map[string]any) {
	r.record(ctx, jobID, stage, "info", message, fields)
}

// Warn records a warning event for a job stage.
func (r *Recorder) Warn(ctx context.Context, jobID, stage, message string, fields map[string]any) {
	r.record(ctx, jobID, stage, "warn", message, fields)
}

// Error records an error event for a job stage.
func (r *Recorder) Error(ctx context.Context, jobID, stage, message string, fields map[string]any) {
	r.record(ctx, jobID, stage, "error", message, fields)
}

func (r *Recorder) record(ctx context.Context, jobID, stage, level, message string, fields map[string]any) {
	zapFields := []zap.Field{
		zap.String("job_id", jobID),
		zap.String("stage", stage),
	}
	for k, v := range fields {
		zapFields = append(zapFields, zap.Any(k, v))
	}
	switch level {
	case "error":
		zap.L().Error(message, zapFields...)
	case "warn":
		zap.L().Warn(message, zapFields...)
	default:
		zap.L().Info(message, zapFields...)
	}

	err := r.store.AppendEvent(ctx, model.JobEvent{
		JobID:   jobID,
		Stage:   stage,
		Level:   level,
		Message: message,
		Fields:  fields,
	})
	if err != nil {
		// History is best-effort; the authoritative state is the job row.
		zap.L().Warn("event append failed", zap.String("job_id", jobID), zap.Error(err))
	}
}
