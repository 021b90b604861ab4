package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"

	"github.com/mirkored-07/tenderpilot/internal/anchor"
	"github.com/mirkored-07/tenderpilot/internal/model"
	"github.com/mirkored-07/tenderpilot/pkg/docstruct"
)

// advanceExtraction performs one extraction step: submit the document when no
// marker exists, otherwise poll the structuring service exactly once.
func (r *Runner) advanceExtraction(ctx context.Context, job *model.Job, result *model.JobResult, pending *PendingExtraction) (model.StepStatus, error) {
	if pending == nil {
		return r.submitExtraction(ctx, job, result)
	}
	return r.pollExtraction(ctx, job, result, pending)
}

func (r *Runner) submitExtraction(ctx context.Context, job *model.Job, result *model.JobResult) (model.StepStatus, error) {
	if r.cfg.MockExtraction {
		result.ExtractedText = mockAnchoredText(job.Filename)
		if err := r.store.UpsertResult(ctx, result); err != nil {
			return "", eris.Wrapf(err, "pipeline: persist mock extraction %s", job.ID)
		}
		r.events.Info(ctx, job.ID, "extraction", "mock extraction complete", nil)
		return model.StepExtractedScheduled, nil
	}

	data, err := r.objstore.Download(ctx, job.StoragePointer)
	if err != nil {
		return r.fail(ctx, job, "extraction", eris.Wrap(err, "download document"))
	}

	resp, err := r.docstruct.Submit(ctx, docstruct.SubmitRequest{
		Filename:    job.Filename,
		ContentType: job.SourceType.ContentType(),
		Data:        data,
	})
	if err != nil {
		return r.fail(ctx, job, "extraction", eris.Wrap(err, "submit to structuring service"))
	}

	result.ExtractedText = EncodePending(PendingExtraction{
		ExternalJobID:  resp.JobID,
		ExternalFileID: resp.FileID,
		SubmittedAt:    r.now(),
	})
	if err := r.store.UpsertResult(ctx, result); err != nil {
		return "", eris.Wrapf(err, "pipeline: persist pending marker %s", job.ID)
	}

	r.events.Info(ctx, job.ID, "extraction", "submitted to structuring service", map[string]any{
		"external_job_id": resp.JobID,
	})
	return model.StepUnstructuredSubmitted, nil
}

// pollExtraction checks the structuring job once. Budget exhaustion is a
// permanent failure: a service that has not finished after the poll or
// wall-clock cap is treated as never finishing.
func (r *Runner) pollExtraction(ctx context.Context, job *model.Job, result *model.JobResult, pending *PendingExtraction) (model.StepStatus, error) {
	if r.cfg.MaxExtractionPolls > 0 && pending.PollCount >= r.cfg.MaxExtractionPolls {
		return r.fail(ctx, job, "extraction",
			eris.Errorf("extraction exceeded %d polls", r.cfg.MaxExtractionPolls))
	}
	if r.cfg.MaxExtractionMinutes > 0 && !pending.SubmittedAt.IsZero() {
		deadline := pending.SubmittedAt.Add(time.Duration(r.cfg.MaxExtractionMinutes) * time.Minute)
		if r.now().After(deadline) {
			return r.fail(ctx, job, "extraction",
				eris.Errorf("extraction exceeded %d minute budget", r.cfg.MaxExtractionMinutes))
		}
	}

	status, err := r.docstruct.Poll(ctx, pending.ExternalJobID)
	if err != nil {
		// Transient service trouble; the marker stays put and the next
		// invocation polls again against the same budget.
		pending.PollCount++
		result.ExtractedText = EncodePending(*pending)
		if perr := r.store.UpsertResult(ctx, result); perr != nil {
			return "", eris.Wrapf(perr, "pipeline: persist poll count %s", job.ID)
		}
		r.events.Warn(ctx, job.ID, "extraction", "poll failed", map[string]any{
			"error":      err.Error(),
			"poll_count": pending.PollCount,
		})
		return model.StepUnstructuredPolling, nil
	}

	switch status.Status {
	case docstruct.JobCompleted:
		elements, err := r.docstruct.Elements(ctx, pending.ExternalJobID)
		if err != nil {
			return r.fail(ctx, job, "extraction", eris.Wrap(err, "download elements"))
		}
		result.ExtractedText = anchor.Build(toAnchorElements(elements))
		if err := r.store.UpsertResult(ctx, result); err != nil {
			return "", eris.Wrapf(err, "pipeline: persist extracted text %s", job.ID)
		}
		r.events.Info(ctx, job.ID, "extraction", "extraction complete", map[string]any{
			"elements": len(elements),
			"chars":    len(result.ExtractedText),
		})
		return model.StepExtractedScheduled, nil

	case docstruct.JobFailed:
		return r.fail(ctx, job, "extraction",
			eris.Errorf("structuring service failed: %s", status.Error))

	default:
		pending.PollCount++
		result.ExtractedText = EncodePending(*pending)
		if err := r.store.UpsertResult(ctx, result); err != nil {
			return "", eris.Wrapf(err, "pipeline: persist poll count %s", job.ID)
		}
		r.events.Info(ctx, job.ID, "extraction", "still processing", map[string]any{
			"poll_count": pending.PollCount,
			"status":     status.Status,
		})
		return model.StepUnstructuredPolling, nil
	}
}

func toAnchorElements(elements []docstruct.Element) []anchor.Element {
	out := make([]anchor.Element, len(elements))
	for i, el := range elements {
		out[i] = anchor.Element{
			Text:     el.Text,
			Page:     el.Metadata.PageNumber,
			Category: el.Type,
		}
	}
	return out
}

// mockAnchoredText produces a small anchored document for local development
// without object storage or the structuring service.
func mockAnchoredText(filename string) string {
	return fmt.Sprintf(`[PAGE 1]
[SECTION 1 – Introduction]
This tender concerns %s.

[SECTION 5 – Submission]
[SECTION 5.4 – Submission deadline]
5.4 Bids must be submitted no later than 14/05/2026 at 12:00 CET.
A bid security of EUR 50,000 shall accompany the offer.
`, filename)
}
