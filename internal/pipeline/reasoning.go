package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"

	"github.com/mirkored-07/tenderpilot/internal/cost"
	"github.com/mirkored-07/tenderpilot/internal/grounding"
	"github.com/mirkored-07/tenderpilot/internal/model"
	"github.com/mirkored-07/tenderpilot/pkg/anthropic"
)

// advanceReasoning performs one reasoning attempt under the soft lock.
// Lock, cooldown and attempt-cap checks all read the persisted pipeline meta;
// losing a race here costs at most one wasted model call.
func (r *Runner) advanceReasoning(ctx context.Context, job *model.Job, result *model.JobResult, text string) (model.StepStatus, error) {
	if result.Finalized() {
		// Reasoning finished but the status write was lost; repair it.
		if err := r.store.UpdateJobStatus(ctx, job.ID, model.JobStatusDone); err != nil {
			return "", eris.Wrapf(err, "pipeline: repair done status %s", job.ID)
		}
		return model.StepDone, nil
	}

	now := r.now()
	meta := job.Pipeline

	if meta.InProgress {
		ttl := time.Duration(r.cfg.LockTTLSecs) * time.Second
		if meta.LastAttemptAt != nil && now.Sub(*meta.LastAttemptAt) < ttl {
			return model.StepReasoningInProgress, nil
		}
		// Stale lock from a crashed invocation; fall through and reclaim.
	} else if meta.LastAttemptAt != nil {
		cooldown := time.Duration(r.cfg.CooldownSecs) * time.Second
		if now.Sub(*meta.LastAttemptAt) < cooldown {
			return model.StepCooldown, nil
		}
	}

	if r.cfg.MaxReasoningAttempts > 0 && meta.Attempts >= r.cfg.MaxReasoningAttempts {
		return r.fail(ctx, job, "reasoning",
			eris.Errorf("reasoning exceeded %d attempts", r.cfg.MaxReasoningAttempts))
	}

	// Acquire the soft lock before any model spend.
	meta.Attempts++
	meta.InProgress = true
	meta.LastAttemptAt = &now
	if meta.StartedAt == nil {
		meta.StartedAt = &now
	}
	if err := r.store.UpdateJobPipeline(ctx, job.ID, meta); err != nil {
		return "", eris.Wrapf(err, "pipeline: acquire reasoning lock %s", job.ID)
	}
	job.Pipeline = meta

	status, reasonErr := r.reason(ctx, job, result, text)
	if status == model.StepFailed {
		// fail() already released the lock and recorded the error.
		return status, reasonErr
	}

	meta.InProgress = false
	if reasonErr != nil {
		meta.LastError = reasonErr.Error()
	} else {
		meta.LastError = ""
		if status == model.StepDone {
			finished := r.now()
			meta.FinishedAt = &finished
		}
	}
	job.Pipeline = meta
	if err := r.store.UpdateJobPipeline(ctx, job.ID, meta); err != nil {
		return "", eris.Wrapf(err, "pipeline: release reasoning lock %s", job.ID)
	}

	if reasonErr != nil {
		r.events.Warn(ctx, job.ID, "reasoning", "attempt failed", map[string]any{
			"attempt": meta.Attempts,
			"error":   reasonErr.Error(),
		})
		// The attempt is spent; the cooldown gates the next one.
		return model.StepCooldown, reasonErr
	}
	return status, nil
}

// reason runs the reasoning attempt proper. Permanent failures (cost cap) are
// converted to a failed job inside; transient failures return an error for
// the caller to record against the attempt.
func (r *Runner) reason(ctx context.Context, job *model.Job, result *model.JobResult, text string) (model.StepStatus, error) {
	candidates := r.builder.Build(text)
	clipped := r.guard.Clip(text)

	estimate, err := r.guard.Check(r.model, len(clipped))
	if err != nil {
		if errors.Is(err, cost.ErrCostCapExceeded) {
			return r.fail(ctx, job, "reasoning", err)
		}
		return "", eris.Wrap(err, "cost check")
	}

	raw, usage, err := r.callModel(ctx, job, clipped, candidates)
	if err != nil {
		return "", err
	}

	validated := grounding.Validate(job.ID, *raw, candidates)

	result.Summary = validated.Summary
	result.TopRisks = validated.TopRisks
	result.Checklist = validated.Checklist
	result.Risks = validated.Risks
	result.BuyerQuestions = validated.BuyerQuestions
	result.DraftOutline = validated.DraftOutline
	result.Evidence = candidates
	result.Cost = &model.CostReport{
		Model:        r.model,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		EstimatedUSD: estimate.USD,
		ActualUSD:    r.guard.Actual(r.model, usage.InputTokens, usage.OutputTokens),
	}

	if err := r.store.UpsertResult(ctx, result); err != nil {
		return "", eris.Wrapf(err, "pipeline: persist review %s", job.ID)
	}
	if err := r.store.UpdateJobStatus(ctx, job.ID, model.JobStatusDone); err != nil {
		return "", eris.Wrapf(err, "pipeline: mark job %s done", job.ID)
	}

	r.events.Info(ctx, job.ID, "reasoning", "review complete", map[string]any{
		"checklist_items": len(result.Checklist),
		"risks":           len(result.Risks),
		"evidence":        len(candidates),
		"actual_usd":      result.Cost.ActualUSD,
	})
	return model.StepDone, nil
}

// callModel performs the single reasoning call and parses the structured
// output. Schema violations are transient: the next attempt re-prompts.
func (r *Runner) callModel(ctx context.Context, job *model.Job, clipped string, candidates []model.EvidenceCandidate) (*grounding.RawReview, anthropic.TokenUsage, error) {
	var usage anthropic.TokenUsage

	var payload string
	if r.cfg.MockAI {
		payload = mockReviewJSON(candidates)
	} else {
		resp, err := r.llm.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     r.model,
			MaxTokens: int64(r.cfg.MaxOutputTokens),
			System:    anthropic.BuildCachedSystemBlocks(reviewSystemPrompt),
			Messages: []anthropic.Message{
				{Role: "user", Content: buildUserPrompt(job.Filename, clipped, candidates)},
			},
		})
		if err != nil {
			return nil, usage, eris.Wrap(err, "reasoning call")
		}
		usage = resp.Usage
		usage.LogCost(r.model, "review")
		payload = resp.Text()
	}

	cleaned := cleanJSON(payload)

	var doc any
	if err := json.Unmarshal([]byte(cleaned), &doc); err != nil {
		return nil, usage, eris.Wrap(err, "parse review JSON")
	}
	if err := validateReviewJSON(doc); err != nil {
		return nil, usage, err
	}

	var raw grounding.RawReview
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, usage, eris.Wrap(err, "decode review JSON")
	}
	return &raw, usage, nil
}

// mockReviewJSON fabricates a grounded review citing the first candidates,
// for local runs with mock_ai enabled.
func mockReviewJSON(candidates []model.EvidenceCandidate) string {
	firstID := ""
	if len(candidates) > 0 {
		firstID = candidates[0].ID
	}
	mock := map[string]any{
		"summary": "Mock review generated without a model call.",
		"checklist": []map[string]any{
			{"class": "MUST", "text": "Submit before the stated deadline", "evidence_ids": []string{firstID}},
		},
		"risks": []map[string]any{
			{"title": "Tight timeline", "severity": "medium", "detail": "Deadline leaves little preparation time", "evidence_ids": []string{firstID}},
		},
		"top_risks":       []map[string]any{{"title": "Tight timeline", "evidence_ids": []string{firstID}}},
		"buyer_questions": []string{"Can the submission deadline be extended?"},
		"draft_outline":   []string{"1. Executive summary", "2. Compliance matrix", "3. Technical response"},
	}
	data, _ := json.Marshal(mock)
	return string(data)
}
