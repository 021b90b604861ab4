package pipeline

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirkored-07/tenderpilot/internal/config"
	"github.com/mirkored-07/tenderpilot/internal/cost"
	"github.com/mirkored-07/tenderpilot/internal/evidence"
	"github.com/mirkored-07/tenderpilot/internal/model"
	"github.com/mirkored-07/tenderpilot/pkg/docstruct"
)

const sampleAnchoredText = `[PAGE 1]
[SECTION 1 – Scope]
The municipality tenders the construction of a fiber network.

[PAGE 12]
[SECTION 5 – Submission requirements]
[SECTION 5.4 – Submission deadline]
5.4 Bids must be submitted no later than 14/05/2026 at 12:00 CET.
A bid security of EUR 50,000 shall accompany the offer.
`

func testPipelineConfig() config.PipelineConfig {
	return config.PipelineConfig{
		MaxInputChars:        180000,
		MaxOutputTokens:      8192,
		MaxUSDPerJob:         0.90,
		MaxExtractionPolls:   40,
		MaxExtractionMinutes: 30,
		MaxReasoningAttempts: 3,
		CooldownSecs:         45,
		LockTTLSecs:          300,
	}
}

type runnerEnv struct {
	store     *fakeStore
	objstore  *fakeObjstore
	docstruct *fakeDocstruct
	llm       *fakeLLM
	runner    *Runner
	nowValue  time.Time
}

func newRunnerEnv(t *testing.T, cfg config.PipelineConfig) *runnerEnv {
	t.Helper()
	env := &runnerEnv{
		store:     newFakeStore(),
		objstore:  &fakeObjstore{data: []byte("%PDF-1.4 fake")},
		docstruct: &fakeDocstruct{statuses: []string{docstruct.JobCompleted}},
		llm:       &fakeLLM{payload: reviewPayload("E001")},
		nowValue:  time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
	}
	pricing := config.PricingConfig{Anthropic: config.DefaultPricing()}
	env.runner = NewRunner(
		env.store, env.objstore, env.docstruct, env.llm,
		cost.NewGuard(pricing, cfg),
		evidence.NewBuilder(config.EvidenceConfig{}),
		cfg, "claude-sonnet-4-5-20250929",
	)
	env.runner.now = func() time.Time { return env.nowValue }
	return env
}

func (env *runnerEnv) queueJob(status model.JobStatus) *model.Job {
	job := &model.Job{
		ID:             "job-1",
		UserID:         "user-1",
		Filename:       "tender.pdf",
		StoragePointer: "gs://bucket/tender.pdf",
		SourceType:     model.SourcePDF,
		Status:         status,
	}
	env.store.put(job)
	return job
}

func reviewPayload(evidenceID string) string {
	return fmt.Sprintf(`{
		"summary": "Municipal fiber construction tender with a hard May 2026 deadline.",
		"top_risks": [{"title": "Hard submission deadline", "evidence_ids": [%q]}],
		"checklist": [
			{"class": "MUST", "text": "Submit bid by 14/05/2026 12:00 CET", "evidence_ids": [%q]},
			{"class": "MUST", "text": "Provide ISO 9001 certificate", "evidence_ids": []}
		],
		"risks": [
			{"title": "Bid security", "severity": "medium", "detail": "EUR 50,000 security required", "evidence_ids": [%q]},
			{"title": "Penalty regime", "severity": "high", "detail": "Possible delay penalties", "evidence_ids": ["E999"]}
		],
		"buyer_questions": ["Is electronic submission accepted?"],
		"draft_outline": ["1. Executive summary", "2. Compliance matrix"]
	}`, evidenceID, evidenceID, evidenceID)
}

func TestAdvanceTerminalJobMakesNoExternalCalls(t *testing.T) {
	for _, status := range []model.JobStatus{model.JobStatusDone, model.JobStatusFailed} {
		t.Run(string(status), func(t *testing.T) {
			env := newRunnerEnv(t, testPipelineConfig())
			env.queueJob(status)

			step, err := env.runner.Advance(context.Background(), "job-1")
			require.NoError(t, err)
			if status == model.JobStatusDone {
				assert.Equal(t, model.StepDone, step)
			} else {
				assert.Equal(t, model.StepFailed, step)
			}
			assert.Zero(t, env.objstore.downloads)
			assert.Zero(t, env.docstruct.submits)
			assert.Zero(t, env.docstruct.polls)
			assert.Zero(t, env.llm.calls)
		})
	}
}

func TestAdvanceUnknownJob(t *testing.T) {
	env := newRunnerEnv(t, testPipelineConfig())
	_, err := env.runner.Advance(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestClaimLoserExitsWithoutWork(t *testing.T) {
	env := newRunnerEnv(t, testPipelineConfig())
	env.queueJob(model.JobStatusQueued)
	env.store.claimHook = func(string) (bool, bool) { return true, false }

	step, err := env.runner.Advance(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.StepAlreadyClaimed, step)
	assert.Zero(t, env.objstore.downloads)
	assert.Zero(t, env.docstruct.submits)
}

func TestExtractionSubmitThenPollThenReady(t *testing.T) {
	env := newRunnerEnv(t, testPipelineConfig())
	env.queueJob(model.JobStatusQueued)
	env.docstruct.statuses = []string{docstruct.JobRunning, docstruct.JobCompleted}
	env.docstruct.elements = []docstruct.Element{
		{Type: "Title", Text: "5. Submission requirements", Metadata: docstruct.ElementMetadata{PageNumber: 12}},
		{Type: "NarrativeText", Text: "5.4 Bids must be submitted no later than 14/05/2026 at 12:00 CET.", Metadata: docstruct.ElementMetadata{PageNumber: 12}},
	}

	ctx := context.Background()

	// First invocation: claim + submit.
	step, err := env.runner.Advance(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.StepUnstructuredSubmitted, step)
	assert.Equal(t, 1, env.docstruct.submits)
	assert.Equal(t, 1, env.objstore.downloads)

	result, err := env.store.GetResult(ctx, "job-1")
	require.NoError(t, err)
	pending, _, err := DecodeExtraction(result.ExtractedText)
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, "ext-1", pending.ExternalJobID)

	// Second invocation: one poll, still running.
	step, err = env.runner.Advance(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.StepUnstructuredPolling, step)
	assert.Equal(t, 1, env.docstruct.polls)

	result, _ = env.store.GetResult(ctx, "job-1")
	pending, _, _ = DecodeExtraction(result.ExtractedText)
	assert.Equal(t, 1, pending.PollCount)

	// Third invocation: completed, anchored text persisted.
	step, err = env.runner.Advance(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.StepExtractedScheduled, step)

	result, _ = env.store.GetResult(ctx, "job-1")
	_, text, err := DecodeExtraction(result.ExtractedText)
	require.NoError(t, err)
	assert.Contains(t, text, "[PAGE 12]")
	assert.Contains(t, text, "[SECTION 5.4")
	assert.Contains(t, text, "14/05/2026")

	// No re-submission happened.
	assert.Equal(t, 1, env.docstruct.submits)
}

func TestExtractionPollBudgetExhausted(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.MaxExtractionPolls = 2
	env := newRunnerEnv(t, cfg)
	env.queueJob(model.JobStatusProcessing)

	require.NoError(t, env.store.UpsertResult(context.Background(), &model.JobResult{
		JobID: "job-1",
		ExtractedText: EncodePending(PendingExtraction{
			ExternalJobID: "ext-1",
			PollCount:     2,
			SubmittedAt:   env.nowValue.Add(-time.Minute),
		}),
	}))

	step, err := env.runner.Advance(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.StepFailed, step)
	assert.Zero(t, env.docstruct.polls)

	job, _ := env.store.GetJob(context.Background(), "job-1")
	assert.Equal(t, model.JobStatusFailed, job.Status)
	assert.Contains(t, job.Pipeline.LastError, "polls")
}

func TestExtractionWallClockBudgetExhausted(t *testing.T) {
	env := newRunnerEnv(t, testPipelineConfig())
	env.queueJob(model.JobStatusProcessing)

	require.NoError(t, env.store.UpsertResult(context.Background(), &model.JobResult{
		JobID: "job-1",
		ExtractedText: EncodePending(PendingExtraction{
			ExternalJobID: "ext-1",
			SubmittedAt:   env.nowValue.Add(-31 * time.Minute),
		}),
	}))

	step, err := env.runner.Advance(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.StepFailed, step)
	assert.Zero(t, env.docstruct.polls)
}

func TestReasoningProducesGroundedReview(t *testing.T) {
	env := newRunnerEnv(t, testPipelineConfig())
	env.queueJob(model.JobStatusProcessing)
	ctx := context.Background()

	require.NoError(t, env.store.UpsertResult(ctx, &model.JobResult{
		JobID:         "job-1",
		ExtractedText: sampleAnchoredText,
	}))

	step, err := env.runner.Advance(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.StepDone, step)
	assert.Equal(t, 1, env.llm.calls)

	job, _ := env.store.GetJob(ctx, "job-1")
	assert.Equal(t, model.JobStatusDone, job.Status)
	assert.False(t, job.Pipeline.InProgress)
	require.NotNil(t, job.Pipeline.FinishedAt)

	result, _ := env.store.GetResult(ctx, "job-1")
	require.True(t, result.Finalized())
	assert.NotEmpty(t, result.Evidence)

	// Cited MUST item carries the literal deadline excerpt.
	var deadline *model.ChecklistItem
	var manual *model.ChecklistItem
	for i := range result.Checklist {
		item := &result.Checklist[i]
		if strings.Contains(item.Text, "14/05/2026") {
			deadline = item
		}
		if strings.Contains(item.Text, "ISO 9001") {
			manual = item
		}
	}
	require.NotNil(t, deadline)
	assert.Equal(t, model.ClassMust, deadline.Class)
	assert.Contains(t, deadline.Source, "14/05/2026")

	// Uncited MUST item was demoted, not dropped.
	require.NotNil(t, manual)
	assert.Equal(t, model.ClassInfo, manual.Class)
	assert.True(t, strings.HasPrefix(manual.Text, "Manual check: "))
	assert.Equal(t, model.SourceNotFound, manual.Source)

	// Risk citing an unknown id became a buyer question.
	require.Len(t, result.Risks, 1)
	assert.Equal(t, "Bid security", result.Risks[0].Title)
	joined := strings.Join(result.BuyerQuestions, "\n")
	assert.Contains(t, joined, "Manual check: Penalty regime")

	require.NotNil(t, result.Cost)
	assert.Equal(t, int64(1000), result.Cost.InputTokens)
	assert.Positive(t, result.Cost.ActualUSD)
}

func TestCostCapFailsBeforeModelCall(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.MaxUSDPerJob = 0.0001
	env := newRunnerEnv(t, cfg)
	env.queueJob(model.JobStatusProcessing)
	ctx := context.Background()

	require.NoError(t, env.store.UpsertResult(ctx, &model.JobResult{
		JobID:         "job-1",
		ExtractedText: sampleAnchoredText,
	}))

	step, err := env.runner.Advance(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.StepFailed, step)
	assert.Zero(t, env.llm.calls)

	job, _ := env.store.GetJob(ctx, "job-1")
	assert.Equal(t, model.JobStatusFailed, job.Status)
	assert.Contains(t, job.Pipeline.LastError, "cost")
}

func TestReasoningSoftLockAndCooldown(t *testing.T) {
	env := newRunnerEnv(t, testPipelineConfig())
	env.queueJob(model.JobStatusProcessing)
	ctx := context.Background()

	require.NoError(t, env.store.UpsertResult(ctx, &model.JobResult{
		JobID:         "job-1",
		ExtractedText: sampleAnchoredText,
	}))

	recent := env.nowValue.Add(-10 * time.Second)

	t.Run("fresh lock held elsewhere", func(t *testing.T) {
		require.NoError(t, env.store.UpdateJobPipeline(ctx, "job-1", model.PipelineMeta{
			Attempts: 1, InProgress: true, LastAttemptAt: &recent,
		}))
		step, err := env.runner.Advance(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, model.StepReasoningInProgress, step)
		assert.Zero(t, env.llm.calls)
	})

	t.Run("cooldown after released attempt", func(t *testing.T) {
		require.NoError(t, env.store.UpdateJobPipeline(ctx, "job-1", model.PipelineMeta{
			Attempts: 1, InProgress: false, LastAttemptAt: &recent,
		}))
		step, err := env.runner.Advance(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, model.StepCooldown, step)
		assert.Zero(t, env.llm.calls)
	})

	t.Run("stale lock is reclaimed", func(t *testing.T) {
		stale := env.nowValue.Add(-10 * time.Minute)
		require.NoError(t, env.store.UpdateJobPipeline(ctx, "job-1", model.PipelineMeta{
			Attempts: 1, InProgress: true, LastAttemptAt: &stale,
		}))
		step, err := env.runner.Advance(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, model.StepDone, step)
		assert.Equal(t, 1, env.llm.calls)
	})
}

func TestReasoningAttemptCap(t *testing.T) {
	env := newRunnerEnv(t, testPipelineConfig())
	env.queueJob(model.JobStatusProcessing)
	ctx := context.Background()

	require.NoError(t, env.store.UpsertResult(ctx, &model.JobResult{
		JobID:         "job-1",
		ExtractedText: sampleAnchoredText,
	}))
	old := env.nowValue.Add(-time.Hour)
	require.NoError(t, env.store.UpdateJobPipeline(ctx, "job-1", model.PipelineMeta{
		Attempts: 3, LastAttemptAt: &old,
	}))

	step, err := env.runner.Advance(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.StepFailed, step)
	assert.Zero(t, env.llm.calls)
}

func TestReasoningTransientFailureSpendsAttempt(t *testing.T) {
	env := newRunnerEnv(t, testPipelineConfig())
	env.queueJob(model.JobStatusProcessing)
	ctx := context.Background()

	require.NoError(t, env.store.UpsertResult(ctx, &model.JobResult{
		JobID:         "job-1",
		ExtractedText: sampleAnchoredText,
	}))
	env.llm.payload = "this is not JSON"

	step, err := env.runner.Advance(ctx, "job-1")
	require.Error(t, err)
	assert.Equal(t, model.StepCooldown, step)

	job, _ := env.store.GetJob(ctx, "job-1")
	assert.Equal(t, model.JobStatusProcessing, job.Status)
	assert.Equal(t, 1, job.Pipeline.Attempts)
	assert.False(t, job.Pipeline.InProgress)
	assert.NotEmpty(t, job.Pipeline.LastError)

	// Immediate re-invocation hits the cooldown, not the model.
	env.llm.calls = 0
	step, err = env.runner.Advance(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.StepCooldown, step)
	assert.Zero(t, env.llm.calls)
}

func TestReasoningRepairsLostDoneStatus(t *testing.T) {
	env := newRunnerEnv(t, testPipelineConfig())
	env.queueJob(model.JobStatusProcessing)
	ctx := context.Background()

	require.NoError(t, env.store.UpsertResult(ctx, &model.JobResult{
		JobID:         "job-1",
		ExtractedText: sampleAnchoredText,
		Summary:       "Already finalized.",
		Checklist:     []model.ChecklistItem{{Class: model.ClassInfo, Text: "done"}},
	}))

	step, err := env.runner.Advance(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.StepDone, step)
	assert.Zero(t, env.llm.calls)

	job, _ := env.store.GetJob(ctx, "job-1")
	assert.Equal(t, model.JobStatusDone, job.Status)
}

func TestMockPipelineEndToEnd(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.MockExtraction = true
	cfg.MockAI = true
	env := newRunnerEnv(t, cfg)
	env.queueJob(model.JobStatusQueued)
	ctx := context.Background()

	step, err := env.runner.Advance(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.StepExtractedScheduled, step)
	assert.Zero(t, env.docstruct.submits)

	step, err = env.runner.Advance(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.StepDone, step)
	assert.Zero(t, env.llm.calls)

	result, _ := env.store.GetResult(ctx, "job-1")
	assert.True(t, result.Finalized())
}
