package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"

	"github.com/mirkored-07/tenderpilot/internal/model"
)

func TestReviewWorkflowLoopsUntilTerminal(t *testing.T) {
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()

	a := &Activities{}
	env.RegisterActivity(a)

	steps := []model.StepStatus{
		model.StepUnstructuredSubmitted,
		model.StepUnstructuredPolling,
		model.StepExtractedScheduled,
		model.StepDone,
	}
	call := 0
	env.OnActivity(a.Advance, mock.Anything, "job-1").Return(
		func(_ context.Context, _ string) (model.StepStatus, error) {
			step := steps[call]
			if call < len(steps)-1 {
				call++
			}
			return step, nil
		})

	env.ExecuteWorkflow(ReviewWorkflow, ReviewWorkflowInput{
		JobID:         "job-1",
		RetryInterval: 5 * time.Second,
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var final model.StepStatus
	require.NoError(t, env.GetWorkflowResult(&final))
	assert.Equal(t, model.StepDone, final)
	assert.Equal(t, len(steps)-1, call)
}

func TestReviewWorkflowStopsOnFailure(t *testing.T) {
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()

	a := &Activities{}
	env.RegisterActivity(a)
	env.OnActivity(a.Advance, mock.Anything, "job-2").Return(model.StepFailed, nil)

	env.ExecuteWorkflow(ReviewWorkflow, ReviewWorkflowInput{JobID: "job-2"})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var final model.StepStatus
	require.NoError(t, env.GetWorkflowResult(&final))
	assert.Equal(t, model.StepFailed, final)
}
