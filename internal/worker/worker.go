// Package worker drives job re-invocation through Temporal. The pipeline
// itself is a pure advance-one-step function; the workflow only supplies the
// cadence, sleeping between invocations until the step status is terminal.
package worker

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	sdkworker "go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/mirkored-07/tenderpilot/internal/config"
	"github.com/mirkored-07/tenderpilot/internal/model"
	"github.com/mirkored-07/tenderpilot/internal/pipeline"
)

// ReviewWorkflowInput parameterizes one review workflow run.
type ReviewWorkflowInput struct {
	JobID         string
	RetryInterval time.Duration
}

// Activities hosts the pipeline activity implementations.
type Activities struct {
	Runner *pipeline.Runner
}

// Advance performs one pipeline step for the job.
func (a *Activities) Advance(ctx context.Context, jobID string) (model.StepStatus, error) {
	return a.Runner.Advance(ctx, jobID)
}

// ReviewWorkflow re-invokes Advance until the job reaches a terminal step
// status. Non-terminal statuses (polling, cooldown, in progress) just mean
// "ask again later"; the workflow sleeps and loops.
func ReviewWorkflow(ctx workflow.Context, in ReviewWorkflowInput) (model.StepStatus, error) {
	interval := in.RetryInterval
	if interval <= 0 {
		interval = 20 * time.Second
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    5,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var a *Activities
	for {
		var step model.StepStatus
		if err := workflow.ExecuteActivity(ctx, a.Advance, in.JobID).Get(ctx, &step); err != nil {
			return "", eris.Wrapf(err, "worker: advance job %s", in.JobID)
		}
		if step.Terminal() {
			return step, nil
		}
		if err := workflow.Sleep(ctx, interval); err != nil {
			return "", eris.Wrap(err, "worker: sleep interrupted")
		}
	}
}

// Run registers the workflow and activities and blocks serving the task
// queue until the process is interrupted.
func Run(cfg config.WorkerConfig, runner *pipeline.Runner) error {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
	})
	if err != nil {
		return eris.Wrap(err, "worker: dial temporal")
	}
	defer c.Close()

	w := sdkworker.New(c, cfg.TaskQueue, sdkworker.Options{})
	w.RegisterWorkflow(ReviewWorkflow)
	w.RegisterActivity(&Activities{Runner: runner})

	if err := w.Run(sdkworker.InterruptCh()); err != nil {
		return eris.Wrap(err, "worker: run")
	}
	return nil
}

// StartReview launches (or re-attaches to) the review workflow for a job.
// The job id doubles as the workflow id, so duplicate starts are no-ops.
func StartReview(ctx context.Context, c client.Client, cfg config.WorkerConfig, jobID string) error {
	_, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        "review-" + jobID,
		TaskQueue: cfg.TaskQueue,
	}, ReviewWorkflow, ReviewWorkflowInput{
		JobID:         jobID,
		RetryInterval: time.Duration(cfg.RetryInterval) * time.Second,
	})
	if err != nil {
		return eris.Wrapf(err, "worker: start review workflow %s", jobID)
	}
	return nil
}
