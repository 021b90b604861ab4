package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mirkored-07/tenderpilot/internal/model"
	"github.com/mirkored-07/tenderpilot/internal/store"
)

var advanceAll bool
var advanceConcurrency int

var advanceCmd = &cobra.Command{
	Use:   "advance [job-id]",
	Short: "Perform one pipeline step for a job",
	Long:  "Advances a single job one step, or with --all advances every queued and processing job once. Safe to run from cron; concurrent invocations coordinate through the store.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		s, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		runner, cleanup, err := buildRunner(ctx, s)
		if err != nil {
			return err
		}
		defer cleanup()

		if !advanceAll {
			if len(args) != 1 {
				return fmt.Errorf("a job id is required unless --all is set")
			}
			step, err := runner.Advance(ctx, args[0])
			if err != nil && step == "" {
				return err
			}
			if err != nil {
				zap.L().Warn("attempt errored", zap.String("job_id", args[0]), zap.Error(err))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", args[0], step)
			return nil
		}

		var active []model.Job
		for _, status := range []model.JobStatus{model.JobStatusQueued, model.JobStatusProcessing} {
			jobs, err := s.ListJobs(ctx, store.JobFilter{Status: status, Limit: 500})
			if err != nil {
				return err
			}
			active = append(active, jobs...)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(advanceConcurrency)
		for _, job := range active {
			g.Go(func() error {
				step, err := runner.Advance(gctx, job.ID)
				if err != nil && step == "" {
					// One stuck job must not stop the sweep.
					zap.L().Error("advance failed", zap.String("job_id", job.ID), zap.Error(err))
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", job.ID, step)
				return nil
			})
		}
		return g.Wait()
	},
}

func init() {
	advanceCmd.Flags().BoolVar(&advanceAll, "all", false, "advance every queued and processing job once")
	advanceCmd.Flags().IntVar(&advanceConcurrency, "concurrency", 4, "parallel advances with --all")
	rootCmd.AddCommand(advanceCmd)
}
