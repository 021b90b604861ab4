package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mirkored-07/tenderpilot/internal/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the Temporal worker that drives jobs to completion",
	Long:  "Hosts the review workflow: each job is advanced one step at a time with a sleep between invocations until it reaches done or failed.",
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

		zap.L().Info("worker starting",
			zap.String("task_queue", cfg.Worker.TaskQueue),
			zap.String("host_port", cfg.Worker.HostPort),
		)
		return worker.Run(cfg.Worker, runner)
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
