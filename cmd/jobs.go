package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mirkored-07/tenderpilot/internal/model"
	"github.com/mirkored-07/tenderpilot/internal/store"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect review jobs",
}

var jobsStatusFilter string
var jobsUserFilter string
var jobsLimit int

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		jobs, err := s.ListJobs(ctx, store.JobFilter{
			Status: model.JobStatus(jobsStatusFilter),
			UserID: jobsUserFilter,
			Limit:  jobsLimit,
		})
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tATTEMPTS\tFILENAME\tCREATED")
		for _, j := range jobs {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
				j.ID, j.Status, j.Pipeline.Attempts, j.Filename,
				j.CreatedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

var jobsShowEvents bool

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show one job with its result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		job, err := s.GetJob(ctx, args[0])
		if err != nil {
			return err
		}
		if job == nil {
			return fmt.Errorf("job not found: %s", args[0])
		}

		out := map[string]any{"job": job}

		result, err := s.GetResult(ctx, args[0])
		if err != nil {
			return err
		}
		if result != nil {
			// The extracted text dominates the dump; show its size instead.
			chars := len(result.ExtractedText)
			result.ExtractedText = ""
			out["result"] = result
			out["extracted_chars"] = chars
		}

		if jobsShowEvents {
			events, err := s.ListEvents(ctx, args[0], 200)
			if err != nil {
				return err
			}
			out["events"] = events
		}

		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(out)
	},
}

var createUser string
var createPointer string
var createSourceType string

var jobsCreateCmd = &cobra.Command{
	Use:   "create <filename>",
	Short: "Create a queued job for an already-uploaded document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		pointer := createPointer
		if pointer == "" {
			pointer = args[0]
		}
		job, err := s.CreateJob(ctx, store.NewJob{
			UserID:         createUser,
			Filename:       args[0],
			StoragePointer: pointer,
			SourceType:     model.SourceType(createSourceType),
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), job.ID)
		return nil
	},
}

func init() {
	jobsCreateCmd.Flags().StringVar(&createUser, "user", "cli", "owning user id")
	jobsCreateCmd.Flags().StringVar(&createPointer, "pointer", "", "storage pointer (defaults to the filename)")
	jobsCreateCmd.Flags().StringVar(&createSourceType, "type", "pdf", "source type (pdf or docx)")
	jobsListCmd.Flags().StringVar(&jobsStatusFilter, "status", "", "filter by status (queued, processing, done, failed)")
	jobsListCmd.Flags().StringVar(&jobsUserFilter, "user", "", "filter by user id")
	jobsListCmd.Flags().IntVar(&jobsLimit, "limit", 50, "maximum jobs to list")
	jobsShowCmd.Flags().BoolVar(&jobsShowEvents, "events", false, "include the job event log")

	jobsCmd.AddCommand(jobsCreateCmd)
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsShowCmd)
	rootCmd.AddCommand(jobsCmd)
}
