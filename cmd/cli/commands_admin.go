package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/eser/aicaller/pkg/api/business/jobs"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

func (c *cli) newBatchesCmd() *cobra.Command {
	batchesCmd := &cobra.Command{
		Use:   "batches",
		Short: "Inspect and cancel provider batch jobs",
	}

	var limit int

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent batch jobs of the resource",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			provider, err := c.provider(cmd)
			if err != nil {
				return err
			}

			batchJobs, err := c.appContext.Batches.ListBatches(cmd.Context(), provider, limit)
			if err != nil {
				return err
			}

			for _, job := range batchJobs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n", job.ID, job.State, job.ProviderState, job.CreatedAt.Format(time.RFC3339))
			}

			return nil
		},
	}
	listCmd.Flags().IntVar(&limit, "limit", 20, "maximum number of jobs to list") //nolint:mnd

	cancelCmd := &cobra.Command{
		Use:   "cancel <batch-job-id>",
		Short: "Ask the provider to cancel a batch job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, err := c.provider(cmd)
			if err != nil {
				return err
			}

			job, err := c.appContext.Batches.CancelBatch(cmd.Context(), provider, args[0])
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", job.ID, job.State, job.ProviderState)

			return nil
		},
	}

	batchesCmd.AddCommand(listCmd, cancelCmd)

	return batchesCmd
}

func (c *cli) newJobsCmd() *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Dispatch and inspect queued jobs",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.appContext.Init(cmd.Context())
		},
	}

	var job jobs.Job

	dispatchCmd := &cobra.Command{
		Use:   "dispatch <input>",
		Short: "Queue a job for the worker of cmd/serve",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job.Input = args[0]
			job.Resource = c.resource

			if job.ID == "" {
				job.ID = uuid.NewString()
			}

			status, err := c.appContext.Jobs.DispatchJob(cmd.Context(), job)
			if err != nil {
				return err
			}

			return printJSON(cmd.OutOrStdout(), status)
		},
	}
	dispatchCmd.Flags().StringVar(&job.ID, "id", "", "job id (default is a random uuid)")
	dispatchCmd.Flags().StringVar((*string)(&job.Mode), "mode", "", "batch or sync (default is the configured default mode)")
	dispatchCmd.Flags().StringVarP(&job.Output, "output", "o", "", "output location (default is next to the input)")
	dispatchCmd.Flags().StringSliceVar(&job.SkipIDs, "skip", nil, "custom ids to leave out in sync mode")

	statusCmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show the status of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := c.appContext.Jobs.GetJobStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			return printJSON(cmd.OutOrStdout(), status)
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			statuses, err := c.appContext.Jobs.ListJobStatuses(cmd.Context())
			if err != nil {
				return err
			}

			for _, status := range statuses {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%d\t%d\n", status.JobId, status.Mode, status.State, status.Outputs, status.Failures)
			}

			return nil
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <job-id>",
		Short: "Forget a finished job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.appContext.Jobs.DeleteJobStatus(cmd.Context(), args[0])
		},
	}

	jobsCmd.AddCommand(dispatchCmd, statusCmd, listCmd, deleteCmd)

	return jobsCmd
}
