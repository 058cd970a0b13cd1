package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"craftworker/config"
	"craftworker/db"
	"craftworker/model"
	"craftworker/repository"
)

var (
	jobsID    string
	jobsLimit int
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Show the job ledger",
	Long:  `List the most recent jobs recorded in the MySQL ledger, or show a single job by id.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		gdb, err := db.ConnectGormDB(cfg)
		if err != nil {
			return err
		}
		defer db.CloseGormDB(gdb)

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		repo := repository.NewGormJobRepository(gdb)
		out := cmd.OutOrStdout()

		if jobsID != "" {
			rec, err := repo.GetByID(ctx, jobsID)
			if err != nil {
				return err
			}
			if rec == nil {
				return fmt.Errorf("job %s not found", jobsID)
			}
			printJobDetail(out, rec)
			return nil
		}

		recs, err := repo.ListRecent(ctx, jobsLimit)
		if err != nil {
			return err
		}
		printJobTable(out, recs)
		return nil
	},
}

func printJobTable(out io.Writer, recs []*model.JobRecord) {
	if len(recs) == 0 {
		fmt.Fprintln(out, "No jobs recorded")
		return
	}
	fmt.Fprintf(out, "%-36s  %-11s  %5s  %-20s  %s\n", "JOB", "STATE", "FILES", "STARTED", "RESULT")
	for _, r := range recs {
		result := r.CraftID
		if r.ErrorName != "" {
			result = r.ErrorName
		}
		fmt.Fprintf(out, "%-36s  %-11s  %5d  %-20s  %s\n",
			r.JobID, r.State, r.FileCount, r.StartedAt.Format(time.DateTime), result)
	}
}

func printJobDetail(out io.Writer, r *model.JobRecord) {
	fmt.Fprintf(out, "Job:      %s\n", r.JobID)
	fmt.Fprintf(out, "Name:     %s\n", r.Name)
	fmt.Fprintf(out, "State:    %s\n", r.State)
	fmt.Fprintf(out, "Files:    %d\n", r.FileCount)
	fmt.Fprintf(out, "Started:  %s\n", r.StartedAt.Format(time.RFC3339))
	if r.FinishedAt != nil {
		fmt.Fprintf(out, "Finished: %s (%s)\n", r.FinishedAt.Format(time.RFC3339), r.FinishedAt.Sub(r.StartedAt))
	}
	if r.CraftID != "" {
		fmt.Fprintf(out, "Craft:    %s\n", r.CraftID)
	}
	if r.ErrorName != "" {
		fmt.Fprintf(out, "Error:    %s\n", r.ErrorName)
	}
}

func init() {
	rootCmd.AddCommand(jobsCmd)

	jobsCmd.Flags().StringVarP(&jobsID, "job", "j", "", "show a single job by id")
	jobsCmd.Flags().IntVarP(&jobsLimit, "limit", "n", 20, "number of recent jobs to list (max 100)")

	jobsCmd.Example = `  # last 20 jobs
  craftworker jobs

  # last 5 jobs
  craftworker jobs -n 5

  # one job
  craftworker jobs -j 3f6c1a2e-8b4d-4c1e-9a7f-2d5e6b8c9a01`
}
