package cli

import (
	"fmt"
	"io"
	"queuectl/internal/models"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func listCmd(a *app) *cobra.Command {
	var state string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, optionally filtered by state",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}

			jobs, err := a.jobs.ListJobs(cmd.Context(), state)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(jobs) == 0 {
				fmt.Fprintln(out, "No jobs found.")
				return nil
			}
			printJobs(out, jobs)
			return nil
		},
	}

	cmd.Flags().StringVar(&state, "state", "", "pending, processing, completed or dead")
	return cmd
}

func statusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}

			summary, err := a.jobs.Metrics(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "Total\t%d\n", summary.Total)
			fmt.Fprintf(w, "Pending\t%d\n", summary.Pending)
			fmt.Fprintf(w, "Processing\t%d\n", summary.Processing)
			fmt.Fprintf(w, "Completed\t%d\n", summary.Completed)
			fmt.Fprintf(w, "Dead\t%d\n", summary.Dead)
			fmt.Fprintf(w, "Avg duration\t%.3fs\n", summary.AvgDuration)
			fmt.Fprintf(w, "Success rate\t%.2f%%\n", summary.SuccessRate)
			return w.Flush()
		},
	}
}

func printJobs(out io.Writer, jobs []*models.Job) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATE\tPRIORITY\tATTEMPTS\tMAX_RETRIES\tNEXT_RUN\tCOMMAND")
	for _, job := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			job.ID, job.State, job.Priority, job.Attempts, job.MaxRetries, formatTime(job.NextRunAt), job.Command)
	}
	w.Flush()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
