package cli

import (
	"fmt"
	"queuectl/internal/models"
	"time"

	"github.com/spf13/cobra"
)

func enqueueCmd(a *app) *cobra.Command {
	var (
		maxRetries int
		priority   int
		runAt      string
	)

	cmd := &cobra.Command{
		Use:   "enqueue <command>",
		Short: "Add a shell command to the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}

			req := &models.EnqueueRequest{Command: args[0], Priority: &priority}
			if cmd.Flags().Changed("max-retries") {
				req.MaxRetries = &maxRetries
			}
			if runAt != "" {
				t, err := time.Parse(time.RFC3339, runAt)
				if err != nil {
					return models.ValidationError(fmt.Sprintf("invalid --run-at %q, want YYYY-MM-DDTHH:MM:SSZ", runAt))
				}
				req.RunAt = t
			}

			job, err := a.jobs.Enqueue(cmd.Context(), req)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Enqueued job %s (priority %d, max_retries %d)\n", job.ID, job.Priority, job.MaxRetries)
			return nil
		},
	}

	cmd.Flags().IntVar(&maxRetries, "max-retries", 0, "retry budget (default from config)")
	cmd.Flags().IntVar(&priority, "priority", models.DefaultPriority, "higher runs sooner")
	cmd.Flags().StringVar(&runAt, "run-at", "", "earliest run time, YYYY-MM-DDTHH:MM:SSZ")
	return cmd
}
