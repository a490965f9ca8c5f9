package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func dlqCmd(a *app) *cobra.Command {
	dlqCmd := &cobra.Command{
		Use:   "dlq",
		Short: "Manage the dead letter queue",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List dead jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}

			entries, err := a.jobs.ListDeadLetter(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "Dead letter queue is empty.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tATTEMPTS\tMOVED_AT\tERROR\tCOMMAND")
			for _, entry := range entries {
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n", entry.ID, entry.Attempts, formatTime(entry.MovedAt), entry.Error, entry.Command)
			}
			return w.Flush()
		},
	}

	retryCmd := &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Move a dead job back to pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}

			ok, err := a.jobs.Retry(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if !ok {
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s not found in dead letter queue.\n", args[0])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %s moved back to pending.\n", args[0])
			return nil
		},
	}

	retryAllCmd := &cobra.Command{
		Use:   "retry-all",
		Short: "Move every dead job back to pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}

			count, err := a.jobs.RetryAll(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d job(s) moved back to pending.\n", count)
			return nil
		},
	}

	dlqCmd.AddCommand(listCmd, retryCmd, retryAllCmd)
	return dlqCmd
}
