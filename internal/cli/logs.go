package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func logsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logs <job-id>",
		Short: "Print the captured output of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}

			path, data, err := a.jobs.ReadLog(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Log file: %s\n\n", path)
			_, err = out.Write(data)
			return err
		},
	}
}
