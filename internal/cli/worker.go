package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func workerCmd(a *app) *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run a pool of workers until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a.log.Info("starting workers; press Ctrl+C to stop gracefully", "count", count, "db_path", a.cfg.DBPath)
			a.workerService().StartPool(ctx, count)
			return nil
		},
	}

	cmd.Flags().IntVar(&count, "count", 1, "number of concurrent workers")
	return cmd
}
