package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"queuectl/internal/handler"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func dashboardCmd(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Serve the monitoring dashboard, JSON API and Prometheus metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			if !cmd.Flags().Changed("addr") {
				addr = a.cfg.DashboardAddr
			}

			jobHandler := handler.NewJobHandler(a.jobs, a.metrics, a.log)
			server := &http.Server{
				Addr:              addr,
				Handler:           jobHandler.Router(),
				ReadHeaderTimeout: 5 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				a.log.Info("dashboard listening", "addr", addr)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return err
				}
			case <-ctx.Done():
			}

			a.log.Info("shutting down dashboard")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				a.log.Error("error closing server", "error", err)
			}
			a.log.Info("dashboard stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}
