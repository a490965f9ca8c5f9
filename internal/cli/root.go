// Package cli implements the queuectl command line.
package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"queuectl/internal/config"
	"queuectl/internal/executor"
	"queuectl/internal/logger"
	"queuectl/internal/metrics"
	"queuectl/internal/repository"
	"queuectl/internal/service"

	"github.com/spf13/cobra"
)

// app holds the components shared by commands. It is built lazily so that
// config commands work without opening the store.
type app struct {
	configPath string

	cfg     *config.Config
	log     *logger.ZapLogger
	repo    *repository.SQLiteRepository
	metrics *metrics.Metrics
	jobs    *service.JobService
}

// NewRootCmd builds the command tree
func NewRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "queuectl",
		Short:         "A durable, priority-aware job queue",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}
	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", config.DefaultPath, "path to config file")

	rootCmd.AddCommand(
		enqueueCmd(a),
		listCmd(a),
		statusCmd(a),
		workerCmd(a),
		dlqCmd(a),
		configCmd(a),
		logsCmd(a),
		dashboardCmd(a),
	)
	return rootCmd
}

// Execute runs the root command and prints any error
func Execute() int {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

func (a *app) loadConfig() (*config.Config, error) {
	if a.cfg != nil {
		return a.cfg, nil
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return nil, err
	}
	a.cfg = cfg
	return cfg, nil
}

// open loads config and wires the store, logger and job service
func (a *app) open() error {
	if a.jobs != nil {
		return nil
	}

	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}

	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return err
	}
	a.log = log

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	repo, err := repository.NewSQLiteRepository(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	a.repo = repo
	a.metrics = metrics.NewMetrics()

	a.jobs = service.NewJobService(repo, repo, service.NewSubmissionLimiter(cfg.EnqueueRate), a.metrics, log, service.JobServiceConfig{
		DefaultMaxRetries: cfg.MaxRetries,
		LogDir:            cfg.LogDir,
	})
	return nil
}

func (a *app) workerService() *service.WorkerService {
	cfg := a.cfg
	runner := executor.New(executor.Config{
		Timeout:     cfg.TimeoutDuration(),
		GracePeriod: cfg.GracePeriodDuration(),
		LogDir:      cfg.LogDir,
	})
	return service.NewWorkerService(a.repo, a.repo, runner, a.metrics, a.log, service.WorkerConfig{
		PollInterval: cfg.PollIntervalDuration(),
		StaleAfter:   cfg.StaleAfterDuration(),
		MaxRunTime:   cfg.MaxRunDuration(),
		Backoff:      service.Backoff{Base: cfg.BackoffBase, Max: cfg.MaxBackoffDuration()},
	})
}

func (a *app) close() error {
	if a.log != nil {
		_ = a.log.Sync()
	}
	if a.repo != nil {
		err := a.repo.Close()
		a.repo = nil
		a.jobs = nil
		return err
	}
	return nil
}
