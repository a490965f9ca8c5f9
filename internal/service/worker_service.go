package service

import (
	"context"
	"errors"
	"math"
	"queuectl/internal/executor"
	"queuectl/internal/logger"
	"queuectl/internal/metrics"
	"queuectl/internal/models"
	"queuectl/internal/repository"
	"sync"
	"time"
)

// Runner executes a claimed job
type Runner interface {
	Run(job *models.Job) executor.Result
}

// WorkerConfig controls the worker loop
type WorkerConfig struct {
	PollInterval time.Duration
	// StaleAfter is how long a job may sit in processing before the
	// recovery sweep treats it as abandoned
	StaleAfter time.Duration
	// MaxRunTime is the longest one attempt can hold a job, timeout plus
	// grace period. StaleAfter is raised above it when set too low.
	MaxRunTime time.Duration
	Backoff    Backoff
}

// latest time the store can represent
var maxRunAt = time.Unix(0, math.MaxInt64)

// WorkerService claims jobs, runs them and drives the retry and dead letter transitions
type WorkerService struct {
	jobs    repository.JobRepository
	dlq     repository.DeadLetterRepository
	runner  Runner
	metrics *metrics.Metrics
	logger  logger.Logger
	config  WorkerConfig
	now     func() time.Time
}

// NewWorkerService creates a new worker service
func NewWorkerService(jobs repository.JobRepository, dlq repository.DeadLetterRepository, runner Runner, metrics *metrics.Metrics, log logger.Logger, cfg WorkerConfig) *WorkerService {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 5 * time.Minute
	}
	if cfg.MaxRunTime > 0 && cfg.StaleAfter <= cfg.MaxRunTime {
		log.Warn("stale_after does not exceed the maximum run time; raising it",
			"stale_after", cfg.StaleAfter,
			"max_run_time", cfg.MaxRunTime,
		)
		cfg.StaleAfter = 2 * cfg.MaxRunTime
	}
	return &WorkerService{
		jobs:    jobs,
		dlq:     dlq,
		runner:  runner,
		metrics: metrics,
		logger:  log,
		config:  cfg,
		now:     time.Now,
	}
}

// StartPool runs count workers plus the recovery sweeper and blocks until
// ctx is cancelled and every worker has finished its current job.
func (s *WorkerService) StartPool(ctx context.Context, count int) {
	if count < 1 {
		count = 1
	}

	if _, err := s.RecoverStale(ctx); err != nil {
		s.logger.Error("recovery sweep failed", "error", err)
	}

	var wg sync.WaitGroup
	for i := 1; i <= count; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			s.Run(ctx, id)
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.sweep(ctx)
	}()

	s.logger.Info("worker pool started", "workers", count)
	wg.Wait()
	s.logger.Info("worker pool stopped")
}

// Run is one worker loop. It returns once ctx is cancelled, never in the
// middle of a job.
func (s *WorkerService) Run(ctx context.Context, workerID int) {
	log := s.logger.With("worker_id", workerID)
	log.Info("worker started")

	for {
		select {
		case <-ctx.Done():
			log.Info("worker stopped")
			return
		default:
		}

		processed, err := s.ProcessNext(ctx, log)
		if err != nil {
			log.Error("error claiming job", "error", err)
			s.sleep(ctx, s.config.PollInterval)
			continue
		}

		if !processed {
			s.sleep(ctx, s.config.PollInterval)
		}
	}
}

// ProcessNext claims and executes one job. It reports false when nothing was eligible.
func (s *WorkerService) ProcessNext(ctx context.Context, log logger.Logger) (bool, error) {
	job, err := s.jobs.ClaimNext(ctx, s.now())
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	s.Execute(ctx, job, log)
	return true, nil
}

// Execute runs a claimed job and reports the outcome
func (s *WorkerService) Execute(ctx context.Context, job *models.Job, log logger.Logger) {
	jlog := log.With("job_id", job.ID)
	jlog.Info("job claimed", "command", job.Command, "attempt", job.Attempts+1, "priority", job.Priority)

	stop := s.heartbeat(ctx, job, jlog)
	defer stop()

	s.metrics.JobStarted()
	result := s.runner.Run(job)
	s.metrics.JobFinished(result.Duration)

	duration := result.Duration.Seconds()
	if result.Failure != nil {
		s.handleFailure(ctx, job, result.Failure, duration, result.ExitCode, jlog)
		return
	}

	exitCode := 0
	if result.ExitCode != nil {
		exitCode = *result.ExitCode
	}
	if !s.report(ctx, job.ID, models.Completed(job.Attempts, duration, exitCode), jlog) {
		return
	}

	if err := s.dlq.RemoveDeadLetter(context.WithoutCancel(ctx), job.ID); err != nil {
		jlog.Warn("error removing stale dead letter entry", "error", err)
	}

	s.metrics.IncrementCompleted()
	jlog.Info("job completed", "duration", duration, "exit_code", exitCode)
}

// RecoverStale feeds processing jobs untouched for longer than StaleAfter
// into the failure path as abandoned attempts.
func (s *WorkerService) RecoverStale(ctx context.Context) (int, error) {
	jobs, err := s.jobs.RecoverStale(ctx, s.now().Add(-s.config.StaleAfter))
	if err != nil {
		return 0, err
	}

	for _, job := range jobs {
		jlog := s.logger.With("job_id", job.ID)
		jlog.Warn("recovering abandoned job", "updated_at", job.UpdatedAt)
		s.metrics.IncrementRecovered()
		s.handleFailure(ctx, job, &models.Failure{Kind: models.FailureAbandoned}, job.LastDuration, nil, jlog)
	}
	return len(jobs), nil
}

// heartbeat keeps a claimed job's updated_at fresh while this worker holds it,
// so the recovery sweep only sees jobs whose worker is gone. The returned func
// stops it and waits for it to exit.
func (s *WorkerService) heartbeat(ctx context.Context, job *models.Job, log logger.Logger) func() {
	done := make(chan struct{})
	exited := make(chan struct{})
	storeCtx := context.WithoutCancel(ctx)

	go func() {
		defer close(exited)
		ticker := time.NewTicker(s.config.StaleAfter / 4)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				err := s.jobs.Heartbeat(storeCtx, job.ID, job.Attempts, s.now())
				if errors.Is(err, models.ErrStaleOutcome) {
					log.Warn("job no longer held by this worker", "attempt", job.Attempts+1)
					return
				}
				if err != nil {
					log.Error("error refreshing job", "error", err)
				}
			}
		}
	}()

	return func() {
		close(done)
		<-exited
	}
}

func (s *WorkerService) sweep(ctx context.Context) {
	ticker := time.NewTicker(s.config.StaleAfter / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RecoverStale(ctx); err != nil {
				s.logger.Error("recovery sweep failed", "error", err)
			}
		}
	}
}

// handleFailure schedules a retry, or moves the job to the dead letter store
// once attempts exceeds max_retries
func (s *WorkerService) handleFailure(ctx context.Context, job *models.Job, failure *models.Failure, duration float64, exitCode *int, log logger.Logger) {
	attempts := job.Attempts + 1
	reason := failure.Error()

	if attempts > job.MaxRetries {
		if !s.report(ctx, job.ID, models.Dead(attempts, duration, exitCode, reason), log) {
			return
		}
		s.metrics.IncrementDead()
		log.Warn("job moved to dead letter store",
			"attempts", attempts,
			"failure", failure.Kind,
			"reason", reason,
		)
		return
	}

	delay := s.config.Backoff.Delay(attempts)
	nextRunAt := s.now().Add(delay)
	if nextRunAt.After(maxRunAt) {
		nextRunAt = maxRunAt
	}

	if !s.report(ctx, job.ID, models.Retry(attempts, nextRunAt, duration, exitCode, reason), log) {
		return
	}
	s.metrics.IncrementRetried()
	log.Warn("job failed, retry scheduled",
		"attempts", attempts,
		"max_retries", job.MaxRetries,
		"failure", failure.Kind,
		"reason", reason,
		"delay", delay,
	)
}

// report persists an outcome, retrying store failures until it succeeds or ctx
// is cancelled. A job whose report is abandoned stays in processing for the
// recovery sweep. It returns false when nothing was applied.
func (s *WorkerService) report(ctx context.Context, id string, outcome models.Outcome, log logger.Logger) bool {
	storeCtx := context.WithoutCancel(ctx)
	for {
		err := s.jobs.ReportOutcome(storeCtx, id, outcome)
		if err == nil {
			return true
		}
		if errors.Is(err, models.ErrStaleOutcome) {
			log.Warn("outcome discarded; job no longer held by this attempt", "outcome", outcome.Kind)
			return false
		}

		log.Error("error reporting job outcome", "outcome", outcome.Kind, "error", err)
		if !s.sleep(ctx, s.config.PollInterval) {
			log.Warn("giving up outcome report on shutdown; job left for recovery", "outcome", outcome.Kind)
			return false
		}
	}
}

// sleep waits d and reports false if ctx was cancelled first
func (s *WorkerService) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
