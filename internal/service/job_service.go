package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"queuectl/internal/executor"
	"queuectl/internal/logger"
	"queuectl/internal/metrics"
	"queuectl/internal/models"
	"queuectl/internal/repository"
	"strings"

	"github.com/google/uuid"
)

// JobServiceConfig holds submission defaults
type JobServiceConfig struct {
	DefaultMaxRetries int
	LogDir            string
}

// JobService handles submission, queries and dead letter management
type JobService struct {
	jobs    repository.JobRepository
	dlq     repository.DeadLetterRepository
	limiter *SubmissionLimiter
	metrics *metrics.Metrics
	logger  logger.Logger
	config  JobServiceConfig
}

// NewJobService creates a new job service
func NewJobService(jobs repository.JobRepository, dlq repository.DeadLetterRepository, limiter *SubmissionLimiter, metrics *metrics.Metrics, log logger.Logger, cfg JobServiceConfig) *JobService {
	if cfg.LogDir == "" {
		cfg.LogDir = executor.DefaultLogDir
	}
	return &JobService{
		jobs:    jobs,
		dlq:     dlq,
		limiter: limiter,
		metrics: metrics,
		logger:  log,
		config:  cfg,
	}
}

// Enqueue validates and persists a new pending job
func (s *JobService) Enqueue(ctx context.Context, req *models.EnqueueRequest) (*models.Job, error) {
	if strings.TrimSpace(req.Command) == "" {
		return nil, models.ValidationError("command is required")
	}

	maxRetries := s.config.DefaultMaxRetries
	if req.MaxRetries != nil {
		maxRetries = *req.MaxRetries
	}
	if maxRetries < 0 {
		return nil, models.ValidationError("max_retries must not be negative")
	}

	priority := models.DefaultPriority
	if req.Priority != nil {
		priority = *req.Priority
	}

	if err := s.limiter.CheckSubmissionRate(ctx); err != nil {
		return nil, err
	}

	job := &models.Job{
		ID:         uuid.New().String(),
		Command:    req.Command,
		MaxRetries: maxRetries,
		Priority:   priority,
		NextRunAt:  req.RunAt,
	}

	if err := s.jobs.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	s.metrics.IncrementEnqueued()
	s.logger.Info("job enqueued",
		"job_id", job.ID,
		"command", job.Command,
		"priority", job.Priority,
		"max_retries", job.MaxRetries,
	)

	return job, nil
}

// GetJob retrieves a job by ID
func (s *JobService) GetJob(ctx context.Context, id string) (*models.Job, error) {
	job, err := s.jobs.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	return job, nil
}

// ListJobs lists jobs in state, or every job when state is empty
func (s *JobService) ListJobs(ctx context.Context, state string) ([]*models.Job, error) {
	st := models.JobState(strings.ToLower(strings.TrimSpace(state)))
	if st != "" && !st.Valid() {
		return nil, models.ValidationError(fmt.Sprintf("unknown state %q", state))
	}

	jobs, err := s.jobs.ListJobs(ctx, st)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// RecentJobs returns the newest jobs first
func (s *JobService) RecentJobs(ctx context.Context, limit int) ([]*models.Job, error) {
	jobs, err := s.jobs.RecentJobs(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent jobs: %w", err)
	}
	return jobs, nil
}

// Metrics returns the aggregate summary over both stores
func (s *JobService) Metrics(ctx context.Context) (*models.Summary, error) {
	summary, err := s.jobs.Metrics(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compute metrics: %w", err)
	}
	return summary, nil
}

// ListDeadLetter retrieves all dead letter entries
func (s *JobService) ListDeadLetter(ctx context.Context) ([]*models.DeadLetterEntry, error) {
	entries, err := s.dlq.ListDeadLetter(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letter entries: %w", err)
	}
	return entries, nil
}

// Retry reinstates one dead letter entry. It returns false, without error,
// when id is not in the dead letter store.
func (s *JobService) Retry(ctx context.Context, id string) (bool, error) {
	ok, err := s.dlq.Reinstate(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to retry job: %w", err)
	}

	if !ok {
		s.logger.Warn("job not found in dead letter store", "job_id", id)
		return false, nil
	}

	s.logger.Info("job reinstated from dead letter store", "job_id", id)
	return true, nil
}

// RetryAll reinstates every dead letter entry
func (s *JobService) RetryAll(ctx context.Context) (int, error) {
	count, err := s.dlq.ReinstateAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to retry dead letter entries: %w", err)
	}

	s.logger.Info("dead letter store reinstated", "count", count)
	return count, nil
}

// LogPath returns where the job's output is captured
func (s *JobService) LogPath(id string) string {
	return executor.LogPath(s.config.LogDir, id)
}

// ReadLog returns the captured output of a job. It returns ErrNotFound
// until the job has run at least once.
func (s *JobService) ReadLog(id string) (string, []byte, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return "", nil, models.ValidationError(fmt.Sprintf("invalid job id %q", id))
	}

	path := s.LogPath(id)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return path, nil, fmt.Errorf("log for job %s: %w", id, models.ErrNotFound)
		}
		return path, nil, fmt.Errorf("failed to read log: %w", err)
	}
	return path, data, nil
}
