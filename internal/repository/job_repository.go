package repository

import (
	"context"
	"queuectl/internal/models"
	"time"
)

// JobRepository defines the interface for job persistence
type JobRepository interface {
	// Enqueue durably inserts a pending job
	Enqueue(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
	// ClaimNext atomically moves the best eligible pending job to processing.
	// It returns nil when nothing is eligible at now.
	ClaimNext(ctx context.Context, now time.Time) (*models.Job, error)
	// ReportOutcome finishes a processing job. A report for a job that is no
	// longer held by the reporting attempt changes nothing and returns
	// models.ErrStaleOutcome.
	ReportOutcome(ctx context.Context, id string, outcome models.Outcome) error
	// Heartbeat refreshes updated_at of a job still processing the given
	// attempt so the recovery sweep leaves it alone. It returns
	// models.ErrStaleOutcome once the attempt no longer holds the job.
	Heartbeat(ctx context.Context, id string, attempts int, now time.Time) error
	// RecoverStale re-claims processing jobs last touched before cutoff
	RecoverStale(ctx context.Context, cutoff time.Time) ([]*models.Job, error)
	ListJobs(ctx context.Context, state models.JobState) ([]*models.Job, error)
	RecentJobs(ctx context.Context, limit int) ([]*models.Job, error)
	Metrics(ctx context.Context) (*models.Summary, error)
}

// DeadLetterRepository defines the interface for dead letter persistence
type DeadLetterRepository interface {
	MoveIn(ctx context.Context, job *models.Job, cause string) error
	ListDeadLetter(ctx context.Context) ([]*models.DeadLetterEntry, error)
	// Reinstate returns false when id is not in the dead letter store
	Reinstate(ctx context.Context, id string) (bool, error)
	ReinstateAll(ctx context.Context) (int, error)
	RemoveDeadLetter(ctx context.Context, id string) error
	CountDeadLetter(ctx context.Context) (int, error)
}
