package models

import "time"

// JobState represents the state of a job
type JobState string

const (
	StatePending    JobState = "pending"
	StateProcessing JobState = "processing"
	StateCompleted  JobState = "completed"
	StateDead       JobState = "dead"
)

// Valid reports whether s is one of the known job states
func (s JobState) Valid() bool {
	switch s {
	case StatePending, StateProcessing, StateCompleted, StateDead:
		return true
	}
	return false
}

// Job represents a job in the system
type Job struct {
	ID           string    `json:"id"`
	Command      string    `json:"command"`
	State        JobState  `json:"state"`
	Attempts     int       `json:"attempts"`
	MaxRetries   int       `json:"max_retries"`
	Priority     int       `json:"priority"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	NextRunAt    time.Time `json:"next_run_at"`
	LastDuration float64   `json:"last_duration"`
	LastExitCode *int      `json:"last_exit_code,omitempty"`
}

// Exhausted reports whether attempts has used up the retry budget
func (j *Job) Exhausted() bool {
	return j.Attempts > j.MaxRetries
}

// DefaultPriority applies when a submission does not set one
const DefaultPriority = 1

// EnqueueRequest represents a request to submit a job.
// Nil MaxRetries and Priority take the configured defaults; a zero RunAt is eligible immediately.
type EnqueueRequest struct {
	Command    string    `json:"command"`
	MaxRetries *int      `json:"max_retries,omitempty"`
	Priority   *int      `json:"priority,omitempty"`
	RunAt      time.Time `json:"run_at,omitempty"`
}

// DeadLetterEntry represents a job that has permanently failed
type DeadLetterEntry struct {
	ID         string    `json:"id"`
	Command    string    `json:"command"`
	Attempts   int       `json:"attempts"`
	MaxRetries int       `json:"max_retries"`
	CreatedAt  time.Time `json:"created_at"`
	MovedAt    time.Time `json:"moved_at"`
	Error      string    `json:"error"`
}

// Summary is the aggregate view over both stores
type Summary struct {
	Total       int     `json:"total"`
	Pending     int     `json:"pending"`
	Processing  int     `json:"processing"`
	Completed   int     `json:"completed"`
	Dead        int     `json:"dead"`
	AvgDuration float64 `json:"avg_duration"`
	SuccessRate float64 `json:"success_rate"`
}

// SuccessRateOf returns completed / (completed + dead) * 100, or 0 when nothing finished.
func SuccessRateOf(completed, dead int) float64 {
	if completed+dead == 0 {
		return 0
	}
	return float64(completed) / float64(completed+dead) * 100
}
