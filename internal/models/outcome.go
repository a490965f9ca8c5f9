package models

import (
	"fmt"
	"time"
)

// OutcomeKind is the result of one execution attempt as reported to the store
type OutcomeKind string

const (
	OutcomeCompleted OutcomeKind = "completed"
	OutcomeRetry     OutcomeKind = "retry"
	OutcomeDead      OutcomeKind = "dead"
)

// Outcome carries everything the store needs to finish an attempt.
// Attempts is the absolute value after the attempt, so replaying the same
// outcome never counts twice.
type Outcome struct {
	Kind      OutcomeKind
	Attempts  int
	Duration  float64
	ExitCode  *int
	NextRunAt time.Time
	Error     string
}

// Completed builds a success outcome
func Completed(attempts int, duration float64, exitCode int) Outcome {
	return Outcome{Kind: OutcomeCompleted, Attempts: attempts, Duration: duration, ExitCode: &exitCode}
}

// Retry builds an outcome that puts the job back to pending until nextRunAt
func Retry(attempts int, nextRunAt time.Time, duration float64, exitCode *int, cause string) Outcome {
	return Outcome{Kind: OutcomeRetry, Attempts: attempts, NextRunAt: nextRunAt, Duration: duration, ExitCode: exitCode, Error: cause}
}

// Dead builds an outcome that parks the job in the dead letter store
func Dead(attempts int, duration float64, exitCode *int, cause string) Outcome {
	return Outcome{Kind: OutcomeDead, Attempts: attempts, Duration: duration, ExitCode: exitCode, Error: cause}
}

// FailureKind tags why an execution attempt failed
type FailureKind string

const (
	FailureTimeout     FailureKind = "timeout"
	FailureNonZeroExit FailureKind = "nonzero_exit"
	FailureSpawn       FailureKind = "spawn_error"
	FailureIO          FailureKind = "io_error"
	FailureAbandoned   FailureKind = "abandoned"
)

// Failure describes a failed execution attempt. Control flow switches on Kind;
// the rendered text is only for logs, the dashboard and dead letter entries.
type Failure struct {
	Kind     FailureKind
	ExitCode int
	Err      error
}

func (f *Failure) Error() string {
	switch f.Kind {
	case FailureTimeout:
		return "TimeoutExpired"
	case FailureNonZeroExit:
		return fmt.Sprintf("ExitCode:%d", f.ExitCode)
	case FailureAbandoned:
		return "Abandoned"
	}
	if f.Err != nil {
		return f.Err.Error()
	}
	return string(f.Kind)
}

func (f *Failure) Unwrap() error {
	return f.Err
}
