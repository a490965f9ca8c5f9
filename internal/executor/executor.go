// Package executor runs job commands as external processes under a timeout and
// captures their output to a per-job log file.
package executor

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"queuectl/internal/models"
	"strings"
	"time"
)

const (
	DefaultTimeout     = 10 * time.Second
	DefaultGracePeriod = 2 * time.Second
	DefaultLogDir      = "logs"
)

// Config controls process execution
type Config struct {
	Timeout     time.Duration
	GracePeriod time.Duration
	LogDir      string
}

func (c *Config) normalize() {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = DefaultGracePeriod
	}
	if c.LogDir == "" {
		c.LogDir = DefaultLogDir
	}
}

// Result describes one execution attempt. Failure is nil on success.
type Result struct {
	ExitCode *int
	Duration time.Duration
	Failure  *models.Failure
	LogPath  string
}

// Executor runs shell commands one at a time per caller; it holds no shared process state.
type Executor struct {
	config Config
}

// New creates an executor
func New(cfg Config) *Executor {
	cfg.normalize()
	return &Executor{config: cfg}
}

// LogPath returns the output file for a job id
func (e *Executor) LogPath(jobID string) string {
	return LogPath(e.config.LogDir, jobID)
}

// LogPath returns the output file for a job id under dir
func LogPath(dir, jobID string) string {
	return filepath.Join(dir, jobID+".log")
}

// Run executes the job command. Output streams straight into the job's log
// file. On timeout the process group gets SIGTERM, then SIGKILL once the grace
// period runs out.
func (e *Executor) Run(job *models.Job) Result {
	result := Result{LogPath: e.LogPath(job.ID)}
	start := time.Now()

	out, err := openAttemptLog(result.LogPath, job.Attempts+1)
	if err != nil {
		result.Duration = time.Since(start)
		result.ExitCode = intPtr(-1)
		result.Failure = &models.Failure{Kind: models.FailureIO, ExitCode: -1, Err: err}
		return result
	}
	defer out.Close()

	stderr, err := os.CreateTemp(filepath.Dir(result.LogPath), ".stderr-*")
	if err != nil {
		result.Duration = time.Since(start)
		result.ExitCode = intPtr(-1)
		result.Failure = &models.Failure{Kind: models.FailureIO, ExitCode: -1, Err: fmt.Errorf("failed to create stderr spool: %w", err)}
		out.finish(nil)
		return result
	}
	defer func() {
		stderr.Close()
		os.Remove(stderr.Name())
	}()

	cmd := shellCommand(job.Command)
	cmd.Stdout = out.file
	cmd.Stderr = stderr
	cmd.WaitDelay = e.config.GracePeriod
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		result.Duration = time.Since(start)
		result.ExitCode = intPtr(-1)
		result.Failure = &models.Failure{Kind: models.FailureSpawn, ExitCode: -1, Err: err}
		out.finish(strings.NewReader(err.Error()))
		return result
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	timer := time.NewTimer(e.config.Timeout)
	defer timer.Stop()

	var waitErr error
	timedOut := false
	select {
	case waitErr = <-done:
	case <-timer.C:
		timedOut = true
		terminate(cmd)
		select {
		case waitErr = <-done:
		case <-time.After(e.config.GracePeriod):
			kill(cmd)
			waitErr = <-done
		}
	}
	result.Duration = time.Since(start)

	switch {
	case timedOut:
		result.Failure = &models.Failure{Kind: models.FailureTimeout, Err: waitErr}
	case waitErr == nil:
		result.ExitCode = intPtr(0)
	default:
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			code := exitErr.ExitCode()
			result.ExitCode = intPtr(code)
			result.Failure = &models.Failure{Kind: models.FailureNonZeroExit, ExitCode: code, Err: waitErr}
		} else {
			result.ExitCode = intPtr(-1)
			result.Failure = &models.Failure{Kind: models.FailureIO, ExitCode: -1, Err: waitErr}
		}
	}

	var logErr error
	if _, err := stderr.Seek(0, io.SeekStart); err != nil {
		logErr = fmt.Errorf("failed to read stderr spool: %w", err)
	} else {
		logErr = out.finish(stderr)
	}
	// a log write failure on an otherwise successful run turns the attempt
	// into an io failure
	if logErr != nil && result.Failure == nil {
		result.ExitCode = intPtr(-1)
		result.Failure = &models.Failure{Kind: models.FailureIO, ExitCode: -1, Err: logErr}
	}
	return result
}

// attemptLog is a job's log file opened in append mode for one attempt
type attemptLog struct {
	file *os.File
}

func openAttemptLog(path string, attempt int) (*attemptLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	if _, err := fmt.Fprintf(f, "=== attempt %d at %s ===\n", attempt, time.Now().UTC().Format(time.RFC3339)); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write log file: %w", err)
	}
	return &attemptLog{file: f}, nil
}

// finish appends stderr as its own section, when there is any, and ends the
// attempt on a newline
func (l *attemptLog) finish(stderr io.Reader) error {
	if stderr != nil {
		br := bufio.NewReader(stderr)
		if _, err := br.Peek(1); err == nil {
			if _, err := io.WriteString(l.file, "\n[stderr]\n"); err != nil {
				return fmt.Errorf("failed to write log file: %w", err)
			}
			if _, err := io.Copy(l.file, br); err != nil {
				return fmt.Errorf("failed to write log file: %w", err)
			}
		}
	}

	info, err := l.file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	if info.Size() == 0 {
		return nil
	}
	last := make([]byte, 1)
	if _, err := l.file.ReadAt(last, info.Size()-1); err != nil {
		return fmt.Errorf("failed to read log file: %w", err)
	}
	if last[0] != '\n' {
		if _, err := l.file.Write([]byte{'\n'}); err != nil {
			return fmt.Errorf("failed to write log file: %w", err)
		}
	}
	return nil
}

func (l *attemptLog) Close() error {
	return l.file.Close()
}

func intPtr(v int) *int {
	return &v
}
