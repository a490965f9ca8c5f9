package service

import (
	"context"
	"fmt"
	"queuectl/internal/executor"
	"queuectl/internal/models"
	"sort"
	"sync"
	"time"
)

// mockRepository is an in-memory JobRepository and DeadLetterRepository
type mockRepository struct {
	mu sync.Mutex

	jobs     map[string]*models.Job
	dlq      map[string]*models.DeadLetterEntry
	order    []string
	reports    []models.Outcome
	removals   []string
	heartbeats int

	enqueueError error
	claimError   error
	listError    error
	// reportErrors are returned by successive ReportOutcome calls before it succeeds
	reportErrors []error
	stale        []*models.Job
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		jobs: make(map[string]*models.Job),
		dlq:  make(map[string]*models.DeadLetterEntry),
	}
}

func (m *mockRepository) add(job *models.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.State == "" {
		job.State = models.StatePending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	m.jobs[job.ID] = job
	m.order = append(m.order, job.ID)
}

func (m *mockRepository) job(id string) *models.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[id]; ok {
		copied := *job
		return &copied
	}
	return nil
}

func (m *mockRepository) deadEntry(id string) *models.DeadLetterEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dlq[id]
}

func (m *mockRepository) Enqueue(ctx context.Context, job *models.Job) error {
	if m.enqueueError != nil {
		return m.enqueueError
	}
	job.State = models.StatePending
	job.CreatedAt = time.Now()
	m.add(job)
	return nil
}

func (m *mockRepository) GetJob(ctx context.Context, id string) (*models.Job, error) {
	if job := m.job(id); job != nil {
		return job, nil
	}
	return nil, fmt.Errorf("job %s: %w", id, models.ErrNotFound)
}

func (m *mockRepository) ClaimNext(ctx context.Context, now time.Time) (*models.Job, error) {
	if m.claimError != nil {
		return nil, m.claimError
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var best *models.Job
	for _, id := range m.order {
		job, ok := m.jobs[id]
		if !ok || job.State != models.StatePending || job.NextRunAt.After(now) {
			continue
		}
		if best == nil || job.Priority > best.Priority {
			best = job
		}
	}
	if best == nil {
		return nil, nil
	}

	best.State = models.StateProcessing
	best.UpdatedAt = now
	copied := *best
	return &copied, nil
}

func (m *mockRepository) ReportOutcome(ctx context.Context, id string, outcome models.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.reportErrors) > 0 {
		err := m.reportErrors[0]
		m.reportErrors = m.reportErrors[1:]
		return err
	}

	m.reports = append(m.reports, outcome)

	held := outcome.Attempts - 1
	if outcome.Kind == models.OutcomeCompleted {
		held = outcome.Attempts
	}
	job, ok := m.jobs[id]
	if !ok || job.State != models.StateProcessing || job.Attempts != held {
		return fmt.Errorf("report %s: %w", id, models.ErrStaleOutcome)
	}

	switch outcome.Kind {
	case models.OutcomeCompleted:
		job.State = models.StateCompleted
	case models.OutcomeRetry:
		job.State = models.StatePending
		job.Attempts = outcome.Attempts
		job.NextRunAt = outcome.NextRunAt
	case models.OutcomeDead:
		m.dlq[id] = &models.DeadLetterEntry{
			ID:         id,
			Command:    job.Command,
			Attempts:   outcome.Attempts,
			MaxRetries: job.MaxRetries,
			CreatedAt:  job.CreatedAt,
			MovedAt:    time.Now(),
			Error:      outcome.Error,
		}
		delete(m.jobs, id)
	}
	job.LastDuration = outcome.Duration
	job.LastExitCode = outcome.ExitCode
	return nil
}

func (m *mockRepository) Heartbeat(ctx context.Context, id string, attempts int, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok || job.State != models.StateProcessing || job.Attempts != attempts {
		return fmt.Errorf("refresh %s: %w", id, models.ErrStaleOutcome)
	}
	job.UpdatedAt = now
	m.heartbeats++
	return nil
}

func (m *mockRepository) heartbeatCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.heartbeats
}

func (m *mockRepository) RecoverStale(ctx context.Context, cutoff time.Time) ([]*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stale := m.stale
	m.stale = nil
	return stale, nil
}

func (m *mockRepository) ListJobs(ctx context.Context, state models.JobState) ([]*models.Job, error) {
	if m.listError != nil {
		return nil, m.listError
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var result []*models.Job
	for _, id := range m.order {
		job, ok := m.jobs[id]
		if ok && (state == "" || job.State == state) {
			result = append(result, job)
		}
	}
	return result, nil
}

func (m *mockRepository) RecentJobs(ctx context.Context, limit int) ([]*models.Job, error) {
	jobs, err := m.ListJobs(ctx, "")
	if err != nil {
		return nil, err
	}
	sort.SliceStable(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (m *mockRepository) Metrics(ctx context.Context) (*models.Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	summary := &models.Summary{Dead: len(m.dlq)}
	for _, job := range m.jobs {
		switch job.State {
		case models.StatePending:
			summary.Pending++
		case models.StateProcessing:
			summary.Processing++
		case models.StateCompleted:
			summary.Completed++
		}
	}
	summary.Total = len(m.jobs) + len(m.dlq)
	summary.SuccessRate = models.SuccessRateOf(summary.Completed, summary.Dead)
	return summary, nil
}

func (m *mockRepository) MoveIn(ctx context.Context, job *models.Job, cause string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dlq[job.ID] = &models.DeadLetterEntry{ID: job.ID, Command: job.Command, Attempts: job.Attempts, Error: cause, MovedAt: time.Now()}
	delete(m.jobs, job.ID)
	return nil
}

func (m *mockRepository) ListDeadLetter(ctx context.Context) ([]*models.DeadLetterEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var entries []*models.DeadLetterEntry
	for _, entry := range m.dlq {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries, nil
}

func (m *mockRepository) Reinstate(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	entry, ok := m.dlq[id]
	if !ok {
		m.mu.Unlock()
		return false, nil
	}
	delete(m.dlq, id)
	m.mu.Unlock()

	m.add(&models.Job{ID: id, Command: entry.Command, MaxRetries: entry.MaxRetries, Priority: models.DefaultPriority})
	return true, nil
}

func (m *mockRepository) ReinstateAll(ctx context.Context) (int, error) {
	entries, _ := m.ListDeadLetter(ctx)
	for _, entry := range entries {
		if _, err := m.Reinstate(ctx, entry.ID); err != nil {
			return 0, err
		}
	}
	return len(entries), nil
}

func (m *mockRepository) RemoveDeadLetter(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removals = append(m.removals, id)
	delete(m.dlq, id)
	return nil
}

func (m *mockRepository) CountDeadLetter(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.dlq), nil
}

// fakeRunner returns scripted results in order, repeating the last one
type fakeRunner struct {
	mu      sync.Mutex
	results []executor.Result
	ran     []string
	// during is called while the job runs
	during func(job *models.Job)
}

func (f *fakeRunner) Run(job *models.Job) executor.Result {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ran = append(f.ran, job.ID)
	if f.during != nil {
		f.during(job)
	}
	if len(f.results) == 0 {
		code := 0
		return executor.Result{ExitCode: &code, Duration: 10 * time.Millisecond}
	}
	result := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	return result
}

func (f *fakeRunner) runs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ran...)
}

func exitResult(code int) executor.Result {
	result := executor.Result{ExitCode: &code, Duration: 50 * time.Millisecond}
	if code != 0 {
		result.Failure = &models.Failure{Kind: models.FailureNonZeroExit, ExitCode: code}
	}
	return result
}

func timeoutResult() executor.Result {
	return executor.Result{
		Duration: 2 * time.Second,
		Failure:  &models.Failure{Kind: models.FailureTimeout},
	}
}
