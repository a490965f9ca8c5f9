package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"queuectl/internal/models"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

// Ensure SQLiteRepository implements both store interfaces at compile time.
var (
	_ JobRepository        = (*SQLiteRepository)(nil)
	_ DeadLetterRepository = (*SQLiteRepository)(nil)
)

const jobColumns = `id, command, state, attempts, max_retries, priority,
	created_at, updated_at, next_run_at, last_duration, last_exit_code`

// SQLiteRepository implements JobRepository and DeadLetterRepository using SQLite.
// Both stores live in one database file so a job can move between them in one transaction.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite repository
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, storeError("ping database", err)
	}

	repo := &SQLiteRepository{db: db}
	if err := repo.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return repo, nil
}

// NewSQLiteRepositoryFromDB wraps an already opened handle. The schema is not touched.
func NewSQLiteRepositoryFromDB(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Close closes the database connection
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// initSchema initializes the database schema
func (r *SQLiteRepository) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		command TEXT NOT NULL,
		state TEXT NOT NULL DEFAULT 'pending',
		attempts INTEGER NOT NULL DEFAULT 0,
		max_retries INTEGER NOT NULL DEFAULT 3,
		priority INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		next_run_at INTEGER NOT NULL DEFAULT 0,
		last_duration REAL NOT NULL DEFAULT 0,
		last_exit_code INTEGER DEFAULT NULL
	);

	CREATE TABLE IF NOT EXISTS dlq (
		id TEXT PRIMARY KEY,
		command TEXT NOT NULL,
		attempts INTEGER NOT NULL,
		max_retries INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		moved_at INTEGER NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		last_duration REAL NOT NULL DEFAULT 0
	);
	`

	if _, err := r.db.Exec(schema); err != nil {
		return err
	}
	if err := r.ensureColumns(); err != nil {
		return err
	}

	_, err := r.db.Exec(`
	CREATE INDEX IF NOT EXISTS idx_jobs_claim ON jobs(state, priority DESC, created_at);
	CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);
	`)
	return err
}

// ensureColumns upgrades job tables created before the scheduling columns existed
func (r *SQLiteRepository) ensureColumns() error {
	rows, err := r.db.Query("PRAGMA table_info(jobs)")
	if err != nil {
		return err
	}
	existing := make(map[string]bool)
	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			rows.Close()
			return err
		}
		existing[name] = true
	}
	if err := rows.Close(); err != nil {
		return err
	}

	expected := []struct {
		name string
		stmt string
	}{
		{"priority", "ALTER TABLE jobs ADD COLUMN priority INTEGER NOT NULL DEFAULT 1"},
		{"next_run_at", "ALTER TABLE jobs ADD COLUMN next_run_at INTEGER NOT NULL DEFAULT 0"},
		{"last_duration", "ALTER TABLE jobs ADD COLUMN last_duration REAL NOT NULL DEFAULT 0"},
		{"last_exit_code", "ALTER TABLE jobs ADD COLUMN last_exit_code INTEGER DEFAULT NULL"},
	}
	for _, col := range expected {
		if existing[col.name] {
			continue
		}
		if _, err := r.db.Exec(col.stmt); err != nil {
			return fmt.Errorf("failed to add column %s: %w", col.name, err)
		}
	}
	return nil
}

// Enqueue creates a new pending job
func (r *SQLiteRepository) Enqueue(ctx context.Context, job *models.Job) error {
	if strings.TrimSpace(job.Command) == "" {
		return models.ValidationError("command is required")
	}
	if job.MaxRetries < 0 {
		return models.ValidationError("max_retries must not be negative")
	}

	query := `
		INSERT INTO jobs (id, command, state, attempts, max_retries, priority, created_at, updated_at, next_run_at)
		VALUES (?, ?, ?, 0, ?, ?, ?, ?, ?)
	`

	now := time.Now()
	job.State = models.StatePending
	job.Attempts = 0
	job.CreatedAt = now
	job.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, query,
		job.ID,
		job.Command,
		job.State,
		job.MaxRetries,
		job.Priority,
		toUnix(job.CreatedAt),
		toUnix(job.UpdatedAt),
		toUnix(job.NextRunAt),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return models.ValidationError(fmt.Sprintf("job %s already exists", job.ID))
		}
		return storeError("create job", err)
	}

	return nil
}

// GetJob retrieves a job by ID
func (r *SQLiteRepository) GetJob(ctx context.Context, id string) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`

	job, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("job %s: %w", id, models.ErrNotFound)
		}
		return nil, storeError("get job", err)
	}
	return job, nil
}

// ClaimNext picks the highest priority, oldest eligible pending job and marks it
// processing. Selection and update are one UPDATE ... RETURNING statement, which
// SQLite runs under its write lock, so two workers can never claim the same row.
func (r *SQLiteRepository) ClaimNext(ctx context.Context, now time.Time) (*models.Job, error) {
	query := `
		UPDATE jobs
		SET state = 'processing', updated_at = ?
		WHERE id = (
			SELECT id FROM jobs
			WHERE state = 'pending' AND next_run_at <= ?
			ORDER BY priority DESC, created_at ASC, rowid ASC
			LIMIT 1
		) AND state = 'pending'
		RETURNING ` + jobColumns

	nowUnix := toUnix(now)
	job, err := scanJob(r.db.QueryRowContext(ctx, query, nowUnix, nowUnix))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, storeError("claim job", err)
	}
	return job, nil
}

// ReportOutcome applies the result of an attempt to a processing job.
// The update is conditional on the job still being processing with the attempt
// count it was claimed with, so a duplicate report is a no-op.
func (r *SQLiteRepository) ReportOutcome(ctx context.Context, id string, outcome models.Outcome) error {
	now := time.Now()

	switch outcome.Kind {
	case models.OutcomeCompleted:
		query := `
			UPDATE jobs
			SET state = 'completed', updated_at = ?, last_duration = ?, last_exit_code = ?
			WHERE id = ? AND state = 'processing' AND attempts = ?
		`
		res, err := r.db.ExecContext(ctx, query, toUnix(now), outcome.Duration, exitCodeArg(outcome.ExitCode), id, outcome.Attempts)
		if err != nil {
			return storeError("complete job", err)
		}
		return applied(res, id, "complete job")

	case models.OutcomeRetry:
		query := `
			UPDATE jobs
			SET state = 'pending', attempts = ?, next_run_at = ?, updated_at = ?,
			    last_duration = ?, last_exit_code = ?
			WHERE id = ? AND state = 'processing' AND attempts = ?
		`
		res, err := r.db.ExecContext(ctx, query,
			outcome.Attempts,
			toUnix(outcome.NextRunAt),
			toUnix(now),
			outcome.Duration,
			exitCodeArg(outcome.ExitCode),
			id,
			outcome.Attempts-1,
		)
		if err != nil {
			return storeError("schedule retry", err)
		}
		return applied(res, id, "schedule retry")

	case models.OutcomeDead:
		return r.moveProcessingToDeadLetter(ctx, id, outcome, now)
	}

	return models.ValidationError(fmt.Sprintf("unknown outcome %q", outcome.Kind))
}

func (r *SQLiteRepository) moveProcessingToDeadLetter(ctx context.Context, id string, outcome models.Outcome, now time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storeError("begin transaction", err)
	}
	defer tx.Rollback()

	insertQuery := `
		INSERT OR REPLACE INTO dlq (id, command, attempts, max_retries, created_at, moved_at, error, last_duration)
		SELECT id, command, ?, max_retries, created_at, ?, ?, ?
		FROM jobs
		WHERE id = ? AND state = 'processing' AND attempts = ?
	`
	res, err := tx.ExecContext(ctx, insertQuery,
		outcome.Attempts,
		toUnix(now),
		outcome.Error,
		outcome.Duration,
		id,
		outcome.Attempts-1,
	)
	if err != nil {
		return storeError("insert into dead letter store", err)
	}
	if err := applied(res, id, "insert into dead letter store"); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM jobs WHERE id = ?", id); err != nil {
		return storeError("delete job", err)
	}

	if err := tx.Commit(); err != nil {
		return storeError("commit transaction", err)
	}
	return nil
}

// Heartbeat bumps updated_at for a job still processing the given attempt
func (r *SQLiteRepository) Heartbeat(ctx context.Context, id string, attempts int, now time.Time) error {
	query := `
		UPDATE jobs
		SET updated_at = ?
		WHERE id = ? AND state = 'processing' AND attempts = ?
	`
	res, err := r.db.ExecContext(ctx, query, toUnix(now), id, attempts)
	if err != nil {
		return storeError("refresh job", err)
	}
	return applied(res, id, "refresh job")
}

// applied maps a guarded statement that matched no row to models.ErrStaleOutcome
func applied(res sql.Result, id, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return storeError(op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", op, id, models.ErrStaleOutcome)
	}
	return nil
}

// RecoverStale re-claims processing jobs whose updated_at is older than cutoff.
// Bumping updated_at in the same statement hands each job to exactly one caller.
func (r *SQLiteRepository) RecoverStale(ctx context.Context, cutoff time.Time) ([]*models.Job, error) {
	query := `
		UPDATE jobs
		SET updated_at = ?
		WHERE state = 'processing' AND updated_at < ?
		RETURNING ` + jobColumns

	rows, err := r.db.QueryContext(ctx, query, toUnix(time.Now()), toUnix(cutoff))
	if err != nil {
		return nil, storeError("recover stale jobs", err)
	}
	return collectJobs(rows)
}

// ListJobs retrieves jobs ordered by creation time, optionally filtered by state
func (r *SQLiteRepository) ListJobs(ctx context.Context, state models.JobState) ([]*models.Job, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if state == "" {
		rows, err = r.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at ASC, rowid ASC`)
	} else {
		rows, err = r.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE state = ? ORDER BY created_at ASC, rowid ASC`, state)
	}
	if err != nil {
		return nil, storeError("query jobs", err)
	}
	return collectJobs(rows)
}

// RecentJobs returns the newest jobs first
func (r *SQLiteRepository) RecentJobs(ctx context.Context, limit int) ([]*models.Job, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, storeError("query recent jobs", err)
	}
	return collectJobs(rows)
}

// Metrics aggregates counts over both tables. Dead jobs only exist in the
// dead letter table, so total and dead include it.
func (r *SQLiteRepository) Metrics(ctx context.Context) (*models.Summary, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM jobs),
			(SELECT COUNT(*) FROM jobs WHERE state = 'pending'),
			(SELECT COUNT(*) FROM jobs WHERE state = 'processing'),
			(SELECT COUNT(*) FROM jobs WHERE state = 'completed'),
			(SELECT COUNT(*) FROM dlq),
			(SELECT COALESCE(AVG(d), 0) FROM (
				SELECT last_duration AS d FROM jobs WHERE last_duration > 0
				UNION ALL
				SELECT last_duration AS d FROM dlq WHERE last_duration > 0
			))
	`

	var (
		live    int
		summary models.Summary
	)
	err := r.db.QueryRowContext(ctx, query).Scan(
		&live,
		&summary.Pending,
		&summary.Processing,
		&summary.Completed,
		&summary.Dead,
		&summary.AvgDuration,
	)
	if err != nil {
		return nil, storeError("compute metrics", err)
	}

	summary.Total = live + summary.Dead
	summary.SuccessRate = models.SuccessRateOf(summary.Completed, summary.Dead)
	return &summary, nil
}

// MoveIn parks a job in the dead letter store and removes it from the job table.
// An existing entry with the same id is replaced.
func (r *SQLiteRepository) MoveIn(ctx context.Context, job *models.Job, cause string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storeError("begin transaction", err)
	}
	defer tx.Rollback()

	insertQuery := `
		INSERT OR REPLACE INTO dlq (id, command, attempts, max_retries, created_at, moved_at, error, last_duration)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, insertQuery,
		job.ID,
		job.Command,
		job.Attempts,
		job.MaxRetries,
		toUnix(job.CreatedAt),
		toUnix(time.Now()),
		cause,
		job.LastDuration,
	)
	if err != nil {
		return storeError("insert into dead letter store", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM jobs WHERE id = ?", job.ID); err != nil {
		return storeError("delete job", err)
	}

	if err := tx.Commit(); err != nil {
		return storeError("commit transaction", err)
	}
	return nil
}

// ListDeadLetter retrieves all dead letter entries, oldest move first
func (r *SQLiteRepository) ListDeadLetter(ctx context.Context) ([]*models.DeadLetterEntry, error) {
	query := `
		SELECT id, command, attempts, max_retries, created_at, moved_at, error
		FROM dlq
		ORDER BY moved_at ASC, rowid ASC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, storeError("query dead letter entries", err)
	}
	defer rows.Close()

	var entries []*models.DeadLetterEntry
	for rows.Next() {
		var entry models.DeadLetterEntry
		var createdAt, movedAt int64

		err := rows.Scan(
			&entry.ID,
			&entry.Command,
			&entry.Attempts,
			&entry.MaxRetries,
			&createdAt,
			&movedAt,
			&entry.Error,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dead letter entry: %w", err)
		}

		entry.CreatedAt = fromUnix(createdAt)
		entry.MovedAt = fromUnix(movedAt)
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, storeError("iterate dead letter entries", err)
	}

	return entries, nil
}

// Reinstate moves a dead letter entry back to the job table as a fresh pending job.
// A leftover job row with the same id is reset instead of duplicated.
func (r *SQLiteRepository) Reinstate(ctx context.Context, id string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, storeError("begin transaction", err)
	}
	defer tx.Rollback()

	var (
		command    string
		maxRetries int
		createdAt  int64
	)
	err = tx.QueryRowContext(ctx, "SELECT command, max_retries, created_at FROM dlq WHERE id = ?", id).
		Scan(&command, &maxRetries, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, storeError("get dead letter entry", err)
	}

	nowUnix := toUnix(time.Now())
	res, err := tx.ExecContext(ctx, `
		UPDATE jobs
		SET state = 'pending', attempts = 0, next_run_at = 0, updated_at = ?
		WHERE id = ?
	`, nowUnix, id)
	if err != nil {
		return false, storeError("reset job", err)
	}
	reset, err := res.RowsAffected()
	if err != nil {
		return false, storeError("reset job", err)
	}

	if reset == 0 {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO jobs (id, command, state, attempts, max_retries, priority, created_at, updated_at, next_run_at)
			VALUES (?, ?, 'pending', 0, ?, ?, ?, ?, 0)
		`, id, command, maxRetries, models.DefaultPriority, createdAt, nowUnix)
		if err != nil {
			return false, storeError("insert reinstated job", err)
		}
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM dlq WHERE id = ?", id); err != nil {
		return false, storeError("delete dead letter entry", err)
	}

	if err := tx.Commit(); err != nil {
		return false, storeError("commit transaction", err)
	}
	return true, nil
}

// ReinstateAll reinstates every current dead letter entry and returns how many moved
func (r *SQLiteRepository) ReinstateAll(ctx context.Context) (int, error) {
	entries, err := r.ListDeadLetter(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, entry := range entries {
		ok, err := r.Reinstate(ctx, entry.ID)
		if err != nil {
			return count, err
		}
		if ok {
			count++
		}
	}
	return count, nil
}

// RemoveDeadLetter deletes a dead letter entry if present
func (r *SQLiteRepository) RemoveDeadLetter(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM dlq WHERE id = ?", id); err != nil {
		return storeError("delete dead letter entry", err)
	}
	return nil
}

// CountDeadLetter returns the number of dead letter entries
func (r *SQLiteRepository) CountDeadLetter(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM dlq").Scan(&count); err != nil {
		return 0, storeError("count dead letter entries", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var job models.Job
	var createdAt, updatedAt, nextRunAt int64
	var lastExitCode sql.NullInt64

	err := row.Scan(
		&job.ID,
		&job.Command,
		&job.State,
		&job.Attempts,
		&job.MaxRetries,
		&job.Priority,
		&createdAt,
		&updatedAt,
		&nextRunAt,
		&job.LastDuration,
		&lastExitCode,
	)
	if err != nil {
		return nil, err
	}

	job.CreatedAt = fromUnix(createdAt)
	job.UpdatedAt = fromUnix(updatedAt)
	job.NextRunAt = fromUnix(nextRunAt)
	if lastExitCode.Valid {
		code := int(lastExitCode.Int64)
		job.LastExitCode = &code
	}
	return &job, nil
}

func collectJobs(rows *sql.Rows) ([]*models.Job, error) {
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, storeError("iterate jobs", err)
	}
	return jobs, nil
}

// toUnix stores timestamps as unix nanoseconds; the zero time maps to 0
func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnix(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func exitCodeArg(code *int) any {
	if code == nil {
		return nil
	}
	return *code
}

// storeError wraps err and tags connectivity, locking and I/O failures as ErrStoreUnavailable
func storeError(op string, err error) error {
	if isUnavailable(err) {
		return fmt.Errorf("failed to %s: %w: %w", op, models.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func isUnavailable(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrCantOpen, sqlite3.ErrIoErr,
			sqlite3.ErrFull, sqlite3.ErrReadonly, sqlite3.ErrNotADB, sqlite3.ErrCorrupt:
			return true
		}
	}
	return false
}
