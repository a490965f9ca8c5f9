package repository

import (
	"context"
	"database/sql"
	"errors"
	"queuectl/internal/models"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestSQLiteRepository_StoreErrors(t *testing.T) {
	tests := []struct {
		name            string
		setup           func(mock sqlmock.Sqlmock)
		call            func(repo *SQLiteRepository) error
		wantUnavailable bool
	}{
		{
			name: "claim with closed connection",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta("UPDATE jobs")).WillReturnError(sql.ErrConnDone)
			},
			call: func(repo *SQLiteRepository) error {
				_, err := repo.ClaimNext(context.Background(), time.Now())
				return err
			},
			wantUnavailable: true,
		},
		{
			name: "metrics with closed connection",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta("SELECT")).WillReturnError(sql.ErrConnDone)
			},
			call: func(repo *SQLiteRepository) error {
				_, err := repo.Metrics(context.Background())
				return err
			},
			wantUnavailable: true,
		},
		{
			name: "retry report with generic failure",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(regexp.QuoteMeta("UPDATE jobs")).WillReturnError(errors.New("syntax error"))
			},
			call: func(repo *SQLiteRepository) error {
				return repo.ReportOutcome(context.Background(), "job-1", models.Retry(1, time.Now(), 0, nil, "x"))
			},
			wantUnavailable: false,
		},
		{
			name: "dead report rolls back when delete fails",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta("INSERT OR REPLACE INTO dlq")).
					WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectExec(regexp.QuoteMeta("DELETE FROM jobs")).WillReturnError(sql.ErrConnDone)
				mock.ExpectRollback()
			},
			call: func(repo *SQLiteRepository) error {
				return repo.ReportOutcome(context.Background(), "job-1", models.Dead(4, 0, nil, "x"))
			},
			wantUnavailable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			tt.setup(mock)
			repo := NewSQLiteRepositoryFromDB(db)

			err = tt.call(repo)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if got := errors.Is(err, models.ErrStoreUnavailable); got != tt.wantUnavailable {
				t.Errorf("errors.Is(ErrStoreUnavailable) = %v, want %v (err=%v)", got, tt.wantUnavailable, err)
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestSQLiteRepository_ReportOutcome_NoRowChangedIsStale(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(mock sqlmock.Sqlmock)
		outcome models.Outcome
	}{
		{
			name: "completed",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(regexp.QuoteMeta("UPDATE jobs")).WillReturnResult(sqlmock.NewResult(0, 0))
			},
			outcome: models.Completed(0, 1, 0),
		},
		{
			name: "retry",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(regexp.QuoteMeta("UPDATE jobs")).WillReturnResult(sqlmock.NewResult(0, 0))
			},
			outcome: models.Retry(1, time.Now(), 0, nil, "x"),
		},
		{
			name: "dead",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta("INSERT OR REPLACE INTO dlq")).
					WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectRollback()
			},
			outcome: models.Dead(4, 0, nil, "x"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			tt.setup(mock)
			repo := NewSQLiteRepositoryFromDB(db)

			err = repo.ReportOutcome(context.Background(), "job-1", tt.outcome)
			if !errors.Is(err, models.ErrStaleOutcome) {
				t.Errorf("expected stale outcome, got %v", err)
			}
			if errors.Is(err, models.ErrStoreUnavailable) {
				t.Errorf("expected stale outcome not to read as unavailable, got %v", err)
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestSQLiteRepository_Reinstate_MissingEntry(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT command, max_retries, created_at FROM dlq")).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"command", "max_retries", "created_at"}))
	mock.ExpectRollback()

	repo := NewSQLiteRepositoryFromDB(db)
	ok, err := repo.Reinstate(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if ok {
		t.Error("expected reinstate of missing entry to report false")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
