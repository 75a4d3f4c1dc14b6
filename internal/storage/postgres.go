package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"unlocker/internal/domain"
)

// ErrNotFound is returned when no result is stored for a URL.
var ErrNotFound = fmt.Errorf("not_found")

// PostgresStore persists terminal resolution results so service-mode status
// queries survive the task objects being discarded. Only outputs are stored;
// per-task session state never touches the database.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *PostgresStore) Close() {
	s.db.Close()
}

// SaveResult upserts the terminal state of a task keyed by source URL.
func (s *PostgresStore) SaveResult(ctx context.Context, task *domain.LinkTask) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO resolved_links (source_url, resolved_url, state, error_kind, fail_reason, attempts, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (source_url) DO UPDATE SET
		   resolved_url = EXCLUDED.resolved_url, state = EXCLUDED.state,
		   error_kind = EXCLUDED.error_kind, fail_reason = EXCLUDED.fail_reason,
		   attempts = EXCLUDED.attempts, finished_at = EXCLUDED.finished_at`,
		task.SourceURL, task.ResolvedURL, task.State, task.ErrorKind, task.FailReason, task.Attempts, task.FinishedAt,
	)
	return err
}

// GetResult retrieves the stored terminal result for a source URL.
func (s *PostgresStore) GetResult(ctx context.Context, sourceURL string) (*domain.LinkTask, error) {
	task := &domain.LinkTask{SourceURL: sourceURL}
	err := s.db.QueryRow(ctx,
		`SELECT resolved_url, state, error_kind, fail_reason, attempts, finished_at
		 FROM resolved_links WHERE source_url = $1`,
		sourceURL,
	).Scan(&task.ResolvedURL, &task.State, &task.ErrorKind, &task.FailReason, &task.Attempts, &task.FinishedAt)

	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}
