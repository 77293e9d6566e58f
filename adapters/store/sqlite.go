package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/satriahrh/cocoa-fruit/primeworks/domain"
)

const schema = `CREATE TABLE IF NOT EXISTS jobs (
	id          TEXT PRIMARY KEY,
	bound       INTEGER NOT NULL,
	chunk_size  INTEGER NOT NULL,
	status      TEXT NOT NULL,
	prime_count INTEGER NOT NULL,
	digest      TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL,
	finished_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_finished ON jobs(finished_at);`

// SQLiteStore archives finished jobs in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path. Use ":memory:" for a
// throwaway store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serialises writers.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		schema,
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialise database: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, rec domain.JobRecord) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO jobs
		(id, bound, chunk_size, status, prime_count, digest, error, created_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Bound, rec.ChunkSize, string(rec.Status), rec.Count, rec.Digest, rec.Error,
		rec.CreatedAt.UnixNano(), rec.FinishedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save job %s: %w", rec.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (domain.JobRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, bound, chunk_size, status, prime_count, digest, error, created_at, finished_at
		FROM jobs WHERE id = ?`, id)
	rec, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.JobRecord{}, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}
	if err != nil {
		return domain.JobRecord{}, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return rec, nil
}

func (s *SQLiteStore) List(ctx context.Context, limit int) ([]domain.JobRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, bound, chunk_size, status, prime_count, digest, error, created_at, finished_at
		FROM jobs ORDER BY finished_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	records := make([]domain.JobRecord, 0, limit)
	for rows.Next() {
		rec, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to read job: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(row scanner) (domain.JobRecord, error) {
	var (
		rec               domain.JobRecord
		status            string
		created, finished int64
	)
	err := row.Scan(&rec.ID, &rec.Bound, &rec.ChunkSize, &status, &rec.Count, &rec.Digest, &rec.Error, &created, &finished)
	if err != nil {
		return domain.JobRecord{}, err
	}
	rec.Status = domain.JobStatus(status)
	rec.CreatedAt = time.Unix(0, created).UTC()
	rec.FinishedAt = time.Unix(0, finished).UTC()
	return rec, nil
}

// Nop discards every record. It backs the service when no database path is
// configured.
type Nop struct{}

func (Nop) Save(context.Context, domain.JobRecord) error { return nil }

func (Nop) Get(_ context.Context, id string) (domain.JobRecord, error) {
	return domain.JobRecord{}, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
}

func (Nop) List(context.Context, int) ([]domain.JobRecord, error) { return nil, nil }

func (Nop) Close() error { return nil }
