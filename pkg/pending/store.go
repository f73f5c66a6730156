// Package pending keeps sandbox analysis jobs that ran past their polling
// deadline, so they can be resumed later instead of uploading the file
// again. Only unfinished work is stored; verdicts are never cached here.
package pending

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/exploopio/filescan/pkg/errors"
)

// Job is an analysis job waiting to be resumed.
type Job struct {
	ID string `json:"id"`

	// JobID is the remote analysis id.
	JobID       string `json:"job_id"`
	ContentHash string `json:"content_hash"`
	FilePath    string `json:"file_path"`
	FileSize    int64  `json:"file_size"`

	Attempts      int       `json:"attempts"`
	LastError     string    `json:"last_error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
}

// Config configures the store.
type Config struct {
	// DatabasePath is the sqlite file. Default: ~/.filescan/pending.db.
	DatabasePath string `yaml:"database_path" json:"database_path"`

	// MaxAttempts is how many resumes a job gets before Due stops
	// returning it. Default 10.
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`

	Backoff *BackoffConfig `yaml:"-" json:"-"`

	// Now overrides the clock, for tests.
	Now func() time.Time `yaml:"-" json:"-"`
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() *Config {
	dir, err := os.UserHomeDir()
	if err != nil {
		dir = os.TempDir()
	}
	return &Config{
		DatabasePath: filepath.Join(dir, ".filescan", "pending.db"),
		MaxAttempts:  10,
		Backoff:      DefaultBackoffConfig(),
	}
}

// Store is a sqlite-backed set of pending jobs.
type Store struct {
	db          *sql.DB
	mu          sync.RWMutex
	maxAttempts int
	backoff     *BackoffConfig
	now         func() time.Time
}

// Open opens or creates the store.
func Open(cfg *Config) (*Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = DefaultConfig().DatabasePath
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	s := &Store{
		db:          db,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.Backoff,
		now:         cfg.Now,
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = 10
	}
	if s.backoff == nil {
		s.backoff = DefaultBackoffConfig()
	}
	if s.now == nil {
		s.now = time.Now
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS pending_jobs (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL UNIQUE,
		content_hash TEXT NOT NULL,
		file_path TEXT NOT NULL DEFAULT '',
		file_size INTEGER NOT NULL DEFAULT 0,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		next_attempt_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_pending_next_attempt ON pending_jobs(next_attempt_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Save records a job. Saving a remote job id that is already stored
// refreshes its error and timestamps but keeps its attempt count. The
// first resume is scheduled one backoff interval after creation unless
// NextAttemptAt is set.
func (s *Store) Save(ctx context.Context, job *Job) error {
	if job.JobID == "" {
		return errors.E(errors.KindInvalidInput, "pending.Save", "job id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if job.NextAttemptAt.IsZero() {
		job.NextAttemptAt = s.backoff.NextAttempt(now, 1)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_jobs (
			id, job_id, content_hash, file_path, file_size, attempts,
			last_error, created_at, updated_at, next_attempt_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			last_error = excluded.last_error,
			updated_at = excluded.updated_at,
			next_attempt_at = excluded.next_attempt_at
	`,
		job.ID, job.JobID, job.ContentHash, job.FilePath, job.FileSize, job.Attempts,
		job.LastError, toMillis(job.CreatedAt), toMillis(job.UpdatedAt), toMillis(job.NextAttemptAt),
	)
	if err != nil {
		return fmt.Errorf("save pending job: %w", err)
	}
	return nil
}

const selectColumns = `
	SELECT id, job_id, content_hash, file_path, file_size, attempts,
		last_error, created_at, updated_at, next_attempt_at
	FROM pending_jobs`

// Get returns a job by its store id.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, err := scanJob(s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, errors.E(errors.KindNotFound, "pending.Get", fmt.Sprintf("no pending job %s", id))
	}
	if err != nil {
		return nil, fmt.Errorf("get pending job: %w", err)
	}
	return job, nil
}

// Due returns jobs whose next attempt is at or before now and that have
// attempts left, oldest schedule first.
func (s *Store) Due(ctx context.Context, now time.Time) ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, selectColumns+`
		WHERE next_attempt_at <= ? AND attempts < ?
		ORDER BY next_attempt_at ASC, created_at ASC
	`, toMillis(now), s.maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("query due jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// RecordAttempt counts a failed resume and schedules the next one with the
// backoff policy.
func (s *Store) RecordAttempt(ctx context.Context, id string, attemptErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var attempts int
	err := s.db.QueryRowContext(ctx, `SELECT attempts FROM pending_jobs WHERE id = ?`, id).Scan(&attempts)
	if err == sql.ErrNoRows {
		return errors.E(errors.KindNotFound, "pending.RecordAttempt", fmt.Sprintf("no pending job %s", id))
	}
	if err != nil {
		return fmt.Errorf("read attempts: %w", err)
	}

	attempts++
	now := s.now()
	msg := ""
	if attemptErr != nil {
		msg = attemptErr.Error()
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE pending_jobs
		SET attempts = ?, last_error = ?, updated_at = ?, next_attempt_at = ?
		WHERE id = ?
	`, attempts, msg, toMillis(now), toMillis(s.backoff.NextAttempt(now, attempts+1)), id)
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

// Delete removes a job, typically once it has resolved.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_jobs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete pending job: %w", err)
	}
	return nil
}

// Count returns the number of stored jobs, exhausted ones included.
func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_jobs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending jobs: %w", err)
	}
	return n, nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var created, updated, next int64
	err := row.Scan(
		&job.ID, &job.JobID, &job.ContentHash, &job.FilePath, &job.FileSize,
		&job.Attempts, &job.LastError, &created, &updated, &next,
	)
	if err != nil {
		return nil, err
	}
	job.CreatedAt = fromMillis(created)
	job.UpdatedAt = fromMillis(updated)
	job.NextAttemptAt = fromMillis(next)
	return &job, nil
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
