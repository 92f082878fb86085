package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/aristath/sweeprun/internal/scheduler"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("not found")

// RunMeta describes a run beyond what its report holds.
type RunMeta struct {
	Directory   string // Sweep output directory
	Fingerprint uint64 // Graph fingerprint
	Interrupted bool   // Run was stopped by a signal
}

// Run is a recorded scheduler run.
type Run struct {
	ID          string
	Directory   string
	Fingerprint string
	FailureMode string
	StartedAt   time.Time
	Duration    time.Duration
	Total       int
	Succeeded   int
	Skipped     int
	Failed      int
	Cancelled   int
	Interrupted bool
}

// TaskResult is one task's outcome within a recorded run.
type TaskResult struct {
	RunID     string
	TaskID    string
	State     string
	ExitCode  int
	Error     string
	Command   string
	StartedAt time.Time // Zero when the task never launched
	Duration  time.Duration
}

// Store defines the persistence interface for run history.
type Store interface {
	RecordRun(ctx context.Context, meta RunMeta, report *scheduler.Report) (*Run, error)
	GetRun(ctx context.Context, runID string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]*Run, error)
	TaskResults(ctx context.Context, runID string) ([]TaskResult, error)
	TaskHistory(ctx context.Context, taskID string, limit int) ([]TaskResult, error)
	PruneRuns(ctx context.Context, keep int) (int, error)

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-backed store at the given path.
// Creates parent directories if needed. Enables WAL mode, foreign keys, and busy timeout.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	// Note: modernc.org/sqlite doesn't support _foreign_keys in connection string
	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)
	return open(ctx, connStr)
}

// NewMemoryStore creates an in-memory SQLite store for testing. Each store
// gets its own named database shared by its connections.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	connStr := fmt.Sprintf("file:history-%s?mode=memory&cache=shared", uuid.NewString())
	return open(ctx, connStr)
}

func open(ctx context.Context, connStr string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection keeps the foreign_keys pragma in effect for every
	// statement and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
