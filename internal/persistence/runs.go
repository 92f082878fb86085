package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/aristath/sweeprun/internal/scheduler"
)

// RecordRun stores the report's run summary and every task result in one
// transaction and returns the stored run with its new ID.
func (s *SQLiteStore) RecordRun(ctx context.Context, meta RunMeta, report *scheduler.Report) (*Run, error) {
	counts := report.Counts()
	run := &Run{
		ID:          uuid.NewString(),
		Directory:   meta.Directory,
		Fingerprint: strconv.FormatUint(meta.Fingerprint, 16),
		FailureMode: report.Mode.String(),
		StartedAt:   report.StartedAt,
		Duration:    report.Duration,
		Total:       len(report.Tasks),
		Succeeded:   counts[scheduler.TaskSucceeded],
		Skipped:     counts[scheduler.TaskSkipped],
		Failed:      counts[scheduler.TaskFailed],
		Cancelled:   counts[scheduler.TaskCancelled],
		Interrupted: meta.Interrupted,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, directory, fingerprint, failure_mode, started_at, duration_ms,
			total, succeeded, skipped, failed, cancelled, interrupted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Directory, run.Fingerprint, run.FailureMode, run.StartedAt.UnixNano(), run.Duration.Milliseconds(),
		run.Total, run.Succeeded, run.Skipped, run.Failed, run.Cancelled, run.Interrupted)
	if err != nil {
		return nil, fmt.Errorf("failed to insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO task_results (run_id, task_id, state, exit_code, error, command, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare task insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range report.Tasks {
		var errStr sql.NullString
		if t.Err != nil {
			errStr = sql.NullString{String: t.Err.Error(), Valid: true}
		}
		var started sql.NullInt64
		if !t.StartedAt.IsZero() {
			started = sql.NullInt64{Int64: t.StartedAt.UnixNano(), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, run.ID, t.ID, t.State.String(), t.ExitCode, errStr,
			t.Command.String(), started, t.Duration.Milliseconds()); err != nil {
			return nil, fmt.Errorf("failed to insert result for task %s: %w", t.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return run, nil
}

const runColumns = `id, directory, fingerprint, failure_mode, started_at, duration_ms,
	total, succeeded, skipped, failed, cancelled, interrupted`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var r Run
	var startedAt, durationMs int64
	err := row.Scan(&r.ID, &r.Directory, &r.Fingerprint, &r.FailureMode, &startedAt, &durationMs,
		&r.Total, &r.Succeeded, &r.Skipped, &r.Failed, &r.Cancelled, &r.Interrupted)
	if err != nil {
		return nil, err
	}
	r.StartedAt = time.Unix(0, startedAt)
	r.Duration = time.Duration(durationMs) * time.Millisecond
	return &r, nil
}

// GetRun retrieves a run by ID. Returns an error wrapping ErrNotFound if it
// does not exist.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs first. limit <= 0 returns all runs.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

const resultColumns = `run_id, task_id, state, exit_code, error, command, started_at, duration_ms`

func (s *SQLiteStore) queryResults(ctx context.Context, query string, args ...any) ([]TaskResult, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query task results: %w", err)
	}
	defer rows.Close()

	var results []TaskResult
	for rows.Next() {
		var r TaskResult
		var errStr sql.NullString
		var started sql.NullInt64
		var durationMs int64
		if err := rows.Scan(&r.RunID, &r.TaskID, &r.State, &r.ExitCode, &errStr, &r.Command, &started, &durationMs); err != nil {
			return nil, fmt.Errorf("failed to scan task result: %w", err)
		}
		r.Error = errStr.String
		if started.Valid {
			r.StartedAt = time.Unix(0, started.Int64)
		}
		r.Duration = time.Duration(durationMs) * time.Millisecond
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task results: %w", err)
	}
	return results, nil
}

// TaskResults returns every task result of a run, ordered by task ID.
func (s *SQLiteStore) TaskResults(ctx context.Context, runID string) ([]TaskResult, error) {
	return s.queryResults(ctx, `
		SELECT `+resultColumns+`
		FROM task_results
		WHERE run_id = ?
		ORDER BY task_id
	`, runID)
}

// TaskHistory returns a task's results across runs, most recent run first.
func (s *SQLiteStore) TaskHistory(ctx context.Context, taskID string, limit int) ([]TaskResult, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.queryResults(ctx, `
		SELECT t.run_id, t.task_id, t.state, t.exit_code, t.error, t.command, t.started_at, t.duration_ms
		FROM task_results t
		JOIN runs r ON r.id = t.run_id
		WHERE t.task_id = ?
		ORDER BY r.started_at DESC, r.rowid DESC
		LIMIT ?
	`, taskID, limit)
}

// PruneRuns deletes all but the keep most recent runs together with their
// task results. Returns the number of runs deleted.
func (s *SQLiteStore) PruneRuns(ctx context.Context, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM runs
		WHERE id NOT IN (
			SELECT id FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?
		)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}
