package store

import (
	"context"
	"database/sql"
	"time"

	json "github.com/goccy/go-json"
)

// StartNewRun inserts a new run row for the caller-supplied runID in
// status "running", as required by section 4.1 (run lifecycle) and section 4.6 (the
// Workflow Coordinator rejects concurrent runs for the same case).
func (s *Store) StartNewRun(ctx context.Context, runID, caseID string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tbl_runs (run_id, case_id, started_at, status) VALUES (?, ?, ?, ?)`,
		runID, caseID, now, RunStatusRunning,
	)
	if err != nil {
		return wrapErr("StartNewRun", err)
	}
	return nil
}

// MarkRunCompleted transitions a run to its terminal status and stamps
// finished_at, as required by section 4.1.
func (s *Store) MarkRunCompleted(ctx context.Context, runID string, status RunStatus) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`UPDATE tbl_runs SET status = ?, finished_at = ? WHERE run_id = ?`,
		status, now, runID,
	)
	if err != nil {
		return wrapErr("MarkRunCompleted", err)
	}
	return nil
}

// GetCurrentRunID returns the run_id of the most recently started run
// still in status "running" for a case, or "" if none, as required by
// the Workflow Coordinator's active-run check (section 4.6).
func (s *Store) GetCurrentRunID(ctx context.Context, caseID string) (string, error) {
	var runID string
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id FROM tbl_runs WHERE case_id = ? AND status = ? ORDER BY started_at DESC LIMIT 1`,
		caseID, RunStatusRunning,
	).Scan(&runID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", wrapErr("GetCurrentRunID", err)
	}
	return runID, nil
}

// GetLastCompletedRunID returns the most recently finished run id for a
// case, used by resume logic to carry forward completed-paths context
// when no explicit run id is given (section 4.2, the "global" lookup).
func (s *Store) GetLastCompletedRunID(ctx context.Context, caseID string) (string, error) {
	var runID string
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id FROM tbl_runs WHERE case_id = ? AND status = ? ORDER BY finished_at DESC LIMIT 1`,
		caseID, RunStatusDone,
	).Scan(&runID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", wrapErr("GetLastCompletedRunID", err)
	}
	return runID, nil
}

// GetAllRunIDsOrdered returns every run id for a case ordered by
// started_at, oldest first.
func (s *Store) GetAllRunIDsOrdered(ctx context.Context, caseID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id FROM tbl_runs WHERE case_id = ? ORDER BY started_at ASC`, caseID)
	if err != nil {
		return nil, wrapErr("GetAllRunIDsOrdered", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrapErr("GetAllRunIDsOrdered", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// GetCumulativeStats aggregates success/failed/total checkpoint counts
// across every run for a case, optionally narrowed by brand/purchaser,
// as required by section 4.7 (cumulative, cross-run metrics).
func (s *Store) GetCumulativeStats(ctx context.Context, caseID string, filter StatsFilter) (CumulativeStats, error) {
	query := `
		SELECT
			COALESCE(SUM(CASE WHEN c.status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN c.status = ? THEN 1 ELSE 0 END), 0),
			COUNT(*)
		FROM tbl_checkpoints c
		JOIN tbl_runs r ON r.run_id = c.run_id
		WHERE r.case_id = ?
	`
	args := []any{StatusDone, StatusError, caseID}
	if filter.Brand != "" {
		query += " AND c.brand = ?"
		args = append(args, filter.Brand)
	}
	if filter.Purchaser != "" {
		query += " AND c.purchaser = ?"
		args = append(args, filter.Purchaser)
	}

	var stats CumulativeStats
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&stats.Success, &stats.Failed, &stats.Total)
	if err != nil {
		return CumulativeStats{}, wrapErr("GetCumulativeStats", err)
	}
	return stats, nil
}

// SaveRunSummary persists the computed Report (section 4.7) against its
// run, serialized as opaque JSON.
func (s *Store) SaveRunSummary(ctx context.Context, runID string, summary json.RawMessage) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tbl_runs SET summary = ? WHERE run_id = ?`, string(summary), runID,
	)
	if err != nil {
		return wrapErr("SaveRunSummary", err)
	}
	return nil
}

// GetRunSummary returns the previously saved summary for a run, or nil
// if none has been saved yet.
func (s *Store) GetRunSummary(ctx context.Context, runID string) (json.RawMessage, error) {
	var summary sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT summary FROM tbl_runs WHERE run_id = ?`, runID).Scan(&summary)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("GetRunSummary", err)
	}
	if !summary.Valid || summary.String == "" {
		return nil, nil
	}
	return json.RawMessage(summary.String), nil
}
