package store

import (
	"context"
	"database/sql"
	"fmt"
)

// UpsertCheckpoint atomically writes a single checkpoint, as required by
// section 4.1. Last write wins at (RunID, RelativePath).
func (s *Store) UpsertCheckpoint(ctx context.Context, c Checkpoint) error {
	return s.UpsertCheckpoints(ctx, []Checkpoint{c})
}

// UpsertCheckpoints atomically writes a batch of checkpoints in a single
// transaction, as required by section 4.1 ("bulk checkpoint upserts").
func (s *Store) UpsertCheckpoints(ctx context.Context, cs []Checkpoint) error {
	if len(cs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("UpsertCheckpoints", err)
	}
	defer tx.Rollback()

	const query = `
		INSERT INTO tbl_checkpoints (
			run_id, relative_path, file_path, brand, purchaser, status,
			started_at, finished_at, latency_ms, status_code, error_message,
			pattern_key, full_response
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, relative_path) DO UPDATE SET
			file_path = excluded.file_path,
			brand = excluded.brand,
			purchaser = excluded.purchaser,
			status = excluded.status,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at,
			latency_ms = excluded.latency_ms,
			status_code = excluded.status_code,
			error_message = excluded.error_message,
			pattern_key = excluded.pattern_key,
			full_response = excluded.full_response
	`

	for _, c := range cs {
		var fullResponse any
		if len(c.FullResponse) > 0 {
			fullResponse = string(c.FullResponse)
		}
		if _, err := tx.ExecContext(ctx, query,
			c.RunID, c.RelativePath, c.FilePath, c.Brand, c.Purchaser, c.Status,
			nullableString(c.StartedAt), nullableString(c.FinishedAt), c.LatencyMs, c.StatusCode,
			nullableString(c.ErrorMessage), nullableString(c.PatternKey), fullResponse,
		); err != nil {
			return wrapErr("UpsertCheckpoints", fmt.Errorf("upsert (%s,%s): %w", c.RunID, c.RelativePath, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return wrapErr("UpsertCheckpoints", err)
	}
	return nil
}

// scanPathSet runs a query expected to return one relative_path column
// per row and collects it into a set.
func (s *Store) scanPathSet(ctx context.Context, op, query string, args ...any) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, wrapErr(op, err)
		}
		out[p] = true
	}
	return out, rows.Err()
}

// GetCompletedPaths returns the set of relative paths with status='done',
// either within one run (runID != "") or globally (runID == ""), per
// section 4.1 and the skip-key resolution in section 9.
func (s *Store) GetCompletedPaths(ctx context.Context, runID string) (map[string]bool, error) {
	if runID == "" {
		return s.scanPathSet(ctx, "GetCompletedPaths",
			`SELECT DISTINCT relative_path FROM tbl_checkpoints WHERE status = ?`, StatusDone)
	}
	return s.scanPathSet(ctx, "GetCompletedPaths",
		`SELECT relative_path FROM tbl_checkpoints WHERE run_id = ? AND status = ?`, runID, StatusDone)
}

// GetProcessedPaths returns the set of relative paths with status in
// {done, skipped, error}, either within one run or globally.
func (s *Store) GetProcessedPaths(ctx context.Context, runID string) (map[string]bool, error) {
	if runID == "" {
		return s.scanPathSet(ctx, "GetProcessedPaths",
			`SELECT DISTINCT relative_path FROM tbl_checkpoints WHERE status IN (?, ?, ?)`,
			StatusDone, StatusSkipped, StatusError)
	}
	return s.scanPathSet(ctx, "GetProcessedPaths",
		`SELECT relative_path FROM tbl_checkpoints WHERE run_id = ? AND status IN (?, ?, ?)`,
		runID, StatusDone, StatusSkipped, StatusError)
}

// GetErrorPaths returns the relative paths with status='error' within a
// single run, for retry selection.
func (s *Store) GetErrorPaths(ctx context.Context, runID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT relative_path FROM tbl_checkpoints WHERE run_id = ? AND status = ?`, runID, StatusError)
	if err != nil {
		return nil, wrapErr("GetErrorPaths", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, wrapErr("GetErrorPaths", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetFailedFiles returns full checkpoint records for failed files,
// narrowed by FailedFilter, for retry selection.
func (s *Store) GetFailedFiles(ctx context.Context, filter FailedFilter) ([]Checkpoint, error) {
	query := `
		SELECT run_id, relative_path, file_path, brand, purchaser, status,
			started_at, finished_at, latency_ms, status_code, error_message,
			pattern_key, full_response
		FROM tbl_checkpoints WHERE status = ?
	`
	args := []any{StatusError}
	if filter.RunID != "" {
		query += " AND run_id = ?"
		args = append(args, filter.RunID)
	}
	if filter.Brand != "" {
		query += " AND brand = ?"
		args = append(args, filter.Brand)
	}
	if filter.Purchaser != "" {
		query += " AND purchaser = ?"
		args = append(args, filter.Purchaser)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("GetFailedFiles", err)
	}
	defer rows.Close()

	return scanCheckpoints(rows)
}

// GetCheckpointsForRun returns every checkpoint recorded for a run, used
// by the Metrics Aggregator (section 4.7) and by tests.
func (s *Store) GetCheckpointsForRun(ctx context.Context, runID string) ([]Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, relative_path, file_path, brand, purchaser, status,
			started_at, finished_at, latency_ms, status_code, error_message,
			pattern_key, full_response
		FROM tbl_checkpoints WHERE run_id = ?
	`, runID)
	if err != nil {
		return nil, wrapErr("GetCheckpointsForRun", err)
	}
	defer rows.Close()

	return scanCheckpoints(rows)
}

func scanCheckpoints(rows *sql.Rows) ([]Checkpoint, error) {
	var out []Checkpoint
	for rows.Next() {
		var c Checkpoint
		var brand, purchaser, startedAt, finishedAt, errMsg, patternKey, fullResponse sql.NullString
		if err := rows.Scan(
			&c.RunID, &c.RelativePath, &c.FilePath, &brand, &purchaser, &c.Status,
			&startedAt, &finishedAt, &c.LatencyMs, &c.StatusCode, &errMsg,
			&patternKey, &fullResponse,
		); err != nil {
			return nil, wrapErr("scanCheckpoints", err)
		}
		c.Brand = stringFromNull(brand)
		c.Purchaser = stringFromNull(purchaser)
		c.StartedAt = stringFromNull(startedAt)
		c.FinishedAt = stringFromNull(finishedAt)
		c.ErrorMessage = stringFromNull(errMsg)
		c.PatternKey = stringFromNull(patternKey)
		if fullResponse.Valid && fullResponse.String != "" {
			c.FullResponse = []byte(fullResponse.String)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
