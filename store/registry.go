package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RegisterFiles idempotently upserts FileRegistry entries by id, as
// required by section 4.1. An input that omits SHA256 preserves the
// existing stored value rather than clearing it.
func (s *Store) RegisterFiles(ctx context.Context, inputs []FileRegistryInput) error {
	if len(inputs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("RegisterFiles", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	const query = `
		INSERT INTO tbl_file_registry (id, full_path, brand, purchaser, size, etag, sha256, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 'pending', ?)
		ON CONFLICT (id) DO UPDATE SET
			full_path = excluded.full_path,
			brand = excluded.brand,
			purchaser = excluded.purchaser,
			size = excluded.size,
			etag = excluded.etag,
			sha256 = CASE WHEN excluded.sha256 = '' THEN tbl_file_registry.sha256 ELSE excluded.sha256 END,
			updated_at = excluded.updated_at
	`

	for _, in := range inputs {
		if _, err := tx.ExecContext(ctx, query,
			in.ID, in.FullPath, in.Brand, in.Purchaser, in.Size, in.ETag, in.SHA256, now,
		); err != nil {
			return wrapErr("RegisterFiles", fmt.Errorf("upsert %s: %w", in.ID, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return wrapErr("RegisterFiles", err)
	}
	return nil
}

// GetFileRegistryEntry returns a single entry, or (nil, nil) when absent.
func (s *Store) GetFileRegistryEntry(ctx context.Context, id string) (*FileRegistryEntry, error) {
	const query = `
		SELECT id, full_path, brand, purchaser, size, etag, sha256, status, run_id, updated_at
		FROM tbl_file_registry WHERE id = ?
	`
	var e FileRegistryEntry
	var etag, sha256Val, runID sql.NullString
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&e.ID, &e.FullPath, &e.Brand, &e.Purchaser, &e.Size, &etag, &sha256Val, &e.LatestStatus, &runID, &e.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("GetFileRegistryEntry", err)
	}
	e.ETag = stringFromNull(etag)
	e.SHA256 = stringFromNull(sha256Val)
	e.LatestRunID = stringFromNull(runID)
	return &e, nil
}

// ListFileRegistry returns registry entries, optionally narrowed by brand
// and purchaser (an empty string leaves that field unfiltered).
func (s *Store) ListFileRegistry(ctx context.Context, brand, purchaser string) ([]FileRegistryEntry, error) {
	query := `
		SELECT id, full_path, brand, purchaser, size, etag, sha256, status, run_id, updated_at
		FROM tbl_file_registry WHERE 1=1
	`
	var args []any
	if brand != "" {
		query += " AND brand = ?"
		args = append(args, brand)
	}
	if purchaser != "" {
		query += " AND purchaser = ?"
		args = append(args, purchaser)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("ListFileRegistry", err)
	}
	defer rows.Close()

	var out []FileRegistryEntry
	for rows.Next() {
		var e FileRegistryEntry
		var etag, sha256Val, runID sql.NullString
		if err := rows.Scan(&e.ID, &e.FullPath, &e.Brand, &e.Purchaser, &e.Size, &etag, &sha256Val, &e.LatestStatus, &runID, &e.UpdatedAt); err != nil {
			return nil, wrapErr("ListFileRegistry", err)
		}
		e.ETag = stringFromNull(etag)
		e.SHA256 = stringFromNull(sha256Val)
		e.LatestRunID = stringFromNull(runID)
		out = append(out, e)
	}
	return out, rows.Err()
}

// FindFileRegistryEntryByFullPath looks up a registry entry by its local
// staging path, used by the Workflow Coordinator to resolve a
// just-synced or just-discovered file back to its registry id before
// writing back latestStatus (section 4.6). Returns (nil, nil) if no
// entry matches.
func (s *Store) FindFileRegistryEntryByFullPath(ctx context.Context, fullPath string) (*FileRegistryEntry, error) {
	const query = `
		SELECT id, full_path, brand, purchaser, size, etag, sha256, status, run_id, updated_at
		FROM tbl_file_registry WHERE full_path = ? LIMIT 1
	`
	var e FileRegistryEntry
	var etag, sha256Val, runID sql.NullString
	err := s.db.QueryRowContext(ctx, query, fullPath).Scan(
		&e.ID, &e.FullPath, &e.Brand, &e.Purchaser, &e.Size, &etag, &sha256Val, &e.LatestStatus, &runID, &e.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("FindFileRegistryEntryByFullPath", err)
	}
	e.ETag = stringFromNull(etag)
	e.SHA256 = stringFromNull(sha256Val)
	e.LatestRunID = stringFromNull(runID)
	return &e, nil
}

// UpdateFileStatus updates the latest extraction status and run id for a
// registered file, as required by the Extraction Engine's writeback
// described in section 3 (FileRegistry lifecycle).
func (s *Store) UpdateFileStatus(ctx context.Context, id string, status FileStatus, runID string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`UPDATE tbl_file_registry SET status = ?, run_id = ?, updated_at = ? WHERE id = ?`,
		status, runID, now, id,
	)
	if err != nil {
		return wrapErr("UpdateFileStatus", err)
	}
	return nil
}
