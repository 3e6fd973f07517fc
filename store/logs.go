package store

import (
	"context"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// AppendSyncHistory records the outcome of one sync batch, as required
// by section 4.1 (append-only audit trail consumed by the out-of-scope
// reporting surface).
func (s *Store) AppendSyncHistory(ctx context.Context, e SyncHistoryEntry) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tbl_sync_history (timestamp, synced, skipped, errors, message, brands, purchasers)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		now, e.Synced, e.Skipped, e.Errors, e.Message,
		strings.Join(e.Brands, ","), strings.Join(e.Purchasers, ","),
	)
	if err != nil {
		return wrapErr("AppendSyncHistory", err)
	}
	return nil
}

// GetSyncHistory returns every sync history entry, oldest first.
func (s *Store) GetSyncHistory(ctx context.Context) ([]SyncHistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, synced, skipped, errors, message, brands, purchasers
		 FROM tbl_sync_history ORDER BY id ASC`,
	)
	if err != nil {
		return nil, wrapErr("GetSyncHistory", err)
	}
	defer rows.Close()

	var out []SyncHistoryEntry
	for rows.Next() {
		var e SyncHistoryEntry
		var brands, purchasers string
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Synced, &e.Skipped, &e.Errors, &e.Message, &brands, &purchasers); err != nil {
			return nil, wrapErr("GetSyncHistory", err)
		}
		if brands != "" {
			e.Brands = strings.Split(brands, ",")
		}
		if purchasers != "" {
			e.Purchasers = strings.Split(purchasers, ",")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// AppendExtractionLog records one extraction engine event, as required
// by section 4.1. Every task is logged regardless of outcome.
func (s *Store) AppendExtractionLog(ctx context.Context, runID, level string, data json.RawMessage) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tbl_extraction_logs (run_id, timestamp, level, data) VALUES (?, ?, ?, ?)`,
		runID, now, level, string(data),
	)
	if err != nil {
		return wrapErr("AppendExtractionLog", err)
	}
	return nil
}

// GetExtractionLogs returns every logged event for a run, oldest first.
func (s *Store) GetExtractionLogs(ctx context.Context, runID string) ([]ExtractionLogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, timestamp, level, data FROM tbl_extraction_logs WHERE run_id = ? ORDER BY id ASC`, runID,
	)
	if err != nil {
		return nil, wrapErr("GetExtractionLogs", err)
	}
	defer rows.Close()

	var out []ExtractionLogEntry
	for rows.Next() {
		var e ExtractionLogEntry
		var data string
		if err := rows.Scan(&e.ID, &e.RunID, &e.Timestamp, &e.Level, &data); err != nil {
			return nil, wrapErr("GetExtractionLogs", err)
		}
		e.Data = json.RawMessage(data)
		out = append(out, e)
	}
	return out, rows.Err()
}

// AppendScheduleLog and AppendEmailLog record out-of-scope cron scheduler
// and email notifier events. The core persists them without
// interpreting their payload, per section 3; no reader is provided.
func (s *Store) AppendScheduleLog(ctx context.Context, data json.RawMessage) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tbl_schedule_logs (timestamp, data) VALUES (?, ?)`, now, string(data),
	)
	if err != nil {
		return wrapErr("AppendScheduleLog", err)
	}
	return nil
}

func (s *Store) AppendEmailLog(ctx context.Context, data json.RawMessage) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tbl_email_logs (timestamp, data) VALUES (?, ?)`, now, string(data),
	)
	if err != nil {
		return wrapErr("AppendEmailLog", err)
	}
	return nil
}
