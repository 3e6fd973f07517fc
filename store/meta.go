package store

import (
	"context"
	"database/sql"

	json "github.com/goccy/go-json"
)

const resumeStateMetaKey = "resume_state"

// GetMeta reads an opaque key/value pair from the app-config table, used
// for small pieces of singleton state outside the manifest (section 3).
func (s *Store) GetMeta(ctx context.Context, key string) (string, error) {
	var value sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT value FROM tbl_app_config WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", wrapErr("GetMeta", err)
	}
	return stringFromNull(value), nil
}

// SetMeta writes an opaque key/value pair to the app-config table.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tbl_app_config (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return wrapErr("SetMeta", err)
	}
	return nil
}

// GetResumeState returns the singleton resume marker recording an
// in-flight download's position, as required by section 4.2's resume
// policy. A never-saved state returns the zero value.
func (s *Store) GetResumeState(ctx context.Context) (ResumeState, error) {
	raw, err := s.GetMeta(ctx, resumeStateMetaKey)
	if err != nil {
		return ResumeState{}, err
	}
	if raw == "" {
		return ResumeState{}, nil
	}

	var rs ResumeState
	if err := json.Unmarshal([]byte(raw), &rs); err != nil {
		return ResumeState{}, wrapErr("GetResumeState", err)
	}
	return rs, nil
}

// SaveResumeState persists the in-flight download marker once before
// each download begins, as required by section 4.2.
func (s *Store) SaveResumeState(ctx context.Context, rs ResumeState) error {
	encoded, err := json.Marshal(rs)
	if err != nil {
		return wrapErr("SaveResumeState", err)
	}
	return s.SetMeta(ctx, resumeStateMetaKey, string(encoded))
}

// ClearResumeState removes the in-flight download marker once a file
// finishes (successfully or abandoned), as required by section 4.2.
func (s *Store) ClearResumeState(ctx context.Context) error {
	return s.SaveResumeState(ctx, ResumeState{})
}
