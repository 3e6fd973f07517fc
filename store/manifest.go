package store

import (
	"context"
	"database/sql"

	json "github.com/goccy/go-json"
)

const manifestMetaKey = "manifest"

// GetManifest reads the full manifest blob and decodes it, returning an
// empty Manifest (never nil) if no manifest has been saved yet, as
// required by section 5.
func (s *Store) GetManifest(ctx context.Context) (Manifest, error) {
	s.manifestMu.Lock()
	defer s.manifestMu.Unlock()
	return s.getManifestLocked(ctx)
}

func (s *Store) getManifestLocked(ctx context.Context) (Manifest, error) {
	var raw sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT value FROM tbl_app_config WHERE key = ?`, manifestMetaKey).Scan(&raw)
	if err == sql.ErrNoRows {
		return Manifest{}, nil
	}
	if err != nil {
		return nil, wrapErr("GetManifest", err)
	}
	if !raw.Valid || raw.String == "" {
		return Manifest{}, nil
	}

	m := Manifest{}
	if err := json.Unmarshal([]byte(raw.String), &m); err != nil {
		return nil, wrapErr("GetManifest", err)
	}
	return m, nil
}

// SaveManifest replaces the full manifest blob, as required by section 5.
func (s *Store) SaveManifest(ctx context.Context, m Manifest) error {
	s.manifestMu.Lock()
	defer s.manifestMu.Unlock()
	return s.saveManifestLocked(ctx, m)
}

func (s *Store) saveManifestLocked(ctx context.Context, m Manifest) error {
	encoded, err := json.Marshal(m)
	if err != nil {
		return wrapErr("SaveManifest", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tbl_app_config (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		manifestMetaKey, string(encoded),
	)
	if err != nil {
		return wrapErr("SaveManifest", err)
	}
	return nil
}

// UpsertManifestEntry performs the read-modify-write of a single
// manifest key under the manifest's critical section, as required by
// section 5 so that concurrent bucket syncs never clobber one another's
// entries.
func (s *Store) UpsertManifestEntry(ctx context.Context, key string, entry ManifestEntry) error {
	s.manifestMu.Lock()
	defer s.manifestMu.Unlock()

	m, err := s.getManifestLocked(ctx)
	if err != nil {
		return err
	}
	m[key] = entry
	return s.saveManifestLocked(ctx, m)
}

// DeleteManifestEntry removes a single manifest key under the critical
// section. Deleting a key that is not present is a no-op.
func (s *Store) DeleteManifestEntry(ctx context.Context, key string) error {
	s.manifestMu.Lock()
	defer s.manifestMu.Unlock()

	m, err := s.getManifestLocked(ctx)
	if err != nil {
		return err
	}
	if _, ok := m[key]; !ok {
		return nil
	}
	delete(m, key)
	return s.saveManifestLocked(ctx, m)
}
