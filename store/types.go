// Package store implements the Record Store as specified in section 4.1
// of the design specification. It is the single durable, embedded
// relational store backing the file registry, per-run checkpoints, sync
// history, run summaries, key/value app state, and the schedule/email
// audit logs.
package store

import (
	json "github.com/goccy/go-json"
)

// FileStatus is the lifecycle state of a FileRegistry entry or Checkpoint
// as defined in section 3 of the design specification.
type FileStatus string

const (
	StatusPending FileStatus = "pending"
	StatusRunning FileStatus = "running"
	StatusDone    FileStatus = "done"
	StatusError   FileStatus = "error"
	StatusSkipped FileStatus = "skipped"
)

// RunStatus is the lifecycle state of a Run as defined in section 3.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusDone    RunStatus = "done"
	RunStatusError   RunStatus = "error"
)

// FileRegistryInput is the input to RegisterFiles. Example:
//
//	store.RegisterFiles(ctx, []FileRegistryInput{{
//	    ID:       FileID("acme", "purchaser/foo.xlsx"),
//	    FullPath: "/staging/acme/purchaser/foo.xlsx",
//	    Brand:    "acme", Purchaser: "purchaser",
//	}})
type FileRegistryInput struct {
	ID        string
	FullPath  string
	Brand     string
	Purchaser string
	Size      int64
	ETag      string
	SHA256    string // may be empty; existing value is preserved in that case
}

// FileRegistryEntry is the master record of a discovered/synced object,
// as defined in section 3 of the design specification.
type FileRegistryEntry struct {
	ID           string
	FullPath     string
	Brand        string
	Purchaser    string
	Size         int64
	ETag         string
	SHA256       string
	LatestStatus FileStatus
	LatestRunID  string
	UpdatedAt    string
}

// Checkpoint is a per-file, per-run extraction outcome as defined in
// section 3. Key is (RunID, RelativePath).
type Checkpoint struct {
	RunID        string
	RelativePath string
	FilePath     string
	Brand        string
	Purchaser    string
	Status       FileStatus
	StartedAt    string
	FinishedAt   string
	LatencyMs    int64
	StatusCode   int
	ErrorMessage string
	PatternKey   string
	FullResponse json.RawMessage
}

// FailedFilter narrows GetFailedFiles to a subset of failed checkpoints.
type FailedFilter struct {
	RunID     string // optional; empty means all runs
	Brand     string // optional
	Purchaser string // optional
}

// StatsFilter narrows GetCumulativeStats.
type StatsFilter struct {
	Brand     string
	Purchaser string
}

// CumulativeStats is the result of GetCumulativeStats.
type CumulativeStats struct {
	Success int64
	Failed  int64
	Total   int64
}

// RunSummary is the computed metrics JSON persisted against a Run, as
// defined in section 3.
type RunSummary struct {
	Metrics json.RawMessage
}

// ManifestEntry is a per-object sync memo keyed by "bucket|key", as
// defined in section 3 of the design specification.
type ManifestEntry struct {
	ETag         string `json:"etag"`
	SHA256       string `json:"sha256"`
	Size         int64  `json:"size"`
	LocalPath    string `json:"localPath"`
	LastSyncedAt string `json:"lastSyncedAt"`
}

// Manifest is the full key->entry map, persisted as a single JSON blob
// per section 5 (critical-section requirement) and section 9 (Design
// Notes on the manifest-as-one-JSON-blob scalability ceiling).
type Manifest map[string]ManifestEntry

// ResumeState is the singleton key/value holding in-flight sync download
// position, as defined in section 3.
type ResumeState struct {
	SyncInProgressPath        string `json:"syncInProgressPath,omitempty"`
	SyncInProgressManifestKey string `json:"syncInProgressManifestKey,omitempty"`
}

// SyncHistoryEntry is an append-only record per sync batch, as defined
// in section 3.
type SyncHistoryEntry struct {
	ID         int64
	Timestamp  string
	Synced     int
	Skipped    int
	Errors     int
	Message    string
	Brands     []string
	Purchasers []string
}

// ExtractionLogEntry is an append-only record of one extraction engine
// event, written for every task regardless of outcome.
type ExtractionLogEntry struct {
	ID        int64
	RunID     string
	Timestamp string
	Level     string
	Data      json.RawMessage
}

// ScheduleLogEntry and EmailLogEntry are ancillary append-only tables
// used by the out-of-scope cron scheduler and email notifier. The core
// exposes writers for them but does not interpret their
// semantics, per section 3.
type ScheduleLogEntry struct {
	ID        int64
	Timestamp string
	Data      json.RawMessage
}

type EmailLogEntry struct {
	ID        int64
	Timestamp string
	Data      json.RawMessage
}
