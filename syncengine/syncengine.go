// Package syncengine implements the Sync Engine as specified in section
// 4.4 of the design specification. For each configured bucket it brings
// the local staging tree into agreement with the remote prefix, subject
// to a global new-download budget shared across all buckets.
package syncengine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gairiksingha/intelliextract-runner/objectstore"
	"github.com/gairiksingha/intelliextract-runner/store"
)

// maxBuckets is the sync pool's bound across all buckets, per section 5.
const maxBuckets = 10

// EventType classifies a SyncEvent.
type EventType string

const (
	EventSkipped EventType = "skipped"
	EventSynced  EventType = "synced"
	EventError   EventType = "error"
)

// SyncEvent is emitted once per object processed, as required by
// section 4.4.
type SyncEvent struct {
	Type         EventType
	Bucket       string
	Key          string
	RelativePath string
	LocalPath    string
	Size         int64
	Err          error
}

// BucketResult is the per-bucket outcome, as required by section 4.4.
type BucketResult struct {
	Bucket    string
	Brand     string
	Purchaser string
	Synced    int
	Skipped   int
	Errors    int
	Files     []string
}

// AggregateResult sums every bucket's outcome, as required by section
// 4.4's coordinator-level report.
type AggregateResult struct {
	Synced  int
	Skipped int
	Errors  int
	Buckets []BucketResult
}

// Engine runs the per-bucket sync algorithm.
type Engine struct {
	store      *store.Store
	objects    objectstore.Client
	stagingDir string
	onEvent    func(SyncEvent)
}

// NewEngine constructs an Engine. onEvent may be nil.
func NewEngine(st *store.Store, objects objectstore.Client, stagingDir string, onEvent func(SyncEvent)) *Engine {
	if onEvent == nil {
		onEvent = func(SyncEvent) {}
	}
	return &Engine{store: st, objects: objects, stagingDir: stagingDir, onEvent: onEvent}
}

// relativePath computes the skip key and staging-relative path for an
// object key under a bucket's prefix, preserving any sub-prefix beneath
// the tenant root rather than just the basename, as required by
// section 4.4.
func relativePath(bucket objectstore.BucketDescriptor, key string) string {
	trimmed := strings.TrimPrefix(key, bucket.Prefix)
	trimmed = strings.TrimPrefix(trimmed, "/")
	return filepath.Join(bucket.Tenant, bucket.Purchaser, trimmed)
}

// SyncBucket runs steps 1-3 of the per-bucket algorithm from section 4.4
// for one bucket descriptor.
func (e *Engine) SyncBucket(ctx context.Context, bucket objectstore.BucketDescriptor, budget *Budget, alreadyExtractedPaths map[string]bool) (BucketResult, error) {
	result := BucketResult{Bucket: bucket.Bucket, Brand: bucket.Tenant, Purchaser: bucket.Purchaser}

	for obj, err := range e.objects.List(ctx, bucket.Bucket, bucket.Prefix) {
		if err != nil {
			return result, fmt.Errorf("syncengine: list %s/%s: %w", bucket.Bucket, bucket.Prefix, err)
		}
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		relPath := relativePath(bucket, obj.Key)
		localPath := filepath.Join(e.stagingDir, relPath)

		if alreadyExtractedPaths[relPath] {
			result.Skipped++
			e.onEvent(SyncEvent{Type: EventSkipped, Bucket: bucket.Bucket, Key: obj.Key, RelativePath: relPath, LocalPath: localPath})
			continue
		}

		manifestKey := store.ManifestKey(bucket.Bucket, obj.Key)
		if e.isUpToDate(ctx, manifestKey, localPath, obj.ETag) {
			result.Skipped++
			e.onEvent(SyncEvent{Type: EventSkipped, Bucket: bucket.Bucket, Key: obj.Key, RelativePath: relPath, LocalPath: localPath})
			continue
		}

		if !budget.TryReserve() {
			break
		}

		size, sha, err := e.downloadOne(ctx, bucket, obj, manifestKey, localPath)
		if err != nil {
			budget.Release()
			result.Errors++
			e.onEvent(SyncEvent{Type: EventError, Bucket: bucket.Bucket, Key: obj.Key, RelativePath: relPath, LocalPath: localPath, Err: err})
			continue
		}

		result.Synced++
		result.Files = append(result.Files, localPath)
		e.onEvent(SyncEvent{Type: EventSynced, Bucket: bucket.Bucket, Key: obj.Key, RelativePath: relPath, LocalPath: localPath, Size: size})

		if err := e.store.RegisterFiles(ctx, []store.FileRegistryInput{{
			ID:        store.FileID(bucket.Bucket, obj.Key),
			FullPath:  localPath,
			Brand:     bucket.Tenant,
			Purchaser: bucket.Purchaser,
			Size:      size,
			ETag:      obj.ETag,
			SHA256:    sha,
		}}); err != nil {
			return result, fmt.Errorf("syncengine: register %s: %w", obj.Key, err)
		}
	}

	return result, nil
}

// isUpToDate implements the skip decision from section 4.4 step 2b: the
// manifest entry exists, the local file exists, its on-disk SHA-256
// matches the stored sha256, and the stored etag equals the remote
// etag.
func (e *Engine) isUpToDate(ctx context.Context, manifestKey, localPath, remoteETag string) bool {
	manifest, err := e.store.GetManifest(ctx)
	if err != nil {
		return false
	}
	entry, ok := manifest[manifestKey]
	if !ok || entry.ETag != remoteETag {
		return false
	}

	f, err := os.Open(localPath)
	if err != nil {
		return false
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return false
	}
	return hex.EncodeToString(h.Sum(nil)) == entry.SHA256
}

// downloadOne implements section 4.4 step 2d: persist ResumeState before
// streaming, stream to a .part file through a concurrent SHA-256 hash,
// atomically rename on success, update the manifest, and clear
// ResumeState.
func (e *Engine) downloadOne(ctx context.Context, bucket objectstore.BucketDescriptor, obj objectstore.ObjectMeta, manifestKey, localPath string) (int64, string, error) {
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return 0, "", fmt.Errorf("mkdir staging dir: %w", err)
	}

	partPath := localPath + ".part"
	if err := e.store.SaveResumeState(ctx, store.ResumeState{
		SyncInProgressPath:        partPath,
		SyncInProgressManifestKey: manifestKey,
	}); err != nil {
		return 0, "", fmt.Errorf("save resume state: %w", err)
	}

	f, err := os.Create(partPath)
	if err != nil {
		return 0, "", fmt.Errorf("create part file: %w", err)
	}

	hasher := sha256.New()
	mw := io.MultiWriter(f, hasher)

	// A failed stream leaves the .part file and ResumeState in place;
	// per section 4.4's failure policy, cleanup is the resume flow's
	// job, not the download's.
	result, err := e.objects.Get(ctx, bucket.Bucket, obj.Key, mw, nil)
	closeErr := f.Close()
	if err != nil {
		return 0, "", fmt.Errorf("stream object: %w", err)
	}
	if closeErr != nil {
		return 0, "", fmt.Errorf("close part file: %w", closeErr)
	}

	if err := os.Rename(partPath, localPath); err != nil {
		return 0, "", fmt.Errorf("rename part file: %w", err)
	}

	sha := hex.EncodeToString(hasher.Sum(nil))
	if err := e.store.UpsertManifestEntry(ctx, manifestKey, store.ManifestEntry{
		ETag:         result.ETag,
		SHA256:       sha,
		Size:         result.BytesWritten,
		LocalPath:    localPath,
		LastSyncedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}); err != nil {
		return 0, "", fmt.Errorf("update manifest: %w", err)
	}

	if err := e.store.ClearResumeState(ctx); err != nil {
		return 0, "", fmt.Errorf("clear resume state: %w", err)
	}

	return result.BytesWritten, sha, nil
}

// SyncAll fans per-bucket syncs out across a bounded worker pool (10,
// per section 5), reporting cumulative (done, total) progress through
// onProgress, as required by section 4.4.
func (e *Engine) SyncAll(ctx context.Context, buckets []objectstore.BucketDescriptor, budget *Budget, alreadyExtractedPaths map[string]bool, onProgress func(done, total int)) (AggregateResult, error) {
	total := len(buckets)
	if onProgress == nil {
		onProgress = func(int, int) {}
	}

	results := make([]BucketResult, total)
	var done atomic.Int64

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(maxBuckets)

	for i, bucket := range buckets {
		i, bucket := i, bucket
		eg.Go(func() error {
			result, err := e.SyncBucket(egCtx, bucket, budget, alreadyExtractedPaths)
			results[i] = result
			done.Add(1)
			onProgress(int(done.Load()), total)
			return err
		})
	}

	if err := eg.Wait(); err != nil {
		return AggregateResult{}, err
	}

	agg := AggregateResult{Buckets: results}
	for _, r := range results {
		agg.Synced += r.Synced
		agg.Skipped += r.Skipped
		agg.Errors += r.Errors
	}
	return agg, nil
}
