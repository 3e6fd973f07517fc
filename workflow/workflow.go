// Package workflow implements the Workflow Coordinator as specified in
// section 4.6 of the design specification. It dispatches a case-tagged
// request to the Sync Engine and/or Extraction Engine, streams progress
// events to the caller, and persists a computed run summary on
// completion, grounded on the teacher's coordinator.Coordinator shape.
package workflow

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	json "github.com/goccy/go-json"

	"github.com/gairiksingha/intelliextract-runner/extractionclient"
	"github.com/gairiksingha/intelliextract-runner/extractionengine"
	"github.com/gairiksingha/intelliextract-runner/metricsagg"
	"github.com/gairiksingha/intelliextract-runner/objectstore"
	"github.com/gairiksingha/intelliextract-runner/store"
	"github.com/gairiksingha/intelliextract-runner/syncengine"
)

// CaseID enumerates the phases a Request can invoke, per section 4.6.
type CaseID string

const (
	CasePipe    CaseID = "PIPE"
	CaseSync    CaseID = "SYNC"
	CaseExtract CaseID = "EXTRACT"
	CaseP1      CaseID = "P1"
	CaseP2      CaseID = "P2"
)

// Pair is one (tenant, purchaser) slice to operate over.
type Pair struct {
	Tenant    string
	Purchaser string
}

// BucketResolver maps a Pair to the bucket/prefix it syncs from,
// supplied by configuration.
type BucketResolver func(pair Pair) objectstore.BucketDescriptor

// Request is the input to Coordinator.Execute, per section 4.6.
type Request struct {
	CaseID            CaseID
	Pairs             []Pair
	Tenant            string
	Purchaser         string
	Concurrency       int
	RequestsPerSecond float64
	SkipCompleted     bool
	RetryFailed       bool
	DownloadBudget    int64
	Resume            bool
	Filter            store.StatsFilter
}

// EventType enumerates the onUpdate event shapes, per section 4.6.
type EventType string

const (
	EventRunID    EventType = "run_id"
	EventLog      EventType = "log"
	EventProgress EventType = "progress"
	EventReport   EventType = "report"
	EventError    EventType = "error"
)

// Event is streamed to the caller as the run progresses.
type Event struct {
	Type    EventType
	RunID   string
	Phase   string
	Message string
	Done    int
	Total   int
	Report  metricsagg.Report
	Err     error
}

// ReportGenerator is the out-of-scope collaborator that turns a computed
// Report into whatever external artifact the deployment wants (email,
// dashboard write, S3 upload), grounded on the teacher's ReportUploader
// interface.
type ReportGenerator interface {
	Generate(ctx context.Context, runID string, report metricsagg.Report) error
}

// Coordinator runs the Sync Engine and Extraction Engine against a
// Request, enforcing at most one non-terminal run per CaseID.
type Coordinator struct {
	store            *store.Store
	objects          objectstore.Client
	extractionClient extractionclient.Client
	syncEngine       *syncengine.Engine
	extractionEngine *extractionengine.Engine
	stagingDir       string
	resolveBucket    BucketResolver
	reportGen        ReportGenerator

	registry *activeRunRegistry
}

// NewCoordinator wires a Coordinator from its dependencies.
func NewCoordinator(
	st *store.Store,
	objects objectstore.Client,
	client extractionclient.Client,
	stagingDir string,
	resolveBucket BucketResolver,
	reportGen ReportGenerator,
) *Coordinator {
	return &Coordinator{
		store:            st,
		objects:          objects,
		extractionClient: client,
		syncEngine:       syncengine.NewEngine(st, objects, stagingDir, nil),
		extractionEngine: extractionengine.NewEngine(st, client),
		stagingDir:       stagingDir,
		resolveBucket:    resolveBucket,
		reportGen:        reportGen,
		registry:         newActiveRunRegistry(),
	}
}

// PrepareResume clears any in-flight partial download left over from a
// prior interrupted run, per section 4.4's resume policy. Callers
// invoke this once, before Execute, when the caller was invoked with a
// resume flag.
func (c *Coordinator) PrepareResume(ctx context.Context) error {
	return c.syncEngine.PrepareResume(ctx)
}

// Execute runs req to completion, streaming events through onUpdate, per
// section 4.6.
func (c *Coordinator) Execute(ctx context.Context, req Request, onUpdate func(Event)) (err error) {
	if onUpdate == nil {
		onUpdate = func(Event) {}
	}

	runID := fmt.Sprintf("RUN-%d", time.Now().UnixMilli())
	if err := c.registry.register(string(req.CaseID), runID); err != nil {
		return err
	}
	defer c.registry.unregister(string(req.CaseID))

	if err := c.store.StartNewRun(ctx, runID, string(req.CaseID)); err != nil {
		return fmt.Errorf("workflow: start run: %w", err)
	}
	onUpdate(Event{Type: EventRunID, RunID: runID})

	pairs := req.Pairs
	if len(pairs) == 0 && req.Tenant != "" {
		pairs = []Pair{{Tenant: req.Tenant, Purchaser: req.Purchaser}}
	}

	defer func() {
		status := store.RunStatusDone
		if err != nil {
			status = store.RunStatusError
			onUpdate(Event{Type: EventLog, RunID: runID, Message: err.Error()})
			onUpdate(Event{Type: EventError, RunID: runID, Err: err})
		}
		if markErr := c.store.MarkRunCompleted(ctx, runID, status); markErr != nil && err == nil {
			err = fmt.Errorf("workflow: mark run completed: %w", markErr)
		}
	}()

	var syncedFiles []extractionengine.FileTask

	switch req.CaseID {
	case CaseSync, CaseP1:
		if _, err = c.runSync(ctx, runID, pairs, req, onUpdate); err != nil {
			return err
		}
		return c.finish(ctx, runID, onUpdate)

	case CaseExtract, CaseP2:
		files := c.discoverFiles(ctx, pairs, req.RetryFailed)
		if _, err = c.runExtract(ctx, runID, files, req, onUpdate); err != nil {
			return err
		}
		return c.finish(ctx, runID, onUpdate)

	case CasePipe:
		bucketResult, syncErr := c.runSync(ctx, runID, pairs, req, onUpdate)
		if syncErr != nil {
			err = syncErr
			return err
		}
		syncedFiles = bucketResult

		if len(syncedFiles) == 0 {
			syncedFiles = c.discoverFiles(ctx, pairs, req.RetryFailed)
		}
		if _, err = c.runExtract(ctx, runID, syncedFiles, req, onUpdate); err != nil {
			return err
		}
		return c.finish(ctx, runID, onUpdate)

	default:
		err = fmt.Errorf("workflow: unknown case id %q", req.CaseID)
		return err
	}
}

// runSync invokes the Sync Engine over pairs and returns the newly
// synced files as extraction-ready tasks.
func (c *Coordinator) runSync(ctx context.Context, runID string, pairs []Pair, req Request, onUpdate func(Event)) ([]extractionengine.FileTask, error) {
	buckets := make([]objectstore.BucketDescriptor, len(pairs))
	for i, p := range pairs {
		buckets[i] = c.resolveBucket(p)
	}

	budget := syncengine.NewBudget(req.DownloadBudget)

	agg, err := c.syncEngine.SyncAll(ctx, buckets, budget, nil, func(done, total int) {
		onUpdate(Event{Type: EventProgress, RunID: runID, Phase: "sync", Done: done, Total: total})
	})
	if err != nil {
		return nil, fmt.Errorf("workflow: sync: %w", err)
	}

	if err := c.store.AppendSyncHistory(ctx, syncHistoryEntry(agg, pairs)); err != nil {
		return nil, fmt.Errorf("workflow: append sync history: %w", err)
	}

	var tasks []extractionengine.FileTask
	for _, br := range agg.Buckets {
		for _, path := range br.Files {
			tasks = append(tasks, extractionengine.FileTask{
				FilePath:     path,
				RelativePath: relativeToStaging(c.stagingDir, path),
				Brand:        br.Brand,
				Purchaser:    br.Purchaser,
			})
		}
	}
	return tasks, nil
}

// runExtract invokes the Extraction Engine over files.
func (c *Coordinator) runExtract(ctx context.Context, runID string, files []extractionengine.FileTask, req Request, onUpdate func(Event)) (extractionengine.Result, error) {
	result, err := c.extractionEngine.Run(ctx, extractionengine.Request{
		Files:             files,
		RunID:             runID,
		CaseID:            string(req.CaseID),
		Concurrency:       req.Concurrency,
		RequestsPerSecond: req.RequestsPerSecond,
		SkipCompleted:     req.SkipCompleted,
		RetryFailed:       req.RetryFailed,
		Filter:            req.Filter,
		OnProgress: func(done, total int) {
			onUpdate(Event{Type: EventProgress, RunID: runID, Phase: "extract", Done: done, Total: total})
		},
	})
	if err != nil {
		return extractionengine.Result{}, fmt.Errorf("workflow: extract: %w", err)
	}

	checkpoints, err := c.store.GetCheckpointsForRun(ctx, runID)
	if err != nil {
		return extractionengine.Result{}, fmt.Errorf("workflow: read checkpoints: %w", err)
	}
	statusByPath := make(map[string]store.FileStatus, len(checkpoints))
	for _, cp := range checkpoints {
		statusByPath[cp.RelativePath] = cp.Status
	}

	for _, f := range files {
		status, ok := statusByPath[f.RelativePath]
		if !ok || status == store.StatusRunning {
			continue
		}
		if status == store.StatusSkipped {
			status = store.StatusDone
		}
		entry, err := c.store.FindFileRegistryEntryByFullPath(ctx, f.FilePath)
		if err != nil || entry == nil {
			continue
		}
		_ = c.store.UpdateFileStatus(ctx, entry.ID, status, runID)
	}

	return result, nil
}

// discoverFiles substitutes for walking stagingDir: after a sync, the
// file registry mirrors staging exactly, so a registry scan restricted
// to the requested pairs and filtered by latestStatus serves the same
// purpose without a second filesystem pass.
func (c *Coordinator) discoverFiles(ctx context.Context, pairs []Pair, retryFailed bool) []extractionengine.FileTask {
	var tasks []extractionengine.FileTask
	for _, p := range pairs {
		entries, err := c.store.ListFileRegistry(ctx, p.Tenant, p.Purchaser)
		if err != nil {
			continue
		}
		for _, e := range entries {
			eligible := e.LatestStatus == "" || e.LatestStatus == store.StatusPending
			if retryFailed && e.LatestStatus == store.StatusError {
				eligible = true
			}
			if !eligible {
				continue
			}
			tasks = append(tasks, extractionengine.FileTask{
				FilePath:     e.FullPath,
				RelativePath: relativeToStaging(c.stagingDir, e.FullPath),
				Brand:        e.Brand,
				Purchaser:    e.Purchaser,
			})
		}
	}
	return tasks
}

// finish computes the run's metrics, persists the summary, invokes the
// report collaborator, and emits the closing events, per section 4.6.
func (c *Coordinator) finish(ctx context.Context, runID string, onUpdate func(Event)) error {
	onUpdate(Event{Type: EventLog, RunID: runID, Message: "Generating report..."})

	records, err := c.store.GetCheckpointsForRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("workflow: read checkpoints for report: %w", err)
	}

	report := metricsagg.Compute(runID, records, time.Now(), time.Now())

	if c.reportGen != nil {
		if err := c.reportGen.Generate(ctx, runID, report); err != nil {
			return fmt.Errorf("workflow: generate report: %w", err)
		}
	}

	encoded, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("workflow: marshal report: %w", err)
	}
	if err := c.store.SaveRunSummary(ctx, runID, encoded); err != nil {
		return fmt.Errorf("workflow: save run summary: %w", err)
	}

	onUpdate(Event{Type: EventReport, RunID: runID, Report: report})
	onUpdate(Event{Type: EventLog, RunID: runID, Message: "Operation completed successfully."})
	return nil
}

func relativeToStaging(stagingDir, fullPath string) string {
	rel, err := filepath.Rel(stagingDir, fullPath)
	if err != nil {
		return fullPath
	}
	return rel
}

func syncHistoryEntry(agg syncengine.AggregateResult, pairs []Pair) store.SyncHistoryEntry {
	brands := make([]string, 0, len(pairs))
	purchasers := make([]string, 0, len(pairs))
	seen := make(map[string]bool)
	for _, p := range pairs {
		if !seen[p.Tenant] {
			brands = append(brands, p.Tenant)
			seen[p.Tenant] = true
		}
		purchasers = append(purchasers, p.Purchaser)
	}
	return store.SyncHistoryEntry{
		Synced:     agg.Synced,
		Skipped:    agg.Skipped,
		Errors:     agg.Errors,
		Brands:     brands,
		Purchasers: purchasers,
	}
}
