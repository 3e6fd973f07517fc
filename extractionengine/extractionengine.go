// Package extractionengine implements the Extraction Engine as
// specified in section 4.5 of the design specification. It submits a
// batch of staged files to the Extraction Client under bounded
// concurrency and an optional requests-per-second ceiling, writing a
// checkpoint before and after every call, and stops admitting new work
// cleanly the moment the client reports a network outage.
package extractionengine

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
	"golang.org/x/time/rate"

	"github.com/gairiksingha/intelliextract-runner/extractionclient"
	"github.com/gairiksingha/intelliextract-runner/store"
)

// defaultConcurrency is used when Request.Concurrency is unspecified or
// non-positive, per section 4.5.
const defaultConcurrency = 5

// FileTask is one input to the engine, per section 4.5.
type FileTask struct {
	FilePath     string
	RelativePath string
	Brand        string
	Purchaser    string
}

// Request bundles the engine's inputs, per section 4.5.
type Request struct {
	Files             []FileTask
	RunID             string
	CaseID            string
	Concurrency       int
	RequestsPerSecond float64
	SkipCompleted     bool
	RetryFailed       bool
	Filter            store.StatsFilter
	OnProgress        func(done, total int)
}

// Result is returned once the queue drains, summarizing the run for the
// Workflow Coordinator.
type Result struct {
	Total     int
	Processed int
	Skipped   int
	Failures  []store.Checkpoint
	Aborted   bool
}

// Engine drives the Extraction Client over a batch of files.
type Engine struct {
	store  *store.Store
	client extractionclient.Client
}

// NewEngine constructs an Engine.
func NewEngine(st *store.Store, client extractionclient.Client) *Engine {
	return &Engine{store: st, client: client}
}

// Run executes the algorithm of section 4.5 against req.
func (e *Engine) Run(ctx context.Context, req Request) (Result, error) {
	onProgress := req.OnProgress
	if onProgress == nil {
		onProgress = func(int, int) {}
	}

	completedRunID := req.RunID
	if req.SkipCompleted {
		completedRunID = ""
	}
	completedPaths, err := e.store.GetCompletedPaths(ctx, completedRunID)
	if err != nil {
		return Result{}, fmt.Errorf("extractionengine: load completed paths: %w", err)
	}

	var toProcess, skippedNow []FileTask
	for _, f := range req.Files {
		if completedPaths[f.RelativePath] {
			skippedNow = append(skippedNow, f)
		} else {
			toProcess = append(toProcess, f)
		}
	}

	result := Result{Total: len(req.Files), Skipped: len(skippedNow)}

	if len(skippedNow) > 0 {
		now := time.Now().UTC().Format(time.RFC3339Nano)
		checkpoints := make([]store.Checkpoint, len(skippedNow))
		for i, f := range skippedNow {
			checkpoints[i] = store.Checkpoint{
				RunID:        req.RunID,
				RelativePath: f.RelativePath,
				FilePath:     f.FilePath,
				Brand:        f.Brand,
				Purchaser:    f.Purchaser,
				Status:       store.StatusSkipped,
				StartedAt:    now,
				FinishedAt:   now,
			}
		}
		if err := e.store.UpsertCheckpoints(ctx, checkpoints); err != nil {
			return Result{}, fmt.Errorf("extractionengine: write skipped checkpoints: %w", err)
		}
	}

	if len(toProcess) == 0 {
		return result, nil
	}

	concurrency := req.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	var limiter *rate.Limiter
	if req.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(req.RequestsPerSecond), int(req.RequestsPerSecond))
	}

	var aborted atomic.Bool
	var done atomic.Int64
	total := len(req.Files)

	var failuresMu sync.Mutex
	var failures []store.Checkpoint

	eg := new(errgroup.Group)
	eg.SetLimit(concurrency)

	for _, f := range toProcess {
		f := f
		eg.Go(func() error {
			if aborted.Load() {
				return nil
			}
			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					return nil
				}
			}

			cp, networkAbort := e.runOne(ctx, req.RunID, f)

			if cp.Status == store.StatusError {
				failuresMu.Lock()
				failures = append(failures, cp)
				failuresMu.Unlock()
			}
			if networkAbort {
				aborted.Store(true)
			}

			done.Add(1)
			onProgress(int(done.Load()), total)
			return nil
		})
	}

	// errgroup.Group's error is always nil here; every task body
	// swallows its own error into a checkpoint record.
	_ = eg.Wait()

	result.Processed = len(toProcess)
	result.Failures = failures
	result.Aborted = aborted.Load()

	if term.IsTerminal(int(os.Stdout.Fd())) {
		return result, nil
	}

	stats, err := e.store.GetCumulativeStats(ctx, req.CaseID, req.Filter)
	if err != nil {
		return result, fmt.Errorf("extractionengine: cumulative stats: %w", err)
	}
	fmt.Printf("CUMULATIVE_METRICS\tsuccess=%d,failed=%d,total=%d\n", stats.Success, stats.Failed, stats.Total)

	return result, nil
}

// runOne implements one task body from section 4.5 step 5: write a
// running checkpoint, call the client, write the terminal checkpoint,
// and log the event regardless of outcome. It reports whether the
// failure was a network abort.
func (e *Engine) runOne(ctx context.Context, runID string, f FileTask) (store.Checkpoint, bool) {
	startedAt := time.Now().UTC().Format(time.RFC3339Nano)
	running := store.Checkpoint{
		RunID:        runID,
		RelativePath: f.RelativePath,
		FilePath:     f.FilePath,
		Brand:        f.Brand,
		Purchaser:    f.Purchaser,
		Status:       store.StatusRunning,
		StartedAt:    startedAt,
	}
	if err := e.store.UpsertCheckpoint(ctx, running); err != nil {
		terminal := running
		terminal.Status = store.StatusError
		terminal.FinishedAt = time.Now().UTC().Format(time.RFC3339Nano)
		terminal.ErrorMessage = fmt.Sprintf("write running checkpoint: %v", err)
		e.logEvent(ctx, runID, terminal)
		return terminal, false
	}

	start := time.Now()
	extractResult, err := e.client.Extract(ctx, f.FilePath, f.Brand, f.Purchaser)
	latencyMs := time.Since(start).Milliseconds()

	terminal := running
	terminal.FinishedAt = time.Now().UTC().Format(time.RFC3339Nano)
	terminal.LatencyMs = latencyMs

	var networkAbort bool
	if err != nil {
		var abortErr *extractionclient.NetworkAbortError
		networkAbort = isNetworkAbort(err, &abortErr)
		terminal.Status = store.StatusError
		terminal.ErrorMessage = err.Error()
	} else {
		terminal.StatusCode = extractResult.StatusCode
		terminal.PatternKey = extractResult.PatternKey
		terminal.ErrorMessage = extractResult.ErrorMessage
		terminal.FullResponse = extractResult.FullResponse
		if extractResult.Success {
			terminal.Status = store.StatusDone
		} else {
			terminal.Status = store.StatusError
		}
	}

	if err := e.store.UpsertCheckpoint(ctx, terminal); err != nil {
		terminal.ErrorMessage = fmt.Sprintf("%s (and: write terminal checkpoint: %v)", terminal.ErrorMessage, err)
	}

	e.logEvent(ctx, runID, terminal)
	return terminal, networkAbort
}

func (e *Engine) logEvent(ctx context.Context, runID string, cp store.Checkpoint) {
	data, err := json.Marshal(cp)
	if err != nil {
		return
	}
	level := "info"
	if cp.Status == store.StatusError {
		level = "error"
	}
	_ = e.store.AppendExtractionLog(ctx, runID, level, data)
}
