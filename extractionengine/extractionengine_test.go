package extractionengine

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gairiksingha/intelliextract-runner/extractionclient"
	"github.com/gairiksingha/intelliextract-runner/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "checkpoint.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// countingClient wraps another Client and counts invocations, used to
// assert how many files the engine actually submitted to the client.
type countingClient struct {
	inner extractionclient.Client
	calls atomic.Int64
}

func (c *countingClient) Extract(ctx context.Context, filePath, brand, purchaser string) (extractionclient.Result, error) {
	c.calls.Add(1)
	return c.inner.Extract(ctx, filePath, brand, purchaser)
}

// abortingClient fails every call with a NetworkAbortError.
type abortingClient struct{}

func (abortingClient) Extract(ctx context.Context, filePath, brand, purchaser string) (extractionclient.Result, error) {
	return extractionclient.Result{}, &extractionclient.NetworkAbortError{Op: "test", Err: context.DeadlineExceeded}
}

func makeFiles(n int) []FileTask {
	files := make([]FileTask, n)
	for i := range files {
		files[i] = FileTask{
			FilePath:     filepath.Join("staging", "acme", "p1", "file.xlsx"),
			RelativePath: filepath.Join("acme", "p1", "file-") + string(rune('a'+i)) + ".xlsx",
			Brand:        "acme",
			Purchaser:    "p1",
		}
	}
	return files
}

func TestRun_AllSucceed(t *testing.T) {
	st := openTestStore(t)
	if err := st.StartNewRun(context.Background(), "RUN-1", "EXTRACT"); err != nil {
		t.Fatalf("StartNewRun: %v", err)
	}

	engine := NewEngine(st, extractionclient.NewMockClient(time.Millisecond, 0, 1))
	files := makeFiles(3)

	var mu sync.Mutex
	var progressEvents [][2]int
	result, err := engine.Run(context.Background(), Request{
		Files:       files,
		RunID:       "RUN-1",
		CaseID:      "EXTRACT",
		Concurrency: 2,
		OnProgress: func(done, total int) {
			mu.Lock()
			progressEvents = append(progressEvents, [2]int{done, total})
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Processed != 3 || result.Skipped != 0 || len(result.Failures) != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}

	checkpoints, err := st.GetCheckpointsForRun(context.Background(), "RUN-1")
	if err != nil {
		t.Fatalf("GetCheckpointsForRun: %v", err)
	}
	if len(checkpoints) != 3 {
		t.Fatalf("expected 3 checkpoints, got %d", len(checkpoints))
	}
	for _, c := range checkpoints {
		if c.Status != store.StatusDone {
			t.Errorf("expected status=done, got %s for %s", c.Status, c.RelativePath)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(progressEvents) != 3 {
		t.Errorf("expected 3 progress callbacks, got %d", len(progressEvents))
	}
}

func TestRun_SkipsCompletedPaths(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	if err := st.StartNewRun(ctx, "RUN-1", "EXTRACT"); err != nil {
		t.Fatalf("StartNewRun: %v", err)
	}

	files := makeFiles(2)
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := st.UpsertCheckpoint(ctx, store.Checkpoint{
		RunID: "RUN-1", RelativePath: files[0].RelativePath, FilePath: files[0].FilePath,
		Status: store.StatusDone, StartedAt: now, FinishedAt: now,
	}); err != nil {
		t.Fatalf("UpsertCheckpoint: %v", err)
	}

	client := &countingClient{inner: extractionclient.NewMockClient(time.Millisecond, 0, 1)}
	engine := NewEngine(st, client)

	result, err := engine.Run(ctx, Request{Files: files, RunID: "RUN-1", CaseID: "EXTRACT"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Skipped != 1 || result.Processed != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if client.calls.Load() != 1 {
		t.Errorf("expected exactly 1 client call, got %d", client.calls.Load())
	}
}

func TestRun_EmptyToProcessReturnsEarly(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	if err := st.StartNewRun(ctx, "RUN-1", "EXTRACT"); err != nil {
		t.Fatalf("StartNewRun: %v", err)
	}

	files := makeFiles(1)
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := st.UpsertCheckpoint(ctx, store.Checkpoint{
		RunID: "RUN-1", RelativePath: files[0].RelativePath, FilePath: files[0].FilePath,
		Status: store.StatusDone, StartedAt: now, FinishedAt: now,
	}); err != nil {
		t.Fatalf("UpsertCheckpoint: %v", err)
	}

	client := &countingClient{inner: extractionclient.NewMockClient(time.Millisecond, 0, 1)}
	engine := NewEngine(st, client)

	result, err := engine.Run(ctx, Request{Files: files, RunID: "RUN-1", CaseID: "EXTRACT"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Processed != 0 || result.Skipped != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if client.calls.Load() != 0 {
		t.Errorf("expected no client calls when toProcess is empty, got %d", client.calls.Load())
	}
}

func TestRun_NetworkAbortStopsNotYetStartedTasks(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	if err := st.StartNewRun(ctx, "RUN-1", "EXTRACT"); err != nil {
		t.Fatalf("StartNewRun: %v", err)
	}

	files := makeFiles(20)
	engine := NewEngine(st, abortingClient{})

	result, err := engine.Run(ctx, Request{Files: files, RunID: "RUN-1", CaseID: "EXTRACT", Concurrency: 1})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Aborted {
		t.Error("expected Aborted=true after a network-abort failure")
	}

	checkpoints, err := st.GetCheckpointsForRun(ctx, "RUN-1")
	if err != nil {
		t.Fatalf("GetCheckpointsForRun: %v", err)
	}
	if len(checkpoints) == 0 || len(checkpoints) >= len(files) {
		t.Errorf("expected some but not all files to have been attempted before abort, got %d of %d", len(checkpoints), len(files))
	}
}

func TestRun_FailuresAreCollected(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	if err := st.StartNewRun(ctx, "RUN-1", "EXTRACT"); err != nil {
		t.Fatalf("StartNewRun: %v", err)
	}

	files := makeFiles(5)
	engine := NewEngine(st, extractionclient.NewMockClient(time.Millisecond, 1, 1))

	result, err := engine.Run(ctx, Request{Files: files, RunID: "RUN-1", CaseID: "EXTRACT", Concurrency: 3})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Failures) != 5 {
		t.Fatalf("expected all 5 to fail with FailureRate=1, got %d failures", len(result.Failures))
	}
	for _, f := range result.Failures {
		if f.Status != store.StatusError {
			t.Errorf("expected failure checkpoint status=error, got %s", f.Status)
		}
	}
}
