package extractionclient

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

// MockClient simulates the Extraction API deterministically for local
// dry-runs and tests, selected when ENTELLIEXTRACT_USE_MOCK=1 per
// section 4.3, grounded on the teacher's integration/mock fake-client
// style.
type MockClient struct {
	// Latency is the simulated per-call latency.
	Latency time.Duration
	// FailureRate is the fraction (0..1) of calls that simulate a
	// failed extraction rather than a success.
	FailureRate float64
	// Seed drives a deterministic PRNG so repeated runs over the same
	// file set produce the same outcomes. Extract is called
	// concurrently by the extraction engine's worker pool, so access is
	// serialized with rngMu.
	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewMockClient constructs a MockClient with a deterministic PRNG seeded
// from the given value.
func NewMockClient(latency time.Duration, failureRate float64, seed uint64) *MockClient {
	return &MockClient{
		Latency:     latency,
		FailureRate: failureRate,
		rng:         rand.New(rand.NewPCG(seed, seed)),
	}
}

// Extract implements Client by simulating latency and a deterministic
// success/failure outcome.
func (m *MockClient) Extract(ctx context.Context, filePath, brand, purchaser string) (Result, error) {
	select {
	case <-time.After(m.Latency):
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	m.rngMu.Lock()
	fail := m.rng.Float64() < m.FailureRate
	m.rngMu.Unlock()
	if fail {
		return Result{
			Success:      false,
			StatusCode:   500,
			LatencyMs:    m.Latency.Milliseconds(),
			ErrorMessage: "simulated extraction failure",
		}, nil
	}

	full, _ := json.Marshal(map[string]any{
		"success":    true,
		"patternKey": "mock-pattern",
		"file":       filePath,
		"brand":      brand,
		"purchaser":  purchaser,
	})

	return Result{
		Success:      true,
		StatusCode:   200,
		LatencyMs:    m.Latency.Milliseconds(),
		PatternKey:   "mock-pattern",
		FullResponse: full,
	}, nil
}

// UseMockFromEnv reports whether ENTELLIEXTRACT_USE_MOCK=1 is set, as
// required by section 4.3.
func UseMockFromEnv(getenv func(string) string) bool {
	return getenv("ENTELLIEXTRACT_USE_MOCK") == "1"
}
