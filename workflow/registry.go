package workflow

import (
	"fmt"
	"sync"
	"time"
)

// activeRun is one entry of the in-process active-run registry, per
// section 4.6. CaseID mirrors the registry key for convenience when
// listing.
type activeRun struct {
	CaseID    string
	RunID     string
	StartedAt time.Time
	Status    string
}

// activeRunRegistry enforces at most one non-terminal run per CaseID, as
// required by section 3's Run invariant and section 4.6's "reject a
// second registration for the same caseId while the first is
// non-terminal."
type activeRunRegistry struct {
	mu      sync.Mutex
	byCase  map[string]*activeRun
}

func newActiveRunRegistry() *activeRunRegistry {
	return &activeRunRegistry{byCase: make(map[string]*activeRun)}
}

// register inserts a new active run for caseID, or returns an error if
// one is already running.
func (r *activeRunRegistry) register(caseID, runID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byCase[caseID]; ok {
		return fmt.Errorf("workflow: a run is already active for case %q (runId=%s)", caseID, existing.RunID)
	}
	r.byCase[caseID] = &activeRun{CaseID: caseID, RunID: runID, StartedAt: time.Now(), Status: "running"}
	return nil
}

// unregister removes the active-run entry for caseID, run unconditionally
// in the caller's defer path.
func (r *activeRunRegistry) unregister(caseID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byCase, caseID)
}
