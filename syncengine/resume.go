package syncengine

import (
	"context"
	"fmt"
	"os"
)

// PrepareResume implements the resume policy from section 4.4: before a
// --resume invocation, read ResumeState; if a download was in flight,
// delete the partial file and clear ResumeState. The manifest is left
// untouched since no entry was ever written for an in-flight download.
func (e *Engine) PrepareResume(ctx context.Context) error {
	rs, err := e.store.GetResumeState(ctx)
	if err != nil {
		return fmt.Errorf("syncengine: read resume state: %w", err)
	}
	if rs.SyncInProgressPath == "" {
		return nil
	}

	if err := os.Remove(rs.SyncInProgressPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("syncengine: remove partial download %s: %w", rs.SyncInProgressPath, err)
	}

	if err := e.store.ClearResumeState(ctx); err != nil {
		return fmt.Errorf("syncengine: clear resume state: %w", err)
	}

	return nil
}
