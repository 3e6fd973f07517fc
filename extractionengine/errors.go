package extractionengine

import (
	"errors"

	"github.com/gairiksingha/intelliextract-runner/extractionclient"
)

// isNetworkAbort reports whether err is (or wraps) a
// extractionclient.NetworkAbortError, as required by section 4.5 step 5
// ("if the error is a network-abort, set aborted=true").
func isNetworkAbort(err error, target **extractionclient.NetworkAbortError) bool {
	return errors.As(err, target)
}
