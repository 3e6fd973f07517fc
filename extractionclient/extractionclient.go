// Package extractionclient implements the Extraction API Client as
// specified in section 4.3 of the design specification. It posts a
// single staged file to a remote extraction API as multipart form data
// and classifies the response into success/retryable/fatal outcomes.
package extractionclient

import (
	"context"

	json "github.com/goccy/go-json"
)

// Result is the outcome of one Extract call.
type Result struct {
	Success      bool
	StatusCode   int
	LatencyMs    int64
	PatternKey   string
	ErrorMessage string
	FullResponse json.RawMessage
}

// Client is the capability contract required by section 4.3.
type Client interface {
	Extract(ctx context.Context, filePath, brand, purchaser string) (Result, error)
}

// Compile-time interface checks, grounded on the teacher's
// interface-plus-compile-time-assertion pattern.
var (
	_ Client = (*HTTPClient)(nil)
	_ Client = (*MockClient)(nil)
)
