package extractionclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
)

// maxServerErrorRetries bounds the backoff loop for 5xx responses,
// grounded on the teacher's writer.WriteBatch throttling retry (there
// capped by a fixed attempt count rather than retrying indefinitely,
// since an Extraction API outage should surface as a per-file failure
// rather than stall the whole run).
const maxServerErrorRetries = 3

// backoffWait sleeps for an exponentially increasing duration with
// jitter, grounded on the teacher's writer.backoffWait. Returns false
// if ctx is cancelled during the wait.
func backoffWait(ctx context.Context, attempt int) bool {
	base := 200 * time.Millisecond
	maxDelay := 2 * time.Second

	delay := base * time.Duration(1<<uint(attempt))
	if delay > maxDelay {
		delay = maxDelay
	}
	delay += time.Duration(rand.Int64N(int64(delay) + 1))

	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}

// extractionResponse is the wire shape of a successful Extraction API
// response body, as required by section 6.
type extractionResponse struct {
	Success    bool            `json:"success"`
	PatternKey string          `json:"patternKey"`
	Data       json.RawMessage `json:"data"`
}

// HTTPClient implements Client against the real Extraction API over
// HTTP, as required by section 4.3.
type HTTPClient struct {
	httpClient *http.Client
	endpoint   string
	creds      Credentials
}

// NewHTTPClient constructs an HTTPClient with a per-request deadline
// equal to timeout, covering both the connect and body phases, as
// required by section 4.3.
func NewHTTPClient(endpoint string, creds Credentials, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   endpoint,
		creds:      creds,
	}
}

// Extract implements Client.
func (c *HTTPClient) Extract(ctx context.Context, filePath, brand, purchaser string) (Result, error) {
	started := time.Now()

	f, err := os.Open(filePath)
	if err != nil {
		return Result{}, fmt.Errorf("extractionclient: open %s: %w", filePath, err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	partHeader := make(textproto.MIMEHeader)
	partHeader.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filepath.Base(filePath)))
	partHeader.Set("Content-Type", mimeTypeForPath(filePath))
	part, err := mw.CreatePart(partHeader)
	if err != nil {
		return Result{}, fmt.Errorf("extractionclient: create file part: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return Result{}, fmt.Errorf("extractionclient: read %s: %w", filePath, err)
	}
	if err := mw.WriteField("pattern_key", ""); err != nil {
		return Result{}, fmt.Errorf("extractionclient: write pattern_key field: %w", err)
	}
	if err := mw.WriteField("request_metadata", ""); err != nil {
		return Result{}, fmt.Errorf("extractionclient: write request_metadata field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return Result{}, fmt.Errorf("extractionclient: close multipart writer: %w", err)
	}

	contentType := mw.FormDataContentType()
	formData := body.Bytes()

	var (
		respBody   []byte
		statusCode int
	)
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(formData))
		if err != nil {
			return Result{}, fmt.Errorf("extractionclient: build request: %w", err)
		}
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Access-Key", c.creds.AccessKey)
		req.Header.Set("X-Secret-Message", c.creds.SecretMessage)
		req.Header.Set("X-Signature", c.creds.Signature)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if abortErr := classifyNetworkError(err); abortErr != nil {
				return Result{Success: false, StatusCode: 0, LatencyMs: time.Since(started).Milliseconds()}, abortErr
			}
			return Result{}, fmt.Errorf("extractionclient: do request: %w", err)
		}

		respBody, err = io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			if abortErr := classifyNetworkError(err); abortErr != nil {
				return Result{Success: false, StatusCode: 0, LatencyMs: time.Since(started).Milliseconds()}, abortErr
			}
			return Result{}, fmt.Errorf("extractionclient: read response body: %w", err)
		}
		statusCode = resp.StatusCode

		if statusCode >= 500 && statusCode < 600 && attempt < maxServerErrorRetries {
			if !backoffWait(ctx, attempt) {
				return Result{}, ctx.Err()
			}
			continue
		}
		break
	}

	latencyMs := time.Since(started).Milliseconds()

	if statusCode >= 400 && statusCode < 500 {
		return Result{}, &HTTPError{StatusCode: statusCode, Body: string(respBody)}
	}

	if statusCode < 200 || statusCode >= 300 {
		return Result{
			Success:      false,
			StatusCode:   statusCode,
			LatencyMs:    latencyMs,
			ErrorMessage: string(respBody),
		}, nil
	}

	var parsed extractionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Result{
			Success:      false,
			StatusCode:   statusCode,
			LatencyMs:    latencyMs,
			ErrorMessage: fmt.Sprintf("unparseable response: %v", err),
			FullResponse: respBody,
		}, nil
	}

	return Result{
		Success:      parsed.Success,
		StatusCode:   statusCode,
		LatencyMs:    latencyMs,
		PatternKey:   parsed.PatternKey,
		FullResponse: respBody,
	}, nil
}

// classifyNetworkError returns a NetworkAbortError when err represents a
// connectivity failure severe enough to stop submitting further files
// (timeout, connection refusal, DNS failure, or a body read that ended
// mid-stream), as required by section 4.3. It returns nil for errors
// that should instead be treated as an unexpected local failure.
func classifyNetworkError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &NetworkAbortError{Op: "timeout", Err: err}
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return &NetworkAbortError{Op: "connection-refused", Err: err}
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &NetworkAbortError{Op: "dns", Err: err}
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return &NetworkAbortError{Op: "body-truncated", Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return &NetworkAbortError{Op: "conn-reset", Err: err}
	}
	return nil
}
