// Package metricsagg implements the Metrics Aggregator as specified in
// section 4.7 of the design specification: a pure function over a run's
// checkpoint records that yields counts, latency percentiles,
// throughput, a failure breakdown, the slowest files, and anomaly
// flags, grounded on the teacher's metrics.Report shape.
package metricsagg

import (
	"regexp"
	"sort"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/gairiksingha/intelliextract-runner/store"
)

// FailureBreakdown counts error checkpoints by inferred error type, per
// section 4.7.
type FailureBreakdown struct {
	Timeout     int64 `json:"timeout"`
	ReadError   int64 `json:"readError"`
	ServerError int64 `json:"serverError"`
	ClientError int64 `json:"clientError"`
	Other       int64 `json:"other"`
}

// SlowFile is one entry of the top-5-slowest list.
type SlowFile struct {
	RelativePath string `json:"relativePath"`
	LatencyMs    int64  `json:"latencyMs"`
}

// BrandFailureCount is one entry of the failures-by-brand breakdown.
type BrandFailureCount struct {
	Brand string `json:"brand"`
	Count int64  `json:"count"`
}

// Anomaly flags a single noteworthy record, per section 4.7.
type Anomaly struct {
	Type         string `json:"type"`
	RelativePath string `json:"relativePath"`
	Message      string `json:"message"`
}

// Report is the computed result of Compute, defined by section 4.7.
type Report struct {
	RunID                 string            `json:"runId"`
	StartedAt             time.Time         `json:"startedAt"`
	FinishedAt            time.Time         `json:"finishedAt"`
	Success               int64             `json:"success"`
	Failed                int64             `json:"failed"`
	Skipped               int64             `json:"skipped"`
	TotalFiles            int64             `json:"totalFiles"`
	Processed             int64             `json:"processed"`
	TotalProcessingTimeMs int64             `json:"totalProcessingTimeMs"`
	ThroughputPerSecond   float64           `json:"throughputPerSecond"`
	ThroughputPerMinute   float64           `json:"throughputPerMinute"`
	AvgLatencyMs          float64           `json:"avgLatencyMs"`
	P50LatencyMs          float64           `json:"p50LatencyMs"`
	P95LatencyMs          float64           `json:"p95LatencyMs"`
	P99LatencyMs          float64           `json:"p99LatencyMs"`
	ErrorRate             float64           `json:"errorRate"`
	FailureBreakdown      FailureBreakdown  `json:"failureBreakdown"`
	TopSlowest            []SlowFile        `json:"topSlowest"`
	FailuresByBrand       []BrandFailureCount `json:"failuresByBrand"`
	Anomalies             []Anomaly         `json:"anomalies"`
}

var networkTimeoutPattern = regexp.MustCompile(`(?i)timeout|abort|etimedout|econnaborted`)
var readErrorPattern = regexp.MustCompile(`(?i)^read file:`)

// Compute derives a Report from a run's checkpoint records, per the
// formulas of section 4.7. It is a pure function: it reads no external
// state and has no side effects.
func Compute(runID string, records []store.Checkpoint, startedAt, finishedAt time.Time) Report {
	report := Report{
		RunID:      runID,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		TotalFiles: int64(len(records)),
	}

	var latencies []float64
	for _, r := range records {
		switch r.Status {
		case store.StatusDone:
			report.Success++
		case store.StatusError:
			report.Failed++
			report.FailureBreakdown.classify(r)
		case store.StatusSkipped:
			report.Skipped++
		}
		if (r.Status == store.StatusDone || r.Status == store.StatusError) && r.LatencyMs >= 0 {
			latencies = append(latencies, float64(r.LatencyMs))
			report.TotalProcessingTimeMs += r.LatencyMs
		}
	}

	report.Processed = report.Success + report.Failed

	if report.TotalProcessingTimeMs > 0 {
		seconds := float64(report.TotalProcessingTimeMs) / 1000
		report.ThroughputPerSecond = float64(report.Processed) / seconds
		report.ThroughputPerMinute = report.ThroughputPerSecond * 60
	}

	if len(latencies) > 0 {
		report.AvgLatencyMs = float64(report.TotalProcessingTimeMs) / float64(len(latencies))
		report.P50LatencyMs = percentileOrZero(latencies, 50)
		report.P95LatencyMs = percentileOrZero(latencies, 95)
		report.P99LatencyMs = percentileOrZero(latencies, 99)
	}

	if report.Processed > 0 {
		report.ErrorRate = float64(report.Failed) / float64(report.Processed)
	}

	report.TopSlowest = topSlowest(records, 5)
	report.FailuresByBrand = failuresByBrand(records)
	report.Anomalies = anomalies(records, report.P95LatencyMs)

	return report
}

func percentileOrZero(data []float64, percent float64) float64 {
	p, err := stats.Percentile(data, percent)
	if err != nil {
		return 0
	}
	return p
}

// classify implements the error-type inference of section 4.7.
func (fb *FailureBreakdown) classify(r store.Checkpoint) {
	switch {
	case r.StatusCode == 0 && networkTimeoutPattern.MatchString(r.ErrorMessage):
		fb.Timeout++
	case r.StatusCode == 0 && readErrorPattern.MatchString(r.ErrorMessage):
		fb.ReadError++
	case r.StatusCode == 0:
		fb.Other++
	case r.StatusCode >= 500:
		fb.ServerError++
	case r.StatusCode >= 400 && r.StatusCode < 500:
		fb.ClientError++
	default:
		fb.Other++
	}
}

func topSlowest(records []store.Checkpoint, n int) []SlowFile {
	var done []store.Checkpoint
	for _, r := range records {
		if r.Status == store.StatusDone && r.LatencyMs >= 0 {
			done = append(done, r)
		}
	}
	sort.Slice(done, func(i, j int) bool { return done[i].LatencyMs > done[j].LatencyMs })
	if len(done) > n {
		done = done[:n]
	}
	out := make([]SlowFile, len(done))
	for i, r := range done {
		out[i] = SlowFile{RelativePath: r.RelativePath, LatencyMs: r.LatencyMs}
	}
	return out
}

func failuresByBrand(records []store.Checkpoint) []BrandFailureCount {
	counts := make(map[string]int64)
	for _, r := range records {
		if r.Status == store.StatusError {
			counts[r.Brand]++
		}
	}
	out := make([]BrandFailureCount, 0, len(counts))
	for brand, count := range counts {
		out = append(out, BrandFailureCount{Brand: brand, Count: count})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out
}

func anomalies(records []store.Checkpoint, p95 float64) []Anomaly {
	var out []Anomaly
	for _, r := range records {
		switch r.Status {
		case store.StatusDone:
			if p95 > 0 && float64(r.LatencyMs) > 2*p95 {
				out = append(out, Anomaly{Type: "high_latency", RelativePath: r.RelativePath, Message: r.ErrorMessage})
			}
		case store.StatusError:
			out = append(out, Anomaly{Type: "unexpected_status", RelativePath: r.RelativePath, Message: r.ErrorMessage})
		}
	}
	return out
}
