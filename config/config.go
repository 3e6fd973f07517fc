// Package config implements configuration management as specified in
// section 6 of the design specification. It defines the validated
// Config and loads the tenant/purchaser map from the environment and
// the bucket list from a JSON file (flags are parsed by cmd), grounded
// on the teacher's config.Config struct-plus-Validate shape.
package config

import (
	"fmt"
	"os"
	"time"

	json "github.com/goccy/go-json"
)

// BucketSpec names one bucket/prefix to sync for a tenant/purchaser
// pair, as required by section 6 ("buckets listed in config with
// {bucket, prefix, tenant, purchaser}").
type BucketSpec struct {
	Bucket    string `json:"bucket"`
	Prefix    string `json:"prefix"`
	Tenant    string `json:"tenant"`
	Purchaser string `json:"purchaser"`
}

// Pair is a (tenant, purchaser) slice.
type Pair struct {
	Tenant    string
	Purchaser string
}

// Config holds every non-secret setting for a run, as defined across
// sections 4 and 6 of the design specification.
type Config struct {
	StagingDir        string
	CheckpointDir     string
	S3Region          string
	ExtractionBaseURL string
	RequestTimeout    time.Duration
	Concurrency       int
	RequestsPerSecond float64
	DownloadBudget    int64
	UseMock           bool
	TenantPurchasers  map[string][]string
	Buckets           []BucketSpec
}

// Validate implements the validation requirements of sections 4 and 6,
// defaulting Concurrency and RequestTimeout rather than rejecting an
// unset value, since both have sensible defaults per section 4.5.
func (c *Config) Validate() error {
	if c.StagingDir == "" {
		return fmt.Errorf("staging directory is required")
	}
	if c.CheckpointDir == "" {
		return fmt.Errorf("checkpoint directory is required")
	}
	if c.ExtractionBaseURL == "" && !c.UseMock {
		return fmt.Errorf("extraction base URL is required unless running against the mock client")
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 5
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	return nil
}

// CheckpointPath returns the Record Store's database file path, per
// section 6's persisted-state-layout contract.
func (c *Config) CheckpointPath() string {
	return c.CheckpointDir + "/intelliextract.db"
}

// LoadTenantPurchasersFromEnv parses S3_TENANT_PURCHASERS, a JSON object
// mapping each brand to its purchaser list, as required by section 6.
// An empty or unset variable yields a nil map, not an error.
func LoadTenantPurchasersFromEnv(getenv func(string) string) (map[string][]string, error) {
	raw := getenv("S3_TENANT_PURCHASERS")
	if raw == "" {
		return nil, nil
	}
	var out map[string][]string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("config: parse S3_TENANT_PURCHASERS: %w", err)
	}
	return out, nil
}

// LoadBucketsFromFile reads the bucket descriptor list from the JSON
// file named by CONFIG_PATH, as required by section 6. An empty path
// returns a nil slice, not an error.
func LoadBucketsFromFile(path string) ([]BucketSpec, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var specs []BucketSpec
	if err := json.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return specs, nil
}

// Pairs derives the (tenant, purchaser) pairs to operate over,
// preferring the explicit Buckets list and falling back to a flattened
// TenantPurchasers map when no bucket descriptors were configured.
func (c *Config) Pairs() []Pair {
	var out []Pair
	for _, b := range c.Buckets {
		out = append(out, Pair{Tenant: b.Tenant, Purchaser: b.Purchaser})
	}
	if len(out) > 0 {
		return out
	}
	for brand, purchasers := range c.TenantPurchasers {
		for _, p := range purchasers {
			out = append(out, Pair{Tenant: brand, Purchaser: p})
		}
	}
	return out
}

// ResolveBucket looks up the BucketSpec matching pair, falling back to
// a bucket named after the tenant with a "<tenant>/<purchaser>/" prefix
// when no explicit entry was configured for that pair.
func (c *Config) ResolveBucket(pair Pair) BucketSpec {
	for _, b := range c.Buckets {
		if b.Tenant == pair.Tenant && b.Purchaser == pair.Purchaser {
			return b
		}
	}
	return BucketSpec{
		Bucket:    pair.Tenant,
		Prefix:    pair.Tenant + "/" + pair.Purchaser + "/",
		Tenant:    pair.Tenant,
		Purchaser: pair.Purchaser,
	}
}
