package config

import (
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		StagingDir:        "/var/lib/intelliextract/staging",
		CheckpointDir:     "/var/lib/intelliextract",
		S3Region:          "us-west-2",
		ExtractionBaseURL: "https://extract.internal/api",
		RequestTimeout:    30 * time.Second,
		Concurrency:       5,
		RequestsPerSecond: 10,
	}
}

func TestValidConfig(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config to pass validation, got: %v", err)
	}
}

func TestMissingStagingDir(t *testing.T) {
	cfg := validConfig()
	cfg.StagingDir = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing staging directory")
	}
}

func TestMissingCheckpointDir(t *testing.T) {
	cfg := validConfig()
	cfg.CheckpointDir = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing checkpoint directory")
	}
}

func TestMissingExtractionURLWithoutMock(t *testing.T) {
	cfg := validConfig()
	cfg.ExtractionBaseURL = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing extraction base URL")
	}
}

func TestMissingExtractionURLWithMockAllowed(t *testing.T) {
	cfg := validConfig()
	cfg.ExtractionBaseURL = ""
	cfg.UseMock = true
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected mock mode to tolerate a missing extraction URL, got: %v", err)
	}
}

func TestDefaultsConcurrencyAndTimeout(t *testing.T) {
	cfg := validConfig()
	cfg.Concurrency = 0
	cfg.RequestTimeout = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validation failed: %v", err)
	}
	if cfg.Concurrency != 5 {
		t.Errorf("expected default concurrency 5, got %d", cfg.Concurrency)
	}
	if cfg.RequestTimeout != 30*time.Second {
		t.Errorf("expected default timeout 30s, got %v", cfg.RequestTimeout)
	}
}

func TestCheckpointPath(t *testing.T) {
	cfg := validConfig()
	cfg.CheckpointDir = "/data"
	if got, want := cfg.CheckpointPath(), "/data/intelliextract.db"; got != want {
		t.Errorf("CheckpointPath() = %q, want %q", got, want)
	}
}

func TestLoadTenantPurchasersFromEnv(t *testing.T) {
	getenv := func(key string) string {
		if key == "S3_TENANT_PURCHASERS" {
			return `{"acme": ["p1", "p2"], "globex": ["p3"]}`
		}
		return ""
	}
	got, err := LoadTenantPurchasersFromEnv(getenv)
	if err != nil {
		t.Fatalf("LoadTenantPurchasersFromEnv: %v", err)
	}
	if len(got["acme"]) != 2 || len(got["globex"]) != 1 {
		t.Errorf("unexpected parsed map: %+v", got)
	}
}

func TestLoadTenantPurchasersFromEnvUnset(t *testing.T) {
	got, err := LoadTenantPurchasersFromEnv(func(string) string { return "" })
	if err != nil {
		t.Fatalf("LoadTenantPurchasersFromEnv: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil map for unset env var, got %+v", got)
	}
}

func TestLoadTenantPurchasersFromEnvInvalidJSON(t *testing.T) {
	_, err := LoadTenantPurchasersFromEnv(func(string) string { return "not json" })
	if err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestLoadBucketsFromFileEmptyPath(t *testing.T) {
	specs, err := LoadBucketsFromFile("")
	if err != nil {
		t.Fatalf("LoadBucketsFromFile: %v", err)
	}
	if specs != nil {
		t.Errorf("expected nil specs for empty path, got %+v", specs)
	}
}

func TestLoadBucketsFromFileMissing(t *testing.T) {
	_, err := LoadBucketsFromFile("/nonexistent/path/config.json")
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestPairsFromBuckets(t *testing.T) {
	cfg := &Config{Buckets: []BucketSpec{
		{Bucket: "b1", Tenant: "acme", Purchaser: "p1"},
		{Bucket: "b1", Tenant: "acme", Purchaser: "p2"},
	}}
	pairs := cfg.Pairs()
	if len(pairs) != 2 {
		t.Fatalf("expected 2 pairs, got %d", len(pairs))
	}
}

func TestPairsFallBackToTenantPurchasers(t *testing.T) {
	cfg := &Config{TenantPurchasers: map[string][]string{"acme": {"p1", "p2"}}}
	pairs := cfg.Pairs()
	if len(pairs) != 2 {
		t.Fatalf("expected 2 pairs, got %d", len(pairs))
	}
}

func TestResolveBucketExplicitEntry(t *testing.T) {
	cfg := &Config{Buckets: []BucketSpec{
		{Bucket: "acme-bucket", Prefix: "custom/", Tenant: "acme", Purchaser: "p1"},
	}}
	got := cfg.ResolveBucket(Pair{Tenant: "acme", Purchaser: "p1"})
	if got.Bucket != "acme-bucket" || got.Prefix != "custom/" {
		t.Errorf("unexpected resolved bucket: %+v", got)
	}
}

func TestResolveBucketDefaultFallback(t *testing.T) {
	cfg := &Config{}
	got := cfg.ResolveBucket(Pair{Tenant: "acme", Purchaser: "p1"})
	if got.Bucket != "acme" || got.Prefix != "acme/p1/" {
		t.Errorf("unexpected default bucket: %+v", got)
	}
}
