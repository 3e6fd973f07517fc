package store

import (
	"context"
	"sync"
	"testing"
)

func TestManifest_EmptyByDefault(t *testing.T) {
	s := openTestStore(t)
	m, err := s.GetManifest(context.Background())
	if err != nil {
		t.Fatalf("GetManifest: %v", err)
	}
	if m == nil || len(m) != 0 {
		t.Errorf("expected empty non-nil manifest, got %v", m)
	}
}

func TestUpsertManifestEntry_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	key := ManifestKey("acme", "p/foo.xlsx")
	entry := ManifestEntry{ETag: "etag1", SHA256: "sha1", Size: 42, LocalPath: "/staging/foo.xlsx"}

	if err := s.UpsertManifestEntry(ctx, key, entry); err != nil {
		t.Fatalf("UpsertManifestEntry: %v", err)
	}

	m, err := s.GetManifest(ctx)
	if err != nil {
		t.Fatalf("GetManifest: %v", err)
	}
	got, ok := m[key]
	if !ok {
		t.Fatalf("expected manifest entry for key %q", key)
	}
	if got.ETag != "etag1" || got.Size != 42 {
		t.Errorf("unexpected entry: %+v", got)
	}
}

func TestDeleteManifestEntry(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	key := ManifestKey("acme", "p/foo.xlsx")
	if err := s.UpsertManifestEntry(ctx, key, ManifestEntry{ETag: "etag1"}); err != nil {
		t.Fatalf("UpsertManifestEntry: %v", err)
	}
	if err := s.DeleteManifestEntry(ctx, key); err != nil {
		t.Fatalf("DeleteManifestEntry: %v", err)
	}

	m, err := s.GetManifest(ctx)
	if err != nil {
		t.Fatalf("GetManifest: %v", err)
	}
	if _, ok := m[key]; ok {
		t.Error("expected manifest entry to be deleted")
	}
}

// TestManifest_ConcurrentUpserts exercises the critical-section guarantee:
// concurrent per-bucket syncs writing distinct keys must never clobber
// one another's entries.
func TestManifest_ConcurrentUpserts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := ManifestKey("acme", fmtKey(i))
			if err := s.UpsertManifestEntry(ctx, key, ManifestEntry{ETag: fmtKey(i)}); err != nil {
				t.Errorf("UpsertManifestEntry(%d): %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	m, err := s.GetManifest(ctx)
	if err != nil {
		t.Fatalf("GetManifest: %v", err)
	}
	if len(m) != n {
		t.Errorf("expected %d manifest entries, got %d", n, len(m))
	}
}

func fmtKey(i int) string {
	const digits = "0123456789"
	if i == 0 {
		return "0"
	}
	var b []byte
	for i > 0 {
		b = append([]byte{digits[i%10]}, b...)
		i /= 10
	}
	return "k" + string(b)
}
