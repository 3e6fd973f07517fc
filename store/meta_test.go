package store

import (
	"context"
	"testing"
)

func TestMeta_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SetMeta(ctx, "foo", "bar"); err != nil {
		t.Fatalf("SetMeta: %v", err)
	}
	got, err := s.GetMeta(ctx, "foo")
	if err != nil {
		t.Fatalf("GetMeta: %v", err)
	}
	if got != "bar" {
		t.Errorf("expected %q, got %q", "bar", got)
	}
}

func TestGetMeta_AbsentReturnsEmpty(t *testing.T) {
	s := openTestStore(t)
	got, err := s.GetMeta(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetMeta: %v", err)
	}
	if got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
}

func TestResumeState_RoundTripAndClear(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rs := ResumeState{SyncInProgressPath: "/staging/foo.part", SyncInProgressManifestKey: "acme|p/foo.xlsx"}
	if err := s.SaveResumeState(ctx, rs); err != nil {
		t.Fatalf("SaveResumeState: %v", err)
	}

	got, err := s.GetResumeState(ctx)
	if err != nil {
		t.Fatalf("GetResumeState: %v", err)
	}
	if got != rs {
		t.Errorf("expected %+v, got %+v", rs, got)
	}

	if err := s.ClearResumeState(ctx); err != nil {
		t.Fatalf("ClearResumeState: %v", err)
	}
	got, err = s.GetResumeState(ctx)
	if err != nil {
		t.Fatalf("GetResumeState (after clear): %v", err)
	}
	if got != (ResumeState{}) {
		t.Errorf("expected zero resume state after clear, got %+v", got)
	}
}
