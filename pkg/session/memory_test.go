package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/carescore/platform/pkg/submission"
)

func TestMemoryStoreSaveGetExpire(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore(time.Hour, time.Minute)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	snap := submission.Snapshot{ReportID: "rep-1", State: submission.StateReady}
	if err := store.Save(ctx, "s1", snap); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	got, err := store.Get(ctx, "s1")
	if err != nil || got.ReportID != "rep-1" {
		t.Fatalf("unexpected get result %+v %v", got, err)
	}

	now = now.Add(2 * time.Hour)
	if _, err := store.Get(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expired session, got %v", err)
	}
}

func TestMemoryStoreSweep(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore(time.Hour, time.Minute)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	_ = store.Save(ctx, "old", submission.Snapshot{})
	now = now.Add(30 * time.Minute)
	_ = store.Save(ctx, "new", submission.Snapshot{})
	now = now.Add(45 * time.Minute)

	if removed := store.Sweep(); removed != 1 {
		t.Fatalf("expected one expired session, removed %d", removed)
	}
	if _, err := store.Get(ctx, "new"); err != nil {
		t.Fatalf("expected fresh session to survive: %v", err)
	}
}

func TestMemoryStoreLock(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore(time.Hour, time.Minute)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	release, err := store.Lock(ctx, "s1")
	if err != nil {
		t.Fatalf("lock failed: %v", err)
	}
	if _, err := store.Lock(ctx, "s1"); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected second lock to fail, got %v", err)
	}
	if _, err := store.Lock(ctx, "s2"); err != nil {
		t.Fatalf("expected independent session lock: %v", err)
	}

	release()
	release()
	again, err := store.Lock(ctx, "s1")
	if err != nil {
		t.Fatalf("expected lock after release: %v", err)
	}

	// a stale holder must not release a lock taken over after expiry
	now = now.Add(2 * time.Minute)
	takeover, err := store.Lock(ctx, "s1")
	if err != nil {
		t.Fatalf("expected expired lock to be taken over: %v", err)
	}
	again()
	if _, err := store.Lock(ctx, "s1"); !errors.Is(err, ErrLocked) {
		t.Fatal("stale release dropped the new holder's lock")
	}
	takeover()
}
