package main

import (
	"context"
	"testing"
	"time"

	"github.com/example/smartline-dispatch/internal/models"
)

type fakeUpdater struct {
	calls    int
	failNext int // number of leading calls to reject
}

func (f *fakeUpdater) Upsert(_ context.Context, _ models.DriverPosition, _ time.Duration) bool {
	f.calls++
	return f.calls > f.failNext
}

func TestUpdatePresenceFirstTry(t *testing.T) {
	u := &fakeUpdater{}
	err := updatePresenceWithRetry(context.Background(), u, models.DriverPosition{DriverID: "d1"}, time.Minute, 3, time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.calls != 1 {
		t.Fatalf("expected 1 attempt, got %d", u.calls)
	}
}

func TestUpdatePresenceRecoversAfterFailures(t *testing.T) {
	u := &fakeUpdater{failNext: 2}
	err := updatePresenceWithRetry(context.Background(), u, models.DriverPosition{DriverID: "d1"}, time.Minute, 3, time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", u.calls)
	}
}

func TestUpdatePresenceGivesUp(t *testing.T) {
	u := &fakeUpdater{failNext: 10}
	err := updatePresenceWithRetry(context.Background(), u, models.DriverPosition{DriverID: "d1"}, time.Minute, 3, time.Millisecond)
	if err != errPresenceRejected {
		t.Fatalf("expected errPresenceRejected, got %v", err)
	}
	if u.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", u.calls)
	}
}

func TestUpdatePresenceHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	u := &fakeUpdater{failNext: 10}
	err := updatePresenceWithRetry(ctx, u, models.DriverPosition{DriverID: "d1"}, time.Minute, 3, time.Hour)
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
