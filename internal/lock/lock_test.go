package lock

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/example/smartline-dispatch/internal/observability"
)

// fakeCommands backs leases with a plain map.
type fakeCommands struct {
	mu     sync.Mutex
	leases map[string]string
	err    error

	setCalls  int
	evalCalls int
}

func newFakeCommands() *fakeCommands {
	return &fakeCommands{leases: make(map[string]string)}
}

func (f *fakeCommands) SetNX(_ context.Context, key, value string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setCalls++
	if f.err != nil {
		return false, f.err
	}
	if _, held := f.leases[key]; held {
		return false, nil
	}
	f.leases[key] = value
	return true, nil
}

func (f *fakeCommands) Eval(_ context.Context, _ string, keys []string, args ...interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evalCalls++
	if f.err != nil {
		return f.err
	}
	token, _ := args[0].(string)
	if f.leases[keys[0]] == token {
		delete(f.leases, keys[0])
	}
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAcquireAndRelease(t *testing.T) {
	cmds := newFakeCommands()
	svc := New(cmds, testLogger())
	ctx := context.Background()

	token, ok := svc.Acquire(ctx, "lock:trip:1", time.Second)
	if !ok || token == "" {
		t.Fatalf("acquire failed: token=%q ok=%v", token, ok)
	}
	if _, ok := svc.Acquire(ctx, "lock:trip:1", time.Second); ok {
		t.Fatal("second acquire should be contended")
	}
	svc.Release(ctx, "lock:trip:1", token)
	if _, ok := svc.Acquire(ctx, "lock:trip:1", time.Second); !ok {
		t.Fatal("acquire after release failed")
	}
}

func TestAcquireFailsOpenOnError(t *testing.T) {
	cmds := newFakeCommands()
	cmds.err = errors.New("connection refused")
	svc := New(cmds, testLogger())

	token, ok := svc.Acquire(context.Background(), "lock:trip:1", time.Second)
	if !ok {
		t.Fatal("expected fail-open ok=true when redis is unreachable")
	}
	if token != "" {
		t.Fatalf("fail-open acquire must not hand out a token, got %q", token)
	}
}

func TestReleaseWithoutTokenIsNoop(t *testing.T) {
	cmds := newFakeCommands()
	svc := New(cmds, testLogger())
	svc.Release(context.Background(), "lock:trip:1", "")
	if cmds.evalCalls != 0 {
		t.Fatalf("release with empty token hit redis %d times", cmds.evalCalls)
	}
}

func TestWithLockReleasesOnError(t *testing.T) {
	cmds := newFakeCommands()
	svc := New(cmds, testLogger())
	ctx := context.Background()

	boom := errors.New("boom")
	err := svc.WithLock(ctx, "lock:trip:1", time.Second, func(ctx context.Context) error {
		return boom
	})
	if err != boom {
		t.Fatalf("expected fn error back, got %v", err)
	}
	if _, ok := svc.Acquire(ctx, "lock:trip:1", time.Second); !ok {
		t.Fatal("lease not released after fn error")
	}
}

func TestWithLockProceedsUnderContention(t *testing.T) {
	cmds := newFakeCommands()
	svc := New(cmds, testLogger())
	svc.backoff = time.Millisecond
	ctx := context.Background()

	// another holder keeps the lease for the whole test
	if _, ok := svc.Acquire(ctx, "lock:trip:1", time.Minute); !ok {
		t.Fatal("setup acquire failed")
	}

	before := testutil.ToFloat64(observability.LockContention)
	ran := false
	err := svc.WithLock(ctx, "lock:trip:1", time.Second, func(ctx context.Context) error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("WithLock: %v", err)
	}
	if !ran {
		t.Fatal("fn must still run when the lease cannot be taken")
	}
	if cmds.setCalls < 3 {
		t.Fatalf("expected retries before proceeding, got %d attempts", cmds.setCalls)
	}
	if got := testutil.ToFloat64(observability.LockContention) - before; got != 1 {
		t.Fatalf("contention counter moved by %v, want 1", got)
	}
}
