// Package lock provides mutual exclusion over named resources, backed by
// Redis lease keys. Locks are advisory: when the coordination service is
// unreachable the lock fails open and callers fall back to the optimistic
// update in the trip ledger as the actual correctness guarantee.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/smartline-dispatch/internal/observability"
)

// releaseScript deletes the lease only if the caller still holds it, so a
// slow holder can never release a lease that has already expired and been
// re-acquired by someone else.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`

// Commands is the subset of redis operations the lock needs. Kept small so
// tests can fake it.
type Commands interface {
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) error
}

type redisCommands struct{ c *redis.Client }

func (r redisCommands) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return r.c.SetNX(ctx, key, value, ttl).Result()
}

func (r redisCommands) Eval(ctx context.Context, script string, keys []string, args ...interface{}) error {
	return r.c.Eval(ctx, script, keys, args...).Err()
}

// Service acquires and releases leases on named resources.
type Service struct {
	cmds   Commands
	logger *slog.Logger

	attempts int
	backoff  time.Duration
}

func NewService(client *redis.Client, logger *slog.Logger) *Service {
	return New(redisCommands{c: client}, logger)
}

func New(cmds Commands, logger *slog.Logger) *Service {
	return &Service{cmds: cmds, logger: logger, attempts: 3, backoff: 50 * time.Millisecond}
}

// Acquire takes the lease on key for ttl. It returns the holder token on
// success, ok=false when another holder has the lease, and ok=true with an
// empty token when redis is unreachable (fail-open).
func (s *Service) Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool) {
	token = newToken()
	acquired, err := s.cmds.SetNX(ctx, key, token, ttl)
	if err != nil {
		s.logger.Warn("lock service unreachable, failing open", "key", key, "error", err)
		return "", true
	}
	if !acquired {
		return "", false
	}
	return token, true
}

// Release drops the lease if token still holds it. Idempotent: releasing an
// expired or already-released lease is a no-op.
func (s *Service) Release(ctx context.Context, key, token string) {
	if token == "" {
		return
	}
	if err := s.cmds.Eval(ctx, releaseScript, []string{key}, token); err != nil {
		// the lease will expire on its own
		s.logger.Warn("lock release failed", "key", key, "error", err)
	}
}

// WithLock runs fn while holding the lease on key, releasing it on every
// exit path. An unreachable lock service fails open immediately; a *held*
// lease is contention and gets retried with backoff first. If the lease
// still cannot be taken, fn runs anyway, counted on the contention metric;
// the caller's conditional update is the second line of defense either way.
func (s *Service) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	var token string
	delay := s.backoff
	for i := 0; i < s.attempts; i++ {
		t, ok := s.Acquire(ctx, key, ttl)
		if ok {
			token = t
			break
		}
		if i == s.attempts-1 {
			observability.LockContention.Inc()
			s.logger.Warn("lock contended, proceeding without lease", "key", key)
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	defer s.Release(ctx, key, token)
	return fn(ctx)
}

func newToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
