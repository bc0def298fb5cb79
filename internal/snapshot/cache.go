package snapshot

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/smartline-dispatch/internal/models"
)

// profileCache is a tiny in-memory TTL cache for driver profiles, so the
// 30s rebuild does not re-join the profiles table for the same drivers
// every cycle.
type profileCache struct {
	mu    sync.RWMutex
	store map[string]profileEntry
	ttl   time.Duration
}

type profileEntry struct {
	p  models.DriverProfile
	ts time.Time
}

func newProfileCache(ttl time.Duration) *profileCache {
	return &profileCache{store: make(map[string]profileEntry), ttl: ttl}
}

func (c *profileCache) get(id string) (models.DriverProfile, bool) {
	c.mu.RLock()
	e, ok := c.store[id]
	c.mu.RUnlock()
	if !ok {
		return models.DriverProfile{}, false
	}
	if time.Since(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, id)
		c.mu.Unlock()
		return models.DriverProfile{}, false
	}
	return e.p, true
}

func (c *profileCache) set(p models.DriverProfile) {
	c.mu.Lock()
	c.store[p.DriverID] = profileEntry{p: p, ts: time.Now()}
	c.mu.Unlock()
}

// Cache stores the materialized snapshot object with a short expiry so
// read-heavy consumers never hit the durable store directly.
type Cache interface {
	Get(ctx context.Context) (*Snapshot, bool)
	Set(ctx context.Context, s *Snapshot, ttl time.Duration) bool
}

const redisSnapshotKey = "drivers:snapshot"

type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache { return &RedisCache{client: client} }

func (r *RedisCache) Get(ctx context.Context) (*Snapshot, bool) {
	raw, err := r.client.Get(ctx, redisSnapshotKey).Bytes()
	if err != nil {
		return nil, false
	}
	var s Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, false
	}
	return &s, true
}

func (r *RedisCache) Set(ctx context.Context, s *Snapshot, ttl time.Duration) bool {
	raw, err := json.Marshal(s)
	if err != nil {
		return false
	}
	return r.client.Set(ctx, redisSnapshotKey, raw, ttl).Err() == nil
}

// MemoryCache is the in-process Cache for local runs and tests.
type MemoryCache struct {
	mu        sync.Mutex
	snap      *Snapshot
	expiresAt time.Time
}

func NewMemoryCache() *MemoryCache { return &MemoryCache{} }

func (m *MemoryCache) Get(_ context.Context) (*Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap == nil || time.Now().After(m.expiresAt) {
		return nil, false
	}
	return m.snap, true
}

func (m *MemoryCache) Set(_ context.Context, s *Snapshot, ttl time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = s
	m.expiresAt = time.Now().Add(ttl)
	return true
}
