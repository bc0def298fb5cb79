package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/smartline-dispatch/internal/geo"
	"github.com/example/smartline-dispatch/internal/models"
)

// MemoryStore is an in-process Store for local runs and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	drivers map[string]memEntry

	// Now is swappable so tests can expire markers deterministically.
	Now func() time.Time
}

type memEntry struct {
	pos       models.DriverPosition
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{drivers: make(map[string]memEntry), Now: time.Now}
}

func (m *MemoryStore) Upsert(_ context.Context, pos models.DriverPosition, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = DefaultOnlineTTL
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[pos.DriverID] = memEntry{pos: pos, expiresAt: m.Now().Add(ttl)}
	return true
}

func (m *MemoryStore) QueryNearby(_ context.Context, lat, lng, radiusKm float64, limit int) []Candidate {
	if limit <= 0 {
		limit = 10
	}
	now := m.Now()
	m.mu.Lock()
	out := make([]Candidate, 0, limit)
	for id, e := range m.drivers {
		if now.After(e.expiresAt) {
			delete(m.drivers, id) // lapsed marker, evict inline
			continue
		}
		distKm := geo.Haversine(lat, lng, e.pos.Lat, e.pos.Lng) / 1000
		if distKm > radiusKm {
			continue
		}
		out = append(out, Candidate{DriverPosition: e.pos, DistanceKm: distKm})
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *MemoryStore) Remove(_ context.Context, driverID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.drivers, driverID)
	return true
}

func (m *MemoryStore) Position(_ context.Context, driverID string) (models.DriverPosition, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.drivers[driverID]
	if !ok {
		return models.DriverPosition{}, false
	}
	return e.pos, true
}

func (m *MemoryStore) OnlineIDs(_ context.Context) []string {
	now := m.Now()
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.drivers))
	for id, e := range m.drivers {
		if now.After(e.expiresAt) {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
