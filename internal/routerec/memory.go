package routerec

import (
	"context"
	"sync"

	"github.com/example/smartline-dispatch/internal/models"
)

// MemoryPointStore keeps flushed points in memory; for local runs and tests.
type MemoryPointStore struct {
	mu     sync.Mutex
	points map[string][]models.RoutePoint
}

func NewMemoryPointStore() *MemoryPointStore {
	return &MemoryPointStore{points: make(map[string][]models.RoutePoint)}
}

func (m *MemoryPointStore) InsertBatch(_ context.Context, points []models.RoutePoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pt := range points {
		m.points[pt.TripID] = append(m.points[pt.TripID], pt)
	}
	return nil
}

func (m *MemoryPointStore) PointsByTrip(_ context.Context, tripID string) ([]models.RoutePoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.RoutePoint, len(m.points[tripID]))
	copy(out, m.points[tripID])
	return out, nil
}
