// Package presence tracks driver positions and online state. A driver is
// online while its TTL marker is fresh; stale position data without a fresh
// marker means offline, full stop.
package presence

import (
	"context"
	"time"

	"github.com/example/smartline-dispatch/internal/models"
)

// DefaultOnlineTTL is how long a driver stays online without a new update.
// Callers may shorten it (battery-saving clients refresh less often); the
// store itself does not interpret tracking modes.
const DefaultOnlineTTL = 120 * time.Second

// Candidate is one nearby-driver result, ordered by ascending distance.
type Candidate struct {
	models.DriverPosition
	DistanceKm float64 `json:"distance_km"`
}

// Store is the presence contract used by dispatch and the snapshot feed.
// Every method degrades on cache failure: empty results and false instead of
// errors, so dispatch slows down rather than falling over.
type Store interface {
	// Upsert records the position and refreshes the online marker for ttl
	// (DefaultOnlineTTL when ttl <= 0). Returns false if nothing was stored.
	Upsert(ctx context.Context, pos models.DriverPosition, ttl time.Duration) bool

	// QueryNearby returns up to limit online drivers within radiusKm of the
	// given point, closest first. Drivers whose online marker has lapsed are
	// excluded and purged from the index asynchronously.
	QueryNearby(ctx context.Context, lat, lng, radiusKm float64, limit int) []Candidate

	// Remove deletes position, metadata and online marker.
	Remove(ctx context.Context, driverID string) bool

	// Position returns the last known coordinate, found=false when unknown.
	Position(ctx context.Context, driverID string) (models.DriverPosition, bool)

	// OnlineIDs lists every driver whose online marker is currently fresh.
	OnlineIDs(ctx context.Context) []string
}
