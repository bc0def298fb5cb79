package presence

import (
	"context"
	"testing"
	"time"

	"github.com/example/smartline-dispatch/internal/models"
)

func TestQueryNearbyRadiusAndTTL(t *testing.T) {
	store := NewMemoryStore()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	store.Now = func() time.Time { return now }

	ctx := context.Background()
	pickupLat, pickupLng := 30.05, 31.24

	// ~3km, ~6km and ~4km north of the pickup
	store.Upsert(ctx, models.DriverPosition{DriverID: "near", Lat: pickupLat + 0.027, Lng: pickupLng}, time.Minute)
	store.Upsert(ctx, models.DriverPosition{DriverID: "far", Lat: pickupLat + 0.054, Lng: pickupLng}, time.Minute)
	store.Upsert(ctx, models.DriverPosition{DriverID: "lapsed", Lat: pickupLat + 0.036, Lng: pickupLng}, 30*time.Second)

	now = base.Add(45 * time.Second) // "lapsed" marker has expired

	got := store.QueryNearby(ctx, pickupLat, pickupLng, 5, 10)
	if len(got) != 1 {
		t.Fatalf("expected 1 candidate, got %d: %+v", len(got), got)
	}
	if got[0].DriverID != "near" {
		t.Fatalf("expected driver near, got %s", got[0].DriverID)
	}
	if got[0].DistanceKm < 2.5 || got[0].DistanceKm > 3.5 {
		t.Fatalf("distance = %.2fkm, want ~3km", got[0].DistanceKm)
	}

	// lapsed markers are evicted on the way out
	if _, ok := store.Position(ctx, "lapsed"); ok {
		t.Fatal("lapsed driver still present after query")
	}
}

func TestQueryNearbyOrdersByDistance(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.Upsert(ctx, models.DriverPosition{DriverID: "b", Lat: 30.05 + 0.018, Lng: 31.24}, time.Minute)
	store.Upsert(ctx, models.DriverPosition{DriverID: "a", Lat: 30.05 + 0.009, Lng: 31.24}, time.Minute)
	store.Upsert(ctx, models.DriverPosition{DriverID: "c", Lat: 30.05 + 0.027, Lng: 31.24}, time.Minute)

	got := store.QueryNearby(ctx, 30.05, 31.24, 10, 2)
	if len(got) != 2 {
		t.Fatalf("limit not applied, got %d candidates", len(got))
	}
	if got[0].DriverID != "a" || got[1].DriverID != "b" {
		t.Fatalf("wrong ordering: %s, %s", got[0].DriverID, got[1].DriverID)
	}
}

func TestUpsertRefreshesMarker(t *testing.T) {
	store := NewMemoryStore()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	store.Now = func() time.Time { return now }
	ctx := context.Background()

	store.Upsert(ctx, models.DriverPosition{DriverID: "d1", Lat: 30, Lng: 31}, time.Minute)
	now = base.Add(50 * time.Second)
	store.Upsert(ctx, models.DriverPosition{DriverID: "d1", Lat: 30.001, Lng: 31}, time.Minute)
	now = base.Add(100 * time.Second) // past the first deadline, not the second

	ids := store.OnlineIDs(ctx)
	if len(ids) != 1 || ids[0] != "d1" {
		t.Fatalf("expected d1 online after refresh, got %v", ids)
	}
	pos, ok := store.Position(ctx, "d1")
	if !ok || pos.Lat != 30.001 {
		t.Fatalf("position not updated: %+v ok=%v", pos, ok)
	}
}

func TestRemove(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	store.Upsert(ctx, models.DriverPosition{DriverID: "d1", Lat: 30, Lng: 31}, time.Minute)
	store.Remove(ctx, "d1")
	if len(store.OnlineIDs(ctx)) != 0 {
		t.Fatal("driver still online after remove")
	}
}
