package snapshot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/example/smartline-dispatch/internal/models"
	"github.com/example/smartline-dispatch/internal/presence"
)

type fakeTripSource struct {
	trips    map[string]*models.Trip
	profiles map[string]models.DriverProfile

	tripErr      error
	profileCalls int
}

func (f *fakeTripSource) ActiveTripsByDrivers(_ context.Context, ids []string) (map[string]*models.Trip, error) {
	if f.tripErr != nil {
		return nil, f.tripErr
	}
	out := make(map[string]*models.Trip)
	for _, id := range ids {
		if t, ok := f.trips[id]; ok {
			out[id] = t
		}
	}
	return out, nil
}

func (f *fakeTripSource) Profiles(_ context.Context, ids []string) (map[string]models.DriverProfile, error) {
	f.profileCalls++
	out := make(map[string]models.DriverProfile)
	for _, id := range ids {
		if p, ok := f.profiles[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func newTestFeed() (*Feed, *presence.MemoryStore, *fakeTripSource) {
	store := presence.NewMemoryStore()
	src := &fakeTripSource{
		trips:    make(map[string]*models.Trip),
		profiles: make(map[string]models.DriverProfile),
	}
	f := NewFeed(store, src, NewMemoryCache(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	return f, store, src
}

func TestBuildEnrichesOnlineDrivers(t *testing.T) {
	f, store, src := newTestFeed()
	ctx := context.Background()

	store.Upsert(ctx, models.DriverPosition{DriverID: "d1", Lat: 30, Lng: 31}, time.Minute)
	store.Upsert(ctx, models.DriverPosition{DriverID: "d2", Lat: 30.1, Lng: 31.1}, time.Minute)
	src.profiles["d1"] = models.DriverProfile{DriverID: "d1", Name: "A", VehicleType: "sedan", Rating: 4.8}
	src.trips["d1"] = &models.Trip{ID: "t1", CustomerID: "c1", DriverID: "d1", Status: models.TripStarted}

	s, err := f.Build(ctx)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(s.Drivers) != 2 {
		t.Fatalf("snapshot has %d drivers, want 2", len(s.Drivers))
	}
	views := map[string]DriverView{}
	for _, d := range s.Drivers {
		views[d.DriverID] = d
	}
	d1 := views["d1"]
	if d1.Status != "on_trip" || d1.Trip == nil || d1.Trip.TripID != "t1" {
		t.Fatalf("d1 not enriched with its trip: %+v", d1)
	}
	if d1.Profile == nil || d1.Profile.VehicleType != "sedan" {
		t.Fatalf("d1 profile missing: %+v", d1.Profile)
	}
	d2 := views["d2"]
	if d2.Status != "idle" || d2.Trip != nil {
		t.Fatalf("d2 should be idle: %+v", d2)
	}
}

func TestBuildDegradesWithoutTripSource(t *testing.T) {
	f, store, src := newTestFeed()
	ctx := context.Background()
	store.Upsert(ctx, models.DriverPosition{DriverID: "d1", Lat: 30, Lng: 31}, time.Minute)
	src.tripErr = errors.New("db down")

	s, err := f.Build(ctx)
	if err != nil {
		t.Fatalf("build must degrade, not fail: %v", err)
	}
	if len(s.Drivers) != 1 || s.Drivers[0].Status != "idle" {
		t.Fatalf("presence data should still go out: %+v", s.Drivers)
	}
}

func TestProfileCacheAvoidsRepeatFetch(t *testing.T) {
	f, store, src := newTestFeed()
	ctx := context.Background()
	store.Upsert(ctx, models.DriverPosition{DriverID: "d1", Lat: 30, Lng: 31}, time.Minute)
	src.profiles["d1"] = models.DriverProfile{DriverID: "d1", Name: "A"}

	if _, err := f.Build(ctx); err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, err := f.Build(ctx); err != nil {
		t.Fatalf("build: %v", err)
	}
	if src.profileCalls != 1 {
		t.Fatalf("profiles fetched %d times, want 1", src.profileCalls)
	}
}

func TestCurrentBuildsOnColdCache(t *testing.T) {
	f, store, _ := newTestFeed()
	ctx := context.Background()
	store.Upsert(ctx, models.DriverPosition{DriverID: "d1", Lat: 30, Lng: 31}, time.Minute)

	s, err := f.Current(ctx)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if len(s.Drivers) != 1 {
		t.Fatalf("cold build returned %d drivers, want 1", len(s.Drivers))
	}

	// second call is served from the cache, even after presence changes
	store.Upsert(ctx, models.DriverPosition{DriverID: "d2", Lat: 30, Lng: 31}, time.Minute)
	s2, err := f.Current(ctx)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if len(s2.Drivers) != 1 {
		t.Fatal("expected cached snapshot, got a fresh build")
	}
}

func TestFilterApply(t *testing.T) {
	snap := &Snapshot{
		GeneratedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Drivers: []DriverView{
			{DriverPosition: models.DriverPosition{DriverID: "d1", Lat: 30.00, Lng: 31.00}, Status: "idle",
				Profile: &models.DriverProfile{VehicleType: "sedan"}},
			{DriverPosition: models.DriverPosition{DriverID: "d2", Lat: 30.05, Lng: 31.05}, Status: "on_trip",
				Profile: &models.DriverProfile{VehicleType: "van"}},
			{DriverPosition: models.DriverPosition{DriverID: "d3", Lat: 31.00, Lng: 32.00}, Status: "idle",
				Profile: &models.DriverProfile{VehicleType: "sedan"}},
			{DriverPosition: models.DriverPosition{DriverID: "d4", Lat: 30.06, Lng: 31.06}, Status: "idle"},
		},
	}

	p := Filter{Status: "idle"}.Apply(snap)
	if p.Total != 3 {
		t.Fatalf("status filter matched %d, want 3", p.Total)
	}

	p = Filter{VehicleType: "sedan"}.Apply(snap)
	if p.Total != 2 {
		t.Fatalf("vehicle filter matched %d, want 2 (nil profile never matches)", p.Total)
	}

	p = Filter{BBox: &BBox{MinLat: 29.9, MinLng: 30.9, MaxLat: 30.1, MaxLng: 31.1}}.Apply(snap)
	if p.Total != 3 {
		t.Fatalf("bbox matched %d, want 3", p.Total)
	}

	p = Filter{PerPage: 2, Page: 2}.Apply(snap)
	if p.Total != 4 || len(p.Drivers) != 2 || p.Drivers[0].DriverID != "d3" {
		t.Fatalf("pagination wrong: total=%d page=%+v", p.Total, p.Drivers)
	}

	p = Filter{PerPage: 2, Page: 5}.Apply(snap)
	if len(p.Drivers) != 0 || p.Total != 4 {
		t.Fatalf("out-of-range page should be empty: %+v", p)
	}
}
