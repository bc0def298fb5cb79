// Package snapshot periodically materializes a consistent view of all online
// drivers, enriched with profile and active-trip detail, for operational
// consumers. Reads are always served from the materialized object, never
// from the live stores.
package snapshot

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/example/smartline-dispatch/internal/models"
	"github.com/example/smartline-dispatch/internal/observability"
	"github.com/example/smartline-dispatch/internal/presence"
)

const (
	DefaultInterval   = 30 * time.Second
	DefaultTTL        = 60 * time.Second
	defaultProfileTTL = 5 * time.Minute
)

// TripSource provides the durable-store enrichment for the snapshot.
type TripSource interface {
	ActiveTripsByDrivers(ctx context.Context, driverIDs []string) (map[string]*models.Trip, error)
	Profiles(ctx context.Context, driverIDs []string) (map[string]models.DriverProfile, error)
}

type Snapshot struct {
	GeneratedAt time.Time    `json:"generated_at"`
	Drivers     []DriverView `json:"drivers"`
}

type DriverView struct {
	models.DriverPosition
	Profile *models.DriverProfile `json:"profile,omitempty"`
	Status  string                `json:"status"` // idle | on_trip
	Trip    *TripView             `json:"trip,omitempty"`
}

type TripView struct {
	TripID      string            `json:"trip_id"`
	CustomerID  string            `json:"customer_id"`
	Status      models.TripStatus `json:"status"`
	Pickup      models.Coord      `json:"pickup"`
	Destination models.Coord      `json:"destination"`
}

type Feed struct {
	Presence presence.Store
	Trips    TripSource
	Cache    Cache
	Logger   *slog.Logger

	Interval time.Duration
	TTL      time.Duration

	profiles *profileCache
	buildMu  sync.Mutex // single builder at a time; cold readers queue here
}

func NewFeed(p presence.Store, trips TripSource, cache Cache, logger *slog.Logger) *Feed {
	return &Feed{
		Presence: p,
		Trips:    trips,
		Cache:    cache,
		Logger:   logger,
		Interval: DefaultInterval,
		TTL:      DefaultTTL,
		profiles: newProfileCache(defaultProfileTTL),
	}
}

// Run rebuilds the snapshot on a fixed interval until ctx is cancelled.
// Build failures are logged and retried on the next tick.
func (f *Feed) Run(ctx context.Context) {
	ticker := time.NewTicker(f.Interval)
	defer ticker.Stop()
	f.rebuild(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.rebuild(ctx)
		}
	}
}

func (f *Feed) rebuild(ctx context.Context) {
	s, err := f.Build(ctx)
	if err != nil {
		f.Logger.Error("snapshot build failed, will retry", "error", err)
		return
	}
	f.Cache.Set(ctx, s, f.TTL)
	observability.SnapshotBuilds.Inc()
	observability.DriversOnline.Set(float64(len(s.Drivers)))
}

// Current returns the cached snapshot, building one synchronously when the
// cache is cold.
func (f *Feed) Current(ctx context.Context) (*Snapshot, error) {
	if s, ok := f.Cache.Get(ctx); ok {
		return s, nil
	}
	f.buildMu.Lock()
	defer f.buildMu.Unlock()
	// someone may have filled the cache while we waited
	if s, ok := f.Cache.Get(ctx); ok {
		return s, nil
	}
	s, err := f.Build(ctx)
	if err != nil {
		return nil, err
	}
	f.Cache.Set(ctx, s, f.TTL)
	return s, nil
}

// Build materializes the view: online drivers from presence, metadata from
// the position cache, trip and profile detail from durable storage.
func (f *Feed) Build(ctx context.Context) (*Snapshot, error) {
	ids := f.Presence.OnlineIDs(ctx)
	s := &Snapshot{GeneratedAt: time.Now().UTC(), Drivers: make([]DriverView, 0, len(ids))}
	if len(ids) == 0 {
		return s, nil
	}

	var missing []string
	profiles := make(map[string]models.DriverProfile, len(ids))
	for _, id := range ids {
		if p, ok := f.profiles.get(id); ok {
			profiles[id] = p
		} else {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		fetched, err := f.Trips.Profiles(ctx, missing)
		if err != nil {
			// enrichment is optional, presence data still goes out
			f.Logger.Warn("profile enrichment skipped", "error", err)
		} else {
			for id, p := range fetched {
				profiles[id] = p
				f.profiles.set(p)
			}
		}
	}

	trips, err := f.Trips.ActiveTripsByDrivers(ctx, ids)
	if err != nil {
		f.Logger.Warn("trip enrichment skipped", "error", err)
		trips = nil
	}

	for _, id := range ids {
		pos, ok := f.Presence.Position(ctx, id)
		if !ok {
			continue
		}
		v := DriverView{DriverPosition: pos, Status: "idle"}
		if p, ok := profiles[id]; ok {
			pp := p
			v.Profile = &pp
		}
		if t, ok := trips[id]; ok {
			v.Status = "on_trip"
			v.Trip = &TripView{
				TripID:      t.ID,
				CustomerID:  t.CustomerID,
				Status:      t.Status,
				Pickup:      t.Pickup,
				Destination: t.Destination,
			}
		}
		s.Drivers = append(s.Drivers, v)
	}
	return s, nil
}
