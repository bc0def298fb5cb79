package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/example/smartline-dispatch/internal/config"
	"github.com/example/smartline-dispatch/internal/dispatch"
	"github.com/example/smartline-dispatch/internal/ledger"
	"github.com/example/smartline-dispatch/internal/models"
	"github.com/example/smartline-dispatch/internal/presence"
	"github.com/example/smartline-dispatch/internal/routerec"
	"github.com/example/smartline-dispatch/internal/snapshot"
)

type testEnv struct {
	server   *Server
	store    *ledger.MemoryStore
	presence *presence.MemoryStore
	recorder *routerec.Recorder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	geoStore := presence.NewMemoryStore()
	store := ledger.NewMemoryStore()
	points := routerec.NewMemoryPointStore()
	recorder := routerec.NewRecorder(points, logger)
	broadcaster := dispatch.NewBroadcaster(logger)
	feed := snapshot.NewFeed(geoStore, store, snapshot.NewMemoryCache(), logger)

	svc := &ledger.Service{
		Store:          store,
		Presence:       geoStore,
		Locks:          passthroughLock{},
		Notify:         broadcaster,
		Fees:           ledger.DefaultFeePolicy(),
		Logger:         logger,
		SearchRadiusKm: 5,
		MaxCandidates:  8,
	}

	cfg := config.ServerConfig{OnlineTTL: 2 * time.Minute}
	srv := NewServer(cfg, logger, Deps{
		Presence:    geoStore,
		Trips:       svc,
		Recorder:    recorder,
		Points:      points,
		Feed:        feed,
		Broadcaster: broadcaster,
	})
	return &testEnv{server: srv, store: store, presence: geoStore, recorder: recorder}
}

type passthroughLock struct{}

func (passthroughLock) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (e *testEnv) do(t *testing.T, method, path, userID, role string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
		req.Header.Set("X-Role", role)
	}
	w := httptest.NewRecorder()
	e.server.ServeHTTP(w, req)
	return w
}

func (e *testEnv) seedDriver(t *testing.T, id string, lat, lng float64) {
	t.Helper()
	e.presence.Upsert(context.Background(), models.DriverPosition{DriverID: id, Lat: lat, Lng: lng}, time.Minute)
}

type tripResponse struct {
	Trip   models.Trip        `json:"trip"`
	Offers []models.TripOffer `json:"offers"`
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestTripLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	env.seedDriver(t, "driver-1", 30.05, 31.24)
	env.seedDriver(t, "driver-2", 30.06, 31.25)

	w := env.do(t, "POST", "/api/v1/trips", "cust-1", "customer", models.TripRequest{
		Pickup:      models.Coord{Lat: 30.05, Lng: 31.24},
		Destination: models.Coord{Lat: 30.1, Lng: 31.3},
		Price:       100,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("request trip: status %d: %s", w.Code, w.Body.String())
	}
	created := decode[tripResponse](t, w)
	if len(created.Offers) != 2 {
		t.Fatalf("expected 2 offers, got %d", len(created.Offers))
	}

	var offer1, offer2 models.TripOffer
	for _, o := range created.Offers {
		if o.DriverID == "driver-1" {
			offer1 = o
		} else {
			offer2 = o
		}
	}

	// only the offer's own driver can accept it
	w = env.do(t, "POST", "/api/v1/offers/"+offer1.ID+"/accept", "driver-2", "driver", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("foreign accept: status %d, want 404", w.Code)
	}

	w = env.do(t, "POST", "/api/v1/offers/"+offer1.ID+"/accept", "driver-1", "driver", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("accept: status %d: %s", w.Code, w.Body.String())
	}

	// the losing driver gets a conflict
	w = env.do(t, "POST", "/api/v1/offers/"+offer2.ID+"/accept", "driver-2", "driver", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("second accept: status %d, want 409", w.Code)
	}

	// a reconnecting driver can find its bound trip
	w = env.do(t, "GET", "/api/v1/drivers/me/trip", "driver-1", "driver", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("active trip: status %d: %s", w.Code, w.Body.String())
	}
	active := decode[map[string]models.Trip](t, w)
	if active["trip"].ID != created.Trip.ID {
		t.Fatalf("active trip %s, want %s", active["trip"].ID, created.Trip.ID)
	}

	// an unbound driver has none
	w = env.do(t, "GET", "/api/v1/drivers/me/trip", "driver-2", "driver", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("idle driver active trip: status %d, want 404", w.Code)
	}

	tripID := created.Trip.ID
	for _, step := range []string{"arrive", "start"} {
		w = env.do(t, "POST", "/api/v1/trips/"+tripID+"/"+step, "driver-1", "driver", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: status %d: %s", step, w.Code, w.Body.String())
		}
	}
	if !env.recorder.Recording(tripID) {
		t.Fatal("route recording not started with the trip")
	}

	w = env.do(t, "POST", "/api/v1/trips/"+tripID+"/complete", "driver-1", "driver", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("complete: status %d: %s", w.Code, w.Body.String())
	}
	done := decode[map[string]models.Trip](t, w)
	if done["trip"].Status != models.TripCompleted {
		t.Fatalf("final status %s, want completed", done["trip"].Status)
	}
	if env.recorder.Recording(tripID) {
		t.Fatal("route recording not stopped at completion")
	}
}

func TestRequestTripNoDriversOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, "POST", "/api/v1/trips", "cust-1", "customer", models.TripRequest{
		Pickup: models.Coord{Lat: 30.05, Lng: 31.24},
		Price:  50,
	})
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status %d, want 503", w.Code)
	}
}

func TestDriverLocationIngest(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, "POST", "/internal/driver/locations", "", "", models.DriverPosition{
		DriverID: "driver-9", Lat: 30.05, Lng: 31.24,
	})
	if w.Code != http.StatusNoContent {
		t.Fatalf("status %d, want 204", w.Code)
	}
	if _, ok := env.presence.Position(context.Background(), "driver-9"); !ok {
		t.Fatal("ingested driver not present in the geo index")
	}

	w = env.do(t, "POST", "/internal/driver/locations", "", "", models.DriverPosition{Lat: 30, Lng: 31})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing driver_id: status %d, want 400", w.Code)
	}
}

func TestSnapshotEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.seedDriver(t, "driver-1", 30.05, 31.24)
	env.seedDriver(t, "driver-2", 40.00, 41.00)

	w := env.do(t, "GET", "/api/v1/drivers/snapshot?bbox=30,31,31,32", "ops-1", "customer", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	page := decode[snapshot.Page](t, w)
	if page.Total != 1 || page.Drivers[0].DriverID != "driver-1" {
		t.Fatalf("bbox filter wrong: %+v", page)
	}

	w = env.do(t, "GET", "/api/v1/drivers/snapshot?bbox=bogus", "ops-1", "customer", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad bbox: status %d, want 400", w.Code)
	}
}

func TestTripRouteEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.recorder.Start("trip-r", "driver-1")
	env.recorder.Append("trip-r", models.RoutePoint{Lat: 30.05, Lng: 31.24, RecordedAt: time.Now()})
	env.recorder.FlushAll(context.Background())

	w := env.do(t, "GET", "/api/v1/trips/trip-r/route", "cust-1", "customer", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		TripID string              `json:"trip_id"`
		Points []models.RoutePoint `json:"points"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Points) != 1 {
		t.Fatalf("got %d points, want 1", len(resp.Points))
	}

	w = env.do(t, "GET", "/api/v1/trips/trip-r/route?format=geojson", "cust-1", "customer", nil)
	var feature struct {
		Type     string `json:"type"`
		Geometry struct {
			Type        string       `json:"type"`
			Coordinates [][2]float64 `json:"coordinates"`
		} `json:"geometry"`
	}
	if err := json.NewDecoder(w.Body).Decode(&feature); err != nil {
		t.Fatalf("decode geojson: %v", err)
	}
	if feature.Type != "Feature" || feature.Geometry.Type != "LineString" {
		t.Fatalf("unexpected geojson shape: %+v", feature)
	}
}

func TestWSRejectsBadRequests(t *testing.T) {
	env := newTestEnv(t)

	// no identity at all
	w := env.do(t, "GET", "/ws", "", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous ws: status %d, want 401", w.Code)
	}

	// identified but not a websocket handshake; the upgrader writes the
	// error response exactly once
	w = env.do(t, "GET", "/ws", "driver-1", "driver", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("plain GET on /ws: status %d, want 400", w.Code)
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, "GET", "/healthz", "", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", w.Code)
	}
}
