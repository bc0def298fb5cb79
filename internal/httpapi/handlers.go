package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/example/smartline-dispatch/internal/geo"
	"github.com/example/smartline-dispatch/internal/ledger"
	"github.com/example/smartline-dispatch/internal/models"
	"github.com/example/smartline-dispatch/internal/snapshot"
)

func (s *Server) handleRequestTrip(w http.ResponseWriter, r *http.Request) {
	var req models.TripRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.CustomerID == "" {
		req.CustomerID = claimsFromContext(r.Context()).UserID
	}
	if req.CustomerID == "" {
		http.Error(w, "customer_id required", http.StatusBadRequest)
		return
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = models.PayCash
	}

	trip, offers, err := s.trips.RequestTrip(r.Context(), req)
	if err != nil {
		s.writeTripError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"trip": trip, "offers": offers})
}

func (s *Server) handleAcceptOffer(w http.ResponseWriter, r *http.Request) {
	offerID := mux.Vars(r)["offer_id"]
	driverID := claimsFromContext(r.Context()).UserID
	trip, err := s.trips.AcceptOffer(r.Context(), offerID, driverID)
	if err != nil {
		s.writeTripError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trip": trip})
}

func (s *Server) handleRejectOffer(w http.ResponseWriter, r *http.Request) {
	offerID := mux.Vars(r)["offer_id"]
	driverID := claimsFromContext(r.Context()).UserID
	if err := s.trips.RejectOffer(r.Context(), offerID, driverID); err != nil {
		s.writeTripError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleArrive(w http.ResponseWriter, r *http.Request) {
	trip, err := s.trips.MarkArrived(r.Context(), mux.Vars(r)["trip_id"])
	if err != nil {
		s.writeTripError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trip": trip})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	tripID := mux.Vars(r)["trip_id"]
	trip, err := s.trips.MarkStarted(r.Context(), tripID)
	if err != nil {
		s.writeTripError(w, err)
		return
	}
	s.recorder.Start(trip.ID, trip.DriverID)
	writeJSON(w, http.StatusOK, map[string]any{"trip": trip})
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	tripID := mux.Vars(r)["trip_id"]
	trip, err := s.trips.Complete(r.Context(), tripID)
	if err != nil {
		s.writeTripError(w, err)
		return
	}
	s.recorder.Stop(r.Context(), tripID)
	writeJSON(w, http.StatusOK, map[string]any{"trip": trip})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	tripID := mux.Vars(r)["trip_id"]
	trip, err := s.trips.Cancel(r.Context(), tripID)
	if err != nil {
		s.writeTripError(w, err)
		return
	}
	s.recorder.Stop(r.Context(), tripID)
	writeJSON(w, http.StatusOK, map[string]any{"trip": trip})
}

// handleActiveTrip lets a reconnecting driver app resume its in-flight ride.
func (s *Server) handleActiveTrip(w http.ResponseWriter, r *http.Request) {
	driverID := claimsFromContext(r.Context()).UserID
	if driverID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	trip, err := s.trips.ActiveTrip(r.Context(), driverID)
	if err != nil {
		s.writeTripError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trip": trip})
}

func (s *Server) handleTripRoute(w http.ResponseWriter, r *http.Request) {
	tripID := mux.Vars(r)["trip_id"]
	points, err := s.points.PointsByTrip(r.Context(), tripID)
	if err != nil {
		http.Error(w, "route unavailable", http.StatusInternalServerError)
		return
	}
	if v := r.URL.Query().Get("simplify"); v != "" {
		if tol, err := strconv.ParseFloat(v, 64); err == nil && tol > 0 {
			points = geo.Simplify(points, tol)
		}
	}
	if r.URL.Query().Get("format") == "geojson" {
		writeJSON(w, http.StatusOK, geo.RouteToGeoJSON(tripID, points))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trip_id": tripID, "points": points})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.feed.Current(r.Context())
	if err != nil {
		http.Error(w, "snapshot unavailable", http.StatusServiceUnavailable)
		return
	}
	q := r.URL.Query()
	f := snapshot.Filter{
		Status:      q.Get("status"),
		VehicleType: q.Get("vehicle_type"),
	}
	if v := q.Get("bbox"); v != "" {
		bbox, err := parseBBox(v)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.BBox = bbox
	}
	f.Page, _ = strconv.Atoi(q.Get("page"))
	f.PerPage, _ = strconv.Atoi(q.Get("per_page"))
	writeJSON(w, http.StatusOK, f.Apply(snap))
}

// handleDriverLocation is the HTTP ingest path; the WebSocket path in ws.go
// is the usual one for mobile clients.
func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var pos models.DriverPosition
	if err := json.NewDecoder(r.Body).Decode(&pos); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if pos.DriverID == "" {
		http.Error(w, "driver_id required", http.StatusBadRequest)
		return
	}
	s.ingestLocation(r.Context(), pos.DriverID, models.LocationUpdate{
		Lat: pos.Lat, Lng: pos.Lng, Heading: pos.Heading,
		Speed: pos.Speed, Accuracy: pos.Accuracy, Timestamp: pos.CapturedAt,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeTripError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrConflict):
		http.Error(w, "already taken", http.StatusConflict)
	case errors.Is(err, ledger.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, ledger.ErrNoDrivers):
		http.Error(w, "no drivers available", http.StatusServiceUnavailable)
	default:
		s.logger.Error("request failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func parseBBox(v string) (*snapshot.BBox, error) {
	parts := strings.Split(v, ",")
	if len(parts) != 4 {
		return nil, errors.New("bbox must be minLat,minLng,maxLat,maxLng")
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, errors.New("bbox must be numeric")
		}
		vals[i] = f
	}
	return &snapshot.BBox{MinLat: vals[0], MinLng: vals[1], MaxLat: vals[2], MaxLng: vals[3]}, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ingestLocation is the single funnel for both transport paths: presence
// first, then the change-feed, then the route buffer.
func (s *Server) ingestLocation(ctx context.Context, driverID string, upd models.LocationUpdate) bool {
	pos := models.DriverPosition{
		DriverID:   driverID,
		Lat:        upd.Lat,
		Lng:        upd.Lng,
		Heading:    upd.Heading,
		Speed:      upd.Speed,
		Accuracy:   upd.Accuracy,
		CapturedAt: upd.Timestamp,
	}
	if pos.CapturedAt.IsZero() {
		pos.CapturedAt = time.Now().UTC()
	}
	s.presence.Upsert(ctx, pos, s.cfg.OnlineTTL)
	if s.producer != nil {
		if err := s.producer.PublishLocation(ctx, pos); err != nil {
			s.logger.Warn("location change feed publish failed", "driver_id", driverID, "error", err)
		}
	}
	return s.recorder.AppendForDriver(driverID, models.RoutePoint{
		Lat: pos.Lat, Lng: pos.Lng, Heading: pos.Heading,
		Speed: pos.Speed, Accuracy: pos.Accuracy, RecordedAt: pos.CapturedAt,
	})
}
