package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/smartline-dispatch/internal/auth"
	"github.com/example/smartline-dispatch/internal/config"
	"github.com/example/smartline-dispatch/internal/dispatch"
	"github.com/example/smartline-dispatch/internal/ingest"
	"github.com/example/smartline-dispatch/internal/ledger"
	"github.com/example/smartline-dispatch/internal/presence"
	"github.com/example/smartline-dispatch/internal/routerec"
	"github.com/example/smartline-dispatch/internal/snapshot"
)

// Server wires the dispatch core behind the HTTP and WebSocket surface.
// Every dependency is injected; nothing here is a package-level singleton.
type Server struct {
	cfg    config.ServerConfig
	logger *slog.Logger

	auth        *auth.Manager // nil when auth is disabled (local runs)
	presence    presence.Store
	trips       *ledger.Service
	recorder    *routerec.Recorder
	points      routerec.PointStore
	feed        *snapshot.Feed
	broadcaster *dispatch.Broadcaster
	producer    *ingest.KafkaProducer // optional

	mux *mux.Router
}

type Deps struct {
	Auth        *auth.Manager
	Presence    presence.Store
	Trips       *ledger.Service
	Recorder    *routerec.Recorder
	Points      routerec.PointStore
	Feed        *snapshot.Feed
	Broadcaster *dispatch.Broadcaster
	Producer    *ingest.KafkaProducer
}

func NewServer(cfg config.ServerConfig, logger *slog.Logger, d Deps) *Server {
	s := &Server{
		cfg:         cfg,
		logger:      logger,
		auth:        d.Auth,
		presence:    d.Presence,
		trips:       d.Trips,
		recorder:    d.Recorder,
		points:      d.Points,
		feed:        d.Feed,
		broadcaster: d.Broadcaster,
		producer:    d.Producer,
		mux:         mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.Use(s.authMiddleware)

	api.HandleFunc("/trips", s.handleRequestTrip).Methods("POST")
	api.HandleFunc("/trips/{trip_id}/cancel", s.handleCancel).Methods("POST")
	api.HandleFunc("/trips/{trip_id}/arrive", s.handleArrive).Methods("POST")
	api.HandleFunc("/trips/{trip_id}/start", s.handleStart).Methods("POST")
	api.HandleFunc("/trips/{trip_id}/complete", s.handleComplete).Methods("POST")
	api.HandleFunc("/trips/{trip_id}/route", s.handleTripRoute).Methods("GET")
	api.HandleFunc("/offers/{offer_id}/accept", s.handleAcceptOffer).Methods("POST")
	api.HandleFunc("/offers/{offer_id}/reject", s.handleRejectOffer).Methods("POST")
	api.HandleFunc("/drivers/me/trip", s.handleActiveTrip).Methods("GET")
	api.HandleFunc("/drivers/snapshot", s.handleSnapshot).Methods("GET")

	// trusted ingest path for backends that relay locations over HTTP
	s.mux.HandleFunc("/internal/driver/locations", s.handleDriverLocation).Methods("POST")

	s.mux.HandleFunc("/ws", s.handleWS)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte("ok"))
	}).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) Handler() http.Handler {
	return handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"GET", "POST"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)(s.mux)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }
