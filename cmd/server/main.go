package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/redis/go-redis/v9"

	"github.com/example/smartline-dispatch/internal/auth"
	"github.com/example/smartline-dispatch/internal/config"
	"github.com/example/smartline-dispatch/internal/dispatch"
	"github.com/example/smartline-dispatch/internal/httpapi"
	"github.com/example/smartline-dispatch/internal/ingest"
	"github.com/example/smartline-dispatch/internal/ledger"
	"github.com/example/smartline-dispatch/internal/lock"
	"github.com/example/smartline-dispatch/internal/logging"
	"github.com/example/smartline-dispatch/internal/payments"
	"github.com/example/smartline-dispatch/internal/presence"
	"github.com/example/smartline-dispatch/internal/routerec"
	"github.com/example/smartline-dispatch/internal/snapshot"
)

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger("dispatch-server", cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.RunMigrations && cfg.PGDSN != "" {
		if err := runMigrations(cfg.PGDSN); err != nil {
			logger.Error("migrations failed", "error", err)
			os.Exit(1)
		}
		logger.Info("migrations applied")
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer redisClient.Close()
	}

	var presenceStore presence.Store
	var snapCache snapshot.Cache
	var locks *lock.Service
	if redisClient != nil {
		presenceStore = presence.NewRedisStore(redisClient, cfg.RedisGeoKey, logger)
		snapCache = snapshot.NewRedisCache(redisClient)
		locks = lock.NewService(redisClient, logger)
	} else {
		logger.Warn("REDIS_ADDR not set, using in-process presence and locks")
		presenceStore = presence.NewMemoryStore()
		snapCache = snapshot.NewMemoryCache()
		locks = lock.New(noRedis{}, logger)
	}

	var store ledger.Store
	var pgStore *ledger.PostgresStore
	if cfg.PGDSN != "" {
		pgStore, err = ledger.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		defer pgStore.Close()
		store = pgStore
	} else {
		logger.Warn("PG_DSN not set, using in-memory trip store")
		store = ledger.NewMemoryStore()
	}

	var points routerec.PointStore
	if pgStore != nil {
		points = routerec.NewPostgresPointStore(pgStore.DB())
	} else {
		points = routerec.NewMemoryPointStore()
	}

	var producer *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		producer = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic, "trip-events")
		defer producer.Close()
	}

	broadcaster := dispatch.NewBroadcaster(logger)

	recorder := routerec.NewRecorder(points, logger)
	recorder.SetIntervals(cfg.MinSampleGap, cfg.FlushInterval)

	feed := snapshot.NewFeed(presenceStore, store, snapCache, logger)
	feed.Interval = cfg.SnapshotEvery
	feed.TTL = cfg.SnapshotTTL

	svc := &ledger.Service{
		Store:    store,
		Presence: presenceStore,
		Locks:    locks,
		Notify:   broadcaster,
		Fees: ledger.FeePolicy{
			PlatformPercent:  cfg.PlatformPercent,
			WaitingPerMinute: cfg.WaitingPerMin,
			WaitingGrace:     cfg.WaitingGrace,
		},
		Logger:         logger,
		SearchRadiusKm: cfg.SearchRadiusKm,
		MaxCandidates:  cfg.MaxCandidates,
		LockTTL:        cfg.LockTTL,
	}
	if os.Getenv("STRIPE_API_KEY") != "" {
		svc.Cards = payments.NewStripeClient()
	}
	if cfg.FCMEndpoint != "" {
		svc.Push = dispatch.NewFCMPusher(cfg.FCMEndpoint, cfg.FCMKey)
	}
	if producer != nil {
		svc.Feed = producer
	}

	var authManager *auth.Manager
	if cfg.JWTSecret != "" {
		authManager = auth.NewManager(cfg.JWTSecret)
	} else {
		logger.Warn("JWT_SECRET not set, authentication disabled")
	}

	srv := httpapi.NewServer(cfg, logger, httpapi.Deps{
		Auth:        authManager,
		Presence:    presenceStore,
		Trips:       svc,
		Recorder:    recorder,
		Points:      points,
		Feed:        feed,
		Broadcaster: broadcaster,
		Producer:    producer,
	})

	go recorder.Run(ctx)
	go feed.Run(ctx)

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		broadcaster.Drain()
		recorder.FlushAll(shutdownCtx)
	}()

	logger.Info("dispatch server listening", "addr", cfg.HTTPAddr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func runMigrations(dsn string) error {
	m, err := migrate.New("file://migrations", dsn)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// noRedis makes the lock service fail open when no redis is configured.
type noRedis struct{}

func (noRedis) SetNX(context.Context, string, string, time.Duration) (bool, error) {
	return false, errors.New("no lock service configured")
}

func (noRedis) Eval(context.Context, string, []string, ...interface{}) error { return nil }
