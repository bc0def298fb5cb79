package config

import (
	"testing"
	"time"
)

func TestLoadServerConfigDefaults(t *testing.T) {
	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.OnlineTTL != 120*time.Second {
		t.Fatalf("OnlineTTL = %v", cfg.OnlineTTL)
	}
	if cfg.SearchRadiusKm != 5 || cfg.MaxCandidates != 8 {
		t.Fatalf("dispatch defaults wrong: %v / %v", cfg.SearchRadiusKm, cfg.MaxCandidates)
	}
	if cfg.PlatformPercent != 15 {
		t.Fatalf("PlatformPercent = %v", cfg.PlatformPercent)
	}
}

func TestLoadServerConfigFromEnv(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("PRESENCE_ONLINE_TTL", "45s")
	t.Setenv("DISPATCH_RADIUS_KM", "2.5")
	t.Setenv("KAFKA_BROKERS", "b1:9092, b2:9092")
	t.Setenv("MIGRATE", "true")

	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddr != ":9090" {
		t.Fatalf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.OnlineTTL != 45*time.Second {
		t.Fatalf("OnlineTTL = %v", cfg.OnlineTTL)
	}
	if cfg.SearchRadiusKm != 2.5 {
		t.Fatalf("SearchRadiusKm = %v", cfg.SearchRadiusKm)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "b2:9092" {
		t.Fatalf("KafkaBrokers = %v", cfg.KafkaBrokers)
	}
	if !cfg.RunMigrations {
		t.Fatal("MIGRATE=true not honored")
	}
}

func TestLoadServerConfigInvalidValues(t *testing.T) {
	t.Setenv("PRESENCE_ONLINE_TTL", "soon")
	t.Setenv("DISPATCH_MAX_CANDIDATES", "0")
	if _, err := LoadServerConfig(); err == nil {
		t.Fatal("expected validation errors")
	}
}
