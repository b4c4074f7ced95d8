package config

import (
	"testing"
	"time"
)

func TestLoadServerDefaults(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://localhost:5432/bingo?sslmode=disable")

	cfg, err := LoadServer()
	if err != nil {
		t.Fatalf("LoadServer() error = %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.HoldTTL != 50*time.Second || cfg.CountdownWindow != 50*time.Second {
		t.Fatalf("unexpected windows: hold=%v countdown=%v", cfg.HoldTTL, cfg.CountdownWindow)
	}
	if cfg.CallInterval != 10*time.Second {
		t.Fatalf("CallInterval = %v, want 10s", cfg.CallInterval)
	}
	if cfg.MinPlayers != 2 || cfg.NumberPool != 75 || cfg.CardCount != 400 {
		t.Fatalf("unexpected game defaults: %+v", cfg)
	}
	if cfg.Retries != 2 || cfg.LockWait != 10*time.Second {
		t.Fatalf("unexpected retry defaults: retries=%d wait=%v", cfg.Retries, cfg.LockWait)
	}
	if !cfg.VerifyClaims {
		t.Fatal("VerifyClaims should default to true")
	}
}

func TestLoadServerRequiresPostgresDSN(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "")

	_, err := LoadServer()
	if err == nil {
		t.Fatal("LoadServer() expected error, got nil")
	}
}

func TestLoadServerMemoryDriverNeedsNoDSN(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "")
	t.Setenv("STORE_DRIVER", "memory")

	cfg, err := LoadServer()
	if err != nil {
		t.Fatalf("LoadServer() error = %v", err)
	}
	if !cfg.MemoryStore() {
		t.Fatal("expected memory store")
	}
}

func TestLoadServerParseTypes(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://localhost:5432/bingo?sslmode=disable")
	t.Setenv("HOLD_TTL", "30s")
	t.Setenv("KAFKA_BROKERS", "a:9092,b:9092")
	t.Setenv("VERIFY_CLAIMS", "false")
	t.Setenv("HOUSE_CUT_PCT", "10")

	cfg, err := LoadServer()
	if err != nil {
		t.Fatalf("LoadServer() error = %v", err)
	}
	if cfg.HoldTTL != 30*time.Second {
		t.Fatalf("HoldTTL = %v, want 30s", cfg.HoldTTL)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "b:9092" {
		t.Fatalf("KafkaBrokers = %v", cfg.KafkaBrokers)
	}
	if cfg.VerifyClaims {
		t.Fatal("VerifyClaims should be false")
	}
	if cfg.HouseCutPct != 10 {
		t.Fatalf("HouseCutPct = %d, want 10", cfg.HouseCutPct)
	}
}

func TestLoadServerRejectsBadPool(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("NUMBER_POOL", "90")

	if _, err := LoadServer(); err == nil {
		t.Fatal("expected error for NUMBER_POOL=90")
	}
}
