package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/makala_pay_test")
	t.Setenv("REDIS_URL", "redis://localhost:6379")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Currency != "USD" {
		t.Fatalf("expected default currency USD got %s", cfg.Currency)
	}
	if cfg.FundingPollSchedule != "@every 30s" || cfg.PayoutPollSchedule != "@every 30s" {
		t.Fatalf("unexpected poll schedules %q %q", cfg.FundingPollSchedule, cfg.PayoutPollSchedule)
	}
	if cfg.ShutdownPeriod != 10*time.Second {
		t.Fatalf("expected default shutdown period got %s", cfg.ShutdownPeriod)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("expected :8080 got %s", cfg.Address())
	}
}

func TestLoadRequiresBackends(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when DATABASE_URL is empty")
	}

	t.Setenv("DATABASE_URL", "postgres://localhost/makala_pay_test")
	t.Setenv("REDIS_URL", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when REDIS_URL is empty")
	}
}

func TestLoadDurationOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/makala_pay_test")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("SHUTDOWN_TIMEOUT_SECONDS", "25")
	t.Setenv("IDEMPOTENCY_TTL", "2h")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ShutdownPeriod != 25*time.Second {
		t.Fatalf("expected 25s got %s", cfg.ShutdownPeriod)
	}
	if cfg.IdempotencyTTL != 2*time.Hour {
		t.Fatalf("expected 2h got %s", cfg.IdempotencyTTL)
	}

	t.Setenv("SHUTDOWN_TIMEOUT_SECONDS", "nope")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for malformed SHUTDOWN_TIMEOUT_SECONDS")
	}
}

func TestCurrencyAndPortNormalization(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/makala_pay_test")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("CURRENCY", "xof")
	t.Setenv("PORT", ":9999")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Currency != "XOF" {
		t.Fatalf("expected XOF got %s", cfg.Currency)
	}
	if cfg.Address() != ":9999" {
		t.Fatalf("expected :9999 got %s", cfg.Address())
	}
}
