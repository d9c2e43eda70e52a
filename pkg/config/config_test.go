package config

import (
	"log/slog"
	"reflect"
	"testing"
	"time"
)

func TestLoadAPIConfigFromEnv(t *testing.T) {
	t.Setenv("EVENT_LIFETIME_SECONDS", "86400")
	t.Setenv("SWEEP_INTERVAL_SECONDS", "300")
	t.Setenv("SCHEMA_ALLOWED_TYPES", "integer, string")
	t.Setenv("NAME_PREFIX", "punchcard:")
	t.Setenv("RATE_LIMIT_FORM_WRITES", "-1")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 192.0.2.1")

	cfg := LoadAPIConfig()
	if cfg.EventLifetime != 24*time.Hour {
		t.Fatalf("unexpected lifetime: %s", cfg.EventLifetime)
	}
	if cfg.SweepInterval != 5*time.Minute {
		t.Fatalf("unexpected sweep interval: %s", cfg.SweepInterval)
	}
	if !reflect.DeepEqual(cfg.AllowedTypes, []string{"integer", "string"}) {
		t.Fatalf("unexpected allowed types: %v", cfg.AllowedTypes)
	}
	if cfg.NamePrefix != "punchcard:" {
		t.Fatalf("unexpected prefix: %q", cfg.NamePrefix)
	}
	if cfg.RateLimits.FormWrites != -1 || cfg.RateLimits.EventWrites != 30 {
		t.Fatalf("unexpected rate limits: %+v", cfg.RateLimits)
	}
	if !reflect.DeepEqual(cfg.TrustedProxies, []string{"10.0.0.0/8", "192.0.2.1"}) {
		t.Fatalf("unexpected trusted proxies: %v", cfg.TrustedProxies)
	}
}

func TestGetIntFallsBackOnGarbage(t *testing.T) {
	t.Setenv("PUNCHCARD_TEST_INT", "ten")
	if got := GetInt("PUNCHCARD_TEST_INT", 7); got != 7 {
		t.Fatalf("expected fallback 7, got %d", got)
	}
}

func TestGetListDropsBlankEntries(t *testing.T) {
	t.Setenv("PUNCHCARD_TEST_LIST", " a, ,b ,")
	if got := GetList("PUNCHCARD_TEST_LIST", nil); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("unexpected list: %v", got)
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("DEBUG") != slog.LevelDebug || ParseLevel("bogus") != slog.LevelInfo {
		t.Fatalf("unexpected level mapping")
	}
}
