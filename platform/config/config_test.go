package config

import (
	"testing"
	"time"
)

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_ACCESS_SECRET", "secret")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error when DATABASE_URL is empty")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/dealer")
	t.Setenv("JWT_ACCESS_SECRET", "secret")
	t.Setenv("CORS_ORIGINS", "http://a.test, http://b.test")
	t.Setenv("PHONE_DEFAULT_REGION", "gb")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.GetAutoLossInactivity() != 7*24*time.Hour {
		t.Fatalf("expected 7 day inactivity default, got %s", cfg.GetAutoLossInactivity())
	}
	if len(cfg.GetCORSOrigins()) != 2 {
		t.Fatalf("expected 2 CORS origins, got %v", cfg.GetCORSOrigins())
	}
	if cfg.GetPhoneDefaultRegion() != "GB" {
		t.Fatalf("expected upper-cased region, got %q", cfg.GetPhoneDefaultRegion())
	}
	if cfg.GetEventClockSkew() != 2*time.Minute {
		t.Fatalf("expected 2 minute clock skew default, got %s", cfg.GetEventClockSkew())
	}
	if cfg.IsMinIOEnabled() {
		t.Fatalf("expected MinIO archive disabled without endpoint")
	}
}

func TestLoadRejectsWildcardCORSWithCredentials(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/dealer")
	t.Setenv("JWT_ACCESS_SECRET", "secret")
	t.Setenv("CORS_ORIGINS", "*")
	t.Setenv("CORS_ALLOW_CREDENTIALS", "true")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for wildcard CORS with credentials")
	}
}
