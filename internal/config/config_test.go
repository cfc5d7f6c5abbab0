package config

import (
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.HTTPPort != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.HTTPPort)
	}
	if cfg.AccessTTL() != 15*time.Minute {
		t.Fatalf("unexpected access ttl %v", cfg.AccessTTL())
	}
	if cfg.RefreshTTL() != 30*24*time.Hour {
		t.Fatalf("unexpected refresh ttl %v", cfg.RefreshTTL())
	}
	if cfg.PasswordMinLength != 8 {
		t.Fatalf("unexpected password min length %d", cfg.PasswordMinLength)
	}
	if cfg.GoogleEnabled() {
		t.Fatalf("google oauth should be disabled without credentials")
	}
}

func TestLoadConfig_RequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected error when JWT_SECRET is missing")
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("RATE_LIMIT_WINDOW_SECONDS", "30")
	t.Setenv("GOOGLE_CLIENT_ID", "id")
	t.Setenv("GOOGLE_CLIENT_SECRET", "shh")
	t.Setenv("GOOGLE_REDIRECT_URL", "http://localhost/auth/google/callback")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.RateLimitWindow() != 30*time.Second {
		t.Fatalf("unexpected window %v", cfg.RateLimitWindow())
	}
	if !cfg.GoogleEnabled() {
		t.Fatalf("expected google oauth enabled")
	}
}
