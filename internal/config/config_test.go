package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.JWTIssuer != "sso-auth" {
		t.Errorf("JWTIssuer = %q, want sso-auth", cfg.JWTIssuer)
	}
	if cfg.JWTAudience != "sso-clients" {
		t.Errorf("JWTAudience = %q, want sso-clients", cfg.JWTAudience)
	}
	if cfg.MaxActiveSessions != 5 {
		t.Errorf("MaxActiveSessions = %d, want 5", cfg.MaxActiveSessions)
	}
	if cfg.BcryptCost != 12 {
		t.Errorf("BcryptCost = %d, want 12", cfg.BcryptCost)
	}
	if got := cfg.AccessTTL(); got != 30*time.Minute {
		t.Errorf("AccessTTL = %v, want 30m", got)
	}
	if got := cfg.RefreshTTL(); got != 1440*time.Hour {
		t.Errorf("RefreshTTL = %v, want 1440h", got)
	}
	if got := cfg.SSOTTL(); got != 720*time.Hour {
		t.Errorf("SSOTTL = %v, want 720h", got)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ACCESS_TOKEN_TTL", "15m")
	t.Setenv("MAX_ACTIVE_SESSIONS", "3")
	t.Setenv("JWT_ISSUER", "my-issuer")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.AccessTTL(); got != 15*time.Minute {
		t.Errorf("AccessTTL = %v, want 15m", got)
	}
	if cfg.MaxActiveSessions != 3 {
		t.Errorf("MaxActiveSessions = %d, want 3", cfg.MaxActiveSessions)
	}
	if cfg.JWTIssuer != "my-issuer" {
		t.Errorf("JWTIssuer = %q, want my-issuer", cfg.JWTIssuer)
	}
}

func TestLoad_RejectsBadBcryptCost(t *testing.T) {
	t.Setenv("BCRYPT_COST", "50")
	if _, err := Load(); err == nil {
		t.Fatal("Load should reject BCRYPT_COST over 31")
	}
}

func TestLoad_RejectsNegativeMaxSessions(t *testing.T) {
	t.Setenv("MAX_ACTIVE_SESSIONS", "-1")
	if _, err := Load(); err == nil {
		t.Fatal("Load should reject negative MAX_ACTIVE_SESSIONS")
	}
}

func TestTTL_FallbackOnInvalid(t *testing.T) {
	cfg := &Config{AccessTokenTTL: "bogus", RefreshTokenTTL: "", SSOSessionTTL: "-5m"}
	if got := cfg.AccessTTL(); got != 30*time.Minute {
		t.Errorf("AccessTTL = %v, want 30m fallback", got)
	}
	if got := cfg.RefreshTTL(); got != 1440*time.Hour {
		t.Errorf("RefreshTTL = %v, want 1440h fallback", got)
	}
	if got := cfg.SSOTTL(); got != 720*time.Hour {
		t.Errorf("SSOTTL = %v, want 720h fallback", got)
	}
}
