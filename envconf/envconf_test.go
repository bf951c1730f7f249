package envconf

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	s, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if s.RedisAddr != "localhost:6379" {
		t.Fatalf("RedisAddr = %q", s.RedisAddr)
	}
	if s.AccessTTL != 15*time.Minute || s.RefreshTTL != 24*time.Hour {
		t.Fatalf("token TTLs = %v, %v", s.AccessTTL, s.RefreshTTL)
	}
	if !s.RequireVerifiedEmail {
		t.Fatal("RequireVerifiedEmail should default to true")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("IDENTITY_ACCESS_TTL", "5m")
	t.Setenv("IDENTITY_LOCKOUT_CEILING", "3")
	t.Setenv("IDENTITY_THROTTLE_ENABLED", "false")

	s, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if s.AccessTTL != 5*time.Minute {
		t.Fatalf("AccessTTL = %v", s.AccessTTL)
	}
	if s.LockoutCeiling != 3 {
		t.Fatalf("LockoutCeiling = %d", s.LockoutCeiling)
	}
	if s.ThrottleEnabled {
		t.Fatal("ThrottleEnabled should be overridden to false")
	}
}

func TestConfigConversion(t *testing.T) {
	t.Setenv("IDENTITY_ACCESS_KEY", "access-key-0123456789abcdef01234")
	t.Setenv("IDENTITY_REFRESH_KEY", "refresh-key-0123456789abcdef0123")

	s, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	cfg := s.Config()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("converted config invalid: %v", err)
	}
	if cfg.Lockout.Ceiling != 5 {
		t.Fatalf("Ceiling = %d", cfg.Lockout.Ceiling)
	}
}
