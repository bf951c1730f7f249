package jwt

import (
	"errors"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		AccessKey:  []byte("access-key-0123456789abcdef01234"),
		RefreshKey: []byte("refresh-key-0123456789abcdef0123"),
		AccessTTL:  5 * time.Minute,
		RefreshTTL: 24 * time.Hour,
		Issuer:     "fundlift",
	}
}

func TestNewManagerRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"short access key", func(c *Config) { c.AccessKey = []byte("short") }},
		{"short refresh key", func(c *Config) { c.RefreshKey = []byte("short") }},
		{"identical keys", func(c *Config) { c.RefreshKey = c.AccessKey }},
		{"zero access ttl", func(c *Config) { c.AccessTTL = 0 }},
		{"zero refresh ttl", func(c *Config) { c.RefreshTTL = 0 }},
		{"negative leeway", func(c *Config) { c.Leeway = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			if _, err := NewManager(cfg); err == nil {
				t.Fatal("expected config error")
			}
		})
	}
}

func TestAccessRoundTrip(t *testing.T) {
	m, err := NewManager(testConfig())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	tokenStr, err := m.SignAccess("id-123", "user")
	if err != nil {
		t.Fatalf("SignAccess failed: %v", err)
	}

	claims, err := m.ParseAccess(tokenStr)
	if err != nil {
		t.Fatalf("ParseAccess failed: %v", err)
	}
	if claims.IdentityID != "id-123" || claims.Role != "user" {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestAccessExpiry(t *testing.T) {
	cfg := testConfig()
	cfg.AccessTTL = time.Nanosecond
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	tokenStr, err := m.SignAccess("id-123", "user")
	if err != nil {
		t.Fatalf("SignAccess failed: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	if _, err := m.ParseAccess(tokenStr); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestKeysAreNotInterchangeable(t *testing.T) {
	m, err := NewManager(testConfig())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	access, err := m.SignAccess("id-123", "user")
	if err != nil {
		t.Fatalf("SignAccess failed: %v", err)
	}
	refresh, err := m.SignRefresh("id-123")
	if err != nil {
		t.Fatalf("SignRefresh failed: %v", err)
	}

	if _, err := m.ParseRefresh(access); !errors.Is(err, ErrInvalid) {
		t.Fatalf("access token must not parse as refresh, got %v", err)
	}
	if _, err := m.ParseAccess(refresh); !errors.Is(err, ErrInvalid) {
		t.Fatalf("refresh token must not parse as access, got %v", err)
	}
}

func TestRefreshTokensAreUnique(t *testing.T) {
	m, err := NewManager(testConfig())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	a, err := m.SignRefresh("id-123")
	if err != nil {
		t.Fatalf("SignRefresh failed: %v", err)
	}
	b, err := m.SignRefresh("id-123")
	if err != nil {
		t.Fatalf("SignRefresh failed: %v", err)
	}
	if a == b {
		t.Fatal("consecutive refresh tokens must differ")
	}

	claims, err := m.ParseRefresh(a)
	if err != nil {
		t.Fatalf("ParseRefresh failed: %v", err)
	}
	if claims.ID == "" {
		t.Fatal("refresh claims must carry a token id")
	}
}

func TestParseRejectsTampering(t *testing.T) {
	m, err := NewManager(testConfig())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	tokenStr, err := m.SignAccess("id-123", "user")
	if err != nil {
		t.Fatalf("SignAccess failed: %v", err)
	}

	tampered := tokenStr[:len(tokenStr)-2] + "xx"
	if _, err := m.ParseAccess(tampered); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for tampered token, got %v", err)
	}
}
