// Package envconf loads the engine configuration and backing-service
// addresses from environment variables. It owns the variable names so
// the deployable binary and the tests agree on them.
package envconf

import (
	"fmt"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/fundlift/identity"
)

// Settings is the raw environment surface. Secrets arrive as plain
// strings; Config() converts and validates.
type Settings struct {
	DatabaseDSN string `env:"IDENTITY_DATABASE_DSN"`
	RedisAddr   string `env:"IDENTITY_REDIS_ADDR" envDefault:"localhost:6379"`
	ListenAddr  string `env:"IDENTITY_LISTEN_ADDR" envDefault:":8080"`

	AccessKey  string        `env:"IDENTITY_ACCESS_KEY"`
	RefreshKey string        `env:"IDENTITY_REFRESH_KEY"`
	AccessTTL  time.Duration `env:"IDENTITY_ACCESS_TTL" envDefault:"15m"`
	RefreshTTL time.Duration `env:"IDENTITY_REFRESH_TTL" envDefault:"24h"`
	Issuer     string        `env:"IDENTITY_ISSUER" envDefault:"fundlift"`

	LockoutCeiling  int           `env:"IDENTITY_LOCKOUT_CEILING" envDefault:"5"`
	LockoutCooldown time.Duration `env:"IDENTITY_LOCKOUT_COOLDOWN" envDefault:"15m"`

	VerificationTTL      time.Duration `env:"IDENTITY_VERIFICATION_TTL" envDefault:"24h"`
	ResetTTL             time.Duration `env:"IDENTITY_RESET_TTL" envDefault:"1h"`
	RestoreTTL           time.Duration `env:"IDENTITY_RESTORE_TTL" envDefault:"720h"`
	MaxResetRequests     int           `env:"IDENTITY_MAX_RESET_REQUESTS" envDefault:"3"`
	MaxResetAttempts     int           `env:"IDENTITY_MAX_RESET_ATTEMPTS" envDefault:"10"`
	ResetLockout         time.Duration `env:"IDENTITY_RESET_LOCKOUT" envDefault:"1h"`
	RequireVerifiedEmail bool          `env:"IDENTITY_REQUIRE_VERIFIED_EMAIL" envDefault:"true"`

	ChallengeTTL         time.Duration `env:"IDENTITY_CHALLENGE_TTL" envDefault:"5m"`
	ChallengeMaxAttempts int           `env:"IDENTITY_CHALLENGE_MAX_ATTEMPTS" envDefault:"5"`

	ThrottleEnabled     bool          `env:"IDENTITY_THROTTLE_ENABLED" envDefault:"true"`
	ThrottleIPEnabled   bool          `env:"IDENTITY_THROTTLE_IP_ENABLED" envDefault:"true"`
	ThrottleMaxAttempts int           `env:"IDENTITY_THROTTLE_MAX_ATTEMPTS" envDefault:"10"`
	ThrottleCooldown    time.Duration `env:"IDENTITY_THROTTLE_COOLDOWN" envDefault:"15m"`

	AuditEnabled bool `env:"IDENTITY_AUDIT_ENABLED" envDefault:"true"`
}

// Load reads Settings from the process environment.
func Load() (*Settings, error) {
	var s Settings
	if err := env.Parse(&s); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return &s, nil
}

// Config converts the settings into an engine configuration.
func (s *Settings) Config() identity.Config {
	cfg := identity.DefaultConfig()

	cfg.Tokens.AccessKey = []byte(s.AccessKey)
	cfg.Tokens.RefreshKey = []byte(s.RefreshKey)
	cfg.Tokens.AccessTTL = s.AccessTTL
	cfg.Tokens.RefreshTTL = s.RefreshTTL
	cfg.Tokens.Issuer = s.Issuer

	cfg.Lockout.Ceiling = s.LockoutCeiling
	cfg.Lockout.Cooldown = s.LockoutCooldown

	cfg.Flows.VerificationTTL = s.VerificationTTL
	cfg.Flows.ResetTTL = s.ResetTTL
	cfg.Flows.RestoreTTL = s.RestoreTTL
	cfg.Flows.MaxResetRequests = s.MaxResetRequests
	cfg.Flows.MaxResetAttempts = s.MaxResetAttempts
	cfg.Flows.ResetLockout = s.ResetLockout
	cfg.Flows.RequireVerifiedEmail = s.RequireVerifiedEmail

	cfg.TwoFactor.ChallengeTTL = s.ChallengeTTL
	cfg.TwoFactor.MaxAttempts = s.ChallengeMaxAttempts
	cfg.TwoFactor.Issuer = s.Issuer

	cfg.Throttle.Enabled = s.ThrottleEnabled
	cfg.Throttle.EnableIPThrottle = s.ThrottleIPEnabled
	cfg.Throttle.MaxAttempts = s.ThrottleMaxAttempts
	cfg.Throttle.Cooldown = s.ThrottleCooldown

	cfg.Audit.Enabled = s.AuditEnabled
	return cfg
}
