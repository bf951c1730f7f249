package identity

import (
	"errors"
	"time"
)

// Config is the full engine configuration. Zero values are filled in by
// defaults; Validate rejects what defaults cannot repair (missing keys).
type Config struct {
	Tokens    TokenConfig
	Password  PasswordConfig
	Lockout   LockoutConfig
	TwoFactor TwoFactorConfig
	Flows     FlowConfig
	Throttle  ThrottleConfig
	Audit     AuditConfig
}

// TokenConfig covers both bearer-token classes.
type TokenConfig struct {
	AccessKey  []byte
	RefreshKey []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Issuer     string
	Leeway     time.Duration
}

// PasswordConfig holds the Argon2id cost parameters and policy.
type PasswordConfig struct {
	MemoryKB    uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	MinLength   int
}

// LockoutConfig is the durable failed-login policy. A Ceiling of -1
// disables lockout entirely.
type LockoutConfig struct {
	Ceiling  int
	Cooldown time.Duration
}

// TwoFactorConfig tunes second-factor challenges.
type TwoFactorConfig struct {
	Issuer        string
	Digits        int
	Period        int
	Skew          int
	ChallengeTTL  time.Duration
	MaxAttempts   int
	RecoveryCodes int
}

// FlowConfig covers the three single-use token flows.
type FlowConfig struct {
	VerificationTTL time.Duration
	ResetTTL        time.Duration
	RestoreTTL      time.Duration
	// MaxResetRequests caps reset emails per account before the counter
	// is cleared by a successful reset.
	MaxResetRequests int
	// MaxResetAttempts is the coarser ceiling over the same counter.
	// Invalid reset-token consumptions bump it too; at the ceiling the
	// flow refuses consumption until ResetLockout has elapsed since the
	// last attempt.
	MaxResetAttempts int
	ResetLockout     time.Duration
	// RequireVerifiedEmail blocks login until the address is confirmed.
	RequireVerifiedEmail bool
}

// ThrottleConfig tunes the transient per-identifier and per-IP login
// counters kept in Redis. Disabled when the engine has no Redis client.
type ThrottleConfig struct {
	Enabled          bool
	EnableIPThrottle bool
	MaxAttempts      int
	Cooldown         time.Duration
}

// AuditConfig tunes the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// DefaultConfig returns the baseline configuration. Signing keys must
// still be supplied by the caller.
func DefaultConfig() Config {
	return Config{
		Tokens: TokenConfig{
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 24 * time.Hour,
			Issuer:     "fundlift",
		},
		Password: PasswordConfig{
			MemoryKB:    64 * 1024,
			Iterations:  3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
			MinLength:   8,
		},
		Lockout: LockoutConfig{
			Ceiling:  5,
			Cooldown: 15 * time.Minute,
		},
		TwoFactor: TwoFactorConfig{
			Issuer:        "fundlift",
			Digits:        6,
			Period:        30,
			Skew:          1,
			ChallengeTTL:  5 * time.Minute,
			MaxAttempts:   5,
			RecoveryCodes: 8,
		},
		Flows: FlowConfig{
			VerificationTTL:      24 * time.Hour,
			ResetTTL:             time.Hour,
			RestoreTTL:           30 * 24 * time.Hour,
			MaxResetRequests:     3,
			MaxResetAttempts:     10,
			ResetLockout:         time.Hour,
			RequireVerifiedEmail: true,
		},
		Throttle: ThrottleConfig{
			Enabled:          true,
			EnableIPThrottle: true,
			MaxAttempts:      10,
			Cooldown:         15 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()

	if c.Tokens.AccessTTL == 0 {
		c.Tokens.AccessTTL = def.Tokens.AccessTTL
	}
	if c.Tokens.RefreshTTL == 0 {
		c.Tokens.RefreshTTL = def.Tokens.RefreshTTL
	}
	if c.Tokens.Issuer == "" {
		c.Tokens.Issuer = def.Tokens.Issuer
	}

	if c.Password.MemoryKB == 0 {
		c.Password = def.Password
	}
	if c.Password.MinLength == 0 {
		c.Password.MinLength = def.Password.MinLength
	}

	if c.Lockout.Ceiling == 0 {
		c.Lockout.Ceiling = def.Lockout.Ceiling
	}
	if c.Lockout.Cooldown == 0 {
		c.Lockout.Cooldown = def.Lockout.Cooldown
	}

	if c.TwoFactor.Digits == 0 {
		c.TwoFactor.Digits = def.TwoFactor.Digits
	}
	if c.TwoFactor.Period == 0 {
		c.TwoFactor.Period = def.TwoFactor.Period
	}
	if c.TwoFactor.Issuer == "" {
		c.TwoFactor.Issuer = c.Tokens.Issuer
	}
	if c.TwoFactor.ChallengeTTL == 0 {
		c.TwoFactor.ChallengeTTL = def.TwoFactor.ChallengeTTL
	}
	if c.TwoFactor.MaxAttempts == 0 {
		c.TwoFactor.MaxAttempts = def.TwoFactor.MaxAttempts
	}
	if c.TwoFactor.RecoveryCodes == 0 {
		c.TwoFactor.RecoveryCodes = def.TwoFactor.RecoveryCodes
	}

	if c.Flows.VerificationTTL == 0 {
		c.Flows.VerificationTTL = def.Flows.VerificationTTL
	}
	if c.Flows.ResetTTL == 0 {
		c.Flows.ResetTTL = def.Flows.ResetTTL
	}
	if c.Flows.RestoreTTL == 0 {
		c.Flows.RestoreTTL = def.Flows.RestoreTTL
	}
	if c.Flows.MaxResetRequests == 0 {
		c.Flows.MaxResetRequests = def.Flows.MaxResetRequests
	}
	if c.Flows.MaxResetAttempts == 0 {
		c.Flows.MaxResetAttempts = def.Flows.MaxResetAttempts
	}
	if c.Flows.ResetLockout == 0 {
		c.Flows.ResetLockout = def.Flows.ResetLockout
	}

	if c.Throttle.MaxAttempts == 0 {
		c.Throttle.MaxAttempts = def.Throttle.MaxAttempts
	}
	if c.Throttle.Cooldown == 0 {
		c.Throttle.Cooldown = def.Throttle.Cooldown
	}

	if c.Audit.BufferSize == 0 {
		c.Audit.BufferSize = def.Audit.BufferSize
	}
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if len(c.Tokens.AccessKey) < 32 {
		return errors.New("config: access signing key must be at least 32 bytes")
	}
	if len(c.Tokens.RefreshKey) < 32 {
		return errors.New("config: refresh signing key must be at least 32 bytes")
	}
	if string(c.Tokens.AccessKey) == string(c.Tokens.RefreshKey) {
		return errors.New("config: access and refresh keys must differ")
	}
	if c.Tokens.AccessTTL >= c.Tokens.RefreshTTL {
		return errors.New("config: access TTL must be shorter than refresh TTL")
	}
	if c.TwoFactor.Digits < 6 || c.TwoFactor.Digits > 10 {
		return errors.New("config: two-factor digits must be between 6 and 10")
	}
	if c.TwoFactor.Skew < 0 || c.TwoFactor.Skew > 2 {
		return errors.New("config: two-factor skew must be between 0 and 2")
	}
	if c.Lockout.Ceiling > 0 && c.Lockout.Cooldown <= 0 {
		return errors.New("config: lockout cooldown must be positive when lockout is enabled")
	}
	return nil
}
