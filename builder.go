package identity

import (
	"errors"
	"time"

	"github.com/fundlift/identity/audit"
	"github.com/fundlift/identity/challenge"
	"github.com/fundlift/identity/jwt"
	"github.com/fundlift/identity/lockout"
	"github.com/fundlift/identity/logging"
	"github.com/fundlift/identity/notify"
	"github.com/fundlift/identity/otp"
	"github.com/fundlift/identity/password"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an Engine. A CredentialStore and signing keys are
// mandatory; Redis, notifier, audit sink, and logger are optional and
// degrade to safe defaults.
type Builder struct {
	config Config
	store  CredentialStore
	redis  redis.UniversalClient

	notifier  notify.Dispatcher
	auditSink audit.Sink
	logger    logging.Logger
	clock     func() time.Time

	built bool
}

func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

func (b *Builder) WithStore(store CredentialStore) *Builder {
	b.store = store
	return b
}

// WithRedis enables the second-factor challenge store and the login
// throttle. Without it, two-factor operations fail and throttling is
// skipped.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithNotifier(d notify.Dispatcher) *Builder {
	b.notifier = d
	return b
}

func (b *Builder) WithAuditSink(sink audit.Sink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger logging.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides the time source, for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.store == nil {
		return nil, errors.New("credential store is required")
	}

	cfg := b.config
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tokens, err := jwt.NewManager(jwt.Config{
		AccessKey:  cfg.Tokens.AccessKey,
		RefreshKey: cfg.Tokens.RefreshKey,
		AccessTTL:  cfg.Tokens.AccessTTL,
		RefreshTTL: cfg.Tokens.RefreshTTL,
		Issuer:     cfg.Tokens.Issuer,
		Leeway:     cfg.Tokens.Leeway,
	})
	if err != nil {
		return nil, err
	}

	hasher, err := password.NewHasher(password.Params{
		MemoryKB:    cfg.Password.MemoryKB,
		Iterations:  cfg.Password.Iterations,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
		MinLength:   cfg.Password.MinLength,
	})
	if err != nil {
		return nil, err
	}

	e := &Engine{
		config: cfg,
		store:  b.store,
		tokens: tokens,
		hasher: hasher,
		totp: &otp.TOTP{
			Issuer: cfg.TwoFactor.Issuer,
			Digits: cfg.TwoFactor.Digits,
			Period: cfg.TwoFactor.Period,
			Skew:   cfg.TwoFactor.Skew,
		},
		lockoutPolicy: lockout.Policy{
			Ceiling:  cfg.Lockout.Ceiling,
			Cooldown: cfg.Lockout.Cooldown,
		},
		notifier: b.notifier,
		logger:   b.logger,
		now:      b.clock,
	}

	if e.notifier == nil {
		e.notifier = notify.NopDispatcher{}
	}
	if e.logger == nil {
		e.logger = logging.Nop{}
	}
	if e.now == nil {
		e.now = time.Now
	}

	if b.redis != nil {
		e.challenges = challenge.NewStore(b.redis)
		if cfg.Throttle.Enabled {
			e.throttle = challenge.NewThrottle(b.redis, challenge.ThrottleConfig{
				EnableIPThrottle: cfg.Throttle.EnableIPThrottle,
				MaxAttempts:      cfg.Throttle.MaxAttempts,
				Cooldown:         cfg.Throttle.Cooldown,
			})
		}
	}

	e.auditor = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)

	b.built = true
	return e, nil
}
