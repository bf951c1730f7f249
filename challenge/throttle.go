package challenge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrThrottled is returned when an identifier or address has burned
// through its attempt budget inside the cooldown window.
var ErrThrottled = errors.New("too many attempts")

// ThrottleConfig tunes the sliding attempt counters.
type ThrottleConfig struct {
	EnableIPThrottle bool
	MaxAttempts      int
	Cooldown         time.Duration
}

// Throttle keeps per-identifier and per-address failure counters in
// Redis, independent of the durable lockout counter on the credential
// record. It soaks up probing against identifiers that do not exist.
type Throttle struct {
	redis  redis.UniversalClient
	config ThrottleConfig
}

func NewThrottle(redisClient redis.UniversalClient, cfg ThrottleConfig) *Throttle {
	return &Throttle{redis: redisClient, config: cfg}
}

// Check reports whether the identifier+address pair still has budget.
func (t *Throttle) Check(ctx context.Context, identifier, addr string) error {
	if err := t.checkCounter(ctx, identifierKey(identifier)); err != nil {
		return err
	}
	if t.config.EnableIPThrottle && addr != "" {
		if err := t.checkCounter(ctx, addrKey(addr)); err != nil {
			return err
		}
	}
	return nil
}

// RecordFailure counts a failed attempt against both counters.
func (t *Throttle) RecordFailure(ctx context.Context, identifier, addr string) error {
	count, err := t.incrementWithTTL(ctx, identifierKey(identifier))
	if err != nil {
		return err
	}
	if count > int64(t.config.MaxAttempts) {
		return ErrThrottled
	}

	if t.config.EnableIPThrottle && addr != "" {
		count, err = t.incrementWithTTL(ctx, addrKey(addr))
		if err != nil {
			return err
		}
		if count > int64(t.config.MaxAttempts) {
			return ErrThrottled
		}
	}
	return nil
}

// Reset clears the counters after a successful attempt.
func (t *Throttle) Reset(ctx context.Context, identifier, addr string) error {
	keys := []string{identifierKey(identifier)}
	if t.config.EnableIPThrottle && addr != "" {
		keys = append(keys, addrKey(addr))
	}
	if err := t.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

func (t *Throttle) checkCounter(ctx context.Context, key string) error {
	count, err := t.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if count >= int64(t.config.MaxAttempts) {
		return ErrThrottled
	}
	return nil
}

func (t *Throttle) incrementWithTTL(ctx context.Context, key string) (int64, error) {
	pipe := t.redis.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, t.config.Cooldown)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return incr.Val(), nil
}

func identifierKey(identifier string) string {
	return keyPrefix + ":tid:" + identifier
}

func addrKey(addr string) string {
	return keyPrefix + ":tip:" + addr
}
