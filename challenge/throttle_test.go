package challenge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testThrottle(t *testing.T, cfg ThrottleConfig) (*Throttle, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewThrottle(client, cfg), mr
}

func TestThrottleBudget(t *testing.T) {
	th, _ := testThrottle(t, ThrottleConfig{MaxAttempts: 3, Cooldown: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := th.RecordFailure(ctx, "alice@example.com", ""); err != nil {
			t.Fatalf("failure %d: %v", i, err)
		}
		if err := th.Check(ctx, "alice@example.com", ""); err != nil {
			t.Fatalf("check after failure %d: %v", i, err)
		}
	}

	if err := th.RecordFailure(ctx, "alice@example.com", ""); err != nil {
		t.Fatalf("third failure: %v", err)
	}
	if err := th.Check(ctx, "alice@example.com", ""); !errors.Is(err, ErrThrottled) {
		t.Fatalf("expected ErrThrottled, got %v", err)
	}
}

func TestThrottlePerAddress(t *testing.T) {
	th, _ := testThrottle(t, ThrottleConfig{
		EnableIPThrottle: true,
		MaxAttempts:      2,
		Cooldown:         time.Minute,
	})
	ctx := context.Background()

	// Different identifiers, same address: the address counter trips.
	if err := th.RecordFailure(ctx, "a@example.com", "10.0.0.1"); err != nil {
		t.Fatalf("first failure: %v", err)
	}
	if err := th.RecordFailure(ctx, "b@example.com", "10.0.0.1"); !errors.Is(err, ErrThrottled) {
		t.Fatalf("expected ErrThrottled on shared address, got %v", err)
	}

	if err := th.Check(ctx, "c@example.com", "10.0.0.2"); err != nil {
		t.Fatalf("fresh address must pass: %v", err)
	}
}

func TestThrottleReset(t *testing.T) {
	th, _ := testThrottle(t, ThrottleConfig{MaxAttempts: 1, Cooldown: time.Minute})
	ctx := context.Background()

	if err := th.RecordFailure(ctx, "alice@example.com", ""); err != nil {
		t.Fatalf("failure: %v", err)
	}
	if err := th.Check(ctx, "alice@example.com", ""); !errors.Is(err, ErrThrottled) {
		t.Fatalf("expected ErrThrottled, got %v", err)
	}

	if err := th.Reset(ctx, "alice@example.com", ""); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if err := th.Check(ctx, "alice@example.com", ""); err != nil {
		t.Fatalf("check after reset: %v", err)
	}
}

func TestThrottleCooldownExpires(t *testing.T) {
	th, mr := testThrottle(t, ThrottleConfig{MaxAttempts: 1, Cooldown: time.Minute})
	ctx := context.Background()

	if err := th.RecordFailure(ctx, "alice@example.com", ""); err != nil {
		t.Fatalf("failure: %v", err)
	}
	if err := th.Check(ctx, "alice@example.com", ""); !errors.Is(err, ErrThrottled) {
		t.Fatalf("expected ErrThrottled, got %v", err)
	}

	mr.FastForward(2 * time.Minute)

	if err := th.Check(ctx, "alice@example.com", ""); err != nil {
		t.Fatalf("check after cooldown: %v", err)
	}
}
