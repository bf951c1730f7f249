// Package lockout decides whether an authentication attempt may proceed
// given the identity's persisted failure history. It is a pure policy:
// the retry counter itself lives in the credential store so that lockout
// state survives process restarts.
package lockout

import "time"

// Policy is the configured lockout behavior.
type Policy struct {
	// Ceiling is the number of consecutive failed attempts after which
	// authentication is refused even with correct credentials.
	Ceiling int
	// Cooldown is how long the refusal lasts, measured from the most
	// recent failed attempt.
	Cooldown time.Duration
}

// Decision is the outcome of a lockout check.
type Decision struct {
	Allowed bool
	// Remaining is the cooldown left before the account unlocks.
	// Zero when Allowed.
	Remaining time.Duration
}

// Decide evaluates the policy for an identity with the given consecutive
// failure count and the time of its most recent failure. A retry count at
// or above the ceiling denies until the cooldown has elapsed; once it has,
// the attempt is allowed again (time-based decay).
func Decide(retries int, lastFailure time.Time, now time.Time, p Policy) Decision {
	if p.Ceiling <= 0 || retries < p.Ceiling {
		return Decision{Allowed: true}
	}
	if lastFailure.IsZero() {
		return Decision{Allowed: true}
	}

	unlockAt := lastFailure.Add(p.Cooldown)
	if !now.Before(unlockAt) {
		return Decision{Allowed: true}
	}

	return Decision{Allowed: false, Remaining: unlockAt.Sub(now)}
}
