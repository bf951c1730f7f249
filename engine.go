// Package identity is the account-security core of the fundlift
// platform: credential storage, access/refresh token issuance with
// rotation and reuse detection, failed-login lockout, second-factor
// challenges, and the single-use email flows (verification, password
// reset, account restore).
//
// Construct an Engine through the Builder, injecting a CredentialStore
// and the signing keys. All secrets are stored as one-way digests; the
// plaintext of a flow token or one-time code exists only inside the
// notification that delivers it.
package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/fundlift/identity/audit"
	"github.com/fundlift/identity/challenge"
	"github.com/fundlift/identity/jwt"
	"github.com/fundlift/identity/lockout"
	"github.com/fundlift/identity/logging"
	"github.com/fundlift/identity/notify"
	"github.com/fundlift/identity/otp"
	"github.com/fundlift/identity/password"
)

// Engine wires the identity flows together. It is safe for concurrent
// use; all mutable state lives in the injected stores.
type Engine struct {
	config Config

	store      CredentialStore
	challenges *challenge.Store
	throttle   *challenge.Throttle
	tokens     *jwt.Manager
	hasher     *password.Hasher
	totp       *otp.TOTP
	notifier   notify.Dispatcher
	auditor    *audit.Dispatcher
	logger     logging.Logger

	lockoutPolicy lockout.Policy

	now func() time.Time
}

// Close flushes the audit dispatcher. The injected stores are owned by
// the caller and stay open.
func (e *Engine) Close() {
	e.auditor.Close()
}

// Clock returns the engine's time source, for tests that freeze time.
func (e *Engine) Clock() func() time.Time {
	return e.now
}

// digest is the one-way form in which refresh and flow tokens are
// persisted.
func digest(token string) []byte {
	sum := sha256.Sum256([]byte(token))
	return sum[:]
}

// newFlowToken returns a fresh single-use token and its digest.
func newFlowToken() (string, []byte, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, err
	}
	token := hex.EncodeToString(raw)
	return token, digest(token), nil
}

func (e *Engine) emit(ctx context.Context, event audit.Event) {
	event.Timestamp = e.now()
	e.auditor.Emit(ctx, event)
}

func (e *Engine) send(ctx context.Context, msg notify.Message) {
	if err := e.notifier.Send(ctx, msg); err != nil {
		e.logger.Warn(ctx, "notification dispatch failed",
			"kind", string(msg.Kind), "error", err.Error())
	}
}
