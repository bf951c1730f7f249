package identity

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"

	"github.com/fundlift/identity/audit"
	"github.com/fundlift/identity/challenge"
	"github.com/fundlift/identity/lockout"
	"github.com/fundlift/identity/notify"
	"github.com/fundlift/identity/otp"
	"github.com/google/uuid"
)

// Login authenticates an identifier/password pair. When the account has
// a confirmed second factor no tokens are issued; the result carries a
// challenge id to be confirmed via ConfirmLogin. ip may be empty.
func (e *Engine) Login(ctx context.Context, identifier, plaintext, ip string) (*LoginResult, error) {
	if err := e.checkThrottle(ctx, identifier, ip); err != nil {
		return nil, err
	}

	ident, err := e.store.FindByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Burn throttle budget so probing unknown identifiers is as
			// expensive as probing real ones.
			e.recordThrottleFailure(ctx, identifier, ip)
			e.emit(ctx, audit.Event{Action: audit.ActionLogin, Identifier: identifier, IP: ip, Error: "unknown identifier"})
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := e.checkAccountState(ident); err != nil {
		e.emit(ctx, audit.Event{Action: audit.ActionLogin, IdentityID: ident.ID, IP: ip, Error: err.Error()})
		return nil, err
	}

	now := e.now()
	decision := lockout.Decide(ident.LoginRetries, ident.LastFailedLogin, now, e.lockoutPolicy)
	if !decision.Allowed {
		e.emit(ctx, audit.Event{Action: audit.ActionLockout, IdentityID: ident.ID, IP: ip,
			Metadata: map[string]string{"remaining": decision.Remaining.String()}})
		return nil, ErrAccountLocked
	}

	ok, err := e.verifyPassword(plaintext, ident)
	if err != nil {
		return nil, err
	}
	if !ok {
		retries, ferr := e.store.RecordLoginFailure(ctx, ident.ID, now)
		if ferr != nil {
			return nil, ferr
		}
		e.recordThrottleFailure(ctx, identifier, ip)
		event := audit.Event{Action: audit.ActionLogin, IdentityID: ident.ID, IP: ip, Error: "wrong password"}
		if e.lockoutPolicy.Ceiling > 0 && retries >= e.lockoutPolicy.Ceiling {
			event.Metadata = map[string]string{"locked": "true"}
		}
		e.emit(ctx, event)
		return nil, ErrInvalidCredentials
	}

	if e.config.Flows.RequireVerifiedEmail && !ident.Verified {
		e.emit(ctx, audit.Event{Action: audit.ActionLogin, IdentityID: ident.ID, IP: ip, Error: "unverified"})
		return nil, ErrAccountUnverified
	}

	if ident.TwoFactor.Active() {
		return e.beginSecondFactor(ctx, ident, identifier, ip)
	}

	pair, err := e.issuePair(ctx, ident, now)
	if err != nil {
		return nil, err
	}
	e.resetThrottle(ctx, identifier, ip)
	e.emit(ctx, audit.Event{Action: audit.ActionLogin, IdentityID: ident.ID, IP: ip, Success: true})
	return &LoginResult{Identity: ident, Tokens: pair}, nil
}

// checkAccountState rejects deleted and suspended accounts in that
// order, before any password work.
func (e *Engine) checkAccountState(ident *Identity) error {
	if ident.Deleted {
		return ErrAccountDeleted
	}
	if ident.Suspended {
		return ErrAccountSuspended
	}
	return nil
}

func (e *Engine) verifyPassword(plaintext string, ident *Identity) (bool, error) {
	// Externally-provisioned accounts have no local password to check.
	if ident.Provider != ProviderLocal || ident.PasswordHash == "" {
		return false, nil
	}
	return e.hasher.Verify(plaintext, ident.PasswordHash)
}

// beginSecondFactor creates a pending challenge and, for the email
// method, dispatches the one-time code. The identifier and address of
// the halted attempt ride along on the record so confirmation can
// clear their throttle counters.
func (e *Engine) beginSecondFactor(ctx context.Context, ident *Identity, identifier, ip string) (*LoginResult, error) {
	if e.challenges == nil {
		return nil, ErrTwoFactorRequired
	}

	record := &challenge.Record{
		IdentityID: ident.ID,
		Purpose:    challenge.PurposeLogin,
		ExpiresAt:  e.now().Add(e.config.TwoFactor.ChallengeTTL).Unix(),
		Identifier: identifier,
		IP:         ip,
	}

	switch ident.TwoFactor.Method {
	case TwoFactorEmail:
		code, err := otp.NumericCode(e.config.TwoFactor.Digits)
		if err != nil {
			return nil, err
		}
		sum := sha256.Sum256([]byte(code))
		record.Method = challenge.MethodEmail
		record.CodeHash = sum[:]
		e.send(ctx, notify.Message{
			Kind:  notify.KindTwoFactorCode,
			Email: ident.Email,
			Name:  ident.FirstName,
			Token: code,
		})
	default:
		record.Method = challenge.MethodApp
	}

	challengeID := uuid.NewString()
	if err := e.challenges.Save(ctx, challengeID, record, e.config.TwoFactor.ChallengeTTL); err != nil {
		return nil, err
	}

	e.emit(ctx, audit.Event{Action: audit.ActionLoginChallenge, IdentityID: ident.ID, IP: ip, Success: true,
		Metadata: map[string]string{"method": string(ident.TwoFactor.Method)}})

	return &LoginResult{
		Identity:     ident,
		SecondFactor: true,
		ChallengeID:  challengeID,
		Method:       ident.TwoFactor.Method,
	}, nil
}

// ConfirmLogin completes a halted login with a one-time code. The
// challenge is single-use: the first success deletes it, and exhausting
// the attempt budget deletes it too.
func (e *Engine) ConfirmLogin(ctx context.Context, challengeID, code string) (*LoginResult, error) {
	ident, record, err := e.loadChallenge(ctx, challengeID, challenge.PurposeLogin)
	if err != nil {
		return nil, err
	}

	ok, err := e.verifyChallengeCode(ident, record, code)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, e.challengeFailure(ctx, challengeID, ident.ID)
	}

	return e.completeChallenge(ctx, challengeID, ident, record)
}

// RecoveryLogin completes a halted login with a single-use recovery
// code instead of the enrolled factor. The matched code is retired.
func (e *Engine) RecoveryLogin(ctx context.Context, challengeID, recoveryCode string) (*LoginResult, error) {
	ident, record, err := e.loadChallenge(ctx, challengeID, challenge.PurposeLogin)
	if err != nil {
		return nil, err
	}

	idx := matchRecoveryCode(ident.TwoFactor.RecoveryCodes, recoveryCode)
	if idx < 0 {
		return nil, e.challengeFailure(ctx, challengeID, ident.ID)
	}

	tf := ident.TwoFactor
	tf.RecoveryCodes = append(append([]string(nil), tf.RecoveryCodes[:idx]...), tf.RecoveryCodes[idx+1:]...)
	if err := e.store.UpdateTwoFactor(ctx, ident.ID, tf); err != nil {
		return nil, err
	}
	ident.TwoFactor = tf

	return e.completeChallenge(ctx, challengeID, ident, record)
}

func (e *Engine) loadChallenge(ctx context.Context, challengeID string, purpose challenge.Purpose) (*Identity, *challenge.Record, error) {
	if e.challenges == nil {
		return nil, nil, ErrChallengeInvalid
	}

	record, err := e.challenges.Get(ctx, challengeID)
	if err != nil {
		return nil, nil, mapChallengeError(err)
	}
	if record.Purpose != purpose {
		return nil, nil, ErrChallengeInvalid
	}

	ident, err := e.store.FindByID(ctx, record.IdentityID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, ErrChallengeInvalid
		}
		return nil, nil, err
	}
	if err := e.checkAccountState(ident); err != nil {
		return nil, nil, err
	}
	return ident, record, nil
}

func (e *Engine) verifyChallengeCode(ident *Identity, record *challenge.Record, code string) (bool, error) {
	switch record.Method {
	case challenge.MethodApp:
		return e.totp.Verify(ident.TwoFactor.Secret, code, e.now())
	case challenge.MethodEmail:
		sum := sha256.Sum256([]byte(code))
		return subtle.ConstantTimeCompare(sum[:], record.CodeHash) == 1, nil
	}
	return false, nil
}

// challengeFailure burns one attempt and maps the outcome.
func (e *Engine) challengeFailure(ctx context.Context, challengeID, identityID string) error {
	err := e.challenges.RecordFailure(ctx, challengeID, e.config.TwoFactor.MaxAttempts)
	outcome := mapChallengeError(err)
	if outcome == nil {
		outcome = ErrChallengeInvalid
	}
	e.emit(ctx, audit.Event{Action: audit.ActionLoginChallenge, IdentityID: identityID, Error: outcome.Error()})
	return outcome
}

func (e *Engine) completeChallenge(ctx context.Context, challengeID string, ident *Identity, record *challenge.Record) (*LoginResult, error) {
	// Delete before issuing: if two confirmations race, only the one
	// that removed the challenge proceeds.
	existed, err := e.challenges.Delete(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	if !existed {
		return nil, ErrChallengeInvalid
	}

	pair, err := e.issuePair(ctx, ident, e.now())
	if err != nil {
		return nil, err
	}
	// A confirmed second factor is a successful login; the transient
	// counters of the halted attempt are cleared like the password-only
	// path does.
	e.resetThrottle(ctx, record.Identifier, record.IP)
	e.emit(ctx, audit.Event{Action: audit.ActionLoginChallenge, IdentityID: ident.ID, IP: record.IP, Success: true})
	return &LoginResult{Identity: ident, Tokens: pair}, nil
}

func mapChallengeError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, challenge.ErrNotFound):
		return ErrChallengeInvalid
	case errors.Is(err, challenge.ErrExpired):
		return ErrChallengeExpired
	case errors.Is(err, challenge.ErrAttemptsExceeded):
		return ErrChallengeAttempts
	default:
		return err
	}
}

func matchRecoveryCode(hashes []string, code string) int {
	sum := sha256.Sum256([]byte(code))
	for i, stored := range hashes {
		if subtle.ConstantTimeCompare([]byte(encodeRecoveryHash(sum[:])), []byte(stored)) == 1 {
			return i
		}
	}
	return -1
}

// Logout revokes the live session named by the refresh token. It is
// idempotent: unknown or already-revoked tokens succeed silently.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	claims, err := e.tokens.ParseRefresh(refreshToken)
	if err != nil {
		return nil
	}

	ident, err := e.store.FindByID(ctx, claims.IdentityID)
	if err != nil {
		return nil
	}
	if !bytes.Equal(ident.RefreshDigest, digest(refreshToken)) {
		return nil
	}

	if err := e.store.ClearRefreshDigest(ctx, ident.ID); err != nil {
		return err
	}
	e.emit(ctx, audit.Event{Action: audit.ActionLogout, IdentityID: ident.ID, Success: true})
	return nil
}

func (e *Engine) checkThrottle(ctx context.Context, identifier, ip string) error {
	if e.throttle == nil {
		return nil
	}
	if err := e.throttle.Check(ctx, identifier, ip); err != nil {
		if errors.Is(err, challenge.ErrThrottled) {
			return ErrRateLimited
		}
		e.logger.Warn(ctx, "login throttle unavailable", "error", err.Error())
	}
	return nil
}

func (e *Engine) recordThrottleFailure(ctx context.Context, identifier, ip string) {
	if e.throttle == nil {
		return
	}
	if err := e.throttle.RecordFailure(ctx, identifier, ip); err != nil && !errors.Is(err, challenge.ErrThrottled) {
		e.logger.Warn(ctx, "login throttle unavailable", "error", err.Error())
	}
}

func (e *Engine) resetThrottle(ctx context.Context, identifier, ip string) {
	if e.throttle == nil {
		return
	}
	if err := e.throttle.Reset(ctx, identifier, ip); err != nil {
		e.logger.Warn(ctx, "login throttle unavailable", "error", err.Error())
	}
}
