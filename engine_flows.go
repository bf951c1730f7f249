package identity

import (
	"context"
	"errors"

	"github.com/fundlift/identity/audit"
	"github.com/fundlift/identity/lockout"
	"github.com/fundlift/identity/notify"
)

// ForgotPassword starts the reset flow. Unknown addresses return nil so
// the endpoint cannot be used to enumerate accounts; the per-account
// request counter caps how many live reset emails can be forced out.
func (e *Engine) ForgotPassword(ctx context.Context, email string) error {
	ident, err := e.store.FindByIdentifier(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if ident.Deleted || ident.Suspended {
		return nil
	}

	requests, err := e.store.IncrementResetRetries(ctx, ident.ID, e.now())
	if err != nil {
		return err
	}
	if requests > e.config.Flows.MaxResetRequests {
		e.emit(ctx, audit.Event{Action: audit.ActionPasswordForgot, IdentityID: ident.ID,
			Error: ErrTooManyResetAttempts.Error()})
		return ErrTooManyResetAttempts
	}

	token, hash, err := newFlowToken()
	if err != nil {
		return err
	}
	expires := e.now().Add(e.config.Flows.ResetTTL)
	if err := e.store.SetFlowToken(ctx, ident.ID, TokenPasswordReset, hash, expires); err != nil {
		return err
	}

	e.send(ctx, notify.Message{
		Kind:  notify.KindPasswordReset,
		Email: ident.Email,
		Name:  ident.FirstName,
		Token: token,
	})
	e.emit(ctx, audit.Event{Action: audit.ActionPasswordForgot, IdentityID: ident.ID, Success: true})
	return nil
}

// ResetPassword consumes a reset token for the named account and
// installs the new password. Consumption is atomic: it also revokes the
// live session, clears the lockout counters, and retires the token, so
// a second presentation fails with ErrTokenInvalid.
//
// Every invalid consumption bumps the same counter ForgotPassword uses,
// and a coarser ceiling over it refuses further consumptions, so the
// token cannot be guessed one attempt at a time. The refusal decays
// after Flows.ResetLockout like the login lockout does.
func (e *Engine) ResetPassword(ctx context.Context, identifier, token, newPassword string) (*Identity, error) {
	ident, err := e.store.FindByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, err
	}
	if ident.Deleted || ident.Suspended {
		return nil, ErrTokenInvalid
	}

	now := e.now()
	guessPolicy := lockout.Policy{Ceiling: e.config.Flows.MaxResetAttempts, Cooldown: e.config.Flows.ResetLockout}
	if !lockout.Decide(ident.ResetRetries, ident.LastResetRequest, now, guessPolicy).Allowed {
		e.emit(ctx, audit.Event{Action: audit.ActionPasswordReset, IdentityID: ident.ID,
			Error: ErrTooManyResetAttempts.Error()})
		return nil, ErrTooManyResetAttempts
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return nil, mapPasswordError(err)
	}

	updated, err := e.store.ConsumePasswordResetToken(ctx, ident.ID, digest(token), hash, now)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrTokenExpired) {
			return nil, e.resetConsumeFailure(ctx, ident.ID, err)
		}
		return nil, err
	}

	e.send(ctx, notify.Message{
		Kind:  notify.KindPasswordAlert,
		Email: updated.Email,
		Name:  updated.FirstName,
	})
	e.emit(ctx, audit.Event{Action: audit.ActionPasswordReset, IdentityID: updated.ID, Success: true})
	return updated, nil
}

// resetConsumeFailure charges a failed consumption against the reset
// counter and maps the store miss to the public error.
func (e *Engine) resetConsumeFailure(ctx context.Context, identityID string, miss error) error {
	attempts, err := e.store.IncrementResetRetries(ctx, identityID, e.now())
	if err != nil {
		return err
	}

	outcome := ErrTokenInvalid
	if errors.Is(miss, ErrTokenExpired) {
		outcome = ErrTokenExpired
	}
	if e.config.Flows.MaxResetAttempts > 0 && attempts >= e.config.Flows.MaxResetAttempts {
		outcome = ErrTooManyResetAttempts
	}
	e.emit(ctx, audit.Event{Action: audit.ActionPasswordReset, IdentityID: identityID, Error: outcome.Error()})
	return outcome
}

// ChangePassword replaces the password of an authenticated account
// after re-checking the current one. The live session is revoked; the
// caller must log in again.
func (e *Engine) ChangePassword(ctx context.Context, identityID, currentPassword, newPassword string) error {
	ident, err := e.store.FindByID(ctx, identityID)
	if err != nil {
		return err
	}
	if err := e.checkAccountState(ident); err != nil {
		return err
	}

	ok, err := e.verifyPassword(currentPassword, ident)
	if err != nil {
		return err
	}
	if !ok {
		e.emit(ctx, audit.Event{Action: audit.ActionPasswordChange, IdentityID: ident.ID, Error: "wrong password"})
		return ErrInvalidCredentials
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return mapPasswordError(err)
	}
	if err := e.store.SetPassword(ctx, ident.ID, hash, e.now()); err != nil {
		return err
	}

	e.send(ctx, notify.Message{
		Kind:  notify.KindPasswordAlert,
		Email: ident.Email,
		Name:  ident.FirstName,
	})
	e.emit(ctx, audit.Event{Action: audit.ActionPasswordChange, IdentityID: ident.ID, Success: true})
	return nil
}

// DeleteAccount soft-deletes an account after re-checking the password
// and mails a restore token valid for the configured grace period.
func (e *Engine) DeleteAccount(ctx context.Context, identityID, plaintext string) error {
	ident, err := e.store.FindByID(ctx, identityID)
	if err != nil {
		return err
	}
	if ident.Deleted {
		return ErrAccountDeleted
	}

	ok, err := e.verifyPassword(plaintext, ident)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidCredentials
	}

	token, hash, err := newFlowToken()
	if err != nil {
		return err
	}
	now := e.now()
	if err := e.store.MarkDeleted(ctx, ident.ID, hash, now.Add(e.config.Flows.RestoreTTL), now); err != nil {
		return err
	}

	e.send(ctx, notify.Message{
		Kind:  notify.KindAccountDelete,
		Email: ident.Email,
		Name:  ident.FirstName,
		Token: token,
	})
	e.emit(ctx, audit.Event{Action: audit.ActionAccountDelete, IdentityID: ident.ID, Success: true})
	return nil
}

// RestoreAccount lifts a soft deletion with the mailed restore token.
func (e *Engine) RestoreAccount(ctx context.Context, token string) (*Identity, error) {
	ident, err := e.store.ConsumeRestoreToken(ctx, digest(token))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, err
	}
	e.emit(ctx, audit.Event{Action: audit.ActionAccountRestore, IdentityID: ident.ID, Success: true})
	return ident, nil
}

// SetSuspended flips the administrative suspension flag. Suspending
// also revokes the live session.
func (e *Engine) SetSuspended(ctx context.Context, identityID string, suspended bool) error {
	if err := e.store.SetSuspended(ctx, identityID, suspended); err != nil {
		return err
	}
	e.emit(ctx, audit.Event{Action: audit.ActionAccountSuspend, IdentityID: identityID, Success: true,
		Metadata: map[string]string{"suspended": boolString(suspended)}})
	return nil
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
