package identity

import (
	"context"
	"errors"
	"strings"

	"github.com/fundlift/identity/audit"
	"github.com/fundlift/identity/notify"
	"github.com/fundlift/identity/password"
)

// SignupParams is the input to Signup. Role is optional and defaults to
// RoleUser; RoleAdmin cannot be self-assigned.
type SignupParams struct {
	Email     string
	Username  string
	FirstName string
	LastName  string
	Password  string
	Role      Role
}

// Signup creates a local account and dispatches the verification email.
// The account stays unverified until VerifyEmail consumes the token.
func (e *Engine) Signup(ctx context.Context, params SignupParams) (*Identity, error) {
	role := params.Role
	if role == "" {
		role = RoleUser
	}
	if !role.Valid() || role == RoleAdmin {
		return nil, &ValidationError{Fields: map[string]string{"role": "is invalid"}}
	}

	hash, err := e.hasher.Hash(params.Password)
	if err != nil {
		return nil, mapPasswordError(err)
	}

	ident := &Identity{
		Email:        strings.ToLower(strings.TrimSpace(params.Email)),
		Username:     strings.TrimSpace(params.Username),
		FirstName:    strings.TrimSpace(params.FirstName),
		LastName:     strings.TrimSpace(params.LastName),
		Role:         role,
		Provider:     ProviderLocal,
		PasswordHash: hash,
	}

	if err := e.store.Create(ctx, ident); err != nil {
		if errors.Is(err, ErrDuplicate) {
			e.emit(ctx, audit.Event{Action: audit.ActionSignup, Identifier: ident.Email, Error: "duplicate"})
		}
		return nil, err
	}

	if err := e.beginVerification(ctx, ident); err != nil {
		// The account exists; the caller can re-request verification.
		e.logger.Error(ctx, "verification dispatch failed", "identity_id", ident.ID, "error", err.Error())
	}

	e.emit(ctx, audit.Event{Action: audit.ActionSignup, IdentityID: ident.ID, Success: true})
	return ident, nil
}

func (e *Engine) beginVerification(ctx context.Context, ident *Identity) error {
	token, hash, err := newFlowToken()
	if err != nil {
		return err
	}
	expires := e.now().Add(e.config.Flows.VerificationTTL)
	if err := e.store.SetFlowToken(ctx, ident.ID, TokenVerification, hash, expires); err != nil {
		return err
	}
	e.send(ctx, notify.Message{
		Kind:  notify.KindVerification,
		Email: ident.Email,
		Name:  ident.FirstName,
		Token: token,
	})
	return nil
}

// VerifyEmail consumes a verification token. The token is single-use;
// a second presentation gets ErrTokenInvalid.
func (e *Engine) VerifyEmail(ctx context.Context, token string) (*Identity, error) {
	ident, err := e.store.ConsumeVerificationToken(ctx, digest(token))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, err
	}
	e.emit(ctx, audit.Event{Action: audit.ActionEmailVerified, IdentityID: ident.ID, Success: true})
	return ident, nil
}

// ResendVerification issues a fresh verification token, replacing any
// outstanding one. Unknown addresses and already-verified accounts
// return nil so the endpoint does not reveal account state.
func (e *Engine) ResendVerification(ctx context.Context, email string) error {
	ident, err := e.store.FindByIdentifier(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if ident.Verified || ident.Deleted {
		return nil
	}
	return e.beginVerification(ctx, ident)
}

func mapPasswordError(err error) error {
	if errors.Is(err, password.ErrWeakPassword) {
		return ErrWeakPassword
	}
	return err
}
