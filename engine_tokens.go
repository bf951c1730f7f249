package identity

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/fundlift/identity/audit"
	"github.com/fundlift/identity/jwt"
)

// issuePair signs a fresh access/refresh pair and installs the refresh
// digest as the account's single live session.
func (e *Engine) issuePair(ctx context.Context, ident *Identity, now time.Time) (*TokenPair, error) {
	access, err := e.tokens.SignAccess(ident.ID, string(ident.Role))
	if err != nil {
		return nil, err
	}
	refresh, err := e.tokens.SignRefresh(ident.ID)
	if err != nil {
		return nil, err
	}

	if err := e.store.RecordLoginSuccess(ctx, ident.ID, digest(refresh), now); err != nil {
		return nil, err
	}

	return &TokenPair{
		Access:           access,
		Refresh:          refresh,
		AccessExpiresAt:  now.Add(e.config.Tokens.AccessTTL),
		RefreshExpiresAt: now.Add(e.config.Tokens.RefreshTTL),
	}, nil
}

// Rotate exchanges a refresh token for a new pair. A structurally valid
// token whose digest no longer matches the stored one is a replay of an
// already-rotated token: the session is revoked and ErrTokenReused is
// returned. Once revoked, every further presentation gets
// ErrTokenInvalid.
func (e *Engine) Rotate(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := e.tokens.ParseRefresh(refreshToken)
	if err != nil {
		return nil, mapTokenError(err)
	}

	ident, err := e.store.FindByID(ctx, claims.IdentityID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, err
	}
	if err := e.checkAccountState(ident); err != nil {
		return nil, err
	}

	presented := digest(refreshToken)
	if len(ident.RefreshDigest) == 0 {
		// No live session: the token was revoked (logout, reuse
		// detection, password change).
		return nil, ErrTokenInvalid
	}
	if !bytes.Equal(ident.RefreshDigest, presented) {
		if err := e.store.ClearRefreshDigest(ctx, ident.ID); err != nil {
			return nil, err
		}
		e.emit(ctx, audit.Event{Action: audit.ActionRefreshReuse, IdentityID: ident.ID,
			Error: ErrTokenReused.Error()})
		e.logger.Warn(ctx, "refresh token reuse detected", "identity_id", ident.ID)
		return nil, ErrTokenReused
	}

	now := e.now()
	access, err := e.tokens.SignAccess(ident.ID, string(ident.Role))
	if err != nil {
		return nil, err
	}
	refresh, err := e.tokens.SignRefresh(ident.ID)
	if err != nil {
		return nil, err
	}

	swapped, err := e.store.SwapRefreshDigest(ctx, ident.ID, presented, digest(refresh))
	if err != nil {
		return nil, err
	}
	if !swapped {
		// A concurrent rotation with the same token won the swap. Treat
		// this presentation as a replay and revoke.
		if err := e.store.ClearRefreshDigest(ctx, ident.ID); err != nil {
			return nil, err
		}
		e.emit(ctx, audit.Event{Action: audit.ActionRefreshReuse, IdentityID: ident.ID,
			Error: ErrTokenReused.Error()})
		return nil, ErrTokenReused
	}

	e.emit(ctx, audit.Event{Action: audit.ActionRefresh, IdentityID: ident.ID, Success: true})
	return &TokenPair{
		Access:           access,
		Refresh:          refresh,
		AccessExpiresAt:  now.Add(e.config.Tokens.AccessTTL),
		RefreshExpiresAt: now.Add(e.config.Tokens.RefreshTTL),
	}, nil
}

// VerifyAccess checks an access token statelessly: signature, expiry,
// issuer. It does not consult the credential store.
func (e *Engine) VerifyAccess(tokenStr string) (*jwt.AccessClaims, error) {
	claims, err := e.tokens.ParseAccess(tokenStr)
	if err != nil {
		return nil, mapTokenError(err)
	}
	return claims, nil
}

// Introspect verifies an access token and additionally confirms the
// account is still present, verified where required, and not deleted or
// suspended. For callers that cannot tolerate the stateless window.
func (e *Engine) Introspect(ctx context.Context, tokenStr string) (*Identity, error) {
	claims, err := e.VerifyAccess(tokenStr)
	if err != nil {
		return nil, err
	}

	ident, err := e.store.FindByID(ctx, claims.IdentityID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, err
	}
	if err := e.checkAccountState(ident); err != nil {
		return nil, err
	}
	// Tokens minted before the last password change are out.
	if !ident.PasswordChangedAt.IsZero() && claims.IssuedAt != nil &&
		claims.IssuedAt.Time.Before(ident.PasswordChangedAt) {
		return nil, ErrTokenInvalid
	}
	return ident, nil
}

func mapTokenError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrInvalid):
		return ErrTokenInvalid
	default:
		return err
	}
}
