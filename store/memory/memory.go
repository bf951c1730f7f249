// Package memory provides a mutex-guarded in-process CredentialStore.
// It backs tests and single-node development setups; production uses
// the postgres store.
package memory

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/fundlift/identity"
	"github.com/google/uuid"
)

// Store keeps identities in a map keyed by id. All methods take the
// same lock, so the atomicity the contract demands is trivial here.
type Store struct {
	mu    sync.Mutex
	byID  map[string]*identity.Identity
	index map[string]string // lowercased email/username -> id
}

func NewStore() *Store {
	return &Store{
		byID:  make(map[string]*identity.Identity),
		index: make(map[string]string),
	}
}

func clone(ident *identity.Identity) *identity.Identity {
	out := *ident
	out.RefreshDigest = append([]byte(nil), ident.RefreshDigest...)
	out.VerifyTokenHash = append([]byte(nil), ident.VerifyTokenHash...)
	out.ResetTokenHash = append([]byte(nil), ident.ResetTokenHash...)
	out.RestoreTokenHash = append([]byte(nil), ident.RestoreTokenHash...)
	out.TwoFactor.Secret = append([]byte(nil), ident.TwoFactor.Secret...)
	out.TwoFactor.RecoveryCodes = append([]string(nil), ident.TwoFactor.RecoveryCodes...)
	return &out
}

func (s *Store) Create(ctx context.Context, ident *identity.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(ident.Email)
	username := strings.ToLower(ident.Username)
	if _, taken := s.index[email]; taken {
		return identity.ErrDuplicate
	}
	if username != "" {
		if _, taken := s.index[username]; taken {
			return identity.ErrDuplicate
		}
	}

	stored := clone(ident)
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	now := time.Now()
	stored.CreatedAt = now
	stored.UpdatedAt = now

	s.byID[stored.ID] = stored
	s.index[email] = stored.ID
	if username != "" {
		s.index[username] = stored.ID
	}

	*ident = *clone(stored)
	return nil
}

func (s *Store) FindByIdentifier(ctx context.Context, identifier string) (*identity.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.index[strings.ToLower(identifier)]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return clone(s.byID[id]), nil
}

func (s *Store) FindByID(ctx context.Context, id string) (*identity.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, ok := s.byID[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return clone(ident), nil
}

func (s *Store) FindByTokenHash(ctx context.Context, kind identity.TokenKind, hash []byte) (*identity.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident := s.findByTokenLocked(kind, hash)
	if ident == nil {
		return nil, identity.ErrNotFound
	}
	return clone(ident), nil
}

func (s *Store) findByTokenLocked(kind identity.TokenKind, hash []byte) *identity.Identity {
	if len(hash) == 0 {
		return nil
	}
	for _, ident := range s.byID {
		var stored []byte
		switch kind {
		case identity.TokenVerification:
			stored = ident.VerifyTokenHash
		case identity.TokenPasswordReset:
			stored = ident.ResetTokenHash
		case identity.TokenRestore:
			stored = ident.RestoreTokenHash
		}
		if bytes.Equal(stored, hash) {
			return ident
		}
	}
	return nil
}

func (s *Store) RecordLoginFailure(ctx context.Context, id string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, ok := s.byID[id]
	if !ok {
		return 0, identity.ErrNotFound
	}
	ident.LoginRetries++
	ident.LastFailedLogin = at
	ident.UpdatedAt = at
	return ident.LoginRetries, nil
}

func (s *Store) RecordLoginSuccess(ctx context.Context, id string, refreshDigest []byte, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, ok := s.byID[id]
	if !ok {
		return identity.ErrNotFound
	}
	ident.LoginRetries = 0
	ident.LastFailedLogin = time.Time{}
	ident.LastLogin = at
	ident.RefreshDigest = append([]byte(nil), refreshDigest...)
	ident.UpdatedAt = at
	return nil
}

func (s *Store) SwapRefreshDigest(ctx context.Context, id string, want, next []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, ok := s.byID[id]
	if !ok {
		return false, identity.ErrNotFound
	}
	if !bytes.Equal(ident.RefreshDigest, want) {
		return false, nil
	}
	ident.RefreshDigest = append([]byte(nil), next...)
	ident.UpdatedAt = time.Now()
	return true, nil
}

func (s *Store) ClearRefreshDigest(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, ok := s.byID[id]
	if !ok {
		return identity.ErrNotFound
	}
	ident.RefreshDigest = nil
	ident.UpdatedAt = time.Now()
	return nil
}

func (s *Store) SetFlowToken(ctx context.Context, id string, kind identity.TokenKind, hash []byte, expires time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, ok := s.byID[id]
	if !ok {
		return identity.ErrNotFound
	}
	hash = append([]byte(nil), hash...)
	switch kind {
	case identity.TokenVerification:
		ident.VerifyTokenHash = hash
		ident.VerifyTokenExpires = expires
	case identity.TokenPasswordReset:
		ident.ResetTokenHash = hash
		ident.ResetTokenExpires = expires
	case identity.TokenRestore:
		ident.RestoreTokenHash = hash
		ident.RestoreTokenExpires = expires
	}
	ident.UpdatedAt = time.Now()
	return nil
}

func (s *Store) ConsumeVerificationToken(ctx context.Context, hash []byte) (*identity.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident := s.findByTokenLocked(identity.TokenVerification, hash)
	if ident == nil {
		return nil, identity.ErrNotFound
	}
	if time.Now().After(ident.VerifyTokenExpires) {
		return nil, identity.ErrTokenExpired
	}
	ident.Verified = true
	ident.VerifyTokenHash = nil
	ident.VerifyTokenExpires = time.Time{}
	ident.UpdatedAt = time.Now()
	return clone(ident), nil
}

func (s *Store) ConsumePasswordResetToken(ctx context.Context, id string, hash []byte, newPasswordHash string, at time.Time) (*identity.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, ok := s.byID[id]
	if !ok || len(hash) == 0 || !bytes.Equal(ident.ResetTokenHash, hash) {
		return nil, identity.ErrNotFound
	}
	if at.After(ident.ResetTokenExpires) {
		return nil, identity.ErrTokenExpired
	}
	ident.PasswordHash = newPasswordHash
	ident.PasswordChangedAt = at
	ident.ResetTokenHash = nil
	ident.ResetTokenExpires = time.Time{}
	ident.ResetRetries = 0
	ident.LoginRetries = 0
	ident.LastFailedLogin = time.Time{}
	ident.RefreshDigest = nil
	ident.UpdatedAt = at
	return clone(ident), nil
}

func (s *Store) ConsumeRestoreToken(ctx context.Context, hash []byte) (*identity.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident := s.findByTokenLocked(identity.TokenRestore, hash)
	if ident == nil {
		return nil, identity.ErrNotFound
	}
	if time.Now().After(ident.RestoreTokenExpires) {
		return nil, identity.ErrTokenExpired
	}
	ident.Deleted = false
	ident.DeletedAt = time.Time{}
	ident.RestoreTokenHash = nil
	ident.RestoreTokenExpires = time.Time{}
	ident.UpdatedAt = time.Now()
	return clone(ident), nil
}

func (s *Store) IncrementResetRetries(ctx context.Context, id string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, ok := s.byID[id]
	if !ok {
		return 0, identity.ErrNotFound
	}
	ident.ResetRetries++
	ident.LastResetRequest = at
	ident.UpdatedAt = at
	return ident.ResetRetries, nil
}

func (s *Store) SetPassword(ctx context.Context, id string, passwordHash string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, ok := s.byID[id]
	if !ok {
		return identity.ErrNotFound
	}
	ident.PasswordHash = passwordHash
	ident.PasswordChangedAt = at
	ident.RefreshDigest = nil
	ident.UpdatedAt = at
	return nil
}

func (s *Store) UpdateTwoFactor(ctx context.Context, id string, tf identity.TwoFactor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, ok := s.byID[id]
	if !ok {
		return identity.ErrNotFound
	}
	tf.Secret = append([]byte(nil), tf.Secret...)
	tf.RecoveryCodes = append([]string(nil), tf.RecoveryCodes...)
	ident.TwoFactor = tf
	ident.UpdatedAt = time.Now()
	return nil
}

func (s *Store) MarkDeleted(ctx context.Context, id string, restoreHash []byte, expires time.Time, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, ok := s.byID[id]
	if !ok {
		return identity.ErrNotFound
	}
	ident.Deleted = true
	ident.DeletedAt = at
	ident.RestoreTokenHash = append([]byte(nil), restoreHash...)
	ident.RestoreTokenExpires = expires
	ident.RefreshDigest = nil
	ident.UpdatedAt = at
	return nil
}

func (s *Store) SetSuspended(ctx context.Context, id string, suspended bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, ok := s.byID[id]
	if !ok {
		return identity.ErrNotFound
	}
	ident.Suspended = suspended
	if suspended {
		ident.RefreshDigest = nil
	}
	ident.UpdatedAt = time.Now()
	return nil
}

var _ identity.CredentialStore = (*Store)(nil)
