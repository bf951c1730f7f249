package identity

import (
	"context"
	"time"
)

// Role is the coarse authorization level carried in access tokens.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleUser       Role = "user"
	RoleInstructor Role = "instructor"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleUser, RoleInstructor:
		return true
	}
	return false
}

// Provider records how the account authenticates. Accounts created
// through an external provider have no local password.
type Provider string

const (
	ProviderLocal  Provider = "local"
	ProviderGoogle Provider = "google"
)

// TwoFactorMethod is the delivery channel of the second factor.
type TwoFactorMethod string

const (
	TwoFactorApp   TwoFactorMethod = "app"
	TwoFactorEmail TwoFactorMethod = "email"
)

// TwoFactor is the second-factor enrollment embedded in an identity.
// Secret is the raw TOTP seed for the app method and empty for email.
// Verified flips to true on the first successful confirmation; until
// then login does not demand the factor.
type TwoFactor struct {
	Enabled  bool
	Method   TwoFactorMethod
	Secret   []byte
	Verified bool
	// RecoveryCodes are one-way hashes of single-use bypass codes.
	RecoveryCodes []string
}

// Active reports whether login must halt for a second factor.
func (t TwoFactor) Active() bool {
	return t.Enabled && t.Verified
}

// TokenKind distinguishes the three single-use flow tokens stored as
// digests on the credential record.
type TokenKind uint8

const (
	TokenVerification TokenKind = iota + 1
	TokenPasswordReset
	TokenRestore
)

// Identity is the credential record. Only digests of secrets are
// stored: the password as an Argon2id hash, the live refresh token and
// the flow tokens as SHA-256 digests.
type Identity struct {
	ID        string
	Email     string
	Username  string
	FirstName string
	LastName  string
	Role      Role
	Provider  Provider

	PasswordHash      string
	PasswordChangedAt time.Time

	Verified bool
	// MobileVerified and ProfileComplete are profile flags owned by the
	// surrounding platform; this core stores them but never flips them.
	MobileVerified  bool
	ProfileComplete bool

	Suspended bool
	Deleted   bool
	DeletedAt time.Time

	LoginRetries    int
	LastFailedLogin time.Time
	LastLogin       time.Time

	// RefreshDigest is the SHA-256 of the single live refresh token.
	// Empty means no active session.
	RefreshDigest []byte

	VerifyTokenHash    []byte
	VerifyTokenExpires time.Time

	ResetTokenHash    []byte
	ResetTokenExpires time.Time
	ResetRetries      int
	LastResetRequest  time.Time

	RestoreTokenHash    []byte
	RestoreTokenExpires time.Time

	TwoFactor TwoFactor

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TokenPair is the result of a successful issuance or rotation.
type TokenPair struct {
	Access           string
	Refresh          string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// LoginResult is returned by Login. When SecondFactor is true no tokens
// were issued; the caller confirms ChallengeID via ConfirmLogin.
type LoginResult struct {
	Identity     *Identity
	Tokens       *TokenPair
	SecondFactor bool
	ChallengeID  string
	Method       TwoFactorMethod
}

// CredentialStore is the persistence contract for identities. Field
// updates that race with each other (login counters, token digests)
// are single atomic operations rather than read-modify-write on the
// whole record.
type CredentialStore interface {
	Create(ctx context.Context, ident *Identity) error
	// FindByIdentifier resolves an email or username to a record.
	FindByIdentifier(ctx context.Context, identifier string) (*Identity, error)
	FindByID(ctx context.Context, id string) (*Identity, error)
	// FindByTokenHash resolves a flow-token digest of the given kind.
	FindByTokenHash(ctx context.Context, kind TokenKind, hash []byte) (*Identity, error)

	// RecordLoginFailure increments the retry counter and stamps the
	// failure time, returning the new counter value.
	RecordLoginFailure(ctx context.Context, id string, at time.Time) (int, error)
	// RecordLoginSuccess clears the retry counter, stamps the login time,
	// and installs the digest of the freshly issued refresh token.
	RecordLoginSuccess(ctx context.Context, id string, refreshDigest []byte, at time.Time) error

	// SwapRefreshDigest replaces the stored digest only if it still
	// equals want. A false return means another rotation won the race or
	// the session was revoked.
	SwapRefreshDigest(ctx context.Context, id string, want, next []byte) (bool, error)
	ClearRefreshDigest(ctx context.Context, id string) error

	// SetFlowToken installs a single-use token digest of the given kind,
	// replacing any previous one.
	SetFlowToken(ctx context.Context, id string, kind TokenKind, hash []byte, expires time.Time) error
	// ConsumeVerificationToken atomically clears a matching, unexpired
	// verification digest and marks the account verified.
	ConsumeVerificationToken(ctx context.Context, hash []byte) (*Identity, error)
	// ConsumePasswordResetToken atomically clears a matching, unexpired
	// reset digest on the named identity, installs the new password
	// hash, and revokes the live session and counters. The digest must
	// belong to that identity; a hash that matches another record is a
	// miss.
	ConsumePasswordResetToken(ctx context.Context, id string, hash []byte, newPasswordHash string, at time.Time) (*Identity, error)
	// ConsumeRestoreToken atomically clears a matching, unexpired restore
	// digest and lifts the soft deletion.
	ConsumeRestoreToken(ctx context.Context, hash []byte) (*Identity, error)

	// IncrementResetRetries bumps the per-account reset counter and
	// returns the new value. Both reset requests and failed token
	// consumptions charge against it.
	IncrementResetRetries(ctx context.Context, id string, at time.Time) (int, error)

	// SetPassword installs a new password hash, stamps the change time,
	// and revokes the live session.
	SetPassword(ctx context.Context, id string, passwordHash string, at time.Time) error

	UpdateTwoFactor(ctx context.Context, id string, tf TwoFactor) error

	// MarkDeleted soft-deletes the account and installs the restore
	// token digest.
	MarkDeleted(ctx context.Context, id string, restoreHash []byte, expires time.Time, at time.Time) error
	SetSuspended(ctx context.Context, id string, suspended bool) error
}
