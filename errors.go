package identity

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned when a credential record does not exist.
	// Login paths translate it to ErrInvalidCredentials before it can
	// leak account existence.
	ErrNotFound = errors.New("identity not found")
	// ErrInvalidCredentials covers a wrong password and an unknown
	// identifier alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrDuplicate is returned when the email or username is taken.
	ErrDuplicate = errors.New("identifier already registered")
	// ErrAccountLocked is returned while the lockout cooldown is running.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountSuspended is returned for administratively suspended accounts.
	ErrAccountSuspended = errors.New("account suspended")
	// ErrAccountDeleted is returned for soft-deleted accounts.
	ErrAccountDeleted = errors.New("account deleted")
	// ErrAccountUnverified is returned when a flow requires a verified email.
	ErrAccountUnverified = errors.New("account unverified")

	// ErrTokenInvalid covers bad signatures, malformed tokens, and
	// refresh tokens whose digest no longer matches the stored one.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrTokenExpired is returned for structurally valid but expired tokens.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenReused signals that a previously rotated refresh token was
	// presented again. The session is revoked when this fires.
	ErrTokenReused = errors.New("refresh token reuse detected")

	// ErrChallengeInvalid is returned for a wrong code or unknown challenge.
	ErrChallengeInvalid = errors.New("challenge invalid")
	// ErrChallengeExpired is returned when the challenge outlived its TTL.
	ErrChallengeExpired = errors.New("challenge expired")
	// ErrChallengeAttempts is returned once the challenge attempt budget
	// is exhausted; the challenge is gone afterwards.
	ErrChallengeAttempts = errors.New("challenge attempts exceeded")

	// ErrTwoFactorRequired is returned by login when a second factor must
	// be confirmed before tokens are issued.
	ErrTwoFactorRequired = errors.New("second factor required")
	// ErrTwoFactorNotEnrolled is returned by second-factor operations on
	// accounts without an enrollment.
	ErrTwoFactorNotEnrolled = errors.New("second factor not enrolled")

	// ErrRateLimited is returned when the transient per-identifier or
	// per-address login throttle trips. Unlike ErrAccountLocked it can
	// fire for identifiers that do not exist.
	ErrRateLimited = errors.New("too many attempts")

	// ErrTooManyResetAttempts throttles password reset requests per account.
	ErrTooManyResetAttempts = errors.New("too many password reset attempts")
	// ErrWeakPassword is returned when a new password fails policy.
	ErrWeakPassword = errors.New("password does not meet policy")

	// ErrStoreUnavailable wraps backend failures from the credential or
	// challenge stores.
	ErrStoreUnavailable = errors.New("credential store unavailable")
)

// ValidationError carries per-field messages for a rejected request
// body. The gate returns it for schema violations before any engine
// logic runs.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Sprintf("validation failed: %s", strings.Join(names, ", "))
}

// PublicMessage maps an engine error to the wording shown to callers.
// Account-existence details collapse into the invalid-credentials
// message; storage faults collapse into a generic one.
func PublicMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrNotFound):
		return "invalid email or password"
	case errors.Is(err, ErrRateLimited):
		return "too many attempts, try again later"
	case errors.Is(err, ErrAccountLocked):
		return "account temporarily locked, try again later"
	case errors.Is(err, ErrAccountSuspended):
		return "account suspended, contact support"
	case errors.Is(err, ErrAccountDeleted):
		return "account closed"
	case errors.Is(err, ErrAccountUnverified):
		return "verify your email to continue"
	case errors.Is(err, ErrDuplicate):
		return "an account with this email or username already exists"
	case errors.Is(err, ErrTokenExpired):
		return "session expired, sign in again"
	case errors.Is(err, ErrTokenInvalid), errors.Is(err, ErrTokenReused):
		return "session invalid, sign in again"
	case errors.Is(err, ErrChallengeExpired):
		return "code expired, request a new one"
	case errors.Is(err, ErrChallengeAttempts):
		return "too many incorrect codes, start over"
	case errors.Is(err, ErrChallengeInvalid):
		return "incorrect code"
	case errors.Is(err, ErrTwoFactorRequired):
		return "enter your verification code"
	case errors.Is(err, ErrTwoFactorNotEnrolled):
		return "two-factor authentication is not set up"
	case errors.Is(err, ErrTooManyResetAttempts):
		return "too many reset attempts, try again later"
	case errors.Is(err, ErrWeakPassword):
		return "password does not meet the minimum requirements"
	default:
		var ve *ValidationError
		if errors.As(err, &ve) {
			return "request validation failed"
		}
		return "something went wrong, try again"
	}
}
