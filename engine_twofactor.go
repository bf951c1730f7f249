package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base32"
	"encoding/hex"

	"github.com/fundlift/identity/audit"
	"github.com/fundlift/identity/challenge"
	"github.com/fundlift/identity/notify"
	"github.com/fundlift/identity/otp"
	"github.com/google/uuid"
)

// Enrollment is returned by EnrollTwoFactor. For the app method the
// secret and provisioning URI are shown to the user exactly once; for
// the email method ChallengeID names the confirmation challenge.
type Enrollment struct {
	Method       TwoFactorMethod
	SecretBase32 string
	ProvisionURI string
	ChallengeID  string
}

// EnrollTwoFactor starts enrollment. The factor stays unverified, and
// login does not demand it, until ConfirmTwoFactor succeeds once.
func (e *Engine) EnrollTwoFactor(ctx context.Context, identityID string, method TwoFactorMethod) (*Enrollment, error) {
	if e.challenges == nil {
		return nil, ErrTwoFactorNotEnrolled
	}

	ident, err := e.store.FindByID(ctx, identityID)
	if err != nil {
		return nil, err
	}
	if err := e.checkAccountState(ident); err != nil {
		return nil, err
	}
	if !ident.Verified {
		return nil, ErrAccountUnverified
	}
	if ident.TwoFactor.Active() {
		return nil, ErrDuplicate
	}

	switch method {
	case TwoFactorApp:
		raw, encoded, err := e.totp.GenerateSecret()
		if err != nil {
			return nil, err
		}
		tf := TwoFactor{Enabled: true, Method: TwoFactorApp, Secret: raw}
		if err := e.store.UpdateTwoFactor(ctx, ident.ID, tf); err != nil {
			return nil, err
		}
		e.emit(ctx, audit.Event{Action: audit.ActionTwoFactorEnroll, IdentityID: ident.ID, Success: true,
			Metadata: map[string]string{"method": string(TwoFactorApp)}})
		return &Enrollment{
			Method:       TwoFactorApp,
			SecretBase32: encoded,
			ProvisionURI: e.totp.ProvisionURI(encoded, ident.Email),
		}, nil

	case TwoFactorEmail:
		tf := TwoFactor{Enabled: true, Method: TwoFactorEmail}
		if err := e.store.UpdateTwoFactor(ctx, ident.ID, tf); err != nil {
			return nil, err
		}
		challengeID, err := e.sendEnrollCode(ctx, ident, challenge.PurposeEnroll)
		if err != nil {
			return nil, err
		}
		e.emit(ctx, audit.Event{Action: audit.ActionTwoFactorEnroll, IdentityID: ident.ID, Success: true,
			Metadata: map[string]string{"method": string(TwoFactorEmail)}})
		return &Enrollment{Method: TwoFactorEmail, ChallengeID: challengeID}, nil
	}

	return nil, &ValidationError{Fields: map[string]string{"method": "must be one of: app email"}}
}

func (e *Engine) sendEnrollCode(ctx context.Context, ident *Identity, purpose challenge.Purpose) (string, error) {
	code, err := otp.NumericCode(e.config.TwoFactor.Digits)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(code))

	challengeID := uuid.NewString()
	record := &challenge.Record{
		IdentityID: ident.ID,
		Purpose:    purpose,
		Method:     challenge.MethodEmail,
		CodeHash:   sum[:],
		ExpiresAt:  e.now().Add(e.config.TwoFactor.ChallengeTTL).Unix(),
	}
	if err := e.challenges.Save(ctx, challengeID, record, e.config.TwoFactor.ChallengeTTL); err != nil {
		return "", err
	}

	e.send(ctx, notify.Message{
		Kind:  notify.KindTwoFactorCode,
		Email: ident.Email,
		Name:  ident.FirstName,
		Token: code,
	})
	return challengeID, nil
}

// ConfirmTwoFactor completes enrollment with the first valid code. For
// the app method challengeID is empty and the code is checked against
// the TOTP seed; for email it is the enrollment challenge id. On
// success the factor becomes verified and the recovery codes are
// returned in plaintext, once.
func (e *Engine) ConfirmTwoFactor(ctx context.Context, identityID, challengeID, code string) ([]string, error) {
	ident, err := e.store.FindByID(ctx, identityID)
	if err != nil {
		return nil, err
	}
	if err := e.checkAccountState(ident); err != nil {
		return nil, err
	}
	if !ident.TwoFactor.Enabled {
		return nil, ErrTwoFactorNotEnrolled
	}
	if ident.TwoFactor.Verified {
		return nil, ErrDuplicate
	}

	switch ident.TwoFactor.Method {
	case TwoFactorApp:
		ok, err := e.totp.Verify(ident.TwoFactor.Secret, code, e.now())
		if err != nil {
			return nil, err
		}
		if !ok {
			e.emit(ctx, audit.Event{Action: audit.ActionTwoFactorConfirm, IdentityID: ident.ID, Error: "wrong code"})
			return nil, ErrChallengeInvalid
		}

	case TwoFactorEmail:
		record, err := e.challenges.Get(ctx, challengeID)
		if err != nil {
			return nil, mapChallengeError(err)
		}
		if record.Purpose != challenge.PurposeEnroll || record.IdentityID != ident.ID {
			return nil, ErrChallengeInvalid
		}
		sum := sha256.Sum256([]byte(code))
		if subtle.ConstantTimeCompare(sum[:], record.CodeHash) != 1 {
			return nil, e.challengeFailure(ctx, challengeID, ident.ID)
		}
		if _, err := e.challenges.Delete(ctx, challengeID); err != nil {
			return nil, err
		}
	}

	plain, hashed, err := newRecoveryCodes(e.config.TwoFactor.RecoveryCodes)
	if err != nil {
		return nil, err
	}

	tf := ident.TwoFactor
	tf.Verified = true
	tf.RecoveryCodes = hashed
	if err := e.store.UpdateTwoFactor(ctx, ident.ID, tf); err != nil {
		return nil, err
	}

	e.emit(ctx, audit.Event{Action: audit.ActionTwoFactorConfirm, IdentityID: ident.ID, Success: true})
	return plain, nil
}

// BeginTwoFactorDisable dispatches a one-time code that DisableTwoFactor
// accepts, for accounts whose factor is delivered by email. App
// enrollments pass a current authenticator code directly and never need
// a challenge.
func (e *Engine) BeginTwoFactorDisable(ctx context.Context, identityID string) (string, error) {
	if e.challenges == nil {
		return "", ErrTwoFactorNotEnrolled
	}

	ident, err := e.store.FindByID(ctx, identityID)
	if err != nil {
		return "", err
	}
	if err := e.checkAccountState(ident); err != nil {
		return "", err
	}
	if !ident.TwoFactor.Enabled {
		return "", ErrTwoFactorNotEnrolled
	}
	if ident.TwoFactor.Method != TwoFactorEmail {
		return "", &ValidationError{Fields: map[string]string{
			"method": "disable codes are only dispatched for the email method",
		}}
	}

	challengeID, err := e.sendEnrollCode(ctx, ident, challenge.PurposeDisable)
	if err != nil {
		return "", err
	}
	e.emit(ctx, audit.Event{Action: audit.ActionTwoFactorDisable, IdentityID: ident.ID, Success: true,
		Metadata: map[string]string{"stage": "code-dispatched"}})
	return challengeID, nil
}

// DisableTwoFactor removes the enrollment. The caller proves control of
// the factor with a current authenticator code (app method) or a code
// dispatched by BeginTwoFactorDisable (email method, challengeID names
// the pending challenge); a recovery code is accepted on either method.
func (e *Engine) DisableTwoFactor(ctx context.Context, identityID, challengeID, code string) error {
	ident, err := e.store.FindByID(ctx, identityID)
	if err != nil {
		return err
	}
	if err := e.checkAccountState(ident); err != nil {
		return err
	}
	if !ident.TwoFactor.Enabled {
		return ErrTwoFactorNotEnrolled
	}

	ok := false
	switch ident.TwoFactor.Method {
	case TwoFactorApp:
		ok, err = e.totp.Verify(ident.TwoFactor.Secret, code, e.now())
		if err != nil {
			return err
		}
	case TwoFactorEmail:
		if challengeID != "" {
			record, err := e.challenges.Get(ctx, challengeID)
			if err != nil {
				return mapChallengeError(err)
			}
			if record.Purpose != challenge.PurposeDisable || record.IdentityID != ident.ID {
				return ErrChallengeInvalid
			}
			sum := sha256.Sum256([]byte(code))
			if subtle.ConstantTimeCompare(sum[:], record.CodeHash) != 1 {
				return e.challengeFailure(ctx, challengeID, ident.ID)
			}
			if _, err := e.challenges.Delete(ctx, challengeID); err != nil {
				return err
			}
			ok = true
		}
	}
	if !ok && matchRecoveryCode(ident.TwoFactor.RecoveryCodes, code) >= 0 {
		ok = true
	}
	if !ok {
		e.emit(ctx, audit.Event{Action: audit.ActionTwoFactorDisable, IdentityID: ident.ID, Error: "wrong code"})
		return ErrChallengeInvalid
	}

	if err := e.store.UpdateTwoFactor(ctx, ident.ID, TwoFactor{}); err != nil {
		return err
	}
	e.emit(ctx, audit.Event{Action: audit.ActionTwoFactorDisable, IdentityID: ident.ID, Success: true})
	return nil
}

// newRecoveryCodes generates n single-use bypass codes, returning the
// plaintexts and their stored hashes.
func newRecoveryCodes(n int) (plain []string, hashed []string, err error) {
	enc := base32.StdEncoding.WithPadding(base32.NoPadding)
	for i := 0; i < n; i++ {
		raw := make([]byte, 10)
		if _, err := rand.Read(raw); err != nil {
			return nil, nil, err
		}
		code := enc.EncodeToString(raw)
		sum := sha256.Sum256([]byte(code))
		plain = append(plain, code)
		hashed = append(hashed, encodeRecoveryHash(sum[:]))
	}
	return plain, hashed, nil
}

func encodeRecoveryHash(sum []byte) string {
	return hex.EncodeToString(sum)
}
