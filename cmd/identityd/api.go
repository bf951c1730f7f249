package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/fundlift/identity"
	"github.com/fundlift/identity/gate"
	"github.com/fundlift/identity/logging"
)

type api struct {
	engine *identity.Engine
	gate   *gate.Gate
	logger logging.Logger
}

func newAPI(engine *identity.Engine, g *gate.Gate, logger logging.Logger) *api {
	return &api{engine: engine, gate: g, logger: logger}
}

func (a *api) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/auth/signup", a.signup)
	mux.HandleFunc("POST /api/v1/auth/signin", a.signin)
	mux.HandleFunc("POST /api/v1/auth/signin/confirm", a.confirmSignin)
	mux.HandleFunc("POST /api/v1/auth/signin/recovery", a.recoverySignin)
	mux.HandleFunc("POST /api/v1/auth/refresh", a.refresh)
	mux.HandleFunc("POST /api/v1/auth/signout", a.signout)
	mux.HandleFunc("POST /api/v1/auth/verify-email", a.verifyEmail)
	mux.HandleFunc("POST /api/v1/auth/verify-email/resend", a.resendVerification)
	mux.HandleFunc("POST /api/v1/auth/forgot-password", a.forgotPassword)
	mux.HandleFunc("POST /api/v1/auth/reset-password", a.resetPassword)
	mux.HandleFunc("POST /api/v1/auth/change-password", a.changePassword)
	mux.HandleFunc("POST /api/v1/auth/2fa/enroll", a.enrollTwoFactor)
	mux.HandleFunc("POST /api/v1/auth/2fa/confirm", a.confirmTwoFactor)
	mux.HandleFunc("POST /api/v1/auth/2fa/disable/code", a.beginDisableTwoFactor)
	mux.HandleFunc("POST /api/v1/auth/2fa/disable", a.disableTwoFactor)
	mux.HandleFunc("POST /api/v1/account/delete", a.deleteAccount)
	mux.HandleFunc("POST /api/v1/account/restore", a.restoreAccount)
}

func (a *api) signup(w http.ResponseWriter, r *http.Request) {
	var req gate.SignupRequest
	if err := a.gate.Decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	ident, err := a.engine.Signup(r.Context(), identity.SignupParams{
		Email:     req.Email,
		Username:  req.Username,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Password:  req.Password,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.respond(w, http.StatusCreated, map[string]any{"id": ident.ID, "email": ident.Email})
}

func (a *api) signin(w http.ResponseWriter, r *http.Request) {
	// Sign-in is exempt from schema validation; missing or oversized
	// credentials simply fail the credential check.
	var req gate.LoginRequest
	if err := a.gate.DecodeLenient(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	result, err := a.engine.Login(r.Context(), req.Identifier, req.Password, clientIP(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if result.SecondFactor {
		a.respond(w, http.StatusAccepted, map[string]any{
			"challengeId": result.ChallengeID,
			"method":      string(result.Method),
		})
		return
	}
	a.respondTokens(w, result.Tokens)
}

func (a *api) confirmSignin(w http.ResponseWriter, r *http.Request) {
	var req gate.ConfirmLoginRequest
	if err := a.gate.Decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	result, err := a.engine.ConfirmLogin(r.Context(), req.ChallengeID, req.Code)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.respondTokens(w, result.Tokens)
}

func (a *api) recoverySignin(w http.ResponseWriter, r *http.Request) {
	var req gate.RecoveryLoginRequest
	if err := a.gate.Decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	result, err := a.engine.RecoveryLogin(r.Context(), req.ChallengeID, req.RecoveryCode)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.respondTokens(w, result.Tokens)
}

func (a *api) refresh(w http.ResponseWriter, r *http.Request) {
	var req gate.RefreshRequest
	if err := a.gate.Decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	pair, err := a.engine.Rotate(r.Context(), req.RefreshToken)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.respondTokens(w, pair)
}

func (a *api) signout(w http.ResponseWriter, r *http.Request) {
	var req gate.LogoutRequest
	if err := a.gate.Decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.engine.Logout(r.Context(), req.RefreshToken); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) verifyEmail(w http.ResponseWriter, r *http.Request) {
	var req gate.VerifyEmailRequest
	if err := a.gate.Decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if _, err := a.engine.VerifyEmail(r.Context(), req.Token); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) resendVerification(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email" validate:"required,email"`
	}
	if err := a.gate.Decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.engine.ResendVerification(r.Context(), req.Email); err != nil {
		a.fail(w, r, err)
		return
	}
	// Accepted regardless of whether the account exists.
	w.WriteHeader(http.StatusAccepted)
}

func (a *api) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req gate.ForgotPasswordRequest
	if err := a.gate.Decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.engine.ForgotPassword(r.Context(), req.Email); err != nil {
		a.fail(w, r, err)
		return
	}
	// Accepted regardless of whether the account exists.
	w.WriteHeader(http.StatusAccepted)
}

func (a *api) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req gate.ResetPasswordRequest
	if err := a.gate.Decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if _, err := a.engine.ResetPassword(r.Context(), req.Email, req.Token, req.Password); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) changePassword(w http.ResponseWriter, r *http.Request) {
	ident, ok := a.authenticate(w, r)
	if !ok {
		return
	}
	var req gate.ChangePasswordRequest
	if err := a.gate.Decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.engine.ChangePassword(r.Context(), ident.ID, req.CurrentPassword, req.NewPassword); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) enrollTwoFactor(w http.ResponseWriter, r *http.Request) {
	ident, ok := a.authenticate(w, r)
	if !ok {
		return
	}
	var req gate.EnrollTwoFactorRequest
	if err := a.gate.Decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	enrollment, err := a.engine.EnrollTwoFactor(r.Context(), ident.ID, identity.TwoFactorMethod(req.Method))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.respond(w, http.StatusOK, map[string]any{
		"method":       string(enrollment.Method),
		"secret":       enrollment.SecretBase32,
		"provisionUri": enrollment.ProvisionURI,
		"challengeId":  enrollment.ChallengeID,
	})
}

func (a *api) confirmTwoFactor(w http.ResponseWriter, r *http.Request) {
	ident, ok := a.authenticate(w, r)
	if !ok {
		return
	}
	var req gate.ConfirmTwoFactorRequest
	if err := a.gate.Decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	codes, err := a.engine.ConfirmTwoFactor(r.Context(), ident.ID, req.ChallengeID, req.Code)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.respond(w, http.StatusOK, map[string]any{"recoveryCodes": codes})
}

func (a *api) beginDisableTwoFactor(w http.ResponseWriter, r *http.Request) {
	ident, ok := a.authenticate(w, r)
	if !ok {
		return
	}
	challengeID, err := a.engine.BeginTwoFactorDisable(r.Context(), ident.ID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.respond(w, http.StatusAccepted, map[string]any{"challengeId": challengeID})
}

func (a *api) disableTwoFactor(w http.ResponseWriter, r *http.Request) {
	ident, ok := a.authenticate(w, r)
	if !ok {
		return
	}
	var req gate.DisableTwoFactorRequest
	if err := a.gate.Decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.engine.DisableTwoFactor(r.Context(), ident.ID, req.ChallengeID, req.Code); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) deleteAccount(w http.ResponseWriter, r *http.Request) {
	ident, ok := a.authenticate(w, r)
	if !ok {
		return
	}
	var req gate.DeleteAccountRequest
	if err := a.gate.Decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.engine.DeleteAccount(r.Context(), ident.ID, req.Password); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) restoreAccount(w http.ResponseWriter, r *http.Request) {
	var req gate.RestoreAccountRequest
	if err := a.gate.Decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if _, err := a.engine.RestoreAccount(r.Context(), req.Token); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) authenticate(w http.ResponseWriter, r *http.Request) (*identity.Identity, bool) {
	token := bearerToken(r)
	if token == "" {
		a.respondError(w, http.StatusUnauthorized, "missing bearer token", nil)
		return nil, false
	}
	ident, err := a.engine.Introspect(r.Context(), token)
	if err != nil {
		a.fail(w, r, err)
		return nil, false
	}
	return ident, true
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return header[len(prefix):]
	}
	return ""
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host := r.RemoteAddr
	if i := strings.LastIndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	return host
}

func (a *api) respondTokens(w http.ResponseWriter, pair *identity.TokenPair) {
	a.respond(w, http.StatusOK, map[string]any{
		"accessToken":      pair.Access,
		"refreshToken":     pair.Refresh,
		"accessExpiresAt":  pair.AccessExpiresAt,
		"refreshExpiresAt": pair.RefreshExpiresAt,
	})
}

func (a *api) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.logger.Warn(context.Background(), "response encode failed", "error", err.Error())
	}
}

func (a *api) fail(w http.ResponseWriter, r *http.Request, err error) {
	var ve *identity.ValidationError
	if errors.As(err, &ve) {
		a.respondError(w, http.StatusUnprocessableEntity, "validation failed", ve.Fields)
		return
	}
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		a.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err.Error())
	}
	a.respondError(w, status, identity.PublicMessage(err), nil)
}

func (a *api) respondError(w http.ResponseWriter, status int, message string, fields map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]any{"message": message}
	if len(fields) > 0 {
		body["fieldErrors"] = fields
	}
	_ = json.NewEncoder(w).Encode(body)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials),
		errors.Is(err, identity.ErrTokenInvalid),
		errors.Is(err, identity.ErrTokenExpired),
		errors.Is(err, identity.ErrTokenReused):
		return http.StatusUnauthorized
	case errors.Is(err, identity.ErrAccountLocked),
		errors.Is(err, identity.ErrAccountSuspended),
		errors.Is(err, identity.ErrAccountDeleted),
		errors.Is(err, identity.ErrAccountUnverified):
		return http.StatusForbidden
	case errors.Is(err, identity.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, identity.ErrRateLimited),
		errors.Is(err, identity.ErrTooManyResetAttempts),
		errors.Is(err, identity.ErrChallengeAttempts):
		return http.StatusTooManyRequests
	case errors.Is(err, identity.ErrChallengeInvalid),
		errors.Is(err, identity.ErrChallengeExpired),
		errors.Is(err, identity.ErrTwoFactorRequired),
		errors.Is(err, identity.ErrTwoFactorNotEnrolled),
		errors.Is(err, identity.ErrWeakPassword):
		return http.StatusBadRequest
	case errors.Is(err, identity.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
