package gate

// Request payloads accepted by the identity endpoints. Password and
// token fields opt out of sanitization: they are never rendered, and
// entity-escaping them would silently change the credential.

type SignupRequest struct {
	Email           string `json:"email" validate:"required,email,max=254"`
	Username        string `json:"username" validate:"omitempty,alphanum,min=3,max=32"`
	FirstName       string `json:"firstName" validate:"required,max=64"`
	LastName        string `json:"lastName" validate:"required,max=64"`
	Password        string `json:"password" validate:"required,min=8,max=128" sanitize:"-"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,eqfield=Password" sanitize:"-"`
}

type LoginRequest struct {
	Identifier string `json:"identifier" validate:"required,max=254"`
	Password   string `json:"password" validate:"required,max=128" sanitize:"-"`
}

type ConfirmLoginRequest struct {
	ChallengeID string `json:"challengeId" validate:"required,max=128" sanitize:"-"`
	Code        string `json:"code" validate:"required,min=6,max=10,numeric" sanitize:"-"`
}

type RecoveryLoginRequest struct {
	ChallengeID  string `json:"challengeId" validate:"required,max=128" sanitize:"-"`
	RecoveryCode string `json:"recoveryCode" validate:"required,min=8,max=64" sanitize:"-"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required" sanitize:"-"`
}

type LogoutRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required" sanitize:"-"`
}

type VerifyEmailRequest struct {
	Token string `json:"token" validate:"required,max=128" sanitize:"-"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

type ResetPasswordRequest struct {
	Email           string `json:"email" validate:"required,email,max=254"`
	Token           string `json:"token" validate:"required,max=128" sanitize:"-"`
	Password        string `json:"password" validate:"required,min=8,max=128" sanitize:"-"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,eqfield=Password" sanitize:"-"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required,max=128" sanitize:"-"`
	NewPassword     string `json:"newPassword" validate:"required,min=8,max=128" sanitize:"-"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,eqfield=NewPassword" sanitize:"-"`
}

type EnrollTwoFactorRequest struct {
	Method string `json:"method" validate:"required,oneof=app email"`
}

type ConfirmTwoFactorRequest struct {
	// ChallengeID is set for email enrollments and empty for app ones.
	ChallengeID string `json:"challengeId" validate:"omitempty,max=128" sanitize:"-"`
	Code        string `json:"code" validate:"required,min=6,max=10,numeric" sanitize:"-"`
}

// DisableTwoFactorRequest accepts either a current one-time code or a
// recovery code, so the constraint is looser than the confirm shapes.
// ChallengeID names the pending disable challenge when the code was
// dispatched by email.
type DisableTwoFactorRequest struct {
	ChallengeID string `json:"challengeId" validate:"omitempty,max=128" sanitize:"-"`
	Code        string `json:"code" validate:"required,min=6,max=64" sanitize:"-"`
}

type DeleteAccountRequest struct {
	Password string `json:"password" validate:"required,max=128" sanitize:"-"`
}

type RestoreAccountRequest struct {
	Token string `json:"token" validate:"required,max=128" sanitize:"-"`
}
