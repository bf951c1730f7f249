// Package jwt issues and parses the two bearer-token classes of the
// identity core. Access and refresh tokens are signed with separate
// HMAC keys so a leaked key compromises only one class.
package jwt

import (
	"errors"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrExpired is returned when a token's signature is valid but its
	// expiry has passed.
	ErrExpired = errors.New("token expired")
	// ErrInvalid covers every other parse or verification failure.
	ErrInvalid = errors.New("token invalid")
)

// Config holds the signing material and lifetimes for both token classes.
type Config struct {
	AccessKey  []byte
	RefreshKey []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Issuer     string
	// Leeway tolerates small clock drift between signer and verifier.
	Leeway time.Duration
}

// AccessClaims is the payload of a short-lived access token. Verification
// is stateless: signature plus expiry, no store lookup.
type AccessClaims struct {
	IdentityID string `json:"uid"`
	Role       string `json:"role"`
	jwtlib.RegisteredClaims
}

// RefreshClaims is the payload of a long-lived refresh token. The token
// string's digest is additionally checked against the credential record,
// which is the revocation point.
type RefreshClaims struct {
	IdentityID string `json:"uid"`
	jwtlib.RegisteredClaims
}

// Manager signs and parses tokens for a fixed configuration.
type Manager struct {
	config Config
}

func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.AccessKey) < 32 || len(cfg.RefreshKey) < 32 {
		return nil, errors.New("signing keys must be at least 32 bytes")
	}
	if string(cfg.AccessKey) == string(cfg.RefreshKey) {
		return nil, errors.New("access and refresh keys must differ")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token lifetimes must be > 0")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway")
	}
	return &Manager{config: cfg}, nil
}

// SignAccess issues an access token carrying the identity id and role.
func (m *Manager) SignAccess(identityID, role string) (string, error) {
	now := time.Now()
	claims := AccessClaims{
		IdentityID: identityID,
		Role:       role,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   identityID,
			Issuer:    m.config.Issuer,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(m.config.AccessTTL)),
		},
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(m.config.AccessKey)
}

// SignRefresh issues a refresh token with a unique token id so that every
// rotation produces a distinct digest.
func (m *Manager) SignRefresh(identityID string) (string, error) {
	now := time.Now()
	claims := RefreshClaims{
		IdentityID: identityID,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   identityID,
			Issuer:    m.config.Issuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(m.config.RefreshTTL)),
		},
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(m.config.RefreshKey)
}

// ParseAccess verifies signature and expiry of an access token.
func (m *Manager) ParseAccess(tokenStr string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := m.parse(tokenStr, claims, m.config.AccessKey); err != nil {
		return nil, err
	}
	return claims, nil
}

// ParseRefresh verifies signature and expiry of a refresh token. The
// caller still has to match the token digest against the stored one.
func (m *Manager) ParseRefresh(tokenStr string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := m.parse(tokenStr, claims, m.config.RefreshKey); err != nil {
		return nil, err
	}
	return claims, nil
}

func (m *Manager) parse(tokenStr string, claims jwtlib.Claims, key []byte) error {
	options := []jwtlib.ParserOption{
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
		jwtlib.WithExpirationRequired(),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwtlib.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwtlib.WithIssuer(m.config.Issuer))
	}

	parser := jwtlib.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, claims, func(*jwtlib.Token) (interface{}, error) {
		return key, nil
	})
	if err != nil {
		if errors.Is(err, jwtlib.ErrTokenExpired) {
			return ErrExpired
		}
		return ErrInvalid
	}
	if !token.Valid {
		return ErrInvalid
	}
	return nil
}
