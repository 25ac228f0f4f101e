package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/mozabank/banking_api/internal/identity"
)

// TokenLifetime is how long an issued token stays valid.
const TokenLifetime = 24 * time.Hour

// MinSecretLength is the minimum HS256 key size accepted.
const MinSecretLength = 32

var (
	// ErrInvalidSignature covers forged, tampered, malformed and wrong-algorithm tokens.
	ErrInvalidSignature = errors.New("invalid token signature")
	// ErrExpired is returned once the token lifetime has passed.
	ErrExpired = errors.New("token expired")
	// ErrUnauthenticated is returned when no usable identity is present.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrForbidden is returned when the identity lacks the permission.
	ErrForbidden = errors.New("operation not permitted for this role")
	// ErrWeakSecret rejects signing keys shorter than MinSecretLength.
	ErrWeakSecret = fmt.Errorf("signing key must be at least %d bytes", MinSecretLength)
)

// Identity is the verified content of a token.
type Identity struct {
	Username  string
	Role      identity.Role
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Claims is the JWT payload. The role travels as its wire name.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TokenService issues and validates HS256 tokens. It never looks at live
// user state, so a token stays valid until it expires.
type TokenService struct {
	secret []byte
	now    func() time.Time
}

// TokenOption configures a TokenService.
type TokenOption func(*TokenService)

// WithClock overrides the clock used for iat, exp and validation.
func WithClock(now func() time.Time) TokenOption {
	return func(s *TokenService) { s.now = now }
}

// NewTokenService builds a token service around the signing key.
func NewTokenService(secret []byte, opts ...TokenOption) (*TokenService, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	s := &TokenService{
		secret: append([]byte(nil), secret...),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue signs a token for username carrying role.
func (s *TokenService) Issue(username string, role identity.Role) (string, error) {
	if username == "" || role == identity.RoleUnknown {
		return "", ErrUnauthenticated
	}
	now := s.now()
	claims := Claims{
		Role: role.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenLifetime)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Validate checks the signature, then expiry, then the identity claims.
func (s *TokenService) Validate(raw string) (Identity, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims,
		func(*jwt.Token) (interface{}, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed),
			errors.Is(err, jwt.ErrTokenSignatureInvalid),
			errors.Is(err, jwt.ErrTokenUnverifiable):
			return Identity{}, ErrInvalidSignature
		case errors.Is(err, jwt.ErrTokenExpired):
			return Identity{}, ErrExpired
		default:
			return Identity{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
		}
	}

	if claims.Subject == "" {
		return Identity{}, ErrUnauthenticated
	}
	role, err := identity.ParseRole(claims.Role)
	if err != nil {
		return Identity{}, ErrUnauthenticated
	}

	id := Identity{
		Username: claims.Subject,
		Role:     role,
		TokenID:  claims.ID,
	}
	if claims.IssuedAt != nil {
		id.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, nil
}

// Authorize returns ErrForbidden unless the identity's role grants p.
func Authorize(id Identity, p identity.Permission) error {
	if !id.Role.Can(p) {
		return ErrForbidden
	}
	return nil
}
