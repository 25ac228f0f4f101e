package auth

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/mozabank/banking_api/internal/identity"
)

// Authenticator verifies user credentials.
type Authenticator interface {
	Authenticate(ctx context.Context, creds identity.Credentials) (identity.User, error)
}

// Service turns valid credentials into a signed session token.
type Service struct {
	users  Authenticator
	tokens *TokenService
	logger *zap.Logger
}

// NewService builds the login service.
func NewService(users Authenticator, tokens *TokenService, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{users: users, tokens: tokens, logger: logger}
}

// Session is the result of a successful login.
type Session struct {
	Token    string
	Username string
	Role     identity.Role
}

// Login authenticates the credentials and issues a token.
func (s *Service) Login(ctx context.Context, creds identity.Credentials) (Session, error) {
	user, err := s.users.Authenticate(ctx, creds)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			s.logger.Info("login failed", zap.String("username", creds.Username))
		}
		return Session{}, err
	}

	token, err := s.tokens.Issue(user.Username, user.Role)
	if err != nil {
		return Session{}, err
	}
	s.logger.Info("login succeeded", zap.String("username", user.Username), zap.Stringer("role", user.Role))
	return Session{Token: token, Username: user.Username, Role: user.Role}, nil
}
