package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	minPasswordLength = 6
	decoyPassword     = "decoy-password-for-unknown-users"
)

var (
	// ErrInvalidCredentials hides whether the username or the password was wrong.
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrInvalidInput wraps registration validation failures.
	ErrInvalidInput = errors.New("invalid user input")
)

// Service manages identity lifecycle.
type Service struct {
	repo   Repository
	hasher Hasher

	decoyOnce sync.Once
	decoyHash []byte
}

// NewService creates a new identity service. A nil hasher selects bcrypt.
func NewService(repo Repository, hasher Hasher) *Service {
	if hasher == nil {
		hasher = BcryptHasher{}
	}
	return &Service{repo: repo, hasher: hasher}
}

// RegisterInput captures the data needed to create a user.
type RegisterInput struct {
	Username string
	Password string
	Role     Role
}

// Register creates a user and stores a hashed password.
func (s *Service) Register(ctx context.Context, input RegisterInput) (User, error) {
	username := strings.TrimSpace(input.Username)
	if username == "" {
		return User{}, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	if len(input.Password) < minPasswordLength {
		return User{}, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	if input.Role == RoleUnknown {
		return User{}, fmt.Errorf("%w: role is required", ErrInvalidInput)
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return User{}, err
	}

	user := User{
		ID:           uuid.New().String(),
		Username:     username,
		PasswordHash: hash,
		Role:         input.Role,
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.repo.Create(ctx, user); err != nil {
		return User{}, err
	}

	return user, nil
}

// Authenticate verifies credentials and returns the stored user.
func (s *Service) Authenticate(ctx context.Context, creds Credentials) (User, error) {
	user, err := s.repo.FindByUsername(ctx, strings.TrimSpace(creds.Username))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			// Pay the same hashing cost as a real user so response time
			// does not reveal which usernames exist.
			_ = s.hasher.Compare(s.decoy(), creds.Password)
			return User{}, ErrInvalidCredentials
		}
		return User{}, err
	}

	if err := s.hasher.Compare(user.PasswordHash, creds.Password); err != nil {
		return User{}, ErrInvalidCredentials
	}

	return user, nil
}

// decoy returns a hash produced by the configured hasher, built once.
func (s *Service) decoy() []byte {
	s.decoyOnce.Do(func() {
		s.decoyHash, _ = s.hasher.Hash(decoyPassword)
	})
	return s.decoyHash
}

// FindByUsername exposes the identity store lookup.
func (s *Service) FindByUsername(ctx context.Context, username string) (User, error) {
	return s.repo.FindByUsername(ctx, username)
}
