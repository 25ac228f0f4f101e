package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mozabank/banking_api/internal/identity"
)

var (
	// ErrInvalidInput wraps account creation validation failures.
	ErrInvalidInput = errors.New("invalid account input")
	// ErrOwnerNotFound is returned when the owning user does not exist.
	ErrOwnerNotFound = errors.New("owner user does not exist")
)

// OwnerDirectory resolves the users that may own accounts.
type OwnerDirectory interface {
	FindByUsername(ctx context.Context, username string) (identity.User, error)
}

// Service exposes the administrative account operations. Balances are never
// changed here; the transfer engine owns that path.
type Service struct {
	store  Store
	owners OwnerDirectory
}

// NewService builds an account service instance.
func NewService(store Store, owners OwnerDirectory) *Service {
	return &Service{store: store, owners: owners}
}

// CreateInput captures data required to open an account.
type CreateInput struct {
	Number         string
	HolderName     string
	TaxID          string
	OwnerUsername  string
	OpeningBalance decimal.Decimal
}

// Create opens an account for an existing user.
func (s *Service) Create(ctx context.Context, input CreateInput) (Account, error) {
	number := strings.TrimSpace(input.Number)
	if number == "" {
		return Account{}, fmt.Errorf("%w: account number is required", ErrInvalidInput)
	}
	if input.OpeningBalance.IsNegative() {
		return Account{}, fmt.Errorf("%w: opening balance must not be negative", ErrInvalidInput)
	}
	if !FitsMinorUnits(input.OpeningBalance) {
		return Account{}, fmt.Errorf("%w: opening balance has more than %d decimal places", ErrInvalidInput, MinorUnits)
	}
	if !FitsStorage(input.OpeningBalance) {
		return Account{}, fmt.Errorf("%w: opening balance has more than %d integer digits", ErrInvalidInput, MaxIntegerDigits)
	}
	owner := strings.TrimSpace(input.OwnerUsername)
	if owner == "" {
		return Account{}, fmt.Errorf("%w: owner username is required", ErrInvalidInput)
	}

	if _, err := s.owners.FindByUsername(ctx, owner); err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return Account{}, ErrOwnerNotFound
		}
		return Account{}, err
	}

	acc := Account{
		Number:        number,
		HolderName:    strings.TrimSpace(input.HolderName),
		TaxID:         strings.TrimSpace(input.TaxID),
		OwnerUsername: owner,
		Balance:       input.OpeningBalance,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.store.Create(ctx, acc); err != nil {
		return Account{}, err
	}
	return acc, nil
}

// Get retrieves an account by number.
func (s *Service) Get(ctx context.Context, number string) (Account, error) {
	return s.store.Get(ctx, number)
}

// GetByOwner retrieves the account owned by username.
func (s *Service) GetByOwner(ctx context.Context, username string) (Account, error) {
	return s.store.GetByOwner(ctx, username)
}

// List returns every account.
func (s *Service) List(ctx context.Context) ([]Account, error) {
	return s.store.List(ctx)
}
