package account

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when no account matches the lookup key.
	ErrNotFound = errors.New("account not found")

	// ErrConflict signals that the stored balance no longer matches the
	// expected value of a compare-and-swap.
	ErrConflict = errors.New("account balance changed concurrently")

	// ErrExists is returned when the account number or owner is already taken.
	ErrExists = errors.New("account already exists")
)

// Store persists accounts. Implementations live in internal/storage.
type Store interface {
	Create(ctx context.Context, acc Account) error
	Get(ctx context.Context, number string) (Account, error)
	GetByOwner(ctx context.Context, username string) (Account, error)
	List(ctx context.Context) ([]Account, error)
	CompareAndSwapBalance(ctx context.Context, number string, expected, next decimal.Decimal) error
}
