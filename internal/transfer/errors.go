package transfer

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAmount rejects amounts that are not positive or carry more
	// than two decimal places.
	ErrInvalidAmount = errors.New("amount must be positive with at most 2 decimal places")
	// ErrAccountNotFound matches every AccountNotFoundError.
	ErrAccountNotFound = errors.New("account not found")
	// ErrInsufficientFunds is returned when the source balance is below the amount.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrBalanceLimit is returned when the credit would exceed the largest
	// balance an account can hold.
	ErrBalanceLimit = errors.New("destination balance would exceed the account limit")
	// ErrConflict is returned when concurrent updates kept winning after all retries.
	ErrConflict = errors.New("account was updated concurrently, try again")
	// ErrUnavailable is returned when the stores could not be reached in time.
	ErrUnavailable = errors.New("transfer service temporarily unavailable")
	// ErrOutcomeUnknown is returned when the store failed while committing,
	// so the transfer may or may not have been applied. It must not be
	// retried blindly.
	ErrOutcomeUnknown error = outcomeUnknownError{}
)

type outcomeUnknownError struct{}

func (outcomeUnknownError) Error() string {
	return "transfer outcome unknown, check the statement before retrying"
}

// OutcomeUnknown lets layers that cannot import this package recognise the
// error, e.g. to keep an idempotency key reserved.
func (outcomeUnknownError) OutcomeUnknown() bool { return true }

// Side identifies which leg of a transfer an error refers to.
type Side string

const (
	SideSource      Side = "source"
	SideDestination Side = "destination"
)

// AccountNotFoundError names the missing account and the side it was on.
// Owner is set instead of Number when the lookup was by owning user.
type AccountNotFoundError struct {
	Side   Side
	Number string
	Owner  string
}

func (e *AccountNotFoundError) Error() string {
	if e.Owner != "" {
		return fmt.Sprintf("no account owned by %q", e.Owner)
	}
	return fmt.Sprintf("%s account %q not found", e.Side, e.Number)
}

// Is lets errors.Is(err, ErrAccountNotFound) match either side.
func (e *AccountNotFoundError) Is(target error) bool {
	return target == ErrAccountNotFound
}
