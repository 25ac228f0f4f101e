package account

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is a customer account identified by its account number. Balance
// only changes through a transfer commit.
type Account struct {
	Number        string
	HolderName    string
	TaxID         string
	OwnerUsername string
	Balance       decimal.Decimal
	Version       int64
	CreatedAt     time.Time
}

// MinorUnits is the number of decimal places a monetary amount may carry.
const MinorUnits = 2

// FitsMinorUnits reports whether v has at most MinorUnits decimal places.
func FitsMinorUnits(v decimal.Decimal) bool {
	return v.Equal(v.Truncate(MinorUnits))
}

// MaxIntegerDigits is the integer precision of the NUMERIC(20, 2) balance
// and amount columns.
const MaxIntegerDigits = 18

var storageLimit = decimal.New(1, MaxIntegerDigits)

// FitsStorage reports whether v can be stored in a balance or amount column.
func FitsStorage(v decimal.Decimal) bool {
	return v.Abs().LessThan(storageLimit)
}

// BalanceChange is a compare-and-swap instruction for one account balance.
type BalanceChange struct {
	Number   string
	Expected decimal.Decimal
	Next     decimal.Decimal
}
