package transfer

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mozabank/banking_api/internal/account"
)

// ParseAmount reads a decimal amount such as "40" or "12.50". Amounts must
// fit the stored precision.
func ParseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.ContainsAny(raw, "eE") {
		return decimal.Decimal{}, ErrInvalidAmount
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, ErrInvalidAmount
	}
	if err := validateAmount(amount); err != nil {
		return decimal.Decimal{}, err
	}
	return amount, nil
}

func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() || !account.FitsMinorUnits(amount) || !account.FitsStorage(amount) {
		return ErrInvalidAmount
	}
	return nil
}
