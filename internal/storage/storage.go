// Package storage holds the account, ledger and transfer-commit backends.
// Memory serves development and tests; Postgres is the production store.
// Both apply a transfer's balance changes and its ledger entry as one unit.
package storage

import (
	"errors"
	"time"
)

// ErrUnavailable marks failures caused by the backing store being
// unreachable or too slow, as opposed to a rejected operation.
var ErrUnavailable = errors.New("storage unavailable")

// timestampResolution is the precision both stores persist.
const timestampResolution = time.Microsecond
