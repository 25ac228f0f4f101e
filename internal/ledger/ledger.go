package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Direction tells whether a statement line left or entered the account.
type Direction string

const (
	// DirectionOutgoing marks an entry where the account was the source.
	DirectionOutgoing Direction = "OUTGOING"
	// DirectionIncoming marks an entry where the account was the destination.
	DirectionIncoming Direction = "INCOMING"
)

// Entry is the immutable record of one completed transfer.
type Entry struct {
	ID                 string
	SourceAccount      string
	DestinationAccount string
	Amount             decimal.Decimal
	Description        string
	CreatedAt          time.Time
}

// StatementLine is one row of an account statement.
type StatementLine struct {
	EntryID      string
	Amount       decimal.Decimal
	Timestamp    time.Time
	Direction    Direction
	Counterparty string
	Description  string
}

// Store is the append-only ledger. Append assigns the entry id when empty and
// keeps CreatedAt strictly increasing.
type Store interface {
	Append(ctx context.Context, entry Entry) (Entry, error)
	QueryByAccount(ctx context.Context, accountNumber string) ([]Entry, error)
}

// BuildStatement turns the entries an account participated in into statement
// lines, oldest first. A self-transfer produces one line in each direction.
func BuildStatement(accountNumber string, entries []Entry) []StatementLine {
	lines := make([]StatementLine, 0, len(entries))
	for _, e := range entries {
		if e.SourceAccount == accountNumber {
			lines = append(lines, StatementLine{
				EntryID:      e.ID,
				Amount:       e.Amount,
				Timestamp:    e.CreatedAt,
				Direction:    DirectionOutgoing,
				Counterparty: e.DestinationAccount,
				Description:  e.Description,
			})
		}
		if e.DestinationAccount == accountNumber {
			lines = append(lines, StatementLine{
				EntryID:      e.ID,
				Amount:       e.Amount,
				Timestamp:    e.CreatedAt,
				Direction:    DirectionIncoming,
				Counterparty: e.SourceAccount,
				Description:  e.Description,
			})
		}
	}

	sort.SliceStable(lines, func(i, j int) bool {
		a, b := lines[i], lines[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.EntryID != b.EntryID {
			return a.EntryID < b.EntryID
		}
		return a.Direction == DirectionOutgoing && b.Direction == DirectionIncoming
	})
	return lines
}
