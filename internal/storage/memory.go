package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mozabank/banking_api/internal/account"
	"github.com/mozabank/banking_api/internal/ledger"
)

// Memory is a concurrency-safe in-memory store. A single mutex guards
// accounts and entries so a commit is observed all at once or not at all.
type Memory struct {
	mu       sync.RWMutex
	accounts map[string]account.Account
	owners   map[string]string
	entries  []ledger.Entry
	lastAt   time.Time
	now      func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		accounts: make(map[string]account.Account),
		owners:   make(map[string]string),
		now:      time.Now,
	}
}

// Create stores a new account.
func (m *Memory) Create(ctx context.Context, acc account.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.accounts[acc.Number]; exists {
		return account.ErrExists
	}
	if acc.OwnerUsername != "" {
		if _, taken := m.owners[acc.OwnerUsername]; taken {
			return account.ErrExists
		}
		m.owners[acc.OwnerUsername] = acc.Number
	}
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = m.now().UTC()
	}
	m.accounts[acc.Number] = acc
	return nil
}

// Get returns the account with the given number.
func (m *Memory) Get(ctx context.Context, number string) (account.Account, error) {
	if err := ctx.Err(); err != nil {
		return account.Account{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	acc, ok := m.accounts[number]
	if !ok {
		return account.Account{}, account.ErrNotFound
	}
	return acc, nil
}

// GetByOwner returns the account owned by username.
func (m *Memory) GetByOwner(ctx context.Context, username string) (account.Account, error) {
	if err := ctx.Err(); err != nil {
		return account.Account{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	number, ok := m.owners[username]
	if !ok {
		return account.Account{}, account.ErrNotFound
	}
	return m.accounts[number], nil
}

// List returns all accounts ordered by number.
func (m *Memory) List(ctx context.Context) ([]account.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]account.Account, 0, len(m.accounts))
	for _, acc := range m.accounts {
		out = append(out, acc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

// CompareAndSwapBalance replaces the balance only if it still equals expected.
func (m *Memory) CompareAndSwapBalance(ctx context.Context, number string, expected, next decimal.Decimal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkLocked(account.BalanceChange{Number: number, Expected: expected, Next: next}); err != nil {
		return err
	}
	m.applyLocked(account.BalanceChange{Number: number, Expected: expected, Next: next})
	return nil
}

// Append records a ledger entry.
func (m *Memory) Append(ctx context.Context, entry ledger.Entry) (ledger.Entry, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Entry{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(entry), nil
}

// QueryByAccount returns every entry where the account is source or
// destination, in insertion order.
func (m *Memory) QueryByAccount(ctx context.Context, accountNumber string) ([]ledger.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ledger.Entry
	for _, e := range m.entries {
		if e.SourceAccount == accountNumber || e.DestinationAccount == accountNumber {
			out = append(out, e)
		}
	}
	return out, nil
}

// Commit checks every balance change before applying any of them, then
// appends the entry. Nothing is written when a check fails.
func (m *Memory) Commit(ctx context.Context, changes []account.BalanceChange, entry ledger.Entry) (ledger.Entry, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Entry{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range changes {
		if err := m.checkLocked(c); err != nil {
			return ledger.Entry{}, err
		}
	}
	for _, c := range changes {
		m.applyLocked(c)
	}
	return m.appendLocked(entry), nil
}

func (m *Memory) checkLocked(c account.BalanceChange) error {
	acc, ok := m.accounts[c.Number]
	if !ok {
		return account.ErrNotFound
	}
	if !acc.Balance.Equal(c.Expected) {
		return account.ErrConflict
	}
	return nil
}

func (m *Memory) applyLocked(c account.BalanceChange) {
	acc := m.accounts[c.Number]
	acc.Balance = c.Next
	acc.Version++
	m.accounts[c.Number] = acc
}

func (m *Memory) appendLocked(entry ledger.Entry) ledger.Entry {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	at := entry.CreatedAt
	if at.IsZero() {
		at = m.now()
	}
	at = at.UTC().Truncate(timestampResolution)
	if !at.After(m.lastAt) {
		at = m.lastAt.Add(timestampResolution)
	}
	entry.CreatedAt = at
	m.lastAt = at
	m.entries = append(m.entries, entry)
	return entry
}
