package storage

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/mozabank/banking_api/internal/account"
	"github.com/mozabank/banking_api/internal/ledger"
)

const uniqueViolation = "23505"

// execer is satisfied by both *pgxpool.Pool and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres stores accounts and ledger entries in PostgreSQL. Balances are
// NUMERIC(20,2) columns exchanged as text so no precision is lost.
type Postgres struct {
	db *pgxpool.Pool
}

// NewPostgres builds a store on an existing pool.
func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

const accountColumns = `account_number, holder_name, tax_id, COALESCE(owner_username, ''), balance::text, version, created_at`

// Create inserts a new account row.
func (p *Postgres) Create(ctx context.Context, acc account.Account) error {
	var owner any
	if acc.OwnerUsername != "" {
		owner = acc.OwnerUsername
	}
	createdAt := acc.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := p.db.Exec(ctx, `INSERT INTO accounts (account_number, holder_name, tax_id, owner_username, balance, version, created_at)
        VALUES ($1, $2, $3, $4, $5::numeric, 0, $6)`,
		acc.Number, acc.HolderName, acc.TaxID, owner, acc.Balance.String(), createdAt.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return account.ErrExists
		}
		return classify(err)
	}
	return nil
}

// Get fetches an account by number.
func (p *Postgres) Get(ctx context.Context, number string) (account.Account, error) {
	row := p.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE account_number = $1`, number)
	return scanAccount(row)
}

// GetByOwner fetches the account owned by username.
func (p *Postgres) GetByOwner(ctx context.Context, username string) (account.Account, error) {
	row := p.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE owner_username = $1`, username)
	return scanAccount(row)
}

// List returns all accounts ordered by number.
func (p *Postgres) List(ctx context.Context) ([]account.Account, error) {
	rows, err := p.db.Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY account_number`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []account.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, acc)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// CompareAndSwapBalance updates the balance only when it still equals expected.
func (p *Postgres) CompareAndSwapBalance(ctx context.Context, number string, expected, next decimal.Decimal) error {
	return swapBalance(ctx, p.db, account.BalanceChange{Number: number, Expected: expected, Next: next})
}

// Append inserts a ledger entry outside of a transfer commit.
func (p *Postgres) Append(ctx context.Context, entry ledger.Entry) (ledger.Entry, error) {
	return insertEntry(ctx, p.db, entry)
}

// QueryByAccount returns the entries touching accountNumber, oldest first.
func (p *Postgres) QueryByAccount(ctx context.Context, accountNumber string) ([]ledger.Entry, error) {
	rows, err := p.db.Query(ctx, `SELECT id, source_account, destination_account, amount::text, description, created_at
        FROM ledger_entries
        WHERE source_account = $1 OR destination_account = $1
        ORDER BY created_at, seq`, accountNumber)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []ledger.Entry
	for rows.Next() {
		var (
			e      ledger.Entry
			id     uuid.UUID
			amount string
		)
		if err := rows.Scan(&id, &e.SourceAccount, &e.DestinationAccount, &amount, &e.Description, &e.CreatedAt); err != nil {
			return nil, classify(err)
		}
		if e.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("decode entry amount: %w", err)
		}
		e.ID = id.String()
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// Commit applies every balance change and the ledger entry in one
// transaction. A change whose expected balance no longer matches rolls the
// whole transaction back with account.ErrConflict.
func (p *Postgres) Commit(ctx context.Context, changes []account.BalanceChange, entry ledger.Entry) (ledger.Entry, error) {
	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return ledger.Entry{}, classify(err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	for _, c := range changes {
		if err := swapBalance(ctx, tx, c); err != nil {
			return ledger.Entry{}, err
		}
	}
	stored, err := insertEntry(ctx, tx, entry)
	if err != nil {
		return ledger.Entry{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return ledger.Entry{}, classify(err)
	}
	return stored, nil
}

// Ping reports whether the database answers.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.Ping(ctx)
}

func swapBalance(ctx context.Context, db execer, c account.BalanceChange) error {
	tag, err := db.Exec(ctx, `UPDATE accounts SET balance = $3::numeric, version = version + 1
        WHERE account_number = $1 AND balance = $2::numeric`,
		c.Number, c.Expected.String(), c.Next.String())
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE account_number = $1)`, c.Number).Scan(&exists); err != nil {
		return classify(err)
	}
	if !exists {
		return account.ErrNotFound
	}
	return account.ErrConflict
}

func insertEntry(ctx context.Context, db execer, entry ledger.Entry) (ledger.Entry, error) {
	id := uuid.New()
	if entry.ID != "" {
		parsed, err := uuid.Parse(entry.ID)
		if err != nil {
			return ledger.Entry{}, fmt.Errorf("ledger entry id: %w", err)
		}
		id = parsed
	}
	at := entry.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}
	at = at.UTC().Truncate(timestampResolution)

	// Keep created_at ahead of the newest visible entry; seq breaks ties
	// between transactions that commit concurrently.
	err := db.QueryRow(ctx, `INSERT INTO ledger_entries (id, source_account, destination_account, amount, description, created_at)
        VALUES ($1, $2, $3, $4::numeric, $5,
            GREATEST($6::timestamptz, COALESCE((SELECT MAX(created_at) FROM ledger_entries) + interval '1 microsecond', $6::timestamptz)))
        RETURNING created_at`,
		id, entry.SourceAccount, entry.DestinationAccount, entry.Amount.String(), entry.Description, at).Scan(&at)
	if err != nil {
		return ledger.Entry{}, classify(err)
	}
	entry.ID = id.String()
	entry.CreatedAt = at.UTC()
	return entry, nil
}

func scanAccount(row pgx.Row) (account.Account, error) {
	var (
		acc     account.Account
		balance string
	)
	if err := row.Scan(&acc.Number, &acc.HolderName, &acc.TaxID, &acc.OwnerUsername, &balance, &acc.Version, &acc.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return account.Account{}, account.ErrNotFound
		}
		return account.Account{}, classify(err)
	}
	var err error
	if acc.Balance, err = decimal.NewFromString(balance); err != nil {
		return account.Account{}, fmt.Errorf("decode balance: %w", err)
	}
	acc.CreatedAt = acc.CreatedAt.UTC()
	return acc, nil
}

// classify tags connectivity failures and timeouts with ErrUnavailable so
// callers can tell them apart from rejected statements.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var connectErr *pgconn.ConnectError
	var netErr net.Error
	switch {
	case pgconn.Timeout(err),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &connectErr),
		errors.As(err, &netErr):
		return errors.Join(ErrUnavailable, err)
	default:
		return err
	}
}
