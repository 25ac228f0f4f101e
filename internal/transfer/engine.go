// Package transfer moves money between accounts and renders statements.
//
// A transfer takes the per-account locks for both sides, re-reads the
// balances, and commits the two balance changes together with the ledger
// entry as one unit. The commit is a compare-and-swap, so a writer that
// bypassed the locks shows up as a conflict and the attempt is retried.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mozabank/banking_api/internal/account"
	"github.com/mozabank/banking_api/internal/ledger"
	"github.com/mozabank/banking_api/internal/lock"
	"github.com/mozabank/banking_api/internal/notification"
	"github.com/mozabank/banking_api/internal/storage"
)

const (
	defaultStoreTimeout = 3 * time.Second
	defaultMaxRetries   = 3
	defaultRetryBase    = 20 * time.Millisecond
	breakerTripAfter    = 5
	breakerOpenFor      = 5 * time.Second
)

// Committer applies balance changes and appends the ledger entry atomically.
type Committer interface {
	Commit(ctx context.Context, changes []account.BalanceChange, entry ledger.Entry) (ledger.Entry, error)
}

// Request describes a transfer.
type Request struct {
	From        string
	To          string
	Amount      decimal.Decimal
	Description string
}

// Receipt confirms a committed transfer.
type Receipt struct {
	EntryID       string
	From          string
	To            string
	Amount        decimal.Decimal
	Description   string
	Timestamp     time.Time
	SourceBalance decimal.Decimal
}

// Engine executes transfers and statements.
type Engine struct {
	accounts     account.Store
	entries      ledger.Store
	committer    Committer
	locker       lock.Locker
	notifier     notification.Notifier
	logger       *zap.Logger
	breaker      *gobreaker.CircuitBreaker
	tracer       trace.Tracer
	now          func() time.Time
	storeTimeout time.Duration
	maxRetries   int
	retryBase    time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithLocker replaces the default in-process locker.
func WithLocker(l lock.Locker) Option {
	return func(e *Engine) { e.locker = l }
}

// WithNotifier sets the notifier told about received transfers.
func WithNotifier(n notification.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock overrides the time source used for ledger timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithStoreTimeout bounds every individual store call.
func WithStoreTimeout(d time.Duration) Option {
	return func(e *Engine) { e.storeTimeout = d }
}

// WithRetries sets how often conflicts and outages are retried and the
// base delay of the exponential backoff.
func WithRetries(max int, base time.Duration) Option {
	return func(e *Engine) {
		e.maxRetries = max
		e.retryBase = base
	}
}

// WithBreaker replaces the default storage circuit breaker.
func WithBreaker(cb *gobreaker.CircuitBreaker) Option {
	return func(e *Engine) { e.breaker = cb }
}

// NewEngine builds a transfer engine over the given stores.
func NewEngine(accounts account.Store, entries ledger.Store, committer Committer, opts ...Option) *Engine {
	e := &Engine{
		accounts:     accounts,
		entries:      entries,
		committer:    committer,
		locker:       lock.NewLocal(),
		logger:       zap.NewNop(),
		tracer:       otel.Tracer("github.com/mozabank/banking_api/internal/transfer"),
		now:          time.Now,
		storeTimeout: defaultStoreTimeout,
		maxRetries:   defaultMaxRetries,
		retryBase:    defaultRetryBase,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.breaker == nil {
		e.breaker = NewBreaker("storage", e.logger)
	}
	return e
}

// NewBreaker builds the storage circuit breaker. Only outages count as
// failures; business rejections such as a missing account do not.
func NewBreaker(name string, logger *zap.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: breakerOpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerTripAfter
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !isOutage(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}

// Transfer moves req.Amount from req.From to req.To.
func (e *Engine) Transfer(ctx context.Context, req Request) (Receipt, error) {
	ctx, span := e.tracer.Start(ctx, "transfer.execute", trace.WithAttributes(
		attribute.String("transfer.from", req.From),
		attribute.String("transfer.to", req.To),
		attribute.String("transfer.amount", req.Amount.String()),
	))
	defer span.End()

	receipt, err := e.transfer(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transfer rejected")
		e.logger.Info("transfer rejected",
			zap.String("from", req.From),
			zap.String("to", req.To),
			zap.String("amount", req.Amount.String()),
			zap.Error(err),
		)
		return Receipt{}, err
	}

	e.logger.Info("transfer committed",
		zap.String("entry_id", receipt.EntryID),
		zap.String("from", receipt.From),
		zap.String("to", receipt.To),
		zap.String("amount", receipt.Amount.StringFixed(account.MinorUnits)),
	)
	return receipt, nil
}

func (e *Engine) transfer(ctx context.Context, req Request) (Receipt, error) {
	if err := validateAmount(req.Amount); err != nil {
		return Receipt{}, err
	}

	for attempt := 0; ; attempt++ {
		receipt, retry, err := e.attempt(ctx, req)
		if err == nil {
			return receipt, nil
		}
		if !retry || attempt >= e.maxRetries {
			return Receipt{}, err
		}
		e.logger.Debug("retrying transfer", zap.Int("attempt", attempt+1), zap.Error(err))
		if sleepErr := sleepContext(ctx, retryDelay(e.retryBase, attempt)); sleepErr != nil {
			return Receipt{}, sleepErr
		}
	}
}

// attempt runs one locked read-check-commit cycle. retry reports whether
// the failure happened before anything could have been written.
func (e *Engine) attempt(ctx context.Context, req Request) (Receipt, bool, error) {
	unlock, err := e.locker.Lock(ctx, req.From, req.To)
	if err != nil {
		if ctx.Err() != nil {
			return Receipt{}, false, ctx.Err()
		}
		return Receipt{}, true, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer unlock()

	src, err := e.loadAccount(ctx, req.From, SideSource)
	if err != nil {
		return Receipt{}, errors.Is(err, ErrUnavailable), err
	}
	dst, err := e.loadAccount(ctx, req.To, SideDestination)
	if err != nil {
		return Receipt{}, errors.Is(err, ErrUnavailable), err
	}

	if src.Balance.LessThan(req.Amount) {
		return Receipt{}, false, ErrInsufficientFunds
	}
	if src.Number != dst.Number && !account.FitsStorage(dst.Balance.Add(req.Amount)) {
		return Receipt{}, false, ErrBalanceLimit
	}

	var changes []account.BalanceChange
	if src.Number == dst.Number {
		changes = []account.BalanceChange{{Number: src.Number, Expected: src.Balance, Next: src.Balance}}
	} else {
		changes = []account.BalanceChange{
			{Number: src.Number, Expected: src.Balance, Next: src.Balance.Sub(req.Amount)},
			{Number: dst.Number, Expected: dst.Balance, Next: dst.Balance.Add(req.Amount)},
		}
	}

	if err := ctx.Err(); err != nil {
		return Receipt{}, false, err
	}

	entry := ledger.Entry{
		ID:                 uuid.NewString(),
		SourceAccount:      src.Number,
		DestinationAccount: dst.Number,
		Amount:             req.Amount,
		Description:        req.Description,
		CreatedAt:          e.now().UTC().Truncate(time.Microsecond),
	}
	stored, err := e.commit(ctx, changes, entry)
	if err != nil {
		switch {
		case errors.Is(err, account.ErrConflict):
			return Receipt{}, true, ErrConflict
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			// Rejected by the breaker before reaching the store.
			return Receipt{}, true, err
		case errors.Is(err, ErrUnavailable), ctx.Err() != nil:
			// The store may have applied the commit; retrying could apply
			// the transfer twice.
			e.logger.Error("transfer outcome unknown",
				zap.String("entry_id", entry.ID),
				zap.String("from", entry.SourceAccount),
				zap.String("to", entry.DestinationAccount),
				zap.Error(err),
			)
			return Receipt{}, false, fmt.Errorf("%w: %w", ErrOutcomeUnknown, err)
		default:
			return Receipt{}, false, err
		}
	}

	e.notify(ctx, dst, stored)

	return Receipt{
		EntryID:       stored.ID,
		From:          stored.SourceAccount,
		To:            stored.DestinationAccount,
		Amount:        stored.Amount,
		Description:   stored.Description,
		Timestamp:     stored.CreatedAt,
		SourceBalance: changes[0].Next,
	}, false, nil
}

// Statement lists the ledger lines for accountNumber, oldest first.
func (e *Engine) Statement(ctx context.Context, accountNumber string) ([]ledger.StatementLine, error) {
	ctx, span := e.tracer.Start(ctx, "transfer.statement", trace.WithAttributes(
		attribute.String("account.number", accountNumber),
	))
	defer span.End()

	if _, err := e.loadAccount(ctx, accountNumber, SideSource); err != nil {
		span.RecordError(err)
		return nil, err
	}

	var entries []ledger.Entry
	err := e.call(ctx, func(ctx context.Context) error {
		var err error
		entries, err = e.entries.QueryByAccount(ctx, accountNumber)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return ledger.BuildStatement(accountNumber, entries), nil
}

// AccountForOwner resolves the account owned by username.
func (e *Engine) AccountForOwner(ctx context.Context, username string) (account.Account, error) {
	var acc account.Account
	err := e.call(ctx, func(ctx context.Context) error {
		var err error
		acc, err = e.accounts.GetByOwner(ctx, username)
		return err
	})
	if errors.Is(err, account.ErrNotFound) {
		return account.Account{}, &AccountNotFoundError{Side: SideSource, Owner: username}
	}
	return acc, err
}

func (e *Engine) loadAccount(ctx context.Context, number string, side Side) (account.Account, error) {
	var acc account.Account
	err := e.call(ctx, func(ctx context.Context) error {
		var err error
		acc, err = e.accounts.Get(ctx, number)
		return err
	})
	if errors.Is(err, account.ErrNotFound) {
		return account.Account{}, &AccountNotFoundError{Side: side, Number: number}
	}
	return acc, err
}

func (e *Engine) commit(ctx context.Context, changes []account.BalanceChange, entry ledger.Entry) (ledger.Entry, error) {
	var stored ledger.Entry
	err := e.call(ctx, func(ctx context.Context) error {
		var err error
		stored, err = e.committer.Commit(ctx, changes, entry)
		return err
	})
	return stored, err
}

// call runs fn under the store timeout and the circuit breaker.
func (e *Engine) call(ctx context.Context, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()

	_, err := e.breaker.Execute(func() (interface{}, error) {
		return nil, fn(callCtx)
	})
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	case ctx.Err() != nil:
		return ctx.Err()
	case isOutage(err):
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	default:
		return err
	}
}

func (e *Engine) notify(ctx context.Context, dst account.Account, entry ledger.Entry) {
	if e.notifier == nil || dst.OwnerUsername == "" || entry.SourceAccount == entry.DestinationAccount {
		return
	}
	err := e.notifier.Send(context.WithoutCancel(ctx), notification.Message{
		Kind:        notification.KindTransferReceived,
		Destination: dst.OwnerUsername,
		Body: fmt.Sprintf("You received %s from account %s",
			entry.Amount.StringFixed(account.MinorUnits), entry.SourceAccount),
	})
	if err != nil {
		e.logger.Warn("transfer notification failed", zap.String("entry_id", entry.ID), zap.Error(err))
	}
}

func isOutage(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, storage.ErrUnavailable)
}
