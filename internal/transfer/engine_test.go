package transfer

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mozabank/banking_api/internal/account"
	"github.com/mozabank/banking_api/internal/ledger"
	"github.com/mozabank/banking_api/internal/notification"
	"github.com/mozabank/banking_api/internal/storage"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newMemory(t *testing.T, balances map[string]string) *storage.Memory {
	t.Helper()
	mem := storage.NewMemory()
	for number, bal := range balances {
		require.NoError(t, mem.Create(context.Background(), account.Account{
			Number:        number,
			OwnerUsername: "owner-" + number,
			Balance:       dec(bal),
		}))
	}
	return mem
}

func newEngine(t *testing.T, balances map[string]string, opts ...Option) (*Engine, *storage.Memory) {
	t.Helper()
	mem := newMemory(t, balances)
	opts = append([]Option{WithRetries(3, 0)}, opts...)
	return NewEngine(mem, mem, mem, opts...), mem
}

func balanceOf(t *testing.T, mem *storage.Memory, number string) decimal.Decimal {
	t.Helper()
	acc, err := mem.Get(context.Background(), number)
	require.NoError(t, err)
	return acc.Balance
}

func entriesOf(t *testing.T, mem *storage.Memory, number string) []ledger.Entry {
	t.Helper()
	entries, err := mem.QueryByAccount(context.Background(), number)
	require.NoError(t, err)
	return entries
}

func TestTransferRentScenario(t *testing.T) {
	engine, mem := newEngine(t, map[string]string{"A": "100", "B": "0"})
	ctx := context.Background()

	receipt, err := engine.Transfer(ctx, Request{From: "A", To: "B", Amount: dec("40"), Description: "rent"})
	require.NoError(t, err)
	assert.NotEmpty(t, receipt.EntryID)
	assert.True(t, receipt.SourceBalance.Equal(dec("60")))

	assert.True(t, balanceOf(t, mem, "A").Equal(dec("60")))
	assert.True(t, balanceOf(t, mem, "B").Equal(dec("40")))

	linesA, err := engine.Statement(ctx, "A")
	require.NoError(t, err)
	require.Len(t, linesA, 1)
	assert.Equal(t, ledger.DirectionOutgoing, linesA[0].Direction)
	assert.Equal(t, "B", linesA[0].Counterparty)
	assert.True(t, linesA[0].Amount.Equal(dec("40")))

	linesB, err := engine.Statement(ctx, "B")
	require.NoError(t, err)
	require.Len(t, linesB, 1)
	assert.Equal(t, ledger.DirectionIncoming, linesB[0].Direction)
	assert.Equal(t, "A", linesB[0].Counterparty)
	assert.Equal(t, linesA[0].EntryID, linesB[0].EntryID)
}

func TestTransferInsufficientFundsLeavesStateUntouched(t *testing.T) {
	engine, mem := newEngine(t, map[string]string{"A": "10", "B": "5"})

	_, err := engine.Transfer(context.Background(), Request{From: "A", To: "B", Amount: dec("40")})
	require.ErrorIs(t, err, ErrInsufficientFunds)

	assert.True(t, balanceOf(t, mem, "A").Equal(dec("10")))
	assert.True(t, balanceOf(t, mem, "B").Equal(dec("5")))
	assert.Empty(t, entriesOf(t, mem, "A"))
}

func TestTransferRejectsCreditBeyondStorageLimit(t *testing.T) {
	engine, mem := newEngine(t, map[string]string{"A": "100", "B": "999999999999999999.50"})

	_, err := engine.Transfer(context.Background(), Request{From: "A", To: "B", Amount: dec("1")})
	require.ErrorIs(t, err, ErrBalanceLimit)
	assert.True(t, balanceOf(t, mem, "A").Equal(dec("100")))
	assert.Empty(t, entriesOf(t, mem, "A"))

	_, err = engine.Transfer(context.Background(), Request{From: "A", To: "B", Amount: dec("0.49")})
	require.NoError(t, err)
}

func TestTransferExactBalanceSucceeds(t *testing.T) {
	engine, mem := newEngine(t, map[string]string{"A": "40.50", "B": "0"})

	_, err := engine.Transfer(context.Background(), Request{From: "A", To: "B", Amount: dec("40.5")})
	require.NoError(t, err)
	assert.True(t, balanceOf(t, mem, "A").IsZero())
}

func TestTransferAccountNotFound(t *testing.T) {
	engine, mem := newEngine(t, map[string]string{"A": "100"})
	ctx := context.Background()

	cases := []struct {
		name     string
		from, to string
		side     Side
		number   string
	}{
		{"missing source", "X", "A", SideSource, "X"},
		{"missing destination", "A", "Y", SideDestination, "Y"},
		{"both missing reports source", "X", "Y", SideSource, "X"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := engine.Transfer(ctx, Request{From: tc.from, To: tc.to, Amount: dec("1")})
			require.ErrorIs(t, err, ErrAccountNotFound)

			var nf *AccountNotFoundError
			require.True(t, errors.As(err, &nf))
			assert.Equal(t, tc.side, nf.Side)
			assert.Equal(t, tc.number, nf.Number)
		})
	}
	assert.True(t, balanceOf(t, mem, "A").Equal(dec("100")))
}

func TestTransferInvalidAmountCheckedFirst(t *testing.T) {
	engine, _ := newEngine(t, map[string]string{"A": "100"})

	for _, amount := range []string{"0", "-5", "1.001"} {
		_, err := engine.Transfer(context.Background(), Request{From: "missing", To: "A", Amount: dec(amount)})
		assert.ErrorIs(t, err, ErrInvalidAmount, amount)
	}
}

func TestSelfTransfer(t *testing.T) {
	engine, mem := newEngine(t, map[string]string{"A": "100"})
	ctx := context.Background()

	_, err := engine.Transfer(ctx, Request{From: "A", To: "A", Amount: dec("30")})
	require.NoError(t, err)
	assert.True(t, balanceOf(t, mem, "A").Equal(dec("100")))
	assert.Len(t, entriesOf(t, mem, "A"), 1)

	lines, err := engine.Statement(ctx, "A")
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, ledger.DirectionOutgoing, lines[0].Direction)
	assert.Equal(t, ledger.DirectionIncoming, lines[1].Direction)

	_, err = engine.Transfer(ctx, Request{From: "A", To: "A", Amount: dec("150")})
	require.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestConcurrentTransfersNeverOverdraw(t *testing.T) {
	engine, mem := newEngine(t, map[string]string{"A": "50", "B": "0"})

	var (
		wg        sync.WaitGroup
		succeeded int32
		rejected  int32
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Transfer(context.Background(), Request{From: "A", To: "B", Amount: dec("1")})
			switch {
			case err == nil:
				atomic.AddInt32(&succeeded, 1)
			case errors.Is(err, ErrInsufficientFunds):
				atomic.AddInt32(&rejected, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(50), succeeded)
	assert.Equal(t, int32(50), rejected)
	assert.True(t, balanceOf(t, mem, "A").IsZero())
	assert.True(t, balanceOf(t, mem, "B").Equal(dec("50")))
	assert.Len(t, entriesOf(t, mem, "B"), 50)
}

func TestConcurrentTransfersConserveMoney(t *testing.T) {
	numbers := []string{"A", "B", "C", "D"}
	engine, mem := newEngine(t, map[string]string{"A": "100", "B": "100", "C": "100", "D": "100"})

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from := numbers[rand.Intn(len(numbers))]
			to := numbers[rand.Intn(len(numbers))]
			amount := decimal.New(int64(1+rand.Intn(5000)), -2)
			_, err := engine.Transfer(context.Background(), Request{From: from, To: to, Amount: amount, Description: fmt.Sprint(i)})
			if err != nil && !errors.Is(err, ErrInsufficientFunds) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	total := decimal.Zero
	for _, n := range numbers {
		bal := balanceOf(t, mem, n)
		assert.False(t, bal.IsNegative(), "account %s went negative", n)
		total = total.Add(bal)

		// Replaying the ledger reproduces every balance.
		replayed := dec("100")
		for _, e := range entriesOf(t, mem, n) {
			if e.SourceAccount == n {
				replayed = replayed.Sub(e.Amount)
			}
			if e.DestinationAccount == n {
				replayed = replayed.Add(e.Amount)
			}
		}
		assert.True(t, replayed.Equal(bal), "ledger replay for %s: %s != %s", n, replayed, bal)
	}
	assert.True(t, total.Equal(dec("400")), "total %s", total)
}

type flakyCommitter struct {
	*storage.Memory
	conflicts int32
	calls     int32
}

func (f *flakyCommitter) Commit(ctx context.Context, changes []account.BalanceChange, entry ledger.Entry) (ledger.Entry, error) {
	if atomic.AddInt32(&f.calls, 1) <= f.conflicts {
		return ledger.Entry{}, account.ErrConflict
	}
	return f.Memory.Commit(ctx, changes, entry)
}

func TestTransferRetriesConflicts(t *testing.T) {
	mem := newMemory(t, map[string]string{"A": "100", "B": "0"})
	committer := &flakyCommitter{Memory: mem, conflicts: 2}
	engine := NewEngine(mem, mem, committer, WithRetries(3, time.Millisecond))

	_, err := engine.Transfer(context.Background(), Request{From: "A", To: "B", Amount: dec("10")})
	require.NoError(t, err)
	assert.Equal(t, int32(3), committer.calls)
	assert.True(t, balanceOf(t, mem, "B").Equal(dec("10")))
}

func TestTransferSurfacesConflictAfterRetries(t *testing.T) {
	mem := newMemory(t, map[string]string{"A": "100", "B": "0"})
	committer := &flakyCommitter{Memory: mem, conflicts: 100}
	engine := NewEngine(mem, mem, committer, WithRetries(2, 0))

	_, err := engine.Transfer(context.Background(), Request{From: "A", To: "B", Amount: dec("10")})
	require.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, int32(3), committer.calls)
	assert.True(t, balanceOf(t, mem, "A").Equal(dec("100")))
}

// lostAckCommitter applies the commit and then reports an outage, as when
// the connection drops before the acknowledgement arrives.
type lostAckCommitter struct {
	*storage.Memory
	calls int32
}

func (l *lostAckCommitter) Commit(ctx context.Context, changes []account.BalanceChange, entry ledger.Entry) (ledger.Entry, error) {
	atomic.AddInt32(&l.calls, 1)
	if _, err := l.Memory.Commit(ctx, changes, entry); err != nil {
		return ledger.Entry{}, err
	}
	return ledger.Entry{}, storage.ErrUnavailable
}

func TestCommitOutageIsNotRetried(t *testing.T) {
	mem := newMemory(t, map[string]string{"A": "100", "B": "0"})
	committer := &lostAckCommitter{Memory: mem}
	engine := NewEngine(mem, mem, committer, WithRetries(3, 0))

	_, err := engine.Transfer(context.Background(), Request{From: "A", To: "B", Amount: dec("40")})
	require.ErrorIs(t, err, ErrOutcomeUnknown)
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(1), committer.calls)
	assert.True(t, balanceOf(t, mem, "A").Equal(dec("60")))
	assert.Len(t, entriesOf(t, mem, "A"), 1)

	var marker interface{ OutcomeUnknown() bool }
	require.True(t, errors.As(err, &marker))
	assert.True(t, marker.OutcomeUnknown())
}

// stalledStore never answers Get before the context ends.
type stalledStore struct {
	*storage.Memory
	calls int32
}

func (s *stalledStore) Get(ctx context.Context, _ string) (account.Account, error) {
	atomic.AddInt32(&s.calls, 1)
	<-ctx.Done()
	return account.Account{}, ctx.Err()
}

func TestTransferUnavailableOnTimeout(t *testing.T) {
	mem := newMemory(t, map[string]string{"A": "100", "B": "0"})
	stalled := &stalledStore{Memory: mem}
	engine := NewEngine(stalled, mem, mem, WithStoreTimeout(5*time.Millisecond), WithRetries(1, 0))

	_, err := engine.Transfer(context.Background(), Request{From: "A", To: "B", Amount: dec("10")})
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(2), stalled.calls, "outage before commit is retried")
	assert.Empty(t, entriesOf(t, mem, "A"))
}

func TestBreakerOpensAfterRepeatedOutages(t *testing.T) {
	mem := newMemory(t, map[string]string{"A": "100", "B": "0"})
	stalled := &stalledStore{Memory: mem}
	engine := NewEngine(stalled, mem, mem, WithStoreTimeout(time.Millisecond), WithRetries(0, 0))

	for i := 0; i < breakerTripAfter; i++ {
		_, err := engine.Transfer(context.Background(), Request{From: "A", To: "B", Amount: dec("1")})
		require.ErrorIs(t, err, ErrUnavailable)
	}
	calls := atomic.LoadInt32(&stalled.calls)

	_, err := engine.Transfer(context.Background(), Request{From: "A", To: "B", Amount: dec("1")})
	require.ErrorIs(t, err, ErrUnavailable)
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, calls, atomic.LoadInt32(&stalled.calls), "open breaker must not reach the store")
}

func TestBusinessErrorsDoNotTripBreaker(t *testing.T) {
	engine, _ := newEngine(t, map[string]string{"A": "1", "B": "0"})

	for i := 0; i < breakerTripAfter*2; i++ {
		_, err := engine.Transfer(context.Background(), Request{From: "missing", To: "B", Amount: dec("1")})
		require.ErrorIs(t, err, ErrAccountNotFound)
	}
	_, err := engine.Transfer(context.Background(), Request{From: "A", To: "B", Amount: dec("1")})
	require.NoError(t, err)
}

func TestTransferHonoursCancelledContext(t *testing.T) {
	engine, mem := newEngine(t, map[string]string{"A": "100", "B": "0"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.Transfer(ctx, Request{From: "A", To: "B", Amount: dec("10")})
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, balanceOf(t, mem, "A").Equal(dec("100")))
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []notification.Message
}

func (r *recordingNotifier) Send(_ context.Context, m notification.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, m)
	return nil
}

func TestTransferNotifiesDestinationOwner(t *testing.T) {
	notifier := &recordingNotifier{}
	engine, _ := newEngine(t, map[string]string{"A": "100", "B": "0"}, WithNotifier(notifier))

	_, err := engine.Transfer(context.Background(), Request{From: "A", To: "B", Amount: dec("12.5")})
	require.NoError(t, err)
	_, err = engine.Transfer(context.Background(), Request{From: "A", To: "A", Amount: dec("1")})
	require.NoError(t, err)

	require.Len(t, notifier.messages, 1)
	assert.Equal(t, "owner-B", notifier.messages[0].Destination)
	assert.Equal(t, notification.KindTransferReceived, notifier.messages[0].Kind)
	assert.Contains(t, notifier.messages[0].Body, "12.50")
}

func TestStatementUnknownAccount(t *testing.T) {
	engine, _ := newEngine(t, map[string]string{"A": "1"})

	_, err := engine.Statement(context.Background(), "nope")
	var nf *AccountNotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, SideSource, nf.Side)
}

func TestStatementOrdersByTimestamp(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	engine, _ := newEngine(t, map[string]string{"A": "100", "B": "100"}, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	_, err := engine.Transfer(ctx, Request{From: "A", To: "B", Amount: dec("1")})
	require.NoError(t, err)
	_, err = engine.Transfer(ctx, Request{From: "B", To: "A", Amount: dec("2")})
	require.NoError(t, err)
	_, err = engine.Transfer(ctx, Request{From: "A", To: "B", Amount: dec("3")})
	require.NoError(t, err)

	lines, err := engine.Statement(ctx, "A")
	require.NoError(t, err)
	require.Len(t, lines, 3)
	for i := 1; i < len(lines); i++ {
		assert.True(t, lines[i].Timestamp.After(lines[i-1].Timestamp))
	}
	assert.Equal(t, []string{"1", "2", "3"}, []string{lines[0].Amount.String(), lines[1].Amount.String(), lines[2].Amount.String()})
	assert.Equal(t, ledger.DirectionIncoming, lines[1].Direction)
}

func TestAccountForOwner(t *testing.T) {
	engine, _ := newEngine(t, map[string]string{"A": "1"})

	acc, err := engine.AccountForOwner(context.Background(), "owner-A")
	require.NoError(t, err)
	assert.Equal(t, "A", acc.Number)

	_, err = engine.AccountForOwner(context.Background(), "admin1")
	require.ErrorIs(t, err, ErrAccountNotFound)
}
