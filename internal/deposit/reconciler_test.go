package deposit_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/tourneyd/internal/adapters/cooldown"
	"github.com/alejandrodnm/tourneyd/internal/adapters/storage"
	"github.com/alejandrodnm/tourneyd/internal/deposit"
	"github.com/alejandrodnm/tourneyd/internal/domain"
)

// --- Mocks ---

// scriptedBalances devuelve los saldos de token en el orden dado.
type scriptedBalances struct {
	mu     sync.Mutex
	native decimal.Decimal
	tokens []decimal.Decimal
	calls  int
	err    error
	block  bool
}

func (s *scriptedBalances) NativeBalance(ctx context.Context, _, _ string) (decimal.Decimal, error) {
	if s.block {
		<-ctx.Done()
		return decimal.Zero, ctx.Err()
	}
	if s.err != nil {
		return decimal.Zero, s.err
	}
	return s.native, nil
}

func (s *scriptedBalances) TokenBalance(context.Context, string, string, string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.tokens[s.calls]
	s.calls++
	return v, nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	deposits []domain.DepositReceipt
}

func (r *recordingPublisher) PublishClosed(context.Context, domain.ClosedTournament) error {
	return nil
}

func (r *recordingPublisher) PublishDeposit(_ context.Context, d domain.DepositReceipt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deposits = append(r.deposits, d)
	return nil
}

// --- Helpers ---

var walletKey = domain.WalletKey{
	GameID:       "game-1",
	Network:      "ETH",
	TokenAddress: common.HexToAddress("0x00000000000000000000000000000000000000b2").Hex(),
}

type fixture struct {
	db       *storage.SQLiteStorage
	balances *scriptedBalances
	events   *recordingPublisher
	now      time.Time
	rec      *deposit.Reconciler
}

func newFixture(t *testing.T, tokens ...string) *fixture {
	t.Helper()
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.CreateWallet(context.Background(), domain.PrizePoolWallet{
		WalletKey: walletKey,
		Address:   "0x00000000000000000000000000000000000000a1",
	}))

	f := &fixture{
		db:       db,
		balances: &scriptedBalances{native: decimal.RequireFromString("0.25")},
		events:   &recordingPublisher{},
		now:      time.Unix(1_700_000_000, 0),
	}
	for _, v := range tokens {
		f.balances.tokens = append(f.balances.tokens, decimal.RequireFromString(v))
	}
	clock := func() time.Time { return f.now }
	cd := cooldown.NewMemory().WithClock(clock)
	f.rec = deposit.NewReconciler(deposit.Config{RPCTimeout: 50 * time.Millisecond}, db, f.balances, cd, db, f.events).
		WithClock(clock)
	return f
}

func (f *fixture) confirm(user string) (domain.DepositReceipt, error) {
	return f.rec.Confirm(context.Background(), deposit.Request{UserID: user, Key: walletKey})
}

// --- Tests ---

func TestReconciler_LedgerMonotonic(t *testing.T) {
	f := newFixture(t, "0", "10", "7", "15")

	wantDelta := []string{"0", "10", "0", "8"}
	wantCredited := []string{"0", "10", "10", "18"}
	for i := range wantDelta {
		r, err := f.confirm("alice")
		require.NoError(t, err, "poll %d", i)
		assert.True(t, r.Delta.Equal(decimal.RequireFromString(wantDelta[i])), "poll %d delta %s", i, r.Delta)
		assert.True(t, r.Credited.Equal(decimal.RequireFromString(wantCredited[i])), "poll %d credited %s", i, r.Credited)
		assert.True(t, r.Funded)
		f.now = f.now.Add(6 * time.Second)
	}

	w, err := f.db.LoadWallet(context.Background(), walletKey)
	require.NoError(t, err)
	assert.True(t, w.TokenBalance.Equal(decimal.NewFromInt(15)), "raw balance is the last observed")
	assert.True(t, w.CreditedFor(walletKey.TokenAddress).Equal(decimal.NewFromInt(18)))

	entries, err := f.db.ListLedger(context.Background(), "")
	require.NoError(t, err)
	checks := 0
	for _, e := range entries {
		if e.Kind == domain.LedgerWalletCheck {
			checks++
		}
	}
	assert.Equal(t, 4, checks)

	// solo las lecturas con delta positivo publican evento
	assert.Len(t, f.events.deposits, 2)
}

func TestReconciler_ReceiptHidesRawBalance(t *testing.T) {
	f := newFixture(t, "10", "3")

	_, err := f.confirm("alice")
	require.NoError(t, err)
	f.now = f.now.Add(6 * time.Second)

	r, err := f.confirm("alice")
	require.NoError(t, err)
	assert.True(t, r.Credited.Equal(decimal.NewFromInt(10)), "a decrease never reduces the credit")
	assert.True(t, r.Delta.IsZero())
}

func TestReconciler_Cooldown(t *testing.T) {
	f := newFixture(t, "1", "2", "3")

	_, err := f.confirm("alice")
	require.NoError(t, err)

	f.now = f.now.Add(2 * time.Second)
	_, err = f.confirm("alice")
	var rl *domain.RateLimitedError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 3*time.Second, rl.RetryAfter)
	assert.Equal(t, domain.ReasonRateLimited, domain.CloseReason(err))

	// la ventana es de la cartera: otro usuario tampoco puede reconciliarla
	_, err = f.confirm("bob")
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 3*time.Second, rl.RetryAfter)
	assert.Equal(t, 1, f.balances.calls, "no balance read inside the window")

	f.now = f.now.Add(3 * time.Second)
	_, err = f.confirm("bob")
	assert.NoError(t, err)
	assert.Equal(t, 2, f.balances.calls)
}

func TestReconciler_CooldownIgnoresTokenCase(t *testing.T) {
	f := newFixture(t, "1", "2")

	_, err := f.confirm("alice")
	require.NoError(t, err)

	upper := walletKey
	upper.TokenAddress = "0x00000000000000000000000000000000000000B2"
	upper.Network = " eth "
	_, err = f.rec.Confirm(context.Background(), deposit.Request{UserID: "bob", Key: upper})
	assert.ErrorIs(t, err, domain.ErrRateLimited)

	f.now = f.now.Add(5 * time.Second)
	r, err := f.rec.Confirm(context.Background(), deposit.Request{UserID: "bob", Key: upper})
	require.NoError(t, err, "same wallet whatever the hex case")
	assert.Equal(t, walletKey.TokenAddress, r.TokenAddress)
	assert.Equal(t, "2", r.Credited.String())
}

func TestReconciler_TimeoutIsTransient(t *testing.T) {
	f := newFixture(t)
	f.balances.block = true

	_, err := f.confirm("alice")
	assert.ErrorIs(t, err, domain.ErrTransientIO)

	w, err := f.db.LoadWallet(context.Background(), walletKey)
	require.NoError(t, err)
	assert.True(t, w.TokenBalance.IsZero(), "nothing written on failure")
}

func TestReconciler_ReaderErrors(t *testing.T) {
	f := newFixture(t)
	f.balances.err = errors.New("connection refused")
	_, err := f.confirm("alice")
	assert.ErrorIs(t, err, domain.ErrTransientIO)

	f.now = f.now.Add(time.Minute)
	f.balances.err = domain.Invalid("unknown network")
	_, err = f.confirm("alice")
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.NotErrorIs(t, err, domain.ErrTransientIO)
}

func TestReconciler_UnknownWallet(t *testing.T) {
	f := newFixture(t)
	_, err := f.rec.Confirm(context.Background(), deposit.Request{
		UserID: "alice",
		Key:    domain.WalletKey{GameID: "other", Network: "eth", TokenAddress: walletKey.TokenAddress},
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// una cartera mal escrita no consume la ventana: el reintento vuelve a ser NotFound
	_, err = f.rec.Confirm(context.Background(), deposit.Request{
		UserID: "alice",
		Key:    domain.WalletKey{GameID: "other", Network: "eth", TokenAddress: walletKey.TokenAddress},
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NotErrorIs(t, err, domain.ErrRateLimited)
}

func TestReconciler_InvalidKey(t *testing.T) {
	f := newFixture(t)
	_, err := f.rec.Confirm(context.Background(), deposit.Request{UserID: "alice", Key: domain.WalletKey{GameID: "game-1"}})
	assert.ErrorIs(t, err, domain.ErrValidation)

	bad := walletKey
	bad.TokenAddress = "usdt"
	_, err = f.rec.Confirm(context.Background(), deposit.Request{UserID: "alice", Key: bad})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestReconciler_NotFunded(t *testing.T) {
	f := newFixture(t, "0")
	f.balances.native = decimal.Zero

	r, err := f.confirm("alice")
	require.NoError(t, err)
	assert.False(t, r.Funded)
}
