package bet

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/bet-settlement-engine/internal/actor"
	"github.com/radieske/bet-settlement-engine/internal/domain"
	"github.com/radieske/bet-settlement-engine/internal/eventlog"
	"github.com/radieske/bet-settlement-engine/internal/wallet"
)

type stubOdds struct {
	price    decimal.Decimal
	priceErr error
	lockErr  error

	mu       sync.Mutex
	locks    map[string]string
	unlocked []string
}

func (o *stubOdds) GetCurrentPrice(ctx context.Context, sportEventID, marketID, selectionID string) (decimal.Decimal, error) {
	if o.priceErr != nil {
		return decimal.Zero, o.priceErr
	}
	return o.price, nil
}

func (o *stubOdds) LockForBet(ctx context.Context, betID, selectionID string) error {
	if o.lockErr != nil {
		return o.lockErr
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.locks[betID] = selectionID
	return nil
}

func (o *stubOdds) Unlock(ctx context.Context, betID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.locks, betID)
	o.unlocked = append(o.unlocked, betID)
	return nil
}

type stubIndex struct {
	err error

	mu       sync.Mutex
	byMarket map[string][]string
}

func (i *stubIndex) Register(ctx context.Context, userID, marketID, betID string) error {
	if i.err != nil {
		return i.err
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	i.byMarket[marketID] = append(i.byMarket[marketID], betID)
	return nil
}

type betEnv struct {
	sys     *actor.System
	wallets *wallet.Service
	odds    *stubOdds
	idx     *stubIndex
	svc     *Service
}

func newBetEnv(t *testing.T) *betEnv {
	t.Helper()
	sys := actor.NewSystem(zap.NewNop(), 16, 0)
	t.Cleanup(sys.Close)

	e := &betEnv{
		sys:     sys,
		wallets: wallet.NewService(zap.NewNop(), sys, wallet.NewMemoryStore()),
		odds:    &stubOdds{price: decimal.RequireFromString("2.0"), locks: make(map[string]string)},
		idx:     &stubIndex{byMarket: make(map[string][]string)},
	}
	e.svc = NewService(zap.NewNop(), sys, eventlog.NewMemoryStore(), e.wallets, e.odds, e.idx, nil, 500)
	return e
}

func placeReq(betID string) PlaceRequest {
	return PlaceRequest{
		BetID:        betID,
		UserID:       "u1",
		SportEventID: "ev1",
		MarketID:     "m1",
		SelectionID:  "home",
		StakeCents:   10000,
		Currency:     "BRL",
		MinOdds:      decimal.RequireFromString("1.8"),
	}
}

func seed(t *testing.T, e *betEnv, cents int64) {
	t.Helper()
	_, err := e.wallets.Deposit(context.Background(), "u1", cents, "seed")
	require.NoError(t, err)
}

func TestPlaceBet_Accepted(t *testing.T) {
	ctx := context.Background()
	e := newBetEnv(t)
	seed(t, e, 50000)

	st, err := e.svc.PlaceBet(ctx, placeReq("b1"))
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, st.Status)
	assert.True(t, st.Odds.Equal(decimal.RequireFromString("2.0")))

	available, err := e.wallets.GetAvailableBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(40000), available)

	assert.Equal(t, "home", e.odds.locks["b1"])
	assert.Equal(t, []string{"b1"}, e.idx.byMarket["m1"])
}

func TestPlaceBet_InsufficientFundsMutatesNothing(t *testing.T) {
	ctx := context.Background()
	e := newBetEnv(t)
	seed(t, e, 5000)

	_, err := e.svc.PlaceBet(ctx, placeReq("b1"))
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	available, err := e.wallets.GetAvailableBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(5000), available)

	_, err = e.svc.GetDetails(ctx, "b1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, e.odds.locks)
}

func TestPlaceBet_StaleOddsRejectsWithoutWalletChange(t *testing.T) {
	ctx := context.Background()
	e := newBetEnv(t)
	seed(t, e, 50000)
	e.odds.price = decimal.RequireFromString("1.5")

	_, err := e.svc.PlaceBet(ctx, placeReq("b1"))
	require.ErrorIs(t, err, domain.ErrStaleOdds)

	available, err := e.wallets.GetAvailableBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(50000), available)

	// recusa registrada no log para auditoria
	st, err := e.svc.GetDetails(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, st.Status)
	assert.NotEmpty(t, st.RejectionReason)
}

func TestPlaceBet_LockFailureReleasesReservation(t *testing.T) {
	ctx := context.Background()
	e := newBetEnv(t)
	seed(t, e, 50000)
	e.odds.lockErr = errors.New("lock unavailable")

	_, err := e.svc.PlaceBet(ctx, placeReq("b1"))
	require.ErrorIs(t, err, domain.ErrExternalCall)

	// a reserva volta exatamente ao valor pré-tentativa
	available, err := e.wallets.GetAvailableBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(50000), available)

	history, err := e.wallets.GetTransactionHistory(ctx, "u1")
	require.NoError(t, err)
	var ops []string
	for _, entry := range history {
		ops = append(ops, entry.Operation)
	}
	assert.Equal(t, []string{wallet.OpDeposit, wallet.OpReserve, wallet.OpRelease}, ops)
}

func TestPlaceBet_IndexFailureReleasesAndUnlocks(t *testing.T) {
	ctx := context.Background()
	e := newBetEnv(t)
	seed(t, e, 50000)
	e.idx.err = errors.New("index down")

	_, err := e.svc.PlaceBet(ctx, placeReq("b1"))
	require.ErrorIs(t, err, domain.ErrExternalCall)

	available, err := e.wallets.GetAvailableBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(50000), available)
	assert.Contains(t, e.odds.unlocked, "b1")
	assert.Empty(t, e.odds.locks)
}

func TestPlaceBet_DuplicateIsConflict(t *testing.T) {
	ctx := context.Background()
	e := newBetEnv(t)
	seed(t, e, 50000)

	_, err := e.svc.PlaceBet(ctx, placeReq("b1"))
	require.NoError(t, err)

	_, err = e.svc.PlaceBet(ctx, placeReq("b1"))
	require.ErrorIs(t, err, domain.ErrConflict)

	// débito aplicado uma única vez
	available, err := e.wallets.GetAvailableBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(40000), available)
}

func TestPlaceBet_Validation(t *testing.T) {
	ctx := context.Background()
	e := newBetEnv(t)

	req := placeReq("b1")
	req.StakeCents = 0
	_, err := e.svc.PlaceBet(ctx, req)
	require.ErrorIs(t, err, domain.ErrValidation)

	req = placeReq("b2")
	req.UserID = ""
	_, err = e.svc.PlaceBet(ctx, req)
	require.ErrorIs(t, err, domain.ErrValidation)
}

// commitFailWallet injeta falha no Commit mantendo o resto da carteira real
type commitFailWallet struct {
	*wallet.Service
}

func (w *commitFailWallet) Commit(ctx context.Context, userID, token string) error {
	return errors.New("commit timeout")
}

// failingStore injeta falha no N-ésimo Append
type failingStore struct {
	*eventlog.MemoryStore

	mu      sync.Mutex
	appends int
	failOn  int // 1-based; zero desliga a injeção
}

func (s *failingStore) Append(ctx context.Context, streamID string, expectedVersion int64, records []eventlog.Record) error {
	s.mu.Lock()
	s.appends++
	fail := s.failOn > 0 && s.appends == s.failOn
	s.mu.Unlock()
	if fail {
		return errors.New("store unavailable")
	}
	return s.MemoryStore.Append(ctx, streamID, expectedVersion, records)
}

func TestPlaceBet_CommitFailureVoidsAndReleases(t *testing.T) {
	ctx := context.Background()
	e := newBetEnv(t)
	seed(t, e, 50000)
	e.svc.wallet = &commitFailWallet{Service: e.wallets}

	_, err := e.svc.PlaceBet(ctx, placeReq("b1"))
	require.ErrorIs(t, err, domain.ErrExternalCall)

	// o Voided ficou registrado e a reserva foi devolvida
	st, err := e.svc.GetDetails(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, StatusVoid, st.Status)

	available, err := e.wallets.GetAvailableBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(50000), available)

	ok, err := e.svc.CanBeSettled(ctx, "b1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPlaceBet_CommitAndVoidFailureKeepsReservation(t *testing.T) {
	ctx := context.Background()
	e := newBetEnv(t)
	seed(t, e, 50000)

	// primeiro Append (Placed+Accepted) passa, o Voided de rollback falha
	store := &failingStore{MemoryStore: eventlog.NewMemoryStore(), failOn: 2}
	e.svc.store = store
	e.svc.wallet = &commitFailWallet{Service: e.wallets}

	_, err := e.svc.PlaceBet(ctx, placeReq("b1"))
	require.ErrorIs(t, err, domain.ErrExternalCall)

	// o log ficou ACCEPTED; a reserva precisa continuar retida, senão uma
	// liquidação futura pagaria stake×odds de dinheiro nunca debitado
	st, err := e.svc.GetDetails(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, st.Status)

	available, err := e.wallets.GetAvailableBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(40000), available)
}

func TestEvict_RehydratesFromEventLog(t *testing.T) {
	ctx := context.Background()
	e := newBetEnv(t)
	seed(t, e, 50000)

	_, err := e.svc.PlaceBet(ctx, placeReq("b1"))
	require.NoError(t, err)

	// desativação por ociosidade descarta o cache; o replay reconstrói
	e.svc.Evict("b1")

	st, err := e.svc.GetDetails(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, st.Status)
	assert.Equal(t, int64(10000), st.StakeCents)
}

func TestSettle_FromAcceptedOnly(t *testing.T) {
	ctx := context.Background()
	e := newBetEnv(t)
	seed(t, e, 50000)

	_, err := e.svc.PlaceBet(ctx, placeReq("b1"))
	require.NoError(t, err)

	require.NoError(t, e.svc.Settle(ctx, "b1", StatusWon, 20000, "saga1"))

	st, err := e.svc.GetDetails(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, StatusWon, st.Status)
	require.NotNil(t, st.PayoutCents)
	assert.Equal(t, int64(20000), *st.PayoutCents)

	// dupla liquidação é transição ilegal
	err = e.svc.Settle(ctx, "b1", StatusLost, 0, "saga1")
	require.ErrorIs(t, err, domain.ErrConflict)
}

func TestSettle_UnplacedBetIsConflict(t *testing.T) {
	ctx := context.Background()
	e := newBetEnv(t)

	err := e.svc.Settle(ctx, "ghost", StatusWon, 100, "saga1")
	require.ErrorIs(t, err, domain.ErrConflict)
}

func TestRevertSettlement_RestoresAcceptedAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e := newBetEnv(t)
	seed(t, e, 50000)

	_, err := e.svc.PlaceBet(ctx, placeReq("b1"))
	require.NoError(t, err)
	require.NoError(t, e.svc.Settle(ctx, "b1", StatusWon, 20000, "saga1"))

	// só a saga que liquidou pode reverter
	err = e.svc.RevertSettlement(ctx, "b1", "saga2")
	require.ErrorIs(t, err, domain.ErrConflict)

	require.NoError(t, e.svc.RevertSettlement(ctx, "b1", "saga1"))
	st, err := e.svc.GetDetails(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, st.Status)
	assert.Nil(t, st.PayoutCents)

	// retry da compensação é seguro
	require.NoError(t, e.svc.RevertSettlement(ctx, "b1", "saga1"))
}

func TestVoid_AfterCommitRefundsStake(t *testing.T) {
	ctx := context.Background()
	e := newBetEnv(t)
	seed(t, e, 50000)

	_, err := e.svc.PlaceBet(ctx, placeReq("b1"))
	require.NoError(t, err)

	require.NoError(t, e.svc.Void(ctx, "b1", "event abandoned"))

	st, err := e.svc.GetDetails(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, StatusVoid, st.Status)
	assert.Equal(t, "event abandoned", st.VoidReason)

	// stake devolvido; disponível volta ao valor original
	available, err := e.wallets.GetAvailableBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(50000), available)

	err = e.svc.Void(ctx, "b1", "again")
	require.ErrorIs(t, err, domain.ErrConflict)
}

func TestCashOut_PaysStakeMinusFee(t *testing.T) {
	ctx := context.Background()
	e := newBetEnv(t)
	seed(t, e, 50000)

	_, err := e.svc.PlaceBet(ctx, placeReq("b1"))
	require.NoError(t, err)

	payout, err := e.svc.CashOut(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, int64(9500), payout) // stake 10000 menos 5%

	st, err := e.svc.GetDetails(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, StatusCashedOut, st.Status)
	require.NotNil(t, st.PayoutCents)
	assert.Equal(t, int64(9500), *st.PayoutCents)

	available, err := e.wallets.GetAvailableBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(49500), available) // 40000 pós-commit + 9500

	// liquidação posterior não pode recreditar
	_, err = e.svc.CashOut(ctx, "b1")
	require.ErrorIs(t, err, domain.ErrConflict)
	err = e.svc.Settle(ctx, "b1", StatusWon, 20000, "saga1")
	require.ErrorIs(t, err, domain.ErrConflict)

	ok, err := e.svc.CanBeSettled(ctx, "b1")
	require.NoError(t, err)
	assert.False(t, ok)
}
