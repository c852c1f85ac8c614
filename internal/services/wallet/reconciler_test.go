package wallet

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cuong-tay/web-trade-crypto-sub000/internal/domain"
)

type memoryStore struct {
	mu      sync.Mutex
	saved   []domain.WalletSnapshot
	initial domain.WalletSnapshot
	loadErr error
	saveErr error
}

func (s *memoryStore) Load() (domain.WalletSnapshot, error) {
	return s.initial, s.loadErr
}

func (s *memoryStore) Save(w domain.WalletSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, w.Clone())
	return s.saveErr
}

func (s *memoryStore) saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

type stubSource struct {
	wallet domain.WalletSnapshot
	err    error
}

func (s stubSource) GetBalances(context.Context) (domain.WalletSnapshot, error) {
	return s.wallet, s.err
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func seeded() domain.WalletSnapshot {
	return domain.WalletSnapshot{
		"USDT": {Available: dec("900"), Locked: dec("100"), Total: dec("1000")},
		"BTC":  {Available: dec("0.5"), Locked: dec("0"), Total: dec("0.5")},
	}
}

func TestReconciler_ApplyDeltas(t *testing.T) {
	store := &memoryStore{initial: seeded()}
	r := NewReconciler(store, stubSource{}, zap.NewNop())
	changes := r.Subscribe()

	require.NoError(t, r.ApplyDeltas(domain.BalanceUpdates{"USDT": dec("1000"), "ETH": dec("1.25")}))

	snap := r.Snapshot()
	assert.True(t, snap["USDT"].Available.Equal(dec("1000")))
	assert.True(t, snap["USDT"].Locked.IsZero())
	assert.True(t, snap["USDT"].Total.Equal(dec("1000")))
	assert.True(t, snap["ETH"].Total.Equal(dec("1.25")), "new assets are inserted")
	assert.True(t, snap["BTC"].Total.Equal(dec("0.5")), "assets outside the update are untouched")

	for asset, b := range snap {
		assert.True(t, b.Total.Equal(b.Available.Add(b.Locked)), asset)
	}

	assert.Equal(t, 1, store.saves())
	got := <-changes
	assert.True(t, snap.Equal(got))
}

func TestReconciler_ApplyDeltasIdempotent(t *testing.T) {
	r := NewReconciler(&memoryStore{initial: seeded()}, stubSource{}, zap.NewNop())
	updates := domain.BalanceUpdates{"USDT": dec("1000")}

	require.NoError(t, r.ApplyDeltas(updates))
	once := r.Snapshot()
	require.NoError(t, r.ApplyDeltas(updates))

	assert.True(t, once.Equal(r.Snapshot()))
}

func TestReconciler_MissingDeltas(t *testing.T) {
	store := &memoryStore{initial: seeded()}
	r := NewReconciler(store, stubSource{}, zap.NewNop())

	err := r.ApplyDeltas(nil)
	require.ErrorIs(t, err, domain.ErrMissingDeltas)
	assert.True(t, seeded().Equal(r.Snapshot()))
	assert.Zero(t, store.saves())
}

func TestReconciler_EmptyDeltasStillPersist(t *testing.T) {
	store := &memoryStore{initial: seeded()}
	r := NewReconciler(store, stubSource{}, zap.NewNop())

	require.NoError(t, r.ApplyDeltas(domain.BalanceUpdates{}))
	assert.Equal(t, 1, store.saves())
	assert.True(t, seeded().Equal(r.Snapshot()))
}

func TestReconciler_SaveFailureKeepsUpdate(t *testing.T) {
	store := &memoryStore{initial: seeded(), saveErr: errors.New("disk full")}
	r := NewReconciler(store, stubSource{}, zap.NewNop())
	changes := r.Subscribe()

	err := r.ApplyDeltas(domain.BalanceUpdates{"USDT": dec("5")})
	require.Error(t, err)
	assert.True(t, r.Snapshot()["USDT"].Total.Equal(dec("5")))
	<-changes
}

func TestReconciler_Refresh(t *testing.T) {
	fresh := domain.WalletSnapshot{"USDC": {Available: dec("10"), Locked: dec("2"), Total: dec("12")}}
	store := &memoryStore{initial: seeded()}
	r := NewReconciler(store, stubSource{wallet: fresh}, zap.NewNop())

	require.NoError(t, r.Refresh(context.Background()))
	assert.True(t, fresh.Equal(r.Snapshot()), "refresh replaces the wallet wholesale")
	assert.Equal(t, 1, store.saves())

	failing := NewReconciler(&memoryStore{initial: seeded()}, stubSource{err: errors.New("503")}, zap.NewNop())
	require.Error(t, failing.Refresh(context.Background()))
	assert.True(t, seeded().Equal(failing.Snapshot()))
}

func TestReconciler_UnreadableCache(t *testing.T) {
	r := NewReconciler(&memoryStore{loadErr: errors.New("corrupt")}, stubSource{}, zap.NewNop())
	assert.Empty(t, r.Snapshot())

	require.NoError(t, r.ApplyDeltas(domain.BalanceUpdates{"USDT": dec("1")}))
	b, ok := r.Balance("USDT")
	require.True(t, ok)
	assert.True(t, b.Total.Equal(dec("1")))
}
