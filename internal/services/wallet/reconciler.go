// Package wallet owns the client side wallet snapshot and folds server
// balance updates into it.
package wallet

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cuong-tay/web-trade-crypto-sub000/internal/domain"
	"github.com/cuong-tay/web-trade-crypto-sub000/internal/events"
)

// Store persists the snapshot between runs.
type Store interface {
	Load() (domain.WalletSnapshot, error)
	Save(domain.WalletSnapshot) error
}

// BalanceSource returns the authoritative wallet from the server.
type BalanceSource interface {
	GetBalances(ctx context.Context) (domain.WalletSnapshot, error)
}

// Reconciler is the single writer of the wallet snapshot.
type Reconciler struct {
	store   Store
	source  BalanceSource
	logger  *zap.Logger
	changes *events.Broadcaster[domain.WalletSnapshot]

	mu       sync.RWMutex
	snapshot domain.WalletSnapshot
}

// NewReconciler loads the cached snapshot. A cache that cannot be read is
// logged and replaced by an empty wallet.
func NewReconciler(store Store, source BalanceSource, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}

	snapshot, err := store.Load()
	if err != nil {
		logger.Warn("Wallet cache unreadable, starting empty", zap.Error(err))
		snapshot = nil
	}

	return &Reconciler{
		store:    store,
		source:   source,
		logger:   logger,
		changes:  events.NewBroadcaster[domain.WalletSnapshot](16),
		snapshot: snapshot.Clone(),
	}
}

// ApplyDeltas sets every asset in updates to the reported absolute balance
// with nothing locked. Assets absent from updates are left as they are.
// A nil map is reported as ErrMissingDeltas and changes nothing.
//
// The in-memory snapshot and subscribers are updated even when persisting
// fails; the persistence error is returned.
func (r *Reconciler) ApplyDeltas(updates domain.BalanceUpdates) error {
	if updates == nil {
		r.logger.Warn("Response carried no wallet updates, wallet left unchanged")
		return domain.ErrMissingDeltas
	}

	r.mu.Lock()
	for asset, balance := range updates {
		r.snapshot[asset] = domain.AssetBalance{
			Available: balance,
			Locked:    decimal.Zero,
			Total:     balance,
		}
	}
	snapshot := r.snapshot.Clone()
	r.mu.Unlock()

	r.logger.Debug("Wallet updated", zap.Int("assets", len(updates)))

	return r.commit(snapshot)
}

// Refresh replaces the snapshot with the server's view.
func (r *Reconciler) Refresh(ctx context.Context) error {
	fresh, err := r.source.GetBalances(ctx)
	if err != nil {
		return errors.Wrap(err, "fetch wallet balances")
	}
	if fresh == nil {
		fresh = domain.WalletSnapshot{}
	}

	r.mu.Lock()
	r.snapshot = fresh.Clone()
	r.mu.Unlock()

	r.logger.Info("Wallet refreshed", zap.Strings("assets", fresh.Assets()))

	return r.commit(fresh.Clone())
}

func (r *Reconciler) commit(snapshot domain.WalletSnapshot) error {
	err := r.store.Save(snapshot)
	r.changes.Publish(snapshot)
	if err != nil {
		r.logger.Error("Failed to persist wallet snapshot", zap.Error(err))
		return errors.Wrap(err, "persist wallet snapshot")
	}
	return nil
}

// Snapshot returns a copy of the current wallet.
func (r *Reconciler) Snapshot() domain.WalletSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot.Clone()
}

// Balance returns the balance of one asset.
func (r *Reconciler) Balance(asset string) (domain.AssetBalance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.snapshot[asset]
	return b, ok
}

// Subscribe returns a channel receiving a copy of the wallet after every
// change.
func (r *Reconciler) Subscribe() chan domain.WalletSnapshot {
	return r.changes.Subscribe()
}

// Unsubscribe releases a channel returned by Subscribe.
func (r *Reconciler) Unsubscribe(ch chan domain.WalletSnapshot) {
	r.changes.Unsubscribe(ch)
}
