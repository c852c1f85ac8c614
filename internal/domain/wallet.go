package domain

import (
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// ErrMissingDeltas is returned when a fill, cancel or close response carried
// no balance information.
var ErrMissingDeltas = errors.New("balance updates missing from response")

// AssetBalance is the cached balance of one asset.
type AssetBalance struct {
	Available decimal.Decimal `json:"available"`
	Locked    decimal.Decimal `json:"locked"`
	Total     decimal.Decimal `json:"total"`
}

// WalletSnapshot maps asset symbol to its balance.
type WalletSnapshot map[string]AssetBalance

// Clone returns a deep copy safe to hand to readers.
func (w WalletSnapshot) Clone() WalletSnapshot {
	out := make(WalletSnapshot, len(w))
	for asset, b := range w {
		out[asset] = b
	}
	return out
}

// Assets returns the asset symbols in lexical order.
func (w WalletSnapshot) Assets() []string {
	assets := make([]string, 0, len(w))
	for asset := range w {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	return assets
}

// Equal compares two snapshots by value.
func (w WalletSnapshot) Equal(o WalletSnapshot) bool {
	if len(w) != len(o) {
		return false
	}
	for asset, b := range w {
		ob, ok := o[asset]
		if !ok {
			return false
		}
		if !b.Available.Equal(ob.Available) || !b.Locked.Equal(ob.Locked) || !b.Total.Equal(ob.Total) {
			return false
		}
	}
	return true
}

// BalanceUpdates carries the absolute post-operation balance per asset as
// returned by the server. A nil map means the payload was missing.
type BalanceUpdates map[string]decimal.Decimal

// WalletRecord is a journaled snapshot with its position in the journal.
type WalletRecord struct {
	Index     uint64         `json:"index"`
	Timestamp time.Time      `json:"ts"`
	Wallet    WalletSnapshot `json:"wallet"`
}
