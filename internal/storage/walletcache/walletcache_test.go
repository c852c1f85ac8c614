package walletcache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuong-tay/web-trade-crypto-sub000/internal/domain"
)

func balance(total string) domain.AssetBalance {
	d := decimal.RequireFromString(total)
	return domain.AssetBalance{Available: d, Locked: decimal.Zero, Total: d}
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	t.Run("missing file is an empty wallet", func(t *testing.T) {
		wallet, err := store.Load()
		require.NoError(t, err)
		assert.Empty(t, wallet)
	})

	t.Run("round trip", func(t *testing.T) {
		want := domain.WalletSnapshot{
			"USDT": balance("1000.5"),
			"BTC": {
				Available: decimal.RequireFromString("0.4"),
				Locked:    decimal.RequireFromString("0.1"),
				Total:     decimal.RequireFromString("0.5"),
			},
		}
		require.NoError(t, store.Save(want))

		got, err := store.Load()
		require.NoError(t, err)
		assert.True(t, want.Equal(got))

		_, err = os.Stat(filepath.Join(dir, defaultFileName+".tmp"))
		assert.True(t, os.IsNotExist(err), "temp file must be renamed away")
	})

	t.Run("corrupt file", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, defaultFileName), []byte("{"), 0o644))
		_, err := store.Load()
		assert.Error(t, err)
	})
}

func TestWALStore(t *testing.T) {
	dir := t.TempDir()
	store, err := NewWALStore(dir)
	require.NoError(t, err)
	defer store.Close()

	wallet, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, wallet)

	first := domain.WalletSnapshot{"USDT": balance("100")}
	second := domain.WalletSnapshot{"USDT": balance("90"), "BTC": balance("0.001")}
	require.NoError(t, store.Save(first))
	require.NoError(t, store.Save(second))

	latest, err := store.Load()
	require.NoError(t, err)
	assert.True(t, second.Equal(latest))

	records, err := store.SnapshotsAfter(0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.True(t, first.Equal(records[0].Wallet))
	assert.Equal(t, records[0].Index+1, records[1].Index)

	records, err = store.SnapshotsAfter(store.CurrentIndex())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestWALStore_Reopen(t *testing.T) {
	dir := t.TempDir()
	store, err := NewWALStore(dir)
	require.NoError(t, err)

	want := domain.WalletSnapshot{"ETH": balance("2.5")}
	require.NoError(t, store.Save(want))
	require.NoError(t, store.Close())

	reopened, err := NewWALStore(dir)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Load()
	require.NoError(t, err)
	assert.True(t, want.Equal(got))
}
