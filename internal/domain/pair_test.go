package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePair(t *testing.T) {
	pair, err := ParsePair("btc_usdt")
	require.NoError(t, err)
	assert.Equal(t, Pair{From: "BTC", To: "USDT"}, pair)
	assert.Equal(t, "BTC_USDT", pair.String())
	assert.Equal(t, "BTCUSDT", pair.Symbol())

	for _, in := range []string{"", "BTCUSDT", "BTC_", "_USDT", "A_B_C"} {
		_, err := ParsePair(in)
		assert.Error(t, err, in)
	}
}

func TestPairFromSymbol(t *testing.T) {
	tests := []struct {
		symbol   string
		expected Pair
		wantErr  bool
	}{
		{symbol: "BTCUSDT", expected: Pair{From: "BTC", To: "USDT"}},
		{symbol: "ethusdc", expected: Pair{From: "ETH", To: "USDC"}},
		{symbol: "SOL_USDT", expected: Pair{From: "SOL", To: "USDT"}},
		{symbol: "USDT", wantErr: true},
		{symbol: "XYZ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.symbol, func(t *testing.T) {
			pair, err := PairFromSymbol(tt.symbol)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, pair)
		})
	}
}
