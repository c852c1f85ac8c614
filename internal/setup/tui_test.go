package setup

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuong-tay/web-trade-crypto-sub000/config"
	"github.com/cuong-tay/web-trade-crypto-sub000/internal/domain"
)

func TestWriteProducesLoadableConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), config.GeneratedFile)
	err := Write(path, Answers{
		Platform:      "bybit",
		Pair:          "eth_usdt",
		MarketType:    "futures",
		Granularity:   "5m",
		MatchInterval: "4s",
		CacheMode:     "file",
	})
	require.NoError(t, err)

	cfg, err := config.FromYAML(path, func(string) string { return "" })
	require.NoError(t, err)

	assert.Equal(t, "bybit", cfg.Platform)
	assert.Equal(t, domain.Pair{From: "ETH", To: "USDT"}, cfg.Pair)
	assert.Equal(t, domain.MarketTypeFutures, cfg.MarketType)
	assert.Equal(t, domain.Granularity5m, cfg.Granularity)
	assert.Equal(t, 4*time.Second, cfg.MatchInterval)
	assert.Equal(t, "file", cfg.CacheMode)
}

func TestBuildRejectsBadInterval(t *testing.T) {
	_, err := Build(Answers{Platform: "binance", Pair: "BTC_USDT", MatchInterval: "soon"})
	assert.Error(t, err)
}

func TestValidators(t *testing.T) {
	assert.NoError(t, validatePair("BTC_USDT"))
	assert.Error(t, validatePair(""))
	assert.Error(t, validatePair("BTCUSDT"))

	assert.NoError(t, validateInterval("3s"))
	assert.Error(t, validateInterval("10ms"))
	assert.Error(t, validateInterval("fast"))
}
