package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuong-tay/web-trade-crypto-sub000/internal/domain"
)

func env(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil, env(map[string]string{"TRADING_API_TOKEN": "tok"}))
	require.NoError(t, err)

	assert.Equal(t, "binance", cfg.Platform)
	assert.Equal(t, domain.Pair{From: "BTC", To: "USDT"}, cfg.Pair)
	assert.Equal(t, domain.MarketTypeSpot, cfg.MarketType)
	assert.Equal(t, domain.Granularity1m, cfg.Granularity)
	assert.Equal(t, 3*time.Second, cfg.MatchInterval)
	assert.Equal(t, 800, cfg.HistoryLimit)
	assert.Equal(t, 10, cfg.MaxReconnectAttempts)
	assert.Equal(t, "tok", cfg.Secrets.APIToken)
	assert.False(t, cfg.Setup)
}

func TestLoadFlags(t *testing.T) {
	cfg, err := Load([]string{
		"--platform", "bybit",
		"--pair", "eth_usdt",
		"--market", "futures",
		"--granularity", "15m",
		"--match-interval", "5s",
		"--cache", "file",
	}, env(nil))
	require.NoError(t, err)

	assert.Equal(t, "bybit", cfg.Platform)
	assert.Equal(t, "ETH", cfg.Pair.From)
	assert.Equal(t, domain.MarketTypeFutures, cfg.MarketType)
	assert.Equal(t, domain.Granularity15m, cfg.Granularity)
	assert.Equal(t, 5*time.Second, cfg.MatchInterval)
	assert.Equal(t, "file", cfg.CacheMode)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string][]string{
		"platform":    {"--platform", "kraken"},
		"pair":        {"--pair", "BTCUSDT"},
		"market":      {"--market", "margin"},
		"granularity": {"--granularity", "2m"},
		"interval":    {"--match-interval", "1ms"},
		"cache":       {"--cache", "redis"},
		"api":         {"--api", "not a url"},
	}

	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(args, env(nil))
			assert.Error(t, err)
		})
	}
}

func TestLoadSetupSkipsValidation(t *testing.T) {
	cfg, err := Load([]string{"--setup", "--platform", "kraken"}, env(nil))
	require.NoError(t, err)
	assert.True(t, cfg.Setup)
}

func TestHyperliquidRequiresKey(t *testing.T) {
	_, err := Load([]string{"--platform", "hyperliquid"}, env(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HYPERLIQUID_PRIVATE_KEY")

	cfg, err := Load([]string{"--platform", "hyperliquid"}, env(map[string]string{"HYPERLIQUID_PRIVATE_KEY": "abc"}))
	require.NoError(t, err)
	assert.Equal(t, "abc", cfg.Secrets.HyperliquidPrivateKey)
}

func TestFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `platform: bybit
pair: SOL_USDT
market_type: futures
granularity: 1h
match_interval: 2s
tls_domains:
  - trade.example.com
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load([]string{"--config", path, "--platform", "binance"}, env(nil))
	require.NoError(t, err)

	assert.Equal(t, "bybit", cfg.Platform)
	assert.Equal(t, domain.Pair{From: "SOL", To: "USDT"}, cfg.Pair)
	assert.Equal(t, domain.Granularity1h, cfg.Granularity)
	assert.Equal(t, 2*time.Second, cfg.MatchInterval)
	assert.Equal(t, []string{"trade.example.com"}, cfg.TLSDomains)
	// unspecified keys keep their defaults
	assert.Equal(t, 800, cfg.HistoryLimit)
	assert.Equal(t, "wal", cfg.CacheMode)
}

func TestFromYAMLErrors(t *testing.T) {
	_, err := FromYAML(filepath.Join(t.TempDir(), "missing.yaml"), env(nil))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pair: [unterminated"), 0o600))
	_, err = FromYAML(path, env(nil))
	assert.Error(t, err)
}
