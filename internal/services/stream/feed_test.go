package stream

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuong-tay/web-trade-crypto-sub000/internal/domain"
)

func TestNewFeed(t *testing.T) {
	tests := []struct {
		platform   string
		marketType domain.MarketType
		wantName   string
		wantErr    bool
	}{
		{"binance", domain.MarketTypeSpot, "binance", false},
		{"simulate", domain.MarketTypeFutures, "binance", false},
		{"bybit", domain.MarketTypeFutures, "bybit", false},
		{"hyperliquid", domain.MarketTypeFutures, "hyperliquid", false},
		{"kraken", domain.MarketTypeSpot, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.platform, func(t *testing.T) {
			feed, err := NewFeed(tt.platform, tt.marketType)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrUnsupportedFeed)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, feed.Name())
		})
	}
}

func TestBinanceFeed(t *testing.T) {
	feed := NewBinanceFeed(BinanceFuturesStreamURL)

	endpoint, err := feed.Endpoint(btcusdt, domain.Granularity15m)
	require.NoError(t, err)
	assert.Equal(t, "wss://fstream.binance.com/ws/btcusdt@kline_15m", endpoint)

	_, err = feed.Endpoint(btcusdt, domain.Granularity("2m"))
	assert.ErrorIs(t, err, domain.ErrUnknownGranularity)

	t.Run("kline", func(t *testing.T) {
		bars, err := feed.Decode([]byte(`{"e":"kline","E":1700000000100,"s":"BTCUSDT",
			"k":{"t":1700000000000,"o":"37000.1","h":"37010","l":"36990","c":"37005","v":"12.5","x":false}}`))
		require.NoError(t, err)
		require.Len(t, bars, 1)
		assert.Equal(t, int64(1700000000000), bars[0].OpenTime)
		assert.True(t, bars[0].Open.Equal(decimal.RequireFromString("37000.1")))
		assert.True(t, bars[0].Close.Equal(decimal.NewFromInt(37005)))
		assert.True(t, bars[0].Volume.Equal(decimal.RequireFromString("12.5")))
	})

	t.Run("control frame", func(t *testing.T) {
		bars, err := feed.Decode([]byte(`{"result":null,"id":1}`))
		require.NoError(t, err)
		assert.Empty(t, bars)
	})

	t.Run("missing kline", func(t *testing.T) {
		_, err := feed.Decode([]byte(`{"e":"kline"}`))
		assert.Error(t, err)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := feed.Decode([]byte(`{"e":`))
		assert.Error(t, err)
	})
}

func TestBybitFeed(t *testing.T) {
	feed := NewBybitFeed(domain.MarketTypeFutures)

	endpoint, err := feed.Endpoint(btcusdt, domain.Granularity1h)
	require.NoError(t, err)
	assert.Equal(t, BybitLinearStreamURL, endpoint)

	sub, err := feed.Subscription(btcusdt, domain.Granularity1h)
	require.NoError(t, err)
	assert.JSONEq(t, `{"op":"subscribe","args":["kline.60.BTCUSDT"]}`, string(sub))
	assert.JSONEq(t, `{"op":"ping"}`, string(feed.Heartbeat()))

	bars, err := feed.Decode([]byte(`{"topic":"kline.60.BTCUSDT","type":"snapshot","ts":1,
		"data":[{"start":1700000000000,"end":1700003599999,"interval":"60","open":"1","high":"3","low":"0.5","close":"2","volume":"10","confirm":false}]}`))
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, int64(1700000000000), bars[0].OpenTime)
	assert.True(t, bars[0].High.Equal(decimal.NewFromInt(3)))

	bars, err = feed.Decode([]byte(`{"success":true,"ret_msg":"pong","op":"ping"}`))
	require.NoError(t, err)
	assert.Empty(t, bars)

	_, err = feed.Decode([]byte(`{"topic":"kline.60.BTCUSDT","data":[{"start":0}]}`))
	assert.Error(t, err)
}

func TestHyperliquidFeed(t *testing.T) {
	feed := NewHyperliquidFeed(HyperliquidStreamURL)

	sub, err := feed.Subscription(domain.Pair{From: "eth", To: "usdc"}, domain.Granularity4h)
	require.NoError(t, err)
	assert.JSONEq(t, `{"method":"subscribe","subscription":{"type":"candle","coin":"ETH","interval":"4h"}}`, string(sub))

	bars, err := feed.Decode([]byte(`{"channel":"candle","data":{"t":1700000000000,"T":1700014399999,"s":"ETH","i":"4h","o":"2000","c":"2010.5","h":"2020","l":"1990","v":"123.4","n":42}}`))
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.True(t, bars[0].Close.Equal(decimal.RequireFromString("2010.5")))

	bars, err = feed.Decode([]byte(`{"channel":"subscriptionResponse","data":{"method":"subscribe"}}`))
	require.NoError(t, err)
	assert.Empty(t, bars)

	bars, err = feed.Decode([]byte(`{"channel":"pong"}`))
	require.NoError(t, err)
	assert.Empty(t, bars)
}
