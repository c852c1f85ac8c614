package clients

import (
	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"
)

// NewBinanceClient returns a spot REST client. Empty keys are enough for
// public market data.
func NewBinanceClient(apiKey, apiSecret string) *binance.Client {
	return binance.NewClient(apiKey, apiSecret)
}

// NewBinanceFuturesClient returns a USD-M futures REST client.
func NewBinanceFuturesClient(apiKey, apiSecret string) *futures.Client {
	return binance.NewFuturesClient(apiKey, apiSecret)
}
