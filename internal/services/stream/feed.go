// Package stream keeps a live bar feed for one instrument and granularity
// over a reconnecting websocket session.
package stream

import (
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/cuong-tay/web-trade-crypto-sub000/internal/domain"
)

// ErrUnsupportedFeed is returned for platforms without a streaming codec.
var ErrUnsupportedFeed = errors.New("unsupported feed platform")

// Feed translates between an exchange's native websocket protocol and bars.
type Feed interface {
	// Name identifies the venue in logs.
	Name() string
	// Endpoint returns the websocket URL serving the given stream.
	Endpoint(instrument domain.Pair, granularity domain.Granularity) (string, error)
	// Subscription returns the frame to send after connecting, or nil when
	// the endpoint already selects the stream.
	Subscription(instrument domain.Pair, granularity domain.Granularity) ([]byte, error)
	// Heartbeat returns an application level keepalive frame, or nil when
	// websocket pings are enough.
	Heartbeat() []byte
	// Decode extracts the bar fragments carried by one message. Control
	// frames decode to no bars and no error.
	Decode(payload []byte) ([]domain.Bar, error)
}

var validate = validator.New()

// NewFeed returns the codec for a platform and market type.
func NewFeed(platform string, marketType domain.MarketType) (Feed, error) {
	switch platform {
	case "binance", "simulate":
		if marketType == domain.MarketTypeFutures {
			return NewBinanceFeed(BinanceFuturesStreamURL), nil
		}
		return NewBinanceFeed(BinanceSpotStreamURL), nil
	case "bybit":
		return NewBybitFeed(marketType), nil
	case "hyperliquid":
		return NewHyperliquidFeed(HyperliquidStreamURL), nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedFeed, "%q", platform)
	}
}
