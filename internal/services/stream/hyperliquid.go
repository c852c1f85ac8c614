package stream

import (
	"strings"

	json "github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/cuong-tay/web-trade-crypto-sub000/internal/domain"
)

const HyperliquidStreamURL = "wss://api.hyperliquid.xyz/ws"

// HyperliquidFeed decodes candle channel messages. Candles are keyed by the
// base coin only.
type HyperliquidFeed struct {
	url string
}

func NewHyperliquidFeed(url string) *HyperliquidFeed {
	return &HyperliquidFeed{url: url}
}

type hyperliquidSubscribe struct {
	Method       string                  `json:"method"`
	Subscription hyperliquidSubscription `json:"subscription"`
}

type hyperliquidSubscription struct {
	Type     string `json:"type"`
	Coin     string `json:"coin"`
	Interval string `json:"interval"`
}

type hyperliquidMessage struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type hyperliquidCandle struct {
	OpenTime int64           `json:"t" validate:"gt=0"`
	Coin     string          `json:"s"`
	Open     decimal.Decimal `json:"o"`
	High     decimal.Decimal `json:"h"`
	Low      decimal.Decimal `json:"l"`
	Close    decimal.Decimal `json:"c"`
	Volume   decimal.Decimal `json:"v"`
}

func (f *HyperliquidFeed) Name() string { return "hyperliquid" }

func (f *HyperliquidFeed) Endpoint(domain.Pair, domain.Granularity) (string, error) {
	return f.url, nil
}

func (f *HyperliquidFeed) Subscription(instrument domain.Pair, granularity domain.Granularity) ([]byte, error) {
	if granularity.Duration() == 0 {
		return nil, errors.Wrapf(domain.ErrUnknownGranularity, "%q", granularity)
	}
	return json.Marshal(hyperliquidSubscribe{
		Method: "subscribe",
		Subscription: hyperliquidSubscription{
			Type:     "candle",
			Coin:     strings.ToUpper(instrument.From),
			Interval: granularity.String(),
		},
	})
}

func (f *HyperliquidFeed) Heartbeat() []byte {
	return []byte(`{"method":"ping"}`)
}

func (f *HyperliquidFeed) Decode(payload []byte) ([]domain.Bar, error) {
	var msg hyperliquidMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, errors.Wrap(err, "decode hyperliquid frame")
	}
	if msg.Channel != "candle" {
		return nil, nil
	}

	var c hyperliquidCandle
	if err := json.Unmarshal(msg.Data, &c); err != nil {
		return nil, errors.Wrap(err, "decode hyperliquid candle")
	}
	if err := validate.Struct(c); err != nil {
		return nil, errors.Wrap(err, "invalid hyperliquid candle")
	}

	return []domain.Bar{{
		OpenTime: c.OpenTime,
		Open:     c.Open,
		High:     c.High,
		Low:      c.Low,
		Close:    c.Close,
		Volume:   c.Volume,
	}}, nil
}
