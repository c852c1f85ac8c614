package stream

import (
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/cuong-tay/web-trade-crypto-sub000/internal/domain"
)

const (
	BinanceSpotStreamURL    = "wss://stream.binance.com:9443/ws"
	BinanceFuturesStreamURL = "wss://fstream.binance.com/ws"
)

// BinanceFeed decodes kline events from the spot or USD-M futures streams.
//
//	{"e":"kline","E":1700000000100,"s":"BTCUSDT",
//	 "k":{"t":1700000000000,"o":"37000.1","h":"37010","l":"36990","c":"37005","v":"12.5","x":false}}
type BinanceFeed struct {
	baseURL string
}

// NewBinanceFeed creates a codec for the given stream base URL.
func NewBinanceFeed(baseURL string) *BinanceFeed {
	return &BinanceFeed{baseURL: strings.TrimRight(baseURL, "/")}
}

type binanceKlineEvent struct {
	Event string        `json:"e"`
	Kline *binanceKline `json:"k" validate:"required"`
}

type binanceKline struct {
	OpenTime int64           `json:"t" validate:"gt=0"`
	Open     decimal.Decimal `json:"o"`
	High     decimal.Decimal `json:"h"`
	Low      decimal.Decimal `json:"l"`
	Close    decimal.Decimal `json:"c"`
	Volume   decimal.Decimal `json:"v"`
}

func (f *BinanceFeed) Name() string { return "binance" }

func (f *BinanceFeed) Endpoint(instrument domain.Pair, granularity domain.Granularity) (string, error) {
	if granularity.Duration() == 0 {
		return "", errors.Wrapf(domain.ErrUnknownGranularity, "%q", granularity)
	}
	return fmt.Sprintf("%s/%s@kline_%s", f.baseURL, strings.ToLower(instrument.Symbol()), granularity), nil
}

func (f *BinanceFeed) Subscription(domain.Pair, domain.Granularity) ([]byte, error) {
	return nil, nil
}

func (f *BinanceFeed) Heartbeat() []byte { return nil }

func (f *BinanceFeed) Decode(payload []byte) ([]domain.Bar, error) {
	var msg binanceKlineEvent
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, errors.Wrap(err, "decode binance frame")
	}
	if msg.Event != "kline" {
		return nil, nil
	}
	if err := validate.Struct(msg); err != nil {
		return nil, errors.Wrap(err, "invalid binance kline")
	}

	k := msg.Kline
	return []domain.Bar{{
		OpenTime: k.OpenTime,
		Open:     k.Open,
		High:     k.High,
		Low:      k.Low,
		Close:    k.Close,
		Volume:   k.Volume,
	}}, nil
}
