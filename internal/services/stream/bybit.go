package stream

import (
	"strings"

	json "github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/cuong-tay/web-trade-crypto-sub000/internal/domain"
)

const (
	BybitSpotStreamURL   = "wss://stream.bybit.com/v5/public/spot"
	BybitLinearStreamURL = "wss://stream.bybit.com/v5/public/linear"
)

var bybitIntervals = map[domain.Granularity]string{
	domain.Granularity1m:  "1",
	domain.Granularity5m:  "5",
	domain.Granularity15m: "15",
	domain.Granularity1h:  "60",
	domain.Granularity4h:  "240",
	domain.Granularity1d:  "D",
}

// BybitFeed decodes V5 public kline topics. Bybit expects an explicit
// subscription and an application ping every 20 seconds.
type BybitFeed struct {
	url string
}

// NewBybitFeed picks the spot or linear endpoint.
func NewBybitFeed(marketType domain.MarketType) *BybitFeed {
	if marketType == domain.MarketTypeFutures {
		return &BybitFeed{url: BybitLinearStreamURL}
	}
	return &BybitFeed{url: BybitSpotStreamURL}
}

type bybitRequest struct {
	Op   string   `json:"op"`
	Args []string `json:"args,omitempty"`
}

type bybitKlineMessage struct {
	Topic string           `json:"topic"`
	Data  []bybitKlineItem `json:"data" validate:"dive"`
}

type bybitKlineItem struct {
	Start  int64           `json:"start" validate:"gt=0"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
}

func (f *BybitFeed) Name() string { return "bybit" }

func (f *BybitFeed) Endpoint(domain.Pair, domain.Granularity) (string, error) {
	return f.url, nil
}

func (f *BybitFeed) Subscription(instrument domain.Pair, granularity domain.Granularity) ([]byte, error) {
	interval, ok := bybitIntervals[granularity]
	if !ok {
		return nil, errors.Wrapf(domain.ErrUnknownGranularity, "%q", granularity)
	}
	return json.Marshal(bybitRequest{
		Op:   "subscribe",
		Args: []string{"kline." + interval + "." + instrument.Symbol()},
	})
}

func (f *BybitFeed) Heartbeat() []byte {
	return []byte(`{"op":"ping"}`)
}

func (f *BybitFeed) Decode(payload []byte) ([]domain.Bar, error) {
	var msg bybitKlineMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, errors.Wrap(err, "decode bybit frame")
	}
	if !strings.HasPrefix(msg.Topic, "kline.") {
		return nil, nil
	}
	if err := validate.Struct(msg); err != nil {
		return nil, errors.Wrap(err, "invalid bybit kline")
	}

	bars := make([]domain.Bar, 0, len(msg.Data))
	for _, k := range msg.Data {
		bars = append(bars, domain.Bar{
			OpenTime: k.Start,
			Open:     k.Open,
			High:     k.High,
			Low:      k.Low,
			Close:    k.Close,
			Volume:   k.Volume,
		})
	}
	return bars, nil
}
