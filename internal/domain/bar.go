package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bar is one OHLCV bucket. OpenTime is the bucket start in unix milliseconds.
type Bar struct {
	OpenTime int64           `json:"t"`
	Open     decimal.Decimal `json:"o"`
	High     decimal.Decimal `json:"h"`
	Low      decimal.Decimal `json:"l"`
	Close    decimal.Decimal `json:"c"`
	Volume   decimal.Decimal `json:"v"`
}

// OpenedAt returns the bucket start as time.
func (b Bar) OpenedAt() time.Time {
	return time.UnixMilli(b.OpenTime)
}

// Equal compares all fields by value.
func (b Bar) Equal(o Bar) bool {
	return b.OpenTime == o.OpenTime &&
		b.Open.Equal(o.Open) &&
		b.High.Equal(o.High) &&
		b.Low.Equal(o.Low) &&
		b.Close.Equal(o.Close) &&
		b.Volume.Equal(o.Volume)
}
