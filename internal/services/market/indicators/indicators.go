// Package indicators derives chart overlays from a bar series using the
// cinar/indicator library.
package indicators

import (
	"math"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/cuong-tay/web-trade-crypto-sub000/internal/domain"
)

const (
	FastEMAPeriod = 20
	SlowEMAPeriod = 50
	RSIPeriod     = 14
)

// Point holds the overlay values for one bar. Values are null until the
// indicator has warmed up.
type Point struct {
	OpenTime int64               `json:"t"`
	EMA20    decimal.NullDecimal `json:"ema20"`
	EMA50    decimal.NullDecimal `json:"ema50"`
	RSI14    decimal.NullDecimal `json:"rsi14"`
}

// Compute returns one point per bar, aligned on OpenTime.
func Compute(bars []domain.Bar) []Point {
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close.InexactFloat64()
	}

	ema20 := alignTail(EMA(closes, FastEMAPeriod), len(bars))
	ema50 := alignTail(EMA(closes, SlowEMAPeriod), len(bars))
	rsi14 := alignTail(RSI(closes, RSIPeriod), len(bars))

	points := make([]Point, len(bars))
	for i, b := range bars {
		points[i] = Point{OpenTime: b.OpenTime, EMA20: ema20[i], EMA50: ema50[i], RSI14: rsi14[i]}
	}
	return points
}

// Latest returns the overlay values for the newest bar.
func Latest(bars []domain.Bar) (Point, error) {
	if len(bars) == 0 {
		return Point{}, errors.New("no bars")
	}
	points := Compute(bars)
	return points[len(points)-1], nil
}

// EMA computes the exponential moving average. The output omits the warmup
// period, so it is period-1 values shorter than the input.
func EMA(closes []float64, period int) []float64 {
	if len(closes) < period {
		return nil
	}
	ema := trend.NewEmaWithPeriod[float64](period)
	return helper.ChanToSlice(ema.Compute(helper.SliceToChan(closes)))
}

// RSI computes the relative strength index, omitting its warmup period.
func RSI(closes []float64, period int) []float64 {
	if len(closes) < period+1 {
		return nil
	}
	rsi := momentum.NewRsiWithPeriod[float64](period)
	return helper.ChanToSlice(rsi.Compute(helper.SliceToChan(closes)))
}

// alignTail right-aligns values against n bars, leaving the head and any
// undefined value null.
func alignTail(values []float64, n int) []decimal.NullDecimal {
	out := make([]decimal.NullDecimal, n)
	offset := n - len(values)
	for i, v := range values {
		if offset+i < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out[offset+i] = decimal.NewNullDecimal(decimal.NewFromFloat(v).Round(8))
	}
	return out
}
