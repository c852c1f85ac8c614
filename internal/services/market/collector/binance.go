package collector

import (
	"context"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/pkg/errors"

	"github.com/cuong-tay/web-trade-crypto-sub000/internal/domain"
)

// BinanceKlineProvider implements KlineProvider for Binance spot.
type BinanceKlineProvider struct {
	client *binance.Client
}

// NewBinanceKlineProvider creates a new Binance kline provider.
func NewBinanceKlineProvider(client *binance.Client) *BinanceKlineProvider {
	return &BinanceKlineProvider{client: client}
}

// GetKlines fetches kline data from Binance.
func (p *BinanceKlineProvider) GetKlines(ctx context.Context, pair domain.Pair, granularity domain.Granularity, limit int) ([]domain.Bar, error) {
	if granularity.Duration() == 0 {
		return nil, errors.Wrapf(domain.ErrUnknownGranularity, "%q", granularity)
	}

	klines, err := p.client.NewKlinesService().
		Symbol(pair.Symbol()).
		Interval(granularity.String()).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch klines from Binance for %s", pair.String())
	}

	raw := make([]rawKline, len(klines))
	for i, k := range klines {
		raw[i] = rawKline{openTime: k.OpenTime, open: k.Open, high: k.High, low: k.Low, close: k.Close, volume: k.Volume}
	}

	return toBars(raw)
}

// BinanceFuturesKlineProvider implements KlineProvider for Binance USD-M futures.
type BinanceFuturesKlineProvider struct {
	client *futures.Client
}

// NewBinanceFuturesKlineProvider creates a new Binance futures kline provider.
func NewBinanceFuturesKlineProvider(client *futures.Client) *BinanceFuturesKlineProvider {
	return &BinanceFuturesKlineProvider{client: client}
}

// GetKlines fetches kline data from Binance futures.
func (p *BinanceFuturesKlineProvider) GetKlines(ctx context.Context, pair domain.Pair, granularity domain.Granularity, limit int) ([]domain.Bar, error) {
	if granularity.Duration() == 0 {
		return nil, errors.Wrapf(domain.ErrUnknownGranularity, "%q", granularity)
	}

	klines, err := p.client.NewKlinesService().
		Symbol(pair.Symbol()).
		Interval(granularity.String()).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch futures klines from Binance for %s", pair.String())
	}

	raw := make([]rawKline, len(klines))
	for i, k := range klines {
		raw[i] = rawKline{openTime: k.OpenTime, open: k.Open, high: k.High, low: k.Low, close: k.Close, volume: k.Volume}
	}

	return toBars(raw)
}
