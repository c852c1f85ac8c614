package collector

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	hyperliquid "github.com/sonirico/go-hyperliquid"

	"github.com/cuong-tay/web-trade-crypto-sub000/internal/domain"
)

// HyperliquidKlineProvider implements KlineProvider for Hyperliquid perps.
type HyperliquidKlineProvider struct {
	info *hyperliquid.Info
	now  func() time.Time
}

// NewHyperliquidKlineProvider creates a new Hyperliquid kline provider.
func NewHyperliquidKlineProvider(info *hyperliquid.Info) *HyperliquidKlineProvider {
	return &HyperliquidKlineProvider{info: info, now: time.Now}
}

// GetKlines fetches a candle snapshot covering the last limit buckets.
func (p *HyperliquidKlineProvider) GetKlines(ctx context.Context, pair domain.Pair, granularity domain.Granularity, limit int) ([]domain.Bar, error) {
	if p.info == nil {
		return nil, errors.New("hyperliquid info is nil")
	}
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}
	bucket := granularity.Duration()
	if bucket == 0 {
		return nil, errors.Wrapf(domain.ErrUnknownGranularity, "%q", granularity)
	}

	endMs := p.now().UnixMilli()
	// two spare buckets absorb rounding at both ends
	startMs := endMs - (int64(limit)+2)*bucket.Milliseconds()

	// candles are keyed by the base coin only
	coin := strings.ToUpper(pair.From)

	candles, err := p.info.CandlesSnapshot(ctx, coin, granularity.String(), startMs, endMs)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch candles from Hyperliquid for %s", coin)
	}
	if len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}

	raw := make([]rawKline, len(candles))
	for i, c := range candles {
		raw[i] = rawKline{openTime: c.TimeOpen, open: c.Open, high: c.High, low: c.Low, close: c.Close, volume: c.Volume}
	}

	return toBars(raw)
}
