package collector

import (
	"context"
	"fmt"
	"slices"
	"time"

	bybit "github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"

	"github.com/cuong-tay/web-trade-crypto-sub000/internal/domain"
)

const bybitMaxPerRequest = 1000

// BybitKlineProvider implements KlineProvider for Bybit V5 market data.
type BybitKlineProvider struct {
	client   *bybit.Client
	category bybit.CategoryV5
}

// NewBybitKlineProvider creates a new Bybit kline provider for the spot or
// linear category.
func NewBybitKlineProvider(client *bybit.Client, marketType domain.MarketType) *BybitKlineProvider {
	category := bybit.CategoryV5Spot
	if marketType == domain.MarketTypeFutures {
		category = bybit.CategoryV5Linear
	}
	return &BybitKlineProvider{client: client, category: category}
}

// GetKlines fetches kline data. Bybit returns newest first; the result is
// reversed to oldest first.
func (p *BybitKlineProvider) GetKlines(ctx context.Context, pair domain.Pair, granularity domain.Granularity, limit int) ([]domain.Bar, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}
	if granularity.Duration() == 0 {
		return nil, errors.Wrapf(domain.ErrUnknownGranularity, "%q", granularity)
	}

	interval, err := convertIntervalToBybit(granularity.String())
	if err != nil {
		return nil, errors.Wrapf(err, "invalid interval: %s", granularity)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	batch := min(limit, bybitMaxPerRequest)
	result, err := p.client.V5().Market().GetKline(bybit.V5GetKlineParam{
		Category: p.category,
		Symbol:   bybit.SymbolV5(pair.Symbol()),
		Interval: bybit.Interval(interval),
		Limit:    &batch,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch klines from Bybit for %s", pair.String())
	}
	if result == nil {
		return nil, errors.Errorf("empty result from Bybit API for %s", pair.String())
	}

	raw := make([]rawKline, 0, len(result.Result.List))
	for i, k := range result.Result.List {
		openTime, err := parseTimestamp(k.StartTime)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse start time at index %d", i)
		}
		raw = append(raw, rawKline{
			openTime: openTime.UnixMilli(),
			open:     k.Open,
			high:     k.High,
			low:      k.Low,
			close:    k.Close,
			volume:   k.Volume,
		})
	}
	slices.Reverse(raw)

	return toBars(raw)
}

// convertIntervalToBybit converts standard interval format to Bybit format.
// Standard format: "1m", "5m", "15m", "1h", "4h", "1d", etc.
// Bybit format: "1", "5", "15", "60", "240", "D", etc.
func convertIntervalToBybit(interval string) (string, error) {
	if len(interval) < 2 {
		return "", fmt.Errorf("invalid interval format: %s", interval)
	}

	unit := interval[len(interval)-1]
	numberPart := interval[:len(interval)-1]

	switch unit {
	case 'm':
		return numberPart, nil
	case 'h':
		var n int64
		for _, r := range numberPart {
			if r < '0' || r > '9' {
				return "", fmt.Errorf("invalid interval number: %s", interval)
			}
			n = n*10 + int64(r-'0')
		}
		return fmt.Sprintf("%d", n*60), nil
	case 'd':
		return "D", nil
	case 'w':
		return "W", nil
	default:
		return "", fmt.Errorf("unsupported interval unit: %c", unit)
	}
}

// parseTimestamp converts Bybit timestamp string (milliseconds) to time.Time.
func parseTimestamp(ts string) (time.Time, error) {
	if ts == "" {
		return time.Time{}, errors.New("empty timestamp")
	}

	var msec int64
	_, err := fmt.Sscanf(ts, "%d", &msec)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "failed to parse timestamp: %s", ts)
	}

	return time.UnixMilli(msec), nil
}
