// Package collector fetches historical bars from exchanges.
package collector

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cuong-tay/web-trade-crypto-sub000/internal/domain"
	"github.com/cuong-tay/web-trade-crypto-sub000/pkg/retrier"
)

// KlineProvider defines the interface for fetching kline (candlestick) data.
type KlineProvider interface {
	// GetKlines returns up to limit bars ending at the current bucket,
	// oldest first.
	GetKlines(ctx context.Context, pair domain.Pair, granularity domain.Granularity, limit int) ([]domain.Bar, error)
}

const (
	historyAttempts  = 3
	historyRetryStep = time.Second
)

// RetryingProvider retries a provider three times, waiting one second more
// after each failure.
type RetryingProvider struct {
	provider KlineProvider
	retrier  *retrier.Retrier
	logger   *zap.Logger
}

// NewRetryingProvider wraps provider with the history retry policy.
func NewRetryingProvider(provider KlineProvider, logger *zap.Logger) *RetryingProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &RetryingProvider{provider: provider, logger: logger}
	p.retrier = retrier.New(
		retrier.WithSchedule(retrier.LinearSchedule(historyRetryStep, historyAttempts)),
		retrier.WithMaxRetries(historyAttempts),
		retrier.WithRetryIf(retryable),
		retrier.WithOnRetry(p.onRetry),
	)
	return p
}

// GetKlines implements KlineProvider.
func (p *RetryingProvider) GetKlines(ctx context.Context, pair domain.Pair, granularity domain.Granularity, limit int) ([]domain.Bar, error) {
	bars, err := retrier.DoWithData(p.retrier, ctx, func(ctx context.Context) ([]domain.Bar, error) {
		return p.provider.GetKlines(ctx, pair, granularity, limit)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "history for %s %s", pair.String(), granularity)
	}
	return bars, nil
}

func (p *RetryingProvider) onRetry(attempt int, delay time.Duration, err error) {
	p.logger.Warn("History request failed, retrying",
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay),
		zap.Error(err))
}

func retryable(err error) bool {
	return !errors.Is(err, domain.ErrUnknownGranularity) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

// rawKline is the string form every exchange SDK hands back.
type rawKline struct {
	openTime                       int64
	open, high, low, close, volume string
}

func (k rawKline) bar() (domain.Bar, error) {
	fields := [...]struct {
		name string
		raw  string
	}{
		{"open", k.open},
		{"high", k.high},
		{"low", k.low},
		{"close", k.close},
		{"volume", k.volume},
	}

	var values [len(fields)]decimal.Decimal
	for i, f := range fields {
		v, err := decimal.NewFromString(f.raw)
		if err != nil {
			return domain.Bar{}, errors.Wrapf(err, "failed to parse %s %q", f.name, f.raw)
		}
		values[i] = v
	}

	return domain.Bar{
		OpenTime: k.openTime,
		Open:     values[0],
		High:     values[1],
		Low:      values[2],
		Close:    values[3],
		Volume:   values[4],
	}, nil
}

func toBars(raw []rawKline) ([]domain.Bar, error) {
	bars := make([]domain.Bar, len(raw))
	for i, k := range raw {
		b, err := k.bar()
		if err != nil {
			return nil, errors.Wrapf(err, "kline at index %d", i)
		}
		bars[i] = b
	}
	return bars, nil
}
