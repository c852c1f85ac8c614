// Package positions closes open futures positions and settles the wallet.
package positions

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cuong-tay/web-trade-crypto-sub000/internal/domain"
)

// ErrNoPrice is returned when no exit price was given and none was observed.
var ErrNoPrice = errors.New("no price observed")

// Closer is the backend side of a position close.
type Closer interface {
	ClosePosition(ctx context.Context, positionID string, exitPrice decimal.Decimal) (domain.ExecutionResult, error)
}

// PriceSource exposes the most recent observed price.
type PriceSource interface {
	Latest() (decimal.Decimal, bool)
}

// WalletUpdater folds balance updates into the wallet.
type WalletUpdater interface {
	ApplyDeltas(domain.BalanceUpdates) error
}

// PositionCloser closes positions at an explicit or the latest price.
type PositionCloser struct {
	closer Closer
	prices PriceSource
	wallet WalletUpdater
	logger *zap.Logger
}

func NewPositionCloser(closer Closer, prices PriceSource, wallet WalletUpdater, logger *zap.Logger) *PositionCloser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PositionCloser{closer: closer, prices: prices, wallet: wallet, logger: logger}
}

// Close closes positionID. A zero exitPrice closes at the latest observed
// price. A response without balances leaves the wallet untouched.
func (p *PositionCloser) Close(ctx context.Context, positionID string, exitPrice decimal.Decimal) (domain.ExecutionResult, error) {
	if positionID == "" {
		return domain.ExecutionResult{}, errors.New("position id is required")
	}
	if exitPrice.IsNegative() {
		return domain.ExecutionResult{}, errors.Errorf("exit price must not be negative: %s", exitPrice)
	}
	if exitPrice.IsZero() {
		latest, ok := p.prices.Latest()
		if !ok {
			return domain.ExecutionResult{}, errors.Wrapf(ErrNoPrice, "close position %s", positionID)
		}
		exitPrice = latest
	}

	result, err := p.closer.ClosePosition(ctx, positionID, exitPrice)
	if err != nil {
		return domain.ExecutionResult{}, err
	}

	p.logger.Info("Position closed",
		zap.String("position_id", positionID),
		zap.String("exit_price", exitPrice.String()))

	if err := p.wallet.ApplyDeltas(result.Wallet); err != nil && !errors.Is(err, domain.ErrMissingDeltas) {
		p.logger.Error("Failed to apply wallet updates after close", zap.Error(err))
	}

	return result, nil
}
