package domain

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// ErrOrderNotPending is returned by the execution side when the server no
// longer considers the order pending (already filled, cancelled or unknown).
var ErrOrderNotPending = errors.New("order is no longer pending")

// Side is the direction of a pending order.
type Side string

const (
	SideBuy   Side = "BUY"
	SideSell  Side = "SELL"
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// ParseSide accepts any letter case.
func ParseSide(s string) (Side, error) {
	side := Side(strings.ToUpper(strings.TrimSpace(s)))
	switch side {
	case SideBuy, SideSell, SideLong, SideShort:
		return side, nil
	default:
		return "", errors.Errorf("unknown order side %q", s)
	}
}

// MarketType returns the market the side belongs to.
func (s Side) MarketType() MarketType {
	if s == SideLong || s == SideShort {
		return MarketTypeFutures
	}
	return MarketTypeSpot
}

// Crossed reports whether price satisfies the fill condition for a limit order
// on this side. Buyers and longs fill at or below the limit, sellers and
// shorts at or above it.
func (s Side) Crossed(price, limit decimal.Decimal) bool {
	switch s {
	case SideBuy, SideLong:
		return price.LessThanOrEqual(limit)
	case SideSell, SideShort:
		return price.GreaterThanOrEqual(limit)
	default:
		return false
	}
}

// OrderStatus is the local lifecycle state of a pending order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusFilling   OrderStatus = "FILLING"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// PendingOrder is a limit order acknowledged by the server and not yet final.
type PendingOrder struct {
	ID         string          `json:"id"`
	Instrument Pair            `json:"-"`
	Side       Side            `json:"side"`
	LimitPrice decimal.Decimal `json:"limit_price"`
	Quantity   decimal.Decimal `json:"quantity"`
	Leverage   int             `json:"leverage,omitempty"`
	Status     OrderStatus     `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Symbol returns the exchange symbol of the order instrument.
func (o PendingOrder) Symbol() string {
	return o.Instrument.Symbol()
}

// HeldAsset returns the asset the server reserved for the order: the quote
// currency for buys and futures margin, the base currency for spot sells.
func (o PendingOrder) HeldAsset() string {
	if o.Side == SideSell {
		return o.Instrument.From
	}
	return o.Instrument.To
}

// Validate checks the fields the matcher relies on.
func (o PendingOrder) Validate() error {
	if o.ID == "" {
		return errors.New("order id is required")
	}
	if _, err := ParseSide(string(o.Side)); err != nil {
		return err
	}
	if !o.LimitPrice.IsPositive() {
		return errors.Errorf("order %s: limit price must be positive", o.ID)
	}
	if !o.Quantity.IsPositive() {
		return errors.Errorf("order %s: quantity must be positive", o.ID)
	}

	return nil
}

// FillRequest is sent to the execution side when a limit order crosses.
type FillRequest struct {
	OrderID         string
	Side            Side
	TriggerPrice    decimal.Decimal
	Quantity        decimal.Decimal
	ClientTimestamp time.Time
}

// ExecutionResult is the normalised answer to a fill, cancel or close request.
// Wallet is nil when the server did not return balances.
type ExecutionResult struct {
	Status string
	Wallet BalanceUpdates
}
