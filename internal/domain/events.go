package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// FeedEventKind names a transition of the streaming session.
type FeedEventKind string

const (
	FeedConnecting         FeedEventKind = "connecting"
	FeedConnected          FeedEventKind = "connected"
	FeedDisconnected       FeedEventKind = "disconnected"
	FeedReconnectScheduled FeedEventKind = "reconnect_scheduled"
	// FeedUnavailable is emitted once when the reconnect budget is exhausted.
	FeedUnavailable FeedEventKind = "unavailable"
	FeedClosed      FeedEventKind = "closed"
)

// FeedEvent reports streaming session state to interested views.
type FeedEvent struct {
	Kind        FeedEventKind `json:"kind"`
	Instrument  string        `json:"instrument"`
	Granularity Granularity   `json:"granularity"`
	Attempt     int           `json:"attempt,omitempty"`
	Delay       time.Duration `json:"delay,omitempty"`
	Err         string        `json:"error,omitempty"`
	Time        time.Time     `json:"ts"`
}

// OrderEventKind names an outcome of a fill or cancel request.
type OrderEventKind string

const (
	OrderFilled         OrderEventKind = "filled"
	OrderFillFailed     OrderEventKind = "fill_failed"
	OrderFillRejected   OrderEventKind = "fill_rejected"
	OrderCancelled      OrderEventKind = "cancelled"
	OrderCancelFailed   OrderEventKind = "cancel_failed"
	OrderCancelRejected OrderEventKind = "cancel_rejected"
)

// OrderEvent is surfaced for fills and cancels so views can notify the user.
type OrderEvent struct {
	Kind  OrderEventKind  `json:"kind"`
	Order PendingOrder    `json:"order"`
	Price decimal.Decimal `json:"price"`
	Err   string          `json:"error,omitempty"`
	Time  time.Time       `json:"ts"`
}
