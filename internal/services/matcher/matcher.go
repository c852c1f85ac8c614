// Package matcher fills client tracked limit orders when the observed price
// crosses their limit.
package matcher

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cuong-tay/web-trade-crypto-sub000/internal/domain"
	"github.com/cuong-tay/web-trade-crypto-sub000/internal/events"
)

// DefaultInterval is the matching cadence.
const DefaultInterval = 3 * time.Second

var (
	// ErrOrderNotFound is returned when cancelling an order that is not tracked.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderFilling is returned when cancelling an order with a fill in flight.
	ErrOrderFilling = errors.New("order is being filled")
)

// Executor submits fills and cancels. Errors wrapping
// domain.ErrOrderNotPending are terminal; anything else may be retried.
type Executor interface {
	SubmitFill(ctx context.Context, order domain.PendingOrder, req domain.FillRequest) (domain.ExecutionResult, error)
	CancelOrder(ctx context.Context, order domain.PendingOrder) (domain.ExecutionResult, error)
}

// Lister returns the orders the server still considers pending.
type Lister interface {
	ListPendingOrders(ctx context.Context, instrument domain.Pair, marketType domain.MarketType) ([]domain.PendingOrder, error)
}

// PriceSource exposes the most recent price observed for an exchange symbol.
type PriceSource interface {
	LatestFor(instrument string) (decimal.Decimal, bool)
}

// WalletUpdater folds balance updates into the wallet.
type WalletUpdater interface {
	ApplyDeltas(domain.BalanceUpdates) error
}

// Config tunes a Matcher.
type Config struct {
	Instrument domain.Pair
	MarketType domain.MarketType
	Interval   time.Duration
}

// Matcher owns the set of pending orders for the current instrument.
type Matcher struct {
	executor Executor
	lister   Lister
	prices   PriceSource
	wallet   WalletUpdater
	clock    clock.Clock
	logger   *zap.Logger
	interval time.Duration
	events   *events.Broadcaster[domain.OrderEvent]

	mu         sync.Mutex
	orders     map[string]*domain.PendingOrder
	cancelling map[string]struct{}
	instrument domain.Pair
	marketType domain.MarketType
	generation uint64

	inflight sync.WaitGroup
}

// New creates a matcher. A nil clock uses the wall clock.
func New(
	executor Executor,
	lister Lister,
	prices PriceSource,
	wallet WalletUpdater,
	clk clock.Clock,
	cfg Config,
	logger *zap.Logger,
) *Matcher {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if !cfg.MarketType.IsValid() {
		cfg.MarketType = domain.MarketTypeSpot
	}

	return &Matcher{
		executor:   executor,
		lister:     lister,
		prices:     prices,
		wallet:     wallet,
		clock:      clk,
		logger:     logger,
		interval:   cfg.Interval,
		events:     events.NewBroadcaster[domain.OrderEvent](64),
		orders:     make(map[string]*domain.PendingOrder),
		cancelling: make(map[string]struct{}),
		instrument: cfg.Instrument,
		marketType: cfg.MarketType,
	}
}

// Run evaluates pending orders on a fixed cadence until ctx is done, then
// waits for in-flight requests.
func (m *Matcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	defer m.Wait()

	m.logger.Info("Starting order matcher", zap.Duration("interval", m.interval))

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Context done, stopping order matcher")
			return ctx.Err()
		case <-ticker.C:
			m.RunCycle(ctx)
		}
	}
}

// RunCycle evaluates every pending order against the latest price of the
// current instrument and dispatches a fill for each one that crossed. It
// returns the number of fills dispatched.
func (m *Matcher) RunCycle(ctx context.Context) int {
	m.mu.Lock()
	symbol := m.instrument.Symbol()
	m.mu.Unlock()

	price, ok := m.prices.LatestFor(symbol)
	if !ok {
		return 0
	}

	m.mu.Lock()
	if m.instrument.Symbol() != symbol {
		m.mu.Unlock()
		return 0
	}
	var crossed []domain.PendingOrder
	for _, o := range m.orders {
		if o.Status != domain.OrderStatusPending || !o.Side.Crossed(price, o.LimitPrice) {
			continue
		}
		o.Status = domain.OrderStatusFilling
		crossed = append(crossed, *o)
	}
	m.inflight.Add(len(crossed))
	m.mu.Unlock()

	for _, o := range crossed {
		go m.fill(ctx, o, price)
	}

	return len(crossed)
}

func (m *Matcher) fill(ctx context.Context, order domain.PendingOrder, observed decimal.Decimal) {
	defer m.inflight.Done()

	logger := m.logger.With(
		zap.String("order_id", order.ID),
		zap.String("side", string(order.Side)),
		zap.String("limit", order.LimitPrice.String()),
		zap.String("observed", observed.String()))
	logger.Info("Limit crossed, submitting fill")

	req := domain.FillRequest{
		OrderID:         order.ID,
		Side:            order.Side,
		TriggerPrice:    order.LimitPrice,
		Quantity:        order.Quantity,
		ClientTimestamp: m.clock.Now(),
	}

	result, err := m.executor.SubmitFill(ctx, order, req)
	switch {
	case err == nil:
		m.remove(order.ID)
		order.Status = domain.OrderStatusFilled
		logger.Info("Order filled", zap.String("status", result.Status))
		m.applyWallet(result.Wallet)
		m.emit(domain.OrderFilled, order, observed, nil)

	case errors.Is(err, domain.ErrOrderNotPending):
		m.remove(order.ID)
		logger.Warn("Fill rejected, order is no longer pending", zap.Error(err))
		m.emit(domain.OrderFillRejected, order, observed, err)
		if rerr := m.Resync(ctx); rerr != nil {
			logger.Error("Resync after rejected fill failed", zap.Error(rerr))
		}

	default:
		m.revert(order.ID)
		logger.Warn("Fill failed, will retry on next cycle", zap.Error(err))
		m.emit(domain.OrderFillFailed, order, observed, err)
	}
}

// Cancel removes a pending order and asks the server to cancel it. An order
// with a fill in flight cannot be cancelled. While the request is out the
// order is ignored by Resync and Track. On a retryable failure the order is
// restored unchanged unless the instrument changed meanwhile.
func (m *Matcher) Cancel(ctx context.Context, id string) error {
	m.mu.Lock()
	o, ok := m.orders[id]
	if !ok {
		m.mu.Unlock()
		return errors.Wrapf(ErrOrderNotFound, "cancel %s", id)
	}
	if o.Status != domain.OrderStatusPending {
		m.mu.Unlock()
		return errors.Wrapf(ErrOrderFilling, "cancel %s", id)
	}
	order := *o
	gen := m.generation
	delete(m.orders, id)
	m.cancelling[id] = struct{}{}
	m.inflight.Add(1)
	m.mu.Unlock()
	defer m.inflight.Done()

	logger := m.logger.With(zap.String("order_id", id))

	result, err := m.executor.CancelOrder(ctx, order)
	switch {
	case err == nil:
		m.settleCancel(id)
		order.Status = domain.OrderStatusCancelled
		logger.Info("Order cancelled")
		m.applyWallet(result.Wallet)
		m.emit(domain.OrderCancelled, order, decimal.Zero, nil)
		return nil

	case errors.Is(err, domain.ErrOrderNotPending):
		m.settleCancel(id)
		logger.Warn("Cancel rejected, order is no longer pending", zap.Error(err))
		m.emit(domain.OrderCancelRejected, order, decimal.Zero, err)
		if rerr := m.Resync(ctx); rerr != nil {
			logger.Error("Resync after rejected cancel failed", zap.Error(rerr))
		}
		return errors.Wrapf(err, "cancel %s", id)

	default:
		m.mu.Lock()
		delete(m.cancelling, id)
		if _, exists := m.orders[id]; !exists && gen == m.generation {
			m.orders[id] = &order
		}
		m.mu.Unlock()
		logger.Warn("Cancel failed, order restored", zap.Error(err))
		m.emit(domain.OrderCancelFailed, order, decimal.Zero, err)
		return errors.Wrapf(err, "cancel %s", id)
	}
}

// Track adds a server acknowledged pending order. An order already tracked
// keeps its current state.
func (m *Matcher) Track(order domain.PendingOrder) error {
	if err := order.Validate(); err != nil {
		return errors.Wrap(err, "track order")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.orders[order.ID]; exists {
		return nil
	}
	if _, cancelling := m.cancelling[order.ID]; cancelling {
		return nil
	}
	if order.Instrument.IsZero() {
		order.Instrument = m.instrument
	}
	order.Status = domain.OrderStatusPending
	m.orders[order.ID] = &order

	return nil
}

// SetInstrument switches the matcher to another instrument and rebuilds the
// pending set from the server. Fills already in flight finish on their own.
func (m *Matcher) SetInstrument(ctx context.Context, instrument domain.Pair, marketType domain.MarketType) error {
	m.Suspend(instrument, marketType)
	return m.Resync(ctx)
}

// Suspend drops the pending set and points the matcher at instrument without
// asking the server. Nothing is matched until the next Resync, so a price
// published for the new instrument never meets orders of the old one.
func (m *Matcher) Suspend(instrument domain.Pair, marketType domain.MarketType) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.instrument = instrument
	if marketType.IsValid() {
		m.marketType = marketType
	}
	m.generation++
	m.orders = make(map[string]*domain.PendingOrder)
}

// Resync replaces the pending set with the server listing. Orders with a
// fill in flight are kept whatever the listing says; orders with a cancel in
// flight stay out.
func (m *Matcher) Resync(ctx context.Context) error {
	m.mu.Lock()
	gen := m.generation
	instrument, marketType := m.instrument, m.marketType
	m.mu.Unlock()

	listed, err := m.lister.ListPendingOrders(ctx, instrument, marketType)
	if err != nil {
		return errors.Wrapf(err, "list pending orders for %s", instrument.String())
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.generation {
		return nil
	}

	next := make(map[string]*domain.PendingOrder, len(listed))
	for id, o := range m.orders {
		if o.Status == domain.OrderStatusFilling {
			next[id] = o
		}
	}
	for _, o := range listed {
		if _, filling := next[o.ID]; filling {
			continue
		}
		if _, cancelling := m.cancelling[o.ID]; cancelling {
			continue
		}
		if err := o.Validate(); err != nil {
			m.logger.Warn("Skipping invalid listed order", zap.String("order_id", o.ID), zap.Error(err))
			continue
		}
		o := o
		if o.Instrument.IsZero() {
			o.Instrument = instrument
		}
		o.Status = domain.OrderStatusPending
		next[o.ID] = &o
	}
	m.orders = next

	m.logger.Debug("Pending orders resynced", zap.String("pair", instrument.String()), zap.Int("orders", len(next)))

	return nil
}

// Pending returns a copy of the tracked orders, oldest first.
func (m *Matcher) Pending() []domain.PendingOrder {
	m.mu.Lock()
	out := make([]domain.PendingOrder, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, *o)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Wait blocks until every in-flight fill and cancel has settled.
func (m *Matcher) Wait() {
	m.inflight.Wait()
}

// Subscribe returns a channel of fill and cancel outcomes.
func (m *Matcher) Subscribe() chan domain.OrderEvent {
	return m.events.Subscribe()
}

// Unsubscribe releases a channel returned by Subscribe.
func (m *Matcher) Unsubscribe(ch chan domain.OrderEvent) {
	m.events.Unsubscribe(ch)
}

func (m *Matcher) remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.orders, id)
}

func (m *Matcher) settleCancel(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cancelling, id)
	delete(m.orders, id)
}

func (m *Matcher) revert(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[id]; ok && o.Status == domain.OrderStatusFilling {
		o.Status = domain.OrderStatusPending
	}
}

func (m *Matcher) applyWallet(updates domain.BalanceUpdates) {
	if err := m.wallet.ApplyDeltas(updates); err != nil && !errors.Is(err, domain.ErrMissingDeltas) {
		m.logger.Error("Failed to apply wallet updates", zap.Error(err))
	}
}

func (m *Matcher) emit(kind domain.OrderEventKind, order domain.PendingOrder, price decimal.Decimal, err error) {
	e := domain.OrderEvent{Kind: kind, Order: order, Price: price, Time: m.clock.Now()}
	if err != nil {
		e.Err = err.Error()
	}
	m.events.Publish(e)
}
