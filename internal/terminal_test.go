package internal

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cuong-tay/web-trade-crypto-sub000/config"
	"github.com/cuong-tay/web-trade-crypto-sub000/internal/clients"
	"github.com/cuong-tay/web-trade-crypto-sub000/internal/domain"
	"github.com/cuong-tay/web-trade-crypto-sub000/internal/services/stream"
	"github.com/cuong-tay/web-trade-crypto-sub000/internal/storage/walletcache"
)

var btcusdt = domain.Pair{From: "BTC", To: "USDT"}

// stubHistory returns one bar per instrument, closing at 101 unless closes
// names another price.
type stubHistory struct {
	closes map[domain.Pair]int64
	fail   map[domain.Pair]bool
}

func (h stubHistory) GetKlines(_ context.Context, pair domain.Pair, _ domain.Granularity, _ int) ([]domain.Bar, error) {
	if h.fail[pair] {
		return nil, errors.Errorf("klines for %s: rate limited", pair)
	}
	c := decimal.NewFromInt(101)
	if v, ok := h.closes[pair]; ok {
		c = decimal.NewFromInt(v)
	}
	return []domain.Bar{{OpenTime: 60_000, Open: c, High: c, Low: c, Close: c, Volume: decimal.NewFromInt(1)}}, nil
}

type fakeSession struct {
	frames chan []byte
	done   chan struct{}
	once   sync.Once
}

func (s *fakeSession) Read() ([]byte, error) {
	select {
	case f := <-s.frames:
		return f, nil
	case <-s.done:
		return nil, io.EOF
	}
}

func (s *fakeSession) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

type fakeDialer struct {
	mu       sync.Mutex
	sessions []*fakeSession
	specs    []stream.DialSpec

	// when set, Dial reports on entered and waits for gate
	entered chan struct{}
	gate    chan struct{}
}

func (d *fakeDialer) Dial(_ context.Context, spec stream.DialSpec) (stream.Session, error) {
	d.mu.Lock()
	entered, gate := d.entered, d.gate
	d.mu.Unlock()
	if gate != nil {
		entered <- struct{}{}
		<-gate
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	s := &fakeSession{frames: make(chan []byte, 8), done: make(chan struct{})}
	d.sessions = append(d.sessions, s)
	d.specs = append(d.specs, spec)
	return s, nil
}

func (d *fakeDialer) hold() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entered = make(chan struct{}, 1)
	d.gate = make(chan struct{})
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.specs)
}

func (d *fakeDialer) last() *fakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessions[len(d.sessions)-1]
}

func (d *fakeDialer) lastSpec() stream.DialSpec {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.specs[len(d.specs)-1]
}

type fakeBackend struct {
	mu      sync.Mutex
	orders  map[domain.Pair][]domain.PendingOrder
	fills   []domain.FillRequest
	balance domain.WalletSnapshot
}

func (b *fakeBackend) SubmitFill(_ context.Context, order domain.PendingOrder, req domain.FillRequest) (domain.ExecutionResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fills = append(b.fills, req)
	remaining := b.orders[order.Instrument][:0]
	for _, o := range b.orders[order.Instrument] {
		if o.ID != order.ID {
			remaining = append(remaining, o)
		}
	}
	b.orders[order.Instrument] = remaining
	return domain.ExecutionResult{
		Status: "filled",
		Wallet: domain.BalanceUpdates{"BTC": decimal.NewFromInt(1), "USDT": decimal.NewFromInt(900)},
	}, nil
}

func (b *fakeBackend) CancelOrder(context.Context, domain.PendingOrder) (domain.ExecutionResult, error) {
	return domain.ExecutionResult{Status: "cancelled", Wallet: domain.BalanceUpdates{"USDT": decimal.NewFromInt(1000)}}, nil
}

func (b *fakeBackend) ListPendingOrders(_ context.Context, instrument domain.Pair, _ domain.MarketType) ([]domain.PendingOrder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.PendingOrder(nil), b.orders[instrument]...), nil
}

func (b *fakeBackend) GetBalances(context.Context) (domain.WalletSnapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balance.Clone(), nil
}

func (b *fakeBackend) ClosePosition(_ context.Context, _ string, _ decimal.Decimal) (domain.ExecutionResult, error) {
	return domain.ExecutionResult{Status: "closed", Wallet: domain.BalanceUpdates{"USDT": decimal.NewFromInt(1050)}}, nil
}

func (b *fakeBackend) fillCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.fills)
}

func klineFrame(openTime int64, closePrice string) []byte {
	return []byte(fmt.Sprintf(`{"e":"kline","k":{"t":%d,"o":"1","h":"1","l":"1","c":%q,"v":"1"}}`, openTime, closePrice))
}

func newTestTerminal(t *testing.T, backend *fakeBackend, dialer *fakeDialer) *Terminal {
	t.Helper()
	return newTestTerminalWithHistory(t, backend, dialer, stubHistory{})
}

func newTestTerminalWithHistory(t *testing.T, backend *fakeBackend, dialer *fakeDialer, history stubHistory) *Terminal {
	t.Helper()

	store, err := walletcache.NewFileStore(t.TempDir())
	require.NoError(t, err)

	cfg := config.Config{
		Platform:      "binance",
		Pair:          btcusdt,
		MarketType:    domain.MarketTypeSpot,
		Granularity:   domain.Granularity1m,
		MatchInterval: 10 * time.Millisecond,
		HistoryLimit:  800,
		UIDebounce:    time.Millisecond,
	}

	return newTerminal(cfg, terminalDeps{
		feed:    stream.NewBinanceFeed(stream.BinanceSpotStreamURL),
		dialer:  dialer,
		history: history,
		backend: backend,
		store:   store,
		clock:   clock.NewMock(),
	}, zap.NewNop())
}

func buyOrder(id, limit string) domain.PendingOrder {
	return domain.PendingOrder{
		ID:         id,
		Instrument: btcusdt,
		Side:       domain.SideBuy,
		LimitPrice: decimal.RequireFromString(limit),
		Quantity:   decimal.NewFromInt(1),
		Status:     domain.OrderStatusPending,
	}
}

func TestTerminal_RunFillsCrossedOrder(t *testing.T) {
	backend := &fakeBackend{
		orders:  map[domain.Pair][]domain.PendingOrder{btcusdt: {buyOrder("o1", "100")}},
		balance: domain.WalletSnapshot{"USDT": {Available: decimal.NewFromInt(1000), Total: decimal.NewFromInt(1000)}},
	}
	dialer := &fakeDialer{}
	term := newTestTerminal(t, backend, dialer)
	defer term.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- term.Run(ctx) }()

	require.Eventually(t, func() bool { return len(term.Orders()) == 1 }, time.Second, 5*time.Millisecond)
	balance, ok := term.wallet.Balance("USDT")
	require.True(t, ok)
	assert.True(t, balance.Total.Equal(decimal.NewFromInt(1000)))

	// history closes at 101, above the limit
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, backend.fillCount())

	dialer.last().frames <- klineFrame(120_000, "99.5")

	require.Eventually(t, func() bool { return backend.fillCount() == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(term.Orders()) == 0 }, time.Second, 5*time.Millisecond)

	wallet := term.Wallet()
	assert.True(t, wallet["BTC"].Total.Equal(decimal.NewFromInt(1)))
	assert.True(t, wallet["USDT"].Available.Equal(decimal.NewFromInt(900)))
	assert.Len(t, term.Series(), 2)

	backend.mu.Lock()
	assert.True(t, backend.fills[0].TriggerPrice.Equal(decimal.NewFromInt(100)))
	backend.mu.Unlock()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("run did not stop")
	}
}

func TestTerminal_SwitchInstrument(t *testing.T) {
	ethusdt := domain.Pair{From: "ETH", To: "USDT"}
	backend := &fakeBackend{
		orders: map[domain.Pair][]domain.PendingOrder{
			btcusdt: {buyOrder("o1", "100")},
			ethusdt: {{ID: "o2", Instrument: ethusdt, Side: domain.SideSell, LimitPrice: decimal.NewFromInt(5000), Quantity: decimal.NewFromInt(2)}},
		},
	}
	dialer := &fakeDialer{}
	term := newTestTerminal(t, backend, dialer)
	defer term.Close()

	ctx := context.Background()
	require.NoError(t, term.conn.Open(ctx, btcusdt, domain.Granularity1m))
	require.NoError(t, term.matcher.Resync(ctx))
	require.Len(t, term.Orders(), 1)

	require.NoError(t, term.SwitchInstrument(ctx, ethusdt, domain.Granularity5m))

	instrument, granularity := term.Selection()
	assert.Equal(t, ethusdt, instrument)
	assert.Equal(t, domain.Granularity5m, granularity)
	assert.Contains(t, dialer.lastSpec().Endpoint, "ethusdt@kline_5m")

	orders := term.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, "o2", orders[0].ID)

	// empty granularity keeps the current one
	require.NoError(t, term.SwitchInstrument(ctx, btcusdt, ""))
	_, granularity = term.Selection()
	assert.Equal(t, domain.Granularity5m, granularity)
}

func TestTerminal_SwitchSuspendsMatching(t *testing.T) {
	ethusdt := domain.Pair{From: "ETH", To: "USDT"}
	backend := &fakeBackend{orders: map[domain.Pair][]domain.PendingOrder{btcusdt: {buyOrder("btc-buy", "100")}}}
	dialer := &fakeDialer{}
	term := newTestTerminalWithHistory(t, backend, dialer, stubHistory{closes: map[domain.Pair]int64{ethusdt: 50}})
	defer term.Close()

	ctx := context.Background()
	require.NoError(t, term.conn.Open(ctx, btcusdt, domain.Granularity1m))
	require.NoError(t, term.matcher.Resync(ctx))
	assert.Zero(t, term.matcher.RunCycle(ctx))

	dialer.hold()
	switched := make(chan error, 1)
	go func() { switched <- term.SwitchInstrument(ctx, ethusdt, "") }()
	<-dialer.entered

	update, ok := term.prices.LatestUpdate()
	require.True(t, ok)
	assert.Equal(t, "ETHUSDT", update.Instrument, "the new instrument's last close is already published")
	assert.Zero(t, term.matcher.RunCycle(ctx), "orders of the old instrument are not matched while the stream switches")

	close(dialer.gate)
	require.NoError(t, <-switched)
	term.matcher.Wait()
	assert.Zero(t, backend.fillCount())
	assert.Empty(t, term.Orders())
}

func TestTerminal_FailedSwitchKeepsSession(t *testing.T) {
	ethusdt := domain.Pair{From: "ETH", To: "USDT"}
	backend := &fakeBackend{orders: map[domain.Pair][]domain.PendingOrder{btcusdt: {buyOrder("o1", "100")}}}
	dialer := &fakeDialer{}
	term := newTestTerminalWithHistory(t, backend, dialer, stubHistory{fail: map[domain.Pair]bool{ethusdt: true}})
	defer term.Close()

	ctx := context.Background()
	require.NoError(t, term.conn.Open(ctx, btcusdt, domain.Granularity1m))
	require.NoError(t, term.matcher.Resync(ctx))

	err := term.SwitchInstrument(ctx, ethusdt, domain.Granularity5m)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")

	instrument, granularity := term.Selection()
	assert.Equal(t, btcusdt, instrument)
	assert.Equal(t, domain.Granularity1m, granularity)
	assert.Equal(t, stream.StateConnected, term.conn.State())
	assert.Equal(t, 1, dialer.dials())

	orders := term.Orders()
	require.Len(t, orders, 1, "the previous pending set is reloaded")
	assert.Equal(t, "o1", orders[0].ID)

	dialer.last().frames <- klineFrame(120_000, "99")
	require.Eventually(t, func() bool { return term.matcher.RunCycle(ctx) == 1 }, time.Second, 5*time.Millisecond)
	term.matcher.Wait()
	assert.Equal(t, 1, backend.fillCount())
}

func TestTerminal_TrackOrderIsMatched(t *testing.T) {
	backend := &fakeBackend{orders: map[domain.Pair][]domain.PendingOrder{btcusdt: {buyOrder("o5", "101")}}}
	term := newTestTerminal(t, backend, &fakeDialer{})
	defer term.Close()

	ctx := context.Background()
	require.NoError(t, term.conn.Open(ctx, btcusdt, domain.Granularity1m))

	order := buyOrder("o5", "101")
	order.Instrument = domain.Pair{}
	require.NoError(t, term.TrackOrder(order))
	require.Len(t, term.Orders(), 1)
	assert.Equal(t, btcusdt, term.Orders()[0].Instrument)

	assert.Equal(t, 1, term.matcher.RunCycle(ctx))
	term.matcher.Wait()
	assert.Equal(t, 1, backend.fillCount())
	assert.Empty(t, term.Orders())
}

func TestTerminal_CancelAndClose(t *testing.T) {
	backend := &fakeBackend{orders: map[domain.Pair][]domain.PendingOrder{btcusdt: {buyOrder("o1", "100")}}}
	term := newTestTerminal(t, backend, &fakeDialer{})
	defer term.Close()

	ctx := context.Background()
	require.NoError(t, term.matcher.Resync(ctx))

	require.NoError(t, term.CancelOrder(ctx, "o1"))
	assert.Empty(t, term.Orders())
	assert.True(t, term.Wallet()["USDT"].Total.Equal(decimal.NewFromInt(1000)))

	result, err := term.ClosePosition(ctx, "p1", decimal.NewFromInt(30000))
	require.NoError(t, err)
	assert.Equal(t, "closed", result.Status)
	assert.True(t, term.Wallet()["USDT"].Total.Equal(decimal.NewFromInt(1050)))
}

func TestTerminal_SubscribeEndsWithContext(t *testing.T) {
	backend := &fakeBackend{orders: map[domain.Pair][]domain.PendingOrder{btcusdt: {buyOrder("o1", "100")}}}
	term := newTestTerminal(t, backend, &fakeDialer{})
	defer term.Close()

	ctx, cancel := context.WithCancel(context.Background())
	updates := term.Subscribe(ctx)

	require.NoError(t, term.matcher.Resync(context.Background()))
	require.NoError(t, term.CancelOrder(context.Background(), "o1"))

	select {
	case e := <-updates.Orders:
		assert.Equal(t, domain.OrderCancelled, e.Kind)
	case <-time.After(time.Second):
		t.Fatal("no order event")
	}
	select {
	case w := <-updates.Wallet:
		assert.Contains(t, w, "USDT")
	case <-time.After(time.Second):
		t.Fatal("no wallet event")
	}

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, open := <-updates.Feed:
			return !open
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestNewServiceProvider(t *testing.T) {
	_, err := newServiceProvider(clients.NewSimulateClient())
	require.NoError(t, err)

	_, err = newServiceProvider("not a client")
	assert.ErrorIs(t, err, domain.ErrUnsupportedPlatform)
}
