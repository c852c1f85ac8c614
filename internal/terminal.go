package internal

import (
	"context"
	"io"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cuong-tay/web-trade-crypto-sub000/config"
	"github.com/cuong-tay/web-trade-crypto-sub000/internal/clients"
	"github.com/cuong-tay/web-trade-crypto-sub000/internal/domain"
	"github.com/cuong-tay/web-trade-crypto-sub000/internal/services/market/collector"
	"github.com/cuong-tay/web-trade-crypto-sub000/internal/services/market/indicators"
	"github.com/cuong-tay/web-trade-crypto-sub000/internal/services/matcher"
	"github.com/cuong-tay/web-trade-crypto-sub000/internal/services/positions"
	"github.com/cuong-tay/web-trade-crypto-sub000/internal/services/stream"
	"github.com/cuong-tay/web-trade-crypto-sub000/internal/services/wallet"
	"github.com/cuong-tay/web-trade-crypto-sub000/internal/storage/walletcache"
)

// tradingBackend is everything the terminal asks of the trading server.
type tradingBackend interface {
	matcher.Executor
	matcher.Lister
	wallet.BalanceSource
	positions.Closer
}

// WalletJournal replays persisted wallet snapshots.
type WalletJournal interface {
	SnapshotsAfter(index uint64) ([]domain.WalletRecord, error)
}

// Updates are the live event streams of one subscriber. Every channel is
// closed once the subscription context ends.
type Updates struct {
	Prices <-chan stream.PriceUpdate
	Feed   <-chan domain.FeedEvent
	Orders <-chan domain.OrderEvent
	Wallet <-chan domain.WalletSnapshot
}

type terminalDeps struct {
	feed    stream.Feed
	dialer  stream.Dialer
	history stream.HistoryProvider
	backend tradingBackend
	store   wallet.Store
	journal WalletJournal
	clock   clock.Clock
}

// Terminal runs one instrument session: the live bar stream, the pending
// order matcher and the wallet it settles into.
type Terminal struct {
	logger  *zap.Logger
	store   wallet.Store
	journal WalletJournal

	prices    *stream.PriceTicker
	conn      *stream.Connection
	matcher   *matcher.Matcher
	wallet    *wallet.Reconciler
	positions *positions.PositionCloser

	switching sync.Mutex

	mu          sync.Mutex
	instrument  domain.Pair
	granularity domain.Granularity
	marketType  domain.MarketType
}

// NewTerminal builds a terminal for the exchange client created from cfg.
func NewTerminal(cfg config.Config, client any, logger *zap.Logger) (*Terminal, error) {
	provider, err := newServiceProvider(client)
	if err != nil {
		return nil, err
	}

	klines, err := provider.KlineProvider(cfg.MarketType)
	if err != nil {
		return nil, errors.Wrap(err, "create kline provider")
	}
	feed, err := provider.Feed(cfg.MarketType)
	if err != nil {
		return nil, errors.Wrap(err, "create market feed")
	}

	store, journal, err := openWalletStore(cfg)
	if err != nil {
		return nil, err
	}

	return newTerminal(cfg, terminalDeps{
		feed:    feed,
		dialer:  stream.NewWSDialer(0, logger),
		history: collector.NewRetryingProvider(klines, logger),
		backend: clients.NewTradingAPI(cfg.APIBaseURL, cfg.Secrets.APIToken, logger),
		store:   store,
		journal: journal,
		clock:   clock.New(),
	}, logger), nil
}

func openWalletStore(cfg config.Config) (wallet.Store, WalletJournal, error) {
	if cfg.CacheMode == "file" {
		store, err := walletcache.NewFileStore(cfg.CacheDir)
		if err != nil {
			return nil, nil, errors.Wrap(err, "open wallet file cache")
		}
		return store, nil, nil
	}

	store, err := walletcache.NewWALStore(cfg.CacheDir)
	if err != nil {
		return nil, nil, errors.Wrap(err, "open wallet journal")
	}
	return store, store, nil
}

func newTerminal(cfg config.Config, deps terminalDeps, logger *zap.Logger) *Terminal {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("pair", cfg.Pair.String()), zap.String("market", string(cfg.MarketType)))

	prices := stream.NewPriceTicker(cfg.UIDebounce)
	reconciler := wallet.NewReconciler(deps.store, deps.backend, logger.Named("wallet"))

	return &Terminal{
		logger:  logger,
		store:   deps.store,
		journal: deps.journal,
		prices:  prices,
		conn: stream.NewConnection(deps.feed, deps.dialer, deps.history, prices, deps.clock, stream.Config{
			HistoryLimit:         cfg.HistoryLimit,
			MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		}, logger.Named("stream")),
		matcher: matcher.New(deps.backend, deps.backend, prices, reconciler, deps.clock, matcher.Config{
			Instrument: cfg.Pair,
			MarketType: cfg.MarketType,
			Interval:   cfg.MatchInterval,
		}, logger.Named("matcher")),
		wallet:      reconciler,
		positions:   positions.NewPositionCloser(deps.backend, prices, reconciler, logger.Named("positions")),
		instrument:  cfg.Pair,
		granularity: cfg.Granularity,
		marketType:  cfg.MarketType,
	}
}

// Run refreshes the wallet, opens the stream and matches orders until ctx is
// done. A failed history load is fatal; a failed wallet refresh or order
// listing is logged and the session continues on cached state.
func (t *Terminal) Run(ctx context.Context) error {
	if err := t.wallet.Refresh(ctx); err != nil {
		t.logger.Warn("Wallet refresh failed, using cached snapshot", zap.Error(err))
	}

	instrument, granularity := t.Selection()
	if err := t.conn.Open(ctx, instrument, granularity); err != nil {
		return errors.Wrap(err, "open market stream")
	}
	defer t.conn.Close()

	if err := t.matcher.Resync(ctx); err != nil {
		t.logger.Warn("Loading pending orders failed", zap.Error(err))
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return t.matcher.Run(ctx)
	})
	g.Go(func() error {
		t.watchFeed(ctx)
		return nil
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// watchFeed logs session transitions and resyncs pending orders after a
// reconnect, since fills may have happened server side in the gap.
func (t *Terminal) watchFeed(ctx context.Context) {
	ch := t.conn.Subscribe()
	defer t.conn.Unsubscribe(ch)

	reconnecting := false
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			switch e.Kind {
			case domain.FeedDisconnected:
				reconnecting = true
			case domain.FeedConnected:
				if reconnecting {
					reconnecting = false
					if err := t.matcher.Resync(ctx); err != nil {
						t.logger.Warn("Resync after reconnect failed", zap.Error(err))
					}
				}
			case domain.FeedUnavailable:
				t.logger.Error("Market feed unavailable, giving up reconnecting",
					zap.String("instrument", e.Instrument), zap.String("error", e.Err))
			}
		}
	}
}

// SwitchInstrument reopens the stream on a new instrument and granularity and
// rebuilds the pending set for it. An empty granularity keeps the current one.
// Matching is suspended for the whole switch. If the new history cannot be
// loaded the current stream keeps running and the previous pending set is
// reloaded.
func (t *Terminal) SwitchInstrument(ctx context.Context, instrument domain.Pair, granularity domain.Granularity) error {
	t.switching.Lock()
	defer t.switching.Unlock()

	t.mu.Lock()
	if granularity == "" {
		granularity = t.granularity
	}
	previous, marketType := t.instrument, t.marketType
	t.mu.Unlock()

	t.matcher.Suspend(instrument, marketType)

	if err := t.conn.Open(ctx, instrument, granularity); err != nil {
		if rerr := t.matcher.SetInstrument(context.WithoutCancel(ctx), previous, marketType); rerr != nil {
			t.logger.Warn("Reloading pending orders after failed switch failed", zap.Error(rerr))
		}
		return errors.Wrapf(err, "switch to %s %s", instrument, granularity)
	}

	t.mu.Lock()
	t.instrument, t.granularity = instrument, granularity
	t.mu.Unlock()

	t.logger.Info("Switched instrument", zap.String("instrument", instrument.String()), zap.String("granularity", granularity.String()))

	return t.matcher.Resync(ctx)
}

// Close releases the wallet cache.
func (t *Terminal) Close() error {
	t.conn.Close()
	t.matcher.Wait()
	if c, ok := t.store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Selection returns the active instrument and granularity.
func (t *Terminal) Selection() (domain.Pair, domain.Granularity) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.instrument, t.granularity
}

// MarketType returns the market the session trades on.
func (t *Terminal) MarketType() domain.MarketType {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.marketType
}

// Series returns a copy of the live bar series.
func (t *Terminal) Series() []domain.Bar {
	return t.conn.Series()
}

// Indicators computes EMA20, EMA50 and RSI14 over the live series.
func (t *Terminal) Indicators() []indicators.Point {
	return indicators.Compute(t.conn.Series())
}

// FeedUnavailable reports whether the reconnect budget ran out.
func (t *Terminal) FeedUnavailable() bool {
	return t.conn.Unavailable()
}

// LatestPrice returns the last observed trade price.
func (t *Terminal) LatestPrice() (decimal.Decimal, bool) {
	return t.prices.Latest()
}

// Wallet returns a copy of the current wallet snapshot.
func (t *Terminal) Wallet() domain.WalletSnapshot {
	return t.wallet.Snapshot()
}

// RefreshWallet replaces the wallet with the server's balances.
func (t *Terminal) RefreshWallet(ctx context.Context) error {
	return t.wallet.Refresh(ctx)
}

// Orders returns the tracked pending orders.
func (t *Terminal) Orders() []domain.PendingOrder {
	return t.matcher.Pending()
}

// TrackOrder starts matching an order the backend just acknowledged.
func (t *Terminal) TrackOrder(order domain.PendingOrder) error {
	return t.matcher.Track(order)
}

// CancelOrder cancels a tracked pending order.
func (t *Terminal) CancelOrder(ctx context.Context, id string) error {
	return t.matcher.Cancel(ctx, id)
}

// ClosePosition closes a futures position, at the latest price when
// exitPrice is zero.
func (t *Terminal) ClosePosition(ctx context.Context, positionID string, exitPrice decimal.Decimal) (domain.ExecutionResult, error) {
	return t.positions.Close(ctx, positionID, exitPrice)
}

// Journal returns the wallet journal, or nil when the cache keeps only the
// latest snapshot.
func (t *Terminal) Journal() WalletJournal {
	return t.journal
}

// Subscribe fans out live updates until ctx is done. Prices are debounced.
func (t *Terminal) Subscribe(ctx context.Context) Updates {
	feed := t.conn.Subscribe()
	orders := t.matcher.Subscribe()
	wallets := t.wallet.Subscribe()

	go func() {
		<-ctx.Done()
		t.conn.Unsubscribe(feed)
		t.matcher.Unsubscribe(orders)
		t.wallet.Unsubscribe(wallets)
	}()

	return Updates{
		Prices: t.prices.SubscribeUI(ctx),
		Feed:   feed,
		Orders: orders,
		Wallet: wallets,
	}
}
