package stream

import (
	"context"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/cuong-tay/web-trade-crypto-sub000/internal/domain"
	"github.com/cuong-tay/web-trade-crypto-sub000/internal/events"
	"github.com/cuong-tay/web-trade-crypto-sub000/internal/services/barseries"
	"github.com/cuong-tay/web-trade-crypto-sub000/pkg/retrier"
)

const (
	// DefaultHistoryLimit is the number of bars requested when a series opens.
	DefaultHistoryLimit = barseries.DefaultCapacity
	// DefaultMaxReconnectAttempts is the consecutive failure budget before
	// the feed is reported unavailable.
	DefaultMaxReconnectAttempts = 10
)

// State of a streaming connection.
type State int

const (
	// StateIdle is a connection that was never opened.
	StateIdle State = iota
	// StateConnecting is dialing the feed.
	StateConnecting
	// StateConnected is streaming bars.
	StateConnected
	// StateDisconnected lost its session and waits for a scheduled reconnect,
	// or gave up once the budget ran out.
	StateDisconnected
	// StateClosed was torn down by Close or by a newer Open.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// HistoryProvider returns historical bars, oldest first.
type HistoryProvider interface {
	GetKlines(ctx context.Context, pair domain.Pair, granularity domain.Granularity, limit int) ([]domain.Bar, error)
}

// Config tunes a Connection. Zero values fall back to defaults.
type Config struct {
	HistoryLimit         int
	MaxReconnectAttempts int
	Backoff              retrier.Schedule
}

// Connection keeps one live bar feed. Open switches it to a new instrument
// and granularity; Close tears it down for good until the next Open.
type Connection struct {
	feed    Feed
	dialer  Dialer
	history HistoryProvider
	prices  *PriceTicker
	clock   clock.Clock
	logger  *zap.Logger
	cfg     Config
	events  *events.Broadcaster[domain.FeedEvent]

	mu          sync.Mutex
	state       State
	instrument  domain.Pair
	granularity domain.Granularity
	series      *barseries.Series
	generation  uint64
	session     Session
	timer       *clock.Timer
	failures    int
	unavailable bool
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewConnection wires a connection. A nil clock uses the wall clock and a
// nil logger discards output.
func NewConnection(
	feed Feed,
	dialer Dialer,
	history HistoryProvider,
	prices *PriceTicker,
	clk clock.Clock,
	cfg Config,
	logger *zap.Logger,
) *Connection {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if len(cfg.Backoff) == 0 {
		cfg.Backoff = retrier.ReconnectSchedule
	}

	return &Connection{
		feed:    feed,
		dialer:  dialer,
		history: history,
		prices:  prices,
		clock:   clk,
		logger:  logger.With(zap.String("feed", feed.Name())),
		cfg:     cfg,
		events:  events.NewBroadcaster[domain.FeedEvent](64),
		state:   StateIdle,
	}
}

// Open loads history for the new selection, then tears down any current
// session, seeds a fresh series and starts streaming. History errors are
// returned and leave the current session running. Connection errors are not
// returned: they go through the reconnect path.
func (c *Connection) Open(ctx context.Context, instrument domain.Pair, granularity domain.Granularity) error {
	bars, err := c.history.GetKlines(ctx, instrument, granularity, c.cfg.HistoryLimit)
	if err != nil {
		return errors.Wrapf(err, "load history for %s %s", instrument.String(), granularity)
	}

	series := barseries.New(instrument, granularity, c.cfg.HistoryLimit)
	kept := series.Seed(bars)

	c.teardown()

	c.mu.Lock()
	c.generation++
	gen := c.generation
	c.instrument = instrument
	c.granularity = granularity
	c.series = series
	c.failures = 0
	c.unavailable = false
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.mu.Unlock()

	c.logger.Info("Series seeded",
		zap.String("pair", instrument.String()),
		zap.String("granularity", granularity.String()),
		zap.Int("bars", kept))

	c.prices.Reset()
	if last, ok := series.Last(); ok {
		c.prices.Publish(PriceUpdate{Instrument: instrument.Symbol(), Price: last.Close, Time: c.clock.Now()})
	}

	c.connect(gen)
	return nil
}

// Close cancels a pending reconnect and closes the session without
// scheduling another attempt.
func (c *Connection) Close() {
	if c.teardown() {
		c.emit(domain.FeedEvent{Kind: domain.FeedClosed})
	}
}

// teardown invalidates the current generation. It reports whether there was
// anything to tear down.
func (c *Connection) teardown() bool {
	c.mu.Lock()
	if c.state == StateIdle || c.state == StateClosed {
		c.mu.Unlock()
		return false
	}
	c.generation++
	c.state = StateClosed
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	sess := c.session
	c.session = nil
	c.mu.Unlock()

	if sess != nil {
		if err := sess.Close(); err != nil {
			c.logger.Debug("Session close failed", zap.Error(err))
		}
	}
	c.wg.Wait()
	return true
}

func (c *Connection) connect(gen uint64) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.state = StateConnecting
	ctx := c.ctx
	instrument, granularity := c.instrument, c.granularity
	attempt := c.failures
	c.mu.Unlock()

	c.emit(domain.FeedEvent{Kind: domain.FeedConnecting, Attempt: attempt})

	spec, err := c.dialSpec(instrument, granularity)
	if err != nil {
		c.disconnected(gen, err)
		return
	}

	sess, err := c.dialer.Dial(ctx, spec)
	if err != nil {
		c.disconnected(gen, err)
		return
	}

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		_ = sess.Close()
		return
	}
	c.session = sess
	c.state = StateConnected
	c.failures = 0
	c.wg.Add(1)
	c.mu.Unlock()

	c.logger.Info("Feed connected", zap.String("endpoint", spec.Endpoint))
	c.emit(domain.FeedEvent{Kind: domain.FeedConnected})

	go c.readLoop(gen, sess)
}

func (c *Connection) dialSpec(instrument domain.Pair, granularity domain.Granularity) (DialSpec, error) {
	endpoint, err := c.feed.Endpoint(instrument, granularity)
	if err != nil {
		return DialSpec{}, err
	}
	sub, err := c.feed.Subscription(instrument, granularity)
	if err != nil {
		return DialSpec{}, err
	}
	return DialSpec{Endpoint: endpoint, Subscription: sub, Heartbeat: c.feed.Heartbeat()}, nil
}

func (c *Connection) readLoop(gen uint64, sess Session) {
	defer c.wg.Done()

	for {
		payload, err := sess.Read()
		if err != nil {
			_ = sess.Close()
			c.disconnected(gen, err)
			return
		}
		c.handleMessage(gen, payload)
	}
}

func (c *Connection) handleMessage(gen uint64, payload []byte) {
	bars, err := c.decode(payload)
	if err != nil {
		c.logger.Warn("Dropping undecodable feed message", zap.Error(err), zap.Int("bytes", len(payload)))
		return
	}
	if len(bars) == 0 {
		return
	}

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	series := c.series
	symbol := c.instrument.Symbol()
	for _, bar := range bars {
		series.Apply(bar)
	}
	c.mu.Unlock()

	last := bars[len(bars)-1]
	c.prices.Publish(PriceUpdate{Instrument: symbol, Price: last.Close, Time: c.clock.Now()})
}

func (c *Connection) decode(payload []byte) (bars []domain.Bar, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("decoder panic: %v", r)
		}
	}()
	return c.feed.Decode(payload)
}

// disconnected moves to DISCONNECTED and schedules the next attempt, or
// reports the feed unavailable once the budget is spent.
func (c *Connection) disconnected(gen uint64, cause error) {
	c.mu.Lock()
	if gen != c.generation || c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.session = nil
	c.state = StateDisconnected

	if c.failures >= c.cfg.MaxReconnectAttempts {
		report := !c.unavailable
		c.unavailable = true
		failures := c.failures
		c.mu.Unlock()

		c.emit(domain.FeedEvent{Kind: domain.FeedDisconnected, Err: errString(cause)})
		if report {
			c.logger.Error("Feed unavailable, giving up", zap.Int("attempts", failures), zap.Error(cause))
			c.emit(domain.FeedEvent{Kind: domain.FeedUnavailable, Attempt: failures, Err: errString(cause)})
		}
		return
	}

	delay := c.cfg.Backoff.Delay(c.failures)
	c.failures++
	attempt := c.failures
	c.timer = c.clock.AfterFunc(delay, func() { c.connect(gen) })
	c.mu.Unlock()

	c.logger.Warn("Feed disconnected, reconnect scheduled",
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay),
		zap.Error(cause))
	c.emit(domain.FeedEvent{Kind: domain.FeedDisconnected, Err: errString(cause)})
	c.emit(domain.FeedEvent{Kind: domain.FeedReconnectScheduled, Attempt: attempt, Delay: delay})
}

func (c *Connection) emit(e domain.FeedEvent) {
	c.mu.Lock()
	e.Instrument = c.instrument.Symbol()
	e.Granularity = c.granularity
	c.mu.Unlock()
	e.Time = c.clock.Now()
	c.events.Publish(e)
}

// State returns the current connection state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Unavailable reports whether the reconnect budget was exhausted.
func (c *Connection) Unavailable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unavailable
}

// Series returns a read-only snapshot of the current bar series.
func (c *Connection) Series() []domain.Bar {
	c.mu.Lock()
	series := c.series
	c.mu.Unlock()
	if series == nil {
		return nil
	}
	return series.Snapshot()
}

// Selection returns the instrument and granularity last opened.
func (c *Connection) Selection() (domain.Pair, domain.Granularity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.instrument, c.granularity
}

// Prices returns the ticker the connection publishes to.
func (c *Connection) Prices() *PriceTicker {
	return c.prices
}

// Subscribe returns a channel of feed state events.
func (c *Connection) Subscribe() chan domain.FeedEvent {
	return c.events.Subscribe()
}

// Unsubscribe releases a channel returned by Subscribe.
func (c *Connection) Unsubscribe(ch chan domain.FeedEvent) {
	c.events.Unsubscribe(ch)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
