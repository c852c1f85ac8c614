package stream

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cuong-tay/web-trade-crypto-sub000/internal/events"
)

// DefaultUIWindow is the debounce applied to UI price subscribers.
const DefaultUIWindow = 100 * time.Millisecond

// PriceUpdate is a published last trade price.
type PriceUpdate struct {
	Instrument string          `json:"instrument"`
	Price      decimal.Decimal `json:"price"`
	Time       time.Time       `json:"ts"`
}

// PriceTicker holds the latest observed price. Readers that need every
// update (the order matcher) use Latest or Subscribe; UI readers use
// SubscribeUI which coalesces bursts.
type PriceTicker struct {
	mu       sync.RWMutex
	latest   PriceUpdate
	seen     bool
	bus      *events.Broadcaster[PriceUpdate]
	uiWindow time.Duration
}

// NewPriceTicker creates a ticker. uiWindow <= 0 uses DefaultUIWindow.
func NewPriceTicker(uiWindow time.Duration) *PriceTicker {
	if uiWindow <= 0 {
		uiWindow = DefaultUIWindow
	}
	return &PriceTicker{
		bus:      events.NewBroadcaster[PriceUpdate](256),
		uiWindow: uiWindow,
	}
}

// Publish records u as the latest price and notifies subscribers.
func (p *PriceTicker) Publish(u PriceUpdate) {
	p.mu.Lock()
	p.latest = u
	p.seen = true
	p.mu.Unlock()

	p.bus.Publish(u)
}

// Latest returns the most recent price and whether any has been observed.
func (p *PriceTicker) Latest() (decimal.Decimal, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest.Price, p.seen
}

// LatestFor returns the most recent price if it was published for
// instrument, an exchange symbol such as BTCUSDT.
func (p *PriceTicker) LatestFor(instrument string) (decimal.Decimal, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.seen || p.latest.Instrument != instrument {
		return decimal.Decimal{}, false
	}
	return p.latest.Price, true
}

// LatestUpdate returns the full latest update.
func (p *PriceTicker) LatestUpdate() (PriceUpdate, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest, p.seen
}

// Reset forgets the latest price, used when the instrument changes.
func (p *PriceTicker) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.latest = PriceUpdate{}
	p.seen = false
}

// Subscribe returns an undelayed channel of updates.
func (p *PriceTicker) Subscribe() chan PriceUpdate {
	return p.bus.Subscribe()
}

// Unsubscribe releases a channel returned by Subscribe.
func (p *PriceTicker) Unsubscribe(ch chan PriceUpdate) {
	p.bus.Unsubscribe(ch)
}

// SubscribeUI returns a debounced stream of updates that ends with ctx.
func (p *PriceTicker) SubscribeUI(ctx context.Context) <-chan PriceUpdate {
	ch := p.bus.Subscribe()
	go func() {
		<-ctx.Done()
		p.bus.Unsubscribe(ch)
	}()
	return events.Coalesce(ctx, ch, p.uiWindow)
}
