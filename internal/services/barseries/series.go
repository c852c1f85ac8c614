// Package barseries keeps the ordered OHLCV bars of one instrument and
// granularity.
package barseries

import (
	"sync"

	"github.com/cuong-tay/web-trade-crypto-sub000/internal/domain"
)

// DefaultCapacity bounds the bars kept in memory; it matches the history
// batch requested when a series is opened.
const DefaultCapacity = 800

// Merge tells how an incoming bar was applied.
type Merge int

const (
	// Appended means the bar opened a new bucket.
	Appended Merge = iota
	// Replaced means the bar updated the still-forming last bucket.
	Replaced
)

// Series is an in-memory bar list. Bars are applied in arrival order: a bar
// whose OpenTime equals the last bar's replaces it, any other bar is appended.
type Series struct {
	mu          sync.RWMutex
	instrument  domain.Pair
	granularity domain.Granularity
	capacity    int
	bars        []domain.Bar
}

// New creates an empty series. capacity < 1 means DefaultCapacity.
func New(instrument domain.Pair, granularity domain.Granularity, capacity int) *Series {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Series{
		instrument:  instrument,
		granularity: granularity,
		capacity:    capacity,
		bars:        make([]domain.Bar, 0, capacity),
	}
}

// Instrument returns the pair the series belongs to.
func (s *Series) Instrument() domain.Pair { return s.instrument }

// Granularity returns the bucket size of the series.
func (s *Series) Granularity() domain.Granularity { return s.granularity }

// Seed replaces the content with historical bars. Bars that do not advance
// the open time are skipped so the seeded series is strictly increasing, and
// only the newest capacity bars are kept. It returns the number kept.
func (s *Series) Seed(history []domain.Bar) int {
	seeded := make([]domain.Bar, 0, len(history))
	for _, bar := range history {
		if n := len(seeded); n > 0 {
			last := seeded[n-1].OpenTime
			if bar.OpenTime == last {
				seeded[n-1] = bar
				continue
			}
			if bar.OpenTime < last {
				continue
			}
		}
		seeded = append(seeded, bar)
	}
	if len(seeded) > s.capacity {
		seeded = seeded[len(seeded)-s.capacity:]
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.bars = append(s.bars[:0], seeded...)

	return len(s.bars)
}

// Apply merges one bar fragment received from the feed.
func (s *Series) Apply(bar domain.Bar) Merge {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.bars); n > 0 && s.bars[n-1].OpenTime == bar.OpenTime {
		s.bars[n-1] = bar
		return Replaced
	}

	s.bars = append(s.bars, bar)
	if len(s.bars) > s.capacity {
		// shift instead of reslicing so the backing array does not grow forever
		copy(s.bars, s.bars[len(s.bars)-s.capacity:])
		s.bars = s.bars[:s.capacity]
	}

	return Appended
}

// Last returns the newest bar.
func (s *Series) Last() (domain.Bar, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.bars) == 0 {
		return domain.Bar{}, false
	}
	return s.bars[len(s.bars)-1], true
}

// Len returns the number of bars held.
func (s *Series) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bars)
}

// Snapshot returns a copy of all bars, oldest first.
func (s *Series) Snapshot() []domain.Bar {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Bar, len(s.bars))
	copy(out, s.bars)
	return out
}

// Tail returns a copy of the newest n bars.
func (s *Series) Tail(n int) []domain.Bar {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 {
		return nil
	}
	if n > len(s.bars) {
		n = len(s.bars)
	}
	out := make([]domain.Bar, n)
	copy(out, s.bars[len(s.bars)-n:])
	return out
}
