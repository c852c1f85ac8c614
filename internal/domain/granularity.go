package domain

import (
	"time"

	"github.com/pkg/errors"
)

// ErrUnknownGranularity is returned for bucket sizes the feed does not serve.
var ErrUnknownGranularity = errors.New("unknown granularity")

// Granularity is the bucket size of a bar series, in exchange notation.
type Granularity string

const (
	Granularity1m  Granularity = "1m"
	Granularity5m  Granularity = "5m"
	Granularity15m Granularity = "15m"
	Granularity1h  Granularity = "1h"
	Granularity4h  Granularity = "4h"
	Granularity1d  Granularity = "1d"
)

var granularityDurations = map[Granularity]time.Duration{
	Granularity1m:  time.Minute,
	Granularity5m:  5 * time.Minute,
	Granularity15m: 15 * time.Minute,
	Granularity1h:  time.Hour,
	Granularity4h:  4 * time.Hour,
	Granularity1d:  24 * time.Hour,
}

// Granularities returns the supported bucket sizes, shortest first.
func Granularities() []Granularity {
	return []Granularity{Granularity1m, Granularity5m, Granularity15m, Granularity1h, Granularity4h, Granularity1d}
}

// ParseGranularity validates s against the supported set.
func ParseGranularity(s string) (Granularity, error) {
	g := Granularity(s)
	if _, ok := granularityDurations[g]; !ok {
		return "", errors.Wrapf(ErrUnknownGranularity, "%q", s)
	}

	return g, nil
}

// Duration returns the bucket length, zero for unsupported values.
func (g Granularity) Duration() time.Duration {
	return granularityDurations[g]
}

// String returns the string representation.
func (g Granularity) String() string {
	return string(g)
}
