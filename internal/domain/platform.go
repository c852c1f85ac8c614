package domain

import "github.com/pkg/errors"

// ErrUnsupportedPlatform is returned for exchange clients the terminal has no
// market data adapters for.
var ErrUnsupportedPlatform = errors.New("unsupported platform")
