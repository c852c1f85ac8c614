// Package domain defines the core data structures shared by the market feed,
// the pending order matcher and the wallet reconciler.
package domain

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// quoteAssets lists quote currencies recognised when splitting exchange symbols.
var quoteAssets = []string{"USDT", "USDC", "FDUSD", "BUSD", "USD", "BTC", "ETH"}

// Pair cryptocurrency trading pair.
type Pair struct {
	// From base currency symbol.
	From string
	// To quote currency symbol.
	To string
}

// String returns the string representation, e.g. BTC_USDT.
func (p Pair) String() string {
	return fmt.Sprintf("%s_%s", p.From, p.To)
}

// Symbol returns the concatenated exchange symbol, e.g. BTCUSDT.
func (p Pair) Symbol() string {
	return fmt.Sprintf("%s%s", p.From, p.To)
}

// IsZero reports whether the pair is unset.
func (p Pair) IsZero() bool {
	return p.From == "" && p.To == ""
}

// ParsePair parses the BASE_QUOTE form used in configuration.
func ParsePair(s string) (Pair, error) {
	parts := strings.Split(strings.TrimSpace(s), "_")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Pair{}, errors.Errorf("invalid pair %q, expected BASE_QUOTE", s)
	}

	return Pair{From: strings.ToUpper(parts[0]), To: strings.ToUpper(parts[1])}, nil
}

// PairFromSymbol splits an exchange symbol such as ETHUSDT into its assets.
func PairFromSymbol(symbol string) (Pair, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if strings.Contains(symbol, "_") {
		return ParsePair(symbol)
	}
	for _, quote := range quoteAssets {
		if len(symbol) > len(quote) && strings.HasSuffix(symbol, quote) {
			return Pair{From: strings.TrimSuffix(symbol, quote), To: quote}, nil
		}
	}

	return Pair{}, errors.Errorf("unknown quote asset in symbol %q", symbol)
}
