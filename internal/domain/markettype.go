package domain

// MarketType type of market the instrument trades on.
type MarketType string

const (
	// MarketTypeSpot spot trading with BUY/SELL orders.
	MarketTypeSpot MarketType = "spot"
	// MarketTypeFutures leveraged trading with LONG/SHORT orders.
	MarketTypeFutures MarketType = "futures"
)

// String returns the string representation.
func (m MarketType) String() string {
	return string(m)
}

// IsValid checks if the MarketType value is valid.
func (m MarketType) IsValid() bool {
	return m == MarketTypeSpot || m == MarketTypeFutures
}
