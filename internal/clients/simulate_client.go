package clients

import (
	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"
)

// SimulateClient serves public Binance market data without credentials, for
// running the terminal against a paper backend.
type SimulateClient struct {
	spot    *binance.Client
	futures *futures.Client
}

// NewSimulateClient creates a new simulate client.
func NewSimulateClient() *SimulateClient {
	return &SimulateClient{
		spot:    binance.NewClient("", ""),
		futures: binance.NewFuturesClient("", ""),
	}
}

// Spot returns the keyless spot client.
func (c *SimulateClient) Spot() *binance.Client {
	return c.spot
}

// Futures returns the keyless futures client.
func (c *SimulateClient) Futures() *futures.Client {
	return c.futures
}
