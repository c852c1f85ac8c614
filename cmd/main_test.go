package main

import (
	"testing"

	binance "github.com/adshao/go-binance/v2"
	bybit "github.com/hirokisan/bybit/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuong-tay/web-trade-crypto-sub000/config"
	"github.com/cuong-tay/web-trade-crypto-sub000/internal/clients"
	"github.com/cuong-tay/web-trade-crypto-sub000/internal/domain"
)

func TestNewExchangeClient(t *testing.T) {
	client, err := newExchangeClient(config.Config{Platform: "binance"})
	require.NoError(t, err)
	assert.IsType(t, &binance.Client{}, client)

	client, err = newExchangeClient(config.Config{Platform: "bybit"})
	require.NoError(t, err)
	assert.IsType(t, &bybit.Client{}, client)

	client, err = newExchangeClient(config.Config{Platform: "simulate"})
	require.NoError(t, err)
	assert.IsType(t, &clients.SimulateClient{}, client)

	_, err = newExchangeClient(config.Config{Platform: "kraken"})
	assert.ErrorIs(t, err, domain.ErrUnsupportedPlatform)
}
