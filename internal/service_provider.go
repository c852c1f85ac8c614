package internal

import (
	binance "github.com/adshao/go-binance/v2"
	bybit "github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"

	"github.com/cuong-tay/web-trade-crypto-sub000/internal/clients"
	"github.com/cuong-tay/web-trade-crypto-sub000/internal/domain"
	"github.com/cuong-tay/web-trade-crypto-sub000/internal/services/market/collector"
	"github.com/cuong-tay/web-trade-crypto-sub000/internal/services/stream"
)

// serviceProvider builds the venue specific market data adapters.
type serviceProvider interface {
	KlineProvider(marketType domain.MarketType) (collector.KlineProvider, error)
	Feed(marketType domain.MarketType) (stream.Feed, error)
}

// newServiceProvider dispatches on the exchange client type.
func newServiceProvider(client any) (serviceProvider, error) {
	switch c := client.(type) {
	case *binance.Client:
		return &binanceProvider{client: c}, nil
	case *bybit.Client:
		return &bybitProvider{client: c}, nil
	case *clients.SimulateClient:
		return &simulateProvider{client: c}, nil
	case *clients.HyperliquidClient:
		return &hyperliquidProvider{client: c}, nil
	default:
		return nil, errors.Wrapf(domain.ErrUnsupportedPlatform, "client type %T", client)
	}
}

type binanceProvider struct {
	client *binance.Client
}

func (p *binanceProvider) KlineProvider(marketType domain.MarketType) (collector.KlineProvider, error) {
	if marketType == domain.MarketTypeFutures {
		return collector.NewBinanceFuturesKlineProvider(clients.NewBinanceFuturesClient(p.client.APIKey, p.client.SecretKey)), nil
	}
	return collector.NewBinanceKlineProvider(p.client), nil
}

func (p *binanceProvider) Feed(marketType domain.MarketType) (stream.Feed, error) {
	return stream.NewFeed("binance", marketType)
}

type bybitProvider struct {
	client *bybit.Client
}

func (p *bybitProvider) KlineProvider(marketType domain.MarketType) (collector.KlineProvider, error) {
	return collector.NewBybitKlineProvider(p.client, marketType), nil
}

func (p *bybitProvider) Feed(marketType domain.MarketType) (stream.Feed, error) {
	return stream.NewFeed("bybit", marketType)
}

// simulateProvider reads public Binance market data without credentials.
type simulateProvider struct {
	client *clients.SimulateClient
}

func (p *simulateProvider) KlineProvider(marketType domain.MarketType) (collector.KlineProvider, error) {
	if marketType == domain.MarketTypeFutures {
		return collector.NewBinanceFuturesKlineProvider(p.client.Futures()), nil
	}
	return collector.NewBinanceKlineProvider(p.client.Spot()), nil
}

func (p *simulateProvider) Feed(marketType domain.MarketType) (stream.Feed, error) {
	return stream.NewFeed("simulate", marketType)
}

type hyperliquidProvider struct {
	client *clients.HyperliquidClient
}

func (p *hyperliquidProvider) KlineProvider(domain.MarketType) (collector.KlineProvider, error) {
	return collector.NewHyperliquidKlineProvider(p.client.Info()), nil
}

func (p *hyperliquidProvider) Feed(marketType domain.MarketType) (stream.Feed, error) {
	return stream.NewFeed("hyperliquid", marketType)
}
