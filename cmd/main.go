// Command terminal runs the trading terminal core: a live bar stream for one
// instrument, client side matching of pending limit orders and the wallet
// snapshot they settle into, served over HTTP and server-sent events.
//
// Usage:
//
//	terminal --config config.yaml
//	terminal --setup
//	terminal --platform bybit --pair ETH_USDT --market futures
//
// Environment variables:
//
//	TRADING_API_TOKEN                     bearer token for the trading backend
//	BINANCE_API_KEY, BINANCE_API_SECRET   optional, public data works without them
//	BYBIT_API_KEY, BYBIT_API_SECRET       optional
//	HYPERLIQUID_PRIVATE_KEY               required for --platform hyperliquid
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/cuong-tay/web-trade-crypto-sub000/config"
	"github.com/cuong-tay/web-trade-crypto-sub000/internal"
	"github.com/cuong-tay/web-trade-crypto-sub000/internal/clients"
	"github.com/cuong-tay/web-trade-crypto-sub000/internal/domain"
	"github.com/cuong-tay/web-trade-crypto-sub000/internal/setup"
	"github.com/cuong-tay/web-trade-crypto-sub000/internal/web"
)

func main() {
	cfg, err := config.Get()
	if err != nil {
		log.Fatal(err)
	}

	if cfg.Setup {
		if err := setup.RunTUI(); err != nil {
			log.Fatal(err)
		}
		cfg, err = config.FromYAML(config.GeneratedFile, os.Getenv)
		if err != nil {
			log.Fatal(err)
		}
	}

	logger, err := newLogger()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	client, err := newExchangeClient(cfg)
	if err != nil {
		logger.Fatal("Failed to create exchange client", zap.Error(err))
	}

	term, err := internal.NewTerminal(cfg, client, logger)
	if err != nil {
		logger.Fatal("Failed to create terminal", zap.Error(err))
	}
	defer func() {
		if err := term.Close(); err != nil {
			logger.Error("Failed to close terminal", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := web.NewServer(cfg.WebAddr, term, logger.Named("web"))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return term.Run(ctx)
	})
	g.Go(func() error {
		if len(cfg.TLSDomains) > 0 {
			return server.StartWithAutoTLS(ctx, cfg.TLSDomains, "")
		}
		return server.Start(ctx)
	})

	logger.Info("Terminal started",
		zap.String("platform", cfg.Platform),
		zap.String("pair", cfg.Pair.String()),
		zap.String("market", string(cfg.MarketType)),
		zap.String("granularity", cfg.Granularity.String()),
	)

	if err := g.Wait(); err != nil {
		logger.Error("Terminal stopped with error", zap.Error(err))
		return
	}
	logger.Info("Terminal stopped")
}

func newLogger() (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	zapCfg.EncoderConfig.TimeKey = "ts"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapCfg.Build()
}

// newExchangeClient creates the market data client for the configured
// platform. Missing Binance or Bybit keys fall back to public endpoints.
func newExchangeClient(cfg config.Config) (any, error) {
	switch cfg.Platform {
	case "binance":
		return clients.NewBinanceClient(cfg.Secrets.BinanceAPIKey, cfg.Secrets.BinanceAPISecret), nil
	case "bybit":
		return clients.NewBybitClient(cfg.Secrets.BybitAPIKey, cfg.Secrets.BybitAPISecret), nil
	case "hyperliquid":
		client, err := clients.NewHyperliquidClient(cfg.Secrets.HyperliquidPrivateKey, cfg.HyperliquidURL)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create hyperliquid client")
		}
		return client, nil
	case "simulate":
		return clients.NewSimulateClient(), nil
	default:
		return nil, errors.Wrapf(domain.ErrUnsupportedPlatform, "%q", cfg.Platform)
	}
}
