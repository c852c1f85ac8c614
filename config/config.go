// Package config loads terminal settings from a YAML file or command line
// flags, with secrets taken from the environment.
package config

import (
	"flag"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/cuong-tay/web-trade-crypto-sub000/internal/domain"
)

const (
	defaultPlatform             = "binance"
	defaultPair                 = "BTC_USDT"
	defaultMarketType           = "spot"
	defaultGranularity          = "1m"
	defaultAPIBaseURL           = "http://localhost:8000/api"
	defaultMatchInterval        = 3 * time.Second
	defaultHistoryLimit         = 800
	defaultMaxReconnectAttempts = 10
	defaultUIDebounce           = 100 * time.Millisecond
	defaultCacheMode            = "wal"
	defaultCacheDir             = "./wal/wallet"
	defaultWebAddr              = ":8080"
	defaultHyperliquidURL       = "https://api.hyperliquid.xyz"

	// GeneratedFile is where the setup wizard writes its answers.
	GeneratedFile = "config.gen.yaml"
)

// Config is the validated terminal configuration.
type Config struct {
	Platform             string             `validate:"oneof=binance bybit hyperliquid simulate"`
	Pair                 domain.Pair        `validate:"-"`
	MarketType           domain.MarketType  `validate:"oneof=spot futures"`
	Granularity          domain.Granularity `validate:"-"`
	APIBaseURL           string             `validate:"required,url"`
	MatchInterval        time.Duration      `validate:"gte=100ms"`
	HistoryLimit         int                `validate:"gte=1,lte=1000"`
	MaxReconnectAttempts int                `validate:"gte=1"`
	UIDebounce           time.Duration      `validate:"gte=0"`
	CacheMode            string             `validate:"oneof=file wal"`
	CacheDir             string             `validate:"required"`
	WebAddr              string             `validate:"required"`
	TLSDomains           []string           `validate:"dive,hostname"`
	HyperliquidURL       string             `validate:"required,url"`

	Secrets Secrets `validate:"-"`
	// Setup asks for the interactive wizard before starting.
	Setup bool `validate:"-"`
}

// Secrets come from the environment only.
type Secrets struct {
	APIToken              string
	BinanceAPIKey         string
	BinanceAPISecret      string
	BybitAPIKey           string
	BybitAPISecret        string
	HyperliquidPrivateKey string
}

// ConfigTmp is the YAML form of Config.
type ConfigTmp struct {
	Platform             string        `yaml:"platform"`
	Pair                 string        `yaml:"pair"`
	MarketTypeStr        string        `yaml:"market_type,omitempty"`
	Granularity          string        `yaml:"granularity,omitempty"`
	APIBaseURL           string        `yaml:"api_base_url,omitempty"`
	MatchInterval        time.Duration `yaml:"match_interval,omitempty"`
	HistoryLimit         int           `yaml:"history_limit,omitempty"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts,omitempty"`
	UIDebounce           time.Duration `yaml:"ui_debounce,omitempty"`
	CacheMode            string        `yaml:"cache_mode,omitempty"`
	CacheDir             string        `yaml:"cache_dir,omitempty"`
	WebAddr              string        `yaml:"web_addr,omitempty"`
	TLSDomains           []string      `yaml:"tls_domains,omitempty"`
	HyperliquidURL       string        `yaml:"hyperliquid_url,omitempty"`
}

var validate = validator.New()

// Get loads the configuration for the running process.
func Get() (Config, error) {
	return Load(os.Args[1:], os.Getenv)
}

// Load parses args. With --config the YAML file wins over every other flag.
// A .env file in the working directory is loaded first when present.
func Load(args []string, getenv func(string) string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, errors.Wrap(err, "load .env")
	}

	fs := flag.NewFlagSet("terminal", flag.ContinueOnError)
	path := fs.String("config", "", "path to yaml config")
	setup := fs.Bool("setup", false, "run the interactive setup wizard")
	tmp := Defaults()
	fs.StringVar(&tmp.Platform, "platform", tmp.Platform, "market data platform: binance, bybit, hyperliquid, simulate")
	fs.StringVar(&tmp.Pair, "pair", tmp.Pair, "instrument, example: BTC_USDT")
	fs.StringVar(&tmp.MarketTypeStr, "market", tmp.MarketTypeStr, "market type: spot or futures")
	fs.StringVar(&tmp.Granularity, "granularity", tmp.Granularity, "bar size: 1m, 5m, 15m, 1h, 4h, 1d")
	fs.StringVar(&tmp.APIBaseURL, "api", tmp.APIBaseURL, "trading backend base url")
	fs.DurationVar(&tmp.MatchInterval, "match-interval", tmp.MatchInterval, "pending order matching cadence")
	fs.StringVar(&tmp.CacheMode, "cache", tmp.CacheMode, "wallet cache: file or wal")
	fs.StringVar(&tmp.CacheDir, "cache-dir", tmp.CacheDir, "wallet cache directory")
	fs.StringVar(&tmp.WebAddr, "addr", tmp.WebAddr, "web ui listen address")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if *path != "" {
		cfg, err := FromYAML(*path, getenv)
		if err != nil {
			return Config{}, err
		}
		cfg.Setup = *setup
		return cfg, nil
	}

	if *setup {
		// the wizard produces the real config; do not validate flags yet
		return Config{Setup: true}, nil
	}

	return tmp.build(getenv)
}

// FromYAML reads a single terminal configuration from path.
func FromYAML(path string, getenv func(string) string) (Config, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "read config")
	}

	tmp := Defaults()
	if err := yaml.Unmarshal(payload, &tmp); err != nil {
		return Config{}, errors.Wrap(err, "decode yaml config")
	}

	cfg, err := tmp.build(getenv)
	if err != nil {
		return Config{}, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

// Defaults returns the YAML form with every default filled in.
func Defaults() ConfigTmp {
	return ConfigTmp{
		Platform:             defaultPlatform,
		Pair:                 defaultPair,
		MarketTypeStr:        defaultMarketType,
		Granularity:          defaultGranularity,
		APIBaseURL:           defaultAPIBaseURL,
		MatchInterval:        defaultMatchInterval,
		HistoryLimit:         defaultHistoryLimit,
		MaxReconnectAttempts: defaultMaxReconnectAttempts,
		UIDebounce:           defaultUIDebounce,
		CacheMode:            defaultCacheMode,
		CacheDir:             defaultCacheDir,
		WebAddr:              defaultWebAddr,
		HyperliquidURL:       defaultHyperliquidURL,
	}
}

func (c ConfigTmp) build(getenv func(string) string) (Config, error) {
	pair, err := domain.ParsePair(c.Pair)
	if err != nil {
		return Config{}, errors.Wrapf(err, "incorrect 'pair' param: %s", c.Pair)
	}

	granularity, err := domain.ParseGranularity(c.Granularity)
	if err != nil {
		return Config{}, errors.Wrapf(err, "incorrect 'granularity' param: %s", c.Granularity)
	}

	cfg := Config{
		Platform:             strings.ToLower(c.Platform),
		Pair:                 pair,
		MarketType:           domain.MarketType(strings.ToLower(c.MarketTypeStr)),
		Granularity:          granularity,
		APIBaseURL:           c.APIBaseURL,
		MatchInterval:        c.MatchInterval,
		HistoryLimit:         c.HistoryLimit,
		MaxReconnectAttempts: c.MaxReconnectAttempts,
		UIDebounce:           c.UIDebounce,
		CacheMode:            c.CacheMode,
		CacheDir:             c.CacheDir,
		WebAddr:              c.WebAddr,
		TLSDomains:           c.TLSDomains,
		HyperliquidURL:       c.HyperliquidURL,
		Secrets:              secretsFromEnv(getenv),
	}

	if err := validate.Struct(cfg); err != nil {
		return Config{}, errors.Wrap(err, "invalid config")
	}
	if cfg.Platform == "hyperliquid" && cfg.Secrets.HyperliquidPrivateKey == "" {
		return Config{}, errors.New("HYPERLIQUID_PRIVATE_KEY environment variable must be set")
	}

	return cfg, nil
}

func secretsFromEnv(getenv func(string) string) Secrets {
	return Secrets{
		APIToken:              getenv("TRADING_API_TOKEN"),
		BinanceAPIKey:         getenv("BINANCE_API_KEY"),
		BinanceAPISecret:      getenv("BINANCE_API_SECRET"),
		BybitAPIKey:           getenv("BYBIT_API_KEY"),
		BybitAPISecret:        getenv("BYBIT_API_SECRET"),
		HyperliquidPrivateKey: getenv("HYPERLIQUID_PRIVATE_KEY"),
	}
}
