package setup

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/cuong-tay/web-trade-crypto-sub000/config"
	"github.com/cuong-tay/web-trade-crypto-sub000/internal/domain"
)

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

// Answers collects everything the wizard asks for.
type Answers struct {
	Platform      string
	Pair          string
	MarketType    string
	Granularity   string
	APIBaseURL    string
	MatchInterval string
	CacheMode     string
}

func step(title string) {
	fmt.Print("\033[H\033[2J") // clear screen
	fmt.Println(headerStyle.Render("TRADING TERMINAL SETUP"))
	fmt.Println(stepStyle.Render(title))
}

// RunTUI launches the terminal configuration wizard and writes the result to
// config.GeneratedFile.
func RunTUI() error {
	defaults := config.Defaults()
	a := Answers{
		APIBaseURL:    defaults.APIBaseURL,
		MatchInterval: defaults.MatchInterval.String(),
		Granularity:   defaults.Granularity,
	}

	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("TRADING TERMINAL SETUP"))
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Pick a market and point the terminal at your backend.\n"))

	fmt.Println(stepStyle.Render("STEP 1: MARKET DATA"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Select market data platform").
				Options(
					huh.NewOption("Binance", "binance"),
					huh.NewOption("Bybit", "bybit"),
					huh.NewOption("Hyperliquid", "hyperliquid"),
					huh.NewOption("Simulation (Binance public data)", "simulate"),
				).
				Value(&a.Platform),
		),
	).Run()
	if err != nil {
		return err
	}

	step("STEP 2: INSTRUMENT")
	granularityOptions := make([]huh.Option[string], 0, len(domain.Granularities()))
	for _, g := range domain.Granularities() {
		granularityOptions = append(granularityOptions, huh.NewOption(g.String(), g.String()))
	}
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Trading Pair").
				Description("BASE_QUOTE, e.g. BTC_USDT").
				Value(&a.Pair).
				Validate(validatePair),
			huh.NewSelect[string]().
				Title("Spot or Futures?").
				Options(
					huh.NewOption("Spot", "spot"),
					huh.NewOption("Futures", "futures"),
				).
				Value(&a.MarketType),
			huh.NewSelect[string]().
				Title("Bar granularity").
				Options(granularityOptions...).
				Value(&a.Granularity),
		),
	).Run()
	if err != nil {
		return err
	}

	step("STEP 3: BACKEND")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Trading API base URL").
				Value(&a.APIBaseURL),
			huh.NewInput().
				Title("Pending order check interval").
				Description("Duration string (e.g. 3s)").
				Value(&a.MatchInterval).
				Validate(validateInterval),
			huh.NewSelect[string]().
				Title("Wallet cache").
				Options(
					huh.NewOption("Write-ahead log", "wal"),
					huh.NewOption("Single JSON file", "file"),
				).
				Value(&a.CacheMode),
		),
	).Run()
	if err != nil {
		return err
	}

	step("FINAL CONFIRMATION")
	summary := fmt.Sprintf(
		"Platform: %s\nPair: %s\nMarket: %s\nGranularity: %s\nBackend: %s\nInterval: %s\n",
		a.Platform, a.Pair, a.MarketType, a.Granularity, a.APIBaseURL, a.MatchInterval,
	)
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary))

	var confirm bool
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save and start").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return err
	}
	if !confirm {
		return errors.New("setup cancelled by user")
	}

	if err := Write(config.GeneratedFile, a); err != nil {
		return err
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf("\n✓ Configuration saved to %s\nStarting terminal...", config.GeneratedFile)))
	time.Sleep(1500 * time.Millisecond)
	return nil
}

// Build turns wizard answers into the YAML config form.
func Build(a Answers) (config.ConfigTmp, error) {
	tmp := config.Defaults()
	tmp.Platform = a.Platform
	tmp.Pair = a.Pair
	tmp.MarketTypeStr = a.MarketType
	tmp.Granularity = a.Granularity
	if a.APIBaseURL != "" {
		tmp.APIBaseURL = a.APIBaseURL
	}
	if a.CacheMode != "" {
		tmp.CacheMode = a.CacheMode
	}
	if a.MatchInterval != "" {
		interval, err := time.ParseDuration(a.MatchInterval)
		if err != nil {
			return config.ConfigTmp{}, errors.Wrap(err, "match interval")
		}
		tmp.MatchInterval = interval
	}
	return tmp, nil
}

// Write stores the answers as YAML at path.
func Write(path string, a Answers) error {
	tmp, err := Build(a)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(tmp)
	if err != nil {
		return errors.Wrap(err, "failed to generate yaml")
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(err, "failed to save config file")
	}
	return nil
}

func validatePair(s string) error {
	if s == "" {
		return errors.New("pair cannot be empty")
	}
	_, err := domain.ParsePair(s)
	return err
}

func validateInterval(s string) error {
	d, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	if d < 100*time.Millisecond {
		return errors.New("interval must be at least 100ms")
	}
	return nil
}
