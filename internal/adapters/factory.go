package adapters

import (
	"os"
	"strings"
	"time"

	"github.com/Rajchodisetti/gapfill-bot/internal/observ"
)

// FactoryConfig selects and tunes the market-data source.
type FactoryConfig struct {
	Source  string         `yaml:"source"` // "yahoo" | "sim" | "replay"
	Yahoo   YahooConfig    `yaml:"yahoo"`
	Replay  ReplaySettings `yaml:"replay"`
	SimSeed int64          `yaml:"sim_seed"`
}

type ReplaySettings struct {
	FixturePath string `yaml:"fixture_path"`
}

// DefaultFactoryConfig is the safe development setup: synthetic data.
func DefaultFactoryConfig() FactoryConfig {
	return FactoryConfig{Source: "sim", SimSeed: 42}
}

// NewMarketData builds the quote and history sources for the universe. The
// MARKET_DATA env var overrides the file; anything unknown or broken falls
// back to sim, loudly. There is no mid-session fallback: once trading starts
// on a source, a failing fetch skips the instrument for the tick rather than
// silently switching to synthetic prices.
func NewMarketData(cfg FactoryConfig, symbols *SymbolMap, loc *time.Location) (QuoteSource, HistorySource, string) {
	if loc == nil {
		loc = time.UTC
	}
	source := strings.ToLower(strings.TrimSpace(cfg.Source))

	if env := os.Getenv("MARKET_DATA"); env != "" {
		source = strings.ToLower(strings.TrimSpace(env))
		observ.Log("market_data_override", map[string]any{
			"config_source": cfg.Source,
			"env_override":  source,
		})
	}

	switch source {
	case "yahoo":
		y := NewYahooSource(cfg.Yahoo, symbols, loc)
		day := func() string { return time.Now().In(loc).Format("2006-01-02") }
		observ.Log("market_data_created", map[string]any{
			"type":        "yahoo",
			"rate_per_s":  y.cfg.RatePerSecond,
			"max_retries": y.cfg.MaxRetries,
		})
		return y, NewCachedHistory(y, day), "yahoo"

	case "replay":
		r, err := NewReplaySource(cfg.Replay.FixturePath)
		if err != nil {
			observ.Log("market_data_fallback", map[string]any{
				"requested_source": "replay",
				"fallback_to":      "sim",
				"reason":           "fixture load failed",
				"error":            err.Error(),
			})
			return newSim(cfg, symbols)
		}
		observ.Log("market_data_created", map[string]any{
			"type":    "replay",
			"fixture": cfg.Replay.FixturePath,
		})
		return r, r, "replay"

	case "sim", "":
		observ.Log("market_data_created", map[string]any{"type": "sim", "seed": simSeed(cfg)})
		return newSim(cfg, symbols)

	default:
		observ.Log("market_data_fallback", map[string]any{
			"requested_source": source,
			"fallback_to":      "sim",
			"reason":           "unknown source type",
		})
		return newSim(cfg, symbols)
	}
}

func newSim(cfg FactoryConfig, symbols *SymbolMap) (QuoteSource, HistorySource, string) {
	s := NewSimSource(symbols.Symbols(), simSeed(cfg))
	return s, s, "sim"
}

func simSeed(cfg FactoryConfig) int64 {
	if cfg.SimSeed != 0 {
		return cfg.SimSeed
	}
	return 42
}
