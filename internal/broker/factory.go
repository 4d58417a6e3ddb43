package broker

import (
	"os"
	"strings"
	"time"

	"github.com/Rajchodisetti/gapfill-bot/internal/adapters"
	"github.com/Rajchodisetti/gapfill-bot/internal/observ"
)

// Config selects and tunes the order gateway. Credentials are named by env
// var, never stored in the file.
type Config struct {
	Gateway    string             `yaml:"gateway"` // "paper" | "trading212"
	Trading212 Trading212Settings `yaml:"trading212"`
	Paper      PaperSettings      `yaml:"paper"`
}

type Trading212Settings struct {
	BaseURL        string  `yaml:"base_url"`
	APIKeyEnv      string  `yaml:"api_key_env"`
	APISecretEnv   string  `yaml:"api_secret_env"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	MaxAttempts    int     `yaml:"max_attempts"`
	RatePerSecond  float64 `yaml:"rate_per_second"`
}

type PaperSettings struct {
	SlippageBP float64 `yaml:"slippage_bp"`
	LatencyMs  int     `yaml:"latency_ms"`
	StartCash  float64 `yaml:"start_cash"`
}

// DefaultConfig is the safe development setup: paper fills, no credentials.
func DefaultConfig() Config {
	return Config{
		Gateway: "paper",
		Trading212: Trading212Settings{
			BaseURL:        "https://live.trading212.com/api/v0",
			APIKeyEnv:      "TRADING212_API_KEY",
			APISecretEnv:   "TRADING212_API_SECRET",
			TimeoutSeconds: 15,
			MaxAttempts:    6,
			RatePerSecond:  1,
		},
		Paper: PaperSettings{SlippageBP: 5},
	}
}

// NewGateway builds the configured gateway. The BROKER env var overrides the
// file; anything unknown or missing credentials falls back to paper, loudly.
// Live trading is opt-in at every layer.
func NewGateway(cfg Config, symbols *adapters.SymbolMap, quotes adapters.QuoteSource) OrderGateway {
	gateway := strings.ToLower(strings.TrimSpace(cfg.Gateway))

	if env := os.Getenv("BROKER"); env != "" {
		gateway = strings.ToLower(strings.TrimSpace(env))
		observ.Log("broker_override", map[string]any{
			"config_gateway": cfg.Gateway,
			"env_override":   gateway,
		})
	}

	switch gateway {
	case "trading212":
		return newTrading212OrPaper(cfg, symbols, quotes)

	case "paper", "":
		observ.Log("broker_created", map[string]any{"type": "paper"})
		return newPaper(cfg, quotes)

	default:
		observ.Log("broker_fallback", map[string]any{
			"requested_gateway": gateway,
			"fallback_to":       "paper",
			"reason":            "unknown gateway type",
		})
		return newPaper(cfg, quotes)
	}
}

func newTrading212OrPaper(cfg Config, symbols *adapters.SymbolMap, quotes adapters.QuoteSource) OrderGateway {
	settings := cfg.Trading212
	if settings.APIKeyEnv == "" {
		settings.APIKeyEnv = "TRADING212_API_KEY"
	}
	if settings.APISecretEnv == "" {
		settings.APISecretEnv = "TRADING212_API_SECRET"
	}

	apiKey := os.Getenv(settings.APIKeyEnv)
	apiSecret := os.Getenv(settings.APISecretEnv)
	if apiKey == "" || apiSecret == "" {
		observ.Log("broker_fallback", map[string]any{
			"requested_gateway": "trading212",
			"fallback_to":       "paper",
			"reason":            "missing credentials",
			"api_key_env":       settings.APIKeyEnv,
			"api_secret_env":    settings.APISecretEnv,
		})
		return newPaper(cfg, quotes)
	}

	gw, err := NewTrading212(Trading212Config{
		BaseURL:        settings.BaseURL,
		APIKey:         apiKey,
		APISecret:      apiSecret,
		TimeoutSeconds: settings.TimeoutSeconds,
		MaxAttempts:    settings.MaxAttempts,
		RatePerSecond:  settings.RatePerSecond,
	}, symbols)
	if err != nil {
		observ.Log("broker_fallback", map[string]any{
			"requested_gateway": "trading212",
			"fallback_to":       "paper",
			"reason":            "gateway creation failed",
			"error":             err.Error(),
		})
		return newPaper(cfg, quotes)
	}

	observ.Log("broker_created", map[string]any{
		"type":           "trading212",
		"base_url":       gw.cfg.BaseURL,
		"max_attempts":   gw.cfg.MaxAttempts,
		"api_key_masked": maskKey(apiKey),
	})
	return gw
}

func newPaper(cfg Config, quotes adapters.QuoteSource) *PaperGateway {
	return NewPaperGateway(quotes, PaperConfig{
		SlippageBP: cfg.Paper.SlippageBP,
		Latency:    time.Duration(cfg.Paper.LatencyMs) * time.Millisecond,
		StartCash:  cfg.Paper.StartCash,
	})
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "***"
	}
	return key[:4] + "***" + key[len(key)-4:]
}
