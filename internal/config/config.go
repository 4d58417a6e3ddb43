// Package config loads the bot's YAML configuration. Zero values are
// backfilled with the defaults the strategy shipped with, so a minimal file
// carrying only a universe is runnable. Credentials never live here; config
// names the env vars that hold them.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Rajchodisetti/gapfill-bot/internal/adapters"
	"github.com/Rajchodisetti/gapfill-bot/internal/broker"
	"github.com/Rajchodisetti/gapfill-bot/internal/market"
)

// Strategy is the gap-fill tuple: the gates a candidate must pass and the
// pricing knobs for accepted plans. Fractions are decimals, not percents.
type Strategy struct {
	MinGapPct    float64 `yaml:"min_gap_pct"`  // shallow bound, e.g. -0.005
	MaxGapPct    float64 `yaml:"max_gap_pct"`  // deep bound, e.g. -0.030
	RSIMax       float64 `yaml:"rsi_max"`      // skip oversold-for-a-reason names above this
	RSIPeriod    int     `yaml:"rsi_period"`
	RiskPct      float64 `yaml:"risk_pct"` // per-trade risk as a fraction of the instrument budget
	SlippageBP   float64 `yaml:"slippage_bp"`
	StopGapFrac  float64 `yaml:"stop_gap_fraction"`
	StopCapPct   float64 `yaml:"stop_cap_pct"`
	StopFloorPct float64 `yaml:"stop_floor_pct"`
	LookbackDays int     `yaml:"lookback_days"`
}

// ExitRetry paces re-submission of exit orders the gateway refused.
type ExitRetry struct {
	BaseSeconds       int `yaml:"base_seconds"`
	MaxSeconds        int `yaml:"max_seconds"`
	AlertAfterAttempt int `yaml:"alert_after_attempt"`
}

// Alerts configures outbound notifications.
type Alerts struct {
	SlackWebhookEnv string `yaml:"slack_webhook_env"`
	MinSeverity     string `yaml:"min_severity"` // "info" | "warning" | "critical"
}

type Root struct {
	Budget              float64                `yaml:"budget"` // total session capital
	TickIntervalSeconds int                    `yaml:"tick_interval_seconds"`
	Session             market.SessionWindow   `yaml:"session"`
	Strategy            Strategy               `yaml:"strategy"`
	Universe            []adapters.Instrument  `yaml:"universe"`
	QuoteSuffix         string                 `yaml:"quote_suffix"` // appended to tickers with no explicit quote_symbol
	MarketData          adapters.FactoryConfig `yaml:"market_data"`
	Broker              broker.Config          `yaml:"broker"`
	Alerts              Alerts                 `yaml:"alerts"`
	ExitRetry           ExitRetry              `yaml:"exit_retry"`
	JournalPath         string                 `yaml:"journal_path"`
	OpsAddr             string                 `yaml:"ops_addr"`
}

func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}

	if c.Budget == 0 {
		c.Budget = 100
	}
	if c.TickIntervalSeconds == 0 {
		c.TickIntervalSeconds = 45
	}

	if c.Session.Open == "" {
		c.Session.Open = "09:30"
	}
	if c.Session.Close == "" {
		c.Session.Close = "16:00"
	}
	if c.Session.Zone == "" {
		c.Session.Zone = "America/New_York"
	}

	if c.Strategy.MinGapPct == 0 {
		c.Strategy.MinGapPct = -0.005
	}
	if c.Strategy.MaxGapPct == 0 {
		c.Strategy.MaxGapPct = -0.030
	}
	if c.Strategy.RSIMax == 0 {
		c.Strategy.RSIMax = 50
	}
	if c.Strategy.RSIPeriod == 0 {
		c.Strategy.RSIPeriod = 14
	}
	if c.Strategy.RiskPct == 0 {
		c.Strategy.RiskPct = 0.005
	}
	if c.Strategy.SlippageBP == 0 {
		c.Strategy.SlippageBP = 5
	}
	if c.Strategy.StopGapFrac == 0 {
		c.Strategy.StopGapFrac = 0.6
	}
	if c.Strategy.StopCapPct == 0 {
		c.Strategy.StopCapPct = 0.006
	}
	if c.Strategy.StopFloorPct == 0 {
		c.Strategy.StopFloorPct = 0.002
	}
	if c.Strategy.LookbackDays == 0 {
		c.Strategy.LookbackDays = 90
	}

	if c.ExitRetry.BaseSeconds == 0 {
		c.ExitRetry.BaseSeconds = 5
	}
	if c.ExitRetry.MaxSeconds == 0 {
		c.ExitRetry.MaxSeconds = 60
	}
	if c.ExitRetry.AlertAfterAttempt == 0 {
		c.ExitRetry.AlertAfterAttempt = 5
	}

	if c.Alerts.SlackWebhookEnv == "" {
		c.Alerts.SlackWebhookEnv = "SLACK_WEBHOOK_URL"
	}
	if c.Alerts.MinSeverity == "" {
		c.Alerts.MinSeverity = "warning"
	}

	if c.MarketData.Source == "" {
		c.MarketData = adapters.DefaultFactoryConfig()
	}
	if c.Broker.Gateway == "" {
		c.Broker = broker.DefaultConfig()
	}

	if c.JournalPath == "" {
		c.JournalPath = "data/orders.jsonl"
	}
	if c.OpsAddr == "" {
		c.OpsAddr = "127.0.0.1:8090"
	}

	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

// Validate rejects configurations the engine must not start with. Session
// window and universe contents get their deeper checks at construction time
// in market.NewClock and adapters.NewSymbolMap.
func (c Root) Validate() error {
	if c.Budget <= 0 {
		return fmt.Errorf("budget must be positive, got %.2f", c.Budget)
	}
	if c.TickIntervalSeconds < 1 {
		return fmt.Errorf("tick_interval_seconds must be at least 1, got %d", c.TickIntervalSeconds)
	}
	if len(c.Universe) == 0 {
		return fmt.Errorf("universe is empty; list at least one instrument")
	}

	s := c.Strategy
	if s.MinGapPct >= 0 {
		return fmt.Errorf("min_gap_pct must be negative (a gap down), got %.4f", s.MinGapPct)
	}
	if s.MaxGapPct >= s.MinGapPct {
		return fmt.Errorf("max_gap_pct %.4f must be below min_gap_pct %.4f", s.MaxGapPct, s.MinGapPct)
	}
	if s.RSIMax <= 0 || s.RSIMax > 100 {
		return fmt.Errorf("rsi_max must be in (0, 100], got %.1f", s.RSIMax)
	}
	if s.RSIPeriod < 2 {
		return fmt.Errorf("rsi_period must be at least 2, got %d", s.RSIPeriod)
	}
	if s.RiskPct <= 0 || s.RiskPct > 1 {
		return fmt.Errorf("risk_pct must be in (0, 1], got %.4f", s.RiskPct)
	}
	if s.StopFloorPct <= 0 || s.StopCapPct < s.StopFloorPct {
		return fmt.Errorf("stop bounds inverted: floor %.4f, cap %.4f", s.StopFloorPct, s.StopCapPct)
	}
	if s.StopGapFrac <= 0 {
		return fmt.Errorf("stop_gap_fraction must be positive, got %.2f", s.StopGapFrac)
	}
	if s.LookbackDays <= s.RSIPeriod {
		return fmt.Errorf("lookback_days %d too short for rsi_period %d", s.LookbackDays, s.RSIPeriod)
	}

	if c.ExitRetry.MaxSeconds < c.ExitRetry.BaseSeconds {
		return fmt.Errorf("exit_retry max_seconds %d below base_seconds %d",
			c.ExitRetry.MaxSeconds, c.ExitRetry.BaseSeconds)
	}
	return nil
}
