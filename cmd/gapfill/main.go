package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Rajchodisetti/gapfill-bot/internal/adapters"
	"github.com/Rajchodisetti/gapfill-bot/internal/alerts"
	"github.com/Rajchodisetti/gapfill-bot/internal/broker"
	"github.com/Rajchodisetti/gapfill-bot/internal/config"
	"github.com/Rajchodisetti/gapfill-bot/internal/market"
	"github.com/Rajchodisetti/gapfill-bot/internal/observ"
	"github.com/Rajchodisetti/gapfill-bot/internal/outbox"
	"github.com/Rajchodisetti/gapfill-bot/internal/plan"
	"github.com/Rajchodisetti/gapfill-bot/internal/session"
)

// cashReporter is implemented by gateways that can report account cash.
type cashReporter interface {
	FreeCash(ctx context.Context) (float64, error)
}

func main() {
	var cfgPath string
	var once bool
	flag.StringVar(&cfgPath, "config", "config/config.yaml", "config path")
	flag.BoolVar(&once, "once", true, "run one session and exit (set false to keep running day after day)")
	flag.Parse()

	// .env is optional; deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v (did you copy config.example.yaml?)", err)
	}

	// Environment overrides. MARKET_DATA and BROKER are honored inside the
	// factories; budget is the one strategy knob operable without a config
	// edit.
	if v := os.Getenv("BUDGET"); v != "" {
		b, err := strconv.ParseFloat(v, 64)
		if err != nil || b <= 0 {
			log.Fatalf("BUDGET override %q is not a positive number", v)
		}
		cfg.Budget = b
	}

	observ.Log("startup", map[string]any{
		"config":        cfgPath,
		"budget":        cfg.Budget,
		"universe_size": len(cfg.Universe),
		"tick_interval": cfg.TickIntervalSeconds,
		"session":       fmt.Sprintf("%s-%s %s", cfg.Session.Open, cfg.Session.Close, cfg.Session.Zone),
		"once":          once,
	})

	clock, err := market.NewClock(cfg.Session)
	if err != nil {
		log.Fatalf("session window: %v", err)
	}
	symbols, err := adapters.NewSymbolMap(cfg.Universe, cfg.QuoteSuffix)
	if err != nil {
		log.Fatalf("universe: %v", err)
	}

	quotes, history, sourceName := adapters.NewMarketData(cfg.MarketData, symbols, clock.Location())
	defer quotes.Close()
	defer history.Close()

	gateway := broker.NewGateway(cfg.Broker, symbols, quotes)
	defer gateway.Close()

	journal, err := outbox.New(cfg.JournalPath)
	if err != nil {
		log.Fatalf("order journal: %v", err)
	}
	day := func() string { return clock.Day(time.Now()) }
	orders := broker.NewJournaledGateway(gateway, journal, symbols, day)

	notifier, slack := buildNotifier(cfg.Alerts)

	// A journal left over from a crashed run may name positions nobody is
	// watching. The engine never rebuilds live state from the journal; it
	// pages a human and trades fresh.
	today := day()
	if err := journal.BeginDay(today); err != nil {
		observ.Log("journal_begin_failed", map[string]any{"error": err.Error()})
	}
	if open, err := journal.UnmatchedBuys(today); err != nil {
		observ.Log("journal_read_failed", map[string]any{"error": err.Error()})
	} else if len(open) > 0 {
		notifier.Notify(alerts.Event{
			Kind:     "position_unreconciled",
			Severity: alerts.Critical,
			Text: fmt.Sprintf("journal shows unmatched buys from an earlier run today: %s; reconcile manually before trusting the book",
				strings.Join(open, ", ")),
			At: time.Now(),
		})
		observ.Log("unreconciled_positions", map[string]any{"symbols": open, "day": today})
	}

	ctrl, err := session.NewController(session.Config{
		Budget:       cfg.Budget,
		TickInterval: time.Duration(cfg.TickIntervalSeconds) * time.Second,
		LookbackDays: cfg.Strategy.LookbackDays,
		Strategy: plan.Config{
			MinGap:       cfg.Strategy.MinGapPct,
			MaxGap:       cfg.Strategy.MaxGapPct,
			RSIMax:       cfg.Strategy.RSIMax,
			RSIPeriod:    cfg.Strategy.RSIPeriod,
			RiskPct:      cfg.Strategy.RiskPct,
			SlippageBP:   cfg.Strategy.SlippageBP,
			StopGapFrac:  cfg.Strategy.StopGapFrac,
			StopCapPct:   cfg.Strategy.StopCapPct,
			StopFloorPct: cfg.Strategy.StopFloorPct,
		},
		ExitRetryBase:  time.Duration(cfg.ExitRetry.BaseSeconds) * time.Second,
		ExitRetryMax:   time.Duration(cfg.ExitRetry.MaxSeconds) * time.Second,
		ExitAlertAfter: cfg.ExitRetry.AlertAfterAttempt,
	}, session.Deps{
		Clock:    clock,
		Symbols:  symbols,
		Quotes:   quotes,
		History:  history,
		Orders:   orders,
		Notifier: notifier,
	})
	if err != nil {
		log.Fatalf("controller: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Budget above account cash is almost always a config mistake. Warn, do
	// not stop: paper cash defaults high and the ledger caps spend anyway.
	if cr, ok := gateway.(cashReporter); ok {
		if cash, err := cr.FreeCash(ctx); err != nil {
			observ.Log("cash_check_failed", map[string]any{"error": err.Error()})
		} else if cash < cfg.Budget {
			notifier.Notify(alerts.Event{
				Kind:     "budget_exceeds_cash",
				Severity: alerts.Warning,
				Text:     fmt.Sprintf("configured budget %.2f exceeds free cash %.2f", cfg.Budget, cash),
				At:       time.Now(),
			})
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", observ.Handler())
	mux.Handle("/health", observ.Health())
	mux.Handle("/healthz", observ.HealthHandler())
	observ.Log("ops_listen", map[string]any{"addr": cfg.OpsAddr, "source": sourceName, "gateway": gateway.Name()})
	go func() {
		if err := http.ListenAndServe(cfg.OpsAddr, mux); err != nil {
			observ.Log("ops_server_error", map[string]any{"error": err.Error()})
		}
	}()

	code := 0
	if once {
		sum, err := ctrl.RunSession(ctx)
		if sum != nil {
			b, _ := json.MarshalIndent(sum, "", "  ")
			fmt.Println(string(b))
		}
		if err != nil && ctx.Err() == nil {
			observ.Log("session_failed", map[string]any{"error": err.Error()})
			code = 1
		}
	} else {
		if err := ctrl.RunForever(ctx); err != nil && ctx.Err() == nil {
			observ.Log("run_failed", map[string]any{"error": err.Error()})
			code = 1
		}
	}

	if slack != nil {
		// give the webhook worker a moment to flush the tail
		time.Sleep(200 * time.Millisecond)
		slack.Close()
	}
	if code != 0 {
		os.Exit(code)
	}
}

// buildNotifier assembles the delivery fan-out: the structured log always,
// Slack when the configured env var holds a webhook URL.
func buildNotifier(cfg config.Alerts) (alerts.Notifier, *alerts.SlackNotifier) {
	notifiers := alerts.MultiNotifier{alerts.LogNotifier{}}

	hook := os.Getenv(cfg.SlackWebhookEnv)
	if hook == "" {
		observ.Log("slack_disabled", map[string]any{"env": cfg.SlackWebhookEnv})
		return notifiers, nil
	}

	minSev, err := alerts.ParseSeverity(cfg.MinSeverity)
	if err != nil {
		log.Printf("alerts: %v, defaulting to warning", err)
		minSev = alerts.Warning
	}
	slack, err := alerts.NewSlackNotifier(alerts.SlackConfig{
		WebhookURL:  hook,
		MinSeverity: minSev,
	})
	if err != nil {
		log.Printf("slack notifier disabled: %v", err)
		return notifiers, nil
	}
	observ.Log("slack_enabled", map[string]any{"min_severity": minSev.String()})
	return append(notifiers, slack), slack
}
