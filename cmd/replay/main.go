// Replays a recorded session fixture through the full controller on a
// virtual clock: same gates, same ledger, same exit handling as a live day,
// finished in milliseconds. Paper fills consume fixture ticks just like
// quote polls do, so a given fixture always produces the same trades.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"github.com/Rajchodisetti/gapfill-bot/internal/adapters"
	"github.com/Rajchodisetti/gapfill-bot/internal/broker"
	"github.com/Rajchodisetti/gapfill-bot/internal/market"
	"github.com/Rajchodisetti/gapfill-bot/internal/observ"
	"github.com/Rajchodisetti/gapfill-bot/internal/outbox"
	"github.com/Rajchodisetti/gapfill-bot/internal/plan"
	"github.com/Rajchodisetti/gapfill-bot/internal/session"
)

func main() {
	log.SetFlags(0)

	var fixturePath string
	var journalPath string
	var budget float64
	var tickSeconds int
	var rsiPeriod int
	flag.StringVar(&fixturePath, "fixture", "fixtures/session.json", "session fixture path")
	flag.StringVar(&journalPath, "journal", "data/replay-orders.jsonl", "order journal path")
	flag.Float64Var(&budget, "budget", 10_000, "session budget")
	flag.IntVar(&tickSeconds, "tick-seconds", 60, "virtual seconds between ticks")
	flag.IntVar(&rsiPeriod, "rsi-period", 14, "RSI period (fixture needs rsi-period+1 closes)")
	flag.Parse()

	// Engine events go to stderr; stdout carries only the replay report.
	observ.SetOutput(os.Stderr)

	raw, err := os.ReadFile(fixturePath)
	if err != nil {
		log.Fatalf("read fixture: %v", err)
	}
	var fixture adapters.Fixture
	if err := json.Unmarshal(raw, &fixture); err != nil {
		log.Fatalf("parse fixture %s: %v", fixturePath, err)
	}
	replay, err := adapters.NewReplayFromFixture(fixture)
	if err != nil {
		log.Fatalf("fixture: %v", err)
	}

	day, err := time.Parse("2006-01-02", fixture.Day)
	if err != nil {
		log.Fatalf("fixture day %q: want YYYY-MM-DD: %v", fixture.Day, err)
	}

	// The session runs on a virtual clock seeded an hour before a fixed UTC
	// open. Sleeping advances time instead of waiting.
	now := time.Date(day.Year(), day.Month(), day.Day(), 8, 30, 0, 0, time.UTC)
	virtualNow := func() time.Time { return now }
	virtualSleep := func(ctx context.Context, d time.Duration) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		now = now.Add(d)
		return nil
	}

	clock, err := market.NewClock(market.SessionWindow{Open: "09:30", Close: "16:00", Zone: "UTC"})
	if err != nil {
		log.Fatalf("clock: %v", err)
	}

	tickers := make([]string, 0, len(fixture.Instruments))
	for sym := range fixture.Instruments {
		tickers = append(tickers, sym)
	}
	sort.Strings(tickers)
	universe := make([]adapters.Instrument, 0, len(tickers))
	for _, sym := range tickers {
		universe = append(universe, adapters.Instrument{
			Symbol:      sym,
			QuoteSymbol: sym,
			BrokerCode:  sym + "_EQ",
		})
	}
	symbols, err := adapters.NewSymbolMap(universe, "")
	if err != nil {
		log.Fatalf("universe: %v", err)
	}

	paper := broker.NewPaperGateway(replay, broker.PaperConfig{})
	journal, err := outbox.New(journalPath)
	if err != nil {
		log.Fatalf("order journal: %v", err)
	}
	dayKey := func() string { return clock.Day(virtualNow()) }
	orders := broker.NewJournaledGateway(paper, journal, symbols, dayKey)

	ctrl, err := session.NewController(session.Config{
		Budget:       budget,
		TickInterval: time.Duration(tickSeconds) * time.Second,
		Strategy: plan.Config{
			MinGap:       -0.005,
			MaxGap:       -0.030,
			RSIMax:       50,
			RSIPeriod:    rsiPeriod,
			RiskPct:      0.005,
			SlippageBP:   5,
			StopGapFrac:  0.6,
			StopCapPct:   0.006,
			StopFloorPct: 0.002,
		},
	}, session.Deps{
		Clock:   clock,
		Symbols: symbols,
		Quotes:  replay,
		History: replay,
		Orders:  orders,
		Now:     virtualNow,
		Sleep:   virtualSleep,
	})
	if err != nil {
		log.Fatalf("controller: %v", err)
	}

	sum, err := ctrl.RunSession(context.Background())
	if err != nil {
		log.Fatalf("replay session: %v", err)
	}

	for _, ref := range paper.Orders() {
		fmt.Printf("{\"order\":\"%s\",\"symbol\":\"%s\",\"side\":\"%s\",\"quantity\":%d,\"price\":%.4f}\n",
			ref.ID, ref.Symbol, ref.Side, ref.Quantity, ref.Price)
	}
	b, err := json.MarshalIndent(sum, "", "  ")
	if err != nil {
		log.Fatalf("encode summary: %v", err)
	}
	fmt.Println(string(b))
}
