// Serves the stub market: a local fake of the Yahoo chart API and the
// Trading212 order API. Point the bot at it (market_data.yahoo.base_url and
// broker.trading212.base_url) to rehearse a full session offline, including
// 429/503 behavior via -fail-rate.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"

	"github.com/Rajchodisetti/gapfill-bot/internal/stubs"
)

type scriptFile struct {
	FreeCash    float64                 `json:"free_cash"`
	Instruments map[string]stubs.Script `json:"instruments"`
}

// demoScript is served when no -script is given: one instrument gapping down
// about 1.2% and bouncing, one flat, so a session against the stub produces
// both an accepted plan and a gate rejection.
func demoScript() scriptFile {
	return scriptFile{
		FreeCash: 50_000,
		Instruments: map[string]stubs.Script{
			"VOD.L": {
				Closes: []float64{76.1, 75.9, 75.6, 75.8, 75.5, 75.2, 75.4, 75.1, 74.9, 75.0,
					74.8, 74.6, 74.7, 74.5, 74.4, 74.5},
				Ticks: []float64{73.60, 73.72, 73.95, 74.18, 74.40, 74.52},
			},
			"BARC.L": {
				Closes: []float64{212.0, 212.4, 211.8, 212.2, 212.6, 212.1, 212.5, 212.3,
					212.7, 212.4, 212.8, 212.5, 212.9, 212.6, 213.0, 212.8},
				Ticks: []float64{212.9, 213.1, 213.0},
			},
		},
	}
}

func main() {
	log.SetFlags(0)

	var addr string
	var scriptPath string
	var failRate float64
	var seed int64
	flag.StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	flag.StringVar(&scriptPath, "script", "", "script file (JSON: free_cash + instruments keyed by quote symbol)")
	flag.Float64Var(&failRate, "fail-rate", 0, "fraction of requests answered 429/503")
	flag.Int64Var(&seed, "seed", 1, "fault injection seed")
	flag.Parse()

	script := demoScript()
	if scriptPath != "" {
		raw, err := os.ReadFile(scriptPath)
		if err != nil {
			log.Fatalf("read script: %v", err)
		}
		script = scriptFile{}
		if err := json.Unmarshal(raw, &script); err != nil {
			log.Fatalf("parse script %s: %v", scriptPath, err)
		}
		if len(script.Instruments) == 0 {
			log.Fatalf("script %s has no instruments", scriptPath)
		}
	}

	market := stubs.NewMarket(stubs.Config{
		Instruments: script.Instruments,
		FreeCash:    script.FreeCash,
		FailRate:    failRate,
		Seed:        seed,
	})

	log.Printf("stub market listening on %s (instruments=%d fail-rate=%.2f)",
		addr, len(script.Instruments), failRate)
	log.Printf("  chart:  GET  http://%s/v8/finance/chart/{symbol}?range=1d&interval=1m", addr)
	log.Printf("  orders: POST http://%s/api/v0/equity/orders/market", addr)
	log.Printf("  peek:   GET  http://%s/stub/orders", addr)
	if err := http.ListenAndServe(addr, market.Handler()); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
