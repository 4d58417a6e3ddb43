// Package stubs hosts a local fake of both external services the bot talks
// to: the Yahoo chart API and the Trading212 order API. The live adapters run
// end to end against it offline, and fault injection rehearses their retry
// paths without waiting for a real 429.
package stubs

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Script is one instrument's scripted session, keyed by quote symbol.
type Script struct {
	Closes []float64 `json:"closes"` // completed daily candles, oldest first
	Ticks  []float64 `json:"ticks"`  // intraday prices, played one per quote request
}

// Config seeds the stub market.
type Config struct {
	Instruments map[string]Script
	FreeCash    float64
	FailRate    float64 // fraction of requests answered 429/503
	Seed        int64
}

// Order is one order the stub accepted, exposed for inspection.
type Order struct {
	ID             int64     `json:"id"`
	InstrumentCode string    `json:"instrumentCode"`
	Quantity       float64   `json:"quantity"`
	TimeValidity   string    `json:"timeValidity"`
	ReceivedAt     time.Time `json:"received_at"`
}

// Market fakes both wire protocols behind one handler. Quote playback is
// scripted: each 1-minute chart request advances the instrument's cursor by
// one tick, and an exhausted script repeats its last price, mirroring a
// market that has gone quiet.
type Market struct {
	mu     sync.Mutex
	cfg    Config
	cursor map[string]int
	orders []Order
	nextID int64
	rng    *rand.Rand
	faults int
}

func NewMarket(cfg Config) *Market {
	if cfg.Seed == 0 {
		cfg.Seed = 1
	}
	return &Market{
		cfg:    cfg,
		cursor: make(map[string]int),
		nextID: 1000,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
	}
}

// Handler routes the fake Yahoo chart endpoint, the fake Trading212 order
// and cash endpoints, and an inspection endpoint listing accepted orders.
func (m *Market) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v8/finance/chart/", m.handleChart)
	mux.HandleFunc("/api/v0/equity/orders/market", m.handleOrder)
	mux.HandleFunc("/api/v0/equity/account/cash", m.handleCash)
	mux.HandleFunc("/stub/orders", m.handleOrders)
	return mux
}

// Orders returns a copy of every accepted order, oldest first.
func (m *Market) Orders() []Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Order, len(m.orders))
	copy(out, m.orders)
	return out
}

// injectFault answers the request with 429 or 503 at the configured rate,
// alternating so both retry classifications get exercised.
func (m *Market) injectFault(w http.ResponseWriter) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg.FailRate <= 0 || m.rng.Float64() >= m.cfg.FailRate {
		return false
	}
	m.faults++
	if m.faults%2 == 1 {
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"message":"stub rate limit"}`)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"message":"stub blip"}`)
	}
	return true
}

func (m *Market) handleChart(w http.ResponseWriter, r *http.Request) {
	if m.injectFault(w) {
		return
	}
	symbol := strings.TrimPrefix(r.URL.Path, "/v8/finance/chart/")
	interval := r.URL.Query().Get("interval")

	m.mu.Lock()
	script, ok := m.cfg.Instruments[symbol]
	if !ok {
		m.mu.Unlock()
		writeChartError(w, http.StatusNotFound, "Not Found",
			fmt.Sprintf("No data found for %s, symbol may be delisted", symbol))
		return
	}

	var prices []float64
	var step time.Duration
	if interval == "1d" {
		prices = script.Closes
		step = 24 * time.Hour
	} else {
		if len(script.Ticks) > 0 {
			i := m.cursor[symbol]
			if i >= len(script.Ticks) {
				i = len(script.Ticks) - 1
			} else {
				m.cursor[symbol] = i + 1
			}
			prices = script.Ticks[:i+1]
		}
		step = time.Minute
	}
	m.mu.Unlock()

	if len(prices) == 0 {
		writeChartError(w, http.StatusOK, "empty", fmt.Sprintf("no scripted data for %s", symbol))
		return
	}
	writeChart(w, symbol, prices, step)
	log.Printf("stub chart: %s interval=%s candles=%d", symbol, interval, len(prices))
}

func (m *Market) handleOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if m.injectFault(w) {
		return
	}
	if r.Header.Get("Authorization") == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "missing authorization"})
		return
	}

	var req struct {
		InstrumentCode string  `json:"instrumentCode"`
		Quantity       float64 `json:"quantity"`
		TimeValidity   string  `json:"timeValidity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "malformed order payload"})
		return
	}
	if req.InstrumentCode == "" || req.Quantity == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "instrumentCode and quantity are required"})
		return
	}

	m.mu.Lock()
	m.nextID++
	ord := Order{
		ID:             m.nextID,
		InstrumentCode: req.InstrumentCode,
		Quantity:       req.Quantity,
		TimeValidity:   req.TimeValidity,
		ReceivedAt:     time.Now(),
	}
	m.orders = append(m.orders, ord)
	m.mu.Unlock()

	log.Printf("stub order: %s qty=%g id=%d", ord.InstrumentCode, ord.Quantity, ord.ID)
	writeJSON(w, http.StatusOK, map[string]int64{"id": ord.ID})
}

func (m *Market) handleCash(w http.ResponseWriter, r *http.Request) {
	if m.injectFault(w) {
		return
	}
	if r.Header.Get("Authorization") == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "missing authorization"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"free": m.cfg.FreeCash})
}

func (m *Market) handleOrders(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, m.Orders())
}

// writeChart emits the v8 chart payload the yahoo adapter decodes. Daily
// candles end yesterday so a client that trims today's unfinished candle
// keeps every scripted close; minute candles end now.
func writeChart(w http.ResponseWriter, symbol string, prices []float64, step time.Duration) {
	n := len(prices)
	timestamps := make([]int64, n)
	closes := make([]*float64, n)

	end := time.Now()
	if step >= 24*time.Hour {
		end = end.AddDate(0, 0, -1)
	}
	for i := range prices {
		p := prices[i]
		closes[i] = &p
		timestamps[i] = end.Add(-time.Duration(n-1-i) * step).Unix()
	}

	resp := map[string]any{
		"chart": map[string]any{
			"result": []any{map[string]any{
				"meta": map[string]any{
					"symbol":               symbol,
					"regularMarketPrice":   prices[n-1],
					"exchangeTimezoneName": "Europe/London",
				},
				"timestamp": timestamps,
				"indicators": map[string]any{
					"quote": []any{map[string]any{"close": closes}},
				},
			}},
			"error": nil,
		},
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeChartError(w http.ResponseWriter, status int, code, description string) {
	resp := map[string]any{
		"chart": map[string]any{
			"result": nil,
			"error":  map[string]string{"code": code, "description": description},
		},
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
