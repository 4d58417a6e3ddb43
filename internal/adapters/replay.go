package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// Fixture is a recorded session: per-symbol daily closes plus the intraday
// tick script to play back, in order.
type Fixture struct {
	Day         string                       `json:"day"`
	Instruments map[string]FixtureInstrument `json:"instruments"`
}

type FixtureInstrument struct {
	Closes []float64 `json:"closes"`
	Ticks  []float64 `json:"ticks"`
}

// ReplaySource plays a fixture back through the QuoteSource and
// HistorySource interfaces. Each GetQuote call advances the symbol's tick
// cursor; once a script is exhausted the last tick repeats, so open trades
// that never hit target or stop park until the session forces them closed.
type ReplaySource struct {
	mu       sync.Mutex
	fixture  Fixture
	cursor   map[string]int
	failNext map[string]error
	healthy  bool
}

// NewReplaySource loads a fixture file.
func NewReplaySource(path string) (*ReplaySource, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	var f Fixture
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return NewReplayFromFixture(f)
}

// NewReplayFromFixture wraps an in-memory fixture, mostly for tests.
func NewReplayFromFixture(f Fixture) (*ReplaySource, error) {
	if len(f.Instruments) == 0 {
		return nil, fmt.Errorf("fixture has no instruments")
	}
	for symbol, inst := range f.Instruments {
		if len(inst.Ticks) == 0 {
			return nil, fmt.Errorf("fixture instrument %s has no ticks", symbol)
		}
	}
	return &ReplaySource{
		fixture:  f,
		cursor:   make(map[string]int, len(f.Instruments)),
		failNext: make(map[string]error),
		healthy:  true,
	}, nil
}

func (r *ReplaySource) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	r.mu.Lock()
	defer r.mu.Unlock()

	if err, ok := r.failNext[symbol]; ok {
		delete(r.failNext, symbol)
		return nil, err
	}

	inst, ok := r.fixture.Instruments[symbol]
	if !ok {
		return nil, NewBadSymbolError(symbol, "symbol not in fixture")
	}

	i := r.cursor[symbol]
	if i >= len(inst.Ticks) {
		i = len(inst.Ticks) - 1
	} else {
		r.cursor[symbol] = i + 1
	}

	return &Quote{
		Symbol:    symbol,
		Last:      inst.Ticks[i],
		Timestamp: time.Now(),
		Source:    "replay",
	}, nil
}

func (r *ReplaySource) GetDailyCloses(ctx context.Context, symbol string, lookback int) (PriceSeries, error) {
	select {
	case <-ctx.Done():
		return PriceSeries{}, ctx.Err()
	default:
	}

	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.fixture.Instruments[symbol]
	if !ok {
		return PriceSeries{}, NewBadSymbolError(symbol, "symbol not in fixture")
	}

	closes := inst.Closes
	if lookback > 0 && lookback < len(closes) {
		closes = closes[len(closes)-lookback:]
	}
	out := make([]float64, len(closes))
	copy(out, closes)
	return PriceSeries{Symbol: symbol, Closes: out, AsOf: time.Now()}, nil
}

// Exhausted reports whether every symbol's tick script has been fully played.
func (r *ReplaySource) Exhausted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for symbol, inst := range r.fixture.Instruments {
		if r.cursor[symbol] < len(inst.Ticks) {
			return false
		}
	}
	return true
}

// FailNext makes the next GetQuote for symbol return err. Lets tests walk a
// trade through transient quote failures.
func (r *ReplaySource) FailNext(symbol string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failNext[strings.ToUpper(strings.TrimSpace(symbol))] = err
}

// SetHealth controls what HealthCheck reports.
func (r *ReplaySource) SetHealth(healthy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.healthy = healthy
}

func (r *ReplaySource) HealthCheck(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.healthy {
		return fmt.Errorf("replay source marked unhealthy")
	}
	return nil
}

func (r *ReplaySource) Close() error { return nil }
