package adapters

import (
	"context"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"
)

const simHistoryDays = 64

// SimSource serves simulated quotes and daily history for the configured
// universe. Every even-indexed symbol opens with a gap-down inside the
// strategy window and a soft downtrend in its recent closes, so a session
// against the sim produces accepted plans as well as gate rejections.
// Deterministic for a given seed and universe order.
type SimSource struct {
	mu    sync.Mutex
	rng   *rand.Rand
	state map[string]*simInstrument
}

type simInstrument struct {
	closes []float64
	price  float64
	drift  float64
	vol    float64 // daily volatility as a decimal
}

func NewSimSource(symbols []string, seed int64) *SimSource {
	s := &SimSource{
		rng:   rand.New(rand.NewSource(seed)),
		state: make(map[string]*simInstrument, len(symbols)),
	}
	for i, raw := range symbols {
		symbol := strings.ToUpper(strings.TrimSpace(raw))
		inst := &simInstrument{vol: 0.012 + 0.004*float64(i%3)}

		base := 30 + float64((i*41)%170)
		inst.closes = make([]float64, simHistoryDays)
		price := base
		for d := range inst.closes {
			price *= 1 + s.rng.NormFloat64()*inst.vol
			inst.closes[d] = roundToTick(price, tickSize(price))
		}

		gapper := i%2 == 0
		if gapper {
			// Soft downtrend into the open keeps short-lookback RSI low.
			for d := simHistoryDays - 4; d < simHistoryDays; d++ {
				inst.closes[d] = roundToTick(inst.closes[d-1]*0.996, tickSize(inst.closes[d-1]))
			}
		}

		prevClose := inst.closes[simHistoryDays-1]
		if gapper {
			inst.price = prevClose * (1 - 0.004 - s.rng.Float64()*0.004)
			if (i/2)%2 == 0 {
				inst.drift = 0.0005 // bounces back through the gap
			} else {
				inst.drift = -0.0003 // keeps falling into the stop
			}
		} else {
			inst.price = prevClose * (1 + (s.rng.Float64()-0.5)*0.004)
		}
		inst.price = roundToTick(inst.price, tickSize(inst.price))
		s.state[symbol] = inst
	}
	return s
}

// GetQuote advances the symbol's random walk one step and returns the result.
func (s *SimSource) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.state[symbol]
	if !ok {
		return nil, NewBadSymbolError(symbol, "symbol not in sim universe")
	}

	// Daily volatility scaled to one step of a 390-minute session.
	step := inst.drift + s.rng.NormFloat64()*inst.vol/math.Sqrt(390)
	inst.price = roundToTick(inst.price*(1+step), tickSize(inst.price))

	return &Quote{
		Symbol:    symbol,
		Last:      inst.price,
		Timestamp: time.Now(),
		Source:    "sim",
	}, nil
}

// GetDailyCloses returns the tail of the symbol's synthetic close series.
// The series is fixed at construction, so repeated calls within a session
// agree with each other.
func (s *SimSource) GetDailyCloses(ctx context.Context, symbol string, lookback int) (PriceSeries, error) {
	select {
	case <-ctx.Done():
		return PriceSeries{}, ctx.Err()
	default:
	}

	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.state[symbol]
	if !ok {
		return PriceSeries{}, NewBadSymbolError(symbol, "symbol not in sim universe")
	}
	if lookback <= 0 || lookback > len(inst.closes) {
		lookback = len(inst.closes)
	}

	closes := make([]float64, lookback)
	copy(closes, inst.closes[len(inst.closes)-lookback:])
	return PriceSeries{Symbol: symbol, Closes: closes, AsOf: time.Now()}, nil
}

func (s *SimSource) HealthCheck(ctx context.Context) error { return nil }

func (s *SimSource) Close() error { return nil }

func tickSize(price float64) float64 {
	if price >= 1.00 {
		return 0.01
	}
	return 0.0001
}

func roundToTick(price, tick float64) float64 {
	return math.Round(price/tick) * tick
}
