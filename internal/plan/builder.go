// Package plan turns a price history and a live quote into a sized trade
// plan, or a reasoned rejection, for the gap-down bounce-back strategy.
package plan

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Rajchodisetti/gapfill-bot/internal/indicator"
)

// Config is the strategy tuple, immutable after startup.
type Config struct {
	MinGap     float64 // shallow bound, negative fraction, e.g. -0.003
	MaxGap     float64 // deep bound, negative fraction, e.g. -0.012
	RSIMax     float64 // e.g. 35
	RSIPeriod  int     // e.g. 14
	Budget     float64 // capital available to this instrument
	RiskPct    float64 // per-trade risk fraction of budget, e.g. 0.005
	SlippageBP float64 // entry nudge in basis points

	// Stop distance as a fraction of entry: |gap|*StopGapFrac clamped to
	// [StopFloorPct, StopCapPct].
	StopGapFrac  float64 // e.g. 0.6
	StopCapPct   float64 // e.g. 0.006
	StopFloorPct float64 // e.g. 0.002
}

// Plan is a fully priced trade proposal. Immutable once built.
type Plan struct {
	Symbol    string    `json:"symbol"`
	Entry     float64   `json:"entry"`
	Target    float64   `json:"target"`
	Stop      float64   `json:"stop"`
	Quantity  int       `json:"quantity"`
	CreatedAt time.Time `json:"created_at"`
}

// Decision is the trace of one Build call: the plan when every gate passed,
// otherwise the gates that blocked it.
type Decision struct {
	Symbol       string
	Plan         *Plan
	Gap          float64
	RSI          float64
	RSIDefined   bool
	GatesPassed  []string
	GatesBlocked []string
	ReasonJSON   string
}

// Accepted reports whether the decision produced a plan.
func (d Decision) Accepted() bool { return d.Plan != nil }

type reason struct {
	Gap          float64  `json:"gap"`
	RSI          *float64 `json:"rsi,omitempty"`
	GatesPassed  []string `json:"gates_passed"`
	GatesBlocked []string `json:"gates_blocked"`
	Policy       string   `json:"policy"`
	Entry        float64  `json:"entry,omitempty"`
	Target       float64  `json:"target,omitempty"`
	Stop         float64  `json:"stop,omitempty"`
	Quantity     int      `json:"quantity,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// Build evaluates one instrument against the gap and RSI gates and, when
// both pass, prices the long entry and sizes it. closes are daily closes
// oldest first, ending at the previous session's close. price is the live
// quote, now becomes the plan's creation timestamp. Pure: same inputs,
// same decision, no side effects.
func Build(cfg Config, symbol string, closes []float64, price float64, now time.Time) Decision {
	d := Decision{Symbol: symbol, GatesPassed: []string{}, GatesBlocked: []string{}}
	r := reason{
		GatesPassed:  []string{},
		GatesBlocked: []string{},
		Policy:       fmt.Sprintf("%.4f>=gap>=%.4f; rsi<=%.1f", cfg.MinGap, cfg.MaxGap, cfg.RSIMax),
	}

	if len(closes) == 0 {
		return d.blocked(r, "history", "empty price series")
	}
	previousClose := closes[len(closes)-1]

	gap, err := indicator.GapPercent(previousClose, price)
	if err != nil {
		return d.blocked(r, "gap_input", err.Error())
	}
	d.Gap = gap
	r.Gap = gap

	// both filter gates are evaluated so a rejection names everything wrong
	if cfg.MinGap >= gap && gap >= cfg.MaxGap {
		r.pass("gap_range")
	} else {
		r.block("gap_range")
	}

	rsi, err := indicator.RSI(closes, cfg.RSIPeriod)
	switch {
	case errors.Is(err, indicator.ErrInsufficientData):
		r.block("history")
	case err != nil:
		return d.blocked(r, "rsi_input", err.Error())
	default:
		d.RSI = rsi
		d.RSIDefined = true
		r.RSI = &rsi
		if rsi <= cfg.RSIMax {
			r.pass("rsi_ceiling")
		} else {
			r.block("rsi_ceiling")
		}
	}

	if len(r.GatesBlocked) > 0 {
		return d.finish(r)
	}

	entry := price * (1 + cfg.SlippageBP/10000)
	target := previousClose
	stopDist := clamp(math.Abs(gap)*cfg.StopGapFrac, cfg.StopFloorPct, cfg.StopCapPct)
	stop := entry * (1 - stopDist)

	// slippage can push the entry through the target on shallow gaps
	if entry >= target {
		return d.blocked(r, "headroom", fmt.Sprintf("entry %.4f >= target %.4f", entry, target))
	}
	r.pass("headroom")

	qty, err := Size(cfg.Budget, cfg.RiskPct, entry, stop)
	if err != nil {
		return d.blocked(r, "risk_input", err.Error())
	}
	if qty == 0 {
		return d.blocked(r, "size", "sizing rounds to zero shares")
	}
	r.pass("size")

	p := &Plan{
		Symbol:    symbol,
		Entry:     entry,
		Target:    target,
		Stop:      stop,
		Quantity:  qty,
		CreatedAt: now,
	}
	d.Plan = p
	r.Entry = p.Entry
	r.Target = p.Target
	r.Stop = p.Stop
	r.Quantity = p.Quantity
	return d.finish(r)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (r *reason) pass(gate string) {
	r.GatesPassed = append(r.GatesPassed, gate)
}

func (r *reason) block(gate string) {
	r.GatesBlocked = append(r.GatesBlocked, gate)
}

func (d Decision) blocked(r reason, gate, detail string) Decision {
	r.GatesBlocked = append(r.GatesBlocked, gate)
	r.Error = detail
	return d.finish(r)
}

func (d Decision) finish(r reason) Decision {
	d.GatesPassed = r.GatesPassed
	d.GatesBlocked = r.GatesBlocked
	rj, _ := json.Marshal(r)
	d.ReasonJSON = string(rj)
	return d
}
