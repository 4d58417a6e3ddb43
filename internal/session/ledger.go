package session

import "math"

// Ledger tracks capital deployment for one session. Spent only grows:
// capital freed by a closed trade is not redeployed the same day, so a
// morning of stop-outs cannot churn the whole budget through one instrument.
// Realized PnL accumulates for the session summary and never feeds back into
// sizing. The session loop's goroutine is the only writer, so no locks.
type Ledger struct {
	budget   float64
	slice    float64
	spent    float64
	realized float64
}

// NewLedger splits the session budget evenly across the universe.
func NewLedger(budget float64, universeSize int) *Ledger {
	if universeSize < 1 {
		universeSize = 1
	}
	return &Ledger{budget: budget, slice: budget / float64(universeSize)}
}

// InstrumentBudget is the per-instrument slice the plan sizer works from.
func (l *Ledger) InstrumentBudget() float64 { return l.slice }

// CapQuantity shrinks qty until its notional fits the undeployed budget.
// Zero means not even one share fits.
func (l *Ledger) CapQuantity(qty int, entry float64) int {
	if qty <= 0 || entry <= 0 {
		return 0
	}
	affordable := int(math.Floor(l.Remaining() / entry))
	if qty > affordable {
		qty = affordable
	}
	return qty
}

// RecordEntry consumes budget at the planned entry price.
func (l *Ledger) RecordEntry(qty int, entry float64) {
	l.spent += float64(qty) * entry
}

// RecordExit books the realized result. Spent capital stays spent.
func (l *Ledger) RecordExit(qty int, entry, exit float64) {
	l.realized += (exit - entry) * float64(qty)
}

// Remaining is the undeployed budget, never negative.
func (l *Ledger) Remaining() float64 {
	if l.spent >= l.budget {
		return 0
	}
	return l.budget - l.spent
}

// Budget is the full session allocation.
func (l *Ledger) Budget() float64 { return l.budget }

// Spent is the notional deployed so far.
func (l *Ledger) Spent() float64 { return l.spent }

// Realized is the summed per-trade PnL of closed trades.
func (l *Ledger) Realized() float64 { return l.realized }
