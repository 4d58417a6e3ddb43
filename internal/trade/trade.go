// Package trade holds the per-instrument lifecycle state machine and the
// session Book that enforces the one-trade-per-instrument-per-day rule.
// Trades are mutated only by the session loop's single goroutine, so the
// types carry no locks.
package trade

import (
	"fmt"
	"time"

	"github.com/Rajchodisetti/gapfill-bot/internal/plan"
)

// State is where a trade sits in its lifecycle.
type State int

const (
	Planned State = iota // plan accepted, entry order not yet confirmed
	Entered              // entry accepted by the gateway, position live
	Closed               // exit accepted, terminal
)

func (s State) String() string {
	switch s {
	case Planned:
		return "planned"
	case Entered:
		return "entered"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// ExitReason records why a trade left the market.
type ExitReason string

const (
	TargetHit      ExitReason = "target_hit"
	StopHit        ExitReason = "stop_hit"
	EODForcedClose ExitReason = "eod_forced_close"
	AbortClose     ExitReason = "abort_close" // shutdown mid-session, best-effort
)

// PendingExit is an exit the gateway has not accepted yet. The trade stays
// ENTERED until a retry succeeds; the reason and intent key are latched on
// the first failure so every retry journals under the same identity.
type PendingExit struct {
	Reason    ExitReason
	IntentKey string
	Attempts  int
	NextTry   time.Time
	FirstTry  time.Time
}

// Trade is the live record of one acted-upon plan.
type Trade struct {
	Symbol string
	Plan   plan.Plan
	State  State

	EntryRef  string
	EnteredAt time.Time

	// LastPrice is the most recent observation fed through ExitSignal; it
	// stands in for the fill price when the gateway reports none.
	LastPrice float64

	ExitReason ExitReason
	ExitRef    string
	ExitPrice  float64
	ClosedAt   time.Time

	Pending *PendingExit
}

// New wraps an accepted plan in a PLANNED trade.
func New(p plan.Plan) *Trade {
	return &Trade{Symbol: p.Symbol, Plan: p, State: Planned, LastPrice: p.Entry}
}

// Enter marks the entry order accepted. Only a PLANNED trade can enter.
func (t *Trade) Enter(orderRef string, at time.Time) error {
	if t.State != Planned {
		return fmt.Errorf("enter %s: trade is %s, want planned", t.Symbol, t.State)
	}
	t.State = Entered
	t.EntryRef = orderRef
	t.EnteredAt = at
	return nil
}

// ExitSignal folds one price observation into the trade and reports whether
// target or stop fired. The stop is checked first: when one observation
// satisfies both boundaries the trade closes as a stop, protecting capital
// over capturing profit.
func (t *Trade) ExitSignal(price float64) (ExitReason, bool) {
	if t.State != Entered {
		return "", false
	}
	t.LastPrice = price
	if price <= t.Plan.Stop {
		return StopHit, true
	}
	if price >= t.Plan.Target {
		return TargetHit, true
	}
	return "", false
}

/// Close records the accepted exit. CLOSED is terminal: closing twice is an
// error, and no field mutates afterwards.
func (t *Trade) Close(reason ExitReason, orderRef string, price float64, at time.Time) error {
	if t.State == Closed {
		return fmt.Errorf("close %s: already closed (%s)", t.Symbol, t.ExitReason)
	}
	if t.State != Entered {
		return fmt.Errorf("close %s: trade is %s, want entered", t.Symbol, t.State)
	}
	t.State = Closed
	t.ExitReason = reason
	t.ExitRef = orderRef
	t.ExitPrice = price
	t.ClosedAt = at
	t.Pending = nil
	return nil
}

// DeferExit latches a failed exit for retry. The first failure fixes the
// reason and intent key; later calls only advance the retry schedule, so an
// EOD sweep never re-labels a stop exit that is already in flight.
func (t *Trade) DeferExit(reason ExitReason, intentKey string, now, nextTry time.Time) {
	if t.State != Entered {
		return
	}
	if t.Pending == nil {
		t.Pending = &PendingExit{Reason: reason, IntentKey: intentKey, FirstTry: now}
	}
	t.Pending.Attempts++
	t.Pending.NextTry = nextTry
}

// RealizedPnL is the signed per-trade result once closed, zero otherwise.
func (t *Trade) RealizedPnL() float64 {
	if t.State != Closed {
		return 0
	}
	return (t.ExitPrice - t.Plan.Entry) * float64(t.Plan.Quantity)
}
