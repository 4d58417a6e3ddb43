package trade

import (
	"testing"
	"time"

	"github.com/Rajchodisetti/gapfill-bot/internal/plan"
)

func testPlan(symbol string) plan.Plan {
	return plan.Plan{
		Symbol:    symbol,
		Entry:     100,
		Target:    101,
		Stop:      99.4,
		Quantity:  5,
		CreatedAt: time.Date(2025, time.March, 10, 14, 31, 0, 0, time.UTC),
	}
}

func enteredTrade(t *testing.T, symbol string) *Trade {
	t.Helper()
	tr := New(testPlan(symbol))
	if err := tr.Enter("ord-1", time.Now()); err != nil {
		t.Fatalf("enter: %v", err)
	}
	return tr
}

func TestLifecycleHappyPath(t *testing.T) {
	tr := New(testPlan("VOD"))
	if tr.State != Planned {
		t.Fatalf("new trade state = %s, want planned", tr.State)
	}

	at := time.Now()
	if err := tr.Enter("ord-1", at); err != nil {
		t.Fatalf("enter: %v", err)
	}
	if tr.State != Entered || tr.EntryRef != "ord-1" || !tr.EnteredAt.Equal(at) {
		t.Fatalf("entered trade = %+v", tr)
	}

	if err := tr.Close(TargetHit, "ord-2", 101.2, at.Add(time.Minute)); err != nil {
		t.Fatalf("close: %v", err)
	}
	if tr.State != Closed || tr.ExitReason != TargetHit || tr.ExitPrice != 101.2 {
		t.Fatalf("closed trade = %+v", tr)
	}
	if got := tr.RealizedPnL(); got != (101.2-100)*5 {
		t.Fatalf("pnl = %v, want %v", got, (101.2-100)*5)
	}
}

func TestIllegalTransitions(t *testing.T) {
	tr := New(testPlan("VOD"))
	if err := tr.Close(TargetHit, "x", 101, time.Now()); err == nil {
		t.Fatal("closed a planned trade")
	}

	if err := tr.Enter("ord-1", time.Now()); err != nil {
		t.Fatalf("enter: %v", err)
	}
	if err := tr.Enter("ord-dup", time.Now()); err == nil {
		t.Fatal("entered twice")
	}

	if err := tr.Close(StopHit, "ord-2", 99.3, time.Now()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := tr.Close(TargetHit, "ord-3", 101.5, time.Now()); err == nil {
		t.Fatal("mutated a closed trade")
	}
	if tr.ExitReason != StopHit {
		t.Fatalf("exit reason changed to %s after second close attempt", tr.ExitReason)
	}
}

func TestExitSignalTargetSequence(t *testing.T) {
	tr := enteredTrade(t, "VOD")
	// target=101, stop=99.4
	for _, px := range []float64{100.2, 100.8} {
		if reason, hit := tr.ExitSignal(px); hit {
			t.Fatalf("price %v fired %s early", px, reason)
		}
	}
	reason, hit := tr.ExitSignal(101.3)
	if !hit || reason != TargetHit {
		t.Fatalf("price 101.3: reason=%v hit=%v, want target_hit", reason, hit)
	}
	if tr.LastPrice != 101.3 {
		t.Fatalf("last price = %v, want 101.3", tr.LastPrice)
	}
}

func TestExitSignalStopSequence(t *testing.T) {
	tr := enteredTrade(t, "VOD")
	for _, px := range []float64{100.2, 99.6} {
		if reason, hit := tr.ExitSignal(px); hit {
			t.Fatalf("price %v fired %s early", px, reason)
		}
	}
	reason, hit := tr.ExitSignal(99.1)
	if !hit || reason != StopHit {
		t.Fatalf("price 99.1: reason=%v hit=%v, want stop_hit", reason, hit)
	}
}

// With stop < entry < target one observation cannot satisfy both boundaries,
// but the check order must still put the stop first so a malformed or
// degenerate plan can never close as a profit.
func TestExitSignalStopWinsWhenBothHold(t *testing.T) {
	tr := New(plan.Plan{Symbol: "VOD", Entry: 100, Target: 99, Stop: 100.5, Quantity: 1})
	if err := tr.Enter("ord-1", time.Now()); err != nil {
		t.Fatalf("enter: %v", err)
	}
	reason, hit := tr.ExitSignal(99.5) // >= target and <= stop
	if !hit || reason != StopHit {
		t.Fatalf("reason=%v hit=%v, want stop_hit to win the tie", reason, hit)
	}
}

func TestExitSignalIgnoresNonEntered(t *testing.T) {
	tr := New(testPlan("VOD"))
	if _, hit := tr.ExitSignal(50); hit {
		t.Fatal("planned trade produced an exit signal")
	}

	tr = enteredTrade(t, "VOD")
	if err := tr.Close(TargetHit, "ord-2", 101.2, time.Now()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, hit := tr.ExitSignal(50); hit {
		t.Fatal("closed trade produced an exit signal")
	}
}

func TestDeferExitLatchesReasonAndKey(t *testing.T) {
	tr := enteredTrade(t, "VOD")
	now := time.Now()

	tr.DeferExit(StopHit, "key-1", now, now.Add(2*time.Second))
	if tr.Pending == nil || tr.Pending.Reason != StopHit || tr.Pending.IntentKey != "key-1" {
		t.Fatalf("pending = %+v", tr.Pending)
	}
	if tr.Pending.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", tr.Pending.Attempts)
	}

	// A forced-close sweep must not re-label an in-flight stop exit.
	tr.DeferExit(EODForcedClose, "key-2", now.Add(time.Minute), now.Add(2*time.Minute))
	if tr.Pending.Reason != StopHit || tr.Pending.IntentKey != "key-1" {
		t.Fatalf("pending re-labelled: %+v", tr.Pending)
	}
	if tr.Pending.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", tr.Pending.Attempts)
	}
	if !tr.Pending.NextTry.Equal(now.Add(2 * time.Minute)) {
		t.Fatalf("next try not advanced: %v", tr.Pending.NextTry)
	}

	// Closing with the latched reason clears the pending intent.
	if err := tr.Close(tr.Pending.Reason, "ord-2", 99.0, now.Add(3*time.Minute)); err != nil {
		t.Fatalf("close: %v", err)
	}
	if tr.Pending != nil {
		t.Fatal("pending exit survived close")
	}
	if tr.ExitReason != StopHit {
		t.Fatalf("exit reason = %s, want the original stop_hit", tr.ExitReason)
	}
}

func TestBookOneTradePerInstrument(t *testing.T) {
	b := NewBook("2025-03-10")

	tr, err := b.Create(testPlan("VOD"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := b.Create(testPlan("VOD")); err == nil {
		t.Fatal("book accepted a second planned trade for VOD")
	}

	if err := tr.Enter("ord-1", time.Now()); err != nil {
		t.Fatalf("enter: %v", err)
	}
	if _, err := b.Create(testPlan("VOD")); err == nil {
		t.Fatal("book accepted a duplicate while entered")
	}

	if err := tr.Close(TargetHit, "ord-2", 101.2, time.Now()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := b.Create(testPlan("VOD")); err == nil {
		t.Fatal("book re-admitted VOD after close; the symbol is done for the day")
	}
}

func TestBookDiscardFreesOnlyPlanned(t *testing.T) {
	b := NewBook("2025-03-10")

	if _, err := b.Create(testPlan("VOD")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := b.Discard("VOD"); err != nil {
		t.Fatalf("discard planned: %v", err)
	}
	if b.Has("VOD") {
		t.Fatal("discarded trade still on book")
	}

	// After a discard the symbol is eligible again.
	tr, err := b.Create(testPlan("VOD"))
	if err != nil {
		t.Fatalf("re-create after discard: %v", err)
	}
	if err := tr.Enter("ord-1", time.Now()); err != nil {
		t.Fatalf("enter: %v", err)
	}
	if err := b.Discard("VOD"); err == nil {
		t.Fatal("discarded an entered trade")
	}

	if err := b.Discard("GME"); err == nil {
		t.Fatal("discarded a symbol that was never booked")
	}
}

func TestBookViews(t *testing.T) {
	b := NewBook("2025-03-10")
	now := time.Now()

	a, _ := b.Create(testPlan("VOD"))
	c, _ := b.Create(testPlan("GME"))
	d, _ := b.Create(testPlan("AMC"))

	_ = a.Enter("o1", now)
	_ = c.Enter("o2", now)
	// d stays planned

	entered := b.Entered()
	if len(entered) != 2 || entered[0].Symbol != "VOD" || entered[1].Symbol != "GME" {
		t.Fatalf("entered = %v", symbols(entered))
	}

	c.DeferExit(StopHit, "k", now, now.Add(time.Second))
	pend := b.PendingExits()
	if len(pend) != 1 || pend[0].Symbol != "GME" {
		t.Fatalf("pending = %v", symbols(pend))
	}

	if err := a.Close(TargetHit, "o3", 101.5, now); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := b.Entered(); len(got) != 1 || got[0].Symbol != "GME" {
		t.Fatalf("entered after close = %v", symbols(got))
	}

	if all := b.All(); len(all) != 3 {
		t.Fatalf("all = %v, want 3 trades incl. planned %s", symbols(all), d.Symbol)
	}
}

func symbols(ts []*Trade) []string {
	out := make([]string, len(ts))
	for i, tr := range ts {
		out[i] = tr.Symbol
	}
	return out
}
