package session

import (
	"math"
	"testing"
)

func TestNewLedgerSplitsBudget(t *testing.T) {
	l := NewLedger(100, 4)
	if got := l.InstrumentBudget(); got != 25 {
		t.Fatalf("InstrumentBudget() = %v, want 25", got)
	}
	if got := l.Budget(); got != 100 {
		t.Fatalf("Budget() = %v, want 100", got)
	}
	if got := NewLedger(100, 0).InstrumentBudget(); got != 100 {
		t.Fatalf("InstrumentBudget() with no universe = %v, want 100", got)
	}
}

func TestCapQuantity(t *testing.T) {
	tests := []struct {
		name  string
		spent float64
		qty   int
		entry float64
		want  int
	}{
		{"fits untouched", 0, 5, 10, 5},
		{"shrunk to remaining", 70, 5, 10, 3},
		{"exact fit", 50, 5, 10, 5},
		{"nothing affordable", 95, 5, 10, 0},
		{"zero quantity", 0, 0, 10, 0},
		{"zero entry", 0, 5, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLedger(100, 1)
			if tt.spent > 0 {
				l.RecordEntry(1, tt.spent)
			}
			got := l.CapQuantity(tt.qty, tt.entry)
			if got != tt.want {
				t.Fatalf("CapQuantity(%d, %v) with %v spent = %d, want %d",
					tt.qty, tt.entry, tt.spent, got, tt.want)
			}
		})
	}
}

func TestSpentIsMonotonic(t *testing.T) {
	l := NewLedger(100, 2)
	l.RecordEntry(2, 20)

	// a winning exit books PnL but returns nothing to the deployable pot
	l.RecordExit(2, 20, 25)

	if got := l.Spent(); got != 40 {
		t.Fatalf("Spent() = %v, want 40", got)
	}
	if got := l.Remaining(); got != 60 {
		t.Fatalf("Remaining() = %v, want 60", got)
	}
	if got := l.Realized(); got != 10 {
		t.Fatalf("Realized() = %v, want 10", got)
	}
}

func TestRemainingNeverNegative(t *testing.T) {
	l := NewLedger(100, 1)
	l.RecordEntry(3, 40)
	if got := l.Remaining(); got != 0 {
		t.Fatalf("Remaining() after overspend = %v, want 0", got)
	}
	if got := l.CapQuantity(1, 10); got != 0 {
		t.Fatalf("CapQuantity() with nothing left = %d, want 0", got)
	}
}

func TestRealizedAccumulates(t *testing.T) {
	l := NewLedger(1000, 1)
	l.RecordEntry(10, 50)
	l.RecordExit(10, 50, 48.5)
	l.RecordEntry(4, 60)
	l.RecordExit(4, 60, 61)
	want := -15.0 + 4.0
	if got := l.Realized(); math.Abs(got-want) > 1e-9 {
		t.Fatalf("Realized() = %v, want %v", got, want)
	}
}
