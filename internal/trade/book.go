package trade

import (
	"fmt"

	"github.com/Rajchodisetti/gapfill-bot/internal/plan"
)

// Book is the set of trades for one session day. It owns the invariant that
// an instrument gets at most one trade per session: once a symbol's trade
// reaches ENTERED it is never re-planned that day, even after it closes.
// A PLANNED trade whose entry order was refused is discarded, which frees
// the symbol for a later scan; no order was ever accepted for it.
type Book struct {
	day    string
	trades map[string]*Trade
	order  []string
}

// NewBook starts an empty book for the given exchange-local day.
func NewBook(day string) *Book {
	return &Book{day: day, trades: make(map[string]*Trade)}
}

// Day is the exchange-local day this book covers.
func (b *Book) Day() string { return b.day }

// Create admits a new PLANNED trade. It refuses when the symbol already has
// a trade this session, whatever its state.
func (b *Book) Create(p plan.Plan) (*Trade, error) {
	if existing, ok := b.trades[p.Symbol]; ok {
		return nil, fmt.Errorf("trade for %s already %s this session", p.Symbol, existing.State)
	}
	t := New(p)
	b.trades[p.Symbol] = t
	b.order = append(b.order, p.Symbol)
	return t, nil
}

// Get looks up the symbol's trade for this session.
func (b *Book) Get(symbol string) (*Trade, bool) {
	t, ok := b.trades[symbol]
	return t, ok
}

// Has reports whether the symbol is taken for this session.
func (b *Book) Has(symbol string) bool {
	_, ok := b.trades[symbol]
	return ok
}

// Discard removes a PLANNED trade whose entry submission failed. Discarding
// an ENTERED or CLOSED trade is an error: those represent accepted orders
// and must stay on the book for the rest of the session.
func (b *Book) Discard(symbol string) error {
	t, ok := b.trades[symbol]
	if !ok {
		return fmt.Errorf("discard %s: no trade on book", symbol)
	}
	if t.State != Planned {
		return fmt.Errorf("discard %s: trade is %s, only planned trades can be discarded", symbol, t.State)
	}
	delete(b.trades, symbol)
	for i, s := range b.order {
		if s == symbol {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	return nil
}

// Entered returns every live trade in creation order.
func (b *Book) Entered() []*Trade {
	var out []*Trade
	for _, sym := range b.order {
		if t := b.trades[sym]; t.State == Entered {
			out = append(out, t)
		}
	}
	return out
}

// PendingExits returns live trades whose exit is latched for retry.
func (b *Book) PendingExits() []*Trade {
	var out []*Trade
	for _, sym := range b.order {
		if t := b.trades[sym]; t.State == Entered && t.Pending != nil {
			out = append(out, t)
		}
	}
	return out
}

// All returns every trade in creation order, for session-end reporting.
func (b *Book) All() []*Trade {
	out := make([]*Trade, 0, len(b.order))
	for _, sym := range b.order {
		out = append(out, b.trades[sym])
	}
	return out
}
