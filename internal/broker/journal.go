package broker

import (
	"context"
	"sync"
	"time"

	"github.com/Rajchodisetti/gapfill-bot/internal/adapters"
	"github.com/Rajchodisetti/gapfill-bot/internal/observ"
	"github.com/Rajchodisetti/gapfill-bot/internal/outbox"
)

// JournaledGateway wraps a gateway with intent keys and the order journal.
// Every submission is journaled as an attempt; accepted orders are journaled
// again as orders, which is what the startup unmatched-buys check reads.
// Retries of one intent (same symbol, side, reason, day) share an intent key
// and a growing attempt counter.
type JournaledGateway struct {
	inner   OrderGateway
	journal *outbox.Journal
	symbols *adapters.SymbolMap
	day     func() string

	mu       sync.Mutex
	attempts map[string]int
}

func NewJournaledGateway(inner OrderGateway, journal *outbox.Journal, symbols *adapters.SymbolMap, day func() string) *JournaledGateway {
	return &JournaledGateway{
		inner:    inner,
		journal:  journal,
		symbols:  symbols,
		day:      day,
		attempts: make(map[string]int),
	}
}

// SubmitIntent submits a market order under a stable intent key. reason is
// "entry" for buys and the exit reason for sells; it feeds the key, so a
// retried stop exit reuses the key of the failed try while a fresh intent
// for the same symbol under a different reason gets its own.
func (g *JournaledGateway) SubmitIntent(ctx context.Context, symbol string, side Side, quantity int, reason string) (*OrderRef, error) {
	day := g.day()
	key := outbox.GenerateIntentKey(symbol, string(side), reason, day)

	g.mu.Lock()
	g.attempts[key]++
	n := g.attempts[key]
	g.mu.Unlock()

	ref, err := g.inner.SubmitMarketOrder(ctx, symbol, side, quantity)

	attempt := outbox.Attempt{
		IntentKey: key,
		Symbol:    symbol,
		Side:      string(side),
		Quantity:  quantity,
		Attempt:   n,
		Timestamp: time.Now().UTC(),
	}
	if err != nil {
		attempt.Error = err.Error()
	}
	if jerr := g.journal.WriteAttempt(day, attempt); jerr != nil {
		observ.Log("journal_write_failed", map[string]any{"kind": "attempt", "symbol": symbol, "error": jerr.Error()})
	}

	if err != nil {
		observ.IncCounter("order_errors_total", map[string]string{
			"code": ErrorCode(err), "adapter": g.inner.Name(),
		})
		return nil, err
	}

	code, cerr := g.symbols.BrokerCode(symbol)
	if cerr != nil {
		code = ""
	}
	order := outbox.Order{
		Ref:        ref.ID,
		Symbol:     symbol,
		BrokerCode: code,
		Side:       string(side),
		Quantity:   quantity,
		Reason:     reason,
		IntentKey:  key,
		Gateway:    ref.Gateway,
		Timestamp:  ref.SubmittedAt,
	}
	if jerr := g.journal.WriteOrder(day, order); jerr != nil {
		observ.Log("journal_write_failed", map[string]any{"kind": "order", "symbol": symbol, "error": jerr.Error()})
	}
	if ref.Price > 0 {
		fill := outbox.Fill{
			OrderRef:  ref.ID,
			Symbol:    symbol,
			Side:      string(side),
			Quantity:  quantity,
			Price:     ref.Price,
			Timestamp: ref.SubmittedAt,
		}
		if jerr := g.journal.WriteFill(day, fill); jerr != nil {
			observ.Log("journal_write_failed", map[string]any{"kind": "fill", "symbol": symbol, "error": jerr.Error()})
		}
	}

	observ.IncCounter("orders_submitted_total", map[string]string{
		"side": string(side), "adapter": ref.Gateway,
	})
	return ref, nil
}

// IntentKey exposes the key SubmitIntent would use, so callers can latch it
// onto a pending exit before the first retry.
func (g *JournaledGateway) IntentKey(symbol string, side Side, reason string) string {
	return outbox.GenerateIntentKey(symbol, string(side), reason, g.day())
}

// Attempts reports how many times an intent key has been submitted.
func (g *JournaledGateway) Attempts(key string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.attempts[key]
}

func (g *JournaledGateway) Name() string { return g.inner.Name() }

func (g *JournaledGateway) Close() error { return g.inner.Close() }
