package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Rajchodisetti/gapfill-bot/internal/adapters"
)

// PaperConfig tunes the simulated fills.
type PaperConfig struct {
	SlippageBP float64       // applied against the order: buys fill above, sells below
	Latency    time.Duration // optional submit delay
	StartCash  float64       // defaults to 1,000,000 so small budgets never trip it
}

// PaperGateway fills market orders against the live quote source without
// touching a brokerage. It enforces the same failure surface as the real
// gateway: overselling a position is rejected, and a buy that exceeds the
// remaining cash fails with insufficient_funds, so the session loop's error
// handling gets exercised in dry runs.
type PaperGateway struct {
	cfg    PaperConfig
	quotes adapters.QuoteSource

	mu        sync.Mutex
	cash      float64
	positions map[string]int
	orders    []OrderRef
}

func NewPaperGateway(quotes adapters.QuoteSource, cfg PaperConfig) *PaperGateway {
	if cfg.StartCash <= 0 {
		cfg.StartCash = 1_000_000
	}
	return &PaperGateway{
		cfg:       cfg,
		quotes:    quotes,
		cash:      cfg.StartCash,
		positions: make(map[string]int),
	}
}

func (g *PaperGateway) Name() string { return "paper" }

func (g *PaperGateway) SubmitMarketOrder(ctx context.Context, symbol string, side Side, quantity int) (*OrderRef, error) {
	if quantity <= 0 {
		return nil, NewRejectedError(symbol, fmt.Sprintf("quantity %d must be positive", quantity))
	}
	if g.cfg.Latency > 0 {
		if err := sleepCtx(ctx, g.cfg.Latency); err != nil {
			return nil, NewNetworkError(symbol, "submit cancelled", err)
		}
	}

	quote, err := g.quotes.GetQuote(ctx, symbol)
	if err != nil {
		return nil, NewNetworkError(symbol, "no fill price", err)
	}
	if err := adapters.ValidateQuote(quote); err != nil {
		return nil, NewNetworkError(symbol, "bad fill price", err)
	}

	price := quote.Last
	slip := price * g.cfg.SlippageBP / 10_000
	if side == Buy {
		price += slip
	} else {
		price -= slip
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	switch side {
	case Buy:
		cost := price * float64(quantity)
		if cost > g.cash {
			return nil, NewInsufficientFundsError(symbol,
				fmt.Sprintf("cost %.2f exceeds cash %.2f", cost, g.cash))
		}
		g.cash -= cost
		g.positions[symbol] += quantity
	case Sell:
		held := g.positions[symbol]
		if quantity > held {
			return nil, NewRejectedError(symbol,
				fmt.Sprintf("sell %d exceeds position %d", quantity, held))
		}
		g.cash += price * float64(quantity)
		g.positions[symbol] = held - quantity
	default:
		return nil, NewRejectedError(symbol, fmt.Sprintf("unknown side %q", side))
	}

	ref := OrderRef{
		ID:          "paper-" + uuid.NewString(),
		Symbol:      symbol,
		Side:        side,
		Quantity:    quantity,
		Price:       price,
		SubmittedAt: time.Now().UTC(),
		Gateway:     g.Name(),
	}
	g.orders = append(g.orders, ref)
	return &ref, nil
}

// FreeCash mirrors the live gateway's startup cash check.
func (g *PaperGateway) FreeCash(_ context.Context) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cash, nil
}

// Position reports the held quantity for a symbol.
func (g *PaperGateway) Position(symbol string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.positions[symbol]
}

// Orders returns every executed order in submission sequence.
func (g *PaperGateway) Orders() []OrderRef {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]OrderRef, len(g.orders))
	copy(out, g.orders)
	return out
}

func (g *PaperGateway) Close() error { return nil }
