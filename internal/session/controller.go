// Package session drives a trading day end to end: wait for the open, scan
// the universe for gap-down setups, enter at most one trade per instrument,
// poll entered trades against target and stop, and force everything flat at
// the bell. One goroutine owns the loop; ticks never overlap, so trade state
// needs no locks.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Rajchodisetti/gapfill-bot/internal/adapters"
	"github.com/Rajchodisetti/gapfill-bot/internal/alerts"
	"github.com/Rajchodisetti/gapfill-bot/internal/broker"
	"github.com/Rajchodisetti/gapfill-bot/internal/market"
	"github.com/Rajchodisetti/gapfill-bot/internal/observ"
	"github.com/Rajchodisetti/gapfill-bot/internal/plan"
	"github.com/Rajchodisetti/gapfill-bot/internal/trade"
)

const (
	minOpenWait  = 1 * time.Second
	maxOpenWait  = 5 * time.Minute
	abortTimeout = 30 * time.Second
	recoveryWait = 5 * time.Minute
)

// OrderSubmitter is the slice of the order gateway the session loop uses.
// *broker.JournaledGateway satisfies it.
type OrderSubmitter interface {
	SubmitIntent(ctx context.Context, symbol string, side broker.Side, quantity int, reason string) (*broker.OrderRef, error)
	IntentKey(symbol string, side broker.Side, reason string) string
}

// Config tunes one controller. Strategy.Budget is overwritten each session
// with the ledger's per-instrument slice.
type Config struct {
	Budget         float64
	TickInterval   time.Duration
	LookbackDays   int
	Strategy       plan.Config
	ExitRetryBase  time.Duration
	ExitRetryMax   time.Duration
	ExitAlertAfter int
}

// Deps are the collaborators the controller consumes. Now and Sleep default
// to the wall clock and are injected by tests and the replay harness.
type Deps struct {
	Clock    *market.Clock
	Symbols  *adapters.SymbolMap
	Quotes   adapters.QuoteSource
	History  adapters.HistorySource
	Orders   OrderSubmitter
	Notifier alerts.Notifier
	Now      func() time.Time
	Sleep    func(ctx context.Context, d time.Duration) error
}

// Controller runs sessions. Safe to reuse across days; all per-day state
// lives in the sessionState built by RunSession.
type Controller struct {
	cfg  Config
	deps Deps
}

// Summary is the end-of-session report.
type Summary struct {
	Day            string         `json:"day"`
	TradesEntered  int            `json:"trades_entered"`
	TradesClosed   int            `json:"trades_closed"`
	ClosedByReason map[string]int `json:"closed_by_reason"`
	Unclosed       []string       `json:"unclosed,omitempty"`
	Budget         float64        `json:"budget"`
	Spent          float64        `json:"spent"`
	Realized       float64        `json:"realized"`
}

type sessionState struct {
	book       *trade.Book
	ledger     *Ledger
	strategy   plan.Config
	lastReason map[string]string // per-symbol decision trace, logged on change
}

// NewController validates the dependency set and applies config floors.
func NewController(cfg Config, deps Deps) (*Controller, error) {
	switch {
	case deps.Clock == nil:
		return nil, fmt.Errorf("session: nil clock")
	case deps.Symbols == nil:
		return nil, fmt.Errorf("session: nil symbol map")
	case deps.Quotes == nil:
		return nil, fmt.Errorf("session: nil quote source")
	case deps.History == nil:
		return nil, fmt.Errorf("session: nil history source")
	case deps.Orders == nil:
		return nil, fmt.Errorf("session: nil order submitter")
	}
	if deps.Notifier == nil {
		deps.Notifier = alerts.MultiNotifier{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Sleep == nil {
		deps.Sleep = sleepCtx
	}
	if cfg.Budget <= 0 {
		return nil, fmt.Errorf("session: budget must be positive, got %.2f", cfg.Budget)
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 45 * time.Second
	}
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = 90
	}
	if cfg.ExitRetryBase <= 0 {
		cfg.ExitRetryBase = 5 * time.Second
	}
	if cfg.ExitRetryMax < cfg.ExitRetryBase {
		cfg.ExitRetryMax = cfg.ExitRetryBase
	}
	if cfg.ExitAlertAfter <= 0 {
		cfg.ExitAlertAfter = 5
	}
	return &Controller{cfg: cfg, deps: deps}, nil
}

// RunSession trades one day: wait for the open, tick until the close latch
// fires, force-close, then drain pending exits until the book is flat. The
// summary is returned even on a cancelled context so the caller can report
// what the aborted session did manage to do.
func (c *Controller) RunSession(ctx context.Context) (*Summary, error) {
	if err := c.waitForOpen(ctx); err != nil {
		return nil, err
	}
	if err := c.deps.Quotes.HealthCheck(ctx); err != nil {
		return nil, fmt.Errorf("quote feed health: %w", err)
	}

	now := c.deps.Now()
	universe := c.deps.Symbols.Symbols()
	s := &sessionState{
		book:       trade.NewBook(c.deps.Clock.Day(now)),
		ledger:     NewLedger(c.cfg.Budget, len(universe)),
		strategy:   c.cfg.Strategy,
		lastReason: make(map[string]string),
	}
	s.strategy.Budget = s.ledger.InstrumentBudget()

	observ.Log("session_start", map[string]any{
		"day":            s.book.Day(),
		"universe":       len(universe),
		"budget":         s.ledger.Budget(),
		"per_instrument": s.ledger.InstrumentBudget(),
	})

	err := c.runOpen(ctx, s)
	if err == nil {
		c.forceClose(ctx, s)
		err = c.drainExits(ctx, s)
	}
	if err != nil {
		c.abort(ctx, s)
	}

	sum := c.summarize(s)
	c.reportSummary(sum)
	return sum, err
}

// RunForever chains sessions, sleeping through nights and weekends inside
// RunSession's wait. A session that fails on anything but shutdown gets a
// cooldown before the next attempt so a dead dependency cannot hot-loop.
func (c *Controller) RunForever(ctx context.Context) error {
	for {
		_, err := c.RunSession(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			observ.Log("session_error", map[string]any{"err": err.Error()})
			c.notify(alerts.Event{
				Kind:     "session_error",
				Severity: alerts.Critical,
				Text:     fmt.Sprintf("session aborted: %v; retrying in %s", err, recoveryWait),
			})
			if serr := c.deps.Sleep(ctx, recoveryWait); serr != nil {
				return serr
			}
		}
		c.deps.Clock.Reset()
	}
}

// waitForOpen blocks until the session is open, sleeping in bounded slices
// so shutdown is never far away. NextOpen skips weekends. The wait is logged
// once per target open, not per slice.
func (c *Controller) waitForOpen(ctx context.Context) error {
	var logged time.Time
	for {
		now := c.deps.Now()
		phase := c.deps.Clock.Phase(now)
		observ.SetGauge("session_phase", float64(phase), nil)
		if phase == market.Open {
			return nil
		}
		next := c.deps.Clock.NextOpen(now)
		if !next.Equal(logged) {
			logged = next
			observ.Log("waiting_for_open", map[string]any{
				"next_open": next.Format(time.RFC3339),
				"wait_s":    int(next.Sub(now).Seconds()),
			})
		}
		wait := next.Sub(now)
		if wait > maxOpenWait {
			wait = maxOpenWait
		}
		if wait < minOpenWait {
			wait = minOpenWait
		}
		if err := c.deps.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// runOpen is the trading loop proper. It returns nil when the clock leaves
// the OPEN phase and the context error on cancellation.
func (c *Controller) runOpen(ctx context.Context, s *sessionState) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		now := c.deps.Now()
		phase := c.deps.Clock.Phase(now)
		observ.SetGauge("session_phase", float64(phase), nil)
		if phase != market.Open {
			return nil
		}
		c.tick(ctx, s, now)
		if err := c.deps.Sleep(ctx, c.cfg.TickInterval); err != nil {
			return err
		}
	}
}

// tick runs one polling pass. Exits go ahead of new entries: shedding an
// open position always outranks adding one.
func (c *Controller) tick(ctx context.Context, s *sessionState, now time.Time) {
	observ.IncCounter("ticks_total", nil)
	c.monitor(ctx, s, now)
	c.retryDueExits(ctx, s, now)
	c.scan(ctx, s, now)
	c.setBookGauges(s)
}

func (c *Controller) setBookGauges(s *sessionState) {
	observ.SetGauge("open_trades", float64(len(s.book.Entered())), nil)
	observ.SetGauge("pending_exits", float64(len(s.book.PendingExits())), nil)
	observ.SetGauge("session_cash", s.ledger.Remaining(), nil)
}

// scan walks the universe in config order and plans instruments that have no
// trade on the book yet. A symbol whose data fetch fails is skipped for this
// tick only.
func (c *Controller) scan(ctx context.Context, s *sessionState, now time.Time) {
	for _, symbol := range c.deps.Symbols.Symbols() {
		if ctx.Err() != nil {
			return
		}
		if s.book.Has(symbol) {
			continue
		}
		if s.ledger.Remaining() <= 0 {
			return
		}
		quote, err := c.fetchQuote(ctx, symbol)
		if err != nil {
			continue
		}
		series, err := c.deps.History.GetDailyCloses(ctx, symbol, c.cfg.LookbackDays)
		if err != nil {
			observ.IncCounter("history_errors_total", map[string]string{"code": adapters.ErrorCode(err)})
			observ.Log("history_error", map[string]any{"symbol": symbol, "code": adapters.ErrorCode(err), "err": err.Error()})
			continue
		}
		decision := plan.Build(s.strategy, symbol, series.Closes, quote.Last, now)
		if decision.ReasonJSON != s.lastReason[symbol] {
			s.lastReason[symbol] = decision.ReasonJSON
			observ.Log("plan_decision", map[string]any{
				"symbol":   symbol,
				"accepted": decision.Accepted(),
				"reason":   json.RawMessage(decision.ReasonJSON),
			})
		}
		if !decision.Accepted() {
			continue
		}
		observ.IncCounter("plans_created_total", nil)
		p := *decision.Plan
		c.notify(alerts.Event{
			Kind:     "plan_created",
			Severity: alerts.Info,
			Symbol:   symbol,
			Text:     fmt.Sprintf("gap %.2f%%, entry %.4f target %.4f stop %.4f qty %d", decision.Gap*100, p.Entry, p.Target, p.Stop, p.Quantity),
			At:       now,
		})
		c.enter(ctx, s, p, now)
	}
}

// enter submits the entry buy for an accepted plan, capping quantity by the
// undeployed session budget first. A refused submission discards the planned
// trade, which keeps the symbol eligible for a later scan.
func (c *Controller) enter(ctx context.Context, s *sessionState, p plan.Plan, now time.Time) {
	p.Quantity = s.ledger.CapQuantity(p.Quantity, p.Entry)
	if p.Quantity == 0 {
		observ.Log("entry_skipped", map[string]any{
			"symbol":    p.Symbol,
			"reason":    "session_budget",
			"remaining": s.ledger.Remaining(),
		})
		return
	}
	t, err := s.book.Create(p)
	if err != nil {
		observ.Log("entry_skipped", map[string]any{"symbol": p.Symbol, "reason": err.Error()})
		return
	}
	ref, err := c.deps.Orders.SubmitIntent(ctx, p.Symbol, broker.Buy, p.Quantity, "entry")
	if err != nil {
		_ = s.book.Discard(p.Symbol)
		observ.Log("entry_failed", map[string]any{
			"symbol": p.Symbol,
			"code":   broker.ErrorCode(err),
			"err":    err.Error(),
		})
		return
	}
	_ = t.Enter(ref.ID, now)
	s.ledger.RecordEntry(p.Quantity, p.Entry)
	observ.IncCounter("trades_entered_total", nil)
	observ.Log("trade_entered", map[string]any{
		"symbol": p.Symbol,
		"qty":    p.Quantity,
		"entry":  p.Entry,
		"target": p.Target,
		"stop":   p.Stop,
		"ref":    ref.ID,
	})
	c.notify(alerts.Event{
		Kind:     "trade_entered",
		Severity: alerts.Info,
		Symbol:   p.Symbol,
		Text:     fmt.Sprintf("long %d @ %.4f, target %.4f, stop %.4f", p.Quantity, p.Entry, p.Target, p.Stop),
		Fields: map[string]string{
			"qty":   fmt.Sprintf("%d", p.Quantity),
			"entry": fmt.Sprintf("%.4f", p.Entry),
			"ref":   ref.ID,
		},
		At: now,
	})
}

// monitor folds the latest quote into every live trade and fires exits.
// Trades with a latched pending exit are left to the retry schedule; their
// reason is already decided.
func (c *Controller) monitor(ctx context.Context, s *sessionState, now time.Time) {
	for _, t := range s.book.Entered() {
		if ctx.Err() != nil {
			return
		}
		if t.Pending != nil {
			continue
		}
		quote, err := c.fetchQuote(ctx, t.Symbol)
		if err != nil {
			continue
		}
		reason, fire := t.ExitSignal(quote.Last)
		if !fire {
			continue
		}
		c.submitExit(ctx, s, t, reason, now)
	}
}

// retryDueExits re-attempts latched exits whose backoff has elapsed.
func (c *Controller) retryDueExits(ctx context.Context, s *sessionState, now time.Time) {
	for _, t := range s.book.PendingExits() {
		if ctx.Err() != nil {
			return
		}
		if now.Before(t.Pending.NextTry) {
			continue
		}
		observ.IncCounter("exit_retries_total", nil)
		c.submitExit(ctx, s, t, t.Pending.Reason, now)
	}
}

// forceClose sweeps every live trade once at the bell. Latched exits keep
// their original reason regardless of the sweep's label, and the sweep does
// not wait for their backoff.
func (c *Controller) forceClose(ctx context.Context, s *sessionState) {
	now := c.deps.Now()
	live := s.book.Entered()
	observ.Log("session_close", map[string]any{"day": s.book.Day(), "open_trades": len(live)})
	for _, t := range live {
		if ctx.Err() != nil {
			return
		}
		c.submitExit(ctx, s, t, trade.EODForcedClose, now)
	}
	c.setBookGauges(s)
}

// drainExits keeps retrying pending exits after the bell until the book is
// flat or the process is told to stop. An unclosed position is real money;
// there is no give-up short of shutdown. The critical alert at the attempt
// ceiling and the failed health status page the operator meanwhile.
func (c *Controller) drainExits(ctx context.Context, s *sessionState) error {
	for len(s.book.PendingExits()) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.deps.Sleep(ctx, c.nextRetryWait(s, c.deps.Now())); err != nil {
			return err
		}
		c.retryDueExits(ctx, s, c.deps.Now())
		c.setBookGauges(s)
	}
	return nil
}

// nextRetryWait is the time until the soonest pending retry is due, clamped
// so the drain loop neither spins nor oversleeps.
func (c *Controller) nextRetryWait(s *sessionState, now time.Time) time.Duration {
	wait := c.cfg.ExitRetryMax
	for _, t := range s.book.PendingExits() {
		if d := t.Pending.NextTry.Sub(now); d < wait {
			wait = d
		}
	}
	if wait < time.Second {
		wait = time.Second
	}
	return wait
}

// abort is the shutdown path: one best-effort pass to flatten the book on a
// fresh context, since the session's own is already cancelled. Failures are
// reported, not retried.
func (c *Controller) abort(parent context.Context, s *sessionState) {
	live := s.book.Entered()
	if len(live) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), abortTimeout)
	defer cancel()
	now := c.deps.Now()
	observ.Log("session_abort", map[string]any{"open_trades": len(live)})
	for _, t := range live {
		c.submitExit(ctx, s, t, trade.AbortClose, now)
	}
	for _, t := range s.book.PendingExits() {
		c.notify(alerts.Event{
			Kind:     "position_unclosed",
			Severity: alerts.Critical,
			Symbol:   t.Symbol,
			Text:     fmt.Sprintf("%d shares still live after shutdown, close manually", t.Plan.Quantity),
			At:       now,
		})
	}
	c.setBookGauges(s)
}

// submitExit sells the full position. The first failure latches the reason
// and intent key on the trade, so every later attempt, including EOD and
// abort sweeps, journals under the original identity.
func (c *Controller) submitExit(ctx context.Context, s *sessionState, t *trade.Trade, reason trade.ExitReason, now time.Time) {
	if t.Pending != nil {
		reason = t.Pending.Reason
	}
	ref, err := c.deps.Orders.SubmitIntent(ctx, t.Symbol, broker.Sell, t.Plan.Quantity, string(reason))
	if err != nil {
		c.deferExit(s, t, reason, now, err)
		return
	}
	price := ref.Price
	if price == 0 {
		// live gateways do not report fills; the last observation stands in
		price = t.LastPrice
	}
	_ = t.Close(reason, ref.ID, price, now)
	s.ledger.RecordExit(t.Plan.Quantity, t.Plan.Entry, price)
	observ.IncCounter("trades_closed_total", map[string]string{"reason": string(reason)})
	observ.Log("trade_closed", map[string]any{
		"symbol": t.Symbol,
		"reason": string(reason),
		"qty":    t.Plan.Quantity,
		"entry":  t.Plan.Entry,
		"exit":   price,
		"pnl":    t.RealizedPnL(),
		"ref":    ref.ID,
	})
	c.notify(alerts.Event{
		Kind:     "trade_closed",
		Severity: alerts.Info,
		Symbol:   t.Symbol,
		Text:     fmt.Sprintf("%s: sold %d @ %.4f, pnl %+.2f", reason, t.Plan.Quantity, price, t.RealizedPnL()),
		Fields: map[string]string{
			"reason": string(reason),
			"pnl":    fmt.Sprintf("%+.2f", t.RealizedPnL()),
		},
		At: now,
	})
}

// deferExit schedules the next attempt with exponential backoff and raises
// the one critical alert when attempts cross the configured ceiling. Retries
// continue past the ceiling; only shutdown stops them.
func (c *Controller) deferExit(s *sessionState, t *trade.Trade, reason trade.ExitReason, now time.Time, cause error) {
	prior := 0
	if t.Pending != nil {
		prior = t.Pending.Attempts
	}
	key := c.deps.Orders.IntentKey(t.Symbol, broker.Sell, string(reason))
	t.DeferExit(reason, key, now, now.Add(c.exitBackoff(prior)))
	observ.Log("exit_deferred", map[string]any{
		"symbol":   t.Symbol,
		"reason":   string(reason),
		"attempt":  t.Pending.Attempts,
		"next_try": t.Pending.NextTry.Format(time.RFC3339),
		"code":     broker.ErrorCode(cause),
		"err":      cause.Error(),
	})
	if t.Pending.Attempts == c.cfg.ExitAlertAfter {
		c.notify(alerts.Event{
			Kind:     "exit_retry_exhausted",
			Severity: alerts.Critical,
			Symbol:   t.Symbol,
			Text:     fmt.Sprintf("exit (%s) refused %d times, still retrying: %v", reason, t.Pending.Attempts, cause),
			At:       now,
		})
	}
}

func (c *Controller) exitBackoff(attempts int) time.Duration {
	if attempts > 10 {
		attempts = 10
	}
	d := c.cfg.ExitRetryBase * time.Duration(1<<attempts)
	if d > c.cfg.ExitRetryMax {
		d = c.cfg.ExitRetryMax
	}
	return d
}

func (c *Controller) fetchQuote(ctx context.Context, symbol string) (*adapters.Quote, error) {
	observ.IncCounter("quote_requests_total", nil)
	quote, err := c.deps.Quotes.GetQuote(ctx, symbol)
	if err != nil {
		observ.IncCounter("quote_errors_total", map[string]string{"code": adapters.ErrorCode(err)})
		observ.Log("quote_error", map[string]any{"symbol": symbol, "code": adapters.ErrorCode(err), "err": err.Error()})
		return nil, err
	}
	if err := adapters.ValidateQuote(quote); err != nil {
		observ.IncCounter("quote_errors_total", map[string]string{"code": "invalid"})
		observ.Log("quote_error", map[string]any{"symbol": symbol, "code": "invalid", "err": err.Error()})
		return nil, err
	}
	return quote, nil
}

func (c *Controller) summarize(s *sessionState) *Summary {
	sum := &Summary{
		Day:            s.book.Day(),
		ClosedByReason: make(map[string]int),
		Budget:         s.ledger.Budget(),
		Spent:          s.ledger.Spent(),
		Realized:       s.ledger.Realized(),
	}
	for _, t := range s.book.All() {
		switch t.State {
		case trade.Entered:
			sum.TradesEntered++
			sum.Unclosed = append(sum.Unclosed, t.Symbol)
		case trade.Closed:
			sum.TradesEntered++
			sum.TradesClosed++
			sum.ClosedByReason[string(t.ExitReason)]++
		}
	}
	return sum
}

func (c *Controller) reportSummary(sum *Summary) {
	observ.Log("session_summary", map[string]any{
		"day":       sum.Day,
		"entered":   sum.TradesEntered,
		"closed":    sum.TradesClosed,
		"by_reason": sum.ClosedByReason,
		"unclosed":  sum.Unclosed,
		"budget":    sum.Budget,
		"spent":     sum.Spent,
		"realized":  sum.Realized,
	})
	sev := alerts.Info
	text := fmt.Sprintf("%s: %d entered, %d closed, spent %.2f of %.2f, pnl %+.2f",
		sum.Day, sum.TradesEntered, sum.TradesClosed, sum.Spent, sum.Budget, sum.Realized)
	if len(sum.Unclosed) > 0 {
		sev = alerts.Critical
		text = fmt.Sprintf("%s, %d UNCLOSED: %v", text, len(sum.Unclosed), sum.Unclosed)
	}
	c.notify(alerts.Event{Kind: "session_summary", Severity: sev, Text: text})
}

func (c *Controller) notify(ev alerts.Event) {
	if ev.At.IsZero() {
		ev.At = c.deps.Now()
	}
	c.deps.Notifier.Notify(ev)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
