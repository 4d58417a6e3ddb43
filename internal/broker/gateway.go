// Package broker holds the order gateways the engine submits through: the
// Trading212 REST client for live sessions and an in-memory paper gateway
// for everything else, plus the journaling wrapper that gives every order
// intent a durable audit line.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Side of a market order.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// OrderRef identifies an accepted submission. Price is the fill price when
// the gateway observes one (paper); the live gateway leaves it zero since
// Trading212 confirms acceptance, not execution, on the order call.
type OrderRef struct {
	ID          string    `json:"id"`
	Symbol      string    `json:"symbol"`
	Side        Side      `json:"side"`
	Quantity    int       `json:"quantity"`
	Price       float64   `json:"price,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
	Gateway     string    `json:"gateway"`
}

// OrderGateway submits market orders for watch-list symbols. Provider
// aliasing (ticker -> instrument code) happens inside the gateway.
type OrderGateway interface {
	SubmitMarketOrder(ctx context.Context, symbol string, side Side, quantity int) (*OrderRef, error)
	Name() string
	Close() error
}

// OrderError classifies submission failures. Entry failures abandon the
// plan for the tick; exit failures are retried by the session loop.
type OrderError struct {
	Code    string // "rejected", "network", "insufficient_funds", "rate_limited"
	Symbol  string
	Message string
	Cause   error
}

func (e *OrderError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("order %s for %s: %s (%v)", e.Code, e.Symbol, e.Message, e.Cause)
	}
	return fmt.Sprintf("order %s for %s: %s", e.Code, e.Symbol, e.Message)
}

func (e *OrderError) Unwrap() error { return e.Cause }

func NewRejectedError(symbol, message string) *OrderError {
	return &OrderError{Code: "rejected", Symbol: symbol, Message: message}
}

func NewNetworkError(symbol, message string, cause error) *OrderError {
	return &OrderError{Code: "network", Symbol: symbol, Message: message, Cause: cause}
}

func NewInsufficientFundsError(symbol, message string) *OrderError {
	return &OrderError{Code: "insufficient_funds", Symbol: symbol, Message: message}
}

func NewRateLimitedError(symbol, message string) *OrderError {
	return &OrderError{Code: "rate_limited", Symbol: symbol, Message: message}
}

// ErrorCode extracts the OrderError code, "unknown" for anything else.
func ErrorCode(err error) string {
	var oe *OrderError
	if errors.As(err, &oe) {
		return oe.Code
	}
	return "unknown"
}
