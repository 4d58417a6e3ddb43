// Package adapters holds the market-data collaborators the engine consumes:
// live quote sources and daily-close history sources, plus the symbol
// aliasing between the watch-list, the data provider, and the brokerage.
package adapters

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// QuoteSource produces point-in-time price observations.
type QuoteSource interface {
	GetQuote(ctx context.Context, symbol string) (*Quote, error)
	HealthCheck(ctx context.Context) error
	Close() error
}

// HistorySource produces the daily-close series previous close and RSI
// derive from.
type HistorySource interface {
	GetDailyCloses(ctx context.Context, symbol string, lookback int) (PriceSeries, error)
	Close() error
}

// Quote is one normalized last-trade observation.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Last      float64   `json:"last"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"` // "yahoo"|"sim"|"replay"
}

// PriceSeries is daily closes for one instrument, oldest first, ending at
// the previous session's close.
type PriceSeries struct {
	Symbol string    `json:"symbol"`
	Closes []float64 `json:"closes"`
	AsOf   time.Time `json:"as_of"`
}

// PreviousClose is the newest close in the series.
func (s PriceSeries) PreviousClose() (float64, error) {
	if len(s.Closes) == 0 {
		return 0, fmt.Errorf("empty series for %s", s.Symbol)
	}
	return s.Closes[len(s.Closes)-1], nil
}

// ValidateQuote rejects observations the engine must not trade on.
// Fail-closed: a quote that cannot be trusted is an error, not a default.
func ValidateQuote(quote *Quote) error {
	if quote == nil {
		return fmt.Errorf("quote is nil")
	}
	quote.Symbol = strings.ToUpper(strings.TrimSpace(quote.Symbol))
	if quote.Symbol == "" {
		return fmt.Errorf("empty symbol")
	}
	if quote.Last <= 0 {
		return fmt.Errorf("invalid last price: %.4f", quote.Last)
	}
	if quote.Timestamp.IsZero() {
		return fmt.Errorf("missing timestamp")
	}
	if quote.Timestamp.After(time.Now().Add(5 * time.Minute)) {
		return fmt.Errorf("quote timestamp too far in future: %v", quote.Timestamp)
	}
	return nil
}

// DataError classifies quote/history fetch failures. The engine skips the
// instrument for the tick on any of these; the code feeds logs and metrics.
type DataError struct {
	Code    string // "unavailable", "timeout", "rate_limit", "bad_symbol"
	Symbol  string
	Message string
	Cause   error
}

func (e *DataError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error for %s: %s (%v)", e.Code, e.Symbol, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error for %s: %s", e.Code, e.Symbol, e.Message)
}

func (e *DataError) Unwrap() error { return e.Cause }

func NewUnavailableError(symbol, message string, cause error) *DataError {
	return &DataError{Code: "unavailable", Symbol: symbol, Message: message, Cause: cause}
}

func NewTimeoutError(symbol, message string, cause error) *DataError {
	return &DataError{Code: "timeout", Symbol: symbol, Message: message, Cause: cause}
}

func NewRateLimitError(symbol, message string) *DataError {
	return &DataError{Code: "rate_limit", Symbol: symbol, Message: message}
}

func NewBadSymbolError(symbol, message string) *DataError {
	return &DataError{Code: "bad_symbol", Symbol: symbol, Message: message}
}

// ErrorCode extracts the DataError code, "unknown" for anything else.
func ErrorCode(err error) string {
	var de *DataError
	if errors.As(err, &de) {
		return de.Code
	}
	return "unknown"
}
