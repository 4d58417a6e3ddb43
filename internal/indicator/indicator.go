// Package indicator computes the two signals the gap strategy filters on:
// the overnight gap and Wilder's RSI.
package indicator

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput marks inputs an indicator cannot be defined on.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInsufficientData means the series is too short for the requested
	// period. Callers treat it as "filter not satisfied", never as fatal.
	ErrInsufficientData = errors.New("insufficient data")
)

// GapPercent is the fractional move from the previous close to the current
// price: (current - previous) / previous. Negative for a gap-down.
func GapPercent(previousClose, currentPrice float64) (float64, error) {
	if previousClose <= 0 {
		return 0, fmt.Errorf("%w: previous close %.4f must be positive", ErrInvalidInput, previousClose)
	}
	return (currentPrice - previousClose) / previousClose, nil
}

// RSI is Wilder's Relative Strength Index over the series, oldest price
// first. The average gain and loss are seeded with a simple mean over the
// first period changes, then smoothed one change at a time:
//
//	avg = (avg*(period-1) + change) / period
//
// Needs at least period+1 prices. A series with no losses reads 100 (a flat
// series counts as no losses); a series with no gains reads 0.
func RSI(prices []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("%w: period %d must be positive", ErrInvalidInput, period)
	}
	if len(prices) < period+1 {
		return 0, fmt.Errorf("%w: need %d prices, have %d", ErrInsufficientData, period+1, len(prices))
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		d := prices[i] - prices[i-1]
		if d > 0 {
			avgGain += d
		} else {
			avgLoss -= d
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period + 1; i < len(prices); i++ {
		d := prices[i] - prices[i-1]
		var gain, loss float64
		if d > 0 {
			gain = d
		} else {
			loss = -d
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100, nil
	}
	if avgGain == 0 {
		return 0, nil
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), nil
}
