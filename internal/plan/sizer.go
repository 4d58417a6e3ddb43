package plan

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidRisk marks an entry/stop pair with no positive per-share risk.
var ErrInvalidRisk = errors.New("invalid risk")

// Size converts a capital budget and a per-trade risk fraction into whole
// shares: floor(budget*riskPct / (entry-stop)), further capped so the
// notional never exceeds the budget itself. A result of 0 means "do not
// trade", not an error.
func Size(budget, riskPct, entry, stop float64) (int, error) {
	if entry <= 0 {
		return 0, fmt.Errorf("%w: entry %.4f must be positive", ErrInvalidRisk, entry)
	}
	if entry <= stop {
		return 0, fmt.Errorf("%w: entry %.4f must exceed stop %.4f", ErrInvalidRisk, entry, stop)
	}

	perShareRisk := entry - stop
	riskAmount := budget * riskPct
	qty := int(math.Floor(riskAmount / perShareRisk))
	if qty < 1 {
		return 0, nil
	}
	if float64(qty)*entry > budget {
		qty = int(math.Floor(budget / entry))
	}
	if qty < 1 {
		return 0, nil
	}
	return qty, nil
}
