package adapters

import (
	"fmt"
	"regexp"
	"strings"
)

// Instrument is one watch-list entry and its provider-specific aliases.
// LSE tickers quote on Yahoo with a ".L" suffix and trade on the brokerage
// under an instrument code like "VODl_EQ"; neither alias is derivable from
// the other, so both live in configuration.
type Instrument struct {
	Symbol      string `yaml:"symbol"`       // watch-list ticker, e.g. "VOD"
	Currency    string `yaml:"currency"`     // e.g. "GBX"
	QuoteSymbol string `yaml:"quote_symbol"` // data-provider symbol; defaults to Symbol+suffix
	BrokerCode  string `yaml:"broker_code"`  // brokerage instrument code
}

var validSymbol = regexp.MustCompile(`^[A-Z0-9.-]+$`)

// SymbolMap resolves watch-list tickers to provider aliases. Built once from
// configuration and immutable afterwards; unknown or malformed entries fail
// construction rather than surfacing mid-session.
type SymbolMap struct {
	order       []string
	instruments map[string]Instrument
}

// NewSymbolMap validates the universe. quoteSuffix is appended to tickers
// with no explicit QuoteSymbol (".L" for the LSE universe the strategy runs
// on; empty for US listings).
func NewSymbolMap(universe []Instrument, quoteSuffix string) (*SymbolMap, error) {
	if len(universe) == 0 {
		return nil, fmt.Errorf("empty universe")
	}
	m := &SymbolMap{instruments: make(map[string]Instrument, len(universe))}
	for i, inst := range universe {
		sym := strings.ToUpper(strings.TrimSpace(inst.Symbol))
		if sym == "" {
			return nil, fmt.Errorf("universe[%d]: empty symbol", i)
		}
		if !validSymbol.MatchString(sym) || len(sym) > 12 {
			return nil, fmt.Errorf("universe[%d]: invalid symbol %q", i, inst.Symbol)
		}
		if _, dup := m.instruments[sym]; dup {
			return nil, fmt.Errorf("universe[%d]: duplicate symbol %s", i, sym)
		}
		inst.Symbol = sym
		if inst.QuoteSymbol == "" {
			inst.QuoteSymbol = sym + quoteSuffix
		}
		if inst.BrokerCode == "" {
			return nil, fmt.Errorf("universe[%d]: %s has no broker code", i, sym)
		}
		m.instruments[sym] = inst
		m.order = append(m.order, sym)
	}
	return m, nil
}

// Symbols returns the watch-list tickers in configuration order.
func (m *SymbolMap) Symbols() []string {
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// Instrument looks up a watch-list entry.
func (m *SymbolMap) Instrument(symbol string) (Instrument, error) {
	inst, ok := m.instruments[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return Instrument{}, fmt.Errorf("unknown instrument %q", symbol)
	}
	return inst, nil
}

// QuoteSymbol resolves the data-provider alias for a ticker.
func (m *SymbolMap) QuoteSymbol(symbol string) (string, error) {
	inst, err := m.Instrument(symbol)
	if err != nil {
		return "", err
	}
	return inst.QuoteSymbol, nil
}

// BrokerCode resolves the brokerage instrument code for a ticker.
func (m *SymbolMap) BrokerCode(symbol string) (string, error) {
	inst, err := m.Instrument(symbol)
	if err != nil {
		return "", err
	}
	return inst.BrokerCode, nil
}
