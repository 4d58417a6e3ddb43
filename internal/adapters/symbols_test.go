package adapters

import "testing"

func TestNewSymbolMap(t *testing.T) {
	universe := []Instrument{
		{Symbol: "VOD", Currency: "GBX", BrokerCode: "VODl_EQ"},
		{Symbol: "rr", Currency: "GBX", QuoteSymbol: "RR.L", BrokerCode: "RRl_EQ"},
	}

	m, err := NewSymbolMap(universe, ".L")
	if err != nil {
		t.Fatalf("NewSymbolMap() error = %v", err)
	}

	symbols := m.Symbols()
	if len(symbols) != 2 || symbols[0] != "VOD" || symbols[1] != "RR" {
		t.Errorf("Symbols() = %v, want [VOD RR] in configuration order", symbols)
	}

	qs, err := m.QuoteSymbol("VOD")
	if err != nil || qs != "VOD.L" {
		t.Errorf("QuoteSymbol(VOD) = %q, %v; want VOD.L from the suffix default", qs, err)
	}

	qs, err = m.QuoteSymbol("rr")
	if err != nil || qs != "RR.L" {
		t.Errorf("QuoteSymbol(rr) = %q, %v; want the explicit alias", qs, err)
	}

	code, err := m.BrokerCode("VOD")
	if err != nil || code != "VODl_EQ" {
		t.Errorf("BrokerCode(VOD) = %q, %v", code, err)
	}

	if _, err := m.Instrument("ZZZZ"); err == nil {
		t.Error("Expected error for unknown instrument")
	}
}

func TestNewSymbolMapRejectsBadUniverse(t *testing.T) {
	tests := []struct {
		name     string
		universe []Instrument
	}{
		{"empty universe", nil},
		{"empty symbol", []Instrument{{Symbol: "", BrokerCode: "X_EQ"}}},
		{"malformed symbol", []Instrument{{Symbol: "VOD;DROP", BrokerCode: "X_EQ"}}},
		{"overlong symbol", []Instrument{{Symbol: "ABCDEFGHIJKLM", BrokerCode: "X_EQ"}}},
		{"missing broker code", []Instrument{{Symbol: "VOD"}}},
		{"duplicate symbol", []Instrument{
			{Symbol: "VOD", BrokerCode: "VODl_EQ"},
			{Symbol: "vod", BrokerCode: "VODl_EQ"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSymbolMap(tt.universe, ".L"); err == nil {
				t.Error("Expected construction to fail")
			}
		})
	}
}
