package stubs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/gapfill-bot/internal/adapters"
	"github.com/Rajchodisetti/gapfill-bot/internal/broker"
)

func stubSymbols(t *testing.T) *adapters.SymbolMap {
	t.Helper()
	m, err := adapters.NewSymbolMap([]adapters.Instrument{
		{Symbol: "VOD", BrokerCode: "VODl_EQ"},
		{Symbol: "BARC", BrokerCode: "BARCl_EQ"},
	}, ".L")
	require.NoError(t, err)
	return m
}

func newStub(t *testing.T, cfg Config) (*Market, *httptest.Server) {
	t.Helper()
	m := NewMarket(cfg)
	srv := httptest.NewServer(m.Handler())
	t.Cleanup(srv.Close)
	return m, srv
}

func TestStubServesYahooAdapter(t *testing.T) {
	_, srv := newStub(t, Config{
		Instruments: map[string]Script{
			"VOD.L": {Closes: []float64{74.8, 74.6, 74.5}, Ticks: []float64{74.10, 74.22}},
		},
	})

	y := adapters.NewYahooSource(adapters.YahooConfig{
		BaseURL:       srv.URL,
		RatePerSecond: 1000,
	}, stubSymbols(t), time.UTC)

	quote, err := y.GetQuote(context.Background(), "VOD")
	require.NoError(t, err)
	assert.InDelta(t, 74.10, quote.Last, 1e-9)

	quote, err = y.GetQuote(context.Background(), "VOD")
	require.NoError(t, err)
	assert.InDelta(t, 74.22, quote.Last, 1e-9, "each quote request plays the next scripted tick")

	quote, err = y.GetQuote(context.Background(), "VOD")
	require.NoError(t, err)
	assert.InDelta(t, 74.22, quote.Last, 1e-9, "exhausted script repeats its last tick")

	series, err := y.GetDailyCloses(context.Background(), "VOD", 10)
	require.NoError(t, err)
	assert.Equal(t, []float64{74.8, 74.6, 74.5}, series.Closes)
}

func TestStubRejectsUnknownSymbol(t *testing.T) {
	_, srv := newStub(t, Config{
		Instruments: map[string]Script{
			"VOD.L": {Ticks: []float64{74.1}},
		},
	})

	y := adapters.NewYahooSource(adapters.YahooConfig{
		BaseURL:       srv.URL,
		RatePerSecond: 1000,
	}, stubSymbols(t), time.UTC)

	_, err := y.GetQuote(context.Background(), "BARC")
	require.Error(t, err)
	assert.Equal(t, "bad_symbol", adapters.ErrorCode(err))
}

func TestStubServesTrading212Adapter(t *testing.T) {
	m, srv := newStub(t, Config{
		Instruments: map[string]Script{"VOD.L": {Ticks: []float64{74.1}}},
		FreeCash:    5000,
	})

	gw, err := broker.NewTrading212(broker.Trading212Config{
		BaseURL:       srv.URL + "/api/v0",
		APIKey:        "key",
		APISecret:     "secret",
		RatePerSecond: 1000,
	}, stubSymbols(t))
	require.NoError(t, err)

	ref, err := gw.SubmitMarketOrder(context.Background(), "VOD", broker.Buy, 5)
	require.NoError(t, err)
	assert.NotEmpty(t, ref.ID)

	_, err = gw.SubmitMarketOrder(context.Background(), "VOD", broker.Sell, 3)
	require.NoError(t, err)

	orders := m.Orders()
	require.Len(t, orders, 2)
	assert.Equal(t, "VODl_EQ", orders[0].InstrumentCode)
	assert.Equal(t, 5.0, orders[0].Quantity)
	assert.Equal(t, "DAY", orders[0].TimeValidity)
	assert.Equal(t, -3.0, orders[1].Quantity, "sells cross the wire as negative quantity")

	cash, err := gw.FreeCash(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5000.0, cash)
}

func TestStubRequiresAuth(t *testing.T) {
	_, srv := newStub(t, Config{FreeCash: 100})

	resp, err := http.Get(srv.URL + "/api/v0/equity/account/cash")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestStubFaultInjectionExhaustsRetries(t *testing.T) {
	_, srv := newStub(t, Config{
		Instruments: map[string]Script{"VOD.L": {Ticks: []float64{74.1}}},
		FailRate:    1,
	})

	y := adapters.NewYahooSource(adapters.YahooConfig{
		BaseURL:       srv.URL,
		MaxRetries:    2,
		RatePerSecond: 1000,
	}, stubSymbols(t), time.UTC)

	// Faults alternate 429 then 503, so two attempts end on "unavailable".
	_, err := y.GetQuote(context.Background(), "VOD")
	require.Error(t, err)
	assert.Equal(t, "unavailable", adapters.ErrorCode(err))
}
