package adapters

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func yahooTestSymbols(t *testing.T) *SymbolMap {
	t.Helper()
	m, err := NewSymbolMap([]Instrument{
		{Symbol: "VOD", Currency: "GBX", BrokerCode: "VODl_EQ"},
	}, ".L")
	require.NoError(t, err)
	return m
}

// chartJSON builds a minimal v8 chart payload. nil closes become JSON nulls.
func chartJSON(timestamps []int64, closes []*float64) string {
	ts := ""
	for i, v := range timestamps {
		if i > 0 {
			ts += ","
		}
		ts += fmt.Sprintf("%d", v)
	}
	cs := ""
	for i, v := range closes {
		if i > 0 {
			cs += ","
		}
		if v == nil {
			cs += "null"
		} else {
			cs += fmt.Sprintf("%.4f", *v)
		}
	}
	return fmt.Sprintf(`{"chart":{"result":[{"meta":{"exchangeTimezoneName":"Europe/London"},"timestamp":[%s],"indicators":{"quote":[{"close":[%s]}]}}],"error":null}}`, ts, cs)
}

func f(v float64) *float64 { return &v }

func TestYahooGetQuoteUsesLastPopulatedCandle(t *testing.T) {
	var gotPath, gotQuery, gotAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotAgent = r.Header.Get("User-Agent")
		base := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC).Unix()
		fmt.Fprint(w, chartJSON(
			[]int64{base, base + 60, base + 120},
			[]*float64{f(74.10), f(74.22), nil},
		))
	}))
	defer srv.Close()

	y := NewYahooSource(YahooConfig{BaseURL: srv.URL, RatePerSecond: 1000}, yahooTestSymbols(t), time.UTC)
	quote, err := y.GetQuote(context.Background(), "vod")
	require.NoError(t, err)

	assert.Equal(t, "/v8/finance/chart/VOD.L", gotPath, "quote symbol carries the exchange suffix")
	assert.Equal(t, "range=1d&interval=1m", gotQuery)
	assert.NotContains(t, gotAgent, "Go-http-client", "default agent gets rate limited")

	assert.Equal(t, "VOD", quote.Symbol, "callers speak watch-list tickers")
	assert.Equal(t, 74.22, quote.Last, "trailing nulls are skipped")
	assert.Equal(t, "yahoo", quote.Source)
	require.NoError(t, ValidateQuote(quote))
}

func TestYahooGetDailyClosesTrimsToday(t *testing.T) {
	day := func(d int) int64 {
		return time.Date(2025, 5, d, 16, 30, 0, 0, time.UTC).Unix()
	}
	today := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "range=3mo&interval=1d", r.URL.RawQuery)
		fmt.Fprint(w, chartJSON(
			[]int64{day(28), day(29), day(30), today.Unix()},
			[]*float64{f(75.00), nil, f(74.50), f(73.90)},
		))
	}))
	defer srv.Close()

	y := NewYahooSource(YahooConfig{BaseURL: srv.URL, RatePerSecond: 1000}, yahooTestSymbols(t), time.UTC)
	y.now = func() time.Time { return today }

	series, err := y.GetDailyCloses(context.Background(), "VOD", 90)
	require.NoError(t, err)

	assert.Equal(t, []float64{75.00, 74.50}, series.Closes, "null candles and today's partial candle are dropped")
	prev, err := series.PreviousClose()
	require.NoError(t, err)
	assert.Equal(t, 74.50, prev)
}

func TestYahooGetDailyClosesLookbackTail(t *testing.T) {
	base := time.Date(2025, 4, 1, 16, 30, 0, 0, time.UTC)
	var timestamps []int64
	var closes []*float64
	for i := 0; i < 40; i++ {
		timestamps = append(timestamps, base.AddDate(0, 0, i).Unix())
		closes = append(closes, f(70.0+float64(i)))
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, chartJSON(timestamps, closes))
	}))
	defer srv.Close()

	y := NewYahooSource(YahooConfig{BaseURL: srv.URL, RatePerSecond: 1000}, yahooTestSymbols(t), time.UTC)
	y.now = func() time.Time { return base.AddDate(0, 0, 60) }

	series, err := y.GetDailyCloses(context.Background(), "VOD", 15)
	require.NoError(t, err)
	require.Len(t, series.Closes, 15)
	assert.Equal(t, 70.0+39, series.Closes[14], "newest close survives the tail cut")
}

func TestYahooRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		base := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC).Unix()
		fmt.Fprint(w, chartJSON([]int64{base}, []*float64{f(74.10)}))
	}))
	defer srv.Close()

	y := NewYahooSource(YahooConfig{BaseURL: srv.URL, RatePerSecond: 1000}, yahooTestSymbols(t), time.UTC)
	quote, err := y.GetQuote(context.Background(), "VOD")
	require.NoError(t, err)
	assert.Equal(t, 74.10, quote.Last)
	assert.Equal(t, int32(2), calls.Load())
}

func TestYahooRateLimitExhaustedCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	y := NewYahooSource(YahooConfig{BaseURL: srv.URL, MaxRetries: 2, RatePerSecond: 1000}, yahooTestSymbols(t), time.UTC)
	_, err := y.GetQuote(context.Background(), "VOD")
	require.Error(t, err)
	assert.Equal(t, "rate_limit", ErrorCode(err))
}

func TestYahooChartErrorPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found, symbol may be delisted"}}}`)
	}))
	defer srv.Close()

	y := NewYahooSource(YahooConfig{BaseURL: srv.URL, RatePerSecond: 1000}, yahooTestSymbols(t), time.UTC)
	_, err := y.GetQuote(context.Background(), "VOD")
	require.Error(t, err)
	assert.Equal(t, "bad_symbol", ErrorCode(err))
}

func TestYahooUnknownTickerNeverHitsNetwork(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	y := NewYahooSource(YahooConfig{BaseURL: srv.URL, RatePerSecond: 1000}, yahooTestSymbols(t), time.UTC)
	_, err := y.GetQuote(context.Background(), "ZZZZ")
	require.Error(t, err)
	assert.Equal(t, "bad_symbol", ErrorCode(err))
	assert.Equal(t, int32(0), calls.Load())
}

func TestYahooQuoteAllNullCandles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		base := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC).Unix()
		fmt.Fprint(w, chartJSON([]int64{base, base + 60}, []*float64{nil, nil}))
	}))
	defer srv.Close()

	y := NewYahooSource(YahooConfig{BaseURL: srv.URL, RatePerSecond: 1000}, yahooTestSymbols(t), time.UTC)
	_, err := y.GetQuote(context.Background(), "VOD")
	require.Error(t, err)
	assert.Equal(t, "unavailable", ErrorCode(err))
}
