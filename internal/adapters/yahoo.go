package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/Rajchodisetti/gapfill-bot/internal/observ"
)

// YahooConfig tunes the chart-API client. No API key: the endpoint is the
// same one the finance site itself calls, which is why the User-Agent
// matters; the default Go agent gets rate limited almost immediately.
type YahooConfig struct {
	BaseURL        string  `yaml:"base_url"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	MaxRetries     int     `yaml:"max_retries"`
	RatePerSecond  float64 `yaml:"rate_per_second"`
	UserAgent      string  `yaml:"user_agent"`
}

// YahooSource serves live quotes and daily-close history from the Yahoo
// Finance v8 chart endpoint. Quotes come from the last populated candle of
// the 1-minute series; history comes from the 3-month daily series with
// today's partial candle trimmed so PreviousClose never sees an in-progress
// session.
type YahooSource struct {
	cfg        YahooConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	symbols    *SymbolMap
	loc        *time.Location
	now        func() time.Time
}

func NewYahooSource(cfg YahooConfig, symbols *SymbolMap, loc *time.Location) *YahooSource {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://query1.finance.yahoo.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 15
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 2
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:109.0) Gecko/20100101 Firefox/115.0"
	}
	if loc == nil {
		loc = time.UTC
	}
	return &YahooSource{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1),
		symbols:    symbols,
		loc:        loc,
		now:        time.Now,
	}
}

type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *chartError   `json:"error"`
	} `json:"chart"`
}

type chartResult struct {
	Meta struct {
		RegularMarketPrice   float64 `json:"regularMarketPrice"`
		ExchangeTimezoneName string  `json:"exchangeTimezoneName"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Close []*float64 `json:"close"`
		} `json:"quote"`
	} `json:"indicators"`
}

type chartError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// GetQuote returns the newest populated 1-minute close of the current day.
// Early candles can be null while the exchange auction settles, so the scan
// walks the series backwards.
func (y *YahooSource) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	result, err := y.fetchChart(ctx, symbol, "1d", "1m")
	if err != nil {
		return nil, err
	}

	closes := result.closes()
	for i := len(closes) - 1; i >= 0; i-- {
		if closes[i] == nil || *closes[i] <= 0 {
			continue
		}
		ts := time.Now()
		if i < len(result.Timestamp) {
			ts = time.Unix(result.Timestamp[i], 0)
		}
		return &Quote{Symbol: symbol, Last: *closes[i], Timestamp: ts, Source: "yahoo"}, nil
	}
	return nil, NewUnavailableError(symbol, "no populated candle in 1m series", nil)
}

// GetDailyCloses returns up to lookback daily closes ending at the previous
// session. Candles dated today in the exchange timezone are dropped even
// when present, because mid-session Yahoo reports today as a moving,
// unfinished close.
func (y *YahooSource) GetDailyCloses(ctx context.Context, symbol string, lookback int) (PriceSeries, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	result, err := y.fetchChart(ctx, symbol, "3mo", "1d")
	if err != nil {
		return PriceSeries{}, err
	}

	today := y.now().In(y.loc).Format("2006-01-02")
	closes := result.closes()

	var out []float64
	for i, ts := range result.Timestamp {
		if i >= len(closes) || closes[i] == nil || *closes[i] <= 0 {
			continue
		}
		day := time.Unix(ts, 0).In(y.loc).Format("2006-01-02")
		if day >= today {
			continue
		}
		out = append(out, *closes[i])
	}
	if len(out) == 0 {
		return PriceSeries{}, NewUnavailableError(symbol, "no completed daily candles", nil)
	}
	if lookback > 0 && len(out) > lookback {
		out = out[len(out)-lookback:]
	}
	return PriceSeries{Symbol: symbol, Closes: out, AsOf: y.now()}, nil
}

// HealthCheck fetches a quote for the first universe symbol.
func (y *YahooSource) HealthCheck(ctx context.Context) error {
	symbols := y.symbols.Symbols()
	if len(symbols) == 0 {
		return fmt.Errorf("empty universe")
	}
	_, err := y.GetQuote(ctx, symbols[0])
	return err
}

func (y *YahooSource) Close() error { return nil }

func (r chartResult) closes() []*float64 {
	if len(r.Indicators.Quote) == 0 {
		return nil
	}
	return r.Indicators.Quote[0].Close
}

func (y *YahooSource) fetchChart(ctx context.Context, symbol, rng, interval string) (*chartResult, error) {
	quoteSymbol, err := y.symbols.QuoteSymbol(symbol)
	if err != nil {
		return nil, NewBadSymbolError(symbol, err.Error())
	}

	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?range=%s&interval=%s",
		y.cfg.BaseURL, url.PathEscape(quoteSymbol), rng, interval)

	var lastErr *DataError
	for attempt := 0; attempt < y.cfg.MaxRetries; attempt++ {
		if err := y.limiter.Wait(ctx); err != nil {
			return nil, NewTimeoutError(symbol, "rate limit wait cancelled", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, NewUnavailableError(symbol, "build request", err)
		}
		req.Header.Set("User-Agent", y.cfg.UserAgent)
		req.Header.Set("Accept", "application/json")

		resp, err := y.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, NewTimeoutError(symbol, "request cancelled", ctx.Err())
			}
			lastErr = NewUnavailableError(symbol, "request failed", err)
			if werr := y.backoff(ctx, "", attempt); werr != nil {
				return nil, lastErr
			}
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			if readErr != nil {
				lastErr = NewUnavailableError(symbol, "read response", readErr)
				continue
			}
			return y.decodeChart(symbol, body)

		case resp.StatusCode == http.StatusNotFound:
			return nil, NewBadSymbolError(symbol, fmt.Sprintf("yahoo has no data for %q", quoteSymbol))

		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			if resp.StatusCode == http.StatusTooManyRequests {
				lastErr = NewRateLimitError(symbol, "HTTP 429 from chart API")
			} else {
				lastErr = NewUnavailableError(symbol, fmt.Sprintf("HTTP %d from chart API", resp.StatusCode), nil)
			}
			observ.IncCounter("quote_retries_total", map[string]string{"source": "yahoo"})
			if werr := y.backoff(ctx, resp.Header.Get("Retry-After"), attempt); werr != nil {
				return nil, lastErr
			}

		default:
			return nil, NewUnavailableError(symbol, fmt.Sprintf("HTTP %d from chart API", resp.StatusCode), nil)
		}
	}
	return nil, lastErr
}

func (y *YahooSource) decodeChart(symbol string, body []byte) (*chartResult, error) {
	var parsed chartResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, NewUnavailableError(symbol, "unparseable chart response", err)
	}
	if parsed.Chart.Error != nil {
		msg := fmt.Sprintf("%s: %s", parsed.Chart.Error.Code, parsed.Chart.Error.Description)
		if strings.EqualFold(parsed.Chart.Error.Code, "Not Found") {
			return nil, NewBadSymbolError(symbol, msg)
		}
		return nil, NewUnavailableError(symbol, msg, nil)
	}
	if len(parsed.Chart.Result) == 0 {
		return nil, NewUnavailableError(symbol, "empty chart result", nil)
	}
	return &parsed.Chart.Result[0], nil
}

func (y *YahooSource) backoff(ctx context.Context, retryAfter string, attempt int) error {
	wait := time.Duration(500*(1<<uint(attempt)))*time.Millisecond +
		time.Duration(rand.Int63n(int64(250*time.Millisecond)))
	if secs, err := strconv.Atoi(strings.TrimSpace(retryAfter)); err == nil && secs >= 0 {
		wait = time.Duration(secs) * time.Second
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
