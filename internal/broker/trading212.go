package broker

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/Rajchodisetti/gapfill-bot/internal/adapters"
	"github.com/Rajchodisetti/gapfill-bot/internal/observ"
)

// Trading212Config holds the REST client knobs. Credentials come from the
// environment, never from the YAML file.
type Trading212Config struct {
	BaseURL        string
	APIKey         string
	APISecret      string
	TimeoutSeconds int
	MaxAttempts    int
	RatePerSecond  float64
}

// Trading212 submits market orders over the Trading212 equity REST API.
// Sells are encoded as negative quantities on the same endpoint. 429 and
// 5xx responses are retried with Retry-After honored when present, else
// exponential backoff with jitter; 4xx responses are terminal.
type Trading212 struct {
	cfg        Trading212Config
	httpClient *http.Client
	limiter    *rate.Limiter
	symbols    *adapters.SymbolMap
	authHeader string
}

func NewTrading212(cfg Trading212Config, symbols *adapters.SymbolMap) (*Trading212, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("trading212 credentials are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://live.trading212.com/api/v0"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 15
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 6
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 1
	}

	token := base64.StdEncoding.EncodeToString([]byte(cfg.APIKey + ":" + cfg.APISecret))
	return &Trading212{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1),
		symbols:    symbols,
		authHeader: "Basic " + token,
	}, nil
}

func (g *Trading212) Name() string { return "trading212" }

func (g *Trading212) SubmitMarketOrder(ctx context.Context, symbol string, side Side, quantity int) (*OrderRef, error) {
	if quantity <= 0 {
		return nil, NewRejectedError(symbol, fmt.Sprintf("quantity %d must be positive", quantity))
	}
	code, err := g.symbols.BrokerCode(symbol)
	if err != nil {
		return nil, NewRejectedError(symbol, err.Error())
	}

	signed := quantity
	if side == Sell {
		signed = -quantity
	}
	payload := map[string]any{
		"instrumentCode": code,
		"quantity":       signed,
		"timeValidity":   "DAY",
	}

	body, err := g.doWithRetry(ctx, symbol, http.MethodPost, "/equity/orders/market", payload)
	if err != nil {
		return nil, err
	}

	var resp struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, NewNetworkError(symbol, "unparseable order response", err)
	}

	return &OrderRef{
		ID:          strconv.FormatInt(resp.ID, 10),
		Symbol:      symbol,
		Side:        side,
		Quantity:    quantity,
		SubmittedAt: time.Now().UTC(),
		Gateway:     g.Name(),
	}, nil
}

// FreeCash reads the account's free cash. Consulted once at startup as a
// sanity check against the configured budget; sizing itself stays on the
// configured budget so a shared account cannot inflate position sizes.
func (g *Trading212) FreeCash(ctx context.Context) (float64, error) {
	body, err := g.doWithRetry(ctx, "", http.MethodGet, "/equity/account/cash", nil)
	if err != nil {
		return 0, err
	}
	var resp struct {
		Free float64 `json:"free"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, NewNetworkError("", "unparseable cash response", err)
	}
	return resp.Free, nil
}

func (g *Trading212) Close() error { return nil }

func (g *Trading212) doWithRetry(ctx context.Context, symbol, method, path string, payload any) ([]byte, error) {
	var reqBody []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, NewRejectedError(symbol, fmt.Sprintf("marshal payload: %v", err))
		}
		reqBody = b
	}

	var lastErr *OrderError
	for attempt := 0; attempt < g.cfg.MaxAttempts; attempt++ {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, NewNetworkError(symbol, "rate limit wait cancelled", err)
		}

		req, err := http.NewRequestWithContext(ctx, method, g.cfg.BaseURL+path, bytes.NewReader(reqBody))
		if err != nil {
			return nil, NewNetworkError(symbol, "build request", err)
		}
		req.Header.Set("Authorization", g.authHeader)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := g.httpClient.Do(req)
		if err != nil {
			// Transport failures go straight back to the session loop,
			// which owns retry policy for entries vs exits.
			return nil, NewNetworkError(symbol, "request failed", err)
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if readErr != nil {
				return nil, NewNetworkError(symbol, "read response", readErr)
			}
			return body, nil

		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			if resp.StatusCode == http.StatusTooManyRequests {
				lastErr = NewRateLimitedError(symbol, fmt.Sprintf("HTTP 429 on %s", path))
			} else {
				lastErr = NewNetworkError(symbol, fmt.Sprintf("HTTP %d on %s", resp.StatusCode, path), nil)
			}
			wait := retryDelay(resp.Header.Get("Retry-After"), attempt)
			observ.IncCounter("broker_retries_total", map[string]string{"gateway": g.Name()})
			observ.Log("broker_retry", map[string]any{
				"gateway": g.Name(), "path": path, "status": resp.StatusCode,
				"attempt": attempt + 1, "max": g.cfg.MaxAttempts, "wait_ms": wait.Milliseconds(),
			})
			if err := sleepCtx(ctx, wait); err != nil {
				return nil, NewNetworkError(symbol, "retry wait cancelled", err)
			}

		default:
			msg := fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncate(string(body), 200))
			if strings.Contains(strings.ToLower(string(body)), "insufficient") {
				return nil, NewInsufficientFundsError(symbol, msg)
			}
			return nil, NewRejectedError(symbol, msg)
		}
	}
	return nil, lastErr
}

// retryDelay honors an integral Retry-After header, otherwise backs off
// 2^attempt seconds with up to half a second of jitter.
func retryDelay(retryAfter string, attempt int) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(retryAfter)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	backoff := time.Duration(1<<uint(attempt)) * time.Second
	jitter := time.Duration(rand.Int63n(int64(500 * time.Millisecond)))
	return backoff + jitter
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
