package adapters

import (
	"context"
	"sync"
	"time"

	"github.com/Rajchodisetti/gapfill-bot/internal/observ"
)

// HistoryCache holds daily close series keyed by symbol. Daily closes only
// change when the exchange day rolls over, so entries are valid for exactly
// one session day and a day mismatch is a miss.
type HistoryCache struct {
	mu      sync.RWMutex
	entries map[string]cachedSeries
}

type cachedSeries struct {
	series   PriceSeries
	day      string
	cachedAt time.Time
}

func NewHistoryCache() *HistoryCache {
	return &HistoryCache{entries: make(map[string]cachedSeries)}
}

// Get returns the cached series for symbol if it was stored for the same
// exchange day.
func (hc *HistoryCache) Get(symbol, day string) (PriceSeries, bool) {
	hc.mu.RLock()
	entry, ok := hc.entries[symbol]
	hc.mu.RUnlock()

	if !ok || entry.day != day {
		observ.IncCounter("history_cache_miss_total", map[string]string{"symbol": symbol})
		return PriceSeries{}, false
	}
	observ.IncCounter("history_cache_hit_total", map[string]string{"symbol": symbol})
	return entry.series, true
}

// Set stores a series under the given exchange day, replacing any prior day.
func (hc *HistoryCache) Set(symbol, day string, series PriceSeries) {
	hc.mu.Lock()
	hc.entries[symbol] = cachedSeries{series: series, day: day, cachedAt: time.Now()}
	size := len(hc.entries)
	hc.mu.Unlock()

	observ.SetGauge("history_cache_size", float64(size), nil)
}

// CachedHistory decorates a HistorySource with a per-day cache so each
// symbol's close series is fetched at most once per session.
type CachedHistory struct {
	inner HistorySource
	cache *HistoryCache
	day   func() string
}

// NewCachedHistory wraps inner. day reports the current exchange day and
// decides when cached entries roll off.
func NewCachedHistory(inner HistorySource, day func() string) *CachedHistory {
	return &CachedHistory{inner: inner, cache: NewHistoryCache(), day: day}
}

func (c *CachedHistory) GetDailyCloses(ctx context.Context, symbol string, lookback int) (PriceSeries, error) {
	day := c.day()
	if series, ok := c.cache.Get(symbol, day); ok && len(series.Closes) >= lookback {
		return series, nil
	}
	series, err := c.inner.GetDailyCloses(ctx, symbol, lookback)
	if err != nil {
		return PriceSeries{}, err
	}
	c.cache.Set(symbol, day, series)
	return series, nil
}

func (c *CachedHistory) Close() error {
	return c.inner.Close()
}
