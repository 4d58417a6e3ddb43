package observ

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

type registry struct {
	mu       sync.Mutex
	counters map[string]map[string]int64 // name -> labelsKey -> count
	gauges   map[string]map[string]float64
	hist     map[string]map[string][]float64
}

var reg = &registry{
	counters: map[string]map[string]int64{},
	gauges:   map[string]map[string]float64{},
	hist:     map[string]map[string][]float64{},
}

// canonicalize label map so key order is stable
func canonLabels(lbl map[string]string) string {
	if len(lbl) == 0 {
		return ""
	}
	keys := make([]string, 0, len(lbl))
	for k := range lbl {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(lbl[k])
	}
	return b.String()
}

func IncCounter(name string, labels map[string]string) {
	IncCounterBy(name, labels, 1)
}

func IncCounterBy(name string, labels map[string]string, value int64) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.counters[name]
	if !ok {
		m = map[string]int64{}
		reg.counters[name] = m
	}
	m[canonLabels(labels)] += value
}

func SetGauge(name string, value float64, labels map[string]string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.gauges[name]
	if !ok {
		m = map[string]float64{}
		reg.gauges[name] = m
	}
	m[canonLabels(labels)] = value
}

func Observe(name string, value float64, labels map[string]string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.hist[name]
	if !ok {
		m = map[string][]float64{}
		reg.hist[name] = m
	}
	k := canonLabels(labels)
	m[k] = append(m[k], value)
}

// RecordDuration records a latency observation in milliseconds.
func RecordDuration(name string, duration time.Duration, labels map[string]string) {
	Observe(name+"_ms", float64(duration.Milliseconds()), labels)
}

// CounterValue reads a counter back out, used by tests and the health report.
func CounterValue(name string, labels map[string]string) int64 {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.counters[name]
	if !ok {
		return 0
	}
	return m[canonLabels(labels)]
}

func counterTotalLocked(name string) int64 {
	var total int64
	for _, v := range reg.counters[name] {
		total += v
	}
	return total
}

func gaugeFirstLocked(name string) (float64, bool) {
	for _, v := range reg.gauges[name] {
		return v, true
	}
	return 0, false
}

// Basic text/JSON dump for quick checks (not Prometheus format on purpose)
func Handler() http.Handler {
	type dump struct {
		Counters map[string]map[string]int64     `json:"counters"`
		Gauges   map[string]map[string]float64   `json:"gauges"`
		Hist     map[string]map[string][]float64 `json:"histograms"`
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reg.mu.Lock()
		defer reg.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(dump{Counters: reg.counters, Gauges: reg.gauges, Hist: reg.hist})
	})
}

// HealthStatus is the /healthz payload.
type HealthStatus struct {
	Status    string        `json:"status"` // "healthy", "degraded", "failed"
	Timestamp string        `json:"timestamp"`
	Uptime    string        `json:"uptime"`
	Version   string        `json:"version"`
	Metrics   HealthMetrics `json:"metrics"`
}

// HealthMetrics summarizes the telemetry an operator checks first during a session.
type HealthMetrics struct {
	SessionPhase     string  `json:"session_phase"`
	OpenTrades       int     `json:"open_trades"`
	PendingExits     int     `json:"pending_exits"`
	TradesEntered    int64   `json:"trades_entered"`
	TradesClosed     int64   `json:"trades_closed"`
	QuoteSuccessRate float64 `json:"quote_success_rate"`
	ExitRetries      int64   `json:"exit_retries"`
	SessionCash      float64 `json:"session_cash"`
}

var (
	startTime = time.Now()
	version   = "dev" // set via build flags
)

// SetVersion sets the version string for health reports.
func SetVersion(v string) {
	version = v
}

// HealthHandler reports session health derived from the shared registry.
// An unclosed trade after the close bell or a dead quote feed marks the
// process failed so an external monitor can page.
func HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reg.mu.Lock()
		defer reg.mu.Unlock()

		health := HealthStatus{
			Status:    healthStatusLocked(),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Uptime:    time.Since(startTime).String(),
			Version:   version,
			Metrics:   healthMetricsLocked(),
		}

		statusCode := http.StatusOK
		switch health.Status {
		case "degraded":
			statusCode = http.StatusPartialContent
		case "failed":
			statusCode = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		_ = json.NewEncoder(w).Encode(health)
	})
}

func healthMetricsLocked() HealthMetrics {
	m := HealthMetrics{
		TradesEntered: counterTotalLocked("trades_entered_total"),
		TradesClosed:  counterTotalLocked("trades_closed_total"),
		ExitRetries:   counterTotalLocked("exit_retries_total"),
	}

	if phase, ok := gaugeFirstLocked("session_phase"); ok {
		m.SessionPhase = phaseName(int(phase))
	}
	if open, ok := gaugeFirstLocked("open_trades"); ok {
		m.OpenTrades = int(open)
	}
	if pending, ok := gaugeFirstLocked("pending_exits"); ok {
		m.PendingExits = int(pending)
	}
	if cash, ok := gaugeFirstLocked("session_cash"); ok {
		m.SessionCash = cash
	}

	requests := counterTotalLocked("quote_requests_total")
	errors := counterTotalLocked("quote_errors_total")
	if requests > 0 {
		m.QuoteSuccessRate = float64(requests-errors) / float64(requests)
	}

	return m
}

func healthStatusLocked() string {
	// Pending exits after the bell mean live positions we cannot shed.
	if phase, ok := gaugeFirstLocked("session_phase"); ok && int(phase) >= 2 {
		if pending, ok := gaugeFirstLocked("pending_exits"); ok && pending > 0 {
			return "failed"
		}
	}

	requests := counterTotalLocked("quote_requests_total")
	errors := counterTotalLocked("quote_errors_total")
	if requests > 50 && float64(errors)/float64(requests) > 0.5 {
		return "failed"
	}
	if requests > 50 && float64(errors)/float64(requests) > 0.1 {
		return "degraded"
	}

	if counterTotalLocked("exit_retries_total") > 0 {
		if pending, ok := gaugeFirstLocked("pending_exits"); ok && pending > 0 {
			return "degraded"
		}
	}

	return "healthy"
}

// phaseName mirrors market.Phase ordering without importing it (observ stays leaf).
func phaseName(p int) string {
	switch p {
	case 0:
		return "pre_open"
	case 1:
		return "open"
	case 2:
		return "close_triggered"
	case 3:
		return "post_close"
	default:
		return "unknown"
	}
}

// Health is the bare liveness probe.
func Health() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}
