// Package alerts delivers session events to humans. The engine publishes
// Events through a Notifier and never blocks on delivery; Slack delivery is
// queued and retried in the background, and the structured log always gets a
// copy regardless of webhook health.
package alerts

import (
	"fmt"
	"strings"
	"time"

	"github.com/Rajchodisetti/gapfill-bot/internal/observ"
)

type Severity int

const (
	Info Severity = iota
	Warning
	Critical
)

func (s Severity) String() string {
	switch s {
	case Info:
		return "info"
	case Warning:
		return "warning"
	case Critical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParseSeverity maps a config string to a Severity.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "info":
		return Info, nil
	case "warning", "warn":
		return Warning, nil
	case "critical", "crit":
		return Critical, nil
	default:
		return Warning, fmt.Errorf("unknown severity %q", s)
	}
}

// Event is one thing a human might care about: a plan, an entry, a close,
// an exhausted exit retry, the session summary.
type Event struct {
	Kind     string
	Severity Severity
	Symbol   string
	Text     string
	Fields   map[string]string
	At       time.Time
}

// Notifier delivers events. Implementations must not block the caller.
type Notifier interface {
	Notify(Event)
}

// LogNotifier mirrors every event into the structured log.
type LogNotifier struct{}

func (LogNotifier) Notify(e Event) {
	payload := map[string]any{
		"kind":     e.Kind,
		"severity": e.Severity.String(),
		"text":     e.Text,
	}
	if e.Symbol != "" {
		payload["symbol"] = e.Symbol
	}
	for k, v := range e.Fields {
		payload[k] = v
	}
	observ.Log("alert", payload)
	observ.IncCounter("alerts_total", map[string]string{
		"kind": e.Kind, "severity": e.Severity.String(),
	})
}

// MultiNotifier fans an event out to every notifier. A nil or empty multi
// is a valid no-op notifier.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(e Event) {
	for _, n := range m {
		n.Notify(e)
	}
}
