package alerts

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/Rajchodisetti/gapfill-bot/internal/observ"
)

type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type SlackAttachment struct {
	Color  string       `json:"color"`
	Fields []SlackField `json:"fields"`
}

type SlackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Text        string            `json:"text"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackConfig tunes webhook delivery. The webhook URL comes from the
// environment; an empty URL disables the notifier at construction.
type SlackConfig struct {
	WebhookURL               string
	Channel                  string
	MinSeverity              Severity
	RateLimitPerMin          int
	RateLimitPerSymbolPerMin int
	DedupeWindow             time.Duration
	QueueSize                int
}

type queuedEvent struct {
	event     Event
	attempts  int
	nextRetry time.Time
}

// SlackNotifier posts events to a Slack incoming webhook. Delivery is
// asynchronous through a bounded queue: Notify never blocks the session
// loop, duplicates within the dedupe window are swallowed, and failed posts
// retry up to three times with exponential backoff before being dropped.
type SlackNotifier struct {
	cfg        SlackConfig
	httpClient *http.Client
	queue      chan queuedEvent

	mu     sync.Mutex
	dedupe map[string]time.Time
	rate   map[string][]time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

func NewSlackNotifier(cfg SlackConfig) (*SlackNotifier, error) {
	if cfg.WebhookURL == "" {
		return nil, fmt.Errorf("slack webhook URL is empty")
	}
	if cfg.RateLimitPerMin <= 0 {
		cfg.RateLimitPerMin = 20
	}
	if cfg.RateLimitPerSymbolPerMin <= 0 {
		cfg.RateLimitPerSymbolPerMin = 5
	}
	if cfg.DedupeWindow <= 0 {
		cfg.DedupeWindow = 60 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &SlackNotifier{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		queue:      make(chan queuedEvent, cfg.QueueSize),
		dedupe:     make(map[string]time.Time),
		rate:       make(map[string][]time.Time),
		ctx:        ctx,
		cancel:     cancel,
	}

	go s.worker()
	go s.cleanup()

	return s, nil
}

func (s *SlackNotifier) Notify(e Event) {
	if e.Severity < s.cfg.MinSeverity {
		return
	}

	hash := eventHash(e)
	now := time.Now()

	s.mu.Lock()
	if lastSent, exists := s.dedupe[hash]; exists && now.Sub(lastSent) < s.cfg.DedupeWindow {
		s.mu.Unlock()
		return
	}
	s.dedupe[hash] = now
	s.mu.Unlock()

	if s.isRateLimited(e.Symbol) {
		observ.IncCounter("alert_rate_limited_total", nil)
		return
	}

	item := queuedEvent{event: e, nextRetry: now}
	select {
	case s.queue <- item:
	default:
		s.dropOldestNonCritical(item)
	}
}

func eventHash(e Event) string {
	data := fmt.Sprintf("%s:%s:%s", e.Kind, e.Symbol, e.Text)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)[:16]
}

func (s *SlackNotifier) isRateLimited(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-time.Minute)

	prune := func(key string) int {
		times := s.rate[key]
		filtered := times[:0]
		for _, t := range times {
			if t.After(cutoff) {
				filtered = append(filtered, t)
			}
		}
		s.rate[key] = filtered
		return len(filtered)
	}

	if prune("global") >= s.cfg.RateLimitPerMin {
		return true
	}
	if symbol != "" && prune(symbol) >= s.cfg.RateLimitPerSymbolPerMin {
		return true
	}

	s.rate["global"] = append(s.rate["global"], now)
	if symbol != "" {
		s.rate[symbol] = append(s.rate[symbol], now)
	}
	return false
}

// dropOldestNonCritical makes room when the queue is full. Critical events
// already in the queue are never sacrificed for a new arrival.
func (s *SlackNotifier) dropOldestNonCritical(item queuedEvent) {
	select {
	case old := <-s.queue:
		if old.event.Severity == Critical {
			select {
			case s.queue <- old:
				observ.IncCounter("alert_queue_dropped_total", nil)
				return
			default:
			}
		}
		select {
		case s.queue <- item:
			observ.IncCounter("alert_queue_dropped_total", nil)
		default:
			observ.IncCounter("alert_queue_dropped_total", nil)
		}
	default:
		select {
		case s.queue <- item:
		default:
			observ.IncCounter("alert_queue_dropped_total", nil)
		}
	}
}

func (s *SlackNotifier) worker() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case item := <-s.queue:
			if time.Now().Before(item.nextRetry) {
				go func() {
					time.Sleep(time.Until(item.nextRetry))
					select {
					case s.queue <- item:
					case <-s.ctx.Done():
					default:
						observ.IncCounter("alert_queue_dropped_total", nil)
					}
				}()
				continue
			}

			if s.sendWebhook(item.event) {
				observ.IncCounter("alerts_sent_total", map[string]string{"channel": "slack"})
				continue
			}

			item.attempts++
			if item.attempts >= 3 {
				observ.IncCounter("alert_webhook_errors_total", nil)
				continue
			}
			backoff := time.Duration(math.Pow(2, float64(item.attempts))) * time.Second
			jitter := time.Duration(rand.Float64() * float64(backoff) * 0.1)
			item.nextRetry = time.Now().Add(backoff + jitter)
			select {
			case s.queue <- item:
			case <-s.ctx.Done():
				return
			default:
				observ.IncCounter("alert_queue_dropped_total", nil)
			}
		}
	}
}

func (s *SlackNotifier) sendWebhook(e Event) bool {
	payload, err := json.Marshal(s.formatMessage(e))
	if err != nil {
		observ.Log("slack_marshal_failed", map[string]any{"error": err.Error()})
		return false
	}
	if len(payload) > 4000 {
		payload = append(payload[:3900], []byte("...\"}")...)
	}

	resp, err := s.httpClient.Post(s.cfg.WebhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		observ.Log("slack_webhook_error", map[string]any{"error": err.Error()})
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		observ.Log("slack_webhook_error", map[string]any{"status": resp.StatusCode})
		return false
	}
	return true
}

func (s *SlackNotifier) formatMessage(e Event) SlackMessage {
	emoji, color := "📈", "good"
	switch e.Severity {
	case Warning:
		emoji, color = "⚠️", "warning"
	case Critical:
		emoji, color = "🚨", "danger"
	}

	text := fmt.Sprintf("%s %s", emoji, e.Text)
	if e.Symbol != "" {
		text = fmt.Sprintf("%s %s: %s", emoji, e.Symbol, e.Text)
	}

	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]SlackField, 0, len(keys)+1)
	for _, k := range keys {
		fields = append(fields, SlackField{Title: k, Value: e.Fields[k], Short: true})
	}
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	fields = append(fields, SlackField{Title: "Time", Value: at.Format("15:04:05 MST"), Short: true})

	return SlackMessage{
		Channel: s.cfg.Channel,
		Text:    text,
		Attachments: []SlackAttachment{{
			Color:  color,
			Fields: fields,
		}},
	}
}

func (s *SlackNotifier) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			cutoff := time.Now().Add(-5 * time.Minute)
			for hash, sent := range s.dedupe {
				if sent.Before(cutoff) {
					delete(s.dedupe, hash)
				}
			}
			s.mu.Unlock()
		}
	}
}

func (s *SlackNotifier) Close() {
	s.cancel()
}
