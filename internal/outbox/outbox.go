// Package outbox is the append-only order journal: every order intent
// attempt, accepted order, and fill for the running session lands here as
// one JSON line. The journal is not a trade-history store; it exists so a
// restarted process can warn about positions a crashed run may have left
// open.
package outbox

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Order is an accepted submission: the gateway took it.
type Order struct {
	Ref        string    `json:"ref"`
	Symbol     string    `json:"symbol"`
	BrokerCode string    `json:"broker_code"`
	Side       string    `json:"side"` // "BUY" | "SELL"
	Quantity   int       `json:"quantity"`
	Reason     string    `json:"reason"` // "entry" or an exit reason
	IntentKey  string    `json:"intent_key"`
	Gateway    string    `json:"gateway"`
	Timestamp  time.Time `json:"timestamp"`
}

// Attempt is one submission try, successful or not. Retries of the same
// intent share an intent key and differ only in the attempt counter.
type Attempt struct {
	IntentKey string    `json:"intent_key"`
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side"`
	Quantity  int       `json:"quantity"`
	Attempt   int       `json:"attempt"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Fill is an execution report. Only gateways that observe fills (paper)
// write these; the live gateway journals accepted orders only.
type Fill struct {
	OrderRef  string    `json:"order_ref"`
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side"`
	Quantity  int       `json:"quantity"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

type journalEntry struct {
	Type string          `json:"type"` // "order" | "attempt" | "fill"
	Day  string          `json:"day"`
	Data json.RawMessage `json:"data"`
	At   time.Time       `json:"at"`
}

// Journal appends order events for one trading day to a JSONL file. It is
// owned by the session loop; writes are not synchronized. A write failure
// is returned to the caller, which logs it and keeps trading.
type Journal struct {
	path string
}

func New(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	return &Journal{path: path}, nil
}

func (j *Journal) WriteOrder(day string, o Order) error {
	return j.appendEntry("order", day, o)
}

func (j *Journal) WriteAttempt(day string, a Attempt) error {
	return j.appendEntry("attempt", day, a)
}

func (j *Journal) WriteFill(day string, f Fill) error {
	return j.appendEntry("fill", day, f)
}

func (j *Journal) appendEntry(kind, day string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	line, err := json.Marshal(journalEntry{Type: kind, Day: day, Data: raw, At: time.Now().UTC()})
	if err != nil {
		return err
	}

	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.WriteString(string(line) + "\n")
	return err
}

// BeginDay drops entries from earlier sessions so the journal holds one
// session at a time. Entries for day survive, which keeps UnmatchedBuys
// meaningful when the process bounces mid-session.
func (j *Journal) BeginDay(day string) error {
	entries, err := j.read()
	if err != nil {
		return err
	}
	stale := false
	for _, e := range entries {
		if e.Day != day {
			stale = true
			break
		}
	}
	if !stale {
		return nil
	}

	tmp := j.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Day != day {
			continue
		}
		line, err := json.Marshal(e)
		if err != nil {
			continue
		}
		if _, err := f.WriteString(string(line) + "\n"); err != nil {
			f.Close()
			os.Remove(tmp)
			return err
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, j.path)
}

// UnmatchedBuys reports symbols whose accepted BUY quantity for day exceeds
// the accepted SELL quantity, meaning a previous run may have left the
// position open. Consulted once at startup; the engine never rebuilds live
// positions from the journal.
func (j *Journal) UnmatchedBuys(day string) ([]string, error) {
	entries, err := j.read()
	if err != nil {
		return nil, err
	}

	net := map[string]int{}
	var seen []string
	for _, e := range entries {
		if e.Type != "order" || e.Day != day {
			continue
		}
		var o Order
		if err := json.Unmarshal(e.Data, &o); err != nil {
			continue
		}
		if _, ok := net[o.Symbol]; !ok {
			seen = append(seen, o.Symbol)
		}
		switch o.Side {
		case "BUY":
			net[o.Symbol] += o.Quantity
		case "SELL":
			net[o.Symbol] -= o.Quantity
		}
	}

	var open []string
	for _, sym := range seen {
		if net[sym] > 0 {
			open = append(open, sym)
		}
	}
	return open, nil
}

func (j *Journal) read() ([]journalEntry, error) {
	data, err := os.ReadFile(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var entries []journalEntry
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var e journalEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			continue // torn write from a crash; skip the line
		}
		entries = append(entries, e)
	}
	return entries, nil
}
