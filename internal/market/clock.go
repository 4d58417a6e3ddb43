package market

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Phase is where the wall clock sits relative to the configured session.
type Phase int

const (
	PreOpen Phase = iota
	Open
	CloseTriggered
	PostClose
)

func (p Phase) String() string {
	switch p {
	case PreOpen:
		return "pre_open"
	case Open:
		return "open"
	case CloseTriggered:
		return "close_triggered"
	case PostClose:
		return "post_close"
	default:
		return "unknown"
	}
}

// SessionWindow is the exchange trading hours in the exchange's own zone.
type SessionWindow struct {
	Open  string `yaml:"open"`  // "HH:MM"
	Close string `yaml:"close"` // "HH:MM"
	Zone  string `yaml:"zone"`  // IANA name, e.g. "Europe/London"
}

// Clock maps wall-clock instants to session phases. All comparisons happen
// in the exchange's local time regardless of the host zone. CloseTriggered
// is returned exactly once per exchange-local calendar day; the latch clears
// on the next day or via Reset.
type Clock struct {
	loc      *time.Location
	openMin  int // minutes from local midnight
	closeMin int

	mu        sync.Mutex
	closeSent string // exchange-local day the close latch fired for
}

// NewClock validates the window and zone. Errors here are startup-fatal for
// callers: a bot that cannot place the session boundaries must not trade.
func NewClock(w SessionWindow) (*Clock, error) {
	loc, err := time.LoadLocation(w.Zone)
	if err != nil {
		return nil, fmt.Errorf("load session zone %q: %w", w.Zone, err)
	}
	openMin, err := parseClockTime(w.Open)
	if err != nil {
		return nil, fmt.Errorf("session open: %w", err)
	}
	closeMin, err := parseClockTime(w.Close)
	if err != nil {
		return nil, fmt.Errorf("session close: %w", err)
	}
	if openMin >= closeMin {
		return nil, fmt.Errorf("session window inverted: open %s >= close %s", w.Open, w.Close)
	}
	return &Clock{loc: loc, openMin: openMin, closeMin: closeMin}, nil
}

func parseClockTime(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("want HH:MM, got %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("bad hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("bad minute in %q", s)
	}
	return h*60 + m, nil
}

// Phase reports the session phase at now. Weekends have no session and read
// as PreOpen (of the next trading day).
func (c *Clock) Phase(now time.Time) Phase {
	local := now.In(c.loc)
	if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return PreOpen
	}
	m := local.Hour()*60 + local.Minute()
	switch {
	case m < c.openMin:
		return PreOpen
	case m < c.closeMin:
		return Open
	default:
		day := local.Format("2006-01-02")
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closeSent != day {
			c.closeSent = day
			return CloseTriggered
		}
		return PostClose
	}
}

// NextOpen returns the next session open at or after now, skipping weekends.
func (c *Clock) NextOpen(now time.Time) time.Time {
	local := now.In(c.loc)
	open := time.Date(local.Year(), local.Month(), local.Day(), c.openMin/60, c.openMin%60, 0, 0, c.loc)
	if !local.Before(open) {
		open = open.AddDate(0, 0, 1)
	}
	for wd := open.Weekday(); wd == time.Saturday || wd == time.Sunday; wd = open.Weekday() {
		open = open.AddDate(0, 0, 1)
	}
	return open
}

// Day is the exchange-local calendar day of now, the key for per-day state.
func (c *Clock) Day(now time.Time) string {
	return now.In(c.loc).Format("2006-01-02")
}

// Location is the exchange zone the session window is defined in.
func (c *Clock) Location() *time.Location {
	return c.loc
}

// Reset clears the close latch so the next session can trigger again.
func (c *Clock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeSent = ""
}
