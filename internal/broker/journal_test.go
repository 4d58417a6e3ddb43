package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/gapfill-bot/internal/outbox"
)

// scriptedGateway fails a fixed number of submissions, then accepts.
type scriptedGateway struct {
	failures int
	calls    int
	seq      int
}

func (g *scriptedGateway) SubmitMarketOrder(_ context.Context, symbol string, side Side, quantity int) (*OrderRef, error) {
	g.calls++
	if g.failures > 0 {
		g.failures--
		return nil, NewNetworkError(symbol, "connection reset", nil)
	}
	g.seq++
	return &OrderRef{
		ID:          fmt.Sprintf("ord-%d", g.seq),
		Symbol:      symbol,
		Side:        side,
		Quantity:    quantity,
		Price:       100,
		SubmittedAt: time.Now().UTC(),
		Gateway:     "scripted",
	}, nil
}

func (g *scriptedGateway) Name() string { return "scripted" }
func (g *scriptedGateway) Close() error { return nil }

type journalLine struct {
	Type string          `json:"type"`
	Day  string          `json:"day"`
	Data json.RawMessage `json:"data"`
}

func readJournal(t *testing.T, path string) []journalLine {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var lines []journalLine
	for _, raw := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		var l journalLine
		require.NoError(t, json.Unmarshal([]byte(raw), &l))
		lines = append(lines, l)
	}
	return lines
}

func newTestJournaled(t *testing.T, inner OrderGateway) (*JournaledGateway, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "orders.jsonl")
	j, err := outbox.New(path)
	require.NoError(t, err)
	gw := NewJournaledGateway(inner, j, testSymbols(t), func() string { return "2025-06-02" })
	return gw, path
}

func TestJournaledGatewayStableIntentKeyAcrossRetries(t *testing.T) {
	inner := &scriptedGateway{failures: 2}
	gw, path := newTestJournaled(t, inner)

	key := gw.IntentKey("VOD", Sell, "stop_hit")

	_, err := gw.SubmitIntent(context.Background(), "VOD", Sell, 10, "stop_hit")
	require.Error(t, err)
	_, err = gw.SubmitIntent(context.Background(), "VOD", Sell, 10, "stop_hit")
	require.Error(t, err)
	ref, err := gw.SubmitIntent(context.Background(), "VOD", Sell, 10, "stop_hit")
	require.NoError(t, err)
	assert.Equal(t, "ord-1", ref.ID)
	assert.Equal(t, 3, gw.Attempts(key))

	var attempts []outbox.Attempt
	var orders []outbox.Order
	for _, line := range readJournal(t, path) {
		switch line.Type {
		case "attempt":
			var a outbox.Attempt
			require.NoError(t, json.Unmarshal(line.Data, &a))
			attempts = append(attempts, a)
		case "order":
			var o outbox.Order
			require.NoError(t, json.Unmarshal(line.Data, &o))
			orders = append(orders, o)
		}
	}

	require.Len(t, attempts, 3)
	for i, a := range attempts {
		assert.Equal(t, key, a.IntentKey, "retries share the intent key")
		assert.Equal(t, i+1, a.Attempt)
	}
	assert.NotEmpty(t, attempts[0].Error)
	assert.NotEmpty(t, attempts[1].Error)
	assert.Empty(t, attempts[2].Error)

	require.Len(t, orders, 1)
	assert.Equal(t, key, orders[0].IntentKey)
	assert.Equal(t, "VODl_EQ", orders[0].BrokerCode)
	assert.Equal(t, "stop_hit", orders[0].Reason)
}

func TestJournaledGatewayDistinctReasonsDistinctKeys(t *testing.T) {
	gw, _ := newTestJournaled(t, &scriptedGateway{})

	stop := gw.IntentKey("VOD", Sell, "stop_hit")
	eod := gw.IntentKey("VOD", Sell, "eod_forced_close")
	entry := gw.IntentKey("VOD", Buy, "entry")

	assert.NotEqual(t, stop, eod)
	assert.NotEqual(t, stop, entry)
	assert.NotEqual(t, eod, entry)
}

func TestJournaledGatewayUnmatchedBuys(t *testing.T) {
	gw, path := newTestJournaled(t, &scriptedGateway{})
	j, err := outbox.New(path)
	require.NoError(t, err)

	_, err = gw.SubmitIntent(context.Background(), "VOD", Buy, 10, "entry")
	require.NoError(t, err)

	open, err := j.UnmatchedBuys("2025-06-02")
	require.NoError(t, err)
	assert.Equal(t, []string{"VOD"}, open, "a buy with no sell looks abandoned")

	_, err = gw.SubmitIntent(context.Background(), "VOD", Sell, 10, "target_hit")
	require.NoError(t, err)

	open, err = j.UnmatchedBuys("2025-06-02")
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestJournaledGatewayWritesFillsWhenPriced(t *testing.T) {
	gw, path := newTestJournaled(t, &scriptedGateway{})

	_, err := gw.SubmitIntent(context.Background(), "VOD", Buy, 10, "entry")
	require.NoError(t, err)

	var fills int
	for _, line := range readJournal(t, path) {
		if line.Type == "fill" {
			fills++
		}
	}
	assert.Equal(t, 1, fills)
}
