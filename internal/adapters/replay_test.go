package adapters

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func testFixture() Fixture {
	return Fixture{
		Day: "2025-06-02",
		Instruments: map[string]FixtureInstrument{
			"VOD": {
				Closes: []float64{74.8, 74.6, 74.5},
				Ticks:  []float64{74.10, 74.22, 74.48},
			},
		},
	}
}

func TestReplaySourcePlaysTicksInOrder(t *testing.T) {
	r, err := NewReplayFromFixture(testFixture())
	if err != nil {
		t.Fatalf("NewReplayFromFixture() error = %v", err)
	}
	ctx := context.Background()

	want := []float64{74.10, 74.22, 74.48}
	for i, w := range want {
		quote, err := r.GetQuote(ctx, "VOD")
		if err != nil {
			t.Fatalf("GetQuote() #%d error = %v", i, err)
		}
		if quote.Last != w {
			t.Errorf("tick %d = %v, want %v", i, quote.Last, w)
		}
		if quote.Source != "replay" {
			t.Errorf("Source = %v, want replay", quote.Source)
		}
	}

	// Exhausted scripts repeat the final tick.
	quote, err := r.GetQuote(ctx, "VOD")
	if err != nil {
		t.Fatalf("GetQuote() past end error = %v", err)
	}
	if quote.Last != 74.48 {
		t.Errorf("post-script tick = %v, want the last scripted tick", quote.Last)
	}
	if !r.Exhausted() {
		t.Error("Exhausted() = false after playing every tick")
	}
}

func TestReplaySourceHistory(t *testing.T) {
	r, _ := NewReplayFromFixture(testFixture())
	series, err := r.GetDailyCloses(context.Background(), "vod", 2)
	if err != nil {
		t.Fatalf("GetDailyCloses() error = %v", err)
	}
	if len(series.Closes) != 2 || series.Closes[1] != 74.5 {
		t.Errorf("Closes = %v, want tail [74.6 74.5]", series.Closes)
	}
}

func TestReplaySourceFailNext(t *testing.T) {
	r, _ := NewReplayFromFixture(testFixture())
	ctx := context.Background()

	r.FailNext("VOD", NewUnavailableError("VOD", "scripted outage", nil))

	if _, err := r.GetQuote(ctx, "VOD"); err == nil {
		t.Fatal("Expected the scripted failure")
	}
	quote, err := r.GetQuote(ctx, "VOD")
	if err != nil {
		t.Fatalf("GetQuote() after failure error = %v", err)
	}
	if quote.Last != 74.10 {
		t.Errorf("first real tick = %v, want 74.10 (failure must not consume a tick)", quote.Last)
	}
}

func TestReplaySourceHealth(t *testing.T) {
	r, _ := NewReplayFromFixture(testFixture())
	ctx := context.Background()

	if err := r.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}
	r.SetHealth(false)
	if err := r.HealthCheck(ctx); err == nil {
		t.Error("Expected unhealthy report")
	}
}

func TestNewReplaySourceFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixture.json")
	raw, err := json.Marshal(testFixture())
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	r, err := NewReplaySource(path)
	if err != nil {
		t.Fatalf("NewReplaySource() error = %v", err)
	}
	quote, err := r.GetQuote(context.Background(), "VOD")
	if err != nil || quote.Last != 74.10 {
		t.Errorf("GetQuote() = %v, %v; want first scripted tick", quote, err)
	}

	if _, err := NewReplaySource(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("Expected error for missing fixture file")
	}
}

func TestNewReplayFromFixtureValidation(t *testing.T) {
	if _, err := NewReplayFromFixture(Fixture{}); err == nil {
		t.Error("Expected error for fixture with no instruments")
	}
	bad := Fixture{Instruments: map[string]FixtureInstrument{"VOD": {Closes: []float64{74.5}}}}
	if _, err := NewReplayFromFixture(bad); err == nil {
		t.Error("Expected error for instrument with no ticks")
	}
}
