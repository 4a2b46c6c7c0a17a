package mdg

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tradecore/internal/model/enum"
)

func TestNextQuoteStraddlesPrice(t *testing.T) {
	g := NewGenerator(Config{BasePrice: decimal.NewFromInt(100), Spread: decimal.RequireFromString("0.02")})
	now := time.Now()
	ticks := g.Next(now)
	if len(ticks) != 6 {
		t.Fatalf("expected 6 updates, got %d", len(ticks))
	}
	bid, ask, last := ticks[0].Value, ticks[2].Value, ticks[4].Value
	if !bid.LessThan(last) || !ask.GreaterThan(last) {
		t.Fatalf("bid %s ask %s should straddle last %s", bid, ask, last)
	}
	if !ask.Sub(bid).Equal(decimal.RequireFromString("0.02")) {
		t.Fatalf("spread mismatch! got %s", ask.Sub(bid))
	}

	next := g.Next(now)
	if next[4].Value.Equal(last) {
		t.Fatal("consecutive quotes should move")
	}
}

func TestHistoricalIsOrdered(t *testing.T) {
	g := NewGenerator(Config{})
	end := time.Date(2024, 1, 2, 16, 0, 0, 0, time.UTC)
	ticks := g.Historical(enum.HistoricalTickTrades, end, 5)
	if len(ticks) != 5 {
		t.Fatalf("expected 5 ticks, got %d", len(ticks))
	}
	if !ticks[4].Time.Equal(end) {
		t.Fatalf("last tick should be at end, got %s", ticks[4].Time)
	}
	for i := 1; i < len(ticks); i++ {
		if !ticks[i].Time.After(ticks[i-1].Time) {
			t.Fatalf("tick %d is not after tick %d", i, i-1)
		}
	}
}
