package mdg

import (
	"time"

	"github.com/shopspring/decimal"

	"tradecore/internal/model"
	"tradecore/internal/model/enum"
)

// Config shapes the synthetic quotes.
type Config struct {
	BasePrice decimal.Decimal
	Step      decimal.Decimal
	Spread    decimal.Decimal
	Size      decimal.Decimal
}

func (c Config) withDefaults() Config {
	if !c.BasePrice.IsPositive() {
		c.BasePrice = decimal.NewFromInt(100)
	}
	if !c.Step.IsPositive() {
		c.Step = decimal.RequireFromString("0.01")
	}
	if c.Spread.IsNegative() {
		c.Spread = decimal.Zero
	}
	if !c.Size.IsPositive() {
		c.Size = decimal.NewFromInt(1)
	}
	return c
}

// Generator creates deterministic synthetic quotes. Each call moves the price
// one step along a small saw-tooth so that consecutive quotes differ.
type Generator struct {
	cfg   Config
	index int64
}

// NewGenerator creates a quote generator.
func NewGenerator(cfg Config) *Generator {
	return &Generator{cfg: cfg.withDefaults()}
}

// Price returns the mid price of the current step.
func (g *Generator) Price() decimal.Decimal {
	return g.cfg.BasePrice.Add(g.cfg.Step.Mul(decimal.NewFromInt(g.index % 10)))
}

// Next advances the generator and returns the bid, ask and last updates of
// one quote.
func (g *Generator) Next(now time.Time) []model.TickUpdate {
	g.index++
	price := g.Price()
	half := g.cfg.Spread.Div(decimal.NewFromInt(2))
	return []model.TickUpdate{
		{Field: enum.TickFieldBid, Value: price.Sub(half), Time: now},
		{Field: enum.TickFieldBidSize, Value: g.cfg.Size, Time: now},
		{Field: enum.TickFieldAsk, Value: price.Add(half), Time: now},
		{Field: enum.TickFieldAskSize, Value: g.cfg.Size, Time: now},
		{Field: enum.TickFieldLast, Value: price, Time: now},
		{Field: enum.TickFieldLastSize, Value: g.cfg.Size, Time: now},
	}
}

// NextTickByTick advances the generator and returns one raw record of kind.
func (g *Generator) NextTickByTick(kind enum.TickByTickKind, now time.Time) model.TickByTick {
	g.index++
	price := g.Price()
	half := g.cfg.Spread.Div(decimal.NewFromInt(2))
	r := model.TickByTick{Kind: kind, Time: now}
	switch kind {
	case enum.TickByTickBidAsk:
		r.BidPrice, r.BidSize = price.Sub(half), g.cfg.Size
		r.AskPrice, r.AskSize = price.Add(half), g.cfg.Size
	case enum.TickByTickMidPoint:
		r.MidPoint = price
	default:
		r.Price, r.Size = price, g.cfg.Size
	}
	return r
}

// Historical returns count historical ticks ending at end, one second apart.
func (g *Generator) Historical(kind enum.HistoricalTickKind, end time.Time, count int) []model.HistoricalTick {
	out := make([]model.HistoricalTick, 0, count)
	half := g.cfg.Spread.Div(decimal.NewFromInt(2))
	for i := count - 1; i >= 0; i-- {
		g.index++
		price := g.Price()
		t := model.HistoricalTick{Time: end.Add(-time.Duration(i) * time.Second)}
		switch kind {
		case enum.HistoricalTickBidAsk:
			t.BidPrice, t.BidSize = price.Sub(half), g.cfg.Size
			t.AskPrice, t.AskSize = price.Add(half), g.cfg.Size
		default:
			t.Price, t.Size = price, g.cfg.Size
		}
		out = append(out, t)
	}
	return out
}
