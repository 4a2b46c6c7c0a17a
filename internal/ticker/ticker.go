package ticker

import (
	"time"

	"github.com/shopspring/decimal"

	"tradecore/internal/model"
	"tradecore/internal/model/enum"
)

var two = decimal.NewFromInt(2)

// Quote is the live field set of a Ticker.
type Quote struct {
	Bid      decimal.Decimal `json:"bid"`
	BidSize  decimal.Decimal `json:"bidSize"`
	Ask      decimal.Decimal `json:"ask"`
	AskSize  decimal.Decimal `json:"askSize"`
	Last     decimal.Decimal `json:"last"`
	LastSize decimal.Decimal `json:"lastSize"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Close    decimal.Decimal `json:"close"`
	Open     decimal.Decimal `json:"open"`
	Volume   decimal.Decimal `json:"volume"`
	Time     time.Time       `json:"time"`
}

// Ticker is the live quote of one contract plus the ticks received since the
// last flush. The Cache is its only writer.
type Ticker struct {
	contract    model.Contract
	quote       Quote
	ticks       []model.TickUpdate
	tickByTicks []model.TickByTick
}

func newTicker(contract model.Contract) *Ticker {
	return &Ticker{contract: contract}
}

func (t *Ticker) Contract() model.Contract {
	return t.contract
}

func (t *Ticker) Quote() Quote {
	return t.quote
}

func (t *Ticker) Bid() decimal.Decimal  { return t.quote.Bid }
func (t *Ticker) Ask() decimal.Decimal  { return t.quote.Ask }
func (t *Ticker) Last() decimal.Decimal { return t.quote.Last }
func (t *Ticker) Time() time.Time       { return t.quote.Time }

// Ticks returns the tick updates received since the last flush.
func (t *Ticker) Ticks() []model.TickUpdate {
	out := make([]model.TickUpdate, len(t.ticks))
	copy(out, t.ticks)
	return out
}

// TickByTicks returns the tick-by-tick records received since the last flush.
func (t *Ticker) TickByTicks() []model.TickByTick {
	out := make([]model.TickByTick, len(t.tickByTicks))
	copy(out, t.tickByTicks)
	return out
}

// HasPending reports whether anything arrived since the last flush.
func (t *Ticker) HasPending() bool {
	return len(t.ticks) != 0 || len(t.tickByTicks) != 0
}

// Midpoint is the mean of bid and ask, zero while either side is missing.
func (t *Ticker) Midpoint() decimal.Decimal {
	if !t.quote.Bid.IsPositive() || !t.quote.Ask.IsPositive() {
		return decimal.Zero
	}
	return t.quote.Bid.Add(t.quote.Ask).Div(two)
}

// MarketPrice is the best estimate of the current price. Contracts without a
// traded last price, such as Forex pairs, use the midpoint. Otherwise the last
// price is used while it sits inside the spread, falling back to the midpoint
// and then the close.
func (t *Ticker) MarketPrice() decimal.Decimal {
	mid := t.Midpoint()
	if !t.contract.SecType.HasLastPrice() {
		return mid
	}

	last := t.quote.Last
	if last.IsPositive() {
		if mid.IsZero() {
			return last
		}
		if last.GreaterThanOrEqual(t.quote.Bid) && last.LessThanOrEqual(t.quote.Ask) {
			return last
		}
	}
	if mid.IsPositive() {
		return mid
	}
	return t.quote.Close
}

func (t *Ticker) applyTick(u model.TickUpdate) {
	q := &t.quote
	switch u.Field {
	case enum.TickFieldBid:
		q.Bid = u.Value
	case enum.TickFieldBidSize:
		q.BidSize = u.Value
	case enum.TickFieldAsk:
		q.Ask = u.Value
	case enum.TickFieldAskSize:
		q.AskSize = u.Value
	case enum.TickFieldLast:
		q.Last = u.Value
	case enum.TickFieldLastSize:
		q.LastSize = u.Value
	case enum.TickFieldHigh:
		q.High = u.Value
	case enum.TickFieldLow:
		q.Low = u.Value
	case enum.TickFieldClose:
		q.Close = u.Value
	case enum.TickFieldOpen:
		q.Open = u.Value
	case enum.TickFieldVolume:
		q.Volume = u.Value
	}
	if u.Time.After(q.Time) {
		q.Time = u.Time
	}
	t.ticks = append(t.ticks, u)
}

func (t *Ticker) applyTickByTick(r model.TickByTick) {
	q := &t.quote
	switch r.Kind {
	case enum.TickByTickLast, enum.TickByTickAllLast:
		q.Last = r.Price
		q.LastSize = r.Size
	case enum.TickByTickBidAsk:
		q.Bid, q.BidSize = r.BidPrice, r.BidSize
		q.Ask, q.AskSize = r.AskPrice, r.AskSize
	}
	if r.Time.After(q.Time) {
		q.Time = r.Time
	}
	t.tickByTicks = append(t.tickByTicks, r)
}

func (t *Ticker) clearPending() {
	t.ticks = t.ticks[:0]
	t.tickByTicks = t.tickByTicks[:0]
}
