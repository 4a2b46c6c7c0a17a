package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tradecore/internal/model/enum"
)

// TickUpdate changes one live field of a Ticker.
type TickUpdate struct {
	Field enum.TickField  `json:"field"`
	Value decimal.Decimal `json:"value"`
	Time  time.Time       `json:"time"`
}

// TickByTick is one raw, unsampled tick-by-tick record.
type TickByTick struct {
	Kind     enum.TickByTickKind `json:"kind"`
	Time     time.Time           `json:"time"`
	Price    decimal.Decimal     `json:"price"`
	Size     decimal.Decimal     `json:"size"`
	BidPrice decimal.Decimal     `json:"bidPrice"`
	BidSize  decimal.Decimal     `json:"bidSize"`
	AskPrice decimal.Decimal     `json:"askPrice"`
	AskSize  decimal.Decimal     `json:"askSize"`
	MidPoint decimal.Decimal     `json:"midPoint"`
}

// HistoricalTick is one record returned by a historical tick fetch.
type HistoricalTick struct {
	Time     time.Time       `json:"time"`
	Price    decimal.Decimal `json:"price"`
	Size     decimal.Decimal `json:"size"`
	BidPrice decimal.Decimal `json:"bidPrice"`
	BidSize  decimal.Decimal `json:"bidSize"`
	AskPrice decimal.Decimal `json:"askPrice"`
	AskSize  decimal.Decimal `json:"askSize"`
}

// MarketDataOptions selects the flavour of a streaming quote subscription.
type MarketDataOptions struct {
	GenericTicks       []string `json:"genericTicks,omitempty" yaml:"genericTicks"`
	Snapshot           bool     `json:"snapshot,omitempty" yaml:"snapshot"`
	RegulatorySnapshot bool     `json:"regulatorySnapshot,omitempty" yaml:"regulatorySnapshot"`
}

// Key distinguishes option sets of subscriptions on the same contract.
func (o MarketDataOptions) Key() string {
	var b strings.Builder
	b.WriteString(strings.Join(o.GenericTicks, ","))
	if o.Snapshot {
		b.WriteString("|snap")
	}
	if o.RegulatorySnapshot {
		b.WriteString("|reg")
	}
	return b.String()
}
