package state

import (
	"sort"

	"github.com/shopspring/decimal"

	"tradecore/internal/model"
)

// Ledger nets executed quantity per account and contract from fills alone.
// Comparing it against broker positions exposes fills that never arrived.
type Ledger struct {
	net map[string]model.Position
}

func NewLedger() *Ledger {
	return &Ledger{net: make(map[string]model.Position)}
}

// ApplyFill adds a fill and returns the new net quantity of its slot.
func (l *Ledger) ApplyFill(f model.Fill) decimal.Decimal {
	p := model.Position{Account: f.Execution.Account, Contract: f.Contract}
	key := p.Key()
	if prev, ok := l.net[key]; ok {
		p = prev
	}
	signed := f.Execution.Shares.Mul(decimal.NewFromInt(f.Execution.Side.Sign()))
	p.Quantity = p.Quantity.Add(signed)
	l.net[key] = p
	return p.Quantity
}

// Net returns the fill-derived quantity of a slot.
func (l *Ledger) Net(account string, contract model.Contract) decimal.Decimal {
	return l.net[model.Position{Account: account, Contract: contract}.Key()].Quantity
}

// Len is the number of tracked slots.
func (l *Ledger) Len() int {
	return len(l.net)
}

// Diff returns the keys whose fill-derived quantity disagrees with the
// reported positions, sorted. Slots missing on either side count as zero.
func (l *Ledger) Diff(reported []model.Position) []string {
	seen := make(map[string]bool, len(reported))
	var out []string
	for _, p := range reported {
		key := p.Key()
		seen[key] = true
		if !l.net[key].Quantity.Equal(p.Quantity) {
			out = append(out, key)
		}
	}
	for key, p := range l.net {
		if !seen[key] && !p.Quantity.IsZero() {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}
