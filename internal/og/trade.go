package og

import (
	"github.com/shopspring/decimal"

	"tradecore/internal/model"
	"tradecore/internal/model/enum"
)

// Trade aggregates an Order with its broker status, fills and log.
//
// The registry owns every field. Callers read through the accessors, which
// return copies, and only ever mutate the *model.Order they submitted.
type Trade struct {
	contract model.Contract
	order    *model.Order
	status   model.OrderStatus
	fills    []model.Fill
	log      []model.TradeLogEntry
	// adopted marks an order the registry allocated for a foreign trade.
	adopted bool
}

func (t *Trade) Contract() model.Contract {
	return t.contract
}

// Order returns the order the trade was submitted with. For trades admitted
// from broker events it is a registry-allocated copy, kept in step with the
// broker's open-order description.
func (t *Trade) Order() *model.Order {
	return t.order
}

func (t *Trade) OrderStatus() model.OrderStatus {
	return t.status
}

func (t *Trade) Status() enum.OrderStatus {
	return t.status.Status
}

// Key returns the registry key of the trade.
func (t *Trade) Key() model.OrderKey {
	return model.KeyOf(t.order.ClientID, t.order.OrderID, t.order.PermID)
}

func (t *Trade) Fills() []model.Fill {
	out := make([]model.Fill, len(t.fills))
	copy(out, t.fills)
	return out
}

func (t *Trade) Log() []model.TradeLogEntry {
	out := make([]model.TradeLogEntry, len(t.log))
	copy(out, t.log)
	return out
}

// LastLog returns the tail of the log.
func (t *Trade) LastLog() (model.TradeLogEntry, bool) {
	if len(t.log) == 0 {
		return model.TradeLogEntry{}, false
	}
	return t.log[len(t.log)-1], true
}

// IsDone reports whether the order reached a terminal status.
func (t *Trade) IsDone() bool {
	return t.status.Status.IsDone()
}

// IsActive reports whether the order is still working at the broker.
func (t *Trade) IsActive() bool {
	return !t.IsDone()
}

// Filled is the executed quantity summed over fills.
func (t *Trade) Filled() decimal.Decimal {
	sum := decimal.Zero
	for _, f := range t.fills {
		sum = sum.Add(f.Execution.Shares)
	}
	return sum
}

// Remaining is the order quantity not yet covered by fills.
func (t *Trade) Remaining() decimal.Decimal {
	rem := t.order.TotalQuantity.Sub(t.Filled())
	if rem.IsNegative() {
		return decimal.Zero
	}
	return rem
}

func (t *Trade) appendLog(entry model.TradeLogEntry) model.TradeLogEntry {
	if tail, ok := t.LastLog(); ok && entry.Time.Before(tail.Time) {
		entry.Time = tail.Time
	}
	t.log = append(t.log, entry)
	return entry
}

func (t *Trade) fillIndex(execID string) int {
	for i := range t.fills {
		if t.fills[i].Execution.ExecID == execID {
			return i
		}
	}
	return -1
}
