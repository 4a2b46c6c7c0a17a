package og

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"tradecore/internal/model"
	"tradecore/internal/model/enum"
	"tradecore/pkg/exception"
)

const defaultMaxParkedCommissions = 1024

// Config controls registry behavior.
type Config struct {
	// ClientID is the session's own client id. Orders carrying another client
	// id, or no order id at all, are foreign.
	ClientID             int64
	Clock                func() time.Time
	MaxParkedCommissions int
}

// Change reports what an Apply call did to a Trade.
type Change struct {
	Admitted      bool
	StatusChanged bool
	Logged        bool
	Entry         model.TradeLogEntry
}

// Registry owns every Trade, Fill and Position of a session and applies
// inbound broker events to them. It is not safe for concurrent use; the
// session loop is its only writer.
type Registry struct {
	cfg Config

	trades map[model.OrderKey]*Trade
	byPerm map[int64]*Trade
	order  []*Trade

	execs map[string]*Trade

	parked      map[string]model.CommissionReport
	parkedOrder []string

	positions map[string]model.Position
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config) *Registry {
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return time.Now().UTC() }
	}
	if cfg.MaxParkedCommissions <= 0 {
		cfg.MaxParkedCommissions = defaultMaxParkedCommissions
	}
	return &Registry{
		cfg:       cfg,
		trades:    make(map[model.OrderKey]*Trade),
		byPerm:    make(map[int64]*Trade),
		execs:     make(map[string]*Trade),
		parked:    make(map[string]model.CommissionReport),
		positions: make(map[string]model.Position),
	}
}

// Lookup finds the trade of an order key, falling back to the perm id.
func (r *Registry) Lookup(key model.OrderKey, permID int64) (*Trade, bool) {
	if t, ok := r.trades[key]; ok {
		return t, true
	}
	if permID != 0 {
		if t, ok := r.byPerm[permID]; ok {
			return t, true
		}
	}
	return nil, false
}

// TradeOf returns the trade of a submitted order.
func (r *Registry) TradeOf(order *model.Order) (*Trade, bool) {
	if order == nil {
		return nil, false
	}
	return r.Lookup(order.Key(), order.PermID)
}

// Submit registers an order. A second submit of an order already known is
// the modify path: the same Trade is returned with a "Modify" log entry.
func (r *Registry) Submit(contract model.Contract, order *model.Order) (*Trade, bool, error) {
	if order == nil {
		return nil, false, exception.ErrNilInstance
	}
	if order.OrderID <= 0 {
		return nil, false, errors.Wrap(exception.ErrInvalidArgument, "submit order without order id")
	}

	if t, ok := r.Lookup(order.Key(), order.PermID); ok {
		if t.IsDone() {
			return t, false, errors.Wrapf(exception.ErrTradeDone, "modify order %s", t.Key())
		}
		t.contract = contract
		t.order = order
		t.appendLog(model.TradeLogEntry{
			Time:    r.cfg.Clock(),
			Status:  t.status.Status,
			Message: "Modify",
		})
		return t, true, nil
	}

	t := &Trade{
		contract: contract,
		order:    order,
		status: model.OrderStatus{
			OrderID:   order.OrderID,
			ClientID:  order.ClientID,
			PermID:    order.PermID,
			Status:    enum.OrderStatusPendingSubmit,
			Remaining: order.TotalQuantity,
		},
	}
	t.appendLog(model.TradeLogEntry{Time: r.cfg.Clock(), Status: enum.OrderStatusPendingSubmit})
	r.register(t)
	return t, false, nil
}

// ApplyStatus replaces the broker status of a trade. A log entry is appended
// only when (status, message) differs from the tail of the log, so replaying
// the same event is a no-op.
func (r *Registry) ApplyStatus(status model.OrderStatus, message string) (*Trade, Change, error) {
	var change Change
	if !status.Status.IsAvailable() {
		return nil, change, errors.Wrapf(exception.ErrInvalidArgument, "status of order %s", status.Key())
	}

	t, ok := r.Lookup(status.Key(), status.PermID)
	if !ok {
		if !r.IsForeign(status.ClientID, status.OrderID) {
			return nil, change, errors.Wrapf(exception.ErrUnknownOrder, "status %s for order %s", status.Status, status.Key())
		}
		t = r.admit(model.Contract{}, &model.Order{
			OrderID:  status.OrderID,
			ClientID: status.ClientID,
			PermID:   status.PermID,
		})
		change.Admitted = true
	}

	if t.IsDone() && status.Status != t.status.Status {
		return t, change, errors.Wrapf(exception.ErrInvalidTransition, "order %s from %s to %s", t.Key(), t.status.Status, status.Status)
	}

	r.replaceStatus(t, status, &change)
	r.logStatus(t, status.Status, message, 0, &change)
	return t, change, nil
}

// ApplyOpenOrder reconciles a full order description from the broker. Unknown
// orders are admitted, since the event carries everything a Trade needs. The
// log only grows when the status moves.
func (r *Registry) ApplyOpenOrder(contract model.Contract, order model.Order, state model.OrderStateEstimate) (*Trade, Change, error) {
	var change Change
	key := model.KeyOf(order.ClientID, order.OrderID, order.PermID)

	t, ok := r.Lookup(key, order.PermID)
	if !ok {
		cp := order
		t = r.admit(contract, &cp)
		change.Admitted = true
	} else {
		if t.contract.IsZero() || (!t.contract.IsResolved() && contract.IsResolved()) {
			t.contract = contract
		}
		if t.adopted {
			r.adoptOrder(t, order)
		}
	}
	if order.PermID != 0 {
		r.byPerm[order.PermID] = t
	}

	if !state.Status.IsAvailable() {
		return t, change, nil
	}
	if t.IsDone() && state.Status != t.status.Status {
		return t, change, errors.Wrapf(exception.ErrInvalidTransition, "order %s from %s to %s", t.Key(), t.status.Status, state.Status)
	}
	prev := t.status.Status
	next := t.status
	next.Status = state.Status
	if next.PermID == 0 {
		next.PermID = order.PermID
	}
	if t.adopted && order.TotalQuantity.IsPositive() {
		next.Remaining = order.TotalQuantity.Sub(t.Filled())
		if next.Remaining.IsNegative() {
			next.Remaining = decimal.Zero
		}
	}
	r.replaceStatus(t, next, &change)
	if change.Admitted || prev != state.Status {
		r.logStatus(t, state.Status, "", 0, &change)
	}
	return t, change, nil
}

// ApplyError attaches a broker error to the log of a live order, at the
// status the order already has. The status only moves on broker status
// events. Done trades are left untouched.
func (r *Registry) ApplyError(key model.OrderKey, code int, message string) (*Trade, Change, error) {
	var change Change
	t, ok := r.Lookup(key, 0)
	if !ok {
		return nil, change, errors.Wrapf(exception.ErrUnknownOrder, "error %d for order %s", code, key)
	}
	if t.IsDone() {
		return t, change, nil
	}
	r.logStatus(t, t.status.Status, fmt.Sprintf("Error %d: %s", code, message), code, &change)
	return t, change, nil
}

// ApplyFill appends an execution to its trade. Executions are deduplicated
// by exec id and may never push the filled quantity above the order quantity.
func (r *Registry) ApplyFill(contract model.Contract, exec model.Execution) (*Trade, model.Fill, Change, error) {
	var change Change
	if exec.ExecID == "" {
		return nil, model.Fill{}, change, errors.Wrap(exception.ErrInvalidArgument, "execution without exec id")
	}
	if !exec.Shares.IsPositive() {
		return nil, model.Fill{}, change, errors.Wrapf(exception.ErrInvalidFill, "exec %s shares %s", exec.ExecID, exec.Shares)
	}
	if t, ok := r.execs[exec.ExecID]; ok {
		return t, t.fills[t.fillIndex(exec.ExecID)], change, errors.Wrapf(exception.ErrDuplicateFill, "exec %s", exec.ExecID)
	}

	t, ok := r.Lookup(exec.Key(), exec.PermID)
	if !ok {
		if !r.IsForeign(exec.ClientID, exec.OrderID) {
			return nil, model.Fill{}, change, errors.Wrapf(exception.ErrUnknownOrder, "exec %s for order %s", exec.ExecID, exec.Key())
		}
		t = r.admit(contract, &model.Order{
			OrderID:  exec.OrderID,
			ClientID: exec.ClientID,
			PermID:   exec.PermID,
			Action:   exec.Side,
		})
		change.Admitted = true
	}

	filled := t.Filled().Add(exec.Shares)
	total := t.order.TotalQuantity
	if total.IsPositive() && filled.GreaterThan(total) {
		return t, model.Fill{}, change, errors.Wrapf(exception.ErrOverfill, "exec %s brings order %s to %s of %s", exec.ExecID, t.Key(), filled, total)
	}

	if contract.IsZero() {
		contract = t.contract
	}
	at := exec.Time
	if at.IsZero() {
		at = r.cfg.Clock()
	}
	fill := model.Fill{Contract: contract, Execution: exec, Time: at}
	if report, ok := r.parked[exec.ExecID]; ok {
		cp := report
		fill.Commission = &cp
		r.unpark(exec.ExecID)
	}
	t.fills = append(t.fills, fill)
	r.execs[exec.ExecID] = t

	if filled.GreaterThan(t.status.Filled) {
		next := t.status
		next.Filled = filled
		if total.IsPositive() {
			next.Remaining = total.Sub(filled)
		}
		next.LastFillPrice = exec.Price
		if exec.AvgPrice.IsPositive() && exec.CumQty.Equal(filled) {
			next.AvgFillPrice = exec.AvgPrice
		} else {
			next.AvgFillPrice = vwap(t.fills)
		}
		r.replaceStatus(t, next, &change)
	}

	change.Entry = t.appendLog(model.TradeLogEntry{
		Time:    at,
		Status:  t.status.Status,
		Message: fmt.Sprintf("Fill %s@%s", exec.Shares, exec.Price),
	})
	change.Logged = true
	return t, fill, change, nil
}

// ApplyCommission joins a commission report to its fill. A report that
// arrives before its fill is parked until the fill shows up.
func (r *Registry) ApplyCommission(report model.CommissionReport) (*Trade, model.Fill, bool) {
	t, ok := r.execs[report.ExecID]
	if !ok {
		r.park(report)
		return nil, model.Fill{}, false
	}
	idx := t.fillIndex(report.ExecID)
	if t.fills[idx].Commission != nil {
		return t, t.fills[idx], false
	}
	cp := report
	t.fills[idx].Commission = &cp
	return t, t.fills[idx], true
}

// FillOf returns the fill of an execution id, with its commission once joined.
func (r *Registry) FillOf(execID string) (model.Fill, bool) {
	t, ok := r.execs[execID]
	if !ok {
		return model.Fill{}, false
	}
	return t.fills[t.fillIndex(execID)], true
}

// ParkedCommissions returns the reports still waiting for their fill.
func (r *Registry) ParkedCommissions() []model.CommissionReport {
	out := make([]model.CommissionReport, 0, len(r.parkedOrder))
	for _, id := range r.parkedOrder {
		out = append(out, r.parked[id])
	}
	return out
}

// ApplyPosition replaces the position of an account in a contract. A zero
// quantity removes it. The bool reports whether the stored value changed.
func (r *Registry) ApplyPosition(p model.Position) bool {
	key := p.Key()
	prev, ok := r.positions[key]
	if p.Quantity.IsZero() {
		if !ok {
			return false
		}
		delete(r.positions, key)
		return true
	}
	if ok && prev.Quantity.Equal(p.Quantity) && prev.AvgCost.Equal(p.AvgCost) {
		return false
	}
	r.positions[key] = p
	return true
}

// IsForeign reports whether an order was placed outside this session.
func (r *Registry) IsForeign(clientID, orderID int64) bool {
	return orderID <= 0 || clientID != r.cfg.ClientID
}

// Trades returns every trade of the session in submission order.
func (r *Registry) Trades() []*Trade {
	out := make([]*Trade, len(r.order))
	copy(out, r.order)
	return out
}

// OpenTrades returns the trades that are not done.
func (r *Registry) OpenTrades() []*Trade {
	out := make([]*Trade, 0, len(r.order))
	for _, t := range r.order {
		if !t.IsDone() {
			out = append(out, t)
		}
	}
	return out
}

// Orders returns the orders of every trade.
func (r *Registry) Orders() []*model.Order {
	out := make([]*model.Order, 0, len(r.order))
	for _, t := range r.order {
		out = append(out, t.order)
	}
	return out
}

// OpenOrders returns the orders of the trades that are not done.
func (r *Registry) OpenOrders() []*model.Order {
	out := make([]*model.Order, 0, len(r.order))
	for _, t := range r.order {
		if !t.IsDone() {
			out = append(out, t.order)
		}
	}
	return out
}

// Fills returns every fill of the session, grouped by trade.
func (r *Registry) Fills() []model.Fill {
	out := make([]model.Fill, 0, len(r.execs))
	for _, t := range r.order {
		out = append(out, t.fills...)
	}
	return out
}

// Positions returns the positions ordered by account then contract.
func (r *Registry) Positions() []model.Position {
	out := make([]model.Position, 0, len(r.positions))
	for _, p := range r.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Account != out[j].Account {
			return out[i].Account < out[j].Account
		}
		return out[i].Contract.Key() < out[j].Contract.Key()
	})
	return out
}

// NetPosition sums the quantity held in a contract across accounts.
func (r *Registry) NetPosition(contract model.Contract) decimal.Decimal {
	sum := decimal.Zero
	key := contract.Key()
	for _, p := range r.positions {
		if p.Contract.Key() == key {
			sum = sum.Add(p.Quantity)
		}
	}
	return sum
}

func (r *Registry) register(t *Trade) {
	r.trades[t.Key()] = t
	if t.order.PermID != 0 {
		r.byPerm[t.order.PermID] = t
	}
	r.order = append(r.order, t)
}

func (r *Registry) admit(contract model.Contract, order *model.Order) *Trade {
	t := &Trade{
		contract: contract,
		order:    order,
		status: model.OrderStatus{
			OrderID:  order.OrderID,
			ClientID: order.ClientID,
			PermID:   order.PermID,
		},
	}
	t.adopted = true
	r.register(t)
	logs.Infof("og: admitted foreign order %s", t.Key())
	return t
}

// adoptOrder copies the broker's description into an order the registry
// allocated. The identifying fields stay, so the registry key never moves.
func (r *Registry) adoptOrder(t *Trade, order model.Order) {
	cur := t.order
	next := order
	next.OrderID = cur.OrderID
	next.ClientID = cur.ClientID
	next.PermID = cur.PermID
	if next.PermID == 0 {
		next.PermID = order.PermID
	}
	next.WhatIf = false
	*t.order = next
}

func (r *Registry) replaceStatus(t *Trade, next model.OrderStatus, change *Change) {
	if next.PermID != 0 {
		r.byPerm[next.PermID] = t
	}
	if !t.status.Same(next) {
		change.StatusChanged = true
	}
	t.status = next
}

func (r *Registry) logStatus(t *Trade, status enum.OrderStatus, message string, code int, change *Change) {
	if tail, ok := t.LastLog(); ok && tail.Status == status && tail.Message == message {
		return
	}
	change.Entry = t.appendLog(model.TradeLogEntry{
		Time:      r.cfg.Clock(),
		Status:    status,
		Message:   message,
		ErrorCode: code,
	})
	change.Logged = true
}

func (r *Registry) park(report model.CommissionReport) {
	if _, ok := r.parked[report.ExecID]; ok {
		return
	}
	if len(r.parkedOrder) >= r.cfg.MaxParkedCommissions {
		oldest := r.parkedOrder[0]
		logs.Errorf("og: drop commission report of exec %s, no fill arrived", oldest)
		r.unpark(oldest)
	}
	r.parked[report.ExecID] = report
	r.parkedOrder = append(r.parkedOrder, report.ExecID)
}

func (r *Registry) unpark(execID string) {
	delete(r.parked, execID)
	for i, id := range r.parkedOrder {
		if id == execID {
			r.parkedOrder = append(r.parkedOrder[:i], r.parkedOrder[i+1:]...)
			return
		}
	}
}

func vwap(fills []model.Fill) decimal.Decimal {
	qty := decimal.Zero
	notional := decimal.Zero
	for _, f := range fills {
		qty = qty.Add(f.Execution.Shares)
		notional = notional.Add(f.Execution.Shares.Mul(f.Execution.Price))
	}
	if qty.IsZero() {
		return decimal.Zero
	}
	return notional.Div(qty)
}
