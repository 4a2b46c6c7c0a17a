// Package sim is an in-memory broker that answers requests with the events a
// real broker would push.
package sim

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"tradecore/internal/chaos"
	"tradecore/internal/mdg"
	"tradecore/internal/model"
	"tradecore/internal/model/enum"
	"tradecore/pkg/exception"
)

const (
	defaultBuffer       = 4096
	defaultAccount      = "DU000001"
	historicalChunkSize = 500
)

var (
	commissionPerUnit = decimal.RequireFromString("0.0001")
	minCommission     = decimal.NewFromInt(1)
	marginRate        = decimal.RequireFromString("0.25")
)

// Config controls the simulated broker.
type Config struct {
	NextValidID int64
	Account     string
	// Auto answers every request. Without it the broker only records requests
	// and delivers what the test pushes.
	Auto   bool
	Buffer int
	Chaos  *chaos.Engine
	Quotes mdg.Config
	Clock  func() time.Time
}

type simOrder struct {
	contract model.Contract
	order    model.Order
	status   enum.OrderStatus
	filled   decimal.Decimal
	notional decimal.Decimal
}

type simExec struct {
	contract   model.Contract
	exec       model.Execution
	commission model.CommissionReport
}

type simStream struct {
	contract model.Contract
	kind     enum.TickByTickKind
}

// Broker is a Transport backed by memory. It is safe for concurrent use.
type Broker struct {
	cfg Config
	gen *mdg.Generator

	mu        sync.Mutex
	events    chan model.Event
	connected bool
	closed    bool
	sent      []model.Request
	dropped   int

	orders    map[int64]*simOrder
	positions map[string]model.Position
	quotes    map[int64]model.Contract
	streams   map[int64]simStream
	execs     []simExec
	nextPerm  int64
	nextExec  int64
}

// New creates a simulated broker.
func New(cfg Config) *Broker {
	if cfg.NextValidID <= 0 {
		cfg.NextValidID = 1
	}
	if cfg.Account == "" {
		cfg.Account = defaultAccount
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultBuffer
	}
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &Broker{
		cfg:       cfg,
		gen:       mdg.NewGenerator(cfg.Quotes),
		events:    make(chan model.Event, cfg.Buffer),
		orders:    make(map[int64]*simOrder),
		positions: make(map[string]model.Position),
		quotes:    make(map[int64]model.Contract),
		streams:   make(map[int64]simStream),
		nextPerm:  1_000_000,
	}
}

// Connect opens the session and announces the next valid order id.
func (b *Broker) Connect(_ context.Context, endpoint string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.Wrap(exception.ErrConnectionLost, "simulated broker already disconnected")
	}
	if b.connected {
		return nil
	}
	b.connected = true
	logs.Infof("sim: connected to %s", endpoint)
	b.emit(model.NextValidIDEvent{OrderID: b.cfg.NextValidID})
	return nil
}

// Send records a request and, in auto mode, answers it.
func (b *Broker) Send(_ context.Context, req model.Request) error {
	if req == nil {
		return exception.ErrNilInstance
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.connected {
		return exception.ErrNotConnected
	}
	b.sent = append(b.sent, req)
	if b.cfg.Auto {
		b.respond(req)
	}
	return nil
}

func (b *Broker) Events() <-chan model.Event {
	return b.events
}

// Disconnect closes the event stream. It is idempotent.
func (b *Broker) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.deliver(b.cfg.Chaos.Flush())
	b.closed = true
	b.connected = false
	close(b.events)
	return nil
}

// Push delivers events as if the broker had sent them.
func (b *Broker) Push(evs ...model.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ev := range evs {
		b.emit(ev)
	}
}

// Sent returns the requests received so far.
func (b *Broker) Sent() []model.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.Request, len(b.sent))
	copy(out, b.sent)
	return out
}

// Dropped is the number of events lost to a full buffer.
func (b *Broker) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// SetPosition seeds a position reported by the positions request.
func (b *Broker) SetPosition(p model.Position) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p.Account == "" {
		p.Account = b.cfg.Account
	}
	b.positions[p.Key()] = p
}

// SeedExecution records an execution made before the session connected. It
// is only reported through the executions request.
func (b *Broker) SeedExecution(contract model.Contract, exec model.Execution, commission model.CommissionReport) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if exec.Account == "" {
		exec.Account = b.cfg.Account
	}
	commission.ExecID = exec.ExecID
	b.execs = append(b.execs, simExec{contract: contract, exec: exec, commission: commission})
}

// Fill executes qty of a working order at price.
func (b *Broker) Fill(orderID int64, qty, price decimal.Decimal) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[orderID]
	if !ok || o.status.IsDone() {
		return errors.Wrapf(exception.ErrUnknownOrder, "sim order %d", orderID)
	}
	if o.filled.Add(qty).GreaterThan(o.order.TotalQuantity) {
		return errors.Wrapf(exception.ErrOverfill, "sim order %d", orderID)
	}
	b.fill(o, qty, price)
	return nil
}

// Tick pushes one synthetic quote to every market data subscription and one
// record to every tick-by-tick stream. It returns the number of requests served.
func (b *Broker) Tick() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.cfg.Clock()
	for _, reqID := range sortedIDs(b.quotes) {
		b.quote(reqID, now)
	}
	ids := sortedIDs(b.streams)
	for _, reqID := range ids {
		b.emit(model.TickByTickEvent{ReqID: reqID, Tick: b.gen.NextTickByTick(b.streams[reqID].kind, now)})
	}
	return len(b.quotes) + len(ids)
}

// Run calls Tick every interval until ctx is done or the broker disconnects.
func (b *Broker) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			b.mu.Lock()
			closed := b.closed
			b.mu.Unlock()
			if closed {
				return
			}
			b.Tick()
		}
	}
}

func (b *Broker) respond(req model.Request) {
	now := b.cfg.Clock()
	switch r := req.(type) {
	case model.PlaceOrderRequest:
		b.placeOrder(r)
	case model.CancelOrderRequest:
		b.cancelOrder(r.OrderID)
	case model.MarketDataRequest:
		b.quotes[r.ReqID] = r.Contract
		b.quote(r.ReqID, now)
	case model.CancelMarketDataRequest:
		delete(b.quotes, r.ReqID)
	case model.TickByTickRequest:
		b.streams[r.ReqID] = simStream{contract: r.Contract, kind: r.Kind}
	case model.CancelTickByTickRequest:
		delete(b.streams, r.ReqID)
	case model.HistoricalTicksRequest:
		b.historical(r)
	case model.ContractDetailsRequest:
		b.contractDetails(r)
	case model.CurrentTimeRequest:
		b.emit(model.CurrentTimeEvent{Time: now})
	case model.PositionsRequest:
		keys := make([]string, 0, len(b.positions))
		for k := range b.positions {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.emit(model.PositionEvent{Position: b.positions[k]})
		}
		b.emit(model.PositionEndEvent{})
	case model.OpenOrdersRequest:
		for _, id := range sortedIDs(b.orders) {
			o := b.orders[id]
			if o.status.IsDone() {
				continue
			}
			b.emit(model.OpenOrderEvent{Contract: o.contract, Order: o.order, State: model.OrderStateEstimate{Status: o.status}})
		}
		b.emit(model.OpenOrderEndEvent{})
	case model.ExecutionsRequest:
		for _, e := range b.execs {
			if !r.Filter.Match(e.contract, e.exec) {
				continue
			}
			b.emit(model.ExecDetailsEvent{ReqID: r.ReqID, Contract: e.contract, Execution: e.exec})
			b.emit(model.CommissionReportEvent{Report: e.commission})
		}
		b.emit(model.ExecDetailsEndEvent{ReqID: r.ReqID})
	case model.GlobalCancelRequest:
		for _, id := range sortedIDs(b.orders) {
			if !b.orders[id].status.IsDone() {
				b.cancelOrder(id)
			}
		}
	}
}

func (b *Broker) placeOrder(r model.PlaceOrderRequest) {
	id := r.Order.OrderID
	if r.Order.WhatIf {
		b.emit(model.OpenOrderEvent{Contract: r.Contract, Order: r.Order, State: b.estimate(r.Order)})
		return
	}

	if o, ok := b.orders[id]; ok {
		if o.status.IsDone() {
			b.emit(model.ErrorEvent{ReqID: id, Code: 104, Message: "Cannot modify a filled order."})
			return
		}
		r.Order.PermID = o.order.PermID
		o.order = r.Order
		b.emit(model.OpenOrderEvent{Contract: o.contract, Order: o.order, State: model.OrderStateEstimate{Status: o.status}})
		return
	}

	b.nextPerm++
	r.Order.PermID = b.nextPerm
	if r.Order.Account == "" {
		r.Order.Account = b.cfg.Account
	}
	o := &simOrder{contract: r.Contract, order: r.Order, status: enum.OrderStatusPreSubmitted}
	b.orders[id] = o
	b.emit(model.OpenOrderEvent{Contract: o.contract, Order: o.order, State: model.OrderStateEstimate{Status: o.status}})
	b.emit(b.statusOf(o, ""))
	o.status = enum.OrderStatusSubmitted
	b.emit(b.statusOf(o, ""))

	if r.Order.OrderType == enum.OrderTypeMarket {
		b.fill(o, r.Order.TotalQuantity, b.gen.Price())
	}
}

func (b *Broker) cancelOrder(id int64) {
	o, ok := b.orders[id]
	if !ok || o.status.IsDone() {
		b.emit(model.ErrorEvent{ReqID: id, Code: 10147, Message: fmt.Sprintf("OrderId %d that needs to be cancelled is not found.", id)})
		return
	}
	o.status = enum.OrderStatusPendingCancel
	b.emit(b.statusOf(o, ""))
	o.status = enum.OrderStatusCancelled
	b.emit(b.statusOf(o, ""))
}

func (b *Broker) fill(o *simOrder, qty, price decimal.Decimal) {
	b.nextExec++
	now := b.cfg.Clock()
	o.filled = o.filled.Add(qty)
	o.notional = o.notional.Add(qty.Mul(price))
	avg := o.notional.Div(o.filled)

	exec := model.Execution{
		ExecID:   fmt.Sprintf("%08x.%d.01", o.order.PermID, b.nextExec),
		Time:     now,
		Account:  o.order.Account,
		Exchange: o.contract.Exchange,
		Side:     o.order.Action,
		Shares:   qty,
		Price:    price,
		CumQty:   o.filled,
		AvgPrice: avg,
		OrderID:  o.order.OrderID,
		ClientID: o.order.ClientID,
		PermID:   o.order.PermID,
	}
	b.emit(model.ExecDetailsEvent{ReqID: -1, Contract: o.contract, Execution: exec})

	commission := qty.Mul(commissionPerUnit)
	if commission.LessThan(minCommission) {
		commission = minCommission
	}
	report := model.CommissionReport{
		ExecID:     exec.ExecID,
		Commission: commission,
		Currency:   o.contract.Currency,
	}
	b.execs = append(b.execs, simExec{contract: o.contract, exec: exec, commission: report})
	b.emit(model.CommissionReportEvent{Report: report})

	if o.filled.Equal(o.order.TotalQuantity) {
		o.status = enum.OrderStatusFilled
	}
	b.emit(b.statusOf(o, ""))
	b.emit(model.PositionEvent{Position: b.applyPosition(o, qty, price)})
}

func (b *Broker) applyPosition(o *simOrder, qty, price decimal.Decimal) model.Position {
	p := model.Position{Account: o.order.Account, Contract: o.contract}
	if prev, ok := b.positions[p.Key()]; ok {
		p = prev
	}
	signed := qty.Mul(decimal.NewFromInt(o.order.Action.Sign()))
	next := p.Quantity.Add(signed)
	switch {
	case next.IsZero():
		p.AvgCost = decimal.Zero
	case p.Quantity.IsZero() || p.Quantity.IsPositive() == signed.IsPositive():
		p.AvgCost = p.AvgCost.Mul(p.Quantity.Abs()).Add(price.Mul(qty)).Div(next.Abs())
	}
	p.Quantity = next
	b.positions[p.Key()] = p
	return p
}

func (b *Broker) statusOf(o *simOrder, message string) model.OrderStatusEvent {
	st := model.OrderStatus{
		OrderID:   o.order.OrderID,
		ClientID:  o.order.ClientID,
		PermID:    o.order.PermID,
		Status:    o.status,
		Filled:    o.filled,
		Remaining: o.order.TotalQuantity.Sub(o.filled),
	}
	if o.filled.IsPositive() {
		st.AvgFillPrice = o.notional.Div(o.filled)
	}
	return model.OrderStatusEvent{Status: st, Message: message}
}

func (b *Broker) estimate(order model.Order) model.OrderStateEstimate {
	price := order.LmtPrice
	if !price.IsPositive() {
		price = b.gen.Price()
	}
	notional := price.Mul(order.TotalQuantity)
	commission := order.TotalQuantity.Mul(commissionPerUnit)
	if commission.LessThan(minCommission) {
		commission = minCommission
	}
	return model.OrderStateEstimate{
		Status:            enum.OrderStatusPreSubmitted,
		InitMarginChange:  notional.Mul(marginRate),
		MaintMarginChange: notional.Mul(marginRate),
		Commission:        commission,
		MinCommission:     minCommission,
		MaxCommission:     commission,
	}
}

func (b *Broker) quote(reqID int64, now time.Time) {
	for _, u := range b.gen.Next(now) {
		b.emit(model.TickEvent{ReqID: reqID, Tick: u})
	}
}

func (b *Broker) historical(r model.HistoricalTicksRequest) {
	end := r.End
	if end.IsZero() {
		end = r.Start.Add(time.Duration(r.Count-1) * time.Second)
	}
	ticks := b.gen.Historical(r.Kind, end, r.Count)
	for len(ticks) > historicalChunkSize {
		b.emit(model.HistoricalTicksEvent{ReqID: r.ReqID, Ticks: ticks[:historicalChunkSize]})
		ticks = ticks[historicalChunkSize:]
	}
	b.emit(model.HistoricalTicksEvent{ReqID: r.ReqID, Ticks: ticks, Done: true})
}

func (b *Broker) contractDetails(r model.ContractDetailsRequest) {
	if r.Contract.Symbol == "" && r.Contract.ConID == 0 {
		b.emit(model.ErrorEvent{ReqID: r.ReqID, Code: 200, Message: "No security definition has been found for the request"})
		return
	}
	c := r.Contract
	if c.ConID == 0 {
		h := fnv.New32a()
		_, _ = h.Write([]byte(c.Key()))
		c.ConID = int64(h.Sum32())
	}
	if c.Exchange == "" {
		c.Exchange = "SMART"
	}
	b.emit(model.ContractDetailsEvent{ReqID: r.ReqID, Contract: c})
	b.emit(model.ContractDetailsEndEvent{ReqID: r.ReqID})
}

// emit runs an event through the chaos engine and delivers the result. The
// caller holds b.mu.
func (b *Broker) emit(ev model.Event) {
	b.deliver(b.cfg.Chaos.Process(ev))
}

func (b *Broker) deliver(evs []model.Event) {
	if b.closed {
		return
	}
	for _, ev := range evs {
		select {
		case b.events <- ev:
		default:
			b.dropped++
			logs.Errorf("sim: event buffer full, drop %s", ev.EventKind())
		}
	}
}

func sortedIDs[V any](m map[int64]V) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
