package dispatch

import (
	stderrors "errors"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"tradecore/internal/bus"
	"tradecore/internal/correlator"
	"tradecore/internal/events"
	"tradecore/internal/model"
	"tradecore/internal/model/enum"
	"tradecore/internal/obs"
	"tradecore/internal/og"
	"tradecore/internal/ticker"
	"tradecore/pkg/exception"
)

// Correlation keys for responses that carry no request id.
const (
	KeyCurrentTime = "time"
	KeyPositions   = "positions"
	KeyOpenOrders  = "openOrders"
)

// Config wires a Dispatcher to the state it updates.
type Config struct {
	ClientID   int64
	Bus        *bus.Bus
	Trades     *og.Registry
	Tickers    *ticker.Cache
	Requests   *correlator.Correlator
	Metrics    *obs.Metrics
	Tap        func(model.Event)
	OnValidID  func(orderID int64)
	OnConnLost func(reason string)
}

// Dispatcher routes each decoded inbound event to the registry, the ticker
// cache or the correlator and publishes the resulting bus events. It runs on
// the loop goroutine only.
type Dispatcher struct {
	cfg          Config
	disconnected bool
}

// New creates a dispatcher.
func New(cfg Config) *Dispatcher {
	if cfg.Bus == nil {
		cfg.Bus = bus.New()
	}
	return &Dispatcher{cfg: cfg}
}

// Disconnected reports whether a Disconnected event has been dispatched.
func (d *Dispatcher) Disconnected() bool {
	return d.disconnected
}

// Dispatch applies one event and reports whether any state changed. Once
// disconnected, every later event is ignored and state stays frozen.
func (d *Dispatcher) Dispatch(ev model.Event) (changed bool) {
	if ev == nil || d.disconnected {
		return false
	}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logs.Errorf("dispatch: %s handler panicked, err: %+v", ev.EventKind(), r)
			changed = false
		}
		d.cfg.Metrics.ObserveEvent(ev.EventKind(), time.Since(start))
	}()

	if d.cfg.Tap != nil {
		d.cfg.Tap(ev)
	}

	switch e := ev.(type) {
	case model.NextValidIDEvent:
		return d.onNextValidID(e)
	case model.OrderStatusEvent:
		return d.onOrderStatus(e)
	case model.OpenOrderEvent:
		return d.onOpenOrder(e)
	case model.OpenOrderEndEvent:
		return d.finish(enum.RequestOpenOrders, KeyOpenOrders)
	case model.ExecDetailsEvent:
		return d.onExecDetails(e)
	case model.ExecDetailsEndEvent:
		return d.cfg.Requests.Finish(e.ReqID)
	case model.CommissionReportEvent:
		return d.onCommission(e)
	case model.PositionEvent:
		return d.onPosition(e)
	case model.PositionEndEvent:
		return d.finish(enum.RequestPositions, KeyPositions)
	case model.TickEvent:
		return d.cfg.Tickers.ApplyTick(e.ReqID, e.Tick)
	case model.TickByTickEvent:
		return d.cfg.Tickers.ApplyTickByTick(e.ReqID, e.Tick)
	case model.HistoricalTicksEvent:
		return d.onHistoricalTicks(e)
	case model.ContractDetailsEvent:
		return d.cfg.Requests.Append(e.ReqID, e.Contract)
	case model.ContractDetailsEndEvent:
		return d.cfg.Requests.Finish(e.ReqID)
	case model.CurrentTimeEvent:
		return d.onCurrentTime(e)
	case model.ErrorEvent:
		return d.onError(e)
	case model.DecodeErrorEvent:
		d.cfg.Metrics.IncDecodeDrop()
		logs.Errorf("dispatch: drop undecodable message, err: %s", e.Reason)
		return false
	case model.DisconnectedEvent:
		return d.onDisconnected(e)
	default:
		logs.Errorf("dispatch: unsupported event %T", ev)
		return false
	}
}

func (d *Dispatcher) onNextValidID(e model.NextValidIDEvent) bool {
	if d.cfg.OnValidID != nil {
		d.cfg.OnValidID(e.OrderID)
	}
	return true
}

func (d *Dispatcher) onOrderStatus(e model.OrderStatusEvent) bool {
	if !e.Status.Status.IsAvailable() {
		d.cfg.Metrics.IncRejectedEvent()
		logs.Errorf("dispatch: order %s carries unknown status", e.Status.Key())
		return false
	}
	trade, change, err := d.cfg.Trades.ApplyStatus(e.Status, e.Message)
	if err != nil {
		d.reject(err, "status %s of order %s", e.Status.Status, e.Status.Key())
		return false
	}
	d.publishChange(trade, change)
	return change.StatusChanged || change.Logged || change.Admitted
}

func (d *Dispatcher) onOpenOrder(e model.OpenOrderEvent) bool {
	if e.Order.WhatIf {
		if !d.cfg.Requests.Resolve(e.Order.OrderID, e.State) {
			logs.Errorf("dispatch: what-if result for order %d without a pending request", e.Order.OrderID)
		}
		return true
	}

	trade, change, err := d.cfg.Trades.ApplyOpenOrder(e.Contract, e.Order, e.State)
	if err != nil {
		d.reject(err, "open order %d", e.Order.OrderID)
		return false
	}
	if change.Admitted {
		bus.Publish(d.cfg.Bus, events.OpenOrder, trade)
	}
	d.publishChange(trade, change)
	if f, ok := d.cfg.Requests.Lookup(enum.RequestOpenOrders, KeyOpenOrders); ok {
		d.cfg.Requests.Append(f.ID(), trade)
	}
	return true
}

// onExecDetails applies an execution. Replies to an executions request
// (ReqID > 0) are also collected for the request, and repeat executions the
// registry already holds are expected there.
func (d *Dispatcher) onExecDetails(e model.ExecDetailsEvent) bool {
	trade, fill, change, err := d.cfg.Trades.ApplyFill(e.Contract, e.Execution)
	if err != nil {
		if e.ReqID > 0 && stderrors.Is(err, exception.ErrDuplicateFill) {
			d.cfg.Requests.Append(e.ReqID, fill)
			return false
		}
		d.reject(err, "execution %s", e.Execution.ExecID)
		return false
	}
	if e.ReqID > 0 {
		d.cfg.Requests.Append(e.ReqID, fill)
	}
	if change.Admitted {
		bus.Publish(d.cfg.Bus, events.OpenOrder, trade)
	}
	bus.Publish(d.cfg.Bus, events.FillAdded, events.Fill{Trade: trade, Fill: fill})
	if change.StatusChanged {
		bus.Publish(d.cfg.Bus, events.OrderStatusChanged, trade)
	}
	if change.Logged {
		bus.Publish(d.cfg.Bus, events.TradeLogUpdated, events.TradeLog{Trade: trade, Entry: change.Entry})
	}
	if fill.Commission != nil {
		bus.Publish(d.cfg.Bus, events.CommissionReportReceived, events.Commission{Trade: trade, Fill: fill, Report: *fill.Commission})
	}
	return true
}

func (d *Dispatcher) onCommission(e model.CommissionReportEvent) bool {
	trade, fill, merged := d.cfg.Trades.ApplyCommission(e.Report)
	if trade == nil {
		d.cfg.Metrics.IncOrphanCommission()
		logs.Infof("dispatch: park commission report of exec %s until its fill arrives", e.Report.ExecID)
		return false
	}
	if !merged {
		return false
	}
	bus.Publish(d.cfg.Bus, events.CommissionReportReceived, events.Commission{Trade: trade, Fill: fill, Report: e.Report})
	return true
}

func (d *Dispatcher) onPosition(e model.PositionEvent) bool {
	changed := d.cfg.Trades.ApplyPosition(e.Position)
	if changed {
		bus.Publish(d.cfg.Bus, events.PositionChanged, e.Position)
	}
	if f, ok := d.cfg.Requests.Lookup(enum.RequestPositions, KeyPositions); ok {
		d.cfg.Requests.Append(f.ID(), e.Position)
	}
	return changed
}

func (d *Dispatcher) onHistoricalTicks(e model.HistoricalTicksEvent) bool {
	items := make([]any, 0, len(e.Ticks))
	for _, t := range e.Ticks {
		items = append(items, t)
	}
	ok := d.cfg.Requests.Append(e.ReqID, items...)
	if e.Done {
		ok = d.cfg.Requests.Finish(e.ReqID) || ok
	}
	if !ok {
		logs.Errorf("dispatch: historical ticks for unknown request %d", e.ReqID)
	}
	return ok
}

func (d *Dispatcher) onCurrentTime(e model.CurrentTimeEvent) bool {
	f, ok := d.cfg.Requests.Lookup(enum.RequestCurrentTime, KeyCurrentTime)
	if !ok {
		return false
	}
	return d.cfg.Requests.Resolve(f.ID(), e.Time)
}

func (d *Dispatcher) onError(e model.ErrorEvent) bool {
	if IsWarning(e.Code) {
		logs.Infof("dispatch: broker notice %d for %d: %s", e.Code, e.ReqID, e.Message)
		return false
	}

	if _, ok := d.cfg.Requests.Pending(e.ReqID); ok {
		err := errors.Wrapf(exception.ErrBrokerError, "request %d, error %d: %s", e.ReqID, e.Code, e.Message)
		d.cfg.Requests.Fail(e.ReqID, err)
		bus.Publish(d.cfg.Bus, events.Error, events.BrokerError{ReqID: e.ReqID, Code: e.Code, Message: e.Message})
		return true
	}

	var trade *og.Trade
	if e.ReqID > 0 && !d.cfg.Tickers.Owns(e.ReqID) {
		t, change, err := d.cfg.Trades.ApplyError(model.KeyOf(d.cfg.ClientID, e.ReqID, 0), e.Code, e.Message)
		if err == nil {
			trade = t
			d.publishChange(t, change)
		}
	}
	logs.Errorf("dispatch: broker error %d for %d: %s", e.Code, e.ReqID, e.Message)
	bus.Publish(d.cfg.Bus, events.Error, events.BrokerError{ReqID: e.ReqID, Code: e.Code, Message: e.Message, Trade: trade})
	return true
}

func (d *Dispatcher) onDisconnected(e model.DisconnectedEvent) bool {
	d.disconnected = true
	n := d.cfg.Requests.FailAll(errors.Wrap(exception.ErrConnectionLost, e.Reason))
	for _, r := range d.cfg.Trades.ParkedCommissions() {
		logs.Errorf("dispatch: commission report of exec %s never met its fill", r.ExecID)
	}
	logs.Infof("dispatch: disconnected (%s), failed %d pending requests", e.Reason, n)
	if d.cfg.OnConnLost != nil {
		d.cfg.OnConnLost(e.Reason)
	}
	bus.Publish(d.cfg.Bus, events.Disconnected, e.Reason)
	return true
}

func (d *Dispatcher) finish(kind enum.RequestKind, key string) bool {
	f, ok := d.cfg.Requests.Lookup(kind, key)
	if !ok {
		return false
	}
	return d.cfg.Requests.Finish(f.ID())
}

func (d *Dispatcher) publishChange(trade *og.Trade, change og.Change) {
	if change.StatusChanged {
		bus.Publish(d.cfg.Bus, events.OrderStatusChanged, trade)
	}
	if change.Logged {
		bus.Publish(d.cfg.Bus, events.TradeLogUpdated, events.TradeLog{Trade: trade, Entry: change.Entry})
	}
}

func (d *Dispatcher) reject(err error, format string, args ...any) {
	if stderrors.Is(err, exception.ErrUnknownOrder) {
		d.cfg.Metrics.IncUnknownOrder()
	} else {
		d.cfg.Metrics.IncRejectedEvent()
	}
	args = append(args, err)
	logs.Errorf("dispatch: drop "+format+", err: %+v", args...)
}

// IsWarning reports whether a broker error code is an informational notice
// that does not affect any request or order.
func IsWarning(code int) bool {
	switch {
	case code >= 2100 && code < 2200:
		return true
	case code == 399, code == 404, code == 10167:
		return true
	default:
		return false
	}
}
