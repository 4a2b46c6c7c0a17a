package session

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"tradecore/internal/bus"
	"tradecore/internal/correlator"
	"tradecore/internal/events"
	"tradecore/internal/model"
	"tradecore/internal/model/enum"
	"tradecore/internal/og"
	"tradecore/internal/risk"
	"tradecore/pkg/exception"
)

// PlaceOrder submits a new order, or modifies it when the order was placed
// before. A new order gets the next order id and the session client id. The
// returned Trade is live: the loop updates it as broker events arrive.
func (s *Session) PlaceOrder(ctx context.Context, contract model.Contract, order *model.Order) (*og.Trade, error) {
	if order == nil {
		return nil, exception.ErrNilInstance
	}
	if err := order.Validate(); err != nil {
		return nil, err
	}
	if !s.IsConnected() {
		return nil, exception.ErrNotConnected
	}
	if t, ok := s.trades.TradeOf(order); ok && t.IsDone() {
		return t, errors.Wrapf(exception.ErrTradeDone, "modify order %s", t.Key())
	}
	if err := s.checkRisk(contract, order); err != nil {
		return nil, err
	}

	if order.OrderID <= 0 {
		order.OrderID = s.ids.Next()
		order.ClientID = s.cfg.ClientID
	}
	if order.Account == "" {
		order.Account = s.cfg.Account
	}
	order.WhatIf = false

	if err := s.transport.Send(ctx, model.PlaceOrderRequest{Contract: contract, Order: *order}); err != nil {
		return nil, errors.Wrapf(err, "place order %d", order.OrderID)
	}
	trade, modified, err := s.trades.Submit(contract, order)
	if err != nil {
		return trade, err
	}

	if modified {
		bus.Publish(s.bus, events.OrderModified, trade)
	} else {
		bus.Publish(s.bus, events.NewOrder, trade)
	}
	if entry, ok := trade.LastLog(); ok {
		bus.Publish(s.bus, events.TradeLogUpdated, events.TradeLog{Trade: trade, Entry: entry})
	}
	return trade, nil
}

// CancelOrder asks the broker to cancel an order. The trade only changes when
// the broker confirms.
func (s *Session) CancelOrder(ctx context.Context, order *model.Order) (*og.Trade, error) {
	if order == nil {
		return nil, exception.ErrNilInstance
	}
	trade, ok := s.trades.TradeOf(order)
	if !ok {
		return nil, errors.Wrapf(exception.ErrUnknownOrder, "cancel order %s", order.Key())
	}
	if trade.IsDone() {
		return trade, errors.Wrapf(exception.ErrTradeDone, "cancel order %s", trade.Key())
	}
	if !s.IsConnected() {
		return trade, exception.ErrNotConnected
	}
	if err := s.transport.Send(ctx, model.CancelOrderRequest{OrderID: order.OrderID}); err != nil {
		return trade, errors.Wrapf(err, "cancel order %d", order.OrderID)
	}
	bus.Publish(s.bus, events.CancelRequested, trade)
	return trade, nil
}

// ReqGlobalCancel asks the broker to cancel every working order of the
// account, including those placed by other clients. Trades only change as
// the broker confirms each cancel.
func (s *Session) ReqGlobalCancel(ctx context.Context) error {
	if !s.IsConnected() {
		return exception.ErrNotConnected
	}
	if err := s.transport.Send(ctx, model.GlobalCancelRequest{}); err != nil {
		return errors.Wrap(err, "global cancel")
	}
	logs.Infof("session: global cancel requested, %d trades open", len(s.trades.OpenTrades()))
	return nil
}

// BracketOrder builds a limit entry with a take-profit and a stop-loss, ids
// already assigned. Place each of b.Orders() in turn.
func (s *Session) BracketOrder(action enum.Action, qty, limit, takeProfit, stopLoss decimal.Decimal) model.Bracket {
	b := model.NewBracket(action, qty, limit, takeProfit, stopLoss)
	b.Link(s.cfg.ClientID, s.ids.Next)
	return b
}

// WhatIfOrder previews the margin and commission impact of an order. The
// order is copied; neither it nor the registry is touched.
func (s *Session) WhatIfOrder(ctx context.Context, contract model.Contract, order *model.Order) (model.OrderStateEstimate, error) {
	if order == nil {
		return model.OrderStateEstimate{}, exception.ErrNilInstance
	}
	if err := order.Validate(); err != nil {
		return model.OrderStateEstimate{}, err
	}
	if !s.IsConnected() {
		return model.OrderStateEstimate{}, exception.ErrNotConnected
	}

	preview := order.Clone()
	preview.WhatIf = true
	preview.ClientID = s.cfg.ClientID
	preview.PermID = 0
	if preview.Account == "" {
		preview.Account = s.cfg.Account
	}
	f, err := s.requests.Send(ctx, enum.RequestWhatIf, "", s.cfg.RequestTimeout, func(id int64) model.Request {
		preview.OrderID = id
		return model.PlaceOrderRequest{Contract: contract, Order: *preview}
	})
	if err != nil {
		return model.OrderStateEstimate{}, err
	}
	if err := s.await(ctx, f); err != nil {
		return model.OrderStateEstimate{}, err
	}
	return correlator.Value[model.OrderStateEstimate](f)
}

// KillSwitch blocks every later order until switched off. It is a no-op
// without a risk guard.
func (s *Session) KillSwitch(on bool) {
	if s.risk == nil {
		return
	}
	s.risk.SetKillSwitch(on)
	logs.Infof("session: kill switch %t", on)
}

func (s *Session) checkRisk(contract model.Contract, order *model.Order) error {
	if s.risk == nil {
		return nil
	}
	view := risk.StateView{
		Position: s.trades.NetPosition(contract),
		Now:      s.clock(),
	}
	if t, ok := s.tickers.Ticker(contract); ok {
		view.ReferencePrice = t.MarketPrice()
	}
	d := s.risk.Evaluate(order, view)
	s.metrics.IncRiskReason(d.Reason)
	if d.Allowed {
		return nil
	}
	logs.Errorf("session: risk rejected %s %s %s, reason: %s", order.Action, order.TotalQuantity, contract, d.Reason)
	return errors.Wrapf(exception.ErrRiskRejected, "%s", d.Reason)
}
