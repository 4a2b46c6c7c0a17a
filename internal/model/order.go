package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"tradecore/internal/model/enum"
	"tradecore/pkg/exception"
)

// Order is the caller-authored request. The caller owns it: the core never
// mutates an Order from inbound events, it only assigns ids on first submit.
type Order struct {
	OrderID       int64            `json:"orderId"`
	ClientID      int64            `json:"clientId"`
	PermID        int64            `json:"permId,omitempty"`
	Action        enum.Action      `json:"action"`
	TotalQuantity decimal.Decimal  `json:"totalQuantity"`
	OrderType     enum.OrderType   `json:"orderType"`
	LmtPrice      decimal.Decimal  `json:"lmtPrice"`
	AuxPrice      decimal.Decimal  `json:"auxPrice"`
	TIF           enum.TimeInForce `json:"tif,omitempty"`
	Account       string           `json:"account,omitempty"`
	OrderRef      string           `json:"orderRef,omitempty"`
	ParentID      int64            `json:"parentId,omitempty"`
	// HoldTransmit keeps the order at the broker until a later order of the
	// same group transmits.
	HoldTransmit bool `json:"holdTransmit,omitempty"`
	WhatIf       bool `json:"whatIf,omitempty"`
}

// LimitOrder builds a DAY limit order.
func LimitOrder(action enum.Action, qty, price decimal.Decimal) *Order {
	return &Order{
		Action:        action,
		TotalQuantity: qty,
		OrderType:     enum.OrderTypeLimit,
		LmtPrice:      price,
		TIF:           enum.TimeInForceDay,
	}
}

// MarketOrder builds a DAY market order.
func MarketOrder(action enum.Action, qty decimal.Decimal) *Order {
	return &Order{
		Action:        action,
		TotalQuantity: qty,
		OrderType:     enum.OrderTypeMarket,
		TIF:           enum.TimeInForceDay,
	}
}

// StopOrder builds a DAY stop order.
func StopOrder(action enum.Action, qty, stop decimal.Decimal) *Order {
	return &Order{
		Action:        action,
		TotalQuantity: qty,
		OrderType:     enum.OrderTypeStop,
		AuxPrice:      stop,
		TIF:           enum.TimeInForceDay,
	}
}

// Clone returns a detached copy.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	cp := *o
	return &cp
}

// Key returns the registry key of the order.
func (o *Order) Key() OrderKey {
	return KeyOf(o.ClientID, o.OrderID, o.PermID)
}

// Validate checks the fields the broker would reject outright. Every error
// wraps exception.ErrInvalidArgument.
func (o *Order) Validate() error {
	if o == nil {
		return errors.Wrap(exception.ErrInvalidArgument, "order is nil")
	}
	if !o.Action.IsAvailable() {
		return errors.Wrap(exception.ErrInvalidArgument, "order action is unknown")
	}
	if !o.OrderType.IsAvailable() {
		return errors.Wrap(exception.ErrInvalidArgument, "order type is unknown")
	}
	if !o.TotalQuantity.IsPositive() {
		return errors.Wrapf(exception.ErrInvalidArgument, "order quantity %s must be > 0", o.TotalQuantity)
	}
	if o.OrderType.NeedsLimitPrice() && !o.LmtPrice.IsPositive() {
		return errors.Wrapf(exception.ErrInvalidArgument, "order limit price must be > 0 for %s orders", o.OrderType)
	}
	if o.OrderType.NeedsStopPrice() && !o.AuxPrice.IsPositive() {
		return errors.Wrapf(exception.ErrInvalidArgument, "order stop price must be > 0 for %s orders", o.OrderType)
	}
	return nil
}

// Bracket is an entry order with a take-profit and a stop-loss child. Place
// the three in order; only the stop-loss transmits, releasing the group.
type Bracket struct {
	Parent     *Order
	TakeProfit *Order
	StopLoss   *Order
}

// NewBracket builds a limit entry bracketed by a take-profit limit and a
// stop-loss stop on the opposite side. Ids are left to the caller, see
// Bracket.Link.
func NewBracket(action enum.Action, qty, limit, takeProfit, stopLoss decimal.Decimal) Bracket {
	parent := LimitOrder(action, qty, limit)
	parent.HoldTransmit = true
	profit := LimitOrder(action.Opposite(), qty, takeProfit)
	profit.HoldTransmit = true
	loss := StopOrder(action.Opposite(), qty, stopLoss)
	return Bracket{Parent: parent, TakeProfit: profit, StopLoss: loss}
}

// Orders returns the orders in placement order.
func (b Bracket) Orders() []*Order {
	return []*Order{b.Parent, b.TakeProfit, b.StopLoss}
}

// Link assigns consecutive order ids from next and points the children at
// the parent.
func (b Bracket) Link(clientID int64, next func() int64) {
	for _, o := range b.Orders() {
		o.OrderID = next()
		o.ClientID = clientID
	}
	b.TakeProfit.ParentID = b.Parent.OrderID
	b.StopLoss.ParentID = b.Parent.OrderID
}

// OrderKey identifies a Trade within a session.
//
// Orders placed through the API are keyed by (client id, order id). Orders
// entered manually at the broker have no order id and are keyed by perm id.
type OrderKey struct {
	ClientID int64
	OrderID  int64
	PermID   int64
}

// KeyOf normalizes the identifying triple of an order.
func KeyOf(clientID, orderID, permID int64) OrderKey {
	if orderID <= 0 {
		return OrderKey{PermID: permID}
	}
	return OrderKey{ClientID: clientID, OrderID: orderID}
}

func (k OrderKey) String() string {
	if k.OrderID <= 0 {
		return fmt.Sprintf("perm:%d", k.PermID)
	}
	return fmt.Sprintf("%d/%d", k.ClientID, k.OrderID)
}

// OrderStatus is the broker-owned progress snapshot of an order.
type OrderStatus struct {
	OrderID       int64            `json:"orderId"`
	ClientID      int64            `json:"clientId"`
	PermID        int64            `json:"permId,omitempty"`
	ParentID      int64            `json:"parentId,omitempty"`
	Status        enum.OrderStatus `json:"status"`
	Filled        decimal.Decimal  `json:"filled"`
	Remaining     decimal.Decimal  `json:"remaining"`
	AvgFillPrice  decimal.Decimal  `json:"avgFillPrice"`
	LastFillPrice decimal.Decimal  `json:"lastFillPrice"`
	WhyHeld       string           `json:"whyHeld,omitempty"`
	MktCapPrice   decimal.Decimal  `json:"mktCapPrice"`
}

// Key returns the registry key the status applies to.
func (s OrderStatus) Key() OrderKey {
	return KeyOf(s.ClientID, s.OrderID, s.PermID)
}

// Same reports whether two snapshots carry identical observable values.
func (s OrderStatus) Same(other OrderStatus) bool {
	return s.Status == other.Status &&
		s.PermID == other.PermID &&
		s.ParentID == other.ParentID &&
		s.WhyHeld == other.WhyHeld &&
		s.Filled.Equal(other.Filled) &&
		s.Remaining.Equal(other.Remaining) &&
		s.AvgFillPrice.Equal(other.AvgFillPrice) &&
		s.LastFillPrice.Equal(other.LastFillPrice) &&
		s.MktCapPrice.Equal(other.MktCapPrice)
}

// OrderStateEstimate is the margin and commission preview of a what-if order.
type OrderStateEstimate struct {
	Status               enum.OrderStatus `json:"status"`
	InitMarginChange     decimal.Decimal  `json:"initMarginChange"`
	MaintMarginChange    decimal.Decimal  `json:"maintMarginChange"`
	EquityWithLoanChange decimal.Decimal  `json:"equityWithLoanChange"`
	InitMarginAfter      decimal.Decimal  `json:"initMarginAfter"`
	MaintMarginAfter     decimal.Decimal  `json:"maintMarginAfter"`
	Commission           decimal.Decimal  `json:"commission"`
	MinCommission        decimal.Decimal  `json:"minCommission"`
	MaxCommission        decimal.Decimal  `json:"maxCommission"`
	CommissionCurrency   string           `json:"commissionCurrency,omitempty"`
	WarningText          string           `json:"warningText,omitempty"`
}

// TradeLogEntry is one append-only line of a Trade's history.
type TradeLogEntry struct {
	Time      time.Time        `json:"time"`
	Status    enum.OrderStatus `json:"status"`
	Message   string           `json:"message,omitempty"`
	ErrorCode int              `json:"errorCode,omitempty"`
}
