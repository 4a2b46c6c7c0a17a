package model

import (
	"time"

	"tradecore/internal/model/enum"
)

// Event is a decoded inbound broker message.
type Event interface {
	EventKind() enum.EventKind
}

type NextValidIDEvent struct {
	OrderID int64 `json:"orderId"`
}

type OrderStatusEvent struct {
	Status  OrderStatus `json:"status"`
	Message string      `json:"message,omitempty"`
}

// OpenOrderEvent carries the full order as the broker knows it. What-if
// previews come back through this event with Order.WhatIf set.
type OpenOrderEvent struct {
	Contract Contract           `json:"contract"`
	Order    Order              `json:"order"`
	State    OrderStateEstimate `json:"state"`
}

type OpenOrderEndEvent struct{}

type ExecDetailsEvent struct {
	ReqID     int64     `json:"reqId,omitempty"`
	Contract  Contract  `json:"contract"`
	Execution Execution `json:"execution"`
}

// ExecDetailsEndEvent closes the reply to an executions request.
type ExecDetailsEndEvent struct {
	ReqID int64 `json:"reqId"`
}

type CommissionReportEvent struct {
	Report CommissionReport `json:"report"`
}

type PositionEvent struct {
	Position Position `json:"position"`
}

type PositionEndEvent struct{}

type TickEvent struct {
	ReqID int64      `json:"reqId"`
	Tick  TickUpdate `json:"tick"`
}

type TickByTickEvent struct {
	ReqID int64      `json:"reqId"`
	Tick  TickByTick `json:"tick"`
}

// HistoricalTicksEvent is one chunk of a historical tick response; Done
// marks the last chunk.
type HistoricalTicksEvent struct {
	ReqID int64            `json:"reqId"`
	Ticks []HistoricalTick `json:"ticks"`
	Done  bool             `json:"done"`
}

type ContractDetailsEvent struct {
	ReqID    int64    `json:"reqId"`
	Contract Contract `json:"contract"`
}

type ContractDetailsEndEvent struct {
	ReqID int64 `json:"reqId"`
}

type CurrentTimeEvent struct {
	Time time.Time `json:"time"`
}

// ErrorEvent is a broker error or warning. ReqID is the request or order id
// it refers to, -1 for connection level notices.
type ErrorEvent struct {
	ReqID   int64  `json:"reqId"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// DecodeErrorEvent is surfaced by a transport that failed to decode a frame.
type DecodeErrorEvent struct {
	Reason string `json:"reason"`
	Raw    []byte `json:"raw,omitempty"`
}

type DisconnectedEvent struct {
	Reason string `json:"reason,omitempty"`
}

func (NextValidIDEvent) EventKind() enum.EventKind        { return enum.EventNextValidID }
func (OrderStatusEvent) EventKind() enum.EventKind        { return enum.EventOrderStatus }
func (OpenOrderEvent) EventKind() enum.EventKind          { return enum.EventOpenOrder }
func (OpenOrderEndEvent) EventKind() enum.EventKind       { return enum.EventOpenOrderEnd }
func (ExecDetailsEvent) EventKind() enum.EventKind        { return enum.EventExecDetails }
func (CommissionReportEvent) EventKind() enum.EventKind   { return enum.EventCommissionReport }
func (PositionEvent) EventKind() enum.EventKind           { return enum.EventPosition }
func (PositionEndEvent) EventKind() enum.EventKind        { return enum.EventPositionEnd }
func (TickEvent) EventKind() enum.EventKind               { return enum.EventTick }
func (TickByTickEvent) EventKind() enum.EventKind         { return enum.EventTickByTick }
func (HistoricalTicksEvent) EventKind() enum.EventKind    { return enum.EventHistoricalTicks }
func (ContractDetailsEvent) EventKind() enum.EventKind    { return enum.EventContractDetails }
func (ContractDetailsEndEvent) EventKind() enum.EventKind { return enum.EventContractDetailsEnd }
func (CurrentTimeEvent) EventKind() enum.EventKind        { return enum.EventCurrentTime }
func (ErrorEvent) EventKind() enum.EventKind              { return enum.EventError }
func (DecodeErrorEvent) EventKind() enum.EventKind        { return enum.EventDecodeError }
func (DisconnectedEvent) EventKind() enum.EventKind       { return enum.EventDisconnected }
func (ExecDetailsEndEvent) EventKind() enum.EventKind     { return enum.EventExecDetailsEnd }

// NewEvent allocates a zero event of the given kind, for decoders.
func NewEvent(kind enum.EventKind) (Event, bool) {
	switch kind {
	case enum.EventNextValidID:
		return &NextValidIDEvent{}, true
	case enum.EventOrderStatus:
		return &OrderStatusEvent{}, true
	case enum.EventOpenOrder:
		return &OpenOrderEvent{}, true
	case enum.EventOpenOrderEnd:
		return &OpenOrderEndEvent{}, true
	case enum.EventExecDetails:
		return &ExecDetailsEvent{}, true
	case enum.EventCommissionReport:
		return &CommissionReportEvent{}, true
	case enum.EventPosition:
		return &PositionEvent{}, true
	case enum.EventPositionEnd:
		return &PositionEndEvent{}, true
	case enum.EventTick:
		return &TickEvent{}, true
	case enum.EventTickByTick:
		return &TickByTickEvent{}, true
	case enum.EventHistoricalTicks:
		return &HistoricalTicksEvent{}, true
	case enum.EventContractDetails:
		return &ContractDetailsEvent{}, true
	case enum.EventContractDetailsEnd:
		return &ContractDetailsEndEvent{}, true
	case enum.EventCurrentTime:
		return &CurrentTimeEvent{}, true
	case enum.EventError:
		return &ErrorEvent{}, true
	case enum.EventDecodeError:
		return &DecodeErrorEvent{}, true
	case enum.EventDisconnected:
		return &DisconnectedEvent{}, true
	case enum.EventExecDetailsEnd:
		return &ExecDetailsEndEvent{}, true
	default:
		return nil, false
	}
}
