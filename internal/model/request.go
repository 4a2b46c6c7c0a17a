package model

import (
	"time"

	"tradecore/internal/model/enum"
)

// Request is an outbound message handed to the transport for encoding.
type Request interface {
	RequestKind() enum.RequestKind
}

// PlaceOrderRequest submits, modifies or previews (Order.WhatIf) an order.
type PlaceOrderRequest struct {
	Contract Contract `json:"contract"`
	Order    Order    `json:"order"`
}

type CancelOrderRequest struct {
	OrderID int64 `json:"orderId"`
}

type MarketDataRequest struct {
	ReqID    int64             `json:"reqId"`
	Contract Contract          `json:"contract"`
	Options  MarketDataOptions `json:"options"`
}

type CancelMarketDataRequest struct {
	ReqID int64 `json:"reqId"`
}

type TickByTickRequest struct {
	ReqID      int64               `json:"reqId"`
	Contract   Contract            `json:"contract"`
	Kind       enum.TickByTickKind `json:"kind"`
	IgnoreSize bool                `json:"ignoreSize,omitempty"`
}

type CancelTickByTickRequest struct {
	ReqID int64 `json:"reqId"`
}

// HistoricalTicksRequest carries exactly one of Start and End.
type HistoricalTicksRequest struct {
	ReqID      int64                   `json:"reqId"`
	Contract   Contract                `json:"contract"`
	Start      time.Time               `json:"start"`
	End        time.Time               `json:"end"`
	Count      int                     `json:"count"`
	Kind       enum.HistoricalTickKind `json:"kind"`
	UseRTH     bool                    `json:"useRth,omitempty"`
	IgnoreSize bool                    `json:"ignoreSize,omitempty"`
}

type ContractDetailsRequest struct {
	ReqID    int64    `json:"reqId"`
	Contract Contract `json:"contract"`
}

type CurrentTimeRequest struct{}

type PositionsRequest struct{}

type OpenOrdersRequest struct{}

// ExecutionsRequest asks for the executions of the day matching Filter.
type ExecutionsRequest struct {
	ReqID  int64           `json:"reqId"`
	Filter ExecutionFilter `json:"filter"`
}

// GlobalCancelRequest cancels every working order of the account, including
// those placed by other clients.
type GlobalCancelRequest struct{}

func (r PlaceOrderRequest) RequestKind() enum.RequestKind {
	if r.Order.WhatIf {
		return enum.RequestWhatIf
	}
	return enum.RequestPlaceOrder
}
func (CancelOrderRequest) RequestKind() enum.RequestKind      { return enum.RequestCancelOrder }
func (MarketDataRequest) RequestKind() enum.RequestKind       { return enum.RequestMarketData }
func (CancelMarketDataRequest) RequestKind() enum.RequestKind { return enum.RequestCancelMarketData }
func (TickByTickRequest) RequestKind() enum.RequestKind       { return enum.RequestTickByTick }
func (CancelTickByTickRequest) RequestKind() enum.RequestKind { return enum.RequestCancelTickByTick }
func (HistoricalTicksRequest) RequestKind() enum.RequestKind  { return enum.RequestHistoricalTicks }
func (ContractDetailsRequest) RequestKind() enum.RequestKind  { return enum.RequestContractDetails }
func (CurrentTimeRequest) RequestKind() enum.RequestKind      { return enum.RequestCurrentTime }
func (PositionsRequest) RequestKind() enum.RequestKind        { return enum.RequestPositions }
func (OpenOrdersRequest) RequestKind() enum.RequestKind       { return enum.RequestOpenOrders }
func (ExecutionsRequest) RequestKind() enum.RequestKind       { return enum.RequestExecutions }
func (GlobalCancelRequest) RequestKind() enum.RequestKind     { return enum.RequestGlobalCancel }

// NewRequest allocates a zero request of the given kind, for decoders.
func NewRequest(kind enum.RequestKind) (Request, bool) {
	switch kind {
	case enum.RequestPlaceOrder, enum.RequestWhatIf:
		return &PlaceOrderRequest{}, true
	case enum.RequestCancelOrder:
		return &CancelOrderRequest{}, true
	case enum.RequestMarketData:
		return &MarketDataRequest{}, true
	case enum.RequestCancelMarketData:
		return &CancelMarketDataRequest{}, true
	case enum.RequestTickByTick:
		return &TickByTickRequest{}, true
	case enum.RequestCancelTickByTick:
		return &CancelTickByTickRequest{}, true
	case enum.RequestHistoricalTicks:
		return &HistoricalTicksRequest{}, true
	case enum.RequestContractDetails:
		return &ContractDetailsRequest{}, true
	case enum.RequestCurrentTime:
		return &CurrentTimeRequest{}, true
	case enum.RequestPositions:
		return &PositionsRequest{}, true
	case enum.RequestOpenOrders:
		return &OpenOrdersRequest{}, true
	case enum.RequestExecutions:
		return &ExecutionsRequest{}, true
	case enum.RequestGlobalCancel:
		return &GlobalCancelRequest{}, true
	default:
		return nil, false
	}
}
