// Package events declares the bus topics a session publishes.
package events

import (
	"time"

	"tradecore/internal/bus"
	"tradecore/internal/model"
	"tradecore/internal/og"
	"tradecore/internal/ticker"
)

// TradeLog carries a log entry together with the trade it was appended to.
type TradeLog struct {
	Trade *og.Trade
	Entry model.TradeLogEntry
}

// Fill carries a fill together with its trade.
type Fill struct {
	Trade *og.Trade
	Fill  model.Fill
}

// Commission carries a commission report merged into a fill.
type Commission struct {
	Trade  *og.Trade
	Fill   model.Fill
	Report model.CommissionReport
}

// BrokerError is an error event that was not consumed by a pending request.
type BrokerError struct {
	ReqID   int64
	Code    int
	Message string
	Trade   *og.Trade
}

// Update marks the end of a loop iteration that changed state.
type Update struct {
	Seq    uint64
	Events int
	At     time.Time
}

var (
	TradeLogUpdated          = bus.NewTopic[TradeLog]("tradeLogUpdated")
	OrderStatusChanged       = bus.NewTopic[*og.Trade]("orderStatusChanged")
	PendingTickers           = bus.NewTopic[[]*ticker.Ticker]("pendingTickers")
	PositionChanged          = bus.NewTopic[model.Position]("positionChanged")
	CommissionReportReceived = bus.NewTopic[Commission]("commissionReportReceived")

	NewOrder        = bus.NewTopic[*og.Trade]("newOrder")
	OrderModified   = bus.NewTopic[*og.Trade]("orderModified")
	CancelRequested = bus.NewTopic[*og.Trade]("cancelRequested")
	OpenOrder       = bus.NewTopic[*og.Trade]("openOrder")
	FillAdded       = bus.NewTopic[Fill]("fillAdded")
	Error           = bus.NewTopic[BrokerError]("error")
	Updated         = bus.NewTopic[Update]("updated")
	Connected       = bus.NewTopic[int64]("connected")
	Disconnected    = bus.NewTopic[string]("disconnected")
	Timeout         = bus.NewTopic[time.Duration]("timeout")
)
