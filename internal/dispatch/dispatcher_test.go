package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

const clientID = 1

type nopSender struct{}

func (nopSender) Send(context.Context, model.Request) error { return nil }

type harness struct {
	d        *Dispatcher
	bus      *bus.Bus
	trades   *og.Registry
	tickers  *ticker.Cache
	requests *correlator.Correlator
	metrics  *obs.Metrics
	seen     []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	var id int64 = 1000
	next := func() int64 { id++; return id }
	h := &harness{
		bus:     bus.New(),
		trades:  og.NewRegistry(og.Config{ClientID: clientID}),
		metrics: obs.NewMetrics(),
	}
	h.tickers = ticker.NewCache(ticker.Config{Sender: nopSender{}, NextID: next})
	h.requests = correlator.New(correlator.Config{Sender: nopSender{}, NextID: next})
	h.d = New(Config{
		ClientID: clientID,
		Bus:      h.bus,
		Trades:   h.trades,
		Tickers:  h.tickers,
		Requests: h.requests,
		Metrics:  h.metrics,
	})

	record := func(name string) { h.seen = append(h.seen, name) }
	bus.Subscribe(h.bus, events.OrderStatusChanged, func(*og.Trade) { record("status") })
	bus.Subscribe(h.bus, events.TradeLogUpdated, func(events.TradeLog) { record("log") })
	bus.Subscribe(h.bus, events.FillAdded, func(events.Fill) { record("fill") })
	bus.Subscribe(h.bus, events.CommissionReportReceived, func(events.Commission) { record("commission") })
	bus.Subscribe(h.bus, events.PositionChanged, func(model.Position) { record("position") })
	bus.Subscribe(h.bus, events.OpenOrder, func(*og.Trade) { record("openOrder") })
	bus.Subscribe(h.bus, events.Error, func(events.BrokerError) { record("error") })
	bus.Subscribe(h.bus, events.Disconnected, func(string) { record("disconnected") })
	return h
}

func (h *harness) reset() {
	h.seen = nil
}

func (h *harness) submit(t *testing.T, orderID int64, qty string) *og.Trade {
	t.Helper()
	o := model.LimitOrder(enum.ActionBuy, decimal.RequireFromString(qty), decimal.NewFromInt(1))
	o.OrderID = orderID
	o.ClientID = clientID
	trade, _, err := h.trades.Submit(model.Stock("AAPL", "SMART", "USD"), o)
	require.NoError(t, err)
	return trade
}

func statusEvent(orderID int64, status enum.OrderStatus) model.OrderStatusEvent {
	return model.OrderStatusEvent{Status: model.OrderStatus{OrderID: orderID, ClientID: clientID, Status: status}}
}

func TestStatusPublishesOnceAndReplayIsSilent(t *testing.T) {
	h := newHarness(t)
	h.submit(t, 1, "10")

	require.True(t, h.d.Dispatch(statusEvent(1, enum.OrderStatusSubmitted)))
	assert.Equal(t, []string{"status", "log"}, h.seen)

	h.reset()
	assert.False(t, h.d.Dispatch(statusEvent(1, enum.OrderStatusSubmitted)))
	assert.Empty(t, h.seen)
}

func TestUnknownOwnOrderIsDropped(t *testing.T) {
	h := newHarness(t)
	assert.False(t, h.d.Dispatch(statusEvent(77, enum.OrderStatusSubmitted)))
	assert.Empty(t, h.trades.Trades())
	assert.Equal(t, uint64(1), h.metrics.Snapshot().UnknownOrders)
}

func TestCommissionBeforeFill(t *testing.T) {
	h := newHarness(t)
	trade := h.submit(t, 2, "10")

	report := model.CommissionReport{ExecID: "e1", Commission: decimal.RequireFromString("0.5"), Currency: "USD"}
	assert.False(t, h.d.Dispatch(model.CommissionReportEvent{Report: report}))
	assert.Empty(t, h.seen)
	assert.Equal(t, uint64(1), h.metrics.Snapshot().OrphanCommissions)

	exec := model.Execution{ExecID: "e1", OrderID: 2, ClientID: clientID, Shares: decimal.NewFromInt(10), Price: decimal.NewFromInt(1)}
	require.True(t, h.d.Dispatch(model.ExecDetailsEvent{Execution: exec}))
	assert.Equal(t, []string{"fill", "status", "log", "commission"}, h.seen)
	require.NotNil(t, trade.Fills()[0].Commission)
}

func TestFillThenCommission(t *testing.T) {
	h := newHarness(t)
	h.submit(t, 3, "10")
	exec := model.Execution{ExecID: "e2", OrderID: 3, ClientID: clientID, Shares: decimal.NewFromInt(4), Price: decimal.NewFromInt(1)}
	require.True(t, h.d.Dispatch(model.ExecDetailsEvent{Execution: exec}))

	h.reset()
	require.True(t, h.d.Dispatch(model.CommissionReportEvent{Report: model.CommissionReport{ExecID: "e2"}}))
	assert.Equal(t, []string{"commission"}, h.seen)

	h.reset()
	assert.False(t, h.d.Dispatch(model.CommissionReportEvent{Report: model.CommissionReport{ExecID: "e2"}}))
	assert.Empty(t, h.seen)
}

func TestExecutionsReplyCollectsFills(t *testing.T) {
	h := newHarness(t)
	trade := h.submit(t, 7, "10")
	known := model.Execution{ExecID: "k1", OrderID: 7, ClientID: clientID, Shares: decimal.NewFromInt(4), Price: decimal.NewFromInt(1)}
	require.True(t, h.d.Dispatch(model.ExecDetailsEvent{ReqID: -1, Execution: known}))

	f, err := h.requests.Send(context.Background(), enum.RequestExecutions, "", 0, func(id int64) model.Request {
		return model.ExecutionsRequest{ReqID: id}
	})
	require.NoError(t, err)

	h.reset()
	assert.False(t, h.d.Dispatch(model.ExecDetailsEvent{ReqID: f.ID(), Execution: known}))
	assert.Empty(t, h.seen)
	assert.Zero(t, h.metrics.Snapshot().RejectedEvents)

	missed := model.Execution{ExecID: "m1", OrderID: 21, ClientID: 42, Side: enum.ActionSell, Shares: decimal.NewFromInt(2), Price: decimal.NewFromInt(3)}
	require.True(t, h.d.Dispatch(model.ExecDetailsEvent{ReqID: f.ID(), Contract: model.Stock("MSFT", "SMART", "USD"), Execution: missed}))
	assert.Equal(t, []string{"openOrder", "fill", "status", "log"}, h.seen)
	require.True(t, h.d.Dispatch(model.ExecDetailsEndEvent{ReqID: f.ID()}))

	require.True(t, f.Done())
	fills, err := correlator.Collect[model.Fill](f)
	require.NoError(t, err)
	require.Len(t, fills, 2)
	assert.Equal(t, "k1", fills[0].ExecID())
	assert.Equal(t, "m1", fills[1].ExecID())
	assert.Len(t, trade.Fills(), 1)
	assert.Len(t, h.trades.Trades(), 2)
}

func TestBrokerErrorOnLiveOrder(t *testing.T) {
	h := newHarness(t)
	trade := h.submit(t, 4, "10")

	require.True(t, h.d.Dispatch(model.ErrorEvent{ReqID: 4, Code: 201, Message: "Order rejected - reason: margin"}))
	assert.Equal(t, enum.OrderStatusPendingSubmit, trade.Status())
	entry, _ := trade.LastLog()
	assert.Contains(t, entry.Message, "margin")
	assert.Equal(t, 201, entry.ErrorCode)
	assert.Equal(t, []string{"log", "error"}, h.seen)

	h.reset()
	require.True(t, h.d.Dispatch(statusEvent(4, enum.OrderStatusInactive)))
	assert.Equal(t, enum.OrderStatusInactive, trade.Status())
	assert.Equal(t, []string{"status", "log"}, h.seen)
}

func TestBrokerStatusFollowsOrderError(t *testing.T) {
	tests := []struct {
		name   string
		code   int
		msg    string
		final  model.OrderStatus
		filled string
	}{
		{
			name:   "cancel refused then filled",
			code:   161,
			msg:    "Cancel attempted when order is not in a cancellable state",
			final:  model.OrderStatus{Status: enum.OrderStatusFilled, Filled: decimal.NewFromInt(100), Remaining: decimal.Zero},
			filled: "100",
		},
		{
			name:   "canceled notice then cancelled",
			code:   202,
			msg:    "Order Canceled - reason:",
			final:  model.OrderStatus{Status: enum.OrderStatusCancelled, Filled: decimal.Zero, Remaining: decimal.NewFromInt(100)},
			filled: "0",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			trade := h.submit(t, 6, "100")
			require.True(t, h.d.Dispatch(statusEvent(6, enum.OrderStatusSubmitted)))
			require.True(t, h.d.Dispatch(model.ErrorEvent{ReqID: 6, Code: tc.code, Message: tc.msg}))
			assert.Equal(t, enum.OrderStatusSubmitted, trade.Status())

			final := tc.final
			final.OrderID, final.ClientID = 6, clientID
			require.True(t, h.d.Dispatch(model.OrderStatusEvent{Status: final}))
			assert.Equal(t, tc.final.Status, trade.Status())
			assert.True(t, trade.OrderStatus().Filled.Equal(decimal.RequireFromString(tc.filled)))
			assert.Zero(t, h.metrics.Snapshot().RejectedEvents)

			last, _ := trade.LastLog()
			assert.Equal(t, tc.final.Status, last.Status)
			assert.Empty(t, last.Message)
		})
	}
}

func TestWarningsAreIgnored(t *testing.T) {
	h := newHarness(t)
	trade := h.submit(t, 5, "10")
	assert.False(t, h.d.Dispatch(model.ErrorEvent{ReqID: 5, Code: 2104, Message: "Market data farm connection is OK"}))
	assert.Equal(t, enum.OrderStatusPendingSubmit, trade.Status())
	assert.Empty(t, h.seen)
}

func TestBrokerErrorFailsPendingRequest(t *testing.T) {
	h := newHarness(t)
	f, err := h.requests.Send(context.Background(), enum.RequestContractDetails, "k", 0, func(id int64) model.Request {
		return model.ContractDetailsRequest{ReqID: id}
	})
	require.NoError(t, err)

	require.True(t, h.d.Dispatch(model.ErrorEvent{ReqID: f.ID(), Code: 200, Message: "No security definition"}))
	require.True(t, f.Done())
	assert.ErrorIs(t, f.Err(), exception.ErrBrokerError)
}

func TestCorrelatedResponses(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	details, err := h.requests.Send(ctx, enum.RequestContractDetails, "aapl", 0, func(id int64) model.Request {
		return model.ContractDetailsRequest{ReqID: id}
	})
	require.NoError(t, err)
	resolved := model.Stock("AAPL", "SMART", "USD")
	resolved.ConID = 265598
	h.d.Dispatch(model.ContractDetailsEvent{ReqID: details.ID(), Contract: resolved})
	h.d.Dispatch(model.ContractDetailsEndEvent{ReqID: details.ID()})
	contracts, err := correlator.Collect[model.Contract](details)
	require.NoError(t, err)
	require.Len(t, contracts, 1)
	assert.Equal(t, int64(265598), contracts[0].ConID)

	now, err := h.requests.Send(ctx, enum.RequestCurrentTime, KeyCurrentTime, 0, func(int64) model.Request {
		return model.CurrentTimeRequest{}
	})
	require.NoError(t, err)
	at := time.Unix(1700000000, 0).UTC()
	require.True(t, h.d.Dispatch(model.CurrentTimeEvent{Time: at}))
	got, err := correlator.Value[time.Time](now)
	require.NoError(t, err)
	assert.Equal(t, at, got)

	hist, err := h.requests.Send(ctx, enum.RequestHistoricalTicks, "", 0, func(id int64) model.Request {
		return model.HistoricalTicksRequest{ReqID: id}
	})
	require.NoError(t, err)
	h.d.Dispatch(model.HistoricalTicksEvent{ReqID: hist.ID(), Ticks: make([]model.HistoricalTick, 3)})
	assert.False(t, hist.Done())
	h.d.Dispatch(model.HistoricalTicksEvent{ReqID: hist.ID(), Ticks: make([]model.HistoricalTick, 2), Done: true})
	ticks, err := correlator.Collect[model.HistoricalTick](hist)
	require.NoError(t, err)
	assert.Len(t, ticks, 5)
}

func TestWhatIfNeverTouchesRegistry(t *testing.T) {
	h := newHarness(t)
	f, err := h.requests.Send(context.Background(), enum.RequestWhatIf, "", 0, func(id int64) model.Request {
		return model.PlaceOrderRequest{Order: model.Order{OrderID: id, WhatIf: true}}
	})
	require.NoError(t, err)

	state := model.OrderStateEstimate{Status: enum.OrderStatusPreSubmitted, WarningText: "preview"}
	require.True(t, h.d.Dispatch(model.OpenOrderEvent{Order: model.Order{OrderID: f.ID(), ClientID: clientID, WhatIf: true}, State: state}))
	got, err := correlator.Value[model.OrderStateEstimate](f)
	require.NoError(t, err)
	assert.Equal(t, "preview", got.WarningText)
	assert.Empty(t, h.trades.Trades())
}

func TestPositionsSync(t *testing.T) {
	h := newHarness(t)
	f, err := h.requests.Send(context.Background(), enum.RequestPositions, KeyPositions, 0, func(int64) model.Request {
		return model.PositionsRequest{}
	})
	require.NoError(t, err)

	p := model.Position{Account: "DU1", Contract: model.Stock("AAPL", "SMART", "USD"), Quantity: decimal.NewFromInt(3)}
	require.True(t, h.d.Dispatch(model.PositionEvent{Position: p}))
	assert.False(t, h.d.Dispatch(model.PositionEvent{Position: p}), "same position twice is not a change")
	require.True(t, h.d.Dispatch(model.PositionEndEvent{}))

	positions, err := correlator.Collect[model.Position](f)
	require.NoError(t, err)
	assert.Len(t, positions, 2)
	assert.Equal(t, []string{"position"}, h.seen)
}

func TestDecodeErrorIsCounted(t *testing.T) {
	h := newHarness(t)
	assert.False(t, h.d.Dispatch(model.DecodeErrorEvent{Reason: "bad frame"}))
	assert.Equal(t, uint64(1), h.metrics.Snapshot().DecodeDrops)
}

func TestDisconnectFailsWaitersAndFreezes(t *testing.T) {
	h := newHarness(t)
	trade := h.submit(t, 6, "10")
	f, err := h.requests.Send(context.Background(), enum.RequestCurrentTime, KeyCurrentTime, 0, func(int64) model.Request {
		return model.CurrentTimeRequest{}
	})
	require.NoError(t, err)

	require.True(t, h.d.Dispatch(model.DisconnectedEvent{Reason: "socket closed"}))
	assert.True(t, h.d.Disconnected())
	require.True(t, f.Done())
	assert.ErrorIs(t, f.Err(), exception.ErrConnectionLost)
	assert.Equal(t, []string{"disconnected"}, h.seen)

	assert.False(t, h.d.Dispatch(statusEvent(6, enum.OrderStatusSubmitted)))
	assert.Equal(t, enum.OrderStatusPendingSubmit, trade.Status())
}

func TestListenerPanicDoesNotStopDispatch(t *testing.T) {
	h := newHarness(t)
	h.submit(t, 7, "10")
	bus.Subscribe(h.bus, events.OrderStatusChanged, func(*og.Trade) { panic("boom") })

	require.True(t, h.d.Dispatch(statusEvent(7, enum.OrderStatusSubmitted)))
	assert.Equal(t, []string{"status", "log"}, h.seen)
}

func TestTapSeesEveryEvent(t *testing.T) {
	h := newHarness(t)
	var tapped []enum.EventKind
	h.d.cfg.Tap = func(ev model.Event) { tapped = append(tapped, ev.EventKind()) }

	h.d.Dispatch(model.NextValidIDEvent{OrderID: 1})
	h.d.Dispatch(model.TickEvent{ReqID: 9})
	assert.Equal(t, []enum.EventKind{enum.EventNextValidID, enum.EventTick}, tapped)
}
