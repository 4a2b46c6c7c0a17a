package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/bus"
	"tradecore/internal/events"
	"tradecore/internal/model"
	"tradecore/internal/model/enum"
	"tradecore/internal/obs"
	"tradecore/internal/og"
	"tradecore/internal/risk"
	"tradecore/internal/ticker"
	"tradecore/internal/transport/sim"
	"tradecore/pkg/exception"
)

var (
	fixed = time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)
	aapl  = model.Stock("AAPL", "SMART", "USD")
)

const wait = 2 * time.Second

func newSession(t *testing.T, cfg sim.Config, opts ...Option) (*Session, *sim.Broker) {
	t.Helper()
	if cfg.NextValidID == 0 {
		cfg.NextValidID = 100
	}
	cfg.Auto = true
	cfg.Clock = func() time.Time { return fixed }
	b := sim.New(cfg)
	s := New(b, Config{Endpoint: "sim://test", ClientID: 7, Account: "DU123"}, opts...)
	require.NoError(t, s.Connect(context.Background(), ConnectOptions{}))
	return s, b
}

func statuses(entries []model.TradeLogEntry) []enum.OrderStatus {
	out := make([]enum.OrderStatus, len(entries))
	for i, e := range entries {
		out[i] = e.Status
	}
	return out
}

func TestConnectAdvancesOrderIDs(t *testing.T) {
	b := sim.New(sim.Config{NextValidID: 500, Auto: true})
	s := New(b, Config{Endpoint: "sim://test", ClientID: 7})

	var announced int64
	bus.Subscribe(s.Bus(), events.Connected, func(id int64) { announced = id })
	require.NoError(t, s.Connect(context.Background(), ConnectOptions{}))
	assert.True(t, s.IsConnected())
	assert.Equal(t, int64(500), announced)

	order := model.LimitOrder(enum.ActionBuy, decimal.NewFromInt(1), decimal.NewFromInt(10))
	_, err := s.PlaceOrder(context.Background(), aapl, order)
	require.NoError(t, err)
	assert.Equal(t, int64(500), order.OrderID)
	assert.Equal(t, int64(7), order.ClientID)
}

func TestConnectSync(t *testing.T) {
	b := sim.New(sim.Config{NextValidID: 1, Auto: true})
	b.SetPosition(model.Position{Contract: aapl, Quantity: decimal.NewFromInt(3), AvgCost: decimal.NewFromInt(150)})
	b.SeedExecution(aapl, model.Execution{
		ExecID:   "0001.1.01",
		Time:     fixed.Add(-time.Hour),
		Side:     enum.ActionBuy,
		Shares:   decimal.NewFromInt(3),
		Price:    decimal.NewFromInt(150),
		OrderID:  12,
		ClientID: 99,
		PermID:   4001,
	}, model.CommissionReport{Commission: decimal.NewFromInt(1), Currency: "USD"})
	s := New(b, Config{Endpoint: "sim://test", ClientID: 7})

	require.NoError(t, s.Connect(context.Background(), ConnectOptions{Sync: true}))
	positions := s.Positions()
	require.Len(t, positions, 1)
	assert.True(t, positions[0].Quantity.Equal(decimal.NewFromInt(3)))

	fills := s.Fills()
	require.Len(t, fills, 1)
	assert.Equal(t, "0001.1.01", fills[0].ExecID())
	require.NotNil(t, fills[0].Commission)
	assert.True(t, fills[0].Commission.Commission.Equal(decimal.NewFromInt(1)))
	trades := s.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, model.KeyOf(99, 12, 4001), trades[0].Key())

	var kinds []enum.RequestKind
	for _, r := range b.Sent() {
		kinds = append(kinds, r.RequestKind())
	}
	assert.Equal(t, []enum.RequestKind{enum.RequestPositions, enum.RequestOpenOrders, enum.RequestExecutions}, kinds)
}

func TestReqExecutionsReturnsKnownFills(t *testing.T) {
	s, _ := newSession(t, sim.Config{})
	ctx := context.Background()

	trade, err := s.PlaceOrder(ctx, aapl, model.MarketOrder(enum.ActionBuy, decimal.NewFromInt(5)))
	require.NoError(t, err)
	ok, err := s.WaitUntil(ctx, func() bool { return len(s.Fills()) == 1 && s.Fills()[0].Commission != nil }, wait)
	require.NoError(t, err)
	require.True(t, ok)

	fills, err := s.ReqExecutions(ctx, model.ExecutionFilter{ClientID: 7})
	require.NoError(t, err)
	require.Len(t, fills, 1)
	require.NotNil(t, fills[0].Commission)
	assert.Len(t, trade.Fills(), 1)
	assert.Len(t, s.Fills(), 1)
}

func TestReqGlobalCancel(t *testing.T) {
	s, b := newSession(t, sim.Config{})
	ctx := context.Background()

	first, err := s.PlaceOrder(ctx, aapl, model.LimitOrder(enum.ActionBuy, decimal.NewFromInt(1), decimal.NewFromInt(10)))
	require.NoError(t, err)
	second, err := s.PlaceOrder(ctx, aapl, model.LimitOrder(enum.ActionSell, decimal.NewFromInt(1), decimal.NewFromInt(90)))
	require.NoError(t, err)

	require.NoError(t, s.ReqGlobalCancel(ctx))
	assert.Equal(t, enum.RequestGlobalCancel, b.Sent()[len(b.Sent())-1].RequestKind())
	ok, err := s.WaitUntil(ctx, func() bool { return first.IsDone() && second.IsDone() }, wait)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, enum.OrderStatusCancelled, first.Status())
	assert.Equal(t, enum.OrderStatusCancelled, second.Status())

	idle := New(sim.New(sim.Config{Auto: true}), Config{Endpoint: "sim://idle", ClientID: 7})
	require.ErrorIs(t, idle.ReqGlobalCancel(ctx), exception.ErrNotConnected)
}

func TestBracketOrder(t *testing.T) {
	s, _ := newSession(t, sim.Config{})
	ctx := context.Background()

	bracket := s.BracketOrder(enum.ActionBuy, decimal.NewFromInt(10), decimal.NewFromInt(100), decimal.NewFromInt(110), decimal.NewFromInt(95))
	for _, o := range bracket.Orders() {
		_, err := s.PlaceOrder(ctx, aapl, o)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(100), bracket.Parent.OrderID)
	assert.Equal(t, int64(100), bracket.TakeProfit.ParentID)
	assert.Equal(t, int64(102), bracket.StopLoss.OrderID)
	assert.Len(t, s.Trades(), 3)

	next := model.LimitOrder(enum.ActionBuy, decimal.NewFromInt(1), decimal.NewFromInt(10))
	_, err := s.PlaceOrder(ctx, aapl, next)
	require.NoError(t, err)
	assert.Equal(t, int64(103), next.OrderID)
}

func TestPlaceModifyCancel(t *testing.T) {
	s, _ := newSession(t, sim.Config{})
	ctx := context.Background()

	var published []string
	bus.Subscribe(s.Bus(), events.NewOrder, func(*og.Trade) { published = append(published, "new") })
	bus.Subscribe(s.Bus(), events.OrderModified, func(*og.Trade) { published = append(published, "modify") })
	bus.Subscribe(s.Bus(), events.CancelRequested, func(*og.Trade) { published = append(published, "cancel") })

	order := model.LimitOrder(enum.ActionBuy, decimal.NewFromInt(100), decimal.NewFromFloat(1.1))
	trade, err := s.PlaceOrder(ctx, aapl, order)
	require.NoError(t, err)
	assert.Equal(t, enum.OrderStatusPendingSubmit, trade.Status())
	assert.Equal(t, "DU123", order.Account)

	ok, err := s.WaitUntil(ctx, func() bool { return trade.Status() == enum.OrderStatusSubmitted }, wait)
	require.NoError(t, err)
	require.True(t, ok)

	order.LmtPrice = decimal.NewFromFloat(1.2)
	again, err := s.PlaceOrder(ctx, aapl, order)
	require.NoError(t, err)
	assert.Same(t, trade, again)
	last, _ := trade.LastLog()
	assert.Equal(t, "Modify", last.Message)

	_, err = s.CancelOrder(ctx, order)
	require.NoError(t, err)
	ok, err = s.WaitUntil(ctx, trade.IsDone, wait)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, []enum.OrderStatus{
		enum.OrderStatusPendingSubmit,
		enum.OrderStatusPreSubmitted,
		enum.OrderStatusSubmitted,
		enum.OrderStatusSubmitted,
		enum.OrderStatusPendingCancel,
		enum.OrderStatusCancelled,
	}, statuses(trade.Log()))
	assert.Equal(t, []string{"new", "modify", "cancel"}, published)

	_, err = s.CancelOrder(ctx, order)
	require.ErrorIs(t, err, exception.ErrTradeDone)
	_, err = s.PlaceOrder(ctx, aapl, order)
	require.ErrorIs(t, err, exception.ErrTradeDone)
	assert.Empty(t, s.OpenTrades())
}

func TestMarketOrderFills(t *testing.T) {
	s, _ := newSession(t, sim.Config{})
	ctx := context.Background()

	var (
		fills       int
		commissions int
		positions   []model.Position
	)
	bus.Subscribe(s.Bus(), events.FillAdded, func(events.Fill) { fills++ })
	bus.Subscribe(s.Bus(), events.CommissionReportReceived, func(events.Commission) { commissions++ })
	bus.Subscribe(s.Bus(), events.PositionChanged, func(p model.Position) { positions = append(positions, p) })

	order := model.MarketOrder(enum.ActionSell, decimal.NewFromInt(20000))
	trade, err := s.PlaceOrder(ctx, aapl, order)
	require.NoError(t, err)
	ok, err := s.WaitUntil(ctx, func() bool { return len(positions) > 0 }, wait)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, enum.OrderStatusFilled, trade.Status())
	assert.Equal(t, 1, fills)
	assert.Equal(t, 1, commissions)
	require.Len(t, s.Fills(), 1)
	require.NotNil(t, s.Fills()[0].Commission)
	assert.True(t, s.Fills()[0].Commission.Commission.Equal(decimal.NewFromInt(2)))
	assert.True(t, positions[0].Quantity.Equal(decimal.NewFromInt(-20000)))
	assert.Len(t, s.Positions(), 1)
}

func TestWhatIfLeavesRegistryAlone(t *testing.T) {
	s, b := newSession(t, sim.Config{})
	ctx := context.Background()

	working, err := s.PlaceOrder(ctx, aapl, model.LimitOrder(enum.ActionBuy, decimal.NewFromInt(5), decimal.NewFromInt(19)))
	require.NoError(t, err)
	_, err = s.PlaceOrder(ctx, aapl, model.MarketOrder(enum.ActionBuy, decimal.NewFromInt(7)))
	require.NoError(t, err)
	ok, err := s.WaitUntil(ctx, func() bool {
		return working.Status() == enum.OrderStatusSubmitted && len(s.Positions()) == 1
	}, wait)
	require.NoError(t, err)
	require.True(t, ok)

	trades := s.Trades()
	logs := make([]int, len(trades))
	for i, tr := range trades {
		logs[i] = len(tr.Log())
	}
	orders := s.Orders()
	orderValues := make([]model.Order, len(orders))
	for i, o := range orders {
		orderValues[i] = *o
	}
	positions := s.Positions()
	fills := s.Fills()
	sentBefore := len(b.Sent())

	order := model.LimitOrder(enum.ActionBuy, decimal.NewFromInt(100), decimal.NewFromInt(20))
	est, err := s.WhatIfOrder(ctx, aapl, order)
	require.NoError(t, err)
	assert.True(t, est.InitMarginChange.Equal(decimal.NewFromInt(500)))
	assert.Zero(t, order.OrderID)
	assert.False(t, order.WhatIf)

	assert.Equal(t, trades, s.Trades())
	for i, tr := range s.Trades() {
		assert.Len(t, tr.Log(), logs[i])
	}
	assert.Equal(t, orders, s.Orders())
	for i, o := range s.Orders() {
		assert.Equal(t, orderValues[i], *o)
	}
	assert.Equal(t, positions, s.Positions())
	assert.Equal(t, fills, s.Fills())

	sent := b.Sent()
	require.Len(t, sent, sentBefore+1)
	assert.Equal(t, enum.RequestWhatIf, sent[len(sent)-1].RequestKind())
}

func TestRiskRejectsWithoutRoundTrip(t *testing.T) {
	m := obs.NewMetrics()
	guard := risk.NewEngine(risk.Config{MaxOrderQty: decimal.NewFromInt(10)})
	s, b := newSession(t, sim.Config{}, WithRisk(guard), WithMetrics(m))

	order := model.LimitOrder(enum.ActionBuy, decimal.NewFromInt(11), decimal.NewFromInt(10))
	_, err := s.PlaceOrder(context.Background(), aapl, order)
	require.ErrorIs(t, err, exception.ErrRiskRejected)
	assert.Zero(t, order.OrderID)
	assert.Empty(t, b.Sent())
	assert.Equal(t, uint64(1), m.Snapshot().RiskReasonCounts[enum.RiskReasonMaxQty])

	s.KillSwitch(true)
	_, err = s.PlaceOrder(context.Background(), aapl, model.LimitOrder(enum.ActionBuy, decimal.NewFromInt(1), decimal.NewFromInt(10)))
	require.ErrorIs(t, err, exception.ErrRiskRejected)
	s.KillSwitch(false)
	_, err = s.PlaceOrder(context.Background(), aapl, model.LimitOrder(enum.ActionBuy, decimal.NewFromInt(1), decimal.NewFromInt(10)))
	require.NoError(t, err)
}

func TestInvalidOrder(t *testing.T) {
	s, b := newSession(t, sim.Config{})
	_, err := s.PlaceOrder(context.Background(), aapl, &model.Order{Action: enum.ActionBuy, OrderType: enum.OrderTypeLimit})
	require.ErrorIs(t, err, exception.ErrInvalidArgument)
	_, err = s.PlaceOrder(context.Background(), aapl, nil)
	require.ErrorIs(t, err, exception.ErrNilInstance)
	_, err = s.CancelOrder(context.Background(), &model.Order{OrderID: 999, ClientID: 7})
	require.ErrorIs(t, err, exception.ErrUnknownOrder)
	assert.Empty(t, b.Sent())
}

func TestQuotesAndPendingTickers(t *testing.T) {
	s, _ := newSession(t, sim.Config{})
	ctx := context.Background()
	eurusd := model.Forex("EURUSD")

	var (
		batches [][]*ticker.Ticker
		ticks   int
	)
	bus.Subscribe(s.Bus(), events.PendingTickers, func(b []*ticker.Ticker) {
		batches = append(batches, b)
		for _, tk := range b {
			ticks += len(tk.Ticks())
		}
	})

	tk, err := s.SubscribeQuotes(ctx, eurusd, model.MarketDataOptions{})
	require.NoError(t, err)
	ok, err := s.WaitUntil(ctx, func() bool { return len(batches) > 0 }, wait)
	require.NoError(t, err)
	require.True(t, ok)

	require.Len(t, batches[0], 1)
	assert.Same(t, tk, batches[0][0])
	assert.True(t, tk.Bid().IsPositive())
	assert.False(t, tk.HasPending())
	assert.Equal(t, 6, ticks)
	assert.Empty(t, tk.Ticks())

	got, ok := s.Ticker(eurusd)
	require.True(t, ok)
	assert.Same(t, tk, got)
	require.NoError(t, s.UnsubscribeQuotes(ctx, eurusd))
	_, ok = s.Ticker(eurusd)
	assert.False(t, ok)
}

func TestTickByTickCap(t *testing.T) {
	s, b := newSession(t, sim.Config{})
	ctx := context.Background()
	eurusd := model.Forex("EURUSD")

	for _, kind := range []enum.TickByTickKind{enum.TickByTickLast, enum.TickByTickBidAsk, enum.TickByTickMidPoint} {
		_, err := s.SubscribeTickByTick(ctx, eurusd, kind)
		require.NoError(t, err)
	}
	_, err := s.SubscribeTickByTick(ctx, eurusd, enum.TickByTickBidAsk)
	require.NoError(t, err)

	sent := len(b.Sent())
	_, err = s.SubscribeTickByTick(ctx, eurusd, enum.TickByTickAllLast)
	require.ErrorIs(t, err, exception.ErrResourceLimit)
	assert.Len(t, b.Sent(), sent)

	require.NoError(t, s.UnsubscribeTickByTick(ctx, eurusd, enum.TickByTickLast))
	_, err = s.SubscribeTickByTick(ctx, eurusd, enum.TickByTickAllLast)
	require.NoError(t, err)
}

func TestFetchHistoricalTicks(t *testing.T) {
	s, b := newSession(t, sim.Config{})
	ctx := context.Background()

	tests := []struct {
		name  string
		query HistoricalQuery
		err   error
	}{
		{"both bounds", HistoricalQuery{Start: fixed, End: fixed, Count: 10, Kind: enum.HistoricalTickTrades}, exception.ErrResourceLimit},
		{"no bound", HistoricalQuery{Count: 10, Kind: enum.HistoricalTickTrades}, exception.ErrResourceLimit},
		{"zero count", HistoricalQuery{End: fixed, Kind: enum.HistoricalTickTrades}, exception.ErrInvalidArgument},
		{"above cap", HistoricalQuery{End: fixed, Count: 1001, Kind: enum.HistoricalTickTrades}, exception.ErrResourceLimit},
		{"bad kind", HistoricalQuery{End: fixed, Count: 10}, exception.ErrInvalidArgument},
	}
	for _, tc := range tests {
		_, err := s.FetchHistoricalTicks(ctx, tc.query)
		if !assert.ErrorIs(t, err, tc.err) {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
	}
	assert.Empty(t, b.Sent())

	ticks, err := s.FetchHistoricalTicks(ctx, HistoricalQuery{Contract: aapl, End: fixed, Count: 1000, Kind: enum.HistoricalTickBidAsk})
	require.NoError(t, err)
	require.Len(t, ticks, 1000)
	assert.Equal(t, fixed, ticks[999].Time)
	assert.True(t, ticks[0].Time.Before(ticks[999].Time))
}

func TestQualifyContract(t *testing.T) {
	s, _ := newSession(t, sim.Config{})
	ctx := context.Background()

	c, err := s.QualifyContract(ctx, model.Stock("MSFT", "", "USD"))
	require.NoError(t, err)
	assert.NotZero(t, c.ConID)
	assert.Equal(t, "SMART", c.Exchange)

	_, err = s.QualifyContract(ctx, model.Contract{})
	require.ErrorIs(t, err, exception.ErrBrokerError)
}

func TestCurrentTime(t *testing.T) {
	s, _ := newSession(t, sim.Config{})
	now, err := s.CurrentTime(context.Background())
	require.NoError(t, err)
	assert.True(t, now.Equal(fixed))
}

func TestRequestTimeout(t *testing.T) {
	b := sim.New(sim.Config{NextValidID: 1})
	m := obs.NewMetrics()
	s := New(b, Config{Endpoint: "sim://test", ClientID: 7, RequestTimeout: 30 * time.Millisecond}, WithMetrics(m))
	require.NoError(t, s.Connect(context.Background(), ConnectOptions{}))

	_, err := s.CurrentTime(context.Background())
	require.ErrorIs(t, err, exception.ErrTimeout)
	assert.Equal(t, uint64(1), m.Snapshot().RequestTimeouts)
}

type silentTransport struct {
	events chan model.Event
	once   sync.Once
}

func (t *silentTransport) Connect(context.Context, string) error     { return nil }
func (t *silentTransport) Send(context.Context, model.Request) error { return nil }
func (t *silentTransport) Events() <-chan model.Event                { return t.events }
func (t *silentTransport) Disconnect() error {
	t.once.Do(func() { close(t.events) })
	return nil
}

func TestConnectTimeout(t *testing.T) {
	tr := &silentTransport{events: make(chan model.Event)}
	s := New(tr, Config{Endpoint: "sim://test", ConnectTimeout: 30 * time.Millisecond})

	err := s.Connect(context.Background(), ConnectOptions{})
	require.ErrorIs(t, err, exception.ErrTimeout)
	assert.False(t, s.IsConnected())
}

func TestDisconnectFreezesSession(t *testing.T) {
	s, _ := newSession(t, sim.Config{})
	ctx := context.Background()

	var reason string
	bus.Subscribe(s.Bus(), events.Disconnected, func(r string) { reason = r })
	order := model.LimitOrder(enum.ActionBuy, decimal.NewFromInt(1), decimal.NewFromInt(10))
	_, err := s.PlaceOrder(ctx, aapl, order)
	require.NoError(t, err)

	require.NoError(t, s.Disconnect(ctx))
	assert.False(t, s.IsConnected())
	assert.Equal(t, "transport closed", reason)
	assert.Len(t, s.Trades(), 1)

	require.ErrorIs(t, s.Sleep(ctx, time.Millisecond), exception.ErrConnectionLost)
	_, err = s.PlaceOrder(ctx, aapl, model.LimitOrder(enum.ActionBuy, decimal.NewFromInt(1), decimal.NewFromInt(10)))
	require.ErrorIs(t, err, exception.ErrNotConnected)
	require.ErrorIs(t, s.Connect(ctx, ConnectOptions{}), exception.ErrConnectionLost)
	require.NoError(t, s.Disconnect(ctx))
}

func TestIdleTimeoutAndSubmit(t *testing.T) {
	s, _ := newSession(t, sim.Config{})
	ctx := context.Background()

	var idle time.Duration
	bus.Subscribe(s.Bus(), events.Timeout, func(d time.Duration) { idle = d })
	s.SetIdleTimeout(20 * time.Millisecond)
	require.NoError(t, s.Sleep(ctx, 60*time.Millisecond))
	assert.GreaterOrEqual(t, idle, 20*time.Millisecond)

	called := make(chan struct{})
	var ran bool
	go func() {
		assert.NoError(t, s.Submit(func() { ran = true }))
		close(called)
	}()
	<-called
	ok, err := s.WaitUntil(ctx, func() bool { return ran }, wait)
	require.NoError(t, err)
	assert.True(t, ok)
}
