// Package session is the public face of the core: one broker connection, the
// state it reconciles and the request/response calls made over it.
//
// A Session is driven by whichever goroutine calls its methods. All methods
// except Submit must be called from that one goroutine; other goroutines hand
// work over through Submit.
package session

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"tradecore/internal/bus"
	"tradecore/internal/correlator"
	"tradecore/internal/dispatch"
	"tradecore/internal/events"
	"tradecore/internal/loop"
	"tradecore/internal/model"
	"tradecore/internal/obs"
	"tradecore/internal/og"
	"tradecore/internal/risk"
	"tradecore/internal/ticker"
	"tradecore/internal/transport"
	"tradecore/pkg/exception"
)

type Session struct {
	cfg       Config
	transport transport.Transport

	bus     *bus.Bus
	metrics *obs.Metrics
	clock   func() time.Time
	ids     *obs.IDGenerator
	risk    *risk.Engine
	tap     func(model.Event)

	trades     *og.Registry
	tickers    *ticker.Cache
	requests   *correlator.Correlator
	dispatcher *dispatch.Dispatcher
	loop       *loop.Loop

	validID   bool
	connected bool
}

// New wires a session over t. Nothing is sent until Connect.
func New(t transport.Transport, cfg Config, opts ...Option) *Session {
	s := &Session{
		cfg:       cfg.withDefaults(),
		transport: t,
		bus:       bus.New(),
		metrics:   obs.NewMetrics(),
		clock:     func() time.Time { return time.Now().UTC() },
		ids:       obs.NewIDGenerator(1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.bus.OnPanic(func(string) { s.metrics.IncListenerPanic() })

	s.trades = og.NewRegistry(og.Config{ClientID: s.cfg.ClientID, Clock: s.clock})
	s.tickers = ticker.NewCache(ticker.Config{
		Sender:        t,
		NextID:        s.ids.Next,
		MaxTickByTick: s.cfg.MaxTickByTick,
		Emit: func(batch []*ticker.Ticker) {
			bus.Publish(s.bus, events.PendingTickers, batch)
		},
	})
	s.requests = correlator.New(correlator.Config{
		Sender:         t,
		NextID:         s.ids.Next,
		Clock:          s.clock,
		DefaultTimeout: s.cfg.RequestTimeout,
		OnTimeout: func(f *correlator.Future) {
			s.metrics.IncRequestTimeout()
		},
	})
	s.dispatcher = dispatch.New(dispatch.Config{
		ClientID: s.cfg.ClientID,
		Bus:      s.bus,
		Trades:   s.trades,
		Tickers:  s.tickers,
		Requests: s.requests,
		Metrics:  s.metrics,
		Tap:      s.tap,
		OnValidID: func(orderID int64) {
			s.ids.Advance(orderID)
			s.validID = true
		},
		OnConnLost: func(string) {
			s.connected = false
		},
	})
	s.loop = loop.New(loop.Config{
		Events:       t.Events(),
		Dispatch:     s.dispatcher.Dispatch,
		Flush:        s.tickers.Flush,
		Expire:       s.requests.Expire,
		NextDeadline: s.requests.NextDeadline,
		OnUpdate: func(seq uint64, n int) {
			bus.Publish(s.bus, events.Updated, events.Update{Seq: seq, Events: n, At: s.clock()})
		},
		OnIdle: func(idle time.Duration) {
			bus.Publish(s.bus, events.Timeout, idle)
		},
		Clock:         s.clock,
		Metrics:       s.metrics,
		MaxBatch:      s.cfg.MaxBatch,
		CallQueueSize: s.cfg.CallQueueSize,
	})
	if s.cfg.IdleTimeout > 0 {
		s.loop.SetIdleTimeout(s.cfg.IdleTimeout)
	}
	return s
}

// Connect opens the transport and waits for the broker to announce the next
// valid order id. With opts.Sync it also loads positions, open orders and the
// executions of the day.
func (s *Session) Connect(ctx context.Context, opts ConnectOptions) error {
	if s.connected {
		return nil
	}
	if s.loop.Stopped() {
		return errors.Wrap(exception.ErrConnectionLost, "session already disconnected")
	}
	if err := s.transport.Connect(ctx, s.cfg.Endpoint); err != nil {
		return errors.Wrapf(err, "connect %s", s.cfg.Endpoint)
	}

	ok, err := s.loop.WaitUntil(ctx, func() bool { return s.validID }, s.cfg.ConnectTimeout)
	if err != nil {
		return err
	}
	if !ok {
		_ = s.transport.Disconnect()
		return errors.Wrapf(exception.ErrTimeout, "no order id from %s within %s", s.cfg.Endpoint, s.cfg.ConnectTimeout)
	}
	s.connected = true
	logs.Infof("session: client %d connected to %s, next order id %d", s.cfg.ClientID, s.cfg.Endpoint, s.ids.Peek())
	bus.Publish(s.bus, events.Connected, s.ids.Peek())

	if opts.Sync {
		if _, err := s.ReqPositions(ctx); err != nil {
			return errors.Wrap(err, "sync positions")
		}
		if _, err := s.ReqOpenOrders(ctx); err != nil {
			return errors.Wrap(err, "sync open orders")
		}
		if _, err := s.ReqExecutions(ctx, model.ExecutionFilter{}); err != nil {
			return errors.Wrap(err, "sync executions")
		}
	}
	return nil
}

// Disconnect closes the transport and pumps the loop until the disconnect is
// applied: pending requests fail with ErrConnectionLost and state freezes.
func (s *Session) Disconnect(ctx context.Context) error {
	if err := s.transport.Disconnect(); err != nil {
		return errors.Wrap(err, "disconnect transport")
	}
	if s.loop.Stopped() {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()
	if err := s.loop.Run(ctx); err != nil && !stderrors.Is(err, exception.ErrConnectionLost) {
		return err
	}
	return nil
}

// IsConnected reports whether the session is connected.
func (s *Session) IsConnected() bool {
	return s.connected && !s.loop.Stopped()
}

func (s *Session) Bus() *bus.Bus {
	return s.bus
}

func (s *Session) Metrics() *obs.Metrics {
	return s.metrics
}

// ClientID is the client id orders are placed under.
func (s *Session) ClientID() int64 {
	return s.cfg.ClientID
}

// Sleep pumps the loop for d.
func (s *Session) Sleep(ctx context.Context, d time.Duration) error {
	return s.loop.Sleep(ctx, d)
}

// WaitForUpdate pumps the loop until state changes or timeout expires.
func (s *Session) WaitForUpdate(ctx context.Context, timeout time.Duration) (bool, error) {
	return s.loop.WaitForUpdate(ctx, timeout)
}

// WaitUntil pumps the loop until cond holds or timeout expires.
func (s *Session) WaitUntil(ctx context.Context, cond func() bool, timeout time.Duration) (bool, error) {
	return s.loop.WaitUntil(ctx, cond, timeout)
}

// Run pumps the loop until ctx is done or the connection is lost.
func (s *Session) Run(ctx context.Context) error {
	return s.loop.Run(ctx)
}

// Pump runs one loop iteration without blocking.
func (s *Session) Pump() error {
	return s.loop.Pump()
}

// Submit runs fn on the goroutine driving the session. It is the only method
// safe to call from other goroutines.
func (s *Session) Submit(fn func()) error {
	return s.loop.Submit(fn)
}

// SetIdleTimeout publishes a Timeout event when no data arrives for d.
func (s *Session) SetIdleTimeout(d time.Duration) {
	s.loop.SetIdleTimeout(d)
}

func (s *Session) Trades() []*og.Trade {
	return s.trades.Trades()
}

func (s *Session) OpenTrades() []*og.Trade {
	return s.trades.OpenTrades()
}

func (s *Session) Orders() []*model.Order {
	return s.trades.Orders()
}

func (s *Session) OpenOrders() []*model.Order {
	return s.trades.OpenOrders()
}

func (s *Session) Fills() []model.Fill {
	return s.trades.Fills()
}

func (s *Session) Positions() []model.Position {
	return s.trades.Positions()
}

// TradeOf returns the trade of a placed order.
func (s *Session) TradeOf(order *model.Order) (*og.Trade, bool) {
	return s.trades.TradeOf(order)
}

// Ticker returns the live ticker of a subscribed contract.
func (s *Session) Ticker(contract model.Contract) (*ticker.Ticker, bool) {
	return s.tickers.Ticker(contract)
}

func (s *Session) Tickers() []*ticker.Ticker {
	return s.tickers.Tickers()
}

// await pumps the loop until f completes. Expiry is the correlator's job,
// so no timeout applies here.
func (s *Session) await(ctx context.Context, f *correlator.Future) error {
	start := s.clock()
	defer func() { s.metrics.ObserveRequest(s.clock().Sub(start)) }()
	_, err := s.loop.WaitUntil(ctx, f.Done, 0)
	return err
}
