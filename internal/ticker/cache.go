package ticker

import (
	"context"
	"sort"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"tradecore/internal/model"
	"tradecore/internal/model/enum"
	"tradecore/pkg/exception"
)

// DefaultMaxTickByTick is the broker's cap on simultaneous tick-by-tick streams.
const DefaultMaxTickByTick = 3

// Sender delivers outbound requests to the broker.
type Sender interface {
	Send(ctx context.Context, req model.Request) error
}

// Config controls the cache.
type Config struct {
	Sender        Sender
	NextID        func() int64
	Emit          func([]*Ticker)
	MaxTickByTick int
}

type subscription struct {
	reqID   int64
	key     string
	options model.MarketDataOptions
	refs    int
	ticker  *Ticker
}

type streamKey struct {
	contract string
	kind     enum.TickByTickKind
}

type stream struct {
	reqID  int64
	key    streamKey
	refs   int
	ticker *Ticker
}

// Cache owns every Ticker of a session. Inbound ticks update the Ticker of
// their request id and mark it pending; Flush hands the pending set to the
// emitter in one batch. It is not safe for concurrent use.
type Cache struct {
	cfg Config

	tickers    map[string]*Ticker
	tickerRefs map[string]int
	byReq      map[int64]*Ticker

	subs     map[string]*subscription
	subStack map[string][]*subscription
	streams  map[streamKey]*stream

	pending    []*Ticker
	pendingSet map[*Ticker]struct{}
}

// NewCache creates an empty cache.
func NewCache(cfg Config) *Cache {
	if cfg.MaxTickByTick <= 0 {
		cfg.MaxTickByTick = DefaultMaxTickByTick
	}
	if cfg.Emit == nil {
		cfg.Emit = func([]*Ticker) {}
	}
	return &Cache{
		cfg:        cfg,
		tickers:    make(map[string]*Ticker),
		tickerRefs: make(map[string]int),
		byReq:      make(map[int64]*Ticker),
		subs:       make(map[string]*subscription),
		subStack:   make(map[string][]*subscription),
		streams:    make(map[streamKey]*stream),
		pendingSet: make(map[*Ticker]struct{}),
	}
}

// Subscribe starts streaming quotes for a contract. Subscriptions are
// refcounted per (contract, options); only the first sends a request.
func (c *Cache) Subscribe(ctx context.Context, contract model.Contract, opts model.MarketDataOptions) (*Ticker, error) {
	if contract.IsZero() {
		return nil, errors.Wrap(exception.ErrInvalidArgument, "subscribe quotes without contract")
	}
	ck := contract.Key()
	key := ck + "|" + opts.Key()
	if s, ok := c.subs[key]; ok {
		s.refs++
		return s.ticker, nil
	}

	t := c.acquire(contract)
	reqID := c.cfg.NextID()
	req := model.MarketDataRequest{ReqID: reqID, Contract: contract, Options: opts}
	if err := c.cfg.Sender.Send(ctx, req); err != nil {
		c.release(ck)
		return nil, errors.Wrapf(err, "request market data of %s", contract)
	}

	s := &subscription{reqID: reqID, key: key, options: opts, refs: 1, ticker: t}
	c.subs[key] = s
	c.subStack[ck] = append(c.subStack[ck], s)
	c.byReq[reqID] = t
	return t, nil
}

// Unsubscribe drops one reference to the most recent quote subscription of a
// contract. The last reference cancels the stream at the broker.
func (c *Cache) Unsubscribe(ctx context.Context, contract model.Contract) error {
	ck := contract.Key()
	stack := c.subStack[ck]
	if len(stack) == 0 {
		return errors.Wrapf(exception.ErrNotSubscribed, "quotes of %s", contract)
	}
	s := stack[len(stack)-1]
	s.refs--
	if s.refs > 0 {
		return nil
	}

	if len(stack) == 1 {
		delete(c.subStack, ck)
	} else {
		c.subStack[ck] = stack[:len(stack)-1]
	}
	delete(c.subs, s.key)
	delete(c.byReq, s.reqID)
	c.release(ck)

	if err := c.cfg.Sender.Send(ctx, model.CancelMarketDataRequest{ReqID: s.reqID}); err != nil {
		return errors.Wrapf(err, "cancel market data of %s", contract)
	}
	return nil
}

// SubscribeTickByTick starts a raw tick-by-tick stream. At most MaxTickByTick
// distinct (contract, kind) streams may be active; the next one fails before
// any request is sent.
func (c *Cache) SubscribeTickByTick(ctx context.Context, contract model.Contract, kind enum.TickByTickKind) (*Ticker, error) {
	if contract.IsZero() {
		return nil, errors.Wrap(exception.ErrInvalidArgument, "subscribe tick-by-tick without contract")
	}
	if !kind.IsAvailable() {
		return nil, errors.Wrapf(exception.ErrInvalidArgument, "tick-by-tick kind %d", kind)
	}
	ck := contract.Key()
	key := streamKey{contract: ck, kind: kind}
	if s, ok := c.streams[key]; ok {
		s.refs++
		return s.ticker, nil
	}
	if len(c.streams) >= c.cfg.MaxTickByTick {
		return nil, errors.Wrapf(exception.ErrResourceLimit, "%d tick-by-tick streams active, cannot add %s %s", len(c.streams), contract, kind)
	}

	t := c.acquire(contract)
	reqID := c.cfg.NextID()
	req := model.TickByTickRequest{ReqID: reqID, Contract: contract, Kind: kind}
	if err := c.cfg.Sender.Send(ctx, req); err != nil {
		c.release(ck)
		return nil, errors.Wrapf(err, "request tick-by-tick %s of %s", kind, contract)
	}

	c.streams[key] = &stream{reqID: reqID, key: key, refs: 1, ticker: t}
	c.byReq[reqID] = t
	return t, nil
}

// UnsubscribeTickByTick drops one reference to a tick-by-tick stream.
func (c *Cache) UnsubscribeTickByTick(ctx context.Context, contract model.Contract, kind enum.TickByTickKind) error {
	ck := contract.Key()
	key := streamKey{contract: ck, kind: kind}
	s, ok := c.streams[key]
	if !ok {
		return errors.Wrapf(exception.ErrNotSubscribed, "tick-by-tick %s of %s", kind, contract)
	}
	s.refs--
	if s.refs > 0 {
		return nil
	}

	delete(c.streams, key)
	delete(c.byReq, s.reqID)
	c.release(ck)

	if err := c.cfg.Sender.Send(ctx, model.CancelTickByTickRequest{ReqID: s.reqID}); err != nil {
		return errors.Wrapf(err, "cancel tick-by-tick %s of %s", kind, contract)
	}
	return nil
}

// ApplyTick updates the ticker of a request. It reports false for request ids
// the cache does not own.
func (c *Cache) ApplyTick(reqID int64, u model.TickUpdate) bool {
	t, ok := c.byReq[reqID]
	if !ok {
		return false
	}
	t.applyTick(u)
	c.markPending(t)
	return true
}

// ApplyTickByTick appends a raw tick-by-tick record to the ticker of a request.
func (c *Cache) ApplyTickByTick(reqID int64, r model.TickByTick) bool {
	t, ok := c.byReq[reqID]
	if !ok {
		return false
	}
	t.applyTickByTick(r)
	c.markPending(t)
	return true
}

// Flush emits every ticker with pending ticks as one batch, in order of first
// update, and clears the pending ticks afterwards. It returns the batch size.
func (c *Cache) Flush() int {
	n := len(c.pending)
	if n == 0 {
		return 0
	}
	batch := c.pending
	c.pending = make([]*Ticker, 0, n)
	c.pendingSet = make(map[*Ticker]struct{}, n)

	c.cfg.Emit(batch)
	for _, t := range batch {
		t.clearPending()
	}
	return n
}

// Owns reports whether a request id belongs to a live subscription.
func (c *Cache) Owns(reqID int64) bool {
	_, ok := c.byReq[reqID]
	return ok
}

// Ticker returns the live ticker of a contract.
func (c *Cache) Ticker(contract model.Contract) (*Ticker, bool) {
	t, ok := c.tickers[contract.Key()]
	return t, ok
}

// Tickers returns every live ticker ordered by contract key.
func (c *Cache) Tickers() []*Ticker {
	keys := make([]string, 0, len(c.tickers))
	for k := range c.tickers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]*Ticker, 0, len(keys))
	for _, k := range keys {
		out = append(out, c.tickers[k])
	}
	return out
}

// TickByTickStreams is the number of active tick-by-tick streams.
func (c *Cache) TickByTickStreams() int {
	return len(c.streams)
}

func (c *Cache) acquire(contract model.Contract) *Ticker {
	ck := contract.Key()
	t, ok := c.tickers[ck]
	if !ok {
		t = newTicker(contract)
		c.tickers[ck] = t
	}
	c.tickerRefs[ck]++
	return t
}

func (c *Cache) release(ck string) {
	c.tickerRefs[ck]--
	if c.tickerRefs[ck] > 0 {
		return
	}
	delete(c.tickerRefs, ck)
	delete(c.tickers, ck)
	logs.Infof("ticker: release %s", ck)
}

func (c *Cache) markPending(t *Ticker) {
	if _, ok := c.pendingSet[t]; ok {
		return
	}
	c.pendingSet[t] = struct{}{}
	c.pending = append(c.pending, t)
}
