package correlator

import (
	"context"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"tradecore/internal/model"
	"tradecore/internal/model/enum"
	"tradecore/pkg/exception"
)

// DefaultTimeout applies when Send is called without a timeout.
const DefaultTimeout = 60 * time.Second

// Sender delivers outbound requests to the broker.
type Sender interface {
	Send(ctx context.Context, req model.Request) error
}

// Config controls the correlator.
type Config struct {
	Sender         Sender
	NextID         func() int64
	Clock          func() time.Time
	DefaultTimeout time.Duration
	OnTimeout      func(*Future)
}

type dedupKey struct {
	kind enum.RequestKind
	key  string
}

// Correlator matches responses to the requests that asked for them. Every
// pending request is a Future keyed by its request id; requests sent with a
// non-empty key are also deduplicated by (kind, key) while they are pending.
// It is not safe for concurrent use.
type Correlator struct {
	cfg   Config
	byID  map[int64]*Future
	byKey map[dedupKey]*Future
}

// New creates a correlator.
func New(cfg Config) *Correlator {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	return &Correlator{
		cfg:   cfg,
		byID:  make(map[int64]*Future),
		byKey: make(map[dedupKey]*Future),
	}
}

// Send builds a request with a fresh id and sends it. When a request of the
// same kind and key is still pending, its Future is returned and nothing is
// sent.
func (c *Correlator) Send(ctx context.Context, kind enum.RequestKind, key string, timeout time.Duration, build func(id int64) model.Request) (*Future, error) {
	if key != "" {
		if f, ok := c.byKey[dedupKey{kind, key}]; ok {
			return f, nil
		}
	}
	if timeout <= 0 {
		timeout = c.cfg.DefaultTimeout
	}

	id := c.cfg.NextID()
	req := build(id)
	if err := c.cfg.Sender.Send(ctx, req); err != nil {
		return nil, errors.Wrapf(err, "send %s request %d", kind, id)
	}

	f := &Future{
		id:       id,
		kind:     kind,
		key:      key,
		deadline: c.cfg.Clock().Add(timeout),
	}
	c.byID[id] = f
	if key != "" {
		c.byKey[dedupKey{kind, key}] = f
	}
	return f, nil
}

// Pending returns the unresolved Future of a request id.
func (c *Correlator) Pending(id int64) (*Future, bool) {
	f, ok := c.byID[id]
	return f, ok
}

// Lookup returns the unresolved Future of a (kind, key) pair, for responses
// that carry no request id.
func (c *Correlator) Lookup(kind enum.RequestKind, key string) (*Future, bool) {
	f, ok := c.byKey[dedupKey{kind, key}]
	return f, ok
}

// Resolve completes a request with a single value.
func (c *Correlator) Resolve(id int64, value any) bool {
	f, ok := c.take(id)
	if !ok {
		return false
	}
	f.complete(value, nil)
	return true
}

// Append accumulates items of a streaming response.
func (c *Correlator) Append(id int64, items ...any) bool {
	f, ok := c.byID[id]
	if !ok {
		return false
	}
	f.items = append(f.items, items...)
	return true
}

// Finish completes a streaming response with the items accumulated so far.
func (c *Correlator) Finish(id int64) bool {
	f, ok := c.take(id)
	if !ok {
		return false
	}
	f.complete(f.items, nil)
	return true
}

// Fail completes a request with an error.
func (c *Correlator) Fail(id int64, err error) bool {
	f, ok := c.take(id)
	if !ok {
		return false
	}
	f.complete(nil, err)
	return true
}

// FailAll fails every pending request, as on disconnect.
func (c *Correlator) FailAll(err error) int {
	n := len(c.byID)
	for id, f := range c.byID {
		delete(c.byID, id)
		f.complete(nil, err)
	}
	clear(c.byKey)
	return n
}

// Expire fails the requests whose deadline passed with ErrTimeout.
func (c *Correlator) Expire(now time.Time) int {
	var n int
	for id, f := range c.byID {
		if now.Before(f.deadline) {
			continue
		}
		c.take(id)
		f.complete(nil, errors.Wrapf(exception.ErrTimeout, "%s request %d", f.kind, id))
		logs.Errorf("correlator: %s request %d timed out", f.kind, id)
		if c.cfg.OnTimeout != nil {
			c.cfg.OnTimeout(f)
		}
		n++
	}
	return n
}

// NextDeadline returns the earliest deadline among pending requests.
func (c *Correlator) NextDeadline() (time.Time, bool) {
	var (
		next time.Time
		ok   bool
	)
	for _, f := range c.byID {
		if !ok || f.deadline.Before(next) {
			next, ok = f.deadline, true
		}
	}
	return next, ok
}

// Len is the number of pending requests.
func (c *Correlator) Len() int {
	return len(c.byID)
}

func (c *Correlator) take(id int64) (*Future, bool) {
	f, ok := c.byID[id]
	if !ok {
		return nil, false
	}
	delete(c.byID, id)
	if f.key != "" {
		k := dedupKey{f.kind, f.key}
		if c.byKey[k] == f {
			delete(c.byKey, k)
		}
	}
	return f, true
}
