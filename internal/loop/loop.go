package loop

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"tradecore/internal/bus"
	"tradecore/internal/model"
	"tradecore/internal/model/enum"
	"tradecore/internal/obs"
	"tradecore/pkg/exception"
)

const (
	defaultMaxBatch      = 4096
	defaultCallQueueSize = 256
)

// Config wires the loop to its event source and the state it drives.
type Config struct {
	Events       <-chan model.Event
	Dispatch     func(model.Event) bool
	Flush        func() int
	Expire       func(now time.Time) int
	NextDeadline func() (time.Time, bool)
	OnUpdate     func(seq uint64, events int)
	OnIdle       func(idle time.Duration)
	Clock        func() time.Time
	Metrics      *obs.Metrics

	// MaxBatch bounds how many queued events one iteration drains.
	MaxBatch      int
	CallQueueSize int
}

// Loop is the single goroutine pump of a session. Whoever calls Sleep,
// WaitForUpdate, WaitUntil, Run or Pump drives it; only that goroutine may
// touch session state. Other goroutines hand work over through Submit.
type Loop struct {
	cfg   Config
	calls *bus.Queue[func()]

	updates uint64
	stopped bool
	reason  string

	idleTimeout time.Duration
	lastRecv    time.Time
	idleFired   bool
}

// New creates a loop.
func New(cfg Config) *Loop {
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = defaultMaxBatch
	}
	if cfg.CallQueueSize <= 0 {
		cfg.CallQueueSize = defaultCallQueueSize
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Dispatch == nil {
		cfg.Dispatch = func(model.Event) bool { return false }
	}
	return &Loop{
		cfg:      cfg,
		calls:    bus.NewQueue[func()](cfg.CallQueueSize),
		lastRecv: cfg.Clock(),
	}
}

// Submit schedules fn on the loop goroutine. It is safe for concurrent use.
func (l *Loop) Submit(fn func()) error {
	if fn == nil {
		return exception.ErrNilInstance
	}
	if err := l.calls.TryPublish(fn); err != nil {
		if stderrors.Is(err, exception.ErrQueueFull) {
			l.cfg.Metrics.IncQueueDrop()
		} else {
			l.cfg.Metrics.IncQueueClosed()
		}
		return err
	}
	return nil
}

// SetIdleTimeout makes the loop report idleness once no event arrived for d.
// Zero disables it.
func (l *Loop) SetIdleTimeout(d time.Duration) {
	l.idleTimeout = d
	l.idleFired = false
}

// Updates is the number of iterations that changed state.
func (l *Loop) Updates() uint64 {
	return l.updates
}

// Stopped reports whether the loop stopped after a disconnect.
func (l *Loop) Stopped() bool {
	return l.stopped
}

// Stop ends the loop. Later waits fail with ErrConnectionLost.
func (l *Loop) Stop(reason string) {
	if l.stopped {
		return
	}
	l.stopped = true
	l.reason = reason
	l.calls.Close()
}

// Pump runs one iteration without blocking.
func (l *Loop) Pump() error {
	_, err := l.step(context.Background(), 0)
	return err
}

// Sleep pumps the loop for d.
func (l *Loop) Sleep(ctx context.Context, d time.Duration) error {
	deadline := l.cfg.Clock().Add(d)
	for {
		if err := l.lost(); err != nil {
			return err
		}
		left := deadline.Sub(l.cfg.Clock())
		if left <= 0 {
			return nil
		}
		if _, err := l.step(ctx, left); err != nil {
			return err
		}
	}
}

// WaitForUpdate pumps the loop until an iteration changes state. A zero
// timeout waits without limit. It reports false when the timeout expired.
func (l *Loop) WaitForUpdate(ctx context.Context, timeout time.Duration) (bool, error) {
	start := l.updates
	return l.WaitUntil(ctx, func() bool { return l.updates > start }, timeout)
}

// WaitUntil pumps the loop until cond holds. cond is checked before the first
// iteration and after every one. A zero timeout waits without limit.
func (l *Loop) WaitUntil(ctx context.Context, cond func() bool, timeout time.Duration) (bool, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = l.cfg.Clock().Add(timeout)
	}
	for {
		if cond() {
			return true, nil
		}
		if err := l.lost(); err != nil {
			return false, err
		}

		wait := time.Duration(-1)
		if !deadline.IsZero() {
			wait = deadline.Sub(l.cfg.Clock())
			if wait <= 0 {
				return false, nil
			}
		}
		if _, err := l.step(ctx, wait); err != nil {
			return false, err
		}
	}
}

// Run pumps the loop until ctx is done or the connection is lost.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if err := l.lost(); err != nil {
			return err
		}
		if _, err := l.step(ctx, -1); err != nil {
			return err
		}
	}
}

func (l *Loop) lost() error {
	if !l.stopped {
		return nil
	}
	return errors.Wrap(exception.ErrConnectionLost, l.reason)
}

// step waits up to wait for the first event or call (forever when negative,
// not at all when zero), drains what else is queued, then flushes tickers and
// expires requests once.
func (l *Loop) step(ctx context.Context, wait time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	wait = l.clampWait(wait)
	var timeout <-chan time.Time
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		timeout = timer.C
	}

	var (
		changed  bool
		received int
	)
	if wait != 0 {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case ev, ok := <-l.cfg.Events:
			received++
			changed = l.handle(ev, ok) || changed
		case fn, ok := <-l.calls.C():
			if ok {
				l.call(fn)
				changed = true
			}
		case <-timeout:
		}
	}

	start := time.Now()
	n, drained := l.drain()
	received += n
	changed = drained || changed

	if l.cfg.Flush != nil {
		if flushed := l.cfg.Flush(); flushed > 0 {
			l.cfg.Metrics.ObserveFlush(flushed)
			changed = true
		}
	}

	now := l.cfg.Clock()
	if l.cfg.Expire != nil && l.cfg.Expire(now) > 0 {
		changed = true
	}
	l.checkIdle(now, received)

	if changed {
		l.updates++
		if l.cfg.OnUpdate != nil {
			l.cfg.OnUpdate(l.updates, received)
		}
	}
	l.cfg.Metrics.ObserveIteration(time.Since(start))
	return changed, nil
}

func (l *Loop) drain() (int, bool) {
	var (
		received int
		changed  bool
	)
	for i := 0; i < l.cfg.MaxBatch && !l.stopped; i++ {
		select {
		case ev, ok := <-l.cfg.Events:
			received++
			changed = l.handle(ev, ok) || changed
		case fn, ok := <-l.calls.C():
			if !ok {
				return received, changed
			}
			l.call(fn)
			changed = true
		default:
			return received, changed
		}
	}
	return received, changed
}

func (l *Loop) handle(ev model.Event, ok bool) bool {
	if !ok {
		l.cfg.Events = nil
		ev = model.DisconnectedEvent{Reason: "transport closed"}
	}
	l.lastRecv = l.cfg.Clock()
	l.idleFired = false

	changed := l.cfg.Dispatch(ev)
	if ev.EventKind() == enum.EventDisconnected {
		reason := ev.(model.DisconnectedEvent).Reason
		logs.Infof("loop: stop, %s", reason)
		l.Stop(reason)
		return true
	}
	return changed
}

func (l *Loop) call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logs.Errorf("loop: submitted call panicked, err: %+v", r)
		}
	}()
	fn()
}

// clampWait shortens a wait so the loop wakes for the next request deadline
// and the idle timeout.
func (l *Loop) clampWait(wait time.Duration) time.Duration {
	if wait == 0 {
		return 0
	}
	now := l.cfg.Clock()
	limit := func(at time.Time) {
		d := at.Sub(now)
		if d <= 0 {
			d = time.Millisecond
		}
		if wait < 0 || d < wait {
			wait = d
		}
	}
	if l.cfg.NextDeadline != nil {
		if at, ok := l.cfg.NextDeadline(); ok {
			limit(at)
		}
	}
	if l.idleTimeout > 0 && !l.idleFired {
		limit(l.lastRecv.Add(l.idleTimeout))
	}
	return wait
}

func (l *Loop) checkIdle(now time.Time, received int) {
	if l.idleTimeout <= 0 || l.idleFired || received > 0 || l.stopped {
		return
	}
	idle := now.Sub(l.lastRecv)
	if idle < l.idleTimeout {
		return
	}
	l.idleFired = true
	logs.Infof("loop: no data for %s", idle)
	if l.cfg.OnIdle != nil {
		l.cfg.OnIdle(idle)
	}
}
