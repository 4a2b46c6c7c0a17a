package correlator

import (
	"time"

	"github.com/yanun0323/errors"

	"tradecore/internal/model/enum"
	"tradecore/pkg/exception"
)

// Future is the pending result of a correlated request. It is completed by
// the loop goroutine; callers poll Done while pumping the loop.
type Future struct {
	id       int64
	kind     enum.RequestKind
	key      string
	deadline time.Time

	done  bool
	value any
	items []any
	err   error
}

func (f *Future) ID() int64              { return f.id }
func (f *Future) Kind() enum.RequestKind { return f.kind }
func (f *Future) Key() string            { return f.key }
func (f *Future) Deadline() time.Time    { return f.deadline }
func (f *Future) Done() bool             { return f.done }
func (f *Future) Err() error             { return f.err }

// Result returns the value and error of a completed Future.
func (f *Future) Result() (any, error) {
	return f.value, f.err
}

// Items returns the items accumulated by a streaming response so far.
func (f *Future) Items() []any {
	out := make([]any, len(f.items))
	copy(out, f.items)
	return out
}

func (f *Future) complete(value any, err error) {
	if f.done {
		return
	}
	f.done = true
	f.value = value
	f.err = err
}

// Value returns the result of a completed Future as T.
func Value[T any](f *Future) (T, error) {
	var zero T
	if !f.done {
		return zero, errors.Wrapf(exception.ErrTimeout, "%s request %d still pending", f.kind, f.id)
	}
	if f.err != nil {
		return zero, f.err
	}
	v, ok := f.value.(T)
	if !ok {
		return zero, errors.Wrapf(exception.ErrUnexpectedResponse, "%s request %d resolved with %T", f.kind, f.id, f.value)
	}
	return v, nil
}

// Collect returns the items of a finished streaming Future as []T.
func Collect[T any](f *Future) ([]T, error) {
	items, err := Value[[]any](f)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(items))
	for _, it := range items {
		v, ok := it.(T)
		if !ok {
			return nil, errors.Wrapf(exception.ErrUnexpectedResponse, "%s request %d item %T", f.kind, f.id, it)
		}
		out = append(out, v)
	}
	return out, nil
}
