package bus

import (
	"github.com/yanun0323/logs"
)

// Topic names a typed event stream. Topic names must be unique per Bus.
type Topic[T any] struct {
	name string
}

// NewTopic declares a topic carrying values of type T.
func NewTopic[T any](name string) Topic[T] {
	return Topic[T]{name: name}
}

func (t Topic[T]) Name() string {
	return t.name
}

// Handle identifies one listener registration.
type Handle struct {
	topic string
	id    uint64
}

// IsZero reports whether the handle was never issued.
func (h Handle) IsZero() bool {
	return h.id == 0
}

type listener struct {
	id uint64
	fn func(any)
}

// Bus is a synchronous publish/subscribe registry. Listeners run on the
// publishing goroutine in subscription order. Bus is not safe for concurrent use.
type Bus struct {
	nextID    uint64
	listeners map[string][]listener
	onPanic   func(topic string)
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{listeners: make(map[string][]listener)}
}

// OnPanic installs a hook called after a listener panic was recovered.
func (b *Bus) OnPanic(fn func(topic string)) {
	b.onPanic = fn
}

// Subscribe registers fn on topic and returns the handle to remove it.
func Subscribe[T any](b *Bus, topic Topic[T], fn func(T)) Handle {
	b.nextID++
	id := b.nextID
	b.listeners[topic.name] = append(b.listeners[topic.name], listener{
		id: id,
		fn: func(v any) { fn(v.(T)) },
	})
	return Handle{topic: topic.name, id: id}
}

// Publish delivers v to every listener of topic and returns how many ran.
// A listener added during delivery first runs on the next publish; one removed
// during delivery is skipped.
func Publish[T any](b *Bus, topic Topic[T], v T) int {
	current := b.listeners[topic.name]
	if len(current) == 0 {
		return 0
	}
	snapshot := make([]listener, len(current))
	copy(snapshot, current)

	delivered := 0
	for _, l := range snapshot {
		if !b.active(topic.name, l.id) {
			continue
		}
		if b.call(topic.name, l, v) {
			delivered++
		}
	}
	return delivered
}

// Unsubscribe removes the listener behind h. It returns false when h is unknown.
func (b *Bus) Unsubscribe(h Handle) bool {
	current := b.listeners[h.topic]
	for i, l := range current {
		if l.id != h.id {
			continue
		}
		next := make([]listener, 0, len(current)-1)
		next = append(next, current[:i]...)
		next = append(next, current[i+1:]...)
		if len(next) == 0 {
			delete(b.listeners, h.topic)
		} else {
			b.listeners[h.topic] = next
		}
		return true
	}
	return false
}

// Listeners returns the number of listeners on a topic name.
func (b *Bus) Listeners(name string) int {
	return len(b.listeners[name])
}

func (b *Bus) active(name string, id uint64) bool {
	for _, l := range b.listeners[name] {
		if l.id == id {
			return true
		}
	}
	return false
}

func (b *Bus) call(name string, l listener, v any) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logs.Errorf("bus: listener %d on %s panicked, err: %+v", l.id, name, r)
			ok = false
			if b.onPanic != nil {
				b.onPanic(name)
			}
		}
	}()
	l.fn(v)
	return true
}
