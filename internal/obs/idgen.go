package obs

import (
	"sync/atomic"
)

// IDGenerator hands out monotonically increasing request and order ids.
type IDGenerator struct {
	next int64
}

// NewIDGenerator returns a generator whose first id is seed.
func NewIDGenerator(seed int64) *IDGenerator {
	if seed <= 0 {
		seed = 1
	}
	return &IDGenerator{next: seed - 1}
}

// Next returns the next id.
func (g *IDGenerator) Next() int64 {
	if g == nil {
		return 0
	}
	return atomic.AddInt64(&g.next, 1)
}

// Advance makes sure the next id is at least floor. Ids never move backwards.
func (g *IDGenerator) Advance(floor int64) {
	if g == nil {
		return
	}
	for {
		cur := atomic.LoadInt64(&g.next)
		if cur >= floor-1 {
			return
		}
		if atomic.CompareAndSwapInt64(&g.next, cur, floor-1) {
			return
		}
	}
}

// Peek returns the id Next would hand out.
func (g *IDGenerator) Peek() int64 {
	if g == nil {
		return 0
	}
	return atomic.LoadInt64(&g.next) + 1
}
