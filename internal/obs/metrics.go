package obs

import (
	"sync/atomic"
	"time"

	"tradecore/internal/model/enum"
)

// Metrics collects lightweight counters and latency stats of a session.
// Every method is safe on a nil receiver.
type Metrics struct {
	eventCounts      [enum.EventKindCount]uint64
	riskReasonCounts [enum.RiskReasonCount]uint64

	decodeDrops       uint64
	unknownOrders     uint64
	rejectedEvents    uint64
	orphanCommissions uint64
	flushBatches      uint64
	flushedTickers    uint64
	requestTimeouts   uint64
	listenerPanics    uint64
	queueDrops        uint64
	queueClosed       uint64
	iterations        uint64

	dispatchLatency LatencyStats
	requestLatency  LatencyStats
	iterLatency     LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	EventCounts       map[enum.EventKind]uint64
	RiskReasonCounts  map[enum.RiskReason]uint64
	DecodeDrops       uint64
	UnknownOrders     uint64
	RejectedEvents    uint64
	OrphanCommissions uint64
	FlushBatches      uint64
	FlushedTickers    uint64
	RequestTimeouts   uint64
	ListenerPanics    uint64
	QueueDrops        uint64
	QueueClosed       uint64
	Iterations        uint64
	DispatchLatency   LatencySnapshot
	RequestLatency    LatencySnapshot
	IterationLatency  LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// ObserveEvent counts a dispatched event and the time spent applying it.
func (m *Metrics) ObserveEvent(kind enum.EventKind, d time.Duration) {
	if m == nil {
		return
	}
	idx := int(kind)
	if idx >= 0 && idx < len(m.eventCounts) {
		atomic.AddUint64(&m.eventCounts[idx], 1)
	}
	m.dispatchLatency.Observe(d)
}

// IncRiskReason increments the risk reason counter.
func (m *Metrics) IncRiskReason(reason enum.RiskReason) {
	if m == nil {
		return
	}
	idx := int(reason)
	if idx >= 0 && idx < len(m.riskReasonCounts) {
		atomic.AddUint64(&m.riskReasonCounts[idx], 1)
	}
}

// IncDecodeDrop records an inbound message that could not be decoded.
func (m *Metrics) IncDecodeDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.decodeDrops, 1)
}

// IncUnknownOrder records an event for an order the session does not know.
func (m *Metrics) IncUnknownOrder() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.unknownOrders, 1)
}

// IncRejectedEvent records an event the registry refused to apply.
func (m *Metrics) IncRejectedEvent() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.rejectedEvents, 1)
}

// IncOrphanCommission records a commission report parked without its fill.
func (m *Metrics) IncOrphanCommission() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.orphanCommissions, 1)
}

// ObserveFlush records one ticker batch.
func (m *Metrics) ObserveFlush(tickers int) {
	if m == nil || tickers <= 0 {
		return
	}
	atomic.AddUint64(&m.flushBatches, 1)
	atomic.AddUint64(&m.flushedTickers, uint64(tickers))
}

// IncRequestTimeout records a correlated request that expired.
func (m *Metrics) IncRequestTimeout() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.requestTimeouts, 1)
}

// IncListenerPanic records a recovered bus listener panic.
func (m *Metrics) IncListenerPanic() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.listenerPanics, 1)
}

// IncQueueDrop records a queue drop.
func (m *Metrics) IncQueueDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.queueDrops, 1)
}

// IncQueueClosed records a closed-queue publish attempt.
func (m *Metrics) IncQueueClosed() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.queueClosed, 1)
}

// ObserveIteration measures one loop iteration.
func (m *Metrics) ObserveIteration(d time.Duration) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.iterations, 1)
	m.iterLatency.Observe(d)
}

// ObserveRequest measures a correlated request round trip.
func (m *Metrics) ObserveRequest(d time.Duration) {
	if m == nil {
		return
	}
	m.requestLatency.Observe(d)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	eventCounts := make(map[enum.EventKind]uint64)
	for i := range m.eventCounts {
		if v := atomic.LoadUint64(&m.eventCounts[i]); v > 0 {
			eventCounts[enum.EventKind(i)] = v
		}
	}
	riskCounts := make(map[enum.RiskReason]uint64)
	for i := range m.riskReasonCounts {
		if v := atomic.LoadUint64(&m.riskReasonCounts[i]); v > 0 {
			riskCounts[enum.RiskReason(i)] = v
		}
	}
	return Snapshot{
		EventCounts:       eventCounts,
		RiskReasonCounts:  riskCounts,
		DecodeDrops:       atomic.LoadUint64(&m.decodeDrops),
		UnknownOrders:     atomic.LoadUint64(&m.unknownOrders),
		RejectedEvents:    atomic.LoadUint64(&m.rejectedEvents),
		OrphanCommissions: atomic.LoadUint64(&m.orphanCommissions),
		FlushBatches:      atomic.LoadUint64(&m.flushBatches),
		FlushedTickers:    atomic.LoadUint64(&m.flushedTickers),
		RequestTimeouts:   atomic.LoadUint64(&m.requestTimeouts),
		ListenerPanics:    atomic.LoadUint64(&m.listenerPanics),
		QueueDrops:        atomic.LoadUint64(&m.queueDrops),
		QueueClosed:       atomic.LoadUint64(&m.queueClosed),
		Iterations:        atomic.LoadUint64(&m.iterations),
		DispatchLatency:   m.dispatchLatency.Snapshot(),
		RequestLatency:    m.requestLatency.Snapshot(),
		IterationLatency:  m.iterLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		lo := atomic.LoadUint64(&l.min)
		if lo != 0 && nanos >= lo {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, lo, nanos) {
			break
		}
	}

	for {
		hi := atomic.LoadUint64(&l.max)
		if nanos <= hi {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, hi, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(atomic.LoadUint64(&l.min)),
		Max:   time.Duration(atomic.LoadUint64(&l.max)),
		Avg:   time.Duration(sum / count),
	}
}
