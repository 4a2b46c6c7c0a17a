package obs

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tradecore"

// Exporter mirrors a Metrics snapshot into a Prometheus registry.
type Exporter struct {
	metrics  *Metrics
	registry *prometheus.Registry

	events   *prometheus.Desc
	risk     *prometheus.Desc
	counters []counterDesc
	latency  *prometheus.Desc
}

type counterDesc struct {
	desc  *prometheus.Desc
	value func(Snapshot) uint64
}

// NewExporter registers the collectors of m on a fresh registry.
func NewExporter(m *Metrics) *Exporter {
	e := &Exporter{
		metrics:  m,
		registry: prometheus.NewRegistry(),
		events: prometheus.NewDesc(namespace+"_events_total",
			"Inbound broker events dispatched, by kind.", []string{"kind"}, nil),
		risk: prometheus.NewDesc(namespace+"_risk_decisions_total",
			"Pre-trade risk decisions, by reason.", []string{"reason"}, nil),
		latency: prometheus.NewDesc(namespace+"_latency_avg_seconds",
			"Average latency, by stage.", []string{"stage"}, nil),
	}
	e.counters = []counterDesc{
		e.counter("decode_drops_total", "Inbound messages dropped by the decoder.", func(s Snapshot) uint64 { return s.DecodeDrops }),
		e.counter("unknown_orders_total", "Events for orders the session does not know.", func(s Snapshot) uint64 { return s.UnknownOrders }),
		e.counter("rejected_events_total", "Events the registry refused to apply.", func(s Snapshot) uint64 { return s.RejectedEvents }),
		e.counter("orphan_commissions_total", "Commission reports parked without a fill.", func(s Snapshot) uint64 { return s.OrphanCommissions }),
		e.counter("ticker_flushes_total", "Pending ticker batches emitted.", func(s Snapshot) uint64 { return s.FlushBatches }),
		e.counter("ticker_flushed_total", "Tickers emitted across all batches.", func(s Snapshot) uint64 { return s.FlushedTickers }),
		e.counter("request_timeouts_total", "Correlated requests that expired.", func(s Snapshot) uint64 { return s.RequestTimeouts }),
		e.counter("listener_panics_total", "Recovered bus listener panics.", func(s Snapshot) uint64 { return s.ListenerPanics }),
		e.counter("queue_drops_total", "Values dropped by a full queue.", func(s Snapshot) uint64 { return s.QueueDrops }),
		e.counter("loop_iterations_total", "Event loop iterations.", func(s Snapshot) uint64 { return s.Iterations }),
	}

	e.registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		e,
	)
	return e
}

func (e *Exporter) counter(name, help string, value func(Snapshot) uint64) counterDesc {
	return counterDesc{
		desc:  prometheus.NewDesc(namespace+"_"+name, help, nil, nil),
		value: value,
	}
}

// Registry exposes the underlying registry.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Handler exposes the Prometheus metrics endpoint handler.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- e.events
	ch <- e.risk
	ch <- e.latency
	for _, c := range e.counters {
		ch <- c.desc
	}
}

// Collect implements prometheus.Collector.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	s := e.metrics.Snapshot()
	for kind, v := range s.EventCounts {
		ch <- prometheus.MustNewConstMetric(e.events, prometheus.CounterValue, float64(v), kind.String())
	}
	for reason, v := range s.RiskReasonCounts {
		ch <- prometheus.MustNewConstMetric(e.risk, prometheus.CounterValue, float64(v), reason.String())
	}
	for _, c := range e.counters {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.CounterValue, float64(c.value(s)))
	}
	for stage, l := range map[string]LatencySnapshot{
		"dispatch":  s.DispatchLatency,
		"request":   s.RequestLatency,
		"iteration": s.IterationLatency,
	} {
		ch <- prometheus.MustNewConstMetric(e.latency, prometheus.GaugeValue, l.Avg.Seconds(), stage)
	}
}
