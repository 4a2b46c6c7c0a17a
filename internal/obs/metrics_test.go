package obs

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/model/enum"
)

func TestMetricsSnapshot(t *testing.T) {
	m := NewMetrics()
	m.ObserveEvent(enum.EventOrderStatus, 2*time.Microsecond)
	m.ObserveEvent(enum.EventOrderStatus, 4*time.Microsecond)
	m.ObserveEvent(enum.EventTick, time.Microsecond)
	m.IncDecodeDrop()
	m.IncRiskReason(enum.RiskReasonKillSwitch)
	m.ObserveFlush(3)
	m.ObserveFlush(0)

	s := m.Snapshot()
	assert.Equal(t, uint64(2), s.EventCounts[enum.EventOrderStatus])
	assert.Equal(t, uint64(1), s.EventCounts[enum.EventTick])
	assert.Equal(t, uint64(1), s.DecodeDrops)
	assert.Equal(t, uint64(1), s.RiskReasonCounts[enum.RiskReasonKillSwitch])
	assert.Equal(t, uint64(1), s.FlushBatches)
	assert.Equal(t, uint64(3), s.FlushedTickers)
	assert.Equal(t, uint64(3), s.DispatchLatency.Count)
	assert.Equal(t, time.Microsecond, s.DispatchLatency.Min)
	assert.Equal(t, 4*time.Microsecond, s.DispatchLatency.Max)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveEvent(enum.EventTick, time.Second)
	m.IncDecodeDrop()
	assert.Equal(t, Snapshot{}, m.Snapshot())
}

func TestExporter(t *testing.T) {
	m := NewMetrics()
	e := NewExporter(m)
	m.ObserveEvent(enum.EventExecDetails, time.Millisecond)
	m.IncDecodeDrop()
	m.IncDecodeDrop()

	count, err := testutil.GatherAndCount(e.Registry(), "tradecore_events_total", "tradecore_decode_drops_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	rec := httptest.NewRecorder()
	e.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `tradecore_events_total{kind="execDetails"} 1`), body)
	assert.True(t, strings.Contains(body, "tradecore_decode_drops_total 2"), body)
}

func TestIDGenerator(t *testing.T) {
	g := NewIDGenerator(1)
	assert.Equal(t, int64(1), g.Next())
	assert.Equal(t, int64(2), g.Next())

	g.Advance(100)
	assert.Equal(t, int64(100), g.Peek())
	assert.Equal(t, int64(100), g.Next())

	g.Advance(50)
	assert.Equal(t, int64(101), g.Next(), "ids never move backwards")
}
