package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryReturnsExisting(t *testing.T) {
	r := NewRegistry("test")
	c1 := r.Counter("events_total", "events")
	c2 := r.Counter("events_total", "ignored")
	assert.Same(t, c1, c2)

	c1.Inc()
	c2.Add(2)
	assert.Equal(t, uint64(3), c1.Value())
}

func TestHistogramBuckets(t *testing.T) {
	r := NewRegistry("")
	h := r.Histogram("latency_seconds", "latency", []float64{1, 0.1})
	h.Observe(0.05)
	h.Observe(0.1)
	h.Observe(0.5)
	h.ObserveDuration(3 * time.Second)

	assert.Equal(t, uint64(4), h.Count())
	assert.InDelta(t, 3.65, h.Sum(), 1e-9)

	var b strings.Builder
	require.NoError(t, r.WritePrometheus(&b))
	out := b.String()
	assert.Contains(t, out, `latency_seconds_bucket{le="0.1"} 2`)
	assert.Contains(t, out, `latency_seconds_bucket{le="1"} 3`)
	assert.Contains(t, out, `latency_seconds_bucket{le="+Inf"} 4`)
	assert.Contains(t, out, "latency_seconds_count 4")
}

func TestWritePrometheusIsSorted(t *testing.T) {
	r := NewRegistry("ns")
	r.Counter("b_total", "b").Inc()
	r.Counter("a_total", "a")
	r.Gauge("level", "level").Set(-2)

	var b strings.Builder
	require.NoError(t, r.WritePrometheus(&b))
	out := b.String()

	assert.Less(t, strings.Index(out, "ns_a_total"), strings.Index(out, "ns_b_total"))
	assert.Contains(t, out, "# TYPE ns_level gauge\nns_level -2\n")
}

func TestOrchestratorMetrics(t *testing.T) {
	r := NewRegistry("duodisplayd")
	m := NewOrchestratorMetrics(r)
	m.TransactionsTotal.Inc()
	m.SubscriptionsActive.Add(4)
	m.SubscriptionsActive.Add(-1)
	m.TransactionDuration.ObserveDuration(1200 * time.Millisecond)

	snap := r.Snapshot()
	assert.Equal(t, 1.0, snap["duodisplayd_transactions_total"])
	assert.Equal(t, 3.0, snap["duodisplayd_subscriptions_active"])
	assert.Equal(t, 1.0, snap["duodisplayd_transaction_duration_seconds_count"])
	assert.Same(t, r, m.Registry())

	assert.NotNil(t, NewOrchestratorMetrics(nil).Registry())
}
