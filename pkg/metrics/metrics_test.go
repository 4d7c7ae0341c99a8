package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)

	r.ObserveTick(2 * time.Millisecond)
	r.ObserveTick(3 * time.Millisecond)
	assert.Equal(t, 2.0, testutil.ToFloat64(r.ticks))

	r.RecordAnomaly([]string{"zscore", "rule"})
	r.RecordAnomaly([]string{"zscore"})
	assert.Equal(t, 2.0, testutil.ToFloat64(r.anomalies.WithLabelValues("zscore")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.anomalies.WithLabelValues("rule")))

	r.RecordDecision("degraded")
	assert.Equal(t, 1.0, testutil.ToFloat64(r.reroutes.WithLabelValues("degraded")))

	r.RecordAlert("critical")
	assert.Equal(t, 1.0, testutil.ToFloat64(r.alerts.WithLabelValues("critical")))
}

func TestRecorderGauges(t *testing.T) {
	r := NewRecorder(prometheus.NewRegistry())

	r.SetFleetHealth(0.92)
	assert.Equal(t, 0.92, testutil.ToFloat64(r.fleetHealth))

	r.SetStrandedJobs(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(r.strandedJobs))

	r.SetLinkHealth("gpu0-sw0", 0.8)
	assert.Equal(t, 0.8, testutil.ToFloat64(r.linkHealth.WithLabelValues("gpu0-sw0")))
	r.ResetLinks()
	assert.Zero(t, testutil.CollectAndCount(r.linkHealth))

	r.SetChaosActive(map[string]int{"link_failure": 2})
	assert.Equal(t, 2.0, testutil.ToFloat64(r.chaosActive.WithLabelValues("link_failure")))
	r.SetChaosActive(nil)
	assert.Zero(t, testutil.CollectAndCount(r.chaosActive))
}

func TestRecorderSeparateRegistries(t *testing.T) {
	// two recorders must not collide
	a := NewRecorder(prometheus.NewRegistry())
	b := NewRecorder(prometheus.NewRegistry())
	require.NotNil(t, a)
	require.NotNil(t, b)
	a.ObserveTick(time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(a.ticks))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.ticks))
}
