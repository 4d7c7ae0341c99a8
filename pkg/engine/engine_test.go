package engine

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fabricmon/pkg/config"
	"fabricmon/pkg/fabric"
	"fabricmon/pkg/model"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// parallelFabric wires gpu0 to sw0 twice: a fast NVLink and a PCIe fallback.
func parallelFabric(t *testing.T) *fabric.Fabric {
	t.Helper()
	f := fabric.New(100)
	require.NoError(t, f.AddNode(model.Node{ID: "gpu0", Type: model.NodeGPU}))
	require.NoError(t, f.AddNode(model.Node{ID: "sw0", Type: model.NodeSwitch}))
	require.NoError(t, f.AddLink(model.Link{
		ID: "linka", A: "gpu0", B: "sw0", Type: model.LinkNVLink,
		BandwidthGbps: 400, BaseLatencyUs: 1.0,
	}))
	require.NoError(t, f.AddLink(model.Link{
		ID: "linkb", A: "gpu0", B: "sw0", Type: model.LinkPCIe,
		BandwidthGbps: 128, BaseLatencyUs: 4.0,
	}))
	return f
}

// newTestEngine builds a fully deterministic engine: no telemetry noise, no
// latency spikes, a fake clock.
func newTestEngine(t *testing.T, f *fabric.Fabric) (*Engine, *fakeClock) {
	t.Helper()
	cfg := config.Default()
	cfg.Telemetry.Noise = 0
	cfg.Telemetry.SpikeProb = 0
	e, err := New(f, cfg, nil, nil, nil)
	require.NoError(t, err)
	clk := &fakeClock{now: time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)}
	e.Now = clk.Now
	return e, clk
}

func runTicks(t *testing.T, e *Engine, clk *fakeClock, n int) model.TickSummary {
	t.Helper()
	var last model.TickSummary
	for i := 0; i < n; i++ {
		clk.Advance(time.Second)
		sum, err := e.Tick()
		require.NoError(t, err)
		last = sum
	}
	return last
}

func TestTickStormReroutesJob(t *testing.T) {
	f := parallelFabric(t)
	e, clk := newTestEngine(t, f)

	job, err := e.CreateJob("gpu0", "sw0", 50)
	require.NoError(t, err)
	assert.Equal(t, []string{"linka"}, job.Path)
	assert.Equal(t, model.JobStable, job.State)
	assert.InDelta(t, 0.25, job.PathCost, 1e-9)

	sum := runTicks(t, e, clk, 12)
	assert.Equal(t, int64(12), sum.Tick)
	assert.Zero(t, sum.Reroutes)
	assert.Zero(t, sum.Anomalies)

	recs := e.HealthRecords()
	assert.InDelta(t, 0.9375, recs["linka"].Score, 1e-9)
	assert.InDelta(t, 0.8875, recs["linkb"].Score, 1e-9)
	kpi, err := e.LatestKPI()
	require.NoError(t, err)
	assert.InDelta(t, 0.9125, kpi.FleetHealth, 1e-9)
	assert.Equal(t, map[string]int{model.JobStable: 1}, kpi.Jobs)

	_, err = e.InjectChaos(model.ChaosRequest{
		Type:        model.ChaosCongestionStorm,
		Target:      "linka",
		Multiplier:  20,
		DurationSec: 3600,
	})
	require.NoError(t, err)

	// first storm tick: utilization pegs, smoothed health dips below the
	// reroute threshold, and the optimizer switches to the PCIe fallback
	sum = runTicks(t, e, clk, 1)
	assert.Equal(t, 1, sum.Anomalies)
	assert.Equal(t, 1, sum.Reroutes)

	moved, err := e.Job(job.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"linkb"}, moved.Path)
	assert.Equal(t, model.JobRerouting, moved.State)
	assert.InDelta(t, 0.57875, e.HealthRecords()["linka"].Score, 1e-9)

	decisions := e.Decisions(1)
	require.Len(t, decisions, 1)
	assert.Equal(t, model.ReasonDegraded, decisions[0].Reason)
	assert.Equal(t, []string{"linka"}, decisions[0].OldPath)
	assert.Equal(t, []string{"linkb"}, decisions[0].NewPath)

	// second storm tick: smoothing carries linka into the Poor band and the
	// job settles on its new path
	sum = runTicks(t, e, clk, 1)
	assert.InDelta(t, 0.471125, e.HealthRecords()["linka"].Score, 1e-9)
	assert.Equal(t, model.BandPoor, e.HealthRecords()["linka"].Band)

	settled, err := e.Job(job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStable, settled.State)

	require.Len(t, sum.NewAlerts, 1)
	assert.Equal(t, model.AlertHealth, sum.NewAlerts[0].Kind)
	assert.Equal(t, model.SeverityWarning, sum.NewAlerts[0].Severity)
}

func TestTickLinkFailureAndRecovery(t *testing.T) {
	f := parallelFabric(t)
	e, clk := newTestEngine(t, f)

	job, err := e.CreateJob("gpu0", "sw0", 50)
	require.NoError(t, err)
	require.Equal(t, []string{"linka"}, job.Path)

	runTicks(t, e, clk, 3)

	_, err = e.InjectChaos(model.ChaosRequest{
		Type:        model.ChaosLinkFailure,
		Target:      "linka",
		DurationSec: 60,
	})
	require.NoError(t, err)

	sum := runTicks(t, e, clk, 1)
	assert.Equal(t, 1, sum.FailedLinks)
	assert.Equal(t, 1, sum.Reroutes)

	rec := e.HealthRecords()["linka"]
	assert.Zero(t, rec.Score)
	assert.Equal(t, model.BandCritical, rec.Band)

	moved, err := e.Job(job.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"linkb"}, moved.Path)

	// jump past expiry; the failure reverts at the end of this tick
	clk.Advance(61 * time.Second)
	sum, err = e.Tick()
	require.NoError(t, err)
	var expired bool
	for _, a := range sum.NewAlerts {
		if a.Kind == model.AlertChaos {
			expired = true
		}
	}
	assert.True(t, expired, "expected a chaos expiry alert")

	for _, l := range e.Snapshot().Links {
		if l.ID == "linka" {
			assert.False(t, l.Failed)
		}
	}

	// next tick resamples the link; smoothing climbs back from zero
	runTicks(t, e, clk, 1)
	assert.InDelta(t, 0.65625, e.HealthRecords()["linka"].Score, 1e-9)
}

func TestIngestTelemetryPartialBatch(t *testing.T) {
	f := parallelFabric(t)
	e, _ := newTestEngine(t, f)

	good := model.TelemetrySample{
		Timestamp: time.Now(), LatencyUs: 2.0, Utilization: 0.4,
		BER: 1e-11, TempC: 50, CRCErrors: 3,
	}
	bad := good
	bad.LatencyUs = -1

	results := e.IngestTelemetry([]model.TelemetryBatchItem{
		{LinkID: "linka", Sample: good},
		{LinkID: "ghost", Sample: good},
		{LinkID: "linkb", Sample: bad},
	})
	require.Len(t, results, 3)
	assert.True(t, results[0].Accepted)
	assert.False(t, results[1].Accepted)
	assert.NotEmpty(t, results[1].Error)
	assert.False(t, results[2].Accepted)

	hist, err := f.History("linka")
	require.NoError(t, err)
	assert.Len(t, hist, 1)
}

func TestStartStopLifecycle(t *testing.T) {
	f := parallelFabric(t)
	e, _ := newTestEngine(t, f)
	e.SetInterval(5 * time.Millisecond)

	require.NoError(t, e.Start())
	assert.True(t, e.Running())
	require.NoError(t, e.Start()) // idempotent

	time.Sleep(60 * time.Millisecond)
	e.Stop()
	assert.False(t, e.Running())
	e.Stop() // idempotent

	st := e.Status()
	assert.False(t, st.Running)
	assert.GreaterOrEqual(t, st.Tick, int64(1))
	assert.Equal(t, 2, st.Links)
	assert.Equal(t, "arima", st.Strategy)
}

func TestGenerateTopologyResetsDerivedState(t *testing.T) {
	f := parallelFabric(t)
	e, clk := newTestEngine(t, f)

	_, err := e.CreateJob("gpu0", "sw0", 50)
	require.NoError(t, err)
	runTicks(t, e, clk, 2)
	require.NotEmpty(t, e.HealthRecords())

	snap, err := e.GenerateTopology(fabric.GenSpec{GPUs: 4, Switches: 2, Seed: 7})
	require.NoError(t, err)
	assert.Len(t, snap.Nodes, 6)
	assert.NotEmpty(t, snap.Links)

	assert.Empty(t, e.Jobs())
	assert.Empty(t, e.HealthRecords())
	assert.Equal(t, int64(2), e.Status().Tick) // counter survives the swap

	runTicks(t, e, clk, 1)
	assert.NotEmpty(t, e.HealthRecords())
}

func TestImportTopologyRefusedWhileRunning(t *testing.T) {
	f := parallelFabric(t)
	e, _ := newTestEngine(t, f)
	snap := e.Snapshot()

	e.SetInterval(50 * time.Millisecond)
	require.NoError(t, e.Start())
	err := e.ImportTopology(snap)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "running")

	e.Stop()
	require.NoError(t, e.ImportTopology(snap))
	assert.Len(t, e.Snapshot().Links, 2)
}

func TestAlertRingCapsAtFifty(t *testing.T) {
	f := parallelFabric(t)
	e, _ := newTestEngine(t, f)

	for i := 0; i < 30; i++ {
		ev, err := e.InjectChaos(model.ChaosRequest{
			Type: model.ChaosCongestionStorm, Target: "linkb", Multiplier: 2, DurationSec: 60,
		})
		require.NoError(t, err)
		_, err = e.CancelChaos(ev.ID)
		require.NoError(t, err)
	}

	all := e.Alerts(0)
	assert.Len(t, all, 50)
	top := e.Alerts(5)
	require.Len(t, top, 5)
	assert.Equal(t, model.AlertChaos, top[0].Kind)
}

func TestKPIBeforeFirstTick(t *testing.T) {
	f := parallelFabric(t)
	e, _ := newTestEngine(t, f)

	_, err := e.LatestKPI()
	assert.True(t, errors.Is(err, model.ErrNoData))

	_, err = e.ForecastFor("linka")
	assert.True(t, errors.Is(err, model.ErrNoData))

	_, err = e.ForecastFor("ghost")
	assert.True(t, errors.Is(err, model.ErrNotFound))
}
