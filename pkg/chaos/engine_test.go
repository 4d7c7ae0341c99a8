package chaos

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fabricmon/pkg/fabric"
	"fabricmon/pkg/model"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestEngine() (*Engine, *fakeClock) {
	clk := &fakeClock{now: time.Unix(1700000000, 0)}
	e := NewEngine(nil)
	e.Now = func() time.Time { return clk.now }
	return e, clk
}

// gpu0 - gpu1 - gpu2 - gpu3 chain
func lineFabric(t *testing.T) *fabric.Fabric {
	t.Helper()
	f := fabric.New(10)
	for _, id := range []string{"gpu0", "gpu1", "gpu2", "gpu3"} {
		require.NoError(t, f.AddNode(model.Node{ID: id, Type: model.NodeGPU}))
	}
	for _, pair := range [][2]string{{"gpu0", "gpu1"}, {"gpu1", "gpu2"}, {"gpu2", "gpu3"}} {
		require.NoError(t, f.AddLink(model.Link{
			A: pair[0], B: pair[1], Type: model.LinkNVLink, BandwidthGbps: 400, BaseLatencyUs: 1.0,
		}))
	}
	return f
}

func TestLinkFailureLifecycle(t *testing.T) {
	e, clk := newTestEngine()
	f := lineFabric(t)

	ev, err := e.Inject(f, model.ChaosRequest{
		Type: model.ChaosLinkFailure, Target: "gpu0-gpu1", DurationSec: 60,
	})
	require.NoError(t, err)
	assert.True(t, ev.Active)
	assert.Equal(t, 1, e.ActiveCount())

	l, _ := f.Link("gpu0-gpu1")
	assert.True(t, l.Failed)
	assert.Zero(t, l.Health)

	clk.Advance(30 * time.Second)
	assert.Empty(t, e.Step(f))
	assert.True(t, l.Failed)

	clk.Advance(31 * time.Second)
	ended := e.Step(f)
	require.Len(t, ended, 1)
	assert.False(t, ended[0].Active)
	assert.False(t, l.Failed)
	assert.Zero(t, e.ActiveCount())
}

func TestInjectRejectsBadRequests(t *testing.T) {
	e, _ := newTestEngine()
	f := lineFabric(t)

	_, err := e.Inject(f, model.ChaosRequest{Type: model.ChaosLinkFailure, Target: "nope"})
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = e.Inject(f, model.ChaosRequest{Type: "meteor_strike", Target: "gpu0-gpu1"})
	assert.Error(t, err)

	_, err = e.Inject(f, model.ChaosRequest{Type: model.ChaosLinkFailure})
	assert.Error(t, err)

	_, err = e.Inject(f, model.ChaosRequest{
		Type: model.ChaosCascading, Targets: []string{"gpu0-gpu1", "gpu1-gpu2"},
	})
	assert.Error(t, err)
	assert.Zero(t, e.ActiveCount())
}

func TestRefreshExtendsInsteadOfStacking(t *testing.T) {
	e, clk := newTestEngine()
	f := lineFabric(t)

	first, err := e.Inject(f, model.ChaosRequest{
		Type: model.ChaosLinkFailure, Target: "gpu0-gpu1", DurationSec: 60,
	})
	require.NoError(t, err)

	clk.Advance(30 * time.Second)
	second, err := e.Inject(f, model.ChaosRequest{
		Type: model.ChaosLinkFailure, Target: "gpu0-gpu1", DurationSec: 60,
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, e.ActiveCount())
	assert.True(t, second.ExpiresAt.After(first.ExpiresAt))

	// past the original expiry but inside the refreshed one
	clk.Advance(40 * time.Second)
	assert.Empty(t, e.Step(f))
	l, _ := f.Link("gpu0-gpu1")
	assert.True(t, l.Failed)

	clk.Advance(21 * time.Second)
	assert.Len(t, e.Step(f), 1)
	assert.False(t, l.Failed)
}

func TestCongestionStormOverlap(t *testing.T) {
	e, _ := newTestEngine()
	f := lineFabric(t)
	la, _ := f.Link("gpu0-gpu1")
	lb, _ := f.Link("gpu1-gpu2")

	_, err := e.Inject(f, model.ChaosRequest{
		Type: model.ChaosCongestionStorm, Targets: []string{"gpu0-gpu1"}, Multiplier: 4, DurationSec: 60,
	})
	require.NoError(t, err)
	big, err := e.Inject(f, model.ChaosRequest{
		Type: model.ChaosCongestionStorm, Targets: []string{"gpu0-gpu1", "gpu1-gpu2"}, Multiplier: 8, DurationSec: 60,
	})
	require.NoError(t, err)

	assert.Equal(t, 8.0, la.CongestionBoost)
	assert.Equal(t, 8.0, lb.CongestionBoost)

	// the smaller storm survives the big one's cancellation
	_, err = e.Cancel(f, big.ID)
	require.NoError(t, err)
	assert.Equal(t, 4.0, la.CongestionBoost)
	assert.Zero(t, lb.CongestionBoost)
}

func TestStormDefaultMultiplier(t *testing.T) {
	e, _ := newTestEngine()
	f := lineFabric(t)
	ev, err := e.Inject(f, model.ChaosRequest{
		Type: model.ChaosCongestionStorm, Target: "gpu0-gpu1", DurationSec: 60,
	})
	require.NoError(t, err)
	assert.Equal(t, 4.0, ev.Multiplier)
}

func TestCascadingDegradationDecayAndRevert(t *testing.T) {
	e, _ := newTestEngine()
	f := lineFabric(t)

	ev, err := e.Inject(f, model.ChaosRequest{
		Type: model.ChaosCascading, Target: "gpu1-gpu2", Factor: 0.5, Hops: 1, DurationSec: 60,
	})
	require.NoError(t, err)

	seed, _ := f.Link("gpu1-gpu2")
	near, _ := f.Link("gpu0-gpu1")
	far, _ := f.Link("gpu2-gpu3")
	assert.InDelta(t, 0.5, seed.Degradation, 1e-9)
	assert.InDelta(t, 0.25, near.Degradation, 1e-9)
	assert.InDelta(t, 0.25, far.Degradation, 1e-9)

	_, err = e.Cancel(f, ev.ID)
	require.NoError(t, err)
	assert.Zero(t, seed.Degradation)
	assert.Zero(t, near.Degradation)
	assert.Zero(t, far.Degradation)
}

func TestCascadingDegradationClampsAtOne(t *testing.T) {
	e, _ := newTestEngine()
	f := lineFabric(t)
	near, _ := f.Link("gpu0-gpu1")
	near.Degradation = 0.9

	ev, err := e.Inject(f, model.ChaosRequest{
		Type: model.ChaosCascading, Target: "gpu1-gpu2", Factor: 0.5, Hops: 1, DurationSec: 60,
	})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, near.Degradation, 1e-9)

	_, err = e.Cancel(f, ev.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.9, near.Degradation, 1e-9)
}

func TestHopsLimitCascade(t *testing.T) {
	e, _ := newTestEngine()
	f := lineFabric(t)
	_, err := e.Inject(f, model.ChaosRequest{
		Type: model.ChaosCascading, Target: "gpu0-gpu1", Factor: 0.5, Hops: 0, DurationSec: 60,
	})
	require.NoError(t, err)
	seed, _ := f.Link("gpu0-gpu1")
	next, _ := f.Link("gpu1-gpu2")
	assert.InDelta(t, 0.5, seed.Degradation, 1e-9)
	assert.Zero(t, next.Degradation)
}

func TestManuallyFailedLinkStaysDown(t *testing.T) {
	e, clk := newTestEngine()
	f := lineFabric(t)
	require.NoError(t, f.SetFailed("gpu0-gpu1", true))

	_, err := e.Inject(f, model.ChaosRequest{
		Type: model.ChaosLinkFailure, Target: "gpu0-gpu1", DurationSec: 10,
	})
	require.NoError(t, err)

	clk.Advance(11 * time.Second)
	e.Step(f)
	l, _ := f.Link("gpu0-gpu1")
	assert.True(t, l.Failed, "chaos must not revert a failure it did not cause")
}

func TestCancelUnknownEvent(t *testing.T) {
	e, _ := newTestEngine()
	f := lineFabric(t)
	_, err := e.Cancel(f, "nope")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestEventsListing(t *testing.T) {
	e, clk := newTestEngine()
	f := lineFabric(t)

	first, err := e.Inject(f, model.ChaosRequest{
		Type: model.ChaosLinkFailure, Target: "gpu0-gpu1", DurationSec: 60,
	})
	require.NoError(t, err)
	clk.Advance(time.Second)
	_, err = e.Inject(f, model.ChaosRequest{
		Type: model.ChaosCongestionStorm, Target: "gpu1-gpu2", DurationSec: 60,
	})
	require.NoError(t, err)

	_, err = e.Cancel(f, first.ID)
	require.NoError(t, err)

	events := e.Events()
	require.Len(t, events, 2)
	assert.True(t, events[0].Active)
	assert.False(t, events[1].Active)
	assert.Equal(t, first.ID, events[1].ID)
	assert.Equal(t, 1, e.ActiveCount())
}
