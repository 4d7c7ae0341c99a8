package archive

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fabricmon/pkg/model"
)

func testAlert(id string, tick int64, ts time.Time) model.Alert {
	return model.Alert{
		ID:        id,
		Severity:  model.SeverityWarning,
		Kind:      model.AlertHealth,
		Ref:       "nvlink-0",
		Message:   "health dropped below 0.60",
		Tick:      tick,
		Timestamp: ts,
	}
}

func TestOpenDispatch(t *testing.T) {
	a, err := Open("none", "", nil)
	require.NoError(t, err)
	assert.IsType(t, Nop{}, a)

	a, err = Open("", "", nil)
	require.NoError(t, err)
	assert.IsType(t, Nop{}, a)

	_, err = Open("cassandra", "", nil)
	assert.Error(t, err)
}

func TestNopArchive(t *testing.T) {
	var a Archive = Nop{}
	require.NoError(t, a.SaveAlerts([]model.Alert{testAlert("a1", 1, time.Now())}))
	require.NoError(t, a.SaveKPI(model.KPISnapshot{Tick: 1}))

	alerts, err := a.RecentAlerts(10)
	require.NoError(t, err)
	assert.Empty(t, alerts)
	require.NoError(t, a.Close())
}

func TestSQLiteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.db")
	base := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)

	s, err := OpenSQLite(path, nil)
	require.NoError(t, err)

	require.NoError(t, s.SaveAlerts([]model.Alert{
		testAlert("a1", 1, base),
		testAlert("a2", 2, base.Add(time.Second)),
		testAlert("a3", 3, base.Add(2*time.Second)),
	}))
	require.NoError(t, s.SaveDecisions([]model.RouteDecision{
		{
			JobID:     "job-1",
			NewPath:   []string{"nvlink-0", "nvlink-1"},
			NewCost:   2.5,
			Reason:    model.ReasonInitial,
			Tick:      1,
			Timestamp: base,
		},
		{
			JobID:     "job-1",
			OldPath:   []string{"nvlink-0", "nvlink-1"},
			NewPath:   []string{"pcie-4"},
			OldCost:   40.0,
			NewCost:   12.0,
			Reason:    model.ReasonDegraded,
			Tick:      5,
			Timestamp: base.Add(5 * time.Second),
		},
	}))
	require.NoError(t, s.SaveKPI(model.KPISnapshot{
		Tick:        5,
		FleetHealth: 0.82,
		Bands:       map[string]int{"good": 3, "fair": 1},
		FailedLinks: 1,
		Anomalies:   2,
		Jobs:        map[string]int{"stable": 2},
		Reroutes:    1,
		Alerts:      1,
		TickMs:      4.2,
		Timestamp:   base.Add(5 * time.Second),
	}))
	require.NoError(t, s.Close())

	// Reopen to prove everything hit disk.
	s, err = OpenSQLite(path, nil)
	require.NoError(t, err)
	defer s.Close()

	alerts, err := s.RecentAlerts(2)
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, "a3", alerts[0].ID)
	assert.Equal(t, "a2", alerts[1].ID)
	assert.Equal(t, base.Add(2*time.Second), alerts[0].Timestamp)
	assert.Equal(t, "nvlink-0", alerts[0].Ref)

	decisions, err := s.RecentDecisions(10)
	require.NoError(t, err)
	require.Len(t, decisions, 2)
	assert.Equal(t, model.ReasonDegraded, decisions[0].Reason)
	assert.Equal(t, []string{"nvlink-0", "nvlink-1"}, decisions[0].OldPath)
	assert.Equal(t, []string{"pcie-4"}, decisions[0].NewPath)
	assert.InDelta(t, 12.0, decisions[0].NewCost, 1e-9)
	assert.Equal(t, model.ReasonInitial, decisions[1].Reason)
	assert.Empty(t, decisions[1].OldPath)

	kpis, err := s.RecentKPIs(10)
	require.NoError(t, err)
	require.Len(t, kpis, 1)
	assert.Equal(t, int64(5), kpis[0].Tick)
	assert.InDelta(t, 0.82, kpis[0].FleetHealth, 1e-9)
	assert.Equal(t, map[string]int{"good": 3, "fair": 1}, kpis[0].Bands)
	assert.Equal(t, map[string]int{"stable": 2}, kpis[0].Jobs)
}

func TestSQLiteAlertsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.db")
	s, err := OpenSQLite(path, nil)
	require.NoError(t, err)
	defer s.Close()

	a := testAlert("a1", 1, time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, s.SaveAlerts([]model.Alert{a}))
	require.NoError(t, s.SaveAlerts([]model.Alert{a}))

	alerts, err := s.RecentAlerts(10)
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}

func TestSQLiteKPIReplacesSameTick(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.db")
	s, err := OpenSQLite(path, nil)
	require.NoError(t, err)
	defer s.Close()

	ts := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveKPI(model.KPISnapshot{Tick: 7, FleetHealth: 0.5, Timestamp: ts}))
	require.NoError(t, s.SaveKPI(model.KPISnapshot{Tick: 7, FleetHealth: 0.9, Timestamp: ts}))

	kpis, err := s.RecentKPIs(10)
	require.NoError(t, err)
	require.Len(t, kpis, 1)
	assert.InDelta(t, 0.9, kpis[0].FleetHealth, 1e-9)
}

func TestSQLiteEmptyReads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.db")
	s, err := OpenSQLite(path, nil)
	require.NoError(t, err)
	defer s.Close()

	alerts, err := s.RecentAlerts(10)
	require.NoError(t, err)
	assert.Empty(t, alerts)

	decisions, err := s.RecentDecisions(10)
	require.NoError(t, err)
	assert.Empty(t, decisions)

	kpis, err := s.RecentKPIs(0)
	require.NoError(t, err)
	assert.Empty(t, kpis)
}
