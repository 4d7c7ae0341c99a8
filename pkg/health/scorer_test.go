package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fabricmon/pkg/config"
	"fabricmon/pkg/model"
)

func nvLink() *model.Link {
	return &model.Link{
		ID:            "gpu0-sw0",
		A:             "gpu0",
		B:             "sw0",
		Type:          model.LinkNVLink,
		BandwidthGbps: 400,
		BaseLatencyUs: 1.0,
		LatencyUs:     1.6,
		Utilization:   0.30,
		BER:           1e-11,
		TempC:         49.5,
	}
}

func newTestScorer() *Scorer {
	return NewScorer(config.Default().Health)
}

func TestScoreHealthyLink(t *testing.T) {
	s := newTestScorer()
	rec, err := s.Score(nvLink(), 0, time.Now())
	require.NoError(t, err)
	assert.InDelta(t, 0.9375, rec.Score, 1e-9)
	assert.Equal(t, model.BandExcellent, rec.Band)
	assert.Empty(t, rec.Recommendation)
	assert.InDelta(t, 0.15, rec.Factors["latency"], 1e-9)
	assert.Zero(t, rec.Factors["utilization"])
}

func TestScoreSmoothingAcrossTicks(t *testing.T) {
	s := newTestScorer()
	l := nvLink()
	rec, err := s.Score(l, 0, time.Now())
	require.NoError(t, err)
	require.InDelta(t, 0.9375, rec.Score, 1e-9)

	// saturated reading with a utilization-rule anomaly
	l.Utilization = 1.0
	l.LatencyUs = 3.0
	rec, err = s.Score(l, 0.7, time.Now())
	require.NoError(t, err)
	assert.InDelta(t, 0.57875, rec.Score, 1e-9)
	assert.Equal(t, model.BandFair, rec.Band)

	rec, err = s.Score(l, 0.7, time.Now())
	require.NoError(t, err)
	assert.InDelta(t, 0.471125, rec.Score, 1e-9)
	assert.Equal(t, model.BandPoor, rec.Band)
	assert.NotEmpty(t, rec.Recommendation)
}

func TestScoreFailedLink(t *testing.T) {
	s := newTestScorer()
	l := nvLink()
	l.Failed = true
	rec, err := s.Score(l, 0, time.Now())
	require.NoError(t, err)
	assert.Zero(t, rec.Score)
	assert.Equal(t, model.BandCritical, rec.Band)
	assert.Contains(t, rec.Recommendation, "down")

	// recovery climbs from zero instead of resuming the old average
	l.Failed = false
	rec, err = s.Score(l, 0, time.Now())
	require.NoError(t, err)
	assert.InDelta(t, 0.65625, rec.Score, 1e-9)
}

func TestScoreNoReading(t *testing.T) {
	s := newTestScorer()
	l := nvLink()
	l.LatencyUs = 0
	_, err := s.Score(l, 0, time.Now())
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrNoData)
}

func TestScoreClampsAtZero(t *testing.T) {
	s := newTestScorer()
	l := nvLink()
	l.LatencyUs = 1000
	l.Utilization = 1.0
	l.BER = 1e-3
	l.TempC = 200
	rec, err := s.Score(l, 1.0, time.Now())
	require.NoError(t, err)
	assert.Zero(t, rec.Score)
	assert.Equal(t, model.BandCritical, rec.Band)
	assert.NotEmpty(t, rec.Recommendation)
}

func TestScoreDropsAsMetricsDegrade(t *testing.T) {
	worsen := map[string]func(*model.Link){
		"latency":     func(l *model.Link) { l.LatencyUs = 3.2 },
		"utilization": func(l *model.Link) { l.Utilization = 0.95 },
		"ber":         func(l *model.Link) { l.BER = 1e-8 },
	}
	base, err := newTestScorer().Score(nvLink(), 0, time.Now())
	require.NoError(t, err)
	for name, mutate := range worsen {
		l := nvLink()
		mutate(l)
		rec, err := newTestScorer().Score(l, 0, time.Now())
		require.NoError(t, err, name)
		assert.Less(t, rec.Score, base.Score, "worse %s should lower the score", name)
	}
}

func TestScoreRecommendationNamesDominantFactor(t *testing.T) {
	s := newTestScorer()
	l := nvLink()
	l.LatencyUs = 5.0 // full latency penalty
	l.Utilization = 0.90
	rec, err := s.Score(l, 0, time.Now())
	require.NoError(t, err)
	require.Less(t, rec.Score, 0.7)
	assert.Contains(t, rec.Recommendation, "congestion")

	s.Reset()
	l = nvLink()
	l.Utilization = 1.0
	rec, err = s.Score(l, 0.3, time.Now())
	require.NoError(t, err)
	require.Less(t, rec.Score, 0.7)
	assert.Contains(t, rec.Recommendation, "saturating")
}

func TestScoreBandMapping(t *testing.T) {
	assert.Equal(t, model.BandExcellent, model.BandForScore(0.95))
	assert.Equal(t, model.BandGood, model.BandForScore(0.75))
	assert.Equal(t, model.BandFair, model.BandForScore(0.55))
	assert.Equal(t, model.BandPoor, model.BandForScore(0.35))
	assert.Equal(t, model.BandCritical, model.BandForScore(0.1))
}

func TestScorerReset(t *testing.T) {
	s := newTestScorer()
	l := nvLink()
	_, err := s.Score(l, 0, time.Now())
	require.NoError(t, err)
	s.Reset()
	l.Utilization = 1.0
	l.LatencyUs = 3.0
	rec, err := s.Score(l, 0.7, time.Now())
	require.NoError(t, err)
	// unsmoothed after reset
	assert.InDelta(t, 0.425, rec.Score, 1e-9)
}
