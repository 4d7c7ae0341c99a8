package forecast

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fabricmon/pkg/config"
	"fabricmon/pkg/model"
)

func declining(start, step float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start - step*float64(i)
	}
	return out
}

func constant(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func defaultForecaster(t *testing.T) *Forecaster {
	t.Helper()
	f, err := NewForecaster(config.Default().Forecast)
	require.NoError(t, err)
	return f
}

func TestForecastLinearDecline(t *testing.T) {
	f := defaultForecaster(t)
	res, err := f.Forecast("l1", declining(1.0, 0.01, 40), time.Now())
	require.NoError(t, err)
	require.Len(t, res.Points, 10)
	assert.Equal(t, StrategyARIMA, res.Strategy)
	assert.False(t, res.Breach)
	assert.Zero(t, res.RMSE)
	// pure drift continues the slope
	assert.InDelta(t, 0.51, res.Points[9].Value, 1e-6)
	for i := 1; i < len(res.Points); i++ {
		assert.Less(t, res.Points[i].Value, res.Points[i-1].Value)
		assert.Equal(t, i+1, res.Points[i].Offset)
	}
}

func TestForecastFlatSeries(t *testing.T) {
	f := defaultForecaster(t)
	res, err := f.Forecast("l1", constant(0.9, 30), time.Now())
	require.NoError(t, err)
	for _, p := range res.Points {
		assert.InDelta(t, 0.9, p.Value, 1e-9)
		assert.InDelta(t, 0.9, p.Lower, 1e-9)
		assert.InDelta(t, 0.9, p.Upper, 1e-9)
	}
	assert.False(t, res.Breach)
}

func TestForecastBreachOnDecline(t *testing.T) {
	f := defaultForecaster(t)
	res, err := f.Forecast("l1", declining(0.8, 0.015, 30), time.Now())
	require.NoError(t, err)
	assert.True(t, res.Breach)
}

func TestForecastClampsToHealthRange(t *testing.T) {
	f := defaultForecaster(t)
	res, err := f.Forecast("l1", declining(1.0, 0.045, 20), time.Now())
	require.NoError(t, err)
	assert.True(t, res.Breach)
	for _, p := range res.Points {
		assert.GreaterOrEqual(t, p.Value, 0.0)
		assert.GreaterOrEqual(t, p.Lower, 0.0)
		assert.LessOrEqual(t, p.Upper, 1.0)
		assert.LessOrEqual(t, p.Lower, p.Value)
		assert.LessOrEqual(t, p.Value, p.Upper)
	}
}

func TestForecastInsufficientData(t *testing.T) {
	f := defaultForecaster(t)
	_, err := f.Forecast("l1", constant(0.9, 10), time.Now())
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrInsufficientData)
}

func TestForecastUnknownStrategy(t *testing.T) {
	cfg := config.Default().Forecast
	cfg.Strategy = "lstm"
	_, err := NewForecaster(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown forecast strategy")
}

func TestARIMACyclicPattern(t *testing.T) {
	series := make([]float64, 30)
	cycle := []float64{0.01, 0, -0.01}
	for i := range series {
		series[i] = 0.8 + cycle[i%3]
	}
	a := newARIMA()
	require.NoError(t, a.Fit(series))
	pts := a.Forecast(10)
	require.Len(t, pts, 10)
	for _, p := range pts {
		assert.InDelta(t, 0.8, p.Value, 0.1)
		assert.LessOrEqual(t, p.Lower, p.Upper)
	}
}

func TestARIMATooShort(t *testing.T) {
	a := newARIMA()
	err := a.Fit(constant(0.9, 5))
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrInsufficientData)
}

func TestNeuralConstantSeries(t *testing.T) {
	n := newNeural(20, 1)
	require.NoError(t, n.Fit(constant(0.8, 45)))
	pts := n.Forecast(10)
	require.Len(t, pts, 10)
	for _, p := range pts {
		assert.InDelta(t, 0.8, p.Value, 1e-9)
	}
	assert.Zero(t, n.RMSE())
}

func TestNeuralForecastBounded(t *testing.T) {
	series := make([]float64, 50)
	cycle := []float64{0.02, 0.01, 0, -0.01, -0.02}
	for i := range series {
		series[i] = 0.75 + cycle[i%5]
	}
	n := newNeural(20, 1)
	require.NoError(t, n.Fit(series))
	for _, p := range n.Forecast(10) {
		assert.False(t, math.IsNaN(p.Value))
		assert.LessOrEqual(t, p.Lower, p.Value)
		assert.LessOrEqual(t, p.Value, p.Upper)
	}
}

func TestNeuralDeterministic(t *testing.T) {
	series := declining(0.95, 0.005, 50)
	a := newNeural(20, 1)
	b := newNeural(20, 1)
	require.NoError(t, a.Fit(series))
	require.NoError(t, b.Fit(series))
	pa, pb := a.Forecast(5), b.Forecast(5)
	require.Len(t, pb, len(pa))
	for i := range pa {
		assert.Equal(t, pa[i].Value, pb[i].Value)
	}
}

func TestNeuralBeatsNaiveMeanOnTrend(t *testing.T) {
	series := declining(0.95, 0.005, 50)
	n := newNeural(20, 1)
	require.NoError(t, n.Fit(series))

	// naive baseline: always predict the mean of the training targets
	targets := series[20:]
	var mean float64
	for _, v := range targets {
		mean += v
	}
	mean /= float64(len(targets))
	var sse float64
	for _, v := range targets {
		sse += (v - mean) * (v - mean)
	}
	naive := math.Sqrt(sse / float64(len(targets)))

	assert.Greater(t, n.RMSE(), 0.0)
	assert.Less(t, n.RMSE(), naive)
}

func TestNeuralInsufficientData(t *testing.T) {
	n := newNeural(20, 1)
	err := n.Fit(constant(0.8, 22))
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrInsufficientData)
}

func TestNeuralStrategyThroughForecaster(t *testing.T) {
	cfg := config.Default().Forecast
	cfg.Strategy = StrategyNeural
	f, err := NewForecaster(cfg)
	require.NoError(t, err)
	res, err := f.Forecast("l1", constant(0.85, 45), time.Now())
	require.NoError(t, err)
	assert.Equal(t, StrategyNeural, res.Strategy)
	require.Len(t, res.Points, 10)
	assert.InDelta(t, 0.85, res.Points[0].Value, 1e-9)
}
