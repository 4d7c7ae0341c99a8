package forecast

import (
	"fmt"
	"time"

	"fabricmon/pkg/config"
	"fabricmon/pkg/model"
)

// Forecast strategy names.
const (
	StrategyARIMA  = "arima"
	StrategyNeural = "neural"
)

// Predictor is a swappable sequence model: fit on a trailing window, then
// project a short horizon with confidence bounds.
type Predictor interface {
	Name() string
	Fit(series []float64) error
	Forecast(horizon int) []model.ForecastPoint
	RMSE() float64
}

// NewPredictor returns a fresh predictor for the configured strategy.
func NewPredictor(cfg config.ForecastTuning) (Predictor, error) {
	switch cfg.Strategy {
	case StrategyARIMA, "":
		return newARIMA(), nil
	case StrategyNeural:
		return newNeural(cfg.Lookback, 1), nil
	}
	return nil, fmt.Errorf("unknown forecast strategy %q", cfg.Strategy)
}

// Forecaster projects per-link health series and flags links whose lower
// confidence bound is headed below the critical threshold.
type Forecaster struct {
	cfg config.ForecastTuning
}

// NewForecaster validates the strategy up front so a bad name fails at
// startup rather than on the first tick.
func NewForecaster(cfg config.ForecastTuning) (*Forecaster, error) {
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyARIMA
	}
	if _, err := NewPredictor(cfg); err != nil {
		return nil, err
	}
	return &Forecaster{cfg: cfg}, nil
}

// Strategy returns the active strategy name.
func (f *Forecaster) Strategy() string { return f.cfg.Strategy }

// Forecast fits the strategy on the trailing window of one link's health
// series and projects the configured horizon. Values and bounds are clamped
// to the valid health range.
func (f *Forecaster) Forecast(linkID string, series []float64, now time.Time) (model.ForecastResult, error) {
	res := model.ForecastResult{LinkID: linkID, Strategy: f.cfg.Strategy, Timestamp: now}
	if len(series) < f.cfg.MinPoints {
		return res, fmt.Errorf("link %s has %d of %d health points: %w",
			linkID, len(series), f.cfg.MinPoints, model.ErrInsufficientData)
	}
	window := series
	if len(window) > f.cfg.Window {
		window = window[len(window)-f.cfg.Window:]
	}
	p, err := NewPredictor(f.cfg)
	if err != nil {
		return res, err
	}
	if err := p.Fit(window); err != nil {
		return res, fmt.Errorf("fit %s for link %s: %w", p.Name(), linkID, err)
	}
	pts := p.Forecast(f.cfg.Horizon)
	for i := range pts {
		pts[i].Value = clamp01(pts[i].Value)
		pts[i].Lower = clamp01(pts[i].Lower)
		pts[i].Upper = clamp01(pts[i].Upper)
		if pts[i].Lower < f.cfg.CriticalHealth {
			res.Breach = true
		}
	}
	res.Points = pts
	res.RMSE = p.RMSE()
	return res, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
