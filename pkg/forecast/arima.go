package forecast

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"fabricmon/pkg/model"
)

// arima models first differences of the series as an AR(2) regression with
// intercept, solved by least squares. Differencing handles the trend; the AR
// terms pick up short-run momentum.
type arima struct {
	c      float64
	phi1   float64
	phi2   float64
	sigma  float64
	last   float64
	d1     float64
	d2     float64
	fitted bool
}

func newARIMA() Predictor { return &arima{} }

func (a *arima) Name() string { return StrategyARIMA }

func (a *arima) Fit(series []float64) error {
	if len(series) < 8 {
		return fmt.Errorf("need at least 8 points, got %d: %w", len(series), model.ErrInsufficientData)
	}
	diffs := make([]float64, len(series)-1)
	for i := range diffs {
		diffs[i] = series[i+1] - series[i]
	}
	a.last = series[len(series)-1]
	a.d1 = diffs[len(diffs)-1]
	a.d2 = diffs[len(diffs)-2]

	mean, std := stat.MeanStdDev(diffs, nil)
	if std < 1e-9 || math.IsNaN(std) {
		// flat or perfectly linear history degenerates to pure drift
		a.c, a.phi1, a.phi2, a.sigma = mean, 0, 0, 0
		a.fitted = true
		return nil
	}

	rows := len(diffs) - 2
	x := mat.NewDense(rows, 3, nil)
	y := mat.NewVecDense(rows, nil)
	for t := 2; t < len(diffs); t++ {
		x.SetRow(t-2, []float64{1, diffs[t-1], diffs[t-2]})
		y.SetVec(t-2, diffs[t])
	}
	var qr mat.QR
	qr.Factorize(x)
	var beta mat.Dense
	if err := qr.SolveTo(&beta, false, y); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return fmt.Errorf("ar least squares: %w", model.ErrModelFitFailure)
		}
		// ill-conditioned but solved; coefficients are still usable
	}
	a.c = beta.At(0, 0)
	a.phi1 = beta.At(1, 0)
	a.phi2 = beta.At(2, 0)
	for _, v := range []float64{a.c, a.phi1, a.phi2} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("ar coefficients diverged: %w", model.ErrModelFitFailure)
		}
	}

	var sse float64
	for t := 2; t < len(diffs); t++ {
		r := diffs[t] - (a.c + a.phi1*diffs[t-1] + a.phi2*diffs[t-2])
		sse += r * r
	}
	a.sigma = math.Sqrt(sse / float64(rows))
	a.fitted = true
	return nil
}

func (a *arima) Forecast(horizon int) []model.ForecastPoint {
	if !a.fitted || horizon <= 0 {
		return nil
	}
	pts := make([]model.ForecastPoint, 0, horizon)
	level, d1, d2 := a.last, a.d1, a.d2
	for k := 1; k <= horizon; k++ {
		step := a.c + a.phi1*d1 + a.phi2*d2
		level += step
		spread := 1.96 * a.sigma * math.Sqrt(float64(k))
		pts = append(pts, model.ForecastPoint{
			Offset: k,
			Value:  level,
			Lower:  level - spread,
			Upper:  level + spread,
		})
		d2, d1 = d1, step
	}
	return pts
}

func (a *arima) RMSE() float64 { return a.sigma }
