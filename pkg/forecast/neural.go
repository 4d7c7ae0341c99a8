package forecast

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"fabricmon/pkg/model"
)

// neural is a small feed-forward regressor over a lag window: one tanh
// hidden layer trained by full-batch gradient descent. The series is
// centered on its mean so the net learns deviations, not the level.
type neural struct {
	lookback int
	hidden   int
	epochs   int
	lr       float64
	rng      *rand.Rand

	w1     *mat.Dense
	b1     *mat.VecDense
	w2     *mat.VecDense
	b2     float64
	mean   float64
	window []float64
	rmse   float64
	fitted bool
}

func newNeural(lookback int, seed int64) Predictor {
	if lookback <= 0 {
		lookback = 20
	}
	return &neural{
		lookback: lookback,
		hidden:   8,
		epochs:   200,
		lr:       0.05,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

func (n *neural) Name() string { return StrategyNeural }

func (n *neural) Fit(series []float64) error {
	samples := len(series) - n.lookback
	if samples < 5 {
		return fmt.Errorf("need %d points beyond the %d-lag window, got %d: %w",
			5, n.lookback, samples, model.ErrInsufficientData)
	}
	n.mean = stat.Mean(series, nil)
	x := mat.NewDense(samples, n.lookback, nil)
	y := make([]float64, samples)
	for i := 0; i < samples; i++ {
		for j := 0; j < n.lookback; j++ {
			x.Set(i, j, series[i+j]-n.mean)
		}
		y[i] = series[i+n.lookback] - n.mean
	}

	n.initWeights()
	for e := 0; e < n.epochs; e++ {
		n.step(x, y)
	}

	var sse float64
	for i := 0; i < samples; i++ {
		r := n.forward(x.RawRowView(i)) - y[i]
		sse += r * r
	}
	n.rmse = math.Sqrt(sse / float64(samples))
	n.window = append([]float64(nil), series[len(series)-n.lookback:]...)
	n.fitted = true
	return nil
}

func (n *neural) initWeights() {
	w1 := make([]float64, n.hidden*n.lookback)
	for i := range w1 {
		w1[i] = 0.1 * n.rng.NormFloat64()
	}
	w2 := make([]float64, n.hidden)
	for i := range w2 {
		w2[i] = 0.1 * n.rng.NormFloat64()
	}
	n.w1 = mat.NewDense(n.hidden, n.lookback, w1)
	n.b1 = mat.NewVecDense(n.hidden, nil)
	n.w2 = mat.NewVecDense(n.hidden, w2)
	n.b2 = 0
}

// step runs one full-batch gradient descent update.
func (n *neural) step(x *mat.Dense, y []float64) {
	m, _ := x.Dims()
	var z mat.Dense
	z.Mul(x, n.w1.T())

	h := mat.NewDense(m, n.hidden, nil)
	errs := make([]float64, m)
	for i := 0; i < m; i++ {
		out := n.b2
		for j := 0; j < n.hidden; j++ {
			a := math.Tanh(z.At(i, j) + n.b1.AtVec(j))
			h.Set(i, j, a)
			out += n.w2.AtVec(j) * a
		}
		errs[i] = out - y[i]
	}

	inv := 1.0 / float64(m)
	gw2 := make([]float64, n.hidden)
	gb1 := make([]float64, n.hidden)
	gw1 := mat.NewDense(n.hidden, n.lookback, nil)
	var gb2 float64
	for i := 0; i < m; i++ {
		gb2 += errs[i]
		for j := 0; j < n.hidden; j++ {
			a := h.At(i, j)
			gw2[j] += errs[i] * a
			delta := errs[i] * n.w2.AtVec(j) * (1 - a*a)
			gb1[j] += delta
			for k := 0; k < n.lookback; k++ {
				gw1.Set(j, k, gw1.At(j, k)+delta*x.At(i, k))
			}
		}
	}
	for j := 0; j < n.hidden; j++ {
		n.w2.SetVec(j, n.w2.AtVec(j)-n.lr*inv*gw2[j])
		n.b1.SetVec(j, n.b1.AtVec(j)-n.lr*inv*gb1[j])
		for k := 0; k < n.lookback; k++ {
			n.w1.Set(j, k, n.w1.At(j, k)-n.lr*inv*gw1.At(j, k))
		}
	}
	n.b2 -= n.lr * inv * gb2
}

func (n *neural) forward(x []float64) float64 {
	out := n.b2
	for j := 0; j < n.hidden; j++ {
		s := n.b1.AtVec(j)
		for k := 0; k < n.lookback; k++ {
			s += n.w1.At(j, k) * x[k]
		}
		out += n.w2.AtVec(j) * math.Tanh(s)
	}
	return out
}

// Forecast rolls the net forward, feeding each prediction back into the lag
// window. Bounds widen with the in-sample error.
func (n *neural) Forecast(horizon int) []model.ForecastPoint {
	if !n.fitted || horizon <= 0 {
		return nil
	}
	win := append([]float64(nil), n.window...)
	pts := make([]model.ForecastPoint, 0, horizon)
	for k := 1; k <= horizon; k++ {
		x := make([]float64, n.lookback)
		for i, v := range win[len(win)-n.lookback:] {
			x[i] = v - n.mean
		}
		v := n.forward(x) + n.mean
		spread := 1.96 * n.rmse * math.Sqrt(float64(k))
		pts = append(pts, model.ForecastPoint{Offset: k, Value: v, Lower: v - spread, Upper: v + spread})
		win = append(win, v)
	}
	return pts
}

func (n *neural) RMSE() float64 { return n.rmse }
