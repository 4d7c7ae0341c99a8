package anomaly

import (
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"fabricmon/pkg/config"
	"fabricmon/pkg/model"
)

type linkState struct {
	forest    Outlier
	threshold float64
	fitAt     int
	ready     bool
}

// Detector flags anomalous links by combining z-score tests, an isolation
// forest and static rules. Methods are OR-combined; severity is the max of
// the triggered methods. Not safe for concurrent use; callers serialize.
type Detector struct {
	cfg    config.AnomalyTuning
	seed   int64
	logger *zap.Logger
	links  map[string]*linkState
}

// NewDetector returns a detector with per-link outlier state. The seed keeps
// forest construction reproducible across runs.
func NewDetector(cfg config.AnomalyTuning, seed int64, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		cfg:    cfg,
		seed:   seed,
		logger: logger,
		links:  make(map[string]*linkState),
	}
}

// Reset drops all per-link model state, as after a topology swap.
func (d *Detector) Reset() {
	d.links = make(map[string]*linkState)
}

// Detect evaluates the latest sample of one link against its history. The
// total argument is the link's cumulative sample count and drives the refit
// cadence. With an empty history it returns ErrNoData; below the minimum
// window only rules run, and ErrInsufficientData is returned when none fire.
func (d *Detector) Detect(linkID string, history []model.TelemetrySample, total int) (model.AnomalyResult, error) {
	res := model.AnomalyResult{LinkID: linkID, Timestamp: time.Now()}
	if len(history) == 0 {
		return res, fmt.Errorf("link %s: %w", linkID, model.ErrNoData)
	}
	latest := history[len(history)-1]
	if !latest.Timestamp.IsZero() {
		res.Timestamp = latest.Timestamp
	}

	if sev, details := checkRules(latest); len(details) > 0 {
		res.Methods = append(res.Methods, model.MethodRule)
		res.Details = append(res.Details, details...)
		res.Severity = math.Max(res.Severity, sev)
	}

	if len(history) < d.cfg.MinSamples {
		if len(res.Methods) == 0 {
			return res, fmt.Errorf("link %s has %d of %d samples: %w",
				linkID, len(history), d.cfg.MinSamples, model.ErrInsufficientData)
		}
		res.Anomalous = true
		return res, nil
	}

	baseline := history[:len(history)-1]
	if z, ok := zAgainst(baseline, latest, sampleLatency, d.cfg.ZLatency); ok {
		res.Methods = appendOnce(res.Methods, model.MethodZScore)
		res.Details = append(res.Details, fmt.Sprintf("latency z=%.2f beyond %.1f", z, d.cfg.ZLatency))
		res.Severity = math.Max(res.Severity, zSeverity(z, d.cfg.ZLatency))
	}
	if z, ok := zAgainst(baseline, latest, sampleBER, d.cfg.ZBER); ok {
		res.Methods = appendOnce(res.Methods, model.MethodZScore)
		res.Details = append(res.Details, fmt.Sprintf("ber z=%.2f beyond %.1f", z, d.cfg.ZBER))
		res.Severity = math.Max(res.Severity, zSeverity(z, d.cfg.ZBER))
	}

	st := d.state(linkID)
	d.maybeRefit(linkID, st, history, total)
	if st.ready {
		score := st.forest.Score(features(latest))
		if score > st.threshold {
			res.Methods = append(res.Methods, model.MethodOutlier)
			res.Details = append(res.Details, fmt.Sprintf("isolation score %.3f above %.3f", score, st.threshold))
			res.Severity = math.Max(res.Severity, outlierSeverity(score, st.threshold))
		}
	}

	res.Anomalous = len(res.Methods) > 0
	return res, nil
}

func (d *Detector) state(linkID string) *linkState {
	st, ok := d.links[linkID]
	if !ok {
		st = &linkState{fitAt: -1}
		d.links[linkID] = st
	}
	return st
}

func (d *Detector) maybeRefit(linkID string, st *linkState, history []model.TelemetrySample, total int) {
	if len(history) < d.cfg.OutlierMinPoints {
		return
	}
	due := !st.ready || st.fitAt < 0 || total-st.fitAt >= d.cfg.RefitEvery
	if !due {
		return
	}
	points := make([][]float64, len(history))
	for i, s := range history {
		points[i] = features(s)
	}
	forest := NewIsolationForest(d.cfg.Trees, d.cfg.Subsample, d.seed)
	if err := forest.Fit(points); err != nil {
		d.logger.Warn("outlier refit failed", zap.String("link", linkID), zap.Error(err))
		return
	}
	scores := make([]float64, len(points))
	for i, p := range points {
		scores[i] = forest.Score(p)
	}
	sort.Float64s(scores)
	st.forest = forest
	st.threshold = stat.Quantile(1-d.cfg.Contamination, stat.Empirical, scores, nil)
	st.fitAt = total
	st.ready = true
}

// checkRules evaluates the static thresholds against a single sample.
func checkRules(s model.TelemetrySample) (float64, []string) {
	var sev float64
	var details []string
	rule := func(v float64, msg string) {
		sev = math.Max(sev, v)
		details = append(details, msg)
	}
	if s.LatencyUs > 100 {
		rule(0.8, fmt.Sprintf("latency %.1fus above 100us", s.LatencyUs))
	}
	if s.BER > 1e-6 {
		rule(0.9, fmt.Sprintf("ber %.2e above 1.0e-06", s.BER))
	}
	if s.Utilization > 0.95 {
		rule(0.7, fmt.Sprintf("utilization %.2f above 0.95", s.Utilization))
	}
	if s.TempC > 85 {
		rule(0.8, fmt.Sprintf("temperature %.1fC above 85C", s.TempC))
	}
	if s.TempC < 10 {
		rule(0.5, fmt.Sprintf("temperature %.1fC below 10C", s.TempC))
	}
	if s.CRCErrors > 100 {
		rule(0.7, fmt.Sprintf("crc errors %.0f/s above 100/s", s.CRCErrors))
	}
	if s.LatencyUs > 50 && s.Utilization < 0.1 {
		rule(0.6, fmt.Sprintf("latency %.1fus at utilization %.2f suggests a stalled link", s.LatencyUs, s.Utilization))
	}
	return sev, details
}

// zAgainst computes the z-score of the latest sample against the trailing
// window. A zero-variance window never triggers.
func zAgainst(baseline []model.TelemetrySample, latest model.TelemetrySample, f func(model.TelemetrySample) float64, thr float64) (float64, bool) {
	if len(baseline) < 2 {
		return 0, false
	}
	xs := make([]float64, len(baseline))
	for i, s := range baseline {
		xs[i] = f(s)
	}
	mean, std := stat.MeanStdDev(xs, nil)
	if std == 0 || math.IsNaN(std) {
		return 0, false
	}
	z := (f(latest) - mean) / std
	if math.Abs(z) <= thr {
		return 0, false
	}
	return z, true
}

func zSeverity(z, thr float64) float64 {
	return math.Min(1, math.Abs(z)/(2*thr))
}

func outlierSeverity(score, threshold float64) float64 {
	span := 1 - threshold
	if span <= 0 {
		return 1
	}
	sev := 0.5 + 0.5*(score-threshold)/span
	return math.Min(1, math.Max(0, sev))
}

func sampleLatency(s model.TelemetrySample) float64 { return s.LatencyUs }
func sampleBER(s model.TelemetrySample) float64     { return s.BER }

func features(s model.TelemetrySample) []float64 {
	return []float64{s.LatencyUs, s.Utilization, s.BER, s.TempC, s.CRCErrors}
}

func appendOnce(methods []string, m string) []string {
	for _, have := range methods {
		if have == m {
			return methods
		}
	}
	return append(methods, m)
}
