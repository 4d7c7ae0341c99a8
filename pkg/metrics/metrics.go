package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder publishes control-loop metrics under the fabricmon namespace.
// Metrics register against the given registerer; tests pass a fresh registry
// (or nil for unregistered metrics) to avoid global collisions.
type Recorder struct {
	ticks        prometheus.Counter
	tickDuration prometheus.Histogram
	anomalies    *prometheus.CounterVec
	reroutes     *prometheus.CounterVec
	alerts       *prometheus.CounterVec
	strandedJobs prometheus.Gauge
	failedLinks  prometheus.Gauge
	fleetHealth  prometheus.Gauge
	linkHealth   *prometheus.GaugeVec
	chaosActive  *prometheus.GaugeVec
}

func NewRecorder(reg prometheus.Registerer) *Recorder {
	fac := promauto.With(reg)
	return &Recorder{
		ticks: fac.NewCounter(prometheus.CounterOpts{
			Namespace: "fabricmon",
			Subsystem: "engine",
			Name:      "ticks_total",
			Help:      "Completed evaluation ticks",
		}),
		tickDuration: fac.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fabricmon",
			Subsystem: "engine",
			Name:      "tick_duration_seconds",
			Help:      "Wall time of one evaluation tick",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		anomalies: fac.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fabricmon",
			Subsystem: "anomaly",
			Name:      "detections_total",
			Help:      "Anomaly detections by method",
		}, []string{"method"}),
		reroutes: fac.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fabricmon",
			Subsystem: "routing",
			Name:      "decisions_total",
			Help:      "Route decisions by reason",
		}, []string{"reason"}),
		alerts: fac.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fabricmon",
			Subsystem: "engine",
			Name:      "alerts_total",
			Help:      "Alerts raised by severity",
		}, []string{"severity"}),
		strandedJobs: fac.NewGauge(prometheus.GaugeOpts{
			Namespace: "fabricmon",
			Subsystem: "routing",
			Name:      "stranded_jobs",
			Help:      "Jobs currently without a viable path",
		}),
		failedLinks: fac.NewGauge(prometheus.GaugeOpts{
			Namespace: "fabricmon",
			Subsystem: "fabric",
			Name:      "failed_links",
			Help:      "Links currently marked failed",
		}),
		fleetHealth: fac.NewGauge(prometheus.GaugeOpts{
			Namespace: "fabricmon",
			Subsystem: "fabric",
			Name:      "fleet_health",
			Help:      "Mean link health across the fabric",
		}),
		linkHealth: fac.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "fabricmon",
			Subsystem: "fabric",
			Name:      "link_health",
			Help:      "Smoothed health score per link",
		}, []string{"link"}),
		chaosActive: fac.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "fabricmon",
			Subsystem: "chaos",
			Name:      "active_events",
			Help:      "Active chaos events by type",
		}, []string{"type"}),
	}
}

func (r *Recorder) ObserveTick(d time.Duration) {
	r.ticks.Inc()
	r.tickDuration.Observe(d.Seconds())
}

func (r *Recorder) RecordAnomaly(methods []string) {
	for _, m := range methods {
		r.anomalies.WithLabelValues(m).Inc()
	}
}

func (r *Recorder) RecordDecision(reason string) {
	r.reroutes.WithLabelValues(reason).Inc()
}

func (r *Recorder) RecordAlert(severity string) {
	r.alerts.WithLabelValues(severity).Inc()
}

func (r *Recorder) SetStrandedJobs(n int) { r.strandedJobs.Set(float64(n)) }

func (r *Recorder) SetFailedLinks(n int) { r.failedLinks.Set(float64(n)) }

func (r *Recorder) SetFleetHealth(v float64) { r.fleetHealth.Set(v) }

func (r *Recorder) SetLinkHealth(link string, v float64) {
	r.linkHealth.WithLabelValues(link).Set(v)
}

// SetChaosActive replaces the per-type active-event gauges.
func (r *Recorder) SetChaosActive(counts map[string]int) {
	r.chaosActive.Reset()
	for typ, n := range counts {
		r.chaosActive.WithLabelValues(typ).Set(float64(n))
	}
}

// ResetLinks clears per-link series, as after a topology swap.
func (r *Recorder) ResetLinks() { r.linkHealth.Reset() }
