package engine

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"fabricmon/pkg/anomaly"
	"fabricmon/pkg/archive"
	"fabricmon/pkg/chaos"
	"fabricmon/pkg/config"
	"fabricmon/pkg/fabric"
	"fabricmon/pkg/forecast"
	"fabricmon/pkg/health"
	"fabricmon/pkg/metrics"
	"fabricmon/pkg/model"
	"fabricmon/pkg/routing"
	"fabricmon/pkg/telemetry"
)

const (
	alertCap    = 50
	decisionCap = 100
	kpiCap      = 500
)

// Engine owns the fabric and every pipeline stage and runs the control loop.
// One mutex serializes ticks against API access, so readers always observe
// completed ticks. Archive writes and update fanout happen after the lock is
// released.
type Engine struct {
	mu  sync.RWMutex
	fab *fabric.Fabric
	cfg config.Tuning

	gen        *telemetry.Generator
	detector   *anomaly.Detector
	scorer     *health.Scorer
	forecaster *forecast.Forecaster
	router     *routing.Manager
	chaos      *chaos.Engine

	arch   archive.Archive
	rec    *metrics.Recorder
	logger *zap.Logger

	tick         int64
	healthSeries map[string][]float64
	lastAnomaly  map[string]model.AnomalyResult
	lastHealth   map[string]model.HealthRecord
	lastForecast map[string]model.ForecastResult
	alerts       []model.Alert
	decisions    []model.RouteDecision
	kpis         []model.KPISnapshot

	broadcast func(model.TickSummary)

	runMu     sync.Mutex
	running   bool
	startedAt time.Time
	interval  time.Duration
	stopCh    chan struct{}
	doneCh    chan struct{}
	loopErr   error

	// Now supplies tick timestamps; swapped in tests.
	Now func() time.Time
}

// New wires an engine around the fabric. A nil archive disables persistence,
// a nil recorder produces unregistered metrics, a nil logger is silent.
func New(fab *fabric.Fabric, cfg config.Tuning, arch archive.Archive, rec *metrics.Recorder, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if arch == nil {
		arch = archive.Nop{}
	}
	if rec == nil {
		rec = metrics.NewRecorder(nil)
	}
	fc, err := forecast.NewForecaster(cfg.Forecast)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		fab:          fab,
		cfg:          cfg,
		gen:          telemetry.NewGenerator(cfg.Telemetry, logger.Named("telemetry")),
		detector:     anomaly.NewDetector(cfg.Anomaly, cfg.Telemetry.Seed, logger.Named("anomaly")),
		scorer:       health.NewScorer(cfg.Health),
		forecaster:   fc,
		router:       routing.NewManager(cfg.Routing, logger.Named("routing")),
		chaos:        chaos.NewEngine(logger.Named("chaos")),
		arch:         arch,
		rec:          rec,
		logger:       logger,
		healthSeries: make(map[string][]float64),
		lastAnomaly:  make(map[string]model.AnomalyResult),
		lastHealth:   make(map[string]model.HealthRecord),
		lastForecast: make(map[string]model.ForecastResult),
		interval:     time.Second,
		Now:          time.Now,
	}
	e.chaos.Now = func() time.Time { return e.Now() }
	return e, nil
}

// SetBroadcast registers the tick-summary fanout, called after each tick
// outside the engine lock.
func (e *Engine) SetBroadcast(fn func(model.TickSummary)) {
	e.mu.Lock()
	e.broadcast = fn
	e.mu.Unlock()
}

// SetInterval adjusts the tick cadence for the next Start.
func (e *Engine) SetInterval(d time.Duration) {
	e.runMu.Lock()
	if d > 0 {
		e.interval = d
	}
	e.runMu.Unlock()
}

// Start launches the ticker goroutine. Idempotent while running.
func (e *Engine) Start() error {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.running {
		return nil
	}
	e.stopCh = make(chan struct{})
	e.doneCh = make(chan struct{})
	e.running = true
	e.startedAt = e.Now()
	e.loopErr = nil
	go e.run(e.stopCh, e.doneCh, e.interval)
	e.logger.Info("control loop started", zap.Duration("interval", e.interval))
	return nil
}

// Stop halts the ticker and waits for the in-flight tick. Idempotent.
func (e *Engine) Stop() {
	e.runMu.Lock()
	if !e.running {
		e.runMu.Unlock()
		return
	}
	stop, done := e.stopCh, e.doneCh
	e.runMu.Unlock()

	close(stop)
	<-done

	e.runMu.Lock()
	e.running = false
	e.runMu.Unlock()
	e.logger.Info("control loop stopped")
}

// Running reports whether the ticker goroutine is live.
func (e *Engine) Running() bool {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	return e.running
}

func (e *Engine) run(stop <-chan struct{}, done chan<- struct{}, interval time.Duration) {
	defer close(done)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			if _, err := e.Tick(); err != nil {
				e.logger.Error("tick failed, stopping loop", zap.Error(err))
				e.runMu.Lock()
				e.running = false
				e.loopErr = err
				e.runMu.Unlock()
				return
			}
		}
	}
}

// Status is the operator-facing view of the loop.
type Status struct {
	Running     bool    `json:"running"`
	Tick        int64   `json:"tick"`
	IntervalMs  int64   `json:"intervalMs"`
	UptimeSec   float64 `json:"uptimeSec"`
	Nodes       int     `json:"nodes"`
	Links       int     `json:"links"`
	FailedLinks int     `json:"failedLinks"`
	Jobs        int     `json:"jobs"`
	Stranded    int     `json:"stranded"`
	ActiveChaos int     `json:"activeChaos"`
	FleetHealth float64 `json:"fleetHealth"`
	Strategy    string  `json:"strategy"`
	LastError   string  `json:"lastError,omitempty"`
}

// Status snapshots the loop state.
func (e *Engine) Status() Status {
	e.runMu.Lock()
	st := Status{
		Running:    e.running,
		IntervalMs: e.interval.Milliseconds(),
	}
	if e.running {
		st.UptimeSec = e.Now().Sub(e.startedAt).Seconds()
	}
	if e.loopErr != nil {
		st.LastError = e.loopErr.Error()
	}
	e.runMu.Unlock()

	e.mu.RLock()
	defer e.mu.RUnlock()
	st.Tick = e.tick
	st.Nodes = len(e.fab.Nodes())
	st.Strategy = e.forecaster.Strategy()
	var healthSum float64
	for _, l := range e.fab.Links() {
		st.Links++
		healthSum += l.Health
		if l.Failed {
			st.FailedLinks++
		}
	}
	if st.Links > 0 {
		st.FleetHealth = healthSum / float64(st.Links)
	}
	for _, j := range e.router.Jobs() {
		st.Jobs++
		if j.State == model.JobStranded {
			st.Stranded++
		}
	}
	st.ActiveChaos = e.chaos.ActiveCount()
	return st
}

func (e *Engine) pushAlert(a model.Alert) {
	e.alerts = append(e.alerts, a)
	if len(e.alerts) > alertCap {
		e.alerts = e.alerts[len(e.alerts)-alertCap:]
	}
	e.rec.RecordAlert(a.Severity)
}

func (e *Engine) pushDecision(d model.RouteDecision) {
	e.decisions = append(e.decisions, d)
	if len(e.decisions) > decisionCap {
		e.decisions = e.decisions[len(e.decisions)-decisionCap:]
	}
	e.rec.RecordDecision(d.Reason)
}

func (e *Engine) pushKPI(k model.KPISnapshot) {
	e.kpis = append(e.kpis, k)
	if len(e.kpis) > kpiCap {
		e.kpis = e.kpis[len(e.kpis)-kpiCap:]
	}
}

// persist hands tick output to the archive, best effort.
func (e *Engine) persist(alerts []model.Alert, decisions []model.RouteDecision, kpi *model.KPISnapshot) {
	if err := e.arch.SaveAlerts(alerts); err != nil {
		e.logger.Warn("archive alerts failed", zap.Error(err))
	}
	if err := e.arch.SaveDecisions(decisions); err != nil {
		e.logger.Warn("archive decisions failed", zap.Error(err))
	}
	if kpi != nil {
		if err := e.arch.SaveKPI(*kpi); err != nil {
			e.logger.Warn("archive kpi failed", zap.Error(err))
		}
	}
}
