package engine

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fabricmon/pkg/fabric"
	"fabricmon/pkg/model"
	"fabricmon/pkg/telemetry"
)

// IngestTelemetry applies an external batch. Outcomes are per-item; the
// samples take part in the next tick's detection and scoring.
func (e *Engine) IngestTelemetry(items []model.TelemetryBatchItem) []model.TelemetryBatchResult {
	now := e.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	return telemetry.ApplyBatch(e.fab, items, now)
}

// Jobs lists all jobs sorted by id.
func (e *Engine) Jobs() []model.Job {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.router.Jobs()
}

// Job returns one job by id.
func (e *Engine) Job(id string) (model.Job, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.router.Job(id)
}

// CreateJob admits a job and routes it immediately. A job with no viable
// path is still admitted, stranded, and retried every tick.
func (e *Engine) CreateJob(src, dst string, bandwidth float64) (model.Job, error) {
	now := e.Now()
	e.mu.Lock()
	job, dec, err := e.router.Create(e.fab, src, dst, bandwidth, now)
	if err != nil {
		e.mu.Unlock()
		return model.Job{}, err
	}
	var alerts []model.Alert
	var decs []model.RouteDecision
	if dec != nil {
		dec.Tick = e.tick
		e.pushDecision(*dec)
		decs = append(decs, *dec)
	}
	if job.State == model.JobStranded {
		a := model.Alert{
			ID:        uuid.NewString(),
			Severity:  model.SeverityCritical,
			Kind:      model.AlertRouting,
			Ref:       job.ID,
			Message:   fmt.Sprintf("job %s admitted without a viable path", job.ID),
			Tick:      e.tick,
			Timestamp: now,
		}
		e.pushAlert(a)
		alerts = append(alerts, a)
	}
	e.mu.Unlock()
	e.persist(alerts, decs, nil)
	return job, nil
}

// RerouteJob forces a best-path recomputation for one job, bypassing
// hysteresis. The job is untouched when no viable path exists.
func (e *Engine) RerouteJob(id string) (model.Job, error) {
	now := e.Now()
	e.mu.Lock()
	job, dec, err := e.router.Reroute(e.fab, id, now)
	if err != nil {
		e.mu.Unlock()
		return model.Job{}, err
	}
	var alerts []model.Alert
	var decs []model.RouteDecision
	if dec != nil {
		dec.Tick = e.tick
		e.pushDecision(*dec)
		decs = append(decs, *dec)
		if note := decisionAlert(*dec); note != nil {
			a := model.Alert{
				ID:        uuid.NewString(),
				Severity:  note.Severity,
				Kind:      model.AlertRouting,
				Ref:       id,
				Message:   note.Message,
				Tick:      e.tick,
				Timestamp: now,
			}
			e.pushAlert(a)
			alerts = append(alerts, a)
		}
	}
	e.mu.Unlock()
	e.persist(alerts, decs, nil)
	return job, nil
}

// DeleteJob removes a job.
func (e *Engine) DeleteJob(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.router.Delete(id)
}

// InjectChaos applies a fault to the fabric.
func (e *Engine) InjectChaos(req model.ChaosRequest) (model.ChaosEvent, error) {
	now := e.Now()
	e.mu.Lock()
	ev, err := e.chaos.Inject(e.fab, req)
	if err != nil {
		e.mu.Unlock()
		return model.ChaosEvent{}, err
	}
	a := model.Alert{
		ID:       uuid.NewString(),
		Severity: model.SeverityInfo,
		Kind:     model.AlertChaos,
		Ref:      strings.Join(ev.Targets, ","),
		Message: fmt.Sprintf("chaos %s active on %s for %.0fs",
			ev.Type, strings.Join(ev.Targets, ","), ev.ExpiresAt.Sub(now).Seconds()),
		Tick:      e.tick,
		Timestamp: now,
	}
	e.pushAlert(a)
	e.mu.Unlock()
	e.persist([]model.Alert{a}, nil, nil)
	return ev, nil
}

// CancelChaos ends one event early, reverting its effects.
func (e *Engine) CancelChaos(id string) (model.ChaosEvent, error) {
	now := e.Now()
	e.mu.Lock()
	ev, err := e.chaos.Cancel(e.fab, id)
	if err != nil {
		e.mu.Unlock()
		return model.ChaosEvent{}, err
	}
	a := model.Alert{
		ID:        uuid.NewString(),
		Severity:  model.SeverityInfo,
		Kind:      model.AlertChaos,
		Ref:       strings.Join(ev.Targets, ","),
		Message:   fmt.Sprintf("chaos %s on %s cancelled", ev.Type, strings.Join(ev.Targets, ",")),
		Tick:      e.tick,
		Timestamp: now,
	}
	e.pushAlert(a)
	e.mu.Unlock()
	e.persist([]model.Alert{a}, nil, nil)
	return ev, nil
}

// ChaosEvents lists active events then recent history, newest first.
func (e *Engine) ChaosEvents() []model.ChaosEvent {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.chaos.Events()
}

// Snapshot exports the fabric.
func (e *Engine) Snapshot() model.TopologySnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.fab.Snapshot()
}

// ImportTopology replaces the fabric from a snapshot. Refused while the
// loop runs; all derived state resets, rings and the tick counter persist.
func (e *Engine) ImportTopology(snap model.TopologySnapshot) error {
	if e.Running() {
		return fmt.Errorf("control loop is running; stop it before importing a topology")
	}
	f, err := fabric.FromSnapshot(snap, e.cfg.Telemetry.HistoryCap)
	if err != nil {
		return fmt.Errorf("import topology: %w", err)
	}
	e.swapFabric(f)
	return nil
}

// GenerateTopology replaces the fabric with a synthetic one.
func (e *Engine) GenerateTopology(spec fabric.GenSpec) (model.TopologySnapshot, error) {
	f, err := fabric.Generate(spec)
	if err != nil {
		return model.TopologySnapshot{}, fmt.Errorf("generate topology: %w", err)
	}
	e.swapFabric(f)
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.fab.Snapshot(), nil
}

func (e *Engine) swapFabric(f *fabric.Fabric) {
	e.mu.Lock()
	e.fab = f
	e.detector.Reset()
	e.scorer.Reset()
	e.router.Reset()
	e.chaos.Reset()
	e.healthSeries = make(map[string][]float64)
	e.lastAnomaly = make(map[string]model.AnomalyResult)
	e.lastHealth = make(map[string]model.HealthRecord)
	e.lastForecast = make(map[string]model.ForecastResult)
	e.rec.ResetLinks()
	nodes, links := len(f.Nodes()), len(f.Links())
	e.mu.Unlock()
	e.logger.Info("fabric replaced", zap.Int("nodes", nodes), zap.Int("links", links))
}

// HealthRecords returns the latest record per scored link.
func (e *Engine) HealthRecords() map[string]model.HealthRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]model.HealthRecord, len(e.lastHealth))
	for id, rec := range e.lastHealth {
		out[id] = rec
	}
	return out
}

// HealthFor returns the latest record for one link. ErrNotFound for an
// unknown link, ErrNoData before the first scoring pass.
func (e *Engine) HealthFor(id string) (model.HealthRecord, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if _, err := e.fab.Link(id); err != nil {
		return model.HealthRecord{}, err
	}
	rec, ok := e.lastHealth[id]
	if !ok {
		return model.HealthRecord{}, fmt.Errorf("link %s not scored yet: %w", id, model.ErrNoData)
	}
	return rec, nil
}

// Forecasts returns the latest forecast per link that has one.
func (e *Engine) Forecasts() map[string]model.ForecastResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]model.ForecastResult, len(e.lastForecast))
	for id, fr := range e.lastForecast {
		out[id] = fr
	}
	return out
}

// ForecastFor returns the latest forecast for one link. ErrNotFound for an
// unknown link, ErrNoData when the link has no forecast yet.
func (e *Engine) ForecastFor(id string) (model.ForecastResult, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if _, err := e.fab.Link(id); err != nil {
		return model.ForecastResult{}, err
	}
	fr, ok := e.lastForecast[id]
	if !ok {
		return model.ForecastResult{}, fmt.Errorf("link %s has no forecast: %w", id, model.ErrNoData)
	}
	return fr, nil
}

// Alerts returns recent alerts, newest first.
func (e *Engine) Alerts(limit int) []model.Alert {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if limit <= 0 || limit > len(e.alerts) {
		limit = len(e.alerts)
	}
	out := make([]model.Alert, 0, limit)
	for i := len(e.alerts) - 1; i >= len(e.alerts)-limit; i-- {
		out = append(out, e.alerts[i])
	}
	return out
}

// Decisions returns recent routing decisions, newest first.
func (e *Engine) Decisions(limit int) []model.RouteDecision {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if limit <= 0 || limit > len(e.decisions) {
		limit = len(e.decisions)
	}
	out := make([]model.RouteDecision, 0, limit)
	for i := len(e.decisions) - 1; i >= len(e.decisions)-limit; i-- {
		out = append(out, e.decisions[i])
	}
	return out
}

// LatestKPI returns the most recent snapshot, ErrNoData before any tick.
func (e *Engine) LatestKPI() (model.KPISnapshot, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if len(e.kpis) == 0 {
		return model.KPISnapshot{}, model.ErrNoData
	}
	return e.kpis[len(e.kpis)-1], nil
}

// KPIHistory returns recent snapshots, newest first.
func (e *Engine) KPIHistory(limit int) []model.KPISnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if limit <= 0 || limit > len(e.kpis) {
		limit = len(e.kpis)
	}
	out := make([]model.KPISnapshot, 0, limit)
	for i := len(e.kpis) - 1; i >= len(e.kpis)-limit; i-- {
		out = append(out, e.kpis[i])
	}
	return out
}
