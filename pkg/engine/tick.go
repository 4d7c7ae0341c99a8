package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fabricmon/pkg/model"
)

func bandRank(band string) int {
	switch band {
	case model.BandExcellent:
		return 0
	case model.BandGood:
		return 1
	case model.BandFair:
		return 2
	case model.BandPoor:
		return 3
	case model.BandCritical:
		return 4
	}
	return 0
}

// Tick runs one full pipeline pass: telemetry, anomaly detection, health
// scoring, forecasting, route evaluation, chaos expiry, KPI aggregation.
// Per-link failures are logged and skipped; only structural fabric
// corruption is fatal.
func (e *Engine) Tick() (model.TickSummary, error) {
	wallStart := time.Now()
	now := e.Now()

	e.mu.Lock()
	if err := e.fab.Validate(); err != nil {
		e.mu.Unlock()
		return model.TickSummary{}, fmt.Errorf("fabric validation: %w", err)
	}
	e.tick++
	tick := e.tick

	var (
		newAlerts []model.Alert
		anomalies int
	)
	raise := func(severity, kind, ref, message string) {
		a := model.Alert{
			ID:        uuid.NewString(),
			Severity:  severity,
			Kind:      kind,
			Ref:       ref,
			Message:   message,
			Tick:      tick,
			Timestamp: now,
		}
		e.pushAlert(a)
		newAlerts = append(newAlerts, a)
	}

	e.gen.Tick(e.fab, now)

	window := e.cfg.Forecast.Window
	if window <= 0 {
		window = 50
	}
	fitEvery := int64(e.cfg.Forecast.FitEvery)
	if fitEvery <= 0 {
		fitEvery = 1
	}

	for _, l := range e.fab.Links() {
		// anomaly
		var res model.AnomalyResult
		if !l.Failed {
			hist, _ := e.fab.History(l.ID)
			var err error
			res, err = e.detector.Detect(l.ID, hist, e.fab.SampleCount(l.ID))
			if err != nil && !errors.Is(err, model.ErrNoData) && !errors.Is(err, model.ErrInsufficientData) {
				e.logger.Warn("anomaly detection failed", zap.String("link", l.ID), zap.Error(err))
			}
		}
		prevRes := e.lastAnomaly[l.ID]
		l.Anomalous = res.Anomalous
		e.lastAnomaly[l.ID] = res
		if res.Anomalous {
			anomalies++
			e.rec.RecordAnomaly(res.Methods)
			if res.Severity >= 0.75 && !(prevRes.Anomalous && prevRes.Severity >= 0.75) {
				sev := model.SeverityWarning
				if res.Severity >= 0.9 {
					sev = model.SeverityCritical
				}
				msg := fmt.Sprintf("anomaly on %s (%s)", l.ID, strings.Join(res.Methods, ", "))
				if len(res.Details) > 0 {
					msg += ": " + res.Details[0]
				}
				raise(sev, model.AlertAnomaly, l.ID, msg)
			}
		}

		// health
		prevHealth, hadPrev := e.lastHealth[l.ID]
		hrec, err := e.scorer.Score(l, res.Severity, now)
		if err != nil {
			// no reading yet; construction defaults stand
			continue
		}
		l.Health, l.Band = hrec.Score, hrec.Band
		e.lastHealth[l.ID] = hrec

		series := append(e.healthSeries[l.ID], hrec.Score)
		if len(series) > window {
			series = series[len(series)-window:]
		}
		e.healthSeries[l.ID] = series

		oldRank := 0
		if hadPrev {
			oldRank = bandRank(prevHealth.Band)
		}
		if newRank := bandRank(hrec.Band); newRank >= bandRank(model.BandPoor) && newRank > oldRank {
			sev := model.SeverityWarning
			if hrec.Band == model.BandCritical {
				sev = model.SeverityCritical
			}
			raise(sev, model.AlertHealth,
				l.ID, fmt.Sprintf("%s health %.2f (%s): %s", l.ID, hrec.Score, hrec.Band, hrec.Recommendation))
		}

		// forecast
		if l.Failed {
			l.LastForecast = nil
			delete(e.lastForecast, l.ID)
			continue
		}
		if tick%fitEvery != 0 {
			continue
		}
		fr, err := e.forecaster.Forecast(l.ID, series, now)
		switch {
		case err == nil:
			prevBreach := e.lastForecast[l.ID].Breach
			cp := fr
			l.LastForecast = &cp
			e.lastForecast[l.ID] = fr
			if fr.Breach && !prevBreach {
				raise(model.SeverityWarning, model.AlertForecast, l.ID,
					fmt.Sprintf("forecast breach on %s: health projected below %.2f within %d ticks",
						l.ID, e.cfg.Forecast.CriticalHealth, e.cfg.Forecast.Horizon))
			}
		case errors.Is(err, model.ErrInsufficientData) || errors.Is(err, model.ErrModelFitFailure):
			// not enough signal yet for this link
		default:
			e.logger.Warn("forecast failed", zap.String("link", l.ID), zap.Error(err))
		}
	}

	// routing
	decisions := e.router.Evaluate(e.fab, now)
	reroutes := 0
	for i := range decisions {
		decisions[i].Tick = tick
		e.pushDecision(decisions[i])
		if len(decisions[i].NewPath) > 0 {
			reroutes++
		}
		if a := decisionAlert(decisions[i]); a != nil {
			raise(a.Severity, model.AlertRouting, decisions[i].JobID, a.Message)
		}
	}

	// chaos expiry
	for _, ev := range e.chaos.Step(e.fab) {
		raise(model.SeverityInfo, model.AlertChaos, strings.Join(ev.Targets, ","),
			fmt.Sprintf("chaos %s on %s expired", ev.Type, strings.Join(ev.Targets, ",")))
	}

	// KPI aggregation
	bands := make(map[string]int)
	var healthSum float64
	failed := 0
	links := e.fab.Links()
	for _, l := range links {
		bands[l.Band]++
		healthSum += l.Health
		if l.Failed {
			failed++
		}
		e.rec.SetLinkHealth(l.ID, l.Health)
	}
	fleet := 0.0
	if len(links) > 0 {
		fleet = healthSum / float64(len(links))
	}
	jobStates := make(map[string]int)
	stranded := 0
	for _, j := range e.router.Jobs() {
		jobStates[j.State]++
		if j.State == model.JobStranded {
			stranded++
		}
	}
	chaosCounts := make(map[string]int)
	active := 0
	for _, ev := range e.chaos.Events() {
		if ev.Active {
			chaosCounts[ev.Type]++
			active++
		}
	}

	d := time.Since(wallStart)
	kpi := model.KPISnapshot{
		Tick:        tick,
		FleetHealth: fleet,
		Bands:       bands,
		FailedLinks: failed,
		Anomalies:   anomalies,
		Jobs:        jobStates,
		ActiveChaos: active,
		Reroutes:    reroutes,
		Alerts:      len(newAlerts),
		TickMs:      d.Seconds() * 1e3,
		Timestamp:   now,
	}
	e.pushKPI(kpi)

	e.rec.ObserveTick(d)
	e.rec.SetFleetHealth(fleet)
	e.rec.SetFailedLinks(failed)
	e.rec.SetStrandedJobs(stranded)
	e.rec.SetChaosActive(chaosCounts)

	summary := model.TickSummary{
		Tick:        tick,
		FleetHealth: fleet,
		FailedLinks: failed,
		Anomalies:   anomalies,
		Reroutes:    reroutes,
		Stranded:    stranded,
		NewAlerts:   newAlerts,
		Timestamp:   now,
	}
	broadcast := e.broadcast
	e.mu.Unlock()

	e.persist(newAlerts, decisions, &kpi)
	if broadcast != nil {
		broadcast(summary)
	}
	return summary, nil
}

type decisionNote struct {
	Severity string
	Message  string
}

// decisionAlert maps a routing decision to its operator alert, or nil for
// routine placements.
func decisionAlert(d model.RouteDecision) *decisionNote {
	switch d.Reason {
	case model.ReasonStranded:
		return &decisionNote{model.SeverityCritical,
			fmt.Sprintf("job %s stranded: no viable path remains", d.JobID)}
	case model.ReasonDegraded:
		return &decisionNote{model.SeverityWarning,
			fmt.Sprintf("job %s rerouted off a degraded path (cost %.1f -> %.1f)", d.JobID, d.OldCost, d.NewCost)}
	case model.ReasonForecast:
		return &decisionNote{model.SeverityInfo,
			fmt.Sprintf("job %s rerouted ahead of a forecast breach", d.JobID)}
	case model.ReasonRecovered:
		return &decisionNote{model.SeverityInfo,
			fmt.Sprintf("job %s recovered onto a viable path", d.JobID)}
	case model.ReasonManual:
		return &decisionNote{model.SeverityInfo,
			fmt.Sprintf("job %s rerouted by operator request", d.JobID)}
	}
	return nil
}
