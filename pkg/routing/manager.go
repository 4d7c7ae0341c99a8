package routing

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fabricmon/pkg/config"
	"fabricmon/pkg/fabric"
	"fabricmon/pkg/model"
)

// Manager owns the job table and the reroute policy. Jobs transition
// Stable -> AtRisk -> Rerouting -> Stable, or to Stranded when no viable
// path exists; stranded jobs are retried every pass. Not safe for
// concurrent use; callers serialize.
type Manager struct {
	cfg    config.RoutingTuning
	opt    *Optimizer
	logger *zap.Logger
	jobs   map[string]*model.Job
}

func NewManager(cfg config.RoutingTuning, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:    cfg,
		opt:    NewOptimizer(cfg),
		logger: logger,
		jobs:   make(map[string]*model.Job),
	}
}

// Optimizer exposes the shared link-weight function.
func (m *Manager) Optimizer() *Optimizer { return m.opt }

// Reset drops all jobs, as after a topology swap.
func (m *Manager) Reset() {
	m.jobs = make(map[string]*model.Job)
}

// Jobs returns all jobs sorted by id.
func (m *Manager) Jobs() []model.Job {
	out := make([]model.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, *j)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Manager) Job(id string) (model.Job, error) {
	j, ok := m.jobs[id]
	if !ok {
		return model.Job{}, fmt.Errorf("job %s: %w", id, model.ErrNotFound)
	}
	return *j, nil
}

func (m *Manager) Delete(id string) error {
	if _, ok := m.jobs[id]; !ok {
		return fmt.Errorf("job %s: %w", id, model.ErrNotFound)
	}
	delete(m.jobs, id)
	return nil
}

// Create admits a job and routes it. A job with no viable path is still
// admitted, in the Stranded state, and picked up by later passes.
func (m *Manager) Create(f *fabric.Fabric, src, dst string, bandwidth float64, now time.Time) (model.Job, *model.RouteDecision, error) {
	if src == dst {
		return model.Job{}, nil, fmt.Errorf("source and destination must differ")
	}
	if _, err := f.Node(src); err != nil {
		return model.Job{}, nil, fmt.Errorf("source %s: %w", src, model.ErrNotFound)
	}
	if _, err := f.Node(dst); err != nil {
		return model.Job{}, nil, fmt.Errorf("destination %s: %w", dst, model.ErrNotFound)
	}
	job := &model.Job{
		ID:            uuid.NewString()[:8],
		Source:        src,
		Dest:          dst,
		BandwidthGbps: bandwidth,
		State:         model.JobStranded,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	var dec *model.RouteDecision
	if p, err := m.opt.BestPath(f, src, dst); err == nil {
		job.Path = p.Links
		job.PathCost = p.Cost
		job.State = model.JobStable
		dec = &model.RouteDecision{
			JobID:     job.ID,
			NewPath:   p.Links,
			NewCost:   p.Cost,
			Reason:    model.ReasonInitial,
			Timestamp: now,
		}
	} else {
		m.logger.Warn("job admitted without a path",
			zap.String("job", job.ID), zap.String("source", src), zap.String("dest", dst))
	}
	m.jobs[job.ID] = job
	return *job, dec, nil
}

// Reroute recomputes one job's path on demand, bypassing the hysteresis
// margin. The job is left untouched when no viable path exists.
func (m *Manager) Reroute(f *fabric.Fabric, id string, now time.Time) (model.Job, *model.RouteDecision, error) {
	job, ok := m.jobs[id]
	if !ok {
		return model.Job{}, nil, fmt.Errorf("job %s: %w", id, model.ErrNotFound)
	}
	p, err := m.opt.BestPath(f, job.Source, job.Dest)
	if err != nil {
		return *job, nil, err
	}
	if samePath(p.Links, job.Path) {
		job.PathCost = p.Cost
		job.UpdatedAt = now
		return *job, nil, nil
	}
	old, oldCost := job.Path, job.PathCost
	job.Path, job.PathCost = p.Links, p.Cost
	job.State = model.JobRerouting
	job.UpdatedAt = now
	dec := &model.RouteDecision{
		JobID:     job.ID,
		OldPath:   old,
		NewPath:   p.Links,
		OldCost:   oldCost,
		NewCost:   p.Cost,
		Reason:    model.ReasonManual,
		Timestamp: now,
	}
	return *job, dec, nil
}

// Evaluate runs the reroute policy over every job in id order and returns
// the decisions taken this pass.
func (m *Manager) Evaluate(f *fabric.Fabric, now time.Time) []model.RouteDecision {
	ids := make([]string, 0, len(m.jobs))
	for id := range m.jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var decisions []model.RouteDecision
	for _, id := range ids {
		if d := m.evaluateJob(f, m.jobs[id], now); d != nil {
			decisions = append(decisions, *d)
		}
	}
	return decisions
}

func (m *Manager) evaluateJob(f *fabric.Fabric, job *model.Job, now time.Time) *model.RouteDecision {
	if job.State == model.JobStranded {
		p, err := m.opt.BestPath(f, job.Source, job.Dest)
		if err != nil {
			return nil
		}
		old := job.Path
		job.Path, job.PathCost = p.Links, p.Cost
		job.State = model.JobRerouting
		job.UpdatedAt = now
		return &model.RouteDecision{
			JobID: job.ID, OldPath: old, NewPath: p.Links, NewCost: p.Cost,
			Reason: model.ReasonRecovered, Timestamp: now,
		}
	}

	curCost, err := m.opt.PathCost(f, job.Path)
	if err != nil {
		// installed path broke; any replacement beats none
		p, perr := m.opt.BestPath(f, job.Source, job.Dest)
		if perr != nil {
			old := job.Path
			job.Path, job.PathCost = nil, 0
			job.State = model.JobStranded
			job.UpdatedAt = now
			m.logger.Warn("job stranded", zap.String("job", job.ID))
			return &model.RouteDecision{
				JobID: job.ID, OldPath: old, Reason: model.ReasonStranded, Timestamp: now,
			}
		}
		old, oldCost := job.Path, job.PathCost
		job.Path, job.PathCost = p.Links, p.Cost
		job.State = model.JobRerouting
		job.UpdatedAt = now
		return &model.RouteDecision{
			JobID: job.ID, OldPath: old, NewPath: p.Links, OldCost: oldCost, NewCost: p.Cost,
			Reason: model.ReasonDegraded, Timestamp: now,
		}
	}
	job.PathCost = curCost

	minHealth, breach := pathCondition(f, job.Path)
	if minHealth >= m.cfg.RerouteHealth && !breach {
		if job.State != model.JobStable {
			job.State = model.JobStable
			job.UpdatedAt = now
		}
		return nil
	}

	if job.State != model.JobAtRisk {
		job.State = model.JobAtRisk
		job.UpdatedAt = now
	}
	p, perr := m.opt.BestPath(f, job.Source, job.Dest)
	if perr != nil {
		return nil // keep the degraded path; nothing better exists
	}
	if samePath(p.Links, job.Path) || curCost-p.Cost <= m.cfg.Hysteresis*curCost {
		return nil
	}
	reason := model.ReasonDegraded
	if minHealth >= m.cfg.RerouteHealth {
		reason = model.ReasonForecast
	}
	old := job.Path
	job.Path, job.PathCost = p.Links, p.Cost
	job.State = model.JobRerouting
	job.UpdatedAt = now
	return &model.RouteDecision{
		JobID: job.ID, OldPath: old, NewPath: p.Links, OldCost: curCost, NewCost: p.Cost,
		Reason: reason, Timestamp: now,
	}
}

// pathCondition reports the weakest link health and whether any link on the
// path has a forecast breach.
func pathCondition(f *fabric.Fabric, links []string) (float64, bool) {
	minHealth := 1.0
	breach := false
	for _, id := range links {
		l, err := f.Link(id)
		if err != nil {
			continue
		}
		if l.Health < minHealth {
			minHealth = l.Health
		}
		if l.LastForecast != nil && l.LastForecast.Breach {
			breach = true
		}
	}
	return minHealth, breach
}

func samePath(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
