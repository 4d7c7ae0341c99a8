package chaos

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fabricmon/pkg/fabric"
	"fabricmon/pkg/model"
)

const historyCap = 50

// applied is one in-flight event plus the exact state needed to revert it.
type applied struct {
	event    model.ChaosEvent
	boosted  []string           // links this event storms
	degraded map[string]float64 // degradation delta this event added
}

// Engine injects bounded-lifetime faults and reverts them exactly at expiry
// or cancellation. Re-injecting an active type+targets combination refreshes
// its expiry instead of stacking a second copy. Not safe for concurrent use;
// callers serialize.
type Engine struct {
	// Now is the clock; swappable in tests.
	Now func() time.Time

	logger   *zap.Logger
	active   map[string]*applied
	byKey    map[string]string
	failRefs map[string]int  // active failure events per link
	flipped  map[string]bool // links this engine failed, to restore
	history  []model.ChaosEvent
}

func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		Now:      time.Now,
		logger:   logger,
		active:   make(map[string]*applied),
		byKey:    make(map[string]string),
		failRefs: make(map[string]int),
		flipped:  make(map[string]bool),
	}
}

// Reset drops all event state without reverting effects, as after a
// topology swap where the old links are gone anyway.
func (e *Engine) Reset() {
	e.active = make(map[string]*applied)
	e.byKey = make(map[string]string)
	e.failRefs = make(map[string]int)
	e.flipped = make(map[string]bool)
	e.history = nil
}

// ActiveCount returns the number of in-flight events.
func (e *Engine) ActiveCount() int { return len(e.active) }

// Events lists in-flight events followed by recently completed ones, newest
// first within each group.
func (e *Engine) Events() []model.ChaosEvent {
	out := make([]model.ChaosEvent, 0, len(e.active)+len(e.history))
	for _, a := range e.active {
		out = append(out, a.event)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	for i := len(e.history) - 1; i >= 0; i-- {
		out = append(out, e.history[i])
	}
	return out
}

// Inject validates and applies one fault. Unknown target links are rejected
// before any effect is applied.
func (e *Engine) Inject(f *fabric.Fabric, req model.ChaosRequest) (model.ChaosEvent, error) {
	targets := req.Targets
	if len(targets) == 0 && req.Target != "" {
		targets = []string{req.Target}
	}
	if len(targets) == 0 {
		return model.ChaosEvent{}, fmt.Errorf("chaos request needs a target link")
	}
	for _, id := range targets {
		if _, err := f.Link(id); err != nil {
			return model.ChaosEvent{}, fmt.Errorf("target link %s: %w", id, model.ErrNotFound)
		}
	}
	if req.Type == model.ChaosCascading && len(targets) != 1 {
		return model.ChaosEvent{}, fmt.Errorf("cascading degradation takes exactly one seed link")
	}

	dur := time.Duration(req.DurationSec * float64(time.Second))
	if dur <= 0 {
		dur = time.Minute
	}
	now := e.Now()

	key := eventKey(req.Type, targets)
	if id, ok := e.byKey[key]; ok {
		a := e.active[id]
		a.event.ExpiresAt = now.Add(dur)
		e.logger.Info("chaos event refreshed", zap.String("id", id), zap.String("type", req.Type))
		return a.event, nil
	}

	ev := model.ChaosEvent{
		ID:        uuid.NewString(),
		Type:      req.Type,
		Targets:   targets,
		Active:    true,
		CreatedAt: now,
		ExpiresAt: now.Add(dur),
	}
	a := &applied{event: ev}

	switch req.Type {
	case model.ChaosLinkFailure:
	case model.ChaosCongestionStorm:
		a.event.Multiplier = req.Multiplier
		if a.event.Multiplier <= 1 {
			a.event.Multiplier = 4
		}
		a.boosted = targets
	case model.ChaosCascading:
		a.event.Factor = req.Factor
		if a.event.Factor <= 0 || a.event.Factor > 1 {
			a.event.Factor = 0.5
		}
		a.event.Hops = req.Hops
		if a.event.Hops < 0 {
			a.event.Hops = 0
		}
	default:
		return model.ChaosEvent{}, fmt.Errorf("unknown chaos type %q", req.Type)
	}

	e.active[ev.ID] = a
	e.byKey[key] = ev.ID

	switch req.Type {
	case model.ChaosLinkFailure:
		for _, id := range targets {
			e.failRefs[id]++
			l, _ := f.Link(id)
			if l.Failed {
				continue
			}
			if err := f.SetFailed(id, true); err != nil {
				e.logger.Warn("chaos apply failed", zap.String("link", id), zap.Error(err))
				continue
			}
			e.flipped[id] = true
		}
	case model.ChaosCongestionStorm:
		e.applyBoosts(f, targets)
	case model.ChaosCascading:
		a.degraded = e.cascade(f, targets[0], a.event.Factor, a.event.Hops)
	}
	e.logger.Info("chaos event injected",
		zap.String("id", ev.ID), zap.String("type", ev.Type), zap.Strings("targets", targets))
	return a.event, nil
}

// Cancel reverts one active event immediately.
func (e *Engine) Cancel(f *fabric.Fabric, id string) (model.ChaosEvent, error) {
	a, ok := e.active[id]
	if !ok {
		return model.ChaosEvent{}, fmt.Errorf("chaos event %s: %w", id, model.ErrNotFound)
	}
	e.end(f, a, e.Now())
	return a.event, nil
}

// Step expires events whose lifetime has passed and returns them.
func (e *Engine) Step(f *fabric.Fabric) []model.ChaosEvent {
	now := e.Now()
	ids := make([]string, 0, len(e.active))
	for id, a := range e.active {
		if !now.Before(a.event.ExpiresAt) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	var ended []model.ChaosEvent
	for _, id := range ids {
		a := e.active[id]
		e.end(f, a, now)
		ended = append(ended, a.event)
	}
	return ended
}

func (e *Engine) end(f *fabric.Fabric, a *applied, now time.Time) {
	delete(e.active, a.event.ID)
	delete(e.byKey, eventKey(a.event.Type, a.event.Targets))

	switch a.event.Type {
	case model.ChaosLinkFailure:
		for _, id := range a.event.Targets {
			e.failRefs[id]--
			if e.failRefs[id] > 0 {
				continue
			}
			delete(e.failRefs, id)
			if !e.flipped[id] {
				continue // link was already down before chaos touched it
			}
			delete(e.flipped, id)
			if err := f.SetFailed(id, false); err != nil {
				e.logger.Warn("chaos revert failed", zap.String("link", id), zap.Error(err))
			}
		}
	case model.ChaosCongestionStorm:
		e.applyBoosts(f, a.boosted)
	case model.ChaosCascading:
		for id, delta := range a.degraded {
			l, err := f.Link(id)
			if err != nil {
				continue
			}
			l.Degradation = math.Max(0, l.Degradation-delta)
		}
	}

	a.event.Active = false
	a.event.EndedAt = now
	e.history = append(e.history, a.event)
	if len(e.history) > historyCap {
		e.history = e.history[len(e.history)-historyCap:]
	}
	e.logger.Info("chaos event ended", zap.String("id", a.event.ID), zap.String("type", a.event.Type))
}

// applyBoosts recomputes the storm multiplier on the given links as the max
// over all still-active storms, so overlapping storms revert cleanly.
func (e *Engine) applyBoosts(f *fabric.Fabric, linkIDs []string) {
	for _, id := range linkIDs {
		l, err := f.Link(id)
		if err != nil {
			continue
		}
		var boost float64
		for _, a := range e.active {
			if a.event.Type != model.ChaosCongestionStorm {
				continue
			}
			for _, t := range a.boosted {
				if t == id && a.event.Multiplier > boost {
					boost = a.event.Multiplier
				}
			}
		}
		l.CongestionBoost = boost
	}
}

// cascade walks outward from the seed link, adding geometrically decaying
// degradation. Returns the exact delta applied per link.
func (e *Engine) cascade(f *fabric.Fabric, seedID string, factor float64, hops int) map[string]float64 {
	deltas := make(map[string]float64)
	seed, err := f.Link(seedID)
	if err != nil {
		return deltas
	}

	visited := map[string]bool{seedID: true}
	frontier := []string{seed.A, seed.B}
	addDelta(f, deltas, seedID, factor)

	for depth := 1; depth <= hops; depth++ {
		amount := math.Pow(factor, float64(depth)+1)
		var nextFrontier []string
		seen := make(map[string]bool)
		for _, nodeID := range frontier {
			linkIDs, err := f.Neighbors(nodeID)
			if err != nil {
				continue
			}
			for _, id := range linkIDs {
				if visited[id] {
					continue
				}
				visited[id] = true
				addDelta(f, deltas, id, amount)
				l, err := f.Link(id)
				if err != nil {
					continue
				}
				other := l.Other(nodeID)
				if !seen[other] {
					seen[other] = true
					nextFrontier = append(nextFrontier, other)
				}
			}
		}
		frontier = nextFrontier
	}
	return deltas
}

func addDelta(f *fabric.Fabric, deltas map[string]float64, linkID string, amount float64) {
	l, err := f.Link(linkID)
	if err != nil {
		return
	}
	delta := math.Min(amount, 1-l.Degradation)
	if delta <= 0 {
		return
	}
	l.Degradation += delta
	deltas[linkID] = delta
}

func eventKey(chaosType string, targets []string) string {
	sorted := append([]string(nil), targets...)
	sort.Strings(sorted)
	return chaosType + ":" + strings.Join(sorted, ",")
}
