package fabric

import (
	"fmt"
	"sort"

	"fabricmon/pkg/model"
)

// Fabric is the in-memory interconnect graph. Nodes and links are structurally
// immutable after construction; only link runtime state mutates per tick.
// Callers serialize access (the engine holds the tick lock).
type Fabric struct {
	nodes      map[string]*model.Node
	links      map[string]*model.Link
	neighbors  map[string][]string // node id -> sorted link ids
	history    map[string][]model.TelemetrySample
	appended   map[string]int // cumulative sample count per link
	historyCap int
}

// New returns an empty fabric with the given per-link history capacity.
func New(historyCap int) *Fabric {
	if historyCap <= 0 {
		historyCap = 100
	}
	return &Fabric{
		nodes:      make(map[string]*model.Node),
		links:      make(map[string]*model.Link),
		neighbors:  make(map[string][]string),
		history:    make(map[string][]model.TelemetrySample),
		appended:   make(map[string]int),
		historyCap: historyCap,
	}
}

// AddNode registers a node during construction.
func (f *Fabric) AddNode(n model.Node) error {
	if n.ID == "" {
		return fmt.Errorf("node id is required")
	}
	if _, ok := f.nodes[n.ID]; ok {
		return fmt.Errorf("duplicate node %s", n.ID)
	}
	c := n
	f.nodes[n.ID] = &c
	return nil
}

// AddLink registers a link during construction. Parallel links between the
// same pair are allowed as long as ids stay unique.
func (f *Fabric) AddLink(l model.Link) error {
	if l.ID == "" {
		l.ID = model.LinkID(l.A, l.B)
	}
	if _, ok := f.links[l.ID]; ok {
		return fmt.Errorf("duplicate link %s", l.ID)
	}
	if l.A == l.B {
		return fmt.Errorf("link %s is a self-loop", l.ID)
	}
	if _, ok := f.nodes[l.A]; !ok {
		return fmt.Errorf("link %s references unknown node %s", l.ID, l.A)
	}
	if _, ok := f.nodes[l.B]; !ok {
		return fmt.Errorf("link %s references unknown node %s", l.ID, l.B)
	}
	c := l
	if c.Health == 0 && !c.Failed {
		c.Health = 1.0
		c.Band = model.BandExcellent
	}
	f.links[c.ID] = &c
	for _, nodeID := range []string{c.A, c.B} {
		ids := append(f.neighbors[nodeID], c.ID)
		sort.Strings(ids)
		f.neighbors[nodeID] = ids
	}
	return nil
}

// Node returns a node by id.
func (f *Fabric) Node(id string) (*model.Node, error) {
	n, ok := f.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node %s: %w", id, model.ErrNotFound)
	}
	return n, nil
}

// Link returns a link by id.
func (f *Fabric) Link(id string) (*model.Link, error) {
	l, ok := f.links[id]
	if !ok {
		return nil, fmt.Errorf("link %s: %w", id, model.ErrNotFound)
	}
	return l, nil
}

// Links returns all links sorted by id for deterministic iteration.
func (f *Fabric) Links() []*model.Link {
	out := make([]*model.Link, 0, len(f.links))
	for _, l := range f.links {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Nodes returns all nodes sorted by id.
func (f *Fabric) Nodes() []*model.Node {
	out := make([]*model.Node, 0, len(f.nodes))
	for _, n := range f.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Neighbors returns the link ids incident to a node, sorted.
func (f *Fabric) Neighbors(nodeID string) ([]string, error) {
	if _, ok := f.nodes[nodeID]; !ok {
		return nil, fmt.Errorf("node %s: %w", nodeID, model.ErrNotFound)
	}
	return f.neighbors[nodeID], nil
}

// ApplyTelemetry validates and appends one sample to a link's history,
// evicting the oldest sample beyond capacity, and refreshes the link's
// current readings.
func (f *Fabric) ApplyTelemetry(linkID string, s model.TelemetrySample) error {
	l, ok := f.links[linkID]
	if !ok {
		return fmt.Errorf("link %s: %w", linkID, model.ErrNotFound)
	}
	if err := s.Validate(); err != nil {
		return fmt.Errorf("link %s: %w", linkID, err)
	}
	hist := append(f.history[linkID], s)
	if len(hist) > f.historyCap {
		hist = hist[len(hist)-f.historyCap:]
	}
	f.history[linkID] = hist
	f.appended[linkID]++
	l.LatencyUs = s.LatencyUs
	l.Utilization = s.Utilization
	l.BER = s.BER
	l.TempC = s.TempC
	l.CRCPerSec = s.CRCErrors
	return nil
}

// History returns a link's bounded telemetry history, oldest first.
func (f *Fabric) History(linkID string) ([]model.TelemetrySample, error) {
	if _, ok := f.links[linkID]; !ok {
		return nil, fmt.Errorf("link %s: %w", linkID, model.ErrNotFound)
	}
	return f.history[linkID], nil
}

// SampleCount returns the cumulative number of samples ever applied to a
// link, independent of history eviction.
func (f *Fabric) SampleCount(linkID string) int {
	return f.appended[linkID]
}

// SetFailed applies or clears the failure override. While set, health is
// forced to zero and the link is excluded from routing; clearing lets the
// scorer rederive health from telemetry on the next tick.
func (f *Fabric) SetFailed(linkID string, failed bool) error {
	l, ok := f.links[linkID]
	if !ok {
		return fmt.Errorf("link %s: %w", linkID, model.ErrNotFound)
	}
	l.Failed = failed
	if failed {
		l.Health = 0
		l.Band = model.BandCritical
	}
	return nil
}

// Validate checks structural integrity. Any violation here is fatal to the
// control loop.
func (f *Fabric) Validate() error {
	for id, l := range f.links {
		if _, ok := f.nodes[l.A]; !ok {
			return fmt.Errorf("link %s references unknown node %s", id, l.A)
		}
		if _, ok := f.nodes[l.B]; !ok {
			return fmt.Errorf("link %s references unknown node %s", id, l.B)
		}
		if l.A == l.B {
			return fmt.Errorf("link %s is a self-loop", id)
		}
	}
	return nil
}
