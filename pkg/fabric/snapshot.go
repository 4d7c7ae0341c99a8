package fabric

import (
	"time"

	"fabricmon/pkg/model"
)

// Snapshot exports the full graph with static and current runtime attributes.
func (f *Fabric) Snapshot() model.TopologySnapshot {
	snap := model.TopologySnapshot{Timestamp: time.Now()}
	for _, n := range f.Nodes() {
		snap.Nodes = append(snap.Nodes, *n)
	}
	for _, l := range f.Links() {
		c := *l
		if l.LastForecast != nil {
			fc := *l.LastForecast
			c.LastForecast = &fc
		}
		snap.Links = append(snap.Links, c)
	}
	return snap
}

// FromSnapshot reconstructs a fresh fabric from an exported snapshot keeping
// only static attributes; runtime state starts over.
func FromSnapshot(snap model.TopologySnapshot, historyCap int) (*Fabric, error) {
	f := New(historyCap)
	for _, n := range snap.Nodes {
		if err := f.AddNode(n); err != nil {
			return nil, err
		}
	}
	for _, l := range snap.Links {
		if err := f.AddLink(model.Link{
			ID:            l.ID,
			A:             l.A,
			B:             l.B,
			Type:          l.Type,
			BandwidthGbps: l.BandwidthGbps,
			BaseLatencyUs: l.BaseLatencyUs,
		}); err != nil {
			return nil, err
		}
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}
