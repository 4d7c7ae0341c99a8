package fabric

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"fabricmon/pkg/model"
)

// fileTopology is the bootstrap file shape: static attributes only. Runtime
// link state always starts zeroed; restoring a running fabric goes through
// the snapshot import API instead.
type fileTopology struct {
	Nodes []fileNode `yaml:"nodes" json:"nodes"`
	Links []fileLink `yaml:"links" json:"links"`
}

type fileNode struct {
	ID            string  `yaml:"id" json:"id"`
	Type          string  `yaml:"type" json:"type"`
	ComputeTFLOPS float64 `yaml:"computeTflops" json:"computeTflops"`
	MemoryGB      int     `yaml:"memoryGb" json:"memoryGb"`
	Ports         int     `yaml:"ports" json:"ports"`
}

type fileLink struct {
	ID            string  `yaml:"id" json:"id"`
	A             string  `yaml:"a" json:"a"`
	B             string  `yaml:"b" json:"b"`
	Type          string  `yaml:"type" json:"type"`
	BandwidthGbps float64 `yaml:"bandwidthGbps" json:"bandwidthGbps"`
	BaseLatencyUs float64 `yaml:"baseLatencyUs" json:"baseLatencyUs"`
}

// LoadFile builds a fabric from a topology file, YAML or JSON by extension.
// Extra fields (for example a snapshot's runtime state) are ignored.
func LoadFile(path string, historyCap int) (*Fabric, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read topology file: %w", err)
	}
	var doc fileTopology
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &doc); err != nil {
			return nil, fmt.Errorf("parse topology yaml: %w", err)
		}
	default:
		if err := json.Unmarshal(b, &doc); err != nil {
			return nil, fmt.Errorf("parse topology json: %w", err)
		}
	}
	if len(doc.Nodes) == 0 {
		return nil, fmt.Errorf("topology file %s has no nodes", path)
	}
	f := New(historyCap)
	for _, n := range doc.Nodes {
		if err := f.AddNode(model.Node{
			ID:            n.ID,
			Type:          n.Type,
			ComputeTFLOPS: n.ComputeTFLOPS,
			MemoryGB:      n.MemoryGB,
			Ports:         n.Ports,
		}); err != nil {
			return nil, err
		}
	}
	for _, l := range doc.Links {
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
