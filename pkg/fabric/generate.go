package fabric

import (
	"fmt"
	"math/rand"

	"fabricmon/pkg/model"
)

// GenSpec sizes a synthetic fabric.
type GenSpec struct {
	GPUs     int   `json:"gpus"`
	Switches int   `json:"switches"`
	Seed     int64 `json:"seed"`
}

type linkParams struct {
	bwLo, bwHi   float64
	latLo, latHi float64
}

var genParams = map[string]linkParams{
	model.LinkNVLink: {bwLo: 400, bwHi: 900, latLo: 0.8, latHi: 1.5},
	model.LinkUALink: {bwLo: 200, bwHi: 600, latLo: 1.5, latHi: 3.0},
	model.LinkPCIe:   {bwLo: 64, bwHi: 256, latLo: 3.0, latHi: 8.0},
}

// Generate builds a synthetic fabric: every GPU attaches to one or two
// switches, switch pairs interconnect with probability 0.7. Deterministic for
// a fixed seed.
func Generate(spec GenSpec) (*Fabric, error) {
	if spec.GPUs < 1 {
		return nil, fmt.Errorf("at least one gpu required")
	}
	if spec.Switches < 1 {
		return nil, fmt.Errorf("at least one switch required")
	}
	rng := rand.New(rand.NewSource(spec.Seed))
	f := New(0)

	for i := 0; i < spec.GPUs; i++ {
		if err := f.AddNode(model.Node{
			ID:            fmt.Sprintf("gpu%d", i),
			Type:          model.NodeGPU,
			ComputeTFLOPS: 60 + rng.Float64()*40,
			MemoryGB:      80,
			Ports:         18,
		}); err != nil {
			return nil, err
		}
	}
	for i := 0; i < spec.Switches; i++ {
		if err := f.AddNode(model.Node{
			ID:    fmt.Sprintf("sw%d", i),
			Type:  model.NodeSwitch,
			Ports: 64,
		}); err != nil {
			return nil, err
		}
	}

	addLink := func(a, b, linkType string) error {
		id := model.LinkID(a, b)
		if _, err := f.Link(id); err == nil {
			return nil // pair already connected
		}
		p := genParams[linkType]
		return f.AddLink(model.Link{
			ID:            id,
			A:             a,
			B:             b,
			Type:          linkType,
			BandwidthGbps: p.bwLo + rng.Float64()*(p.bwHi-p.bwLo),
			BaseLatencyUs: p.latLo + rng.Float64()*(p.latHi-p.latLo),
		})
	}

	for i := 0; i < spec.GPUs; i++ {
		gpu := fmt.Sprintf("gpu%d", i)
		attach := 1 + rng.Intn(2)
		if attach > spec.Switches {
			attach = spec.Switches
		}
		perm := rng.Perm(spec.Switches)
		for _, s := range perm[:attach] {
			linkType := model.LinkNVLink
			if rng.Float64() >= 0.75 {
				linkType = model.LinkPCIe
			}
			if err := addLink(gpu, fmt.Sprintf("sw%d", s), linkType); err != nil {
				return nil, err
			}
		}
	}
	for i := 0; i < spec.Switches; i++ {
		for j := i + 1; j < spec.Switches; j++ {
			if rng.Float64() >= 0.7 {
				continue
			}
			linkType := model.LinkNVLink
			switch r := rng.Float64(); {
			case r < 0.5:
				linkType = model.LinkNVLink
			case r < 0.8:
				linkType = model.LinkUALink
			default:
				linkType = model.LinkPCIe
			}
			if err := addLink(fmt.Sprintf("sw%d", i), fmt.Sprintf("sw%d", j), linkType); err != nil {
				return nil, err
			}
		}
	}

	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}
