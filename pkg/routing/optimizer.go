package routing

import (
	"fmt"

	"fabricmon/pkg/config"
	"fabricmon/pkg/fabric"
	"fabricmon/pkg/model"
)

// Optimizer scores links and resolves paths over the fabric.
type Optimizer struct {
	cfg config.RoutingTuning
}

func NewOptimizer(cfg config.RoutingTuning) *Optimizer {
	return &Optimizer{cfg: cfg}
}

// LinkWeight is the routing cost of one link: propagation delay scaled by
// capacity, a quadratic congestion term and a health penalty.
func (o *Optimizer) LinkWeight(l *model.Link) float64 {
	bw := l.BandwidthGbps
	if bw <= 0 {
		bw = 100
	}
	w := l.BaseLatencyUs / (bw / 100)
	w += o.cfg.CongestionCoeff * l.Utilization * l.Utilization
	w += o.cfg.UnhealthyCoeff * (1 - l.Health)
	return w
}

// BestPath finds the cheapest viable route between two nodes.
func (o *Optimizer) BestPath(f *fabric.Fabric, src, dst string) (Path, error) {
	return o.shortestPath(f, src, dst)
}

// PathCost recomputes the weight of an installed path at current link
// state. A missing or failed link makes the path unusable.
func (o *Optimizer) PathCost(f *fabric.Fabric, links []string) (float64, error) {
	if len(links) == 0 {
		return 0, fmt.Errorf("empty path: %w", model.ErrNoViablePath)
	}
	var total float64
	for _, id := range links {
		l, err := f.Link(id)
		if err != nil {
			return 0, fmt.Errorf("path link %s: %w", id, model.ErrNotFound)
		}
		if l.Failed {
			return 0, fmt.Errorf("path link %s is down", id)
		}
		total += o.LinkWeight(l)
	}
	return total, nil
}
