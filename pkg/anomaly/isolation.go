package anomaly

import (
	"fmt"
	"math"
	"math/rand"
)

// Outlier scores multivariate points after fitting on a history window.
// Implementations are swappable; scores are normalized to (0,1) with higher
// meaning more isolated.
type Outlier interface {
	Fit(points [][]float64) error
	Score(point []float64) float64
}

type isoNode struct {
	feature int
	split   float64
	left    *isoNode
	right   *isoNode
	size    int // leaf only
}

// IsolationForest isolates outliers by random axis-aligned splits; points
// with short average path lengths across trees score high.
type IsolationForest struct {
	trees     int
	subsample int
	rng       *rand.Rand
	roots     []*isoNode
	limit     int
	cn        float64
}

// NewIsolationForest builds an unfitted forest. Subsample bounds per-tree
// training size and with it the refit cost.
func NewIsolationForest(trees, subsample int, seed int64) *IsolationForest {
	if trees <= 0 {
		trees = 100
	}
	if subsample <= 1 {
		subsample = 64
	}
	return &IsolationForest{
		trees:     trees,
		subsample: subsample,
		rng:       rand.New(rand.NewSource(seed)),
	}
}

// Fit rebuilds all trees from the given points. Previous trees are discarded,
// so repeated refits stay bounded in cost.
func (f *IsolationForest) Fit(points [][]float64) error {
	if len(points) < 2 {
		return fmt.Errorf("isolation forest needs at least 2 points, got %d", len(points))
	}
	n := f.subsample
	if n > len(points) {
		n = len(points)
	}
	f.limit = int(math.Ceil(math.Log2(float64(n))))
	f.cn = avgPathLength(n)
	f.roots = make([]*isoNode, f.trees)
	for i := 0; i < f.trees; i++ {
		perm := f.rng.Perm(len(points))
		sample := make([][]float64, n)
		for j := 0; j < n; j++ {
			sample[j] = points[perm[j]]
		}
		f.roots[i] = f.build(sample, 0)
	}
	return nil
}

func (f *IsolationForest) build(pts [][]float64, depth int) *isoNode {
	if depth >= f.limit || len(pts) <= 1 {
		return &isoNode{size: len(pts)}
	}
	dims := len(pts[0])
	// pick a split feature with spread; give up after a few tries
	for try := 0; try < dims; try++ {
		q := f.rng.Intn(dims)
		lo, hi := pts[0][q], pts[0][q]
		for _, p := range pts {
			if p[q] < lo {
				lo = p[q]
			}
			if p[q] > hi {
				hi = p[q]
			}
		}
		if hi <= lo {
			continue
		}
		split := lo + f.rng.Float64()*(hi-lo)
		var left, right [][]float64
		for _, p := range pts {
			if p[q] < split {
				left = append(left, p)
			} else {
				right = append(right, p)
			}
		}
		if len(left) == 0 || len(right) == 0 {
			continue
		}
		return &isoNode{
			feature: q,
			split:   split,
			left:    f.build(left, depth+1),
			right:   f.build(right, depth+1),
		}
	}
	return &isoNode{size: len(pts)}
}

// Score returns the normalized isolation score for one point. Unfitted
// forests score everything 0.
func (f *IsolationForest) Score(point []float64) float64 {
	if len(f.roots) == 0 || f.cn == 0 {
		return 0
	}
	var sum float64
	for _, root := range f.roots {
		sum += pathLength(root, point, 0)
	}
	mean := sum / float64(len(f.roots))
	return math.Pow(2, -mean/f.cn)
}

func pathLength(n *isoNode, point []float64, depth int) float64 {
	if n.left == nil {
		return float64(depth) + avgPathLength(n.size)
	}
	if point[n.feature] < n.split {
		return pathLength(n.left, point, depth+1)
	}
	return pathLength(n.right, point, depth+1)
}

// avgPathLength is the expected unsuccessful-search depth in a BST of size n,
// the standard normalizer for isolation scores.
func avgPathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	h := math.Log(float64(n-1)) + 0.5772156649
	return 2*h - 2*float64(n-1)/float64(n)
}
