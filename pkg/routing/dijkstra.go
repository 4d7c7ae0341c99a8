package routing

import (
	"container/heap"
	"fmt"

	"fabricmon/pkg/fabric"
	"fabricmon/pkg/model"
)

const costEps = 1e-9

// Path is a resolved route: the link id sequence and its total weight.
type Path struct {
	Links []string
	Cost  float64
}

// candidate orders search states: weight first, then total interconnect
// rank, then the link id sequence. The two tie-breakers make equal-cost
// choices stable across runs.
type candidate struct {
	cost float64
	rank int
	seq  string
}

func (c candidate) better(than candidate) bool {
	if c.cost < than.cost-costEps {
		return true
	}
	if c.cost > than.cost+costEps {
		return false
	}
	if c.rank != than.rank {
		return c.rank < than.rank
	}
	return c.seq < than.seq
}

type searchItem struct {
	node string
	cand candidate
	path []string
}

type searchQueue []*searchItem

func (q searchQueue) Len() int           { return len(q) }
func (q searchQueue) Less(i, j int) bool { return q[i].cand.better(q[j].cand) }
func (q searchQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }

func (q *searchQueue) Push(x interface{}) {
	*q = append(*q, x.(*searchItem))
}

func (q *searchQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

// shortestPath runs Dijkstra over link weights, skipping failed links.
// Parallel links are first-class: every link is its own edge.
func (o *Optimizer) shortestPath(f *fabric.Fabric, src, dst string) (Path, error) {
	if _, err := f.Node(src); err != nil {
		return Path{}, fmt.Errorf("source %s: %w", src, model.ErrNotFound)
	}
	if _, err := f.Node(dst); err != nil {
		return Path{}, fmt.Errorf("destination %s: %w", dst, model.ErrNotFound)
	}

	settled := make(map[string]bool)
	bestSeen := make(map[string]candidate)
	bestSeen[src] = candidate{}

	q := &searchQueue{{node: src}}
	heap.Init(q)

	for q.Len() > 0 {
		cur := heap.Pop(q).(*searchItem)
		if settled[cur.node] {
			continue
		}
		settled[cur.node] = true
		if cur.node == dst {
			return Path{Links: cur.path, Cost: cur.cand.cost}, nil
		}
		linkIDs, err := f.Neighbors(cur.node)
		if err != nil {
			continue
		}
		for _, id := range linkIDs {
			l, err := f.Link(id)
			if err != nil || l.Failed {
				continue
			}
			next := l.Other(cur.node)
			if settled[next] {
				continue
			}
			cand := candidate{
				cost: cur.cand.cost + o.LinkWeight(l),
				rank: cur.cand.rank + model.TypeRank(l.Type),
				seq:  cur.cand.seq + "|" + l.ID,
			}
			if have, ok := bestSeen[next]; ok && !cand.better(have) {
				continue
			}
			bestSeen[next] = cand
			path := make([]string, len(cur.path)+1)
			copy(path, cur.path)
			path[len(cur.path)] = l.ID
			heap.Push(q, &searchItem{node: next, cand: cand, path: path})
		}
	}
	return Path{}, fmt.Errorf("%s to %s: %w", src, dst, model.ErrNoViablePath)
}
