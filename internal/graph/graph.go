// Package graph is a small validated DAG over string IDs.
//
// Node order is the insertion order, so every traversal (topological order,
// ready sets, cycle witnesses) is deterministic for a given input.
package graph

import (
	"container/heap"
	"sort"
)

// Edge means To depends on From.
type Edge struct {
	From string
	To   string
}

type Graph struct {
	ids   []string
	index map[string]int

	outgoing [][]int
	incoming [][]int
	indeg    []int
	depth    []int
	order    []int
}

// New builds and validates a graph. It rejects empty or duplicate IDs,
// edges to unknown nodes, duplicate edges, self-loops and cycles.
func New(ids []string, edges []Edge) (*Graph, error) {
	index := make(map[string]int, len(ids))
	for i, id := range ids {
		if id == "" {
			return nil, invalidf("empty node id")
		}
		if _, ok := index[id]; ok {
			return nil, invalidf("duplicate node: %q", id)
		}
		index[id] = i
	}

	g := &Graph{
		ids:      append([]string(nil), ids...),
		index:    index,
		outgoing: make([][]int, len(ids)),
		incoming: make([][]int, len(ids)),
		indeg:    make([]int, len(ids)),
	}

	seen := make(map[[2]int]struct{}, len(edges))
	for _, e := range edges {
		from, ok := index[e.From]
		if !ok {
			return nil, invalidf("edge references unknown node (from): %q", e.From)
		}
		to, ok := index[e.To]
		if !ok {
			return nil, invalidf("edge references unknown node (to): %q", e.To)
		}
		if from == to {
			return nil, invalidf("self-loop: %q", e.From)
		}
		key := [2]int{from, to}
		if _, dup := seen[key]; dup {
			return nil, invalidf("duplicate edge: %q -> %q", e.From, e.To)
		}
		seen[key] = struct{}{}
		g.outgoing[from] = append(g.outgoing[from], to)
		g.incoming[to] = append(g.incoming[to], from)
		g.indeg[to]++
	}
	for i := range g.ids {
		sort.Ints(g.outgoing[i])
		sort.Ints(g.incoming[i])
	}

	g.order = g.topoOrder()
	if len(g.order) != len(g.ids) {
		return nil, cycleError(g.findCycle())
	}
	g.depth = g.computeDepth()
	return g, nil
}

// TopologicalOrder returns IDs so that every node follows its dependencies;
// ties are broken by insertion order.
func (g *Graph) TopologicalOrder() []string { return g.names(g.order) }

// Dependencies returns the direct predecessors of id.
func (g *Graph) Dependencies(id string) []string {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	return g.names(g.incoming[i])
}

// Dependents returns the direct successors of id.
func (g *Graph) Dependents(id string) []string {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	return g.names(g.outgoing[i])
}

// Downstream returns every node reachable from id, in insertion order.
func (g *Graph) Downstream(id string) []string {
	start, ok := g.index[id]
	if !ok {
		return nil
	}
	visited := make([]bool, len(g.ids))
	stack := append([]int(nil), g.outgoing[start]...)
	for len(stack) > 0 {
		u := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[u] {
			continue
		}
		visited[u] = true
		stack = append(stack, g.outgoing[u]...)
	}
	var out []string
	for i, v := range visited {
		if v {
			out = append(out, g.ids[i])
		}
	}
	return out
}

// Depth is the length of the longest path from a root to id.
func (g *Graph) Depth(id string) (int, bool) {
	i, ok := g.index[id]
	if !ok {
		return 0, false
	}
	return g.depth[i], true
}

func (g *Graph) Edges() []Edge {
	var out []Edge
	for from, tos := range g.outgoing {
		for _, to := range tos {
			out = append(out, Edge{From: g.ids[from], To: g.ids[to]})
		}
	}
	return out
}

func (g *Graph) names(idx []int) []string {
	out := make([]string, 0, len(idx))
	for _, i := range idx {
		out = append(out, g.ids[i])
	}
	return out
}

type intMinHeap []int

func (h intMinHeap) Len() int           { return len(h) }
func (h intMinHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intMinHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *intMinHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *intMinHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// topoOrder is Kahn's algorithm with a min-heap ready queue. A result
// shorter than the node count means the graph has a cycle.
func (g *Graph) topoOrder() []int {
	indeg := append([]int(nil), g.indeg...)
	ready := &intMinHeap{}
	for i, d := range indeg {
		if d == 0 {
			heap.Push(ready, i)
		}
	}

	out := make([]int, 0, len(indeg))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(int)
		out = append(out, n)
		for _, m := range g.outgoing[n] {
			indeg[m]--
			if indeg[m] == 0 {
				heap.Push(ready, m)
			}
		}
	}
	return out
}

func (g *Graph) computeDepth() []int {
	depth := make([]int, len(g.ids))
	for _, u := range g.order {
		for _, p := range g.incoming[u] {
			if d := depth[p] + 1; d > depth[u] {
				depth[u] = d
			}
		}
	}
	return depth
}

// findCycle returns one cycle as a path that starts and ends on the same node.
func (g *Graph) findCycle() []string {
	const (
		white = iota
		gray
		black
	)
	color := make([]int, len(g.ids))
	parent := make([]int, len(g.ids))
	for i := range parent {
		parent[i] = -1
	}

	var cycle []int
	var dfs func(u int) bool
	dfs = func(u int) bool {
		color[u] = gray
		for _, v := range g.outgoing[u] {
			switch color[v] {
			case white:
				parent[v] = u
				if dfs(v) {
					return true
				}
			case gray:
				cycle = append(cycle, v)
				for cur := u; cur != -1 && cur != v; cur = parent[cur] {
					cycle = append(cycle, cur)
				}
				cycle = append(cycle, v)
				return true
			}
		}
		color[u] = black
		return false
	}

	for i := range g.ids {
		if color[i] == white && dfs(i) {
			break
		}
	}

	// cycle was collected walking parents backwards.
	for i, j := 0, len(cycle)-1; i < j; i, j = i+1, j-1 {
		cycle[i], cycle[j] = cycle[j], cycle[i]
	}
	return g.names(cycle)
}
