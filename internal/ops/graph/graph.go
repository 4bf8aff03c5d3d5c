// Package graph holds an in-memory view of one project's dependency edges and the
// traversals run over it. A Graph is built from a snapshot read once per operation and is
// never shared between requests.
package graph

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrTraversalLimit is returned when a traversal exceeds its node or depth guard.
	ErrTraversalLimit = errors.New("graph traversal limit exceeded")
	// ErrCycle is returned by operations that require an acyclic graph.
	ErrCycle = errors.New("graph contains a cycle")
)

// Direction selects successors (Downstream) or predecessors (Upstream).
type Direction int

const (
	Downstream Direction = iota
	Upstream
)

func (d Direction) String() string {
	if d == Upstream {
		return "upstream"
	}
	return "downstream"
}

// ParseDirection parses "upstream" or "downstream".
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "upstream":
		return Upstream, nil
	case "downstream", "":
		return Downstream, nil
	}
	return Downstream, fmt.Errorf("unknown direction %q", s)
}

// Edge is a precedence relation From -> To.
type Edge struct {
	From string
	To   string
	Type string
	Lag  int
}

// Limits bound a traversal. Zero values mean unbounded.
type Limits struct {
	MaxNodes int
	MaxDepth int
}

// DefaultLimits are used when callers pass none.
var DefaultLimits = Limits{MaxNodes: 10000, MaxDepth: 500}

// Graph is an adjacency-list view over a set of edges.
type Graph struct {
	nodes map[string]struct{}
	out   map[string][]Edge
	in    map[string][]Edge
	edges int
}

// New builds a graph from edges.
func New(edges []Edge) *Graph {
	g := &Graph{
		nodes: make(map[string]struct{}),
		out:   make(map[string][]Edge),
		in:    make(map[string][]Edge),
	}
	for _, e := range edges {
		g.AddEdge(e)
	}
	return g
}

// AddNode registers an isolated node.
func (g *Graph) AddNode(id string) {
	g.nodes[id] = struct{}{}
}

// AddEdge adds an edge to the view. It does not check for cycles.
func (g *Graph) AddEdge(e Edge) {
	g.AddNode(e.From)
	g.AddNode(e.To)
	g.out[e.From] = append(g.out[e.From], e)
	g.in[e.To] = append(g.in[e.To], e)
	g.edges++
}

// HasNode reports whether id is part of the graph.
func (g *Graph) HasNode(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// Nodes returns the node ids in sorted order.
func (g *Graph) Nodes() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int {
	return g.edges
}

// Successors returns the edges leaving id.
func (g *Graph) Successors(id string) []Edge {
	return g.out[id]
}

// Predecessors returns the edges entering id.
func (g *Graph) Predecessors(id string) []Edge {
	return g.in[id]
}

func (g *Graph) neighbors(id string, dir Direction) []Edge {
	if dir == Upstream {
		return g.in[id]
	}
	return g.out[id]
}

func far(e Edge, dir Direction) string {
	if dir == Upstream {
		return e.From
	}
	return e.To
}

// Visit is one node reached by a traversal.
type Visit struct {
	ID    string
	Depth int
	Via   Edge
}

// Walk runs a breadth-first traversal from start (excluded from the result) in one
// direction. Every node is visited at most once, so malformed cyclic data terminates.
// Exceeding limits returns ErrTraversalLimit.
func (g *Graph) Walk(start string, dir Direction, limits Limits) ([]Visit, error) {
	return g.walk(start, dir, 0, limits)
}

// Chain is Walk truncated at maxDepth layers. Truncation is not an error; the node guard
// still applies.
func (g *Graph) Chain(start string, dir Direction, maxDepth int, limits Limits) ([]Visit, error) {
	return g.walk(start, dir, maxDepth, limits)
}

func (g *Graph) walk(start string, dir Direction, truncateAt int, limits Limits) ([]Visit, error) {
	visited := map[string]bool{start: true}
	queue := []Visit{{ID: start}}
	var result []Visit

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if truncateAt > 0 && cur.Depth >= truncateAt {
			continue
		}
		for _, e := range g.neighbors(cur.ID, dir) {
			next := far(e, dir)
			if visited[next] {
				continue
			}
			depth := cur.Depth + 1
			if limits.MaxDepth > 0 && depth > limits.MaxDepth {
				return result, fmt.Errorf("%w: depth %d from %s", ErrTraversalLimit, depth, start)
			}
			visited[next] = true
			v := Visit{ID: next, Depth: depth, Via: e}
			result = append(result, v)
			if limits.MaxNodes > 0 && len(result) > limits.MaxNodes {
				return result, fmt.Errorf("%w: more than %d nodes from %s", ErrTraversalLimit, limits.MaxNodes, start)
			}
			queue = append(queue, v)
		}
	}
	return result, nil
}

// Reachable returns the ids transitively reachable from start in one direction.
func (g *Graph) Reachable(start string, dir Direction, limits Limits) ([]string, error) {
	visits, err := g.Walk(start, dir, limits)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(visits))
	for i, v := range visits {
		ids[i] = v.ID
	}
	return ids, nil
}

// PathExists reports whether to is reachable from from along successor edges.
func (g *Graph) PathExists(from, to string, limits Limits) (bool, error) {
	if from == to {
		return true, nil
	}
	visited := map[string]bool{from: true}
	queue := []string{from}
	depth := map[string]int{from: 0}
	count := 0
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range g.out[cur] {
			if e.To == to {
				return true, nil
			}
			if visited[e.To] {
				continue
			}
			d := depth[cur] + 1
			if limits.MaxDepth > 0 && d > limits.MaxDepth {
				return false, fmt.Errorf("%w: depth %d from %s", ErrTraversalLimit, d, from)
			}
			visited[e.To] = true
			depth[e.To] = d
			count++
			if limits.MaxNodes > 0 && count > limits.MaxNodes {
				return false, fmt.Errorf("%w: more than %d nodes from %s", ErrTraversalLimit, limits.MaxNodes, from)
			}
			queue = append(queue, e.To)
		}
	}
	return false, nil
}

// WouldCreateCycle reports whether adding from -> to closes a cycle, i.e. whether from is
// already reachable from to (or from == to).
func (g *Graph) WouldCreateCycle(from, to string, limits Limits) (bool, error) {
	return g.PathExists(to, from, limits)
}

// TopologicalOrder returns the nodes ordered so that every edge points forward.
// Ties are broken by id for determinism. Returns ErrCycle if the graph is cyclic.
func (g *Graph) TopologicalOrder() ([]string, error) {
	return g.topo(g.nodes)
}

func (g *Graph) topo(subset map[string]struct{}) ([]string, error) {
	indeg := make(map[string]int, len(subset))
	for id := range subset {
		indeg[id] = 0
	}
	for id := range subset {
		for _, e := range g.out[id] {
			if _, ok := subset[e.To]; ok {
				indeg[e.To]++
			}
		}
	}
	var ready []string
	for id, d := range indeg {
		if d == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(subset))
	for len(ready) > 0 {
		cur := ready[0]
		ready = ready[1:]
		order = append(order, cur)
		var released []string
		for _, e := range g.out[cur] {
			if _, ok := subset[e.To]; !ok {
				continue
			}
			indeg[e.To]--
			if indeg[e.To] == 0 {
				released = append(released, e.To)
			}
		}
		sort.Strings(released)
		ready = append(ready, released...)
	}
	if len(order) != len(subset) {
		return order, ErrCycle
	}
	return order, nil
}

// FindCycle returns the node ids of one cycle, or nil when the graph is acyclic.
func (g *Graph) FindCycle() []string {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(g.nodes))
	parent := make(map[string]string)
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = grey
		for _, e := range g.out[id] {
			switch color[e.To] {
			case grey:
				cycle = []string{e.To}
				for cur := id; cur != e.To; cur = parent[cur] {
					cycle = append(cycle, cur)
				}
				for i, j := 0, len(cycle)-1; i < j; i, j = i+1, j-1 {
					cycle[i], cycle[j] = cycle[j], cycle[i]
				}
				return true
			case white:
				parent[e.To] = id
				if visit(e.To) {
					return true
				}
			}
		}
		color[id] = black
		return false
	}

	for _, id := range g.Nodes() {
		if color[id] == white && visit(id) {
			return cycle
		}
	}
	return nil
}

// DownstreamSizes returns, for every node, the size of its downstream reachable set.
func (g *Graph) DownstreamSizes(limits Limits) (map[string]int, error) {
	sizes := make(map[string]int, len(g.nodes))
	for id := range g.nodes {
		visits, err := g.Walk(id, Downstream, limits)
		if err != nil {
			return nil, err
		}
		sizes[id] = len(visits)
	}
	return sizes, nil
}
