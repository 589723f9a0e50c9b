package graph

import (
	"sort"
	"sync"

	"resgraph/internal/shared/util"
)

// Sink receives a one-shot export of the stored graph.
type Sink interface {
	AddNode(Node)
	AddEdge(Edge)
}

// Projection is a transient in-memory adjacency view of the graph. It is
// filled once from the store and never follows later writes.
type Projection struct {
	mu sync.RWMutex

	nodes map[string]Node
	out   map[string]map[string][]Edge // source -> target -> edges
	in    map[string]map[string]bool   // target -> sources
	edges int
}

var _ Sink = (*Projection)(nil)

func NewProjection() *Projection {
	return &Projection{
		nodes: make(map[string]Node),
		out:   make(map[string]map[string][]Edge),
		in:    make(map[string]map[string]bool),
	}
}

func (p *Projection) AddNode(n Node) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nodes[n.ID] = n
}

// AddEdge records e. Duplicate triples are ignored, matching the store.
func (p *Projection) AddEdge(e Edge) {
	p.mu.Lock()
	defer p.mu.Unlock()

	targets, ok := p.out[e.SourceID]
	if !ok {
		targets = make(map[string][]Edge)
		p.out[e.SourceID] = targets
	}
	for _, existing := range targets[e.TargetID] {
		if existing.Relation == e.Relation {
			return
		}
	}
	targets[e.TargetID] = append(targets[e.TargetID], e)

	sources, ok := p.in[e.TargetID]
	if !ok {
		sources = make(map[string]bool)
		p.in[e.TargetID] = sources
	}
	sources[e.SourceID] = true
	p.edges++
}

func (p *Projection) NodeCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.nodes)
}

func (p *Projection) EdgeCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.edges
}

func (p *Projection) Node(id string) (Node, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n, ok := p.nodes[id]
	return n, ok
}

// NodeIDs returns every node id in sorted order.
func (p *Projection) NodeIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return util.SortedStringKeys(p.nodes)
}

// OutEdges returns id's outgoing edges ordered by target, then relation.
func (p *Projection) OutEdges(id string) []Edge {
	p.mu.RLock()
	defer p.mu.RUnlock()
	targets := p.out[id]
	var edges []Edge
	for _, target := range util.SortedStringKeys(targets) {
		group := append([]Edge(nil), targets[target]...)
		sort.Slice(group, func(i, j int) bool { return group[i].Relation < group[j].Relation })
		edges = append(edges, group...)
	}
	return edges
}

// Successors returns the sorted ids id points at.
func (p *Projection) Successors(id string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return util.SortedStringKeys(p.out[id])
}

// Predecessors returns the sorted ids pointing at id.
func (p *Projection) Predecessors(id string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return util.SortedStringKeys(p.in[id])
}

func (p *Projection) Degree(id string) Degree {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var d Degree
	for source := range p.in[id] {
		d.In += len(p.out[source][id])
	}
	for _, edges := range p.out[id] {
		d.Out += len(edges)
	}
	return d
}

// DetectCycles returns every cycle found by a depth-first walk, each as
// the ordered ids along the cycle.
func (p *Projection) DetectCycles() [][]string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var cycles [][]string
	visited := make(map[string]bool)
	onStack := make(map[string]bool)

	for _, id := range util.SortedStringKeys(p.nodes) {
		if !visited[id] {
			p.findCycles(id, visited, onStack, nil, &cycles)
		}
	}
	return cycles
}

func (p *Projection) findCycles(curr string, visited, onStack map[string]bool, path []string, cycles *[][]string) {
	visited[curr] = true
	onStack[curr] = true
	path = append(path, curr)

	for _, next := range util.SortedStringKeys(p.out[curr]) {
		if onStack[next] {
			for i, id := range path {
				if id == next {
					cycle := make([]string, len(path)-i)
					copy(cycle, path[i:])
					*cycles = append(*cycles, cycle)
					break
				}
			}
		} else if !visited[next] {
			p.findCycles(next, visited, onStack, path, cycles)
		}
	}

	onStack[curr] = false
}

// ShortestPath is an unbounded breadth-first hop-count search with a
// global visited set. Neighbors are expanded in sorted order so results
// are deterministic.
func (p *Projection) ShortestPath(from, to string) ([]string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if _, ok := p.nodes[from]; !ok {
		return nil, false
	}
	if _, ok := p.nodes[to]; !ok {
		return nil, false
	}
	if from == to {
		return []string{from}, true
	}

	queue := []string{from}
	visited := map[string]bool{from: true}
	prev := make(map[string]string)

	for len(queue) > 0 {
		curr := queue[0]
		queue = queue[1:]

		for _, next := range util.SortedStringKeys(p.out[curr]) {
			if visited[next] {
				continue
			}
			visited[next] = true
			prev[next] = curr

			if next == to {
				path := []string{to}
				for id := to; id != from; {
					id = prev[id]
					path = append(path, id)
				}
				for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
					path[i], path[j] = path[j], path[i]
				}
				return path, true
			}
			queue = append(queue, next)
		}
	}
	return nil, false
}

// BlastRadius lists the nodes that depend on target: Direct have an edge
// into target, Transitive reach it only through other dependents.
type BlastRadius struct {
	Target     string
	Direct     []string
	Transitive []string
}

func (p *Projection) BlastRadius(target string) (BlastRadius, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if _, ok := p.nodes[target]; !ok {
		return BlastRadius{}, false
	}
	report := BlastRadius{Target: target}

	direct := util.SortedStringKeys(p.in[target])
	report.Direct = direct

	seen := map[string]bool{target: true}
	for _, id := range direct {
		seen[id] = true
	}
	queue := append([]string(nil), direct...)
	transitive := make([]string, 0)
	for len(queue) > 0 {
		curr := queue[0]
		queue = queue[1:]
		for next := range p.in[curr] {
			if seen[next] {
				continue
			}
			seen[next] = true
			queue = append(queue, next)
			transitive = append(transitive, next)
		}
	}
	sort.Strings(transitive)
	report.Transitive = transitive
	return report, true
}

// ImportanceScore ranks a node's structural significance:
//
//	Score = (In * 2) + Out + (database or security ? 5 : 0)
func (p *Projection) ImportanceScore(id string) float64 {
	n, ok := p.Node(id)
	if !ok {
		return 0
	}
	d := p.Degree(id)
	score := float64(d.In*2) + float64(d.Out)
	switch n.Category() {
	case CategoryDatabase, CategorySecurity:
		score += 5
	}
	return score
}
