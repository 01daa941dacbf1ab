package spreadsheet

import (
	"slices"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/iterator"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// Component is one strongly connected component of the recalculation
// closure. Cyclic is set for components with more than one vertex and for
// a vertex depending on itself.
type Component struct {
	Vertices []VertexID
	Cyclic   bool
}

// TopSortResult lists the components of the closure in evaluation order:
// every component appears after the components it depends on
type TopSortResult struct {
	Components []Component
}

// Cycles returns the vertices of every cyclic component
func (r TopSortResult) Cycles() []VertexID {
	var result []VertexID
	for _, c := range r.Components {
		if c.Cyclic {
			result = append(result, c.Vertices...)
		}
	}
	return result
}

// Order flattens the components into a vertex sequence
func (r TopSortResult) Order() []VertexID {
	var result []VertexID
	for _, c := range r.Components {
		result = append(result, c.Vertices...)
	}
	return result
}

// Closure returns start plus every vertex transitively depending on it,
// sorted
func (dg *DependencyGraph) Closure(start []VertexID) []VertexID {
	seen := make(map[VertexID]struct{}, len(start))
	queue := make([]VertexID, 0, len(start))
	for _, id := range start {
		if dg.Vertex(id) == nil {
			continue
		}
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			queue = append(queue, id)
		}
	}
	for len(queue) > 0 {
		id := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		for dep := range dg.vertices[id].dependents {
			if _, ok := seen[dep]; !ok {
				seen[dep] = struct{}{}
				queue = append(queue, dep)
			}
		}
	}
	return sortedIDs(seen)
}

// TopologicalOrder computes the strongly connected components of the
// closure of start in dependency order
func (dg *DependencyGraph) TopologicalOrder(start []VertexID) TopSortResult {
	closure := dg.Closure(start)
	view := newClosureView(dg, closure)

	// tarjan emits components in reverse topological order
	sccs := topo.TarjanSCC(view)
	slices.Reverse(sccs)

	result := TopSortResult{Components: make([]Component, 0, len(sccs))}
	for _, scc := range sccs {
		c := Component{Vertices: make([]VertexID, len(scc))}
		for i, node := range scc {
			c.Vertices[i] = VertexID(node.ID())
		}
		slices.Sort(c.Vertices)
		c.Cyclic = len(c.Vertices) > 1 || dg.HasEdge(c.Vertices[0], c.Vertices[0])
		result.Components = append(result.Components, c)
	}
	return result
}

// closureView exposes a subset of the arena as a gonum directed graph.
// nodes and successors are returned in id order so the component order is
// deterministic.
type closureView struct {
	dg      *DependencyGraph
	members map[VertexID]struct{}
	nodes   []graph.Node
}

var _ graph.Directed = (*closureView)(nil)

func newClosureView(dg *DependencyGraph, closure []VertexID) *closureView {
	view := &closureView{
		dg:      dg,
		members: make(map[VertexID]struct{}, len(closure)),
		nodes:   make([]graph.Node, len(closure)),
	}
	for i, id := range closure {
		view.members[id] = struct{}{}
		view.nodes[i] = simple.Node(id)
	}
	return view
}

func (c *closureView) has(id int64) bool {
	_, ok := c.members[VertexID(id)]
	return ok
}

func (c *closureView) Node(id int64) graph.Node {
	if !c.has(id) {
		return nil
	}
	return simple.Node(id)
}

func (c *closureView) Nodes() graph.Nodes {
	return iterator.NewOrderedNodes(c.nodes)
}

func (c *closureView) From(id int64) graph.Nodes {
	return c.filtered(c.dg.Dependents(VertexID(id)))
}

func (c *closureView) To(id int64) graph.Nodes {
	return c.filtered(c.dg.Dependencies(VertexID(id)))
}

func (c *closureView) filtered(ids []VertexID) graph.Nodes {
	nodes := make([]graph.Node, 0, len(ids))
	for _, id := range ids {
		if c.has(int64(id)) {
			nodes = append(nodes, simple.Node(id))
		}
	}
	if len(nodes) == 0 {
		return graph.Empty
	}
	return iterator.NewOrderedNodes(nodes)
}

func (c *closureView) HasEdgeFromTo(uid, vid int64) bool {
	return c.has(uid) && c.has(vid) && c.dg.HasEdge(VertexID(uid), VertexID(vid))
}

func (c *closureView) HasEdgeBetween(xid, yid int64) bool {
	return c.HasEdgeFromTo(xid, yid) || c.HasEdgeFromTo(yid, xid)
}

func (c *closureView) Edge(uid, vid int64) graph.Edge {
	if !c.HasEdgeFromTo(uid, vid) {
		return nil
	}
	return simple.Edge{F: simple.Node(uid), T: simple.Node(vid)}
}
