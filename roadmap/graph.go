package roadmap

import (
	"cmp"
	"fmt"
	"slices"
	"sync"

	"firmcp/belief"
	"firmcp/controller"

	"gonum.org/v1/gonum/spatial/kdtree"
)

type VertexID int64
type EdgeID int64

const (
	InvalidVertex VertexID = -1
	InvalidEdge   EdgeID   = -1
)

// Weight is the planning weight of an edge.
type Weight struct {
	Cost        float64
	SuccessProb float64
}

type Edge struct {
	ID         EdgeID
	From, To   VertexID
	Weight     Weight
	Controller controller.Executor
}

// Graph stores roadmap and search vertices with their beliefs, the edges
// between them and the controllers attached to both. Roadmap vertices are
// also kept in a planar index for radius queries.
//
// Insertion and removal are serialized by a single mutex. Reads are not
// synchronized and must not race with writers.
type Graph struct {
	mu sync.Mutex

	nextVertex VertexID
	nextEdge   EdgeID

	beliefs     map[VertexID]*belief.Belief
	roadmap     map[VertexID]bool
	edges       map[EdgeID]*Edge
	out         map[VertexID][]EdgeID
	in          map[VertexID][]EdgeID
	stabilizers map[VertexID]controller.Executor

	index kdtree.Tree
}

func NewGraph() *Graph {
	return &Graph{
		beliefs:     make(map[VertexID]*belief.Belief),
		roadmap:     make(map[VertexID]bool),
		edges:       make(map[EdgeID]*Edge),
		out:         make(map[VertexID][]EdgeID),
		in:          make(map[VertexID][]EdgeID),
		stabilizers: make(map[VertexID]controller.Executor),
	}
}

// AddVertex adds a search vertex holding a copy of b. Search vertices are not
// returned by Near.
func (g *Graph) AddVertex(b *belief.Belief) VertexID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addVertex(b)
}

// AddRoadmapVertex adds a vertex that takes part in neighbor queries.
func (g *Graph) AddRoadmapVertex(b *belief.Belief) VertexID {
	g.mu.Lock()
	defer g.mu.Unlock()

	v := g.addVertex(b)
	g.roadmap[v] = true
	g.index.Insert(point{id: v, x: b.X(), y: b.Y()}, false)
	return v
}

func (g *Graph) addVertex(b *belief.Belief) VertexID {
	v := g.nextVertex
	g.nextVertex++
	g.beliefs[v] = b.Copy()
	return v
}

func (g *Graph) AddEdge(from, to VertexID, w Weight, ctrl controller.Executor) EdgeID {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.mustHave(from)
	g.mustHave(to)

	id := g.nextEdge
	g.nextEdge++
	g.edges[id] = &Edge{ID: id, From: from, To: to, Weight: w, Controller: ctrl}
	g.out[from] = append(g.out[from], id)
	g.in[to] = append(g.in[to], id)
	return id
}

// RemoveVertex deletes v with its edges, releasing every controller attached
// to them and its stabilizer.
func (g *Graph) RemoveVertex(v VertexID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.beliefs[v]; !ok {
		return
	}
	for _, e := range append(slices.Clone(g.out[v]), g.in[v]...) {
		g.removeEdge(e)
	}
	if s, ok := g.stabilizers[v]; ok {
		s.Release()
		delete(g.stabilizers, v)
	}
	delete(g.out, v)
	delete(g.in, v)
	delete(g.beliefs, v)
	delete(g.roadmap, v)
}

// RemoveOutEdges deletes every edge leaving v and releases their controllers.
func (g *Graph) RemoveOutEdges(v VertexID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, e := range slices.Clone(g.out[v]) {
		g.removeEdge(e)
	}
}

func (g *Graph) removeEdge(id EdgeID) {
	e, ok := g.edges[id]
	if !ok {
		return
	}
	if e.Controller != nil {
		e.Controller.Release()
	}
	g.out[e.From] = slices.DeleteFunc(g.out[e.From], func(x EdgeID) bool { return x == id })
	g.in[e.To] = slices.DeleteFunc(g.in[e.To], func(x EdgeID) bool { return x == id })
	delete(g.edges, id)
}

func (g *Graph) HasVertex(v VertexID) bool {
	_, ok := g.beliefs[v]
	return ok
}

func (g *Graph) IsRoadmap(v VertexID) bool {
	return g.roadmap[v]
}

func (g *Graph) NumVertices() int {
	return len(g.beliefs)
}

// Belief returns the belief stored at v. Callers must not keep it across a
// SetBelief on the same vertex if they need the old value.
func (g *Graph) Belief(v VertexID) *belief.Belief {
	g.mustHave(v)
	return g.beliefs[v]
}

// SetBelief overwrites the belief stored at v in place.
func (g *Graph) SetBelief(v VertexID, b *belief.Belief) {
	g.mustHave(v)
	g.beliefs[v].CopyFrom(b)
}

func (g *Graph) Edge(id EdgeID) (*Edge, bool) {
	e, ok := g.edges[id]
	return e, ok
}

func (g *Graph) OutEdges(v VertexID) []EdgeID {
	return slices.Clone(g.out[v])
}

// FindEdge returns the first edge from -> to.
func (g *Graph) FindEdge(from, to VertexID) (EdgeID, bool) {
	for _, id := range g.out[from] {
		if g.edges[id].To == to {
			return id, true
		}
	}
	return InvalidEdge, false
}

func (g *Graph) Stabilizer(v VertexID) (controller.Executor, bool) {
	s, ok := g.stabilizers[v]
	return s, ok
}

func (g *Graph) SetStabilizer(v VertexID, s controller.Executor) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.mustHave(v)
	g.stabilizers[v] = s
}

// RoadmapVertices returns the roadmap vertex ids in insertion order.
func (g *Graph) RoadmapVertices() []VertexID {
	ids := make([]VertexID, 0, len(g.roadmap))
	for v := range g.roadmap {
		ids = append(ids, v)
	}
	slices.Sort(ids)
	return ids
}

// Near returns the roadmap vertices whose planar position lies within radius
// of b's mean, closest first.
func (g *Graph) Near(b *belief.Belief, radius float64) []VertexID {
	if g.index.Root == nil {
		return nil
	}

	keeper := kdtree.NewDistKeeper(radius * radius)
	g.index.NearestSet(keeper, point{id: InvalidVertex, x: b.X(), y: b.Y()})

	found := make([]kdtree.ComparableDist, 0, keeper.Len())
	for _, cd := range keeper.Heap {
		if cd.Comparable == nil {
			continue
		}
		if !g.roadmap[cd.Comparable.(point).id] {
			continue
		}
		found = append(found, cd)
	}
	slices.SortFunc(found, func(a, b kdtree.ComparableDist) int {
		if c := cmp.Compare(a.Dist, b.Dist); c != 0 {
			return c
		}
		return cmp.Compare(a.Comparable.(point).id, b.Comparable.(point).id)
	})

	ids := make([]VertexID, len(found))
	for i, cd := range found {
		ids[i] = cd.Comparable.(point).id
	}
	return ids
}

func (g *Graph) mustHave(v VertexID) {
	if _, ok := g.beliefs[v]; !ok {
		panic(fmt.Sprintf("unknown vertex %d", v))
	}
}

// point is a vertex position in the planar index.
type point struct {
	id   VertexID
	x, y float64
}

func (p point) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(point)
	switch d {
	case 0:
		return p.x - q.x
	case 1:
		return p.y - q.y
	default:
		panic("illegal dimension")
	}
}

func (p point) Dims() int { return 2 }

// Distance is the squared planar distance.
func (p point) Distance(c kdtree.Comparable) float64 {
	q := c.(point)
	dx, dy := p.x-q.x, p.y-q.y
	return dx*dx + dy*dy
}
