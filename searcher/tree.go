package searcher

import (
	"math"

	"firmcp/belief"
	"firmcp/config"
	"firmcp/controller"
	"firmcp/roadmap"
	"firmcp/space"

	"github.com/rs/zerolog/log"
)

// ControllerFactory builds the controller attached to a search edge.
type ControllerFactory interface {
	Edge(from, to *belief.Belief) controller.Executor
}

// action is one candidate roadmap target of a search node.
type action struct {
	target  roadmap.VertexID
	edge    roadmap.EdgeID
	visits  int     // N(ha)
	misses  int     // M(ha)
	cost    float64 // Q(ha)
	outcome roadmap.VertexID
}

// record is the search bookkeeping of one vertex.
type record struct {
	expanded bool
	actions  []*action
	byTarget map[roadmap.VertexID]*action
	visits   int     // N(h)
	cost     float64 // J(h)
}

func newRecord() *record {
	return &record{byTarget: make(map[roadmap.VertexID]*action), cost: math.Inf(1)}
}

// updateCost sets J(h) to the lowest action value, or to fallback for a node
// without actions.
func (r *record) updateCost(fallback float64) float64 {
	if len(r.actions) == 0 {
		r.cost = fallback
		return r.cost
	}
	r.cost = math.Inf(1)
	for _, a := range r.actions {
		r.cost = math.Min(r.cost, a.cost)
	}
	return r.cost
}

// Tree is the belief search tree. Its vertices live in the roadmap graph;
// the statistics of each vertex are kept in a side table.
type Tree struct {
	cfg       *config.Config
	graph     *roadmap.Graph
	costToGo  *roadmap.CostToGo
	estimator *roadmap.Estimator
	space     space.Space
	factory   ControllerFactory

	start   roadmap.VertexID
	records map[roadmap.VertexID]*record
}

func NewTree(cfg *config.Config, g *roadmap.Graph, ctg *roadmap.CostToGo, est *roadmap.Estimator, sp space.Space, factory ControllerFactory) *Tree {
	return &Tree{
		cfg:       cfg,
		graph:     g,
		costToGo:  ctg,
		estimator: est,
		space:     sp,
		factory:   factory,
		start:     roadmap.InvalidVertex,
		records:   make(map[roadmap.VertexID]*record),
	}
}

func (t *Tree) Graph() *roadmap.Graph {
	return t.graph
}

// SetStart marks v as the start vertex, which is never pruned.
func (t *Tree) SetStart(v roadmap.VertexID) {
	t.start = v
}

func (t *Tree) Start() roadmap.VertexID {
	return t.start
}

// AddVertex adds a search vertex holding a copy of b.
func (t *Tree) AddVertex(b *belief.Belief) roadmap.VertexID {
	v := t.graph.AddVertex(b)
	t.records[v] = newRecord()
	return v
}

func (t *Tree) record(v roadmap.VertexID) *record {
	r, ok := t.records[v]
	if !ok {
		r = newRecord()
		t.records[v] = r
	}
	return r
}

// Expand attaches an edge to every roadmap neighbor of v reachable by a valid
// straight motion and seeds its value with the estimated edge cost plus the
// neighbor's cost-to-go. It runs once per vertex and reports whether v has
// any action.
func (t *Tree) Expand(v roadmap.VertexID) bool {
	r := t.record(v)
	if r.expanded {
		return len(r.actions) > 0
	}
	r.expanded = true

	b := t.graph.Belief(v)
	for _, n := range t.graph.Near(b, t.cfg.Search.ExpansionRadius) {
		if n == v {
			continue
		}
		nb := t.graph.Belief(n)
		if !t.space.CheckMotion(b, nb) {
			continue
		}

		edgeCost := t.estimator.EdgeCost(b, nb)
		edge := t.graph.AddEdge(v, n, roadmap.Weight{Cost: edgeCost, SuccessProb: 1}, t.factory.Edge(b, nb))
		a := &action{
			target:  n,
			edge:    edge,
			cost:    edgeCost + t.costToGo.Get(n),
			outcome: roadmap.InvalidVertex,
		}
		r.actions = append(r.actions, a)
		r.byTarget[n] = a
	}

	if len(r.actions) == 0 {
		log.Warn().Msgf("Vertex %d has no reachable roadmap neighbor within %.2f", v, t.cfg.Search.ExpansionRadius)
		r.cost = t.cfg.Search.ObstacleCost
		return false
	}
	r.updateCost(t.cfg.Search.ObstacleCost)
	return true
}

// RecordOutcome stores b as the outcome of taking the action towards target
// at v. The previously stored outcome vertex is overwritten in place; only
// the latest outcome per action is kept.
func (t *Tree) RecordOutcome(v, target roadmap.VertexID, b *belief.Belief) roadmap.VertexID {
	a, ok := t.record(v).byTarget[target]
	if !ok {
		log.Warn().Msgf("Vertex %d has no action towards %d, outcome not recorded", v, target)
		return t.AddVertex(b)
	}
	if a.outcome != roadmap.InvalidVertex && t.graph.HasVertex(a.outcome) {
		t.graph.SetBelief(a.outcome, b)
		return a.outcome
	}
	a.outcome = t.AddVertex(b)
	return a.outcome
}

// PruneSubtree removes v and every outcome vertex below it.
func (t *Tree) PruneSubtree(v roadmap.VertexID) {
	if r, ok := t.records[v]; ok {
		for _, a := range r.actions {
			if a.outcome != roadmap.InvalidVertex && a.outcome != v {
				t.PruneSubtree(a.outcome)
			}
		}
	}
	t.PruneNode(v)
}

// PruneNode removes v, its edges and its bookkeeping. Roadmap vertices only
// lose their search edges and statistics. The start vertex is kept.
func (t *Tree) PruneNode(v roadmap.VertexID) {
	if v == t.start {
		return
	}
	delete(t.records, v)
	if !t.graph.HasVertex(v) {
		return
	}
	if t.graph.IsRoadmap(v) {
		t.graph.RemoveOutEdges(v)
		return
	}
	t.graph.RemoveVertex(v)
	t.costToGo.Forget(v)
}

// Advance makes newRoot the root: every branch of oldRoot not leading to
// newRoot is pruned. oldRoot itself is kept so that a controller attached to
// it can keep running; it is released by PruneNode.
func (t *Tree) Advance(oldRoot, newRoot roadmap.VertexID) {
	r, ok := t.records[oldRoot]
	if !ok {
		return
	}
	for _, a := range r.actions {
		if a.outcome != roadmap.InvalidVertex && a.outcome != newRoot {
			t.PruneSubtree(a.outcome)
		}
		a.outcome = roadmap.InvalidVertex
	}
}

// Actions returns the action targets of v in insertion order.
func (t *Tree) Actions(v roadmap.VertexID) []roadmap.VertexID {
	r, ok := t.records[v]
	if !ok {
		return nil
	}
	targets := make([]roadmap.VertexID, len(r.actions))
	for i, a := range r.actions {
		targets[i] = a.target
	}
	return targets
}

// ActionStats returns N(ha), M(ha) and Q(ha) of the action towards target.
func (t *Tree) ActionStats(v, target roadmap.VertexID) (visits, misses int, cost float64, ok bool) {
	r, found := t.records[v]
	if !found {
		return 0, 0, 0, false
	}
	a, found := r.byTarget[target]
	if !found {
		return 0, 0, 0, false
	}
	return a.visits, a.misses, a.cost, true
}

// ActionEdge returns the search edge realizing the action towards target.
func (t *Tree) ActionEdge(v, target roadmap.VertexID) (roadmap.EdgeID, bool) {
	if r, ok := t.records[v]; ok {
		if a, ok := r.byTarget[target]; ok {
			return a.edge, true
		}
	}
	return roadmap.InvalidEdge, false
}

// Outcome returns the retained outcome vertex of the action towards target.
func (t *Tree) Outcome(v, target roadmap.VertexID) roadmap.VertexID {
	if r, ok := t.records[v]; ok {
		if a, ok := r.byTarget[target]; ok {
			return a.outcome
		}
	}
	return roadmap.InvalidVertex
}

// NodeStats returns N(h) and J(h).
func (t *Tree) NodeStats(v roadmap.VertexID) (visits int, cost float64) {
	r, ok := t.records[v]
	if !ok {
		return 0, math.Inf(1)
	}
	return r.visits, r.cost
}

func (t *Tree) IsExpanded(v roadmap.VertexID) bool {
	r, ok := t.records[v]
	return ok && r.expanded
}

// Size is the number of vertices carrying search bookkeeping.
func (t *Tree) Size() int {
	return len(t.records)
}
