package roadmap

import (
	"math"

	"firmcp/config"

	"github.com/rs/zerolog/log"
)

// OfflinePolicy is the result of solving the roadmap offline: a baseline
// cost-to-go per vertex and the feedback successor on the way to the goal.
type OfflinePolicy interface {
	Goal() VertexID
	// Baseline returns +Inf for vertices the policy does not know.
	Baseline(v VertexID) float64
	Successor(v VertexID) (VertexID, bool)
}

// CostToGo is the baseline cost-to-go augmented with the stabilization cost
// the offline solution ignores. Values are memoized per vertex.
type CostToGo struct {
	cfg       *config.Config
	graph     *Graph
	policy    OfflinePolicy
	estimator *Estimator

	cache map[VertexID]float64
}

func NewCostToGo(cfg *config.Config, g *Graph, policy OfflinePolicy, est *Estimator) *CostToGo {
	return &CostToGo{
		cfg:       cfg,
		graph:     g,
		policy:    policy,
		estimator: est,
		cache:     make(map[VertexID]float64),
	}
}

// Infinite is the cost assigned to vertices with no route to the goal.
func (c *CostToGo) Infinite() float64 {
	return c.cfg.Search.InfiniteCost
}

func (c *CostToGo) Get(v VertexID) float64 {
	if cost, ok := c.cache[v]; ok {
		return cost
	}

	inf := c.Infinite()
	goal := c.policy.Goal()
	base := c.policy.Baseline(v)

	if v == goal {
		c.cache[v] = base
		return base
	}

	next, ok := c.policy.Successor(v)
	if reason := c.unroutable(v, next, ok, base); reason != "" {
		log.Warn().Msgf("Vertex %d has no route to goal %d: %s", v, goal, reason)
		c.cache[v] = inf
		return inf
	}
	if next == goal {
		c.cache[v] = base
		return base
	}

	// A vertex on the current recursion path reads as unreachable.
	c.cache[v] = inf
	rest := c.Get(next)
	if rest >= inf {
		log.Warn().Msgf("Vertex %d has no finite route to the goal through %d", v, next)
		return inf
	}

	stab := c.estimator.StabilizationCost(c.graph.Belief(v), c.graph.Belief(next))
	cost := math.Min(inf, base+(rest-c.policy.Baseline(next))+c.cfg.Cost.StabInflation*stab)
	c.cache[v] = cost
	return cost
}

// unroutable names why the offline policy cannot route v, or returns "".
func (c *CostToGo) unroutable(v, next VertexID, hasNext bool, base float64) string {
	switch {
	case !hasNext:
		return "no feedback successor"
	case math.IsInf(base, 1) || base >= c.Infinite():
		return "infinite baseline"
	case !c.graph.HasVertex(v) || !c.graph.HasVertex(next):
		return "vertex not in the graph"
	}
	return ""
}

// Forget drops the memoized value of v.
func (c *CostToGo) Forget(v VertexID) {
	delete(c.cache, v)
}

// GreedyEdge picks the out-edge of v minimizing the expected one-step
// lookahead cost.
func (c *CostToGo) GreedyEdge(v VertexID) (EdgeID, bool) {
	best, bestCost := InvalidEdge, math.Inf(1)
	for _, id := range c.graph.OutEdges(v) {
		e, _ := c.graph.Edge(id)
		p := e.Weight.SuccessProb
		cost := p*c.Get(e.To) + (1-p)*c.cfg.Search.ObstacleCost + e.Weight.Cost
		if cost < bestCost {
			best, bestCost = id, cost
		}
	}
	return best, best != InvalidEdge
}
