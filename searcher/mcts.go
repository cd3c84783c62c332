package searcher

import (
	"errors"
	"math"

	"firmcp/belief"
	"firmcp/config"
	"firmcp/controller"
	"firmcp/experiments/metrics"
	"firmcp/roadmap"
	"firmcp/space"
	"firmcp/utils"

	"github.com/rs/zerolog/log"
	"golang.org/x/exp/rand"
)

var ErrNoAction = errors.New("no action available")

type Option func(m *MCTS)

func WithParticles(particles int) Option {
	return func(m *MCTS) {
		if particles > 0 {
			m.particles = particles
		}
	}
}

func WithRand(rng *rand.Rand) Option {
	return func(m *MCTS) {
		if rng != nil {
			m.rng = rng
		}
	}
}

func WithMetrics() Option {
	return func(m *MCTS) {
		m.metrics = metrics.NewCollector()
	}
}

// MCTS searches the belief tree online for the next roadmap edge to execute.
// Particles are simulated one after another on the shared true state of the
// space, which is restored after the search.
type MCTS struct {
	cfg       *config.Config
	tree      *Tree
	space     space.Space
	particles int
	rng       *rand.Rand
	metrics   metrics.Collector
	last      metrics.SearchMetric
}

// descend continues a trajectory below a search node, either inside the tree or
// in rollout.
type descend func(v roadmap.VertexID, depth int, prev roadmap.EdgeID, collisionDepth *int) float64

func NewMCTS(cfg *config.Config, tree *Tree, sp space.Space, options ...Option) *MCTS {
	m := &MCTS{ // Default values
		cfg:       cfg,
		tree:      tree,
		space:     sp,
		particles: cfg.Search.Particles,
		rng:       rand.New(rand.NewSource(cfg.Execution.Seed)),
		metrics:   metrics.NewDummyCollector(),
	}
	for _, option := range options {
		option(m)
	}
	return m
}

func (m *MCTS) Tree() *Tree {
	return m.tree
}

// LastMetric returns the metrics of the latest GeneratePolicy call.
func (m *MCTS) LastMetric() metrics.SearchMetric {
	return m.last
}

// GeneratePolicy runs one simulation per particle from v and returns the
// edge of the action with the lowest value.
func (m *MCTS) GeneratePolicy(v, goal roadmap.VertexID) (roadmap.EdgeID, error) {
	m.metrics.Start(m.particles, m.cfg.Search.Horizon)
	m.metrics.SetTreeReused(m.tree.IsExpanded(v))

	saved := m.space.TrueState()
	b := m.tree.graph.Belief(v)
	for i := 0; i < m.particles; i++ {
		x, ok := m.space.SampleTrueState(b, m.cfg.Search.SampleSigma)
		if !ok {
			log.Warn().Msgf("Could not sample a valid true state around vertex %d", v)
			continue
		}
		m.space.SetTrueState(x)

		collisionDepth := math.MaxInt
		cost := m.simulate(v, 0, roadmap.InvalidEdge, &collisionDepth)
		m.metrics.AddEpisode()
		if collisionDepth < math.MaxInt {
			log.Debug().Msgf("Particle %d: cost %.3f, collided at depth %d", i, cost, collisionDepth)
		} else {
			log.Debug().Msgf("Particle %d: cost %.3f", i, cost)
		}
	}
	m.space.SetTrueState(saved)
	m.last = m.metrics.Complete()

	if !m.tree.Expand(v) {
		return roadmap.InvalidEdge, ErrNoAction
	}
	r := m.tree.record(v)
	values := make([]float64, len(r.actions))
	for i, a := range r.actions {
		values[i] = a.cost
	}
	best := r.actions[argmin(values, m.rng)]

	log.Info().Msgf("Vertex %d towards goal %d: chose %d (Q=%.3f, N=%d/%d)", v, goal, best.target, best.cost, best.visits, r.visits)
	return best.edge, nil
}

func (m *MCTS) simulate(v roadmap.VertexID, depth int, prev roadmap.EdgeID, collisionDepth *int) float64 {
	r := m.tree.record(v)
	if !r.expanded {
		m.metrics.AddRollout()
		return m.rollout(v, depth, prev, collisionDepth)
	}

	if depth >= m.cfg.Search.Horizon {
		a, value, done := m.forced(v, r, depth, prev)
		if done {
			return value
		}
		return m.step(v, r, a, prev, depth, collisionDepth, m.simulate)
	}

	if len(r.actions) == 0 {
		return m.leaf(r, m.cfg.Search.ObstacleCost)
	}
	bound := newLCB(m.cfg.Search.Exploration, r.visits)
	values := make([]float64, len(r.actions))
	for i, a := range r.actions {
		values[i] = bound.evaluate(a.cost, a.visits)
	}
	a := r.actions[argmin(values, m.rng)]
	return m.step(v, r, a, a.edge, depth, collisionDepth, m.simulate)
}

func (m *MCTS) rollout(v roadmap.VertexID, depth int, prev roadmap.EdgeID, collisionDepth *int) float64 {
	r := m.tree.record(v)

	if depth >= m.cfg.Search.Horizon {
		a, value, done := m.forced(v, r, depth, prev)
		if done {
			return value
		}
		return m.step(v, r, a, prev, depth, collisionDepth, m.rollout)
	}

	if !m.tree.Expand(v) {
		return m.leaf(r, m.cfg.Search.ObstacleCost)
	}

	b := m.tree.graph.Belief(v)
	pair := m.cfg.Search.OutOfReach
	for _, a := range r.actions {
		if m.space.IsReachedWithin(m.tree.graph.Belief(a.target), b, m.cfg.Search.NEpsForIsReached) {
			pair = m.cfg.Search.WithinReach
			break
		}
	}
	weights := make([]float64, len(r.actions))
	for i, a := range r.actions {
		weights[i] = rolloutWeight(a.cost, pair)
	}
	a := r.actions[weightedChoice(weights, m.rng)]
	return m.step(v, r, a, a.edge, depth, collisionDepth, m.rollout)
}

// forced resolves a node beyond the horizon, where the edge taken by the
// parent is continued. done reports that the node was valued as a leaf.
func (m *MCTS) forced(v roadmap.VertexID, r *record, depth int, prev roadmap.EdgeID) (a *action, value float64, done bool) {
	obstacle := m.cfg.Search.ObstacleCost
	if depth >= m.cfg.Search.AbsoluteHorizon {
		log.Warn().Msgf("Could not reach the target within %d steps from vertex %d", m.cfg.Search.AbsoluteHorizon, v)
		return nil, m.leaf(r, obstacle), true
	}
	if !m.tree.Expand(v) {
		return nil, m.leaf(r, obstacle), true
	}

	e, ok := m.tree.graph.Edge(prev)
	if !ok {
		log.Warn().Msgf("Vertex %d has no edge %d to continue", v, prev)
		return nil, m.leaf(r, obstacle), true
	}

	b := m.tree.graph.Belief(v)
	target := m.tree.graph.Belief(e.To)
	if m.space.IsReached(target, b, false) {
		return nil, m.leaf(r, m.tree.estimator.EdgeCost(b, target)+m.tree.costToGo.Get(e.To)), true
	}

	if utils.FindIndex(m.tree.Actions(v), e.To) < 0 {
		log.Warn().Msgf("Vertex %d has no action towards %d", v, e.To)
		return nil, m.leaf(r, obstacle), true
	}
	return r.byTarget[e.To], 0, false
}

// leaf values a node without descending and returns value.
func (m *MCTS) leaf(r *record, value float64) float64 {
	r.visits++
	r.updateCost(value)
	if value >= m.cfg.Search.ObstacleCost {
		m.metrics.AddPenalty()
	}
	return value
}

// step executes edge for action a from v, records the outcome, descends with
// cont and backs the result up into v.
func (m *MCTS) step(v roadmap.VertexID, r *record, a *action, edge roadmap.EdgeID, depth int, collisionDepth *int, cont descend) float64 {
	obstacle := m.cfg.Search.ObstacleCost

	end, cost, ok := m.execute(edge, depth, m.tree.graph.Belief(v))
	if !ok {
		*collisionDepth = min(*collisionDepth, depth)
		m.metrics.AddCollision()
	}

	child := m.tree.RecordOutcome(v, a.target, end)
	future := obstacle
	if ok {
		future = cont(child, depth+1, edge, collisionDepth)
	}

	r.visits++
	a.visits++
	if !ok {
		a.misses++
	}
	// Q(ha) += (Q_k - Q(ha)) / N(ha)
	a.cost += (cost + future - a.cost) / float64(a.visits)
	return r.updateCost(obstacle)
}

// execute simulates up to the rollout-step budget of edge from start on the
// current true state and fails on the first invalid step. A controller that
// already terminated hands over to the stabilizer of the target vertex.
func (m *MCTS) execute(edge roadmap.EdgeID, depth int, start *belief.Belief) (*belief.Belief, float64, bool) {
	e, ok := m.tree.graph.Edge(edge)
	if !ok {
		panic("executing an unknown edge")
	}
	steps := m.cfg.Search.RolloutSteps
	k := 0
	if depth >= m.cfg.Search.Horizon {
		k = (depth - m.cfg.Search.Horizon + 1) * steps
	}

	// construction mode checks the particle's true state after every step
	var res controller.Result
	if !e.Controller.IsTerminated(start) {
		res = e.Controller.ExecuteFromUpto(k, steps, start, true)
	} else if stab, found := m.tree.graph.Stabilizer(e.To); found {
		res = stab.StabilizeUpto(m.cfg.Search.StabStepsScale*steps, start, true)
	} else {
		res = e.Controller.StabilizeUpto(m.cfg.Search.StabStepsScale*steps, start, true)
	}

	cost := ExecutionCost(m.cfg, res)
	return res.End, cost, res.Success && m.space.TrueStateValid()
}

// ExecutionCost weighs the information and time cost of a controller result.
func ExecutionCost(cfg *config.Config, res controller.Result) float64 {
	info := res.Cost - cfg.Controller.CostBias
	return cfg.Cost.InformationWeight*info + cfg.Cost.TimeWeight*float64(res.Steps)
}
