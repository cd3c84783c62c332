package searcher

import (
	"math"
	"testing"

	"firmcp/belief"
	"firmcp/config"
	"firmcp/controller"
	"firmcp/roadmap"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// mockSpace is a world without noise or obstacles unless configured.
type mockSpace struct {
	state   *mat.VecDense
	valid   bool
	blocked map[[2]float64]bool // straight motions into these positions fail
}

func newMockSpace() *mockSpace {
	return &mockSpace{state: mat.NewVecDense(3, nil), valid: true, blocked: map[[2]float64]bool{}}
}

func (m *mockSpace) ApplyControl(u mat.Vector)  {}
func (m *mockSpace) Observation() *mat.VecDense { return mat.VecDenseCopyOf(m.state) }
func (m *mockSpace) TrueState() *mat.VecDense   { return mat.VecDenseCopyOf(m.state) }
func (m *mockSpace) SetTrueState(x mat.Vector)  { m.state.CloneFromVec(x) }
func (m *mockSpace) TrueStateValid() bool       { return m.valid }
func (m *mockSpace) IsValid(x mat.Vector) bool  { return m.valid }

func (m *mockSpace) SampleTrueState(b *belief.Belief, _ float64) (*mat.VecDense, bool) {
	return mat.VecDenseCopyOf(b.Mean), true
}

func (m *mockSpace) CheckMotion(_, to *belief.Belief) bool {
	return !m.blocked[[2]float64{to.X(), to.Y()}]
}

func (m *mockSpace) IsReached(target, b *belief.Belief, _ bool) bool {
	return target.PosDistance(b) < 0.1
}

func (m *mockSpace) IsReachedWithin(target, b *belief.Belief, nEps float64) bool {
	return target.PosDistance(b) < 0.1*nEps
}

// mockExecutor lands on a fixed belief with scripted costs. With crosses set
// the motion passes through an invalid state before ending on a valid one,
// which only a construction-mode execution notices.
type mockExecutor struct {
	end          *belief.Belief
	success      bool
	crosses      bool
	costs        []float64 // information cost per call, the last one repeats
	steps        int
	terminated   bool
	calls        int
	released     bool
	lastStart    int
	construction []bool
}

func (m *mockExecutor) IsTerminated(*belief.Belief) bool { return m.terminated }

func (m *mockExecutor) result(construction bool) controller.Result {
	cost := 0.0
	if len(m.costs) > 0 {
		cost = m.costs[min(m.calls, len(m.costs)-1)]
	}
	m.calls++
	m.construction = append(m.construction, construction)
	res := controller.Result{Success: m.success, End: m.end.Copy(), Cost: testBias + cost, Steps: m.steps}
	switch {
	case !m.success:
		res.Failure = controller.FailureDeviation
	case m.crosses && construction:
		res.Success, res.Failure = false, controller.FailureInvalidState
	}
	return res
}

func (m *mockExecutor) Execute(_ *belief.Belief, construction bool) controller.Result {
	return m.result(construction)
}

func (m *mockExecutor) ExecuteFromUpto(k, _ int, _ *belief.Belief, construction bool) controller.Result {
	m.lastStart = k
	return m.result(construction)
}

func (m *mockExecutor) Stabilize(_ *belief.Belief, construction bool) controller.Result {
	return m.result(construction)
}

func (m *mockExecutor) StabilizeUpto(_ int, _ *belief.Belief, construction bool) controller.Result {
	return m.result(construction)
}

func (m *mockExecutor) Release() { m.released = true }

// mockFactory hands out one executor per target position.
type mockFactory struct {
	byTarget map[[2]float64]*mockExecutor
	built    []*mockExecutor
}

func (f *mockFactory) Edge(_, to *belief.Belief) controller.Executor {
	if e, ok := f.byTarget[[2]float64{to.X(), to.Y()}]; ok {
		return e
	}
	e := &mockExecutor{end: to.Copy(), success: true}
	f.built = append(f.built, e)
	return e
}

// tablePolicy is an offline policy given by lookup tables.
type tablePolicy struct {
	goal      roadmap.VertexID
	baseline  map[roadmap.VertexID]float64
	successor map[roadmap.VertexID]roadmap.VertexID
}

func (p *tablePolicy) Goal() roadmap.VertexID { return p.goal }

func (p *tablePolicy) Baseline(v roadmap.VertexID) float64 {
	if c, ok := p.baseline[v]; ok {
		return c
	}
	return math.Inf(1)
}

func (p *tablePolicy) Successor(v roadmap.VertexID) (roadmap.VertexID, bool) {
	next, ok := p.successor[v]
	return next, ok
}

const testBias = 0.001

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Controller.CostBias = testBias
	cfg.Search.Particles = 4
	cfg.Search.Horizon = 1
	cfg.Search.AbsoluteHorizon = 3
	cfg.Search.Exploration = 1
	cfg.Search.ExpansionRadius = 3
	cfg.Search.ObstacleCost = 1e4
	cfg.Search.InfiniteCost = 1e6
	cfg.Cost.InformationWeight = 1
	cfg.Cost.TimeWeight = 0
	return cfg
}

func at(x, y float64) *belief.Belief {
	return belief.Diagonal([]float64{x, y, 0}, []float64{0.01, 0.01, 0.01})
}

// fixture is a root search vertex at the origin with roadmap vertices
// A (1,0) and B (0,1). B is the goal and A's feedback leads to it.
type fixture struct {
	cfg     *config.Config
	graph   *roadmap.Graph
	space   *mockSpace
	factory *mockFactory
	tree    *Tree
	root    roadmap.VertexID
	a, b    roadmap.VertexID
}

func newFixture(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()
	g := roadmap.NewGraph()
	a := g.AddRoadmapVertex(at(1, 0))
	b := g.AddRoadmapVertex(at(0, 1))
	policy := &tablePolicy{
		goal:      b,
		baseline:  map[roadmap.VertexID]float64{a: 100, b: 0},
		successor: map[roadmap.VertexID]roadmap.VertexID{a: b},
	}
	est := roadmap.NewEstimator(cfg)
	ctg := roadmap.NewCostToGo(cfg, g, policy, est)
	sp := newMockSpace()
	factory := &mockFactory{byTarget: map[[2]float64]*mockExecutor{}}
	tree := NewTree(cfg, g, ctg, est, sp, factory)
	root := tree.AddVertex(at(0, 0))
	tree.SetStart(root)
	return &fixture{cfg: cfg, graph: g, space: sp, factory: factory, tree: tree, root: root, a: a, b: b}
}

func TestTreeExpand(t *testing.T) {
	t.Run("seeds actions with estimated edge cost plus cost-to-go", func(t *testing.T) {
		f := newFixture(t, testConfig())

		require.True(t, f.tree.Expand(f.root))

		require.ElementsMatch(t, []roadmap.VertexID{f.a, f.b}, f.tree.Actions(f.root))
		est := roadmap.NewEstimator(f.cfg)
		_, _, qa, ok := f.tree.ActionStats(f.root, f.a)
		require.True(t, ok)
		require.InDelta(t, est.EdgeCost(at(0, 0), at(1, 0))+100, qa, 1e-9)
		_, _, qb, _ := f.tree.ActionStats(f.root, f.b)
		require.InDelta(t, est.EdgeCost(at(0, 0), at(0, 1)), qb, 1e-9)

		_, j := f.tree.NodeStats(f.root)
		require.Equal(t, math.Min(qa, qb), j)
	})

	t.Run("is idempotent", func(t *testing.T) {
		f := newFixture(t, testConfig())

		f.tree.Expand(f.root)
		edges := f.graph.OutEdges(f.root)
		require.True(t, f.tree.Expand(f.root))

		require.Equal(t, edges, f.graph.OutEdges(f.root), "Second expansion should not add edges")
		require.Len(t, f.tree.Actions(f.root), 2)
	})

	t.Run("skips neighbors failing the motion check", func(t *testing.T) {
		f := newFixture(t, testConfig())
		f.space.blocked[[2]float64{1, 0}] = true

		require.True(t, f.tree.Expand(f.root))

		require.Equal(t, []roadmap.VertexID{f.b}, f.tree.Actions(f.root))
	})

	t.Run("no neighbor within radius", func(t *testing.T) {
		cfg := testConfig()
		cfg.Search.ExpansionRadius = 0.5
		f := newFixture(t, cfg)

		require.False(t, f.tree.Expand(f.root))
		require.True(t, f.tree.IsExpanded(f.root), "Node should still be marked expanded")
		require.Empty(t, f.tree.Actions(f.root))
	})
}

func TestTreeRecordOutcome(t *testing.T) {
	t.Run("reuses the outcome vertex of an action", func(t *testing.T) {
		f := newFixture(t, testConfig())
		f.tree.Expand(f.root)

		first := f.tree.RecordOutcome(f.root, f.a, at(0.9, 0))
		second := f.tree.RecordOutcome(f.root, f.a, at(1.1, 0))

		require.Equal(t, first, second)
		require.Equal(t, first, f.tree.Outcome(f.root, f.a))
		require.InDelta(t, 1.1, f.graph.Belief(second).X(), 1e-12, "Outcome belief should be overwritten")
	})

	t.Run("different actions get different outcomes", func(t *testing.T) {
		f := newFixture(t, testConfig())
		f.tree.Expand(f.root)

		oa := f.tree.RecordOutcome(f.root, f.a, at(1, 0))
		ob := f.tree.RecordOutcome(f.root, f.b, at(0, 1))

		require.NotEqual(t, oa, ob)
	})

	t.Run("unknown action yields a detached vertex", func(t *testing.T) {
		f := newFixture(t, testConfig())

		v := f.tree.RecordOutcome(f.root, f.a, at(1, 0))

		require.True(t, f.graph.HasVertex(v))
		require.Equal(t, roadmap.InvalidVertex, f.tree.Outcome(f.root, f.a))
	})
}

func TestTreePrune(t *testing.T) {
	// root -a-> oa -b-> oab, root -b-> ob
	build := func(t *testing.T) (*fixture, roadmap.VertexID, roadmap.VertexID, roadmap.VertexID) {
		f := newFixture(t, testConfig())
		f.tree.Expand(f.root)
		oa := f.tree.RecordOutcome(f.root, f.a, at(1, 0))
		ob := f.tree.RecordOutcome(f.root, f.b, at(0, 1))
		f.tree.Expand(oa)
		oab := f.tree.RecordOutcome(oa, f.b, at(0, 1))
		return f, oa, ob, oab
	}

	t.Run("subtree removes descendants and releases their controllers", func(t *testing.T) {
		f, oa, ob, oab := build(t)
		built := len(f.factory.built)

		f.tree.PruneSubtree(oa)

		require.False(t, f.graph.HasVertex(oa))
		require.False(t, f.graph.HasVertex(oab))
		require.True(t, f.graph.HasVertex(ob), "Sibling should be kept")
		require.True(t, f.graph.HasVertex(f.a), "Roadmap vertices should be kept")
		for _, e := range f.factory.built[built-2:] {
			require.True(t, e.released, "Edges of oa should be released")
		}
	})

	t.Run("advance keeps the new root branch only", func(t *testing.T) {
		f, oa, ob, oab := build(t)

		f.tree.Advance(f.root, oa)

		require.True(t, f.graph.HasVertex(oa))
		require.True(t, f.graph.HasVertex(oab))
		require.False(t, f.graph.HasVertex(ob))
		require.True(t, f.graph.HasVertex(f.root))
		require.Equal(t, roadmap.InvalidVertex, f.tree.Outcome(f.root, f.a))
	})

	t.Run("start vertex is never pruned", func(t *testing.T) {
		f, _, _, _ := build(t)

		f.tree.PruneSubtree(f.root)

		require.True(t, f.graph.HasVertex(f.root))
		require.Equal(t, 1, f.tree.Size(), "Only the start record should survive")
	})

	t.Run("pruning a non-start root releases its edges", func(t *testing.T) {
		f, oa, _, _ := build(t)
		f.tree.SetStart(roadmap.InvalidVertex)
		rootEdges := f.factory.built[:2]

		f.tree.Advance(f.root, oa)
		f.tree.PruneNode(f.root)

		require.False(t, f.graph.HasVertex(f.root))
		for _, e := range rootEdges {
			require.True(t, e.released)
		}
	})
}
