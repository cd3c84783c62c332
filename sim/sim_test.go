package sim

import (
	"math"
	"testing"

	"firmcp/belief"
	"firmcp/config"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

func quietConfig() *config.Config {
	cfg := config.Default()
	cfg.World.ProcessNoise = 0
	cfg.World.ObservationNoise = 1e-3
	return cfg
}

func newWorld(cfg *config.Config) *World {
	return NewWorld(cfg, rand.New(rand.NewSource(1)))
}

func pose(x, y, yaw float64) *belief.Belief {
	return belief.Diagonal([]float64{x, y, yaw}, []float64{0.01, 0.01, 0.01})
}

func TestWorldValidity(t *testing.T) {
	w := newWorld(config.Default())

	tests := []struct {
		name  string
		x, y  float64
		valid bool
	}{
		{"free space", 1, 1, true},
		{"inside an obstacle", 5, 5, false},
		{"obstacle rim", 5 + 1.2, 5, true},
		{"outside the bounds", -0.1, 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.valid, w.IsValid(mat.NewVecDense(3, []float64{tt.x, tt.y, 0})))
		})
	}
}

func TestWorldApplyControl(t *testing.T) {
	t.Run("moves by one time step without noise", func(t *testing.T) {
		w := newWorld(quietConfig())
		w.SetTrueState(mat.NewVecDense(3, []float64{1, 1, 0}))

		w.ApplyControl(mat.NewVecDense(3, []float64{0.5, 0, 0.2}))

		require.InDeltaSlice(t, []float64{1.05, 1, 0.02}, w.TrueState().RawVector().Data, 1e-12)
	})

	t.Run("clamps speed and turn rate", func(t *testing.T) {
		cfg := quietConfig()
		w := newWorld(cfg)
		w.SetTrueState(mat.NewVecDense(3, []float64{1, 1, 0}))

		w.ApplyControl(mat.NewVecDense(3, []float64{30, 40, -10}))

		dt := cfg.World.TimeStep
		require.InDeltaSlice(t, []float64{1 + 0.6*dt, 1 + 0.8*dt, -dt}, w.TrueState().RawVector().Data, 1e-12)
	})
}

func TestWorldSampleTrueState(t *testing.T) {
	t.Run("samples stay within the sigma bound", func(t *testing.T) {
		w := newWorld(config.Default())
		b := pose(1, 1, 0)

		for i := 0; i < 200; i++ {
			x, ok := w.SampleTrueState(b, 2)
			require.True(t, ok)
			require.LessOrEqual(t, math.Hypot(x.AtVec(0)-1, x.AtVec(1)-1), 2*0.1+1e-9)
			require.True(t, w.IsValid(x))
		}
	})

	t.Run("degenerate covariance", func(t *testing.T) {
		w := newWorld(config.Default())
		b := belief.Diagonal([]float64{1, 1, 0}, []float64{0, 0, 0})

		_, ok := w.SampleTrueState(b, 3)

		require.False(t, ok)
	})

	t.Run("belief inside an obstacle", func(t *testing.T) {
		w := newWorld(config.Default())

		_, ok := w.SampleTrueState(pose(5, 5, 0), 3)

		require.False(t, ok)
	})
}

func TestWorldCheckMotion(t *testing.T) {
	w := newWorld(config.Default())

	require.True(t, w.CheckMotion(pose(1, 1, 0), pose(3, 1, 0)))
	require.False(t, w.CheckMotion(pose(3, 5, 0), pose(7, 5, 0)), "Line through the central obstacle")
}

func TestWorldIsReached(t *testing.T) {
	cfg := config.Default()
	w := newWorld(cfg)
	target := pose(1, 1, 0)
	d := cfg.Controller.NodeReachedDistance

	require.True(t, w.IsReached(target, pose(1+0.9*d, 1, 0), false))
	require.False(t, w.IsReached(target, pose(1+1.5*d, 1, 0), false))
	require.True(t, w.IsReached(target, pose(1+1.5*d, 1, 0), true))
	require.False(t, w.IsReached(target, pose(1, 1, 2*cfg.Controller.NodeReachedAngle), false))
	require.True(t, w.IsReachedWithin(target, pose(1+2.5*d, 1, 0), 3))
}

func TestKalmanFilter(t *testing.T) {
	cfg := config.Default()
	f := NewKalmanFilter(cfg.World)
	lss := Trajectory(pose(1, 1, 0), pose(1, 1, 0), cfg.World)
	prior := belief.Diagonal([]float64{1, 1, 0}, []float64{1, 1, 1})
	z := mat.NewVecDense(3, []float64{1.5, 1, 0})

	post := f.Evolve(prior, mat.NewVecDense(3, nil), z, lss[0], lss[0])

	require.Less(t, post.Trace(), prior.Trace(), "Measurement should shrink the covariance")
	require.Greater(t, post.Trace(), 0.0)
	require.Greater(t, post.X(), 1.4, "Mean should move towards a precise fix")
	require.True(t, mat.EqualApprox(post.Cov, post.Cov.T(), 1e-12))
}

func TestProportional(t *testing.T) {
	cfg := config.Default()
	law := NewProportional(cfg.World)
	lss := Trajectory(pose(1, 1, 0), pose(2, 1, 0), cfg.World)

	t.Run("on the nominal trajectory returns the nominal control", func(t *testing.T) {
		u := law.Control(pose(1, 1, 0), lss[0])

		require.InDeltaSlice(t, mat.VecDenseCopyOf(lss[0].U()).RawVector().Data, u.RawVector().Data, 1e-12)
	})

	t.Run("corrections are clamped", func(t *testing.T) {
		u := law.Control(pose(-5, 1, 0), lss[0])

		require.InDelta(t, cfg.World.MaxSpeed, math.Hypot(u.AtVec(0), u.AtVec(1)), 1e-12)
	})
}

func TestTrajectory(t *testing.T) {
	cfg := config.Default()
	from, to := pose(1, 1, 0), pose(3, 1, 0)

	lss := Trajectory(from, to, cfg.World)

	steps := int(math.Ceil(2 / (nominalSpeedFraction * cfg.World.MaxSpeed * cfg.World.TimeStep)))
	require.Len(t, lss, steps+1)
	require.InDelta(t, 1.0, lss[0].X().AtVec(0), 1e-12)
	require.InDelta(t, 3.0, lss[len(lss)-1].X().AtVec(0), 1e-12)
	require.Equal(t, 0.0, mat.Norm(lss[len(lss)-1].U(), 2), "Goal should hold still")
}

func TestSegmentInWorld(t *testing.T) {
	cfg := quietConfig()
	w := newWorld(cfg)
	factory := NewControllerFactory(cfg, w)
	from, to := pose(1, 1, 0), NodeBelief(config.Pose{X: 3, Y: 1}, cfg.World)
	w.SetTrueState(from.Mean)

	res := factory.Edge(from, to).Execute(from, true)

	require.True(t, res.Success, "failure: %v", res.Failure)
	require.LessOrEqual(t, res.End.PosDistance(to), cfg.Controller.NodeReachedDistance)
	require.Greater(t, res.Cost, cfg.Controller.CostBias)

	stab := factory.Stabilizer(to)
	res = stab.Stabilize(res.End, true)

	require.True(t, res.Success, "failure: %v", res.Failure)
	require.True(t, w.IsReached(to, res.End, false))
}

func TestBuildRoadmap(t *testing.T) {
	t.Run("every connected node leads to the goal", func(t *testing.T) {
		cfg := config.Default()
		w := newWorld(cfg)

		rm, err := BuildRoadmap(cfg, w, NewControllerFactory(cfg, w))

		require.NoError(t, err)
		require.Equal(t, 0.0, rm.Policy.Baseline(rm.Goal))
		_, ok := rm.Policy.Successor(rm.Goal)
		require.False(t, ok)

		for _, v := range rm.Graph.RoadmapVertices() {
			_, ok := rm.Graph.Stabilizer(v)
			require.True(t, ok, "Vertex %d should own a stabilizer", v)
			require.GreaterOrEqual(t, w.Clearance(rm.Graph.Belief(v).X(), rm.Graph.Belief(v).Y()), 0.0)

			if v == rm.Goal || math.IsInf(rm.Policy.Baseline(v), 1) {
				continue
			}
			next, ok := rm.Policy.Successor(v)
			require.True(t, ok)
			require.Less(t, rm.Policy.Baseline(next), rm.Policy.Baseline(v), "Baseline should decrease along the feedback")
		}
	})

	t.Run("goal inside an obstacle", func(t *testing.T) {
		cfg := config.Default()
		cfg.World.Goal = config.Pose{X: 5, Y: 5}
		w := newWorld(cfg)

		_, err := BuildRoadmap(cfg, w, NewControllerFactory(cfg, w))

		require.ErrorIs(t, err, ErrInvalidGoal)
	})

	t.Run("unknown vertex has no baseline", func(t *testing.T) {
		cfg := config.Default()
		w := newWorld(cfg)

		rm, err := BuildRoadmap(cfg, w, NewControllerFactory(cfg, w))

		require.NoError(t, err)
		require.True(t, math.IsInf(rm.Policy.Baseline(9999), 1))
		_, ok := rm.Policy.Successor(9999)
		require.False(t, ok)
	})
}
