package sim

import (
	"math"

	"firmcp/belief"
	"firmcp/config"
	"firmcp/controller"
	"firmcp/space"

	"gonum.org/v1/gonum/mat"
)

// nominalSpeedFraction leaves speed headroom for feedback corrections.
const nominalSpeedFraction = 0.8

// Proportional tracks a nominal trajectory by adding a correction towards the
// nominal state to the nominal control.
type Proportional struct {
	gain     float64
	dt       float64
	maxSpeed float64
	maxTurn  float64
}

var _ space.FeedbackLaw = (*Proportional)(nil)

func NewProportional(w config.WorldConfig) *Proportional {
	return &Proportional{gain: w.FeedbackGain, dt: w.TimeStep, maxSpeed: w.MaxSpeed, maxTurn: w.MaxTurnRate}
}

func (p *Proportional) Control(b *belief.Belief, ls belief.LinearSystem) *mat.VecDense {
	x, u := ls.X(), ls.U()
	out := mat.NewVecDense(stateDim, []float64{
		u.AtVec(0) + p.gain*(x.AtVec(0)-b.X())/p.dt,
		u.AtVec(1) + p.gain*(x.AtVec(1)-b.Y())/p.dt,
		u.AtVec(2) + p.gain*belief.WrapAngle(x.AtVec(2)-b.Yaw())/p.dt,
	})
	return clampControl(out, p.maxSpeed, p.maxTurn)
}

// Trajectory linearizes the straight-line motion from one mean to another.
// The last linear system holds the goal with zero nominal control.
func Trajectory(from, to *belief.Belief, w config.WorldConfig) []belief.LinearSystem {
	dt := w.TimeStep
	dx, dy := to.X()-from.X(), to.Y()-from.Y()
	dyaw := belief.WrapAngle(to.Yaw() - from.Yaw())

	n := math.Max(
		math.Ceil(math.Hypot(dx, dy)/(nominalSpeedFraction*w.MaxSpeed*dt)),
		math.Ceil(math.Abs(dyaw)/(nominalSpeedFraction*w.MaxTurnRate*dt)),
	)
	steps := max(int(n), 1)

	a := identity(stateDim)
	bm := mat.NewDiagDense(stateDim, []float64{dt, dt, dt})
	h := identity(stateDim)
	u := mat.NewVecDense(stateDim, []float64{dx / (float64(steps) * dt), dy / (float64(steps) * dt), dyaw / (float64(steps) * dt)})
	zero := mat.NewVecDense(stateDim, nil)

	lss := make([]belief.LinearSystem, 0, steps+1)
	for k := 0; k <= steps; k++ {
		t := float64(k) / float64(steps)
		x := mat.NewVecDense(stateDim, []float64{
			from.X() + t*dx,
			from.Y() + t*dy,
			belief.WrapAngle(from.Yaw() + t*dyaw),
		})
		if k == steps {
			u = zero
		}
		lss = append(lss, belief.NewLinearSystem(x, u, a, bm, h))
	}
	return lss
}

// ControllerFactory builds segments in the world for expansion edges and
// node stabilizers.
type ControllerFactory struct {
	cfg    *config.Config
	world  *World
	law    space.FeedbackLaw
	filter space.Filter
}

func NewControllerFactory(cfg *config.Config, world *World) *ControllerFactory {
	return &ControllerFactory{
		cfg:    cfg,
		world:  world,
		law:    NewProportional(cfg.World),
		filter: NewKalmanFilter(cfg.World),
	}
}

func (f *ControllerFactory) Edge(from, to *belief.Belief) controller.Executor {
	return controller.NewSegment(f.cfg, f.world, to, Trajectory(from, to, f.cfg.World), f.law, f.filter)
}

// Stabilizer holds the robot at node.
func (f *ControllerFactory) Stabilizer(node *belief.Belief) controller.Executor {
	return controller.NewSegment(f.cfg, f.world, node, Trajectory(node, node, f.cfg.World)[1:], f.law, f.filter)
}
