// Package sim is a planar reference world for the planner: an
// omnidirectional robot with Gaussian motion and sensing noise among
// circular obstacles.
package sim

import (
	"math"

	"firmcp/belief"
	"firmcp/config"
	"firmcp/space"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

const (
	stateDim          = 3
	motionResolution  = 0.05 // straight-line collision check spacing
	maxSampleAttempts = 100
)

// World holds the single true state of the robot. It is not safe for
// concurrent use.
type World struct {
	cfg   config.WorldConfig
	ctrl  config.ControllerConfig
	state *mat.VecDense
	rng   *rand.Rand
}

var _ space.Space = (*World)(nil)

func NewWorld(cfg *config.Config, rng *rand.Rand) *World {
	start := cfg.World.Start
	return &World{
		cfg:   cfg.World,
		ctrl:  cfg.Controller,
		state: mat.NewVecDense(stateDim, []float64{start.X, start.Y, start.Yaw}),
		rng:   rng,
	}
}

// ApplyControl moves the robot by one time step of u with process noise.
func (w *World) ApplyControl(u mat.Vector) {
	v := clampControl(u, w.cfg.MaxSpeed, w.cfg.MaxTurnRate)
	dt := w.cfg.TimeStep
	for i := 0; i < stateDim; i++ {
		w.state.SetVec(i, w.state.AtVec(i)+dt*v.AtVec(i)+w.cfg.ProcessNoise*w.rng.NormFloat64())
	}
	w.state.SetVec(2, belief.WrapAngle(w.state.AtVec(2)))
}

// Observation is a noisy full-state fix.
func (w *World) Observation() *mat.VecDense {
	z := mat.NewVecDense(stateDim, nil)
	for i := 0; i < stateDim; i++ {
		z.SetVec(i, w.state.AtVec(i)+w.cfg.ObservationNoise*w.rng.NormFloat64())
	}
	z.SetVec(2, belief.WrapAngle(z.AtVec(2)))
	return z
}

func (w *World) TrueState() *mat.VecDense {
	return mat.VecDenseCopyOf(w.state)
}

func (w *World) SetTrueState(x mat.Vector) {
	w.state.CopyVec(x)
}

func (w *World) TrueStateValid() bool {
	return w.IsValid(w.state)
}

// IsValid reports whether the position of x lies inside the bounds and
// outside every obstacle.
func (w *World) IsValid(x mat.Vector) bool {
	return w.Clearance(x.AtVec(0), x.AtVec(1)) >= 0
}

// Clearance is the distance from (x, y) to the nearest obstacle or boundary,
// negative inside an obstacle or outside the bounds.
func (w *World) Clearance(x, y float64) float64 {
	c := math.Min(math.Min(x-w.cfg.MinX, w.cfg.MaxX-x), math.Min(y-w.cfg.MinY, w.cfg.MaxY-y))
	for _, o := range w.cfg.Obstacles {
		c = math.Min(c, math.Hypot(x-o.X, y-o.Y)-o.Radius)
	}
	return c
}

// SampleTrueState draws from the Gaussian of b, rejecting draws outside
// nSigma standard deviations and invalid states.
func (w *World) SampleTrueState(b *belief.Belief, nSigma float64) (*mat.VecDense, bool) {
	var chol mat.Cholesky
	if ok := chol.Factorize(b.Cov); !ok {
		return nil, false
	}
	var l mat.TriDense
	chol.LTo(&l)

	n := b.Dim()
	z := mat.NewVecDense(n, nil)
	x := mat.NewVecDense(n, nil)
	for attempt := 0; attempt < maxSampleAttempts; attempt++ {
		for i := 0; i < n; i++ {
			z.SetVec(i, w.rng.NormFloat64())
		}
		if mat.Norm(z, 2) > nSigma {
			continue
		}
		x.MulVec(&l, z)
		x.AddVec(x, b.Mean)
		if n > 2 {
			x.SetVec(2, belief.WrapAngle(x.AtVec(2)))
		}
		if w.IsValid(x) {
			return x, true
		}
	}
	return nil, false
}

// CheckMotion samples the straight line between the two means.
func (w *World) CheckMotion(from, to *belief.Belief) bool {
	d := from.PosDistance(to)
	n := int(math.Ceil(d / motionResolution))
	for i := 0; i <= n; i++ {
		t := 1.0
		if n > 0 {
			t = float64(i) / float64(n)
		}
		x := from.X() + t*(to.X()-from.X())
		y := from.Y() + t*(to.Y()-from.Y())
		if w.Clearance(x, y) < 0 {
			return false
		}
	}
	return true
}

func (w *World) IsReached(target, b *belief.Belief, relaxed bool) bool {
	scale := 1.0
	if relaxed {
		scale = w.ctrl.RelaxedFactor
	}
	return w.IsReachedWithin(target, b, scale)
}

func (w *World) IsReachedWithin(target, b *belief.Belief, nEps float64) bool {
	return target.PosDistance(b) <= nEps*w.ctrl.NodeReachedDistance &&
		target.OriDistance(b) <= nEps*w.ctrl.NodeReachedAngle
}

// clampControl limits the planar speed and the turn rate of u.
func clampControl(u mat.Vector, maxSpeed, maxTurn float64) *mat.VecDense {
	v := mat.VecDenseCopyOf(u)
	if speed := math.Hypot(v.AtVec(0), v.AtVec(1)); speed > maxSpeed {
		v.SetVec(0, v.AtVec(0)*maxSpeed/speed)
		v.SetVec(1, v.AtVec(1)*maxSpeed/speed)
	}
	v.SetVec(2, math.Max(-maxTurn, math.Min(maxTurn, v.AtVec(2))))
	return v
}
