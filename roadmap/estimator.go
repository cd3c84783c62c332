package roadmap

import (
	"math"

	"firmcp/belief"
	"firmcp/config"
)

// minTraceRatio keeps the stabilization step count finite when the target
// covariance is degenerate.
const minTraceRatio = 1e-12

// Estimator approximates execution costs between beliefs without simulating.
type Estimator struct {
	cfg *config.Config
}

func NewEstimator(cfg *config.Config) *Estimator {
	return &Estimator{cfg: cfg}
}

// TransitionCost estimates driving from a to b: the distance left beyond the
// reach tolerances is converted to steps, and the covariance of a is assumed
// to shrink geometrically over them.
func (e *Estimator) TransitionCost(a, b *belief.Belief) float64 {
	c := e.cfg
	pos := math.Max(0, a.PosDistance(b)-c.Controller.NodeReachedDistance)
	ori := math.Max(0, a.OriDistance(b)-c.Controller.NodeReachedAngle)

	steps := math.Max(pos/c.Cost.PosStepSize, ori/c.Cost.OriStepSize)
	return e.weigh(a.Trace(), steps)
}

// StabilizationCost estimates shrinking the covariance of a down to that of b.
// It is zero when a is already at least as certain as b.
func (e *Estimator) StabilizationCost(a, b *belief.Belief) float64 {
	trA := a.Trace()
	if trA <= 0 {
		return 0
	}
	ratio := math.Max(minTraceRatio, math.Min(1, b.Trace()/trA))
	steps := math.Log(ratio) / math.Log(e.cfg.Cost.CovConvergenceRate)
	return e.weigh(trA, steps)
}

// EdgeCost is the estimated cost of executing an edge a -> b and stabilizing
// at b.
func (e *Estimator) EdgeCost(a, b *belief.Belief) float64 {
	return e.TransitionCost(a, b) + e.StabilizationCost(a, b)
}

// weigh combines the filtering cost of trace shrinking over steps with the
// time cost of the steps.
func (e *Estimator) weigh(trace, steps float64) float64 {
	rho := e.cfg.Cost.CovConvergenceRate
	filtering := trace * rho * (1 - math.Pow(rho, steps)) / (1 - rho)
	return e.cfg.Cost.InformationWeight*filtering + e.cfg.Cost.TimeWeight*steps
}
