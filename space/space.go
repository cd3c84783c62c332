// Package space holds the contracts the planner consumes from the geometry,
// dynamics and estimation layers. Any world that aims to be navigable by the
// planner implements these.
package space

import (
	"firmcp/belief"

	"gonum.org/v1/gonum/mat"
)

// Space is the simulated or real system a controller acts on. It carries a
// single true state that ApplyControl propagates and Observation senses.
type Space interface {
	ApplyControl(u mat.Vector)
	Observation() *mat.VecDense

	TrueState() *mat.VecDense
	SetTrueState(x mat.Vector)
	// TrueStateValid checks the current true state against the environment.
	TrueStateValid() bool
	IsValid(x mat.Vector) bool

	// SampleTrueState draws a valid true state from b that lies within nSigma
	// standard deviations of the mean.
	SampleTrueState(b *belief.Belief, nSigma float64) (*mat.VecDense, bool)
	// CheckMotion validates the straight-line motion between two beliefs.
	CheckMotion(from, to *belief.Belief) bool

	// IsReached checks b against target using the node-reached position and
	// heading tolerances. relaxed loosens both tolerances.
	IsReached(target, b *belief.Belief, relaxed bool) bool
	// IsReachedWithin is IsReached with the tolerances scaled by nEps.
	IsReachedWithin(target, b *belief.Belief, nEps float64) bool
}

// FeedbackLaw generates the control that drives a belief along ls.
type FeedbackLaw interface {
	Control(b *belief.Belief, ls belief.LinearSystem) *mat.VecDense
}

// Filter propagates a belief through one control and observation.
type Filter interface {
	Evolve(b *belief.Belief, u mat.Vector, z mat.Vector, current, next belief.LinearSystem) *belief.Belief
}
