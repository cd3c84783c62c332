package controller

import (
	"fmt"
	"math"

	"firmcp/belief"
	"firmcp/config"
	"firmcp/space"
)

// Failure names why a run of a controller stopped without success.
type Failure int

const (
	FailureNone Failure = iota
	FailureDeviation
	FailureInvalidState
	FailureTriesExhausted
	FailureStepCap
)

func (f Failure) String() string {
	switch f {
	case FailureNone:
		return "none"
	case FailureDeviation:
		return "deviation"
	case FailureInvalidState:
		return "invalid-state"
	case FailureTriesExhausted:
		return "tries-exhausted"
	case FailureStepCap:
		return "step-cap"
	default:
		return fmt.Sprintf("failure(%d)", int(f))
	}
}

// Result is the outcome of one call into a controller. End is always set,
// also on failure, to the last belief reached.
type Result struct {
	Success   bool
	End       *belief.Belief
	Cost      float64 // cost bias plus the sum of covariance traces
	Steps     int
	StopIndex int // trajectory index the next resumed call should start at
	Failure   Failure
}

// Executor drives the system along one roadmap edge or holds it at a node.
// Implementations are not safe for concurrent use.
type Executor interface {
	IsTerminated(b *belief.Belief) bool
	Execute(start *belief.Belief, construction bool) Result
	ExecuteFromUpto(kStart, maxSteps int, start *belief.Belief, construction bool) Result
	Stabilize(start *belief.Belief, construction bool) Result
	StabilizeUpto(maxSteps int, start *belief.Belief, construction bool) Result
	Release()
}

// Segment is a feedback controller tracking a nominal trajectory of
// linearizations towards a goal belief.
type Segment struct {
	cfg    *config.Config
	space  space.Space
	goal   *belief.Belief
	lss    []belief.LinearSystem
	law    space.FeedbackLaw
	filter space.Filter

	tries int
}

var _ Executor = (*Segment)(nil)

func NewSegment(cfg *config.Config, sp space.Space, goal *belief.Belief, lss []belief.LinearSystem, law space.FeedbackLaw, filter space.Filter) *Segment {
	if cfg == nil {
		panic("segment requires a config")
	}
	if len(lss) == 0 {
		panic("segment requires at least one linear system")
	}
	return &Segment{
		cfg:    cfg,
		space:  sp,
		goal:   goal.Copy(),
		lss:    lss,
		law:    law,
		filter: filter,
	}
}

func (s *Segment) Goal() *belief.Belief {
	return s.goal
}

func (s *Segment) Len() int {
	return len(s.lss)
}

// maxSteps bounds a full execution.
func (s *Segment) maxSteps() int {
	return int(math.Ceil(s.cfg.Controller.ExecTimeScale * float64(len(s.lss))))
}

// IsTerminated reports whether b's planar mean is within the node-reached
// distance of the goal.
func (s *Segment) IsTerminated(b *belief.Belief) bool {
	return b.PosDistance(s.goal) <= s.cfg.Controller.NodeReachedDistance
}

// Execute runs the controller from the start of its trajectory until it
// terminates. Hitting the step cap counts as a failure.
func (s *Segment) Execute(start *belief.Belief, construction bool) Result {
	res := s.run(0, s.maxSteps(), start, construction)
	if res.Success && !s.IsTerminated(res.End) {
		res.Success = false
		res.Failure = FailureStepCap
	}
	return res
}

// ExecuteFromUpto resumes the controller at trajectory index kStart and stops
// after maxSteps steps even if it has not terminated.
func (s *Segment) ExecuteFromUpto(kStart, maxSteps int, start *belief.Belief, construction bool) Result {
	return s.run(kStart, maxSteps, start, construction)
}

func (s *Segment) run(kStart, maxSteps int, start *belief.Belief, construction bool) Result {
	b := start.Copy()
	res := Result{Success: true, Cost: s.cfg.Controller.CostBias, StopIndex: kStart}

	for res.Steps < maxSteps && !s.IsTerminated(b) {
		k := kStart + res.Steps
		b = s.evolve(b, k)
		res.Steps++
		res.StopIndex = k + 1

		if construction && !s.space.TrueStateValid() {
			res.Success, res.Failure = false, FailureInvalidState
			break
		}
		if s.deviation(b, k) > s.cfg.Controller.MaxTrajectoryDeviation {
			res.Success, res.Failure = false, FailureDeviation
			break
		}
		res.Cost += b.Trace()
	}

	res.End = b
	return res
}

// Stabilize holds the terminal control until the goal is reached or the
// retry bound runs out.
func (s *Segment) Stabilize(start *belief.Belief, construction bool) Result {
	return s.StabilizeUpto(s.cfg.Controller.MaxTries, start, construction)
}

// StabilizeUpto takes at most maxSteps stabilization steps. The retry counter
// carries over between calls and is reset once the goal is reached or the
// bound is exhausted.
func (s *Segment) StabilizeUpto(maxSteps int, start *belief.Belief, construction bool) Result {
	b := start.Copy()
	last := len(s.lss) - 1
	res := Result{Success: true, Cost: s.cfg.Controller.CostBias, StopIndex: last}

	for res.Steps < maxSteps {
		if s.space.IsReached(s.goal, b, false) {
			s.tries = 0
			break
		}
		if s.tries >= s.cfg.Controller.MaxTries {
			s.tries = 0
			res.Success, res.Failure = false, FailureTriesExhausted
			break
		}

		b = s.evolve(b, last)
		res.Steps++
		s.tries++

		if construction && !s.space.TrueStateValid() {
			res.Success, res.Failure = false, FailureInvalidState
			break
		}
		res.Cost += b.Trace()
	}

	res.End = b
	return res
}

// Release drops the trajectory so the segment can no longer be executed.
func (s *Segment) Release() {
	s.lss = nil
	s.law = nil
	s.filter = nil
}

// evolve applies one closed-loop step at trajectory index k.
func (s *Segment) evolve(b *belief.Belief, k int) *belief.Belief {
	current := s.linearAt(k)
	next := s.linearAt(k + 1)

	u := s.law.Control(b, current)
	s.space.ApplyControl(u)
	z := s.space.Observation()

	return s.filter.Evolve(b, u, z, current, next)
}

func (s *Segment) linearAt(k int) belief.LinearSystem {
	if len(s.lss) == 0 {
		panic("segment has been released")
	}
	if k >= len(s.lss) {
		k = len(s.lss) - 1
	}
	return s.lss[k]
}

func (s *Segment) deviation(b *belief.Belief, k int) float64 {
	x := s.linearAt(k).X()
	return math.Hypot(x.AtVec(0)-b.X(), x.AtVec(1)-b.Y())
}
