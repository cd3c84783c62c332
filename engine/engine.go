package engine

import (
	"context"
	"errors"
	"fmt"

	"firmcp/belief"
	"firmcp/config"
	"firmcp/controller"
	"firmcp/experiments/metrics"
	"firmcp/roadmap"
	"firmcp/searcher"
	"firmcp/space"

	"github.com/rs/zerolog/log"
)

var ErrEpochBudget = errors.New("epoch budget exhausted")

// Report summarizes one execution towards the goal.
type Report struct {
	ReachedGoal  bool
	Collided     bool
	Epochs       int
	Steps        int
	InfoCost     float64 // sum of covariance traces without the cost bias
	TotalCost    float64
	NodesReached int
	Final        *belief.Belief
	Records      []metrics.EpochMetric
}

// active is the controller currently being executed. It stays active across
// epochs while the search keeps choosing the same target, and its open-loop
// index then resumes where the previous epoch stopped.
type active struct {
	owner  roadmap.VertexID
	target roadmap.VertexID
	edge   roadmap.EdgeID
	ctrl   controller.Executor
	k      int
}

// Engine alternates online search and real execution until the goal is
// reached.
type Engine struct {
	cfg      *config.Config
	space    space.Space
	search   *searcher.MCTS
	costToGo *roadmap.CostToGo
	goal     roadmap.VertexID
}

func NewEngine(cfg *config.Config, sp space.Space, search *searcher.MCTS, ctg *roadmap.CostToGo, goal roadmap.VertexID) *Engine {
	return &Engine{
		cfg:      cfg,
		space:    sp,
		search:   search,
		costToGo: ctg,
		goal:     goal,
	}
}

// Run executes from start until the belief reaches the goal, the robot
// collides or the epoch budget is exhausted. A collision is reported, not
// returned as an error.
func (e *Engine) Run(ctx context.Context, start *belief.Belief) (Report, error) {
	tree := e.search.Tree()
	graph := tree.Graph()
	goalBelief := graph.Belief(e.goal)

	root := tree.AddVertex(start)
	tree.SetStart(root)
	current := start.Copy()
	cur := active{owner: roadmap.InvalidVertex, target: roadmap.InvalidVertex, edge: roadmap.InvalidEdge}
	lastReached := roadmap.InvalidVertex

	report := Report{}
	log.Info().Msgf("Executing from %v towards goal %d %v", start, e.goal, goalBelief)

	for !e.space.IsReached(goalBelief, current, true) {
		if err := ctx.Err(); err != nil {
			report.Final = current
			return report, fmt.Errorf("failed to reach the goal: %w", err)
		}
		if e.cfg.Execution.MaxEpochs > 0 && report.Epochs >= e.cfg.Execution.MaxEpochs {
			report.Final = current
			return report, fmt.Errorf("failed to reach the goal after %d epochs: %w", report.Epochs, ErrEpochBudget)
		}

		// commit the executed outcome as the new root
		if cur.target != roadmap.InvalidVertex {
			next := tree.RecordOutcome(root, cur.target, current)
			tree.Advance(root, next)
			if root != cur.owner {
				tree.PruneNode(root)
			}
			root = next
		}

		edgeID, err := e.search.GeneratePolicy(root, e.goal)
		fallback := false
		if errors.Is(err, searcher.ErrNoAction) {
			fallback = true
			edgeID, err = e.fallback(root, cur, err)
		}
		if err != nil {
			report.Final = current
			return report, err
		}

		edge, _ := graph.Edge(edgeID)
		if edge.To != cur.target || cur.ctrl == nil {
			if cur.owner != roadmap.InvalidVertex && cur.owner != root {
				tree.PruneNode(cur.owner)
			}
			cur = active{owner: root, target: edge.To, edge: edgeID, ctrl: edge.Controller}
		}

		res, info, collided := e.execute(&cur, current, graph)
		current = res.End
		if !res.Success {
			// the next epoch starts a fresh controller from the new root
			cur.ctrl = nil
		}

		report.Epochs++
		report.Steps += res.Steps
		report.InfoCost += info
		report.TotalCost = e.cfg.Cost.InformationWeight*report.InfoCost + e.cfg.Cost.TimeWeight*float64(report.Steps)

		reached := e.space.IsReached(graph.Belief(cur.target), current, false)
		if reached && cur.target != lastReached {
			report.NodesReached++
			lastReached = cur.target
			log.Info().Msgf("Reached roadmap vertex %d", cur.target)
		}

		record := metrics.EpochMetric{
			Epoch:        report.Epochs,
			TimeStep:     report.Steps,
			Vertex:       int64(root),
			Target:       int64(cur.target),
			Edge:         int64(cur.edge),
			Steps:        res.Steps,
			InfoCost:     info,
			TimeCost:     e.cfg.Cost.TimeWeight * float64(res.Steps),
			TotalCost:    report.TotalCost,
			NodesReached: report.NodesReached,
			ReachedNode:  reached,
			Fallback:     fallback,
			SearchMetric: e.search.LastMetric(),
		}
		report.Records = append(report.Records, record)
		metrics.ObserveEpoch(record)

		log.Info().Msgf("Epoch %d: vertex %d -> %d, %d steps, cost %.3f, belief %v", report.Epochs, root, cur.target, res.Steps, report.TotalCost, current)

		if collided {
			log.Warn().Msgf("Robot collided at epoch %d", report.Epochs)
			report.Collided = true
			report.Final = current
			return report, nil
		}
	}

	report.ReachedGoal = true
	report.Final = current
	log.Info().Msgf("Reached goal after %d epochs and %d steps, cost %.3f", report.Epochs, report.Steps, report.TotalCost)
	return report, nil
}

// fallback picks an edge when the search found no action: the greedy
// lookahead over the root's edges, else the controller already running.
func (e *Engine) fallback(root roadmap.VertexID, cur active, cause error) (roadmap.EdgeID, error) {
	if id, ok := e.costToGo.GreedyEdge(root); ok {
		log.Warn().Msgf("No search action at vertex %d, falling back to greedy edge %d", root, id)
		return id, nil
	}
	if cur.ctrl != nil {
		log.Warn().Msgf("No search action at vertex %d, continuing towards %d", root, cur.target)
		return cur.edge, nil
	}
	return roadmap.InvalidEdge, fmt.Errorf("failed to find an action at vertex %d: %w", root, cause)
}

// execute runs the active controller for the rollout-step budget, one real
// step at a time. Once the controller has terminated, the stabilizer of its
// target takes over. It stops early on failure or collision.
func (e *Engine) execute(cur *active, start *belief.Belief, graph *roadmap.Graph) (controller.Result, float64, bool) {
	stab, hasStab := graph.Stabilizer(cur.target)
	bias := e.cfg.Controller.CostBias

	total := controller.Result{Success: true, End: start}
	info := 0.0
	for i := 0; i < e.cfg.Search.RolloutSteps; i++ {
		var res controller.Result
		switch {
		case !cur.ctrl.IsTerminated(total.End):
			res = cur.ctrl.ExecuteFromUpto(cur.k, 1, total.End, false)
			cur.k = res.StopIndex
		case hasStab:
			res = stab.StabilizeUpto(1, total.End, false)
		default:
			res = cur.ctrl.StabilizeUpto(1, total.End, false)
		}

		total.End = res.End
		total.Steps += res.Steps
		info += res.Cost - bias

		if !e.space.TrueStateValid() {
			return total, info, true
		}
		if !res.Success {
			log.Warn().Msgf("Controller towards %d failed (%v), replanning", cur.target, res.Failure)
			total.Success, total.Failure = false, res.Failure
			break
		}
		if res.Steps == 0 {
			break
		}
	}
	return total, info, false
}
