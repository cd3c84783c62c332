package sim

import (
	"errors"
	"fmt"
	"math"

	"firmcp/belief"
	"firmcp/config"
	"firmcp/roadmap"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
)

// nodeClearance keeps roadmap nodes away from obstacles so that
// stabilization noise stays collision free.
const nodeClearance = 0.3

var (
	ErrInvalidGoal  = errors.New("goal is not a valid state")
	ErrDisconnected = errors.New("roadmap does not connect the goal")
)

// Policy is the offline feedback of a roadmap: shortest paths towards the
// goal over estimated edge costs.
type Policy struct {
	goal     roadmap.VertexID
	shortest path.Shortest
}

var _ roadmap.OfflinePolicy = (*Policy)(nil)

func (p *Policy) Goal() roadmap.VertexID {
	return p.goal
}

// Baseline is the shortest-path cost to the goal, +Inf when unreachable.
func (p *Policy) Baseline(v roadmap.VertexID) float64 {
	return p.shortest.WeightTo(int64(v))
}

// Successor is the next vertex on the shortest path from v to the goal.
func (p *Policy) Successor(v roadmap.VertexID) (roadmap.VertexID, bool) {
	nodes, _ := p.shortest.To(int64(v))
	if len(nodes) < 2 {
		return roadmap.InvalidVertex, false
	}
	// paths run from the goal, so the successor is the second to last node
	return roadmap.VertexID(nodes[len(nodes)-2].ID()), true
}

// Roadmap is a grid roadmap over the world with its offline policy.
type Roadmap struct {
	Graph  *roadmap.Graph
	Policy *Policy
	Goal   roadmap.VertexID
	Edges  int
}

// NodeBelief is the belief a roadmap node stabilizes to.
func NodeBelief(p config.Pose, w config.WorldConfig) *belief.Belief {
	v := w.NodeVariance
	return belief.Diagonal([]float64{p.X, p.Y, p.Yaw}, []float64{v, v, v})
}

// StartBelief is the initial belief of the robot.
func StartBelief(w config.WorldConfig) *belief.Belief {
	v := w.InitialVariance
	return belief.Diagonal([]float64{w.Start.X, w.Start.Y, w.Start.Yaw}, []float64{v, v, v})
}

// BuildRoadmap places nodes on a grid over the free space plus the goal,
// connects grid neighbors with collision-free straight lines, attaches a
// stabilizer to every node and solves the shortest paths to the goal.
func BuildRoadmap(cfg *config.Config, world *World, factory *ControllerFactory) (*Roadmap, error) {
	w := cfg.World
	goalBelief := NodeBelief(w.Goal, w)
	if world.Clearance(w.Goal.X, w.Goal.Y) < 0 {
		return nil, fmt.Errorf("failed to build roadmap at (%.2f, %.2f): %w", w.Goal.X, w.Goal.Y, ErrInvalidGoal)
	}

	g := roadmap.NewGraph()
	goal := g.AddRoadmapVertex(goalBelief)
	for x := w.MinX + w.GridSpacing/2; x < w.MaxX; x += w.GridSpacing {
		for y := w.MinY + w.GridSpacing/2; y < w.MaxY; y += w.GridSpacing {
			if world.Clearance(x, y) < nodeClearance {
				continue
			}
			if math.Hypot(x-w.Goal.X, y-w.Goal.Y) < w.GridSpacing/2 {
				continue
			}
			g.AddRoadmapVertex(NodeBelief(config.Pose{X: x, Y: y}, w))
		}
	}

	est := roadmap.NewEstimator(cfg)
	sg := simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	vertices := g.RoadmapVertices()
	for _, v := range vertices {
		sg.AddNode(simple.Node(v))
		g.SetStabilizer(v, factory.Stabilizer(g.Belief(v)))
	}

	reach := w.GridSpacing * math.Sqrt2 * 1.01
	edges := 0
	for i, u := range vertices {
		for _, v := range vertices[i+1:] {
			bu, bv := g.Belief(u), g.Belief(v)
			if bu.PosDistance(bv) > reach || !world.CheckMotion(bu, bv) {
				continue
			}
			sg.SetWeightedEdge(sg.NewWeightedEdge(simple.Node(u), simple.Node(v), est.EdgeCost(bu, bv)))
			edges++
		}
	}

	if sg.From(int64(goal)).Len() == 0 {
		return nil, fmt.Errorf("failed to build roadmap with %d nodes and %d edges: %w", len(vertices), edges, ErrDisconnected)
	}
	policy := &Policy{goal: goal, shortest: path.DijkstraFrom(simple.Node(goal), sg)}
	log.Info().Msgf("Built roadmap with %d nodes and %d edges", len(vertices), edges)
	return &Roadmap{Graph: g, Policy: policy, Goal: goal, Edges: edges}, nil
}
