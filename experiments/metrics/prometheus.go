package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	epochsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "firmcp_epochs_total",
		Help: "Total plan-then-execute epochs",
	})

	fallbackTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "firmcp_fallback_total",
		Help: "Epochs that fell back to the greedy roadmap policy",
	})

	searchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "firmcp_search_duration_seconds",
		Help:    "Policy search latency in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
	})

	searchCollisions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "firmcp_search_collisions_total",
		Help: "Simulated collisions during policy search",
	})

	nodesReachedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "firmcp_nodes_reached_total",
		Help: "Roadmap nodes reached during execution",
	})

	executionCost = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "firmcp_execution_cost_total",
		Help: "Accumulated execution cost by component",
	}, []string{"component"})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "firmcp_runs_total",
		Help: "Completed runs by outcome",
	}, []string{"outcome"})
)

// ObserveEpoch exports one epoch.
func ObserveEpoch(m EpochMetric) {
	epochsTotal.Inc()
	if m.Fallback {
		fallbackTotal.Inc()
	}
	searchDuration.Observe(m.Duration.Seconds())
	searchCollisions.Add(float64(m.Collisions))
	if m.ReachedNode {
		nodesReachedTotal.Inc()
	}
	executionCost.WithLabelValues("information").Add(m.InfoCost)
	executionCost.WithLabelValues("time").Add(m.TimeCost)
}

// ObserveRun exports the outcome of a run.
func ObserveRun(m RunMetric) {
	switch {
	case m.Collided:
		runsTotal.WithLabelValues("collided").Inc()
	case m.ReachedGoal:
		runsTotal.WithLabelValues("reached").Inc()
	default:
		runsTotal.WithLabelValues("aborted").Inc()
	}
}
