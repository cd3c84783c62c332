package experiments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"firmcp/config"
	"firmcp/engine"
	"firmcp/experiments/metrics"
	"firmcp/roadmap"
	"firmcp/searcher"
	"firmcp/sim"

	"github.com/rs/zerolog/log"
	"golang.org/x/exp/rand"
)

// ParticleCounts are the configurations compared by the sweep experiment.
var ParticleCounts = []int{1, 5, 10, 20, 50}

// Run is one execution in the reference world.
type Run struct {
	Report engine.Report
	Metric metrics.RunMetric
}

// Execute builds the world, its roadmap and the planner from cfg and runs one
// execution from the configured start. Running out of epochs is not an
// error here; it shows in the metric.
func Execute(ctx context.Context, cfg *config.Config, id string) (Run, error) {
	// the world draws its noise independently of the search
	world := sim.NewWorld(cfg, rand.New(rand.NewSource(cfg.Execution.Seed+1)))
	factory := sim.NewControllerFactory(cfg, world)
	rm, err := sim.BuildRoadmap(cfg, world, factory)
	if err != nil {
		return Run{}, fmt.Errorf("failed to build roadmap: %w", err)
	}

	est := roadmap.NewEstimator(cfg)
	ctg := roadmap.NewCostToGo(cfg, rm.Graph, rm.Policy, est)
	tree := searcher.NewTree(cfg, rm.Graph, ctg, est, world, factory)
	search := searcher.NewMCTS(cfg, tree, world, searcher.WithMetrics())
	e := engine.NewEngine(cfg, world, search, ctg, rm.Goal)

	startTime := time.Now()
	report, err := e.Run(ctx, sim.StartBelief(cfg.World))
	endTime := time.Now()
	if err != nil && !errors.Is(err, engine.ErrEpochBudget) {
		return Run{Report: report}, err
	}
	if err != nil {
		log.Warn().Msgf("Run %s stopped: %v", id, err)
	}

	metric := metrics.RunMetric{
		ID:           id,
		Seed:         cfg.Execution.Seed,
		Particles:    cfg.Search.Particles,
		StartTime:    startTime,
		EndTime:      endTime,
		Duration:     endTime.Sub(startTime),
		Epochs:       report.Epochs,
		Steps:        report.Steps,
		InfoCost:     report.InfoCost,
		TotalCost:    report.TotalCost,
		NodesReached: report.NodesReached,
		ReachedGoal:  report.ReachedGoal,
		Collided:     report.Collided,
	}
	metrics.ObserveRun(metric)
	return Run{Report: report, Metric: metric}, nil
}

// RunSingle executes once and stores the config, the epoch records, the run
// record and a cost plot in a fresh directory under out.
func RunSingle(ctx context.Context, cfg *config.Config, out string) (Run, error) {
	writer, err := metrics.NewWriter(out)
	if err != nil {
		return Run{}, fmt.Errorf("failed to create run writer: %w", err)
	}
	if err := writer.WriteConfig(cfg); err != nil {
		return Run{}, err
	}

	run, err := Execute(ctx, cfg, writer.RunID())
	if err != nil {
		return run, err
	}

	if err := writer.WriteEpochRecords(run.Report.Records); err != nil {
		return run, err
	}
	if err := writer.WriteRunRecords([]metrics.RunMetric{run.Metric}); err != nil {
		return run, err
	}
	if err := writer.WriteCostPlot(run.Report.Records); err != nil {
		return run, err
	}
	log.Info().Msgf("Stored run records in %s", writer.Dir())
	return run, nil
}

// RunParticleSweep repeats the execution for every particle count with runs
// consecutive seeds each and stores all run records together.
func RunParticleSweep(ctx context.Context, base *config.Config, out string, counts []int, runs int) ([]metrics.RunMetric, error) {
	writer, err := metrics.NewWriter(out)
	if err != nil {
		return nil, fmt.Errorf("failed to create experiment writer: %w", err)
	}
	if err := writer.WriteConfig(base); err != nil {
		return nil, err
	}

	log.Info().Msgf("Starting particle sweep over %v with %d runs each...", counts, runs)

	records := []metrics.RunMetric{}
	for ci, particles := range counts {
		for i := 0; i < runs; i++ {
			cfg := *base
			cfg.Search.Particles = particles
			cfg.Execution.Seed = base.Execution.Seed + uint64(i)

			log.Info().Msgf("Starting config %d of %d (particles=%d) run %d of %d...", ci+1, len(counts), particles, i+1, runs)

			run, err := Execute(ctx, &cfg, fmt.Sprintf("%s-%d-%d", writer.RunID()[:8], particles, i))
			if err != nil {
				return records, fmt.Errorf("failed run %d with %d particles: %w", i, particles, err)
			}
			records = append(records, run.Metric)

			log.Info().Msgf("Completed run %d: reached=%t collided=%t cost=%.3f", i+1, run.Metric.ReachedGoal, run.Metric.Collided, run.Metric.TotalCost)
		}
	}

	if err := writer.WriteRunRecords(records); err != nil {
		return records, err
	}
	log.Info().Msgf("Stored %d run records in %s", len(records), writer.Dir())
	return records, nil
}
