package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"firmcp/config"
	"firmcp/experiments"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	configPath  string
	seed        uint64
	outDir      string
	metricsAddr string
	logLevel    string
	sweepRuns   int
)

var rootCmd = &cobra.Command{
	Use:   "firmcp",
	Short: "Online belief-space roadmap planning with Monte-Carlo tree search",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := zerolog.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("failed to parse log level: %w", err)
		}
		zerolog.SetGlobalLevel(level)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
		serveMetrics()
		return nil
	},
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute once from the start to the goal of the configured world",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		run, err := experiments.RunSingle(cmd.Context(), cfg, outDir)
		if err != nil {
			return err
		}
		m := run.Metric
		fmt.Printf("reached=%t collided=%t epochs=%d steps=%d info_cost=%.4f total_cost=%.4f nodes_reached=%d\n",
			m.ReachedGoal, m.Collided, m.Epochs, m.Steps, m.InfoCost, m.TotalCost, m.NodesReached)
		return nil
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Compare particle counts over several seeds",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		_, err = experiments.RunParticleSweep(cmd.Context(), cfg, outDir, experiments.ParticleCounts, sweepRuns)
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file overlaid on the defaults")
	rootCmd.PersistentFlags().Uint64Var(&seed, "seed", 0, "Random seed (overrides the config when set)")
	rootCmd.PersistentFlags().StringVarP(&outDir, "out", "o", "results", "Directory for run records")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	sweepCmd.Flags().IntVar(&sweepRuns, "runs", 10, "Runs per particle count")

	rootCmd.AddCommand(runCmd, sweepCmd)
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var overrides []config.Override
	if cmd.Flags().Changed("seed") {
		overrides = append(overrides, config.WithSeed(seed))
	}
	return config.Resolve(configPath, overrides...)
}

func serveMetrics() {
	if metricsAddr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		log.Info().Msgf("Serving metrics on %s/metrics", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Msgf("Metrics server stopped: %v", err)
		}
	}()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
