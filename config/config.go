package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the planner. It is fixed before planning
// starts and handed by pointer to each component at construction.
type Config struct {
	Controller ControllerConfig `yaml:"controller"`
	Search     SearchConfig     `yaml:"search"`
	Cost       CostConfig       `yaml:"cost"`
	Execution  ExecutionConfig  `yaml:"execution"`
	World      WorldConfig      `yaml:"world"`
}

// ControllerConfig configures segment execution.
type ControllerConfig struct {
	NodeReachedDistance    float64 `yaml:"node_reached_distance"`    // termination radius and reach tolerance
	NodeReachedAngle       float64 `yaml:"node_reached_angle"`       // reach heading tolerance (rad)
	RelaxedFactor          float64 `yaml:"relaxed_factor"`           // tolerance multiplier for relaxed reach checks
	MaxTries               int     `yaml:"max_tries"`                // stabilization step bound
	MaxTrajectoryDeviation float64 `yaml:"max_trajectory_deviation"` // planar deviation before replanning
	CostBias               float64 `yaml:"cost_bias"`                // fixed offset of every execution cost
	ExecTimeScale          float64 `yaml:"exec_time_scale"`          // step cap as a multiple of trajectory length
}

// WeightPair selects rollout actions with weight 1/(Q^Exponent + Regularizer).
type WeightPair struct {
	Exponent    float64 `yaml:"exponent"`
	Regularizer float64 `yaml:"regularizer"`
}

// SearchConfig configures the online tree search.
type SearchConfig struct {
	Particles        int        `yaml:"particles"`
	Horizon          int        `yaml:"horizon"`
	AbsoluteHorizon  int        `yaml:"absolute_horizon"`
	Exploration      float64    `yaml:"exploration"`
	RolloutSteps     int        `yaml:"rollout_steps"`
	StabStepsScale   int        `yaml:"stab_steps_scale"`
	WithinReach      WeightPair `yaml:"within_reach"`
	OutOfReach       WeightPair `yaml:"out_of_reach"`
	NEpsForIsReached float64    `yaml:"n_eps_for_is_reached"`
	ExpansionRadius  float64    `yaml:"expansion_radius"`
	SampleSigma      float64    `yaml:"sample_sigma"`
	ObstacleCost     float64    `yaml:"obstacle_cost"`
	InfiniteCost     float64    `yaml:"infinite_cost"`
}

// CostConfig configures the analytic cost estimates.
type CostConfig struct {
	PosStepSize        float64 `yaml:"pos_step_size"`
	OriStepSize        float64 `yaml:"ori_step_size"`
	CovConvergenceRate float64 `yaml:"cov_convergence_rate"`
	StabInflation      float64 `yaml:"stab_inflation"`
	InformationWeight  float64 `yaml:"information_weight"`
	TimeWeight         float64 `yaml:"time_weight"`
}

// ExecutionConfig configures the real execution loop.
type ExecutionConfig struct {
	MaxEpochs int    `yaml:"max_epochs"` // 0 means unbounded
	Seed      uint64 `yaml:"seed"`
}

// Default returns a configuration that runs the reference world.
func Default() *Config {
	return &Config{
		Controller: ControllerConfig{
			NodeReachedDistance:    0.25,
			NodeReachedAngle:       0.5,
			RelaxedFactor:          2.0,
			MaxTries:               40,
			MaxTrajectoryDeviation: 2.0,
			CostBias:               0.001,
			ExecTimeScale:          3.0,
		},
		Search: SearchConfig{
			Particles:        10,
			Horizon:          3,
			AbsoluteHorizon:  12,
			Exploration:      1.0,
			RolloutSteps:     5,
			StabStepsScale:   2,
			WithinReach:      WeightPair{Exponent: 1.0, Regularizer: 1.0},
			OutOfReach:       WeightPair{Exponent: 4.0, Regularizer: 1e-6},
			NEpsForIsReached: 3.0,
			ExpansionRadius:  3.0,
			SampleSigma:      3.0,
			ObstacleCost:     1e4,
			InfiniteCost:     1e6,
		},
		Cost: CostConfig{
			PosStepSize:        0.1,
			OriStepSize:        0.1,
			CovConvergenceRate: 0.9,
			StabInflation:      1.0,
			InformationWeight:  1.0,
			TimeWeight:         0.1,
		},
		Execution: ExecutionConfig{
			MaxEpochs: 500,
			Seed:      1,
		},
		World: DefaultWorld(),
	}
}

// Load reads a YAML file over the defaults. The result is not validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Override changes a loaded configuration, e.g. from a command-line flag.
type Override func(c *Config)

// WithSeed sets the execution seed.
func WithSeed(seed uint64) Override {
	return func(c *Config) {
		c.Execution.Seed = seed
	}
}

// Resolve loads path over the defaults, or takes the defaults alone when path
// is empty, applies the overrides in order and validates the result.
func Resolve(path string, overrides ...Override) (*Config, error) {
	cfg := Default()
	if path != "" {
		loaded, err := Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	for _, o := range overrides {
		o(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

var (
	ErrNonPositive = errors.New("must be positive")
	ErrOutOfRange  = errors.New("out of range")
)

// Validate checks the values the planner divides by or loops on.
func (c *Config) Validate() error {
	positives := []struct {
		name  string
		value float64
	}{
		{"controller.node_reached_distance", c.Controller.NodeReachedDistance},
		{"controller.node_reached_angle", c.Controller.NodeReachedAngle},
		{"controller.max_trajectory_deviation", c.Controller.MaxTrajectoryDeviation},
		{"controller.exec_time_scale", c.Controller.ExecTimeScale},
		{"search.expansion_radius", c.Search.ExpansionRadius},
		{"search.sample_sigma", c.Search.SampleSigma},
		{"search.obstacle_cost", c.Search.ObstacleCost},
		{"search.n_eps_for_is_reached", c.Search.NEpsForIsReached},
		{"cost.pos_step_size", c.Cost.PosStepSize},
		{"cost.ori_step_size", c.Cost.OriStepSize},
		{"cost.cov_convergence_rate", c.Cost.CovConvergenceRate},
	}
	for _, p := range positives {
		if p.value <= 0 {
			return fmt.Errorf("%s=%v: %w", p.name, p.value, ErrNonPositive)
		}
	}

	counts := []struct {
		name  string
		value int
	}{
		{"controller.max_tries", c.Controller.MaxTries},
		{"search.particles", c.Search.Particles},
		{"search.rollout_steps", c.Search.RolloutSteps},
		{"search.stab_steps_scale", c.Search.StabStepsScale},
	}
	for _, p := range counts {
		if p.value <= 0 {
			return fmt.Errorf("%s=%d: %w", p.name, p.value, ErrNonPositive)
		}
	}

	if c.Cost.CovConvergenceRate >= 1 {
		return fmt.Errorf("cost.cov_convergence_rate=%v must be below 1: %w", c.Cost.CovConvergenceRate, ErrOutOfRange)
	}
	if c.Controller.RelaxedFactor < 1 {
		return fmt.Errorf("controller.relaxed_factor=%v must be at least 1: %w", c.Controller.RelaxedFactor, ErrOutOfRange)
	}
	if c.Search.Horizon < 0 || c.Search.AbsoluteHorizon < c.Search.Horizon {
		return fmt.Errorf("search.horizon=%d absolute_horizon=%d: %w", c.Search.Horizon, c.Search.AbsoluteHorizon, ErrOutOfRange)
	}
	if c.Search.InfiniteCost <= c.Search.ObstacleCost {
		return fmt.Errorf("search.infinite_cost=%v must exceed obstacle_cost=%v: %w", c.Search.InfiniteCost, c.Search.ObstacleCost, ErrOutOfRange)
	}
	if c.Execution.MaxEpochs < 0 {
		return fmt.Errorf("execution.max_epochs=%d: %w", c.Execution.MaxEpochs, ErrOutOfRange)
	}
	return c.World.validate()
}
