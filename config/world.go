package config

import "fmt"

// Circle is a disc obstacle.
type Circle struct {
	X      float64 `yaml:"x"`
	Y      float64 `yaml:"y"`
	Radius float64 `yaml:"radius"`
}

// Pose is a planar position with heading.
type Pose struct {
	X   float64 `yaml:"x"`
	Y   float64 `yaml:"y"`
	Yaw float64 `yaml:"yaw"`
}

// WorldConfig describes the reference simulation world.
type WorldConfig struct {
	MinX float64 `yaml:"min_x"`
	MaxX float64 `yaml:"max_x"`
	MinY float64 `yaml:"min_y"`
	MaxY float64 `yaml:"max_y"`

	Obstacles   []Circle `yaml:"obstacles"`
	GridSpacing float64  `yaml:"grid_spacing"`

	Start Pose `yaml:"start"`
	Goal  Pose `yaml:"goal"`

	InitialVariance  float64 `yaml:"initial_variance"`
	NodeVariance     float64 `yaml:"node_variance"`     // covariance trace target of roadmap nodes, per axis
	ProcessNoise     float64 `yaml:"process_noise"`     // per step standard deviation
	ObservationNoise float64 `yaml:"observation_noise"` // standard deviation of position fixes
	TimeStep         float64 `yaml:"time_step"`
	MaxSpeed         float64 `yaml:"max_speed"`
	MaxTurnRate      float64 `yaml:"max_turn_rate"`
	FeedbackGain     float64 `yaml:"feedback_gain"`
}

func DefaultWorld() WorldConfig {
	return WorldConfig{
		MinX: 0, MaxX: 10,
		MinY: 0, MaxY: 10,
		Obstacles: []Circle{
			{X: 5, Y: 5, Radius: 1.2},
			{X: 3, Y: 7.5, Radius: 0.8},
			{X: 7.5, Y: 2.5, Radius: 0.8},
		},
		GridSpacing:      2.0,
		Start:            Pose{X: 1, Y: 1},
		Goal:             Pose{X: 9, Y: 9},
		InitialVariance:  0.01,
		NodeVariance:     0.005,
		ProcessNoise:     0.01,
		ObservationNoise: 0.05,
		TimeStep:         0.1,
		MaxSpeed:         1.0,
		MaxTurnRate:      1.0,
		FeedbackGain:     1.0,
	}
}

func (w WorldConfig) validate() error {
	if w.MaxX <= w.MinX || w.MaxY <= w.MinY {
		return fmt.Errorf("world bounds [%v,%v]x[%v,%v]: %w", w.MinX, w.MaxX, w.MinY, w.MaxY, ErrOutOfRange)
	}
	positives := map[string]float64{
		"world.grid_spacing":      w.GridSpacing,
		"world.initial_variance":  w.InitialVariance,
		"world.node_variance":     w.NodeVariance,
		"world.observation_noise": w.ObservationNoise,
		"world.time_step":         w.TimeStep,
		"world.max_speed":         w.MaxSpeed,
		"world.max_turn_rate":     w.MaxTurnRate,
		"world.feedback_gain":     w.FeedbackGain,
	}
	for name, v := range positives {
		if v <= 0 {
			return fmt.Errorf("%s=%v: %w", name, v, ErrNonPositive)
		}
	}
	if w.ProcessNoise < 0 {
		return fmt.Errorf("world.process_noise=%v: %w", w.ProcessNoise, ErrOutOfRange)
	}
	for i, o := range w.Obstacles {
		if o.Radius <= 0 {
			return fmt.Errorf("world.obstacles[%d].radius=%v: %w", i, o.Radius, ErrNonPositive)
		}
	}
	return nil
}
