package metrics

import (
	"sync/atomic"
	"time"
)

// SearchMetric summarizes one policy search.
type SearchMetric struct {
	Particles    int
	Horizon      int
	Duration     time.Duration
	Episodes     int
	Rollouts     int // first visits that seeded an action value
	Collisions   int
	Penalties    int // leaves valued at the obstacle cost
	IsTreeReused bool
}

// EpochMetric records one plan-then-execute epoch of the execution loop.
type EpochMetric struct {
	Epoch        int
	TimeStep     int // cumulative executed steps at the end of the epoch
	Vertex       int64
	Target       int64
	Edge         int64
	Steps        int
	InfoCost     float64
	TimeCost     float64
	TotalCost    float64 // cumulative
	NodesReached int     // cumulative
	ReachedNode  bool
	Fallback     bool
	SearchMetric
}

// RunMetric summarizes a whole execution.
type RunMetric struct {
	ID           string
	Seed         uint64
	Particles    int
	StartTime    time.Time
	EndTime      time.Time
	Duration     time.Duration
	Epochs       int
	Steps        int
	InfoCost     float64
	TotalCost    float64
	NodesReached int
	ReachedGoal  bool
	Collided     bool
}

type Collector interface {
	Start(particles, horizon int)
	SetTreeReused(value bool)
	AddEpisode()
	AddRollout()
	AddCollision()
	AddPenalty()
	Complete() SearchMetric
}

type collector struct {
	particles    int
	horizon      int
	startTime    time.Time
	episodes     atomic.Int32
	rollouts     atomic.Int32
	collisions   atomic.Int32
	penalties    atomic.Int32
	isTreeReused atomic.Bool
}

func NewCollector() Collector {
	return &collector{}
}

func (m *collector) SetTreeReused(value bool) {
	m.isTreeReused.Store(value)
}

// Start resets the counters for a new search.
func (m *collector) Start(particles, horizon int) {
	m.startTime = time.Now()
	m.particles = particles
	m.horizon = horizon
	m.episodes.Store(0)
	m.rollouts.Store(0)
	m.collisions.Store(0)
	m.penalties.Store(0)
}

func (m *collector) AddEpisode() {
	m.episodes.Add(1)
}

func (m *collector) AddRollout() {
	m.rollouts.Add(1)
}

func (m *collector) AddCollision() {
	m.collisions.Add(1)
}

func (m *collector) AddPenalty() {
	m.penalties.Add(1)
}

func (m *collector) Complete() SearchMetric {
	return SearchMetric{
		Particles:    m.particles,
		Horizon:      m.horizon,
		Duration:     time.Since(m.startTime),
		Episodes:     int(m.episodes.Load()),
		Rollouts:     int(m.rollouts.Load()),
		Collisions:   int(m.collisions.Load()),
		Penalties:    int(m.penalties.Load()),
		IsTreeReused: m.isTreeReused.Load(),
	}
}

type dummyCollector struct{}

func NewDummyCollector() Collector {
	return &dummyCollector{}
}

func (m *dummyCollector) Start(particles, horizon int) {}
func (m *dummyCollector) SetTreeReused(value bool)     {}
func (m *dummyCollector) AddEpisode()                  {}
func (m *dummyCollector) AddRollout()                  {}
func (m *dummyCollector) AddCollision()                {}
func (m *dummyCollector) AddPenalty()                  {}
func (m *dummyCollector) Complete() SearchMetric       { return SearchMetric{} }
