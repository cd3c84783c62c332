package searcher

import (
	"math"

	"firmcp/config"
	"firmcp/utils"

	"golang.org/x/exp/rand"
)

const visitEpsilon = 1e-10 // keeps the bound finite for unvisited actions

// lcb is the lower confidence bound used to pick actions inside the tree.
// Costs are minimized, so exploration lowers the score of rarely tried
// actions.
type lcb struct {
	c    float64
	logN float64
}

func newLCB(c float64, N int) *lcb {
	if N < 0 {
		panic("N cannot be negative")
	}
	return &lcb{c: c, logN: math.Log(float64(N) + 1)}
}

func (l lcb) evaluate(q float64, n int) float64 {
	if n < 0 {
		panic("n cannot be negative")
	}
	// LCB = Q - c*sqrt(ln(N+1)/(n+eps))
	return q - l.c*math.Sqrt(l.logN/(float64(n)+visitEpsilon))
}

// rolloutWeight favors low-cost actions with sharpness set by the exponent.
func rolloutWeight(q float64, w config.WeightPair) float64 {
	return 1 / (math.Pow(q, w.Exponent) + w.Regularizer)
}

// weightedChoice draws an index with probability proportional to weights.
// An infinite weight wins outright.
func weightedChoice(weights []float64, rng *rand.Rand) int {
	if len(weights) == 0 {
		panic("no weights to choose from")
	}

	sections := make([]float64, len(weights))
	sum := 0.0
	for i, w := range weights {
		if math.IsInf(w, 1) {
			return i
		}
		if w < 0 || math.IsNaN(w) {
			w = 0
		}
		sum += w
		sections[i] = sum
	}
	if sum == 0 {
		return rng.Intn(len(weights))
	}

	u := rng.Float64() * sum
	for i, s := range sections {
		if u < s {
			return i
		}
	}
	return len(weights) - 1
}

// argmin returns the index of the smallest value, breaking ties at random.
func argmin(values []float64, rng *rand.Rand) int {
	ties := utils.MinIndices(values)
	if len(ties) == 0 {
		panic("no values to choose from")
	}
	if len(ties) == 1 {
		return ties[0]
	}
	return ties[rng.Intn(len(ties))]
}
