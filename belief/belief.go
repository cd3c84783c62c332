package belief

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Belief is a Gaussian estimate of the system state. Components 0 and 1 of the
// mean are the planar position, component 2 (if present) is the heading.
type Belief struct {
	Mean *mat.VecDense
	Cov  *mat.SymDense
}

// New builds a belief from a mean and a row-major covariance.
func New(mean []float64, cov []float64) *Belief {
	n := len(mean)
	if len(cov) != n*n {
		panic(fmt.Sprintf("covariance has %d entries, want %d", len(cov), n*n))
	}
	return &Belief{
		Mean: mat.NewVecDense(n, append([]float64(nil), mean...)),
		Cov:  mat.NewSymDense(n, append([]float64(nil), cov...)),
	}
}

// Diagonal builds a belief with a diagonal covariance.
func Diagonal(mean []float64, variances []float64) *Belief {
	n := len(mean)
	cov := make([]float64, n*n)
	for i, v := range variances {
		cov[i*n+i] = v
	}
	return New(mean, cov)
}

func (b *Belief) Dim() int {
	return b.Mean.Len()
}

func (b *Belief) Copy() *Belief {
	mean := mat.VecDenseCopyOf(b.Mean)
	cov := mat.NewSymDense(b.Cov.SymmetricDim(), nil)
	cov.CopySym(b.Cov)
	return &Belief{Mean: mean, Cov: cov}
}

// CopyFrom overwrites the receiver in place so that pointers to it stay valid.
func (b *Belief) CopyFrom(other *Belief) {
	b.Mean.CloneFromVec(other.Mean)
	b.Cov = mat.NewSymDense(other.Cov.SymmetricDim(), nil)
	b.Cov.CopySym(other.Cov)
}

func (b *Belief) X() float64 {
	return b.Mean.AtVec(0)
}

func (b *Belief) Y() float64 {
	return b.Mean.AtVec(1)
}

// Yaw returns the heading, or zero for beliefs without one.
func (b *Belief) Yaw() float64 {
	if b.Dim() < 3 {
		return 0
	}
	return b.Mean.AtVec(2)
}

// Trace is the scalar uncertainty measure used for information cost.
func (b *Belief) Trace() float64 {
	return mat.Trace(b.Cov)
}

// PosDistance is the planar distance between the two means.
func (b *Belief) PosDistance(other *Belief) float64 {
	return math.Hypot(b.X()-other.X(), b.Y()-other.Y())
}

// OriDistance is the absolute wrapped heading difference in [0, pi].
func (b *Belief) OriDistance(other *Belief) float64 {
	return math.Abs(WrapAngle(b.Yaw() - other.Yaw()))
}

// Equal reports whether both beliefs match within tol.
func (b *Belief) Equal(other *Belief, tol float64) bool {
	return mat.EqualApprox(b.Mean, other.Mean, tol) && mat.EqualApprox(b.Cov, other.Cov, tol)
}

func (b *Belief) String() string {
	return fmt.Sprintf("(%.3f, %.3f, %.3f | tr %.6f)", b.X(), b.Y(), b.Yaw(), b.Trace())
}

// WrapAngle maps an angle into (-pi, pi].
func WrapAngle(a float64) float64 {
	a = math.Mod(a+math.Pi, 2*math.Pi)
	if a <= 0 {
		a += 2 * math.Pi
	}
	return a - math.Pi
}
