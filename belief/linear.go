package belief

import "gonum.org/v1/gonum/mat"

// LinearSystem is the linearization of the motion and observation models at
// one index of a reference trajectory. It is immutable after construction.
type LinearSystem struct {
	x *mat.VecDense
	u *mat.VecDense
	a mat.Matrix // state Jacobian
	b mat.Matrix // control Jacobian
	h mat.Matrix // observation Jacobian
}

func NewLinearSystem(x, u *mat.VecDense, a, b, h mat.Matrix) LinearSystem {
	return LinearSystem{
		x: mat.VecDenseCopyOf(x),
		u: mat.VecDenseCopyOf(u),
		a: mat.DenseCopyOf(a),
		b: mat.DenseCopyOf(b),
		h: mat.DenseCopyOf(h),
	}
}

// X is the nominal state.
func (l LinearSystem) X() mat.Vector { return l.x }

// U is the nominal control.
func (l LinearSystem) U() mat.Vector { return l.u }

func (l LinearSystem) A() mat.Matrix { return l.a }
func (l LinearSystem) B() mat.Matrix { return l.b }
func (l LinearSystem) H() mat.Matrix { return l.h }
