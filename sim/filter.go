package sim

import (
	"firmcp/belief"
	"firmcp/config"
	"firmcp/space"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"
)

// KalmanFilter is the linear Kalman filter of the world's motion and
// observation models.
type KalmanFilter struct {
	q *mat.SymDense // process noise covariance
	r *mat.SymDense // observation noise covariance
}

var _ space.Filter = (*KalmanFilter)(nil)

func NewKalmanFilter(w config.WorldConfig) *KalmanFilter {
	return &KalmanFilter{
		q: isotropic(stateDim, w.ProcessNoise*w.ProcessNoise),
		r: isotropic(stateDim, w.ObservationNoise*w.ObservationNoise),
	}
}

// Evolve predicts b through u with the model of current and corrects the
// prediction with z through the observation model of next.
func (f *KalmanFilter) Evolve(b *belief.Belief, u mat.Vector, z mat.Vector, current, next belief.LinearSystem) *belief.Belief {
	a := current.A()

	var mean, bu mat.VecDense
	mean.MulVec(a, b.Mean)
	bu.MulVec(current.B(), u)
	mean.AddVec(&mean, &bu)

	var ap, prior mat.Dense
	ap.Mul(a, b.Cov)
	prior.Mul(&ap, a.T())
	prior.Add(&prior, f.q)

	h := next.H()
	var hp, s, sInv mat.Dense
	hp.Mul(h, &prior)
	s.Mul(&hp, h.T())
	s.Add(&s, f.r)
	if err := sInv.Inverse(&s); err != nil {
		log.Warn().Msgf("Skipping the measurement update: %v", err)
		return &belief.Belief{Mean: wrapMean(&mean), Cov: symmetric(&prior)}
	}

	var pht, gain mat.Dense
	pht.Mul(&prior, h.T())
	gain.Mul(&pht, &sInv)

	var predicted, innovation, correction mat.VecDense
	predicted.MulVec(h, &mean)
	innovation.SubVec(z, &predicted)
	if innovation.Len() > 2 {
		innovation.SetVec(2, belief.WrapAngle(innovation.AtVec(2)))
	}
	correction.MulVec(&gain, &innovation)
	mean.AddVec(&mean, &correction)

	// P = (I - KH) P⁻
	var kh, post mat.Dense
	kh.Mul(&gain, h)
	n, _ := kh.Dims()
	kh.Sub(identity(n), &kh)
	post.Mul(&kh, &prior)

	return &belief.Belief{Mean: wrapMean(&mean), Cov: symmetric(&post)}
}

func wrapMean(m *mat.VecDense) *mat.VecDense {
	if m.Len() > 2 {
		m.SetVec(2, belief.WrapAngle(m.AtVec(2)))
	}
	return m
}

func symmetric(m mat.Matrix) *mat.SymDense {
	n, _ := m.Dims()
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.SetSym(i, j, (m.At(i, j)+m.At(j, i))/2)
		}
	}
	return s
}

func isotropic(n int, variance float64) *mat.SymDense {
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		s.SetSym(i, i, variance)
	}
	return s
}

func identity(n int) *mat.DiagDense {
	ones := make([]float64, n)
	for i := range ones {
		ones[i] = 1
	}
	return mat.NewDiagDense(n, ones)
}
