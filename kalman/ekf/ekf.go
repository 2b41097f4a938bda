package ekf

import (
	"errors"
	"fmt"

	slam "github.com/milosgajdos/go-slam"
	"github.com/milosgajdos/go-slam/config"
	"github.com/milosgajdos/go-slam/gaussian"
	"github.com/milosgajdos/go-slam/kalman"
	"github.com/milosgajdos/go-slam/matrix"
	"github.com/milosgajdos/go-slam/noise"
	"github.com/milosgajdos/go-slam/store"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Config configures EKF update
type Config struct {
	// Gate is the largest accepted normalized innovation squared; gating is disabled if Gate <= 0
	Gate float64
	// MaxCond is the largest accepted condition number of innovation covariance;
	// conditioning is not checked if MaxCond <= 0
	MaxCond float64
	// Iterations is the number of update relinearizations; 1 is the plain EKF update
	Iterations int
}

// Gate returns chi-squared gate accepting innovations of size dof with probability p.
// It returns error if p is not in (0, 1) or dof is not positive.
func Gate(p float64, dof int) (float64, error) {
	if p <= 0 || p >= 1 {
		return 0, fmt.Errorf("invalid gate probability: %g", p)
	}

	if dof <= 0 {
		return 0, fmt.Errorf("invalid degrees of freedom: %d", dof)
	}

	return distuv.ChiSquared{K: float64(dof)}.Quantile(p), nil
}

// EKF is Extended Kalman Filter correcting a sparse set of shared state elements
type EKF struct {
	// r is output noise a.k.a. measurement noise
	r slam.Noise
	// c is update configuration
	c Config
	// inn is innovation vector
	inn *mat.VecDense
	// s is innovation covariance
	s *mat.SymDense
	// k is Kalman gain
	k *mat.Dense
	// nis is normalized innovation squared
	nis float64
}

// New creates new EKF and returns it.
// It accepts the following parameters:
// - r: output a.k.a. measurement noise; nil or noise.None means no measurement noise
// - c: update configuration
// It returns error if the number of iterations is not positive or the noise covariance is invalid.
func New(r slam.Noise, c Config) (*EKF, error) {
	if c.Iterations <= 0 {
		return nil, fmt.Errorf("invalid number of update iterations: %d", c.Iterations)
	}

	if r == nil {
		r, _ = noise.NewNone()
	}

	if R := noise.Covariance(r); R != nil {
		if err := matrix.CheckSymPSD(R, matrix.DefaultTol); err != nil {
			return nil, fmt.Errorf("invalid output noise: %v", err)
		}
	}

	return &EKF{
		r:   r,
		c:   c,
		inn: &mat.VecDense{},
		s:   &mat.SymDense{},
		k:   &mat.Dense{},
	}, nil
}

// Update corrects state stored in m using the measurement z predicted by obs.
// The covariance is corrected in Joseph form expanded over the observed indices:
//
//	P' = P - K*H*P - P*H'*K' + K*S*K'
//
// It returns error and leaves m unchanged if either of the following conditions is met:
// - the prediction does not match z, the noise or the state dimensions: slam.ErrDimensionMismatch
// - innovation covariance is not positive definite or is ill-conditioned: slam.ErrSingularInnovation
// - normalized innovation squared exceeds the gate: slam.ErrOutlier
// - the corrected covariance is not symmetric positive semi-definite: slam.ErrStateCorruption
func (k *EKF) Update(m *store.Map, z mat.Vector, obs kalman.Observer) error {
	x0, P, ver := m.Snapshot()

	lin, err := obs(gaussian.Dense{Mean: x0, Cov: P})
	if err != nil {
		return fmt.Errorf("failed to observe system output: %w", err)
	}

	if err := k.checkDims(lin, z, x0.Len()); err != nil {
		return err
	}

	// innovation vector
	inn := &mat.VecDense{}
	inn.SubVec(z, lin.Y)

	PHt, S, ch, err := k.innovationCov(P, lin)
	if err != nil {
		return err
	}

	nis, err := k.gate(ch, inn)
	if err != nil {
		return err
	}

	x := mat.VecDenseCopyOf(x0)
	gain, err := k.gain(ch, PHt)
	if err != nil {
		return err
	}
	corr := &mat.VecDense{}
	corr.MulVec(gain, inn)
	x.AddVec(x0, corr)

	// relinearize around the corrected state
	for i := 1; i < k.c.Iterations; i++ {
		lin, err = obs(gaussian.Dense{Mean: x, Cov: P})
		if err != nil {
			return fmt.Errorf("failed to relinearize system output: %w", err)
		}

		if err := k.checkDims(lin, z, x0.Len()); err != nil {
			return err
		}

		PHt, S, ch, err = k.innovationCov(P, lin)
		if err != nil {
			return err
		}

		gain, err = k.gain(ch, PHt)
		if err != nil {
			return err
		}

		// z - h(x) - H*(x0 - x)
		dx := &mat.VecDense{}
		dx.SubVec(matrix.GatherVec(x0, lin.Idx), matrix.GatherVec(x, lin.Idx))
		hdx := &mat.VecDense{}
		hdx.MulVec(lin.H, dx)

		inn.SubVec(z, lin.Y)
		inn.SubVec(inn, hdx)

		corr.MulVec(gain, inn)
		x.AddVec(x0, corr)
	}

	// K*H*P
	khp := &mat.Dense{}
	khp.Mul(gain, PHt.T())

	// K*S*K'
	ks := &mat.Dense{}
	ks.Mul(gain, S)
	ksk := &mat.Dense{}
	ksk.Mul(ks, gain.T())

	pCorr := mat.DenseCopyOf(P)
	pCorr.Sub(pCorr, khp)
	pCorr.Sub(pCorr, khp.T())
	pCorr.Add(pCorr, ksk)

	if err := m.Commit(ver, x, pCorr); err != nil {
		return err
	}

	k.inn = inn
	k.s = S
	k.k = gain
	k.nis = nis

	return nil
}

func (k *EKF) checkDims(lin kalman.Linearization, z mat.Vector, n int) error {
	ny := lin.Y.Len()
	if z.Len() != ny {
		return fmt.Errorf("measurement %d, prediction %d: %w", z.Len(), ny, slam.ErrDimensionMismatch)
	}

	if hr, hc := lin.H.Dims(); hr != ny || hc != len(lin.Idx) {
		return fmt.Errorf("invalid Jacobian dims [%d x %d]: %w", hr, hc, slam.ErrDimensionMismatch)
	}

	for _, i := range lin.Idx {
		if i < 0 || i >= n {
			return fmt.Errorf("state index %d out of range %d: %w", i, n, slam.ErrDimensionMismatch)
		}
	}

	if err := noise.CheckDim(k.r, ny); err != nil {
		return fmt.Errorf("invalid output noise: %w", err)
	}

	return nil
}

// innovationCov returns P*H', innovation covariance S = H*P*H' + R and its factorization
func (k *EKF) innovationCov(P mat.Symmetric, lin kalman.Linearization) (*mat.Dense, *mat.SymDense, *mat.Cholesky, error) {
	// P*H' touches only the observed columns of P
	PHt := &mat.Dense{}
	PHt.Mul(matrix.GatherCols(P, lin.Idx), lin.H.T())

	// Note: rows of P*H' at Idx are P_ii*H' so we reuse them here
	phti := mat.NewDense(len(lin.Idx), lin.Y.Len(), nil)
	for i, ii := range lin.Idx {
		phti.SetRow(i, PHt.RawRowView(ii))
	}

	hph := &mat.Dense{}
	hph.Mul(lin.H, phti)
	if R := noise.Covariance(k.r); R != nil {
		hph.Add(hph, R)
	}

	S := matrix.Symmetrize(hph)

	var ch mat.Cholesky
	if ok := ch.Factorize(S); !ok {
		return nil, nil, nil, fmt.Errorf("innovation covariance not positive definite: %w", slam.ErrSingularInnovation)
	}

	if k.c.MaxCond > 0 {
		if cond := ch.Cond(); cond > k.c.MaxCond {
			return nil, nil, nil, fmt.Errorf("innovation covariance condition %g: %w", cond, slam.ErrSingularInnovation)
		}
	}

	return PHt, S, &ch, nil
}

// gate returns normalized innovation squared inn'*S^-1*inn and checks it against the gate
func (k *EKF) gate(ch *mat.Cholesky, inn *mat.VecDense) (float64, error) {
	sinn := &mat.VecDense{}
	if err := ch.SolveVecTo(sinn, inn); err != nil {
		return 0, fmt.Errorf("failed to solve innovation: %v: %w", err, slam.ErrSingularInnovation)
	}

	nis := mat.Dot(inn, sinn)
	if k.c.Gate > 0 && nis > k.c.Gate {
		return nis, fmt.Errorf("normalized innovation squared %g exceeds %g: %w", nis, k.c.Gate, slam.ErrOutlier)
	}

	return nis, nil
}

// gain returns Kalman gain K = P*H'*S^-1
func (k *EKF) gain(ch *mat.Cholesky, PHt *mat.Dense) (*mat.Dense, error) {
	// S * K' = H * P
	kt := &mat.Dense{}
	if err := ch.SolveTo(kt, PHt.T()); err != nil {
		var cerr mat.Condition
		if !errors.As(err, &cerr) {
			return nil, fmt.Errorf("failed to calculate Kalman gain: %v: %w", err, slam.ErrSingularInnovation)
		}
	}

	gain := &mat.Dense{}
	gain.CloneFrom(kt.T())

	return gain, nil
}

// OutputNoise returns output noise
func (k *EKF) OutputNoise() slam.Noise {
	return k.r
}

// Config returns EKF update configuration
func (k *EKF) Config() Config {
	return k.c
}

// Gain returns Kalman gain of the last successful update
func (k *EKF) Gain() mat.Matrix {
	gain := &mat.Dense{}
	if !k.k.IsEmpty() {
		gain.CloneFrom(k.k)
	}

	return gain
}

// Innovation returns innovation of the last successful update
func (k *EKF) Innovation() mat.Vector {
	inn := &mat.VecDense{}
	if !k.inn.IsEmpty() {
		inn.CloneFromVec(k.inn)
	}

	return inn
}

// InnovationCov returns innovation covariance of the last successful update
func (k *EKF) InnovationCov() mat.Symmetric {
	s := &mat.SymDense{}
	if !k.s.IsEmpty() {
		s = mat.NewSymDense(k.s.SymmetricDim(), nil)
		s.CopySym(k.s)
	}

	return s
}

// NIS returns normalized innovation squared of the last successful update
func (k *EKF) NIS() float64 {
	return k.nis
}

// ConfigFrom returns EKF update configuration from estimator configuration c
// for measurements of size dof.
func ConfigFrom(c *config.Config, dof int) (Config, error) {
	gate, err := Gate(c.GateProbability, dof)
	if err != nil {
		return Config{}, err
	}

	return Config{
		Gate:       gate,
		MaxCond:    c.MaxCondition,
		Iterations: c.Iterations,
	}, nil
}
