// Package robot implements the robot platform carrying the sensors.
package robot

import (
	"fmt"

	slam "github.com/milosgajdos/go-slam"
	"github.com/milosgajdos/go-slam/frame"
	"github.com/milosgajdos/go-slam/gaussian"
	"github.com/milosgajdos/go-slam/matrix"
	"github.com/milosgajdos/go-slam/noise"
	"github.com/milosgajdos/go-slam/store"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
)

// JacFunc defines jacobian function to calculate Jacobian matrix
type JacFunc func(u mat.Vector) func(y, x []float64)

// Robot is a moving platform whose pose [x y z qw qx qy qz] is part of the shared state
type Robot struct {
	// slot is robot pose slot
	slot *store.Slot
	// g is Gaussian view of the robot pose
	g *gaussian.Gaussian
	// f is the last propagation Jacobian; identity before the first prediction
	f *mat.Dense
}

// New allocates robot pose in map m and initializes it to pose with covariance cov.
// It returns error if the pose is invalid or the map allocation fails.
func New(m *store.Map, pose []float64, cov mat.Symmetric) (*Robot, error) {
	if _, err := frame.FromSlice(pose); err != nil {
		return nil, err
	}

	s, err := m.Allocate(slam.PoseSize)
	if err != nil {
		return nil, err
	}

	if err := m.Init(s, mat.NewVecDense(slam.PoseSize, pose), cov, nil); err != nil {
		if rerr := m.Release(s); rerr != nil {
			return nil, fmt.Errorf("%v: release failed: %v", err, rerr)
		}
		return nil, err
	}

	g, err := m.Gaussian(s, 0)
	if err != nil {
		return nil, err
	}

	return &Robot{
		slot: s,
		g:    g,
		f:    matrix.Eye(slam.PoseSize),
	}, nil
}

// Range returns robot pose state range
func (r *Robot) Range() slam.Range {
	return r.slot.Range()
}

// Gaussian returns Gaussian view of the robot pose
func (r *Robot) Gaussian() *gaussian.Gaussian {
	return r.g
}

// Pose returns current robot pose mean
func (r *Robot) Pose() (frame.Pose, error) {
	return frame.FromVec(r.g.Val(), 0)
}

// Predict propagates the robot pose in map m to the next step using propagator p, input u
// and process noise q, and returns the predicted pose estimate.
// The propagation Jacobian is calculated numerically. Cross-covariances of the robot
// pose with the rest of the state are propagated, too.
// It returns error if the propagation fails or the noise dimensions are invalid.
func (r *Robot) Predict(m *store.Map, p slam.Propagator, u mat.Vector, q slam.Noise) (slam.Estimate, error) {
	if err := noise.CheckDim(q, slam.PoseSize); err != nil {
		return nil, fmt.Errorf("invalid process noise: %w", err)
	}
	Q := noise.Covariance(q)

	x := r.g.Val()
	z, _ := noise.NewZero(slam.PoseSize)

	xNext, err := p.Propagate(x, u, z.Sample())
	if err != nil {
		return nil, fmt.Errorf("robot pose propagation failed: %v", err)
	}

	if xNext.Len() != slam.PoseSize {
		return nil, fmt.Errorf("invalid propagated pose length %d: %w", xNext.Len(), slam.ErrDimensionMismatch)
	}

	fd.Jacobian(r.f, r.jacFn(p)(u), mat.Col(nil, 0, x), &fd.JacobianSettings{
		Formula:    fd.Central,
		Concurrent: true,
	})

	if err := r.SetPrediction(m, xNext, r.f, Q); err != nil {
		return nil, err
	}

	est, err := gaussian.NewOwned(r.g.Val(), r.g.Cov(), 0)
	if err != nil {
		return nil, err
	}

	return est, nil
}

// SetPrediction sets the robot pose in map m to the predicted pose x whose propagation
// Jacobian is F and process noise covariance is Q. Q may be nil.
// It is used by motion collaborators which compute the predicted pose themselves.
// The map is left unchanged if the prediction corrupts the state covariance.
func (r *Robot) SetPrediction(m *store.Map, x mat.Vector, F mat.Matrix, Q mat.Symmetric) error {
	fr, fc := F.Dims()
	if x.Len() != slam.PoseSize || fr != slam.PoseSize || fc != slam.PoseSize {
		return fmt.Errorf("prediction %d, Jacobian [%d x %d]: %w", x.Len(), fr, fc, slam.ErrDimensionMismatch)
	}

	if Q != nil && Q.SymmetricDim() != slam.PoseSize {
		return fmt.Errorf("invalid process noise dimension %d: %w", Q.SymmetricDim(), slam.ErrDimensionMismatch)
	}

	mean, P, ver := m.Snapshot()
	rg := r.Range()
	n := mean.Len()

	// F * P(r, :)
	rows := mat.NewDense(slam.PoseSize, n, nil)
	for i := 0; i < slam.PoseSize; i++ {
		for j := 0; j < n; j++ {
			rows.Set(i, j, P.At(rg.Start+i, j))
		}
	}
	fp := &mat.Dense{}
	fp.Mul(F, rows)

	// F * P(r, r) * F'
	frr := &mat.Dense{}
	frr.Mul(fp.Slice(0, slam.PoseSize, rg.Start, rg.End()), F.T())
	if Q != nil {
		frr.Add(frr, Q)
	}

	cov := mat.NewDense(n, n, nil)
	cov.Copy(P)
	for i := 0; i < slam.PoseSize; i++ {
		mean.SetVec(rg.Start+i, x.AtVec(i))
		for j := 0; j < n; j++ {
			if j >= rg.Start && j < rg.End() {
				cov.Set(rg.Start+i, j, frr.At(i, j-rg.Start))
				continue
			}
			cov.Set(rg.Start+i, j, fp.At(i, j))
			cov.Set(j, rg.Start+i, fp.At(i, j))
		}
	}

	return m.Commit(ver, mean, cov)
}

// Jacobian returns the last propagation Jacobian
func (r *Robot) Jacobian() mat.Matrix {
	f := &mat.Dense{}
	f.CloneFrom(r.f)

	return f
}

func (r *Robot) jacFn(p slam.Propagator) JacFunc {
	return func(u mat.Vector) func([]float64, []float64) {
		q, _ := noise.NewZero(slam.PoseSize)

		return func(xOut, xNow []float64) {
			x := mat.NewVecDense(len(xNow), xNow)
			xNext, err := p.Propagate(x, u, q.Sample())
			if err != nil {
				panic(err)
			}

			for i := 0; i < len(xOut); i++ {
				xOut[i] = xNext.AtVec(i)
			}
		}
	}
}
