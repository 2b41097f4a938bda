// Package landmark implements map landmarks and their lifecycle.
package landmark

import (
	"fmt"
	"math"

	"github.com/google/uuid"
	slam "github.com/milosgajdos/go-slam"
	"github.com/milosgajdos/go-slam/gaussian"
	"github.com/milosgajdos/go-slam/matrix"
	"github.com/milosgajdos/go-slam/store"
	"gonum.org/v1/gonum/mat"
)

// Status is landmark lifecycle status
type Status int

const (
	// Allocated landmarks have state but have not been updated yet
	Allocated Status = iota
	// Converging landmarks have been updated but still have non-observable dimensions
	Converging
	// Converged landmarks have all dimensions observable
	Converged
	// Pruned landmarks have released their state
	Pruned
)

// String implements the Stringer interface.
func (s Status) String() string {
	switch s {
	case Allocated:
		return "allocated"
	case Converging:
		return "converging"
	case Converged:
		return "converged"
	case Pruned:
		return "pruned"
	}

	return fmt.Sprintf("Status(%d)", int(s))
}

// Landmark is a map landmark occupying a slot of the shared state
type Landmark struct {
	// ID is landmark identifier
	ID uuid.UUID
	// Descriptor is opaque front end descriptor
	Descriptor any
	// Status is lifecycle status
	Status Status
	// Hits counts successful updates
	Hits int
	// Misses counts consecutive frames the landmark was expected but not matched
	Misses int
	// param is landmark parametrisation
	param Param
	// slot is landmark state slot
	slot *store.Slot
	// g is Gaussian view of the landmark state
	g *gaussian.Gaussian
}

// New allocates new landmark parametrised by p in map m and returns it.
// mean and cov initialize the landmark state; cross is its cross-covariance with the
// state existing before the allocation and may be nil.
// It returns error if the allocation or the initialization fails, in which case the map is left unchanged.
func New(m *store.Map, p Param, mean mat.Vector, cov mat.Symmetric, cross mat.Matrix, desc any) (*Landmark, error) {
	if mean.Len() != p.Size() {
		return nil, fmt.Errorf("landmark size %d, mean %d: %w", p.Size(), mean.Len(), slam.ErrDimensionMismatch)
	}

	var full mat.Matrix
	if cross != nil {
		// the cross-covariance does not cover the new slot yet
		rows, cols := cross.Dims()
		ext := mat.NewDense(rows, cols+p.Size(), nil)
		ext.Slice(0, rows, 0, cols).(*mat.Dense).Copy(cross)
		full = ext
	}

	s, err := m.Allocate(p.Size())
	if err != nil {
		return nil, err
	}

	if err := m.Init(s, mean, cov, full); err != nil {
		if rerr := m.Release(s); rerr != nil {
			return nil, fmt.Errorf("%v: release failed: %v", err, rerr)
		}
		return nil, err
	}

	g, err := m.Gaussian(s, p.SizeNonObs())
	if err != nil {
		return nil, err
	}

	return &Landmark{
		ID:         uuid.New(),
		Descriptor: desc,
		Status:     Allocated,
		param:      p,
		slot:       s,
		g:          g,
	}, nil
}

// Param returns landmark parametrisation
func (l *Landmark) Param() Param {
	return l.param
}

// Range returns landmark state range
func (l *Landmark) Range() slam.Range {
	return l.slot.Range()
}

// Gaussian returns landmark Gaussian view
func (l *Landmark) Gaussian() *gaussian.Gaussian {
	return l.g
}

// Active returns true if the landmark has not been pruned
func (l *Landmark) Active() bool {
	return l.Status != Pruned
}

// Updated records a successful update of the landmark
func (l *Landmark) Updated() {
	l.Hits++
	l.Misses = 0
	if l.Status == Allocated {
		l.Status = Converging
		if l.g.SizeNonObs() == 0 {
			l.Status = Converged
		}
	}
}

// Missed records a frame in which the landmark was expected but not matched
func (l *Landmark) Missed() {
	l.Misses++
}

// Converged returns true if the standard deviation of every non-observable
// dimension has shrunk below ratio times the magnitude of its mean.
func (l *Landmark) Converged(ratio float64) bool {
	n := l.g.SizeNonObs()
	if n == 0 {
		return true
	}

	mean, cov := l.g.Val(), l.g.Cov()
	for i := l.g.Size() - n; i < l.g.Size(); i++ {
		sd := math.Sqrt(math.Max(cov.At(i, i), 0))
		if sd >= ratio*math.Abs(mean.AtVec(i)) {
			return false
		}
	}

	return true
}

// Prune releases landmark state from map m
func (l *Landmark) Prune(m *store.Map) error {
	if l.Status == Pruned {
		return nil
	}

	if err := m.Release(l.slot); err != nil {
		return err
	}
	l.Status = Pruned

	return nil
}

// ToEuclidean reparametrises an inverse depth landmark as a Euclidean point
// preserving its correlations with the rest of the state.
// It returns error if the landmark is not parametrised by inverse depth or its
// inverse distance is not positive.
func (l *Landmark) ToEuclidean(m *store.Map) error {
	if _, ok := l.param.(InverseDepth); !ok {
		return fmt.Errorf("landmark %s is not inverse depth", l.ID)
	}

	x := l.g.Val()
	rho := x.AtVec(5)
	if rho <= 0 {
		return fmt.Errorf("invalid inverse distance %g", rho)
	}

	ray, dt, dp := Ray(x.AtVec(3), x.AtVec(4))
	p := mat.NewVecDense(3, []float64{
		x.AtVec(0) + ray.X/rho,
		x.AtVec(1) + ray.Y/rho,
		x.AtVec(2) + ray.Z/rho,
	})

	irho2 := 1 / (rho * rho)
	J := mat.NewDense(3, 6, []float64{
		1, 0, 0, dt.X / rho, dp.X / rho, -ray.X * irho2,
		0, 1, 0, dt.Y / rho, dp.Y / rho, -ray.Y * irho2,
		0, 0, 1, dt.Z / rho, dp.Z / rho, -ray.Z * irho2,
	})

	// J * P(l, :)
	cols := m.GatherCols(l.Range().Indices())
	cross := &mat.Dense{}
	cross.Mul(J, cols.T())

	cov := Propagate(J, l.g.Cov())

	e, err := New(m, Euclidean{}, p, cov, cross, l.Descriptor)
	if err != nil {
		return err
	}

	if err := m.Release(l.slot); err != nil {
		return err
	}

	l.param, l.slot, l.g = e.param, e.slot, e.g
	l.Status = Converged

	return nil
}

// Propagate returns covariance J * P * J'
func Propagate(J mat.Matrix, P mat.Symmetric) *mat.SymDense {
	jp := &mat.Dense{}
	jp.Mul(J, P)

	full := &mat.Dense{}
	full.Mul(jp, J.T())

	return matrix.Symmetrize(full)
}
