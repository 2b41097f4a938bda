package gaussian

import (
	"fmt"

	slam "github.com/milosgajdos/go-slam"
	"gonum.org/v1/gonum/mat"
)

// Arena is shared storage of mean and covariance
type Arena interface {
	// GatherMean returns mean elements at indices idx
	GatherMean(idx []int) *mat.VecDense
	// GatherCov returns covariance sub-block at indices idx
	GatherCov(idx []int) *mat.SymDense
}

// Ranger reports the current state range of an entity
type Ranger interface {
	// Range returns state range
	Range() slam.Range
}

// Gaussian is a Gaussian over size dimensions, the last sizeNonObs of which are
// not yet observable.
// A Gaussian is either a view into an Arena or it owns its mean and covariance.
type Gaussian struct {
	// size is number of dimensions
	size int
	// sizeNonObs is number of trailing non-observable dimensions
	sizeNonObs int
	// arena is shared storage; nil for owned Gaussians
	arena Arena
	// r is the arena range
	r Ranger
	// mean is owned mean
	mean *mat.VecDense
	// cov is owned covariance
	cov *mat.SymDense
}

// NewView creates new Gaussian view of the range r of the arena a and returns it.
// It returns error wrapping slam.ErrDimensionMismatch if sizeNonObs is negative or
// exceeds the range length.
func NewView(a Arena, r Ranger, sizeNonObs int) (*Gaussian, error) {
	size := r.Range().Len
	if err := checkDims(size, sizeNonObs); err != nil {
		return nil, err
	}

	return &Gaussian{
		size:       size,
		sizeNonObs: sizeNonObs,
		arena:      a,
		r:          r,
	}, nil
}

// NewOwned creates new Gaussian which owns copies of mean and cov and returns it.
// It returns error wrapping slam.ErrDimensionMismatch if mean and cov dimensions
// differ or if sizeNonObs is invalid.
func NewOwned(mean mat.Vector, cov mat.Symmetric, sizeNonObs int) (*Gaussian, error) {
	if mean.Len() != cov.SymmetricDim() {
		return nil, fmt.Errorf("mean %d, cov %d x %d: %w", mean.Len(),
			cov.SymmetricDim(), cov.SymmetricDim(), slam.ErrDimensionMismatch)
	}

	if err := checkDims(mean.Len(), sizeNonObs); err != nil {
		return nil, err
	}

	m := &mat.VecDense{}
	m.CloneFromVec(mean)

	c := mat.NewSymDense(cov.SymmetricDim(), nil)
	c.CopySym(cov)

	return &Gaussian{
		size:       mean.Len(),
		sizeNonObs: sizeNonObs,
		mean:       m,
		cov:        c,
	}, nil
}

func checkDims(size, sizeNonObs int) error {
	if size <= 0 || sizeNonObs < 0 || sizeNonObs > size {
		return fmt.Errorf("size %d, non-observable %d: %w", size, sizeNonObs, slam.ErrDimensionMismatch)
	}

	return nil
}

// Size returns number of Gaussian dimensions
func (g *Gaussian) Size() int {
	return g.size
}

// SizeNonObs returns number of non-observable dimensions
func (g *Gaussian) SizeNonObs() int {
	return g.sizeNonObs
}

// SizeObs returns number of observable dimensions
func (g *Gaussian) SizeObs() int {
	return g.size - g.sizeNonObs
}

// SetSizeNonObs changes the number of non-observable dimensions.
// It returns error if n is not within [0, Size()].
func (g *Gaussian) SetSizeNonObs(n int) error {
	if err := checkDims(g.size, n); err != nil {
		return err
	}
	g.sizeNonObs = n

	return nil
}

// IsView returns true if the Gaussian is backed by shared storage
func (g *Gaussian) IsView() bool {
	return g.arena != nil
}

// Indices returns arena indices of the Gaussian; nil for owned Gaussians
func (g *Gaussian) Indices() []int {
	if g.arena == nil {
		return nil
	}

	return g.r.Range().Indices()
}

// Val returns Gaussian mean.
// Views read the arena at call time.
func (g *Gaussian) Val() mat.Vector {
	if g.arena != nil {
		return g.arena.GatherMean(g.Indices())
	}

	v := &mat.VecDense{}
	v.CloneFromVec(g.mean)

	return v
}

// Cov returns Gaussian covariance.
// Views read the arena at call time.
func (g *Gaussian) Cov() mat.Symmetric {
	if g.arena != nil {
		return g.arena.GatherCov(g.Indices())
	}

	cov := mat.NewSymDense(g.cov.SymmetricDim(), nil)
	cov.CopySym(g.cov)

	return cov
}

// String implements the Stringer interface.
func (g *Gaussian) String() string {
	return fmt.Sprintf("Gaussian{\nSize=%d NonObs=%d\nMean=%v\nCov=%v\n}", g.size, g.sizeNonObs,
		mat.Formatted(g.Val().(*mat.VecDense).T(), mat.Squeeze()),
		mat.Formatted(g.Cov(), mat.Prefix("    "), mat.Squeeze()))
}
