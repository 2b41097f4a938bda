package noise

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Zero is noise of a fixed dimension whose samples are always zero.
// Propagators are fed its samples when their mean and Jacobian are evaluated.
type Zero struct {
	size int
}

// NewZero creates new Zero noise of dimension size.
// It returns error if size is not positive.
func NewZero(size int) (*Zero, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid zero noise dimension: %d", size)
	}

	return &Zero{size: size}, nil
}

// Size returns noise dimension
func (e *Zero) Size() int {
	return e.size
}

// Sample returns zero vector
func (e *Zero) Sample() mat.Vector {
	return mat.NewVecDense(e.size, nil)
}

// Cov returns zero covariance matrix
func (e *Zero) Cov() mat.Symmetric {
	return mat.NewSymDense(e.size, nil)
}

// Mean returns zero mean
func (e *Zero) Mean() []float64 {
	return make([]float64, e.size)
}

// Reset does nothing
func (e *Zero) Reset() error { return nil }

// String implements the Stringer interface.
func (e *Zero) String() string {
	return fmt.Sprintf("Zero{Size=%d}", e.size)
}
