package noise

import (
	"fmt"

	slam "github.com/milosgajdos/go-slam"
	"gonum.org/v1/gonum/mat"
)

// None marks an absent noise source: filters add no noise term for it.
// Unlike Zero it has no dimension, so it fits any measurement or process model.
type None struct{}

// NewNone creates new None noise and returns it
func NewNone() (*None, error) {
	return &None{}, nil
}

// Sample returns empty vector
func (e *None) Sample() mat.Vector {
	return &mat.VecDense{}
}

// Cov returns empty covariance matrix
func (e *None) Cov() mat.Symmetric {
	return &mat.SymDense{}
}

// Mean returns nil
func (e *None) Mean() []float64 {
	return nil
}

// Reset does nothing
func (e *None) Reset() error { return nil }

// String implements the Stringer interface.
func (e *None) String() string {
	return "None{}"
}

// IsNone returns true if n is nil or None noise
func IsNone(n slam.Noise) bool {
	if n == nil {
		return true
	}
	_, ok := n.(*None)

	return ok
}

// Covariance returns covariance of noise n or nil if n is absent
func Covariance(n slam.Noise) mat.Symmetric {
	if IsNone(n) {
		return nil
	}

	return n.Cov()
}

// CheckDim returns error if noise n is present and its dimension is not dim
func CheckDim(n slam.Noise, dim int) error {
	cov := Covariance(n)
	if cov == nil {
		return nil
	}

	if d := cov.SymmetricDim(); d != dim {
		return fmt.Errorf("noise dimension %d, want %d: %w", d, dim, slam.ErrDimensionMismatch)
	}

	return nil
}
