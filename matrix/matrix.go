package matrix

import (
	"fmt"
	"math"

	slam "github.com/milosgajdos/go-slam"
	gm "github.com/milosgajdos/matrix"
	"gonum.org/v1/gonum/mat"
)

// DefaultTol is default tolerance of symmetry and PSD checks
const DefaultTol = 1e-9

// Eye returns n x n identity matrix.
// It panics if n is non-positive.
func Eye(n int) *mat.Dense {
	eye, err := gm.NewDenseValIdentity(n, 1.0)
	if err != nil {
		panic(err)
	}

	return eye
}

// IsSymmetric returns true if m is square and symmetric within relative tolerance tol.
func IsSymmetric(m mat.Matrix, tol float64) bool {
	r, c := m.Dims()
	if r != c {
		return false
	}

	for i := 0; i < r; i++ {
		for j := i + 1; j < c; j++ {
			a, b := m.At(i, j), m.At(j, i)
			if math.Abs(a-b) > tol*math.Max(1, math.Abs(a)+math.Abs(b)) {
				return false
			}
		}
	}

	return true
}

// MinEigen returns the smallest eigenvalue of symmetric matrix m.
// It returns false if the eigen decomposition fails.
func MinEigen(m mat.Symmetric) (float64, bool) {
	if m.SymmetricDim() == 0 {
		return 0, true
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(m, false); !ok {
		return 0, false
	}

	// eigenvalues are returned in ascending order
	return eig.Values(nil)[0], true
}

// Symmetrize returns symmetric matrix (m + m')/2.
// It panics if m is not square.
func Symmetrize(m mat.Matrix) *mat.SymDense {
	r, c := m.Dims()
	if r != c {
		panic(mat.ErrShape)
	}

	sym := mat.NewSymDense(r, nil)
	for i := 0; i < r; i++ {
		for j := i; j < r; j++ {
			sym.SetSym(i, j, 0.5*(m.At(i, j)+m.At(j, i)))
		}
	}

	return sym
}

// CheckSymPSD checks that m contains finite values and is symmetric and positive semi-definite.
// Eigenvalues down to -tol scaled by the largest diagonal element are accepted.
// It returns error wrapping slam.ErrStateCorruption if either of the checks fails.
func CheckSymPSD(m mat.Matrix, tol float64) error {
	r, c := m.Dims()
	if r != c {
		return fmt.Errorf("non-square covariance [%d x %d]: %w", r, c, slam.ErrStateCorruption)
	}

	scale := 1.0
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := m.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("non-finite covariance element (%d, %d): %w", i, j, slam.ErrStateCorruption)
			}
		}
		scale = math.Max(scale, math.Abs(m.At(i, i)))
	}

	if !IsSymmetric(m, tol) {
		return fmt.Errorf("asymmetric covariance: %w", slam.ErrStateCorruption)
	}

	sym, ok := m.(mat.Symmetric)
	if !ok {
		sym = Symmetrize(m)
	}

	low, ok := MinEigen(sym)
	if !ok {
		return fmt.Errorf("eigen decomposition failed: %w", slam.ErrStateCorruption)
	}

	if low < -tol*scale {
		return fmt.Errorf("negative covariance eigenvalue %g: %w", low, slam.ErrStateCorruption)
	}

	return nil
}

// Gather returns symmetric sub-block of m given by indices idx.
func Gather(m mat.Symmetric, idx []int) *mat.SymDense {
	sub := mat.NewSymDense(len(idx), nil)
	for i, ii := range idx {
		for j := i; j < len(idx); j++ {
			sub.SetSym(i, j, m.At(ii, idx[j]))
		}
	}

	return sub
}

// GatherCols returns all rows of m restricted to columns idx.
func GatherCols(m mat.Matrix, idx []int) *mat.Dense {
	r, _ := m.Dims()
	sub := mat.NewDense(r, len(idx), nil)
	for i := 0; i < r; i++ {
		for j, jj := range idx {
			sub.Set(i, j, m.At(i, jj))
		}
	}

	return sub
}

// GatherVec returns elements of v given by indices idx.
func GatherVec(v mat.Vector, idx []int) *mat.VecDense {
	sub := mat.NewVecDense(len(idx), nil)
	for i, ii := range idx {
		sub.SetVec(i, v.AtVec(ii))
	}

	return sub
}
