package gaussian

import (
	"github.com/milosgajdos/go-slam/matrix"
	"gonum.org/v1/gonum/mat"
)

// Dense is an Arena backed by a dense mean and covariance
type Dense struct {
	// Mean is arena mean
	Mean mat.Vector
	// Cov is arena covariance
	Cov mat.Symmetric
}

// GatherMean returns mean elements at indices idx
func (d Dense) GatherMean(idx []int) *mat.VecDense {
	return matrix.GatherVec(d.Mean, idx)
}

// GatherCov returns covariance sub-block at indices idx
func (d Dense) GatherCov(idx []int) *mat.SymDense {
	return matrix.Gather(d.Cov, idx)
}
