package noise

import (
	"fmt"
	"time"

	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
)

// Gaussian is gaussian noise
type Gaussian struct {
	// dist is a multivariate normal distribution
	dist *distmv.Normal
	// mean is Gaussian mean
	mean []float64
	// cov is Gaussian covariance
	cov *mat.SymDense
	// seed is the seed of the noise source; time based if zero
	seed uint64
}

// NewGaussian creates new Gaussian noise with given mean and covariance.
// It returns error if it fails to create Gaussian.
func NewGaussian(mean []float64, cov mat.Symmetric) (*Gaussian, error) {
	return NewGaussianSeeded(mean, cov, 0)
}

// NewGaussianSeeded creates new Gaussian noise with given mean and covariance whose samples
// are drawn from a source seeded with seed. Zero seed seeds the source from the current time.
// It returns error if mean and cov dimensions differ or cov is not positive definite.
func NewGaussianSeeded(mean []float64, cov mat.Symmetric, seed uint64) (*Gaussian, error) {
	if len(mean) != cov.SymmetricDim() {
		return nil, fmt.Errorf("invalid noise dimensions: mean %d, cov %d", len(mean), cov.SymmetricDim())
	}

	c := mat.NewSymDense(cov.SymmetricDim(), nil)
	c.CopySym(cov)

	g := &Gaussian{
		mean: append([]float64(nil), mean...),
		cov:  c,
		seed: seed,
	}

	if err := g.Reset(); err != nil {
		return nil, err
	}

	return g, nil
}

// NewIsotropic creates new zero mean Gaussian noise of given size and standard deviation sigma.
func NewIsotropic(size int, sigma float64) (*Gaussian, error) {
	if size <= 0 || sigma <= 0 {
		return nil, fmt.Errorf("invalid isotropic noise: size %d, sigma %g", size, sigma)
	}

	cov := mat.NewSymDense(size, nil)
	for i := 0; i < size; i++ {
		cov.SetSym(i, i, sigma*sigma)
	}

	return NewGaussian(make([]float64, size), cov)
}

// Sample generates a sample from Gaussian noise and returns it.
func (g *Gaussian) Sample() mat.Vector {
	r := g.dist.Rand(nil)
	return mat.NewVecDense(len(r), r)
}

// Cov returns covariance matrix of Gaussian noise.
func (g *Gaussian) Cov() mat.Symmetric {
	cov := mat.NewSymDense(g.cov.SymmetricDim(), nil)
	cov.CopySym(g.cov)

	return cov
}

// Mean returns Gaussian mean.
func (g *Gaussian) Mean() []float64 {
	return append([]float64(nil), g.mean...)
}

// Reset resets Gaussian noise source.
// It returns error if it fails to reset the noise.
func (g *Gaussian) Reset() error {
	seed := g.seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	dist, ok := distmv.NewNormal(g.mean, g.cov, rand.New(rand.NewSource(seed)))
	if !ok {
		return fmt.Errorf("failed to create Gaussian noise: covariance not positive definite")
	}
	g.dist = dist

	return nil
}

// String implements the Stringer interface.
func (g *Gaussian) String() string {
	return fmt.Sprintf("Gaussian{\nMean=%v\nCov=%v\n}", g.mean, mat.Formatted(g.cov, mat.Prefix("    "), mat.Squeeze()))
}
