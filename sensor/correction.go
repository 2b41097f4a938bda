package sensor

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// correctionSamples is the number of radii sampled when fitting correction model
const correctionSamples = 100

// CorrectionModel fits n radial distortion correction coefficients [c2 c4 ...] inverting
// the distortion model d over normalized image radii in (0, rMax].
// The fit is a linear least squares fit of r = rd * (1 + c2*rd^2 + c4*rd^4 + ...),
// where rd is the distorted radius of r.
// It returns error if n or rMax are not positive or if the distortion model folds over in (0, rMax].
func CorrectionModel(d []float64, n int, rMax float64) ([]float64, error) {
	if n <= 0 {
		return nil, fmt.Errorf("invalid correction model size: %d", n)
	}

	if rMax <= 0 {
		return nil, fmt.Errorf("invalid correction model radius: %g", rMax)
	}

	if len(d) == 0 {
		return make([]float64, n), nil
	}

	p := &PinHole{d: d}
	A := mat.NewDense(correctionSamples, n, nil)
	y := mat.NewVecDense(correctionSamples, nil)

	prev := 0.0
	for i := 0; i < correctionSamples; i++ {
		r := rMax * float64(i+1) / correctionSamples
		rd := r * p.distortFactor(r*r)
		if rd <= prev {
			return nil, fmt.Errorf("distortion not monotonic at radius %g", r)
		}
		prev = rd

		y.SetVec(i, r/rd-1)
		for j := 0; j < n; j++ {
			A.Set(i, j, math.Pow(rd, float64(2*(j+1))))
		}
	}

	c := &mat.VecDense{}
	if err := c.SolveVec(A, y); err != nil {
		return nil, fmt.Errorf("failed to fit correction model: %v", err)
	}

	return c.RawVector().Data, nil
}
