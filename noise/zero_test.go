package noise

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
)

func TestNewZero(t *testing.T) {
	assert := assert.New(t)

	for _, size := range []int{0, -10} {
		e, err := NewZero(size)
		assert.Nil(e)
		assert.Error(err)
	}

	e, err := NewZero(7)
	assert.NoError(err)
	assert.Equal(7, e.Size())
	assert.Equal(make([]float64, 7), e.Mean())
	assert.True(mat.Equal(mat.NewSymDense(7, nil), e.Cov()))
	assert.True(mat.Equal(mat.NewVecDense(7, nil), e.Sample()))
	assert.NoError(e.Reset())
	assert.Equal("Zero{Size=7}", e.String())
}

func TestZeroJacobianInput(t *testing.T) {
	assert := assert.New(t)

	q, err := NewZero(2)
	assert.NoError(err)

	// y = [x0*x1 + q0, x1 + q1]: zero samples leave the Jacobian of the noiseless model
	J := mat.NewDense(2, 2, nil)
	fd.Jacobian(J, func(y, x []float64) {
		s := q.Sample()
		y[0] = x[0]*x[1] + s.AtVec(0)
		y[1] = x[1] + s.AtVec(1)
	}, []float64{2, 3}, &fd.JacobianSettings{Formula: fd.Central})

	assert.InDeltaSlice([]float64{3, 2, 0, 1}, J.RawMatrix().Data, 1e-6)
}
