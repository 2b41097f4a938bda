package gaussian

import (
	"errors"
	"testing"

	slam "github.com/milosgajdos/go-slam"
	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"
)

type testArena struct {
	mean *mat.VecDense
	cov  *mat.SymDense
}

func (a *testArena) GatherMean(idx []int) *mat.VecDense {
	v := mat.NewVecDense(len(idx), nil)
	for i, ii := range idx {
		v.SetVec(i, a.mean.AtVec(ii))
	}
	return v
}

func (a *testArena) GatherCov(idx []int) *mat.SymDense {
	c := mat.NewSymDense(len(idx), nil)
	for i, ii := range idx {
		for j := i; j < len(idx); j++ {
			c.SetSym(i, j, a.cov.At(ii, idx[j]))
		}
	}
	return c
}

type testRange slam.Range

func (r testRange) Range() slam.Range { return slam.Range(r) }

func newTestArena() *testArena {
	return &testArena{
		mean: mat.NewVecDense(4, []float64{1, 2, 3, 4}),
		cov: mat.NewSymDense(4, []float64{
			4, 1, 0, 0,
			1, 3, 0.5, 0,
			0, 0.5, 2, 0,
			0, 0, 0, 1,
		}),
	}
}

func TestNewView(t *testing.T) {
	assert := assert.New(t)
	a := newTestArena()

	for _, test := range []struct {
		r      slam.Range
		nonObs int
		valid  bool
	}{
		{r: slam.Range{Start: 1, Len: 2}, nonObs: 0, valid: true},
		{r: slam.Range{Start: 1, Len: 3}, nonObs: 1, valid: true},
		{r: slam.Range{Start: 1, Len: 2}, nonObs: 3, valid: false},
		{r: slam.Range{Start: 1, Len: 2}, nonObs: -1, valid: false},
		{r: slam.Range{Start: 0, Len: 0}, nonObs: 0, valid: false},
	} {
		g, err := NewView(a, testRange(test.r), test.nonObs)
		if !test.valid {
			assert.Nil(g)
			assert.True(errors.Is(err, slam.ErrDimensionMismatch))
			continue
		}
		assert.NoError(err)
		assert.True(g.IsView())
		assert.Equal(test.r.Len, g.Size())
		assert.Equal(test.nonObs, g.SizeNonObs())
		assert.Equal(test.r.Len-test.nonObs, g.SizeObs())
	}
}

func TestViewReadsArena(t *testing.T) {
	assert := assert.New(t)
	a := newTestArena()

	g, err := NewView(a, testRange{Start: 1, Len: 2}, 0)
	assert.NoError(err)

	assert.Equal([]float64{2, 3}, g.Val().(*mat.VecDense).RawVector().Data)
	assert.Equal(0.5, g.Cov().At(0, 1))
	assert.Equal([]int{1, 2}, g.Indices())

	// views follow arena mutations
	a.mean.SetVec(2, 10)
	a.cov.SetSym(1, 2, 0.25)
	assert.Equal(10.0, g.Val().AtVec(1))
	assert.Equal(0.25, g.Cov().At(1, 0))
}

func TestNewOwned(t *testing.T) {
	assert := assert.New(t)

	mean := mat.NewVecDense(2, []float64{1, 2})
	cov := mat.NewSymDense(2, []float64{1, 0, 0, 1})

	g, err := NewOwned(mean, cov, 0)
	assert.NoError(err)
	assert.False(g.IsView())
	assert.Nil(g.Indices())

	// owned Gaussians copy their input
	mean.SetVec(0, 5)
	assert.Equal(1.0, g.Val().AtVec(0))

	g, err = NewOwned(mean, mat.NewSymDense(3, nil), 0)
	assert.Nil(g)
	assert.True(errors.Is(err, slam.ErrDimensionMismatch))
}

func TestSetSizeNonObs(t *testing.T) {
	assert := assert.New(t)

	g, err := NewOwned(mat.NewVecDense(3, nil), mat.NewSymDense(3, nil), 1)
	assert.NoError(err)

	assert.NoError(g.SetSizeNonObs(0))
	assert.Equal(3, g.SizeObs())
	assert.Error(g.SetSizeNonObs(4))
	assert.Equal(0, g.SizeNonObs())
}

func TestDenseArena(t *testing.T) {
	assert := assert.New(t)

	a := Dense{
		Mean: mat.NewVecDense(3, []float64{1, 2, 3}),
		Cov:  mat.NewSymDense(3, []float64{1, 0.5, 0, 0.5, 2, 0, 0, 0, 3}),
	}

	g, err := NewView(a, testRange{Start: 0, Len: 2}, 1)
	assert.NoError(err)
	assert.Equal([]float64{1, 2}, g.Val().(*mat.VecDense).RawVector().Data)
	assert.Equal(0.5, g.Cov().At(1, 0))
}
