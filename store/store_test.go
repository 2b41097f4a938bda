package store

import (
	"errors"
	"testing"

	slam "github.com/milosgajdos/go-slam"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func diag(vals ...float64) *mat.SymDense {
	s := mat.NewSymDense(len(vals), nil)
	for i, v := range vals {
		s.SetSym(i, i, v)
	}
	return s
}

func TestAllocate(t *testing.T) {
	assert := assert.New(t)

	m := New(0)
	assert.Equal(0, m.Size())

	s1, err := m.Allocate(3)
	assert.NoError(err)
	assert.Equal(slam.Range{Start: 0, Len: 3}, s1.Range())

	s2, err := m.Allocate(2)
	assert.NoError(err)
	assert.Equal(slam.Range{Start: 3, Len: 2}, s2.Range())
	assert.Equal(5, m.Size())

	s, err := m.Allocate(0)
	assert.Nil(s)
	assert.True(errors.Is(err, slam.ErrDimensionMismatch))

	assert.Len(m.Slots(), 2)
}

func TestInit(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	m := New(0)
	s1, _ := m.Allocate(2)
	s2, _ := m.Allocate(1)

	err := m.Init(s1, mat.NewVecDense(2, []float64{1, 2}), diag(1, 1), nil)
	require.NoError(err)

	cross := mat.NewDense(1, 3, []float64{0.5, 0.1, 0})
	err = m.Init(s2, mat.NewVecDense(1, []float64{3}), diag(2), cross)
	require.NoError(err)

	mean, cov, _ := m.Snapshot()
	assert.Equal([]float64{1, 2, 3}, mean.RawVector().Data)
	assert.Equal(0.5, cov.At(0, 2))
	assert.Equal(0.5, cov.At(2, 0))
	assert.Equal(0.1, cov.At(1, 2))
	assert.Equal(2.0, cov.At(2, 2))

	// wrong dimensions
	err = m.Init(s2, mat.NewVecDense(2, nil), diag(1, 1), nil)
	assert.True(errors.Is(err, slam.ErrDimensionMismatch))
	err = m.Init(s2, mat.NewVecDense(1, nil), diag(1), mat.NewDense(1, 2, nil))
	assert.True(errors.Is(err, slam.ErrDimensionMismatch))

	// cross-covariance making the state indefinite is refused
	ver := m.Version()
	err = m.Init(s2, mat.NewVecDense(1, []float64{3}), diag(2), mat.NewDense(1, 3, []float64{5, 5, 0}))
	assert.True(errors.Is(err, slam.ErrStateCorruption))
	assert.Equal(ver, m.Version())
}

func TestReleaseCompacts(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	m := New(0)
	s1, _ := m.Allocate(2)
	s2, _ := m.Allocate(2)
	s3, _ := m.Allocate(1)
	require.NoError(m.Init(s1, mat.NewVecDense(2, []float64{1, 2}), diag(1, 1), nil))
	require.NoError(m.Init(s2, mat.NewVecDense(2, []float64{3, 4}), diag(2, 2), nil))
	require.NoError(m.Init(s3, mat.NewVecDense(1, []float64{5}), diag(3), mat.NewDense(1, 5, []float64{0.2, 0, 0.3, 0, 0})))

	g, err := m.Gaussian(s3, 0)
	require.NoError(err)

	require.NoError(m.Release(s2))
	assert.True(s2.Released())
	assert.Equal(3, m.Size())
	assert.Equal(slam.Range{Start: 0, Len: 2}, s1.Range())
	assert.Equal(slam.Range{Start: 2, Len: 1}, s3.Range())

	mean, cov, _ := m.Snapshot()
	assert.Equal([]float64{1, 2, 5}, mean.RawVector().Data)
	assert.Equal(0.2, cov.At(0, 2))
	assert.Equal(3.0, cov.At(2, 2))

	// views follow compaction
	assert.Equal(5.0, g.Val().AtVec(0))
	assert.Equal(3.0, g.Cov().At(0, 0))

	// double release
	assert.Error(m.Release(s2))
	assert.Error(m.Release(nil))

	require.NoError(m.Release(s1))
	require.NoError(m.Release(s3))
	assert.Equal(0, m.Size())
}

func TestCommit(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	m := New(0)
	s, _ := m.Allocate(2)
	require.NoError(m.Init(s, mat.NewVecDense(2, []float64{1, 2}), diag(1, 1), nil))

	before, beforeCov, ver := m.Snapshot()

	// stale version
	err := m.Commit(ver+1, mat.NewVecDense(2, nil), diag(1, 1))
	assert.Error(err)

	// dimension mismatch
	err = m.Commit(ver, mat.NewVecDense(3, nil), diag(1, 1, 1))
	assert.True(errors.Is(err, slam.ErrDimensionMismatch))

	// indefinite covariance
	err = m.Commit(ver, mat.NewVecDense(2, nil), mat.NewDense(2, 2, []float64{1, 2, 2, 1}))
	assert.True(errors.Is(err, slam.ErrStateCorruption))

	// asymmetric covariance
	err = m.Commit(ver, mat.NewVecDense(2, nil), mat.NewDense(2, 2, []float64{1, 0.5, 0, 1}))
	assert.True(errors.Is(err, slam.ErrStateCorruption))

	after, afterCov, afterVer := m.Snapshot()
	assert.Equal(ver, afterVer)
	assert.Equal(before.RawVector().Data, after.RawVector().Data)
	assert.Equal(beforeCov.RawSymmetric().Data, afterCov.RawSymmetric().Data)

	err = m.Commit(ver, mat.NewVecDense(2, []float64{3, 4}), diag(0.5, 0.5))
	assert.NoError(err)
	assert.Equal(3.0, m.Val().AtVec(0))
	assert.Equal(0.5, m.Cov().At(1, 1))
	assert.NotEqual(ver, m.Version())
}
