package ekf

import (
	"errors"
	"os"
	"testing"

	slam "github.com/milosgajdos/go-slam"
	"github.com/milosgajdos/go-slam/config"
	"github.com/milosgajdos/go-slam/gaussian"
	"github.com/milosgajdos/go-slam/kalman"
	"github.com/milosgajdos/go-slam/matrix"
	"github.com/milosgajdos/go-slam/noise"
	"github.com/milosgajdos/go-slam/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

var (
	r      slam.Noise
	okConf Config
)

func setup() {
	r, _ = noise.NewIsotropic(2, 1)
	okConf = Config{Gate: 13.8, MaxCond: 1e12, Iterations: 1}
}

func TestMain(m *testing.M) {
	// set up tests
	setup()
	// run the tests
	retCode := m.Run()
	// call with result of m.Run()
	os.Exit(retCode)
}

// linear observes state elements idx directly
func linear(idx ...int) kalman.Observer {
	return func(a gaussian.Arena) (kalman.Linearization, error) {
		return kalman.Linearization{
			Y:   a.GatherMean(idx),
			H:   matrix.Eye(len(idx)),
			Idx: idx,
		}, nil
	}
}

func newMap(t *testing.T, mean []float64, cov *mat.SymDense) *store.Map {
	m := store.New(0)
	s, err := m.Allocate(len(mean))
	require.NoError(t, err)
	require.NoError(t, m.Init(s, mat.NewVecDense(len(mean), mean), cov, nil))
	return m
}

func TestGate(t *testing.T) {
	assert := assert.New(t)

	g, err := Gate(0.95, 2)
	assert.NoError(err)
	assert.InDelta(5.991, g, 1e-3)

	g, err = Gate(0.975, 2)
	assert.NoError(err)
	assert.InDelta(7.378, g, 1e-3)

	for _, test := range []struct {
		p   float64
		dof int
	}{
		{0, 2},
		{1, 2},
		{0.95, 0},
	} {
		_, err := Gate(test.p, test.dof)
		assert.Error(err)
	}
}

func TestNew(t *testing.T) {
	assert := assert.New(t)

	f, err := New(r, okConf)
	assert.NotNil(f)
	assert.NoError(err)
	assert.Equal(okConf, f.Config())

	f, err = New(nil, okConf)
	assert.NotNil(f)
	assert.NoError(err)
	_, ok := f.OutputNoise().(*noise.None)
	assert.True(ok)

	f, err = New(r, Config{Iterations: 0})
	assert.Nil(f)
	assert.Error(err)
}

func TestUpdate(t *testing.T) {
	assert := assert.New(t)

	m := newMap(t, []float64{1, 2}, mat.NewSymDense(2, []float64{1, 0, 0, 1}))

	f, err := New(r, okConf)
	assert.NoError(err)

	err = f.Update(m, mat.NewVecDense(2, []float64{3, 2}), linear(0, 1))
	assert.NoError(err)

	x, P, _ := m.Snapshot()
	assert.InDeltaSlice([]float64{2, 2}, x.RawVector().Data, 1e-12)
	assert.InDelta(0.5, P.At(0, 0), 1e-12)
	assert.InDelta(0.5, P.At(1, 1), 1e-12)
	assert.InDelta(0.0, P.At(0, 1), 1e-12)

	assert.InDeltaSlice([]float64{2, 0}, mat.Col(nil, 0, f.Innovation()), 1e-12)
	assert.InDelta(2.0, f.NIS(), 1e-12)
	assert.InDelta(0.5, f.Gain().At(0, 0), 1e-12)
	assert.InDelta(2.0, f.InnovationCov().At(1, 1), 1e-12)
}

func TestUpdateWithoutOutputNoise(t *testing.T) {
	assert := assert.New(t)

	m := newMap(t, []float64{1, 2}, mat.NewSymDense(2, []float64{1, 0, 0, 1}))

	f, err := New(nil, okConf)
	assert.NoError(err)

	// S = H*P*H' with no noise term for any measurement dimension
	err = f.Update(m, mat.NewVecDense(1, []float64{3}), linear(0))
	assert.NoError(err)
	assert.InDelta(1.0, f.InnovationCov().At(0, 0), 1e-12)
	assert.InDelta(4.0, f.NIS(), 1e-12)

	x, P, _ := m.Snapshot()
	assert.InDeltaSlice([]float64{3, 2}, x.RawVector().Data, 1e-12)
	assert.InDelta(0.0, P.At(0, 0), 1e-12)
	assert.InDelta(1.0, P.At(1, 1), 1e-12)

	// output noise of a different dimension is rejected
	f, err = New(r, okConf)
	assert.NoError(err)
	err = f.Update(m, mat.NewVecDense(1, []float64{3}), linear(0))
	assert.True(errors.Is(err, slam.ErrDimensionMismatch))
}

func TestUpdateCrossCovariance(t *testing.T) {
	assert := assert.New(t)

	m := newMap(t, []float64{0, 0, 5}, mat.NewSymDense(3, []float64{
		1, 0.5, 0,
		0.5, 1, 0,
		0, 0, 1,
	}))

	r1, err := noise.NewIsotropic(1, 1)
	assert.NoError(err)

	f, err := New(r1, okConf)
	assert.NoError(err)

	err = f.Update(m, mat.NewVecDense(1, []float64{1}), linear(0))
	assert.NoError(err)

	x, P, _ := m.Snapshot()
	assert.InDeltaSlice([]float64{0.5, 0.25, 5}, x.RawVector().Data, 1e-12)
	assert.InDelta(0.5, P.At(0, 0), 1e-12)
	assert.InDelta(0.25, P.At(0, 1), 1e-12)
	assert.InDelta(0.875, P.At(1, 1), 1e-12)
	assert.InDelta(1.0, P.At(2, 2), 1e-12)
	assert.InDelta(0.0, P.At(0, 2), 1e-12)
}

func TestUpdateSingular(t *testing.T) {
	assert := assert.New(t)

	m := newMap(t, []float64{1, 2}, mat.NewSymDense(2, []float64{1, 0, 0, 1}))
	x0, P0, ver := m.Snapshot()

	zero, err := noise.NewZero(2)
	assert.NoError(err)

	f, err := New(zero, okConf)
	assert.NoError(err)

	degenerate := func(a gaussian.Arena) (kalman.Linearization, error) {
		return kalman.Linearization{
			Y:   a.GatherMean([]int{0, 1}),
			H:   mat.NewDense(2, 2, []float64{1, 1, 1, 1}),
			Idx: []int{0, 1},
		}, nil
	}

	err = f.Update(m, mat.NewVecDense(2, []float64{3, 2}), degenerate)
	assert.True(errors.Is(err, slam.ErrSingularInnovation))

	x, P, v := m.Snapshot()
	assert.Equal(ver, v)
	assert.Equal(x0.RawVector().Data, x.RawVector().Data)
	assert.Equal(P0.RawSymmetric().Data, P.RawSymmetric().Data)
	assert.True(f.Gain().(*mat.Dense).IsEmpty())
}

func TestUpdateOutlier(t *testing.T) {
	assert := assert.New(t)

	m := newMap(t, []float64{1, 2}, mat.NewSymDense(2, []float64{1, 0, 0, 1}))
	x0, P0, ver := m.Snapshot()

	gate, err := Gate(0.95, 2)
	assert.NoError(err)

	f, err := New(r, Config{Gate: gate, Iterations: 1})
	assert.NoError(err)

	err = f.Update(m, mat.NewVecDense(2, []float64{30, 2}), linear(0, 1))
	assert.True(errors.Is(err, slam.ErrOutlier))

	x, P, v := m.Snapshot()
	assert.Equal(ver, v)
	assert.True(mat.Equal(x0, x))
	assert.True(mat.Equal(P0, P))
}

func TestUpdateInvalid(t *testing.T) {
	assert := assert.New(t)

	m := newMap(t, []float64{1, 2}, mat.NewSymDense(2, []float64{1, 0, 0, 1}))

	f, err := New(r, okConf)
	assert.NoError(err)

	err = f.Update(m, mat.NewVecDense(3, nil), linear(0, 1))
	assert.True(errors.Is(err, slam.ErrDimensionMismatch))

	err = f.Update(m, mat.NewVecDense(1, nil), linear(0))
	assert.True(errors.Is(err, slam.ErrDimensionMismatch))

	failing := func(a gaussian.Arena) (kalman.Linearization, error) {
		return kalman.Linearization{}, slam.ErrProjection
	}
	err = f.Update(m, mat.NewVecDense(2, nil), failing)
	assert.True(errors.Is(err, slam.ErrProjection))
}

func TestUpdateKeepsCovariancePSD(t *testing.T) {
	assert := assert.New(t)

	n := 12
	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		cov.SetSym(i, i, 10)
	}
	m := newMap(t, make([]float64, n), cov)

	rt, err := noise.NewIsotropic(2, 1e-3)
	assert.NoError(err)

	f, err := New(rt, Config{MaxCond: 1e14, Iterations: 1})
	assert.NoError(err)

	rnd := rand.New(rand.NewSource(42))
	for k := 0; k < 1000; k++ {
		i, j := rnd.Intn(n), rnd.Intn(n)
		if i == j {
			j = (j + 1) % n
		}
		H := mat.NewDense(2, 2, []float64{
			rnd.NormFloat64(), rnd.NormFloat64(),
			rnd.NormFloat64(), rnd.NormFloat64(),
		})
		obs := func(a gaussian.Arena) (kalman.Linearization, error) {
			y := &mat.VecDense{}
			y.MulVec(H, a.GatherMean([]int{i, j}))
			return kalman.Linearization{Y: y, H: H, Idx: []int{i, j}}, nil
		}

		z := mat.NewVecDense(2, []float64{rnd.NormFloat64(), rnd.NormFloat64()})
		err := f.Update(m, z, obs)
		if err != nil {
			assert.True(errors.Is(err, slam.ErrSingularInnovation), "update %d: %v", k, err)
			continue
		}

		assert.NoError(matrix.CheckSymPSD(m.Cov(), 1e-9), "update %d", k)
	}
}

func TestIteratedUpdate(t *testing.T) {
	assert := assert.New(t)

	square := func(a gaussian.Arena) (kalman.Linearization, error) {
		x := a.GatherMean([]int{0}).AtVec(0)
		return kalman.Linearization{
			Y:   mat.NewVecDense(1, []float64{x * x}),
			H:   mat.NewDense(1, 1, []float64{2 * x}),
			Idx: []int{0},
		}, nil
	}

	rs, err := noise.NewIsotropic(1, 1e-2)
	assert.NoError(err)

	run := func(iters int) float64 {
		m := newMap(t, []float64{1}, mat.NewSymDense(1, []float64{1}))
		f, err := New(rs, Config{Iterations: iters})
		assert.NoError(err)
		assert.NoError(f.Update(m, mat.NewVecDense(1, []float64{4}), square))
		return m.Val().AtVec(0)
	}

	plain, iterated := run(1), run(10)
	assert.InDelta(2.5, plain, 1e-3)
	assert.InDelta(2.0, iterated, 1e-2)
}

func TestConfigFrom(t *testing.T) {
	assert := assert.New(t)

	c := config.Default()
	c.GateProbability = 0.95

	conf, err := ConfigFrom(c, 2)
	assert.NoError(err)
	assert.InDelta(5.991, conf.Gate, 1e-3)
	assert.Equal(c.MaxCondition, conf.MaxCond)
	assert.Equal(c.Iterations, conf.Iterations)

	_, err = ConfigFrom(c, 0)
	assert.Error(err)
}
