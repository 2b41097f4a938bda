package frame

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

const delta = 1e-9

func assertVec(t *testing.T, exp, got r3.Vec) {
	assert.InDelta(t, exp.X, got.X, delta)
	assert.InDelta(t, exp.Y, got.Y, delta)
	assert.InDelta(t, exp.Z, got.Z, delta)
}

func TestFromSlice(t *testing.T) {
	assert := assert.New(t)

	p, err := FromSlice([]float64{1, 2, 3, 1, 0, 0, 0})
	assert.NoError(err)
	assert.Equal([]float64{1, 2, 3, 1, 0, 0, 0}, p.Slice())

	_, err = FromSlice([]float64{1, 2, 3})
	assert.Error(err)

	_, err = FromSlice([]float64{1, 2, 3, 0, 0, 0, 0})
	assert.Error(err)

	v := mat.NewVecDense(8, []float64{9, 1, 2, 3, 1, 0, 0, 0})
	p, err = FromVec(v, 1)
	assert.NoError(err)
	assert.Equal(r3.Vec{X: 1, Y: 2, Z: 3}, p.T)
}

func TestRotate(t *testing.T) {
	// 90 degrees about z
	q := FromEuler(0, 0, math.Pi/2)
	assertVec(t, r3.Vec{X: 0, Y: 1, Z: 0}, Rotate(q, r3.Vec{X: 1}))
	assertVec(t, r3.Vec{X: 1, Y: 0, Z: 0}, RotateInv(q, r3.Vec{Y: 1}))

	// non-unit quaternions rotate the same way
	q2 := q
	q2.Real, q2.Kmag = 3*q.Real, 3*q.Kmag
	assertVec(t, r3.Vec{X: 0, Y: 1, Z: 0}, Rotate(q2, r3.Vec{X: 1}))

	R := RotationMatrix(FromEuler(0.1, -0.3, 0.7))
	v := r3.Vec{X: 0.3, Y: -1.2, Z: 2}
	got := Rotate(FromEuler(0.1, -0.3, 0.7), v)
	exp := mat.NewVecDense(3, nil)
	exp.MulVec(R, mat.NewVecDense(3, []float64{v.X, v.Y, v.Z}))
	assertVec(t, r3.Vec{X: exp.AtVec(0), Y: exp.AtVec(1), Z: exp.AtVec(2)}, got)
}

func TestFrameRoundTrip(t *testing.T) {
	p := Pose{T: r3.Vec{X: 1, Y: -2, Z: 0.5}, Q: FromEuler(0.2, 0.1, -1.1)}
	v := r3.Vec{X: 4, Y: 5, Z: 6}

	local := ToFrame(p, v, 1)
	assertVec(t, v, FromFrame(p, local))

	// directions are not translated
	dir := ToFrame(p, v, 0)
	assertVec(t, RotateInv(p.Q, v), dir)
}

func TestCompose(t *testing.T) {
	a := Pose{T: r3.Vec{X: 1}, Q: FromEuler(0, 0, math.Pi/2)}
	b := Pose{T: r3.Vec{X: 1}, Q: Identity().Q}

	c := Compose(a, b)
	assertVec(t, r3.Vec{X: 1, Y: 1}, c.T)

	v := r3.Vec{X: 0.5, Y: 0.2, Z: 3}
	assertVec(t, FromFrame(a, FromFrame(b, v)), FromFrame(c, v))
}
