package landmark

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Param is landmark geometry parametrisation
type Param interface {
	// Size returns parameter size
	Size() int
	// SizeNonObs returns number of trailing non-observable parameters
	SizeNonObs() int
	// Homogeneous returns homogeneous world point (v, w) of parameters x
	// together with its 4 x Size Jacobian wrt x
	Homogeneous(x []float64) (r3.Vec, float64, *mat.Dense)
}

// Euclidean is a 3D point [x y z]
type Euclidean struct{}

// Size returns parameter size
func (Euclidean) Size() int { return 3 }

// SizeNonObs returns number of non-observable parameters
func (Euclidean) SizeNonObs() int { return 0 }

// Homogeneous returns homogeneous point (x, 1)
func (Euclidean) Homogeneous(x []float64) (r3.Vec, float64, *mat.Dense) {
	H := mat.NewDense(4, 3, []float64{
		1, 0, 0,
		0, 1, 0,
		0, 0, 1,
		0, 0, 0,
	})

	return r3.Vec{X: x[0], Y: x[1], Z: x[2]}, 1, H
}

// InverseDepth is a point [x0 y0 z0 theta phi rho] given by the anchor x0 it was first
// observed from, azimuth theta and elevation phi of the ray and the inverse distance rho
// along the ray. Inverse distance is non-observable until parallax builds up.
type InverseDepth struct{}

// Size returns parameter size
func (InverseDepth) Size() int { return 6 }

// SizeNonObs returns number of non-observable parameters
func (InverseDepth) SizeNonObs() int { return 1 }

// Homogeneous returns homogeneous point (rho*x0 + m(theta, phi), rho)
func (InverseDepth) Homogeneous(x []float64) (r3.Vec, float64, *mat.Dense) {
	m, dmt, dmp := Ray(x[3], x[4])
	rho := x[5]

	H := mat.NewDense(4, 6, []float64{
		rho, 0, 0, dmt.X, dmp.X, x[0],
		0, rho, 0, dmt.Y, dmp.Y, x[1],
		0, 0, rho, dmt.Z, dmp.Z, x[2],
		0, 0, 0, 0, 0, 1,
	})

	v := r3.Vec{X: rho*x[0] + m.X, Y: rho*x[1] + m.Y, Z: rho*x[2] + m.Z}

	return v, rho, H
}

// Ray returns unit direction vector of azimuth theta and elevation phi
// together with its derivatives wrt theta and phi.
func Ray(theta, phi float64) (m, dTheta, dPhi r3.Vec) {
	st, ct := math.Sincos(theta)
	sp, cp := math.Sincos(phi)

	m = r3.Vec{X: cp * st, Y: -sp, Z: cp * ct}
	dTheta = r3.Vec{X: cp * ct, Y: 0, Z: -cp * st}
	dPhi = r3.Vec{X: -sp * st, Y: -cp, Z: -sp * ct}

	return m, dTheta, dPhi
}

// Angles returns azimuth and elevation of direction d
func Angles(d r3.Vec) (theta, phi float64) {
	theta = math.Atan2(d.X, d.Z)
	phi = math.Atan2(-d.Y, math.Hypot(d.X, d.Z))

	return theta, phi
}
