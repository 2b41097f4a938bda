// Package frame implements 3D rigid frames parametrised by position and orientation quaternion.
package frame

import (
	"fmt"
	"math"

	slam "github.com/milosgajdos/go-slam"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Pose is a frame given by its origin T and orientation Q in the parent frame
type Pose struct {
	// T is frame origin
	T r3.Vec
	// Q is frame orientation
	Q quat.Number
}

// Identity returns identity pose
func Identity() Pose {
	return Pose{Q: quat.Number{Real: 1}}
}

// FromSlice creates pose from [x y z qw qx qy qz] and returns it.
// It returns error if p does not have slam.PoseSize elements or its quaternion is zero.
func FromSlice(p []float64) (Pose, error) {
	if len(p) != slam.PoseSize {
		return Pose{}, fmt.Errorf("invalid pose length %d: %w", len(p), slam.ErrDimensionMismatch)
	}

	q := quat.Number{Real: p[3], Imag: p[4], Jmag: p[5], Kmag: p[6]}
	if quat.Abs(q) == 0 {
		return Pose{}, fmt.Errorf("zero orientation quaternion")
	}

	return Pose{T: r3.Vec{X: p[0], Y: p[1], Z: p[2]}, Q: q}, nil
}

// FromVec creates pose from state vector v starting at index i
func FromVec(v mat.Vector, i int) (Pose, error) {
	p := make([]float64, slam.PoseSize)
	for k := range p {
		p[k] = v.AtVec(i + k)
	}

	return FromSlice(p)
}

// Slice returns pose as [x y z qw qx qy qz]
func (p Pose) Slice() []float64 {
	return []float64{p.T.X, p.T.Y, p.T.Z, p.Q.Real, p.Q.Imag, p.Q.Jmag, p.Q.Kmag}
}

// Normalize returns pose with unit orientation quaternion
func (p Pose) Normalize() Pose {
	return Pose{T: p.T, Q: quat.Scale(1/quat.Abs(p.Q), p.Q)}
}

// Rotate rotates v by the orientation q. q does not have to be unit.
func Rotate(q quat.Number, v r3.Vec) r3.Vec {
	r := quat.Mul(quat.Mul(q, quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}), quat.Inv(q))
	return r3.Vec{X: r.Imag, Y: r.Jmag, Z: r.Kmag}
}

// RotateInv rotates v by the inverse of the orientation q
func RotateInv(q quat.Number, v r3.Vec) r3.Vec {
	return Rotate(quat.Inv(q), v)
}

// Compose returns pose b, given in frame a, expressed in the parent frame of a
func Compose(a, b Pose) Pose {
	t := Rotate(a.Q, b.T)
	return Pose{
		T: r3.Vec{X: a.T.X + t.X, Y: a.T.Y + t.Y, Z: a.T.Z + t.Z},
		Q: quat.Mul(a.Q, b.Q),
	}
}

// ToFrame transforms homogeneous point (v, w) given in the parent frame into frame p.
// For w == 1 v is a point, for w == 0 v is a direction.
func ToFrame(p Pose, v r3.Vec, w float64) r3.Vec {
	d := r3.Vec{X: v.X - w*p.T.X, Y: v.Y - w*p.T.Y, Z: v.Z - w*p.T.Z}
	return RotateInv(p.Q, d)
}

// FromFrame transforms point v given in frame p into the parent frame
func FromFrame(p Pose, v r3.Vec) r3.Vec {
	r := Rotate(p.Q, v)
	return r3.Vec{X: r.X + p.T.X, Y: r.Y + p.T.Y, Z: r.Z + p.T.Z}
}

// RotationMatrix returns the 3x3 rotation matrix of the orientation q
func RotationMatrix(q quat.Number) *mat.Dense {
	q = quat.Scale(1/quat.Abs(q), q)
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag

	return mat.NewDense(3, 3, []float64{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y),
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x),
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y),
	})
}

// FromEuler returns orientation quaternion from roll, pitch and yaw angles in radians
func FromEuler(roll, pitch, yaw float64) quat.Number {
	cr, sr := math.Cos(roll/2), math.Sin(roll/2)
	cp, sp := math.Cos(pitch/2), math.Sin(pitch/2)
	cy, sy := math.Cos(yaw/2), math.Sin(yaw/2)

	return quat.Number{
		Real: cr*cp*cy + sr*sp*sy,
		Imag: sr*cp*cy - cr*sp*sy,
		Jmag: cr*sp*cy + sr*cp*sy,
		Kmag: cr*cp*sy - sr*sp*cy,
	}
}
