// Package sensor implements measurement sensors.
package sensor

import (
	"fmt"
	"math"

	slam "github.com/milosgajdos/go-slam"
	"github.com/milosgajdos/go-slam/frame"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

// Config is PinHole sensor configuration
type Config struct {
	// Intrinsic is [u0 v0 au av]: principal point and focal lengths in pixels
	Intrinsic [4]float64
	// Distortion is radial distortion [d2 d4 ...]
	Distortion []float64
	// Correction is radial distortion correction [c2 c4 ...]
	Correction []float64
	// Width is image width in pixels
	Width float64
	// Height is image height in pixels
	Height float64
	// Pose is sensor mount pose on the robot; identity if nil
	Pose []float64
}

type ranger interface {
	Range() slam.Range
}

// PinHole is a pin-hole camera with polynomial radial distortion
type PinHole struct {
	// k is intrinsic vector [u0 v0 au av]
	k [4]float64
	// d is distortion vector
	d []float64
	// c is correction vector
	c []float64
	// size is image size
	size r2.Vec
	// pose is mount pose
	pose []float64
	// slot is the in-filter pose slot
	slot ranger
}

// New creates new PinHole sensor configured by c and returns it.
// It returns error if either the calibration, image size or the pose is invalid.
func New(c Config) (*PinHole, error) {
	p := &PinHole{}
	if err := p.SetParameters(c.Intrinsic, c.Distortion, c.Correction); err != nil {
		return nil, err
	}

	if err := p.SetImageSize(c.Width, c.Height); err != nil {
		return nil, err
	}

	pose := c.Pose
	if pose == nil {
		pose = frame.Identity().Slice()
	}

	if err := p.SetPose(pose); err != nil {
		return nil, err
	}

	return p, nil
}

// SetParameters sets sensor calibration: intrinsic vector k = [u0 v0 au av],
// radial distortion d = [d2 d4 ...] and distortion correction c = [c2 c4 ...].
// It returns error if either of the focal lengths is not positive.
func (p *PinHole) SetParameters(k [4]float64, d, c []float64) error {
	if k[2] <= 0 || k[3] <= 0 {
		return fmt.Errorf("invalid focal lengths: [%g %g]", k[2], k[3])
	}

	p.k = k
	p.d = append([]float64(nil), d...)
	p.c = append([]float64(nil), c...)

	return nil
}

// SetImageSize sets image size in pixels.
// It returns error if either dimension is not positive.
func (p *PinHole) SetImageSize(w, h float64) error {
	if w <= 0 || h <= 0 {
		return fmt.Errorf("invalid image size: [%g x %g]", w, h)
	}
	p.size = r2.Vec{X: w, Y: h}

	return nil
}

// SetPose sets sensor mount pose.
func (p *PinHole) SetPose(pose []float64) error {
	if _, err := frame.FromSlice(pose); err != nil {
		return err
	}
	p.pose = append([]float64(nil), pose...)

	return nil
}

// Attach makes the sensor pose part of the filter state given by r.
// The mount pose is then read from the state instead of Pose.
func (p *PinHole) Attach(r ranger) error {
	if r.Range().Len != p.Size() {
		return fmt.Errorf("sensor pose range %d: %w", r.Range().Len, slam.ErrDimensionMismatch)
	}
	p.slot = r

	return nil
}

// Intrinsic returns intrinsic vector [u0 v0 au av]
func (p *PinHole) Intrinsic() [4]float64 {
	return p.k
}

// Distortion returns radial distortion coefficients
func (p *PinHole) Distortion() []float64 {
	return append([]float64(nil), p.d...)
}

// Correction returns radial distortion correction coefficients
func (p *PinHole) Correction() []float64 {
	return append([]float64(nil), p.c...)
}

// ImageSize returns image width and height
func (p *PinHole) ImageSize() r2.Vec {
	return p.size
}

// Pose returns sensor mount pose
func (p *PinHole) Pose() []float64 {
	return append([]float64(nil), p.pose...)
}

// Range returns sensor pose state range if the sensor pose is estimated
func (p *PinHole) Range() (slam.Range, bool) {
	if p.slot == nil {
		return slam.Range{}, false
	}

	return p.slot.Range(), true
}

// Size returns size of the sensor pose
func (p *PinHole) Size() int {
	return slam.PoseSize
}

// InImage returns true if u lies inside the image shrunk by margin pixels
func (p *PinHole) InImage(u r2.Vec, margin float64) bool {
	return u.X >= margin && u.X <= p.size.X-margin &&
		u.Y >= margin && u.Y <= p.size.Y-margin
}

// Project implements slam.Sensor
func (p *PinHole) Project(v r3.Vec) (r2.Vec, error) {
	return p.ProjectPoint(v)
}

// ProjectJac implements slam.Sensor
func (p *PinHole) ProjectJac(v r3.Vec) (r2.Vec, *mat.Dense, error) {
	return p.ProjectPointJac(v)
}

// ProjectPoint projects point or direction vector v given in sensor frame to pixel coordinates.
// It returns error wrapping slam.ErrProjection if v is not in front of the sensor.
func (p *PinHole) ProjectPoint(v r3.Vec) (r2.Vec, error) {
	if err := checkFront(v); err != nil {
		return r2.Vec{}, err
	}

	xn, yn := v.X/v.Z, v.Y/v.Z
	s := p.distortFactor(xn*xn + yn*yn)

	return r2.Vec{
		X: p.k[0] + p.k[2]*s*xn,
		Y: p.k[1] + p.k[3]*s*yn,
	}, nil
}

// ProjectPointJac projects v given in sensor frame to pixel coordinates and returns
// the projected point together with 2x3 Jacobian of the projection wrt v.
// It returns error wrapping slam.ErrProjection if v is not in front of the sensor.
func (p *PinHole) ProjectPointJac(v r3.Vec) (r2.Vec, *mat.Dense, error) {
	u, err := p.ProjectPoint(v)
	if err != nil {
		return r2.Vec{}, nil, err
	}

	// normalization
	iz := 1 / v.Z
	xn, yn := v.X*iz, v.Y*iz
	N := mat.NewDense(2, 3, []float64{
		iz, 0, -xn * iz,
		0, iz, -yn * iz,
	})

	// distortion
	rr := xn*xn + yn*yn
	s := p.distortFactor(rr)
	ds := p.distortFactorDeriv(rr)
	D := mat.NewDense(2, 2, []float64{
		s + 2*xn*xn*ds, 2 * xn * yn * ds,
		2 * xn * yn * ds, s + 2*yn*yn*ds,
	})

	// pixel scaling
	K := mat.NewDiagDense(2, []float64{p.k[2], p.k[3]})

	U := mat.NewDense(2, 3, nil)
	U.Product(K, D, N)

	return u, U, nil
}

// Undistort maps pixel u to its undistorted normalized image coordinates using the correction model
func (p *PinHole) Undistort(u r2.Vec) r2.Vec {
	xd := (u.X - p.k[0]) / p.k[2]
	yd := (u.Y - p.k[1]) / p.k[3]
	c := 1.0
	rr := xd*xd + yd*yd
	ri := rr
	for _, ci := range p.c {
		c += ci * ri
		ri *= rr
	}

	return r2.Vec{X: c * xd, Y: c * yd}
}

// BackProject returns direction vector in sensor frame of the ray through pixel u.
// The returned vector has unit depth.
func (p *PinHole) BackProject(u r2.Vec) r3.Vec {
	n := p.Undistort(u)
	return r3.Vec{X: n.X, Y: n.Y, Z: 1}
}

func (p *PinHole) distortFactor(rr float64) float64 {
	s := 1.0
	ri := rr
	for _, di := range p.d {
		s += di * ri
		ri *= rr
	}

	return s
}

func (p *PinHole) distortFactorDeriv(rr float64) float64 {
	ds := 0.0
	ri := 1.0
	for i, di := range p.d {
		ds += float64(i+1) * di * ri
		ri *= rr
	}

	return ds
}

func checkFront(v r3.Vec) error {
	if math.IsNaN(v.X) || math.IsNaN(v.Y) || math.IsNaN(v.Z) || math.IsInf(v.Z, 0) {
		return fmt.Errorf("non-finite point %v: %w", v, slam.ErrProjection)
	}

	if v.Z <= 0 {
		return fmt.Errorf("point behind sensor, depth %g: %w", v.Z, slam.ErrProjection)
	}

	return nil
}
