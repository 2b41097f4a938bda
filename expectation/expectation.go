// Package expectation predicts sensor measurements of landmarks and their uncertainty.
package expectation

import (
	"fmt"
	"math"

	slam "github.com/milosgajdos/go-slam"
	"github.com/milosgajdos/go-slam/frame"
	"github.com/milosgajdos/go-slam/gaussian"
	"github.com/milosgajdos/go-slam/landmark"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r2"
)

// Options configures visibility evaluation
type Options struct {
	// Margin is image border margin in pixels
	Margin float64
	// MinJacRatio is the smallest accepted ratio of the projection Jacobian singular values
	MinJacRatio float64
}

// DefaultOptions returns default visibility options
func DefaultOptions() Options {
	return Options{
		Margin:      0,
		MinJacRatio: 1e-6,
	}
}

// Landmark is a landmark whose state occupies a range of the arena
type Landmark interface {
	// Range returns landmark state range
	Range() slam.Range
	// Param returns landmark parametrisation
	Param() landmark.Param
}

// Expectation is a predicted measurement of a landmark by a sensor:
// a Gaussian over measurement space with visibility and information gain.
type Expectation struct {
	// g is the predicted measurement Gaussian
	g *gaussian.Gaussian
	// s is the observing sensor
	s slam.Sensor
	// opts are visibility options
	opts Options
	// idx are state indices the expectation depends on
	idx []int
	// jac is Jacobian of the prediction wrt state at idx
	jac *mat.Dense
	// depth is landmark depth in sensor frame
	depth float64
	// jacRatio is ratio of projection Jacobian singular values
	jacRatio float64
	// err is projection error
	err error
	// visible is visibility flag
	visible bool
	// visComputed is true once visibility has been computed
	visComputed bool
	// infoGain is expected information gain
	infoGain float64
	// gainComputed is true once information gain has been estimated
	gainComputed bool
}

// Compute computes expectation of landmark l measured by sensor s mounted on the robot whose pose
// occupies range r of the state stored in arena a.
// Projection failures do not fail the computation: they make the expectation invisible and are
// reported by Err. Compute returns error if the state does not contain a valid pose.
func Compute(a gaussian.Arena, r gaussian.Ranger, s slam.Sensor, l Landmark, o Options) (*Expectation, error) {
	idx := r.Range().Indices()
	sr, inFilter := s.Range()
	if inFilter {
		idx = append(idx, sr.Indices()...)
	}
	np := len(idx)
	idx = append(idx, l.Range().Indices()...)

	x := a.GatherMean(idx)
	P := a.GatherCov(idx)
	xs := mat.Col(nil, 0, x)
	poses, lx := xs[:np], xs[np:]

	mount := s.Pose()
	sensorPose := func(poses []float64) (frame.Pose, error) {
		rp, err := frame.FromSlice(poses[:slam.PoseSize])
		if err != nil {
			return frame.Pose{}, err
		}

		sp := mount
		if inFilter {
			sp = poses[slam.PoseSize:]
		}

		spp, err := frame.FromSlice(sp)
		if err != nil {
			return frame.Pose{}, err
		}

		return frame.Compose(rp, spp), nil
	}

	ws, err := sensorPose(poses)
	if err != nil {
		return nil, fmt.Errorf("invalid sensor pose: %v", err)
	}

	v, w, Hl := l.Param().Homogeneous(lx)
	ps := frame.ToFrame(ws, v, w)

	e := &Expectation{
		s:     s,
		opts:  o,
		idx:   idx,
		depth: ps.Z,
	}
	if w > 0 {
		e.depth = ps.Z / w
	}

	if w < 0 {
		e.err = fmt.Errorf("negative inverse distance %g: %w", w, slam.ErrProjection)
		return e, nil
	}

	u, U, err := s.ProjectJac(ps)
	if err != nil {
		e.err = err
		return e, nil
	}

	// pose Jacobians
	Jp := mat.NewDense(3, np, nil)
	fd.Jacobian(Jp, func(y, xx []float64) {
		p, err := sensorPose(xx)
		if err != nil {
			panic(err)
		}
		q := frame.ToFrame(p, v, w)
		y[0], y[1], y[2] = q.X, q.Y, q.Z
	}, poses, &fd.JacobianSettings{
		Formula: fd.Central,
	})

	// landmark Jacobian: R' * [I -t] * Hl
	Rt := frame.RotationMatrix(ws.Q).T()
	A := mat.NewDense(3, 4, nil)
	A.Slice(0, 3, 0, 3).(*mat.Dense).Copy(Rt)
	t := mat.NewVecDense(3, []float64{ws.T.X, ws.T.Y, ws.T.Z})
	rt := mat.NewVecDense(3, nil)
	rt.MulVec(Rt, t)
	for i := 0; i < 3; i++ {
		A.Set(i, 3, -rt.AtVec(i))
	}
	Jl := &mat.Dense{}
	Jl.Mul(A, Hl)

	Jps := mat.NewDense(3, len(idx), nil)
	Jps.Slice(0, 3, 0, np).(*mat.Dense).Copy(Jp)
	Jps.Slice(0, 3, np, len(idx)).(*mat.Dense).Copy(Jl)

	J := &mat.Dense{}
	J.Mul(U, Jps)

	g, err := gaussian.NewOwned(mat.NewVecDense(2, []float64{u.X, u.Y}), landmark.Propagate(J, P), 0)
	if err != nil {
		return nil, err
	}

	var svd mat.SVD
	if ok := svd.Factorize(U, mat.SVDNone); ok {
		if vals := svd.Values(nil); vals[0] > 0 {
			e.jacRatio = vals[len(vals)-1] / vals[0]
		}
	}

	e.g = g
	e.jac = J

	return e, nil
}

// Err returns projection error of the expectation or nil
func (e *Expectation) Err() error {
	return e.err
}

// Sensor returns the observing sensor
func (e *Expectation) Sensor() slam.Sensor {
	return e.s
}

// Depth returns landmark depth in sensor frame
func (e *Expectation) Depth() float64 {
	return e.depth
}

// Gaussian returns predicted measurement Gaussian; nil if the projection failed
func (e *Expectation) Gaussian() *gaussian.Gaussian {
	return e.g
}

// Val returns predicted measurement; nil if the projection failed
func (e *Expectation) Val() mat.Vector {
	if e.g == nil {
		return nil
	}

	return e.g.Val()
}

// Cov returns predicted measurement covariance; nil if the projection failed
func (e *Expectation) Cov() mat.Symmetric {
	if e.g == nil {
		return nil
	}

	return e.g.Cov()
}

// Indices returns state indices the expectation depends on
func (e *Expectation) Indices() []int {
	return append([]int(nil), e.idx...)
}

// Jacobian returns Jacobian of the predicted measurement wrt state at Indices; nil if the projection failed
func (e *Expectation) Jacobian() *mat.Dense {
	if e.jac == nil {
		return nil
	}

	jac := &mat.Dense{}
	jac.CloneFrom(e.jac)

	return jac
}

// ComputeVisibility computes expectation visibility.
// Expectation is visible if the landmark projects in front of the sensor, its predicted measurement
// falls inside the image, the predicted covariance is finite and the projection is not degenerate.
func (e *Expectation) ComputeVisibility() {
	e.visComputed = true
	e.visible = false

	if e.err != nil || e.g == nil || e.depth <= 0 {
		return
	}

	u := e.pixel()
	if !e.s.InImage(u, e.opts.Margin) {
		return
	}

	cov := e.g.Cov()
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			if v := cov.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				return
			}
		}
	}

	e.visible = e.jacRatio >= e.opts.MinJacRatio
}

// IsVisible returns expectation visibility; false if visibility has not been computed
func (e *Expectation) IsVisible() bool {
	return e.visComputed && e.visible
}

// Visible returns expectation visibility.
// It returns slam.ErrNotComputed if ComputeVisibility has not been called.
func (e *Expectation) Visible() (bool, error) {
	if !e.visComputed {
		return false, slam.ErrNotComputed
	}

	return e.visible, nil
}

// EstimateInfoGain estimates information gain of updating the state with this expectation.
// The gain decreases with the area of the predicted uncertainty ellipse, sqrt(det(cov)),
// and with the proximity of the predicted measurement to the image border.
// Expectations whose projection failed have zero gain.
func (e *Expectation) EstimateInfoGain() {
	e.gainComputed = true
	e.infoGain = 0

	if e.err != nil || e.g == nil {
		return
	}

	det := mat.Det(e.g.Cov())
	if math.IsNaN(det) || math.IsInf(det, 0) {
		return
	}

	e.infoGain = e.borderWeight() / (1 + math.Sqrt(math.Max(det, 0)))
}

// InfoGain returns expected information gain; zero if it has not been estimated
func (e *Expectation) InfoGain() float64 {
	if !e.gainComputed {
		return 0
	}

	return e.infoGain
}

// Gain returns expected information gain.
// It returns slam.ErrNotComputed if EstimateInfoGain has not been called.
func (e *Expectation) Gain() (float64, error) {
	if !e.gainComputed {
		return 0, slam.ErrNotComputed
	}

	return e.infoGain, nil
}

// borderWeight returns weight in [0.5, 1] growing with the distance of the predicted
// measurement from the image border.
func (e *Expectation) borderWeight() float64 {
	u := e.pixel()
	size := e.s.ImageSize()

	d := math.Min(math.Min(u.X, size.X-u.X), math.Min(u.Y, size.Y-u.Y))
	half := 0.5 * math.Min(size.X, size.Y)
	if half <= 0 {
		return 0.5
	}

	b := math.Max(0, math.Min(1, d/half))

	return 0.5 + 0.5*b
}

func (e *Expectation) pixel() r2.Vec {
	mean := e.g.Val()
	return r2.Vec{X: mean.AtVec(0), Y: mean.AtVec(1)}
}

// String implements the Stringer interface.
func (e *Expectation) String() string {
	if e.g == nil {
		return fmt.Sprintf("Expectation{Err=%v}", e.err)
	}

	return fmt.Sprintf("Expectation{\nVisible=%t InfoGain=%g Depth=%g\n%v\n}", e.IsVisible(), e.InfoGain(), e.depth, e.g)
}
