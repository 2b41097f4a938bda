package slam

import (
	"context"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

// PoseSize is the size of a pose: position followed by orientation quaternion [x y z qw qx qy qz]
const PoseSize = 7

// Range is a contiguous index range of the shared state
type Range struct {
	// Start is the first index of the range
	Start int
	// Len is the number of indices in the range
	Len int
}

// End returns the index one past the last index of the range
func (r Range) End() int {
	return r.Start + r.Len
}

// Indices returns all state indices covered by the range
func (r Range) Indices() []int {
	idx := make([]int, r.Len)
	for i := range idx {
		idx[i] = r.Start + i
	}

	return idx
}

// Sensor projects geometry expressed in its own frame to measurement space.
type Sensor interface {
	// Project projects point or direction vector v to measurement space
	Project(v r3.Vec) (r2.Vec, error)
	// ProjectJac projects v and returns the Jacobian of the projection wrt v
	ProjectJac(v r3.Vec) (r2.Vec, *mat.Dense, error)
	// InImage returns true if u lies inside the sensor image shrunk by margin pixels
	InImage(u r2.Vec, margin float64) bool
	// ImageSize returns sensor image width and height
	ImageSize() r2.Vec
	// Pose returns the sensor mount pose relative to the robot
	Pose() []float64
	// Range returns the sensor pose state range if the pose is estimated
	Range() (Range, bool)
	// Size returns the size of the sensor pose
	Size() int
}

// Propagator propagates internal state of the system to the next step
type Propagator interface {
	// Propagate propagates internal state of the system to the next step
	Propagate(x, u, q mat.Vector) (mat.Vector, error)
}

// Estimate is a Gaussian estimate
type Estimate interface {
	// Val returns estimate value
	Val() mat.Vector
	// Cov returns estimate covariance
	Cov() mat.Symmetric
}

// Noise is dynamical system noise
type Noise interface {
	// Mean returns noise mean
	Mean() []float64
	// Cov returns covariance matrix of the noise
	Cov() mat.Symmetric
	// Sample returns a sample of the noise
	Sample() mat.Vector
	// Reset resets the noise
	Reset() error
}

// MatchRequest is a predicted measurement handed over to the front end.
type MatchRequest struct {
	// Sensor is the observing sensor
	Sensor Sensor
	// Landmark is the landmark id
	Landmark uuid.UUID
	// Descriptor is the opaque landmark descriptor
	Descriptor any
	// Mean is the predicted measurement
	Mean mat.Vector
	// Cov is the predicted measurement covariance
	Cov mat.Symmetric
}

// Matcher matches predicted measurements against raw sensor data
type Matcher interface {
	// Match returns matched measurement or false if no match was found
	Match(ctx context.Context, req MatchRequest) (mat.Vector, bool, error)
}
