package sim

import (
	"fmt"

	slam "github.com/milosgajdos/go-slam"
	"github.com/milosgajdos/go-slam/frame"
	"gonum.org/v1/gonum/mat"
)

// Odometry is a motion model composing the robot pose with a pose increment.
// Input u is [dx dy dz roll pitch yaw] given in the robot frame.
type Odometry struct{}

// Propagate propagates pose x by increment u and adds pose noise q to the result.
// q must either be empty or have the size of the pose.
// It returns error if either x or u is invalid.
func (Odometry) Propagate(x, u, q mat.Vector) (mat.Vector, error) {
	if u.Len() != 6 {
		return nil, fmt.Errorf("invalid odometry input length: %d", u.Len())
	}

	p, err := frame.FromVec(x, 0)
	if err != nil {
		return nil, err
	}

	step := frame.Pose{Q: frame.FromEuler(u.AtVec(3), u.AtVec(4), u.AtVec(5))}
	step.T.X, step.T.Y, step.T.Z = u.AtVec(0), u.AtVec(1), u.AtVec(2)

	next := mat.NewVecDense(slam.PoseSize, frame.Compose(p, step).Slice())

	if q != nil && q.Len() > 0 {
		if q.Len() != slam.PoseSize {
			return nil, fmt.Errorf("invalid pose noise length: %d", q.Len())
		}
		next.AddVec(next, q)
	}

	return next, nil
}
