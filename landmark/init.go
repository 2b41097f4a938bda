package landmark

import (
	"fmt"

	slam "github.com/milosgajdos/go-slam"
	"github.com/milosgajdos/go-slam/frame"
	"github.com/milosgajdos/go-slam/matrix"
	"github.com/milosgajdos/go-slam/store"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

// BackProjector is a sensor able to back-project pixels to rays in its own frame
type BackProjector interface {
	slam.Sensor
	// BackProject returns ray direction of pixel u in sensor frame
	BackProject(u r2.Vec) r3.Vec
}

// Ranger provides a state range
type Ranger interface {
	// Range returns state range
	Range() slam.Range
}

// InitEuclidean allocates Euclidean landmark at point p with covariance cov in map m.
// The landmark is not correlated with the rest of the state.
func InitEuclidean(m *store.Map, p r3.Vec, cov mat.Symmetric, desc any) (*Landmark, error) {
	return New(m, Euclidean{}, mat.NewVecDense(3, []float64{p.X, p.Y, p.Z}), cov, nil, desc)
}

// InitInverseDepth allocates inverse depth landmark in map m from pixel u observed by sensor s
// mounted on the robot whose pose occupies range r of m.
// The anchor of the landmark is the sensor position, its ray is the back-projection of u and
// its inverse distance is rho with standard deviation sigmaRho.
// Landmark covariance and its cross-covariance with the rest of the state are obtained
// by propagating the pose covariance and the pixel noise covariance pix through the
// initialization Jacobian.
// It returns error if the inputs are invalid or the map rejects the new landmark.
func InitInverseDepth(m *store.Map, r Ranger, s BackProjector, u r2.Vec, pix mat.Symmetric, rho, sigmaRho float64, desc any) (*Landmark, error) {
	if pix.SymmetricDim() != 2 {
		return nil, fmt.Errorf("invalid pixel noise dimension %d: %w", pix.SymmetricDim(), slam.ErrDimensionMismatch)
	}

	if rho < 0 || sigmaRho <= 0 {
		return nil, fmt.Errorf("invalid inverse distance prior: %g +- %g", rho, sigmaRho)
	}

	idx := r.Range().Indices()
	sr, inFilter := s.Range()
	if inFilter {
		idx = append(idx, sr.Indices()...)
	}
	np := len(idx)

	mount := s.Pose()
	init := func(y, x []float64) {
		rp, err := frame.FromSlice(x[:slam.PoseSize])
		if err != nil {
			panic(err)
		}

		sp := mount
		if inFilter {
			sp = x[slam.PoseSize:np]
		}

		spp, err := frame.FromSlice(sp)
		if err != nil {
			panic(err)
		}

		ws := frame.Compose(rp, spp)
		d := frame.Rotate(ws.Q, s.BackProject(r2.Vec{X: x[np], Y: x[np+1]}))
		theta, phi := Angles(d)

		y[0], y[1], y[2] = ws.T.X, ws.T.Y, ws.T.Z
		y[3], y[4], y[5] = theta, phi, rho
	}

	x := append(mat.Col(nil, 0, m.GatherMean(idx)), u.X, u.Y)
	if _, err := frame.FromSlice(x[:slam.PoseSize]); err != nil {
		return nil, fmt.Errorf("invalid robot pose: %v", err)
	}

	mean := make([]float64, 6)
	init(mean, x)

	J := mat.NewDense(6, np+2, nil)
	fd.Jacobian(J, init, x, &fd.JacobianSettings{
		Formula: fd.Central,
	})
	Jp := J.Slice(0, 6, 0, np)
	Ju := J.Slice(0, 6, np, np+2)

	// cross-covariance with the existing state: Jp * P(pose, :)
	cols := m.GatherCols(idx)
	cross := &mat.Dense{}
	cross.Mul(Jp, cols.T())

	cov := mat.NewDense(6, 6, nil)
	cov.Add(Propagate(Jp, m.GatherCov(idx)), Propagate(Ju, pix))
	cov.Set(5, 5, cov.At(5, 5)+sigmaRho*sigmaRho)

	return New(m, InverseDepth{}, mat.NewVecDense(6, mean), matrix.Symmetrize(cov), cross, desc)
}
