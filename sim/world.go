package sim

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	slam "github.com/milosgajdos/go-slam"
	"github.com/milosgajdos/go-slam/frame"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// World is a synthetic world of point landmarks observed by a moving robot.
// World implements slam.Matcher by projecting true landmark positions from the true robot pose.
type World struct {
	mu sync.Mutex
	// points are true landmark positions
	points []r3.Vec
	// ids maps registered landmarks to points
	ids map[uuid.UUID]int
	// pose is true robot pose
	pose frame.Pose
	// pix is pixel noise
	pix slam.Noise
	// dropout is the probability of a missed match
	dropout float64
	// rnd is the dropout source
	rnd *rand.Rand
}

// NewWorld creates new World with n landmarks scattered uniformly in the box spanned by from and to.
// pix is the pixel noise added to matched measurements and may be nil.
// It returns error if n is not positive or the box is empty.
func NewWorld(n int, from, to r3.Vec, pix slam.Noise, seed uint64) (*World, error) {
	if n <= 0 {
		return nil, fmt.Errorf("invalid number of landmarks: %d", n)
	}

	lo, hi := []float64{from.X, from.Y, from.Z}, []float64{to.X, to.Y, to.Z}
	span := make([]float64, 3)
	floats.SubTo(span, hi, lo)
	if floats.Min(span) <= 0 {
		return nil, fmt.Errorf("invalid world box: %v %v", from, to)
	}

	rnd := rand.New(rand.NewSource(seed))
	points := make([]r3.Vec, n)
	for i := range points {
		p := make([]float64, 3)
		for j := range p {
			p[j] = lo[j] + rnd.Float64()*span[j]
		}
		points[i] = r3.Vec{X: p[0], Y: p[1], Z: p[2]}
	}

	return &World{
		points: points,
		ids:    make(map[uuid.UUID]int),
		pose:   frame.Identity(),
		pix:    pix,
		rnd:    rnd,
	}, nil
}

// Points returns true landmark positions
func (w *World) Points() []r3.Vec {
	return append([]r3.Vec(nil), w.points...)
}

// Register associates landmark id with the i-th world point
func (w *World) Register(id uuid.UUID, i int) error {
	if i < 0 || i >= len(w.points) {
		return fmt.Errorf("invalid point index: %d", i)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.ids[id] = i

	return nil
}

// SetPose sets true robot pose
func (w *World) SetPose(p frame.Pose) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pose = p
}

// Pose returns true robot pose
func (w *World) Pose() frame.Pose {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pose
}

// SetDropout sets the probability of missing a match
func (w *World) SetDropout(p float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.dropout = p
}

// Observe returns true pixel of the i-th world point seen by sensor s and false if it is not visible
func (w *World) Observe(s slam.Sensor, i int) (mat.Vector, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	z, ok := w.observe(s, i)
	if !ok {
		return nil, false
	}

	return z, true
}

func (w *World) observe(s slam.Sensor, i int) (*mat.VecDense, bool) {
	mount, err := frame.FromSlice(s.Pose())
	if err != nil {
		return nil, false
	}

	ws := frame.Compose(w.pose, mount)
	u, err := s.Project(frame.ToFrame(ws, w.points[i], 1))
	if err != nil || !s.InImage(u, 0) {
		return nil, false
	}

	return mat.NewVecDense(2, []float64{u.X, u.Y}), true
}

// Match implements slam.Matcher.
// It returns noisy true pixel of the landmark in req or false if the landmark is not visible,
// has been dropped out or is not registered.
func (w *World) Match(ctx context.Context, req slam.MatchRequest) (mat.Vector, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	i, ok := w.ids[req.Landmark]
	if !ok {
		return nil, false, nil
	}

	if w.dropout > 0 && w.rnd.Float64() < w.dropout {
		return nil, false, nil
	}

	z, ok := w.observe(req.Sensor, i)
	if !ok {
		return nil, false, nil
	}

	if w.pix != nil && w.pix.Cov().SymmetricDim() == 2 {
		z.AddVec(z, w.pix.Sample())
	}

	return z, true, nil
}
