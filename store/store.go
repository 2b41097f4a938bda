package store

import (
	"fmt"
	"sort"
	"sync"

	slam "github.com/milosgajdos/go-slam"
	"github.com/milosgajdos/go-slam/gaussian"
	"github.com/milosgajdos/go-slam/matrix"
	"gonum.org/v1/gonum/mat"
)

// Slot is a state range allocated by Map.
// Slot ranges are updated in place when the map is compacted.
type Slot struct {
	r        slam.Range
	released bool
}

// Range returns current slot range
func (s *Slot) Range() slam.Range {
	return s.r
}

// Released returns true if the slot has been released
func (s *Slot) Released() bool {
	return s.released
}

// Map owns the shared state mean and covariance.
// Entities reference disjoint slots of the state; all mutations go through the Map.
type Map struct {
	mu sync.RWMutex
	// mean is the state mean
	mean *mat.VecDense
	// cov is the state covariance
	cov *mat.SymDense
	// slots are allocated slots ordered by their start index
	slots []*Slot
	// version is incremented on every mutation
	version uint64
	// tol is symmetry and PSD check tolerance
	tol float64
}

// New creates new empty Map with symmetry and PSD tolerance tol and returns it.
// If tol is non-positive matrix.DefaultTol is used.
func New(tol float64) *Map {
	if tol <= 0 {
		tol = matrix.DefaultTol
	}

	return &Map{
		mean: &mat.VecDense{},
		cov:  &mat.SymDense{},
		tol:  tol,
	}
}

// Size returns state size
func (m *Map) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.size()
}

func (m *Map) size() int {
	if m.mean.IsEmpty() {
		return 0
	}

	return m.mean.Len()
}

// Version returns state version. It changes after every mutation.
func (m *Map) Version() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.version
}

// Tol returns symmetry and PSD check tolerance
func (m *Map) Tol() float64 {
	return m.tol
}

// Allocate allocates n new state dimensions at the end of the state and returns their slot.
// New dimensions have zero mean and zero covariance until initialized.
// It returns error wrapping slam.ErrDimensionMismatch if n is not positive.
func (m *Map) Allocate(n int) (*Slot, error) {
	if n <= 0 {
		return nil, fmt.Errorf("invalid allocation size %d: %w", n, slam.ErrDimensionMismatch)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	size := m.size()
	mean := mat.NewVecDense(size+n, nil)
	cov := mat.NewSymDense(size+n, nil)
	if size > 0 {
		mean.SliceVec(0, size).(*mat.VecDense).CopyVec(m.mean)
		cov.SliceSym(0, size).(*mat.SymDense).CopySym(m.cov)
	}

	s := &Slot{r: slam.Range{Start: size, Len: n}}
	m.slots = append(m.slots, s)
	m.mean, m.cov = mean, cov
	m.version++

	return s, nil
}

// Init sets the mean and covariance of slot s and its cross-covariance with the rest of the state.
// cross is either nil, which zeroes all cross terms, or a matrix of size s.Len x Size() whose
// columns falling into s are ignored.
// It returns error if the slot is not allocated, the dimensions do not match or the resulting
// covariance is not symmetric positive semi-definite. The state is unchanged on error.
func (m *Map) Init(s *Slot, mean mat.Vector, cov mat.Symmetric, cross mat.Matrix) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkSlot(s); err != nil {
		return err
	}

	r := s.r
	if mean.Len() != r.Len || cov.SymmetricDim() != r.Len {
		return fmt.Errorf("slot %d, mean %d, cov %d: %w", r.Len, mean.Len(), cov.SymmetricDim(), slam.ErrDimensionMismatch)
	}

	size := m.size()
	if cross != nil {
		rows, cols := cross.Dims()
		if rows != r.Len || cols != size {
			return fmt.Errorf("cross-covariance [%d x %d], want [%d x %d]: %w", rows, cols, r.Len, size, slam.ErrDimensionMismatch)
		}
	}

	newMean := mat.VecDenseCopyOf(m.mean)
	newCov := mat.NewSymDense(size, nil)
	newCov.CopySym(m.cov)

	for i := 0; i < r.Len; i++ {
		newMean.SetVec(r.Start+i, mean.AtVec(i))
		for j := 0; j < size; j++ {
			if j >= r.Start && j < r.End() {
				newCov.SetSym(r.Start+i, j, cov.At(i, j-r.Start))
				continue
			}
			v := 0.0
			if cross != nil {
				v = cross.At(i, j)
			}
			newCov.SetSym(r.Start+i, j, v)
		}
	}

	return m.commit(newMean, newCov)
}

// Release releases slot s and compacts the state: ranges of all slots
// allocated after s are shifted down by the length of s.
// It returns error if s is not allocated in m.
func (m *Map) Release(s *Slot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkSlot(s); err != nil {
		return err
	}

	size := m.size()
	r := s.r
	keep := make([]int, 0, size-r.Len)
	for i := 0; i < size; i++ {
		if i < r.Start || i >= r.End() {
			keep = append(keep, i)
		}
	}

	if len(keep) == 0 {
		m.mean, m.cov = &mat.VecDense{}, &mat.SymDense{}
	} else {
		m.mean = matrix.GatherVec(m.mean, keep)
		m.cov = matrix.Gather(m.cov, keep)
	}

	slots := m.slots[:0]
	for _, o := range m.slots {
		if o == s {
			continue
		}
		if o.r.Start > r.Start {
			o.r.Start -= r.Len
		}
		slots = append(slots, o)
	}
	m.slots = slots
	s.released = true
	m.version++

	return nil
}

func (m *Map) checkSlot(s *Slot) error {
	if s == nil || s.released {
		return fmt.Errorf("slot not allocated: %w", slam.ErrDimensionMismatch)
	}

	i := sort.Search(len(m.slots), func(i int) bool { return m.slots[i].r.Start >= s.r.Start })
	if i == len(m.slots) || m.slots[i] != s {
		return fmt.Errorf("slot %v not owned by map: %w", s.r, slam.ErrDimensionMismatch)
	}

	return nil
}

// Slots returns all allocated slots ordered by their start index
func (m *Map) Slots() []*Slot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	slots := make([]*Slot, len(m.slots))
	copy(slots, m.slots)

	return slots
}

// Gaussian returns Gaussian view of slot s with sizeNonObs non-observable trailing dimensions.
func (m *Map) Gaussian(s *Slot, sizeNonObs int) (*gaussian.Gaussian, error) {
	return gaussian.NewView(m, s, sizeNonObs)
}

// GatherMean returns state mean elements at indices idx
func (m *Map) GatherMean(idx []int) *mat.VecDense {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return matrix.GatherVec(m.mean, idx)
}

// GatherCov returns state covariance sub-block at indices idx
func (m *Map) GatherCov(idx []int) *mat.SymDense {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return matrix.Gather(m.cov, idx)
}

// GatherCols returns all state covariance rows restricted to columns idx
func (m *Map) GatherCols(idx []int) *mat.Dense {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return matrix.GatherCols(m.cov, idx)
}

// Snapshot returns copies of state mean and covariance together with state version
func (m *Map) Snapshot() (*mat.VecDense, *mat.SymDense, uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	size := m.size()
	if size == 0 {
		return &mat.VecDense{}, &mat.SymDense{}, m.version
	}

	mean := mat.VecDenseCopyOf(m.mean)
	cov := mat.NewSymDense(size, nil)
	cov.CopySym(m.cov)

	return mean, cov, m.version
}

// Val returns a copy of the state mean
func (m *Map) Val() mat.Vector {
	mean, _, _ := m.Snapshot()
	return mean
}

// Cov returns a copy of the state covariance
func (m *Map) Cov() mat.Symmetric {
	_, cov, _ := m.Snapshot()
	return cov
}

// Commit replaces state mean and covariance if the state has not changed since version.
// cov is checked for symmetry and positive semi-definiteness and symmetrized before it is stored.
// It returns error and leaves the state unchanged if the version is stale,
// dimensions do not match or the covariance check fails.
func (m *Map) Commit(version uint64, mean mat.Vector, cov mat.Matrix) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if version != m.version {
		return fmt.Errorf("stale state version %d, current %d", version, m.version)
	}

	size := m.size()
	r, c := cov.Dims()
	if mean.Len() != size || r != size || c != size {
		return fmt.Errorf("state %d, mean %d, cov [%d x %d]: %w", size, mean.Len(), r, c, slam.ErrDimensionMismatch)
	}

	if !matrix.IsSymmetric(cov, m.tol) {
		return fmt.Errorf("asymmetric covariance: %w", slam.ErrStateCorruption)
	}

	return m.commit(mat.VecDenseCopyOf(mean), matrix.Symmetrize(cov))
}

func (m *Map) commit(mean *mat.VecDense, cov *mat.SymDense) error {
	if err := matrix.CheckSymPSD(cov, m.tol); err != nil {
		return err
	}

	m.mean, m.cov = mean, cov
	m.version++

	return nil
}
