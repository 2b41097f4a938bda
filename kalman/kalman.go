package kalman

import (
	"github.com/milosgajdos/go-slam/gaussian"
	"github.com/milosgajdos/go-slam/store"
	"gonum.org/v1/gonum/mat"
)

// Linearization is a measurement prediction linearized around the state it was computed from
type Linearization struct {
	// Y is predicted measurement
	Y mat.Vector
	// H is Jacobian of Y wrt state elements at Idx
	H mat.Matrix
	// Idx are state indices Y depends on
	Idx []int
}

// Observer predicts measurement from state stored in arena a
type Observer func(a gaussian.Arena) (Linearization, error)

// Corrector corrects shared state with measurements
type Corrector interface {
	// Update corrects state stored in m with measurement z predicted by obs
	Update(m *store.Map, z mat.Vector, obs Observer) error
	// Gain returns Kalman gain of the last update
	Gain() mat.Matrix
	// Innovation returns innovation of the last update
	Innovation() mat.Vector
	// NIS returns normalized innovation squared of the last update
	NIS() float64
}
