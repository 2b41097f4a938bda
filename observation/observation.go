// Package observation orchestrates per frame measurement prediction, matching and state updates.
package observation

import (
	"fmt"
	"time"

	slam "github.com/milosgajdos/go-slam"
	"github.com/milosgajdos/go-slam/expectation"
	"github.com/milosgajdos/go-slam/landmark"
	"gonum.org/v1/gonum/mat"
)

// Status is observation status
type Status int

const (
	// Predicted observations have an expectation
	Predicted Status = iota
	// Visible observations are expected to be seen by the sensor
	Visible
	// NotVisible observations are not expected to be seen by the sensor
	NotVisible
	// Matched observations have a measurement
	Matched
	// Unmatched observations were not found by the front end
	Unmatched
	// Updated observations have been assimilated into the state
	Updated
	// Rejected observations failed the update
	Rejected
)

// String implements the Stringer interface.
func (s Status) String() string {
	switch s {
	case Predicted:
		return "predicted"
	case Visible:
		return "visible"
	case NotVisible:
		return "not visible"
	case Matched:
		return "matched"
	case Unmatched:
		return "unmatched"
	case Updated:
		return "updated"
	case Rejected:
		return "rejected"
	}

	return fmt.Sprintf("Status(%d)", int(s))
}

// Observation pairs one sensor and one landmark for one frame
type Observation struct {
	// Sensor is the observing sensor
	Sensor slam.Sensor
	// Landmark is the observed landmark
	Landmark *landmark.Landmark
	// Expectation is the predicted measurement
	Expectation *expectation.Expectation
	// Measurement is the matched measurement
	Measurement mat.Vector
	// Innovation is the innovation of the update
	Innovation mat.Vector
	// NIS is normalized innovation squared of the update
	NIS float64
	// Status is observation status
	Status Status
	// Err is the reason of rejection
	Err error

	// sensor is sensor index used for ranking ties
	sensor int
}

// FrameStats summarises a frame
type FrameStats struct {
	// Expected is the number of computed expectations
	Expected int
	// Visible is the number of visible expectations
	Visible int
	// Dropped is the number of visible expectations dropped by the frame budget
	Dropped int
	// Lost is the number of visible expectations which left the field of view
	// after earlier updates of the frame
	Lost int
	// Matched is the number of matched observations
	Matched int
	// Unmatched is the number of unmatched observations
	Unmatched int
	// Updated is the number of assimilated observations
	Updated int
	// Rejected is the number of rejected observations
	Rejected int
	// Converged is the number of landmarks converted to Euclidean points
	Converged int
	// Pruned is the number of pruned landmarks
	Pruned int
	// Duration is the frame processing time
	Duration time.Duration
}
