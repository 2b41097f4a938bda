package slam

import "errors"

var (
	// ErrProjection is returned when a point can not be projected by a sensor
	ErrProjection = errors.New("slam: point outside projection domain")
	// ErrSingularInnovation is returned when innovation covariance is singular or ill-conditioned
	ErrSingularInnovation = errors.New("slam: singular innovation covariance")
	// ErrOutlier is returned when innovation fails the Mahalanobis gate
	ErrOutlier = errors.New("slam: innovation outside gate")
	// ErrDimensionMismatch is returned when state and Gaussian dimensions do not agree
	ErrDimensionMismatch = errors.New("slam: dimension mismatch")
	// ErrStateCorruption is returned when covariance fails symmetry or PSD check
	ErrStateCorruption = errors.New("slam: state covariance corrupted")
	// ErrNotComputed is returned when expectation results are queried before being computed
	ErrNotComputed = errors.New("slam: expectation not computed")
)
