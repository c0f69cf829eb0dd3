// Package errs defines the error taxonomy shared by every ringfit package.
//
// Errors are plain sentinels. Callers wrap them with fmt.Errorf("...: %w", err)
// and test them with errors.Is.
package errs

import "errors"

var (
	// ErrInvalidPhysicalParameter reports a malformed physical input such as a
	// negative rate, a non-positive correlation time or a population outside [0, 1].
	// It is raised before any matrix is built.
	ErrInvalidPhysicalParameter = errors.New("ringfit: invalid physical parameter")

	// ErrNoRealEigenvalue is returned by the exact eigen solver when the exchange
	// matrix has no real eigenvalue to report.
	ErrNoRealEigenvalue = &wrapped{msg: "ringfit: no real eigenvalue", parent: ErrInvalidPhysicalParameter}

	// ErrOptimizationFailure reports a single optimizer attempt that panicked,
	// returned an error, or produced a non-finite objective value.
	ErrOptimizationFailure = errors.New("ringfit: optimization failure")

	// ErrInsufficientData reports fewer points than free parameters, no usable
	// curves, or a bootstrap resample that never covered every curve.
	ErrInsufficientData = errors.New("ringfit: insufficient data")

	// ErrMapConstruction reports an inconsistent state or parameter map.
	ErrMapConstruction = errors.New("ringfit: parameter map construction")

	// ErrUnknownEquation reports a lookup of an equation name that is not registered.
	ErrUnknownEquation = errors.New("ringfit: unknown equation")

	// ErrInvalidConfig reports an option or configuration value out of range.
	ErrInvalidConfig = errors.New("ringfit: invalid configuration")
)

// wrapped is a sentinel that also matches its parent with errors.Is.
type wrapped struct {
	msg    string
	parent error
}

func (w *wrapped) Error() string { return w.msg }

func (w *wrapped) Unwrap() error { return w.parent }
