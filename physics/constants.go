// Package physics converts model parameters into predicted relaxation observables.
//
// It covers closed-form spectral densities, relaxation-rate formulas, the
// diffusion tensor geometry, a scaled Padé matrix exponential, the exact eigen
// solver, and the Bloch-McConnell based CPMG, CEST and R1rho observables.
//
// All functions are pure except Kernel, which owns a memoization cache for
// relaxation constants. A Kernel is safe for concurrent use.
package physics

import (
	"fmt"
	"math"

	"github.com/nanalysis/ringfit/errs"
)

// Physical constants in SI units.
const (
	Mu0    = 4.0e-7 * math.Pi
	GammaN = -2.7116e7
	GammaC = 6.72828e7
	GammaH = 2.6752218744e8
	GammaD = 4.1065e7
	Planck = 1.0546e-34 // reduced Planck constant

	// Default bond lengths in metres.
	BondHN = 1.02e-10
	BondHC = 1.09e-10
	BondCC = 1.51e-10

	// DefaultCSA is the chemical shift anisotropy used for N and C.
	DefaultCSA = -172.0e-6

	// QCC is the deuterium quadrupolar coupling term pi*167kHz/2.
	QCC  = math.Pi * 167.0e3 / 2.0
	QCC2 = QCC * QCC

	TwoPi = 2.0 * math.Pi

	// epsilon is the smallest denominator magnitude the kernels divide by.
	epsilon = 1.0e-30
)

// Element names a nucleus.
type Element string

const (
	ElementH Element = "H"
	ElementN Element = "N"
	ElementC Element = "C"
	ElementD Element = "D"
)

// Gamma returns the gyromagnetic ratio of the element.
func Gamma(e Element) (float64, error) {
	switch e {
	case ElementH:
		return GammaH, nil
	case ElementN:
		return GammaN, nil
	case ElementC:
		return GammaC, nil
	case ElementD:
		return GammaD, nil
	default:
		return 0, fmt.Errorf("%w: unknown element %q", errs.ErrInvalidPhysicalParameter, e)
	}
}

// ScaledFrequency converts a proton spectrometer frequency sf (Hz) into the
// Larmor frequency of elem.
func ScaledFrequency(sf float64, elem Element) (float64, error) {
	g, err := Gamma(elem)
	if err != nil {
		return 0, err
	}

	return math.Abs(sf * g / GammaH), nil
}

// guard keeps a denominator away from zero while preserving its sign.
func guard(d float64) float64 {
	if math.Abs(d) < epsilon {
		if d < 0 {
			return -epsilon
		}

		return epsilon
	}

	return d
}

// CheckPositive returns ErrInvalidPhysicalParameter when any value is not
// strictly positive or not finite.
func CheckPositive(name string, values ...float64) error {
	for _, v := range values {
		if !(v > 0) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s must be positive, got %g", errs.ErrInvalidPhysicalParameter, name, v)
		}
	}

	return nil
}

// CheckNonNegative returns ErrInvalidPhysicalParameter for negative or
// non-finite values.
func CheckNonNegative(name string, values ...float64) error {
	for _, v := range values {
		if !(v >= 0) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s must be non-negative, got %g", errs.ErrInvalidPhysicalParameter, name, v)
		}
	}

	return nil
}

// CheckFraction returns ErrInvalidPhysicalParameter when v lies outside [0, 1].
func CheckFraction(name string, v float64) error {
	if !(v >= 0 && v <= 1) {
		return fmt.Errorf("%w: %s must lie in [0, 1], got %g", errs.ErrInvalidPhysicalParameter, name, v)
	}

	return nil
}
