package modelfree

import (
	"fmt"
	"math"

	"github.com/nanalysis/ringfit/errs"
	"github.com/nanalysis/ringfit/physics"
)

// Reduced spectral density mapping coefficients.
const (
	sigmaR1Factor = 1.249
	sigmaR2Factor = 0.454
	highFreqScale = 0.87
)

// Relaxation is one field's R1, R2 (s⁻¹) and heteronuclear NOE with errors.
type Relaxation struct {
	Constants *physics.RelaxConstants

	R1, R1Err   float64
	R2, R2Err   float64
	NOE, NOEErr float64
}

// Validate rejects non-positive errors and rates.
func (r Relaxation) Validate() error {
	if r.Constants == nil {
		return fmt.Errorf("%w: relaxation without field constants", errs.ErrInvalidPhysicalParameter)
	}
	if len(r.Constants.W) != physics.JIpS+1 {
		return fmt.Errorf("%w: R1/R2/NOE need a heteronuclear spin pair", errs.ErrInvalidPhysicalParameter)
	}
	if err := physics.CheckPositive("relaxation rate", r.R1, r.R2); err != nil {
		return err
	}

	return physics.CheckPositive("relaxation error", r.R1Err, r.R2Err, r.NOEErr)
}

// Predict returns R1, R2 and NOE for the spectral densities j, adding rex to R2.
func (r Relaxation) Predict(j []float64, rex float64) (r1, r2, noe float64) {
	rc := r.Constants

	return rc.R1(j), rc.R2(j, rex), rc.NOE(j)
}

// chi2 is the error weighted squared deviation of a prediction.
func (r Relaxation) chi2(r1, r2, noe float64) float64 {
	d1 := (r1 - r.R1) / r.R1Err
	d2 := (r2 - r.R2) / r.R2Err
	dn := (noe - r.NOE) / r.NOEErr

	return d1*d1 + d2*d2 + dn*dn
}

// MolData holds the relaxation measurements of one bond vector.
type MolData struct {
	Key string
	// Vector is the bond direction in the molecular frame; only needed by
	// anisotropic diffusion fits.
	Vector [3]float64
	Data   []Relaxation
}

// JSet is a set of experimental spectral densities.
type JSet struct {
	W   []float64
	J   []float64
	Err []float64
}

// Len is the number of spectral density values.
func (s *JSet) Len() int { return len(s.J) }

// CalcJ maps the measurements onto spectral densities with the reduced
// spectral density approach, propagating the measurement errors.
//
// Each field contributes J(0), J(0.87 wH) and J(wN). With average set the
// J(0) values are averaged into a single leading entry (errors added in
// quadrature), giving 1+2n values; otherwise the layout is 3 per field in
// the order J(0), J(0.87 wH), J(wN).
func (m *MolData) CalcJ(average bool) (*JSet, error) {
	if len(m.Data) == 0 {
		return nil, fmt.Errorf("%w: %s has no relaxation data", errs.ErrInsufficientData, m.Key)
	}

	n := 3 * len(m.Data)
	if average {
		n = 1 + 2*len(m.Data)
	}
	s := &JSet{W: make([]float64, n), J: make([]float64, n), Err: make([]float64, n)}

	j0Sum, j0Err2 := 0.0, 0.0
	for i, r := range m.Data {
		rc := r.Constants
		gRatio := rc.GammaS / rc.GammaI
		sigma := (r.NOE - 1.0) * r.R1 * gRatio
		sigmaErr := math.Abs(sigma) * math.Hypot(r.NOEErr/(r.NOE-1.0), r.R1Err/r.R1)
		if math.IsNaN(sigmaErr) || math.IsInf(sigmaErr, 0) {
			sigmaErr = math.Abs(gRatio) * math.Hypot(r.NOEErr*r.R1, (r.NOE-1.0)*r.R1Err)
		}

		jH := 4.0 * sigma / (5.0 * rc.D2)
		jHErr := 4.0 * sigmaErr / (5.0 * rc.D2)

		scale := 3.0*rc.D2 + 4.0*rc.C2
		jN := (r.R1 - sigmaR1Factor*sigma) * 4.0 / scale
		jNErr := 4.0 / scale * math.Hypot(r.R1Err, sigmaR1Factor*sigmaErr)

		j0 := 6.0 / scale * (r.R2 - 0.5*r.R1 - sigmaR2Factor*sigma)
		j0Err := 6.0 / scale * math.Sqrt(r.R2Err*r.R2Err+
			0.25*r.R1Err*r.R1Err+
			sigmaR2Factor*sigmaR2Factor*sigmaErr*sigmaErr)

		var k int
		if average {
			j0Sum += j0
			j0Err2 += j0Err * j0Err
			k = 1 + 2*i
		} else {
			s.J[3*i], s.Err[3*i] = j0, j0Err
			k = 3*i + 1
		}
		s.W[k], s.J[k], s.Err[k] = highFreqScale*rc.WI, jH, jHErr
		s.W[k+1], s.J[k+1], s.Err[k+1] = math.Abs(rc.WS), jN, jNErr
	}
	if average {
		s.J[0] = j0Sum / float64(len(m.Data))
		s.Err[0] = math.Sqrt(j0Err2)
	}

	return s, nil
}

// Simulate returns a copy of m whose rates are the predictions of the model
// instance for the parameter vector x. Errors are kept.
func (m *MolData) Simulate(in Instance, x []float64) *MolData {
	tauM, p, rex := in.Split(x)
	out := &MolData{Key: m.Key, Vector: m.Vector, Data: make([]Relaxation, len(m.Data))}
	for i, r := range m.Data {
		j := in.Model.J(r.Constants.W, tauM, p)
		r.R1, r.R2, r.NOE = r.Predict(j, rex)
		out.Data[i] = r
	}

	return out
}

// maxR2 is the largest R2 in m.
func (m *MolData) maxR2() float64 {
	v := math.Inf(-1)
	for _, r := range m.Data {
		v = math.Max(v, r.R2)
	}

	return v
}
