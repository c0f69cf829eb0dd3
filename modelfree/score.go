package modelfree

import (
	"math"

	"github.com/nanalysis/ringfit/fit"
)

// constraintPenalty is added per value to the score of a parameter set that
// breaks a model constraint.
const constraintPenalty = 10.0

// Score is the goodness of fit of one parameter vector.
type Score struct {
	// RSS is the error weighted residual sum of squares.
	RSS    float64
	N      int
	K      int
	ParsOK bool
	// ComplexityS and ComplexityTau are the averaged complexity terms.
	ComplexityS   float64
	ComplexityTau float64
	Pars          []float64
}

// RMS is sqrt(RSS/N), or +Inf without values.
func (s Score) RMS() float64 {
	if s.N == 0 {
		return math.Inf(1)
	}

	return math.Sqrt(s.RSS / float64(s.N))
}

// Value is the minimized objective: the RMS plus 10 per value when a
// constraint is broken plus the complexity terms weighted by lambdaS and
// lambdaTau.
func (s Score) Value(lambdaS, lambdaTau float64) float64 {
	v := s.RMS()
	if !s.ParsOK {
		v += float64(s.N) * constraintPenalty
	}

	return v + s.ComplexityS*lambdaS + s.ComplexityTau*lambdaTau
}

// AIC is 2k + n ln(RSS).
func (s Score) AIC() float64 {
	return fit.AIC(s.RSS, s.N, s.K)
}

// AICc is the small sample corrected AIC; +Inf when n-k-1 <= 0.
func (s Score) AICc() float64 {
	return fit.AICc(s.RSS, s.N, s.K)
}

// ReducedChi2 is RSS/(n-k); +Inf when n-k <= 0.
func (s Score) ReducedChi2() float64 {
	if s.N-s.K <= 0 {
		return math.Inf(1)
	}

	return s.RSS / float64(s.N-s.K)
}
