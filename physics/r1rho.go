package physics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/nanalysis/ringfit/errs"
)

// R1rhoNoEx is the rotating frame relaxation rate of state A without exchange.
func R1rhoNoEx(e Exchange) float64 {
	weA2 := e.Omega1*e.Omega1 + e.DeltaA*e.DeltaA
	sin2t := e.Omega1 * e.Omega1 / guard(weA2)

	return (1-sin2t)*e.R1A + sin2t*e.R2A
}

// R1rhoPerturbation is the Trott-Palmer perturbation expression, valid for
// R1A = R1B and allowing R2A != R2B.
func R1rhoPerturbation(e Exchange) float64 {
	k1 := e.Pb * e.Kex
	km1 := e.Pa * e.Kex
	dR := math.Abs(e.R2B - e.R2A)
	w2 := e.Omega1 * e.Omega1
	weA2 := w2 + e.DeltaA*e.DeltaA
	weB2 := w2 + e.DeltaB*e.DeltaB
	dw := e.Dw()
	sin2t := w2 / guard(weA2)

	x := (dw*dw+dR*dR)*km1 + dR*(weA2+km1*km1)
	y := km1*(weB2+(km1+dR)*(km1+dR)) + dR*w2
	rex := k1 * x / guard(y)

	return (1-sin2t)*e.R1A + sin2t*e.R2A + sin2t*rex
}

// R1rhoLaguerre is the second order Laguerre expansion using population
// averaged rates.
func R1rhoLaguerre(e Exchange) float64 {
	r1Bar := e.Pa*e.R1A + e.Pb*e.R1B
	r2Bar := e.Pa*e.R2A + e.Pb*e.R2B
	we2, weA2, weB2 := e.effective()
	sin2t := e.Omega1 * e.Omega1 / guard(we2)
	dw := e.Dw()
	kex2 := e.Kex * e.Kex

	x := e.Pa * e.Pb * dw * dw * sin2t
	y := weA2*weB2/guard(we2) + kex2
	z := x * (1 + 2*kex2*(e.Pa*weA2+e.Pb*weB2)/guard(weA2*weB2+we2*kex2))
	rex := e.Kex * x / guard(y-z)

	return (1-sin2t)*r1Bar + sin2t*r2Bar + rex
}

// R1rhoBaldwinKay is the first order Baldwin-Kay expression, which allows
// R2A != R2B.
func R1rhoBaldwinKay(e Exchange) float64 {
	dR := e.R2B - e.R2A
	kex := guard(e.Kex)
	kex2 := e.Kex * e.Kex
	w2 := e.Omega1 * e.Omega1
	we2, weA2, weB2 := e.effective()
	ob := e.OmegaBar()
	sin2t := w2 / guard(we2)
	cos2t := 1 - sin2t
	tan2t := sin2t / guard(cos2t)
	dw := e.Dw()
	dA2 := e.DeltaA * e.DeltaA
	dB2 := e.DeltaB * e.DeltaB
	pa, pb := e.Pa, e.Pb

	f1p := pa * pb * dw * dw
	f2p := kex2 + w2 + dA2*dB2/guard(ob*ob)
	dp := kex2 + weA2*weB2/guard(we2)
	f1 := pb * (weA2 + kex2 + dR*pa*e.Kex)
	f2 := 2*e.Kex + w2/kex + dR*pa
	f3 := 3*pb*e.Kex + (2*pa*e.Kex+w2/kex+dR+dR*pb*pb*kex2/guard(weA2))*(weA2/guard(w2))

	den := guard(dp + dR*f3*sin2t)
	c1 := (f2p + (f1p+dR*(f3-f2))*tan2t) / den
	c2 := (dp/guard(sin2t) - f2p/guard(tan2t) - f1p + dR*f2) / den
	rex := (f1p*e.Kex + dR*f1) / den

	return c1*e.R1A*cos2t + sin2t*(c2*e.R2A+rex)
}

// R1rhoExact returns the decay rate of the real eigenvalue of the
// Bloch-McConnell matrix closest to the perturbation estimate.
func R1rhoExact(e Exchange) (float64, error) {
	return ExactEigenRate(BlochMcConnell6(e), R1rhoPerturbation(e))
}

// R1rhoExact0 projects the magnetization evolved for delay seconds onto the
// effective field of state A and converts the decay into a rate.
//
// Parameters:
//   - e: exchange parameters at one offset
//   - delay: spin-lock duration in seconds, must be positive
//
// Returns:
//   - float64: R1rho in s^-1
//   - error: ErrInvalidPhysicalParameter for delay <= 0 or a non-positive projection
func R1rhoExact0(e Exchange, delay float64) (float64, error) {
	if err := CheckPositive("delay", delay); err != nil {
		return 0, err
	}

	at, err := Expm(BlochMcConnell6(e), delay)
	if err != nil {
		return 0, err
	}

	theta := math.Atan2(e.Omega1, e.DeltaA)
	sinT, cosT := math.Sin(theta), math.Cos(theta)
	m0 := mat.NewVecDense(6, []float64{e.Pa * sinT, 0, e.Pa * cosT, 0, 0, 0})
	m1 := mat.NewVecDense(6, []float64{sinT, 0, cosT, 0, 0, 0})

	var evolved mat.VecDense
	evolved.MulVec(at, m0)
	ratio := mat.Dot(m1, &evolved) / guard(mat.Dot(m1, m0))
	if !(ratio > 0) {
		return 0, fmt.Errorf("%w: magnetization projection %g is not positive", errs.ErrInvalidPhysicalParameter, ratio)
	}

	return -math.Log(ratio) / delay, nil
}
