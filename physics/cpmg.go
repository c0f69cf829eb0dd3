package physics

import "math"

// CPMGNoEx is the flat dispersion of a residue without exchange.
func CPMGNoEx(r2 float64) float64 {
	return r2
}

// CPMGFast is the Meiboom fast exchange dispersion.
//
// nu is the CPMG frequency in Hz and field the Larmor frequency of the
// observed nucleus in MHz. dPPMmin is pa*pb*dw^2 expressed as an apparent
// shift in ppm. For kex <= 0 the result is r2.
func CPMGFast(nu, field, kex, r2, dPPMmin float64) float64 {
	if kex <= 0 {
		return r2
	}

	tauCP := 1.0 / (2.0 * nu)
	rex := CPMGFastRex(field, kex, dPPMmin)
	x := kex * tauCP

	return r2 + rex*(1-2.0*math.Tanh(0.5*x)/guard(x))
}

// CPMGFastRex is the exchange contribution at infinitely slow pulsing.
func CPMGFastRex(field, kex, dPPMmin float64) float64 {
	dw := TwoPi * dPPMmin * field

	return dw * dw / 4.0 / guard(kex)
}

// CPMGSlow is the Carver-Richards dispersion valid at all exchange rates.
//
// pA is the major state population and dPPM the shift difference in ppm.
func CPMGSlow(nu, field, kex, pA, r2, dPPM float64) float64 {
	pB := 1.0 - pA
	pDelta := pA - pB
	dw := dPPM * field * TwoPi
	tauCP := 1.0 / (2.0 * nu)

	psi := (pDelta*kex)*(pDelta*kex) - dw*dw + 4.0*pA*pB*kex*kex
	zeta := -2.0 * dw * kex * pDelta
	eta1 := math.Sqrt(psi*psi + zeta*zeta)
	etaP := tauCP * math.Sqrt(math.Max(0, eta1+psi)/2.0)
	etaM := tauCP * math.Sqrt(math.Max(0, eta1-psi)/2.0)
	d1 := (psi + 2.0*dw*dw) / guard(eta1)
	dP := 0.5 * (d1 + 1)
	dM := 0.5 * (d1 - 1)

	ch := dP*math.Cosh(etaP) - dM*math.Cos(etaM)
	if ch < 1 {
		ch = 1
	}

	return r2 + 0.5*(kex-math.Acosh(ch)/tauCP)
}

// CPMGSlowRex is the dispersion amplitude between 10 Hz and 10 kHz pulsing.
func CPMGSlowRex(field, kex, pA, r2, dPPM float64) float64 {
	return CPMGSlow(10.0, field, kex, pA, r2, dPPM) - CPMGSlow(1.0e4, field, kex, pA, r2, dPPM)
}
