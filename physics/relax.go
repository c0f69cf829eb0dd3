package physics

import "math"

// Indices into the five-point spectral density vector
// {J(0), J(wS), J(wI-wS), J(wI), J(wI+wS)}.
const (
	J0   = 0
	JS   = 1
	JImS = 2
	JI   = 3
	JIpS = 4
)

// RelaxConstants holds the field dependent constants of one spin pair.
// Values are immutable after construction.
type RelaxConstants struct {
	SF     float64 // proton spectrometer frequency, Hz
	ElemI  Element
	ElemS  Element
	GammaI float64
	GammaS float64
	WI     float64 // rad/s
	WS     float64 // rad/s
	R      float64 // bond length, m
	D      float64
	D2     float64
	C      float64
	C2     float64

	// W holds the frequencies at which J is evaluated. It has five entries for
	// heteronuclear pairs and three ({0, wD, 2wD}) for deuterium.
	W []float64
}

func newRelaxConstants(sf float64, elemI, elemS Element, r, csa float64) (*RelaxConstants, error) {
	gI, err := Gamma(elemI)
	if err != nil {
		return nil, err
	}
	gS, err := Gamma(elemS)
	if err != nil {
		return nil, err
	}

	rc := &RelaxConstants{SF: sf, ElemI: elemI, ElemS: elemS, GammaI: gI, GammaS: gS, R: r}
	if elemI == ElementD {
		rc.WI = sf * TwoPi * gI / GammaH
		rc.WS = sf * TwoPi * gS / GammaH
		rc.W = []float64{0, rc.WI, 2 * rc.WI}
	} else {
		rc.WI = sf * TwoPi
		rc.WS = rc.WI * gS / gI
		rc.W = []float64{0, rc.WS, rc.WI - rc.WS, rc.WI, rc.WI + rc.WS}
	}
	rc.D = Mu0 * (gI * gS * Planck) / (4.0 * math.Pi * r * r * r)
	rc.D2 = rc.D * rc.D
	rc.C = rc.WS * csa / math.Sqrt(3.0)
	rc.C2 = rc.C * rc.C

	return rc, nil
}

// JValues evaluates the rigid-rotor spectral density 0.4*tau/(1+w^2 tau^2) at W.
func (rc *RelaxConstants) JValues(tau float64) []float64 {
	out := make([]float64, len(rc.W))
	for i, w := range rc.W {
		out[i] = J(w, tau)
	}

	return out
}

// R1 is the longitudinal relaxation rate from a five-point J vector.
func (rc *RelaxConstants) R1(j []float64) float64 {
	dipolar := rc.D2 / 4.0 * (j[JImS] + 3.0*j[JS] + 6.0*j[JIpS])
	csa := rc.C2 * j[JS]

	return dipolar + csa
}

// R2 is the transverse relaxation rate from a five-point J vector plus an
// exchange contribution rex.
func (rc *RelaxConstants) R2(j []float64, rex float64) float64 {
	dipolar := rc.D2 / 8.0 * (4.0*j[J0] + j[JImS] + 3.0*j[JS] + 6.0*j[JI] + 6.0*j[JIpS])
	csa := rc.C2 / 6.0 * (4.0*j[J0] + 3.0*j[JS])

	return dipolar + csa + rex
}

// NOE is the steady-state heteronuclear NOE.
func (rc *RelaxConstants) NOE(j []float64) float64 {
	r1 := rc.R1(j)

	return 1.0 + (rc.D2/(4.0*guard(r1)))*(rc.GammaI/rc.GammaS)*(6.0*j[JIpS]-j[JImS])
}

// SigmaSI is the cross-relaxation rate implied by R1 and the NOE.
func (rc *RelaxConstants) SigmaSI(j []float64) float64 {
	return rc.R1(j) * (rc.NOE(j) - 1) * (rc.GammaS / rc.GammaI)
}

// Gamma is R2 corrected for R1 and cross relaxation: R2 - R1/2 - 0.454*sigma.
func (rc *RelaxConstants) Gamma(j []float64, rex float64) float64 {
	return rc.R2(j, rex) - 0.5*rc.R1(j) - 0.454*rc.SigmaSI(j)
}

// Deuterium rates use the three-point vector {J(0), J(wD), J(2wD)}.

// R1D is the deuterium longitudinal rate.
func (rc *RelaxConstants) R1D(j []float64) float64 {
	return 3.0 * QCC2 * (j[1] + 4.0*j[2])
}

// R2D is the deuterium transverse rate.
func (rc *RelaxConstants) R2D(j []float64) float64 {
	return 1.5 * QCC2 * (3.0*j[0] + 5.0*j[1] + 2.0*j[2])
}

// RQD is the deuterium quadrupolar order rate.
func (rc *RelaxConstants) RQD(j []float64) float64 {
	return 9.0 * QCC2 * j[1]
}

// RapD is the deuterium antiphase rate.
func (rc *RelaxConstants) RapD(j []float64) float64 {
	return 1.5 * QCC2 * (3.0*j[0] + j[1] + 2.0*j[2])
}

// rhoWeights returns the high-frequency correction weights used by the rho
// ratio. The shared denominator 6J(wI+wS)-J(wI-wS) is guarded.
func rhoWeights(j []float64) (w1, w2 float64) {
	den := guard(6*j[JIpS] - j[JImS])
	w1 = (j[JImS] + 6*j[JIpS]) / den
	w2 = (6 * j[JI]) / den

	return w1, w2
}

// RhoExp computes the experimental rho ratio (2R2 - R1 - w2 f)/(R1 - w1 f)
// from measured R1, R2 and NOE.
func (rc *RelaxConstants) RhoExp(r1, r2, noe float64, j []float64) float64 {
	w1, w2 := rhoWeights(j)
	f := (rc.GammaS / rc.GammaI) * r1 * (noe - 1)

	return (2*r2 - r1 - w2*f) / guard(r1-w1*f)
}

// RhoExpError propagates the measurement errors into RhoExp.
func (rc *RelaxConstants) RhoExpError(r1, r2, noe float64, j []float64, r1Err, r2Err, noeErr, rhoExp float64) float64 {
	w1, w2 := rhoWeights(j)
	f := (rc.GammaS / rc.GammaI) * r1 * (noe - 1)
	num := 2*r2 - r1 - w2*f
	den := r1 - w1*f
	v := (r1Err/guard(r1))*(r1Err/guard(r1)) + (noeErr/guard(noe))*(noeErr/guard(noe))
	numErr := math.Sqrt(4*r2Err*r2Err + r1Err*r1Err + w2*w2*(f*f*v+r1Err*r1Err))
	denErr := math.Sqrt(r1Err*r1Err + w1*w1*(f*f*v+r1Err*r1Err))
	a := numErr / guard(num)
	b := denErr / guard(den)

	return math.Sqrt(rhoExp * rhoExp * (a*a + b*b))
}

// RhoPred is the predicted rho ratio (4/3) J(0)/J(wS).
func (rc *RelaxConstants) RhoPred(j []float64) float64 {
	return (4.0 / 3.0) * j[J0] / guard(j[JS])
}

// R2R1Ratio is the rigid-rotor R2/R1 ratio for a correlation time tau (s).
func (rc *RelaxConstants) R2R1Ratio(tau float64) float64 {
	wS, wI := rc.WS, rc.WI
	csa := rc.C2 / (3.0 * rc.D2)
	num := 4.0*J(0, tau) + J(wS-wI, tau) + 3.0*J(wS, tau) +
		6.0*J(wI, tau) + 6.0*J(wS+wI, tau) +
		csa*(4.0*J(0, tau)+3.0*J(wS, tau))
	den := 2.0*J(wS-wI, tau) + 6.0*J(wS, tau) + 12.0*J(wS+wI, tau) + 2.0*csa*J(wS, tau)

	return num / guard(den)
}
