package physics

import "math"

// sdWeights approximate a Gaussian B1 distribution sampled at sdScales.
var sdWeights = func() [11]float64 {
	w := [11]float64{0.022, 0.0444, 0.0777, 0.1159, 0.1473, 0.1596, 0.1473, 0.1159, 0.0777, 0.0444, 0.0216}
	sum := 0.0
	for _, v := range w {
		sum += v
	}
	for i := range w {
		w[i] /= sum
	}

	return w
}()

// sdScales are the fractional B1 deviations, -0.4 to 0.4 in steps of 0.08.
var sdScales = func() [11]float64 {
	var s [11]float64
	for i := range s {
		s[i] = -0.4 + float64(i)*0.08
	}

	return s
}()

// R1rhoFunc computes a rotating frame relaxation rate.
type R1rhoFunc func(Exchange) float64

// CESTNoEx is the CEST intensity of a single site without exchange.
func CESTNoEx(e Exchange, tex float64) float64 {
	we2 := e.Omega1*e.Omega1 + e.DeltaA*e.DeltaA
	cos2t := e.DeltaA * e.DeltaA / guard(we2)

	return cos2t * math.Exp(-tex*R1rhoNoEx(e))
}

// CESTApprox evaluates the CEST intensity from an R1rho approximation along the
// population averaged effective field.
func CESTApprox(e Exchange, tex float64, r1rho R1rhoFunc) float64 {
	ob := e.OmegaBar()
	we2 := e.Omega1*e.Omega1 + ob*ob
	cos2t := ob * ob / guard(we2)

	return cos2t * math.Exp(-tex*r1rho(e))
}

// CESTTrott uses the perturbation R1rho expression.
func CESTTrott(e Exchange, tex float64) float64 {
	return CESTApprox(e, tex, R1rhoPerturbation)
}

// CESTTrottNoEx uses the exchange free R1rho of state A along the averaged
// effective field.
func CESTTrottNoEx(e Exchange, tex float64) float64 {
	return CESTApprox(e, tex, R1rhoNoEx)
}

// CESTBaldwinKay uses the Baldwin-Kay R1rho expression.
func CESTBaldwinKay(e Exchange, tex float64) float64 {
	return CESTApprox(e, tex, R1rhoBaldwinKay)
}

// CESTLaguerre uses the Laguerre R1rho expression.
func CESTLaguerre(e Exchange, tex float64) float64 {
	return CESTApprox(e, tex, R1rhoLaguerre)
}

// CESTSD averages the perturbation intensity over a Gaussian distribution of
// B1 field strengths.
func CESTSD(e Exchange, tex float64) float64 {
	sum := 0.0
	for i, s := range sdScales {
		scaled := e
		scaled.Omega1 = e.Omega1 * (1 + s)
		sum += sdWeights[i] * CESTTrott(scaled, tex)
	}

	return sum
}

// CESTExact0 integrates the thermalized 7x7 Bloch-McConnell equations over
// tex and returns the normalized z magnetization of state A.
func CESTExact0(e Exchange, tex float64) (float64, error) {
	if err := CheckPositive("tex", tex); err != nil {
		return 0, err
	}

	at, err := Expm(BlochMcConnell7(e), tex)
	if err != nil {
		return 0, err
	}

	// The thermal column cancels between the two reference vectors.
	return at.At(3, 3)*e.Pa + at.At(3, 6)*e.Pb, nil
}

// CESTEigenExact1 decays the magnetization along the averaged effective field
// with the exact eigenvalue rate.
func CESTEigenExact1(e Exchange, tex float64) (float64, error) {
	rate, err := R1rhoExact(e)
	if err != nil {
		return 0, err
	}

	ob := e.OmegaBar()
	we2 := e.Omega1*e.Omega1 + ob*ob
	cos2t := ob * ob / guard(we2)

	return cos2t * math.Exp(-tex*math.Abs(rate)), nil
}
