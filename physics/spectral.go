package physics

// J is the Lorentzian spectral density 0.4*tau/(1 + w^2 tau^2).
// w is in rad/s and tau in seconds.
func J(w, tau float64) float64 {
	return 0.4 * tau / (1.0 + w*w*tau*tau)
}

// JModelFree1 is the single-term model-free spectral density with order
// parameter s2 and overall correlation time tauM.
func JModelFree1(w, tauM, s2 float64) float64 {
	return 0.4 * tauM * s2 / (1.0 + w*w*tauM*tauM)
}

// JModelFree2 is the Lipari-Szabo form with one internal correlation time tau.
func JModelFree2(w, tau, tauM, s2 float64) float64 {
	return JModelFree3(w, tau, tauM, s2, 1.0)
}

// JModelFree3 is the extended form where sf2 is the fast-motion order
// parameter and s2 the total one.
func JModelFree3(w, tau, tauM, s2, sf2 float64) float64 {
	v1 := s2 / (1.0 + w*w*tauM*tauM)
	v2 := ((sf2 - s2) * (tau + tauM) * tau) / ((tau+tauM)*(tau+tauM) + w*w*tauM*tauM*tau*tau)

	return 0.4 * tauM * (v1 + v2)
}

// JModelFree4 is the extended form with both a fast (tauF) and slow (tauS)
// internal correlation time.
func JModelFree4(w, tauF, tauM, tauS, s2, sf2 float64) float64 {
	v1 := s2 / (1.0 + w*w*tauM*tauM)
	v2 := ((1 - sf2) * (tauF + tauM) * tauF) / ((tauF+tauM)*(tauF+tauM) + w*w*tauM*tauM*tauF*tauF)
	v3 := ((sf2 - s2) * (tauS + tauM) * tauS) / ((tauS+tauM)*(tauS+tauM) + w*w*tauM*tauM*tauS*tauS)

	return 0.4 * tauM * (v1 + v2 + v3)
}

// Evaluate applies a single-frequency spectral density to each frequency in w.
func Evaluate(w []float64, fn func(w float64) float64) []float64 {
	out := make([]float64, len(w))
	for i, v := range w {
		out[i] = fn(v)
	}

	return out
}
