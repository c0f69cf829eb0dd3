package fit

import "math"

// Metrics summarizes the quality of a fit with N points and K parameters.
type Metrics struct {
	RSS         float64
	RMS         float64
	AIC         float64
	AICc        float64
	ReducedChi2 float64
	N           int
	K           int
}

// ComputeMetrics scores the predictions yCalc against y.
//
// Denominators that vanish or turn negative (n = 0, n-k <= 0, n-k-1 <= 0)
// yield +Inf for the affected metric.
func ComputeMetrics(y, yCalc, errs []float64, k int) Metrics {
	n := len(y)
	m := Metrics{N: n, K: k}

	chi2 := 0.0
	for i := range y {
		d := yCalc[i] - y[i]
		m.RSS += d * d
		if errs != nil {
			d /= errs[i]
		}
		chi2 += d * d
	}

	m.RMS = math.Inf(1)
	if n > 0 {
		m.RMS = math.Sqrt(m.RSS / float64(n))
	}

	m.AIC = AIC(m.RSS, n, k)
	m.AICc = AICc(m.RSS, n, k)

	m.ReducedChi2 = math.Inf(1)
	if n-k > 0 {
		m.ReducedChi2 = chi2 / float64(n-k)
	}

	return m
}

// AIC is 2k + n ln(RSS).
func AIC(rss float64, n, k int) float64 {
	return 2*float64(k) + float64(n)*math.Log(rss)
}

// AICc adds the small sample correction 2k(k+1)/(n-k-1) to AIC.
func AICc(rss float64, n, k int) float64 {
	if n-k-1 <= 0 {
		return math.Inf(1)
	}
	kf := float64(k)

	return AIC(rss, n, k) + 2*kf*(kf+1)/float64(n-k-1)
}
