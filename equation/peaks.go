package equation

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/nanalysis/ringfit/dataset"
)

// Peak is a saturation dip (CEST) or rate maximum (R1rho) found in an offset
// profile. Widths are in Hz, Position in ppm.
type Peak struct {
	Position float64
	Depth    float64
	Width    float64
	WidthLB  float64
	WidthUB  float64
	Index    int
}

// peakProfile holds the constants that differ between CEST and R1rho
// profiles. CEST peaks are dips below the baseline; R1rho peaks rise above it,
// so sign flips the data before the shared search.
type peakProfile struct {
	sign      float64
	smooth    bool
	baseRatio float64
	pbFactor  float64
	kexFactor float64
	// noExR2 scales the site A transverse rate guess of the exchange free
	// variant.
	noExR2 float64
	// rotating marks profiles of rates in the rotating frame (R1rho) rather
	// than of residual z magnetization (CEST).
	rotating bool
}

var cestProfile = peakProfile{
	sign:      1,
	smooth:    true,
	baseRatio: 3,
	pbFactor:  4,
	kexFactor: 1,
	noExR2:    0.5,
}

var r1rhoProfile = peakProfile{
	sign:      -1,
	baseRatio: 1.5,
	pbFactor:  40,
	kexFactor: 3,
	noExR2:    1,
	rotating:  true,
}

// rateGuess returns the longitudinal and the two transverse rate guesses of
// one curve. CEST reads R1 off the saturated baseline exp(-R1 tex) and the
// transverse rates off the peak widths. R1rho regresses the profile on the
// tilt of the site A effective field.
func (p peakProfile) rateGuess(pts *dataset.Points, id int, peaks []Peak, base, tex float64) (r1, r2A, r2B float64) {
	if p.rotating {
		r1, r2 := tiltRates(pts, id, peaks[0].Position)
		return r1, r2, r2
	}

	if tex > 0 && base > 0 {
		r1 = -math.Log(base) / tex
	}
	r2A, r2B = r2Guess(peaks, pbGuess(peaks, base, p))

	return r1, r2A, r2B
}

// r1Range brackets an R1 guess. An R1rho rate never drops below R1, so the
// baseline of the profile is an upper bound.
func (p peakProfile) r1Range(r1, base, tex float64) (lo, hi float64) {
	if p.rotating {
		return 0, math.Max(base, 0)
	}

	return r1Boundaries(r1, tex, 0.1)
}

// tiltRates fits R1rho = R1 + (R2 - R1) sin²θ over curve id, where θ is the
// tilt of the effective field of a site at center ppm. It returns the
// intercept R1 and the value R2 at sin²θ = 1.
func tiltRates(pts *dataset.Points, id int, center float64) (r1, r2 float64) {
	idx := pts.Indices(id)
	s := make([]float64, len(idx))
	y := make([]float64, len(idx))
	for k, i := range idx {
		x := pts.X[i]
		w1 := xAt(x, 1)
		d := (center - xAt(x, 0)) * pts.Field[i]
		if w1*w1+d*d > 0 {
			s[k] = w1 * w1 / (w1*w1 + d*d)
		}
		y[k] = pts.Y[i]
	}

	lowY := floats.Min(y)
	if floats.Max(s)-floats.Min(s) < 1e-9 {
		return lowY, lowY
	}
	alpha, beta := stat.LinearRegression(s, y, nil, false)
	r1, r2 = alpha, alpha+beta
	switch {
	case !(r1 > 0):
		r1 = lowY / 2
	case r1 > lowY:
		r1 = lowY
	}
	if !(r2 > r1) {
		r2 = floats.Max(y)
	}

	return r1, r2
}

const baselineWindow = 8

// baseline returns the largest running mean of y over a window of eight points
// and the standard deviation inside that window.
func baseline(y []float64) (value, sd float64) {
	if len(y) < baselineWindow {
		return stat.MeanStdDev(y, nil)
	}

	value = math.Inf(-1)
	for i := baselineWindow; i <= len(y); i++ {
		m, s := stat.MeanStdDev(y[i-baselineWindow:i], nil)
		if m > value {
			value, sd = m, s
		}
	}

	return value, sd
}

// smoothWindow picks the Savitzky-Golay window for n points; zero disables
// smoothing.
func smoothWindow(n int) int {
	switch {
	case n < 20:
		return 0
	case n < 30:
		return 5
	case n < 40:
		return 7
	case n < 50:
		return 9
	default:
		return 11
	}
}

// savitzkyGolay returns the central smoothing coefficients for a polynomial
// of the given order over size points.
func savitzkyGolay(size, order int) []float64 {
	h := size / 2
	a := mat.NewDense(size, order+1, nil)
	for i := 0; i < size; i++ {
		x := float64(i - h)
		v := 1.0
		for j := 0; j <= order; j++ {
			a.Set(i, j, v)
			v *= x
		}
	}

	var ata mat.Dense
	ata.Mul(a.T(), a)
	var sol mat.Dense
	if err := sol.Solve(&ata, a.T()); err != nil {
		c := make([]float64, size)
		c[h] = 1

		return c
	}

	return mat.Row(nil, 0, &sol)
}

// smooth applies a running Savitzky-Golay filter; the first and last half
// window keep their values.
func smooth(y []float64, size, order int) []float64 {
	out := append([]float64(nil), y...)
	if size == 0 || len(y) < size {
		return out
	}

	c := savitzkyGolay(size, order)
	h := size / 2
	for i := h; i < len(y)-h; i++ {
		s := 0.0
		for k, ck := range c {
			s += ck * y[i-h+k]
		}
		out[i] = s
	}

	return out
}

// findPeaks locates up to two peaks in a profile sorted by offset. The
// strongest peak comes first. field converts ppm widths to Hz.
//
// A lone peak gets a synthetic partner on its wider side, half as deep.
// When either peak is within 0.05 of the baseline only the stronger one is
// kept. A profile with no peak above the noise yields its extreme point with
// a width of a tenth of the sweep.
func findPeaks(x, y []float64, field float64, prof peakProfile) (peaks []Peak, base float64) {
	t := make([]float64, len(y))
	for i, v := range y {
		t[i] = prof.sign * v
	}
	if prof.smooth {
		t = smooth(t, smoothWindow(len(t)), 3)
	}

	base, sd := baseline(t)
	threshold := base - sd*prof.baseRatio
	const nP = 2

	var found []Peak
	for i := nP; i < len(t)-nP; i++ {
		if t[i] >= threshold {
			continue
		}
		ok := true
		for j := i - nP; j <= i+nP; j++ {
			if t[i] > t[j] {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		lo, hi, ok := halfPositions(x, t, i, base)
		if !ok {
			continue
		}
		found = append(found, Peak{
			Position: x[i],
			Depth:    t[i],
			Width:    math.Abs(hi-lo) * field,
			WidthLB:  math.Abs(lo-x[i]) * field,
			WidthUB:  math.Abs(hi-x[i]) * field,
			Index:    i,
		})
	}

	if len(found) == 0 && len(t) > 0 {
		i := 0
		for j, v := range t {
			if v < t[i] {
				i = j
			}
		}
		w := (x[len(x)-1] - x[0]) / 10 * field
		found = append(found, Peak{Position: x[i], Depth: t[i], Width: w, WidthLB: w / 2, WidthUB: w / 2, Index: i})
	}

	if len(found) == 0 {
		return nil, prof.sign * base
	}

	sort.SliceStable(found, func(a, b int) bool { return found[a].Depth < found[b].Depth })
	if len(found) > 2 {
		found = found[:2]
	}
	if len(found) == 1 {
		p := found[0]
		center := p.Position + p.WidthUB/field/2
		if p.WidthLB > p.WidthUB {
			center = p.Position - p.WidthLB/field/2
		}
		q := p
		q.Position = center
		q.Depth = (base + p.Depth) / 2
		found = append(found, q)
	}

	if math.Abs(found[0].Depth-base) < 0.05 || math.Abs(found[1].Depth-base) < 0.05 {
		found = found[:1]
	}

	for i := range found {
		found[i].Depth *= prof.sign
	}

	return found, prof.sign * base
}

// halfPositions interpolates the offsets on each side of peak i where t crosses
// half way between the peak and the baseline.
func halfPositions(x, t []float64, i int, base float64) (lo, hi float64, ok bool) {
	half := (base-t[i])/2 + t[i]
	var pos [2]float64
	for k, dir := range [2]int{-1, 1} {
		dUp, dLow := math.Inf(1), math.Inf(1)
		iUp, iLow := i, i
		for j := i + dir; j >= 0 && j < len(t); j += dir {
			d := t[j] - half
			if d < 0 {
				if -d < dUp {
					dUp, iUp = -d, j
				}

				continue
			}
			dLow, iLow = d, j

			break
		}
		if math.IsInf(dLow, 1) || math.IsInf(dUp, 1) {
			return 0, 0, false
		}
		sum := dLow + dUp
		pos[k] = x[iLow]*dUp/sum + x[iUp]*dLow/sum
	}

	return pos[0], pos[1], true
}

// pbGuess is the depth ratio of the weaker to the stronger peak, scaled by
// the profile factor and capped at 0.25.
func pbGuess(peaks []Peak, base float64, prof peakProfile) float64 {
	if len(peaks) < 2 {
		return 0.1
	}
	strong := math.Abs(base - peaks[0].Depth)
	weak := math.Abs(base - peaks[1].Depth)
	pb := weak / math.Max(strong, 1e-12) / prof.pbFactor

	return math.Min(pb, 0.25)
}

// kexGuess is the mean peak width in rad/s over 2π, scaled by the profile.
func kexGuess(peaks []Peak, prof peakProfile) float64 {
	if len(peaks) < 2 {
		return peaks[0].Width / (2 * math.Pi) / prof.kexFactor
	}

	return (peaks[0].Width + peaks[1].Width) / (4 * math.Pi) / prof.kexFactor
}

// r2Guess derives the transverse rates of both sites from the peak widths.
func r2Guess(peaks []Peak, pb float64) (r2A, r2B float64) {
	aw := peaks[0].Width / (2 * math.Pi)
	if len(peaks) < 2 {
		return aw, aw
	}
	bw := peaks[1].Width / (2 * math.Pi)
	kex := (aw + bw) / 2

	return math.Abs(aw-(1-pb)*kex), math.Abs(bw-pb*kex)
}

// r1Boundaries brackets r1 by moving the CEST baseline exp(-r1 tex) up by 0.1
// and down by delta.
func r1Boundaries(r1, tex, delta float64) (lo, hi float64) {
	if tex <= 0 {
		return 0, math.Max(4*r1, 10)
	}
	b := math.Exp(-r1 * tex)
	lo = math.Max(0, -math.Log(b+0.1)/tex)
	hi = -math.Log(math.Max(b-delta, 0.01)) / tex

	return lo, hi
}
