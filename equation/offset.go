package equation

import (
	"fmt"
	"math"

	"github.com/nanalysis/ringfit/dataset"
	"github.com/nanalysis/ringfit/errs"
	"github.com/nanalysis/ringfit/parmap"
	"github.com/nanalysis/ringfit/physics"
)

// Offset experiments (CEST and R1rho) share parameter names, guessing and
// bounds; only the kernel, the peak profile and the tied slots differ.
var (
	exchangeParNames = []string{"Kex", "Pb", "deltaA0", "deltaB0", "R1A", "R1B", "R2A", "R2B"}
	noExParNames     = []string{"deltaA0", "R1A", "R2A"}
)

// Slot layouts of the six per-residue parameters. Equal values are tied.
var (
	layoutR1Tied   = []int{2, 3, 4, 4, 5, 6}
	layoutFree     = []int{2, 3, 4, 5, 6, 7}
	layoutR2Tied   = []int{2, 3, 4, 5, 6, 6}
	layoutRateTied = []int{2, 3, 4, 4, 5, 5}
)

// offsetKernel evaluates one offset point: x is {offset ppm, B1 Hz, time s}.
type offsetKernel func(e physics.Exchange, pt physics.Point) (float64, error)

func xAt(x []float64, i int) float64 {
	if i < len(x) {
		return x[i]
	}

	return 0
}

func offsetPoint(x []float64, field float64) physics.Point {
	return physics.Point{Offset: xAt(x, 0), B1: xAt(x, 1), Tex: xAt(x, 2), Field: field}
}

func twoSite(local []float64) physics.TwoSite {
	return physics.TwoSite{
		Kex: local[0], Pb: local[1],
		DeltaA0: local[2], DeltaB0: local[3],
		R1A: local[4], R1B: local[5],
		R2A: local[6], R2B: local[7],
	}
}

func singleSite(local []float64) physics.TwoSite {
	return physics.TwoSite{DeltaA0: local[0], DeltaB0: local[0], R1A: local[1], R1B: local[1], R2A: local[2], R2B: local[2]}
}

// offsetProfile is what the peak search learns from one curve.
type offsetProfile struct {
	peaks []Peak
	base  float64
	field float64
	tex   float64
	// lo and hi span the sampled offsets, ppm.
	lo, hi float64
}

// curvePeaks runs the peak search on curve id sorted by offset.
func curvePeaks(d *Data, id int, prof peakProfile) (*offsetProfile, error) {
	x, y := d.Points.Series(id, 0)
	field, first := curveInfo(d.Points, id)
	peaks, base := findPeaks(x, y, field, prof)
	if len(peaks) == 0 {
		return nil, fmt.Errorf("%w: no offset profile for curve %d", errs.ErrInsufficientData, id)
	}

	return &offsetProfile{
		peaks: peaks,
		base:  base,
		field: field,
		tex:   xAt(first, 2),
		lo:    x[0],
		hi:    x[len(x)-1],
	}, nil
}

// shiftBound is half the peak width in ppm, floored at 0.05 ppm.
func shiftBound(p Peak, field float64) float64 {
	return math.Max(p.Width/field/2, 0.05)
}

// minorShift bounds the shift of site B. A CEST dip of the minor site is
// resolved and bounded by its width. An R1rho bump of the minor site often
// sits on the flank of the major peak, so it may lie anywhere in the sweep.
func minorShift(op *offsetProfile, prof peakProfile, g float64) (lo, hi float64) {
	if prof.rotating {
		return math.Min(op.lo, g), math.Max(op.hi, g)
	}
	d := shiftBound(op.peaks[len(op.peaks)-1], op.field)

	return g - d, g + d
}

func exchangeVariant(name string, family Family, prof peakProfile, layout []int, fallback string, kernel offsetKernel) *Variant {
	const nLocal = 8
	v := &Variant{
		Name:         name,
		Family:       family,
		ParNames:     exchangeParNames,
		NGroup:       2,
		HasExchange:  true,
		Fallback:     fallback,
		ExchangePars: []int{0},
		ShiftPair:    []int{2, 3},
		Predict: func(local, x []float64, field float64) (float64, error) {
			p := twoSite(local)
			if err := p.Validate(); err != nil {
				return 0, err
			}
			pt := offsetPoint(x, field)

			return kernel(p.At(pt), pt)
		},
		MakeMap: func(count [dataset.NumDims]int, states []dataset.State, _ []int) (parmap.Map, error) {
			return parmap.NewBuilder(count, states, 2).Layout([]int{dataset.DimResidue}, layout...).Map()
		},
		Kex: func(local []float64) float64 { return local[0] },
	}

	v.Guess = func(d *Data) ([]float64, error) {
		return perCurveGuess(d, nLocal, func(id int, local []float64) error {
			op, err := curvePeaks(d, id, prof)
			if err != nil {
				return err
			}
			peaks := op.peaks
			r1, r2A, r2B := prof.rateGuess(d.Points, id, peaks, op.base, op.tex)

			local[0] = kexGuess(peaks, prof)
			local[1] = pbGuess(peaks, op.base, prof)
			local[2] = peaks[0].Position
			local[3] = peaks[len(peaks)-1].Position
			local[4], local[5] = r1, r1
			local[6], local[7] = r2A, r2B

			return nil
		})
	}
	v.Bounds = func(d *Data, guess []float64) ([]float64, []float64, error) {
		return perCurveBounds(d, guess, nLocal, func(id int, g, lo, hi []float64) error {
			op, err := curvePeaks(d, id, prof)
			if err != nil {
				return err
			}
			dA := shiftBound(op.peaks[0], op.field)

			lo[0], hi[0] = cover(1, 500, g[0])
			lo[1], hi[1] = 0.01, 0.25
			lo[2], hi[2] = g[2]-dA, g[2]+dA
			lo[3], hi[3] = minorShift(op, prof, g[3])
			for _, j := range []int{4, 5} {
				l, h := prof.r1Range(g[j], op.base, op.tex)
				lo[j], hi[j] = cover(l, h, g[j])
			}
			for _, j := range []int{6, 7} {
				lo[j], hi[j] = cover(1, 250, g[j])
			}

			return nil
		})
	}

	return v
}

func noExVariant(name string, family Family, prof peakProfile, kernel offsetKernel) *Variant {
	const nLocal = 3
	v := &Variant{
		Name:     name,
		Family:   family,
		ParNames: noExParNames,
		NGroup:   0,
		Fallback: name,
		Predict: func(local, x []float64, field float64) (float64, error) {
			p := singleSite(local)
			if err := p.Validate(); err != nil {
				return 0, err
			}
			pt := offsetPoint(x, field)

			return kernel(p.At(pt), pt)
		},
		MakeMap: func(count [dataset.NumDims]int, states []dataset.State, _ []int) (parmap.Map, error) {
			return parmap.NewBuilder(count, states, 0).Layout([]int{dataset.DimResidue}, 0, 1, 2).Map()
		},
	}

	v.Guess = func(d *Data) ([]float64, error) {
		return perCurveGuess(d, nLocal, func(id int, local []float64) error {
			op, err := curvePeaks(d, id, prof)
			if err != nil {
				return err
			}
			r1, r2A, _ := prof.rateGuess(d.Points, id, op.peaks, op.base, op.tex)
			local[0] = op.peaks[0].Position
			local[1] = r1
			local[2] = r2A * prof.noExR2

			return nil
		})
	}
	v.Bounds = func(d *Data, guess []float64) ([]float64, []float64, error) {
		return perCurveBounds(d, guess, nLocal, func(id int, g, lo, hi []float64) error {
			op, err := curvePeaks(d, id, prof)
			if err != nil {
				return err
			}
			dA := shiftBound(op.peaks[0], op.field)
			lo[0], hi[0] = g[0]-dA, g[0]+dA
			l, h := prof.r1Range(g[1], op.base, op.tex)
			lo[1], hi[1] = cover(l, h, g[1])
			lo[2], hi[2] = 0.1, math.Max(4*g[2], 200)

			return nil
		})
	}

	return v
}

// rateKernel adapts an R1rho rate formula.
func rateKernel(f physics.R1rhoFunc) offsetKernel {
	return func(e physics.Exchange, _ physics.Point) (float64, error) {
		return f(e), nil
	}
}

// cestKernel adapts a closed form CEST intensity.
func cestKernel(f func(physics.Exchange, float64) float64) offsetKernel {
	return func(e physics.Exchange, pt physics.Point) (float64, error) {
		return f(e, pt.Tex), nil
	}
}
