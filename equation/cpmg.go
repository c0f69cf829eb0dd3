package equation

import (
	"math"

	"github.com/nanalysis/ringfit/dataset"
	"github.com/nanalysis/ringfit/parmap"
	"github.com/nanalysis/ringfit/physics"
)

// CPMG variant names.
const (
	CPMGNoEx = "NOEX"
	CPMGFast = "CPMGFAST"
	CPMGSlow = "CPMGSLOW"
)

func init() {
	register(cpmgNoEx(), cpmgFast(), cpmgSlow())
}

func maskOrDefault(mask []int) []int {
	if len(mask) == 0 {
		return DefaultMask
	}

	return mask
}

// cpmgStats returns the extremes of curve id and the CPMG frequency at half
// height.
func cpmgStats(p *dataset.Points, id int) (minY, maxY, vMid float64) {
	s := p.CurveStats(id)

	return s.Min, s.Max, p.MidValue(id, 0)
}

// kexFromMid estimates kex from the frequency at half dispersion.
func kexFromMid(vMid float64) float64 {
	if vMid <= 0 {
		return 0
	}
	tauMid := 1.0 / (2.0 * vMid)

	return 1.915 / (0.5 * tauMid)
}

func capKex(guess []float64, slot int, maxFreq float64) {
	if guess[slot] > maxFreq {
		guess[slot] = 0.9 * maxFreq
	}
}

func cpmgNoEx() *Variant {
	return &Variant{
		Name:     CPMGNoEx,
		Family:   FamilyCPMG,
		ParNames: []string{"R2"},
		NGroup:   0,
		Fallback: CPMGNoEx,
		Predict: func(local, _ []float64, _ float64) (float64, error) {
			return physics.CPMGNoEx(local[0]), nil
		},
		Guess: func(d *Data) ([]float64, error) {
			return perCurveGuess(d, 1, func(id int, local []float64) error {
				local[0] = d.Points.CurveStats(id).Mean
				return nil
			})
		},
		Bounds: func(d *Data, guess []float64) ([]float64, []float64, error) {
			return perCurveBounds(d, guess, 1, func(_ int, g, lo, hi []float64) error {
				lo[0], hi[0] = 0, math.Max(4*g[0], 1)
				return nil
			})
		},
		MakeMap: func(count [dataset.NumDims]int, states []dataset.State, mask []int) (parmap.Map, error) {
			return parmap.NewBuilder(count, states, 0).Masked(maskOrDefault(mask)...).Map()
		},
	}
}

func cpmgFast() *Variant {
	const nLocal = 3 // Kex, R2, dPPMmin
	v := &Variant{
		Name:         CPMGFast,
		Family:       FamilyCPMG,
		ParNames:     []string{"Kex", "R2", "dPPMmin"},
		NGroup:       1,
		HasExchange:  true,
		Fallback:     CPMGNoEx,
		ExchangePars: []int{0, 2},
		Predict: func(local, x []float64, field float64) (float64, error) {
			if err := physics.CheckNonNegative("cpmg fast", local...); err != nil {
				return 0, err
			}

			return physics.CPMGFast(x[0], field, local[0], local[1], local[2]), nil
		},
		MakeMap: func(count [dataset.NumDims]int, states []dataset.State, mask []int) (parmap.Map, error) {
			return parmap.NewBuilder(count, states, 1).
				Masked(maskOrDefault(mask)...).
				Masked(dataset.DimResidue, dataset.DimNucleus).
				Map()
		},
		Rex: func(local []float64, field float64) float64 {
			return physics.CPMGFastRex(field, local[0], local[2])
		},
		Kex: func(local []float64) float64 { return local[0] },
	}

	v.Guess = func(d *Data) ([]float64, error) {
		guess, err := perCurveGuess(d, nLocal, func(id int, local []float64) error {
			field, _ := curveInfo(d.Points, id)
			minY, maxY, vMid := cpmgStats(d.Points, id)
			r2 := 0.95 * minY
			rex := maxY - minY
			kex := kexFromMid(vMid)
			local[0] = kex
			local[1] = r2
			local[2] = math.Sqrt(4*rex*kex) / field / (2 * math.Pi)

			return nil
		})
		if err != nil {
			return nil, err
		}
		capKex(guess, 0, d.maxFreq())

		return guess, nil
	}
	v.Bounds = func(d *Data, guess []float64) ([]float64, []float64, error) {
		return perCurveBounds(d, guess, nLocal, func(_ int, g, lo, hi []float64) error {
			lo[0], hi[0] = 0, math.Min(math.Max(4*g[0], 1), d.maxFreq())
			lo[1], hi[1] = 0, math.Max(4*g[1], 1)
			lo[2], hi[2] = 0, math.Max(4*g[2], 0.1)

			return nil
		})
	}

	return v
}

func cpmgSlow() *Variant {
	const nLocal = 4 // Kex, pA, R2, dPPM
	v := &Variant{
		Name:         CPMGSlow,
		Family:       FamilyCPMG,
		ParNames:     []string{"Kex", "pA", "R2", "dPPM"},
		NGroup:       2,
		HasExchange:  true,
		Fallback:     CPMGNoEx,
		ExchangePars: []int{0, 3},
		Predict: func(local, x []float64, field float64) (float64, error) {
			if err := physics.CheckNonNegative("cpmg slow", local...); err != nil {
				return 0, err
			}
			if err := physics.CheckFraction("pA", local[1]); err != nil {
				return 0, err
			}

			return physics.CPMGSlow(x[0], field, local[0], local[1], local[2], local[3]), nil
		},
		MakeMap: func(count [dataset.NumDims]int, states []dataset.State, mask []int) (parmap.Map, error) {
			return parmap.NewBuilder(count, states, 2).
				Masked(maskOrDefault(mask)...).
				Masked(dataset.DimResidue, dataset.DimNucleus).
				Map()
		},
		Rex: func(local []float64, field float64) float64 {
			return physics.CPMGSlowRex(field, local[0], local[1], local[2], local[3])
		},
		Kex: func(local []float64) float64 { return local[0] },
	}

	v.Guess = func(d *Data) ([]float64, error) {
		const pa = 0.95
		guess, err := perCurveGuess(d, nLocal, func(id int, local []float64) error {
			field, _ := curveInfo(d.Points, id)
			minY, maxY, vMid := cpmgStats(d.Points, id)
			r2 := 0.95 * minY
			rex := maxY - r2
			kex := kexFromMid(vMid)
			local[0] = kex
			local[1] = pa
			local[2] = r2
			local[3] = math.Sqrt(rex/(pa*(1-pa))*kex) / (2 * math.Pi) / field

			return nil
		})
		if err != nil {
			return nil, err
		}
		capKex(guess, 0, d.maxFreq())

		return guess, nil
	}
	v.Bounds = func(d *Data, guess []float64) ([]float64, []float64, error) {
		return perCurveBounds(d, guess, nLocal, func(_ int, g, lo, hi []float64) error {
			lo[0], hi[0] = 0, math.Max(4*g[0], 1)
			lo[1], hi[1] = 0.5, 0.99
			lo[2], hi[2] = 0, math.Max(4*g[2], 1)
			lo[3], hi[3] = 0, math.Max(4*g[3], 0.1)

			return nil
		})
	}

	return v
}
