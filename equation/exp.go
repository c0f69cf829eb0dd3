package equation

import (
	"math"

	"github.com/nanalysis/ringfit/dataset"
	"github.com/nanalysis/ringfit/parmap"
	"github.com/nanalysis/ringfit/physics"
)

// Exponential decay variant names.
const (
	ExpAB  = "EXPAB"
	ExpABC = "EXPABC"
)

func init() {
	register(expAB(), expABC())
}

// rateFromHalf converts the delay at which a decay halves into a rate.
func rateFromHalf(t float64) float64 {
	if !(t > 0) {
		return 1
	}

	return -math.Log(0.5) / t
}

func expMap(withC bool) func(count [dataset.NumDims]int, states []dataset.State, mask []int) (parmap.Map, error) {
	return func(count [dataset.NumDims]int, states []dataset.State, mask []int) (parmap.Map, error) {
		b := parmap.NewBuilder(count, states, 0).
			Masked(dataset.DimResidue, dataset.DimField, dataset.DimTemperature, dataset.DimNucleus).
			Masked(maskOrDefault(mask)...)
		if withC {
			b = b.Masked(dataset.DimResidue, dataset.DimNucleus)
		}

		return b.Map()
	}
}

func expAB() *Variant {
	const nLocal = 2
	v := &Variant{
		Name:     ExpAB,
		Family:   FamilyExp,
		ParNames: []string{"A", "R"},
		Fallback: ExpAB,
		Predict: func(local, x []float64, _ float64) (float64, error) {
			if err := physics.CheckNonNegative("exp rate", local[1]); err != nil {
				return 0, err
			}

			return local[0] * math.Exp(-local[1]*x[0]), nil
		},
		MakeMap: expMap(false),
	}
	v.Guess = func(d *Data) ([]float64, error) {
		return perCurveGuess(d, nLocal, func(id int, local []float64) error {
			local[0] = d.Points.CurveStats(id).Max
			local[1] = rateFromHalf(d.Points.MidValueZero(id, 0))

			return nil
		})
	}
	v.Bounds = func(d *Data, guess []float64) ([]float64, []float64, error) {
		return perCurveBounds(d, guess, nLocal, func(_ int, g, lo, hi []float64) error {
			lo[0], hi[0] = 0, math.Max(4*g[0], 1e-6)
			lo[1], hi[1] = 0, math.Max(4*g[1], 1e-6)

			return nil
		})
	}

	return v
}

func expABC() *Variant {
	const nLocal = 3
	v := &Variant{
		Name:     ExpABC,
		Family:   FamilyExp,
		ParNames: []string{"A", "R", "C"},
		Fallback: ExpAB,
		Predict: func(local, x []float64, _ float64) (float64, error) {
			if err := physics.CheckNonNegative("exp rate", local[1]); err != nil {
				return 0, err
			}

			return local[0]*math.Exp(-local[1]*x[0]) + local[2], nil
		},
		MakeMap: expMap(true),
	}
	v.Guess = func(d *Data) ([]float64, error) {
		return perCurveGuess(d, nLocal, func(id int, local []float64) error {
			s := d.Points.CurveStats(id)
			local[0] = s.Max - s.Min
			local[1] = rateFromHalf(d.Points.MidValue(id, 0))
			local[2] = s.Min

			return nil
		})
	}
	v.Bounds = func(d *Data, guess []float64) ([]float64, []float64, error) {
		return perCurveBounds(d, guess, nLocal, func(_ int, g, lo, hi []float64) error {
			lo[0], hi[0] = 0, math.Max(4*g[0], 1e-6)
			lo[1], hi[1] = 0, math.Max(4*g[1], 1e-6)
			lo[2], hi[2] = 0, math.Max(4*g[2], 0.1*g[0]+1e-6)

			return nil
		})
	}

	return v
}
