package ringfit

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/nanalysis/ringfit/dataset"
	"github.com/nanalysis/ringfit/equation"
	"github.com/nanalysis/ringfit/errs"
)

const n15Field = 60.8 // 15N Larmor frequency at 600 MHz

func grid(lo, hi, step float64) []float64 {
	var v []float64
	for x := lo; x <= hi+step/2; x += step {
		v = append(v, x)
	}

	return v
}

// tiedTruth lays the local parameters truth out through the equation's map
// for the single curve c and gathers them back. Parameters the equation ties
// together take the last tied value of truth.
func tiedTruth(t *testing.T, v *equation.Variant, c *dataset.Curve, truth []float64) []float64 {
	t.Helper()
	exp, err := dataset.Enumerate([]*dataset.Curve{c})
	require.NoError(t, err)
	m, err := v.MakeMap(exp.StateCount, exp.States, nil)
	require.NoError(t, err)
	global := make([]float64, m.NPars())
	for j, g := range m[0] {
		global[g] = truth[j]
	}

	return m.Gather(global, 0, nil)
}

// simulated returns a curve whose values are the prediction of the named
// equation at the local parameters truth, plus Gaussian noise of sd noise.
func simulated(t *testing.T, name string, truth []float64, key dataset.Key, field float64, x [][]float64, noise float64, seed uint64, opts ...dataset.CurveOption) *dataset.Curve {
	t.Helper()
	v, err := equation.Lookup(name)
	require.NoError(t, err)

	n := len(x[0])
	e := make([]float64, n)
	for i := range e {
		e[i] = math.Max(noise, 1)
	}
	shape, err := dataset.NewCurve(key, field, x, make([]float64, n), e, opts...)
	require.NoError(t, err)
	local := tiedTruth(t, v, shape, truth)

	norm := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewSource(seed)}
	y := make([]float64, n)
	for i := range y {
		y[i], err = v.Predict(local, shape.Point(i), field)
		require.NoError(t, err)
		y[i] += noise * norm.Rand()
	}
	c, err := dataset.NewCurve(key, field, x, y, e, opts...)
	require.NoError(t, err)

	return c
}

func residue(name string, field float64) dataset.Key {
	return dataset.Key{Residue: name, Field: field, Temperature: 298, Nucleus: "N"}
}

func precise() []Option {
	return []Option{WithTolerance(1e-12), WithFinalRadius(-9), WithMaxIterations(20000)}
}

func TestFitCurveCPMGFast(t *testing.T) {
	truth := []float64{500, 10, 1}
	c := simulated(t, equation.CPMGFast, truth, residue("A12", 600), n15Field, [][]float64{grid(25, 1000, 25)}, 0, 1)

	res, err := FitCurve(context.Background(), equation.CPMGFast, []*dataset.Curve{c}, precise()...)
	require.NoError(t, err)
	require.Equal(t, equation.CPMGFast, res.Equation)
	require.Equal(t, []string{"Kex", "R2", "dPPMmin"}, res.ParNames)
	require.Less(t, res.RMS(), 1e-6)
	for i, v := range truth {
		require.InEpsilon(t, v, res.Params[i], 0.01, res.ParNames[i])
	}
	require.Equal(t, 40, res.Metrics.N)
	require.Equal(t, 3, res.Metrics.K)
	require.Nil(t, res.Errors)
	require.True(t, res.ExchangeValid)

	require.Len(t, res.Curves, 1)
	require.Equal(t, "A12", res.Curves[0].Key.Residue)
	require.Equal(t, n15Field, res.Curves[0].Field)
	dw := 2 * math.Pi * n15Field
	require.InEpsilon(t, dw*dw/(2*500), res.Curves[0].Rex, 0.02)

	lo, hi := res.Bounds()
	for i, v := range res.Params {
		require.GreaterOrEqual(t, v, lo[i])
		require.LessOrEqual(t, v, hi[i])
	}
}

func TestFitCurveTwoFields(t *testing.T) {
	truth := []float64{800, 12, 0.8}
	nu := [][]float64{grid(50, 1000, 50)}
	curves := []*dataset.Curve{
		simulated(t, equation.CPMGFast, truth, residue("G7", 600), n15Field, nu, 0, 1),
		simulated(t, equation.CPMGFast, truth, residue("G7", 800), 81.1, nu, 0, 1),
	}

	res, err := FitCurve(context.Background(), equation.CPMGFast, curves, precise()...)
	require.NoError(t, err)
	require.Len(t, res.Curves, 2)
	require.Len(t, res.Params, 5)
	require.Equal(t, res.Curves[0].Values[0], res.Curves[1].Values[0], "kex is shared")
	require.Equal(t, res.Curves[0].Values[2], res.Curves[1].Values[2], "dPPMmin is per residue")
	require.Greater(t, res.Curves[1].Rex, res.Curves[0].Rex)
	require.InEpsilon(t, 800, res.Curves[0].Values[0], 0.01)

	t.Run("field mask", func(t *testing.T) {
		res, err := FitCurve(context.Background(), equation.CPMGFast, curves,
			append(precise(), WithMask(dataset.DimResidue))...)
		require.NoError(t, err)
		require.Len(t, res.Params, 3)
		require.Equal(t, res.Curves[0].Values[1], res.Curves[1].Values[1])
	})
}

func TestFitCurveRoundTrip(t *testing.T) {
	// series is one simulated curve of a fixture.
	type series struct {
		key   dataset.Key
		field float64
		opts  []dataset.CurveOption
	}
	type fixture struct {
		truth  []float64
		x      [][]float64
		series []series
	}
	single := func(field float64) []series {
		return []series{{key: residue("K5", 600), field: field}}
	}
	nu := [][]float64{grid(25, 1000, 25)}
	delays := [][]float64{grid(0, 2, 0.1)}
	twoSite := []float64{150, 0.08, 120, 124, 1.5, 1.5, 10, 30}
	oneSite := []float64{120, 1.5, 10}

	// Offset profiles are recorded at two B1 fields on the same residue.
	cest := []series{
		{key: residue("K5", 600), field: n15Field, opts: []dataset.CurveOption{dataset.WithB1(25), dataset.WithTex(0.3)}},
		{key: residue("K5", 600), field: n15Field, opts: []dataset.CurveOption{dataset.WithB1(50), dataset.WithTex(0.3)}},
	}
	r1rho := []series{
		{key: residue("K5", 600), field: n15Field, opts: []dataset.CurveOption{dataset.WithB1(250), dataset.WithTex(0.05)}},
		{key: residue("K5", 600), field: n15Field, opts: []dataset.CurveOption{dataset.WithB1(1000), dataset.WithTex(0.05)}},
	}

	fixtures := map[string]fixture{
		equation.CPMGNoEx: {truth: []float64{10}, x: nu, series: single(n15Field)},
		equation.CPMGFast: {truth: []float64{500, 10, 1}, x: nu, series: single(n15Field)},
		equation.CPMGSlow: {truth: []float64{300, 0.9, 10, 2}, x: nu, series: []series{
			{key: residue("K5", 600), field: n15Field},
			{key: residue("K5", 800), field: 81.1},
		}},
		equation.ExpAB:  {truth: []float64{100, 2}, x: delays, series: single(1)},
		equation.ExpABC: {truth: []float64{100, 2, 10}, x: delays, series: single(1)},
	}
	for _, v := range equation.ByFamily(equation.FamilyCEST) {
		f := fixture{truth: twoSite, x: [][]float64{grid(110, 130, 0.25)}, series: cest}
		if !v.HasExchange {
			f.truth = oneSite
		}
		fixtures[v.Name] = f
	}
	for _, v := range equation.ByFamily(equation.FamilyR1rho) {
		f := fixture{truth: twoSite, x: [][]float64{grid(104, 136, 0.5)}, series: r1rho}
		if !v.HasExchange {
			f.truth = oneSite
		}
		fixtures[v.Name] = f
	}
	require.Len(t, fixtures, len(equation.Names()))

	// The closed form offset kernels stay in short runs; the matrix based
	// ones are slow.
	quick := map[string]bool{
		equation.CESTNoEx:          true,
		equation.CESTTrott:         true,
		equation.R1rhoNoEx:         true,
		equation.R1rhoPerturbation: true,
	}

	for _, name := range equation.Names() {
		f := fixtures[name]
		t.Run(name, func(t *testing.T) {
			v, err := equation.Lookup(name)
			require.NoError(t, err)
			offset := v.Family == equation.FamilyCEST || v.Family == equation.FamilyR1rho
			if testing.Short() && offset && !quick[name] {
				t.Skip("matrix exponential fits are slow")
			}

			curves := make([]*dataset.Curve, len(f.series))
			for i, s := range f.series {
				curves[i] = simulated(t, name, f.truth, s.key, s.field, f.x, 0, 1, s.opts...)
			}
			opts := precise()
			if offset {
				opts = append(opts, WithAttempts(5))
			}
			res, err := FitCurve(context.Background(), name, curves, opts...)
			require.NoError(t, err)

			scale := 0.0
			for _, y := range curves[0].Y {
				scale += math.Abs(y) / float64(len(curves[0].Y))
			}
			require.Less(t, res.RMS(), 0.01*scale)

			require.Len(t, res.Curves, len(curves))
			for i, cp := range res.Curves {
				want := tiedTruth(t, v, curves[i], f.truth)
				for j, tv := range want {
					require.InEpsilon(t, tv, cp.Values[j], 0.01, "curve %d %s", i, res.ParNames[j])
				}
			}
		})
	}
}

func TestFitCurveErrors(t *testing.T) {
	ctx := context.Background()
	c := simulated(t, equation.CPMGFast, []float64{500, 10, 1}, residue("A1", 600), n15Field, [][]float64{grid(100, 300, 100)}, 0, 1)

	_, err := FitCurve(ctx, "CPMGMEDIUM", []*dataset.Curve{c})
	require.ErrorIs(t, err, errs.ErrUnknownEquation)

	_, err = FitCurve(ctx, equation.CPMGSlow, []*dataset.Curve{c})
	require.ErrorIs(t, err, errs.ErrInsufficientData)

	_, err = FitCurve(ctx, equation.CPMGFast, nil)
	require.ErrorIs(t, err, errs.ErrInsufficientData)

	_, err = FitCurve(ctx, equation.CPMGNoEx, []*dataset.Curve{c}, WithStart([]float64{1, 2}))
	require.ErrorIs(t, err, errs.ErrInvalidConfig)

	_, err = FitCurve(ctx, equation.CPMGNoEx, []*dataset.Curve{c}, WithSampleSize(0))
	require.ErrorIs(t, err, errs.ErrInvalidConfig)
	require.ErrorContains(t, err, "sample size")

	_, err = FitCurve(ctx, equation.CPMGNoEx, []*dataset.Curve{c}, WithBounds([]float64{0}, []float64{0, 1}))
	require.ErrorIs(t, err, errs.ErrInvalidConfig)

	_, err = FitCurve(ctx, equation.CPMGNoEx, []*dataset.Curve{c}, WithMask(7))
	require.ErrorIs(t, err, errs.ErrInvalidConfig)

	_, err = FitCurve(ctx, equation.CPMGNoEx, []*dataset.Curve{c}, WithAlpha(1))
	require.ErrorIs(t, err, errs.ErrInvalidConfig)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = FitCurve(cancelled, equation.CPMGNoEx, []*dataset.Curve{c})
	require.ErrorIs(t, err, context.Canceled)
}

func TestFitCurveUserStartAndBounds(t *testing.T) {
	c := simulated(t, equation.CPMGNoEx, []float64{10}, residue("A1", 600), n15Field, [][]float64{grid(25, 1000, 25)}, 0, 1)
	res, err := FitCurve(context.Background(), equation.CPMGNoEx, []*dataset.Curve{c},
		WithStart([]float64{5}), WithBounds([]float64{0}, []float64{8}))
	require.NoError(t, err)
	require.InDelta(t, 8, res.Params[0], 1e-3)
	lo, hi := res.Bounds()
	require.Equal(t, []float64{0}, lo)
	require.Equal(t, []float64{8}, hi)
	require.False(t, res.ExchangeValid)
}

func TestBootstrapAndSelection(t *testing.T) {
	ctx := context.Background()
	nu := [][]float64{grid(25, 1000, 25)}
	eqs := []string{equation.CPMGNoEx, equation.CPMGFast}

	fitAll := func(t *testing.T, c *dataset.Curve, opts ...Option) []*FitResult {
		t.Helper()
		var out []*FitResult
		for _, name := range eqs {
			r, err := FitCurve(ctx, name, []*dataset.Curve{c}, opts...)
			require.NoError(t, err)
			out = append(out, r)
		}

		return out
	}

	t.Run("exchange", func(t *testing.T) {
		c := simulated(t, equation.CPMGFast, []float64{500, 10, 1.5}, residue("A1", 600), n15Field, nu, 0.2, 3)
		results := fitAll(t, c, WithBootstrap(true), WithSampleSize(20), WithWorkers(4), WithNonParametric(false))

		fast := results[1]
		require.Len(t, fast.Replicates, len(fast.Params))
		require.Len(t, fast.Replicates[0], 20)
		require.Len(t, fast.Errors, len(fast.Params))
		require.NotNil(t, fast.Curves[0].Errors)
		for _, e := range fast.Errors {
			require.Greater(t, e, 0.0)
		}

		name, exchange, err := SelectBestModel(results)
		require.NoError(t, err)
		require.Equal(t, equation.CPMGFast, name)
		require.True(t, exchange)
	})

	t.Run("flat profile falls back", func(t *testing.T) {
		c := simulated(t, equation.CPMGNoEx, []float64{12}, residue("A2", 600), n15Field, nu, 0.2, 5)
		results := fitAll(t, c)

		name, exchange, err := SelectBestModel(results)
		require.NoError(t, err)
		require.Equal(t, equation.CPMGNoEx, name)
		require.False(t, exchange)
	})

	t.Run("estimate errors", func(t *testing.T) {
		c := simulated(t, equation.CPMGFast, []float64{500, 10, 1.5}, residue("A3", 600), n15Field, nu, 0.2, 7)
		r, err := FitCurve(ctx, equation.CPMGFast, []*dataset.Curve{c}, WithSampleSize(10), WithWorkers(2))
		require.NoError(t, err)
		require.Nil(t, r.Errors)

		for _, mode := range []ErrorMode{Parametric, NonParametric} {
			sd, err := EstimateErrors(ctx, r, mode)
			require.NoError(t, err)
			require.Len(t, sd, len(r.Params))
			require.Greater(t, sd[1], 0.0)
		}
		require.Nil(t, r.Errors, "result is unchanged")

		_, err = EstimateErrors(ctx, &FitResult{}, Parametric)
		require.ErrorIs(t, err, errs.ErrInvalidConfig)
	})

	t.Run("invalid input", func(t *testing.T) {
		_, _, err := SelectBestModel(nil)
		require.ErrorIs(t, err, errs.ErrInsufficientData)
		_, _, err = SelectBestModel([]*FitResult{{}})
		require.ErrorIs(t, err, errs.ErrInvalidConfig)
	})
}

func TestEstimateErrorsCoverage(t *testing.T) {
	ctx := context.Background()
	delays := []float64{0, 0.1, 0.2, 0.4, 0.6, 0.8, 1.0, 1.5, 2.0}
	decay := func(x []float64) ([]float64, []float64) {
		y, e := make([]float64, len(x)), make([]float64, len(x))
		for i, d := range x {
			y[i], e[i] = 100*math.Exp(-2*d), 1
		}

		return y, e
	}
	y, e := decay(delays)
	full, err := dataset.NewCurve(residue("B1", 600), n15Field, [][]float64{delays}, y, e)
	require.NoError(t, err)
	y, e = decay([]float64{0.5})
	lone, err := dataset.NewCurve(residue("B2", 600), n15Field, [][]float64{{0.5}}, y, e)
	require.NoError(t, err)

	r, err := FitCurve(ctx, equation.ExpAB, []*dataset.Curve{full, lone},
		WithStart([]float64{100, 2, 100, 2}),
		WithBounds([]float64{0, 0, 0, 0}, []float64{400, 8, 400, 8}),
		WithSampleSize(4), WithWorkers(2))
	require.NoError(t, err)

	t.Run("nonparametric needs two points per curve", func(t *testing.T) {
		_, err := EstimateErrors(ctx, r, NonParametric)
		require.ErrorIs(t, err, errs.ErrInsufficientData)
	})

	t.Run("parametric still runs", func(t *testing.T) {
		sd, err := EstimateErrors(ctx, r, Parametric)
		require.NoError(t, err)
		require.Len(t, sd, 4)
	})
}
