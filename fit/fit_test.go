package fit

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nanalysis/ringfit/dataset"
	"github.com/nanalysis/ringfit/equation"
	"github.com/nanalysis/ringfit/errs"
)

func bowl(center []float64) Objective {
	return func(x []float64) float64 {
		s := 0.0
		for i, c := range center {
			d := x[i] - c
			s += d * d
		}

		return s
	}
}

func span(n int, lo, hi float64) ([]float64, []float64) {
	l, h := make([]float64, n), make([]float64, n)
	for i := range l {
		l[i], h[i] = lo, hi
	}

	return l, h
}

func TestRefine(t *testing.T) {
	ctx := context.Background()

	t.Run("quadratic bowl", func(t *testing.T) {
		center := []float64{1, -2, 3}
		lo, hi := span(3, -10, 10)
		r, err := Refine(ctx, bowl(center), []float64{0, 0, 0}, lo, hi, DefaultOptions())
		require.NoError(t, err)
		for i, c := range center {
			require.InDelta(t, c, r.X[i], 1e-4)
		}
		require.Less(t, r.Value, 1e-8)
		require.Positive(t, r.Evals)
	})

	t.Run("bounds are respected", func(t *testing.T) {
		lo, hi := span(2, -10, 10)
		r, err := Refine(ctx, bowl([]float64{20, 0}), []float64{0, 5}, lo, hi, DefaultOptions())
		require.NoError(t, err)
		require.LessOrEqual(t, r.X[0], 10.0)
		require.InDelta(t, 10, r.X[0], 1e-6)
		require.InDelta(t, 0, r.X[1], 1e-4)
	})

	t.Run("fixed parameter stays put", func(t *testing.T) {
		r, err := Refine(ctx, bowl([]float64{1, 2}), []float64{0, 0}, []float64{-5, 3}, []float64{5, 3}, DefaultOptions())
		require.NoError(t, err)
		require.Equal(t, 3.0, r.X[1])
		require.InDelta(t, 1, r.X[0], 1e-4)
	})

	t.Run("never worse than the start", func(t *testing.T) {
		lo, hi := span(2, -1, 1)
		f := bowl([]float64{0.25, -0.5})
		start := []float64{0.25, -0.5}
		r, err := Refine(ctx, f, start, lo, hi, DefaultOptions())
		require.NoError(t, err)
		require.LessOrEqual(t, r.Value, f(start))
	})

	t.Run("deterministic for a seed", func(t *testing.T) {
		lo, hi := span(3, -10, 10)
		opts := DefaultOptions()
		opts.Seed = 42
		a, err := Refine(ctx, bowl([]float64{1, 2, 3}), []float64{0, 0, 0}, lo, hi, opts)
		require.NoError(t, err)
		b, err := Refine(ctx, bowl([]float64{1, 2, 3}), []float64{0, 0, 0}, lo, hi, opts)
		require.NoError(t, err)
		require.Equal(t, a.X, b.X)
		require.Equal(t, a.Evals, b.Evals)
	})

	t.Run("panic becomes optimization failure", func(t *testing.T) {
		lo, hi := span(1, 0, 1)
		_, err := Refine(ctx, func([]float64) float64 { panic("boom") }, []float64{0.5}, lo, hi, DefaultOptions())
		require.ErrorIs(t, err, errs.ErrOptimizationFailure)
	})

	t.Run("no finite value", func(t *testing.T) {
		lo, hi := span(2, 0, 1)
		opts := DefaultOptions()
		opts.MaxIterations = 50
		_, err := Refine(ctx, func([]float64) float64 { return math.NaN() }, []float64{0.5, 0.5}, lo, hi, opts)
		require.ErrorIs(t, err, errs.ErrOptimizationFailure)
	})

	t.Run("invalid input", func(t *testing.T) {
		f := bowl([]float64{0})
		_, err := Refine(ctx, f, []float64{0}, []float64{1}, []float64{0}, DefaultOptions())
		require.ErrorIs(t, err, errs.ErrInvalidConfig)

		_, err = Refine(ctx, f, []float64{0, 1}, []float64{0}, []float64{1}, DefaultOptions())
		require.ErrorIs(t, err, errs.ErrInvalidConfig)

		opts := DefaultOptions()
		opts.Tolerance = 0
		_, err = Refine(ctx, f, []float64{0}, []float64{0}, []float64{1}, opts)
		require.ErrorIs(t, err, errs.ErrInvalidConfig)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := Refine(cctx, bowl([]float64{0}), []float64{0}, []float64{-1}, []float64{1}, DefaultOptions())
		require.ErrorIs(t, err, context.Canceled)

		_, err = RefineMultiStart(cctx, bowl([]float64{0}), []float64{0}, []float64{-1}, []float64{1}, DefaultOptions())
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestRefineMultiStart(t *testing.T) {
	ctx := context.Background()

	t.Run("finds the bowl", func(t *testing.T) {
		lo, hi := span(2, -10, 10)
		r, err := RefineMultiStart(ctx, bowl([]float64{-3, 4}), []float64{9, -9}, lo, hi, DefaultOptions())
		require.NoError(t, err)
		require.InDelta(t, -3, r.X[0], 1e-4)
		require.InDelta(t, 4, r.X[1], 1e-4)
	})

	t.Run("skips failed attempts", func(t *testing.T) {
		calls := 0
		f := func(x []float64) float64 {
			calls++
			if calls == 1 {
				panic("first attempt")
			}

			return x[0] * x[0]
		}
		r, err := RefineMultiStart(ctx, f, []float64{0.5}, []float64{-1}, []float64{1}, DefaultOptions())
		require.NoError(t, err)
		require.InDelta(t, 0, r.X[0], 1e-4)
	})

	t.Run("all attempts fail", func(t *testing.T) {
		opts := DefaultOptions()
		opts.Attempts = 2
		_, err := RefineMultiStart(ctx, func([]float64) float64 { panic("always") }, []float64{0}, []float64{-1}, []float64{1}, opts)
		require.ErrorIs(t, err, errs.ErrOptimizationFailure)
	})
}

func expProblem(t *testing.T, weighted, abs bool) (*Problem, []float64) {
	t.Helper()

	v, err := equation.Lookup(equation.ExpAB)
	require.NoError(t, err)

	delays := []float64{0, 0.1, 0.2, 0.4, 0.6, 0.8, 1.0, 1.5, 2.0}
	y := make([]float64, len(delays))
	e := make([]float64, len(delays))
	for i, d := range delays {
		y[i] = 100 * math.Exp(-2*d)
		e[i] = 0.5
	}
	c, err := dataset.NewCurve(dataset.Key{Residue: "3"}, 1, [][]float64{delays}, y, e)
	require.NoError(t, err)
	exp, err := dataset.Enumerate([]*dataset.Curve{c})
	require.NoError(t, err)
	m, err := v.MakeMap(exp.StateCount, exp.States, nil)
	require.NoError(t, err)

	p, err := NewProblem(v, m, exp.Points(), abs, weighted)
	require.NoError(t, err)

	return p, []float64{100, 2}
}

func TestProblem(t *testing.T) {
	t.Run("zero at truth", func(t *testing.T) {
		p, truth := expProblem(t, true, false)
		require.Equal(t, 2, p.NPars())
		require.InDelta(t, 0, p.Value(truth), 1e-20)

		m, err := p.Metrics(truth)
		require.NoError(t, err)
		require.Equal(t, 9, m.N)
		require.Equal(t, 2, m.K)
		require.InDelta(t, 0, m.RMS, 1e-9)
	})

	t.Run("weighting and abs mode", func(t *testing.T) {
		x := []float64{101, 2}
		plain, _ := expProblem(t, false, false)
		weighted, _ := expProblem(t, true, false)
		abs, _ := expProblem(t, false, true)

		y, err := plain.Predict(x)
		require.NoError(t, err)
		var ss, sa float64
		for i := range y {
			d := y[i] - plain.Points.Y[i]
			ss += d * d
			sa += math.Abs(d)
		}
		require.InDelta(t, ss/7, plain.Value(x), 1e-9)
		require.InDelta(t, ss/0.25/7, weighted.Value(x), 1e-9)
		require.InDelta(t, sa/7, abs.Value(x), 1e-9)
	})

	t.Run("rejected parameters score the penalty", func(t *testing.T) {
		p, _ := expProblem(t, true, false)
		require.Equal(t, InvalidPenalty, p.Value([]float64{100, -1}))
	})

	t.Run("refine recovers the decay", func(t *testing.T) {
		p, truth := expProblem(t, true, false)
		d := &equation.Data{Points: p.Points, Map: p.Map}
		guess, err := p.Variant.Guess(d)
		require.NoError(t, err)
		lo, hi, err := p.Variant.Bounds(d, guess)
		require.NoError(t, err)

		opts := DefaultOptions()
		opts.Tolerance = 1e-10
		r, err := RefineMultiStart(context.Background(), p.Objective(), guess, lo, hi, opts)
		require.NoError(t, err)
		require.InDelta(t, truth[0], r.X[0], 1e-3)
		require.InDelta(t, truth[1], r.X[1], 1e-4)
	})

	t.Run("empty points", func(t *testing.T) {
		v, err := equation.Lookup(equation.ExpAB)
		require.NoError(t, err)
		_, err = NewProblem(v, nil, &dataset.Points{}, false, true)
		require.ErrorIs(t, err, errs.ErrInsufficientData)
	})
}

func TestMetrics(t *testing.T) {
	t.Run("values", func(t *testing.T) {
		m := ComputeMetrics([]float64{1, 2, 3, 4}, []float64{1, 2, 3, 5}, []float64{1, 1, 1, 0.5}, 1)
		require.Equal(t, 1.0, m.RSS)
		require.Equal(t, 0.5, m.RMS)
		require.InDelta(t, 4.0/3, m.ReducedChi2, 1e-12)
		require.InDelta(t, 2, m.AIC, 1e-12)
		require.InDelta(t, 2+2.0*2/2, m.AICc, 1e-12)
	})

	t.Run("degenerate denominators", func(t *testing.T) {
		m := ComputeMetrics([]float64{1, 2}, []float64{1, 3}, nil, 2)
		require.True(t, math.IsInf(m.AICc, 1))
		require.True(t, math.IsInf(m.ReducedChi2, 1))

		m = ComputeMetrics(nil, nil, nil, 1)
		require.True(t, math.IsInf(m.RMS, 1))
	})
}
