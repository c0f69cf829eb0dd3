package physics

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/nanalysis/ringfit/errs"
)

func testExchange() Exchange {
	return TwoSite{
		Kex: 150, Pb: 0.08, DeltaA0: 118.2, DeltaB0: 121.0,
		R1A: 1.6, R1B: 1.6, R2A: 12, R2B: 30,
	}.At(Point{Offset: 119.0, B1: 25, Tex: 0.3, Field: 60.8})
}

func TestExpm(t *testing.T) {
	m := BlochMcConnell6(testExchange())

	t.Run("zero time is identity", func(t *testing.T) {
		e, err := Expm(m, 0)
		require.NoError(t, err)
		require.True(t, mat.EqualApprox(e, eye(6), 1e-10))
	})

	t.Run("doubling the time squares the result", func(t *testing.T) {
		for _, tm := range []float64{1e-4, 1e-3, 0.01, 0.05} {
			e1, err := Expm(m, tm)
			require.NoError(t, err)
			e2, err := Expm(m, 2*tm)
			require.NoError(t, err)

			var sq mat.Dense
			sq.Mul(e1, e1)
			require.True(t, mat.EqualApprox(e2, &sq, 1e-6), "t=%g", tm)
		}
	})

	t.Run("agrees with gonum Exp", func(t *testing.T) {
		for _, tm := range []float64{1e-3, 0.02, 0.3} {
			got, err := Expm(m, tm)
			require.NoError(t, err)

			var scaledM, want mat.Dense
			scaledM.Scale(tm, m)
			want.Exp(&scaledM)
			require.True(t, mat.EqualApprox(got, &want, 1e-8), "t=%g", tm)
		}
	})

	t.Run("thermal matrix", func(t *testing.T) {
		m7 := BlochMcConnell7(testExchange())
		got, err := Expm(m7, 0.1)
		require.NoError(t, err)
		// The thermal row never evolves.
		require.InDelta(t, 1.0, got.At(0, 0), 1e-12)
		for j := 1; j < 7; j++ {
			require.InDelta(t, 0.0, got.At(0, j), 1e-12)
		}
	})

	t.Run("rejects non-square", func(t *testing.T) {
		_, err := Expm(mat.NewDense(2, 3, nil), 1)
		require.ErrorIs(t, err, errs.ErrInvalidPhysicalParameter)
	})
}

func TestExactEigenRate(t *testing.T) {
	t.Run("closest real eigenvalue", func(t *testing.T) {
		m := mat.NewDiagDense(3, []float64{-1, -5, -10})
		rate, err := ExactEigenRate(m, 4.5)
		require.NoError(t, err)
		require.InDelta(t, 5.0, rate, 1e-9)
	})

	t.Run("ties prefer the slower mode", func(t *testing.T) {
		m := mat.NewDiagDense(2, []float64{-2, -4})
		rate, err := ExactEigenRate(m, 3)
		require.NoError(t, err)
		require.InDelta(t, 2.0, rate, 1e-9)
	})

	t.Run("no real eigenvalue", func(t *testing.T) {
		m := mat.NewDense(2, 2, []float64{-1, -3, 3, -1})
		_, err := ExactEigenRate(m, 1)
		require.ErrorIs(t, err, errs.ErrNoRealEigenvalue)
		require.ErrorIs(t, err, errs.ErrInvalidPhysicalParameter)
	})

	t.Run("skips complex pairs of the Bloch-McConnell matrix", func(t *testing.T) {
		rate, err := R1rhoExact(testExchange())
		require.NoError(t, err)
		require.Greater(t, rate, 0.0)
	})
}

func BenchmarkExpm6(b *testing.B) {
	m := BlochMcConnell6(testExchange())
	for i := 0; i < b.N; i++ {
		_, _ = Expm(m, 0.3)
	}
}
