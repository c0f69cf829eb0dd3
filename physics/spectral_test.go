package physics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJ(t *testing.T) {
	t.Run("monotonic in frequency and non-negative", func(t *testing.T) {
		for _, tau := range []float64{1e-12, 1e-9, 5e-9, 20e-9, 1e-6} {
			j0 := J(0, tau)
			prev := j0
			for w := 1e6; w < 1e10; w *= 1.7 {
				jw := J(w, tau)
				require.GreaterOrEqual(t, jw, 0.0)
				require.LessOrEqual(t, jw, prev, "tau=%g w=%g", tau, w)
				prev = jw
			}
		}
	})

	t.Run("zero frequency", func(t *testing.T) {
		require.InDelta(t, 0.4*5e-9, J(0, 5e-9), 1e-20)
	})
}

func TestModelFreeReduction(t *testing.T) {
	const tauM = 8e-9
	const s2 = 0.83
	ws := []float64{0, 3.8e8, 6.0e8, 3.77e9}

	for _, w := range ws {
		want := JModelFree1(w, tauM, s2)

		t.Run("two-term", func(t *testing.T) {
			got := JModelFree2(w, 1e-18, tauM, s2)
			require.InEpsilon(t, want, got, 1e-6)
		})

		t.Run("three-term with sf2 = 1", func(t *testing.T) {
			got := JModelFree3(w, 1e-18, tauM, s2, 1.0)
			require.InEpsilon(t, want, got, 1e-6)
		})

		t.Run("four-term with sf2 = 1", func(t *testing.T) {
			got := JModelFree4(w, 1e-18, tauM, 1e-18, s2, 1.0)
			require.InEpsilon(t, want, got, 1e-6)
		})
	}

	t.Run("s2 = 1 is the rigid rotor", func(t *testing.T) {
		for _, w := range ws {
			require.InEpsilon(t, J(w, tauM), JModelFree1(w, tauM, 1.0), 1e-12)
		}
	})
}

func TestEvaluate(t *testing.T) {
	w := []float64{0, 1e8, 1e9}
	out := Evaluate(w, func(w float64) float64 { return J(w, 4e-9) })
	require.Len(t, out, 3)
	for i := range w {
		require.Equal(t, J(w[i], 4e-9), out[i])
	}
}

func TestDiffusionReducesToIsotropic(t *testing.T) {
	const d = 2.0e7
	tau := 1.0 / (6.0 * d)
	v := [3]float64{0.3, -0.5, math.Sqrt(1 - 0.09 - 0.25)}
	vt := RotationVT(0.4, 1.1, -0.7)

	iso, err := NewDiffusionPars(Isotropic, [3]float64{d, d, d}, nil, v)
	require.NoError(t, err)

	for _, kind := range []DiffusionType{Prolate, Oblate, Anisotropic} {
		t.Run(kind.String(), func(t *testing.T) {
			p, err := NewDiffusionPars(kind, [3]float64{d, d, d}, vt, v)
			require.NoError(t, err)

			sum := 0.0
			for _, a := range p.A {
				sum += a
			}
			require.InDelta(t, 1.0, sum, 1e-9)

			for _, w := range []float64{0, 3.8e8, 3.77e9} {
				m := Motion{S2: 0.85, TauF: 50e-12}
				got := JDiffusion(p, w, m)
				want := JDiffusion(iso, w, m)
				require.InEpsilon(t, want, got, 1e-9)
				if w == 0 {
					require.InEpsilon(t, 0.4*tau*0.85+0.4*0.15*(tau*50e-12/(tau+50e-12)), got, 1e-9)
				}
			}
		})
	}

	t.Run("rotation is orthogonal", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				dot := 0.0
				for k := 0; k < 3; k++ {
					dot += vt.At(i, k) * vt.At(j, k)
				}
				want := 0.0
				if i == j {
					want = 1
				}
				require.InDelta(t, want, dot, 1e-12)
			}
		}
	})

	t.Run("rejects non-positive components", func(t *testing.T) {
		_, err := NewDiffusionPars(Prolate, [3]float64{d, 0, d}, vt, v)
		require.Error(t, err)
	})

	t.Run("anisotropic requires rotation", func(t *testing.T) {
		_, err := NewDiffusionPars(Anisotropic, [3]float64{d, 2 * d, 3 * d}, nil, v)
		require.Error(t, err)
	})
}

func BenchmarkJModelFree4(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = JModelFree4(3.8e8, 30e-12, 8e-9, 1e-9, 0.7, 0.85)
	}
}
