package modelfree

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nanalysis/ringfit/errs"
	"github.com/nanalysis/ringfit/fit"
	"github.com/nanalysis/ringfit/physics"
)

func TestEstimateTau(t *testing.T) {
	ctx := context.Background()
	rc := constants(t, 600)
	rigid := Instance{Model: model(t, "1"), Tau: 6}

	var r1, r2 []float64
	for i := 0; i < 10; i++ {
		s2 := 0.8 + 0.01*float64(i)
		j := rigid.Model.J(rc.W, 6, []float64{s2})
		r1 = append(r1, rc.R1(j))
		r2 = append(r2, rc.R2(j, 0))
	}
	// exchange broadened and flexible outliers
	r1 = append(r1, 1.5, 1.5)
	r2 = append(r2, 60, 2)

	est, err := EstimateTau(ctx, rc, r1, r2, fit.DefaultOptions())
	require.NoError(t, err)
	require.InEpsilon(t, 6.0, est.Tau, 0.01)
	require.InEpsilon(t, 6.0, est.TauEst, 0.1)
	require.Less(t, est.N, len(r1))

	t.Run("from residues", func(t *testing.T) {
		var data []*MolData
		for i := 0; i < 6; i++ {
			data = append(data, residue(t, fmt.Sprintf("R%d", i), rigid, []float64{0.8 + 0.02*float64(i)}, 600))
		}
		// a single residue at a second field does not win the field choice
		data = append(data, residue(t, "R9", rigid, []float64{0.8}, 800))

		e, err := EstimateTauFromData(ctx, data, fit.DefaultOptions())
		require.NoError(t, err)
		require.InEpsilon(t, 6.0, e.Tau, 0.01)
	})

	t.Run("invalid input", func(t *testing.T) {
		_, err := EstimateTau(ctx, rc, []float64{1}, nil, fit.DefaultOptions())
		require.ErrorIs(t, err, errs.ErrInvalidConfig)
		_, err = EstimateTau(ctx, rc, nil, nil, fit.DefaultOptions())
		require.ErrorIs(t, err, errs.ErrInsufficientData)
		_, err = EstimateTauFromData(ctx, nil, fit.DefaultOptions())
		require.ErrorIs(t, err, errs.ErrInsufficientData)
	})
}

// spiral returns n unit vectors spread over the sphere.
func spiral(n int) [][3]float64 {
	out := make([][3]float64, n)
	for k := range out {
		z := 1 - 2*(float64(k)+0.5)/float64(n)
		r := math.Sqrt(1 - z*z)
		phi := 2.399963 * float64(k)
		out[k] = [3]float64{r * math.Cos(phi), r * math.Sin(phi), z}
	}

	return out
}

// rigidTensorData simulates rigid bond vectors tumbling with the given tensor.
func rigidTensorData(t *testing.T, dt physics.DiffusionType, d [3]float64, vt *[3]float64, vectors [][3]float64) []*MolData {
	t.Helper()
	rc := constants(t, 600)
	var rot = physics.RotationVT(0, 0, 0)
	if vt != nil {
		rot = physics.RotationVT(vt[0], vt[1], vt[2])
	}

	data := make([]*MolData, len(vectors))
	for k, v := range vectors {
		p, err := physics.NewDiffusionPars(dt, d, rot, v)
		require.NoError(t, err)
		j := make([]float64, len(rc.W))
		for i, w := range rc.W {
			j[i] = physics.JDiffusion(p, w, physics.Motion{S2: 1})
		}
		r := Relaxation{Constants: rc, R1Err: 0.02, R2Err: 0.1, NOEErr: 0.02}
		r.R1, r.R2, r.NOE = r.Predict(j, 0)
		data[k] = &MolData{Key: fmt.Sprintf("V%02d", k), Vector: v, Data: []Relaxation{r}}
	}

	return data
}

func TestFitDiffusion(t *testing.T) {
	ctx := context.Background()
	opts := fit.DefaultOptions()
	opts.Tolerance = 1e-10
	opts.FinalRadius = -8
	opts.MaxIterations = 20000

	iso := 1 / (6 * 5e-9)

	t.Run("isotropic", func(t *testing.T) {
		data := rigidTensorData(t, physics.Isotropic, [3]float64{iso, iso, iso}, nil, spiral(4))
		r, err := FitDiffusion(ctx, data, physics.Isotropic, 0.9*iso, 1, opts)
		require.NoError(t, err)
		require.InEpsilon(t, 5.0, r.Tau(), 0.01)
		require.Less(t, r.RMS, 1e-4)
		require.Empty(t, r.Angles)
	})

	t.Run("prolate", func(t *testing.T) {
		dPerp, dPar := 0.85*iso, 1.3*iso
		angles := [3]float64{math.Pi / 4, math.Pi / 4, 0}
		data := rigidTensorData(t, physics.Prolate, [3]float64{dPerp, dPerp, dPar}, &angles, spiral(10))

		r, err := FitDiffusion(ctx, data, physics.Prolate, iso, 2, opts)
		require.NoError(t, err)
		require.Less(t, r.RMS, 1e-4)
		require.InEpsilon(t, dPerp, r.D[0], 0.02)
		require.InEpsilon(t, dPerp, r.D[1], 0.02)
		require.InEpsilon(t, dPar, r.D[2], 0.02)
		require.Len(t, r.Angles, 2)
	})

	t.Run("starts", func(t *testing.T) {
		require.Len(t, AngleStarts(physics.Isotropic), 1)
		require.Len(t, AngleStarts(physics.Prolate), 4)
		require.Len(t, AngleStarts(physics.Anisotropic), 8)
		require.Equal(t, []float64{3 * math.Pi / 4, math.Pi / 4}, AngleStarts(physics.Oblate)[1])
		require.Equal(t, []float64{0.75, 1, 1.25}, DiffusionGuess(physics.Anisotropic, 1))
	})

	t.Run("invalid input", func(t *testing.T) {
		_, err := FitDiffusion(ctx, nil, physics.Isotropic, iso, 1, opts)
		require.ErrorIs(t, err, errs.ErrInsufficientData)

		_, err = FitDiffusion(ctx, nil, physics.Isotropic, 0, 1, opts)
		require.ErrorIs(t, err, errs.ErrInvalidPhysicalParameter)

		noVector := rigidTensorData(t, physics.Isotropic, [3]float64{iso, iso, iso}, nil, spiral(2))
		noVector[0].Vector = [3]float64{}
		_, err = FitDiffusion(ctx, noVector, physics.Prolate, iso, 1, opts)
		require.ErrorIs(t, err, errs.ErrInvalidPhysicalParameter)
	})
}

func TestAnalyze(t *testing.T) {
	truth := Instance{Model: model(t, "1f"), Tau: 5}
	var data []*MolData
	for _, key := range []string{"C3", "A1", "B2"} {
		data = append(data, residue(t, key, truth, []float64{0.85, 0.05}, 600, 800))
	}

	opts := DefaultOptions()
	opts.Models = []string{"1", "1f"}
	opts.Workers = 2

	t.Run("estimated tau", func(t *testing.T) {
		rs, err := Analyze(context.Background(), data, opts)
		require.NoError(t, err)
		require.Len(t, rs, 3)
		for i, key := range []string{"A1", "B2", "C3"} {
			require.Equal(t, key, rs[i].Key)
			require.NotEmpty(t, rs[i].Model)
			require.Greater(t, rs[i].Instance.Tau, 0.0)
		}
	})

	t.Run("aggregate mode", func(t *testing.T) {
		o := opts
		o.Tau = 5
		o.Mode = Aggregate
		o.Replicates = 2
		rs, err := Analyze(context.Background(), data[:1], o)
		require.NoError(t, err)
		require.Len(t, rs, 1)
		require.NotNil(t, rs[0].Aggregate)
		require.Len(t, rs[0].Aggregate.Models, 2)
	})

	t.Run("bad residue is skipped", func(t *testing.T) {
		o := opts
		o.Tau = 5
		in := append([]*MolData{{Key: "Z0"}}, data[0])
		rs, err := Analyze(context.Background(), in, o)
		require.NoError(t, err)
		require.Len(t, rs, 1)
		require.Equal(t, data[0].Key, rs[0].Key)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		o := opts
		o.Tau = 5
		rs, err := Analyze(ctx, data, o)
		require.ErrorIs(t, err, context.Canceled)
		require.Empty(t, rs)

		_, err = Analyze(ctx, data, opts)
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestFitGlobalTau(t *testing.T) {
	truth := Instance{Model: model(t, "1"), Tau: 5.2}
	s2 := map[string]float64{"A1": 0.8, "A2": 0.88, "A3": 0.95}
	var data []*MolData
	for key, v := range s2 {
		data = append(data, residue(t, key, truth, []float64{v}, 600, 800))
	}
	data = append(data, &MolData{Key: "empty"})

	opts := DefaultOptions()
	opts.Tau = 5

	out, err := FitGlobalTau(context.Background(), data, "1", opts)
	require.NoError(t, err)
	require.Equal(t, "1", out.Model)
	require.InEpsilon(t, 5.2, out.Tau, 0.01)
	require.Len(t, out.Pars, 3)
	for key, v := range s2 {
		require.InEpsilon(t, v, out.Pars[key][0], 0.01, key)
	}
	require.Equal(t, 6*3, out.Score.N)

	t.Run("errors", func(t *testing.T) {
		_, err := FitGlobalTau(context.Background(), data, "9", opts)
		require.ErrorIs(t, err, errs.ErrUnknownEquation)

		o := opts
		o.Tau = 0
		_, err = FitGlobalTau(context.Background(), data, "1", o)
		require.ErrorIs(t, err, errs.ErrInvalidConfig)

		_, err = FitGlobalTau(context.Background(), []*MolData{{Key: "x"}}, "1", opts)
		require.ErrorIs(t, err, errs.ErrInsufficientData)
	})
}
