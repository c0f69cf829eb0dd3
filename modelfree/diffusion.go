package modelfree

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/nanalysis/ringfit/errs"
	"github.com/nanalysis/ringfit/fit"
	"github.com/nanalysis/ringfit/physics"
)

// DiffusionResult is a fitted rotational diffusion tensor.
type DiffusionResult struct {
	Type physics.DiffusionType
	// D is the diagonal of the tensor in its own frame (s⁻¹), ascending for
	// the axial and fully anisotropic types.
	D [3]float64
	// Angles are the Euler angles (rad) orienting the tensor.
	Angles []float64
	// RMS is the root mean square deviation of predicted from experimental
	// rho ratios.
	RMS float64
	// Start is the index of the angle start that produced the result.
	Start int
}

// Tau is the isotropic equivalent correlation time 1/(6 Diso) in ns.
func (r *DiffusionResult) Tau() float64 {
	iso := (r.D[0] + r.D[1] + r.D[2]) / 3

	return 1 / (6 * iso) / nano
}

// DiffusionGuess returns the starting tensor components for an isotropic
// estimate isoD.
func DiffusionGuess(t physics.DiffusionType, isoD float64) []float64 {
	switch t {
	case physics.Prolate, physics.Oblate:
		return []float64{0.75 * isoD, 1.25 * isoD}
	case physics.Anisotropic:
		return []float64{0.75 * isoD, isoD, 1.25 * isoD}
	default:
		return []float64{isoD}
	}
}

// AngleStarts lists the Euler angle starts: every combination of pi/4 and
// 3pi/4 for each angle of the type.
func AngleStarts(t physics.DiffusionType) [][]float64 {
	n := t.NAnglePars()
	if n == 0 {
		return [][]float64{nil}
	}

	starts := make([][]float64, 1<<n)
	for i := range starts {
		a := make([]float64, n)
		for k := range a {
			bit := (i >> k) & 1
			a[k] = math.Pi * float64(2*bit+1) / 4
		}
		starts[i] = a
	}

	return starts
}

// tensor expands sorted diffusion parameters into the tensor diagonal.
func tensor(t physics.DiffusionType, d []float64) [3]float64 {
	switch t {
	case physics.Prolate:
		return [3]float64{d[0], d[0], d[1]}
	case physics.Oblate:
		return [3]float64{d[0], d[1], d[1]}
	case physics.Anisotropic:
		return [3]float64{d[0], d[1], d[2]}
	default:
		return [3]float64{d[0], d[0], d[0]}
	}
}

// rotation builds the tensor frame rotation from the angle parameters. The
// axial types only use alpha and beta.
func rotation(t physics.DiffusionType, angles []float64) *mat.Dense {
	switch t {
	case physics.Prolate, physics.Oblate:
		return physics.RotationVT(angles[0], angles[1], 0)
	case physics.Anisotropic:
		return physics.RotationVT(angles[0], angles[1], angles[2])
	default:
		return nil
	}
}

type diffusionFit struct {
	t    physics.DiffusionType
	data []*MolData
	unit [][3]float64
}

func newDiffusionFit(t physics.DiffusionType, data []*MolData) (*diffusionFit, error) {
	if t < physics.Isotropic || t > physics.Anisotropic {
		return nil, fmt.Errorf("%w: diffusion type %d", errs.ErrInvalidConfig, t)
	}

	df := &diffusionFit{t: t}
	for _, m := range data {
		if len(m.Data) == 0 {
			continue
		}
		for _, r := range m.Data {
			if err := r.Validate(); err != nil {
				return nil, fmt.Errorf("%s: %w", m.Key, err)
			}
		}
		v := m.Vector
		norm := floats.Norm(v[:], 2)
		if t != physics.Isotropic && !(norm > 0) {
			return nil, fmt.Errorf("%w: %s has no bond vector", errs.ErrInvalidPhysicalParameter, m.Key)
		}
		if norm > 0 {
			floats.Scale(1/norm, v[:])
		}
		df.data = append(df.data, m)
		df.unit = append(df.unit, v)
	}
	if len(df.data) == 0 {
		return nil, fmt.Errorf("%w: no relaxation data for the diffusion fit", errs.ErrInsufficientData)
	}

	return df, nil
}

// rms is the deviation between experimental and predicted rho ratios for the
// parameter vector x = diffusion components followed by the angles.
func (df *diffusionFit) rms(x []float64) float64 {
	nd := df.t.NDiffusionPars()
	d := append([]float64(nil), x[:nd]...)
	sort.Float64s(d)
	diag := tensor(df.t, d)
	vt := rotation(df.t, x[nd:])

	sum, n := 0.0, 0
	j := make([]float64, physics.JIpS+1)
	for k, m := range df.data {
		p, err := physics.NewDiffusionPars(df.t, diag, vt, df.unit[k])
		if err != nil {
			return fit.InvalidPenalty
		}
		for _, r := range m.Data {
			rc := r.Constants
			for i, w := range rc.W {
				j[i] = physics.JDiffusion(p, w, physics.Motion{S2: 1})
			}
			delta := rc.RhoPred(j) - rc.RhoExp(r.R1, r.R2, r.NOE, j)
			sum += delta * delta
			n++
		}
	}

	return math.Sqrt(sum / float64(n))
}

// FitDiffusion fits a diffusion tensor of type t to the rho ratios of data,
// starting from the isotropic estimate isoD (s⁻¹). Each tensor component is
// bounded to [guess/2, 2 guess] and each angle to its start ± pi/4. Every
// angle start is refined on a pool of workers and the lowest RMS wins.
func FitDiffusion(ctx context.Context, data []*MolData, t physics.DiffusionType, isoD float64, workers int, opts fit.Options) (*DiffusionResult, error) {
	if err := physics.CheckPositive("isotropic diffusion", isoD); err != nil {
		return nil, err
	}
	if workers < 1 {
		workers = 1
	}
	df, err := newDiffusionFit(t, data)
	if err != nil {
		return nil, err
	}

	guess := DiffusionGuess(t, isoD)
	starts := AngleStarts(t)
	results := make([]fit.Result, len(starts))
	failed := make([]error, len(starts))
	log := slog.Default()
	if opts.Logger != nil {
		log = opts.Logger
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, angles := range starts {
		g.Go(func() error {
			x0 := append(append([]float64(nil), guess...), angles...)
			lo, hi := make([]float64, len(x0)), make([]float64, len(x0))
			for k, v := range guess {
				lo[k], hi[k] = v/2, v*2
			}
			for k, a := range angles {
				lo[len(guess)+k], hi[len(guess)+k] = a-math.Pi/4, a+math.Pi/4
			}
			o := opts
			o.Seed += uint64(i)
			res, err := fit.Refine(gctx, df.rms, x0, lo, hi, o)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				log.Warn("diffusion start failed", slog.String("type", t.String()), slog.Int("start", i), slog.String("error", err.Error()))
				failed[i] = err
				return nil
			}
			results[i] = res

			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	best := -1
	for i, r := range results {
		if failed[i] == nil && (best < 0 || r.Value < results[best].Value) {
			best = i
		}
	}
	if best < 0 {
		return nil, fmt.Errorf("%w: every diffusion start failed: %w", errs.ErrOptimizationFailure, errors.Join(failed...))
	}

	x := results[best].X
	nd := t.NDiffusionPars()
	d := append([]float64(nil), x[:nd]...)
	sort.Float64s(d)

	return &DiffusionResult{
		Type:   t,
		D:      tensor(t, d),
		Angles: append([]float64(nil), x[nd:]...),
		RMS:    results[best].Value,
		Start:  best,
	}, nil
}
