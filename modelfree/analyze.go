package modelfree

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/nanalysis/ringfit/errs"
	"github.com/nanalysis/ringfit/fit"
)

// Analyze runs TestModels on every residue on a pool of opts.Workers
// goroutines and, in the Aggregate and Bayesian modes, attaches the
// aggregated replicates. When opts.Tau is zero it is first estimated with
// EstimateTauFromData.
//
// Residues that cannot be fitted are logged and left out. Results are sorted
// by key. On cancellation the completed results are returned with ctx.Err().
func Analyze(ctx context.Context, data []*MolData, opts Options) ([]*Result, error) {
	if opts.Tau == 0 {
		est, err := EstimateTauFromData(ctx, data, opts.Refine)
		if err != nil {
			return nil, fmt.Errorf("estimating tau: %w", err)
		}
		opts.Tau = est.Tau
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	log := opts.logger()
	log.Debug("model-free analysis", slog.Int("residues", len(data)), slog.Float64("tau", opts.Tau), slog.String("mode", opts.Mode.String()))

	sorted := append([]*MolData(nil), data...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	results := make([]*Result, len(sorted))
	var g errgroup.Group
	g.SetLimit(opts.Workers)
	for i, m := range sorted {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			r, err := analyzeResidue(ctx, m, opts)
			if err != nil {
				if ctx.Err() == nil {
					log.Warn("model-free residue skipped", slog.String("residue", m.Key), slog.String("error", err.Error()))
				}
				return nil
			}
			results[i] = r

			return nil
		})
	}
	_ = g.Wait()

	out := make([]*Result, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, r)
		}
	}

	return out, ctx.Err()
}

func analyzeResidue(ctx context.Context, m *MolData, opts Options) (*Result, error) {
	r, err := TestModels(ctx, m, opts)
	if err != nil {
		return nil, err
	}
	if opts.Mode != Parametric && opts.Replicates > 0 {
		agg, err := Aggregated(ctx, m, opts)
		if err != nil {
			return nil, err
		}
		r.Aggregate = agg
	}

	return r, nil
}

// GlobalResult is a joint fit of several residues sharing one overall
// correlation time.
type GlobalResult struct {
	Model string
	// Tau is the shared overall correlation time in ns.
	Tau float64
	// Pars holds each residue's model parameters by key.
	Pars  map[string][]float64
	Score Score
}

// FitGlobalTau fits one model to every residue with a shared overall
// correlation time bounded to opts.Tau ± opts.TauFraction. The parameter
// vector is [tau, residue 1 parameters, residue 2 parameters, ...]; exchange
// is not fitted.
func FitGlobalTau(ctx context.Context, data []*MolData, model string, opts Options) (*GlobalResult, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if !(opts.Tau > 0) {
		return nil, fmt.Errorf("%w: tau must be set or estimated first", errs.ErrInvalidConfig)
	}
	m, err := LookupModel(model)
	if err != nil {
		return nil, err
	}

	in := Instance{Model: m, Tau: opts.Tau, FitTau: true}
	var scorers []*scorer
	for _, d := range data {
		s, err := newScorer(d, in, Options{}, nil)
		if err != nil {
			if errors.Is(err, errs.ErrInsufficientData) {
				continue
			}
			return nil, err
		}
		scorers = append(scorers, s)
	}
	if len(scorers) == 0 {
		return nil, fmt.Errorf("%w: no residues with relaxation data", errs.ErrInsufficientData)
	}

	np := len(m.Pars)
	start := []float64{opts.Tau}
	lower := []float64{opts.Tau * (1 - opts.TauFraction)}
	upper := []float64{opts.Tau * (1 + opts.TauFraction)}
	for range scorers {
		start = append(start, m.start(opts.Tau)...)
		lower = append(lower, m.lower(opts.Tau)...)
		upper = append(upper, m.upper(opts.Tau)...)
	}

	score := func(x []float64) Score {
		sc := Score{K: len(x), ParsOK: true}
		for k, s := range scorers {
			p := x[1+k*np : 1+(k+1)*np]
			local := make([]float64, 0, np+1)
			local = append(append(local, x[0]), p...)
			r := s.score(local)
			sc.RSS += r.RSS
			sc.N += r.N
			sc.ParsOK = sc.ParsOK && r.ParsOK
			sc.ComplexityS += r.ComplexityS / float64(len(scorers))
			sc.ComplexityTau += r.ComplexityTau / float64(len(scorers))
		}

		return sc
	}
	f := func(x []float64) float64 {
		return score(x).Value(opts.LambdaS, opts.LambdaTau)
	}

	res, err := fit.RefineMultiStart(ctx, f, start, lower, upper, opts.Refine)
	if err != nil {
		return nil, err
	}

	out := &GlobalResult{Model: model, Tau: res.X[0], Pars: make(map[string][]float64, len(scorers)), Score: score(res.X)}
	out.Score.Pars = res.X
	for k, s := range scorers {
		out.Pars[s.data.Key] = append([]float64(nil), res.X[1+k*np:1+(k+1)*np]...)
	}
	if math.IsNaN(out.Score.RSS) {
		return nil, fmt.Errorf("%w: global fit produced no finite score", errs.ErrOptimizationFailure)
	}

	return out, nil
}
