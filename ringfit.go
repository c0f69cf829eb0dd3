// Package ringfit fits relaxation dispersion and decay equations to NMR
// curves, estimates parameter errors by bootstrap and selects the equation
// that best describes each residue.
//
// # Basic Usage
//
// Fitting one equation to the CPMG curves of a residue:
//
//	c, _ := dataset.NewCurve(dataset.Key{Residue: "A12", Field: 600, Nucleus: "N"},
//	    60.8, [][]float64{nu}, r2eff, errs)
//	res, err := ringfit.FitCurve(ctx, equation.CPMGFast, []*dataset.Curve{c},
//	    ringfit.WithBootstrap(true),
//	    ringfit.WithSampleSize(100),
//	)
//
// Choosing between several fitted equations:
//
//	name, exchange, err := ringfit.SelectBestModel([]*ringfit.FitResult{noex, fast, slow})
//
// Fitter runs both steps for many residue groups on a worker pool.
//
// # Package Structure
//
// The facade wraps the dataset, equation, fit, bootstrap and selector
// packages. Use them directly for finer control, and the modelfree package
// for Lipari-Szabo analysis of R1, R2 and NOE data.
package ringfit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/nanalysis/ringfit/bootstrap"
	"github.com/nanalysis/ringfit/dataset"
	"github.com/nanalysis/ringfit/equation"
	"github.com/nanalysis/ringfit/errs"
	"github.com/nanalysis/ringfit/fit"
	"github.com/nanalysis/ringfit/parmap"
	"github.com/nanalysis/ringfit/selector"
)

// ErrorMode selects how EstimateErrors draws replicates.
type ErrorMode = bootstrap.Mode

const (
	Parametric    = bootstrap.Parametric
	NonParametric = bootstrap.NonParametric
)

// CurveParams is the break-down of a fit for one curve.
type CurveParams struct {
	ID  int
	Key dataset.Key
	// Field is the observed nucleus Larmor frequency in MHz.
	Field  float64
	Values []float64
	// Errors is nil when no bootstrap ran.
	Errors []float64
	// Rex is the exchange contribution of CPMG equations; 0 otherwise.
	Rex float64
}

// FitResult is one equation fitted to a set of curves. It is not modified
// after FitCurve returns.
type FitResult struct {
	Equation string
	// ParNames names the local parameters of every curve.
	ParNames []string
	// Params is the global best-fit vector laid out by the parameter map.
	Params []float64
	// Errors holds the bootstrap standard deviation of each parameter, nil
	// when no bootstrap ran.
	Errors  []float64
	Metrics fit.Metrics
	Curves  []CurveParams
	// Replicates is parameters × replicates.
	Replicates [][]float64
	// ExchangeValid is true when the equation models exchange and passed the
	// exchange checks.
	ExchangeValid bool
	Evals         int

	variant      *equation.Variant
	problem      *fit.Problem
	lower, upper []float64
	fields       []float64
	cfg          *fitConfig
}

// AICc is the small sample corrected Akaike criterion of the fit.
func (r *FitResult) AICc() float64 { return r.Metrics.AICc }

// RMS is the root mean square residual of the fit.
func (r *FitResult) RMS() float64 { return r.Metrics.RMS }

// Bounds returns copies of the bounds the fit ran with.
func (r *FitResult) Bounds() (lower, upper []float64) {
	return append([]float64(nil), r.lower...), append([]float64(nil), r.upper...)
}

func (r *FitResult) candidate() *selector.Candidate {
	return &selector.Candidate{
		Variant:    r.variant,
		Map:        r.problem.Map,
		Params:     r.Params,
		Fields:     r.fields,
		Metrics:    r.Metrics,
		Replicates: r.Replicates,
	}
}

// FitCurve fits the named equation to curves.
//
// The curves are enumerated into dense states, the equation builds its
// parameter map, guesses a start and bounds, and the fit engine refines from
// several starts. With WithBootstrap the parameter errors are estimated
// afterwards and feed the exchange checks.
//
// Parameters:
//   - ctx: cancels the optimizer between evaluations and the bootstrap
//   - equationName: a registered equation, case insensitive
//   - curves: the curves fitted together
//   - opts: fit, bootstrap and selection options
//
// Returns:
//   - *FitResult: the best fit
//   - error: ErrUnknownEquation, ErrInsufficientData when there are no more
//     points than parameters, ErrOptimizationFailure, or ctx.Err()
func FitCurve(ctx context.Context, equationName string, curves []*dataset.Curve, opts ...Option) (*FitResult, error) {
	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}

	return fitCurve(ctx, equationName, curves, cfg)
}

func fitCurve(ctx context.Context, equationName string, curves []*dataset.Curve, cfg *fitConfig) (res *FitResult, err error) {
	v, err := equation.Lookup(equationName)
	if err != nil {
		return nil, err
	}

	ctx, span := startFitSpan(ctx, v.Name, len(curves))
	began := time.Now()
	defer func() {
		recordFit(ctx, v.Name, time.Since(began), err == nil)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	exp, err := dataset.Enumerate(curves)
	if err != nil {
		return nil, err
	}
	m, err := v.MakeMap(exp.StateCount, exp.States, cfg.mask)
	if err != nil {
		return nil, err
	}
	pts := exp.Points()
	if n, k := pts.Len(), m.NPars(); n <= k {
		return nil, fmt.Errorf("%w: %s has %d parameters for %d points", errs.ErrInsufficientData, v.Name, k, n)
	}

	prob, err := fit.NewProblem(v, m, pts, cfg.absMode, cfg.weighted)
	if err != nil {
		return nil, err
	}
	start, lower, upper, err := startAndBounds(v, m, pts, cfg)
	if err != nil {
		return nil, err
	}

	log := cfg.log().With(slog.String("equation", v.Name))
	best, err := fit.RefineMultiStart(ctx, prob.Objective(), start, lower, upper, cfg.refineOptions())
	if err != nil {
		return nil, err
	}
	metrics, err := prob.Metrics(best.X)
	if err != nil {
		return nil, fmt.Errorf("%w: best point rejected: %w", errs.ErrOptimizationFailure, err)
	}
	log.Debug("fit done", slog.Float64("rms", metrics.RMS), slog.Float64("aicc", metrics.AICc), slog.Int("evals", best.Evals))

	res = &FitResult{
		Equation: v.Name,
		ParNames: append([]string(nil), v.ParNames...),
		Params:   best.X,
		Metrics:  metrics,
		Evals:    best.Evals,
		variant:  v,
		problem:  prob,
		lower:    lower,
		upper:    upper,
		fields:   make([]float64, len(m)),
		cfg:      cfg,
	}
	for id, c := range exp.Curves {
		res.fields[id] = c.Field
	}

	if cfg.bootstrap {
		reps, err := runBootstrap(ctx, res, cfg.bootMode)
		if err != nil {
			return nil, err
		}
		res.Replicates = reps.Matrix
		res.Errors = reps.Summary().StdDev
	}
	if v.HasExchange {
		ok, reason := selector.ExchangeValid(res.candidate(), cfg.selectorOptions())
		res.ExchangeValid = ok
		if !ok {
			log.Debug("exchange not supported", slog.String("reason", reason))
		}
	}
	res.Curves = curveParams(res, exp)

	return res, nil
}

// startAndBounds returns the configured start and bounds, or the equation's
// guess and bounds when none were given.
func startAndBounds(v *equation.Variant, m parmap.Map, pts *dataset.Points, cfg *fitConfig) (start, lower, upper []float64, err error) {
	k := m.NPars()
	d := &equation.Data{Points: pts, Map: m, MaxFreq: cfg.maxFreq}

	start = cfg.start
	if start == nil {
		if start, err = v.Guess(d); err != nil {
			return nil, nil, nil, err
		}
	}
	if len(start) != k {
		return nil, nil, nil, fmt.Errorf("%w: start has %d values for %d parameters", errs.ErrInvalidConfig, len(start), k)
	}

	lower, upper = cfg.lower, cfg.upper
	if lower == nil {
		if lower, upper, err = v.Bounds(d, start); err != nil {
			return nil, nil, nil, err
		}
	}
	if len(lower) != k {
		return nil, nil, nil, fmt.Errorf("%w: bounds have %d values for %d parameters", errs.ErrInvalidConfig, len(lower), k)
	}

	return start, lower, upper, nil
}

func curveParams(r *FitResult, exp *dataset.Experiment) []CurveParams {
	m := r.problem.Map
	out := make([]CurveParams, len(exp.Curves))
	for id, c := range exp.Curves {
		cp := CurveParams{ID: id, Key: c.Key, Field: c.Field, Values: m.Gather(r.Params, id, nil)}
		if r.Errors != nil {
			cp.Errors = m.Gather(r.Errors, id, nil)
		}
		if r.variant.Rex != nil {
			cp.Rex = r.variant.Rex(cp.Values, c.Field)
		}
		out[id] = cp
	}

	return out
}

func runBootstrap(ctx context.Context, r *FitResult, mode ErrorMode) (*bootstrap.Replicates, error) {
	reps, err := bootstrap.Run(ctx, r.problem, r.Params, r.lower, r.upper, r.cfg.bootstrapConfig(mode))
	if err != nil {
		return nil, err
	}
	recordReplicates(ctx, mode.String(), len(reps.Matrix[0]), reps.Failed)

	return reps, nil
}

// EstimateErrors runs a bootstrap of the given mode around a finished fit and
// returns the standard deviation of every global parameter. result is not
// modified. The sample size, workers and seed are those the fit ran with.
func EstimateErrors(ctx context.Context, result *FitResult, mode ErrorMode) ([]float64, error) {
	if result == nil || result.problem == nil {
		return nil, fmt.Errorf("%w: result was not produced by FitCurve", errs.ErrInvalidConfig)
	}
	reps, err := runBootstrap(ctx, result, mode)
	if err != nil {
		return nil, err
	}
	if reps.Failed == len(reps.Matrix[0]) {
		return nil, fmt.Errorf("%w: every bootstrap replicate failed", errs.ErrOptimizationFailure)
	}

	return reps.Summary().StdDev, nil
}

// SelectBestModel ranks results fitted to the same curves by AICc and returns
// the lowest whose exchange term is supported, falling back to the best
// exchange-free equation. exchangeValid reports whether the chosen equation
// models exchange and passed its checks.
func SelectBestModel(results []*FitResult, opts ...Option) (name string, exchangeValid bool, err error) {
	cfg, err := newConfig(opts)
	if err != nil {
		return "", false, err
	}

	return selectBest(context.Background(), results, cfg)
}

func selectBest(ctx context.Context, results []*FitResult, cfg *fitConfig) (string, bool, error) {
	cands := make([]*selector.Candidate, 0, len(results))
	for _, r := range results {
		if r == nil || r.problem == nil {
			return "", false, fmt.Errorf("%w: result was not produced by FitCurve", errs.ErrInvalidConfig)
		}
		cands = append(cands, r.candidate())
	}
	d, err := selector.Select(cands, cfg.selectorOptions())
	if err != nil {
		return "", false, err
	}
	recordSelection(ctx, d.Name, d.ExchangeValid)

	return d.Name, d.ExchangeValid, nil
}
