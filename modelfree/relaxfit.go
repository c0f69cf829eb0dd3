package modelfree

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"golang.org/x/exp/rand"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/nanalysis/ringfit/bootstrap"
	"github.com/nanalysis/ringfit/errs"
	"github.com/nanalysis/ringfit/fit"
)

// BootstrapMode selects how model-free parameter errors are estimated.
type BootstrapMode uint8

const (
	// Parametric refits the best model to rates simulated from its own
	// prediction plus Gaussian noise.
	Parametric BootstrapMode = 0x1
	// Aggregate reruns model selection over the deterministic resampling
	// patterns of an Aggregator.
	Aggregate BootstrapMode = 0x2
	// Bayesian reruns model selection with Dirichlet experiment weights.
	Bayesian BootstrapMode = 0x3
)

func (m BootstrapMode) String() string {
	switch m {
	case Parametric:
		return "parametric"
	case Aggregate:
		return "aggregate"
	case Bayesian:
		return "bayesian"
	default:
		return "unknown"
	}
}

// ParseBootstrapMode converts a mode name.
func ParseBootstrapMode(s string) (BootstrapMode, error) {
	switch strings.ToLower(s) {
	case "parametric":
		return Parametric, nil
	case "aggregate":
		return Aggregate, nil
	case "bayesian":
		return Bayesian, nil
	default:
		return 0, fmt.Errorf("%w: unknown model-free bootstrap mode %q", errs.ErrInvalidConfig, s)
	}
}

// Options controls model-free fitting.
type Options struct {
	// Models lists the candidate model names.
	Models []string
	// Tau is the overall correlation time in ns. Analyze estimates it from
	// the R2/R1 ratios when zero.
	Tau    float64
	FitTau bool
	// TauFraction is the relative half width of the Tau window.
	TauFraction float64
	FitExchange bool
	// FitJ scores against mapped spectral densities instead of the rates.
	FitJ bool
	// LogJ compares log10 spectral densities in FitJ mode.
	LogJ      bool
	LambdaS   float64
	LambdaTau float64
	// T2Limit disables tau fitting for residues whose R2 never exceeds it.
	// Zero disables the check.
	T2Limit float64
	// Replicates is the number of bootstrap replicates. Parametric errors
	// are only estimated with more than two.
	Replicates int
	Mode       BootstrapMode
	Workers    int
	Seed       uint64
	Refine     fit.Options
	Logger     *slog.Logger
}

// DefaultOptions tests every model with a fixed tau window and no bootstrap.
func DefaultOptions() Options {
	ro := fit.DefaultOptions()
	ro.StartRadius = 10

	return Options{
		Models:      ModelNames(),
		TauFraction: DefaultTauFraction,
		Mode:        Parametric,
		Workers:     1,
		Seed:        1,
		Refine:      ro,
	}
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}

	return slog.Default()
}

// Validate rejects inconsistent settings.
func (o Options) Validate() error {
	switch {
	case len(o.Models) == 0:
		return fmt.Errorf("%w: no model-free models selected", errs.ErrInvalidConfig)
	case o.Tau < 0:
		return fmt.Errorf("%w: tau %g must not be negative", errs.ErrInvalidConfig, o.Tau)
	case o.TauFraction < 0 || o.TauFraction >= 1:
		return fmt.Errorf("%w: tau fraction %g outside [0, 1)", errs.ErrInvalidConfig, o.TauFraction)
	case o.FitJ && o.FitExchange:
		return fmt.Errorf("%w: exchange cannot be fitted against mapped spectral densities", errs.ErrInvalidConfig)
	case o.Replicates < 0:
		return fmt.Errorf("%w: replicates %d must not be negative", errs.ErrInvalidConfig, o.Replicates)
	case o.Workers < 1:
		return fmt.Errorf("%w: workers %d must be positive", errs.ErrInvalidConfig, o.Workers)
	case o.Mode < Parametric || o.Mode > Bayesian:
		return fmt.Errorf("%w: bootstrap mode %d", errs.ErrInvalidConfig, o.Mode)
	}
	for _, name := range o.Models {
		if _, err := LookupModel(name); err != nil {
			return err
		}
	}

	return o.Refine.Validate()
}

// instance builds the model instance used for data under o.
func (o Options) instance(m *Model, data *MolData) Instance {
	in := Instance{Model: m, Tau: o.Tau, FitTau: o.FitTau, TauFraction: o.TauFraction, FitExchange: o.FitExchange}
	if o.T2Limit > 0 && data.maxR2() <= o.T2Limit {
		in.FitTau = false
		in.TauFraction = 0
	}

	return in
}

// scorer evaluates parameter vectors of one instance against one residue.
type scorer struct {
	data    *MolData
	in      Instance
	fitJ    bool
	logJ    bool
	js      *JSet
	weights []float64
}

// newScorer prepares a scorer. Non-nil weights select J scoring on the
// per-field layout of CalcJ and must have one entry per value.
func newScorer(data *MolData, in Instance, opts Options, weights []float64) (*scorer, error) {
	if len(data.Data) == 0 {
		return nil, fmt.Errorf("%w: %s has no relaxation data", errs.ErrInsufficientData, data.Key)
	}
	for _, r := range data.Data {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", data.Key, err)
		}
	}

	s := &scorer{data: data, in: in, fitJ: opts.FitJ || weights != nil, logJ: opts.LogJ, weights: weights}
	if s.fitJ {
		js, err := data.CalcJ(weights == nil)
		if err != nil {
			return nil, err
		}
		if weights != nil && len(weights) != js.Len() {
			return nil, fmt.Errorf("%w: %d weights for %d spectral densities", errs.ErrInvalidConfig, len(weights), js.Len())
		}
		s.js = js
	}

	return s, nil
}

func (s *scorer) score(x []float64) Score {
	tauM, p, rex := s.in.Split(x)
	sc := Score{K: len(x), ParsOK: s.in.Model.Valid(tauM, p), Pars: append([]float64(nil), x...)}
	sc.ComplexityS, sc.ComplexityTau = s.in.Model.Complexity(p)

	if !s.fitJ {
		for _, r := range s.data.Data {
			r1, r2, noe := r.Predict(s.in.Model.J(r.Constants.W, tauM, p), rex)
			sc.RSS += r.chi2(r1, r2, noe)
		}
		sc.N = 3 * len(s.data.Data)

		return sc
	}

	calc := s.in.Model.J(s.js.W, tauM, p)
	for i, jc := range calc {
		w := 1.0
		if s.weights != nil {
			w = s.weights[i]
		}
		sc.RSS += w * s.deltaJ(i, jc)
	}
	sc.N = len(calc)

	return sc
}

// deltaJ is the squared error weighted deviation of jc from value i.
func (s *scorer) deltaJ(i int, jc float64) float64 {
	j, e := s.js.J[i], s.js.Err[i]
	if !s.logJ {
		d := (jc - j) / e

		return d * d
	}

	d := math.Log10(jc) - math.Log10(j)
	le := math.Abs(math.Log10(j+e)-math.Log10(j-e)) / 2
	if j-e <= 0 {
		le = e / (j * math.Ln10)
	}

	return d * d / (le * le)
}

func (s *scorer) objective(lambdaS, lambdaTau float64) fit.Objective {
	return func(x []float64) float64 {
		return s.score(x).Value(lambdaS, lambdaTau)
	}
}

// TryModel fits the instance to data from its default start with
// Refine.Attempts jittered restarts and scores the best point.
func TryModel(ctx context.Context, data *MolData, in Instance, opts Options) (Score, error) {
	return tryModel(ctx, data, in, opts, nil, in.Start(), true)
}

func tryModel(ctx context.Context, data *MolData, in Instance, opts Options, weights, start []float64, multi bool) (Score, error) {
	s, err := newScorer(data, in, opts, weights)
	if err != nil {
		return Score{}, err
	}

	refine := fit.Refine
	if multi {
		refine = fit.RefineMultiStart
	}
	res, err := refine(ctx, s.objective(opts.LambdaS, opts.LambdaTau), start, in.Lower(), in.Upper(), opts.Refine)
	if err != nil {
		return Score{}, fmt.Errorf("%s model %s: %w", data.Key, in.Model.Name, err)
	}

	return s.score(res.X), nil
}

// Result is the outcome of model selection for one residue.
type Result struct {
	Key      string
	Model    string
	Instance Instance
	ParNames []string
	Pars     []float64
	// Errors holds the replicate standard deviation of each parameter; nil
	// without parametric replicates.
	Errors []float64
	Score  Score
	// Scores holds the best score of every model that could be fitted.
	Scores map[string]Score
	// Replicates is parameters × replicates from the parametric bootstrap.
	Replicates [][]float64
	// Aggregate is set in the Aggregate and Bayesian modes.
	Aggregate *AggregateResult
	// J is the mapped spectral density of the data.
	J *JSet
}

// Par returns the value of a named parameter. The overall correlation time
// is reported even when it was held fixed.
func (r *Result) Par(name string) (float64, bool) {
	for i, n := range r.ParNames {
		if n == name {
			return r.Pars[i], true
		}
	}
	if name == ParTau {
		return r.Instance.Tau, true
	}

	return 0, false
}

// TestModels fits every model in opts.Models to data and keeps the one with
// the lowest AICc. Models that fail to fit are logged and skipped. With more
// than two replicates in Parametric mode the winner's parameter errors are
// estimated by a parametric bootstrap.
func TestModels(ctx context.Context, data *MolData, opts Options) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if !(opts.Tau > 0) {
		return nil, fmt.Errorf("%w: tau must be set or estimated first", errs.ErrInvalidConfig)
	}
	log := opts.logger()

	r := &Result{Key: data.Key, Scores: make(map[string]Score, len(opts.Models))}
	best := math.Inf(1)
	var lastErr error
	for _, name := range opts.Models {
		m, err := LookupModel(name)
		if err != nil {
			return nil, err
		}
		in := opts.instance(m, data)
		sc, err := TryModel(ctx, data, in, opts)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			log.Warn("model-free fit failed", slog.String("residue", data.Key), slog.String("model", name), slog.String("error", err.Error()))
			lastErr = err
			continue
		}
		r.Scores[name] = sc
		log.Debug("model-free fit", slog.String("residue", data.Key), slog.String("model", name), slog.Float64("aicc", sc.AICc()))
		if aicc := sc.AICc(); aicc < best || r.Model == "" {
			best = aicc
			r.Model, r.Instance, r.Score = name, in, sc
		}
	}
	if r.Model == "" {
		return nil, fmt.Errorf("%w: no model-free model could be fitted to %s: %w", errs.ErrOptimizationFailure, data.Key, lastErr)
	}
	r.ParNames = r.Instance.ParNames()
	r.Pars = r.Score.Pars
	if js, err := data.CalcJ(true); err == nil {
		r.J = js
	}

	if opts.Mode == Parametric && opts.Replicates > 2 {
		reps, err := parametricReplicates(ctx, data, r.Instance, r.Pars, opts)
		if err != nil {
			return nil, err
		}
		r.Replicates = reps
		r.Errors = bootstrap.Summarize(reps).StdDev
	}

	return r, nil
}

// parametricReplicates refits the instance to opts.Replicates noisy copies of
// its own prediction at pars. Failed replicates leave NaN columns.
func parametricReplicates(ctx context.Context, data *MolData, in Instance, pars []float64, opts Options) ([][]float64, error) {
	n := opts.Replicates
	matrix := make([][]float64, len(pars))
	for i := range matrix {
		matrix[i] = make([]float64, n)
		for j := range matrix[i] {
			matrix[i][j] = math.NaN()
		}
	}

	sim := data.Simulate(in, pars)
	log := opts.logger()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for j := 0; j < n; j++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			seed := opts.Seed + uint64(j)
			noisy := perturb(sim, rand.NewSource(seed))
			ro := opts
			ro.Refine.Seed = seed
			sc, err := tryModel(gctx, noisy, in, ro, nil, pars, false)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				log.Warn("model-free replicate failed", slog.String("residue", data.Key), slog.Int("replicate", j), slog.String("error", err.Error()))

				return nil
			}
			for i, v := range sc.Pars {
				matrix[i][j] = v
			}

			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return matrix, nil
}

// perturb adds Gaussian noise scaled by each error to the rates of m.
func perturb(m *MolData, src rand.Source) *MolData {
	norm := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	out := &MolData{Key: m.Key, Vector: m.Vector, Data: make([]Relaxation, len(m.Data))}
	for i, r := range m.Data {
		r.R1 += norm.Rand() * r.R1Err
		r.R2 += norm.Rand() * r.R2Err
		r.NOE += norm.Rand() * r.NOEErr
		out.Data[i] = r
	}

	return out
}

// AggregateResult collects the model selected for each resampled replicate,
// mapped into the StandardPars layout.
type AggregateResult struct {
	Mode BootstrapMode
	// Matrix is StandardPars × replicates; failed replicates are NaN.
	Matrix [][]float64
	// Models is the model chosen for each replicate, "" when none fitted.
	Models []string
	// MeanRSS averages the winning RSS over replicates.
	MeanRSS float64
	Summary bootstrap.Summary
}

// ModelCounts tallies the chosen models.
func (a *AggregateResult) ModelCounts() map[string]int {
	counts := map[string]int{}
	for _, m := range a.Models {
		if m != "" {
			counts[m]++
		}
	}

	return counts
}

// Aggregated reruns model selection over opts.Replicates reweighted copies of
// the mapped spectral densities, choosing the lowest AIC model per replicate.
// In Aggregate mode the weights come from a shuffled Aggregator pattern; in
// Bayesian mode from DirichletWeights. Both score against spectral densities.
func Aggregated(ctx context.Context, data *MolData, opts Options) (*AggregateResult, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.Mode == Parametric {
		return nil, fmt.Errorf("%w: aggregation needs the aggregate or bayesian mode", errs.ErrInvalidConfig)
	}
	if opts.Replicates < 1 {
		return nil, fmt.Errorf("%w: aggregation needs replicates", errs.ErrInvalidConfig)
	}
	if !(opts.Tau > 0) {
		return nil, fmt.Errorf("%w: tau must be set or estimated first", errs.ErrInvalidConfig)
	}
	opts.FitJ = true

	nExp := len(data.Data)
	var agg *Aggregator
	var order []int
	if opts.Mode == Aggregate {
		var err error
		if agg, err = NewAggregator(nExp); err != nil {
			return nil, err
		}
		order = rand.New(rand.NewSource(opts.Seed)).Perm(agg.N())
	} else if nExp < 1 {
		return nil, fmt.Errorf("%w: %s has no relaxation data", errs.ErrInsufficientData, data.Key)
	}

	n := opts.Replicates
	out := &AggregateResult{Mode: opts.Mode, Matrix: make([][]float64, len(StandardPars)), Models: make([]string, n)}
	for i := range out.Matrix {
		out.Matrix[i] = make([]float64, n)
		for j := range out.Matrix[i] {
			out.Matrix[i][j] = math.NaN()
		}
	}
	rss := make([]float64, n)
	log := opts.logger()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for j := 0; j < n; j++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			seed := opts.Seed + uint64(j)
			var weights []float64
			if agg != nil {
				weights = agg.Weights(order[j%len(order)])
			} else {
				weights = DirichletWeights(rand.NewSource(seed), nExp)
			}

			ro := opts
			ro.Refine.Seed = seed
			bestAIC := math.Inf(1)
			for _, name := range opts.Models {
				m, _ := LookupModel(name)
				in := ro.instance(m, data)
				sc, err := tryModel(gctx, data, in, ro, weights, in.Start(), true)
				if err != nil {
					if ctxErr := gctx.Err(); ctxErr != nil {
						return ctxErr
					}
					if errors.Is(err, errs.ErrInvalidConfig) || errors.Is(err, errs.ErrInsufficientData) {
						return err
					}
					continue
				}
				if aic := sc.AIC(); aic < bestAIC || out.Models[j] == "" {
					bestAIC = aic
					tauM, p, _ := in.Split(sc.Pars)
					std := m.Standard(tauM, p)
					for i, v := range std {
						out.Matrix[i][j] = v
					}
					out.Models[j] = name
					rss[j] = sc.RSS
				}
			}
			if out.Models[j] == "" {
				log.Warn("aggregate replicate failed", slog.String("residue", data.Key), slog.Int("replicate", j))
			}

			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fitted := 0
	for j, m := range out.Models {
		if m != "" {
			out.MeanRSS += rss[j]
			fitted++
		}
	}
	if fitted > 0 {
		out.MeanRSS /= float64(fitted)
	}
	out.Summary = bootstrap.Summarize(out.Matrix)

	return out, nil
}
