package fit

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/nanalysis/ringfit/errs"
)

// Options controls Refine and RefineMultiStart.
type Options struct {
	// StartRadius is the initial CMA-ES search diameter in normalized units;
	// the step size is half of it.
	StartRadius float64
	// FinalRadius is the log10 of the search radius at which CMA-ES stops.
	FinalRadius float64
	// Tolerance is the relative objective change below which the search is
	// considered converged.
	Tolerance     float64
	MaxIterations int
	// Attempts is the number of starts tried by RefineMultiStart.
	Attempts int
	Seed     uint64
	// NoPolish skips the Nelder-Mead pass after CMA-ES.
	NoPolish bool
	Logger   *slog.Logger
}

// DefaultOptions returns the settings used by a regular fit.
func DefaultOptions() Options {
	return Options{
		StartRadius:   20,
		FinalRadius:   -5,
		Tolerance:     1e-5,
		MaxIterations: 5000,
		Attempts:      3,
		Seed:          1,
	}
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}

	return slog.Default()
}

// Validate rejects settings the optimizer cannot run with.
func (o Options) Validate() error {
	switch {
	case !(o.StartRadius > 0):
		return fmt.Errorf("%w: start radius %g must be positive", errs.ErrInvalidConfig, o.StartRadius)
	case !(o.Tolerance > 0):
		return fmt.Errorf("%w: tolerance %g must be positive", errs.ErrInvalidConfig, o.Tolerance)
	case o.MaxIterations < 1:
		return fmt.Errorf("%w: max iterations %d must be positive", errs.ErrInvalidConfig, o.MaxIterations)
	case o.Attempts < 1:
		return fmt.Errorf("%w: attempts %d must be positive", errs.ErrInvalidConfig, o.Attempts)
	}

	return nil
}

// Result is the best point found by a refinement.
type Result struct {
	X      []float64
	Value  float64
	Evals  int
	Status optimize.Status
}

// population is the CMA-ES population size for dim parameters.
func population(dim int) int {
	return 3 * int(math.Round(4+3*math.Log(float64(dim))))
}

// stopLogDet converts a log10 search radius into the covariance log
// determinant at which CMA-ES stops.
func stopLogDet(dim int, finalRadius float64) float64 {
	if finalRadius == 0 {
		return 0
	}

	return float64(dim) * 2 * finalRadius * math.Ln10
}

// Refine minimizes f inside [lower, upper] starting from start, which is
// clamped into the box first. The returned X always lies inside the box and
// is never worse than the clamped start.
//
// Returns:
//   - Result: the best point, its objective value, evaluation count and the
//     CMA-ES status
//   - error: ErrInvalidConfig for malformed bounds or options,
//     ErrOptimizationFailure when the objective panics, gonum fails or no
//     finite value was found, ctx.Err() when ctx is already done
func Refine(ctx context.Context, f Objective, start, lower, upper []float64, opts Options) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if err := opts.Validate(); err != nil {
		return Result{}, err
	}
	b, err := newBox(lower, upper)
	if err != nil {
		return Result{}, err
	}
	if len(start) != b.dim() {
		return Result{}, fmt.Errorf("%w: start has %d values for %d bounds", errs.ErrInvalidConfig, len(start), b.dim())
	}

	return refine(f, b.clamp(start), b, opts, opts.Seed)
}

func refine(f Objective, x0 []float64, b *box, opts Options, seed uint64) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", errs.ErrOptimizationFailure, r)
		}
	}()

	evals := 0
	g := func(u []float64) float64 {
		evals++
		return b.penalized(f, u)
	}

	bestU := b.toNorm(x0)
	bestF := g(bestU)
	consider := func(u []float64, v float64) {
		if v < bestF {
			bestF = v
			bestU = append(bestU[:0], u...)
		}
	}

	dim := b.dim()
	cma := &optimize.CmaEsChol{
		InitStepSize: opts.StartRadius / 2,
		Population:   population(dim),
		StopLogDet:   stopLogDet(dim, opts.FinalRadius),
		Src:          rand.NewSource(seed),
	}
	settings := &optimize.Settings{
		Converger:       &optimize.FunctionConverge{Absolute: 1e-14, Relative: opts.Tolerance, Iterations: 100},
		MajorIterations: opts.MaxIterations,
	}
	r, err := optimize.Minimize(optimize.Problem{Func: g}, append([]float64(nil), bestU...), settings, cma)
	if err != nil {
		return Result{}, fmt.Errorf("%w: cma-es: %v", errs.ErrOptimizationFailure, err)
	}
	status := r.Status
	consider(r.X, r.F)

	if !opts.NoPolish {
		polish := &optimize.Settings{
			Converger:       &optimize.FunctionConverge{Relative: opts.Tolerance * 1e-7, Iterations: 50},
			MajorIterations: opts.MaxIterations,
		}
		pr, perr := optimize.Minimize(optimize.Problem{Func: g}, append([]float64(nil), bestU...), polish, &optimize.NelderMead{})
		if perr == nil {
			consider(pr.X, pr.F)
		} else {
			opts.logger().Debug("nelder-mead polish failed", slog.String("error", perr.Error()))
		}
	}

	x := b.toParam(b.clampNorm(bestU))
	v := f(x)
	evals++
	if math.IsNaN(v) || math.IsInf(v, 0) || v >= InvalidPenalty {
		return Result{}, fmt.Errorf("%w: no finite objective value (best %g)", errs.ErrOptimizationFailure, v)
	}

	return Result{X: x, Value: v, Evals: evals, Status: status}, nil
}

// RefineMultiStart runs Refine from start and from Attempts-1 jittered copies
// of it, skipping failed attempts, and returns the best result. The jitter is
// Gaussian with a standard deviation of a tenth of each bound range.
func RefineMultiStart(ctx context.Context, f Objective, start, lower, upper []float64, opts Options) (Result, error) {
	if err := opts.Validate(); err != nil {
		return Result{}, err
	}
	b, err := newBox(lower, upper)
	if err != nil {
		return Result{}, err
	}
	if len(start) != b.dim() {
		return Result{}, fmt.Errorf("%w: start has %d values for %d bounds", errs.ErrInvalidConfig, len(start), b.dim())
	}

	log := opts.logger()
	best := Result{Value: math.Inf(1)}
	var lastErr error
	for attempt := 0; attempt < opts.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		seed := opts.Seed + uint64(attempt)
		x0 := b.clamp(start)
		if attempt > 0 {
			x0 = b.jitter(x0, rand.NewSource(seed))
		}

		r, err := refine(f, x0, b, opts, seed)
		if err != nil {
			log.Warn("refine attempt failed", slog.Int("attempt", attempt), slog.String("error", err.Error()))
			lastErr = err
			continue
		}
		log.Debug("refine attempt", slog.Int("attempt", attempt), slog.Float64("value", r.Value), slog.Int("evals", r.Evals))
		if r.Value < best.Value {
			r.Evals += best.Evals
			best = r
		} else {
			best.Evals += r.Evals
		}
	}

	if best.X == nil {
		return Result{}, fmt.Errorf("%w: all %d attempts failed: %w", errs.ErrOptimizationFailure, opts.Attempts, lastErr)
	}

	return best, nil
}

// box maps between parameter space and the normalized [0, 100] cube.
type box struct {
	lo, hi []float64
}

func newBox(lower, upper []float64) (*box, error) {
	if len(lower) == 0 || len(lower) != len(upper) {
		return nil, fmt.Errorf("%w: %d lower and %d upper bounds", errs.ErrInvalidConfig, len(lower), len(upper))
	}
	for i := range lower {
		if math.IsNaN(lower[i]) || math.IsNaN(upper[i]) || math.IsInf(lower[i], 0) || math.IsInf(upper[i], 0) || lower[i] > upper[i] {
			return nil, fmt.Errorf("%w: bound %d is [%g, %g]", errs.ErrInvalidConfig, i, lower[i], upper[i])
		}
	}

	return &box{lo: lower, hi: upper}, nil
}

func (b *box) dim() int { return len(b.lo) }

func (b *box) clamp(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		if math.IsNaN(v) {
			v = (b.lo[i] + b.hi[i]) / 2
		}
		out[i] = math.Min(math.Max(v, b.lo[i]), b.hi[i])
	}

	return out
}

func (b *box) toNorm(x []float64) []float64 {
	u := make([]float64, len(x))
	for i, v := range x {
		w := b.hi[i] - b.lo[i]
		if w == 0 {
			u[i] = 50
			continue
		}
		u[i] = 100 * (v - b.lo[i]) / w
	}

	return u
}

func (b *box) toParam(u []float64) []float64 {
	x := make([]float64, len(u))
	for i, v := range u {
		x[i] = b.lo[i] + v*(b.hi[i]-b.lo[i])/100
		x[i] = math.Min(math.Max(x[i], b.lo[i]), b.hi[i])
	}

	return x
}

// clampNorm projects u onto the cube and returns the projection.
func (b *box) clampNorm(u []float64) []float64 {
	out := make([]float64, len(u))
	for i, v := range u {
		out[i] = math.Min(math.Max(v, 0), 100)
	}

	return out
}

// penalized evaluates f at the projection of u onto the cube and adds a
// quadratic penalty on the distance to it.
func (b *box) penalized(f Objective, u []float64) float64 {
	p := b.clampNorm(u)
	dist2 := 0.0
	for i := range u {
		d := u[i] - p[i]
		dist2 += d * d
	}

	v := f(b.toParam(p))
	if math.IsNaN(v) || math.IsInf(v, 0) {
		v = InvalidPenalty
	}

	return v + (1+math.Abs(v))*dist2
}

// jitter perturbs x with Gaussian noise of a tenth of each range and clamps.
func (b *box) jitter(x []float64, src rand.Source) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		sigma := (b.hi[i] - b.lo[i]) / 10
		if sigma > 0 {
			v += distuv.Normal{Mu: 0, Sigma: sigma, Src: src}.Rand()
		}
		out[i] = math.Min(math.Max(v, b.lo[i]), b.hi[i])
	}

	return out
}
