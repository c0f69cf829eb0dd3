// Package bootstrap estimates parameter uncertainty by refitting resampled
// data sets.
//
// Replicates run on an errgroup pool. Each replicate owns its random source
// and fit state and writes into its own column of a pre-sized matrix, so the
// workers share nothing mutable. A replicate that fails leaves a NaN column
// that Summarize skips. Run fails outright when no resample covered every
// curve.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"golang.org/x/exp/rand"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/nanalysis/ringfit/dataset"
	"github.com/nanalysis/ringfit/errs"
	"github.com/nanalysis/ringfit/fit"
	"github.com/nanalysis/ringfit/internal/pool"
)

// Mode selects how replicate data sets are drawn.
type Mode uint8

const (
	// Parametric adds Gaussian noise scaled by each point's error to the
	// best-fit prediction.
	Parametric Mode = iota + 1
	// NonParametric resamples points with replacement.
	NonParametric
)

func (m Mode) String() string {
	switch m {
	case Parametric:
		return "parametric"
	case NonParametric:
		return "nonparametric"
	default:
		return "unknown"
	}
}

// ParseMode accepts the names returned by Mode.String.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "parametric":
		return Parametric, nil
	case "nonparametric", "non-parametric":
		return NonParametric, nil
	default:
		return 0, fmt.Errorf("%w: bootstrap mode %q", errs.ErrInvalidConfig, s)
	}
}

// MaxCoverageTries bounds the redraws of a non-parametric sample that leaves
// some curve with fewer than two points.
const MaxCoverageTries = 10

// Config controls Run.
type Config struct {
	Mode    Mode
	Samples int
	// Workers limits concurrent replicates; values below 1 mean one.
	Workers int
	Seed    uint64
	// Refine is passed to every replicate fit.
	Refine fit.Options
	Logger *slog.Logger
}

// DefaultConfig returns non-parametric resampling with 50 replicates and a
// replicate start radius of 10.
func DefaultConfig() Config {
	r := fit.DefaultOptions()
	r.StartRadius = 10

	return Config{
		Mode:    NonParametric,
		Samples: 50,
		Workers: 1,
		Seed:    1,
		Refine:  r,
	}
}

// Replicates holds the refit parameter vectors, one column per replicate.
type Replicates struct {
	// Matrix is parameters × replicates.
	Matrix [][]float64
	// Failed counts the NaN columns.
	Failed int
	// Uncovered counts the failed replicates whose resample never gave
	// every curve two points. The rest failed in the fit itself.
	Uncovered int
}

// Column returns replicate j.
func (r *Replicates) Column(j int) []float64 {
	col := make([]float64, len(r.Matrix))
	for i := range r.Matrix {
		col[i] = r.Matrix[i][j]
	}

	return col
}

// Summary reduces the matrix.
func (r *Replicates) Summary() Summary {
	return Summarize(r.Matrix)
}

// Resample draws len(p) points from p with replacement until every curve
// present in p appears at least twice.
//
// Returns ErrInsufficientData after MaxCoverageTries draws that miss a curve.
func Resample(src rand.Source, p *dataset.Points) (*dataset.Points, error) {
	n := p.Len()
	if n == 0 {
		return nil, fmt.Errorf("%w: nothing to resample", errs.ErrInsufficientData)
	}

	want := map[int]bool{}
	for _, id := range p.ID {
		want[id] = true
	}

	rng := rand.New(src)
	idx := make([]int, n)
	seen := make(map[int]int, len(want))
	for try := 0; try < MaxCoverageTries; try++ {
		clear(seen)
		for i := range idx {
			idx[i] = rng.Intn(n)
			seen[p.ID[idx[i]]]++
		}
		if covered(want, seen) {
			return p.Subset(idx), nil
		}
	}

	return nil, fmt.Errorf("%w: resample left a curve with fewer than 2 points after %d tries", errs.ErrInsufficientData, MaxCoverageTries)
}

func covered(want map[int]bool, seen map[int]int) bool {
	for id := range want {
		if seen[id] < 2 {
			return false
		}
	}

	return true
}

// Perturb writes yCalc plus Gaussian noise scaled by the point errors into dst.
func Perturb(src rand.Source, p *dataset.Points, yCalc, dst []float64) {
	norm := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	for i := range dst {
		dst[i] = yCalc[i] + p.Err[i]*norm.Rand()
	}
}

// Run refits cfg.Samples replicates of prob around best.
//
// Parameters:
//   - prob: the fitted problem; only its equation, map and points are read
//   - best: best-fit global parameters, the start of every replicate fit
//   - lower, upper: bounds shared by every replicate
//   - cfg: resampling mode, replicate count, workers and seed
//
// Returns:
//   - *Replicates: the parameters × replicates matrix
//   - error: ErrInvalidConfig for bad settings, ErrInsufficientData when
//     every replicate failed for lack of coverage, ctx.Err() on cancellation
func Run(ctx context.Context, prob *fit.Problem, best, lower, upper []float64, cfg Config) (*Replicates, error) {
	if cfg.Samples < 1 {
		return nil, fmt.Errorf("%w: bootstrap needs at least one sample, got %d", errs.ErrInvalidConfig, cfg.Samples)
	}
	if cfg.Mode != Parametric && cfg.Mode != NonParametric {
		return nil, fmt.Errorf("%w: bootstrap mode %d", errs.ErrInvalidConfig, cfg.Mode)
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	ropts := cfg.Refine
	ropts.Logger = log

	var yCalc []float64
	if cfg.Mode == Parametric {
		var err error
		if yCalc, err = prob.Predict(best); err != nil {
			return nil, fmt.Errorf("bootstrap prediction: %w", err)
		}
	}

	k := len(best)
	matrix := make([][]float64, k)
	for i := range matrix {
		matrix[i] = make([]float64, cfg.Samples)
	}
	status := make([]outcome, cfg.Samples)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(cfg.Workers, 1))
	for j := 0; j < cfg.Samples; j++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			x, err := replicate(gctx, prob, best, lower, upper, yCalc, cfg.Mode, cfg.Seed+uint64(j), ropts)
			if err != nil {
				status[j] = fitFailed
				var cov *coverageError
				if errors.As(err, &cov) {
					status[j] = uncovered
				}
				log.Warn("bootstrap replicate failed", slog.Int("replicate", j), slog.String("error", err.Error()))
				for i := range matrix {
					matrix[i][j] = math.NaN()
				}

				return nil
			}
			for i := range matrix {
				matrix[i][j] = x[i]
			}

			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	r := &Replicates{Matrix: matrix}
	for _, st := range status {
		switch st {
		case uncovered:
			r.Uncovered++
			r.Failed++
		case fitFailed:
			r.Failed++
		}
	}
	log.Debug("bootstrap done", slog.String("mode", cfg.Mode.String()), slog.Int("samples", cfg.Samples),
		slog.Int("failed", r.Failed), slog.Int("uncovered", r.Uncovered))
	if r.Uncovered == cfg.Samples {
		return nil, fmt.Errorf("%w: no bootstrap resample covered every curve in %d tries", errs.ErrInsufficientData, MaxCoverageTries)
	}

	return r, nil
}

type outcome uint8

const (
	fitted outcome = iota
	fitFailed
	uncovered
)

// coverageError marks a replicate that never reached the fit.
type coverageError struct{ err error }

func (e *coverageError) Error() string { return e.err.Error() }
func (e *coverageError) Unwrap() error { return e.err }

func replicate(ctx context.Context, prob *fit.Problem, best, lower, upper, yCalc []float64, mode Mode, seed uint64, opts fit.Options) ([]float64, error) {
	src := rand.NewSource(seed)

	var pts *dataset.Points
	switch mode {
	case Parametric:
		y, release := pool.GetFloat64Slice(len(yCalc))
		defer release()
		Perturb(src, prob.Points, yCalc, y)
		pts = prob.Points.WithY(y)
	default:
		var err error
		if pts, err = Resample(src, prob.Points); err != nil {
			return nil, &coverageError{err}
		}
	}

	p, err := fit.NewProblem(prob.Variant, prob.Map, pts, prob.AbsMode, prob.Weighted)
	if err != nil {
		return nil, err
	}

	opts.Seed = seed
	r, err := fit.Refine(ctx, p.Objective(), best, lower, upper, opts)
	if err != nil {
		return nil, err
	}

	return r.X, nil
}

// Summary is the per-parameter reduction of a replicate matrix. Parameters
// with no finite replicate have NaN statistics and N = 0.
type Summary struct {
	Mean   []float64
	StdDev []float64
	Lower  []float64 // 2.5th percentile
	Upper  []float64 // 97.5th percentile
	N      []int
}

// Summarize reduces a parameters × replicates matrix, skipping NaN entries.
func Summarize(matrix [][]float64) Summary {
	k := len(matrix)
	s := Summary{
		Mean:   make([]float64, k),
		StdDev: make([]float64, k),
		Lower:  make([]float64, k),
		Upper:  make([]float64, k),
		N:      make([]int, k),
	}

	for i, row := range matrix {
		vals := make([]float64, 0, len(row))
		for _, v := range row {
			if !math.IsNaN(v) {
				vals = append(vals, v)
			}
		}
		s.N[i] = len(vals)

		switch len(vals) {
		case 0:
			s.Mean[i], s.StdDev[i], s.Lower[i], s.Upper[i] = math.NaN(), math.NaN(), math.NaN(), math.NaN()
			continue
		case 1:
			s.Mean[i], s.StdDev[i] = vals[0], 0
		default:
			s.Mean[i], s.StdDev[i] = stat.MeanStdDev(vals, nil)
		}

		sort.Float64s(vals)
		s.Lower[i] = stat.Quantile(0.025, stat.Empirical, vals, nil)
		s.Upper[i] = stat.Quantile(0.975, stat.Empirical, vals, nil)
	}

	return s
}
