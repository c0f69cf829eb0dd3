package ringfit

import (
	"fmt"
	"log/slog"

	"github.com/nanalysis/ringfit/bootstrap"
	"github.com/nanalysis/ringfit/dataset"
	"github.com/nanalysis/ringfit/errs"
	"github.com/nanalysis/ringfit/fit"
	"github.com/nanalysis/ringfit/internal/options"
	"github.com/nanalysis/ringfit/selector"
)

// fitConfig collects every setting of FitCurve, SelectBestModel and Fitter.
type fitConfig struct {
	absMode  bool
	weighted bool

	bootstrap bool
	bootMode  bootstrap.Mode
	samples   int

	refine   fit.Options
	workers  int
	selector selector.Options
	logger   *slog.Logger

	start        []float64
	lower, upper []float64
	mask         []int
	maxFreq      float64
}

func defaultConfig() *fitConfig {
	return &fitConfig{
		weighted: true,
		bootMode: bootstrap.NonParametric,
		samples:  50,
		refine:   fit.DefaultOptions(),
		workers:  1,
		selector: selector.DefaultOptions(),
	}
}

func (c *fitConfig) validate() error {
	if err := c.refine.Validate(); err != nil {
		return err
	}
	switch {
	case c.samples < 1:
		return fmt.Errorf("%w: sample size %d must be positive", errs.ErrInvalidConfig, c.samples)
	case c.workers < 1:
		return fmt.Errorf("%w: workers %d must be positive", errs.ErrInvalidConfig, c.workers)
	case !(c.selector.Alpha > 0 && c.selector.Alpha < 1):
		return fmt.Errorf("%w: alpha %g outside (0, 1)", errs.ErrInvalidConfig, c.selector.Alpha)
	case c.selector.RexRatio < 0:
		return fmt.Errorf("%w: rex ratio %g must not be negative", errs.ErrInvalidConfig, c.selector.RexRatio)
	case c.selector.DeltaABDiff < 0:
		return fmt.Errorf("%w: deltaAB difference %g must not be negative", errs.ErrInvalidConfig, c.selector.DeltaABDiff)
	case len(c.lower) != len(c.upper):
		return fmt.Errorf("%w: %d lower bounds for %d upper bounds", errs.ErrInvalidConfig, len(c.lower), len(c.upper))
	}

	return nil
}

func (c *fitConfig) log() *slog.Logger {
	if c.logger != nil {
		return c.logger
	}

	return slog.Default()
}

// refineOptions returns the optimizer settings with the configured logger.
func (c *fitConfig) refineOptions() fit.Options {
	o := c.refine
	o.Logger = c.log()

	return o
}

// bootstrapConfig derives the replicate settings: replicates restart from the
// best fit with a tighter search radius.
func (c *fitConfig) bootstrapConfig(mode bootstrap.Mode) bootstrap.Config {
	r := c.refineOptions()
	r.StartRadius = min(r.StartRadius, 10)

	return bootstrap.Config{
		Mode:    mode,
		Samples: c.samples,
		Workers: c.workers,
		Seed:    c.refine.Seed,
		Refine:  r,
		Logger:  c.log(),
	}
}

func (c *fitConfig) selectorOptions() selector.Options {
	o := c.selector
	o.Logger = c.log()

	return o
}

func newConfig(opts []Option) (*fitConfig, error) {
	return options.Build(defaultConfig, (*fitConfig).validate, opts...)
}

// Option configures FitCurve, SelectBestModel and Fitter.
type Option = options.Option[*fitConfig]

// WithAbsMode minimizes absolute instead of squared residuals.
func WithAbsMode(abs bool) Option {
	return options.NoError(func(c *fitConfig) { c.absMode = abs })
}

// WithWeighted divides residuals by the point errors. Enabled by default.
func WithWeighted(weighted bool) Option {
	return options.NoError(func(c *fitConfig) { c.weighted = weighted })
}

// WithBootstrap estimates parameter errors after the fit.
func WithBootstrap(enabled bool) Option {
	return options.NoError(func(c *fitConfig) { c.bootstrap = enabled })
}

// WithNonParametric selects resampling with replacement (true, the default)
// or parametric noise (false) for bootstrap replicates.
func WithNonParametric(nonParametric bool) Option {
	return options.NoError(func(c *fitConfig) {
		c.bootMode = bootstrap.Parametric
		if nonParametric {
			c.bootMode = bootstrap.NonParametric
		}
	})
}

// WithSampleSize sets the number of bootstrap replicates.
func WithSampleSize(n int) Option {
	return options.Named("sample size", func(c *fitConfig) error {
		if n < 1 {
			return fmt.Errorf("%w: %d", errs.ErrInvalidConfig, n)
		}
		c.samples = n

		return nil
	})
}

// WithStartRadius sets the initial normalized search diameter.
func WithStartRadius(r float64) Option {
	return options.NoError(func(c *fitConfig) { c.refine.StartRadius = r })
}

// WithFinalRadius sets the log10 stopping radius of the global search.
func WithFinalRadius(r float64) Option {
	return options.NoError(func(c *fitConfig) { c.refine.FinalRadius = r })
}

// WithTolerance sets the relative convergence tolerance.
func WithTolerance(tol float64) Option {
	return options.NoError(func(c *fitConfig) { c.refine.Tolerance = tol })
}

// WithMaxIterations caps the optimizer iterations per start.
func WithMaxIterations(n int) Option {
	return options.NoError(func(c *fitConfig) { c.refine.MaxIterations = n })
}

// WithAttempts sets the number of multi-start attempts.
func WithAttempts(n int) Option {
	return options.NoError(func(c *fitConfig) { c.refine.Attempts = n })
}

// WithSeed fixes the optimizer and bootstrap random sources.
func WithSeed(seed uint64) Option {
	return options.NoError(func(c *fitConfig) { c.refine.Seed = seed })
}

// WithWorkers bounds the bootstrap and Fitter worker pools.
func WithWorkers(n int) Option {
	return options.NoError(func(c *fitConfig) { c.workers = n })
}

// WithRexRatio sets the multiple of the RMS a CPMG Rex must exceed.
func WithRexRatio(r float64) Option {
	return options.NoError(func(c *fitConfig) { c.selector.RexRatio = r })
}

// WithDeltaABDiff sets the minimum CEST/R1rho state separation in ppm.
func WithDeltaABDiff(ppm float64) Option {
	return options.NoError(func(c *fitConfig) { c.selector.DeltaABDiff = ppm })
}

// WithAlpha sets the significance level of the exchange t-test.
func WithAlpha(alpha float64) Option {
	return options.NoError(func(c *fitConfig) { c.selector.Alpha = alpha })
}

// WithLogger routes logging to log.
func WithLogger(log *slog.Logger) Option {
	return options.NoError(func(c *fitConfig) { c.logger = log })
}

// WithStart replaces the equation's guess with a global start vector.
func WithStart(start []float64) Option {
	return options.NoError(func(c *fitConfig) { c.start = append([]float64(nil), start...) })
}

// WithBounds replaces the equation's bounds with global bound vectors.
func WithBounds(lower, upper []float64) Option {
	return options.Named("bounds", func(c *fitConfig) error {
		if len(lower) != len(upper) {
			return fmt.Errorf("%w: %d lower bounds for %d upper bounds", errs.ErrInvalidConfig, len(lower), len(upper))
		}
		for i := range lower {
			if !(lower[i] <= upper[i]) {
				return fmt.Errorf("%w: bound %d is [%g, %g]", errs.ErrInvalidConfig, i, lower[i], upper[i])
			}
		}
		c.lower = append([]float64(nil), lower...)
		c.upper = append([]float64(nil), upper...)

		return nil
	})
}

// WithMask sets the state dimensions (dataset.DimResidue, ...) that key the
// per-curve parameters.
func WithMask(dims ...int) Option {
	return options.Named("mask", func(c *fitConfig) error {
		for _, d := range dims {
			if d < 0 || d >= dataset.NumDims {
				return fmt.Errorf("%w: state dimension %d", errs.ErrInvalidConfig, d)
			}
		}
		c.mask = append([]int(nil), dims...)

		return nil
	})
}

// WithCPMGMaxFreq caps the CPMG exchange rate guess and bound in Hz.
func WithCPMGMaxFreq(hz float64) Option {
	return options.NoError(func(c *fitConfig) { c.maxFreq = hz })
}
