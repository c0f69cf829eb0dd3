package ringfit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nanalysis/ringfit/dataset"
	"github.com/nanalysis/ringfit/equation"
	"github.com/nanalysis/ringfit/errs"
)

// Group is a set of curves fitted together, usually one residue.
type Group struct {
	Name   string
	Curves []*dataset.Curve
	// Equations overrides the Fitter's equation list for this group.
	Equations []string
}

// GroupResult holds every equation fitted to a group and the selected one.
type GroupResult struct {
	RunID string
	Name  string
	// Results is keyed by equation name; equations that failed are absent.
	Results       map[string]*FitResult
	Best          string
	ExchangeValid bool
}

// BestResult returns the selected fit.
func (g *GroupResult) BestResult() *FitResult {
	return g.Results[g.Best]
}

// Fitter fits a list of equations to many groups on a bounded worker pool
// and selects the best equation of each group.
type Fitter struct {
	equations []string
	cfg       *fitConfig
}

// NewFitter validates the equations and options.
//
// Parameters:
//   - equations: the default equations tried for every group
//   - opts: options applied to every fit; WithWorkers bounds the group pool
//
// Returns:
//   - *Fitter: the runner
//   - error: ErrUnknownEquation or an option error
func NewFitter(equations []string, opts ...Option) (*Fitter, error) {
	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}
	if err := checkEquations(equations); err != nil {
		return nil, err
	}

	return &Fitter{equations: append([]string(nil), equations...), cfg: cfg}, nil
}

func checkEquations(names []string) error {
	for _, name := range names {
		if _, err := equation.Lookup(name); err != nil {
			return err
		}
	}

	return nil
}

// FitAll fits every group and returns the completed results in input order.
//
// Groups that cannot be fitted are logged and left out; the run continues.
// Cancellation is checked between groups, so a group already being fitted
// runs to the end of its current optimizer call. On cancellation the
// completed results are returned together with ctx.Err().
func (f *Fitter) FitAll(ctx context.Context, groups []Group) ([]*GroupResult, error) {
	runID := uuid.NewString()
	log := f.cfg.log().With(slog.String("run_id", runID))
	log.Info("fit run started", slog.Int("groups", len(groups)), slog.Int("workers", f.cfg.workers))

	results := make([]*GroupResult, len(groups))
	var g errgroup.Group
	g.SetLimit(f.cfg.workers)
	for i, grp := range groups {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			r, err := f.fitGroup(ctx, grp, log)
			if err != nil {
				if ctx.Err() == nil {
					log.Warn("group skipped", slog.String("group", grp.Name), slog.String("error", err.Error()))
				}
				return nil
			}
			r.RunID = runID
			results[i] = r

			return nil
		})
	}
	_ = g.Wait()

	out := make([]*GroupResult, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, r)
		}
	}
	log.Info("fit run finished", slog.Int("completed", len(out)), slog.Int("groups", len(groups)))

	return out, ctx.Err()
}

func (f *Fitter) fitGroup(ctx context.Context, grp Group, log *slog.Logger) (*GroupResult, error) {
	names := grp.Equations
	if len(names) == 0 {
		names = f.equations
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no equations for group %s", errs.ErrInvalidConfig, grp.Name)
	}

	gr := &GroupResult{Name: grp.Name, Results: make(map[string]*FitResult, len(names))}
	fitted := make([]*FitResult, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r, err := fitCurve(ctx, name, grp.Curves, f.cfg)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			log.Warn("fit failed", slog.String("group", grp.Name), slog.String("equation", name), slog.String("error", err.Error()))
			continue
		}
		gr.Results[r.Equation] = r
		fitted = append(fitted, r)
	}
	if len(fitted) == 0 {
		return nil, fmt.Errorf("%w: no equation could be fitted to group %s", errs.ErrOptimizationFailure, grp.Name)
	}

	best, exchange, err := selectBest(ctx, fitted, f.cfg)
	if err != nil {
		return nil, err
	}
	gr.Best, gr.ExchangeValid = best, exchange
	log.Debug("group done", slog.String("group", grp.Name), slog.String("best", best), slog.Bool("exchange", exchange))

	return gr, nil
}
