// Package fit minimizes equation objectives under hard bounds.
//
// The optimizer works in normalized coordinates u = 100(p-lo)/(hi-lo) so
// every parameter moves on the same scale. A CMA-ES global search is followed
// by a Nelder-Mead polish and the better point is kept.
package fit

import (
	"fmt"
	"math"

	"github.com/nanalysis/ringfit/dataset"
	"github.com/nanalysis/ringfit/equation"
	"github.com/nanalysis/ringfit/errs"
	"github.com/nanalysis/ringfit/parmap"
)

// InvalidPenalty is the objective value of a candidate the physics rejects.
const InvalidPenalty = 1e30

// Objective maps a global parameter vector to the value being minimized.
type Objective func(x []float64) float64

// Problem is one equation fitted to a set of points. A Problem reuses an
// internal buffer and is not safe for concurrent use; every bootstrap
// replicate builds its own.
type Problem struct {
	Variant  *equation.Variant
	Map      parmap.Map
	Points   *dataset.Points
	AbsMode  bool
	Weighted bool

	buf []float64
}

// NewProblem checks that the map covers every curve in p.
func NewProblem(v *equation.Variant, m parmap.Map, p *dataset.Points, absMode, weighted bool) (*Problem, error) {
	if p == nil || p.Len() == 0 {
		return nil, fmt.Errorf("%w: no points", errs.ErrInsufficientData)
	}
	if err := m.Validate(v.NGroup); err != nil {
		return nil, err
	}
	if p.NumIDs() > len(m) {
		return nil, fmt.Errorf("%w: %d curves for %d map rows", errs.ErrMapConstruction, p.NumIDs(), len(m))
	}

	return &Problem{Variant: v, Map: m, Points: p, AbsMode: absMode, Weighted: weighted}, nil
}

// NPars returns the size of the global parameter vector.
func (p *Problem) NPars() int {
	return p.Map.NPars()
}

// Predict evaluates the model at every point.
func (p *Problem) Predict(x []float64) ([]float64, error) {
	return p.Variant.Evaluate(x, p.Map, p.Points, nil)
}

// Value is the objective: the sum of squared (or absolute) residuals, divided
// by the errors when weighted and by n-k when there are more points than
// parameters. Candidates the physics rejects score InvalidPenalty.
func (p *Problem) Value(x []float64) float64 {
	y, err := p.Variant.Evaluate(x, p.Map, p.Points, p.buf)
	if err != nil {
		return InvalidPenalty
	}
	p.buf = y

	sum := 0.0
	for i, yc := range y {
		d := yc - p.Points.Y[i]
		if p.Weighted {
			d /= p.Points.Err[i]
		}
		if p.AbsMode {
			sum += math.Abs(d)
		} else {
			sum += d * d
		}
	}
	if math.IsNaN(sum) || math.IsInf(sum, 0) {
		return InvalidPenalty
	}

	n, k := p.Points.Len(), p.NPars()
	if n > k {
		sum /= float64(n - k)
	}

	return sum
}

// Objective returns Value as an Objective.
func (p *Problem) Objective() Objective {
	return p.Value
}

// Metrics scores x against the points.
func (p *Problem) Metrics(x []float64) (Metrics, error) {
	y, err := p.Predict(x)
	if err != nil {
		return Metrics{}, err
	}

	return ComputeMetrics(p.Points.Y, y, p.Points.Err, p.NPars()), nil
}
