package dataset

import (
	"fmt"
	"strconv"

	"github.com/nanalysis/ringfit/errs"
)

// State dimensions.
const (
	DimResidue = iota
	DimField
	DimTemperature
	DimNucleus
	NumDims
)

// State is the dense index of a curve's condition along each dimension.
type State [NumDims]int

// Experiment is a set of curves fitted together, with their dense states.
type Experiment struct {
	Curves     []*Curve
	StateCount [NumDims]int
	States     []State
	labels     [NumDims][]string
}

// Enumerate assigns curve ids in input order and dense state indices per
// unique value, in order of first appearance.
func Enumerate(curves []*Curve) (*Experiment, error) {
	if len(curves) == 0 {
		return nil, fmt.Errorf("%w: no curves", errs.ErrInsufficientData)
	}

	e := &Experiment{
		Curves: make([]*Curve, len(curves)),
		States: make([]State, len(curves)),
	}
	seen := [NumDims]map[string]int{}
	for d := range seen {
		seen[d] = make(map[string]int)
	}

	for i, c := range curves {
		e.Curves[i] = c.withID(i)
		values := [NumDims]string{
			c.Key.Residue,
			strconv.FormatFloat(c.Key.Field, 'f', -1, 64),
			strconv.FormatFloat(c.Key.Temperature, 'f', -1, 64),
			c.Key.Nucleus,
		}
		for d, v := range values {
			idx, ok := seen[d][v]
			if !ok {
				idx = len(seen[d])
				seen[d][v] = idx
				e.labels[d] = append(e.labels[d], v)
			}
			e.States[i][d] = idx
		}
	}
	for d := range seen {
		e.StateCount[d] = len(seen[d])
	}

	return e, nil
}

// Label returns the observed value behind index idx of dimension dim.
func (e *Experiment) Label(dim, idx int) string {
	return e.labels[dim][idx]
}

// NumPoints returns the total number of points across curves.
func (e *Experiment) NumPoints() int {
	n := 0
	for _, c := range e.Curves {
		n += c.Len()
	}

	return n
}

// Points flattens the experiment into per-point arrays.
func (e *Experiment) Points() *Points {
	n := e.NumPoints()
	p := &Points{
		X:     make([][]float64, 0, n),
		Y:     make([]float64, 0, n),
		Err:   make([]float64, 0, n),
		ID:    make([]int, 0, n),
		Field: make([]float64, 0, n),
	}
	for _, c := range e.Curves {
		for i := 0; i < c.Len(); i++ {
			p.X = append(p.X, c.Point(i))
			p.Y = append(p.Y, c.Y[i])
			p.Err = append(p.Err, c.Err[i])
			p.ID = append(p.ID, c.ID)
			p.Field = append(p.Field, c.Field)
		}
	}

	return p
}
