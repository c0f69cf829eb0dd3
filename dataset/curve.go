// Package dataset holds the experimental curves a fit consumes and the dense
// state enumeration used to build parameter maps.
package dataset

import (
	"fmt"
	"math"

	"github.com/nanalysis/ringfit/errs"
)

// Key labels the experimental condition of a curve.
type Key struct {
	Residue     string
	Field       float64 // proton spectrometer frequency, MHz
	Temperature float64 // K
	Nucleus     string
}

// Curve is one experimental series for one (residue, condition) pair.
//
// X holds one row per independent variable; row 0 is the primary variable
// (CPMG frequency, CEST/R1rho offset, or delay). Field is the Larmor frequency
// of the observed nucleus in MHz. Offset experiments may give B1 and Tex as
// per-curve scalars instead of rows.
//
// A Curve is immutable after NewCurve returns.
type Curve struct {
	ID    int
	Key   Key
	X     [][]float64
	Y     []float64
	Err   []float64
	Field float64
	B1    float64
	Tex   float64
}

// CurveOption customizes a Curve.
type CurveOption func(*Curve)

// WithB1 broadcasts a B1 field (Hz) into row 1 of every point.
func WithB1(b1 float64) CurveOption {
	return func(c *Curve) { c.B1 = b1 }
}

// WithTex broadcasts an irradiation time (s) into row 2 of every point.
func WithTex(tex float64) CurveOption {
	return func(c *Curve) { c.Tex = tex }
}

// NewCurve validates and copies the series.
//
// Parameters:
//   - key: experimental condition
//   - field: Larmor frequency of the observed nucleus in MHz
//   - x: independent variable rows, each of len(y)
//   - y, e: observations and their standard errors
//
// Returns:
//   - *Curve: the validated curve with ID 0 until enumerated
//   - error: ErrInsufficientData for empty or mismatched series
func NewCurve(key Key, field float64, x [][]float64, y, e []float64, opts ...CurveOption) (*Curve, error) {
	if len(y) == 0 {
		return nil, fmt.Errorf("%w: curve %s has no points", errs.ErrInsufficientData, key.Residue)
	}
	if len(e) != len(y) {
		return nil, fmt.Errorf("%w: curve %s has %d errors for %d points", errs.ErrInsufficientData, key.Residue, len(e), len(y))
	}
	if len(x) == 0 {
		return nil, fmt.Errorf("%w: curve %s has no x values", errs.ErrInsufficientData, key.Residue)
	}
	for r, row := range x {
		if len(row) != len(y) {
			return nil, fmt.Errorf("%w: curve %s x row %d has %d values for %d points", errs.ErrInsufficientData, key.Residue, r, len(row), len(y))
		}
	}
	for _, v := range e {
		if !(v > 0) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: curve %s has non-positive error %g", errs.ErrInsufficientData, key.Residue, v)
		}
	}

	c := &Curve{Key: key, Field: field}
	c.X = make([][]float64, len(x))
	for i, row := range x {
		c.X[i] = append([]float64(nil), row...)
	}
	c.Y = append([]float64(nil), y...)
	c.Err = append([]float64(nil), e...)
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Len returns the number of points.
func (c *Curve) Len() int {
	return len(c.Y)
}

// Point returns the independent variables of point i. Broadcast B1 and Tex
// values fill rows 1 and 2 when the curve does not carry them.
func (c *Curve) Point(i int) []float64 {
	x := make([]float64, 0, len(c.X)+2)
	for _, row := range c.X {
		x = append(x, row[i])
	}
	if c.B1 > 0 && len(x) == 1 {
		x = append(x, c.B1)
	}
	if c.Tex > 0 && len(x) <= 2 {
		for len(x) < 2 {
			x = append(x, 0)
		}
		x = append(x, c.Tex)
	}

	return x
}

// withID returns a copy of c carrying id.
func (c *Curve) withID(id int) *Curve {
	cp := *c
	cp.ID = id

	return &cp
}
