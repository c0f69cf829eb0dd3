package physics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/nanalysis/ringfit/errs"
)

// padeOrder is the degree of the diagonal Padé approximant.
const padeOrder = 6

// padeCoefficients are c_k = c_{k-1} (q-k+1) / (k (2q-k+1)) for q = padeOrder.
var padeCoefficients = func() [padeOrder + 1]float64 {
	var c [padeOrder + 1]float64
	c[0] = 1
	for k := 1; k <= padeOrder; k++ {
		c[k] = c[k-1] * float64(padeOrder-k+1) / float64(k*(2*padeOrder-k+1))
	}

	return c
}()

// Expm returns exp(t*m) using a scaled diagonal Padé approximant followed by
// repeated squaring.
//
// The scaling power s is the smallest integer with ||t*m||_1 / 2^s <= 0.5.
// Expm(m, 0) is exactly the identity.
//
// Parameters:
//   - m: square matrix
//   - t: scalar multiplier, typically a delay in seconds
//
// Returns:
//   - *mat.Dense: the matrix exponential
//   - error: ErrInvalidPhysicalParameter for non-square or non-finite input
func Expm(m mat.Matrix, t float64) (*mat.Dense, error) {
	r, c := m.Dims()
	if r != c {
		return nil, fmt.Errorf("%w: matrix exponential of %dx%d matrix", errs.ErrInvalidPhysicalParameter, r, c)
	}
	if math.IsNaN(t) || math.IsInf(t, 0) {
		return nil, fmt.Errorf("%w: non-finite time %g", errs.ErrInvalidPhysicalParameter, t)
	}

	var a mat.Dense
	a.Scale(t, m)

	norm := mat.Norm(&a, 1)
	if math.IsNaN(norm) || math.IsInf(norm, 0) {
		return nil, fmt.Errorf("%w: non-finite matrix entries", errs.ErrInvalidPhysicalParameter)
	}

	s := 0
	if norm > 0.5 {
		s = int(math.Max(0, math.Ceil(math.Log2(norm/0.5))))
	}
	if s > 0 {
		a.Scale(1/math.Pow(2, float64(s)), &a)
	}

	n := eye(r)
	d := eye(r)
	x := eye(r)
	var tmp mat.Dense
	sign := 1.0
	for k := 1; k <= padeOrder; k++ {
		tmp.Mul(x, &a)
		x.Copy(&tmp)
		sign = -sign
		n.Add(n, scaled(padeCoefficients[k], x))
		d.Add(d, scaled(sign*padeCoefficients[k], x))
	}

	var f mat.Dense
	if err := f.Solve(d, n); err != nil {
		return nil, fmt.Errorf("%w: singular Padé denominator: %v", errs.ErrInvalidPhysicalParameter, err)
	}

	for i := 0; i < s; i++ {
		tmp.Mul(&f, &f)
		f.Copy(&tmp)
	}

	return &f, nil
}

func eye(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}

	return m
}

func scaled(f float64, m mat.Matrix) *mat.Dense {
	var out mat.Dense
	out.Scale(f, m)

	return &out
}
