package physics

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/mat"

	"github.com/nanalysis/ringfit/errs"
)

// ExactEigenRate returns the decay rate -lambda of the real eigenvalue lambda of
// m closest to the perturbative estimate (a positive rate).
//
// Eigenvalues whose imaginary part is below 1e-9 of the matrix infinity norm
// count as real. Ties are broken in favour of the smaller magnitude, the
// slower decaying mode. When m has no real eigenvalue the result is
// ErrNoRealEigenvalue.
func ExactEigenRate(m mat.Matrix, estimate float64) (float64, error) {
	var eig mat.Eigen
	if ok := eig.Factorize(m, mat.EigenNone); !ok {
		return 0, fmt.Errorf("%w: eigen decomposition did not converge", errs.ErrInvalidPhysicalParameter)
	}

	tol := 1e-9 * math.Max(1, mat.Norm(m, math.Inf(1)))
	best := math.NaN()
	bestDist := math.Inf(1)
	for _, v := range eig.Values(nil) {
		if cmplx.IsNaN(v) || math.Abs(imag(v)) > tol {
			continue
		}
		rate := -real(v)
		dist := math.Abs(rate - estimate)
		switch {
		case dist < bestDist:
			best, bestDist = rate, dist
		case dist == bestDist && math.Abs(rate) < math.Abs(best):
			best = rate
		}
	}
	if math.IsNaN(best) {
		return 0, errs.ErrNoRealEigenvalue
	}

	return best, nil
}
