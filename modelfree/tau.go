package modelfree

import (
	"context"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/nanalysis/ringfit/errs"
	"github.com/nanalysis/ringfit/fit"
	"github.com/nanalysis/ringfit/physics"
)

// R2 percentile window of the residues used to estimate the overall tau.
const (
	tauLowerPercentile = 0.2
	tauUpperPercentile = 0.8

	tauSearchMin = 1.0   // ns
	tauSearchMax = 100.0 // ns
)

// TauEstimate is an overall correlation time estimated from R2/R1.
type TauEstimate struct {
	// Tau is the rigid rotor correlation time (ns) matching the ratio.
	Tau float64
	// TauEst is the closed form approximation sqrt(6 R2/R1 - 7)/(4 pi nuN)
	// in ns; 0 when the ratio is below 7/6.
	TauEst float64
	// R1 and R2 are the medians of the residues inside the R2 window.
	R1, R2 float64
	N      int
}

// EstimateTau estimates the overall correlation time from per-residue R1 and
// R2 rates measured with the constants rc. Residues whose R2 falls outside
// the 20th to 80th percentile are ignored, then the median ratio is matched
// against the rigid rotor R2/R1 ratio for tau between 1 and 100 ns.
func EstimateTau(ctx context.Context, rc *physics.RelaxConstants, r1, r2 []float64, opts fit.Options) (TauEstimate, error) {
	if len(r1) != len(r2) {
		return TauEstimate{}, fmt.Errorf("%w: %d R1 values for %d R2 values", errs.ErrInvalidConfig, len(r1), len(r2))
	}
	if len(r1) == 0 {
		return TauEstimate{}, fmt.Errorf("%w: no rates to estimate tau from", errs.ErrInsufficientData)
	}

	sorted := sortedCopy(r2)
	lo := stat.Quantile(tauLowerPercentile, stat.Empirical, sorted, nil)
	hi := stat.Quantile(tauUpperPercentile, stat.Empirical, sorted, nil)

	var k1, k2 []float64
	for i := range r2 {
		if r2[i] > lo && r2[i] < hi {
			k1 = append(k1, r1[i])
			k2 = append(k2, r2[i])
		}
	}
	if len(k1) == 0 {
		k1, k2 = r1, r2
	}

	est := TauEstimate{
		R1: stat.Quantile(0.5, stat.Empirical, sortedCopy(k1), nil),
		R2: stat.Quantile(0.5, stat.Empirical, sortedCopy(k2), nil),
		N:  len(k1),
	}
	if err := physics.CheckPositive("median rate", est.R1, est.R2); err != nil {
		return TauEstimate{}, err
	}
	ratio := est.R2 / est.R1

	f := func(x []float64) float64 {
		return math.Abs(ratio - rc.R2R1Ratio(x[0]*nano))
	}
	res, err := fit.Refine(ctx, f, []float64{10}, []float64{tauSearchMin}, []float64{tauSearchMax}, opts)
	if err != nil {
		return TauEstimate{}, err
	}
	est.Tau = res.X[0]

	if q := 6*ratio - 7; q > 0 {
		nuS := math.Abs(rc.WS) / physics.TwoPi
		est.TauEst = math.Sqrt(q) / (4 * math.Pi * nuS) / nano
	}

	return est, nil
}

// EstimateTauFromData runs EstimateTau on the field with the most
// measurements. Ties go to the lower field.
func EstimateTauFromData(ctx context.Context, data []*MolData, opts fit.Options) (TauEstimate, error) {
	type group struct {
		rc     *physics.RelaxConstants
		r1, r2 []float64
	}
	groups := map[int64]*group{}
	for _, m := range data {
		for _, r := range m.Data {
			if r.Constants == nil {
				continue
			}
			mhz := int64(math.Round(r.Constants.SF / 1e6))
			g, ok := groups[mhz]
			if !ok {
				g = &group{rc: r.Constants}
				groups[mhz] = g
			}
			g.r1 = append(g.r1, r.R1)
			g.r2 = append(g.r2, r.R2)
		}
	}
	if len(groups) == 0 {
		return TauEstimate{}, fmt.Errorf("%w: no rates to estimate tau from", errs.ErrInsufficientData)
	}

	fields := make([]int64, 0, len(groups))
	for mhz := range groups {
		fields = append(fields, mhz)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i] < fields[j] })
	best := groups[fields[0]]
	for _, mhz := range fields[1:] {
		if g := groups[mhz]; len(g.r1) > len(best.r1) {
			best = g
		}
	}

	return EstimateTau(ctx, best.rc, best.r1, best.r2, opts)
}

func sortedCopy(x []float64) []float64 {
	s := append([]float64(nil), x...)
	sort.Float64s(s)

	return s
}
