// Package selector ranks fitted equations by AICc and keeps the best one
// whose exchange contribution is physically meaningful.
package selector

import (
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/nanalysis/ringfit/equation"
	"github.com/nanalysis/ringfit/errs"
	"github.com/nanalysis/ringfit/fit"
	"github.com/nanalysis/ringfit/parmap"
)

// Options holds the exchange gate thresholds.
type Options struct {
	// RexRatio is the multiple of the fit RMS a CPMG Rex must exceed.
	RexRatio float64
	// DeltaABDiff is the minimum ppm separation of the two CEST/R1rho states.
	DeltaABDiff float64
	// Alpha is the two-sided significance level of the replicate t-test.
	Alpha  float64
	Logger *slog.Logger
}

// DefaultOptions returns rexRatio 3, deltaABdiff 0.1 ppm and alpha 0.02.
func DefaultOptions() Options {
	return Options{RexRatio: 3, DeltaABDiff: 0.1, Alpha: 0.02}
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}

	return slog.Default()
}

// Candidate is one fitted equation.
type Candidate struct {
	Variant *equation.Variant
	Map     parmap.Map
	// Params is the best-fit global vector.
	Params []float64
	// Fields holds the nucleus Larmor frequency (MHz) of every map row.
	Fields  []float64
	Metrics fit.Metrics
	// Replicates is parameters × replicates; nil when errors were not
	// estimated.
	Replicates [][]float64
}

// Decision is the outcome of Select.
type Decision struct {
	// Index of the chosen candidate in the input slice.
	Index int
	Name  string
	// ExchangeValid is true only when the chosen equation models exchange and
	// passed the gate.
	ExchangeValid bool
	// Ranked lists candidate indices by increasing AICc.
	Ranked []int
}

func aicc(c *Candidate) float64 {
	if math.IsNaN(c.Metrics.AICc) {
		return math.Inf(1)
	}

	return c.Metrics.AICc
}

// Select ranks the candidates by AICc and walks them in order. An
// exchange-free candidate is taken as is; an exchange candidate is taken only
// when its exchange check passes. Skipping rejected exchange candidates this
// way lands on the best exchange-free fallback. When every candidate models
// exchange and all fail, the lowest AICc is returned with ExchangeValid false.
func Select(cands []*Candidate, opts Options) (Decision, error) {
	if len(cands) == 0 {
		return Decision{}, fmt.Errorf("%w: no candidates to select from", errs.ErrInsufficientData)
	}
	log := opts.logger()

	ranked := make([]int, len(cands))
	for i := range ranked {
		ranked[i] = i
	}
	sort.SliceStable(ranked, func(a, b int) bool { return aicc(cands[ranked[a]]) < aicc(cands[ranked[b]]) })

	for _, i := range ranked {
		c := cands[i]
		if !c.Variant.HasExchange {
			return Decision{Index: i, Name: c.Variant.Name, Ranked: ranked}, nil
		}
		ok, reason := ExchangeValid(c, opts)
		if ok {
			return Decision{Index: i, Name: c.Variant.Name, ExchangeValid: true, Ranked: ranked}, nil
		}
		log.Debug("exchange rejected", slog.String("equation", c.Variant.Name), slog.String("reason", reason))
	}

	i := ranked[0]
	log.Warn("no exchange-free candidate to fall back to", slog.String("equation", cands[i].Variant.Name))

	return Decision{Index: i, Name: cands[i].Variant.Name, Ranked: ranked}, nil
}

// ExchangeValid applies the family specific gate to c and, when replicates
// exist, the Kex spread and t-test checks. It returns false and a short
// reason when c fails.
func ExchangeValid(c *Candidate, opts Options) (bool, string) {
	v := c.Variant
	if !v.HasExchange {
		return false, "no exchange term"
	}

	local := make([]float64, v.NLocal())
	switch v.Family {
	case equation.FamilyCPMG:
		ok := false
		for id := range c.Map {
			local = c.Map.Gather(c.Params, id, local)
			if v.Rex(local, c.field(id)) > opts.RexRatio*c.Metrics.RMS {
				ok = true
				break
			}
		}
		if !ok {
			return false, "rex below rms threshold"
		}
	case equation.FamilyCEST, equation.FamilyR1rho:
		if len(v.ShiftPair) == 2 {
			a, b := v.ShiftPair[0], v.ShiftPair[1]
			for id := range c.Map {
				local = c.Map.Gather(c.Params, id, local)
				if math.Abs(local[b]-local[a]) < opts.DeltaABDiff {
					return false, "states closer than deltaABdiff"
				}
			}
		}
	}

	if c.Replicates == nil {
		return true, ""
	}

	kex := slices.Index(v.ParNames, "Kex")
	for _, s := range c.exchangeSlots() {
		samples := finite(c.Replicates[s.global])
		if s.local == kex && len(samples) > 1 {
			if c.Params[s.global] < stat.StdDev(samples, nil) {
				return false, "kex below its bootstrap deviation"
			}
		}
		if !TTest(samples, opts.Alpha) {
			return false, fmt.Sprintf("%s not distinct from zero", v.ParNames[s.local])
		}
	}
	for _, p := range c.shiftPairs() {
		if !TTest(shiftDiffs(c.Replicates[p[0]], c.Replicates[p[1]]), opts.Alpha) {
			return false, "site shifts not distinct"
		}
	}

	return true, ""
}

func (c *Candidate) field(id int) float64 {
	if id < len(c.Fields) {
		return c.Fields[id]
	}

	return 0
}

type slot struct{ local, global int }

// exchangeSlots lists the distinct global slots of the variant's exchange
// parameters across all map rows.
func (c *Candidate) exchangeSlots() []slot {
	seen := map[int]bool{}
	var out []slot
	for _, row := range c.Map {
		for _, j := range c.Variant.ExchangePars {
			g := row[j]
			if !seen[g] {
				seen[g] = true
				out = append(out, slot{local: j, global: g})
			}
		}
	}

	return out
}

// shiftPairs lists the distinct global (site A, site B) shift slot pairs
// across all map rows.
func (c *Candidate) shiftPairs() [][2]int {
	if len(c.Variant.ShiftPair) != 2 {
		return nil
	}
	a, b := c.Variant.ShiftPair[0], c.Variant.ShiftPair[1]
	seen := map[[2]int]bool{}
	var out [][2]int
	for _, row := range c.Map {
		p := [2]int{row[a], row[b]}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}

	return out
}

// shiftDiffs returns the finite per-replicate differences b - a.
func shiftDiffs(a, b []float64) []float64 {
	out := make([]float64, 0, len(a))
	for j := range a {
		if j >= len(b) {
			break
		}
		d := b[j] - a[j]
		if !math.IsNaN(d) && !math.IsInf(d, 0) {
			out = append(out, d)
		}
	}

	return out
}

func finite(x []float64) []float64 {
	out := make([]float64, 0, len(x))
	for _, v := range x {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out = append(out, v)
		}
	}

	return out
}

// TTest reports whether a two-sided one-sample Student's t-test rejects a
// zero mean for samples at significance alpha. Fewer than two samples never
// reject.
func TTest(samples []float64, alpha float64) bool {
	return TTestP(samples) < alpha
}

// TTestP returns the two-sided p-value of a one-sample t-test against zero.
func TTestP(samples []float64) float64 {
	n := len(samples)
	if n < 2 {
		return 1
	}

	mean, sd := stat.MeanStdDev(samples, nil)
	if sd == 0 {
		if mean == 0 {
			return 1
		}

		return 0
	}

	t := mean / (sd / math.Sqrt(float64(n)))
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(n - 1)}

	return 2 * dist.Survival(math.Abs(t))
}
