// Package equation is the closed catalogue of dispersion and decay models.
//
// Every model is a Variant: a small struct of pure functions registered by
// name. Variants never hold state, so one registry is shared by every fit,
// bootstrap replicate and goroutine.
package equation

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/nanalysis/ringfit/dataset"
	"github.com/nanalysis/ringfit/errs"
	"github.com/nanalysis/ringfit/parmap"
)

// Family groups variants that fit the same kind of experiment.
type Family string

const (
	FamilyCPMG  Family = "CPMG"
	FamilyCEST  Family = "CEST"
	FamilyR1rho Family = "R1RHO"
	FamilyExp   Family = "EXP"
)

// DefaultCPMGMaxFreq caps the CPMG exchange rate guess and bound, in Hz.
const DefaultCPMGMaxFreq = 2000.0

// DefaultMask keys per-curve rates by residue, field and nucleus.
var DefaultMask = []int{dataset.DimResidue, dataset.DimField, dataset.DimNucleus}

// Data is what guessing and bounding see: the flattened points and the map
// that ties curves to global slots.
type Data struct {
	Points  *dataset.Points
	Map     parmap.Map
	MaxFreq float64 // CPMG only; DefaultCPMGMaxFreq when zero
}

func (d *Data) maxFreq() float64 {
	if d.MaxFreq > 0 {
		return d.MaxFreq
	}

	return DefaultCPMGMaxFreq
}

// Variant is one named model.
//
// Predict evaluates the model for the local parameters of one curve at one
// point. Guess and Bounds return global vectors laid out by the map. MakeMap
// builds that map from the enumerated states. Rex and Kex return the
// exchange contribution and rate for one curve's local parameters; both are
// nil for variants without exchange.
type Variant struct {
	Name     string
	Family   Family
	ParNames []string
	NGroup   int

	// HasExchange is false for the models the selector falls back to.
	HasExchange bool
	// Fallback names the exchange-free variant of the same family.
	Fallback string
	// ExchangePars are the local slots tested against zero by the selector.
	ExchangePars []int
	// ShiftPair holds the local slots of the site A and site B shifts of a
	// two-site offset model. The selector gates and tests their difference;
	// nil for the other families.
	ShiftPair []int

	Predict func(local, x []float64, field float64) (float64, error)
	Guess   func(d *Data) ([]float64, error)
	Bounds  func(d *Data, guess []float64) (lower, upper []float64, err error)
	MakeMap func(count [dataset.NumDims]int, states []dataset.State, mask []int) (parmap.Map, error)
	Rex     func(local []float64, field float64) float64
	Kex     func(local []float64) float64
}

// NLocal returns the number of local parameter slots per curve.
func (v *Variant) NLocal() int {
	return len(v.ParNames)
}

// Evaluate predicts every point of p from the global parameter vector and
// writes into dst, which is allocated when too short.
func (v *Variant) Evaluate(global []float64, m parmap.Map, p *dataset.Points, dst []float64) ([]float64, error) {
	n := p.Len()
	if cap(dst) < n {
		dst = make([]float64, n)
	}
	dst = dst[:n]

	local := make([]float64, v.NLocal())
	lastID := -1
	for i := 0; i < n; i++ {
		id := p.ID[i]
		if id < 0 || id >= len(m) {
			return nil, fmt.Errorf("%w: curve %d has no map row", errs.ErrMapConstruction, id)
		}
		if id != lastID {
			local = m.Gather(global, id, local)
			lastID = id
		}
		y, err := v.Predict(local, p.X[i], p.Field[i])
		if err != nil {
			return nil, err
		}
		dst[i] = y
	}

	return dst, nil
}

var registry = map[string]*Variant{}

func register(vs ...*Variant) {
	for _, v := range vs {
		key := strings.ToUpper(v.Name)
		if _, dup := registry[key]; dup {
			panic("equation: duplicate variant " + v.Name)
		}
		registry[key] = v
	}
}

// Lookup returns the variant registered under name, ignoring case.
func Lookup(name string) (*Variant, error) {
	v, ok := registry[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", errs.ErrUnknownEquation, name)
	}

	return v, nil
}

// Names returns every registered variant name, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for _, v := range registry {
		names = append(names, v.Name)
	}
	sort.Strings(names)

	return names
}

// ByFamily returns the variants of family f sorted by name.
func ByFamily(f Family) []*Variant {
	var vs []*Variant
	for _, v := range registry {
		if v.Family == f {
			vs = append(vs, v)
		}
	}
	sort.Slice(vs, func(i, j int) bool { return vs[i].Name < vs[j].Name })

	return vs
}

// accumulator averages per-curve estimates that land in the same global slot.
type accumulator struct {
	sum []float64
	n   []int
}

func newAccumulator(size int) *accumulator {
	return &accumulator{sum: make([]float64, size), n: make([]int, size)}
}

func (a *accumulator) add(row []int, local []float64) {
	for j, g := range row {
		if math.IsNaN(local[j]) {
			continue
		}
		a.sum[g] += local[j]
		a.n[g]++
	}
}

func (a *accumulator) values() ([]float64, error) {
	out := make([]float64, len(a.sum))
	for g := range out {
		if a.n[g] == 0 {
			return nil, fmt.Errorf("%w: no estimate for parameter %d", errs.ErrInsufficientData, g)
		}
		out[g] = a.sum[g] / float64(a.n[g])
	}

	return out, nil
}

// envelope merges per-curve bounds of shared slots into their union.
type envelope struct {
	lo, hi []float64
}

func newEnvelope(size int) *envelope {
	e := &envelope{lo: make([]float64, size), hi: make([]float64, size)}
	for g := range e.lo {
		e.lo[g] = math.Inf(1)
		e.hi[g] = math.Inf(-1)
	}

	return e
}

func (e *envelope) add(row []int, lo, hi []float64) {
	for j, g := range row {
		e.lo[g] = math.Min(e.lo[g], lo[j])
		e.hi[g] = math.Max(e.hi[g], hi[j])
	}
}

func (e *envelope) bounds() ([]float64, []float64, error) {
	for g := range e.lo {
		if math.IsInf(e.lo[g], 1) || math.IsNaN(e.lo[g]) || math.IsNaN(e.hi[g]) {
			return nil, nil, fmt.Errorf("%w: no bounds for parameter %d", errs.ErrInsufficientData, g)
		}
		if e.hi[g] <= e.lo[g] {
			e.hi[g] = e.lo[g] + math.Max(1e-6, math.Abs(e.lo[g])*1e-3)
		}
	}

	return e.lo, e.hi, nil
}

// perCurve runs fn for every curve of d with the curve's local guess and
// returns the merged global result.
func perCurveGuess(d *Data, nLocal int, fn func(id int, local []float64) error) ([]float64, error) {
	if d.Points == nil || len(d.Map) == 0 {
		return nil, fmt.Errorf("%w: no curves", errs.ErrInsufficientData)
	}

	acc := newAccumulator(d.Map.NPars())
	local := make([]float64, nLocal)
	for id, row := range d.Map {
		if len(d.Points.Indices(id)) == 0 {
			continue
		}
		for j := range local {
			local[j] = math.NaN()
		}
		if err := fn(id, local); err != nil {
			return nil, err
		}
		acc.add(row, local)
	}

	return acc.values()
}

func perCurveBounds(d *Data, guess []float64, nLocal int, fn func(id int, g, lo, hi []float64) error) ([]float64, []float64, error) {
	if d.Points == nil || len(d.Map) == 0 {
		return nil, nil, fmt.Errorf("%w: no curves", errs.ErrInsufficientData)
	}
	if len(guess) != d.Map.NPars() {
		return nil, nil, fmt.Errorf("%w: guess has %d values for %d parameters", errs.ErrMapConstruction, len(guess), d.Map.NPars())
	}

	env := newEnvelope(len(guess))
	g := make([]float64, nLocal)
	lo := make([]float64, nLocal)
	hi := make([]float64, nLocal)
	for id, row := range d.Map {
		if len(d.Points.Indices(id)) == 0 {
			continue
		}
		g = d.Map.Gather(guess, id, g)
		if err := fn(id, g, lo, hi); err != nil {
			return nil, nil, err
		}
		env.add(row, lo, hi)
	}

	return env.bounds()
}

// curveInfo returns the field and the first point of curve id.
func curveInfo(p *dataset.Points, id int) (field float64, first []float64) {
	idx := p.Indices(id)
	if len(idx) == 0 {
		return 0, nil
	}

	return p.Field[idx[0]], p.X[idx[0]]
}

// cover widens [lo, hi] until it holds g.
func cover(lo, hi, g float64) (float64, float64) {
	if g > hi {
		hi = 2 * g
	}
	if g < lo {
		lo = g / 2
		if g < 0 {
			lo = 2 * g
		}
	}

	return lo, hi
}
