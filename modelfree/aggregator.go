package modelfree

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distmv"

	"github.com/nanalysis/ringfit/errs"
)

// nFreq is the number of mapped frequencies per experiment: J(0), J(0.87 wH)
// and J(wN).
const nFreq = 3

// Each row picks, for every experiment slot, which experiment's value is
// used. Across a table every experiment appears exactly len(table) times.
var (
	selections2 = [][]int{{0, 0}, {0, 1}, {1, 1}}
	selections3 = [][]int{
		{0, 1, 2}, {1, 1, 2}, {0, 0, 2}, {2, 1, 2}, {0, 1, 0}, {0, 2, 2}, {0, 1, 1},
	}
	selections4 = [][]int{
		{0, 1, 2, 3},
		{0, 0, 2, 3}, {0, 1, 0, 3}, {0, 1, 2, 0},
		{1, 1, 2, 3}, {0, 1, 1, 3}, {0, 1, 2, 1},
		{2, 1, 2, 3}, {0, 2, 2, 3}, {0, 1, 2, 2},
		{3, 1, 2, 3}, {0, 3, 2, 3}, {0, 1, 3, 3},
		{0, 0, 1, 1}, {0, 0, 2, 2}, {0, 0, 3, 3},
		{1, 1, 2, 2}, {1, 1, 3, 3},
		{2, 2, 3, 3},
	}
)

// Aggregator enumerates leave-one-out/duplicate resampling patterns over
// nExp experiments and the three mapped frequencies. Every pattern picks one
// selection row per frequency, giving N = rows³ patterns in total.
type Aggregator struct {
	nExp  int
	table [][]int
}

// NewAggregator supports 2, 3 or 4 experiments.
func NewAggregator(nExp int) (*Aggregator, error) {
	var table [][]int
	switch nExp {
	case 2:
		table = selections2
	case 3:
		table = selections3
	case 4:
		table = selections4
	default:
		return nil, fmt.Errorf("%w: bootstrap aggregation needs 2 to 4 experiments, got %d", errs.ErrInsufficientData, nExp)
	}

	return &Aggregator{nExp: nExp, table: table}, nil
}

// NExp is the number of experiments.
func (a *Aggregator) NExp() int { return a.nExp }

// N is the number of patterns.
func (a *Aggregator) N() int {
	n := len(a.table)

	return n * n * n
}

// Selections returns the selection row for each frequency of pattern i.
func (a *Aggregator) Selections(i int) [nFreq][]int {
	n := len(a.table)

	return [nFreq][]int{a.table[i/(n*n)], a.table[(i%(n*n))/n], a.table[i%n]}
}

// Counts returns how often each J value, indexed exp*3+freq, is used by
// pattern i.
func (a *Aggregator) Counts(i int) []int {
	counts := make([]int, a.nExp*nFreq)
	sel := a.Selections(i)
	for f := 0; f < nFreq; f++ {
		for e := 0; e < a.nExp; e++ {
			counts[sel[f][e]*nFreq+f]++
		}
	}

	return counts
}

// Weights is Counts as float64, ready to weight a non-averaged JSet.
func (a *Aggregator) Weights(i int) []float64 {
	counts := a.Counts(i)
	w := make([]float64, len(counts))
	for k, c := range counts {
		w[k] = float64(c)
	}

	return w
}

// TotalUse sums Counts over all patterns.
func (a *Aggregator) TotalUse() []int {
	total := make([]int, a.nExp*nFreq)
	for i := 0; i < a.N(); i++ {
		for k, c := range a.Counts(i) {
			total[k] += c
		}
	}

	return total
}

// Uniform reports whether every J value is used exactly N times over all
// patterns, so the aggregate is unbiased.
func (a *Aggregator) Uniform() bool {
	n := a.N()
	for _, c := range a.TotalUse() {
		if c != n {
			return false
		}
	}

	return true
}

// DirichletWeights draws Bayesian bootstrap weights for nExp experiments:
// for each frequency the experiment weights follow Dirichlet(1,…,1) scaled
// by nExp, so each weight has expectation 1. The layout matches Counts.
func DirichletWeights(src rand.Source, nExp int) []float64 {
	alpha := make([]float64, nExp)
	for i := range alpha {
		alpha[i] = 1
	}
	d := distmv.NewDirichlet(alpha, src)

	w := make([]float64, nExp*nFreq)
	draw := make([]float64, nExp)
	for f := 0; f < nFreq; f++ {
		d.Rand(draw)
		for e, v := range draw {
			w[e*nFreq+f] = v * float64(nExp)
		}
	}

	return w
}
