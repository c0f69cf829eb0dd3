package dataset

import (
	"math"
	"sort"
)

// Points is the flattened per-point view of an experiment that equations,
// the fit engine and the bootstrap operate on. X[i] holds the independent
// variables of point i and ID[i] its curve id.
type Points struct {
	X     [][]float64
	Y     []float64
	Err   []float64
	ID    []int
	Field []float64
}

// Len returns the number of points.
func (p *Points) Len() int {
	return len(p.Y)
}

// Indices returns the positions of the points of curve id.
func (p *Points) Indices(id int) []int {
	var idx []int
	for i, v := range p.ID {
		if v == id {
			idx = append(idx, i)
		}
	}

	return idx
}

// NumIDs returns one more than the largest curve id.
func (p *Points) NumIDs() int {
	n := 0
	for _, id := range p.ID {
		if id+1 > n {
			n = id + 1
		}
	}

	return n
}

// Subset returns the points at idx, in that order. Rows are shared, not copied.
func (p *Points) Subset(idx []int) *Points {
	s := &Points{
		X:     make([][]float64, len(idx)),
		Y:     make([]float64, len(idx)),
		Err:   make([]float64, len(idx)),
		ID:    make([]int, len(idx)),
		Field: make([]float64, len(idx)),
	}
	for j, i := range idx {
		s.X[j] = p.X[i]
		s.Y[j] = p.Y[i]
		s.Err[j] = p.Err[i]
		s.ID[j] = p.ID[i]
		s.Field[j] = p.Field[i]
	}

	return s
}

// WithY returns a copy sharing X, Err, ID and Field but holding y.
func (p *Points) WithY(y []float64) *Points {
	cp := *p
	cp.Y = y

	return &cp
}

// Series returns the x values of row r and the y values of curve id, sorted
// by x.
func (p *Points) Series(id, r int) (x, y []float64) {
	idx := p.Indices(id)
	sort.SliceStable(idx, func(a, b int) bool { return p.X[idx[a]][r] < p.X[idx[b]][r] })
	x = make([]float64, len(idx))
	y = make([]float64, len(idx))
	for j, i := range idx {
		x[j] = p.X[i][r]
		y[j] = p.Y[i]
	}

	return x, y
}

// Stats holds simple summaries of one curve used by the guessers.
type Stats struct {
	Min, Max, Mean float64
	N              int
}

// CurveStats summarizes the y values of curve id.
func (p *Points) CurveStats(id int) Stats {
	s := Stats{Min: math.Inf(1), Max: math.Inf(-1)}
	sum := 0.0
	for i, v := range p.ID {
		if v != id {
			continue
		}
		y := p.Y[i]
		s.Min = math.Min(s.Min, y)
		s.Max = math.Max(s.Max, y)
		sum += y
		s.N++
	}
	if s.N > 0 {
		s.Mean = sum / float64(s.N)
	}

	return s
}

// MidValue returns the x at which curve id crosses half way between its
// minimum and maximum, interpolating linearly between the nearest points
// above and below the crossing.
func (p *Points) MidValue(id, r int) float64 {
	s := p.CurveStats(id)

	return p.crossing(id, r, (s.Max+s.Min)/2)
}

// MidValueZero is MidValue measured from zero: the crossing of max/2.
func (p *Points) MidValueZero(id, r int) float64 {
	s := p.CurveStats(id)

	return p.crossing(id, r, s.Max/2)
}

func (p *Points) crossing(id, r int, hh float64) float64 {
	x, y := p.Series(id, r)
	if len(x) == 0 {
		return 0
	}

	loX, hiX := x[0], x[len(x)-1]
	loD, hiD := math.Inf(1), math.Inf(1)
	loY, hiY := hh, hh
	for i := range y {
		d := y[i] - hh
		if d < 0 && -d < loD {
			loD, loX, loY = -d, x[i], y[i]
		}
		if d >= 0 && d < hiD {
			hiD, hiX, hiY = d, x[i], y[i]
		}
	}
	if math.IsInf(loD, 1) {
		return hiX
	}
	if math.IsInf(hiD, 1) || hiY == loY {
		return loX
	}

	return loX + (hh-loY)*(hiX-loX)/(hiY-loY)
}
