// Package parmap builds parameter maps: for every curve, the global index of
// each of its local parameter slots.
//
// Group slots (0..nGroup-1) are shared by every curve. Every other slot is
// keyed by the curve state restricted to a mask of state dimensions, so curves
// with equal masked states share the slot. The residue dimension is always part
// of the key: non-group slots are never shared across residues.
package parmap

import (
	"fmt"

	"github.com/nanalysis/ringfit/dataset"
	"github.com/nanalysis/ringfit/errs"
)

// Index returns the mixed-radix index of state restricted to the dimensions in
// mask. With an empty mask the index is 0.
func Index(state dataset.State, count [dataset.NumDims]int, mask ...int) int {
	idx := 0
	mult := 1
	for _, d := range mask {
		idx += state[d] * mult
		mult *= count[d]
	}

	return idx
}

// Map holds one row per curve id; Map[id][slot] is a global parameter index.
type Map [][]int

// NPars returns the size of the global parameter vector.
func (m Map) NPars() int {
	n := 0
	for _, row := range m {
		for _, v := range row {
			if v+1 > n {
				n = v + 1
			}
		}
	}

	return n
}

// Validate checks that rows have equal width, every entry indexes the global
// vector and group slots are identical across rows.
func (m Map) Validate(nGroup int) error {
	if len(m) == 0 {
		return fmt.Errorf("%w: empty map", errs.ErrMapConstruction)
	}
	width := len(m[0])
	if nGroup > width {
		return fmt.Errorf("%w: %d group slots in rows of %d", errs.ErrMapConstruction, nGroup, width)
	}
	n := m.NPars()
	for id, row := range m {
		if len(row) != width {
			return fmt.Errorf("%w: row %d has %d slots, want %d", errs.ErrMapConstruction, id, len(row), width)
		}
		for j, v := range row {
			if v < 0 || v >= n {
				return fmt.Errorf("%w: row %d slot %d index %d out of range", errs.ErrMapConstruction, id, j, v)
			}
			if j < nGroup && v != m[0][j] {
				return fmt.Errorf("%w: group slot %d differs in row %d", errs.ErrMapConstruction, j, id)
			}
		}
	}

	return nil
}

// Gather copies the local parameters of curve id from global into dst and
// returns dst. dst is allocated when it has no room for a full row.
func (m Map) Gather(global []float64, id int, dst []float64) []float64 {
	row := m[id]
	if cap(dst) < len(row) {
		dst = make([]float64, len(row))
	}
	dst = dst[:len(row)]
	for j, g := range row {
		dst[j] = global[g]
	}

	return dst
}

// Owner identifies the first curve and local slot that reference a global index.
type Owner struct {
	Curve int
	Slot  int
}

// Owners returns, for each global index, the first (curve, slot) pair that
// uses it.
func (m Map) Owners() []Owner {
	owners := make([]Owner, m.NPars())
	seen := make([]bool, len(owners))
	for id, row := range m {
		for j, g := range row {
			if !seen[g] {
				seen[g] = true
				owners[g] = Owner{Curve: id, Slot: j}
			}
		}
	}

	return owners
}

// block is a run of local slots keyed by the same mask. Slots with equal rel
// values inside one block share a global index.
type block struct {
	mask []int
	rel  []int
}

// Builder assembles a Map column by column.
type Builder struct {
	count  [dataset.NumDims]int
	states []dataset.State
	nGroup int
	blocks []block
	err    error
}

// NewBuilder starts a map over the given states with nGroup shared slots.
func NewBuilder(count [dataset.NumDims]int, states []dataset.State, nGroup int) *Builder {
	b := &Builder{count: count, states: states, nGroup: nGroup}
	if nGroup < 0 {
		b.err = fmt.Errorf("%w: negative group count %d", errs.ErrMapConstruction, nGroup)
	}

	return b
}

// Masked appends one slot keyed by the given state dimensions.
func (b *Builder) Masked(mask ...int) *Builder {
	return b.Layout(mask, 0)
}

// Layout appends len(rel) slots keyed by mask. Slots carrying the same rel
// value share a global index, which is how tied parameters (for example equal
// longitudinal rates of both sites) are expressed.
func (b *Builder) Layout(mask []int, rel ...int) *Builder {
	if b.err != nil {
		return b
	}
	if len(rel) == 0 {
		b.err = fmt.Errorf("%w: empty layout", errs.ErrMapConstruction)
		return b
	}

	full := []int{dataset.DimResidue}
	for _, d := range mask {
		if d < 0 || d >= dataset.NumDims {
			b.err = fmt.Errorf("%w: mask dimension %d out of range", errs.ErrMapConstruction, d)
			return b
		}
		if d != dataset.DimResidue {
			full = append(full, d)
		}
	}
	b.blocks = append(b.blocks, block{mask: full, rel: append([]int(nil), rel...)})

	return b
}

type slotKey struct {
	block int
	state int
	rel   int
}

// Map compacts the slots into dense global indices: group slots first, then
// every other slot in order of first appearance scanning curves in id order.
func (b *Builder) Map() (Map, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.states) == 0 {
		return nil, fmt.Errorf("%w: no states", errs.ErrMapConstruction)
	}

	width := b.nGroup
	for _, blk := range b.blocks {
		width += len(blk.rel)
	}

	next := b.nGroup
	index := make(map[slotKey]int)
	m := make(Map, len(b.states))
	for id, st := range b.states {
		for d, v := range st {
			if v < 0 || v >= b.count[d] {
				return nil, fmt.Errorf("%w: curve %d state %v outside counts %v", errs.ErrMapConstruction, id, st, b.count)
			}
		}

		row := make([]int, 0, width)
		for g := 0; g < b.nGroup; g++ {
			row = append(row, g)
		}
		for bi, blk := range b.blocks {
			s := Index(st, b.count, blk.mask...)
			for _, r := range blk.rel {
				k := slotKey{block: bi, state: s, rel: r}
				g, ok := index[k]
				if !ok {
					g = next
					index[k] = g
					next++
				}
				row = append(row, g)
			}
		}
		m[id] = row
	}

	if err := m.Validate(b.nGroup); err != nil {
		return nil, err
	}

	return m, nil
}
