package parmap

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nanalysis/ringfit/dataset"
	"github.com/nanalysis/ringfit/errs"
)

// two residues at two fields, one temperature and nucleus
var (
	testCount  = [dataset.NumDims]int{2, 2, 1, 1}
	testStates = []dataset.State{{0, 0, 0, 0}, {0, 1, 0, 0}, {1, 0, 0, 0}, {1, 1, 0, 0}}
)

func TestIndex(t *testing.T) {
	count := [dataset.NumDims]int{3, 2, 4, 2}
	st := dataset.State{2, 1, 3, 1}
	require.Equal(t, 0, Index(st, count))
	require.Equal(t, 2, Index(st, count, dataset.DimResidue))
	require.Equal(t, 2+1*3, Index(st, count, dataset.DimResidue, dataset.DimField))
	require.Equal(t, 2+1*3+3*6+1*24, Index(st, count, 0, 1, 2, 3))
	require.Equal(t, 1+3*2, Index(st, count, dataset.DimField, dataset.DimTemperature))
}

func TestBuilder(t *testing.T) {
	t.Run("cpmg fast layout", func(t *testing.T) {
		m, err := NewBuilder(testCount, testStates, 1).
			Masked(dataset.DimResidue, dataset.DimField).
			Masked(dataset.DimResidue, dataset.DimNucleus).
			Map()
		require.NoError(t, err)
		require.Equal(t, Map{{0, 1, 2}, {0, 3, 2}, {0, 4, 5}, {0, 6, 5}}, m)
		require.Equal(t, 7, m.NPars())
		require.NoError(t, m.Validate(1))
	})

	t.Run("residue is always part of the key", func(t *testing.T) {
		m, err := NewBuilder(testCount, testStates, 0).Masked().Map()
		require.NoError(t, err)
		require.Equal(t, Map{{0}, {0}, {1}, {1}}, m)

		m, err = NewBuilder(testCount, testStates, 0).Masked(dataset.DimField).Map()
		require.NoError(t, err)
		require.Equal(t, Map{{0}, {1}, {2}, {3}}, m)
	})

	t.Run("tied slots share an index", func(t *testing.T) {
		m, err := NewBuilder(testCount, testStates, 2).
			Layout([]int{dataset.DimResidue}, 2, 3, 4, 4, 5, 6).
			Map()
		require.NoError(t, err)
		require.Equal(t, []int{0, 1, 2, 3, 4, 4, 5, 6}, m[0])
		require.Equal(t, m[0], m[1])
		require.Equal(t, []int{0, 1, 7, 8, 9, 9, 10, 11}, m[2])
		require.Equal(t, 12, m.NPars())
	})

	t.Run("invariants", func(t *testing.T) {
		m, err := NewBuilder(testCount, testStates, 1).
			Masked(dataset.DimResidue, dataset.DimField).
			Masked(dataset.DimNucleus).
			Map()
		require.NoError(t, err)

		for a, sa := range testStates {
			for b, sb := range testStates {
				for j := 1; j < len(m[a]); j++ {
					if sa[dataset.DimResidue] != sb[dataset.DimResidue] {
						require.NotEqual(t, m[a][j], m[b][j], "slot %d shared across residues", j)
					}
				}
				if sa[dataset.DimResidue] == sb[dataset.DimResidue] && sa[dataset.DimField] == sb[dataset.DimField] {
					require.Equal(t, m[a][1], m[b][1])
				}
			}
			require.Equal(t, 0, m[a][0])
		}
	})

	t.Run("errors", func(t *testing.T) {
		_, err := NewBuilder(testCount, testStates, 0).Masked(7).Map()
		require.ErrorIs(t, err, errs.ErrMapConstruction)

		_, err = NewBuilder(testCount, nil, 0).Masked().Map()
		require.ErrorIs(t, err, errs.ErrMapConstruction)

		bad := []dataset.State{{0, 2, 0, 0}}
		_, err = NewBuilder(testCount, bad, 0).Masked().Map()
		require.ErrorIs(t, err, errs.ErrMapConstruction)

		_, err = NewBuilder(testCount, testStates, 0).Layout(nil).Map()
		require.ErrorIs(t, err, errs.ErrMapConstruction)
	})
}

func TestMapHelpers(t *testing.T) {
	m := Map{{0, 1, 2}, {0, 3, 2}}

	t.Run("validate", func(t *testing.T) {
		require.NoError(t, m.Validate(1))
		require.ErrorIs(t, Map{{0, 1}, {1, 1}}.Validate(1), errs.ErrMapConstruction)
		require.ErrorIs(t, Map{{0, 1}, {0}}.Validate(1), errs.ErrMapConstruction)
		require.ErrorIs(t, Map{{0, -1}}.Validate(0), errs.ErrMapConstruction)
		require.ErrorIs(t, Map{}.Validate(0), errs.ErrMapConstruction)
	})

	t.Run("gather", func(t *testing.T) {
		global := []float64{10, 20, 30, 40}
		dst := make([]float64, 3)
		require.Equal(t, []float64{10, 40, 30}, m.Gather(global, 1, dst))
	})

	t.Run("owners", func(t *testing.T) {
		require.Equal(t, []Owner{{0, 0}, {0, 1}, {0, 2}, {1, 1}}, m.Owners())
	})
}
