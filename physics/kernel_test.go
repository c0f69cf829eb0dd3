package physics

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nanalysis/ringfit/errs"
)

func TestKernelRelax(t *testing.T) {
	k := NewKernel()

	t.Run("cached per rounded field", func(t *testing.T) {
		a, err := k.Relax(600.13e6, ElementH, ElementN)
		require.NoError(t, err)
		b, err := k.Relax(599.9e6, ElementH, ElementN)
		require.NoError(t, err)
		require.Same(t, a, b)
		require.Equal(t, 1, k.Cache().Len())

		c, err := k.Relax(800e6, ElementH, ElementN)
		require.NoError(t, err)
		require.NotSame(t, a, c)
		require.Equal(t, 2, k.Cache().Len())
	})

	t.Run("typical protein rates", func(t *testing.T) {
		rc, err := k.Relax(600e6, ElementH, ElementN)
		require.NoError(t, err)
		require.Len(t, rc.W, 5)

		j := rc.JValues(5e-9)
		r1 := rc.R1(j)
		r2 := rc.R2(j, 0)
		noe := rc.NOE(j)
		require.Greater(t, r1, 1.0)
		require.Less(t, r1, 3.0)
		require.Greater(t, r2, 5.0)
		require.Less(t, r2, 15.0)
		require.Greater(t, noe, 0.5)
		require.Less(t, noe, 0.95)
		require.InDelta(t, r2+3, rc.R2(j, 3), 1e-12)
		require.Greater(t, rc.SigmaSI(j), 0.0)
	})

	t.Run("rho ratios agree for rigid rotor", func(t *testing.T) {
		rc, err := k.Relax(600e6, ElementH, ElementN)
		require.NoError(t, err)
		j := rc.JValues(8e-9)
		r1, r2, noe := rc.R1(j), rc.R2(j, 0), rc.NOE(j)
		exp := rc.RhoExp(r1, r2, noe, j)
		require.Greater(t, exp, 0.0)
		require.Greater(t, rc.RhoPred(j), 1.0)
		errEst := rc.RhoExpError(r1, r2, noe, j, 0.02*r1, 0.02*r2, 0.02, exp)
		require.Greater(t, errEst, 0.0)
	})

	t.Run("R2/R1 grows with tau", func(t *testing.T) {
		rc, err := k.Relax(600e6, ElementH, ElementN)
		require.NoError(t, err)
		prev := 1.0
		for _, tau := range []float64{2e-9, 5e-9, 10e-9, 20e-9} {
			r := rc.R2R1Ratio(tau)
			require.Greater(t, r, prev)
			prev = r
		}
	})

	t.Run("deuterium", func(t *testing.T) {
		rc, err := k.Relax(600e6, ElementD, ElementC)
		require.NoError(t, err)
		require.Len(t, rc.W, 3)
		j := rc.JValues(5e-9)
		require.Greater(t, rc.R2D(j), rc.R1D(j))
		require.Greater(t, rc.RQD(j), 0.0)
		require.Greater(t, rc.RapD(j), 0.0)
	})

	t.Run("rejects bad input", func(t *testing.T) {
		_, err := k.Relax(0, ElementH, ElementN)
		require.ErrorIs(t, err, errs.ErrInvalidPhysicalParameter)
		_, err = k.Relax(600e6, Element("X"), ElementN)
		require.ErrorIs(t, err, errs.ErrInvalidPhysicalParameter)
		_, err = k.Relax(600e6, ElementN, ElementN)
		require.ErrorIs(t, err, errs.ErrInvalidPhysicalParameter)
	})
}

func TestKernelInvalidation(t *testing.T) {
	k := NewKernel()
	before, err := k.Relax(600e6, ElementH, ElementN)
	require.NoError(t, err)

	t.Run("bond length", func(t *testing.T) {
		require.NoError(t, k.SetBondLength(ElementH, ElementN, 1.04e-10))
		require.Equal(t, 0, k.Cache().Len())

		after, err := k.Relax(600e6, ElementH, ElementN)
		require.NoError(t, err)
		require.NotSame(t, before, after)
		require.Less(t, after.D2, before.D2)

		r, err := k.BondLength(ElementN, ElementH)
		require.NoError(t, err)
		require.Equal(t, 1.04e-10, r)
	})

	t.Run("csa", func(t *testing.T) {
		_, err := k.Relax(600e6, ElementH, ElementN)
		require.NoError(t, err)
		require.NoError(t, k.SetCSA(ElementN, -160e-6))
		require.Equal(t, 0, k.Cache().Len())
		require.Equal(t, -160e-6, k.CSA(ElementN))
		require.Equal(t, DefaultCSA, k.CSA(ElementH))
	})

	t.Run("invalid updates leave the cache alone", func(t *testing.T) {
		_, err := k.Relax(600e6, ElementH, ElementN)
		require.NoError(t, err)
		require.Error(t, k.SetBondLength(ElementH, ElementN, -1))
		require.Error(t, k.SetCSA(Element("Q"), 1))
		require.Equal(t, 1, k.Cache().Len())
	})
}

func TestRelaxCacheConcurrent(t *testing.T) {
	c := NewRelaxCache()
	var wg sync.WaitGroup
	results := make([]*RelaxConstants, 16)
	errList := make([]error, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rc, err := c.LoadOrStore(500e6, ElementH, ElementN, func() (*RelaxConstants, error) {
				return newRelaxConstants(500e6, ElementH, ElementN, BondHN, DefaultCSA)
			})
			results[i], errList[i] = rc, err
		}(i)
	}
	wg.Wait()

	for _, err := range errList {
		require.NoError(t, err)
	}
	for _, rc := range results[1:] {
		require.Same(t, results[0], rc)
	}
	require.Equal(t, 1, c.Len())
}
