package physics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/nanalysis/ringfit/errs"
)

// TwoSite holds the parameters of a two-site exchange model A <-> B.
// Chemical shifts are in ppm and rates in s^-1.
type TwoSite struct {
	Kex     float64 // kAB + kBA
	Pb      float64 // population of the minor state
	DeltaA0 float64 // ppm
	DeltaB0 float64 // ppm
	R1A     float64
	R1B     float64
	R2A     float64
	R2B     float64
}

// Validate rejects negative rates and populations outside [0, 1].
func (p TwoSite) Validate() error {
	if err := CheckNonNegative("kex", p.Kex); err != nil {
		return err
	}
	if err := CheckFraction("pb", p.Pb); err != nil {
		return err
	}
	if math.IsNaN(p.DeltaA0) || math.IsNaN(p.DeltaB0) {
		return fmt.Errorf("%w: chemical shift is NaN", errs.ErrInvalidPhysicalParameter)
	}

	return CheckNonNegative("relaxation rate", p.R1A, p.R1B, p.R2A, p.R2B)
}

// Point is one sample of an offset experiment (CEST or R1rho).
type Point struct {
	Offset float64 // irradiation offset, ppm
	B1     float64 // spin-lock or saturation field, Hz
	Tex    float64 // irradiation time, s
	Field  float64 // Larmor frequency of the observed nucleus, MHz
}

// Exchange is a TwoSite model evaluated at one Point with all frequencies in
// rad/s.
type Exchange struct {
	Kex    float64
	Pa     float64
	Pb     float64
	DeltaA float64 // offset of state A from the carrier
	DeltaB float64 // offset of state B from the carrier
	Omega1 float64 // B1 field
	R1A    float64
	R1B    float64
	R2A    float64
	R2B    float64
}

// At converts the ppm based parameters into angular offsets for pt.
func (p TwoSite) At(pt Point) Exchange {
	return Exchange{
		Kex:    p.Kex,
		Pa:     1.0 - p.Pb,
		Pb:     p.Pb,
		DeltaA: (p.DeltaA0 - pt.Offset) * pt.Field * TwoPi,
		DeltaB: (p.DeltaB0 - pt.Offset) * pt.Field * TwoPi,
		Omega1: pt.B1 * TwoPi,
		R1A:    p.R1A,
		R1B:    p.R1B,
		R2A:    p.R2A,
		R2B:    p.R2B,
	}
}

// OmegaBar is the population weighted average offset.
func (e Exchange) OmegaBar() float64 {
	return e.Pa*e.DeltaA + e.Pb*e.DeltaB
}

// Dw is the shift difference between the two states.
func (e Exchange) Dw() float64 {
	return e.DeltaB - e.DeltaA
}

// effective returns the squared effective fields of the average, A and B
// frames.
func (e Exchange) effective() (we2, weA2, weB2 float64) {
	w2 := e.Omega1 * e.Omega1
	ob := e.OmegaBar()
	we2 = w2 + ob*ob
	weA2 = w2 + e.DeltaA*e.DeltaA
	weB2 = w2 + e.DeltaB*e.DeltaB

	return we2, weA2, weB2
}

// BlochMcConnell6 builds the 6x6 relaxation, precession and exchange matrix
// acting on (Ax, Ay, Az, Bx, By, Bz). The thermal equilibrium terms are
// omitted.
func BlochMcConnell6(e Exchange) *mat.Dense {
	k1 := e.Pb * e.Kex
	km1 := e.Pa * e.Kex
	m := mat.NewDense(6, 6, nil)

	for _, blk := range []struct {
		off          int
		r1, r2, dlt  float64
		kOut, kIn    float64
		partnerBlock int
	}{
		{0, e.R1A, e.R2A, e.DeltaA, k1, km1, 3},
		{3, e.R1B, e.R2B, e.DeltaB, km1, k1, 0},
	} {
		o := blk.off
		m.Set(o, o, -blk.r2-blk.kOut)
		m.Set(o, o+1, -blk.dlt)
		m.Set(o+1, o, blk.dlt)
		m.Set(o+1, o+1, -blk.r2-blk.kOut)
		m.Set(o+1, o+2, -e.Omega1)
		m.Set(o+2, o+1, e.Omega1)
		m.Set(o+2, o+2, -blk.r1-blk.kOut)
		for i := 0; i < 3; i++ {
			m.Set(o+i, blk.partnerBlock+i, blk.kIn)
		}
	}

	return m
}

// BlochMcConnell7 builds the 7x7 matrix used for CEST. Row and column 0 carry
// the thermal equilibrium magnetization, followed by (Ax, Ay, Az, Bx, By, Bz).
func BlochMcConnell7(e Exchange) *mat.Dense {
	m6 := BlochMcConnell6(e)
	m := mat.NewDense(7, 7, nil)
	m.Slice(1, 7, 1, 7).(*mat.Dense).Copy(m6)
	m.Set(3, 0, 2*e.R1A*e.Pa)
	m.Set(6, 0, 2*e.R1B*e.Pb)

	return m
}
