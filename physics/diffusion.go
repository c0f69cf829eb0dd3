package physics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/nanalysis/ringfit/errs"
)

// DiffusionType is the symmetry of a rotational diffusion tensor.
type DiffusionType uint8

const (
	Isotropic   DiffusionType = 0x1 // Isotropic is a spherical rotor.
	Prolate     DiffusionType = 0x2 // Prolate has Dxx = Dyy < Dzz.
	Oblate      DiffusionType = 0x3 // Oblate has Dxx < Dyy = Dzz.
	Anisotropic DiffusionType = 0x4 // Anisotropic has three distinct axes.
)

func (d DiffusionType) String() string {
	switch d {
	case Isotropic:
		return "Isotropic"
	case Prolate:
		return "Prolate"
	case Oblate:
		return "Oblate"
	case Anisotropic:
		return "Anisotropic"
	default:
		return "Unknown"
	}
}

// NDiffusionPars is the number of independent tensor components.
func (d DiffusionType) NDiffusionPars() int {
	switch d {
	case Prolate, Oblate:
		return 2
	case Anisotropic:
		return 3
	default:
		return 1
	}
}

// NAnglePars is the number of Euler angles that orient the tensor.
func (d DiffusionType) NAnglePars() int {
	switch d {
	case Prolate, Oblate:
		return 2
	case Anisotropic:
		return 3
	default:
		return 0
	}
}

// DiffusionPars holds the decomposition of a diffusion tensor into decay
// rates (DDiff) and bond-vector dependent weights (A).
type DiffusionPars struct {
	Type  DiffusionType
	DDiff []float64
	A     []float64
}

// NewDiffusionPars builds the decomposition for the diagonal tensor d, the
// rotation vt (transpose of the tensor frame rotation) and the unit bond
// vector v.
//
// Isotropic tensors produce a single term with rate 6*Diso and weight 1.
func NewDiffusionPars(t DiffusionType, d [3]float64, vt mat.Matrix, v [3]float64) (*DiffusionPars, error) {
	if err := CheckPositive("diffusion tensor component", d[0], d[1], d[2]); err != nil {
		return nil, err
	}

	dx, dy, dz := d[0], d[1], d[2]
	p := &DiffusionPars{Type: t}

	if t == Isotropic {
		p.DDiff = []float64{2 * (dx + dy + dz)}
		p.A = []float64{1}

		return p, nil
	}

	if vt == nil {
		return nil, fmt.Errorf("%w: rotation required for %s tensor", errs.ErrInvalidPhysicalParameter, t)
	}
	var rv mat.VecDense
	rv.MulVec(vt, mat.NewVecDense(3, v[:]))
	vx2 := rv.AtVec(0) * rv.AtVec(0)
	vy2 := rv.AtVec(1) * rv.AtVec(1)
	vz2 := rv.AtVec(2) * rv.AtVec(2)

	switch t {
	case Anisotropic:
		k0, k1 := dy-dx, dz-dx
		kIso := (dx + dy + dz) / 3.0
		k3 := math.Sqrt(k0*k0 - k0*k1 + k1*k1)
		p.DDiff = []float64{
			4.0*dx + dy + dz,
			dx + 4.0*dy + dz,
			dx + dy + 4.0*dz,
			6.0*kIso + 2.0*k3,
			6.0*kIso - 2.0*k3,
		}
		var delta [3]float64
		if !(k0 <= 1e-12 && k1 <= 1e-12 && k3 <= 1e-12) {
			delta = [3]float64{(-k0 - k1) / k3, (2.0*k0 - k1) / k3, (2.0*k1 - k0) / k3}
		}
		a := make([]float64, 5)
		a[0] = 3.0 * vy2 * vz2
		a[1] = 3.0 * vx2 * vz2
		a[2] = 3.0 * vx2 * vy2
		p1 := 0.25 * (3.0*(vx2*vx2+vy2*vy2+vz2*vz2) - 1.0)
		p2 := (delta[0]*(3*vx2*vx2+2*a[0]-1.0) +
			delta[1]*(3*vy2*vy2+2*a[1]-1.0) +
			delta[2]*(3*vz2*vz2+2*a[2]-1.0)) / 12.0
		a[3] = p1 - p2
		a[4] = p1 + p2
		p.A = a
	case Prolate:
		dPar, dPerp := dz, dx
		p.DDiff = []float64{5.0*dPerp + dPar, 2.0*dPerp + 4.0*dPar, 6.0 * dPerp}
		p.A = axialWeights(vz2)
	case Oblate:
		dPar, dPerp := dx, dz
		p.DDiff = []float64{5.0*dPerp + dPar, 2.0*dPerp + 4.0*dPar, 6.0 * dPerp}
		p.A = axialWeights(vx2)
	default:
		return nil, fmt.Errorf("%w: unknown diffusion type %d", errs.ErrInvalidPhysicalParameter, t)
	}

	return p, nil
}

func axialWeights(c2 float64) []float64 {
	return []float64{
		3.0 * c2 * (1.0 - c2),
		0.75 * (1.0 - c2) * (1.0 - c2),
		0.25 * (3.0*c2 - 1.0) * (3.0*c2 - 1.0),
	}
}

// effective returns tau/(dDiff*tau + 1) for each term.
func (p *DiffusionPars) effective(tau float64) []float64 {
	e := make([]float64, len(p.DDiff))
	for i, d := range p.DDiff {
		e[i] = tau / (d*tau + 1.0)
	}

	return e
}

// df returns dDiff/(dDiff^2 + w^2), or 1/dDiff at w = 0.
func (p *DiffusionPars) df(w2 float64) []float64 {
	out := make([]float64, len(p.DDiff))
	for i, d := range p.DDiff {
		if w2 > 0 {
			out[i] = d / (d*d + w2)
		} else {
			out[i] = 1.0 / d
		}
	}

	return out
}

// Motion describes internal motion on top of overall tumbling.
// TauF and TauS are zero when absent; Sf2 is only used when TauF is set.
type Motion struct {
	S2   float64
	TauF float64
	Sf2  float64
	TauS float64
}

// JDiffusion evaluates the spectral density at w for a tumbling tensor with
// internal motion m. Times are in seconds.
func JDiffusion(p *DiffusionPars, w float64, m Motion) float64 {
	w2 := w * w
	df := p.df(w2)

	var eF, eS []float64
	if m.TauF > 0 {
		eF = p.effective(m.TauF)
	}
	if m.TauS > 0 {
		eS = p.effective(m.TauS)
	}

	sum := 0.0
	for i := range p.DDiff {
		a := p.A[i]
		v := m.S2 * df[i] * a
		switch {
		case eF != nil && eS != nil:
			v += (m.Sf2 - m.S2) * eS[i] * a / (1.0 + w2*eS[i]*eS[i])
			v += (1.0 - m.Sf2) * eF[i] * a / (1.0 + w2*eF[i]*eF[i])
		case eF != nil && m.Sf2 > 0:
			v += (m.Sf2 - m.S2) * eF[i] * a / (1.0 + w2*eF[i]*eF[i])
		case eF != nil:
			v += (1.0 - m.S2) * eF[i] * a / (1.0 + w2*eF[i]*eF[i])
		}
		sum += v
	}

	return 0.4 * sum
}

// RotationVT returns the transpose of the ZYZ Euler rotation
// Rz(alpha) Ry(beta) Rz(gamma).
func RotationVT(alpha, beta, gamma float64) *mat.Dense {
	rz := func(a float64) *mat.Dense {
		c, s := math.Cos(a), math.Sin(a)
		return mat.NewDense(3, 3, []float64{c, -s, 0, s, c, 0, 0, 0, 1})
	}
	cb, sb := math.Cos(beta), math.Sin(beta)
	ry := mat.NewDense(3, 3, []float64{cb, 0, sb, 0, 1, 0, -sb, 0, cb})

	var r, tmp mat.Dense
	tmp.Mul(ry, rz(gamma))
	r.Mul(rz(alpha), &tmp)

	var vt mat.Dense
	vt.CloneFrom(r.T())

	return &vt
}
