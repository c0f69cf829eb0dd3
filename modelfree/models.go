// Package modelfree fits Lipari-Szabo style spectral density models to
// heteronuclear relaxation data (R1, R2 and NOE at one or more fields).
//
// It provides the isotropic models 1, 1f, 1s, 2s, 2f and 2sf, their scoring
// with optional complexity penalties, reduced spectral density mapping,
// deterministic bootstrap aggregation, Bayesian reweighting, overall
// correlation time estimation and rotational diffusion tensor fitting.
//
// Correlation times are expressed in nanoseconds in every parameter vector;
// frequencies are in rad/s and spectral densities in seconds.
package modelfree

import (
	"fmt"
	"math"
	"slices"

	"github.com/nanalysis/ringfit/errs"
	"github.com/nanalysis/ringfit/physics"
)

const (
	// SlowLimit (ns) separates fast internal motion from slow internal motion.
	SlowLimit = 0.15

	// DefaultTauFraction is the half width of the overall correlation time
	// window, relative to the target value.
	DefaultTauFraction = 0.25

	nano = 1.0e-9

	// fastLimit (ns) below which two internal times are ordered by their
	// order parameters instead.
	fastLimit = 7.0e-3

	rexStart = 2.0
	rexUpper = 100.0
)

// Parameter names.
const (
	ParTau  = "Tau_e"
	ParSf2  = "Sf2"
	ParTauF = "Tau_f"
	ParSs2  = "Ss2"
	ParTauS = "Tau_s"
	ParRex  = "Rex"
)

// StandardPars names the common layout every model maps into with Standard.
var StandardPars = []string{ParTau, ParSf2, ParTauF, ParSs2, ParTauS}

// Model is one isotropic model-free spectral density.
type Model struct {
	Name   string
	Number int
	// Pars names the internal motion parameters, times in ns.
	Pars []string

	// j evaluates the spectral density at w for tauM in seconds.
	j                   func(w, tauM float64, p []float64) float64
	start, lower, upper func(tau float64) []float64
}

var models = []*Model{
	{
		Name: "1", Number: 1,
		Pars: []string{ParSf2},
		j: func(w, tm float64, p []float64) float64 {
			return physics.JModelFree1(w, tm, p[0])
		},
		start: func(float64) []float64 { return []float64{0.9} },
		lower: func(float64) []float64 { return []float64{0} },
		upper: func(float64) []float64 { return []float64{1} },
	},
	{
		Name: "1f", Number: 2,
		Pars: []string{ParSf2, ParTauF},
		j: func(w, tm float64, p []float64) float64 {
			return physics.JModelFree2(w, p[1]*nano, tm, p[0])
		},
		start: func(float64) []float64 { return []float64{0.9, 0.015} },
		lower: func(float64) []float64 { return []float64{0, 0.001} },
		upper: func(float64) []float64 { return []float64{1, SlowLimit} },
	},
	{
		Name: "1s", Number: 3,
		Pars: []string{ParSs2, ParTauS},
		j: func(w, tm float64, p []float64) float64 {
			return physics.JModelFree2(w, p[1]*nano, tm, p[0])
		},
		start: func(tau float64) []float64 { return []float64{0.9, tau / 5} },
		lower: func(float64) []float64 { return []float64{0, SlowLimit} },
		upper: func(tau float64) []float64 { return []float64{1, tau / 2} },
	},
	{
		Name: "2f", Number: 4,
		Pars: []string{ParSf2, ParTauF, ParSs2},
		j: func(w, tm float64, p []float64) float64 {
			return physics.JModelFree3(w, p[1]*nano, tm, p[0]*p[2], p[2])
		},
		start: func(float64) []float64 { return []float64{0.9, 0.015, 0.9} },
		lower: func(float64) []float64 { return []float64{0, 0.001, 0} },
		upper: func(float64) []float64 { return []float64{1, SlowLimit, 1} },
	},
	{
		Name: "2s", Number: 5,
		Pars: []string{ParSf2, ParTauS, ParSs2},
		j: func(w, tm float64, p []float64) float64 {
			return physics.JModelFree3(w, p[1]*nano, tm, p[0]*p[2], p[0])
		},
		start: func(tau float64) []float64 { return []float64{0.9, tau / 5, 0.9} },
		lower: func(float64) []float64 { return []float64{0, SlowLimit, 0} },
		upper: func(tau float64) []float64 { return []float64{1, tau / 2, 1} },
	},
	{
		Name: "2sf", Number: 6,
		Pars: []string{ParSf2, ParTauF, ParSs2, ParTauS},
		j: func(w, tm float64, p []float64) float64 {
			return jFastSlow(w, tm, p[1]*nano, p[3]*nano, p[0], p[2])
		},
		start: func(float64) []float64 { return []float64{0.9, SlowLimit / 5, 0.9, SlowLimit * 5} },
		lower: func(float64) []float64 { return []float64{0, 0.001, 0, SlowLimit} },
		upper: func(tau float64) []float64 { return []float64{1, SlowLimit, 1, tau / 2} },
	},
}

// jFastSlow is the four term density for independent fast (tf, sf2) and slow
// (ts, ss2) internal motions on top of overall tumbling tm.
func jFastSlow(w, tm, tf, ts, sf2, ss2 float64) float64 {
	w2 := w * w
	vM := sf2 * ss2 * tm / (1.0 + w2*tm*tm)
	vMS := sf2 * (1.0 - ss2) * (tm * ts * (tm + ts)) /
		(tm*tm*ts*ts*w2 + (tm+ts)*(tm+ts))
	vMF := (1.0 - sf2) * ss2 * (tm * tf * (tm + tf)) /
		(tm*tm*tf*tf*w2 + (tm+tf)*(tm+tf))
	mfs := tf*(tm+ts) + tm*ts
	vMFS := (1.0 - sf2) * (1.0 - ss2) * (tf * tm * ts * mfs) /
		(tf*tf*tm*tm*ts*ts*w2 + mfs*mfs)

	return 0.4 * (vM + vMS + vMF + vMFS)
}

// LookupModel returns the model registered under name.
func LookupModel(name string) (*Model, error) {
	for _, m := range models {
		if m.Name == name {
			return m, nil
		}
	}

	return nil, fmt.Errorf("%w: model-free model %q", errs.ErrUnknownEquation, name)
}

// ModelNames lists the registered models in order of complexity.
func ModelNames() []string {
	names := make([]string, len(models))
	for i, m := range models {
		names[i] = m.Name
	}

	return names
}

// J evaluates the spectral density at each frequency in w for an overall
// correlation time tauM (ns) and internal parameters p.
func (m *Model) J(w []float64, tauM float64, p []float64) []float64 {
	tm := tauM * nano
	out := make([]float64, len(w))
	for i, v := range w {
		out[i] = m.j(v, tm, p)
	}

	return out
}

// Valid reports whether every internal correlation time is shorter than tauM.
func (m *Model) Valid(tauM float64, p []float64) bool {
	for i, name := range m.Pars {
		if (name == ParTauF || name == ParTauS) && !(p[i] < tauM) {
			return false
		}
	}

	return true
}

// Complexity returns the order parameter term sum|1-S²| and the correlation
// time term sum(log10(tau+0.001)+3) of p.
func (m *Model) Complexity(p []float64) (s, tau float64) {
	for i, name := range m.Pars {
		switch name {
		case ParSf2, ParSs2:
			s += math.Abs(1.0 - p[i])
		case ParTauF, ParTauS:
			tau += math.Log10(p[i]+0.001) + 3.0
		}
	}

	return s, tau
}

// Standard maps tauM and p into the StandardPars layout. Absent order
// parameters are 1 and absent times 0. For 2sf the two motions are swapped
// when the one labelled fast is the slower, or, when both are faster than
// 7 ps, when the slow one has the higher order.
func (m *Model) Standard(tauM float64, p []float64) []float64 {
	out := []float64{tauM, 1, 0, 1, 0}
	for i, name := range m.Pars {
		out[slices.Index(StandardPars, name)] = p[i]
	}

	if m.Name == "2sf" {
		sf2, tf, ss2, ts := out[1], out[2], out[3], out[4]
		swap := tf > ts
		if ts < fastLimit && tf < fastLimit {
			swap = ss2 < sf2
		}
		if swap {
			out[1], out[2], out[3], out[4] = ss2, ts, sf2, tf
		}
	}

	return out
}

// Instance binds a model to a target correlation time and to the choice of
// which extra parameters are fitted. Its parameter vector is
// [Tau_e if FitTau] + Model.Pars + [Rex if FitExchange].
type Instance struct {
	Model *Model
	// Tau is the target overall correlation time in ns.
	Tau         float64
	FitTau      bool
	TauFraction float64
	FitExchange bool
}

// ParNames lists the fitted parameters in vector order.
func (in Instance) ParNames() []string {
	var names []string
	if in.FitTau {
		names = append(names, ParTau)
	}
	names = append(names, in.Model.Pars...)
	if in.FitExchange {
		names = append(names, ParRex)
	}

	return names
}

// NPars is the length of the parameter vector.
func (in Instance) NPars() int {
	n := len(in.Model.Pars)
	if in.FitTau {
		n++
	}
	if in.FitExchange {
		n++
	}

	return n
}

func (in Instance) assemble(tau, rex float64, p []float64) []float64 {
	out := make([]float64, 0, in.NPars())
	if in.FitTau {
		out = append(out, tau)
	}
	out = append(out, p...)
	if in.FitExchange {
		out = append(out, rex)
	}

	return out
}

// Start returns the starting vector.
func (in Instance) Start() []float64 {
	return in.assemble(in.Tau, rexStart, in.Model.start(in.Tau))
}

// Lower returns the lower bounds.
func (in Instance) Lower() []float64 {
	return in.assemble(in.Tau*(1-in.TauFraction), 0, in.Model.lower(in.Tau))
}

// Upper returns the upper bounds.
func (in Instance) Upper() []float64 {
	return in.assemble(in.Tau*(1+in.TauFraction), rexUpper, in.Model.upper(in.Tau))
}

// Split separates a parameter vector into tauM (ns), the model parameters
// and Rex. Rex is 0 when exchange is not fitted.
func (in Instance) Split(x []float64) (tauM float64, p []float64, rex float64) {
	tauM = in.Tau
	if in.FitTau {
		tauM, x = x[0], x[1:]
	}
	n := len(in.Model.Pars)
	p = x[:n]
	if in.FitExchange {
		rex = x[n]
	}

	return tauM, p, rex
}
