// Package config loads ringfit experiment files.
//
// An experiment file is YAML holding the equations to try, the fit options,
// the residue groups with their curves inline and, optionally, a model-free
// section with R1, R2 and NOE measurements:
//
//	equations: [NOEX, CPMGFAST, CPMGSLOW]
//	options:
//	  bootstrap: {enabled: true, mode: nonparametric, samples: 100}
//	  workers: 4
//	groups:
//	  - name: A12
//	    curves:
//	      - {residue: A12, spectrometer: 600, field: 60.8, nucleus: N,
//	         x: [50, 100, 200], y: [14.1, 12.9, 11.2], err: [0.3, 0.3, 0.3]}
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nanalysis/ringfit"
	"github.com/nanalysis/ringfit/bootstrap"
	"github.com/nanalysis/ringfit/dataset"
	"github.com/nanalysis/ringfit/errs"
	"github.com/nanalysis/ringfit/format"
	"github.com/nanalysis/ringfit/modelfree"
	"github.com/nanalysis/ringfit/physics"
)

// File is a parsed experiment file.
type File struct {
	Equations []string   `yaml:"equations"`
	Options   Options    `yaml:"options"`
	Groups    []Group    `yaml:"groups"`
	ModelFree *ModelFree `yaml:"modelfree,omitempty"`
	Output    Output     `yaml:"output"`
}

// Options mirrors the ringfit fit options. Unset pointers keep the library
// defaults.
type Options struct {
	AbsMode       bool      `yaml:"absMode"`
	Weighted      *bool     `yaml:"weighted,omitempty"`
	Bootstrap     Bootstrap `yaml:"bootstrap"`
	StartRadius   *float64  `yaml:"startRadius,omitempty"`
	FinalRadius   *float64  `yaml:"finalRadius,omitempty"`
	Tolerance     *float64  `yaml:"tolerance,omitempty"`
	MaxIterations *int      `yaml:"maxIterations,omitempty"`
	Attempts      *int      `yaml:"attempts,omitempty"`
	Seed          *uint64   `yaml:"seed,omitempty"`
	Workers       *int      `yaml:"workers,omitempty"`
	RexRatio      *float64  `yaml:"rexRatio,omitempty"`
	DeltaABDiff   *float64  `yaml:"deltaABDiff,omitempty"`
	Alpha         *float64  `yaml:"alpha,omitempty"`
	// CPMGMaxFreq caps the CPMG frequency used by the slow exchange guess.
	CPMGMaxFreq float64 `yaml:"cpmgMaxFreq,omitempty"`
	// Mask names the dimensions whose parameters are shared: residue,
	// field, temperature or nucleus.
	Mask []string `yaml:"mask,omitempty"`
}

// Bootstrap configures the error estimate run after every fit.
type Bootstrap struct {
	Enabled bool   `yaml:"enabled"`
	Mode    string `yaml:"mode,omitempty"`
	Samples int    `yaml:"samples,omitempty"`
}

// Group is a set of curves fitted together.
type Group struct {
	Name      string   `yaml:"name"`
	Equations []string `yaml:"equations,omitempty"`
	Curves    []Curve  `yaml:"curves"`
}

// Curve is one experimental series.
type Curve struct {
	Residue string `yaml:"residue"`
	// Spectrometer is the proton frequency in MHz that labels the condition.
	Spectrometer float64 `yaml:"spectrometer"`
	// Field is the observed nucleus Larmor frequency in MHz.
	Field       float64   `yaml:"field"`
	Temperature float64   `yaml:"temperature,omitempty"`
	Nucleus     string    `yaml:"nucleus,omitempty"`
	X           []float64 `yaml:"x"`
	Y           []float64 `yaml:"y"`
	Err         []float64 `yaml:"err"`
	B1          float64   `yaml:"b1,omitempty"`
	Tex         float64   `yaml:"tex,omitempty"`
}

// ModelFree configures a Lipari-Szabo analysis.
type ModelFree struct {
	// Tau is the overall correlation time in ns; estimated when zero.
	Tau         float64   `yaml:"tau,omitempty"`
	FitTau      bool      `yaml:"fitTau"`
	FitExchange bool      `yaml:"fitExchange"`
	FitJ        bool      `yaml:"fitJ"`
	LogJ        bool      `yaml:"logJ"`
	Models      []string  `yaml:"models,omitempty"`
	Mode        string    `yaml:"mode,omitempty"`
	Replicates  int       `yaml:"replicates,omitempty"`
	LambdaS     float64   `yaml:"lambdaS,omitempty"`
	LambdaTau   float64   `yaml:"lambdaTau,omitempty"`
	T2Limit     float64   `yaml:"t2Limit,omitempty"`
	Residues    []Residue `yaml:"residues"`
}

// Residue holds the relaxation data of one bond vector.
type Residue struct {
	Key    string     `yaml:"key"`
	Vector [3]float64 `yaml:"vector,omitempty"`
	Fields []Rates    `yaml:"fields"`
}

// Rates are R1, R2 (s⁻¹) and NOE measured at one spectrometer frequency.
type Rates struct {
	// Spectrometer is the proton frequency in MHz.
	Spectrometer float64 `yaml:"spectrometer"`
	R1           float64 `yaml:"r1"`
	R1Err        float64 `yaml:"r1Err"`
	R2           float64 `yaml:"r2"`
	R2Err        float64 `yaml:"r2Err"`
	NOE          float64 `yaml:"noe"`
	NOEErr       float64 `yaml:"noeErr"`
}

// Output selects where fit products are written.
type Output struct {
	// Archive is the path of the bootstrap replicate archive; empty skips it.
	Archive     string `yaml:"archive,omitempty"`
	Compression string `yaml:"compression,omitempty"`
}

// Load reads and validates an experiment file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read the experiment file: %w", err)
	}

	return Parse(data)
}

// Parse decodes an experiment document. Unknown keys are rejected.
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %w", errs.ErrInvalidConfig, err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}

	return &f, nil
}

// Marshal encodes f as YAML.
func (f *File) Marshal() ([]byte, error) {
	return yaml.Marshal(f)
}

// Validate checks the parts that do not need the fit engine.
func (f *File) Validate() error {
	if len(f.Groups) == 0 && f.ModelFree == nil {
		return fmt.Errorf("%w: experiment has neither groups nor model-free data", errs.ErrInvalidConfig)
	}
	for i, g := range f.Groups {
		if len(g.Curves) == 0 {
			return fmt.Errorf("%w: group %d (%s) has no curves", errs.ErrInvalidConfig, i, g.Name)
		}
		if len(g.Equations) == 0 && len(f.Equations) == 0 {
			return fmt.Errorf("%w: group %d (%s) has no equations", errs.ErrInvalidConfig, i, g.Name)
		}
	}
	if _, err := maskDims(f.Options.Mask); err != nil {
		return err
	}
	if f.Output.Compression != "" {
		if _, err := format.ParseCompression(f.Output.Compression); err != nil {
			return fmt.Errorf("%w: %w", errs.ErrInvalidConfig, err)
		}
	}

	return nil
}

var dimNames = map[string]int{
	"residue":     dataset.DimResidue,
	"field":       dataset.DimField,
	"temperature": dataset.DimTemperature,
	"nucleus":     dataset.DimNucleus,
}

func maskDims(names []string) ([]int, error) {
	dims := make([]int, 0, len(names))
	for _, n := range names {
		d, ok := dimNames[strings.ToLower(n)]
		if !ok {
			return nil, fmt.Errorf("%w: unknown mask dimension %q", errs.ErrInvalidConfig, n)
		}
		dims = append(dims, d)
	}

	return dims, nil
}

// FitOptions converts the options section into ringfit options.
func (f *File) FitOptions() ([]ringfit.Option, error) {
	o := f.Options
	opts := []ringfit.Option{ringfit.WithAbsMode(o.AbsMode)}
	if o.Weighted != nil {
		opts = append(opts, ringfit.WithWeighted(*o.Weighted))
	}
	if o.Bootstrap.Enabled {
		opts = append(opts, ringfit.WithBootstrap(true))
		if o.Bootstrap.Mode != "" {
			mode, err := bootstrap.ParseMode(o.Bootstrap.Mode)
			if err != nil {
				return nil, err
			}
			opts = append(opts, ringfit.WithNonParametric(mode == bootstrap.NonParametric))
		}
		if o.Bootstrap.Samples > 0 {
			opts = append(opts, ringfit.WithSampleSize(o.Bootstrap.Samples))
		}
	}
	if o.StartRadius != nil {
		opts = append(opts, ringfit.WithStartRadius(*o.StartRadius))
	}
	if o.FinalRadius != nil {
		opts = append(opts, ringfit.WithFinalRadius(*o.FinalRadius))
	}
	if o.Tolerance != nil {
		opts = append(opts, ringfit.WithTolerance(*o.Tolerance))
	}
	if o.MaxIterations != nil {
		opts = append(opts, ringfit.WithMaxIterations(*o.MaxIterations))
	}
	if o.Attempts != nil {
		opts = append(opts, ringfit.WithAttempts(*o.Attempts))
	}
	if o.Seed != nil {
		opts = append(opts, ringfit.WithSeed(*o.Seed))
	}
	if o.Workers != nil {
		opts = append(opts, ringfit.WithWorkers(*o.Workers))
	}
	if o.RexRatio != nil {
		opts = append(opts, ringfit.WithRexRatio(*o.RexRatio))
	}
	if o.DeltaABDiff != nil {
		opts = append(opts, ringfit.WithDeltaABDiff(*o.DeltaABDiff))
	}
	if o.Alpha != nil {
		opts = append(opts, ringfit.WithAlpha(*o.Alpha))
	}
	if o.CPMGMaxFreq > 0 {
		opts = append(opts, ringfit.WithCPMGMaxFreq(o.CPMGMaxFreq))
	}
	if len(o.Mask) > 0 {
		dims, err := maskDims(o.Mask)
		if err != nil {
			return nil, err
		}
		opts = append(opts, ringfit.WithMask(dims...))
	}

	return opts, nil
}

// FitGroups builds the curves of every group. A group without a name takes
// the residue of its first curve.
func (f *File) FitGroups() ([]ringfit.Group, error) {
	groups := make([]ringfit.Group, 0, len(f.Groups))
	for _, g := range f.Groups {
		curves := make([]*dataset.Curve, 0, len(g.Curves))
		for i, c := range g.Curves {
			dc, err := c.build()
			if err != nil {
				return nil, fmt.Errorf("group %s curve %d: %w", g.Name, i, err)
			}
			curves = append(curves, dc)
		}
		name := g.Name
		if name == "" {
			name = g.Curves[0].Residue
		}
		groups = append(groups, ringfit.Group{Name: name, Curves: curves, Equations: g.Equations})
	}

	return groups, nil
}

func (c Curve) build() (*dataset.Curve, error) {
	key := dataset.Key{Residue: c.Residue, Field: c.Spectrometer, Temperature: c.Temperature, Nucleus: c.Nucleus}
	var opts []dataset.CurveOption
	if c.B1 != 0 {
		opts = append(opts, dataset.WithB1(c.B1))
	}
	if c.Tex != 0 {
		opts = append(opts, dataset.WithTex(c.Tex))
	}

	return dataset.NewCurve(key, c.Field, [][]float64{c.X}, c.Y, c.Err, opts...)
}

// CompressionType returns the archive codec, zstd when unset.
func (o Output) CompressionType() (format.CompressionType, error) {
	return format.ParseCompression(o.Compression)
}

// Data builds the model-free measurements. Relaxation constants come from
// kernel for a 15N-1H pair.
func (m *ModelFree) Data(kernel *physics.Kernel) ([]*modelfree.MolData, error) {
	out := make([]*modelfree.MolData, 0, len(m.Residues))
	for _, r := range m.Residues {
		md := &modelfree.MolData{Key: r.Key, Vector: r.Vector, Data: make([]modelfree.Relaxation, 0, len(r.Fields))}
		for _, f := range r.Fields {
			rc, err := kernel.Relax(f.Spectrometer*1e6, physics.ElementH, physics.ElementN)
			if err != nil {
				return nil, fmt.Errorf("residue %s: %w", r.Key, err)
			}
			rel := modelfree.Relaxation{
				Constants: rc,
				R1:        f.R1,
				R1Err:     f.R1Err,
				R2:        f.R2,
				R2Err:     f.R2Err,
				NOE:       f.NOE,
				NOEErr:    f.NOEErr,
			}
			if err := rel.Validate(); err != nil {
				return nil, fmt.Errorf("residue %s at %g MHz: %w", r.Key, f.Spectrometer, err)
			}
			md.Data = append(md.Data, rel)
		}
		out = append(out, md)
	}

	return out, nil
}

// AnalyzeOptions converts the section into modelfree options, starting from
// modelfree.DefaultOptions. Workers and seed come from the fit options.
func (f *File) AnalyzeOptions() (modelfree.Options, error) {
	o := modelfree.DefaultOptions()
	m := f.ModelFree
	if m == nil {
		return o, fmt.Errorf("%w: experiment has no model-free section", errs.ErrInvalidConfig)
	}
	o.Tau = m.Tau
	o.FitTau = m.FitTau
	o.FitExchange = m.FitExchange
	o.FitJ = m.FitJ
	o.LogJ = m.LogJ
	o.LambdaS = m.LambdaS
	o.LambdaTau = m.LambdaTau
	o.T2Limit = m.T2Limit
	o.Replicates = m.Replicates
	if len(m.Models) > 0 {
		o.Models = m.Models
	}
	if m.Mode != "" {
		mode, err := modelfree.ParseBootstrapMode(m.Mode)
		if err != nil {
			return o, err
		}
		o.Mode = mode
	}
	if f.Options.Workers != nil {
		o.Workers = *f.Options.Workers
	}
	if f.Options.Seed != nil {
		o.Seed = *f.Options.Seed
		o.Refine.Seed = *f.Options.Seed
	}
	if o.Tau == 0 {
		return o, nil
	}

	return o, o.Validate()
}
