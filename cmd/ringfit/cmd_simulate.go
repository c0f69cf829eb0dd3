package main

import (
	"fmt"
	"math"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/nanalysis/ringfit/config"
	"github.com/nanalysis/ringfit/dataset"
	"github.com/nanalysis/ringfit/equation"
)

var (
	simEquation     string
	simParams       []float64
	simX            []float64
	simField        float64
	simSpectrometer float64
	simB1           float64
	simTex          float64
	simNoise        float64
	simSeed         uint64
	simResidue      string
	simOut          string
)

func runSimulate(cmd *cobra.Command, _ []string) error {
	v, err := equation.Lookup(simEquation)
	if err != nil {
		return err
	}
	if len(simParams) != len(v.ParNames) {
		return fmt.Errorf("%s takes %d parameters %v, got %d", v.Name, len(v.ParNames), v.ParNames, len(simParams))
	}
	x := simX
	if len(x) == 0 {
		for nu := 25.0; nu <= 1000; nu += 25 {
			x = append(x, nu)
		}
	}

	c := config.Curve{
		Residue:      simResidue,
		Spectrometer: simSpectrometer,
		Field:        simField,
		Nucleus:      "N",
		X:            x,
		B1:           simB1,
		Tex:          simTex,
	}
	c.Y, err = simulate(v, c)
	if err != nil {
		return err
	}
	c.Err = make([]float64, len(x))
	for i := range c.Err {
		c.Err[i] = math.Max(simNoise, 1e-3)
	}

	equations := []string{v.Name}
	if v.Fallback != "" {
		equations = append([]string{v.Fallback}, equations...)
	}
	f := &config.File{
		Equations: equations,
		Groups:    []config.Group{{Name: simResidue, Curves: []config.Curve{c}}},
	}
	data, err := f.Marshal()
	if err != nil {
		return err
	}
	if simOut == "" {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}

	return os.WriteFile(simOut, data, 0o644)
}

// simulate evaluates v at every point of c with simParams as the local
// parameters and adds normal noise of sd simNoise.
func simulate(v *equation.Variant, c config.Curve) ([]float64, error) {
	var opts []dataset.CurveOption
	if c.B1 != 0 {
		opts = append(opts, dataset.WithB1(c.B1))
	}
	if c.Tex != 0 {
		opts = append(opts, dataset.WithTex(c.Tex))
	}
	n := len(c.X)
	ones := make([]float64, n)
	for i := range ones {
		ones[i] = 1
	}
	key := dataset.Key{Residue: c.Residue, Field: c.Spectrometer, Nucleus: c.Nucleus}
	shape, err := dataset.NewCurve(key, c.Field, [][]float64{c.X}, make([]float64, n), ones, opts...)
	if err != nil {
		return nil, err
	}

	norm := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewSource(simSeed)}
	y := make([]float64, n)
	for i := range y {
		if y[i], err = v.Predict(simParams, shape.Point(i), c.Field); err != nil {
			return nil, err
		}
		y[i] += simNoise * norm.Rand()
	}

	return y, nil
}
