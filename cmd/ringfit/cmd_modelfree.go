package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nanalysis/ringfit/config"
	"github.com/nanalysis/ringfit/errs"
	"github.com/nanalysis/ringfit/modelfree"
	"github.com/nanalysis/ringfit/physics"
)

func runModelFree(cmd *cobra.Command, _ []string) error {
	f, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if f.ModelFree == nil {
		return fmt.Errorf("%w: %s has no modelfree section", errs.ErrInvalidConfig, configPath)
	}
	data, err := f.ModelFree.Data(physics.NewKernel())
	if err != nil {
		return err
	}
	opts, err := f.AnalyzeOptions()
	if err != nil {
		return err
	}
	opts.Logger = logger()

	results, err := modelfree.Analyze(cmd.Context(), data, opts)
	printModelFree(cmd.OutOrStdout(), results)

	return err
}

func printModelFree(w io.Writer, results []*modelfree.Result) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RESIDUE\tMODEL\tAICc\tRMS\tPARAMETERS")
	for _, r := range results {
		var b strings.Builder
		for i, name := range r.ParNames {
			if i > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "%s=%.4g", name, r.Pars[i])
			if r.Errors != nil {
				fmt.Fprintf(&b, "±%.2g", r.Errors[i])
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%.3f\t%.4g\t%s\n", r.Key, r.Model, r.Score.AICc(), r.Score.RMS(), b.String())
	}
	_ = tw.Flush()
}
