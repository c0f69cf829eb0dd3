package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nanalysis/ringfit"
	"github.com/nanalysis/ringfit/bootstrap"
	"github.com/nanalysis/ringfit/config"
	"github.com/nanalysis/ringfit/format"
)

var (
	archivePath  string
	archiveCodec string
)

func runFit(cmd *cobra.Command, _ []string) error {
	f, err := config.Load(configPath)
	if err != nil {
		return err
	}
	opts, err := f.FitOptions()
	if err != nil {
		return err
	}
	groups, err := f.FitGroups()
	if err != nil {
		return err
	}

	log := logger()
	fitter, err := ringfit.NewFitter(f.Equations, append(opts, ringfit.WithLogger(log))...)
	if err != nil {
		return err
	}
	results, err := fitter.FitAll(cmd.Context(), groups)
	printFits(cmd.OutOrStdout(), results)
	if err != nil {
		return err
	}

	out := f.Output
	if archivePath != "" {
		out.Archive = archivePath
	}
	if archiveCodec != "" {
		out.Compression = archiveCodec
	}
	if out.Archive == "" {
		return nil
	}
	ct, err := out.CompressionType()
	if err != nil {
		return err
	}

	return writeArchives(out.Archive, ct, results)
}

func printFits(w io.Writer, results []*ringfit.GroupResult) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "GROUP\tEQUATION\tEXCHANGE\tAICc\tRMS\tPARAMETERS")
	for _, g := range results {
		best := g.BestResult()
		fmt.Fprintf(tw, "%s\t%s\t%t\t%.3f\t%.4g\t%s\n",
			g.Name, g.Best, g.ExchangeValid, best.AICc(), best.RMS(), formatParams(best))
	}
	_ = tw.Flush()
}

func formatParams(r *ringfit.FitResult) string {
	var b strings.Builder
	for _, c := range r.Curves {
		if b.Len() > 0 {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "%gMHz", c.Key.Field)
		for j, name := range r.ParNames {
			fmt.Fprintf(&b, " %s=%.4g", name, c.Values[j])
			if c.Errors != nil {
				fmt.Fprintf(&b, "±%.2g", c.Errors[j])
			}
		}
	}

	return b.String()
}

// writeArchives writes one replicate archive per group next to path, named
// after the group: reps.rfb becomes reps-A12.rfb.
func writeArchives(path string, ct format.CompressionType, results []*ringfit.GroupResult) error {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for _, g := range results {
		best := g.BestResult()
		if len(best.Replicates) == 0 {
			continue
		}
		name := fmt.Sprintf("%s-%s%s", base, g.Name, ext)
		if err := writeArchive(name, ct, best.Replicates); err != nil {
			return fmt.Errorf("group %s: %w", g.Name, err)
		}
	}

	return nil
}

func writeArchive(name string, ct format.CompressionType, matrix [][]float64) error {
	fh, err := os.Create(name)
	if err != nil {
		return err
	}
	if err := bootstrap.WriteArchive(fh, matrix, bootstrap.WithCompression(ct)); err != nil {
		_ = fh.Close()
		return err
	}

	return fh.Close()
}
