// Command ringfit fits relaxation dispersion experiments described in a YAML
// experiment file, simulates curves and runs model-free analyses.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool

	rootCmd = &cobra.Command{
		Use:   "ringfit",
		Short: "Fit NMR relaxation dispersion and relaxation data",
		Long: `ringfit fits CPMG, CEST, R1rho and exponential decay equations to
NMR relaxation curves, estimates parameter errors by bootstrap and selects the
equation that best describes each residue. It also runs Lipari-Szabo
model-free analyses of R1, R2 and NOE data.`,
		SilenceUsage: true,
	}

	fitCmd = &cobra.Command{
		Use:   "fit",
		Short: "Fit every group of an experiment file and select the best equation",
		RunE:  runFit, // Defined in cmd_fit.go
	}

	simulateCmd = &cobra.Command{
		Use:   "simulate",
		Short: "Write an experiment file holding a simulated curve",
		Long: `simulate evaluates an equation at the given parameters, adds Gaussian
noise and writes the curve as an experiment file that "ringfit fit" accepts.`,
		RunE: runSimulate, // Defined in cmd_simulate.go
	}

	equationsCmd = &cobra.Command{
		Use:   "equations",
		Short: "List the registered equations and their parameters",
		RunE:  runEquations, // Defined in cmd_equations.go
	}

	modelFreeCmd = &cobra.Command{
		Use:   "modelfree",
		Short: "Run a model-free analysis of the modelfree section of an experiment file",
		RunE:  runModelFree, // Defined in cmd_modelfree.go
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log fit progress at debug level")

	fitCmd.Flags().StringVarP(&configPath, "config", "c", "", "experiment file")
	fitCmd.Flags().StringVar(&archivePath, "archive", "", "write the bootstrap replicates of each best fit, overriding output.archive")
	fitCmd.Flags().StringVar(&archiveCodec, "compression", "", "archive compression: none, zstd, s2 or lz4")
	_ = fitCmd.MarkFlagRequired("config")

	simulateCmd.Flags().StringVarP(&simEquation, "equation", "e", "CPMGFAST", "equation to evaluate")
	simulateCmd.Flags().Float64SliceVarP(&simParams, "params", "p", []float64{500, 10, 1}, "local parameters of the equation")
	simulateCmd.Flags().Float64SliceVarP(&simX, "x", "x", nil, "primary variable values (default 25..1000 step 25)")
	simulateCmd.Flags().Float64Var(&simField, "field", 60.8, "observed nucleus Larmor frequency in MHz")
	simulateCmd.Flags().Float64Var(&simSpectrometer, "spectrometer", 600, "proton spectrometer frequency in MHz")
	simulateCmd.Flags().Float64Var(&simB1, "b1", 0, "B1 field in Hz for CEST and R1rho")
	simulateCmd.Flags().Float64Var(&simTex, "tex", 0, "irradiation time in s for CEST")
	simulateCmd.Flags().Float64Var(&simNoise, "noise", 0.2, "standard deviation of the added noise")
	simulateCmd.Flags().Uint64Var(&simSeed, "seed", 1, "noise seed")
	simulateCmd.Flags().StringVarP(&simResidue, "residue", "r", "A1", "residue name")
	simulateCmd.Flags().StringVarP(&simOut, "out", "o", "", "output file (default stdout)")

	modelFreeCmd.Flags().StringVarP(&configPath, "config", "c", "", "experiment file")
	_ = modelFreeCmd.MarkFlagRequired("config")

	rootCmd.AddCommand(fitCmd, simulateCmd, equationsCmd, modelFreeCmd)
}

func logger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
