package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nanalysis/ringfit/equation"
)

func runEquations(cmd *cobra.Command, _ []string) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tFAMILY\tEXCHANGE\tFALLBACK\tPARAMETERS")
	for _, name := range equation.Names() {
		v, err := equation.Lookup(name)
		if err != nil {
			return err
		}
		fallback := v.Fallback
		if fallback == "" {
			fallback = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\n", v.Name, v.Family, v.HasExchange, fallback, strings.Join(v.ParNames, " "))
	}

	return tw.Flush()
}
