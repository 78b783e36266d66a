package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/martinemde/orbit/llm"
	"github.com/martinemde/orbit/pricing"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the model catalog with pricing",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		rates := pricing.DefaultTable()
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "MODEL\tPROVIDER\tCONTEXT\tTOOLS\tIN $/M\tOUT $/M\tALIASES")
		for _, m := range llm.Models {
			rate := rates.Rate(m.ID)
			supportsTools := "no"
			if m.SupportsTools {
				supportsTools = "yes"
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%.2f\t%.2f\t%s\n",
				m.ID, m.Provider, m.ContextWindow, supportsTools,
				rate.Input, rate.Output, strings.Join(m.Aliases, ", "))
		}
		_ = w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}
