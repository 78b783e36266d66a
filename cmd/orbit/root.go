package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "orbit",
	Short: "Agentic loop runner",
	Long: `Orbit turns a single prompt into a bounded plan/act/observe loop:
the model plans, calls tools, reads the results, and iterates until it
lands on an answer or runs out of steps.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Version = fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildDate)
}
