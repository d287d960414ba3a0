// Package cmd contains the CLI entry points.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "verita",
	Short: "Verita - medical fact-checking chat service",
	Long: `Verita is an AI chat backend that reviews medical text in two passes:
verifiable claims are extracted and checked against grounded web search,
then imprecise language is flagged with suggested rewrites.

Run "verita serve" to start the HTTP API.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
