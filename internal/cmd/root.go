// Package cmd defines the crosstalk command tree.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "crosstalk",
	Short: "Anthropic-compatible proxy for OpenRouter and Databricks backends",
	Long: `crosstalk accepts Anthropic Messages API requests and dispatches them
to an OpenAI-compatible upstream, translating requests, responses, and
streaming events in both directions.`,
	SilenceUsage: true,
}

// Execute runs the command tree.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}
