package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "deskhand",
	Short: "Suggests resolutions for helpdesk tickets based on similar resolved tickets",
	Long: `deskhand indexes resolved helpdesk tickets, finds the ones most similar
to a new ticket, and asks an LLM to suggest a resolution grounded in how
those tickets were actually solved.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(suggestCmd)
	rootCmd.AddCommand(similarCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(feedbackCmd)
	rootCmd.AddCommand(configCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
