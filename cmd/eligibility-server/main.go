package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "eligibility-server",
		Short:         "Insurance eligibility verification service",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(accessLogCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
