package main

import (
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "extractiond",
	Short: "Structured-field extraction service",
	Long: `extractiond runs LLM-backed structured-field extraction jobs:
schema-driven extraction with validation, bounded repair passes and an
append-only audit trail.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: env only)")
	rootCmd.AddCommand(serveCmd)
}
