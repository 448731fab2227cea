// Kestrel - Explainable credit-risk scoring.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var rootFlags struct {
	configPath string
	envFile    string
}

// cfg is resolved once in PersistentPreRunE and shared by every command.
var cfg *domain.Config

var rootCmd = &cobra.Command{
	Use:   "kestrel",
	Short: "Explainable credit-risk scoring",
	Long: "Kestrel scores loan applicants with an exported classifier and explains\n" +
		"every decision with per-feature attributions.",
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		loaded, err := loadConfig(rootFlags.configPath, rootFlags.envFile)
		if err != nil {
			return err
		}
		cfg = loaded
		slog.SetDefault(newLogger(cmd.ErrOrStderr(), cfg.Logging))
		return nil
	},
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&rootFlags.configPath, "config", "", "YAML configuration file")
	f.StringVar(&rootFlags.envFile, "env-file", ".env", "dotenv file loaded before reading KESTREL_* variables")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(importanceCmd)
	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(manifestCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.Version = Version
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		fmt.Fprintf(cmd.OutOrStdout(), "kestrel %s (commit %s, built %s)\n", Version, Commit, BuildDate)
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
