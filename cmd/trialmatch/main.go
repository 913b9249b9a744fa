// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the trialmatch CLI.
package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pdiddy/trialmatch/internal/config"
	"github.com/pdiddy/trialmatch/internal/logging"
	"github.com/pdiddy/trialmatch/internal/secrets"
	"github.com/pdiddy/trialmatch/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

// Loaded once in PersistentPreRunE and shared by every subcommand.
var (
	cfg    types.Config
	logger = zap.NewNop()
)

// rootCmd is the base command for the trialmatch CLI.
var rootCmd = &cobra.Command{
	Use:   "trialmatch",
	Short: "Match patients to recruiting clinical trials",
	Long: `trialmatch reads a free-text patient description, extracts a structured
profile, searches ClinicalTrials.gov for candidate studies, attaches PubMed
literature, scores each trial for eligibility against the profile and the
patient's medication safety labels, and produces a ranked report.

Runs can pause for clinician review before the report is generated. Paused
runs are persisted and resumed with "trialmatch resume" or through the
review server started by "trialmatch serve".`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		cfgFile, _ := cmd.Flags().GetString("config")
		loaded, used, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded

		if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
			cfg.Log.Level = lvl
		}
		l, err := logging.New(cfg.Log.Level, cfg.Log.Format, "trialmatch")
		if err != nil {
			return err
		}
		logger = l
		if used != "" {
			logger.Info("using config file", zap.String("path", used))
		}

		secretsDir, _ := cmd.Flags().GetString("secrets-dir")
		s, err := secrets.Load(secretsDir, logger)
		if err != nil {
			return err
		}
		if len(s) > 0 {
			logger.Debug("loaded secrets", zap.Strings("keys", secrets.Keys(s)))
		}
		config.ApplySecrets(&cfg, s)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file (default: ./trialmatch.yaml or ~/.config/trialmatch/trialmatch.yaml)")
	rootCmd.PersistentFlags().String("secrets-dir", secrets.DefaultDir, "directory of API key files")
	rootCmd.PersistentFlags().String("log-level", "", "override log level: debug, info, warn, error")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
