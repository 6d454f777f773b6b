package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sedationlab/dexatlas/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "dexatlas",
	Short: "Dexmedetomidine delirium evidence pipeline",
	Long:  "Canonicalizes tabulated trial reports, links trials to delirium event counts, validates the curated set, and assembles the precomputed meta-analysis bundle for the static viewer.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
