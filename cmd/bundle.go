package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/sedationlab/dexatlas/internal/bundle"
)

var (
	bundleXMinOR     float64
	bundleXMaxOR     float64
	bundleGridPoints int
)

var bundleCmd = &cobra.Command{
	Use:   "bundle",
	Short: "Assemble the precomputed meta-analysis bundle",
	Long:  "Merges the arm-level counts with the externally fitted model tables into the single JSON payload the static viewer renders.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("bundle"); err != nil {
			return err
		}

		out, err := bundleStage(cmd.Context(), bundleGrid())
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out.Summary)
	},
}

// configuredGrid is the odds-ratio axis from configuration alone.
func configuredGrid() bundle.GridSpec {
	return bundle.GridSpec{
		XMinOR: cfg.Bundle.XMinOR,
		XMaxOR: cfg.Bundle.XMaxOR,
		Points: cfg.Bundle.GridPoints,
	}
}

// bundleGrid merges the axis flags over the configured defaults.
func bundleGrid() bundle.GridSpec {
	grid := configuredGrid()
	if bundleXMinOR > 0 {
		grid.XMinOR = bundleXMinOR
	}
	if bundleXMaxOR > 0 {
		grid.XMaxOR = bundleXMaxOR
	}
	if bundleGridPoints > 0 {
		grid.Points = bundleGridPoints
	}
	return grid
}

func init() {
	bundleCmd.Flags().Float64Var(&bundleXMinOR, "x-min-or", 0, "lower odds-ratio axis limit (default from config)")
	bundleCmd.Flags().Float64Var(&bundleXMaxOR, "x-max-or", 0, "upper odds-ratio axis limit (default from config)")
	bundleCmd.Flags().IntVar(&bundleGridPoints, "grid-points", 0, "density grid points (default from config)")
	rootCmd.AddCommand(bundleCmd)
}
