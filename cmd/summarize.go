package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

var summarizeCmd = &cobra.Command{
	Use:   "summarize",
	Short: "Build descriptive summaries of the curated set",
	Long:  "Computes the dose-band distributions, infusion midpoint quartiles, and missingness counts, overall and stratified by risk of bias.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("pipeline"); err != nil {
			return err
		}

		out, err := summarizeStage(cmd.Context())
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out.Summary)
	},
}

func init() {
	rootCmd.AddCommand(summarizeCmd)
}
