package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Canonicalize tabulated trial reports into arm-level records",
	Long:  "Reads the tabulated article table, the risk-of-bias workbook, and the optional enrichment and adjudication files, then writes the interim canonical records and the unmatched-keys audit.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("pipeline"); err != nil {
			return err
		}

		out, err := extractStage(cmd.Context())
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out.Summary)
	},
}

func init() {
	rootCmd.AddCommand(extractCmd)
}
