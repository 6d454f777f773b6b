package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

var linkTablesFile string

var linkCmd = &cobra.Command{
	Use:   "link",
	Short: "Link curated trials to delirium event counts",
	Long:  "Joins the curated trial set with the event-count table, resolving study keys through the audited override tables, and writes the arm-level counts, the linkage audit report, and the coverage summary.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("pipeline"); err != nil {
			return err
		}

		tablesFile := linkTablesFile
		if tablesFile == "" {
			tablesFile = cfg.Linkage.TablesFile
		}

		out, err := linkStage(cmd.Context(), tablesFile)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out.Summary)
	},
}

func init() {
	linkCmd.Flags().StringVar(&linkTablesFile, "tables", "", "override tables YAML (default from config, built-in when empty)")
	rootCmd.AddCommand(linkCmd)
}
