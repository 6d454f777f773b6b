package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Publish processed artifacts to the docs data directory",
	Long:  "Writes SHA256 checksums for the published artifacts and copies them into the static site's data directory.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("pipeline"); err != nil {
			return err
		}

		out, err := syncStage(cmd.Context())
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out.Summary)
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
