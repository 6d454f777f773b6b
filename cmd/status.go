package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/sedationlab/dexatlas/internal/artifact"
	"github.com/sedationlab/dexatlas/internal/model"
	"github.com/sedationlab/dexatlas/internal/store"
)

var (
	statusStage string
	statusLimit int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent pipeline runs and linkage coverage",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openLedger(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		runs, err := st.ListRuns(ctx, store.RunFilter{Stage: statusStage, Limit: statusLimit})
		if err != nil {
			return err
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs recorded.")
		} else {
			fmt.Println(renderRunsTable(runs))
		}

		coveragePath := cfg.Paths.CoverageSummary()
		if _, err := os.Stat(coveragePath); err != nil {
			return nil
		}
		coverage, err := artifact.ReadJSONFile[model.LinkageCoverage](coveragePath)
		if err != nil {
			return err
		}
		fmt.Println(renderCoverageTable(coverage))

		return nil
	},
}

// renderRunsTable formats ledger runs newest first.
func renderRunsTable(runs []model.PipelineRun) string {
	rows := make([][]string, len(runs))
	for i, r := range runs {
		rows[i] = []string{
			truncateID(r.ID),
			r.Stage,
			string(r.Status),
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Duration().Round(time.Second).String(),
			truncate(r.Error, 48),
		}
	}
	return renderTable(
		[]string{"RUN", "STAGE", "STATUS", "STARTED", "DURATION", "ERROR"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	)
}

// renderCoverageTable formats the linkage coverage summary.
func renderCoverageTable(c model.LinkageCoverage) string {
	rows := [][]string{
		{"curated trials", strconv.Itoa(c.NTrialsCurated)},
		{"extracted trials", strconv.Itoa(c.NExtractedTrials)},
		{"extracted arm rows", strconv.Itoa(c.NExtractedRows)},
		{"missing in event data", strconv.Itoa(c.NMissingInCSV)},
		{"control mismatch", strconv.Itoa(c.NControlMismatch)},
		{"ambiguous unresolved", strconv.Itoa(c.NAmbiguousUnresolved)},
		{"inconsistent event rows", strconv.Itoa(c.NInconsistentCSVRows)},
		{"manually excluded", strconv.Itoa(c.NManuallyExcluded)},
		{"multi-dex trials", strconv.Itoa(c.NMultiDexTrials)},
	}
	return renderTable(
		[]string{"LINKAGE COVERAGE", "N"},
		rows,
		[]columnAlignment{alignLeft, alignRight},
	)
}

// truncateID shortens a run UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}

func init() {
	statusCmd.Flags().StringVar(&statusStage, "stage", "", "filter runs by stage (extract, validate, link, bundle, summarize, sync)")
	statusCmd.Flags().IntVar(&statusLimit, "limit", 20, "max number of runs to display")
	rootCmd.AddCommand(statusCmd)
}
