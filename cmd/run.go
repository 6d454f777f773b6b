package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sedationlab/dexatlas/internal/artifact"
	"github.com/sedationlab/dexatlas/internal/model"
	"github.com/sedationlab/dexatlas/internal/store"
)

var runAllowUnresolved bool

// pipelineStage pairs a ledger stage name with its implementation.
type pipelineStage struct {
	name string
	run  func(context.Context) (*stageOutput, error)
}

// stageReport is one entry of the run summary printed on stdout.
type stageReport struct {
	Stage    string `json:"stage"`
	RunID    string `json:"run_id"`
	Duration string `json:"duration"`
	Summary  any    `json:"summary"`
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every pipeline stage in order",
	Long:  "Runs extract, validate, link, bundle, summarize, and sync back to back, recording each stage and its artifacts in the run ledger. A file lock keeps concurrent invocations out.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("bundle"); err != nil {
			return err
		}

		if err := os.MkdirAll(cfg.Paths.InterimDir, 0o755); err != nil {
			return eris.Wrap(err, "create interim dir")
		}
		lock := flock.New(filepath.Join(cfg.Paths.InterimDir, "dexatlas.lock"))
		ok, err := lock.TryLock()
		if err != nil {
			return eris.Wrap(err, "acquire run lock")
		}
		if !ok {
			return eris.New("another dexatlas run is already in progress")
		}
		defer func() {
			if err := lock.Unlock(); err != nil {
				zap.L().Warn("failed to release run lock", zap.Error(err))
			}
		}()

		st, err := openLedger(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		stages := []pipelineStage{
			{"extract", extractStage},
			{"validate", func(ctx context.Context) (*stageOutput, error) {
				return validateStage(ctx, runAllowUnresolved)
			}},
			{"link", func(ctx context.Context) (*stageOutput, error) {
				return linkStage(ctx, cfg.Linkage.TablesFile)
			}},
			{"bundle", func(ctx context.Context) (*stageOutput, error) {
				return bundleStage(ctx, configuredGrid())
			}},
			{"summarize", summarizeStage},
			{"sync", syncStage},
		}

		reports := make([]stageReport, 0, len(stages))
		for _, stage := range stages {
			report, err := executeStage(ctx, st, stage)
			if err != nil {
				return err
			}
			reports = append(reports, report)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(reports)
	},
}

// executeStage runs one stage under a ledger run: begin, record the written
// artifacts, and complete, or fail the run with the stage error.
func executeStage(ctx context.Context, st store.Store, stage pipelineStage) (stageReport, error) {
	run, err := st.BeginRun(ctx, stage.name)
	if err != nil {
		return stageReport{}, eris.Wrapf(err, "begin %s run", stage.name)
	}
	zap.L().Info("stage started", zap.String("stage", stage.name), zap.String("run_id", run.ID))

	started := time.Now()
	out, err := stage.run(ctx)
	if err == nil {
		err = recordArtifacts(ctx, st, run.ID, out.Artifacts)
	}
	if err != nil {
		if failErr := st.FailRun(ctx, run.ID, err); failErr != nil {
			zap.L().Error("record stage failure", zap.String("run_id", run.ID), zap.Error(failErr))
		}
		return stageReport{}, eris.Wrapf(err, "stage %s", stage.name)
	}

	if err := st.CompleteRun(ctx, run.ID); err != nil {
		return stageReport{}, eris.Wrapf(err, "complete %s run", stage.name)
	}

	elapsed := time.Since(started).Round(time.Millisecond)
	zap.L().Info("stage complete",
		zap.String("stage", stage.name),
		zap.String("run_id", run.ID),
		zap.Duration("duration", elapsed),
	)
	return stageReport{Stage: stage.name, RunID: run.ID, Duration: elapsed.String(), Summary: out.Summary}, nil
}

// recordArtifacts hashes each written file and records the batch on the run.
func recordArtifacts(ctx context.Context, st store.Store, runID string, outs []stageArtifact) error {
	artifacts := make([]model.RunArtifact, 0, len(outs))
	for _, out := range outs {
		sum, err := artifact.FileSHA256(out.Path)
		if err != nil {
			return err
		}
		artifacts = append(artifacts, model.RunArtifact{Path: out.Path, SHA256: sum, RowCount: out.Rows})
	}
	return st.RecordArtifacts(ctx, runID, artifacts)
}

// openLedger opens the configured run ledger and applies migrations.
func openLedger(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

func init() {
	runCmd.Flags().BoolVar(&runAllowUnresolved, "allow-unresolved", false, "continue past the validation gate when critical flags remain")
	rootCmd.AddCommand(runCmd)
}
