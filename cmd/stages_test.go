package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sedationlab/dexatlas/internal/artifact"
	"github.com/sedationlab/dexatlas/internal/config"
	"github.com/sedationlab/dexatlas/internal/model"
	"github.com/sedationlab/dexatlas/internal/validate"
)

// testConfig points the package config at a scratch directory tree and
// restores the previous value when the test finishes.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	c := &config.Config{
		Paths: config.PathsConfig{
			RawDir:       filepath.Join(dir, "raw"),
			InterimDir:   filepath.Join(dir, "interim"),
			ProcessedDir: filepath.Join(dir, "processed"),
			ModelDir:     filepath.Join(dir, "model"),
			DocsDataDir:  filepath.Join(dir, "docs", "data"),

			ArticlesFile:      filepath.Join(dir, "raw", "articles_tabulated.csv"),
			RoBFile:           filepath.Join(dir, "raw", "delirium_rob.xlsx"),
			EventDataFile:     filepath.Join(dir, "raw", "event_data.csv"),
			AdjudicationsFile: filepath.Join(dir, "raw", "manual_adjudications.json"),
			EnrichmentFile:    filepath.Join(dir, "raw", "fulltext_doses.json"),
			ReferencesFile:    filepath.Join(dir, "raw", "reference_urls.json"),
		},
		Bundle: config.BundleConfig{XMinOR: 0.1, XMaxOR: 3.5, GridPoints: 181},
		Store:  config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(dir, "ledger.db")},
		Server: config.ServerConfig{Port: 8080},
		Log:    config.LogConfig{Level: "info", Format: "json"},
	}

	prev := cfg
	cfg = c
	t.Cleanup(func() { cfg = prev })
	return c
}

// curatedRecord builds a record that passes every validation rule.
func curatedRecord(trialID, label string) model.TrialArmRecord {
	year := 2021
	n := 64
	low, high := 0.4, 0.4
	return model.TrialArmRecord{
		TrialID:                  trialID,
		StudyLabel:               label,
		Year:                     &year,
		Country:                  "China",
		NTotal:                   &n,
		ControlClass:             model.ControlPlaceboOrSaline,
		InfusionLow:              &low,
		InfusionHigh:             &high,
		InfusionUnit:             "mcg/kg/h",
		InfusionWeightNormalized: true,
		TimingPhase:              model.TimingIntraOp,
		RouteStd:                 "IV",
		RoBOverallStd:            model.RoBLow,
		ExtractionConfidence:     1.0,
		SourcePage:               3,
		SourceFile:               "articles_tabulated.csv",
	}
}

func TestValidateStage_CleanRecords(t *testing.T) {
	c := testConfig(t)

	records := []model.TrialArmRecord{
		curatedRecord("zhang2021", "Zhang 2021"),
		curatedRecord("li2020", "Li 2020"),
	}
	_, err := artifact.WriteInterimRecords(c.Paths.InterimParsed(), records)
	require.NoError(t, err)

	out, err := validateStage(context.Background(), false)
	require.NoError(t, err)

	report, ok := out.Summary.(validate.Report)
	require.True(t, ok)
	assert.Equal(t, 2, report.NTrialsCurated)
	assert.Equal(t, 0, report.NReviewQueue)
	assert.Equal(t, 0, report.NUnresolvedCritical)

	curated, err := artifact.ReadJSONFile[[]model.TrialArmRecord](c.Paths.TrialsCurated())
	require.NoError(t, err)
	assert.Len(t, curated, 2)

	_, err = os.Stat(c.Paths.ReviewQueue())
	assert.NoError(t, err)
	_, err = os.Stat(c.Paths.ValidationReport())
	assert.NoError(t, err)
}

func TestValidateStage_GateBlocksCritical(t *testing.T) {
	c := testConfig(t)

	bad := curatedRecord("chen2019", "Chen 2019")
	bad.ControlClass = model.ControlActive
	_, err := artifact.WriteInterimRecords(c.Paths.InterimParsed(), []model.TrialArmRecord{bad})
	require.NoError(t, err)

	_, err = validateStage(context.Background(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unresolved critical")

	// Artifacts still land so adjudicators can inspect what failed.
	_, statErr := os.Stat(c.Paths.ReviewQueue())
	assert.NoError(t, statErr)
	_, statErr = os.Stat(c.Paths.ValidationReport())
	assert.NoError(t, statErr)
}

func TestValidateStage_AllowUnresolved(t *testing.T) {
	c := testConfig(t)

	bad := curatedRecord("chen2019", "Chen 2019")
	bad.ControlClass = model.ControlActive
	_, err := artifact.WriteInterimRecords(c.Paths.InterimParsed(), []model.TrialArmRecord{bad})
	require.NoError(t, err)

	out, err := validateStage(context.Background(), true)
	require.NoError(t, err)

	report, ok := out.Summary.(validate.Report)
	require.True(t, ok)
	assert.Equal(t, 1, report.NUnresolvedCritical)
	assert.True(t, report.AllowUnresolved)
}

func TestSummarizeStage(t *testing.T) {
	c := testConfig(t)

	records := []model.TrialArmRecord{curatedRecord("zhang2021", "Zhang 2021")}
	require.NoError(t, artifact.WriteJSON(c.Paths.TrialsCurated(), records))

	out, err := summarizeStage(context.Background())
	require.NoError(t, err)
	require.Len(t, out.Artifacts, 2)

	sum, ok := out.Summary.(summarizeSummary)
	require.True(t, ok)
	assert.Equal(t, 1, sum.NRecords)

	_, err = os.Stat(c.Paths.SummaryOverall())
	assert.NoError(t, err)
	_, err = os.Stat(c.Paths.SummaryByRoB())
	assert.NoError(t, err)
}

func TestSyncStage(t *testing.T) {
	c := testConfig(t)

	require.NoError(t, os.MkdirAll(c.Paths.ProcessedDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(c.Paths.ProcessedDir, "trials_curated.json"), []byte("[]"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(c.Paths.ProcessedDir, "summary_overall.json"), []byte("{}"), 0o644))

	out, err := syncStage(context.Background())
	require.NoError(t, err)

	sum, ok := out.Summary.(syncSummary)
	require.True(t, ok)
	assert.Equal(t, []string{"trials_curated.json", "summary_overall.json"}, sum.Copied)
	assert.Len(t, sum.Checksums, 2)

	_, err = os.Stat(filepath.Join(c.Paths.DocsDataDir, "trials_curated.json"))
	assert.NoError(t, err)
	_, err = os.Stat(c.Paths.ChecksumsOut())
	assert.NoError(t, err)
}
