package artifact

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sedationlab/dexatlas/internal/model"
)

func fptr(v float64) *float64 { return &v }

func iptr(v int) *int { return &v }

func sampleRecord() model.TrialArmRecord {
	return model.TrialArmRecord{
		TrialID:                  "smith_2020_p3",
		StudyLabel:               "Smith 2020",
		Year:                     iptr(2020),
		Country:                  "Korea",
		NTotal:                   iptr(120),
		DexArmTextRaw:            "Dexmedetomidine 0.5 mcg/kg then 0.2-0.7 mcg/kg/h",
		ControlArmTextRaw:        "Placebo (normal saline)",
		ControlClass:             model.ControlPlaceboOrSaline,
		BolusValue:               fptr(0.5),
		BolusUnit:                "mcg/kg",
		InfusionLow:              fptr(0.2),
		InfusionHigh:             fptr(0.7),
		InfusionUnit:             "mcg/kg/h",
		InfusionWeightNormalized: true,
		TimingRaw:                "During surgery",
		TimingPhase:              model.TimingIntraOp,
		RouteRaw:                 "Intravenous",
		RouteStd:                 "Intravenous",
		RoBOverallRaw:            "Low risk of bias",
		RoBOverallStd:            model.RoBLow,
		ExtractionConfidence:     1.0,
		ValidationFlags:          []string{},
		CriticalFlags:            []string{},
		SourcePage:               3,
		SourceFile:               "articles_tabulated.csv",
		ReferenceNumber:          iptr(45),
		ReferenceURL:             "https://doi.org/10.1016/j.bja.2020.01.001",
	}
}

func TestWriteAndReadInterimRecords_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "interim", "trials_parsed.json")
	records := []model.TrialArmRecord{sampleRecord()}

	meta, err := WriteInterimRecords(path, records)
	require.NoError(t, err)
	assert.True(t, meta.JSONWritten)
	assert.Equal(t, 1, meta.RowCount)
	assert.Equal(t, len(InterimColumns), meta.ColumnCount)
	assert.Empty(t, meta.WriteError)

	// Sidecar lands next to the artifact.
	sidecar, err := ReadJSONFile[StoreMeta](path + ".meta.json")
	require.NoError(t, err)
	assert.Equal(t, path, sidecar.TargetJSON)
	assert.Equal(t, path+".csv", sidecar.FallbackCSV)
	assert.True(t, sidecar.JSONWritten)

	got, rep, err := ReadInterimRecords(path)
	require.NoError(t, err)
	assert.Equal(t, RepJSON, rep)
	require.Len(t, got, 1)
	assert.Equal(t, records[0], got[0])
}

func TestWriteInterimRecords_RemovesStaleFallback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trials_parsed.json")
	stale := path + ".csv"
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o644))

	_, err := WriteInterimRecords(path, []model.TrialArmRecord{sampleRecord()})
	require.NoError(t, err)

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
}

func TestReadInterimRecords_CSVFallback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trials_parsed.json")
	record := sampleRecord()

	cells := interimRecordCells(record)
	require.Len(t, cells, len(InterimColumns))
	require.NoError(t, WriteCSV(path+".csv", InterimColumns, [][]string{cells}))

	got, rep, err := ReadInterimRecords(path)
	require.NoError(t, err)
	assert.Equal(t, RepCSV, rep)
	require.Len(t, got, 1)

	parsed := got[0]
	assert.Equal(t, record.TrialID, parsed.TrialID)
	assert.Equal(t, record.Year, parsed.Year)
	assert.Equal(t, record.NTotal, parsed.NTotal)
	assert.Equal(t, record.ControlClass, parsed.ControlClass)
	assert.Equal(t, record.BolusValue, parsed.BolusValue)
	assert.Equal(t, record.InfusionLow, parsed.InfusionLow)
	assert.Equal(t, record.InfusionHigh, parsed.InfusionHigh)
	assert.True(t, parsed.InfusionWeightNormalized)
	assert.Equal(t, record.TimingPhase, parsed.TimingPhase)
	assert.Equal(t, record.RoBOverallStd, parsed.RoBOverallStd)
	assert.Equal(t, record.ExtractionConfidence, parsed.ExtractionConfidence)
	assert.Equal(t, record.SourcePage, parsed.SourcePage)
	assert.Equal(t, record.ReferenceNumber, parsed.ReferenceNumber)
	assert.Equal(t, record.ReferenceURL, parsed.ReferenceURL)
}

func TestReadInterimRecords_FlagRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trials_parsed.json")
	record := sampleRecord()
	record.ValidationFlags = []string{"bolus_missing", "timing_unclear"}
	record.CriticalFlags = []string{"missing_n_total"}
	record.NeedsAdjudication = true
	record.HasCriticalIssues = true

	require.NoError(t, WriteCSV(path+".csv", InterimColumns, [][]string{interimRecordCells(record)}))

	got, _, err := ReadInterimRecords(path)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"bolus_missing", "timing_unclear"}, got[0].ValidationFlags)
	assert.Equal(t, []string{"missing_n_total"}, got[0].CriticalFlags)
	assert.True(t, got[0].NeedsAdjudication)
	assert.True(t, got[0].HasCriticalIssues)
}

func TestReadInterimRecords_MissingBothForms(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.json")

	_, _, err := ReadInterimRecords(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "neither")
	assert.Contains(t, err.Error(), "fallback")
}

func TestReadInterimRecords_BadFallbackCell(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trials_parsed.json")

	cells := interimRecordCells(sampleRecord())
	for i, column := range InterimColumns {
		if column == "n_total" {
			cells[i] = "many"
		}
	}
	require.NoError(t, WriteCSV(path+".csv", InterimColumns, [][]string{cells}))

	_, _, err := ReadInterimRecords(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid n_total: "many"`)
	assert.True(t, strings.Contains(err.Error(), "row 0"))
}
