package artifact

import (
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sedationlab/dexatlas/internal/ingest"
	"github.com/sedationlab/dexatlas/internal/model"
)

// Representation identifies which on-disk form served a read.
type Representation string

const (
	RepJSON Representation = "json"
	RepCSV  Representation = "csv"
)

// InterimColumns is the CSV fallback column order for interim trial records.
var InterimColumns = []string{
	"trial_id",
	"study_label",
	"year",
	"country",
	"n_total",
	"dex_arm_text_raw",
	"control_arm_text_raw",
	"control_class",
	"bolus_value",
	"bolus_unit",
	"infusion_low",
	"infusion_high",
	"infusion_unit",
	"infusion_weight_normalized",
	"timing_raw",
	"timing_phase",
	"route_raw",
	"route_std",
	"rob_overall_raw",
	"rob_overall_std",
	"extraction_confidence",
	"validation_flags",
	"critical_flags",
	"needs_adjudication",
	"has_critical_issues",
	"source_page",
	"source_file",
	"intervention_events",
	"control_events",
	"assessment_tool",
	"postop_icu_care",
	"reference_number",
	"reference_url",
}

// StoreMeta is the sidecar written next to every interim record artifact so
// operators and downstream stages can see which representation is live.
type StoreMeta struct {
	TargetJSON  string `json:"target_json"`
	FallbackCSV string `json:"fallback_csv"`
	JSONWritten bool   `json:"json_written"`
	RowCount    int    `json:"row_count"`
	ColumnCount int    `json:"column_count"`
	WriteError  string `json:"write_error,omitempty"`
}

func fallbackPath(path string) string { return path + ".csv" }

func metaPath(path string) string { return path + ".meta.json" }

// WriteInterimRecords writes records as JSON with a metadata sidecar. When
// the JSON write fails, the records go to the CSV fallback instead and the
// failure is recorded in the sidecar. A successful JSON write removes any
// stale fallback so reads cannot pick up an outdated copy.
func WriteInterimRecords(path string, records []model.TrialArmRecord) (StoreMeta, error) {
	meta := StoreMeta{
		TargetJSON:  path,
		FallbackCSV: fallbackPath(path),
		RowCount:    len(records),
		ColumnCount: len(InterimColumns),
	}

	if err := WriteJSON(path, records); err == nil {
		meta.JSONWritten = true
		if rmErr := os.Remove(meta.FallbackCSV); rmErr != nil && !os.IsNotExist(rmErr) {
			return meta, eris.Wrapf(rmErr, "artifact: remove stale fallback %s", meta.FallbackCSV)
		}
	} else {
		meta.WriteError = err.Error()
		rows := make([][]string, len(records))
		for i, r := range records {
			rows[i] = interimRecordCells(r)
		}
		if csvErr := WriteCSV(meta.FallbackCSV, InterimColumns, rows); csvErr != nil {
			return meta, eris.Wrapf(csvErr, "artifact: json and csv writes both failed for %s", path)
		}
		zap.L().Warn("interim json write failed, csv fallback written",
			zap.String("path", path), zap.String("error", meta.WriteError))
	}

	if err := WriteJSON(metaPath(path), meta); err != nil {
		return meta, err
	}
	return meta, nil
}

// ReadInterimRecords loads interim records from the JSON artifact, falling
// back to the CSV form when the JSON file is absent. The returned
// Representation reports which form served the read.
func ReadInterimRecords(path string) ([]model.TrialArmRecord, Representation, error) {
	if _, err := os.Stat(path); err == nil {
		records, err := ReadJSONFile[[]model.TrialArmRecord](path)
		if err != nil {
			return nil, RepJSON, err
		}
		return records, RepJSON, nil
	}

	fallback := fallbackPath(path)
	if _, err := os.Stat(fallback); err != nil {
		return nil, "", eris.Errorf("artifact: neither %s nor fallback %s exists", path, fallback)
	}
	records, err := readInterimCSV(fallback)
	if err != nil {
		return nil, RepCSV, err
	}
	zap.L().Warn("interim records served from csv fallback", zap.String("path", fallback))
	return records, RepCSV, nil
}

func interimRecordCells(r model.TrialArmRecord) []string {
	return []string{
		r.TrialID,
		r.StudyLabel,
		intPtrCell(r.Year),
		r.Country,
		intPtrCell(r.NTotal),
		r.DexArmTextRaw,
		r.ControlArmTextRaw,
		string(r.ControlClass),
		floatPtrCell(r.BolusValue),
		r.BolusUnit,
		floatPtrCell(r.InfusionLow),
		floatPtrCell(r.InfusionHigh),
		r.InfusionUnit,
		strconv.FormatBool(r.InfusionWeightNormalized),
		r.TimingRaw,
		string(r.TimingPhase),
		r.RouteRaw,
		r.RouteStd,
		r.RoBOverallRaw,
		string(r.RoBOverallStd),
		strconv.FormatFloat(r.ExtractionConfidence, 'g', -1, 64),
		model.JoinFlags(r.ValidationFlags),
		model.JoinFlags(r.CriticalFlags),
		strconv.FormatBool(r.NeedsAdjudication),
		strconv.FormatBool(r.HasCriticalIssues),
		strconv.Itoa(r.SourcePage),
		r.SourceFile,
		r.InterventionEvents,
		r.ControlEvents,
		r.AssessmentTool,
		r.PostopICUCare,
		intPtrCell(r.ReferenceNumber),
		r.ReferenceURL,
	}
}

func readInterimCSV(path string) ([]model.TrialArmRecord, error) {
	table, err := ingest.ReadCSVTable(path, InterimColumns)
	if err != nil {
		return nil, err
	}
	records := make([]model.TrialArmRecord, 0, len(table.Rows))
	for i, row := range table.Rows {
		record, err := interimRecordFromRow(table, row)
		if err != nil {
			return nil, eris.Wrapf(err, "artifact: %s row %d", path, i)
		}
		records = append(records, record)
	}
	return records, nil
}

func interimRecordFromRow(table *ingest.CSVTable, row []string) (model.TrialArmRecord, error) {
	cell := func(column string) string { return table.Cell(row, column) }

	r := model.TrialArmRecord{
		TrialID:                  cell("trial_id"),
		StudyLabel:               cell("study_label"),
		Country:                  cell("country"),
		DexArmTextRaw:            cell("dex_arm_text_raw"),
		ControlArmTextRaw:        cell("control_arm_text_raw"),
		ControlClass:             model.ControlClass(cell("control_class")),
		BolusUnit:                cell("bolus_unit"),
		InfusionUnit:             cell("infusion_unit"),
		InfusionWeightNormalized: boolFromCell(cell("infusion_weight_normalized")),
		TimingRaw:                cell("timing_raw"),
		TimingPhase:              model.TimingPhase(cell("timing_phase")),
		RouteRaw:                 cell("route_raw"),
		RouteStd:                 cell("route_std"),
		RoBOverallRaw:            cell("rob_overall_raw"),
		RoBOverallStd:            model.RoBCategory(cell("rob_overall_std")),
		ValidationFlags:          model.AddFlags(model.SplitFlags(cell("validation_flags"))),
		CriticalFlags:            model.AddFlags(model.SplitFlags(cell("critical_flags"))),
		NeedsAdjudication:        boolFromCell(cell("needs_adjudication")),
		HasCriticalIssues:        boolFromCell(cell("has_critical_issues")),
		SourceFile:               cell("source_file"),
		InterventionEvents:       cell("intervention_events"),
		ControlEvents:            cell("control_events"),
		AssessmentTool:           cell("assessment_tool"),
		PostopICUCare:            cell("postop_icu_care"),
		ReferenceURL:             cell("reference_url"),
	}

	var err error
	if r.Year, err = intPtrFromCell(cell("year"), "year"); err != nil {
		return r, err
	}
	if r.NTotal, err = intPtrFromCell(cell("n_total"), "n_total"); err != nil {
		return r, err
	}
	if r.BolusValue, err = floatPtrFromCell(cell("bolus_value"), "bolus_value"); err != nil {
		return r, err
	}
	if r.InfusionLow, err = floatPtrFromCell(cell("infusion_low"), "infusion_low"); err != nil {
		return r, err
	}
	if r.InfusionHigh, err = floatPtrFromCell(cell("infusion_high"), "infusion_high"); err != nil {
		return r, err
	}
	if r.ReferenceNumber, err = intPtrFromCell(cell("reference_number"), "reference_number"); err != nil {
		return r, err
	}
	if r.ExtractionConfidence, err = floatFromCell(cell("extraction_confidence"), "extraction_confidence"); err != nil {
		return r, err
	}
	if r.SourcePage, err = intFromCell(cell("source_page"), "source_page"); err != nil {
		return r, err
	}
	return r, nil
}

func intPtrCell(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func floatPtrCell(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'g', -1, 64)
}

func intPtrFromCell(cell, field string) (*int, error) {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(cell)
	if err != nil {
		return nil, eris.Errorf("invalid %s: %q", field, cell)
	}
	return &n, nil
}

func floatPtrFromCell(cell, field string) (*float64, error) {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		return nil, eris.Errorf("invalid %s: %q", field, cell)
	}
	return &v, nil
}

func intFromCell(cell, field string) (int, error) {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(cell)
	if err != nil {
		return 0, eris.Errorf("invalid %s: %q", field, cell)
	}
	return n, nil
}

func floatFromCell(cell, field string) (float64, error) {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		return 0, eris.Errorf("invalid %s: %q", field, cell)
	}
	return v, nil
}

func boolFromCell(cell string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(cell))
	return err == nil && v
}
