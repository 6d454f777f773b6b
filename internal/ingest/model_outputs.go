package ingest

import (
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sedationlab/dexatlas/internal/model"
)

var (
	armLevelColumns  = []string{"trial_id", "study_label", "dex_arm_index", "dex_arm_label", "dex_events", "dex_total", "control_events", "control_total"}
	shrinkageColumns = []string{"trial_id", "dex_arm_index", "median_log_or", "lower_log_or", "upper_log_or"}
	crudeColumns     = []string{"trial_id", "dex_arm_index", "crude_or", "crude_or_ci_low", "crude_or_ci_high"}
	overallColumns   = []string{"median", "q2.5", "q97.5"}
)

func parseIntCell(raw, field, path string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, eris.Errorf("ingest: %s: invalid integer for %s: %q", path, field, raw)
	}
	return n, nil
}

func parseFloatCell(raw, field, path string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, eris.Errorf("ingest: %s: invalid float for %s: %q", path, field, raw)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, eris.Errorf("ingest: %s: non-finite float for %s: %q", path, field, raw)
	}
	return v, nil
}

// ReadArmLevelCounts reads the arm-level count table back from its published
// CSV form. The audit columns (study_key, studyID_csv, control_label,
// mapping_method, qc_flags) are optional so externally assembled tables with
// only the count columns still load.
func ReadArmLevelCounts(path string) ([]model.ArmCountRow, error) {
	table, err := ReadCSVTable(path, armLevelColumns)
	if err != nil {
		return nil, err
	}
	if len(table.Rows) == 0 {
		return nil, eris.Errorf("ingest: %s: empty table", path)
	}
	rows := make([]model.ArmCountRow, 0, len(table.Rows))
	for _, record := range table.Rows {
		armIndex, err := parseIntCell(table.Cell(record, "dex_arm_index"), "dex_arm_index", path)
		if err != nil {
			return nil, err
		}
		dexEvents, err := parseIntCell(table.Cell(record, "dex_events"), "dex_events", path)
		if err != nil {
			return nil, err
		}
		dexTotal, err := parseIntCell(table.Cell(record, "dex_total"), "dex_total", path)
		if err != nil {
			return nil, err
		}
		controlEvents, err := parseIntCell(table.Cell(record, "control_events"), "control_events", path)
		if err != nil {
			return nil, err
		}
		controlTotal, err := parseIntCell(table.Cell(record, "control_total"), "control_total", path)
		if err != nil {
			return nil, err
		}
		rows = append(rows, model.ArmCountRow{
			TrialID:       strings.TrimSpace(table.Cell(record, "trial_id")),
			StudyLabel:    strings.TrimSpace(table.Cell(record, "study_label")),
			StudyKey:      strings.TrimSpace(table.Cell(record, "study_key")),
			SourceStudyID: strings.TrimSpace(table.Cell(record, "studyID_csv")),
			DexArmIndex:   armIndex,
			DexArmLabel:   strings.TrimSpace(table.Cell(record, "dex_arm_label")),
			DexEvents:     dexEvents,
			DexTotal:      dexTotal,
			ControlLabel:  strings.TrimSpace(table.Cell(record, "control_label")),
			ControlEvents: controlEvents,
			ControlTotal:  controlTotal,
			MappingMethod: model.MappingMethod(strings.TrimSpace(table.Cell(record, "mapping_method"))),
			QCFlags:       model.SplitFlags(table.Cell(record, "qc_flags")),
		})
	}
	return rows, nil
}

// ReadShrinkage reads the externally fitted study-specific posterior
// summaries on the log-odds-ratio scale.
func ReadShrinkage(path string) ([]model.ShrinkageRow, error) {
	table, err := ReadCSVTable(path, shrinkageColumns)
	if err != nil {
		return nil, err
	}
	if len(table.Rows) == 0 {
		return nil, eris.Errorf("ingest: %s: empty table", path)
	}
	rows := make([]model.ShrinkageRow, 0, len(table.Rows))
	for _, record := range table.Rows {
		armIndex, err := parseIntCell(table.Cell(record, "dex_arm_index"), "dex_arm_index", path)
		if err != nil {
			return nil, err
		}
		median, err := parseFloatCell(table.Cell(record, "median_log_or"), "median_log_or", path)
		if err != nil {
			return nil, err
		}
		lower, err := parseFloatCell(table.Cell(record, "lower_log_or"), "lower_log_or", path)
		if err != nil {
			return nil, err
		}
		upper, err := parseFloatCell(table.Cell(record, "upper_log_or"), "upper_log_or", path)
		if err != nil {
			return nil, err
		}
		rows = append(rows, model.ShrinkageRow{
			TrialID:     strings.TrimSpace(table.Cell(record, "trial_id")),
			DexArmIndex: armIndex,
			MedianLogOR: median,
			LowerLogOR:  lower,
			UpperLogOR:  upper,
		})
	}
	return rows, nil
}

// ReadCrude reads the externally computed unadjusted odds-ratio estimates.
func ReadCrude(path string) ([]model.CrudeRow, error) {
	table, err := ReadCSVTable(path, crudeColumns)
	if err != nil {
		return nil, err
	}
	if len(table.Rows) == 0 {
		return nil, eris.Errorf("ingest: %s: empty table", path)
	}
	rows := make([]model.CrudeRow, 0, len(table.Rows))
	for _, record := range table.Rows {
		armIndex, err := parseIntCell(table.Cell(record, "dex_arm_index"), "dex_arm_index", path)
		if err != nil {
			return nil, err
		}
		crudeOR, err := parseFloatCell(table.Cell(record, "crude_or"), "crude_or", path)
		if err != nil {
			return nil, err
		}
		low, err := parseFloatCell(table.Cell(record, "crude_or_ci_low"), "crude_or_ci_low", path)
		if err != nil {
			return nil, err
		}
		high, err := parseFloatCell(table.Cell(record, "crude_or_ci_high"), "crude_or_ci_high", path)
		if err != nil {
			return nil, err
		}
		rows = append(rows, model.CrudeRow{
			TrialID:     strings.TrimSpace(table.Cell(record, "trial_id")),
			DexArmIndex: armIndex,
			CrudeOR:     crudeOR,
			CrudeORLow:  low,
			CrudeORHigh: high,
		})
	}
	return rows, nil
}

// ReadOverallSummary reads the pooled estimate CSV. The file must hold
// exactly one row with positive odds-ratio quantiles.
func ReadOverallSummary(path string) (model.OverallSummary, error) {
	table, err := ReadCSVTable(path, overallColumns)
	if err != nil {
		return model.OverallSummary{}, err
	}
	if len(table.Rows) != 1 {
		return model.OverallSummary{}, eris.Errorf("ingest: %s: overall summary must contain exactly one row, got %d", path, len(table.Rows))
	}
	record := table.Rows[0]
	median, err := parseFloatCell(table.Cell(record, "median"), "overall median", path)
	if err != nil {
		return model.OverallSummary{}, err
	}
	lower, err := parseFloatCell(table.Cell(record, "q2.5"), "overall q2.5", path)
	if err != nil {
		return model.OverallSummary{}, err
	}
	upper, err := parseFloatCell(table.Cell(record, "q97.5"), "overall q97.5", path)
	if err != nil {
		return model.OverallSummary{}, err
	}
	return model.OverallSummary{MedianOR: median, LowerOR: lower, UpperOR: upper}, nil
}
