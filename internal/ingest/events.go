package ingest

import (
	"github.com/sedationlab/dexatlas/internal/model"
)

// requiredEventColumns is the fixed contract of the event-count CSV. A file
// missing any of these is rejected outright rather than linked partially.
var requiredEventColumns = []string{
	"studyID",
	"Intervention1",
	"Intervention2",
	"Intervention3",
	"Control",
	"Intervention1_cases",
	"Intervention_total",
	"Intervention2_cases",
	"Intervention2_total",
	"Intervention3_cases",
	"Intervention3_total",
	"Control_cases",
	"Control_total",
	"Complication",
}

// ReadEventCounts reads the per-complication event-count CSV. Cells are kept
// verbatim; all text cleaning happens during linkage.
func ReadEventCounts(path string) ([]model.EventRow, error) {
	table, err := ReadCSVTable(path, requiredEventColumns)
	if err != nil {
		return nil, err
	}

	rows := make([]model.EventRow, 0, len(table.Rows))
	for _, record := range table.Rows {
		rows = append(rows, model.EventRow{
			StudyID: table.Cell(record, "studyID"),
			Interventions: [3]string{
				table.Cell(record, "Intervention1"),
				table.Cell(record, "Intervention2"),
				table.Cell(record, "Intervention3"),
			},
			Cases: [3]string{
				table.Cell(record, "Intervention1_cases"),
				table.Cell(record, "Intervention2_cases"),
				table.Cell(record, "Intervention3_cases"),
			},
			Totals: [3]string{
				table.Cell(record, "Intervention_total"),
				table.Cell(record, "Intervention2_total"),
				table.Cell(record, "Intervention3_total"),
			},
			Control:      table.Cell(record, "Control"),
			ControlCases: table.Cell(record, "Control_cases"),
			ControlTotal: table.Cell(record, "Control_total"),
			Complication: table.Cell(record, "Complication"),
		})
	}
	return rows, nil
}
